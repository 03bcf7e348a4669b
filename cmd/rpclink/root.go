package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/rpclink/client"
	"github.com/jonwraymond/rpclink/config"
	"github.com/jonwraymond/rpclink/link"
)

// defaultConfigPath is used when neither --config nor RPCLINK_CONFIG is set.
const defaultConfigPath = "rpclink.yaml"

// app holds the flags shared by every command.
type app struct {
	configPath string
	jq         string
	compact    bool
}

func newRootCommand() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "rpclink",
		Short: "Call remote procedures through a caching link chain",
		Long: `rpclink sends queries, mutations and subscriptions to a remote procedure
server. Every operation runs through the chain described by the config file:
telemetry, authentication, resilience policies and the query cache.

Query results are cached under a tag derived from the procedure path, its
input and the caller. Use 'rpclink tag' to print that tag and
'rpclink invalidate' to drop cached results.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to config file (default: $RPCLINK_CONFIG or ./rpclink.yaml)")
	cmd.PersistentFlags().StringVar(&a.jq, "jq", "", "jq expression applied to every result")
	cmd.PersistentFlags().BoolVar(&a.compact, "compact", false, "Print results on one line")

	cmd.AddCommand(
		a.newCallCommand(link.OpQuery),
		a.newCallCommand(link.OpMutation),
		a.newSubscribeCommand(),
		a.newTagCommand(),
		a.newInvalidateCommand(),
		a.newHealthCommand(),
	)
	return cmd
}

func (a *app) resolveConfigPath() string {
	if a.configPath != "" {
		return a.configPath
	}
	if p := os.Getenv("RPCLINK_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// withClient loads the configuration, builds a client and passes it to fn.
// The client is closed when fn returns.
func (a *app) withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(a.resolveConfigPath())
	if err != nil {
		return err
	}
	c, err := client.FromConfig(ctx, cfg,
		client.WithVersion(version),
		client.WithLogWriter(cmd.ErrOrStderr()),
	)
	if err != nil {
		return err
	}

	runErr := fn(ctx, c)
	closeErr := c.Close(context.WithoutCancel(ctx))
	return errors.Join(runErr, closeErr)
}

// print writes v as JSON, filtered through --jq when set.
func (a *app) print(ctx context.Context, w io.Writer, v any) error {
	if a.jq != "" {
		filtered, err := runJQ(ctx, a.jq, v)
		if err != nil {
			return err
		}
		v = filtered
	}

	enc := json.NewEncoder(w)
	if !a.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// parseInput decodes the --input flag. An empty flag is a nil input.
func parseInput(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid --input: %w", err)
	}
	if dec.More() {
		return nil, errors.New("invalid --input: trailing data after JSON value")
	}
	return v, nil
}
