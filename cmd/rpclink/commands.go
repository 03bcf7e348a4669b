package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/rpclink/client"
	"github.com/jonwraymond/rpclink/health"
	"github.com/jonwraymond/rpclink/link"
)

// ErrUnhealthy is returned by the health command when a check fails.
var ErrUnhealthy = errors.New("pipeline unhealthy")

func (a *app) newCallCommand(t link.OpType) *cobra.Command {
	var input, revalidate string

	verb := map[link.OpType]string{link.OpQuery: "query", link.OpMutation: "mutate"}[t]
	cmd := &cobra.Command{
		Use:   verb + " <path>",
		Short: fmt.Sprintf("Run a %s and print its result", t),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseInput(input)
			if err != nil {
				return err
			}
			var opts []client.CallOption
			if revalidate != "" {
				r, err := link.ParseRevalidate(revalidate)
				if err != nil {
					return err
				}
				opts = append(opts, client.WithRevalidate(r))
			}

			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				var v any
				if t == link.OpQuery {
					v, err = c.Query(ctx, args[0], in, opts...)
				} else {
					v, err = c.Mutate(ctx, args[0], in, opts...)
				}
				if err != nil {
					return err
				}
				return a.print(ctx, cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Procedure input as JSON")
	if t == link.OpQuery {
		cmd.Flags().StringVar(&revalidate, "revalidate", "", "Cache window for this call: seconds or false")
	}
	return cmd
}

func (a *app) newSubscribeCommand() *cobra.Command {
	var (
		input string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "subscribe <path>",
		Short: "Stream the results of a subscription",
		Long: `Stream the results of a subscription, one JSON value per line, until the
server stops it, --limit results were printed, or the command is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseInput(input)
			if err != nil {
				return err
			}
			a.compact = true

			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				s := c.Subscribe(ctx, args[0], in)
				defer s.Close()

				for n := 0; limit <= 0 || n < limit; n++ {
					v, err := s.Recv(ctx)
					if errors.Is(err, io.EOF) {
						return nil
					}
					if errors.Is(err, context.Canceled) {
						return nil
					}
					if err != nil {
						return err
					}
					if err := a.print(ctx, cmd.OutOrStdout(), v); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Procedure input as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Stop after this many results (0: unlimited)")
	return cmd
}

func (a *app) newTagCommand() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "tag <path>",
		Short: "Print the cache tag of a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseInput(input)
			if err != nil {
				return err
			}
			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				tag, err := c.Tag(ctx, args[0], in)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), tag)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Procedure input as JSON")
	return cmd
}

func (a *app) newInvalidateCommand() *cobra.Command {
	var path, input string
	cmd := &cobra.Command{
		Use:   "invalidate [tag...]",
		Short: "Drop cached query results",
		Long: `Drop every cached result carrying one of the given tags. With --path, the
tag is derived from the path and --input the way 'rpclink tag' does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" && len(args) == 0 {
				return errors.New("invalidate needs a tag or --path")
			}
			in, err := parseInput(input)
			if err != nil {
				return err
			}

			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				tags := args
				if path != "" {
					tag, err := c.Tag(ctx, path, in)
					if err != nil {
						return err
					}
					tags = append(tags, tag)
				}
				for _, tag := range tags {
					if err := c.Invalidate(ctx, tag); err != nil {
						return fmt.Errorf("invalidate %s: %w", tag, err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), "invalidated", tag)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Procedure path to derive the tag from")
	cmd.Flags().StringVarP(&input, "input", "i", "", "Procedure input as JSON, with --path")
	return cmd
}

func (a *app) newHealthCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the cache store and circuit breaker",
		Long: "Check the cache store and circuit breaker once and print the result.\n" +
			"With --listen, serve /healthz, /readyz and /health until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *client.Client) error {
				if listen != "" {
					ln, err := net.Listen("tcp", listen)
					if err != nil {
						return fmt.Errorf("listen %s: %w", listen, err)
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "serving health on %s\n", ln.Addr())
					return serveHealth(ctx, ln, c.Health())
				}

				results := c.Health().CheckAll(ctx)
				if err := a.print(ctx, cmd.OutOrStdout(), health.NewResponse(results, time.Now())); err != nil {
					return err
				}
				if health.OverallStatus(results) == health.StatusUnhealthy {
					return ErrUnhealthy
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve health endpoints on this address")
	return cmd
}

// serveHealth serves the health endpoints on ln until ctx is done.
func serveHealth(ctx context.Context, ln net.Listener, agg *health.Aggregator) error {
	mux := http.NewServeMux()
	health.RegisterHandlers(mux, agg)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
