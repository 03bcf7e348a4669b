package config

import (
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/rpclink/link"
)

// Revalidate is a link.Revalidate read from YAML as a number of seconds or
// false. An absent key leaves it unset.
type Revalidate struct {
	link.Revalidate
}

// UnmarshalYAML parses the scalar with link.ParseRevalidate.
func (r *Revalidate) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return invalid("revalidate", "want seconds or false, got a %s", kindName(node.Kind))
	}
	v, err := link.ParseRevalidate(node.Value)
	if err != nil {
		return &Error{Key: "revalidate", Reason: "cannot parse", Cause: err}
	}
	r.Revalidate = v
	return nil
}

// MarshalYAML writes the window back in the form it is read.
func (r Revalidate) MarshalYAML() (any, error) {
	if !r.IsSet() {
		return nil, nil
	}
	if r.Disabled() {
		return false, nil
	}
	n, _ := r.Seconds()
	return n, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	default:
		return "node"
	}
}

// IsZero reports whether the window is unset.
func (r Revalidate) IsZero() bool {
	return !r.IsSet()
}
