package link

import (
	"fmt"
	"strconv"
	"time"
)

// Revalidate is a cache freshness window: a number of seconds, or disabled
// ("never expire automatically"). The zero value is unset.
type Revalidate struct {
	set      bool
	disabled bool
	seconds  int
}

// RevalidateAfter returns a window of the given seconds. Zero means the value
// is recomputed on every call; negative values are treated as zero.
func RevalidateAfter(seconds int) Revalidate {
	if seconds < 0 {
		seconds = 0
	}
	return Revalidate{set: true, seconds: seconds}
}

// NoRevalidate disables automatic expiry.
func NoRevalidate() Revalidate {
	return Revalidate{set: true, disabled: true}
}

// IsSet reports whether r carries a value.
func (r Revalidate) IsSet() bool { return r.set }

// Disabled reports whether automatic expiry is off.
func (r Revalidate) Disabled() bool { return r.set && r.disabled }

// Seconds returns the window in seconds and false when r is unset or disabled.
func (r Revalidate) Seconds() (int, bool) {
	if !r.set || r.disabled {
		return 0, false
	}
	return r.seconds, true
}

// TTL returns the window as a duration. ok is false when expiry is disabled
// or r is unset.
func (r Revalidate) TTL() (ttl time.Duration, ok bool) {
	s, ok := r.Seconds()
	if !ok {
		return 0, false
	}
	return time.Duration(s) * time.Second, true
}

// Or returns r if set, otherwise fallback.
func (r Revalidate) Or(fallback Revalidate) Revalidate {
	if r.set {
		return r
	}
	return fallback
}

// String renders "false", the number of seconds, or "unset".
func (r Revalidate) String() string {
	switch {
	case !r.set:
		return "unset"
	case r.disabled:
		return "false"
	default:
		return strconv.Itoa(r.seconds)
	}
}

// ParseRevalidate parses "false" or a non-negative number of seconds.
func ParseRevalidate(s string) (Revalidate, error) {
	if s == "false" {
		return NoRevalidate(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Revalidate{}, fmt.Errorf("link: invalid revalidate %q: want seconds or false", s)
	}
	return RevalidateAfter(n), nil
}

// Context carries per-operation options. Recognized options have typed
// accessors; unrelated cross-cutting values go through With/Value.
//
// Context is copy-on-write: every setter returns a new Context and never
// modifies the receiver. The zero value is empty and ready to use.
type Context struct {
	revalidate Revalidate
	values     map[string]any
}

// Revalidate returns the per-operation freshness override, if any.
func (c Context) Revalidate() (Revalidate, bool) {
	return c.revalidate, c.revalidate.IsSet()
}

// WithRevalidate returns a copy with the freshness override set.
func (c Context) WithRevalidate(r Revalidate) Context {
	c.revalidate = r
	return c
}

// Value returns an extension value.
func (c Context) Value(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// With returns a copy with an extension value set.
func (c Context) With(key string, value any) Context {
	values := make(map[string]any, len(c.values)+1)
	for k, v := range c.values {
		values[k] = v
	}
	values[key] = value
	c.values = values
	return c
}

// Len returns the number of extension values.
func (c Context) Len() int {
	return len(c.values)
}

// Merge returns a copy of c overlaid with other. Options set on other win.
func (c Context) Merge(other Context) Context {
	out := c
	if other.revalidate.IsSet() {
		out.revalidate = other.revalidate
	}
	for k, v := range other.values {
		out = out.With(k, v)
	}
	return out
}
