package cache

import (
	"time"

	"github.com/jonwraymond/rpclink/link"
)

// Policy resolves the freshness window of a query.
type Policy struct {
	// Revalidate is the link-level default. Unset means never expire.
	Revalidate link.Revalidate

	// MaxAge caps numeric windows. Zero means no cap. Disabled windows are
	// left as they are. Windows are whole seconds, so MaxAge is rounded up to
	// the next second.
	MaxAge time.Duration
}

// DefaultPolicy returns a policy that keeps entries until invalidated.
func DefaultPolicy() Policy {
	return Policy{Revalidate: link.NoRevalidate()}
}

// Effective returns the window for op: the per-operation override, then the
// policy default, then disabled, clamped to MaxAge.
func (p Policy) Effective(op link.Operation) link.Revalidate {
	r := p.Revalidate
	if override, ok := op.Context.Revalidate(); ok {
		r = override
	}
	r = r.Or(link.NoRevalidate())

	if p.MaxAge <= 0 {
		return r
	}
	maxSeconds := int((p.MaxAge + time.Second - 1) / time.Second)
	if seconds, ok := r.Seconds(); ok && seconds > maxSeconds {
		r = link.RevalidateAfter(maxSeconds)
	}
	return r
}
