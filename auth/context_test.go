package auth

import (
	"context"
	"net/http"
	"reflect"
	"testing"
)

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()

	if got := IdentityFromContext(ctx); got != nil {
		t.Errorf("IdentityFromContext() on empty context = %v, want nil", got)
	}

	identity := &Identity{Principal: "user123", Roles: []string{"admin"}}
	ctx = WithIdentity(ctx, identity)

	if got := IdentityFromContext(ctx); got != identity {
		t.Errorf("IdentityFromContext() = %v, want %v", got, identity)
	}
}

func TestHeadersContext(t *testing.T) {
	ctx := context.Background()
	if got := HeadersFromContext(ctx); got != nil {
		t.Errorf("HeadersFromContext() on empty context = %v, want nil", got)
	}

	h := http.Header{}
	h.Set("Authorization", "Bearer abc")
	ctx = WithHeaders(ctx, h)

	if got := HeadersFromContext(ctx).Get("authorization"); got != "Bearer abc" {
		t.Errorf("Authorization = %q, want Bearer abc", got)
	}
}

func TestCreateContext(t *testing.T) {
	h := http.Header{"X-Api-Key": {"k"}}
	identity := &Identity{Principal: "ada", TenantID: "acme"}
	ctx := WithHeaders(WithIdentity(context.Background(), identity), h)

	v, err := CreateContext(ctx)
	if err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}
	rc, ok := v.(*RequestContext)
	if !ok {
		t.Fatalf("CreateContext() returned %T, want *RequestContext", v)
	}
	if rc.Identity != identity {
		t.Errorf("Identity = %v, want %v", rc.Identity, identity)
	}
	if rc.Headers.Get("X-Api-Key") != "k" {
		t.Errorf("Headers = %v", rc.Headers)
	}
}

func TestPrincipalCacheContext(t *testing.T) {
	tests := []struct {
		name   string
		reqCtx any
		want   []any
	}{
		{"identity", &RequestContext{Identity: &Identity{Principal: "ada", TenantID: "acme"}}, []any{"ada", "acme"}},
		{"no identity", &RequestContext{}, []any{"", ""}},
		{"nil request context", (*RequestContext)(nil), []any{"", ""}},
		{"foreign value", "not a context", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PrincipalCacheContext(tt.reqCtx); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PrincipalCacheContext() = %v, want %v", got, tt.want)
			}
		})
	}
}
