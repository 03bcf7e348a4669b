// Package auth authenticates and authorizes remote procedure operations.
//
// Credentials travel on the Go context as request headers (WithHeaders). The
// link built by NewLink resolves them through an Authenticator (JWT bearer
// tokens, API keys, or FirstMatch over several), checks the resulting
// Identity against an Authorizer such as RuleAuthorizer, and runs the rest of
// the chain with the identity attached. CreateContext and
// PrincipalCacheContext expose that identity to procedures and to the cache
// tag generator.
package auth
