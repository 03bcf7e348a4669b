// Package secret expands environment variables and resolves secret
// references in configuration values.
//
// A value is first expanded strictly: ${VAR} must be set, $$ is a literal
// dollar. A value of the form secretref:<provider>:<ref> is then replaced by
// what the named Provider returns; EnvProvider and FileProvider are built in.
package secret
