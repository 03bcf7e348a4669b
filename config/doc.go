// Package config loads the rpclink YAML configuration.
//
// A configuration names the server to call, the credentials to present and
// verify, the resilience policies, the cache store with its default
// revalidate window, and the telemetry setup:
//
//	server:
//	  url: https://api.example.com/rpc
//	  timeout: 10s
//	auth:
//	  credentials:
//	    token: secretref:env:RPCLINK_TOKEN
//	  jwt:
//	    secret: secretref:file:jwt.key
//	resilience:
//	  timeout: 5s
//	  retry:
//	    max_attempts: 3
//	cache:
//	  store: sqlite
//	  path: ${HOME}/.cache/rpclink.db
//	  revalidate: 60
//
// Secret-bearing and path values are expanded strictly (${VAR} must be set)
// and may be secret references (secretref:env:NAME, secretref:file:PATH).
// Durations are Go duration strings. revalidate takes seconds or false.
package config
