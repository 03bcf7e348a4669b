// Package observe instruments link chains.
//
// It provides a JSON structured logger, OpenTelemetry spans and metrics per
// operation, and a link that applies all three around the rest of a chain.
// Exporter setup lives in the exporters subpackage.
package observe
