// Package infra holds the adapters around the prediction engine: MQTT and
// NATS transports, the SQL event store, metrics sinks, Sentry and the admin
// HTTP API. They depend on the core packages, never the other way round.
package infra
