// Package metrics defines the recorder interfaces used by the prediction
// engine. Sinks like PromSink and InfluxSink implement the subset they
// support and can be combined with NewMultiSink; the factory helpers return a
// MultiSink automatically when multiple sinks are configured.
package metrics
