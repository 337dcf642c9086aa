// Package prediction answers travel and dwell time requests for a vehicle
// about to traverse a segment. It blends the last vehicle on the segment with
// the same segment on previous days through the Kalman filter, uses the dwell
// regression when one is trained, and degrades to a Fallback estimate when
// data is missing. Callers never see an error: every request yields a
// non-negative duration and the tier that produced it.
package prediction
