// Package breaker isolates transport failures behind a tri-state circuit
// breaker and schedules reconnection attempts.
//
// The breaker trips OPEN when failures within a rolling window exceed a
// threshold, fails fast while OPEN, and admits exactly one probe in
// HALF_OPEN. The scheduler is pure decision logic: given an attempt
// number it yields a capped, jittered exponential delay and signals when
// to give up on streaming and degrade to REST polling.
package breaker
