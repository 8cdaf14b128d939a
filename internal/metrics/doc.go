// Package metrics exposes engine counters over a Prometheus endpoint.
//
// Components keep their own Stats() counters; this package samples them
// through GaugeFuncs at scrape time, so instrumentation adds no work to
// the hot paths.
package metrics
