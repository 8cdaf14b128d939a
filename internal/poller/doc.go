// Package poller implements the REST fallback path.
//
// While the stream is degraded it refreshes candle timelines and book
// snapshots on a fixed cadence so consumers keep receiving data. A
// separate reconcile loop runs regardless of stream health: it scans
// every timeline for gaps and backfills them from the REST API.
package poller
