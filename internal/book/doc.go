// Package book maintains in-memory order books fed by a REST snapshot and
// a live delta stream.
//
// SortedLevels holds one price-sorted side with O(log n) lookup and lazy
// cumulative-depth bookkeeping. Book pairs two sides, queues deltas that
// arrive before the snapshot seed, and publishes top-N depth views to
// registered consumers. Consumers only ever see copies; the level
// structures are owned exclusively by this package.
package book
