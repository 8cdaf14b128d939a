// Package candle merges historical candle batches with a live trade
// stream into one monotonic, duplicate-free timeline per product.
//
// The synchronizer owns the canonical timeline. Sealed buckets are
// immutable; only the frontier bucket (and gap buckets inside the
// reorder window) accept live trades. Trades arriving before the seed
// completes are queued and replayed, never dropped; seeding completion
// is signaled through a one-shot readiness channel.
package candle
