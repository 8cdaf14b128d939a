// Package api provides the exchange REST client.
//
// Two endpoint families matter to the daemon: historical candles, which
// seed and backfill the synchronizer, and level2 book snapshots, which
// seed the in-memory books. Requests retry with jittered exponential
// backoff on retryable status codes; authenticated requests carry
// HMAC-SHA256 signature headers.
package api
