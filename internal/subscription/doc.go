// Package subscription tracks logical feed subscriptions over the
// shared stream connection.
//
// Callers subscribe to a (channel, product) pair and get back an opaque
// handle used only for cancellation. The manager owns the subscription
// records. Outbound subscribe and unsubscribe requests are coalesced
// within a batch window into single frames and paced by a token-bucket
// rate limiter; requests over the ceiling queue rather than fail.
// Last-activity times feed ListLeaked, a report-only diagnostic for
// external leak tooling.
package subscription
