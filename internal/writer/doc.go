// Package writer archives closed candles to TimescaleDB.
//
// The archiver consumes sealed buckets from the candle path, batches
// them, and inserts with ON CONFLICT DO NOTHING so replays after a
// reconnect or backfill never duplicate rows. Append-only: a sealed
// candle is immutable, so updates are never needed.
package writer
