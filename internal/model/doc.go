// Package model defines shared data types used across the market sync engine.
//
// Conventions:
//   - Prices and sizes: float64, exactly as parsed from the exchange wire format
//   - Bucket keys: int64 seconds since Unix epoch, aligned to the granularity
//   - IDs: string for product identifiers, int64 for exchange trade IDs
//
// Validation helpers reject non-finite and negative values at the parse
// boundary so malformed input never reaches the in-memory structures.
package model
