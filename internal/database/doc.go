// Package database provides the TimescaleDB connection pool used by the
// candle archiver. Closed candles are the only durable output of the
// daemon; everything else is rebuilt from the feed on restart.
package database
