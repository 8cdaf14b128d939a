package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/marketsync/internal/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]ClientOption{WithLogger(testLogger())}, opts...)
	return NewClient(srv.URL, nil, opts...), srv
}

func TestGetCandles(t *testing.T) {
	var gotPath, gotQuery string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		// Newest first, as the exchange returns them.
		w.Write([]byte(`[
			[120, 99.5, 103.0, 100.0, 102.5, 12.25],
			[60, 98.0, 101.0, 99.0, 100.0, 7.5]
		]`))
	})

	start := time.Unix(60, 0).UTC()
	end := time.Unix(180, 0).UTC()
	candles, err := client.GetCandles(context.Background(), "BTC-USD", time.Minute, start, end)
	if err != nil {
		t.Fatalf("GetCandles() error = %v", err)
	}

	if gotPath != "/products/BTC-USD/candles" {
		t.Errorf("path = %q, want /products/BTC-USD/candles", gotPath)
	}
	if gotQuery == "" {
		t.Error("query missing, want granularity/start/end")
	}

	if len(candles) != 2 {
		t.Fatalf("len(candles) = %d, want 2", len(candles))
	}
	// Result must be ascending regardless of response order.
	if candles[0].OpenTime != 60 || candles[1].OpenTime != 120 {
		t.Errorf("open times = [%d %d], want [60 120]", candles[0].OpenTime, candles[1].OpenTime)
	}
	got := candles[1]
	if got.Low != 99.5 || got.High != 103.0 || got.Open != 100.0 || got.Close != 102.5 || got.Volume != 12.25 {
		t.Errorf("candle 120 = %+v, want l=99.5 h=103 o=100 c=102.5 v=12.25", got)
	}
}

func TestGetCandlesRejectsMalformedRow(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[[60, 1, 2]]`))
	})

	_, err := client.GetCandles(context.Background(), "BTC-USD", time.Minute, time.Unix(0, 0), time.Unix(300, 0))
	if err == nil {
		t.Error("GetCandles() error = nil for short row, want error")
	}
}

func TestGetCandlesRejectsInvalidBounds(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// low above open: invalid
		w.Write([]byte(`[[60, 150.0, 151.0, 100.0, 100.5, 1.0]]`))
	})

	_, err := client.GetCandles(context.Background(), "BTC-USD", time.Minute, time.Unix(0, 0), time.Unix(300, 0))
	if err == nil {
		t.Error("GetCandles() error = nil for bound-violating candle, want error")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[]`))
	}, WithRetries(3, time.Millisecond))

	_, err := client.GetCandles(context.Background(), "BTC-USD", time.Minute, time.Unix(0, 0), time.Unix(300, 0))
	if err != nil {
		t.Fatalf("GetCandles() error = %v, want success after retries", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}, WithRetries(3, time.Millisecond))

	_, err := client.GetCandles(context.Background(), "NOPE-USD", time.Minute, time.Unix(0, 0), time.Unix(300, 0))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetCandles() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.IsRetryable() {
		t.Error("IsRetryable() = true for 404, want false")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestSignedRequestCarriesAuthHeaders(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	creds, err := auth.NewCredentials("key-1", "dGVzdC1zZWNyZXQ=", "pass-1")
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}
	client := NewClient(srv.URL, creds, WithLogger(testLogger()))

	if _, err := client.GetCandles(context.Background(), "BTC-USD", time.Minute, time.Unix(0, 0), time.Unix(300, 0)); err != nil {
		t.Fatalf("GetCandles() error = %v", err)
	}

	for _, h := range []string{"CB-ACCESS-KEY", "CB-ACCESS-SIGN", "CB-ACCESS-TIMESTAMP", "CB-ACCESS-PASSPHRASE"} {
		if gotHeaders.Get(h) == "" {
			t.Errorf("header %s missing", h)
		}
	}
}

func TestGetBookSnapshot(t *testing.T) {
	var gotPath, gotLevel string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotLevel = r.URL.Query().Get("level")
		w.Write([]byte(`{
			"sequence": 77123,
			"bids": [["50000.25", "1.5", 3], ["49999.00", "0.25", 1]],
			"asks": [["50001.00", "2.0", 2]]
		}`))
	})

	snap, err := client.GetBookSnapshot(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("GetBookSnapshot() error = %v", err)
	}

	if gotPath != "/products/BTC-USD/book" {
		t.Errorf("path = %q, want /products/BTC-USD/book", gotPath)
	}
	if gotLevel != "2" {
		t.Errorf("level = %q, want 2", gotLevel)
	}
	if snap.Sequence != 77123 {
		t.Errorf("Sequence = %d, want 77123", snap.Sequence)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("levels = %d bids / %d asks, want 2/1", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Price != 50000.25 || snap.Bids[0].Size != 1.5 {
		t.Errorf("Bids[0] = %+v, want 50000.25 x 1.5", snap.Bids[0])
	}
}

func TestGetBookSnapshotRejectsBadLevel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sequence": 1, "bids": [["not-a-number", "1", 1]], "asks": []}`))
	})

	if _, err := client.GetBookSnapshot(context.Background(), "BTC-USD"); err == nil {
		t.Error("GetBookSnapshot() error = nil for bad price, want error")
	}
}
