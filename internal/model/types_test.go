package model

import (
	"math"
	"testing"
	"time"
)

func TestBucketStart(t *testing.T) {
	tests := []struct {
		name        string
		unix        int64
		granularity time.Duration
		want        int64
	}{
		{"aligned", 120, time.Minute, 120},
		{"mid-bucket", 65, time.Minute, 60},
		{"last second", 119, time.Minute, 60},
		{"five minute", 913, 5 * time.Minute, 600},
		{"epoch", 0, time.Minute, 0},
		{"pre-epoch", -30, time.Minute, -60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BucketStart(time.Unix(tt.unix, 0), tt.granularity)
			if got != tt.want {
				t.Errorf("BucketStart(%d, %v) = %d, want %d", tt.unix, tt.granularity, got, tt.want)
			}
		})
	}
}

func TestCandleValidate(t *testing.T) {
	valid := Candle{OpenTime: 60, Open: 100, High: 102, Low: 99, Close: 101, Volume: 3}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	tests := []struct {
		name   string
		candle Candle
	}{
		{"high below close", Candle{OpenTime: 60, Open: 100, High: 100, Low: 99, Close: 101}},
		{"low above open", Candle{OpenTime: 60, Open: 98, High: 102, Low: 99, Close: 101}},
		{"nan price", Candle{OpenTime: 60, Open: math.NaN(), High: 102, Low: 99, Close: 101}},
		{"inf volume", Candle{OpenTime: 60, Open: 100, High: 102, Low: 99, Close: 101, Volume: math.Inf(1)}},
		{"negative volume", Candle{OpenTime: 60, Open: 100, High: 102, Low: 99, Close: 101, Volume: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.candle.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error for %+v", tt.candle)
			}
		})
	}
}

func TestTradeValidate(t *testing.T) {
	now := time.Now()

	valid := Trade{TradeID: 1, ProductID: "BTC-USD", Price: 100, Size: 0.5, Time: now}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	tests := []struct {
		name  string
		trade Trade
	}{
		{"zero price", Trade{TradeID: 2, Price: 0, Size: 1, Time: now}},
		{"negative price", Trade{TradeID: 3, Price: -5, Size: 1, Time: now}},
		{"nan price", Trade{TradeID: 4, Price: math.NaN(), Size: 1, Time: now}},
		{"zero size", Trade{TradeID: 5, Price: 100, Size: 0, Time: now}},
		{"inf size", Trade{TradeID: 6, Price: 100, Size: math.Inf(1), Time: now}},
		{"missing time", Trade{TradeID: 7, Price: 100, Size: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.trade.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error for %+v", tt.trade)
			}
		})
	}
}

func TestBookDeltaValidate(t *testing.T) {
	// Zero size removes a level and must be accepted.
	removal := BookDelta{ProductID: "BTC-USD", Side: Bid, Price: 100, Size: 0}
	if err := removal.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil for removal delta", err)
	}

	tests := []struct {
		name  string
		delta BookDelta
	}{
		{"negative size", BookDelta{ProductID: "BTC-USD", Side: Bid, Price: 100, Size: -1}},
		{"nan size", BookDelta{ProductID: "BTC-USD", Side: Ask, Price: 100, Size: math.NaN()}},
		{"zero price", BookDelta{ProductID: "BTC-USD", Side: Ask, Price: 0, Size: 1}},
		{"inf price", BookDelta{ProductID: "BTC-USD", Side: Bid, Price: math.Inf(-1), Size: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.delta.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error for %+v", tt.delta)
			}
		})
	}
}

func TestSideString(t *testing.T) {
	if got := Bid.String(); got != "bid" {
		t.Errorf("Bid.String() = %q, want %q", got, "bid")
	}
	if got := Ask.String(); got != "ask" {
		t.Errorf("Ask.String() = %q, want %q", got, "ask")
	}
}
