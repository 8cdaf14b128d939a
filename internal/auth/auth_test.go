package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

const testSecret = "dGhpcyBpcyBhIHRlc3Qgc2VjcmV0IGtleQ==" // base64 of a test key

func TestNewCredentialsValidation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		secret  string
		wantErr bool
	}{
		{"valid", "key-1", testSecret, false},
		{"missing key", "", testSecret, true},
		{"missing secret", "key-1", "", true},
		{"secret not base64", "key-1", "not-base64!!!", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCredentials(tt.key, tt.secret, "pass")
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCredentials() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignRequestHeaders(t *testing.T) {
	creds, err := NewCredentials("key-1", testSecret, "pass-1")
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}

	headers, err := creds.signAt("1700000000", "GET", "/products/BTC-USD/candles", nil)
	if err != nil {
		t.Fatalf("signAt() error = %v", err)
	}

	if headers["CB-ACCESS-KEY"] != "key-1" {
		t.Errorf("CB-ACCESS-KEY = %q, want key-1", headers["CB-ACCESS-KEY"])
	}
	if headers["CB-ACCESS-TIMESTAMP"] != "1700000000" {
		t.Errorf("CB-ACCESS-TIMESTAMP = %q, want 1700000000", headers["CB-ACCESS-TIMESTAMP"])
	}
	if headers["CB-ACCESS-PASSPHRASE"] != "pass-1" {
		t.Errorf("CB-ACCESS-PASSPHRASE = %q, want pass-1", headers["CB-ACCESS-PASSPHRASE"])
	}

	// Independently recompute the expected signature.
	secret, _ := base64.StdEncoding.DecodeString(testSecret)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("1700000000GET/products/BTC-USD/candles"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if headers["CB-ACCESS-SIGN"] != want {
		t.Errorf("CB-ACCESS-SIGN = %q, want %q", headers["CB-ACCESS-SIGN"], want)
	}
}

func TestSignatureCoversBody(t *testing.T) {
	creds, err := NewCredentials("key-1", testSecret, "pass-1")
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}

	withBody, err := creds.signAt("1700000000", "POST", "/orders", []byte(`{"size":"1"}`))
	if err != nil {
		t.Fatalf("signAt() error = %v", err)
	}
	without, err := creds.signAt("1700000000", "POST", "/orders", nil)
	if err != nil {
		t.Fatalf("signAt() error = %v", err)
	}

	if withBody["CB-ACCESS-SIGN"] == without["CB-ACCESS-SIGN"] {
		t.Error("signature ignores the request body")
	}
}

func TestSignaturesAreDeterministic(t *testing.T) {
	creds, err := NewCredentials("key-1", testSecret, "pass-1")
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}

	a, _ := creds.signAt("1700000000", "GET", "/time", nil)
	b, _ := creds.signAt("1700000000", "GET", "/time", nil)
	if a["CB-ACCESS-SIGN"] != b["CB-ACCESS-SIGN"] {
		t.Error("same inputs produced different signatures")
	}

	c, _ := creds.signAt("1700000001", "GET", "/time", nil)
	if a["CB-ACCESS-SIGN"] == c["CB-ACCESS-SIGN"] {
		t.Error("different timestamps produced the same signature")
	}
}
