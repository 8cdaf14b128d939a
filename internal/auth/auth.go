// Package auth provides exchange API authentication using HMAC-SHA256
// signatures.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Credentials holds the API key material for signing requests.
type Credentials struct {
	Key        string // API key
	Secret     string // Base64-encoded signing secret
	Passphrase string // Passphrase chosen at key creation
}

// NewCredentials validates and returns signing credentials.
func NewCredentials(key, secret, passphrase string) (*Credentials, error) {
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("API secret is required")
	}
	if _, err := base64.StdEncoding.DecodeString(secret); err != nil {
		return nil, fmt.Errorf("API secret is not valid base64: %w", err)
	}
	return &Credentials{
		Key:        key,
		Secret:     secret,
		Passphrase: passphrase,
	}, nil
}

// SignRequest generates authentication headers for one REST request.
// The signed message is timestamp + method + requestPath + body, with
// the timestamp in whole seconds.
func (c *Credentials) SignRequest(method, requestPath string, body []byte) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	return c.signAt(timestamp, method, requestPath, body)
}

// signAt is the deterministic core, split out so tests can pin the
// timestamp.
func (c *Credentials) signAt(timestamp, method, requestPath string, body []byte) (map[string]string, error) {
	signature, err := c.generateSignature(timestamp, method, requestPath, body)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"CB-ACCESS-KEY":        c.Key,
		"CB-ACCESS-SIGN":       signature,
		"CB-ACCESS-TIMESTAMP":  timestamp,
		"CB-ACCESS-PASSPHRASE": c.Passphrase,
	}, nil
}

// generateSignature computes base64(HMAC-SHA256(secret, message)).
func (c *Credentials) generateSignature(timestamp, method, requestPath string, body []byte) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + requestPath
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	mac.Write(body)

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
