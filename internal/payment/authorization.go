package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TransferAuth is the signed EIP-3009 style transfer statement inside an
// authorization: from pays to, value minor units, valid in a time window,
// bound to a single-use nonce.
type TransferAuth struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactPayload carries the transfer statement and its signature.
type ExactPayload struct {
	Signature     string       `json:"signature"`
	Authorization TransferAuth `json:"authorization"`
}

// Authorization is the decoded X-Payment envelope. Raw keeps the exact bytes
// the client sent; the facilitator receives those, not a re-marshal, so
// signature verification sees what was signed over.
type Authorization struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Payload     ExactPayload    `json:"payload"`
	Raw         json.RawMessage `json:"-"`
}

// Payer returns the normalized paying address.
func (a *Authorization) Payer() string {
	return strings.ToLower(a.Payload.Authorization.From)
}

// DecodeAuthorization parses an X-Payment header value. Standard base64 is
// tried first, URL-safe as a fallback, matching what wallet clients emit.
func DecodeAuthorization(header string) (*Authorization, error) {
	if header == "" {
		return nil, errors.New("empty payment header")
	}
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(header)
		if err != nil {
			return nil, fmt.Errorf("decode payment header: %w", err)
		}
	}
	var auth Authorization
	if err := json.Unmarshal(decoded, &auth); err != nil {
		return nil, fmt.Errorf("parse payment envelope: %w", err)
	}
	if auth.Payload.Authorization.From == "" {
		return nil, errors.New("payment envelope missing payer")
	}
	auth.Raw = decoded
	return &auth, nil
}

// Receipt is what X-Payment-Response encodes after a settlement attempt.
type Receipt struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// EncodeReceipt renders the X-Payment-Response header value.
func EncodeReceipt(success bool, txHash, network, payer string) string {
	b, _ := json.Marshal(Receipt{ //nolint:errcheck
		Success:     success,
		Transaction: txHash,
		Network:     network,
		Payer:       payer,
	})
	return base64.StdEncoding.EncodeToString(b)
}
