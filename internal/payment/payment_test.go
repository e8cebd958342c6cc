package payment

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/xbsc-402/x402-backend/internal/config"
)

var testPaymentCfg = config.PaymentConfig{
	Network:       "bsc",
	AssetAddress:  "0x55d398326f99059fF775485246999027B3197955",
	AssetName:     "USDT",
	AssetVersion:  "1",
	AssetDecimals: 6,
	PriceUnits:    "10",
	MaxTimeoutSec: 300,
}

func TestNewChallenge_ScalesAmount(t *testing.T) {
	c := NewChallenge(testPaymentCfg, "0xAA00000000000000000000000000000000000001")
	if c.Amount != "10000000" {
		t.Errorf("amount: got %q want 10000000", c.Amount)
	}
	if c.PayTo != "0xAA00000000000000000000000000000000000001" {
		t.Errorf("payTo: got %q", c.PayTo)
	}

	cfg18 := testPaymentCfg
	cfg18.AssetDecimals = 18
	if got := NewChallenge(cfg18, "0xAA").Amount; got != "10000000000000000000" {
		t.Errorf("18-decimal amount: got %q", got)
	}
}

func TestChallenge_OptionsHeader(t *testing.T) {
	c := NewChallenge(testPaymentCfg, "0xAA00000000000000000000000000000000000001")
	h := c.OptionsHeader()
	if !strings.HasPrefix(h, `scheme="exact", network="bsc"`) {
		t.Errorf("header prefix: got %q", h)
	}
	for _, part := range []string{
		`token="0x55d398326f99059fF775485246999027B3197955"`,
		`payee="0xAA00000000000000000000000000000000000001"`,
		`amount="10000000"`,
	} {
		if !strings.Contains(h, part) {
			t.Errorf("header missing %q in %q", part, h)
		}
	}
}

func TestChallenge_BodyShape(t *testing.T) {
	c := NewChallenge(testPaymentCfg, "0xAA00000000000000000000000000000000000001")
	b, err := json.Marshal(c.Body())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]map[string]string
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	pr, ok := decoded["paymentRequired"]
	if !ok {
		t.Fatalf("missing paymentRequired in %s", b)
	}
	want := map[string]string{
		"price":        "10",
		"amount":       "10000000",
		"payTo":        "0xAA00000000000000000000000000000000000001",
		"token":        "0x55d398326f99059fF775485246999027B3197955",
		"tokenName":    "USDT",
		"tokenVersion": "1",
		"network":      "bsc",
	}
	for k, v := range want {
		if pr[k] != v {
			t.Errorf("%s: got %q want %q", k, pr[k], v)
		}
	}
}

func TestChallenge_Requirement(t *testing.T) {
	c := NewChallenge(testPaymentCfg, "0xAA00000000000000000000000000000000000001")
	r := c.Requirement("https://gateway.example/mint")
	if r.Scheme != "exact" || r.Network != "bsc" {
		t.Errorf("scheme/network: got %q/%q", r.Scheme, r.Network)
	}
	if r.MaxAmountRequired != "10000000" {
		t.Errorf("maxAmountRequired: got %q", r.MaxAmountRequired)
	}
	if r.PayTo != c.PayTo || r.Asset != c.Asset {
		t.Errorf("payTo/asset: got %q/%q", r.PayTo, r.Asset)
	}
	if r.MaxTimeoutSeconds != 300 {
		t.Errorf("maxTimeoutSeconds: got %d", r.MaxTimeoutSeconds)
	}
	if r.Extra["name"] != "USDT" || r.Extra["version"] != "1" {
		t.Errorf("extra: got %v", r.Extra)
	}
}

const testEnvelope = `{"x402Version":1,"scheme":"exact","network":"bsc","payload":{"signature":"0xsig","authorization":{"from":"0xPayER00000000000000000000000000000000cafe","to":"0xAA00000000000000000000000000000000000001","value":"10000000","validAfter":"0","validBefore":"1900000000","nonce":"0x0abc"}}}`

func TestDecodeAuthorization(t *testing.T) {
	header := base64.StdEncoding.EncodeToString([]byte(testEnvelope))
	auth, err := DecodeAuthorization(header)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if auth.Scheme != "exact" || auth.Network != "bsc" {
		t.Errorf("scheme/network: got %q/%q", auth.Scheme, auth.Network)
	}
	got := auth.Payload.Authorization
	if got.Value != "10000000" || got.Nonce != "0x0abc" {
		t.Errorf("authorization: got %+v", got)
	}
	if auth.Payer() != "0xpayer00000000000000000000000000000000cafe" {
		t.Errorf("payer: got %q", auth.Payer())
	}
	if string(auth.Raw) != testEnvelope {
		t.Error("raw bytes must survive decoding untouched")
	}
}

func TestDecodeAuthorization_URLSafeFallback(t *testing.T) {
	header := base64.URLEncoding.EncodeToString([]byte(testEnvelope))
	if _, err := DecodeAuthorization(header); err != nil {
		t.Fatalf("url-safe decode: %v", err)
	}
}

func TestDecodeAuthorization_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"not base64": "!!!not-base64!!!",
		"not json":   base64.StdEncoding.EncodeToString([]byte("hello")),
		"no payer":   base64.StdEncoding.EncodeToString([]byte(`{"scheme":"exact","payload":{}}`)),
	}
	for name, header := range cases {
		if _, err := DecodeAuthorization(header); err == nil {
			t.Errorf("%s: want error", name)
		}
	}
}

func TestEncodeReceipt(t *testing.T) {
	header := EncodeReceipt(true, "0xdeadbeef", "bsc", "0xpayer")
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		t.Fatalf("receipt not base64: %v", err)
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatalf("receipt not json: %v", err)
	}
	if !r.Success || r.Transaction != "0xdeadbeef" || r.Network != "bsc" || r.Payer != "0xpayer" {
		t.Errorf("receipt: got %+v", r)
	}
}
