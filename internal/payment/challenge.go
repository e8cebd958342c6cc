// Package payment encodes and decodes the x402 exchange: the 402 challenge a
// client receives, the signed transfer authorization it sends back, and the
// settlement receipt it gets on success.
package payment

import (
	"fmt"
	"math/big"

	"github.com/xbsc-402/x402-backend/internal/config"
)

// Header names of the x402 exchange.
const (
	HeaderPayment         = "X-Payment"
	HeaderPaymentOptions  = "X-Payment-Options"
	HeaderPaymentResponse = "X-Payment-Response"
)

// SchemeExact is the only settlement scheme this gateway speaks: the
// authorization covers the exact challenge amount.
const SchemeExact = "exact"

// Challenge tells a client exactly what transfer to authorize. PayTo is the
// launch token being minted, Asset the stablecoin it is paid in.
type Challenge struct {
	Scheme        string
	Network       string
	Asset         string
	AssetName     string
	AssetVersion  string
	PayTo         string
	Price         string
	Amount        string
	MaxTimeoutSec int
}

// NewChallenge builds the challenge for one mint target. The wire amount is
// the configured price scaled into the asset's minor units.
func NewChallenge(cfg config.PaymentConfig, tokenAddr string) Challenge {
	amount, ok := new(big.Int).SetString(cfg.PriceUnits, 10)
	if !ok {
		amount = big.NewInt(0)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.AssetDecimals)), nil)
	amount.Mul(amount, scale)

	return Challenge{
		Scheme:        SchemeExact,
		Network:       cfg.Network,
		Asset:         cfg.AssetAddress,
		AssetName:     cfg.AssetName,
		AssetVersion:  cfg.AssetVersion,
		PayTo:         tokenAddr,
		Price:         cfg.PriceUnits,
		Amount:        amount.String(),
		MaxTimeoutSec: cfg.MaxTimeoutSec,
	}
}

// RequiredPayment is the inner object of a 402 challenge body.
type RequiredPayment struct {
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	PayTo        string `json:"payTo"`
	Token        string `json:"token"`
	TokenName    string `json:"tokenName"`
	TokenVersion string `json:"tokenVersion"`
	Network      string `json:"network"`
}

// ChallengeBody is the JSON body of a 402 challenge response.
type ChallengeBody struct {
	PaymentRequired RequiredPayment `json:"paymentRequired"`
}

func (c Challenge) Body() ChallengeBody {
	return ChallengeBody{PaymentRequired: RequiredPayment{
		Price:        c.Price,
		Amount:       c.Amount,
		PayTo:        c.PayTo,
		Token:        c.Asset,
		TokenName:    c.AssetName,
		TokenVersion: c.AssetVersion,
		Network:      c.Network,
	}}
}

// OptionsHeader renders the X-Payment-Options value for the challenge.
func (c Challenge) OptionsHeader() string {
	return fmt.Sprintf("scheme=%q, network=%q, token=%q, payee=%q, amount=%q",
		c.Scheme, c.Network, c.Asset, c.PayTo, c.Amount)
}

// Requirement is the paymentRequirements object the facilitator verifies and
// settles against.
type Requirement struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType,omitempty"`
	PayTo             string            `json:"payTo"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Asset             string            `json:"asset"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Requirement derives the facilitator-facing requirement from the challenge.
// resource names the endpoint the payment buys access to.
func (c Challenge) Requirement(resource string) Requirement {
	return Requirement{
		Scheme:            c.Scheme,
		Network:           c.Network,
		MaxAmountRequired: c.Amount,
		Resource:          resource,
		Description:       "Token mint payment",
		PayTo:             c.PayTo,
		MaxTimeoutSeconds: c.MaxTimeoutSec,
		Asset:             c.Asset,
		Extra: map[string]string{
			"name":    c.AssetName,
			"version": c.AssetVersion,
		},
	}
}
