package chain

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/xbsc-402/x402-backend/internal/config"
)

// Client wraps go-ethereum for read-only launch token queries.
// It holds no signing key; every write path goes through the facilitator.
type Client struct {
	eth     *ethclient.Client
	rpcURL  string
	chainID *big.Int
}

// NewClient dials one RPC endpoint picked uniformly at random from the
// configured list. Spreading construction across endpoints is the only load
// balancing done here; a client sticks to its endpoint for its lifetime.
func NewClient(cfg *config.Config) (*Client, error) {
	urls := cfg.Chain.RPCURLList()
	if len(urls) == 0 {
		return nil, fmt.Errorf("no rpc urls configured")
	}
	url := urls[rand.Intn(len(urls))]

	eth, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}

	return &Client{
		eth:     eth,
		rpcURL:  url,
		chainID: big.NewInt(cfg.Chain.ChainID),
	}, nil
}

// RPCURL returns the endpoint this client dialed.
func (c *Client) RPCURL() string { return c.rpcURL }

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// caller binds the launch token contract at the given address. The parsed ABI
// is cached inside the metadata, so per-call binding is cheap.
func (c *Client) caller(token string) (*LaunchTokenCaller, error) {
	caller, err := NewLaunchTokenCaller(common.HexToAddress(token), c.eth)
	if err != nil {
		return nil, fmt.Errorf("bind launch token %s: %w", token, err)
	}
	return caller, nil
}

// MaxMintCount reads the immutable mint cap of a launch token.
func (c *Client) MaxMintCount(ctx context.Context, token string) (uint64, error) {
	caller, err := c.caller(token)
	if err != nil {
		return 0, err
	}
	n, err := caller.MaxMintCount(&bind.CallOpts{Context: ctx})
	if err != nil {
		return 0, fmt.Errorf("maxMintCount %s: %w", token, err)
	}
	return n.Uint64(), nil
}

// MintCount reads the current confirmed mint count of a launch token.
func (c *Client) MintCount(ctx context.Context, token string) (uint64, error) {
	caller, err := c.caller(token)
	if err != nil {
		return 0, err
	}
	n, err := caller.MintCount(&bind.CallOpts{Context: ctx})
	if err != nil {
		return 0, fmt.Errorf("mintCount %s: %w", token, err)
	}
	return n.Uint64(), nil
}

// DeploymentDeadline reads the unix timestamp after which minting closes.
func (c *Client) DeploymentDeadline(ctx context.Context, token string) (uint64, error) {
	caller, err := c.caller(token)
	if err != nil {
		return 0, err
	}
	n, err := caller.DeploymentDeadline(&bind.CallOpts{Context: ctx})
	if err != nil {
		return 0, fmt.Errorf("deploymentDeadline %s: %w", token, err)
	}
	return n.Uint64(), nil
}
