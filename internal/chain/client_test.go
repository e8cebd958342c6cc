package chain_test

// Deploys a minimal launch token stub on an in-process simulated EVM, then
// reads it back through the generated bindings. No external process (Anvil,
// geth) is required; the go-ethereum simulated backend runs entirely in
// memory.

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"github.com/xbsc-402/x402-backend/internal/chain"
	"github.com/xbsc-402/x402-backend/internal/config"
)

// deployerKeyHex is the first Anvil default account.
const deployerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// The go-ethereum simulated backend always uses chainID 1337.
var simChainID = big.NewInt(1337)

// launchTokenStubBin is the deploy bytecode of a hand-assembled equivalent of
//
//	contract LaunchTokenStub {
//	    function maxMintCount() external pure returns (uint256) { return 10000; }
//	    function mintCount() external pure returns (uint256) { return 1234; }
//	    function deploymentDeadline() external pure returns (uint256) { return 4102444800; }
//	}
//
// The runtime is a selector dispatch over the three view functions; any other
// selector reverts.
const launchTokenStubBin = "6053600c60003960536000f3" + // init: copy runtime, return it
	"60003560e01c" + // selector = calldata[0:4]
	"806332c60eef14602957" + // maxMintCount()       -> 0x29
	"80639659867e14603757" + // mintCount()          -> 0x37
	"80634fd676e314604557" + // deploymentDeadline() -> 0x45
	"60006000fd" + // fallback: revert
	"5b630000271060005260206000f3" + // return 10000
	"5b63000004d260005260206000f3" + // return 1234
	"5b63f486570060005260206000f3" // return 4102444800

// deployStub deploys the stub on a fresh simulated chain and returns a caller
// binding against it.
func deployStub(t *testing.T) *chain.LaunchTokenCaller {
	t.Helper()

	key, err := crypto.HexToECDSA(deployerKeyHex)
	if err != nil {
		t.Fatalf("parse deployer key: %v", err)
	}
	deployer := crypto.PubkeyToAddress(key.PublicKey)

	balance, _ := new(big.Int).SetString("1000000000000000000000", 10)
	backend := simulated.NewBackend(types.GenesisAlloc{deployer: {Balance: balance}})
	client := backend.Client()

	auth, err := bind.NewKeyedTransactorWithChainID(key, simChainID)
	if err != nil {
		t.Fatalf("transactor: %v", err)
	}

	parsed, err := chain.LaunchTokenMetaData.GetAbi()
	if err != nil {
		t.Fatalf("parse ABI: %v", err)
	}
	contractAddr, _, _, err := bind.DeployContract(auth, *parsed, common.FromHex(launchTokenStubBin), client)
	if err != nil {
		t.Fatalf("deploy stub: %v", err)
	}
	backend.Commit()

	caller, err := chain.NewLaunchTokenCaller(contractAddr, client)
	if err != nil {
		t.Fatalf("bind caller: %v", err)
	}
	return caller
}

func TestLaunchTokenReads(t *testing.T) {
	caller := deployStub(t)
	opts := &bind.CallOpts{Context: context.Background()}

	max, err := caller.MaxMintCount(opts)
	if err != nil {
		t.Fatalf("maxMintCount: %v", err)
	}
	if max.Uint64() != 10000 {
		t.Errorf("maxMintCount: got %s want 10000", max)
	}

	minted, err := caller.MintCount(opts)
	if err != nil {
		t.Fatalf("mintCount: %v", err)
	}
	if minted.Uint64() != 1234 {
		t.Errorf("mintCount: got %s want 1234", minted)
	}

	deadline, err := caller.DeploymentDeadline(opts)
	if err != nil {
		t.Fatalf("deploymentDeadline: %v", err)
	}
	// 2100-01-01T00:00:00Z
	if deadline.Uint64() != 4102444800 {
		t.Errorf("deploymentDeadline: got %s want 4102444800", deadline)
	}
}

// TestLaunchTokenReads_NoCode verifies that reading an address with no
// contract behind it surfaces an error instead of a zero value. Mint requests
// name arbitrary token addresses, so this is a path real traffic hits.
func TestLaunchTokenReads_NoCode(t *testing.T) {
	key, err := crypto.HexToECDSA(deployerKeyHex)
	if err != nil {
		t.Fatalf("parse deployer key: %v", err)
	}
	deployer := crypto.PubkeyToAddress(key.PublicKey)

	balance, _ := new(big.Int).SetString("1000000000000000000000", 10)
	backend := simulated.NewBackend(types.GenesisAlloc{deployer: {Balance: balance}})

	caller, err := chain.NewLaunchTokenCaller(common.HexToAddress("0x000000000000000000000000000000000000dead"), backend.Client())
	if err != nil {
		t.Fatalf("bind caller: %v", err)
	}
	opts := &bind.CallOpts{Context: context.Background()}
	if _, err := caller.MaxMintCount(opts); err == nil {
		t.Fatal("expected error reading an address with no code")
	}
}

func TestNewClient_RequiresRPCURL(t *testing.T) {
	cfg := &config.Config{Chain: config.ChainConfig{RPCURLs: " , ", ChainID: 56}}
	if _, err := chain.NewClient(cfg); err == nil {
		t.Fatal("expected error for empty rpc url list")
	}
}

// TestNewClient_PinsOneEndpoint checks that the client dials exactly one of
// the configured endpoints and reports it. The HTTP transport connects
// lazily, so no server needs to listen.
func TestNewClient_PinsOneEndpoint(t *testing.T) {
	urls := []string{"http://127.0.0.1:18545", "http://127.0.0.1:28545"}
	cfg := &config.Config{Chain: config.ChainConfig{
		RPCURLs: strings.Join(urls, ","),
		ChainID: 56,
	}}

	c, err := chain.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	if c.RPCURL() != urls[0] && c.RPCURL() != urls[1] {
		t.Errorf("client dialed %q, not one of the configured endpoints", c.RPCURL())
	}
	if c.ChainID().Int64() != 56 {
		t.Errorf("chain id: got %d want 56", c.ChainID().Int64())
	}
}
