package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/xbsc-402/x402-backend/internal/chain"
)

// capcheck prints a launch token's mint state straight from the chain,
// bypassing the gateway's caches. Usage: RPC_URL=... capcheck <token>
func main() {
	if len(os.Args) != 2 || !common.IsHexAddress(os.Args[1]) {
		fmt.Fprintln(os.Stderr, "usage: capcheck <token-address>")
		os.Exit(1)
	}
	rpc := os.Getenv("RPC_URL")
	if rpc == "" {
		rpc = "https://bsc-dataseed.binance.org"
	}

	eth, err := ethclient.Dial(rpc)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	token, err := chain.NewLaunchTokenCaller(common.HexToAddress(os.Args[1]), eth)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bind:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	opts := &bind.CallOpts{Context: ctx}

	max, _ := token.MaxMintCount(opts)
	minted, _ := token.MintCount(opts)
	deadline, _ := token.DeploymentDeadline(opts)

	fmt.Printf("max:       %s\n", max)
	fmt.Printf("minted:    %s\n", minted)
	if max != nil && minted != nil {
		fmt.Printf("available: %s\n", new(big.Int).Sub(max, minted))
	}
	if deadline != nil {
		fmt.Printf("deadline:  %s (%s)\n", deadline, time.Unix(deadline.Int64(), 0).UTC().Format(time.RFC3339))
	}
}
