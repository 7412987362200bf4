// Package l1 wraps the Ethereum RPC connection used for gas price
// estimation and for reading the withdrawal-delayer contract state.
package l1

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rollupwallet/wallet-daemon/types"
)

// Client wraps an ethclient connection plus the delayer contract address.
type Client struct {
	Eth     *ethclient.Client
	delayer common.Address
}

// NewClient dials the L1 RPC endpoint.
func NewClient(url, delayerAddress string) (*Client, error) {
	ethClient, err := ethclient.Dial(url)
	if err != nil {
		return nil, err
	}
	return &Client{
		Eth:     ethClient,
		delayer: common.HexToAddress(delayerAddress),
	}, nil
}

// SuggestGasPrice returns the current suggested L1 gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.Eth.SuggestGasPrice(ctx)
}

// IsClaimed reads the delayer contract's deposit info for the withdrawal's
// owner and token. A zero pending amount means the delayed withdrawal has
// been claimed and the local entry can be pruned.
func (c *Client) IsClaimed(ctx context.Context, withdraw types.PendingDelayedWithdraw) (bool, error) {
	owner := common.HexToAddress(strings.TrimPrefix(withdraw.HezEthereumAddress, "hez:"))
	token := common.HexToAddress(withdraw.Token.EthereumAddress)

	selector := crypto.Keccak256([]byte("depositInfo(address,address)"))[:4]
	data := append(selector, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(token.Bytes(), 32)...)

	out, err := c.Eth.CallContract(ctx, ethereum.CallMsg{To: &c.delayer, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("failed to read delayer state: %v", err)
	}
	if len(out) < 32 {
		return false, fmt.Errorf("unexpected delayer response length %d", len(out))
	}
	amount := new(big.Int).SetBytes(out[:32])
	return amount.Sign() == 0, nil
}

// Close shuts down the RPC connection.
func (c *Client) Close() {
	c.Eth.Close()
}
