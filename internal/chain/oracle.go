// Package chain is the settlement core's view of the blockchain: an explorer
// API for transfer history and a node RPC for head, receipts, and broadcast.
package chain

import (
	"context"
	"crypto/ecdsa"

	"github.com/shopspring/decimal"
)

// Transfer is one inbound token transfer as reported by the explorer.
type Transfer struct {
	TxHash      string
	From        string
	To          string
	Amount      decimal.Decimal
	BlockNumber uint64
}

// Oracle is everything the deposit pipeline and withdrawal worker need from
// the chain. The production implementation is Client; tests use fakes.
type Oracle interface {
	// ListTransfers returns token transfers into address at or after
	// fromBlock, in ascending block order.
	ListTransfers(ctx context.Context, address string, fromBlock uint64) ([]Transfer, error)

	// LatestBlockNumber returns the current chain head.
	LatestBlockNumber(ctx context.Context) (uint64, error)

	// TransactionConfirmations returns how many blocks deep txHash is, or
	// 0 if it is not yet mined.
	TransactionConfirmations(ctx context.Context, txHash string) (uint64, error)

	// BroadcastTransfer signs and submits a token transfer and returns the
	// transaction hash.
	BroadcastTransfer(ctx context.Context, key *ecdsa.PrivateKey, to string, amount decimal.Decimal) (string, error)
}

// Client implements Oracle over a block explorer plus a node RPC.
type Client struct {
	*Explorer
	*Node
}

func NewClient(explorer *Explorer, node *Node) *Client {
	return &Client{Explorer: explorer, Node: node}
}

var _ Oracle = (*Client)(nil)
