package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"casino-settlement/internal/models"
)

// transferMethodID is the 4-byte selector for ERC-20 transfer(address,uint256).
var transferMethodID = []byte{0xa9, 0x05, 0x9c, 0xbb}

const tokenTransferGasLimit = 100_000

// Node talks to a chain node over RPC for head tracking, receipt lookups,
// and outbound transfers.
type Node struct {
	client        *ethclient.Client
	chainID       *big.Int
	tokenAddress  common.Address
	tokenDecimals int32
}

func NewNode(ctx context.Context, rpcURL, tokenAddress string, tokenDecimals int32) (*Node, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial chain rpc")
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chain id")
	}
	return &Node{
		client:        client,
		chainID:       chainID,
		tokenAddress:  common.HexToAddress(tokenAddress),
		tokenDecimals: tokenDecimals,
	}, nil
}

func (n *Node) Close() {
	n.client.Close()
}

func (n *Node) LatestBlockNumber(ctx context.Context) (uint64, error) {
	head, err := n.client.BlockNumber(ctx)
	if err != nil {
		return 0, &models.ExternalServiceError{Service: "chain-rpc", Err: err}
	}
	return head, nil
}

// TransactionConfirmations returns head minus the mined block of txHash.
// A transaction the node has never seen, or one still pending, counts as 0.
func (n *Node) TransactionConfirmations(ctx context.Context, txHash string) (uint64, error) {
	receipt, err := n.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return 0, nil
		}
		return 0, &models.ExternalServiceError{Service: "chain-rpc", Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, nil
	}

	head, err := n.LatestBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined {
		return 0, nil
	}
	return head - mined, nil
}

// BroadcastTransfer signs and submits an ERC-20 transfer of amount to the
// given address, returning the transaction hash. The hash is returned even
// when submission errors: once a signed transaction exists it may propagate
// despite an RPC failure, and callers need the hash to find out.
func (n *Node) BroadcastTransfer(ctx context.Context, key *ecdsa.PrivateKey, to string, amount decimal.Decimal) (string, error) {
	if !common.IsHexAddress(to) {
		return "", models.ErrInvalidAddress
	}
	from := ethcrypto.PubkeyToAddress(key.PublicKey)

	nonce, err := n.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", &models.ExternalServiceError{Service: "chain-rpc", Err: err}
	}
	gasPrice, err := n.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", &models.ExternalServiceError{Service: "chain-rpc", Err: err}
	}

	data := transferCallData(common.HexToAddress(to), n.toBaseUnits(amount))
	tx := types.NewTransaction(nonce, n.tokenAddress, big.NewInt(0), tokenTransferGasLimit, gasPrice, data)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(n.chainID), key)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign transaction")
	}
	hash := strings.ToLower(signed.Hash().Hex())
	if err := n.client.SendTransaction(ctx, signed); err != nil {
		return hash, &models.ExternalServiceError{Service: "chain-rpc", Err: err}
	}
	return hash, nil
}

func (n *Node) toBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(n.tokenDecimals).BigInt()
}

func transferCallData(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferMethodID...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
