// Package chaintest provides an in-memory chain.Backend that answers eth_call
// by ABI-decoding the request and ABI-encoding canned outputs.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Handler answers one contract method. args are the decoded inputs.
type Handler func(args []any) ([]any, error)

// Returns is a Handler that always answers with values.
func Returns(values ...any) Handler {
	return func([]any) ([]any, error) { return values, nil }
}

// Backend is a programmable fake node. Zero values are usable; set fields
// before handing it to a client.
type Backend struct {
	ABI      abi.ABI
	Handlers map[string]Handler

	Logs     []types.Log
	Block    uint64
	Headers  map[uint64]*types.Header
	GasPrice *big.Int
	Nonce    uint64
	Chain    *big.Int
	Txs      map[common.Hash]*types.Transaction
	Receipts map[common.Hash]*types.Receipt

	// RawOutput, when set, is returned verbatim from CallContract.
	RawOutput []byte
	// Err fails every call.
	Err error
	// Hang blocks every call until closed, ignoring the call context.
	Hang chan struct{}

	mu      sync.Mutex
	calls   []string
	filters []ethereum.FilterQuery
	sent    []*types.Transaction
}

var ErrNotConfigured = errors.New("chaintest: not configured")

func (b *Backend) enter(name string) error {
	if b.Hang != nil {
		<-b.Hang
	}
	b.mu.Lock()
	b.calls = append(b.calls, name)
	b.mu.Unlock()
	return b.Err
}

// Calls lists the methods seen so far, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Filters lists the log queries seen so far.
func (b *Backend) Filters() []ethereum.FilterQuery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), b.filters...)
}

// Sent lists the transactions submitted so far.
func (b *Backend) Sent() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*types.Transaction(nil), b.sent...)
}

func (b *Backend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(call.Data) < 4 {
		return nil, fmt.Errorf("chaintest: short calldata")
	}
	method, err := b.ABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	if err := b.enter(method.Name); err != nil {
		return nil, err
	}
	if b.RawOutput != nil {
		return b.RawOutput, nil
	}
	handler, ok := b.Handlers[method.Name]
	if !ok {
		return nil, fmt.Errorf("%w: method %s", ErrNotConfigured, method.Name)
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	out, err := handler(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := b.enter("eth_getLogs"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.filters = append(b.filters, q)
	b.mu.Unlock()

	var out []types.Log
	for _, l := range b.Logs {
		if q.BlockHash != nil && l.BlockHash != *q.BlockHash {
			continue
		}
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	if err := b.enter("eth_blockNumber"); err != nil {
		return 0, err
	}
	return b.Block, nil
}

func (b *Backend) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	if err := b.enter("eth_getBlockByNumber"); err != nil {
		return nil, err
	}
	n := b.Block
	if number != nil {
		n = number.Uint64()
	}
	h, ok := b.Headers[n]
	if !ok {
		return nil, ethereum.NotFound
	}
	return h, nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if err := b.enter("eth_gasPrice"); err != nil {
		return nil, err
	}
	if b.GasPrice == nil {
		return nil, fmt.Errorf("%w: gas price", ErrNotConfigured)
	}
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	if err := b.enter("eth_getTransactionCount"); err != nil {
		return 0, err
	}
	return b.Nonce, nil
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	if err := b.enter("eth_chainId"); err != nil {
		return nil, err
	}
	if b.Chain == nil {
		return big.NewInt(1337), nil
	}
	return new(big.Int).Set(b.Chain), nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if err := b.enter("eth_sendRawTransaction"); err != nil {
		return err
	}
	b.mu.Lock()
	b.sent = append(b.sent, tx)
	b.mu.Unlock()
	return nil
}

func (b *Backend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if err := b.enter("eth_getTransactionByHash"); err != nil {
		return nil, false, err
	}
	tx, ok := b.Txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if err := b.enter("eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	r, ok := b.Receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}
