// Package chain executes read and write calls against an EVM node. Every call
// goes through Run, which bounds it by the contract's timeout and classifies
// the failure.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"poolbridge/internal/clienterr"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Backend is the part of the node API the clients use.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to a JSON-RPC endpoint. httpClient may be nil; when set it
// carries all HTTP traffic to the node.
func Dial(ctx context.Context, endpoint string, httpClient *http.Client) (*ethclient.Client, error) {
	if endpoint == "" {
		return nil, clienterr.Newf(clienterr.KindConfiguration, "dial", "provider endpoint is required")
	}
	var opts []rpc.ClientOption
	if httpClient != nil {
		opts = append(opts, rpc.WithHTTPClient(httpClient))
	}
	rc, err := rpc.DialOptions(ctx, endpoint, opts...)
	if err != nil {
		return nil, clienterr.New(clienterr.KindTransport, "dial", err)
	}
	return ethclient.NewClient(rc), nil
}

// Contract binds an address, its ABI, a backend and a per-call timeout.
// None of them change after New.
type Contract struct {
	address common.Address
	abi     abi.ABI
	backend Backend
	timeout time.Duration
}

func New(address common.Address, parsed abi.ABI, backend Backend, timeout time.Duration) (*Contract, error) {
	if backend == nil {
		return nil, clienterr.Newf(clienterr.KindConfiguration, "chain.New", "backend is required")
	}
	if timeout <= 0 {
		return nil, clienterr.Newf(clienterr.KindConfiguration, "chain.New", "timeout must be positive, got %s", timeout)
	}
	return &Contract{
		address: address,
		abi:     parsed,
		backend: backend,
		timeout: timeout,
	}, nil
}

func (c *Contract) Address() common.Address { return c.address }
func (c *Contract) ABI() abi.ABI            { return c.abi }
func (c *Contract) Backend() Backend        { return c.backend }
func (c *Contract) Timeout() time.Duration  { return c.timeout }

// Run executes fn under the contract timeout. The result is awaited against
// the deadline, so fn cannot hold the caller past the bound even if it ignores
// its context.
func Run[T any](ctx context.Context, c *Contract, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return zero, classify(callCtx, op, r.err)
		}
		return r.value, nil
	case <-callCtx.Done():
		return zero, classify(callCtx, op, callCtx.Err())
	}
}

func classify(callCtx context.Context, op string, err error) error {
	var typed *clienterr.Error
	if errors.As(err, &typed) {
		return err
	}
	if ctxErr := callCtx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return clienterr.New(clienterr.KindTimeout, op, ctxErr)
		}
		return clienterr.New(clienterr.KindTransport, op, ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return clienterr.New(clienterr.KindTimeout, op, err)
	}
	return clienterr.New(clienterr.KindTransport, op, err)
}

// Call performs an eth_call of method and returns the unpacked outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, clienterr.New(clienterr.KindABI, method, err)
	}
	output, err := Run(ctx, c, method, func(ctx context.Context) ([]byte, error) {
		return c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: input}, nil)
	})
	if err != nil {
		return nil, err
	}
	values, err := c.abi.Unpack(method, output)
	if err != nil {
		return nil, clienterr.New(clienterr.KindABI, method, err)
	}
	return values, nil
}

// Query calls a method with a single output and asserts its Go type.
func Query[T any](ctx context.Context, c *Contract, method string, args ...any) (T, error) {
	var zero T
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return zero, err
	}
	if len(values) != 1 {
		return zero, clienterr.Newf(clienterr.KindABI, method, "expected 1 output, got %d", len(values))
	}
	v, ok := values[0].(T)
	if !ok {
		return zero, clienterr.Newf(clienterr.KindABI, method, "unexpected output type %T", values[0])
	}
	return v, nil
}

// Selector returns the 4-byte function selector of method.
func (c *Contract) Selector(method string) ([]byte, error) {
	m, ok := c.abi.Methods[method]
	if !ok {
		return nil, clienterr.Newf(clienterr.KindABI, method, "method not found in abi")
	}
	return m.ID, nil
}

// EventID returns topic0 of the named event.
func (c *Contract) EventID(event string) (common.Hash, error) {
	ev, ok := c.abi.Events[event]
	if !ok {
		return common.Hash{}, clienterr.Newf(clienterr.KindABI, event, "event not found in abi")
	}
	return ev.ID, nil
}

// UnpackEvent decodes both the indexed topics and the data of log into a map
// keyed by argument name.
func (c *Contract) UnpackEvent(event string, log types.Log) (map[string]any, error) {
	ev, ok := c.abi.Events[event]
	if !ok {
		return nil, clienterr.Newf(clienterr.KindABI, event, "event not found in abi")
	}
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return nil, clienterr.Newf(clienterr.KindABI, event, "log %s/%d is not a %s event", log.TxHash.Hex(), log.Index, event)
	}
	fields := make(map[string]any)
	if len(log.Data) > 0 {
		if err := c.abi.UnpackIntoMap(fields, event, log.Data); err != nil {
			return nil, clienterr.New(clienterr.KindABI, event, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
		return nil, clienterr.New(clienterr.KindABI, event, fmt.Errorf("parse topics: %w", err))
	}
	return fields, nil
}
