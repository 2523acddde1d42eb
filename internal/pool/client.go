// Package pool reads shielded pool state from the chain and submits signed
// transact calls. Reads go through Client; writes need a Transactor, which
// can only be built with a signing key and a gas limit.
package pool

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"poolbridge/internal/chain"
	"poolbridge/internal/clienterr"
	"poolbridge/internal/contracts"
	"poolbridge/internal/numeral"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Settings describe how to reach the pool contract.
type Settings struct {
	ProviderEndpoint string
	PoolAddress      string
	Timeout          time.Duration
}

// Client is the read-only pool client.
type Client struct {
	contract *chain.Contract
}

// Dial connects to the node in s and binds the pool contract.
func Dial(ctx context.Context, s Settings, httpClient *http.Client) (*Client, error) {
	address, err := ParseAddress("pool", s.PoolAddress)
	if err != nil {
		return nil, err
	}
	backend, err := chain.Dial(ctx, s.ProviderEndpoint, httpClient)
	if err != nil {
		return nil, err
	}
	return NewClient(address, backend, s.Timeout)
}

// NewClient binds the pool contract at address on an existing backend.
func NewClient(address common.Address, backend chain.Backend, timeout time.Duration) (*Client, error) {
	parsed, err := contracts.ParsePool()
	if err != nil {
		return nil, clienterr.New(clienterr.KindABI, "pool", err)
	}
	contract, err := chain.New(address, parsed, backend, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{contract: contract}, nil
}

// ParseAddress validates a hex contract address.
func ParseAddress(name, hex string) (common.Address, error) {
	if hex == "" {
		return common.Address{}, clienterr.Newf(clienterr.KindConfiguration, name, "contract address is required")
	}
	if !common.IsHexAddress(hex) {
		return common.Address{}, clienterr.Newf(clienterr.KindConfiguration, name, "invalid contract address %q", hex)
	}
	return common.HexToAddress(hex), nil
}

func (c *Client) Contract() *chain.Contract { return c.contract }

// NullifierExists reports whether the nullifier slot is non-zero.
func (c *Client) NullifierExists(ctx context.Context, nullifier fr.Element) (bool, error) {
	key := numeral.ToEvmWord(nullifier).Bytes32()
	v, err := chain.Query[*big.Int](ctx, c.contract, "nullifiers", key)
	if err != nil {
		return false, err
	}
	return v.Sign() != 0, nil
}

// RootByIndex reads the merkle root stored at index.
func (c *Client) RootByIndex(ctx context.Context, index fr.Element) (fr.Element, error) {
	raw, err := chain.Query[*big.Int](ctx, c.contract, "roots", numeral.ToEvmWord(index).ToBig())
	if err != nil {
		return fr.Element{}, err
	}
	return toField("roots", raw)
}

func (c *Client) PoolID(ctx context.Context) (fr.Element, error) {
	raw, err := chain.Query[*big.Int](ctx, c.contract, "pool_id")
	if err != nil {
		return fr.Element{}, err
	}
	return toField("pool_id", raw)
}

// CurrentRoot returns the pool index and the root at that index.
//
// The two values come from separate calls. A transact mined between them
// yields a root that belongs to a later index than the one returned; the ABI
// offers no combined accessor.
func (c *Client) CurrentRoot(ctx context.Context) (*uint256.Int, fr.Element, error) {
	rawIndex, err := chain.Query[*big.Int](ctx, c.contract, "pool_index")
	if err != nil {
		return nil, fr.Element{}, err
	}
	index, ok := numeral.FromBig(rawIndex)
	if !ok {
		return nil, fr.Element{}, clienterr.Newf(clienterr.KindNodeInconsistency, "pool_index", "value %s is not a uint256", rawIndex)
	}
	rawRoot, err := chain.Query[*big.Int](ctx, c.contract, "roots", rawIndex)
	if err != nil {
		return nil, fr.Element{}, err
	}
	root, err := toField("roots", rawRoot)
	if err != nil {
		return nil, fr.Element{}, err
	}
	return index, root, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return chain.Run(ctx, c.contract, "eth_blockNumber", c.contract.Backend().BlockNumber)
}

// BlockTimestamp returns the unix timestamp of block number.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	header, err := chain.Run(ctx, c.contract, "eth_getBlockByNumber", func(ctx context.Context) (*types.Header, error) {
		h, err := c.contract.Backend().HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		if errors.Is(err, ethereum.NotFound) || (err == nil && h == nil) {
			return nil, clienterr.Newf(clienterr.KindNodeInconsistency, "eth_getBlockByNumber", "block %d not found", number)
		}
		return h, err
	})
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// Transaction looks a transaction up by hash. A nil transaction and nil error
// mean the node does not know it.
func (c *Client) Transaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	type lookup struct {
		tx      *types.Transaction
		pending bool
	}
	res, err := chain.Run(ctx, c.contract, "eth_getTransactionByHash", func(ctx context.Context) (lookup, error) {
		tx, pending, err := c.contract.Backend().TransactionByHash(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return lookup{}, nil
		}
		return lookup{tx: tx, pending: pending}, err
	})
	if err != nil {
		return nil, false, err
	}
	return res.tx, res.pending, nil
}

// TransactionReceipt returns nil without error while the transaction is unmined.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return chain.Run(ctx, c.contract, "eth_getTransactionReceipt", func(ctx context.Context) (*types.Receipt, error) {
		r, err := c.contract.Backend().TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return r, err
	})
}

// SendTransaction always fails on the read-only client.
func (c *Client) SendTransaction(context.Context, []byte) (common.Hash, error) {
	return common.Hash{}, clienterr.Newf(clienterr.KindConfiguration, "transact", "client has no signing key and gas limit")
}

func toField(op string, raw *big.Int) (fr.Element, error) {
	w, ok := numeral.FromBig(raw)
	if !ok {
		return fr.Element{}, clienterr.Newf(clienterr.KindNodeInconsistency, op, "value %s is not a uint256", raw)
	}
	f, ok := numeral.ToField(w)
	if !ok {
		return fr.Element{}, clienterr.Newf(clienterr.KindNodeInconsistency, op, "value %s is not a field element", w.Dec())
	}
	return f, nil
}
