package pool

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"poolbridge/internal/chain/chaintest"
	"poolbridge/internal/clienterr"
	"poolbridge/internal/contracts"
	"poolbridge/internal/numeral"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var poolAddress = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newTestClient(t *testing.T) (*Client, *chaintest.Backend) {
	t.Helper()
	parsed, err := contracts.ParsePool()
	require.NoError(t, err)
	backend := &chaintest.Backend{ABI: parsed, Handlers: map[string]chaintest.Handler{}}
	c, err := NewClient(poolAddress, backend, time.Second)
	require.NoError(t, err)
	return c, backend
}

func fieldOf(v uint64) fr.Element {
	var f fr.Element
	f.SetUint64(v)
	return f
}

func TestNullifierExists(t *testing.T) {
	c, backend := newTestClient(t)
	pMinus1 := new(uint256.Int).SubUint64(numeral.Modulus, 1)
	slots := map[[32]byte]*big.Int{
		numeral.ToEvmWord(fieldOf(7)).Bytes32(): big.NewInt(0),
		numeral.ToEvmWord(fieldOf(8)).Bytes32(): big.NewInt(1),
		numeral.ToEvmWord(fieldOf(9)).Bytes32(): pMinus1.ToBig(),
	}
	backend.Handlers["nullifiers"] = func(args []any) ([]any, error) {
		v, ok := slots[args[0].([32]byte)]
		if !ok {
			return []any{big.NewInt(0)}, nil
		}
		return []any{v}, nil
	}

	cases := []struct {
		nullifier uint64
		want      bool
	}{
		{7, false},
		{8, true},
		{9, true},
		{10, false},
	}
	for _, tc := range cases {
		got, err := c.NullifierExists(context.Background(), fieldOf(tc.nullifier))
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "nullifier %d", tc.nullifier)
	}
}

func TestRootByIndex(t *testing.T) {
	c, backend := newTestClient(t)
	backend.Handlers["roots"] = func(args []any) ([]any, error) {
		if args[0].(*big.Int).Int64() == 3 {
			return []any{big.NewInt(12345)}, nil
		}
		return []any{numeral.Modulus.ToBig()}, nil
	}

	root, err := c.RootByIndex(context.Background(), fieldOf(3))
	require.NoError(t, err)
	require.Equal(t, "12345", numeral.FormatField(root))

	_, err = c.RootByIndex(context.Background(), fieldOf(4))
	require.ErrorIs(t, err, clienterr.ErrNodeInconsistency)
}

func TestPoolID(t *testing.T) {
	c, backend := newTestClient(t)
	backend.Handlers["pool_id"] = chaintest.Returns(big.NewInt(0xabc))

	id, err := c.PoolID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2748", numeral.FormatField(id))
}

func TestCurrentRootReadsIndexThenRoot(t *testing.T) {
	c, backend := newTestClient(t)
	backend.Handlers["pool_index"] = chaintest.Returns(big.NewInt(256))
	backend.Handlers["roots"] = func(args []any) ([]any, error) {
		return []any{new(big.Int).Mul(args[0].(*big.Int), big.NewInt(2))}, nil
	}

	index, root, err := c.CurrentRoot(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(256), index.Uint64())
	require.Equal(t, "512", numeral.FormatField(root))
	require.Equal(t, []string{"pool_index", "roots"}, backend.Calls())
}

func TestCurrentRootTransportFailure(t *testing.T) {
	c, backend := newTestClient(t)
	backend.Err = errors.New("dial tcp: connection refused")

	_, _, err := c.CurrentRoot(context.Background())
	require.ErrorIs(t, err, clienterr.ErrTransport)
}

func TestQueryTimeout(t *testing.T) {
	parsed, err := contracts.ParsePool()
	require.NoError(t, err)
	backend := &chaintest.Backend{ABI: parsed, Hang: make(chan struct{})}
	t.Cleanup(func() { close(backend.Hang) })
	c, err := NewClient(poolAddress, backend, 20*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.PoolID(context.Background())
	require.ErrorIs(t, err, clienterr.ErrTimeout)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBlockMetadata(t *testing.T) {
	c, backend := newTestClient(t)
	backend.Block = 99
	backend.Headers = map[uint64]*types.Header{42: {Number: big.NewInt(42), Time: 1_700_000_000}}

	n, err := c.BlockNumber(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(99), n)

	ts, err := c.BlockTimestamp(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_000), ts)

	_, err = c.BlockTimestamp(context.Background(), 43)
	require.ErrorIs(t, err, clienterr.ErrNodeInconsistency)
}

func TestTransactionLookupsTolerateUnknownHash(t *testing.T) {
	c, _ := newTestClient(t)
	hash := common.HexToHash("0xbeef")

	tx, pending, err := c.Transaction(context.Background(), hash)
	require.NoError(t, err)
	require.Nil(t, tx)
	require.False(t, pending)

	receipt, err := c.TransactionReceipt(context.Background(), hash)
	require.NoError(t, err)
	require.Nil(t, receipt)
}

func TestReadOnlyClientCannotSend(t *testing.T) {
	c, backend := newTestClient(t)
	_, err := c.SendTransaction(context.Background(), []byte{0x01})
	require.ErrorIs(t, err, clienterr.ErrConfiguration)
	require.Empty(t, backend.Sent())
}

func TestParseAddress(t *testing.T) {
	_, err := ParseAddress("pool", "")
	require.ErrorIs(t, err, clienterr.ErrConfiguration)
	_, err = ParseAddress("pool", "0x123")
	require.ErrorIs(t, err, clienterr.ErrConfiguration)
	addr, err := ParseAddress("pool", poolAddress.Hex())
	require.NoError(t, err)
	require.Equal(t, poolAddress, addr)
}

func TestDirectDepositFee(t *testing.T) {
	parsed, err := contracts.ParseDirectDeposit()
	require.NoError(t, err)
	backend := &chaintest.Backend{ABI: parsed, Handlers: map[string]chaintest.Handler{
		"directDepositFee": chaintest.Returns(uint64(100_000_000)),
	}}
	dd, err := NewDirectDeposit(common.HexToAddress("0x2222222222222222222222222222222222222222"), backend, time.Second)
	require.NoError(t, err)

	fee, err := dd.Fee(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100_000_000), fee)
}
