package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"poolbridge/internal/chain/chaintest"
	"poolbridge/internal/clienterr"
	"poolbridge/internal/contracts"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var testAddress = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newTestContract(t *testing.T, timeout time.Duration) (*Contract, *chaintest.Backend) {
	t.Helper()
	parsed, err := contracts.ParsePool()
	require.NoError(t, err)
	backend := &chaintest.Backend{ABI: parsed, Handlers: map[string]chaintest.Handler{}}
	c, err := New(testAddress, parsed, backend, timeout)
	require.NoError(t, err)
	return c, backend
}

func TestNewRejectsBadConfiguration(t *testing.T) {
	parsed, err := contracts.ParsePool()
	require.NoError(t, err)

	_, err = New(testAddress, parsed, nil, time.Second)
	require.ErrorIs(t, err, clienterr.ErrConfiguration)

	_, err = New(testAddress, parsed, &chaintest.Backend{}, 0)
	require.ErrorIs(t, err, clienterr.ErrConfiguration)
}

func TestQueryDecodesOutput(t *testing.T) {
	c, backend := newTestContract(t, time.Second)
	backend.Handlers["roots"] = func(args []any) ([]any, error) {
		idx := args[0].(*big.Int)
		return []any{new(big.Int).Add(idx, big.NewInt(100))}, nil
	}

	got, err := Query[*big.Int](context.Background(), c, "roots", big.NewInt(5))
	require.NoError(t, err)
	require.Equal(t, int64(105), got.Int64())
	require.Equal(t, []string{"roots"}, backend.Calls())
}

func TestQueryWrongTypeIsABIError(t *testing.T) {
	c, backend := newTestContract(t, time.Second)
	backend.Handlers["pool_id"] = chaintest.Returns(big.NewInt(1))

	_, err := Query[uint64](context.Background(), c, "pool_id")
	require.ErrorIs(t, err, clienterr.ErrABI)
}

func TestCallUnknownMethodIsABIError(t *testing.T) {
	c, _ := newTestContract(t, time.Second)
	_, err := c.Call(context.Background(), "missing")
	require.ErrorIs(t, err, clienterr.ErrABI)
}

func TestCallMalformedOutputIsABIError(t *testing.T) {
	c, backend := newTestContract(t, time.Second)
	backend.RawOutput = []byte{0x01, 0x02}

	_, err := c.Call(context.Background(), "pool_index")
	require.ErrorIs(t, err, clienterr.ErrABI)
}

func TestCallTransportFailure(t *testing.T) {
	c, backend := newTestContract(t, time.Second)
	backend.Err = errors.New("connection refused")

	_, err := c.Call(context.Background(), "pool_index")
	require.ErrorIs(t, err, clienterr.ErrTransport)
	require.Contains(t, err.Error(), "connection refused")
}

func TestRunTimesOutEvenWhenBackendIgnoresContext(t *testing.T) {
	c, backend := newTestContract(t, 50*time.Millisecond)
	backend.Hang = make(chan struct{})
	t.Cleanup(func() { close(backend.Hang) })

	start := time.Now()
	_, err := c.Call(context.Background(), "pool_index")
	elapsed := time.Since(start)

	require.ErrorIs(t, err, clienterr.ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, elapsed, time.Second)
}

func TestRunCallerCancellationIsTransport(t *testing.T) {
	c, _ := newTestContract(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, c, "op", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, clienterr.ErrTransport)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunKeepsTypedErrors(t *testing.T) {
	c, _ := newTestContract(t, time.Second)
	_, err := Run(context.Background(), c, "op", func(context.Context) (int, error) {
		return 0, clienterr.Newf(clienterr.KindNodeInconsistency, "op", "bad root")
	})
	require.Equal(t, clienterr.KindNodeInconsistency, clienterr.KindOf(err))
}

func TestUnpackEvent(t *testing.T) {
	c, _ := newTestContract(t, time.Second)
	ev := c.ABI().Events["Message"]
	data, err := ev.Inputs.NonIndexed().Pack([]byte("memo"))
	require.NoError(t, err)

	hash := common.HexToHash("0x1234")
	log := types.Log{
		Topics: []common.Hash{ev.ID, common.BigToHash(big.NewInt(128)), hash},
		Data:   data,
	}
	fields, err := c.UnpackEvent("Message", log)
	require.NoError(t, err)
	require.Equal(t, int64(128), fields["index"].(*big.Int).Int64())
	require.Equal(t, [32]byte(hash), fields["hash"].([32]byte))
	require.Equal(t, []byte("memo"), fields["message"].([]byte))

	log.Topics[0] = common.Hash{}
	_, err = c.UnpackEvent("Message", log)
	require.ErrorIs(t, err, clienterr.ErrABI)
}

func TestSelector(t *testing.T) {
	c, _ := newTestContract(t, time.Second)
	sel, err := c.Selector("transact")
	require.NoError(t, err)
	require.Len(t, sel, 4)

	_, err = c.Selector("nope")
	require.ErrorIs(t, err, clienterr.ErrABI)
}
