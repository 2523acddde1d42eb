package pool

import (
	"context"
	"math/big"
	"testing"

	"poolbridge/internal/clienterr"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestTransactorRequiresKeyAndGasLimit(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := NewTransactor(c, Signer{GasLimit: 1_000_000})
	require.ErrorIs(t, err, clienterr.ErrConfiguration)

	key, err := ParsePrivateKey(testKeyHex)
	require.NoError(t, err)
	_, err = NewTransactor(c, Signer{Key: key})
	require.ErrorIs(t, err, clienterr.ErrConfiguration)

	_, err = c.WithSigner("", 1_000_000)
	require.ErrorIs(t, err, clienterr.ErrConfiguration)

	_, err = c.WithSigner("not-hex", 1_000_000)
	require.ErrorIs(t, err, clienterr.ErrConfiguration)
}

func TestSendTransactionSignsSelectorPrefixedPayload(t *testing.T) {
	c, backend := newTestClient(t)
	backend.GasPrice = big.NewInt(3_000_000_000)
	backend.Nonce = 7
	backend.Chain = big.NewInt(100)

	tr, err := c.WithSigner(testKeyHex, 2_000_000)
	require.NoError(t, err)

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	hash, err := tr.SendTransaction(context.Background(), payload)
	require.NoError(t, err)

	sent := backend.Sent()
	require.Len(t, sent, 1)
	tx := sent[0]
	require.Equal(t, hash, tx.Hash())

	selector := c.Contract().ABI().Methods["transact"].ID
	require.Equal(t, append(append([]byte{}, selector...), payload...), tx.Data())
	require.Equal(t, uint64(2_000_000), tx.Gas())
	require.Equal(t, int64(3_000_000_000), tx.GasPrice().Int64())
	require.Equal(t, uint64(7), tx.Nonce())
	require.Equal(t, poolAddress, *tx.To())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(100)), tx)
	require.NoError(t, err)
	key, _ := ParsePrivateKey(testKeyHex)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), from)
	require.Equal(t, from, tr.From())

	require.Equal(t, []string{"eth_gasPrice", "eth_chainId", "eth_getTransactionCount", "eth_sendRawTransaction"}, backend.Calls())
}

func TestSendTransactionGasPriceFailure(t *testing.T) {
	c, backend := newTestClient(t)
	tr, err := c.WithSigner(testKeyHex, 2_000_000)
	require.NoError(t, err)

	// no gas price configured on the fake node
	_, err = tr.SendTransaction(context.Background(), []byte{0x01})
	require.ErrorIs(t, err, clienterr.ErrTransport)
	require.Empty(t, backend.Sent())
}
