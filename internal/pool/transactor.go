package pool

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"poolbridge/internal/chain"
	"poolbridge/internal/clienterr"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const transactMethod = "transact"

// Signer is the write capability of a Transactor.
type Signer struct {
	Key      *ecdsa.PrivateKey
	GasLimit uint64
}

// Transactor is a pool client that can also submit signed transact calls.
type Transactor struct {
	*Client
	key      *ecdsa.PrivateKey
	from     common.Address
	gasLimit uint64
	selector []byte
}

// NewTransactor extends c with a signer. Both the key and a non-zero gas
// limit are required.
func NewTransactor(c *Client, s Signer) (*Transactor, error) {
	if c == nil {
		return nil, clienterr.Newf(clienterr.KindConfiguration, transactMethod, "pool client is required")
	}
	if s.Key == nil {
		return nil, clienterr.Newf(clienterr.KindConfiguration, transactMethod, "signing key is required")
	}
	if s.GasLimit == 0 {
		return nil, clienterr.Newf(clienterr.KindConfiguration, transactMethod, "gas limit is required")
	}
	selector, err := c.contract.Selector(transactMethod)
	if err != nil {
		return nil, err
	}
	return &Transactor{
		Client:   c,
		key:      s.Key,
		from:     crypto.PubkeyToAddress(s.Key.PublicKey),
		gasLimit: s.GasLimit,
		selector: selector,
	}, nil
}

// WithSigner parses a hex private key and builds a Transactor.
func (c *Client) WithSigner(hexKey string, gasLimit uint64) (*Transactor, error) {
	if strings.TrimSpace(hexKey) == "" {
		return nil, clienterr.Newf(clienterr.KindConfiguration, transactMethod, "signing key is required")
	}
	key, err := ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return NewTransactor(c, Signer{Key: key, GasLimit: gasLimit})
}

// ParsePrivateKey accepts a hex secp256k1 key with or without 0x.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, clienterr.New(clienterr.KindConfiguration, "parse private key", err)
	}
	return key, nil
}

func (t *Transactor) From() common.Address { return t.from }

// SendTransaction prefixes txData with the transact selector, prices it at
// the node's current gas price, signs it and submits it. txData is the
// already ABI-encoded proof and memo payload.
func (t *Transactor) SendTransaction(ctx context.Context, txData []byte) (common.Hash, error) {
	data := make([]byte, 0, len(t.selector)+len(txData))
	data = append(data, t.selector...)
	data = append(data, txData...)

	backend := t.contract.Backend()
	gasPrice, err := chain.Run(ctx, t.contract, "eth_gasPrice", backend.SuggestGasPrice)
	if err != nil {
		return common.Hash{}, err
	}
	chainID, err := chain.Run(ctx, t.contract, "eth_chainId", backend.ChainID)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := chain.Run(ctx, t.contract, "eth_getTransactionCount", func(ctx context.Context) (uint64, error) {
		return backend.PendingNonceAt(ctx, t.from)
	})
	if err != nil {
		return common.Hash{}, err
	}

	to := t.contract.Address()
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      t.gasLimit,
		To:       &to,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), t.key)
	if err != nil {
		return common.Hash{}, clienterr.New(clienterr.KindConfiguration, transactMethod, err)
	}

	_, err = chain.Run(ctx, t.contract, "eth_sendRawTransaction", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, backend.SendTransaction(ctx, signed)
	})
	if err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}
