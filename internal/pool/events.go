package pool

import (
	"context"
	"math/big"
	"sort"

	"poolbridge/internal/chain"
	"poolbridge/internal/clienterr"
	"poolbridge/internal/numeral"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

const messageEvent = "Message"

// MessageEvent is one Message emission of the pool.
type MessageEvent struct {
	Index       *uint256.Int
	Hash        common.Hash
	Payload     []byte
	BlockNumber uint64
	LogIndex    uint
	TxHash      common.Hash
}

// EventFilter selects a block range or a single block by hash. Nil bounds are
// left to the node's defaults.
type EventFilter struct {
	FromBlock *big.Int
	ToBlock   *big.Int
	BlockHash *common.Hash
}

// Events returns the Message events matched by f, ascending by block number
// and log index. Large ranges are not paged here.
func (c *Client) Events(ctx context.Context, f EventFilter) ([]MessageEvent, error) {
	if f.BlockHash != nil && (f.FromBlock != nil || f.ToBlock != nil) {
		return nil, clienterr.Newf(clienterr.KindConfiguration, "eth_getLogs", "block hash cannot be combined with a block range")
	}
	topic, err := c.contract.EventID(messageEvent)
	if err != nil {
		return nil, err
	}
	q := ethereum.FilterQuery{
		BlockHash: f.BlockHash,
		FromBlock: f.FromBlock,
		ToBlock:   f.ToBlock,
		Addresses: []common.Address{c.contract.Address()},
		Topics:    [][]common.Hash{{topic}},
	}
	logs, err := c.filterLogs(ctx, q)
	if err != nil {
		return nil, err
	}

	events := make([]MessageEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := c.decodeMessage(l)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Logs returns every log the pool emitted from genesis to the latest block.
// It is meant for the initial sync only.
func (c *Client) Logs(ctx context.Context) ([]types.Log, error) {
	return c.filterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		Addresses: []common.Address{c.contract.Address()},
	})
}

func (c *Client) filterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := chain.Run(ctx, c.contract, "eth_getLogs", func(ctx context.Context) ([]types.Log, error) {
		return c.contract.Backend().FilterLogs(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return logs, nil
}

func (c *Client) decodeMessage(l types.Log) (MessageEvent, error) {
	fields, err := c.contract.UnpackEvent(messageEvent, l)
	if err != nil {
		return MessageEvent{}, err
	}
	rawIndex, ok := fields["index"].(*big.Int)
	if !ok {
		return MessageEvent{}, clienterr.Newf(clienterr.KindABI, messageEvent, "index has type %T", fields["index"])
	}
	index, ok := numeral.FromBig(rawIndex)
	if !ok {
		return MessageEvent{}, clienterr.Newf(clienterr.KindNodeInconsistency, messageEvent, "index %s is not a uint256", rawIndex)
	}
	hash, ok := fields["hash"].([32]byte)
	if !ok {
		return MessageEvent{}, clienterr.Newf(clienterr.KindABI, messageEvent, "hash has type %T", fields["hash"])
	}
	payload, ok := fields["message"].([]byte)
	if !ok {
		return MessageEvent{}, clienterr.Newf(clienterr.KindABI, messageEvent, "message has type %T", fields["message"])
	}
	return MessageEvent{
		Index:       index,
		Hash:        hash,
		Payload:     payload,
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
		TxHash:      l.TxHash,
	}, nil
}
