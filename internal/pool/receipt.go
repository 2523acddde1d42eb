package pool

import (
	"context"
	"errors"
	"time"

	"poolbridge/internal/clienterr"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// WaitForReceipt polls until the transaction is mined or ctx ends. Each poll
// is bounded by the client timeout; a failed poll ends the wait.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, interval time.Duration) (*types.Receipt, error) {
	const op = "wait for receipt"
	if interval <= 0 {
		return nil, clienterr.Newf(clienterr.KindConfiguration, op, "poll interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, clienterr.New(clienterr.KindTimeout, op, ctx.Err())
			}
			return nil, clienterr.New(clienterr.KindTransport, op, ctx.Err())
		case <-ticker.C:
		}
	}
}
