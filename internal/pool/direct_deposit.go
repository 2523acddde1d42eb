package pool

import (
	"context"
	"time"

	"poolbridge/internal/chain"
	"poolbridge/internal/clienterr"
	"poolbridge/internal/contracts"

	"github.com/ethereum/go-ethereum/common"
)

// DirectDeposit reads the direct deposit queue that feeds the pool.
type DirectDeposit struct {
	contract *chain.Contract
}

func NewDirectDeposit(address common.Address, backend chain.Backend, timeout time.Duration) (*DirectDeposit, error) {
	parsed, err := contracts.ParseDirectDeposit()
	if err != nil {
		return nil, clienterr.New(clienterr.KindABI, "direct deposit", err)
	}
	contract, err := chain.New(address, parsed, backend, timeout)
	if err != nil {
		return nil, err
	}
	return &DirectDeposit{contract: contract}, nil
}

// Fee returns the fee charged per direct deposit, in pool token units.
func (d *DirectDeposit) Fee(ctx context.Context) (uint64, error) {
	return chain.Query[uint64](ctx, d.contract, "directDepositFee")
}
