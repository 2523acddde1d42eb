// Package contracts holds the ABI artifacts of the contracts this module talks to.
package contracts

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed pool.abi.json
var PoolABI string

//go:embed direct_deposit.abi.json
var DirectDepositABI string

// ParsePool parses the pool contract ABI.
func ParsePool() (abi.ABI, error) {
	return parse("pool", PoolABI)
}

// ParseDirectDeposit parses the direct deposit queue ABI.
func ParseDirectDeposit() (abi.ABI, error) {
	return parse("direct deposit", DirectDepositABI)
}

func parse(name, raw string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse %s abi: %w", name, err)
	}
	return parsed, nil
}
