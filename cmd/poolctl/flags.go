package main

import (
	"github.com/urfave/cli"
)

var (
	ConfigDir = cli.StringFlag{
		Name:   "config-dir",
		Usage:  "Directory holding base.yaml and <environment>.yaml",
		Value:  "configuration",
		EnvVar: "APP_CONFIG_DIR",
	}
	Environment = cli.StringFlag{
		Name:   "environment",
		Usage:  "Configuration environment layered over base.yaml",
		Value:  "local",
		EnvVar: "APP_ENVIRONMENT",
	}
	ProviderEndpoint = cli.StringFlag{
		Name:  "web3.provider",
		Usage: "JSON-RPC endpoint of the chain node, overrides web3.providerEndpoint",
	}
	PoolAddress = cli.StringFlag{
		Name:  "web3.pool",
		Usage: "Pool contract address, overrides web3.poolAddress",
	}
	RelayerURL = cli.StringFlag{
		Name:  "relayer.url",
		Usage: "Relayer base URL, overrides relayer.url",
	}
)

var (
	RootIndex = cli.StringFlag{
		Name:  "index",
		Usage: "Read the root stored at this index instead of the current one",
	}
	DirectDepositFee = cli.BoolFlag{
		Name:  "direct-deposit",
		Usage: "Also read the direct deposit queue fee",
	}
	FromBlock = cli.Int64Flag{
		Name:  "from",
		Usage: "First block of the range, -1 for the node default",
		Value: -1,
	}
	ToBlock = cli.Int64Flag{
		Name:  "to",
		Usage: "Last block of the range, -1 for the node default",
		Value: -1,
	}
	BlockHash = cli.StringFlag{
		Name:  "block-hash",
		Usage: "Read the events of a single block; excludes --from and --to",
	}
	MaxPolls = cli.IntFlag{
		Name:  "max-polls",
		Usage: "Give up after this many observations, 0 for the configured value",
	}
	WaitMined = cli.BoolFlag{
		Name:  "wait",
		Usage: "Wait for the transaction receipt",
	}
	TxData = cli.StringFlag{
		Name:     "data",
		Usage:    "Hex calldata appended to the transact selector",
		Required: true,
	}
)

func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigDir,
		Environment,
		ProviderEndpoint,
		PoolAddress,
		RelayerURL,
	}
}
