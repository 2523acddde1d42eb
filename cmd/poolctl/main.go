package main

import (
	"fmt"
	"log"
	"os"

	"poolbridge/internal/relayer"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "poolctl"
	app.Usage = "read the shielded pool and talk to its relayer"
	app.Version = relayer.LibVersion
	app.Flags = GlobalFlags()
	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "run the HTTP API and follow pending relayer jobs",
			Action: serve,
		},
		{
			Name:   "info",
			Usage:  "print the relayer's view of the pool",
			Action: relayerInfo,
		},
		{
			Name:   "fee",
			Usage:  "print the relayer fee",
			Flags:  []cli.Flag{DirectDepositFee},
			Action: fee,
		},
		{
			Name:   "root",
			Usage:  "print the pool's current root, or the root at --index",
			Flags:  []cli.Flag{RootIndex},
			Action: root,
		},
		{
			Name:      "nullifier",
			Usage:     "report whether a nullifier has been spent",
			ArgsUsage: "<decimal nullifier>",
			Action:    nullifier,
		},
		{
			Name:   "events",
			Usage:  "list the pool's Message events",
			Flags:  []cli.Flag{FromBlock, ToBlock, BlockHash},
			Action: events,
		},
		{
			Name:      "job",
			Usage:     "print the relayer's current view of a job",
			ArgsUsage: "<job id>",
			Action:    job,
		},
		{
			Name:      "watch",
			Usage:     "poll a job until it is mined or failed",
			ArgsUsage: "<job id>",
			Flags:     []cli.Flag{MaxPolls},
			Action:    watch,
		},
		{
			Name:   "transact",
			Usage:  "sign and send a transact call with web3.secretKey",
			Flags:  []cli.Flag{TxData, WaitMined},
			Action: transact,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(fmt.Errorf("poolctl: %w", err))
	}
}
