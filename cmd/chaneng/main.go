// Command chaneng is a local inspection CLI over a chandb store, grounded
// on the teacher's cmd/dcrlncli: a urfave/cli.App with one subcommand per
// operation, a shared --db flag for the store location instead of dcrlncli's
// --rpcserver.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "chaneng"
	app.Usage = "inspect persisted state-channel state"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "db",
			Value: "chaneng.db",
			Usage: "path to the leveldb store",
		},
	}
	app.Commands = []cli.Command{
		channelCommand,
		transfersCommand,
		withdrawalCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "chaneng:", err)
		os.Exit(1)
	}
}
