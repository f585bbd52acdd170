package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli"

	"github.com/decred/dcrlnd-statechannel/chandb"
)

func openStore(c *cli.Context) (*chandb.LevelStore, error) {
	return chandb.Open(c.GlobalString("db"))
}

var channelCommand = cli.Command{
	Name:      "channel",
	Usage:     "print the persisted state of a channel",
	ArgsUsage: "<channel-address>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("expected exactly one channel address argument", 1)
		}
		store, err := openStore(c)
		if err != nil {
			return err
		}
		defer store.Close()

		addr := common.HexToAddress(c.Args().Get(0))
		state, err := store.GetChannelState(addr)
		if err != nil {
			return err
		}
		if state == nil {
			return cli.NewExitError("no channel found at that address", 1)
		}

		fmt.Printf("channel:      %s\n", state.ChannelAddress.Hex())
		fmt.Printf("alice:        %s (%s)\n", state.Alice.Hex(), state.AliceIdentifier)
		fmt.Printf("bob:          %s (%s)\n", state.Bob.Hex(), state.BobIdentifier)
		fmt.Printf("chain id:     %s\n", state.NetworkContext.ChainID)
		fmt.Printf("nonce:        %d\n", state.Nonce)
		fmt.Printf("merkle root:  %x\n", state.MerkleRoot)
		fmt.Printf("in dispute:   %t\n", state.InDispute)
		for i, asset := range state.AssetIds {
			fmt.Printf("asset[%d]:     %s balance=(%s, %s) depositsA=%s depositsB=%s defundNonce=%d\n",
				i, asset.Hex(), state.Balances[i].Amount[0], state.Balances[i].Amount[1],
				state.ProcessedDepositsA[i], state.ProcessedDepositsB[i], state.DefundNonces[i])
		}
		if state.LatestUpdate != nil {
			fmt.Printf("latest update: type=%s nonce=%d double-signed=%t\n",
				state.LatestUpdate.Type, state.LatestUpdate.Nonce, state.LatestUpdate.DoubleSigned())
		}
		return nil
	},
}

var transfersCommand = cli.Command{
	Name:      "transfers",
	Usage:     "list a channel's active transfers",
	ArgsUsage: "<channel-address>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "all", Usage: "include resolved transfers, not just active ones"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("expected exactly one channel address argument", 1)
		}
		store, err := openStore(c)
		if err != nil {
			return err
		}
		defer store.Close()

		addr := common.HexToAddress(c.Args().Get(0))
		transfers, err := store.GetTransfers(chandb.TransferFilter{
			ChannelAddress: addr,
			ActiveOnly:     !c.Bool("all"),
		})
		if err != nil {
			return err
		}
		if len(transfers) == 0 {
			fmt.Println("no transfers found")
			return nil
		}
		for _, t := range transfers {
			fmt.Printf("%x  asset=%s  definition=%s  balance=(%s, %s)  active=%t\n",
				t.TransferID, t.AssetID.Hex(), t.TransferDefinition.Hex(),
				t.Balance.Amount[0], t.Balance.Amount[1], t.Active())
		}
		return nil
	},
}

var withdrawalCommand = cli.Command{
	Name:      "withdrawal",
	Usage:     "print a withdrawal commitment and its on-chain record",
	ArgsUsage: "<transfer-id-hex>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("expected exactly one transfer id argument", 1)
		}
		store, err := openStore(c)
		if err != nil {
			return err
		}
		defer store.Close()

		var transferID [32]byte
		n := copy(transferID[:], common.FromHex(c.Args().Get(0)))
		if n != 32 {
			return cli.NewExitError("transfer id must be a 32-byte hex string", 1)
		}

		commitment, err := store.GetWithdrawalCommitment(transferID)
		if err != nil {
			return err
		}
		if commitment == nil {
			return cli.NewExitError("no withdrawal commitment found for that transfer", 1)
		}

		fmt.Printf("channel:    %s\n", commitment.ChannelAddress.Hex())
		fmt.Printf("recipient:  %s\n", commitment.Recipient.Hex())
		fmt.Printf("asset:      %s\n", commitment.AssetID.Hex())
		fmt.Printf("amount:     %s\n", commitment.Amount)
		fmt.Printf("nonce:      %d\n", commitment.Nonce)
		return nil
	},
}
