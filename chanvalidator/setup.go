package chanvalidator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chancrypto"
	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// applySetup builds the genesis channel state for spec §4.1.2 "setup".
// Fails only if Alice and Bob are the same address. Comparing the derived
// channel address against a proposed one, and checking that no channel
// state is already stored at that address (spec §4.1.1 rule 1), are left
// to the caller.
func applySetup(params SetupParams) (*chanstate.ChannelState, error) {
	if params.Alice == params.Bob {
		return nil, errors.New("chanvalidator: setup requires two distinct participants")
	}

	channelAddress := chancrypto.DeriveChannelAddress(
		params.Alice, params.Bob, params.NetworkContext.ChannelFactoryAddress)

	state := &chanstate.ChannelState{
		ChannelAddress:  channelAddress,
		Alice:           params.Alice,
		Bob:             params.Bob,
		AliceIdentifier: params.AliceIdentifier,
		BobIdentifier:   params.BobIdentifier,
		NetworkContext:  params.NetworkContext,
		Nonce:           1,

		AssetIds:           nil,
		Balances:           nil,
		ProcessedDepositsA: nil,
		ProcessedDepositsB: nil,
		DefundNonces:       nil,

		MerkleRoot: [32]byte{},
		Timeout:    params.Timeout,
	}

	return state, nil
}

func setupUpdate(state *chanstate.ChannelState, fromID, toID string, params SetupParams) *chanstate.ChannelUpdate {
	return &chanstate.ChannelUpdate{
		ChannelAddress: state.ChannelAddress,
		FromIdentifier: fromID,
		ToIdentifier:   toID,
		Type:           chanstate.UpdateSetup,
		Nonce:          state.Nonce,
		Balance: chanstate.Balance{
			To:     [2]common.Address{params.Alice, params.Bob},
			Amount: [2]*big.Int{big.NewInt(0), big.NewInt(0)},
		},
		Details: chanstate.SetupDetails{
			NetworkContext: params.NetworkContext,
			Timeout:        params.Timeout,
			Meta:           params.Meta,
		},
	}
}
