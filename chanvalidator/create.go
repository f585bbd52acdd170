package chanvalidator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chainreader"
	"github.com/decred/dcrlnd-statechannel/chanerrors"
	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// applyCreate implements spec §4.1.2 "create": validates the proposed
// transfer against the channel's timeout, the transfer registry, the
// initiator's available balance, and the on-chain create() predicate, then
// derives the next channel state with the transfer added to the active set
// and its balance deducted from the initiator's side.
func applyCreate(ctx context.Context, chain chainreader.ChainReader, prev *chanstate.ChannelState,
	activeTransfers []*chanstate.Transfer, initiator common.Address, params CreateParams) (
	*chanstate.ChannelState, *chanstate.ChannelUpdate, *chanstate.Transfer, []*chanstate.Transfer, error) {

	if params.TransferTimeout > prev.Timeout {
		return nil, nil, nil, nil, chanerrors.New(
			chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"applyCreate",
			errors.Errorf("transfer timeout %d exceeds channel timeout %d",
				params.TransferTimeout, prev.Timeout),
		)
	}

	registered, err := chain.GetRegisteredTransferByDefinition(
		ctx, params.TransferDefinition, prev.NetworkContext.TransferRegistryAddress, prev.NetworkContext.ChainID)
	if err != nil {
		return nil, nil, nil, nil, chanerrors.New(
			chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"applyCreate", errors.WithMessage(err, "transfer definition not registered"))
	}

	idx := prev.AssetIndex(params.AssetID)
	if idx < 0 {
		return nil, nil, nil, nil, chanerrors.New(
			chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"applyCreate", errors.Errorf("asset %s has no balance on this channel", params.AssetID.Hex()))
	}

	initiatorSide := aliceOrBobIndex(prev, initiator)
	if initiatorSide < 0 {
		return nil, nil, nil, nil, chanerrors.New(
			chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"applyCreate", errors.New("initiator is not a channel participant"))
	}

	transferSum := params.InitialBalance.Sum()
	if transferSum.Cmp(prev.Balances[idx].Amount[initiatorSide]) > 0 {
		return nil, nil, nil, nil, chanerrors.New(
			chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"applyCreate", errors.Errorf(
				"transfer amount %s exceeds initiator's balance %s",
				transferSum, prev.Balances[idx].Amount[initiatorSide]))
	}

	initialStateHash, err := HashTransferInitialState(params.TransferEncodings[0], params.TransferInitialState)
	if err != nil {
		return nil, nil, nil, nil, chanerrors.New(
			chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"applyCreate", errors.WithMessage(err, "hashing transfer initial state"))
	}

	encodedState, err := encodeStructuredPayload(registered.StateEncoding, params.TransferInitialState)
	if err != nil {
		return nil, nil, nil, nil, chanerrors.New(
			chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"applyCreate", errors.WithMessage(err, "encoding transfer state for simulation"))
	}

	ok, err := chain.Create(ctx, encodedState, params.InitialBalance,
		params.TransferDefinition, prev.NetworkContext.TransferRegistryAddress, prev.NetworkContext.ChainID)
	if err != nil {
		return nil, nil, nil, nil, errors.WithMessage(err, "simulating create predicate")
	}
	if !ok {
		return nil, nil, nil, nil, chanerrors.New(
			chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"applyCreate", errors.New("on-chain create predicate returned false"))
	}

	var transferID [32]byte
	copy(transferID[:], chanCryptoRandomID())

	transfer := &chanstate.Transfer{
		TransferID:            transferID,
		ChannelAddress:        prev.ChannelAddress,
		ChainID:               prev.NetworkContext.ChainID,
		ChannelFactoryAddress: prev.NetworkContext.ChannelFactoryAddress,
		Initiator:             initiator,
		Responder:             otherParty(prev, initiator),
		ChannelNonce:          prev.Nonce,
		TransferDefinition:    params.TransferDefinition,
		TransferEncodings:     params.TransferEncodings,
		Balance:               params.InitialBalance,
		AssetID:               params.AssetID,
		TransferTimeout:       params.TransferTimeout,
		InitialStateHash:      initialStateHash,
		TransferState:         params.TransferInitialState,
		Meta:                  params.Meta,
	}

	nextActive := append(append([]*chanstate.Transfer(nil), activeTransfers...), transfer)

	next := prev.Clone()
	next.Nonce = prev.Nonce + 1
	next.Balances[idx].Amount[initiatorSide] = new(big.Int).Sub(
		next.Balances[idx].Amount[initiatorSide], transferSum)
	next.MerkleRoot = merkleRootOf(nextActive)

	update := &chanstate.ChannelUpdate{
		ChannelAddress: prev.ChannelAddress,
		Type:           chanstate.UpdateCreate,
		Nonce:          next.Nonce,
		Balance:        next.Balances[idx],
		AssetID:        params.AssetID,
		Details: chanstate.CreateDetails{
			TransferID:           transferID,
			Balance:              params.InitialBalance,
			TransferDefinition:   params.TransferDefinition,
			TransferTimeout:      params.TransferTimeout,
			TransferInitialState: params.TransferInitialState,
			TransferEncodings:    params.TransferEncodings,
			MerkleRoot:           next.MerkleRoot,
			Meta:                 params.Meta,
		},
	}

	return next, update, transfer, nextActive, nil
}

func merkleRootOf(transfers []*chanstate.Transfer) [32]byte {
	hashes := make([][32]byte, 0, len(transfers))
	for _, t := range transfers {
		hashes = append(hashes, t.InitialStateHash)
	}
	return MerkleRoot(hashes)
}

func aliceOrBobIndex(c *chanstate.ChannelState, party common.Address) int {
	switch party {
	case c.Alice:
		return 0
	case c.Bob:
		return 1
	default:
		return -1
	}
}

func otherParty(c *chanstate.ChannelState, party common.Address) common.Address {
	if party == c.Alice {
		return c.Bob
	}
	return c.Alice
}
