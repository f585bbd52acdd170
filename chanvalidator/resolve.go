package chanvalidator

import (
	"context"
	"math/big"

	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chainreader"
	"github.com/decred/dcrlnd-statechannel/chanerrors"
	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// applyResolve implements spec §4.1.2 "resolve": the referenced transfer
// must be active, its resolver must decode under TransferEncodings[1], the
// on-chain resolve() predicate must return a Balance whose amount sums to
// the transfer's locked balance, and an empty resolver is the explicit
// cooperative-cancellation path (balances revert to the initiator).
func applyResolve(ctx context.Context, chain chainreader.ChainReader, prev *chanstate.ChannelState,
	activeTransfers []*chanstate.Transfer, params ResolveParams) (
	*chanstate.ChannelState, *chanstate.ChannelUpdate, *chanstate.Transfer, []*chanstate.Transfer, error) {

	transferIdx := -1
	for i, t := range activeTransfers {
		if t.TransferID == params.TransferID {
			transferIdx = i
			break
		}
	}
	if transferIdx < 0 {
		return nil, nil, nil, nil, chanerrors.New(
			chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"applyResolve", errors.New("referenced transfer is not active"))
	}
	transfer := activeTransfers[transferIdx]

	var resolvedBalance *chanstate.Balance
	if len(params.TransferResolver) == 0 {
		// Cooperative cancellation: balances revert to the initiator
		// (spec §4.1.2: "empty resolver is explicitly allowed ...
		// balances revert to initiator").
		resolvedBalance = &chanstate.Balance{
			To:     transfer.Balance.To,
			Amount: [2]*big.Int{big.NewInt(0), big.NewInt(0)},
		}
		for i, to := range resolvedBalance.To {
			if to == transfer.Initiator {
				resolvedBalance.Amount[i] = new(big.Int).Set(transfer.Balance.Sum())
			}
		}
	} else {
		if _, err := encodeStructuredPayload(transfer.TransferEncodings[1], params.TransferResolver); err != nil {
			return nil, nil, nil, nil, chanerrors.New(
				chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
				"applyResolve", errors.WithMessage(err, "resolver does not decode under transfer's resolver encoding"))
		}

		transferCopy := *transfer
		transferCopy.TransferResolver = params.TransferResolver

		var err error
		resolvedBalance, err = chain.Resolve(ctx, &transferCopy, prev.NetworkContext.ChainID)
		if err != nil {
			return nil, nil, nil, nil, errors.WithMessage(err, "simulating resolve predicate")
		}

		if resolvedBalance.Sum().Cmp(transfer.Balance.Sum()) != 0 {
			return nil, nil, nil, nil, chanerrors.New(
				chanerrors.CategoryValidation, chanerrors.ReasonInvalidResolve,
				"applyResolve", errors.Errorf(
					"resolver returned balance summing to %s, transfer locked %s",
					resolvedBalance.Sum(), transfer.Balance.Sum()))
		}
	}

	idx := prev.AssetIndex(transfer.AssetID)
	if idx < 0 {
		return nil, nil, nil, nil, chanerrors.New(
			chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"applyResolve", errors.New("transfer's asset is not tracked on this channel"))
	}

	// Credit by address, not by transfer-initiator order (spec §8
	// boundary cases): the resolver's Balance.To tells us which channel
	// side (alice or bob) each amount belongs to, independent of who
	// created the transfer.
	next := prev.Clone()
	next.Nonce = prev.Nonce + 1
	for i, to := range resolvedBalance.To {
		side := aliceOrBobIndex(prev, to)
		if side < 0 {
			return nil, nil, nil, nil, chanerrors.New(
				chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
				"applyResolve", errors.Errorf("resolved balance recipient %s is not a channel participant", to.Hex()))
		}
		next.Balances[idx].Amount[side] = new(big.Int).Add(
			next.Balances[idx].Amount[side], resolvedBalance.Amount[i])
	}

	nextActive := make([]*chanstate.Transfer, 0, len(activeTransfers)-1)
	nextActive = append(nextActive, activeTransfers[:transferIdx]...)
	nextActive = append(nextActive, activeTransfers[transferIdx+1:]...)
	next.MerkleRoot = merkleRootOf(nextActive)

	resolvedTransfer := *transfer
	resolvedTransfer.TransferResolver = params.TransferResolver

	update := &chanstate.ChannelUpdate{
		ChannelAddress: prev.ChannelAddress,
		Type:           chanstate.UpdateResolve,
		Nonce:          next.Nonce,
		Balance:        next.Balances[idx],
		AssetID:        transfer.AssetID,
		Details: chanstate.ResolveDetails{
			TransferID:         params.TransferID,
			TransferDefinition: transfer.TransferDefinition,
			TransferResolver:   params.TransferResolver,
			MerkleRoot:         next.MerkleRoot,
		},
	}

	return next, update, &resolvedTransfer, nextActive, nil
}
