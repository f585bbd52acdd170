package chanvalidator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chainreader"
	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// reconcileDeposit performs the deposit reconciliation from spec §4.1.3:
//
//	totalA   = chainReader.totalDepositsAlice(channel, chain, asset)
//	totalB   = chainReader.totalDepositsBob(channel, chain, asset)
//	pendingA = totalA - processedDepositsA[asset]
//	pendingB = totalB - processedDepositsB[asset]
//	newBalance[0] = existingBalance[0] + pendingA
//	newBalance[1] = existingBalance[1] + pendingB
//
// The "channel not yet deployed" policy (totalA=0, totalB=on-chain channel
// balance) lives inside the ChainReader implementation itself
// (chainreader.EthReader.GetTotalDepositsBob), not here, since it depends
// on GetCode - a chain fact this function has no other reason to read.
func reconcileDeposit(ctx context.Context, chain chainreader.ChainReader, c *chanstate.ChannelState,
	assetID common.Address) (newBalance chanstate.Balance, totalA, totalB *big.Int, err error) {

	idx := c.AssetIndex(assetID)

	var existing chanstate.Balance
	var processedA, processedB *big.Int
	if idx >= 0 {
		existing = c.Balances[idx].Clone()
		processedA = new(big.Int).Set(c.ProcessedDepositsA[idx])
		processedB = new(big.Int).Set(c.ProcessedDepositsB[idx])
	} else {
		existing = chanstate.Balance{
			To:     [2]common.Address{c.Alice, c.Bob},
			Amount: [2]*big.Int{big.NewInt(0), big.NewInt(0)},
		}
		processedA = big.NewInt(0)
		processedB = big.NewInt(0)
	}

	totalA, err = chain.GetTotalDepositsAlice(ctx, c.ChannelAddress, c.NetworkContext.ChainID, assetID)
	if err != nil {
		return chanstate.Balance{}, nil, nil, errors.WithMessage(err, "reading total alice deposits")
	}
	totalB, err = chain.GetTotalDepositsBob(ctx, c.ChannelAddress, c.NetworkContext.ChainID, assetID)
	if err != nil {
		return chanstate.Balance{}, nil, nil, errors.WithMessage(err, "reading total bob deposits")
	}

	pendingA := new(big.Int).Sub(totalA, processedA)
	pendingB := new(big.Int).Sub(totalB, processedB)

	newBalance = chanstate.Balance{
		To: [2]common.Address{c.Alice, c.Bob},
		Amount: [2]*big.Int{
			new(big.Int).Add(existing.Amount[0], pendingA),
			new(big.Int).Add(existing.Amount[1], pendingB),
		},
	}

	return newBalance, totalA, totalB, nil
}

// applyDeposit derives the next channel state for spec §4.1.2 "deposit".
// merkleRoot is unchanged; processedDeposits[asset] become the new
// cumulative totals; nonce increments.
func applyDeposit(ctx context.Context, chain chainreader.ChainReader, prev *chanstate.ChannelState,
	params DepositParams) (*chanstate.ChannelState, *chanstate.ChannelUpdate, error) {

	next := prev.Clone()

	newBalance, totalA, totalB, err := reconcileDeposit(ctx, chain, prev, params.AssetID)
	if err != nil {
		return nil, nil, err
	}

	idx := next.AssetIndex(params.AssetID)
	if idx < 0 {
		next.AssetIds = append(next.AssetIds, params.AssetID)
		next.Balances = append(next.Balances, newBalance)
		next.ProcessedDepositsA = append(next.ProcessedDepositsA, new(big.Int).Set(totalA))
		next.ProcessedDepositsB = append(next.ProcessedDepositsB, new(big.Int).Set(totalB))
		next.DefundNonces = append(next.DefundNonces, 0)
	} else {
		next.Balances[idx] = newBalance
		next.ProcessedDepositsA[idx] = new(big.Int).Set(totalA)
		next.ProcessedDepositsB[idx] = new(big.Int).Set(totalB)
	}

	next.Nonce = prev.Nonce + 1

	update := &chanstate.ChannelUpdate{
		ChannelAddress: prev.ChannelAddress,
		Type:           chanstate.UpdateDeposit,
		Nonce:          next.Nonce,
		Balance:        newBalance,
		AssetID:        params.AssetID,
		Details: chanstate.DepositDetails{
			TotalDepositsAlice: totalA,
			TotalDepositsBob:   totalB,
			Meta:               params.Meta,
		},
	}

	return next, update, nil
}
