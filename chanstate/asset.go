package chanstate

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAssetIDs merges duplicate asset ids that differ only in casing
// (spec §4.1.4): amounts and processed-deposit totals are summed, the
// defund nonce becomes the max, and the result carries a single
// deduplicated, checksummed entry per asset, in first-seen order.
//
// common.Address is already a fixed 20-byte array, so two differently-cased
// hex strings for the same account compare equal once parsed into it; the
// merge this function performs is for callers that stored AssetIds as
// strings upstream of this model and handed us duplicates before they were
// parsed. It is idempotent: a channel with no duplicates round-trips
// unchanged.
func NormalizeAssetIDs(c *ChannelState) *ChannelState {
	seen := make(map[common.Address]int, len(c.AssetIds))
	out := c.Clone()
	out.AssetIds = out.AssetIds[:0]
	out.Balances = out.Balances[:0]
	out.ProcessedDepositsA = out.ProcessedDepositsA[:0]
	out.ProcessedDepositsB = out.ProcessedDepositsB[:0]
	out.DefundNonces = out.DefundNonces[:0]

	for i, asset := range c.AssetIds {
		if idx, ok := seen[asset]; ok {
			out.Balances[idx].Amount[0].Add(out.Balances[idx].Amount[0], c.Balances[i].Amount[0])
			out.Balances[idx].Amount[1].Add(out.Balances[idx].Amount[1], c.Balances[i].Amount[1])
			out.ProcessedDepositsA[idx].Add(out.ProcessedDepositsA[idx], c.ProcessedDepositsA[i])
			out.ProcessedDepositsB[idx].Add(out.ProcessedDepositsB[idx], c.ProcessedDepositsB[i])
			if c.DefundNonces[i] > out.DefundNonces[idx] {
				out.DefundNonces[idx] = c.DefundNonces[i]
			}
			continue
		}

		seen[asset] = len(out.AssetIds)
		out.AssetIds = append(out.AssetIds, asset)
		out.Balances = append(out.Balances, c.Balances[i].Clone())
		out.ProcessedDepositsA = append(out.ProcessedDepositsA, new(big.Int).Set(c.ProcessedDepositsA[i]))
		out.ProcessedDepositsB = append(out.ProcessedDepositsB, new(big.Int).Set(c.ProcessedDepositsB[i]))
		out.DefundNonces = append(out.DefundNonces, c.DefundNonces[i])
	}

	return out
}

// HasDuplicateAssetIDs reports whether c.AssetIds contains the same address
// more than once. Used by the validator to decide whether the one-time
// migration in NormalizeAssetIDs needs to run.
func HasDuplicateAssetIDs(c *ChannelState) bool {
	seen := make(map[common.Address]struct{}, len(c.AssetIds))
	for _, a := range c.AssetIds {
		if _, ok := seen[a]; ok {
			return true
		}
		seen[a] = struct{}{}
	}
	return false
}
