// Package chanvalidator is the heart of the engine: pure functions that
// validate a proposed or received update against the previous channel
// state and produce the next state (spec §4.1).
package chanvalidator

import (
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chancrypto"
	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// HashCoreState computes H(S) = keccak(abi.encode(core(S))), spec §4.1.5.
// core(S) drops NetworkContext and LatestUpdate.Signatures, which is why
// this function never reads c.NetworkContext or the signature fields of
// c.LatestUpdate: the hash must not depend on them (spec's "signature
// commutativity" testable property), only on the durable balances,
// transfers-commitment, and bookkeeping fields.
func HashCoreState(c *chanstate.ChannelState) ([32]byte, error) {
	toAlice := make([]common.Address, len(c.Balances))
	toBob := make([]common.Address, len(c.Balances))
	amtAlice := make([]*big.Int, len(c.Balances))
	amtBob := make([]*big.Int, len(c.Balances))
	for i, b := range c.Balances {
		toAlice[i] = b.To[0]
		toBob[i] = b.To[1]
		amtAlice[i] = b.Amount[0]
		amtBob[i] = b.Amount[1]
	}

	defundNonces := make([]*big.Int, len(c.DefundNonces))
	for i, n := range c.DefundNonces {
		defundNonces[i] = new(big.Int).SetUint64(n)
	}

	encoded, err := chancrypto.EncodePacked(
		[]string{
			"address", "address", "address",
			"uint256",
			"address[]",
			"address[]", "address[]", "uint256[]", "uint256[]",
			"uint256[]", "uint256[]",
			"uint256[]",
			"bytes32",
			"uint256",
		},
		[]interface{}{
			c.ChannelAddress, c.Alice, c.Bob,
			new(big.Int).SetUint64(c.Nonce),
			c.AssetIds,
			toAlice, toBob,
			amtAlice, amtBob,
			c.ProcessedDepositsA,
			c.ProcessedDepositsB,
			defundNonces,
			c.MerkleRoot,
			new(big.Int).SetUint64(c.Timeout),
		},
	)
	if err != nil {
		return [32]byte{}, errors.WithMessage(err, "encoding core channel state")
	}

	return chancrypto.Keccak256Hash(encoded), nil
}

// HashTransferInitialState computes the keccak of the ABI-encoding of a
// transfer's initial state under its declared stateEncoding (spec §4.1.2:
// "initialStateHash is computed by ABI-encoding transferState with
// stateEncoding and hashing").
//
// stateEncoding is a comma-separated "name:type" list, e.g.
// "lockHash:bytes32,expiry:uint256" — the flattened, schema-checked shape
// the redesign guidance calls for in place of dynamically-typed state.
func HashTransferInitialState(stateEncoding string, state chanstate.TransferState) ([32]byte, error) {
	encoded, err := encodeStructuredPayload(stateEncoding, state)
	if err != nil {
		return [32]byte{}, errors.WithMessage(err, "encoding transfer initial state")
	}
	return chancrypto.Keccak256Hash(encoded), nil
}

// encodeStructuredPayload ABI-encodes a payload map against a
// "name:type,name:type" schema string, in declared field order, failing
// closed if any declared field is missing from the payload (the "schema
// check before being passed to the predicate simulator" the redesign
// guidance calls for).
func encodeStructuredPayload(encoding string, payload map[string]interface{}) ([]byte, error) {
	fields := strings.Split(encoding, ",")
	types := make([]string, 0, len(fields))
	values := make([]interface{}, 0, len(fields))

	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		parts := strings.SplitN(f, ":", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("chanvalidator: malformed encoding field %q", f)
		}
		name, typ := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

		v, ok := payload[name]
		if !ok {
			return nil, errors.Errorf("chanvalidator: payload missing field %q required by encoding", name)
		}
		types = append(types, typ)
		values = append(values, v)
	}

	return chancrypto.EncodePacked(types, values)
}

// MerkleRoot computes the root of the ordered hash set of currently-active
// transfers (spec §3/§4.1.2/§4.1.3: "merkle root of the sorted active-
// transfer initial-state hashes"). Transfers with no leaves hash to the
// zero root.
func MerkleRoot(initialStateHashes [][32]byte) [32]byte {
	if len(initialStateHashes) == 0 {
		return [32]byte{}
	}

	sorted := append([][32]byte(nil), initialStateHashes...)
	sort.Slice(sorted, func(i, j int) bool {
		return lessBytes32(sorted[i], sorted[j])
	})

	level := sorted
	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, chancrypto.Keccak256Hash(
				append(append([]byte{}, level[i][:]...), level[i+1][:]...),
			))
		}
		level = next
	}

	return level[0]
}

func lessBytes32(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
