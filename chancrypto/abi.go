package chancrypto

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// abiType builds an abi.Type or panics; used only for the small fixed set
// of primitive types this package ever ABI-encodes, so a panic here would
// mean a programmer error in this file, not bad input.
func abiType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(errors.Wrapf(err, "chancrypto: invalid abi type %q", t))
	}
	return typ
}

var (
	typeAddress   = abiType("address")
	typeUint256   = abiType("uint256")
	typeBytes32   = abiType("bytes32")
	typeAddresses = abiType("address[]")
	typeUint256s  = abiType("uint256[]")
	typeBytes32s  = abiType("bytes32[]")
	typeBytes     = abiType("bytes")
	typeString    = abiType("string")
)

// EncodePacked ABI-encodes the given values against a matching sequence of
// Solidity-style type strings (e.g. "address", "uint256", "bytes32",
// "address[]"), the "ABI-style encoding" spec §4.1.5/§6 calls for on
// channel commitments, transfer initial-state hashes, and withdrawal
// commitments.
//
// This intentionally does not attempt to express arbitrary Solidity tuples;
// every caller in this module flattens its fields to the primitive types
// above before calling EncodePacked, mirroring how the transfer-definition
// ABI itself is just a flat list of typed fields (spec: "transferEncodings
// = [stateEncoding, resolverEncoding]").
func EncodePacked(types []string, values []interface{}) ([]byte, error) {
	if len(types) != len(values) {
		return nil, errors.Errorf(
			"chancrypto: %d types but %d values", len(types), len(values))
	}

	args := make(abi.Arguments, len(types))
	for i, t := range types {
		var typ abi.Type
		switch t {
		case "address":
			typ = typeAddress
		case "uint256":
			typ = typeUint256
		case "bytes32":
			typ = typeBytes32
		case "address[]":
			typ = typeAddresses
		case "uint256[]":
			typ = typeUint256s
		case "bytes32[]":
			typ = typeBytes32s
		case "bytes":
			typ = typeBytes
		case "string":
			typ = typeString
		default:
			var err error
			typ, err = abi.NewType(t, "", nil)
			if err != nil {
				return nil, errors.Wrapf(err, "chancrypto: unsupported abi type %q", t)
			}
		}
		args[i] = abi.Argument{Type: typ}
	}

	return args.Pack(values...)
}

// AddressesFrom is a no-op that returns addrs unchanged;
// abi.Arguments.Pack accepts []common.Address directly for "address[]".
func AddressesFrom(addrs []common.Address) []common.Address {
	return addrs
}

// BigIntsFrom is a convenience no-op retained for symmetry with
// AddressesFrom/Bytes32sFrom; abi.Arguments.Pack accepts []*big.Int
// directly for "uint256[]".
func BigIntsFrom(ints []*big.Int) []*big.Int {
	return ints
}

// Bytes32sFrom converts a [][32]byte to the fixed-array slice shape
// abi.Arguments.Pack expects for "bytes32[]".
func Bytes32sFrom(hashes [][32]byte) [][32]byte {
	return hashes
}
