// Package chancrypto implements the cryptographic primitives the update
// engine depends on: channel-address derivation, the commitment hash
// H(S) = keccak(abi.encode(core(S))), and ECDSA signing/verification over
// that hash (spec §4.1.5).
package chancrypto

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Checksum returns the EIP-55 checksummed hex form of addr, the "canonical"
// representation spec §4.1.4 requires every stored asset id (and every
// other address) to use.
func Checksum(addr common.Address) string {
	return addr.Hex()
}

// DeriveChannelAddress computes the deterministic channel address from
// (alice, bob, factory), spec §4.1.2's "factory's deterministic address
// derivation". Modeled on CREATE2: keccak(0xff ++ factory ++ salt ++
// initCodeHash)[12:], with the salt derived from the two participant
// addresses so the same pair always gets the same channel address
// regardless of who initiates setup.
func DeriveChannelAddress(alice, bob, factory common.Address) common.Address {
	salt := crypto.Keccak256Hash(alice.Bytes(), bob.Bytes())
	// A proxy-init-code hash placeholder: the real value is whatever
	// bytecode hash the on-chain factory uses for its minimal proxy. The
	// core here doesn't deploy contracts (that's explicitly out of scope,
	// spec §1), so this is a pure function of its inputs and is only
	// required to be deterministic and collision-resistant for a fixed
	// factory.
	var initCodeHash common.Hash
	copy(initCodeHash[:], crypto.Keccak256(factory.Bytes(), []byte("channel-mastercopy")))

	data := make([]byte, 0, 1+20+32+32)
	data = append(data, 0xff)
	data = append(data, factory.Bytes()...)
	data = append(data, salt.Bytes()...)
	data = append(data, initCodeHash.Bytes()...)

	return common.BytesToAddress(crypto.Keccak256(data)[12:])
}

// Keccak256 re-exports go-ethereum's Keccak256 so callers elsewhere in this
// module never need to import go-ethereum/crypto directly just for hashing.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// Keccak256Hash is the common.Hash-returning variant of Keccak256.
func Keccak256Hash(data ...[]byte) common.Hash {
	return crypto.Keccak256Hash(data...)
}

// PublicKeyToAddress derives the 20-byte account address from an
// uncompressed secp256k1 public key, as go-ethereum's accounts do.
func PublicKeyToAddress(pub []byte) (common.Address, error) {
	pubKey, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
