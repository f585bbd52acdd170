package chancrypto

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Signer signs a 32-byte digest. One per participant; the update engine
// holds exactly one (its own) and never sees the counterparty's.
//
// Modeled on the teacher's mockSigner.SignOutputRaw shape in mock.go: given
// a digest (there, a sighash; here, the commitment hash H(S)), produce a
// signature with the participant's private key.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner wraps an existing ECDSA private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// Address returns the signer's own account address.
func (s *Signer) Address() [20]byte {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Sign produces a 65-byte recoverable signature (r || s || v) over digest,
// the format every ChannelUpdate.AliceSignature/BobSignature field uses.
func (s *Signer) Sign(digest [32]byte) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, errors.WithMessage(err, "signing commitment digest")
	}
	return sig, nil
}

// Verify checks that sig is a valid signature over digest by the holder of
// pubAddress. Used both for verifying the counterparty's countersignature
// (spec §4.2 step 6) and for verifying the sender's signature on an inbound
// update (spec §4.3 step 4).
func Verify(digest [32]byte, sig []byte, expected [20]byte) (bool, error) {
	if len(sig) != 65 {
		return false, errors.Errorf("chancrypto: signature must be 65 bytes, got %d", len(sig))
	}

	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return false, errors.WithMessage(err, "recovering public key from signature")
	}

	recovered := crypto.PubkeyToAddress(*pub)
	return recovered == expected, nil
}

// RecoverAddress recovers the signer address from a digest+signature pair
// without an expected address to compare against, used when the engine
// doesn't yet know which of the two participants produced a signature.
func RecoverAddress(digest [32]byte, sig []byte) ([20]byte, error) {
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return [20]byte{}, errors.WithMessage(err, "recovering public key from signature")
	}
	return crypto.PubkeyToAddress(*pub), nil
}
