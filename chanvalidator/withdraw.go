package chanvalidator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chancrypto"
	"github.com/decred/dcrlnd-statechannel/chanerrors"
)

// WithdrawCommitment carries the fields spec §4.1.5 names for a withdrawal:
// {channelAddress, alice, bob, recipient, assetId, amount, nonce, callTo,
// callData}. It uses the same hash-and-sign discipline as a channel
// commitment - H(commitment) is signed by both parties before the
// withdrawal can be submitted on-chain (by txqueue).
type WithdrawCommitment struct {
	ChannelAddress common.Address
	Alice          common.Address
	Bob            common.Address
	Recipient      common.Address
	AssetID        common.Address
	Amount         *big.Int
	Nonce          uint64
	CallTo         common.Address
	CallData       []byte

	AliceSignature []byte
	BobSignature   []byte
}

// Hash computes H(commitment) = keccak(abi.encode(commitment)), the digest
// both participants sign (spec §4.1.5: "uses the same hash-and-sign
// discipline" as the channel commitment).
func (w *WithdrawCommitment) Hash() ([32]byte, error) {
	encoded, err := chancrypto.EncodePacked(
		[]string{
			"address", "address", "address", "address", "address",
			"uint256", "uint256", "address", "bytes",
		},
		[]interface{}{
			w.ChannelAddress, w.Alice, w.Bob, w.Recipient, w.AssetID,
			w.Amount, new(big.Int).SetUint64(w.Nonce), w.CallTo, w.CallData,
		},
	)
	if err != nil {
		return [32]byte{}, errors.WithMessage(err, "encoding withdraw commitment")
	}
	return chancrypto.Keccak256Hash(encoded), nil
}

// Sign has signer produce its half of the bilateral signature over
// Hash(), assigning it to whichever of AliceSignature/BobSignature belongs
// to signer's address.
func (w *WithdrawCommitment) Sign(signer *chancrypto.Signer) error {
	digest, err := w.Hash()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return errors.WithMessage(err, "signing withdraw commitment")
	}

	switch signer.Address() {
	case w.Alice:
		w.AliceSignature = sig
	case w.Bob:
		w.BobSignature = sig
	default:
		return errors.New("chanvalidator: signer is not a party to this withdrawal")
	}
	return nil
}

// VerifyBilateral checks that both AliceSignature and BobSignature verify
// against Hash(), the precondition for handing the commitment to txqueue
// for on-chain submission.
func (w *WithdrawCommitment) VerifyBilateral() error {
	digest, err := w.Hash()
	if err != nil {
		return err
	}
	if ok, err := chancrypto.Verify(digest, w.AliceSignature, w.Alice); err != nil || !ok {
		return chanerrors.ErrBadSignatures
	}
	if ok, err := chancrypto.Verify(digest, w.BobSignature, w.Bob); err != nil || !ok {
		return chanerrors.ErrBadSignatures
	}
	return nil
}
