package chanvalidator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/decred/dcrlnd-statechannel/chancrypto"
	"github.com/decred/dcrlnd-statechannel/chanerrors"
)

func sampleWithdrawCommitment(t *testing.T, alice, bob common.Address) *WithdrawCommitment {
	t.Helper()
	return &WithdrawCommitment{
		ChannelAddress: common.HexToAddress("0xc4a4"),
		Alice:          alice,
		Bob:            bob,
		Recipient:      bob,
		AssetID:        common.HexToAddress("0xdead"),
		Amount:         big.NewInt(500),
		Nonce:          1,
		CallTo:         common.HexToAddress("0xca11"),
		CallData:       []byte{0x01, 0x02},
	}
}

func TestWithdrawCommitmentHashDeterministic(t *testing.T) {
	alice, bob := newTestKey(t), newTestKey(t)
	w := sampleWithdrawCommitment(t, chancrypto.NewSigner(alice).Address(), chancrypto.NewSigner(bob).Address())

	h1, err := w.Hash()
	require.NoError(t, err)
	h2, err := w.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestWithdrawCommitmentHashSensitiveToAmount(t *testing.T) {
	alice, bob := newTestKey(t), newTestKey(t)
	w := sampleWithdrawCommitment(t, chancrypto.NewSigner(alice).Address(), chancrypto.NewSigner(bob).Address())

	h1, err := w.Hash()
	require.NoError(t, err)

	w.Amount = big.NewInt(501)
	h2, err := w.Hash()
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
}

func TestWithdrawCommitmentSignAndVerifyBilateral(t *testing.T) {
	aliceKey, bobKey := newTestKey(t), newTestKey(t)
	aliceSigner := chancrypto.NewSigner(aliceKey)
	bobSigner := chancrypto.NewSigner(bobKey)

	w := sampleWithdrawCommitment(t, aliceSigner.Address(), bobSigner.Address())

	require.NoError(t, w.Sign(aliceSigner))
	require.NoError(t, w.Sign(bobSigner))

	require.NoError(t, w.VerifyBilateral())
}

func TestWithdrawCommitmentVerifyBilateralRejectsMissingSignature(t *testing.T) {
	aliceKey, bobKey := newTestKey(t), newTestKey(t)
	aliceSigner := chancrypto.NewSigner(aliceKey)
	bobSigner := chancrypto.NewSigner(bobKey)

	w := sampleWithdrawCommitment(t, aliceSigner.Address(), bobSigner.Address())
	require.NoError(t, w.Sign(aliceSigner))

	err := w.VerifyBilateral()
	require.ErrorIs(t, err, chanerrors.ErrBadSignatures)
}

func TestWithdrawCommitmentSignRejectsNonParty(t *testing.T) {
	aliceKey, bobKey, strangerKey := newTestKey(t), newTestKey(t), newTestKey(t)
	w := sampleWithdrawCommitment(t, chancrypto.NewSigner(aliceKey).Address(), chancrypto.NewSigner(bobKey).Address())

	err := w.Sign(chancrypto.NewSigner(strangerKey))
	require.Error(t, err)
}
