package chandb

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/decred/dcrlnd-statechannel/chanstate"
	"github.com/decred/dcrlnd-statechannel/chanvalidator"
)

func openTestStore(t *testing.T) *LevelStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "chaneng.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestLevelStoreSaveAndGetChannelState(t *testing.T) {
	store := openTestStore(t)
	state := sampleChannelState()

	require.NoError(t, store.SaveChannelState(state, nil))

	got, err := store.GetChannelState(state.ChannelAddress)
	require.NoError(t, err)
	require.Equal(t, state.Nonce, got.Nonce)

	byParts, err := store.GetChannelStateByParticipants(state.AliceIdentifier, state.BobIdentifier, state.NetworkContext.ChainID)
	require.NoError(t, err)
	require.Equal(t, state.ChannelAddress, byParts.ChannelAddress)
}

func TestLevelStoreGetChannelStateNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetChannelState(common.HexToAddress("0xdeadbeef"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLevelStoreSaveChannelStateWithTransferUpdatesActiveIndex(t *testing.T) {
	store := openTestStore(t)
	state := sampleChannelState()
	transfer := sampleTransfer()
	transfer.ChannelAddress = state.ChannelAddress

	require.NoError(t, store.SaveChannelState(state, transfer))

	active, err := store.GetActiveTransfers(state.ChannelAddress)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, transfer.TransferID, active[0].TransferID)

	// Resolve the transfer: it must drop out of the active index but still
	// be retrievable directly.
	transfer.TransferResolver = chanstate.TransferResolver{"preimage": [32]byte{1}}
	require.NoError(t, store.SaveChannelState(state, transfer))

	active, err = store.GetActiveTransfers(state.ChannelAddress)
	require.NoError(t, err)
	require.Len(t, active, 0)

	got, err := store.GetTransferState(transfer.TransferID)
	require.NoError(t, err)
	require.False(t, got.Active())
}

func TestLevelStoreSaveChannelStateAndTransfersReplacesActiveSet(t *testing.T) {
	store := openTestStore(t)
	state := sampleChannelState()

	t1 := sampleTransfer()
	t1.TransferID = [32]byte{1}
	t1.ChannelAddress = state.ChannelAddress
	t2 := sampleTransfer()
	t2.TransferID = [32]byte{2}
	t2.ChannelAddress = state.ChannelAddress

	require.NoError(t, store.SaveChannelStateAndTransfers(state, []*chanstate.Transfer{t1, t2}))

	active, err := store.GetActiveTransfers(state.ChannelAddress)
	require.NoError(t, err)
	require.Len(t, active, 2)

	// Replacing again with only one of the two drops the other from the
	// active index entirely.
	require.NoError(t, store.SaveChannelStateAndTransfers(state, []*chanstate.Transfer{t1}))
	active, err = store.GetActiveTransfers(state.ChannelAddress)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, t1.TransferID, active[0].TransferID)
}

func TestLevelStoreTransactionLifecycle(t *testing.T) {
	store := openTestStore(t)
	hash := common.HexToHash("0x1234")
	channel := common.HexToAddress("0xc4a4")

	require.NoError(t, store.SaveTransactionResponse(&TransactionRecord{
		Hash:           hash,
		ChannelAddress: channel,
		Status:         TxStatusSubmitted,
	}))

	require.NoError(t, store.SaveTransactionReceipt(hash, 42, 21000))

	record, err := store.getTxRecord(hash)
	require.NoError(t, err)
	require.Equal(t, TxStatusMined, record.Status)
	require.EqualValues(t, 42, record.BlockNumber)
	require.EqualValues(t, 21000, record.GasUsed)
}

func TestLevelStoreTransactionFailure(t *testing.T) {
	store := openTestStore(t)
	hash := common.HexToHash("0x5678")

	require.NoError(t, store.SaveTransactionResponse(&TransactionRecord{
		Hash:   hash,
		Status: TxStatusSubmitted,
	}))
	require.NoError(t, store.SaveTransactionFailure(hash, "execution reverted"))

	record, err := store.getTxRecord(hash)
	require.NoError(t, err)
	require.Equal(t, TxStatusFailed, record.Status)
	require.Equal(t, "execution reverted", record.Reason)
}

func TestLevelStoreWithdrawalCommitmentRoundTrip(t *testing.T) {
	store := openTestStore(t)
	transferID := [32]byte{9, 9}
	commitment := &chanvalidator.WithdrawCommitment{
		ChannelAddress: common.HexToAddress("0xc4a4"),
		Recipient:      common.HexToAddress("0xb0b0"),
		AssetID:        common.HexToAddress("0xdead"),
		Amount:         big.NewInt(1),
		Nonce:          1,
	}

	require.NoError(t, store.SaveWithdrawalCommitment(transferID, commitment))

	got, err := store.GetWithdrawalCommitment(transferID)
	require.NoError(t, err)
	require.Equal(t, commitment.Recipient, got.Recipient)

	_, err = store.GetWithdrawalCommitment([32]byte{1, 1, 1})
	require.ErrorIs(t, err, ErrNotFound)
}
