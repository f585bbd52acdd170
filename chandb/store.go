// Package chandb implements the durable Store interface spec §6 names:
// channels, transfers (active and historical), and withdrawal commitments,
// plus the transaction-lifecycle bookkeeping §5's tx queue needs.
package chandb

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/decred/dcrlnd-statechannel/chanstate"
	"github.com/decred/dcrlnd-statechannel/chanvalidator"
)

// TransferFilter narrows GetTransfers to a subset, per spec §6
// "getTransfers(filter) -> [Transfer]". A zero-value filter matches every
// stored transfer, across all channels.
type TransferFilter struct {
	ChannelAddress common.Address
	TransferID     *[32]byte
	AssetID        *common.Address
	ActiveOnly     bool
}

// TransactionStatus is the lifecycle stage a submitted on-chain transaction
// last reported, mirrored into the store by txqueue (spec §5).
type TransactionStatus string

const (
	TxStatusSubmitted TransactionStatus = "submitted"
	TxStatusMined     TransactionStatus = "mined"
	TxStatusFailed    TransactionStatus = "failed"
)

// TransactionRecord is what saveTransactionResponse/Receipt/Failure persist.
type TransactionRecord struct {
	Hash           common.Hash
	ChannelAddress common.Address
	Status         TransactionStatus
	BlockNumber    uint64
	GasUsed        uint64
	Reason         string
}

// Store is the persistence boundary spec §6 names. Every Save* method must
// be atomic at channel scope: a crash mid-write must never leave a channel
// with a newer nonce than its active-transfer set reflects.
type Store interface {
	GetChannelState(channel common.Address) (*chanstate.ChannelState, error)
	GetChannelStateByParticipants(aliceIdentifier, bobIdentifier string, chainID *big.Int) (*chanstate.ChannelState, error)
	GetActiveTransfers(channel common.Address) ([]*chanstate.Transfer, error)
	GetTransferState(transferID [32]byte) (*chanstate.Transfer, error)
	GetTransfers(filter TransferFilter) ([]*chanstate.Transfer, error)

	// SaveChannelState persists state and, if transfer is non-nil, the
	// single transfer that changed (create or resolve of one transfer) in
	// the same atomic write.
	SaveChannelState(state *chanstate.ChannelState, transfer *chanstate.Transfer) error

	// SaveChannelStateAndTransfers atomically replaces the channel's
	// entire active-transfer set, used after a sync (§4.4) where more than
	// one transfer may have changed.
	SaveChannelStateAndTransfers(state *chanstate.ChannelState, activeTransfers []*chanstate.Transfer) error

	SaveWithdrawalCommitment(transferID [32]byte, commitment *chanvalidator.WithdrawCommitment) error
	GetWithdrawalCommitment(transferID [32]byte) (*chanvalidator.WithdrawCommitment, error)
	GetWithdrawalCommitmentByTransactionHash(hash common.Hash) (*chanvalidator.WithdrawCommitment, error)

	// GetWithdrawalTransactionRecord resolves spec §9 Open Question #2:
	// commitment identifies *which* withdrawal, channel identifies *which*
	// contract instance to query - kept as independent parameters since a
	// channel may be migrated to a new contract instance over its life.
	GetWithdrawalTransactionRecord(commitment *chanvalidator.WithdrawCommitment, channel common.Address, chainID *big.Int) (bool, error)

	SaveTransactionResponse(record *TransactionRecord) error
	SaveTransactionReceipt(hash common.Hash, blockNumber, gasUsed uint64) error
	SaveTransactionFailure(hash common.Hash, reason string) error

	Close() error
}

// ErrNotFound is returned by Get* methods when no record exists at the
// requested key, letting callers distinguish "not found" from a store
// failure (spec §7: Store-category errors carry the failing method name;
// "not found" is not itself a failure).
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "chandb: not found" }
