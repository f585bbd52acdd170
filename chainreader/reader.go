// Package chainreader is the read-only view of on-chain facts the core
// validator depends on (spec §4.5): deployed channel code, cumulative
// deposits, registered transfer-definition metadata, and the
// create/resolve predicate simulators.
//
// Its interface shape is modeled on the teacher's
// routing/chainview.FilteredChainView: a small set of blocking read
// methods wrapping a single underlying RPC client, with its own
// reconnect/retry idiom (routing/chainview/dcrd.go,
// chainntnfs/dcrdnotify/dcrd.go).
package chainreader

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// RegisteredTransfer is the transfer-registry entry for one approved
// transfer-definition contract (spec §4.5).
type RegisteredTransfer struct {
	Name               string
	TransferDefinition common.Address
	StateEncoding      string
	ResolverEncoding   string
}

// ChannelDispute mirrors the on-chain dispute record for a channel, or is
// nil if the channel is not currently disputed.
type ChannelDispute struct {
	ChannelAddress common.Address
	Nonce          uint64
	MerkleRoot     [32]byte
	ConsensusExpiry uint64
	DefundExpiry    uint64
}

// ChainReader is the interface the core consumes, enumerated in spec §4.5.
// Every method may fail with a *ChainError; callers wrap calls in the
// bounded retry policy from spec §7 (5 attempts for reads).
type ChainReader interface {
	GetCode(ctx context.Context, address common.Address, chainID *big.Int) ([]byte, error)

	GetTotalDepositsAlice(ctx context.Context, channel common.Address, chainID *big.Int, asset common.Address) (*big.Int, error)
	GetTotalDepositsBob(ctx context.Context, channel common.Address, chainID *big.Int, asset common.Address) (*big.Int, error)

	GetChannelAddress(ctx context.Context, alice, bob, factory common.Address, chainID *big.Int) (common.Address, error)

	GetRegisteredTransferByName(ctx context.Context, name string, registry common.Address, chainID *big.Int) (*RegisteredTransfer, error)
	GetRegisteredTransferByDefinition(ctx context.Context, definition common.Address, registry common.Address, chainID *big.Int) (*RegisteredTransfer, error)
	GetRegisteredTransfers(ctx context.Context, registry common.Address, chainID *big.Int) ([]*RegisteredTransfer, error)

	Create(ctx context.Context, initialState []byte, balance chanstate.Balance,
		definition common.Address, registry common.Address, chainID *big.Int) (bool, error)
	Resolve(ctx context.Context, transfer *chanstate.Transfer, chainID *big.Int) (*chanstate.Balance, error)

	GetChannelDispute(ctx context.Context, channel common.Address, chainID *big.Int) (*ChannelDispute, error)
	GetOnchainBalance(ctx context.Context, asset common.Address, holder common.Address, chainID *big.Int) (*big.Int, error)
	GetWithdrawalTransactionRecord(ctx context.Context, channel common.Address, commitmentHash [32]byte, chainID *big.Int) (bool, error)
}

// ChainError categorizes a chain-reader failure so callers can decide
// whether to retry (spec §7: "Transient ... chain-RPC failures ...
// retried up to a bounded count").
type ChainError struct {
	Method    string
	ChainID   *big.Int
	Retryable bool
	Err       error
}

func (e *ChainError) Error() string {
	return "chainreader: " + e.Method + ": " + e.Err.Error()
}

func (e *ChainError) Unwrap() error { return e.Err }
