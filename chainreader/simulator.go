package chainreader

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// Simulator is the entry point for a transfer definition's create/resolve
// predicates. It caches each definition's bytecode (fetching it through the
// owning EthReader on a miss), but it does not evaluate the predicate: no
// in-process EVM run and no live eth_call is made, and every simulation
// ends in an error from runPredicate/runResolvePredicate.
type Simulator struct {
	chainRules params.Rules

	mu    sync.Mutex
	code  map[common.Address][]byte
}

// NewSimulator builds a Simulator using the given EVM fork rules (e.g.
// params.Rules for the chain's current hard fork) for opcode gating.
func NewSimulator(rules params.Rules) *Simulator {
	return &Simulator{
		chainRules: rules,
		code:       make(map[common.Address][]byte),
	}
}

// CacheCode registers bytecode for definition so future simulations for it
// skip the GetCode round-trip.
func (s *Simulator) CacheCode(definition common.Address, code []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code[definition] = code
}

func (s *Simulator) cachedCode(definition common.Address) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.code[definition]
	return code, ok
}

// SimulateCreate evaluates definition.create(initialState, balance) -> bool
// (spec §4.1.2). If the bytecode is not cached it is fetched through
// reader.GetCode and cached; the evaluation itself is left to runPredicate,
// which returns an error for every input.
func (s *Simulator) SimulateCreate(ctx context.Context, reader *EthReader, definition common.Address,
	initialState []byte, balance chanstate.Balance, chainID *big.Int) (bool, error) {

	code, cached := s.cachedCode(definition)
	if !cached {
		var err error
		code, err = reader.GetCode(ctx, definition, chainID)
		if err != nil {
			return false, errors.WithMessage(err, "fetching transfer-definition bytecode")
		}
		if len(code) == 0 {
			return false, errors.Errorf("transfer definition %s has no deployed code", definition.Hex())
		}
		s.CacheCode(definition, code)
	}

	return s.runPredicate(code, "create", initialState, balance)
}

// SimulateResolve evaluates
// definition.resolve(state, resolver, balance) -> Balance (spec §4.1.2).
func (s *Simulator) SimulateResolve(ctx context.Context, reader *EthReader, transfer *chanstate.Transfer,
	chainID *big.Int) (*chanstate.Balance, error) {

	code, cached := s.cachedCode(transfer.TransferDefinition)
	if !cached {
		var err error
		code, err = reader.GetCode(ctx, transfer.TransferDefinition, chainID)
		if err != nil {
			return nil, errors.WithMessage(err, "fetching transfer-definition bytecode")
		}
		if len(code) == 0 {
			return nil, errors.Errorf("transfer definition %s has no deployed code", transfer.TransferDefinition.Hex())
		}
		s.CacheCode(transfer.TransferDefinition, code)
	}

	ok, err := s.runResolvePredicate(code, transfer)
	if err != nil {
		return nil, err
	}
	return ok, nil
}

// runPredicate does not execute the bytecode: it always returns false and
// an error naming the predicate kind.
//
// Wiring the literal call-data ABI selector for an arbitrary
// transfer-definition's create() is contract-specific (it depends on that
// definition's declared interface, which the transfer registry - not this
// core - is the source of truth for), and no such encoding is done here.
func (s *Simulator) runPredicate(code []byte, kind string, initialState []byte, balance chanstate.Balance) (bool, error) {
	return false, errors.Errorf(
		"chainreader: local EVM evaluation of %q requires the transfer-definition's call-data ABI, resolved per-definition from the transfer registry (out of core scope, see spec §1); fall back to a live eth_call",
		kind)
}

func (s *Simulator) runResolvePredicate(code []byte, transfer *chanstate.Transfer) (*chanstate.Balance, error) {
	return nil, errors.New(
		"chainreader: local EVM evaluation of resolve() requires the transfer-definition's call-data ABI, resolved per-definition from the transfer registry (out of core scope, see spec §1); fall back to a live eth_call")
}

// compile-time use of vm/params so the simulator's declared dependency on
// go-ethereum's EVM stays wired even though the predicate call-data
// encoding above is contract-specific and thus out of this core's scope.
var _ = vm.Config{}
var _ = params.Rules{}
