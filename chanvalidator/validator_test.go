package chanvalidator

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/decred/dcrlnd-statechannel/chainreader"
	"github.com/decred/dcrlnd-statechannel/chancrypto"
	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// fakeChainReader is a hand-rolled chainreader.ChainReader stub: real
// production code dials an EVM node, but the validator only needs
// deterministic, test-controlled answers to exercise deposit reconciliation
// and the create/resolve predicates.
type fakeChainReader struct {
	totalsAlice map[common.Address]*big.Int
	totalsBob   map[common.Address]*big.Int
	registered  map[common.Address]*chainreader.RegisteredTransfer
	createOK    bool
	resolveFn   func(t *chanstate.Transfer) (*chanstate.Balance, error)
}

func newFakeChainReader() *fakeChainReader {
	return &fakeChainReader{
		totalsAlice: map[common.Address]*big.Int{},
		totalsBob:   map[common.Address]*big.Int{},
		registered:  map[common.Address]*chainreader.RegisteredTransfer{},
		createOK:    true,
	}
}

func (f *fakeChainReader) GetCode(ctx context.Context, address common.Address, chainID *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeChainReader) GetTotalDepositsAlice(ctx context.Context, channel common.Address, chainID *big.Int, asset common.Address) (*big.Int, error) {
	if v, ok := f.totalsAlice[asset]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChainReader) GetTotalDepositsBob(ctx context.Context, channel common.Address, chainID *big.Int, asset common.Address) (*big.Int, error) {
	if v, ok := f.totalsBob[asset]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChainReader) GetChannelAddress(ctx context.Context, alice, bob, factory common.Address, chainID *big.Int) (common.Address, error) {
	return chancrypto.DeriveChannelAddress(alice, bob, factory), nil
}

func (f *fakeChainReader) GetRegisteredTransferByName(ctx context.Context, name string, registry common.Address, chainID *big.Int) (*chainreader.RegisteredTransfer, error) {
	for _, r := range f.registered {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, errNotRegistered
}

func (f *fakeChainReader) GetRegisteredTransferByDefinition(ctx context.Context, definition common.Address, registry common.Address, chainID *big.Int) (*chainreader.RegisteredTransfer, error) {
	if r, ok := f.registered[definition]; ok {
		return r, nil
	}
	return nil, errNotRegistered
}

func (f *fakeChainReader) GetRegisteredTransfers(ctx context.Context, registry common.Address, chainID *big.Int) ([]*chainreader.RegisteredTransfer, error) {
	out := make([]*chainreader.RegisteredTransfer, 0, len(f.registered))
	for _, r := range f.registered {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeChainReader) Create(ctx context.Context, initialState []byte, balance chanstate.Balance,
	definition common.Address, registry common.Address, chainID *big.Int) (bool, error) {
	return f.createOK, nil
}

func (f *fakeChainReader) Resolve(ctx context.Context, transfer *chanstate.Transfer, chainID *big.Int) (*chanstate.Balance, error) {
	return f.resolveFn(transfer)
}

func (f *fakeChainReader) GetChannelDispute(ctx context.Context, channel common.Address, chainID *big.Int) (*chainreader.ChannelDispute, error) {
	return nil, nil
}

func (f *fakeChainReader) GetOnchainBalance(ctx context.Context, asset common.Address, holder common.Address, chainID *big.Int) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeChainReader) GetWithdrawalTransactionRecord(ctx context.Context, channel common.Address, commitmentHash [32]byte, chainID *big.Int) (bool, error) {
	return false, nil
}

var errNotRegistered = &chainreader.ChainError{Method: "GetRegisteredTransferByDefinition", Retryable: false, Err: errStub{}}

type errStub struct{}

func (errStub) Error() string { return "not registered" }

var _ chainreader.ChainReader = (*fakeChainReader)(nil)

func newTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

// setupChannel drives an outbound Setup as Alice, a matching inbound
// ValidateInbound as Bob, producing a double-signed genesis state - the
// fixture every other test in this file builds on.
func setupChannel(t *testing.T) (aliceV, bobV *Validator, asset common.Address, chain *fakeChainReader, state *chanstate.ChannelState) {
	t.Helper()

	aliceKey, bobKey := newTestKey(t), newTestKey(t)
	aliceSigner := chancrypto.NewSigner(aliceKey)
	bobSigner := chancrypto.NewSigner(bobKey)
	aliceAddr := common.Address(aliceSigner.Address())
	bobAddr := common.Address(bobSigner.Address())
	// chancrypto.DeriveChannelAddress is order-sensitive, so Setup must
	// be called with (alice, bob) in the same order on both sides,
	// exactly the way the real proposer/countersigner pair would be.
	if bytesLess(bobAddr.Bytes(), aliceAddr.Bytes()) {
		aliceKey, bobKey = bobKey, aliceKey
		aliceSigner, bobSigner = chancrypto.NewSigner(aliceKey), chancrypto.NewSigner(bobKey)
		aliceAddr, bobAddr = common.Address(aliceSigner.Address()), common.Address(bobSigner.Address())
	}

	chain = newFakeChainReader()
	asset = common.HexToAddress("0x00000000000000000000000000000000000dead")

	factory := common.HexToAddress("0xfac70000000000000000000000000000000000")
	netCtx := chanstate.NetworkContext{ChainID: big.NewInt(1337), ChannelFactoryAddress: factory}

	aliceV = New(chain, nil, aliceSigner)
	bobV = New(chain, nil, bobSigner)

	params := SetupParams{
		Alice: aliceAddr, Bob: bobAddr,
		AliceIdentifier: "alice", BobIdentifier: "bob",
		Timeout:        3600,
		NetworkContext: netCtx,
	}

	res, err := aliceV.Setup(context.Background(), params)
	require.NoError(t, err)
	require.True(t, res.Update.SingleSigned())

	bobRes, err := bobV.ValidateInbound(context.Background(), nil, nil, res.Update)
	require.NoError(t, err)
	require.True(t, bobRes.Update.DoubleSigned())
	require.NoError(t, VerifyBilateral(bobRes.NextState, bobRes.Update))

	bobRes.NextState.LatestUpdate = bobRes.Update
	return aliceV, bobV, asset, chain, bobRes.NextState
}

// hash32 returns a [32]byte, the exact Go type the "bytes32" abi argument
// packer expects (common.Hash is a distinct named type abi.Pack rejects).
func hash32(hex string) [32]byte {
	var out [32]byte
	copy(out[:], common.HexToHash(hex).Bytes())
	return out
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func TestSetupProducesGenesisDoubleSignedState(t *testing.T) {
	_, _, _, _, state := setupChannel(t)
	require.Equal(t, uint64(1), state.Nonce)
	require.Empty(t, state.AssetIds)
}

func TestSetupRejectsExistingChannel(t *testing.T) {
	aliceV, _, _, _, state := setupChannel(t)
	_, err := aliceV.Setup(context.Background(), SetupParams{
		Alice: state.Alice, Bob: state.Bob,
		NetworkContext: state.NetworkContext,
	})
	require.Error(t, err)
}

func TestDepositReconciliationCreditsPendingOnly(t *testing.T) {
	aliceV, bobV, asset, chain, state := setupChannel(t)

	chain.totalsAlice[asset] = big.NewInt(100)
	chain.totalsBob[asset] = big.NewInt(40)

	res, err := aliceV.Deposit(context.Background(), state, nil, DepositParams{
		ChannelAddress: state.ChannelAddress,
		AssetID:        asset,
	})
	require.NoError(t, err)

	bobRes, err := bobV.ValidateInbound(context.Background(), state, nil, res.Update)
	require.NoError(t, err)
	require.NoError(t, VerifyBilateral(bobRes.NextState, bobRes.Update))

	require.Equal(t, 0, bobRes.NextState.Balances[0].Amount[0].Cmp(big.NewInt(100)))
	require.Equal(t, 0, bobRes.NextState.Balances[0].Amount[1].Cmp(big.NewInt(40)))

	// A second deposit only credits the newly-pending delta.
	chain.totalsAlice[asset] = big.NewInt(150)
	res2, err := aliceV.Deposit(context.Background(), bobRes.NextState, nil, DepositParams{
		ChannelAddress: state.ChannelAddress,
		AssetID:        asset,
	})
	require.NoError(t, err)
	bobRes2, err := bobV.ValidateInbound(context.Background(), bobRes.NextState, nil, res2.Update)
	require.NoError(t, err)
	require.Equal(t, 0, bobRes2.NextState.Balances[0].Amount[0].Cmp(big.NewInt(150)))
	require.Equal(t, 0, bobRes2.NextState.Balances[0].Amount[1].Cmp(big.NewInt(40)),
		"bob's side must not move on a deposit that only credited alice")
}

func depositedChannel(t *testing.T) (aliceV, bobV *Validator, asset common.Address, chain *fakeChainReader, state *chanstate.ChannelState) {
	aliceV, bobV, asset, chain, state = setupChannel(t)
	chain.totalsAlice[asset] = big.NewInt(1000)
	chain.totalsBob[asset] = big.NewInt(1000)

	res, err := aliceV.Deposit(context.Background(), state, nil, DepositParams{
		ChannelAddress: state.ChannelAddress, AssetID: asset,
	})
	require.NoError(t, err)
	bobRes, err := bobV.ValidateInbound(context.Background(), state, nil, res.Update)
	require.NoError(t, err)
	return aliceV, bobV, asset, chain, bobRes.NextState
}

func TestCreateLocksBalanceAndAddsActiveTransfer(t *testing.T) {
	aliceV, bobV, asset, chain, state := depositedChannel(t)

	definition := common.HexToAddress("0xde00000000000000000000000000000000000f")
	chain.registered[definition] = &chainreader.RegisteredTransfer{
		Name: "HashLock", TransferDefinition: definition,
		StateEncoding:    "lockHash:bytes32",
		ResolverEncoding: "preimage:bytes32",
	}

	createParams := CreateParams{
		ChannelAddress:     state.ChannelAddress,
		AssetID:            asset,
		TransferDefinition: definition,
		TransferInitialState: chanstate.TransferState{
			"lockHash": hash32("0xaaaa"),
		},
		TransferEncodings: [2]string{"lockHash:bytes32", "preimage:bytes32"},
		InitialBalance: chanstate.Balance{
			To:     [2]common.Address{state.Alice, state.Bob},
			Amount: [2]*big.Int{big.NewInt(300), big.NewInt(0)},
		},
		TransferTimeout: 100,
	}

	res, err := aliceV.Create(context.Background(), state, nil, createParams)
	require.NoError(t, err)
	require.NotNil(t, res.UpdatedTransfer)
	require.Len(t, res.NextActiveTransfers, 1)

	bobRes, err := bobV.ValidateInbound(context.Background(), state, nil, res.Update)
	require.NoError(t, err)
	require.NoError(t, VerifyBilateral(bobRes.NextState, bobRes.Update))
	require.Equal(t, 0, bobRes.NextState.Balances[0].Amount[0].Cmp(big.NewInt(700)),
		"initiator's balance must be debited by the locked amount")
	require.NotEqual(t, [32]byte{}, bobRes.NextState.MerkleRoot)
}

func TestCreateRejectsTimeoutExceedingChannelTimeout(t *testing.T) {
	aliceV, _, asset, chain, state := depositedChannel(t)

	definition := common.HexToAddress("0xde00000000000000000000000000000000000f")
	chain.registered[definition] = &chainreader.RegisteredTransfer{
		TransferDefinition: definition,
		StateEncoding:      "lockHash:bytes32",
		ResolverEncoding:   "preimage:bytes32",
	}

	_, err := aliceV.Create(context.Background(), state, nil, CreateParams{
		ChannelAddress:       state.ChannelAddress,
		AssetID:              asset,
		TransferDefinition:   definition,
		TransferInitialState: chanstate.TransferState{"lockHash": hash32("0x1")},
		TransferEncodings:    [2]string{"lockHash:bytes32", "preimage:bytes32"},
		InitialBalance: chanstate.Balance{
			To: [2]common.Address{state.Alice, state.Bob}, Amount: [2]*big.Int{big.NewInt(1), big.NewInt(0)},
		},
		TransferTimeout: state.Timeout + 1,
	})
	require.Error(t, err)
}

func createdTransferChannel(t *testing.T) (aliceV, bobV *Validator, state *chanstate.ChannelState, active []*chanstate.Transfer) {
	aliceV, bobV, asset, chain, state := depositedChannel(t)

	definition := common.HexToAddress("0xde00000000000000000000000000000000000f")
	chain.registered[definition] = &chainreader.RegisteredTransfer{
		TransferDefinition: definition,
		StateEncoding:      "lockHash:bytes32",
		ResolverEncoding:   "preimage:bytes32",
	}
	chain.resolveFn = func(tr *chanstate.Transfer) (*chanstate.Balance, error) {
		// A hash-lock-style resolve: the whole locked amount moves to
		// bob once a preimage is supplied.
		return &chanstate.Balance{
			To:     tr.Balance.To,
			Amount: [2]*big.Int{big.NewInt(0), new(big.Int).Set(tr.Balance.Sum())},
		}, nil
	}

	res, err := aliceV.Create(context.Background(), state, nil, CreateParams{
		ChannelAddress:     state.ChannelAddress,
		AssetID:            asset,
		TransferDefinition: definition,
		TransferInitialState: chanstate.TransferState{
			"lockHash": hash32("0xbeef"),
		},
		TransferEncodings: [2]string{"lockHash:bytes32", "preimage:bytes32"},
		InitialBalance: chanstate.Balance{
			To:     [2]common.Address{state.Alice, state.Bob},
			Amount: [2]*big.Int{big.NewInt(300), big.NewInt(0)},
		},
		TransferTimeout: 100,
	})
	require.NoError(t, err)

	bobRes, err := bobV.ValidateInbound(context.Background(), state, nil, res.Update)
	require.NoError(t, err)

	return aliceV, bobV, bobRes.NextState, bobRes.NextActiveTransfers
}

func TestResolveCreditsRecipientAndRemovesTransfer(t *testing.T) {
	aliceV, bobV, state, active := createdTransferChannel(t)
	require.Len(t, active, 1)

	res, err := bobV.Resolve(context.Background(), state, active, ResolveParams{
		ChannelAddress:   state.ChannelAddress,
		TransferID:       active[0].TransferID,
		TransferResolver: chanstate.TransferResolver{"preimage": hash32("0xcafe")},
	})
	require.NoError(t, err)
	require.Empty(t, res.NextActiveTransfers)

	aliceRes, err := aliceV.ValidateInbound(context.Background(), state, active, res.Update)
	require.NoError(t, err)
	require.NoError(t, VerifyBilateral(aliceRes.NextState, aliceRes.Update))
	require.Empty(t, aliceRes.NextActiveTransfers)
	require.Equal(t, [32]byte{}, aliceRes.NextState.MerkleRoot)
	require.Equal(t, 0, aliceRes.NextState.Balances[0].Amount[1].Cmp(big.NewInt(300)),
		"the resolver credited bob with the full locked amount")
}

func TestResolveCooperativeCancellationRevertsToInitiator(t *testing.T) {
	aliceV, bobV, state, active := createdTransferChannel(t)

	res, err := bobV.Resolve(context.Background(), state, active, ResolveParams{
		ChannelAddress:   state.ChannelAddress,
		TransferID:       active[0].TransferID,
		TransferResolver: nil,
	})
	require.NoError(t, err)

	aliceRes, err := aliceV.ValidateInbound(context.Background(), state, active, res.Update)
	require.NoError(t, err)
	require.Equal(t, 0, aliceRes.NextState.Balances[0].Amount[0].Cmp(big.NewInt(1000)),
		"cooperative cancellation reverts the locked amount to the initiator (alice)")
}

func TestResolveRejectsUnknownTransfer(t *testing.T) {
	_, bobV, state, _ := createdTransferChannel(t)

	var bogus [32]byte
	copy(bogus[:], []byte("not-a-real-transfer-id"))

	_, err := bobV.Resolve(context.Background(), state, nil, ResolveParams{
		ChannelAddress: state.ChannelAddress,
		TransferID:     bogus,
	})
	require.Error(t, err)
}

func TestValidateInboundRejectsBadSignature(t *testing.T) {
	aliceV, bobV, asset, chain, state := setupChannel(t)
	chain.totalsAlice[asset] = big.NewInt(10)

	res, err := aliceV.Deposit(context.Background(), state, nil, DepositParams{
		ChannelAddress: state.ChannelAddress, AssetID: asset,
	})
	require.NoError(t, err)

	// Corrupt alice's signature before bob ever sees it.
	tampered := *res.Update
	tampered.AliceSignature = append([]byte(nil), res.Update.AliceSignature...)
	tampered.AliceSignature[0] ^= 0xff

	_, err = bobV.ValidateInbound(context.Background(), state, nil, &tampered)
	require.Error(t, err)
}

func TestValidateInboundRejectsStaleNonce(t *testing.T) {
	_, bobV, asset, chain, state := setupChannel(t)
	chain.totalsAlice[asset] = big.NewInt(10)

	stale := &chanstate.ChannelUpdate{
		ChannelAddress: state.ChannelAddress,
		Type:           chanstate.UpdateDeposit,
		Nonce:          state.Nonce, // should be state.Nonce+1
		Details:        chanstate.DepositDetails{},
	}
	_, err := bobV.ValidateInbound(context.Background(), state, nil, stale)
	require.Error(t, err)
}
