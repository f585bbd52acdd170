// Package chanstate defines the channel and transfer data model from
// spec §3: the authoritative off-chain channel state, the conditional
// transfer record, and the wire-level update that carries a transition
// between the two.
package chanstate

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UpdateType enumerates the four update kinds spec §3/§4.1 defines. There
// is no fifth kind; the validator rejects anything else.
type UpdateType string

const (
	UpdateSetup   UpdateType = "setup"
	UpdateDeposit UpdateType = "deposit"
	UpdateCreate  UpdateType = "create"
	UpdateResolve UpdateType = "resolve"
)

// NetworkContext pins a channel to a chain and the on-chain contracts that
// govern it. Immutable once a channel is set up.
type NetworkContext struct {
	ChainID               *big.Int
	ChannelFactoryAddress common.Address
	TransferRegistryAddress common.Address
}

// Balance is the ordered balance pair spec §3 describes: To[0]/Amount[0]
// belongs to Alice, To[1]/Amount[1] belongs to Bob.
type Balance struct {
	To     [2]common.Address
	Amount [2]*big.Int
}

// Clone returns a deep copy so callers can mutate the result without
// aliasing the receiver's big.Int pointers.
func (b Balance) Clone() Balance {
	out := Balance{To: b.To}
	out.Amount[0] = new(big.Int).Set(b.Amount[0])
	out.Amount[1] = new(big.Int).Set(b.Amount[1])
	return out
}

// Sum returns Amount[0] + Amount[1].
func (b Balance) Sum() *big.Int {
	return new(big.Int).Add(b.Amount[0], b.Amount[1])
}

// Signature is a 65-byte recoverable ECDSA signature (r || s || v), the
// format chancrypto produces and verifies.
type Signature []byte

// ChannelUpdate is an in-flight or durably-signed state transition, wire
// shape per spec §6.
type ChannelUpdate struct {
	ChannelAddress  common.Address
	FromIdentifier  string
	ToIdentifier    string
	Type            UpdateType
	Nonce           uint64
	Balance         Balance
	AssetID         common.Address
	Details         UpdateDetails
	AliceSignature  Signature
	BobSignature    Signature
}

// SingleSigned reports whether exactly one signature is present.
func (u *ChannelUpdate) SingleSigned() bool {
	return (len(u.AliceSignature) > 0) != (len(u.BobSignature) > 0)
}

// DoubleSigned reports whether both signatures are present.
func (u *ChannelUpdate) DoubleSigned() bool {
	return len(u.AliceSignature) > 0 && len(u.BobSignature) > 0
}

// UpdateDetails is the tagged-variant payload for ChannelUpdate.Details,
// one concrete type per UpdateType, per spec §6 and per the redesign
// guidance to replace dynamically-typed "details" with tagged variants.
type UpdateDetails interface {
	isUpdateDetails()
	Type() UpdateType
}

// SetupDetails is ChannelUpdate.Details for UpdateSetup.
type SetupDetails struct {
	NetworkContext NetworkContext
	Timeout        uint64
	Meta           map[string]interface{}
}

func (SetupDetails) isUpdateDetails()    {}
func (SetupDetails) Type() UpdateType    { return UpdateSetup }

// DepositDetails is ChannelUpdate.Details for UpdateDeposit.
type DepositDetails struct {
	TotalDepositsAlice *big.Int
	TotalDepositsBob   *big.Int
	Meta               map[string]interface{}
}

func (DepositDetails) isUpdateDetails() {}
func (DepositDetails) Type() UpdateType { return UpdateDeposit }

// CreateDetails is ChannelUpdate.Details for UpdateCreate.
type CreateDetails struct {
	TransferID           [32]byte
	Balance              Balance
	TransferDefinition   common.Address
	TransferTimeout      uint64
	TransferInitialState TransferState
	TransferEncodings    [2]string
	MerkleRoot           [32]byte
	Meta                 map[string]interface{}
}

func (CreateDetails) isUpdateDetails() {}
func (CreateDetails) Type() UpdateType { return UpdateCreate }

// ResolveDetails is ChannelUpdate.Details for UpdateResolve.
type ResolveDetails struct {
	TransferID         [32]byte
	TransferDefinition common.Address
	TransferResolver   TransferResolver
	MerkleRoot         [32]byte
	Meta               map[string]interface{}
}

func (ResolveDetails) isUpdateDetails() {}
func (ResolveDetails) Type() UpdateType { return UpdateResolve }

// TransferState is the opaque, ABI-encodable structured payload that
// initializes a transfer's on-chain predicate. It travels with an
// accompanying encoding string (TransferEncodings[0]) per the redesign
// guidance: no dynamic typing, a schema-checked opaque payload instead.
type TransferState map[string]interface{}

// TransferResolver is the analogous opaque payload used to resolve a
// transfer. In resolve params an empty (or nil) resolver means a
// cooperative cancellation (spec §4.1.2); on a Transfer, nil means not yet
// resolved (Active reports true only while it is nil).
type TransferResolver map[string]interface{}

// Transfer is a conditional transfer locked in-channel, per spec §3.
type Transfer struct {
	TransferID            [32]byte
	ChannelAddress        common.Address
	ChainID               *big.Int
	ChannelFactoryAddress common.Address
	Initiator             common.Address
	Responder             common.Address
	ChannelNonce          uint64
	TransferDefinition    common.Address
	TransferEncodings     [2]string
	Balance               Balance
	AssetID               common.Address
	TransferTimeout       uint64
	InitialStateHash      [32]byte
	TransferState         TransferState
	TransferResolver      TransferResolver
	Meta                  map[string]interface{}
	InDispute             bool
}

// Active reports whether the transfer has not yet been resolved.
func (t *Transfer) Active() bool {
	return t.TransferResolver == nil
}

// ChannelState is the authoritative off-chain record, per spec §3.
type ChannelState struct {
	ChannelAddress common.Address
	Alice          common.Address
	Bob            common.Address
	AliceIdentifier string
	BobIdentifier   string
	NetworkContext NetworkContext

	Nonce uint64

	AssetIds           []common.Address
	Balances           []Balance
	ProcessedDepositsA []*big.Int
	ProcessedDepositsB []*big.Int
	DefundNonces       []uint64

	MerkleRoot [32]byte

	LatestUpdate *ChannelUpdate

	Timeout   uint64
	InDispute bool
}

// AssetIndex returns the index of assetID within AssetIds, or -1.
// Comparison is plain common.Address equality, which does not depend on hex
// casing (NormalizeAssetIDs merges duplicate entries).
func (c *ChannelState) AssetIndex(assetID common.Address) int {
	for i, a := range c.AssetIds {
		if a == assetID {
			return i
		}
	}
	return -1
}

// CheckArrayInvariant verifies spec §3's parallel-array invariant:
// |balances| = |processedDepositsA| = |processedDepositsB| = |defundNonces| = |assetIds|.
func (c *ChannelState) CheckArrayInvariant() error {
	n := len(c.AssetIds)
	if len(c.Balances) != n || len(c.ProcessedDepositsA) != n ||
		len(c.ProcessedDepositsB) != n || len(c.DefundNonces) != n {
		return errMismatchedArrays
	}
	return nil
}

var errMismatchedArrays = &arrayLengthError{}

type arrayLengthError struct{}

func (*arrayLengthError) Error() string {
	return "chanstate: balances/processedDeposits/defundNonces/assetIds length mismatch"
}

// Clone returns a deep copy of the channel state, used by the validator so
// that a failed validation never mutates the caller's previous state.
func (c *ChannelState) Clone() *ChannelState {
	out := *c
	out.AssetIds = append([]common.Address(nil), c.AssetIds...)
	out.Balances = make([]Balance, len(c.Balances))
	for i, b := range c.Balances {
		out.Balances[i] = b.Clone()
	}
	out.ProcessedDepositsA = cloneBigIntSlice(c.ProcessedDepositsA)
	out.ProcessedDepositsB = cloneBigIntSlice(c.ProcessedDepositsB)
	out.DefundNonces = append([]uint64(nil), c.DefundNonces...)
	if c.LatestUpdate != nil {
		u := *c.LatestUpdate
		out.LatestUpdate = &u
	}
	return &out
}

func cloneBigIntSlice(in []*big.Int) []*big.Int {
	out := make([]*big.Int, len(in))
	for i, v := range in {
		out[i] = new(big.Int).Set(v)
	}
	return out
}
