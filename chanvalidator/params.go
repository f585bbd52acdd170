package chanvalidator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// SetupParams are the outbound parameters for spec §4.1.2 "setup".
type SetupParams struct {
	Alice, Bob                         common.Address
	AliceIdentifier, BobIdentifier      string
	Timeout                             uint64
	NetworkContext                      chanstate.NetworkContext
	Meta                                 map[string]interface{}
}

// DepositParams are the outbound parameters for spec §4.1.2 "deposit".
type DepositParams struct {
	ChannelAddress common.Address
	AssetID        common.Address
	Meta           map[string]interface{}
}

// CreateParams are the outbound parameters for spec §4.1.2 "create".
type CreateParams struct {
	ChannelAddress       common.Address
	AssetID              common.Address
	TransferDefinition   common.Address
	TransferInitialState chanstate.TransferState
	TransferEncodings    [2]string
	InitialBalance       chanstate.Balance
	TransferTimeout      uint64
	Meta                 map[string]interface{}
}

// ResolveParams are the outbound parameters for spec §4.1.2 "resolve".
type ResolveParams struct {
	ChannelAddress   common.Address
	TransferID       [32]byte
	TransferResolver chanstate.TransferResolver
}

// Result is what every outbound validate+apply call produces: the
// single-signed ChannelUpdate ready to send to the peer, the derived next
// state, the transfer that was created/resolved (nil for setup/deposit),
// and the active-transfer set after applying the update.
type Result struct {
	Update             *chanstate.ChannelUpdate
	NextState          *chanstate.ChannelState
	UpdatedTransfer    *chanstate.Transfer
	NextActiveTransfers []*chanstate.Transfer
}

func zero() *big.Int { return big.NewInt(0) }
