package chanwire

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/decred/dcrlnd-statechannel/chanerrors"
	"github.com/decred/dcrlnd-statechannel/chanstate"
)

func sampleUpdate() *chanstate.ChannelUpdate {
	alice := common.HexToAddress("0xa11ce00000000000000000000000000000000a")
	bob := common.HexToAddress("0xb0b0000000000000000000000000000000000b")
	return &chanstate.ChannelUpdate{
		ChannelAddress: common.HexToAddress("0xc4a4000000000000000000000000000000000c"),
		FromIdentifier: "alice",
		ToIdentifier:   "bob",
		Type:           chanstate.UpdateCreate,
		Nonce:          4,
		Balance: chanstate.Balance{
			To:     [2]common.Address{alice, bob},
			Amount: [2]*big.Int{big.NewInt(700), big.NewInt(300)},
		},
		AssetID:        common.HexToAddress("0xdead"),
		AliceSignature: chanstate.Signature(bytes.Repeat([]byte{0xab}, 65)),
		BobSignature:   chanstate.Signature(bytes.Repeat([]byte{0xcd}, 65)),
		Details: chanstate.CreateDetails{
			TransferID:           [32]byte{1, 2, 3},
			Balance:              chanstate.Balance{To: [2]common.Address{alice, bob}, Amount: [2]*big.Int{big.NewInt(300), big.NewInt(0)}},
			TransferDefinition:   common.HexToAddress("0xbeef"),
			TransferTimeout:      100,
			TransferEncodings:    [2]string{"lockHash:bytes32", "preimage:bytes32"},
			TransferInitialState: chanstate.TransferState{"lockHash": [32]byte{0xaa}},
			MerkleRoot:           [32]byte{9, 9, 9},
			Meta:                 map[string]interface{}{"note": "create"},
		},
	}
}

func TestEncodeDecodeUpdateRoundTrip(t *testing.T) {
	original := sampleUpdate()

	encoded, err := EncodeToBytes(original)
	require.NoError(t, err)

	decoded, err := DecodeFromBytes(encoded)
	require.NoError(t, err)

	require.Equal(t, original.ChannelAddress, decoded.ChannelAddress)
	require.Equal(t, original.FromIdentifier, decoded.FromIdentifier)
	require.Equal(t, original.Type, decoded.Type)
	require.Equal(t, original.Nonce, decoded.Nonce)
	require.Equal(t, 0, original.Balance.Amount[0].Cmp(decoded.Balance.Amount[0]))
	require.Equal(t, []byte(original.AliceSignature), []byte(decoded.AliceSignature))

	details, ok := decoded.Details.(chanstate.CreateDetails)
	require.True(t, ok)
	require.Equal(t, original.Details.(chanstate.CreateDetails).TransferID, details.TransferID)
	require.Equal(t, original.Details.(chanstate.CreateDetails).MerkleRoot, details.MerkleRoot)
	require.Equal(t, [2]string{"lockHash:bytes32", "preimage:bytes32"}, details.TransferEncodings,
		"a real Create update's encoding schema must survive the wire so the receiver can re-derive initialStateHash")
	require.Equal(t, [32]byte{0xaa}, details.TransferInitialState["lockHash"],
		"the transfer's initial state must survive the wire, not just its hash")
	require.Equal(t, "create", details.Meta["note"])
}

func TestEncodeDecodeResolveDetailsRoundTrip(t *testing.T) {
	alice := common.HexToAddress("0xa11ce00000000000000000000000000000000a")
	bob := common.HexToAddress("0xb0b0000000000000000000000000000000000b")
	original := &chanstate.ChannelUpdate{
		ChannelAddress: common.HexToAddress("0xc4a4000000000000000000000000000000000c"),
		FromIdentifier: "alice",
		ToIdentifier:   "bob",
		Type:           chanstate.UpdateResolve,
		Nonce:          5,
		Balance: chanstate.Balance{
			To:     [2]common.Address{alice, bob},
			Amount: [2]*big.Int{big.NewInt(1000), big.NewInt(0)},
		},
		AssetID: common.HexToAddress("0xdead"),
		Details: chanstate.ResolveDetails{
			TransferID:         [32]byte{1, 2, 3},
			TransferDefinition: common.HexToAddress("0xbeef"),
			TransferResolver:   chanstate.TransferResolver{"preimage": [32]byte{1}},
			MerkleRoot:         [32]byte{},
			Meta:               map[string]interface{}{"note": "resolve"},
		},
	}

	encoded, err := EncodeToBytes(original)
	require.NoError(t, err)
	decoded, err := DecodeFromBytes(encoded)
	require.NoError(t, err)

	details, ok := decoded.Details.(chanstate.ResolveDetails)
	require.True(t, ok)
	require.Equal(t, [32]byte{1}, details.TransferResolver["preimage"],
		"a real Resolve update's resolver payload must survive the wire so the receiver's applyResolve recomputes the same MerkleRoot")
	require.Equal(t, "resolve", details.Meta["note"])
}

func TestEncodeDecodeNilUpdate(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeUpdate(&buf, nil))

	var out *chanstate.ChannelUpdate
	require.NoError(t, DecodeUpdate(&buf, &out))
	require.Nil(t, out)
}

func TestProtocolUpdateEncodeDecode(t *testing.T) {
	msg := &ProtocolUpdate{
		RequestID:      uuid.New(),
		ChannelAddress: [20]byte{1, 2, 3},
		Update:         sampleUpdate(),
	}

	var buf bytes.Buffer
	require.NoError(t, msg.Encode(&buf, 0))

	out := &ProtocolUpdate{}
	require.NoError(t, out.Decode(&buf, 0))

	require.Equal(t, msg.RequestID, out.RequestID)
	require.Equal(t, msg.ChannelAddress, out.ChannelAddress)
	require.Nil(t, out.PreviousUpdate)
	require.NotNil(t, out.Update)
	require.Equal(t, msg.Update.ChannelAddress, out.Update.ChannelAddress)
}

func TestProtocolUpdateEncodeDecodeWithPreviousUpdate(t *testing.T) {
	prev := sampleUpdate()
	prev.Nonce = 3
	msg := &ProtocolUpdate{
		RequestID:      uuid.New(),
		ChannelAddress: [20]byte{1, 2, 3},
		Update:         sampleUpdate(),
		PreviousUpdate: prev,
	}

	var buf bytes.Buffer
	require.NoError(t, msg.Encode(&buf, 0))

	out := &ProtocolUpdate{}
	require.NoError(t, out.Decode(&buf, 0))

	require.NotNil(t, out.PreviousUpdate,
		"a diff==2 sync on the receiving side needs a real PreviousUpdate to recover from")
	require.Equal(t, uint64(3), out.PreviousUpdate.Nonce)
}

func TestProtocolErrorEncodeDecodeWithPeerUpdate(t *testing.T) {
	peerUpdate := sampleUpdate()
	msg := &ProtocolError{
		RequestID:  uuid.New(),
		Reason:     chanerrors.ReasonStaleUpdate,
		Context:    "nonce 4 already applied",
		PeerUpdate: peerUpdate,
	}

	var buf bytes.Buffer
	require.NoError(t, msg.Encode(&buf, 0))

	out := &ProtocolError{}
	require.NoError(t, out.Decode(&buf, 0))

	require.Equal(t, msg.RequestID, out.RequestID)
	require.Equal(t, chanerrors.ReasonStaleUpdate, out.Reason)
	require.Equal(t, msg.Context, out.Context)
	require.NotNil(t, out.PeerUpdate)
	require.Equal(t, peerUpdate.Nonce, out.PeerUpdate.Nonce)
}

func TestProtocolErrorEncodeDecodeWithoutPeerUpdate(t *testing.T) {
	msg := &ProtocolError{RequestID: uuid.New(), Reason: chanerrors.ReasonBadSignatures, Context: "boom"}

	var buf bytes.Buffer
	require.NoError(t, msg.Encode(&buf, 0))

	out := &ProtocolError{}
	require.NoError(t, out.Decode(&buf, 0))
	require.Nil(t, out.PeerUpdate)
}

func TestMessageTypeTags(t *testing.T) {
	require.Equal(t, MsgProtocolUpdate, (&ProtocolUpdate{}).MsgType())
	require.Equal(t, MsgProtocolUpdateAck, (&ProtocolUpdateAck{}).MsgType())
	require.Equal(t, MsgProtocolError, (&ProtocolError{}).MsgType())
}
