// Package chanwire defines the protocol messages exchanged between the two
// update-engine peers (spec §6) and their wire encoding, grounded on
// dcrlnd's lnwire.Message interface (Encode/Decode over io.Writer/io.Reader
// keyed by a protocol version, MsgType for framing).
package chanwire

import (
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chanerrors"
	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// MessageType uniquely identifies a chanwire message on the wire, the same
// role dcrlnd's lnwire.MessageType plays.
type MessageType uint16

const (
	MsgProtocolUpdate    MessageType = 1
	MsgProtocolUpdateAck MessageType = 2
	MsgProtocolError     MessageType = 3
)

// Message is the interface every chanwire message implements, mirroring
// dcrlnd's lnwire.Message: self-describing encode/decode plus a type tag
// and a payload-size ceiling used by the transport framer.
type Message interface {
	Encode(w io.Writer, pver uint32) error
	Decode(r io.Reader, pver uint32) error
	MsgType() MessageType
	MaxPayloadLength(pver uint32) uint32
}

// ProtocolUpdate is the outbound request spec §6 names:
// ProtocolUpdate{update, previousUpdate?}.
type ProtocolUpdate struct {
	RequestID       uuid.UUID
	ChannelAddress  [20]byte
	Update          *chanstate.ChannelUpdate
	PreviousUpdate  *chanstate.ChannelUpdate
}

func (m *ProtocolUpdate) Encode(w io.Writer, pver uint32) error {
	return WriteElements(w,
		m.RequestID[:],
		m.ChannelAddress[:],
		m.Update,
		m.PreviousUpdate,
	)
}

func (m *ProtocolUpdate) Decode(r io.Reader, pver uint32) error {
	return ReadElements(r,
		m.RequestID[:],
		m.ChannelAddress[:],
		&m.Update,
		&m.PreviousUpdate,
	)
}

func (m *ProtocolUpdate) MsgType() MessageType { return MsgProtocolUpdate }

func (m *ProtocolUpdate) MaxPayloadLength(uint32) uint32 { return maxUpdatePayload }

// ProtocolUpdateAck is the success reply spec §6 names: the update,
// double-signed, plus the echoed previousUpdate.
type ProtocolUpdateAck struct {
	RequestID      uuid.UUID
	Update         *chanstate.ChannelUpdate
	PreviousUpdate *chanstate.ChannelUpdate
}

func (m *ProtocolUpdateAck) Encode(w io.Writer, pver uint32) error {
	return WriteElements(w,
		m.RequestID[:],
		m.Update,
		m.PreviousUpdate,
	)
}

func (m *ProtocolUpdateAck) Decode(r io.Reader, pver uint32) error {
	return ReadElements(r,
		m.RequestID[:],
		&m.Update,
		&m.PreviousUpdate,
	)
}

func (m *ProtocolUpdateAck) MsgType() MessageType { return MsgProtocolUpdateAck }

func (m *ProtocolUpdateAck) MaxPayloadLength(uint32) uint32 { return maxUpdatePayload }

// ProtocolError is the error reply spec §6 names: ProtocolError{reason,
// context}. PeerUpdate additionally carries the replying peer's own
// latestUpdate on a StaleUpdate reply (spec §4.3 step 3: "reply
// StaleUpdate with our latestUpdate so the peer can sync"), the input the
// syncer (spec §4.4) needs.
type ProtocolError struct {
	RequestID  uuid.UUID
	Reason     chanerrors.Reason
	Context    string
	PeerUpdate *chanstate.ChannelUpdate
}

func (m *ProtocolError) Encode(w io.Writer, pver uint32) error {
	if err := WriteElements(w,
		m.RequestID[:],
		string(m.Reason),
		m.Context,
	); err != nil {
		return err
	}
	return EncodeUpdate(w, m.PeerUpdate)
}

func (m *ProtocolError) Decode(r io.Reader, pver uint32) error {
	var reason string
	if err := ReadElements(r, m.RequestID[:], &reason, &m.Context); err != nil {
		return err
	}
	m.Reason = chanerrors.Reason(reason)
	return DecodeUpdate(r, &m.PeerUpdate)
}

func (m *ProtocolError) MsgType() MessageType { return MsgProtocolError }

func (m *ProtocolError) MaxPayloadLength(uint32) uint32 { return 4096 }

// maxUpdatePayload bounds a ChannelUpdate's wire size generously: the
// largest field is TransferState/TransferResolver, which in practice never
// approaches this ceiling (spec's transfer states are small fixed-shape
// predicates, not arbitrary blobs).
const maxUpdatePayload = 64 * 1024

// NewRequestID returns a fresh correlation id for an outbound
// ProtocolUpdate, per spec §5 "each request carries the channel address and
// must correlate replies to requests".
func NewRequestID() uuid.UUID {
	return uuid.New()
}

var _ Message = (*ProtocolUpdate)(nil)
var _ Message = (*ProtocolUpdateAck)(nil)
var _ Message = (*ProtocolError)(nil)

// errUnknownMessageType is returned by ReadMessage when a frame's type tag
// doesn't match any known message.
var errUnknownMessageType = errors.New("chanwire: unknown message type")
