// Package externalvalidator defines the pluggable additional-predicate
// interface spec §4.4/§6 describes: extra checks layered on top of the
// core validator's own rules, applied to every outbound and inbound
// update. Defaults to accept-all.
package externalvalidator

import (
	"context"

	"github.com/decred/dcrlnd-statechannel/chanstate"
)

// Validator is consulted by chanvalidator after its own rules pass, and
// before a proposed or received update is applied.
type Validator interface {
	// ValidateOutbound is called for a locally-proposed update, with the
	// params already resolved into a candidate ChannelUpdate (the one the
	// core validator is about to sign), the previous state, and the
	// active-transfer set it would apply against.
	ValidateOutbound(ctx context.Context, candidate *chanstate.ChannelUpdate,
		prevState *chanstate.ChannelState, activeTransfers []*chanstate.Transfer) error

	// ValidateInbound is called for a received update before it is
	// applied locally.
	ValidateInbound(ctx context.Context, update *chanstate.ChannelUpdate,
		prevState *chanstate.ChannelState, activeTransfers []*chanstate.Transfer) error
}

// AcceptAll is the default Validator: every update passes.
type AcceptAll struct{}

func (AcceptAll) ValidateOutbound(context.Context, *chanstate.ChannelUpdate,
	*chanstate.ChannelState, []*chanstate.Transfer) error {
	return nil
}

func (AcceptAll) ValidateInbound(context.Context, *chanstate.ChannelUpdate,
	*chanstate.ChannelState, []*chanstate.Transfer) error {
	return nil
}

var _ Validator = AcceptAll{}
