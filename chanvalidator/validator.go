package chanvalidator

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/decred/dcrlnd-statechannel/chainreader"
	"github.com/decred/dcrlnd-statechannel/chancrypto"
	"github.com/decred/dcrlnd-statechannel/chanerrors"
	"github.com/decred/dcrlnd-statechannel/chanlog"
	"github.com/decred/dcrlnd-statechannel/chanstate"
	"github.com/decred/dcrlnd-statechannel/externalvalidator"
)

var log = chanlog.Disabled()

// UseLogger sets the package-level logger.
func UseLogger(logger chanlog.Logger) {
	log = logger
}

// Validator is the heart of the engine (spec §4.1): given
// (signer, previousState, activeTransfers, params) it produces either a
// validated next state plus the single-signed derived update, or an error.
// It is deliberately stateless beyond its collaborators - every method is a
// pure function of its arguments plus a chain read and a signature.
type Validator struct {
	Chain    chainreader.ChainReader
	External externalvalidator.Validator
	Signer   *chancrypto.Signer
	Me       common.Address
}

// New builds a Validator. external may be nil, in which case
// externalvalidator.AcceptAll{} is used (spec §4.4: "defaults to
// accept-all").
func New(chain chainreader.ChainReader, external externalvalidator.Validator, signer *chancrypto.Signer) *Validator {
	if external == nil {
		external = externalvalidator.AcceptAll{}
	}
	return &Validator{
		Chain:    chain,
		External: external,
		Signer:   signer,
		Me:       signer.Address(),
	}
}

// normalize applies the one-time asset-id-casing migration (spec §4.1.4)
// whenever a channel state is read, and is a no-op if there's nothing to
// merge.
func normalize(c *chanstate.ChannelState) *chanstate.ChannelState {
	if c == nil {
		return nil
	}
	if chanstate.HasDuplicateAssetIDs(c) {
		log.Infof("merging duplicate-cased asset ids on channel %s", c.ChannelAddress.Hex())
		return chanstate.NormalizeAssetIDs(c)
	}
	return c
}

// checkOutboundPreconditions applies spec §4.1.1 rules 1-4 to an outbound
// proposal.
func checkOutboundPreconditions(prev *chanstate.ChannelState, updateType chanstate.UpdateType, proposer common.Address) error {
	if updateType == chanstate.UpdateSetup {
		if prev != nil {
			return chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
				"checkOutboundPreconditions", errors.New("channel already exists"))
		}
		return nil
	}

	if prev == nil {
		return chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"checkOutboundPreconditions", errors.New("channel does not exist"))
	}
	if proposer != prev.Alice && proposer != prev.Bob {
		return chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"checkOutboundPreconditions", errors.New("proposer is not a channel participant"))
	}
	return nil
}

// signUpdate computes H(nextState) and signs it with v.Signer, filling in
// the signature field that belongs to v.Me (spec §4.1.5).
func (v *Validator) signUpdate(next *chanstate.ChannelState, update *chanstate.ChannelUpdate) error {
	digest, err := HashCoreState(next)
	if err != nil {
		return errors.WithMessage(err, "hashing next state for signing")
	}
	sig, err := v.Signer.Sign(digest)
	if err != nil {
		return errors.WithMessage(err, "signing next state")
	}

	switch v.Me {
	case next.Alice:
		update.AliceSignature = sig
	case next.Bob:
		update.BobSignature = sig
	default:
		return errors.New("chanvalidator: signer is not a channel participant")
	}
	return nil
}

// Setup validates and applies an outbound spec §4.1.2 "setup" proposal.
// prev must be nil (the channel must not already exist, spec §4.1.1 rule 1).
func (v *Validator) Setup(ctx context.Context, params SetupParams) (*Result, error) {
	if err := checkOutboundPreconditions(nil, chanstate.UpdateSetup, v.Me); err != nil {
		return nil, err
	}

	next, err := applySetup(params)
	if err != nil {
		return nil, chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed, "Setup", err)
	}

	fromID, toID := params.AliceIdentifier, params.BobIdentifier
	if v.Me == params.Bob {
		fromID, toID = params.BobIdentifier, params.AliceIdentifier
	}
	update := setupUpdate(next, fromID, toID, params)

	if err := v.External.ValidateOutbound(ctx, update, nil, nil); err != nil {
		return nil, chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed, "Setup", err)
	}

	if err := v.signUpdate(next, update); err != nil {
		return nil, err
	}

	return &Result{Update: update, NextState: next}, nil
}

// Deposit validates and applies an outbound spec §4.1.2 "deposit".
func (v *Validator) Deposit(ctx context.Context, prev *chanstate.ChannelState,
	activeTransfers []*chanstate.Transfer, params DepositParams) (*Result, error) {

	prev = normalize(prev)
	if err := checkOutboundPreconditions(prev, chanstate.UpdateDeposit, v.Me); err != nil {
		return nil, err
	}
	if params.ChannelAddress != prev.ChannelAddress {
		return nil, chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"Deposit", errors.New("channel address mismatch"))
	}

	next, update, err := applyDeposit(ctx, v.Chain, prev, params)
	if err != nil {
		return nil, chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed, "Deposit", err).
			WithContext(prev.ChannelAddress, prev.Nonce+1, string(chanstate.UpdateDeposit))
	}
	update.FromIdentifier, update.ToIdentifier = identifiers(prev, v.Me)

	if err := v.External.ValidateOutbound(ctx, update, prev, activeTransfers); err != nil {
		return nil, chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed, "Deposit", err)
	}

	if err := v.signUpdate(next, update); err != nil {
		return nil, err
	}

	return &Result{Update: update, NextState: next, NextActiveTransfers: activeTransfers}, nil
}

// Create validates and applies an outbound spec §4.1.2 "create".
func (v *Validator) Create(ctx context.Context, prev *chanstate.ChannelState,
	activeTransfers []*chanstate.Transfer, params CreateParams) (*Result, error) {

	prev = normalize(prev)
	if err := checkOutboundPreconditions(prev, chanstate.UpdateCreate, v.Me); err != nil {
		return nil, err
	}

	next, update, transfer, nextActive, err := applyCreate(ctx, v.Chain, prev, activeTransfers, v.Me, params)
	if err != nil {
		return nil, err
	}
	update.FromIdentifier, update.ToIdentifier = identifiers(prev, v.Me)

	if err := v.External.ValidateOutbound(ctx, update, prev, activeTransfers); err != nil {
		return nil, chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed, "Create", err)
	}

	if err := v.signUpdate(next, update); err != nil {
		return nil, err
	}

	return &Result{Update: update, NextState: next, UpdatedTransfer: transfer, NextActiveTransfers: nextActive}, nil
}

// Resolve validates and applies an outbound spec §4.1.2 "resolve".
func (v *Validator) Resolve(ctx context.Context, prev *chanstate.ChannelState,
	activeTransfers []*chanstate.Transfer, params ResolveParams) (*Result, error) {

	prev = normalize(prev)
	if err := checkOutboundPreconditions(prev, chanstate.UpdateResolve, v.Me); err != nil {
		return nil, err
	}

	next, update, transfer, nextActive, err := applyResolve(ctx, v.Chain, prev, activeTransfers, params)
	if err != nil {
		return nil, err
	}
	update.FromIdentifier, update.ToIdentifier = identifiers(prev, v.Me)

	if err := v.External.ValidateOutbound(ctx, update, prev, activeTransfers); err != nil {
		return nil, chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed, "Resolve", err)
	}

	if err := v.signUpdate(next, update); err != nil {
		return nil, err
	}

	return &Result{Update: update, NextState: next, UpdatedTransfer: transfer, NextActiveTransfers: nextActive}, nil
}

// ValidateInbound validates and applies an update received from the peer
// (spec §4.1, §4.3 step 4): it must be single- or double-signed, its
// nonce must be prev.Nonce+1 (sync handling is the engine's job, not the
// validator's - by the time this is called the caller has already
// resolved which update to apply next), and the sender's signature over
// H(nextState) must verify.
func (v *Validator) ValidateInbound(ctx context.Context, prev *chanstate.ChannelState,
	activeTransfers []*chanstate.Transfer, update *chanstate.ChannelUpdate) (*Result, error) {

	prev = normalize(prev)

	if err := checkOutboundPreconditions(prev, update.Type, senderOf(update, prev)); err != nil {
		return nil, err
	}

	expectedNonce := uint64(1)
	if prev != nil {
		expectedNonce = prev.Nonce + 1
	}
	if update.Nonce != expectedNonce {
		return nil, chanerrors.New(chanerrors.CategoryProtocol, chanerrors.ReasonStaleUpdate,
			"ValidateInbound", errors.Errorf("expected nonce %d, got %d", expectedNonce, update.Nonce))
	}

	var (
		next            *chanstate.ChannelState
		derived         *chanstate.ChannelUpdate
		updatedTransfer *chanstate.Transfer
		nextActive      []*chanstate.Transfer
		err             error
	)

	switch update.Type {
	case chanstate.UpdateSetup:
		details, ok := update.Details.(chanstate.SetupDetails)
		if !ok {
			return nil, errors.New("chanvalidator: setup update missing SetupDetails")
		}
		alice, bob := update.Balance.To[0], update.Balance.To[1]
		params := SetupParams{
			Alice: alice, Bob: bob,
			AliceIdentifier: update.FromIdentifier, BobIdentifier: update.ToIdentifier,
			Timeout:        details.Timeout,
			NetworkContext: details.NetworkContext,
			Meta:           details.Meta,
		}
		next, err = applySetup(params)
		if err == nil && next.ChannelAddress != update.ChannelAddress {
			return nil, chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
				"ValidateInbound", errors.Errorf("derived channel address %s does not match proposed %s",
					next.ChannelAddress.Hex(), update.ChannelAddress.Hex()))
		}
		derived = update
	case chanstate.UpdateDeposit:
		details, ok := update.Details.(chanstate.DepositDetails)
		if !ok {
			return nil, errors.New("chanvalidator: deposit update missing DepositDetails")
		}
		next, derived, err = applyDeposit(ctx, v.Chain, prev, DepositParams{
			ChannelAddress: update.ChannelAddress,
			AssetID:        update.AssetID,
			Meta:           details.Meta,
		})
		nextActive = activeTransfers
	case chanstate.UpdateCreate:
		details, ok := update.Details.(chanstate.CreateDetails)
		if !ok {
			return nil, errors.New("chanvalidator: create update missing CreateDetails")
		}
		next, derived, updatedTransfer, nextActive, err = applyCreate(ctx, v.Chain, prev, activeTransfers,
			senderOf(update, prev), CreateParams{
				ChannelAddress:       update.ChannelAddress,
				AssetID:              update.AssetID,
				TransferDefinition:   details.TransferDefinition,
				TransferInitialState: details.TransferInitialState,
				TransferEncodings:    details.TransferEncodings,
				InitialBalance:       details.Balance,
				TransferTimeout:      details.TransferTimeout,
				Meta:                 details.Meta,
			})
		if err == nil {
			// Adopt the proposer's transfer id in place of the fresh random
			// one applyCreate draws, so both sides store the same id.
			updatedTransfer.TransferID = details.TransferID
			created := derived.Details.(chanstate.CreateDetails)
			created.TransferID = details.TransferID
			derived.Details = created
		}
	case chanstate.UpdateResolve:
		details, ok := update.Details.(chanstate.ResolveDetails)
		if !ok {
			return nil, errors.New("chanvalidator: resolve update missing ResolveDetails")
		}
		next, derived, updatedTransfer, nextActive, err = applyResolve(ctx, v.Chain, prev, activeTransfers, ResolveParams{
			ChannelAddress:   update.ChannelAddress,
			TransferID:       details.TransferID,
			TransferResolver: details.TransferResolver,
		})
	default:
		return nil, chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed,
			"ValidateInbound", errors.Errorf("unknown update type %q", update.Type))
	}
	if err != nil {
		return nil, err
	}

	if err := v.External.ValidateInbound(ctx, update, prev, activeTransfers); err != nil {
		return nil, chanerrors.New(chanerrors.CategoryValidation, chanerrors.ReasonValidationFailed, "ValidateInbound", err)
	}

	// Verify the sender's signature over H(nextState) (spec §4.3 step 4).
	digest, err := HashCoreState(next)
	if err != nil {
		return nil, errors.WithMessage(err, "hashing next state")
	}
	senderAddr := senderOf(update, prev)
	senderSig := update.AliceSignature
	if senderAddr == next.Bob {
		senderSig = update.BobSignature
	}
	if len(senderSig) == 0 {
		return nil, chanerrors.New(chanerrors.CategoryFatal, chanerrors.ReasonBadSignatures,
			"ValidateInbound", errors.New("inbound update missing sender signature"))
	}
	ok, err := chancrypto.Verify(digest, senderSig, senderAddr)
	if err != nil || !ok {
		return nil, chanerrors.New(chanerrors.CategoryFatal, chanerrors.ReasonBadSignatures,
			"ValidateInbound", errors.New("sender signature does not verify"))
	}

	// Countersign with our own key.
	if err := v.signUpdate(next, derived); err != nil {
		return nil, err
	}
	// Preserve the sender's original signature alongside our countersignature.
	if senderAddr == next.Alice {
		derived.AliceSignature = senderSig
	} else {
		derived.BobSignature = senderSig
	}
	derived.FromIdentifier, derived.ToIdentifier = update.FromIdentifier, update.ToIdentifier

	return &Result{Update: derived, NextState: next, UpdatedTransfer: updatedTransfer, NextActiveTransfers: nextActive}, nil
}

// VerifyBilateral checks that both signatures on update verify against
// H(core(next)) (spec's "For any durable state persisted by the engine,
// both aliceSignature and bobSignature ... verify").
func VerifyBilateral(next *chanstate.ChannelState, update *chanstate.ChannelUpdate) error {
	digest, err := HashCoreState(next)
	if err != nil {
		return errors.WithMessage(err, "hashing state")
	}
	if ok, err := chancrypto.Verify(digest, update.AliceSignature, next.Alice); err != nil || !ok {
		return chanerrors.ErrBadSignatures
	}
	if ok, err := chancrypto.Verify(digest, update.BobSignature, next.Bob); err != nil || !ok {
		return chanerrors.ErrBadSignatures
	}
	return nil
}

func identifiers(c *chanstate.ChannelState, me common.Address) (from, to string) {
	if me == c.Bob {
		return c.BobIdentifier, c.AliceIdentifier
	}
	return c.AliceIdentifier, c.BobIdentifier
}

// senderOf determines which participant a received update came from. For
// setup (or with no prior state) the sender is taken to be Balance.To[0],
// Alice, whenever FromIdentifier is set and To[0] is non-zero, and
// Balance.To[1] otherwise; FromIdentifier is not matched against either
// address. For every other type it is prev.Alice if FromIdentifier equals
// prev.AliceIdentifier, and prev.Bob otherwise.
func senderOf(update *chanstate.ChannelUpdate, prev *chanstate.ChannelState) common.Address {
	if update.Type == chanstate.UpdateSetup || prev == nil {
		if update.FromIdentifier != "" && update.Balance.To[0] != (common.Address{}) {
			return update.Balance.To[0]
		}
		return update.Balance.To[1]
	}
	if update.FromIdentifier == prev.AliceIdentifier {
		return prev.Alice
	}
	return prev.Bob
}
