// Package chanerrors implements the error taxonomy from spec §7: every
// fallible operation in the update engine returns an *Error carrying a
// Category plus structured context, rather than a bare error string.
package chanerrors

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Category classifies an error the way spec §7 distinguishes them, so
// callers can decide whether to retry, surface to the counterparty, or
// treat as fatal.
type Category int

const (
	// CategoryTransient covers chain-RPC failures and messaging timeouts.
	// Retried up to a bounded count by the caller.
	CategoryTransient Category = iota
	// CategoryProtocol covers StaleUpdate, RestoreNeeded, CannotSync*,
	// BadSignatures.
	CategoryProtocol
	// CategoryValidation covers per-type rule violations.
	CategoryValidation
	// CategoryStore covers store read/write failures.
	CategoryStore
	// CategoryFatal covers signature-verification failures on durable
	// state.
	CategoryFatal
)

func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryProtocol:
		return "protocol"
	case CategoryValidation:
		return "validation"
	case CategoryStore:
		return "store"
	case CategoryFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Reason enumerates the protocol-error reasons named in spec §6/§7.
type Reason string

const (
	ReasonStaleUpdate            Reason = "StaleUpdate"
	ReasonRestoreNeeded          Reason = "RestoreNeeded"
	ReasonCannotSyncSetup        Reason = "CannotSyncSetup"
	ReasonCannotSyncSingleSigned Reason = "CannotSyncSingleSigned"
	ReasonBadSignatures          Reason = "BadSignatures"
	ReasonValidationFailed       Reason = "ValidationFailed"
	ReasonInvalidResolve         Reason = "InvalidResolve"
	ReasonSaveChannelFailed      Reason = "SaveChannelFailed"
	ReasonStoreFailure           Reason = "StoreFailure"
)

// Error is the structured error every exported operation in this module
// returns on failure. It carries enough context (channel, nonce, update
// type, counterparty error) for a caller to log and correlate, per spec §7.
type Error struct {
	Category       Category
	Reason         Reason
	ChannelAddress common.Address
	Nonce          uint64
	UpdateType     string
	Method         string
	Err            error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s[%s] channel=%s nonce=%d type=%q method=%q: %v",
		e.Category, e.Reason, e.ChannelAddress.Hex(), e.Nonce, e.UpdateType,
		e.Method, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, chanerrors.ReasonStaleUpdate-shaped-sentinel) work
// by comparing Reason when the target is also an *Error with a Reason set
// and no other distinguishing fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Reason == "" {
		return false
	}
	return e.Reason == t.Reason
}

// New builds a structured Error, wrapping err with pkg/errors for a stack
// trace the way the rest of this module wraps internal failures.
func New(category Category, reason Reason, method string, err error) *Error {
	return &Error{
		Category: category,
		Reason:   reason,
		Method:   method,
		Err:      errors.WithStack(err),
	}
}

// WithContext returns a copy of e annotated with channel/nonce/update-type
// context, used once the caller knows which channel an error pertains to.
func (e *Error) WithContext(channel common.Address, nonce uint64, updateType string) *Error {
	cp := *e
	cp.ChannelAddress = channel
	cp.Nonce = nonce
	cp.UpdateType = updateType
	return &cp
}

// Sentinel reason-only errors, used with errors.Is at call sites that only
// care about the reason, e.g. errors.Is(err, ErrStaleUpdate).
var (
	ErrStaleUpdate            = &Error{Category: CategoryProtocol, Reason: ReasonStaleUpdate}
	ErrRestoreNeeded          = &Error{Category: CategoryProtocol, Reason: ReasonRestoreNeeded}
	ErrCannotSyncSetup        = &Error{Category: CategoryProtocol, Reason: ReasonCannotSyncSetup}
	ErrCannotSyncSingleSigned = &Error{Category: CategoryProtocol, Reason: ReasonCannotSyncSingleSigned}
	ErrBadSignatures          = &Error{Category: CategoryProtocol, Reason: ReasonBadSignatures}
	ErrInvalidResolve         = &Error{Category: CategoryValidation, Reason: ReasonInvalidResolve}
)
