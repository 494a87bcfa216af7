package protocol

import (
	"errors"
	"fmt"
)

const (
	// Validation.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrBadClass   = "E_BAD_CLASS"
	ErrBadEnemy   = "E_BAD_ENEMY"
	ErrBadLevel   = "E_BAD_LEVEL"
	ErrBadAmount  = "E_BAD_AMOUNT"

	// Character state.
	ErrNoCharacter     = "E_NO_CHARACTER"
	ErrCharacterExists = "E_CHARACTER_EXISTS"
	ErrNotAlive        = "E_NOT_ALIVE"
	ErrAlive           = "E_ALIVE"
	ErrInCombat        = "E_IN_COMBAT"
	ErrNotInCombat     = "E_NOT_IN_COMBAT"
	ErrCooldown        = "E_COOLDOWN"
	ErrFullHealth      = "E_FULL_HEALTH"

	// Funds.
	ErrInsufficientFee  = "E_INSUFFICIENT_FEE"
	ErrInsufficientPool = "E_INSUFFICIENT_POOL"
	ErrTransferFailed   = "E_TRANSFER_FAILED"

	// Leaderboard.
	ErrNoRoot          = "E_NO_ROOT"
	ErrRootExists      = "E_ROOT_EXISTS"
	ErrAlreadyClaimed  = "E_ALREADY_CLAIMED"
	ErrClaimInProgress = "E_CLAIM_IN_PROGRESS"
	ErrInvalidProof    = "E_INVALID_PROOF"
	ErrDisputeWindow   = "E_DISPUTE_WINDOW"

	// Transport.
	ErrRateLimit = "E_RATE_LIMIT"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:       {},
	ErrBadClass:         {},
	ErrBadEnemy:         {},
	ErrBadLevel:         {},
	ErrBadAmount:        {},
	ErrNoCharacter:      {},
	ErrCharacterExists:  {},
	ErrNotAlive:         {},
	ErrAlive:            {},
	ErrInCombat:         {},
	ErrNotInCombat:      {},
	ErrCooldown:         {},
	ErrFullHealth:       {},
	ErrInsufficientFee:  {},
	ErrInsufficientPool: {},
	ErrTransferFailed:   {},
	ErrNoRoot:           {},
	ErrRootExists:       {},
	ErrAlreadyClaimed:   {},
	ErrClaimInProgress:  {},
	ErrInvalidProof:     {},
	ErrDisputeWindow:    {},
	ErrRateLimit:        {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Error is a rejected operation. Code is stable across releases; Reason is for humans.
type Error struct {
	Code   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return e.Code + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, protocol.Errorf(code, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code string, err error, reason string) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, ErrInternal for
// other non-nil errors, and "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}

// ReasonOf mirrors CodeOf for the human-readable part.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}
