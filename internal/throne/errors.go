package throne

import "errors"

// Precondition failures. None of them are transient; every failing operation
// leaves the game untouched.
var (
	ErrGameEnded             = errors.New("throne: game has ended")
	ErrInsufficientPayment   = errors.New("throne: payment below claim fee")
	ErrOwnerCannotClaim      = errors.New("throne: owner cannot claim the throne")
	ErrGracePeriodNotElapsed = errors.New("throne: grace period has not elapsed")
	ErrNoActiveRound         = errors.New("throne: no claim has been made this round")
	ErrNoPendingWinnings     = errors.New("throne: no pending winnings")
	ErrTransferFailed        = errors.New("throne: transfer failed")
	ErrNotOwner              = errors.New("throne: caller is not the owner")
	ErrNoFeesToWithdraw      = errors.New("throne: no platform fees to withdraw")
	ErrGameNotEnded          = errors.New("throne: game has not ended")

	ErrInvalidIdentity   = errors.New("throne: invalid identity")
	ErrAmountOverflow    = errors.New("throne: amount overflows balance")
	ErrInvalidConfig     = errors.New("throne: invalid config")
	ErrInvariantViolated = errors.New("throne: invariant violated")

	// ErrInsufficientFunds is returned by payment rails when a claimant's
	// account cannot cover the payment.
	ErrInsufficientFunds = errors.New("throne: insufficient funds")
)

var errorCodes = []struct {
	err  error
	code string
}{
	// Transfer failures wrap the rail's error, so they are matched first.
	{ErrTransferFailed, "transfer_failed"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{ErrGameEnded, "game_ended"},
	{ErrInsufficientPayment, "insufficient_payment"},
	{ErrOwnerCannotClaim, "owner_cannot_claim"},
	{ErrGracePeriodNotElapsed, "grace_period_not_elapsed"},
	{ErrNoActiveRound, "no_active_round"},
	{ErrNoPendingWinnings, "no_pending_winnings"},
	{ErrNotOwner, "not_owner"},
	{ErrNoFeesToWithdraw, "no_fees_to_withdraw"},
	{ErrGameNotEnded, "game_not_ended"},
	{ErrInvalidIdentity, "invalid_identity"},
	{ErrAmountOverflow, "amount_overflow"},
	{ErrInvalidConfig, "invalid_config"},
	{ErrInvariantViolated, "invariant_violated"},
}

// Code returns the stable wire code for err, or "internal" when err is not one
// of the package errors.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}

// FromCode returns the package error for a wire code, or nil when the code
// is unknown.
func FromCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return nil
}
