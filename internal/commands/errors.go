package commands

import (
	"errors"
	"fmt"

	"github.com/suspectuso/tipbot/internal/amount"
	"github.com/suspectuso/tipbot/internal/ledger"
	"github.com/suspectuso/tipbot/internal/packet"
	"github.com/suspectuso/tipbot/internal/sweeper"
	"github.com/suspectuso/tipbot/internal/transfer"
)

// replyError carries text meant for the user as-is.
type replyError struct {
	text string
}

func (e *replyError) Error() string { return e.text }

func replyf(format string, args ...any) error {
	return &replyError{text: fmt.Sprintf(format, args...)}
}

func outcome(err error) string {
	var re *replyError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &re):
		return "rejected"
	case isUserError(err):
		return "rejected"
	default:
		return "error"
	}
}

func isUserError(err error) bool {
	for _, target := range []error{
		amount.ErrNotANumber, amount.ErrNonPositive, amount.ErrOverMaximum, amount.ErrInsufficientBalance,
		packet.ErrPacketInProgress, packet.ErrNoActivePacket, packet.ErrSelfClaim, packet.ErrAlreadyClaimed,
		packet.ErrCreatorInsufficientFunds, packet.ErrInvalidShareCount, packet.ErrShareTooSmall,
		ledger.ErrTransferPending, ledger.ErrInvalidAddress, ledger.ErrBelowFee,
		transfer.ErrSelfTransfer, sweeper.ErrInvalidDuration,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// errorText renders err for the user. Unexpected errors are logged and
// reported generically.
func (r *Router) errorText(verb string, req Request, err error) string {
	var re *replyError
	if errors.As(err, &re) {
		return re.text
	}

	var inProgress *packet.InProgressError
	switch {
	case errors.As(err, &inProgress):
		return fmt.Sprintf("Can't create a new packet, the previous one is still in progress!\n<b>%d/%d opened</b>\n<b>%d minutes left</b>",
			inProgress.Claimed, inProgress.Shares, int(inProgress.Remaining.Minutes())+1)
	case errors.Is(err, amount.ErrNotANumber):
		return "Error: incorrect amount"
	case errors.Is(err, amount.ErrOverMaximum):
		return "What? Over the maximum!"
	case errors.Is(err, amount.ErrNonPositive):
		return fmt.Sprintf("Amount should be at least 0.00000001 %s", r.symbol())
	case errors.Is(err, amount.ErrInsufficientBalance):
		return "Your balance is too low"
	case errors.Is(err, amount.ErrRateUnavailable):
		return "Error getting the currency rate, try again later"
	case errors.Is(err, packet.ErrNoActivePacket):
		return "Sorry, no packet to <code>open</code> in this channel!"
	case errors.Is(err, packet.ErrSelfClaim):
		return "You can't <code>open</code> your own packet ..."
	case errors.Is(err, packet.ErrAlreadyClaimed):
		return "You can't <code>open</code> this packet a second time ..."
	case errors.Is(err, packet.ErrCreatorInsufficientFunds):
		return "Not enough funds in the tipper's account!"
	case errors.Is(err, packet.ErrShareTooSmall):
		return "The amount is too small to split that many ways"
	case errors.Is(err, packet.ErrInvalidShareCount):
		return fmt.Sprintf("%d people is the maximum per packet!", r.opts.MaxShares)
	case errors.Is(err, ledger.ErrTransferPending):
		return "A transfer to this address is still pending, try again after the next block"
	case errors.Is(err, ledger.ErrInvalidAddress):
		return "Invalid withdrawal address! Only addresses starting with 0x are supported."
	case errors.Is(err, ledger.ErrBelowFee):
		return fmt.Sprintf("The amount must be larger than the %s %s fee", r.fmtAmount(r.ledger.TxCost()), r.symbol())
	case errors.Is(err, transfer.ErrSelfTransfer):
		return "You can't tip yourself ..."
	case errors.Is(err, sweeper.ErrInvalidDuration):
		return "Minutes must be between 1 and 100. Suspend failed."
	case errors.Is(err, transfer.ErrDebitFailed), errors.Is(err, transfer.ErrCreditFailed):
		r.log.Error("transfer failed", "command", verb, "sender", req.SenderID, "error", err)
		return "Sending failed. Try again later."
	}

	r.log.Error("command failed", "command", verb, "sender", req.SenderID, "channel", req.ChannelID, "error", err)
	return "Something went wrong, try again later."
}
