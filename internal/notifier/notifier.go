package notifier

import (
	"context"
	"log/slog"
	"strings"
)

// Sender delivers a formatted message to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// Notifier sends private messages to users and audit lines to the log channel.
// Delivery failures are logged and never reach the caller.
type Notifier struct {
	sender     Sender
	logChannel string
	log        *slog.Logger
}

// New creates a new Notifier. An empty logChannel keeps audit lines in the
// process log only.
func New(sender Sender, logChannel string, log *slog.Logger) *Notifier {
	return &Notifier{
		sender:     sender,
		logChannel: strings.TrimSpace(logChannel),
		log:        log,
	}
}

// Direct sends text to the private chat of userID.
func (n *Notifier) Direct(ctx context.Context, userID, text string) {
	if userID == "" {
		return
	}
	if err := n.sender.SendText(ctx, userID, text); err != nil {
		// users who never opened a private chat with the bot cannot be messaged
		n.log.Warn("send direct message", "user_id", userID, "error", err)
	}
}

// Audit records a privileged action.
func (n *Notifier) Audit(ctx context.Context, text string) {
	n.log.Info("audit", "text", text)

	if n.logChannel == "" {
		return
	}
	if err := n.sender.SendText(ctx, n.logChannel, text); err != nil {
		n.log.Error("send audit message", "channel", n.logChannel, "error", err)
	}
}
