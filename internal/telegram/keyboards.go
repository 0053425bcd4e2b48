package telegram

import (
	"strings"

	"github.com/go-telegram/bot/models"
)

const openPrefix = "open:"

// OpenKeyboard returns the button attached to a packet announcement.
func OpenKeyboard(packetID string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🧧 Open", CallbackData: openPrefix + packetID},
			},
		},
	}
}

// packetFromCallback extracts the packet id from button data.
func packetFromCallback(data string) (string, bool) {
	id, ok := strings.CutPrefix(data, openPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
