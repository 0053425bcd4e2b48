package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/tipbot/internal/commands"
)

// Dispatcher runs a parsed command.
type Dispatcher interface {
	Handle(ctx context.Context, req commands.Request) commands.Response
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot        *bot.Bot
	dispatcher Dispatcher
	directory  *Directory
	command    string
	username   string
	log        *slog.Logger
}

// New creates a new telegram bot. command is the prefix that addresses the
// bot in chat, e.g. "/tip".
func New(token, command, username string, dir *Directory, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		directory: dir,
		command:   strings.ToLower(command),
		username:  strings.ToLower(strings.TrimPrefix(username, "@")),
		log:       log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithCallbackQueryDataHandler(openPrefix, bot.MatchTypePrefix, b.callbackHandler),
	}

	tgBot, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot
	return b, nil
}

// SetDispatcher must be called before Start.
func (b *Bot) SetDispatcher(d Dispatcher) {
	b.dispatcher = d
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	b.directory.Record(msg.From)
	for _, e := range msg.Entities {
		if e.Type == models.MessageEntityTypeTextMention {
			b.directory.Record(e.User)
		}
	}

	if msg.Text == "" || b.dispatcher == nil {
		return
	}

	args, ok := b.parseCommand(expandMentions(msg.Text, msg.Entities))
	if !ok {
		return
	}

	req := commands.Request{
		SenderID:   strconv.FormatInt(msg.From.ID, 10),
		SenderName: displayName(msg.From),
		ChannelID:  strconv.FormatInt(msg.Chat.ID, 10),
		Direct:     msg.Chat.Type == models.ChatTypePrivate,
		Args:       args,
	}

	b.log.Debug("command received",
		"sender", req.SenderID,
		"channel", req.ChannelID,
		"direct", req.Direct,
		"verb", firstArg(args),
	)

	resp := b.dispatcher.Handle(ctx, req)
	if resp.Text == "" {
		return
	}

	var keyboard *models.InlineKeyboardMarkup
	if resp.PacketID != "" {
		keyboard = OpenKeyboard(resp.PacketID)
	}
	b.sendMessage(ctx, msg.Chat.ID, resp.Text, keyboard)
}

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	packetID, ok := packetFromCallback(cb.Data)
	if !ok || cb.Message.Message == nil || b.dispatcher == nil {
		b.log.Warn("unknown callback", "data", cb.Data, "user_id", cb.From.ID)
		return
	}

	b.directory.Record(&cb.From)

	chat := cb.Message.Message.Chat
	resp := b.dispatcher.Handle(ctx, commands.Request{
		SenderID:   strconv.FormatInt(cb.From.ID, 10),
		SenderName: displayName(&cb.From),
		ChannelID:  strconv.FormatInt(chat.ID, 10),
		Direct:     chat.Type == models.ChatTypePrivate,
		Args:       []string{"open"},
		PacketID:   packetID,
	})
	if resp.Text != "" {
		b.sendMessage(ctx, chat.ID, resp.Text, nil)
	}
}

// parseCommand returns the tokens after the command prefix. The prefix may
// carry the bot username, as Telegram appends it in groups.
func (b *Bot) parseCommand(text string) ([]string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, false
	}

	head := strings.ToLower(fields[0])
	if name, ok := strings.CutPrefix(head, b.command+"@"); ok {
		if b.username != "" && name != b.username {
			return nil, false
		}
		head = b.command
	}
	if head != b.command {
		return nil, false
	}
	return fields[1:], true
}

// expandMentions replaces text_mention entities (users without a username)
// with "<@id>" tokens. Entity offsets are in UTF-16 code units.
func expandMentions(text string, entities []models.MessageEntity) string {
	var mentions []models.MessageEntity
	for _, e := range entities {
		if e.Type == models.MessageEntityTypeTextMention && e.User != nil {
			mentions = append(mentions, e)
		}
	}
	if len(mentions) == 0 {
		return text
	}

	units := utf16.Encode([]rune(text))

	var out strings.Builder
	pos := 0
	for _, e := range mentions {
		start, end := e.Offset, e.Offset+e.Length
		if start < pos || end > len(units) {
			continue
		}
		out.WriteString(string(utf16.Decode(units[pos:start])))
		fmt.Fprintf(&out, "<@%d>", e.User.ID)
		pos = end
	}
	out.WriteString(string(utf16.Decode(units[pos:])))
	return out.String()
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// SendText sends an HTML message to a user id or channel. Channel ids may be
// numeric or "@channelname".
func (b *Bot) SendText(ctx context.Context, chatID string, text string) error {
	var target any = chatID
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		target = id
	}

	disablePreview := true
	params := &bot.SendMessageParams{
		ChatID:    target,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	}

	_, err := b.bot.SendMessage(ctx, params)
	return err
}
