// Package telegram adapts the Telegram Bot API as a connector: long-polled
// ingestion of text, voice, photos, locations, and contacts; native
// rendering of selections (reply keyboards) and links (inline keyboards).
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"

	"aviary/pkg/api"
)

// MessageLimit is Telegram's hard cap per message bubble. Longer replies
// are split into consecutive bubbles.
const MessageLimit = 4096

// Connector is the Telegram platform adapter.
type Connector struct {
	token      string
	bot        *tgbotapi.BotAPI
	sink       api.MessageSink
	paused     atomic.Bool
	stopCtx    context.Context
	stopCancel context.CancelFunc
}

// New authenticates with the bot API and builds the connector.
func New(token string) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	ctx, cancel := context.WithCancel(context.Background())
	return &Connector{
		token:      token,
		bot:        bot,
		stopCtx:    ctx,
		stopCancel: cancel,
	}, nil
}

// Name implements api.Connector.
func (c *Connector) Name() string { return "telegram" }

// MountRoutes implements api.Connector. Telegram uses long polling, no
// webhook surface.
func (c *Connector) MountRoutes(r *mux.Router) {}

// SetSink implements api.Connector.
func (c *Connector) SetSink(sink api.MessageSink) { c.sink = sink }

// Pause implements api.Connector.
func (c *Connector) Pause() { c.paused.Store(true) }

// Resume implements api.Connector.
func (c *Connector) Resume() { c.paused.Store(false) }

// Capabilities implements api.Connector.
func (c *Connector) Capabilities() api.CapabilitySet {
	return api.CapabilitySet{
		api.OutgoingText:    true,
		api.OutgoingSelect:  true,
		api.OutgoingLink:    true,
		api.OutgoingButtons: true,
		api.OutgoingImage:   true,
		api.OutgoingVoice:   true,
	}
}

// Start launches the long-polling loop. The manual GetUpdates loop (rather
// than GetUpdatesChan) keeps the offset under our control so Stop can abort
// without replaying updates.
func (c *Connector) Start(ctx context.Context) error {
	go func() {
		offset := 0
		for {
			select {
			case <-c.stopCtx.Done():
				return
			default:
			}

			req := tgbotapi.NewUpdate(offset)
			req.Timeout = 50
			updates, err := c.bot.GetUpdates(req)
			if err != nil {
				select {
				case <-c.stopCtx.Done():
					return
				default:
					slog.Debug("Failed to get telegram updates", "error", err)
					time.Sleep(3 * time.Second)
					continue
				}
			}

			for _, update := range updates {
				if update.UpdateID >= offset {
					offset = update.UpdateID + 1
				}
				if update.Message == nil || c.paused.Load() {
					continue
				}
				c.ingest(ctx, update.Message)
			}
		}
	}()
	return nil
}

// Stop aborts the polling loop.
func (c *Connector) Stop() error {
	c.stopCancel()
	return nil
}

func (c *Connector) ingest(ctx context.Context, m *tgbotapi.Message) {
	lead := api.NewLead("telegram", api.Peer{
		ID:   strconv.FormatInt(m.Chat.ID, 10),
		Name: m.From.FirstName,
	})
	if m.From.UserName != "" {
		lead.Metadata["username"] = m.From.UserName
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	msg := api.NewMessage(lead, text)
	msg.ID = strconv.Itoa(m.MessageID)
	msg.Date = int64(m.Date)

	if m.Voice != nil {
		if url, err := c.fileURL(m.Voice.FileID); err == nil {
			msg.Attachments = append(msg.Attachments, api.Attachment{
				Type:     api.AttachmentVoice,
				FileURL:  url,
				MimeType: m.Voice.MimeType,
			})
		} else {
			slog.Error("Failed to resolve voice file", "error", err)
		}
	}
	if len(m.Photo) > 0 {
		best := m.Photo[len(m.Photo)-1]
		if url, err := c.fileURL(best.FileID); err == nil {
			msg.Attachments = append(msg.Attachments, api.Attachment{
				Type:    api.AttachmentImage,
				FileURL: url,
			})
		} else {
			slog.Error("Failed to resolve photo file", "error", err)
		}
	}
	if m.Location != nil {
		msg.Attachments = append(msg.Attachments, api.Attachment{
			Type:      api.AttachmentLocation,
			Latitude:  m.Location.Latitude,
			Longitude: m.Location.Longitude,
		})
	}
	if m.Contact != nil {
		msg.Attachments = append(msg.Attachments, api.Attachment{
			Type: api.AttachmentContact,
			Name: m.Contact.FirstName,
			Raw: map[string]any{
				"phone_number": m.Contact.PhoneNumber,
				"user_id":      m.Contact.UserID,
			},
		})
	}

	c.sink.OnMessage(ctx, msg)
}

func (c *Connector) fileURL(fileID string) (string, error) {
	info, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("get file info: %w", err)
	}
	return info.Link(c.token), nil
}

// Send implements api.Connector.
func (c *Connector) Send(ctx context.Context, msg *api.OutgoingMessage) error {
	chatID, err := strconv.ParseInt(msg.Lead.Peer.ID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q", msg.Lead.Peer.ID)
	}

	switch msg.Type {
	case api.OutgoingSelect:
		return c.sendSelect(chatID, msg)
	case api.OutgoingButtons:
		return c.sendButtons(chatID, msg)
	case api.OutgoingLink:
		return c.sendLinks(chatID, msg)
	case api.OutgoingImage:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(msg.ImageURL))
		photo.Caption = msg.Content
		_, err := c.bot.Send(photo)
		return err
	case api.OutgoingVoice:
		voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "voice.ogg", Bytes: msg.Audio})
		_, err := c.bot.Send(voice)
		return err
	default:
		return c.sendText(chatID, msg.Content)
	}
}

// sendText splits long messages on the platform limit.
func (c *Connector) sendText(chatID int64, text string) error {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	for i := 0; i < len(runes); i += MessageLimit {
		end := i + MessageLimit
		if end > len(runes) {
			end = len(runes)
		}
		if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, string(runes[i:end]))); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

// sendSelect renders options as a one-shot reply keyboard.
func (c *Connector) sendSelect(chatID int64, msg *api.OutgoingMessage) error {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(msg.Options))
	for _, opt := range msg.Options {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(opt)))
	}
	kb := tgbotapi.NewReplyKeyboard(rows...)
	kb.OneTimeKeyboard = true

	out := tgbotapi.NewMessage(chatID, msg.Content)
	out.ReplyMarkup = kb
	_, err := c.bot.Send(out)
	return err
}

// sendButtons renders short choices as a single keyboard row.
func (c *Connector) sendButtons(chatID int64, msg *api.OutgoingMessage) error {
	row := make([]tgbotapi.KeyboardButton, 0, len(msg.Buttons))
	for _, b := range msg.Buttons {
		row = append(row, tgbotapi.NewKeyboardButton(b))
	}
	kb := tgbotapi.NewReplyKeyboard(row)
	kb.OneTimeKeyboard = true

	out := tgbotapi.NewMessage(chatID, msg.Content)
	out.ReplyMarkup = kb
	_, err := c.bot.Send(out)
	return err
}

// sendLinks renders links as inline URL buttons under the text.
func (c *Connector) sendLinks(chatID int64, msg *api.OutgoingMessage) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(msg.Links))
	for _, l := range msg.Links {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(l.Text, l.URL)))
	}

	out := tgbotapi.NewMessage(chatID, msg.Content)
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, err := c.bot.Send(out)
	return err
}
