package notification

import (
	"context"
	"fmt"
	"sync"

	"github.com/dosewatch/meds-reminder/internal/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSink renders notification payloads as messages in one chat.
//
// An AlertOnce payload edits the displayed message in place, which updates
// the text without a new notification sound on the client; anything else
// deletes the old message and sends a fresh one so the user gets a tone.
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	chatID int64

	mu        sync.Mutex
	messageID int // 0 when nothing is displayed
}

func NewTelegramSink(api *tgbotapi.BotAPI, chatID int64) *TelegramSink {
	return &TelegramSink{api: api, chatID: chatID}
}

func (s *TelegramSink) Show(ctx context.Context, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := fmt.Sprintf("*%s*\n%s", p.Title, p.Body)
	if p.Badge > 1 {
		text += fmt.Sprintf("\n\n_(напоминаний: %d)_", p.Badge)
	}

	if p.AlertOnce && s.messageID != 0 {
		edit := tgbotapi.NewEditMessageText(s.chatID, s.messageID, text)
		edit.ParseMode = tgbotapi.ModeMarkdown
		if _, err := s.api.Send(edit); err != nil {
			// "message is not modified" is expected when the content hash
			// matched but telegram sees identical text.
			logger.Debug("Notification edit skipped", "error", err)
		}
		return nil
	}

	if s.messageID != 0 {
		if _, err := s.api.Request(tgbotapi.NewDeleteMessage(s.chatID, s.messageID)); err != nil {
			logger.Warn("Failed to delete stale notification", "error", err)
		}
		s.messageID = 0
	}

	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	sent, err := s.api.Send(msg)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	s.messageID = sent.MessageID
	return nil
}

func (s *TelegramSink) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.messageID == 0 {
		return nil
	}
	if _, err := s.api.Request(tgbotapi.NewDeleteMessage(s.chatID, s.messageID)); err != nil {
		logger.Warn("Failed to delete notification", "error", err)
	}
	s.messageID = 0
	return nil
}
