package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/AyanbekDos/smeta-2/internal/httpclient"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ternarybob/arbor"
)

// Button is one inline keyboard button
type Button struct {
	Text string
	Data string
}

// Messenger sends chat output and fetches attachments
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendButtons(ctx context.Context, chatID int64, text string, buttons []Button) error
	SendPhoto(ctx context.Context, chatID int64, name string, data []byte, caption string, buttons []Button) error
	SendDocument(ctx context.Context, chatID int64, name string, data []byte) error
	ClearButtons(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID string) error
	Download(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

// EventSource yields inbound events until ctx is done
type EventSource interface {
	Listen(ctx context.Context) <-chan Event
}

// TelegramClient implements Messenger and EventSource on the Bot API
type TelegramClient struct {
	api         *tgbotapi.BotAPI
	http        *http.Client
	pollTimeout int
	logger      arbor.ILogger
}

// NewTelegramClient authenticates with the Bot API
func NewTelegramClient(token string, pollTimeout int, debug bool, logger arbor.ILogger) (*TelegramClient, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	api.Debug = debug

	if pollTimeout <= 0 {
		pollTimeout = 60
	}

	logger.Info().
		Str("username", api.Self.UserName).
		Int("poll_timeout", pollTimeout).
		Msg("Telegram bot authorized")

	return &TelegramClient{
		api:         api,
		http:        httpclient.NewDefaultHTTPClient(2 * time.Minute),
		pollTimeout: pollTimeout,
		logger:      logger,
	}, nil
}

// Listen starts long polling. The channel closes after ctx is done.
func (c *TelegramClient) Listen(ctx context.Context) <-chan Event {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = c.pollTimeout
	updates := c.api.GetUpdatesChan(u)

	events := make(chan Event)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				c.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				ev, ok := eventFromUpdate(update)
				if !ok {
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					c.api.StopReceivingUpdates()
					return
				}
			}
		}
	}()
	return events
}

func (c *TelegramClient) SendText(_ context.Context, chatID int64, text string) error {
	_, err := c.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (c *TelegramClient) SendButtons(_ context.Context, chatID int64, text string, buttons []Button) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard(buttons)
	_, err := c.api.Send(msg)
	return err
}

func (c *TelegramClient) SendPhoto(_ context.Context, chatID int64, name string, data []byte, caption string, buttons []Button) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	photo.Caption = caption
	if len(buttons) > 0 {
		photo.ReplyMarkup = keyboard(buttons)
	}
	_, err := c.api.Send(photo)
	return err
}

func (c *TelegramClient) SendDocument(_ context.Context, chatID int64, name string, data []byte) error {
	_, err := c.api.Send(tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data}))
	return err
}

func (c *TelegramClient) ClearButtons(_ context.Context, chatID int64, messageID int) error {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	_, err := c.api.Request(edit)
	return err
}

func (c *TelegramClient) AnswerCallback(_ context.Context, callbackID string) error {
	_, err := c.api.Request(tgbotapi.NewCallback(callbackID, ""))
	return err
}

// Download fetches an attachment, failing when it exceeds maxBytes
func (c *TelegramClient) Download(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	url, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if err := httpclient.CheckStatus(resp, http.StatusOK, "telegram file download"); err != nil {
		return nil, err
	}

	data, err := httpclient.ReadLimited(resp.Body, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

func keyboard(buttons []Button) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
