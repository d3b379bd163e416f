package bot

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Event is one inbound chat interaction, decoupled from the Telegram types
type Event struct {
	UserID     int64
	ChatID     int64
	MessageID  int
	Text       string
	Command    string
	Document   *DocumentRef
	Callback   string
	CallbackID string
}

// DocumentRef references a file attached to a message
type DocumentRef struct {
	FileID   string
	FileName string
	MIMEType string
	Size     int64
}

// IsPDF reports whether the attachment looks like a PDF
func (d *DocumentRef) IsPDF() bool {
	if strings.EqualFold(d.MIMEType, "application/pdf") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(d.FileName), ".pdf")
}

// eventFromUpdate converts a Telegram update. Updates without a user are ignored.
func eventFromUpdate(update tgbotapi.Update) (Event, bool) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
			return Event{}, false
		}
		return Event{
			UserID:     cb.From.ID,
			ChatID:     cb.Message.Chat.ID,
			MessageID:  cb.Message.MessageID,
			Callback:   cb.Data,
			CallbackID: cb.ID,
		}, true
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return Event{}, false
	}

	ev := Event{
		UserID:    msg.From.ID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      strings.TrimSpace(msg.Text),
	}
	if msg.IsCommand() {
		ev.Command = msg.Command()
		ev.Text = ""
	}
	if doc := msg.Document; doc != nil {
		ev.Document = &DocumentRef{
			FileID:   doc.FileID,
			FileName: doc.FileName,
			MIMEType: doc.MimeType,
			Size:     int64(doc.FileSize),
		}
	}
	return ev, true
}
