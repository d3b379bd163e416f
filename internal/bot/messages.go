package bot

import (
	"errors"
	"fmt"

	"github.com/AyanbekDos/smeta-2/internal/interfaces"
)

// User-facing messages
const (
	msgUploadPDF         = "Загрузите PDF-файл для обработки."
	msgFileTooLarge      = "Ошибка: Файл слишком большой. Пожалуйста, загрузите файл размером не более %d МБ."
	msgFileAccepted      = "Файл '%s' принят. Начинаю загрузку..."
	msgTooManyPages      = "Файл слишком большой (%d страниц). Пожалуйста, загрузите документ, содержащий не более %d страниц."
	msgPageCountFailed   = "Не удалось проверить количество страниц в PDF. Файл может быть поврежден."
	msgAnalyzing         = "Файл принят. Провожу первичный анализ..."
	msgUnparseable       = "Не удалось распознать ответ от сервиса анализа. Попробуйте другой файл."
	msgPageNotFound      = "Не удалось найти страницу. Введите номер вручную."
	msgConfirmCaption    = "Это верная таблица (страница %d)?"
	msgConfirmed         = "Отлично! Начинаю обработку..."
	msgEnterPage         = "Введите правильный номер страницы:"
	msgPageAccepted      = "Принято. Начинаю обработку страницы %d..."
	msgInvalidPage       = "Введите корректный номер страницы."
	msgPageRange         = "Введите корректный номер страницы (от 1 до %d)."
	msgCanceled          = "Действие отменено."
	msgNoTable           = "Не удалось найти таблицу на указанной странице."
	msgDelivered         = "Ваша спецификация обработана:"
	msgUnexpected        = "Произошла непредвиденная ошибка при обработке."
	msgAnalysisFailed    = "Ошибка при анализе документа."
	msgContentBlocked    = "Сервис анализа отказался обрабатывать документ. Попробуйте другой файл."
	msgDownloadFailed    = "Не удалось загрузить файл. Попробуйте ещё раз."
	msgFeedbackPrompt    = "Проверьте результат. Всё верно?"
	msgFeedbackThanks    = "Спасибо за отзыв!"
	msgSendFailed        = "Не удалось отправить результат. Попробуйте ещё раз."
)

// Inline button callbacks
const (
	callbackYes         = "yes"
	callbackNo          = "no"
	callbackFeedbackOK  = "feedback_good"
	callbackFeedbackBad = "feedback_bad"
)

var (
	confirmButtons = []Button{
		{Text: "✅ Да", Data: callbackYes},
		{Text: "❌ Нет", Data: callbackNo},
	}
	feedbackButtons = []Button{
		{Text: "👍 Всё верно", Data: callbackFeedbackOK},
		{Text: "👎 Есть ошибки", Data: callbackFeedbackBad},
	}
)

// userMessageFor maps a pipeline error to the message shown to the user
func (b *Bot) userMessageFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, interfaces.ErrNoTableFound):
		return msgNoTable
	case errors.Is(err, interfaces.ErrMalformedModelOutput), errors.Is(err, interfaces.ErrEmptyResponse):
		return msgUnparseable
	case errors.Is(err, interfaces.ErrContentBlocked):
		return msgContentBlocked
	case errors.Is(err, interfaces.ErrModelUnavailable),
		errors.Is(err, interfaces.ErrTimeout),
		errors.Is(err, interfaces.ErrFileProcessingFailed):
		return msgAnalysisFailed
	case errors.Is(err, interfaces.ErrPageOutOfRange):
		return msgInvalidPage
	case errors.Is(err, interfaces.ErrDocumentTooLarge):
		return fmt.Sprintf(msgFileTooLarge, b.config.MaxFileMB)
	default:
		return msgUnexpected
	}
}
