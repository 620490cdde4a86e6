package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	app "skin-triage/internal/application"
	"skin-triage/internal/domain/entity"
)

const (
	msgStart = `👋 Привет! Я бот для предварительной оценки кожных образований.

📸 Отправьте мне фото участка кожи, и я определю вероятный тип образования и покажу, на какую область смотрела модель.

⚠️ Это не диагноз. При любых сомнениях обратитесь к дерматологу.

📋 Команды:
/check — начать проверку
/threshold — порог уверенности для углублённого анализа
/help — справка
/cancel — отменить текущую операцию`

	msgHelp = `ℹ️ Как пользоваться ботом:

1️⃣ Отправьте фото участка кожи
2️⃣ Общая модель определит тип образования
3️⃣ Если образование похоже на онкологическое и модель уверена, запускается специализированная модель
4️⃣ Вы получите результат: текст + фото с тепловой картой

💡 Рекомендации:
• Снимайте при дневном освещении
• Образование должно быть в центре кадра
• Фото должно быть чётким

📋 Команды:
/check — начать проверку
/threshold 0.6 — изменить порог (от 0 до 1)
/cancel — отменить операцию`

	msgAwaitingPhoto   = "📸 Отправьте фото участка кожи для проверки."
	msgCancelled       = "❌ Операция отменена. Отправьте /check для новой проверки."
	msgSendPhoto       = "📸 Пожалуйста, отправьте фото участка кожи для проверки."
	msgUnknownCommand  = "❓ Неизвестная команда. Используйте /help для справки."
	msgProcessing      = "⏳ Обрабатываю изображение..."
	msgProcessingError = "⚠️ Не удалось обработать изображение. Попробуйте сделать другое фото."
	msgInvalidImage    = "⚠️ Не удалось прочитать изображение. Отправьте фото в формате JPEG или PNG."
	msgModelError      = "⚠️ Модель сейчас недоступна. Попробуйте позже."
	msgThresholdUsage  = "ℹ️ Текущий порог: %.2f\nЧтобы изменить, отправьте /threshold 0.6 (значение от 0 до 1)."
	msgThresholdSet    = "✅ Порог изменён: %.2f"
	msgThresholdBad    = "⚠️ Порог должен быть числом от 0 до 1."
	msgNoHeatmap       = "ℹ️ Тепловую карту построить не удалось."
)

var severityIcons = map[entity.Severity]string{
	entity.SeverityHigh:       "🔴",
	entity.SeverityMediumHigh: "🟠",
	entity.SeverityMedium:     "🟡",
	entity.SeverityLowMedium:  "🟢",
	entity.SeverityLow:        "🟢",
}

// Triage строит результат каскада с тепловой картой
type Triage interface {
	Report(ctx context.Context, photo []byte, threshold float64) (*app.TriageOutput, error)
}

// Sender отправляет сообщения в Telegram
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Downloader скачивает файл по его Telegram ID
type Downloader func(ctx context.Context, fileID string) ([]byte, error)

// Bot представляет Telegram-бота
type Bot struct {
	api      *tgbotapi.BotAPI
	sender   Sender
	download Downloader
	sessions *app.SessionService
	triage   Triage
	logger   *zap.Logger
}

// NewBot создаёт нового бота
func NewBot(token string, sessions *app.SessionService, triage Triage, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	logger.Info("telegram bot authorized", zap.String("account", api.Self.UserName))

	b := newBot(api, sessions, triage, logger)
	b.download = b.downloadFile
	return b, nil
}

func newBot(sender Sender, sessions *app.SessionService, triage Triage, logger *zap.Logger) *Bot {
	b := &Bot{
		sender:   sender,
		sessions: sessions,
		triage:   triage,
		logger:   logger,
	}
	if api, ok := sender.(*tgbotapi.BotAPI); ok {
		b.api = api
	}
	return b
}

// Run запускает основной цикл обработки сообщений до отмены ctx
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			b.handleMessage(ctx, update.Message)
		}
	}
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	session, err := b.sessions.Get(ctx, msg.From.ID, msg.Chat.ID)
	if err != nil {
		b.logger.Error("failed to get session", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		return
	}

	// Обработка команд
	if msg.IsCommand() {
		b.handleCommand(ctx, msg, session)
		return
	}

	// Обработка фото
	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg, session)
		return
	}

	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

// handleCommand обрабатывает команды бота
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, session *entity.Session) {
	userID, chatID := msg.From.ID, msg.Chat.ID

	switch msg.Command() {
	case "start":
		b.setState(ctx, userID, chatID, entity.StateMainMenu)
		b.sendMessage(chatID, msgStart)

	case "help":
		b.sendMessage(chatID, msgHelp)

	case "check":
		if _, err := b.sessions.BeginCheck(ctx, userID, chatID); err != nil {
			b.logger.Error("failed to begin check", zap.Error(err))
		}
		b.sendMessage(chatID, msgAwaitingPhoto)

	case "threshold":
		arg := strings.TrimSpace(msg.CommandArguments())
		if arg == "" {
			b.sendMessage(chatID, fmt.Sprintf(msgThresholdUsage, session.Threshold))
			return
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(arg, ",", "."), 64)
		if err != nil {
			b.sendMessage(chatID, msgThresholdBad)
			return
		}
		updated, err := b.sessions.SetThreshold(ctx, userID, chatID, v)
		if err != nil {
			b.sendMessage(chatID, msgThresholdBad)
			return
		}
		b.sendMessage(chatID, fmt.Sprintf(msgThresholdSet, updated.Threshold))

	case "cancel":
		if _, err := b.sessions.Cancel(ctx, userID, chatID); err != nil {
			b.logger.Error("failed to cancel", zap.Error(err))
		}
		b.sendMessage(chatID, msgCancelled)

	default:
		b.sendMessage(chatID, msgUnknownCommand)
	}
}

// handlePhoto обрабатывает входящее фото
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message, session *entity.Session) {
	userID, chatID := msg.From.ID, msg.Chat.ID

	b.setState(ctx, userID, chatID, entity.StateProcessing)
	defer b.setState(ctx, userID, chatID, entity.StateMainMenu)

	b.sendMessage(chatID, msgProcessing)

	// Получаем файл с максимальным разрешением
	photo := msg.Photo[len(msg.Photo)-1]

	imageData, err := b.download(ctx, photo.FileID)
	if err != nil {
		b.logger.Error("failed to download photo", zap.String("file_id", photo.FileID), zap.Error(err))
		b.sendMessage(chatID, msgProcessingError)
		return
	}

	out, err := b.triage.Report(ctx, imageData, session.Threshold)
	if err != nil {
		b.logger.Warn("triage failed", zap.Int64("user_id", userID), zap.Error(err))
		switch {
		case errors.Is(err, entity.ErrInvalidImage):
			b.sendMessage(chatID, msgInvalidImage)
		case errors.Is(err, entity.ErrModelUnavailable):
			b.sendMessage(chatID, msgModelError)
		default:
			b.sendMessage(chatID, msgProcessingError)
		}
		return
	}

	b.sendMessage(chatID, formatResult(out.Result))
	if out.Heatmap == nil {
		b.sendMessage(chatID, msgNoHeatmap)
		return
	}

	reply := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "heatmap.jpg", Bytes: out.Heatmap})
	reply.Caption = "🔥 Тепловая карта: красным отмечены области, повлиявшие на решение модели"
	if _, err := b.sender.Send(reply); err != nil {
		b.logger.Error("failed to send heatmap", zap.Error(err))
	}
}

// formatResult собирает текст ответа по результату каскада
func formatResult(r *entity.CascadeResult) string {
	var sb strings.Builder
	sb.WriteString("🔬 Результат анализа\n\n")
	fmt.Fprintf(&sb, "Стадия 1: %s (%.1f%%)\n", r.Stage1.Label, r.Stage1.Confidence*100)
	if r.Stage2 != nil {
		fmt.Fprintf(&sb, "Стадия 2: %s (%.1f%%)\n", r.Stage2.Label, r.Stage2.Confidence*100)
	} else {
		sb.WriteString("Стадия 2: не требуется\n")
	}

	sb.WriteString("\nВероятные варианты:\n")
	for i, s := range r.Final().TopK {
		fmt.Fprintf(&sb, "%d. %s — %.1f%%\n", i+1, s.Label, s.Score*100)
	}

	rec := r.Recommendation
	fmt.Fprintf(&sb, "\n%s Уровень: %s\n", severityIcons[rec.Severity], rec.Severity)
	fmt.Fprintf(&sb, "💡 %s\n\n%s", rec.Action, rec.Details)
	return sb.String()
}

func (b *Bot) setState(ctx context.Context, userID, chatID int64, state entity.SessionState) {
	if _, err := b.sessions.SetState(ctx, userID, chatID, state); err != nil {
		b.logger.Error("failed to save session", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Link(b.api.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
