package entity

import "fmt"

// SessionState состояние диалога с пользователем
type SessionState string

const (
	StateMainMenu      SessionState = "main_menu"      // В главном меню
	StateAwaitingPhoto SessionState = "awaiting_photo" // Ожидание фото кожи
	StateProcessing    SessionState = "processing"     // Обработка изображения
)

// DefaultThreshold порог уверенности для запуска второй стадии по умолчанию
const DefaultThreshold = 0.5

// Session представляет диалог пользователя с ботом
type Session struct {
	ID        int64        // Telegram User ID
	ChatID    int64        // Telegram Chat ID
	State     SessionState // Текущее состояние диалога
	Threshold float64      // Порог уверенности для второй стадии
}

// NewSession создаёт сессию с начальным состоянием
func NewSession(userID, chatID int64) *Session {
	return &Session{
		ID:        userID,
		ChatID:    chatID,
		State:     StateMainMenu,
		Threshold: DefaultThreshold,
	}
}

// SetState обновляет состояние диалога
func (s *Session) SetState(state SessionState) {
	s.State = state
}

// SetThreshold меняет порог, значение должно лежать в [0,1]
func (s *Session) SetThreshold(v float64) error {
	if err := ValidateThreshold(v); err != nil {
		return err
	}
	s.Threshold = v
	return nil
}

// ValidateThreshold проверяет, что порог лежит в [0,1]
func ValidateThreshold(v float64) error {
	if !(v >= 0 && v <= 1) {
		return fmt.Errorf("%w: confidence threshold %v out of [0,1]", ErrInvalidParameter, v)
	}
	return nil
}
