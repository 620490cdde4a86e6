package port

import (
	"context"

	"skin-triage/internal/domain/entity"
)

// OverlayRenderer интерфейс отрисовки тепловой карты поверх исходного изображения
type OverlayRenderer interface {
	// Render накладывает карту на изображение и возвращает закодированную картинку
	Render(ctx context.Context, imageData []byte, m *entity.ActivationMap, alpha float64) ([]byte, error)
}
