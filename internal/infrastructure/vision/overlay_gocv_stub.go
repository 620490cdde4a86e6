//go:build !gocv
// +build !gocv

package vision

import (
	"context"
	"fmt"

	"skin-triage/internal/domain/entity"
	"skin-triage/internal/domain/port"
)

// GoCVOverlayRenderer заглушка без OpenCV
type GoCVOverlayRenderer struct {
	MaxSide int
}

// NewGoCVOverlayRenderer создаёт рендерер-заглушку (без OpenCV).
func NewGoCVOverlayRenderer() *GoCVOverlayRenderer {
	return &GoCVOverlayRenderer{MaxSide: DefaultMaxSide}
}

// Render возвращает ошибку, если сборка без тега gocv.
func (r *GoCVOverlayRenderer) Render(ctx context.Context, imageData []byte, m *entity.ActivationMap, alpha float64) ([]byte, error) {
	_ = ctx
	_ = imageData
	_ = m
	_ = alpha
	return nil, fmt.Errorf("%w: gocv build tag is not enabled", entity.ErrEncodingFailed)
}

// Проверка реализации интерфейса
var _ port.OverlayRenderer = (*GoCVOverlayRenderer)(nil)
