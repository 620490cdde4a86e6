//go:build gocv
// +build gocv

package vision

import (
	"context"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"skin-triage/internal/domain/entity"
	"skin-triage/internal/domain/port"
)

// GoCVOverlayRenderer накладывает тепловую карту средствами OpenCV
type GoCVOverlayRenderer struct {
	MaxSide int
}

// NewGoCVOverlayRenderer создаёт рендерер на OpenCV.
func NewGoCVOverlayRenderer() *GoCVOverlayRenderer {
	return &GoCVOverlayRenderer{MaxSide: DefaultMaxSide}
}

// Render раскрашивает карту через ColormapJet и складывает с фото. AddWeighted насыщает значения до 255.
func (r *GoCVOverlayRenderer) Render(ctx context.Context, imageData []byte, m *entity.ActivationMap, alpha float64) ([]byte, error) {
	if err := validateOverlayArgs(m, alpha); err != nil {
		return nil, err
	}

	mat, err := decodeToMat(imageData)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	// Приводим изображение к стандартному размеру, как и нативный рендерер.
	if r.MaxSide > 0 && (mat.Cols() > r.MaxSide || mat.Rows() > r.MaxSide) {
		scale := float64(r.MaxSide) / float64(max(mat.Cols(), mat.Rows()))
		newW := int(float64(mat.Cols()) * scale)
		newH := int(float64(mat.Rows()) * scale)
		resized := gocv.NewMat()
		gocv.Resize(mat, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)
		mat.Close()
		mat = resized
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw := make([]byte, len(m.Values))
	for i, v := range m.Values {
		raw[i] = uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
	}
	small, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8U, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidParameter, err)
	}
	defer small.Close()

	heat := gocv.NewMat()
	defer heat.Close()
	gocv.Resize(small, &heat, image.Pt(mat.Cols(), mat.Rows()), 0, 0, gocv.InterpolationLinear)

	colored := gocv.NewMat()
	defer colored.Close()
	gocv.ApplyColorMap(heat, &colored, gocv.ColormapJet)

	out := gocv.NewMat()
	defer out.Close()
	gocv.AddWeighted(colored, alpha, mat, 1, 0, &out)

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, out, []int{gocv.IMWriteJpegQuality, jpegQuality})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrEncodingFailed, err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	encoded := make([]byte, len(data))
	copy(encoded, data)
	return encoded, nil
}

// decodeToMat превращает байты изображения в gocv.Mat.
func decodeToMat(imageData []byte) (gocv.Mat, error) {
	if len(imageData) == 0 {
		return gocv.NewMat(), fmt.Errorf("%w: empty image", entity.ErrInvalidImage)
	}
	mat, err := gocv.IMDecode(imageData, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	if !mat.Empty() {
		mat.Close()
	}
	return gocv.NewMat(), fmt.Errorf("%w: failed to decode image", entity.ErrInvalidImage)
}

// Проверка реализации интерфейса
var _ port.OverlayRenderer = (*GoCVOverlayRenderer)(nil)
