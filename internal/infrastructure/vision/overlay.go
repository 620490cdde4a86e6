package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"github.com/nfnt/resize"

	"skin-triage/internal/domain/entity"
	"skin-triage/internal/domain/port"
)

const (
	DefaultMaxSide = 1024
	jpegQuality    = 90
)

// OverlayRenderer накладывает тепловую карту на фото средствами Go без OpenCV
type OverlayRenderer struct {
	MaxSide int
}

func NewOverlayRenderer() *OverlayRenderer {
	return &OverlayRenderer{MaxSide: DefaultMaxSide}
}

// Render растягивает карту до размера фото, раскрашивает шкалой JET и складывает:
// out = clamp(color*alpha + src)
func (r *OverlayRenderer) Render(ctx context.Context, imageData []byte, m *entity.ActivationMap, alpha float64) ([]byte, error) {
	if err := validateOverlayArgs(m, alpha); err != nil {
		return nil, err
	}

	src, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}
	src = boundImage(src, r.MaxSide)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	heat := upsampleMap(m, w, h)

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sr, sg, sb, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			v := float64(heat.Gray16At(x, y).Y) / 65535.0
			jr, jg, jb := jet(v)
			out.SetRGBA(x, y, color.RGBA{
				R: addClamp(float64(sr>>8), jr*alpha),
				G: addClamp(float64(sg>>8), jg*alpha),
				B: addClamp(float64(sb>>8), jb*alpha),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrEncodingFailed, err)
	}
	return buf.Bytes(), nil
}

func validateOverlayArgs(m *entity.ActivationMap, alpha float64) error {
	if !(alpha > 0 && alpha <= 1) {
		return fmt.Errorf("%w: alpha %v not in (0,1]", entity.ErrInvalidParameter, alpha)
	}
	if m == nil || m.Width <= 0 || m.Height <= 0 || len(m.Values) != m.Width*m.Height {
		return fmt.Errorf("%w: empty activation map", entity.ErrInvalidParameter)
	}
	return nil
}

// boundImage уменьшает изображение, если большая сторона превышает maxSide
func boundImage(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	if maxSide <= 0 || (b.Dx() <= maxSide && b.Dy() <= maxSide) {
		return img
	}
	if b.Dx() >= b.Dy() {
		return resize.Resize(uint(maxSide), 0, img, resize.Bilinear)
	}
	return resize.Resize(0, uint(maxSide), img, resize.Bilinear)
}

// upsampleMap билинейно растягивает карту до w×h
func upsampleMap(m *entity.ActivationMap, w, h int) *image.Gray16 {
	small := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := math.Min(math.Max(m.At(x, y), 0), 1)
			small.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}
	if m.Width == w && m.Height == h {
		return small
	}

	resized := resize.Resize(uint(w), uint(h), small, resize.Bilinear)
	if g, ok := resized.(*image.Gray16); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	out := image.NewGray16(image.Rect(0, 0, w, h))
	rb := resized.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(x, y, color.Gray16Model.Convert(resized.At(rb.Min.X+x, rb.Min.Y+y)))
		}
	}
	return out
}

// jet цветовая шкала как COLORMAP_JET в OpenCV: 0 тёмно-синий, 1 тёмно-красный. Значения 0..255.
func jet(v float64) (r, g, b float64) {
	r = jetChannel(v, 3)
	g = jetChannel(v, 2)
	b = jetChannel(v, 1)
	return r * 255, g * 255, b * 255
}

func jetChannel(v, center float64) float64 {
	return math.Min(math.Max(1.5-math.Abs(4*v-center), 0), 1)
}

func addClamp(src, add float64) uint8 {
	v := math.Round(src + add)
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

// Проверка реализации интерфейса
var _ port.OverlayRenderer = (*OverlayRenderer)(nil)
