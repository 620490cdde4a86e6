package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"

	"skin-triage/internal/domain/entity"
	"skin-triage/internal/domain/port"
)

// Preprocessor приводит фото к входу модели: [3,size,size], значения в [0,1]
type Preprocessor struct {
	InputSize int
}

func NewPreprocessor(inputSize int) *Preprocessor {
	return &Preprocessor{InputSize: inputSize}
}

// Preprocess декодирует PNG/JPEG и строит тензор CHW
func (p *Preprocessor) Preprocess(ctx context.Context, imageData []byte) (*entity.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.InputSize <= 0 {
		return nil, fmt.Errorf("%w: input size %d", entity.ErrInvalidParameter, p.InputSize)
	}

	img, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}

	size := uint(p.InputSize)
	resized := resize.Resize(size, size, img, resize.Bilinear)

	n := p.InputSize
	plane := n * n
	x := entity.NewTensor(3, n, n)
	b := resized.Bounds()
	for y := 0; y < n; y++ {
		for xx := 0; xx < n; xx++ {
			r, g, bl, _ := resized.At(b.Min.X+xx, b.Min.Y+y).RGBA()
			i := y*n + xx
			x.Data[i] = float32(r) / 65535.0
			x.Data[plane+i] = float32(g) / 65535.0
			x.Data[2*plane+i] = float32(bl) / 65535.0
		}
	}
	return x, nil
}

func decodeImage(imageData []byte) (image.Image, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("%w: empty image", entity.ErrInvalidImage)
	}
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrInvalidImage, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", entity.ErrInvalidImage)
	}
	return img, nil
}

// Проверка реализации интерфейса
var _ port.Preprocessor = (*Preprocessor)(nil)
