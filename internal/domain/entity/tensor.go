package entity

import "fmt"

// Tensor плоский тензор float32 в порядке row-major
type Tensor struct {
	Shape []int
	Data  []float32
}

// NewTensor создаёт тензор нужной формы, заполненный нулями
func NewTensor(shape ...int) *Tensor {
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{Shape: s, Data: make([]float32, volume(s))}
}

// NewTensorFrom оборачивает готовые данные и проверяет соответствие формы
func NewTensorFrom(data []float32, shape ...int) (*Tensor, error) {
	if v := volume(shape); v != len(data) {
		return nil, fmt.Errorf("tensor shape %v needs %d values, got %d", shape, v, len(data))
	}
	s := make([]int, len(shape))
	copy(s, shape)
	return &Tensor{Shape: s, Data: data}, nil
}

// Len возвращает число элементов
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Rank возвращает число измерений
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// CHW разбирает форму [C,H,W]
func (t *Tensor) CHW() (c, h, w int, err error) {
	if len(t.Shape) != 3 {
		return 0, 0, 0, fmt.Errorf("expected [C,H,W] tensor, got shape %v", t.Shape)
	}
	return t.Shape[0], t.Shape[1], t.Shape[2], nil
}

// Clone возвращает глубокую копию
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

func volume(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	v := 1
	for _, d := range shape {
		v *= d
	}
	return v
}
