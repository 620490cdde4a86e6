package entity

// LayerKind роль слоя в архитектуре классификатора
type LayerKind string

const (
	LayerFeature    LayerKind = "feature"    // пространственное извлечение признаков
	LayerActivation LayerKind = "activation" // поэлементная функция
	LayerCollapse   LayerKind = "collapse"   // свёртка карты признаков в вектор
	LayerDense      LayerKind = "dense"      // полносвязный слой
	LayerOutput     LayerKind = "output"     // итоговое распределение
)

// LayerInfo описание слоя
type LayerInfo struct {
	Name string
	Kind LayerKind
}

// ActivationTrace активации слоя и градиент целевого класса по ним
type ActivationTrace struct {
	Activation *Tensor   // [C,H,W]
	Gradient   *Tensor   // [C,H,W]
	Output     []float64 // выход классификатора
}

// ActivationMap нормированная карта важности, значения в [0,1]
type ActivationMap struct {
	Width      int
	Height     int
	Values     []float64 // построчно, Height*Width
	Degenerate bool      // все градиенты нулевые, карта целиком нулевая
}

// At возвращает значение в точке (x, y)
func (m *ActivationMap) At(x, y int) float64 {
	return m.Values[y*m.Width+x]
}

// Max возвращает максимальное значение карты
func (m *ActivationMap) Max() float64 {
	var best float64
	for _, v := range m.Values {
		if v > best {
			best = v
		}
	}
	return best
}
