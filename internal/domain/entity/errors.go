package entity

import "errors"

var (
	// ErrModelUnavailable классификатор не загружен
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInvalidParameter параметр запроса вне допустимого диапазона
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInvalidImage изображение не удалось декодировать
	ErrInvalidImage        = errors.New("invalid image")
	ErrInvalidDistribution = errors.New("invalid probability distribution")

	ErrInvalidClassIndex         = errors.New("invalid class index")
	ErrLayerNotFound             = errors.New("layer not found")
	ErrNoSpatialLayerFound       = errors.New("no spatial layer found")
	ErrGradientComputationFailed = errors.New("gradient computation failed")
	ErrEncodingFailed            = errors.New("encoding failed")
)
