package onnx

import (
	"testing"

	"github.com/stretchr/testify/require"

	"skin-triage/internal/domain/entity"
)

func TestNewBackbone_RejectsShapes(t *testing.T) {
	_, err := NewBackbone(BackboneConfig{
		Name:        "backbone",
		Path:        "missing.onnx",
		InputName:   "input",
		OutputName:  "features",
		InputShape:  []int{224, 224},
		OutputShape: []int{1280, 7, 7},
	})
	require.ErrorContains(t, err, "[C,H,W]")
}

func TestBackbone_DescribesFeatureLayer(t *testing.T) {
	b := &Backbone{name: "backbone"}
	require.Equal(t, "backbone", b.Name())
	require.Equal(t, entity.LayerFeature, b.Kind())
	require.NoError(t, b.Close())
}
