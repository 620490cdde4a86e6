package app

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"skin-triage/internal/domain/entity"
	"skin-triage/internal/infrastructure/nn"
)

func chw(t *testing.T, data []float32, c, h, w int) *entity.Tensor {
	t.Helper()
	x, err := entity.NewTensorFrom(data, c, h, w)
	require.NoError(t, err)
	return x
}

func TestGradCAM_WeightsChannelsAndClamps(t *testing.T) {
	act := chw(t, []float32{1, 2, 3, 0}, 2, 1, 2)
	grad := chw(t, []float32{1, 1, -1, -1}, 2, 1, 2)

	m, err := GradCAM(act, grad)
	require.NoError(t, err)
	require.False(t, m.Degenerate)
	require.Equal(t, 2, m.Width)
	require.Equal(t, 1, m.Height)
	// 1*[1,2] - 1*[3,0] = [-2,2] -> relu -> [0,2] -> /2
	require.Equal(t, []float64{0, 1}, m.Values)
	require.Equal(t, 1.0, m.Max())
}

func TestGradCAM_DegenerateMaps(t *testing.T) {
	act := chw(t, []float32{1, 2, 3, 4}, 1, 2, 2)

	zero, err := GradCAM(act, entity.NewTensor(1, 2, 2))
	require.NoError(t, err)
	require.True(t, zero.Degenerate)
	require.Equal(t, []float64{0, 0, 0, 0}, zero.Values)

	negative, err := GradCAM(act, chw(t, []float32{-1, -1, -1, -1}, 1, 2, 2))
	require.NoError(t, err)
	require.True(t, negative.Degenerate)
	for _, v := range negative.Values {
		require.False(t, math.IsNaN(v))
		require.Zero(t, v)
	}
}

func TestGradCAM_Errors(t *testing.T) {
	act := chw(t, []float32{1, 2, 3, 4}, 1, 2, 2)

	_, err := GradCAM(act, entity.NewTensor(2, 2, 2))
	require.ErrorIs(t, err, entity.ErrGradientComputationFailed)

	_, err = GradCAM(act, nil)
	require.ErrorIs(t, err, entity.ErrGradientComputationFailed)

	nan := chw(t, []float32{float32(math.NaN()), 1, 1, 1}, 1, 2, 2)
	_, err = GradCAM(act, nan)
	require.ErrorIs(t, err, entity.ErrGradientComputationFailed)
}

func TestSelectTargetLayer(t *testing.T) {
	layer := func(name string, kind entity.LayerKind) entity.LayerInfo {
		return entity.LayerInfo{Name: name, Kind: kind}
	}

	name, err := SelectTargetLayer([]entity.LayerInfo{
		layer("backbone", entity.LayerFeature),
		layer("conv_head", entity.LayerFeature),
		layer("relu", entity.LayerActivation),
		layer("gap", entity.LayerCollapse),
		layer("conv_after", entity.LayerFeature),
		layer("logits", entity.LayerDense),
		layer("probs", entity.LayerOutput),
	})
	require.NoError(t, err)
	require.Equal(t, "conv_head", name)

	_, err = SelectTargetLayer([]entity.LayerInfo{
		layer("flatten", entity.LayerCollapse),
		layer("conv", entity.LayerFeature),
		layer("probs", entity.LayerOutput),
	})
	require.ErrorIs(t, err, entity.ErrNoSpatialLayerFound)

	_, err = SelectTargetLayer([]entity.LayerInfo{
		layer("logits", entity.LayerDense),
		layer("probs", entity.LayerOutput),
	})
	require.ErrorIs(t, err, entity.ErrNoSpatialLayerFound)
}

func TestActivationMapper_ComputeMapErrors(t *testing.T) {
	ctx := context.Background()
	mapper := NewActivationMapper()
	x := entity.NewTensor(3, 2, 2)
	clf := newFakeExplainer(newFake("general", generalLabels, peaked(10, 0, 0.9)), simpleTrace(t))

	_, err := mapper.ComputeMap(ctx, nil, x, "backbone", 0)
	require.ErrorIs(t, err, entity.ErrModelUnavailable)

	_, err = mapper.ComputeMap(ctx, clf, x, "backbone", 10)
	require.ErrorIs(t, err, entity.ErrInvalidClassIndex)

	_, err = mapper.ComputeMap(ctx, clf, x, "backbone", -1)
	require.ErrorIs(t, err, entity.ErrInvalidClassIndex)

	_, err = mapper.ComputeMap(ctx, clf, x, "block5_conv3", 0)
	require.ErrorIs(t, err, entity.ErrLayerNotFound)

	clf.gradErr = errors.New("tape lost")
	_, err = mapper.ComputeMap(ctx, clf, x, "backbone", 0)
	require.ErrorIs(t, err, entity.ErrGradientComputationFailed)
}

func TestActivationMapper_ComputeMapOnNetwork(t *testing.T) {
	w, err := entity.NewTensorFrom([]float32{
		0.5, -0.2, 0.1,
		-0.3, 0.4, 0.2,
	}, 2, 3, 1, 1)
	require.NoError(t, err)
	conv, err := nn.NewConv2D("features", w, []float32{0.1, 0.1}, nn.PaddingSame, true)
	require.NoError(t, err)
	dw, err := entity.NewTensorFrom([]float32{1, -1, -0.5, 0.8, 0.2, 0.2}, 3, 2)
	require.NoError(t, err)
	dense, err := nn.NewDense("logits", dw, nil)
	require.NoError(t, err)
	net, err := nn.NewNetwork("tiny", entity.NewLabelSet("a", "b", "c"),
		conv, nn.NewGlobalAvgPool("gap"), dense, nn.NewSoftmax("probs"))
	require.NoError(t, err)

	x := entity.NewTensor(3, 4, 4)
	for i := range x.Data {
		x.Data[i] = float32((i*7)%11) / 10
	}

	layer, err := SelectTargetLayer(net.Layers())
	require.NoError(t, err)
	require.Equal(t, "features", layer)

	mapper := NewActivationMapper()
	for class := 0; class < 3; class++ {
		m, err := mapper.ComputeMap(context.Background(), net, x, layer, class)
		require.NoError(t, err)
		require.Equal(t, 4, m.Width)
		require.Equal(t, 4, m.Height)
		for _, v := range m.Values {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
		if !m.Degenerate {
			require.InDelta(t, 1.0, m.Max(), 1e-12)
		}
	}
}
