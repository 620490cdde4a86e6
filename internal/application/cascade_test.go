package app

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"skin-triage/internal/domain/entity"
)

func TestCascadeEngine_EscalationMatrix(t *testing.T) {
	cases := []struct {
		name       string
		index      int
		confidence float64
		escalate   bool
	}{
		{"trigger above threshold", 2, 0.6, true},
		{"trigger below threshold", 2, 0.4, false},
		{"non-trigger above threshold", 0, 0.6, false},
		{"non-trigger below threshold", 0, 0.4, false},
		{"trigger exactly at threshold", 4, 0.5, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			general := newFake("general", generalLabels, peaked(10, tc.index, tc.confidence))
			specialized := newFake("specialized", specializedLabels, peaked(8, 0, 0.7))
			rec := &fakeRecorder{}
			engine := NewCascadeEngine(general, specialized, defaultTriggers, nil, rec)

			result, err := engine.Classify(context.Background(), entity.NewTensor(3, 2, 2), 0.5)
			require.NoError(t, err)
			require.Equal(t, tc.index, result.Stage1.LabelIndex)
			require.Equal(t, tc.escalate, result.Escalated())
			require.Equal(t, tc.escalate, specialized.calls.Load() == 1)
			if tc.escalate {
				require.Equal(t, 1, rec.escalations)
				require.Equal(t, []string{"escalated"}, rec.outcomes)
			} else {
				require.Nil(t, result.Stage2)
				require.Equal(t, []string{"stage1"}, rec.outcomes)
			}
		})
	}
}

func TestCascadeEngine_BasalCellCarcinomaScenario(t *testing.T) {
	general := newFake("general", generalLabels, peaked(10, 4, 0.82))
	specialized := newFake("specialized", specializedLabels, peaked(8, 1, 0.77))
	engine := NewCascadeEngine(general, specialized, defaultTriggers, nil, nil)

	result, err := engine.Classify(context.Background(), entity.NewTensor(3, 2, 2), 0.5)
	require.NoError(t, err)

	require.True(t, result.Escalated())
	require.Equal(t, entity.StageSpecialized, result.Final().Stage)
	require.Equal(t, "Basal Cell Carcinoma", result.Stage2.Label)
	require.InDelta(t, 0.77, result.Stage2.Confidence, 1e-9)
	require.Len(t, result.Stage2.TopK, entity.TopKSize)

	require.Equal(t, entity.SeverityMediumHigh, result.Recommendation.Severity)
	require.Contains(t, result.Recommendation.Action, "1-2 weeks")
	require.Equal(t,
		"Stage 1 identified Basal Cell Carcinoma with 82.0% confidence. "+
			"Stage 2 refined diagnosis to Basal Cell Carcinoma with 77.0% confidence.",
		result.Recommendation.Details)
}

func TestCascadeEngine_EczemaScenario(t *testing.T) {
	general := newFake("general", generalLabels, peaked(10, 0, 0.91))
	specialized := newFake("specialized", specializedLabels, peaked(8, 0, 0.9))
	engine := NewCascadeEngine(general, specialized, defaultTriggers, nil, nil)

	result, err := engine.Classify(context.Background(), entity.NewTensor(3, 2, 2), 0.5)
	require.NoError(t, err)

	require.False(t, result.Escalated())
	require.Zero(t, specialized.calls.Load())
	require.Equal(t, "Eczema", result.Final().Label)
	require.Equal(t, entity.SeverityLow, result.Recommendation.Severity)
	require.Contains(t, result.Recommendation.Action, "over-the-counter moisturizers")
	require.Equal(t, "Stage 1 identified Eczema with 91.0% confidence. Stage 2 analysis not required.",
		result.Recommendation.Details)
}

func TestCascadeEngine_InvalidThreshold(t *testing.T) {
	general := newFake("general", generalLabels, peaked(10, 2, 0.9))
	rec := &fakeRecorder{}
	engine := NewCascadeEngine(general, nil, defaultTriggers, nil, rec)

	for _, th := range []float64{-0.01, 1.01, math.NaN()} {
		_, err := engine.Classify(context.Background(), entity.NewTensor(3, 2, 2), th)
		require.ErrorIs(t, err, entity.ErrInvalidParameter)
	}
	require.Zero(t, general.calls.Load())
	require.Equal(t, []string{"invalid", "invalid", "invalid"}, rec.outcomes)
}

func TestCascadeEngine_ModelUnavailable(t *testing.T) {
	ctx := context.Background()
	x := entity.NewTensor(3, 2, 2)

	_, err := NewCascadeEngine(nil, nil, defaultTriggers, nil, nil).Classify(ctx, x, 0.5)
	require.ErrorIs(t, err, entity.ErrModelUnavailable)

	// триггер сработал, а второй модели нет
	general := newFake("general", generalLabels, peaked(10, 2, 0.9))
	_, err = NewCascadeEngine(general, nil, defaultTriggers, nil, nil).Classify(ctx, x, 0.5)
	require.ErrorIs(t, err, entity.ErrModelUnavailable)

	// без эскалации вторая модель не нужна
	general = newFake("general", generalLabels, peaked(10, 0, 0.9))
	result, err := NewCascadeEngine(general, nil, defaultTriggers, nil, nil).Classify(ctx, x, 0.5)
	require.NoError(t, err)
	require.False(t, result.Escalated())
}

func TestCascadeEngine_InferenceErrors(t *testing.T) {
	ctx := context.Background()
	x := entity.NewTensor(3, 2, 2)
	boom := errors.New("boom")

	general := newFake("general", generalLabels, nil)
	general.err = boom
	_, err := NewCascadeEngine(general, nil, defaultTriggers, nil, nil).Classify(ctx, x, 0.5)
	require.ErrorIs(t, err, boom)

	// распределение не той длины
	short := newFake("general", generalLabels, []float64{0.5, 0.5})
	_, err = NewCascadeEngine(short, nil, defaultTriggers, nil, nil).Classify(ctx, x, 0.5)
	require.ErrorIs(t, err, entity.ErrInvalidDistribution)

	// невалидное распределение от модели
	broken := newFake("general", generalLabels, peaked(10, 2, 0.9))
	broken.scores[0] = 0.5
	_, err = NewCascadeEngine(broken, nil, defaultTriggers, nil, nil).Classify(ctx, x, 0.5)
	require.ErrorIs(t, err, entity.ErrInvalidDistribution)
}

func TestCascadeEngine_Idempotent(t *testing.T) {
	general := newFake("general", generalLabels, peaked(10, 5, 0.66))
	specialized := newFake("specialized", specializedLabels, peaked(8, 3, 0.55))
	engine := NewCascadeEngine(general, specialized, defaultTriggers, nil, nil)
	x := entity.NewTensor(3, 2, 2)

	first, err := engine.Classify(context.Background(), x, 0.5)
	require.NoError(t, err)
	second, err := engine.Classify(context.Background(), x, 0.5)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
