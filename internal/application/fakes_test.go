package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"skin-triage/internal/domain/entity"
)

var (
	generalLabels = entity.NewLabelSet(
		"Eczema",
		"Warts Molluscum and other Viral Infections",
		"Melanoma",
		"Atopic Dermatitis",
		"Basal Cell Carcinoma",
		"Melanocytic Nevi",
		"Benign Keratosis-like Lesions",
		"Psoriasis pictures Lichen Planus and related diseases",
		"Seborrheic Keratoses and other Benign Tumors",
		"Tinea Ringworm Candidiasis and other Fungal Infections",
	)
	specializedLabels = entity.NewLabelSet(
		"Melanoma (Malignant)",
		"Basal Cell Carcinoma",
		"Squamous Cell Carcinoma",
		"Benign Nevus",
		"Seborrheic Keratosis",
		"Actinic Keratosis",
		"Dermatofibroma",
		"Vascular Lesion",
	)
	defaultTriggers = entity.NewTriggerSet(2, 4, 5, 6, 8)
)

// peaked распределение длины n с вероятностью p на индексе idx, остаток поровну
func peaked(n, idx int, p float64) []float64 {
	scores := make([]float64, n)
	rest := (1 - p) / float64(n-1)
	for i := range scores {
		scores[i] = rest
	}
	scores[idx] = p
	return scores
}

type fakeClassifier struct {
	name   string
	labels entity.LabelSet
	scores []float64
	err    error
	calls  atomic.Int32
}

func newFake(name string, labels entity.LabelSet, scores []float64) *fakeClassifier {
	return &fakeClassifier{name: name, labels: labels, scores: scores}
}

func (f *fakeClassifier) Name() string            { return f.name }
func (f *fakeClassifier) Labels() entity.LabelSet { return f.labels }

func (f *fakeClassifier) Infer(_ context.Context, _ *entity.Tensor) (entity.ProbabilityVector, error) {
	f.calls.Add(1)
	if f.err != nil {
		return entity.ProbabilityVector{}, f.err
	}
	return entity.NewProbabilityVector(f.scores)
}

type fakeExplainer struct {
	*fakeClassifier
	layers    []entity.LayerInfo
	trace     *entity.ActivationTrace
	gradErr   error
	lastClass atomic.Int32
}

func newFakeExplainer(clf *fakeClassifier, trace *entity.ActivationTrace) *fakeExplainer {
	return &fakeExplainer{
		fakeClassifier: clf,
		layers: []entity.LayerInfo{
			{Name: "backbone", Kind: entity.LayerFeature},
			{Name: "gap", Kind: entity.LayerCollapse},
			{Name: "logits", Kind: entity.LayerDense},
			{Name: "probs", Kind: entity.LayerOutput},
		},
		trace: trace,
	}
}

func (f *fakeExplainer) Layers() []entity.LayerInfo { return f.layers }

func (f *fakeExplainer) ActivationGradient(_ context.Context, _ *entity.Tensor, _ string, classIndex int) (*entity.ActivationTrace, error) {
	f.lastClass.Store(int32(classIndex))
	if f.gradErr != nil {
		return nil, f.gradErr
	}
	return f.trace, nil
}

// simpleTrace: один канал 2×2 с положительным весом
func simpleTrace(t *testing.T) *entity.ActivationTrace {
	t.Helper()
	act, err := entity.NewTensorFrom([]float32{0, 1, 2, 4}, 1, 2, 2)
	require.NoError(t, err)
	grad, err := entity.NewTensorFrom([]float32{1, 1, 1, 1}, 1, 2, 2)
	require.NoError(t, err)
	return &entity.ActivationTrace{Activation: act, Gradient: grad}
}

type fakePreprocessor struct {
	err error
}

func (p fakePreprocessor) Preprocess(_ context.Context, _ []byte) (*entity.Tensor, error) {
	if p.err != nil {
		return nil, p.err
	}
	return entity.NewTensor(3, 2, 2), nil
}

type fakeRenderer struct {
	err       error
	lastAlpha float64
	lastMap   *entity.ActivationMap
}

func (r *fakeRenderer) Render(_ context.Context, _ []byte, m *entity.ActivationMap, alpha float64) ([]byte, error) {
	r.lastAlpha = alpha
	r.lastMap = m
	if r.err != nil {
		return nil, r.err
	}
	return []byte("jpeg"), nil
}

type fakeRecorder struct {
	mu              sync.Mutex
	outcomes        []string
	escalations     int
	heatmapFailures []string
}

func (r *fakeRecorder) ObserveClassification(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) ObserveEscalation() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations++
}

func (r *fakeRecorder) ObserveHeatmapFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heatmapFailures = append(r.heatmapFailures, reason)
}

func (r *fakeRecorder) ObserveInference(string, time.Duration) {}
