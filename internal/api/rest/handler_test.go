package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	app "skin-triage/internal/application"
	"skin-triage/internal/domain/entity"
	"skin-triage/internal/infrastructure/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTriage struct {
	result        *entity.CascadeResult
	report        *app.TriageOutput
	err           error
	lastThreshold float64
}

func (f *fakeTriage) Classify(_ context.Context, _ []byte, threshold float64) (*entity.CascadeResult, error) {
	f.lastThreshold = threshold
	return f.result, f.err
}

func (f *fakeTriage) Report(_ context.Context, _ []byte, threshold float64) (*app.TriageOutput, error) {
	f.lastThreshold = threshold
	return f.report, f.err
}

var (
	testGeneral     = entity.NewLabelSet("Eczema", "Melanoma", "Basal Cell Carcinoma")
	testSpecialized = entity.NewLabelSet("Melanoma (Malignant)", "Basal Cell Carcinoma")
)

func escalatedResult(t *testing.T) *entity.CascadeResult {
	t.Helper()
	d1, err := entity.NewProbabilityVector([]float64{0.08, 0.1, 0.82})
	require.NoError(t, err)
	d2, err := entity.NewProbabilityVector([]float64{0.23, 0.77})
	require.NoError(t, err)
	return &entity.CascadeResult{
		Stage1: entity.NewClassificationOutcome(entity.StageGeneral, testGeneral, d1),
		Stage2: entity.NewClassificationOutcome(entity.StageSpecialized, testSpecialized, d2),
		Recommendation: entity.Recommendation{
			Severity: entity.SeverityMediumHigh,
			Action:   "Schedule appointment with dermatologist within 1-2 weeks",
			Details:  "Stage 1 identified Basal Cell Carcinoma with 82.0% confidence. Stage 2 refined diagnosis to Basal Cell Carcinoma with 77.0% confidence.",
		},
	}
}

func newTestRouter(triage Triage) *gin.Engine {
	h := NewHandler(triage, ModelInfo{
		GeneralLabels:     testGeneral,
		SpecializedLabels: testSpecialized,
		Triggers:          entity.NewTriggerSet(1, 2),
		GeneralLoaded:     true,
	}, Options{DefaultThreshold: 0.5, MaxUploadBytes: 1 << 20}, nil)
	return NewRouter(RouterConfig{Handler: h, Metrics: metrics.New().Handler(), MaxUploadBytes: 1 << 20})
}

type upload struct {
	field, filename string
	data            []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndInfo(t *testing.T) {
	r := newTestRouter(&fakeTriage{})

	rec := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "healthy", health.Status)
	require.True(t, health.Models.General)
	require.False(t, health.Models.Specialized)
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = serve(r, httptest.NewRequest(http.MethodGet, "/info", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, []string{"Melanoma", "Basal Cell Carcinoma"}, info.Stages["stage2"].Triggers)
	require.Equal(t, []string{"png", "jpg", "jpeg"}, info.SupportedFormats)
	require.Equal(t, 1.0, info.MaxFileSizeMB)
}

func TestPredict_Success(t *testing.T) {
	triage := &fakeTriage{result: escalatedResult(t)}
	r := newTestRouter(triage)

	req := multipartRequest(t, "/predict", map[string]string{"confidence_threshold": "0.6"},
		upload{"image", "lesion.JPG", []byte("img")})
	rec := serve(r, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 0.6, triage.lastThreshold)

	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Basal Cell Carcinoma", resp.Stage1.Class)
	require.Equal(t, 2, resp.Stage1.ClassIndex)
	require.Len(t, resp.Stage1.Top3, 3)
	require.InDelta(t, 0.1, resp.Stage1.AllProbabilities["Melanoma"], 1e-9)
	require.NotNil(t, resp.Stage2)
	require.Equal(t, "Basal Cell Carcinoma", resp.Stage2.Class)
	require.Equal(t, "MEDIUM_HIGH", resp.Recommendation.Severity)
	require.Equal(t, "lesion.JPG", resp.Metadata.Filename)
	require.Equal(t, rec.Header().Get(requestIDHeader), resp.Metadata.RequestID)
}

func TestPredict_DefaultThresholdAndNullStage2(t *testing.T) {
	result := escalatedResult(t)
	result.Stage2 = nil
	triage := &fakeTriage{result: result}
	r := newTestRouter(triage)

	rec := serve(r, multipartRequest(t, "/predict", nil, upload{"image", "a.png", []byte("img")}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0.5, triage.lastThreshold)
	require.Contains(t, rec.Body.String(), `"stage2":null`)
}

func TestPredict_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		fields map[string]string
		files  []upload
		status int
	}{
		{"missing file", nil, nil, nil, http.StatusBadRequest},
		{"bad extension", nil, nil, []upload{{"image", "a.gif", []byte("x")}}, http.StatusBadRequest},
		{"bad threshold", nil, map[string]string{"confidence_threshold": "1.5"}, []upload{{"image", "a.png", []byte("x")}}, http.StatusBadRequest},
		{"not a number", nil, map[string]string{"confidence_threshold": "high"}, []upload{{"image", "a.png", []byte("x")}}, http.StatusBadRequest},
		{"undecodable", entity.ErrInvalidImage, nil, []upload{{"image", "a.png", []byte("x")}}, http.StatusBadRequest},
		{"model unavailable", entity.ErrModelUnavailable, nil, []upload{{"image", "a.png", []byte("x")}}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&fakeTriage{err: tc.err})
			rec := serve(r, multipartRequest(t, "/predict", tc.fields, tc.files...))
			require.Equal(t, tc.status, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotEmpty(t, resp.Error)
			require.NotEmpty(t, resp.Message)
		})
	}
}

func TestPredictBatch_SkipsDisallowedFiles(t *testing.T) {
	r := newTestRouter(&fakeTriage{result: escalatedResult(t)})

	rec := serve(r, multipartRequest(t, "/predict/batch", nil,
		upload{"images", "a.png", []byte("1")},
		upload{"images", "b.txt", []byte("2")},
		upload{"images", "c.jpeg", []byte("3")},
	))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	require.Equal(t, "a.png", resp.Results[0].Filename)
	require.Equal(t, "c.jpeg", resp.Results[1].Filename)
	require.NotNil(t, resp.Results[1].Result)

	rec = serve(r, multipartRequest(t, "/predict/batch", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateReport(t *testing.T) {
	result := escalatedResult(t)

	r := newTestRouter(&fakeTriage{report: &app.TriageOutput{Result: result, Heatmap: []byte{0xff, 0xd8}}})
	rec := serve(r, multipartRequest(t, "/generate_report", nil, upload{"file", "a.jpg", []byte("img")}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Basal Cell Carcinoma", resp.Prediction)
	require.Equal(t, 2, resp.Stage)
	require.NotNil(t, resp.HeatmapImage)
	require.True(t, strings.HasPrefix(*resp.HeatmapImage, "data:image/jpeg;base64,"))

	// карта не построилась, но предсказание возвращается
	r = newTestRouter(&fakeTriage{report: &app.TriageOutput{Result: result, HeatmapErr: entity.ErrNoSpatialLayerFound}})
	rec = serve(r, multipartRequest(t, "/generate_report", nil, upload{"image", "a.jpg", []byte("img")}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"heatmap_image":null`)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(&fakeTriage{})
	rec := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
