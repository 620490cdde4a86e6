package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	app "skin-triage/internal/application"
	"skin-triage/internal/domain/entity"
)

const (
	serviceName    = "Two-Stage Skin Disease Predictor"
	serviceVersion = "1.0"
)

var allowedExtensions = []string{"png", "jpg", "jpeg"}

// Triage сценарии, доступные по HTTP
type Triage interface {
	Classify(ctx context.Context, photo []byte, threshold float64) (*entity.CascadeResult, error)
	Report(ctx context.Context, photo []byte, threshold float64) (*app.TriageOutput, error)
}

// ModelInfo сведения о загруженных моделях для /health и /info
type ModelInfo struct {
	GeneralLabels     entity.LabelSet
	SpecializedLabels entity.LabelSet
	Triggers          entity.TriggerSet
	GeneralLoaded     bool
	SpecializedLoaded bool
}

type Options struct {
	DefaultThreshold float64
	MaxUploadBytes   int64
}

type Handler struct {
	triage Triage
	info   ModelInfo
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(triage Triage, info ModelInfo, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 16 << 20
	}
	return &Handler{triage: triage, info: info, opts: opts, logger: logger, now: time.Now}
}

// Health GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: serviceName,
		Models: ModelsStatus{
			General:     h.info.GeneralLoaded,
			Specialized: h.info.SpecializedLoaded,
		},
		Timestamp: h.timestamp(),
	})
}

// Info GET /info
func (h *Handler) Info(c *gin.Context) {
	triggers := make([]string, 0)
	for _, i := range h.info.Triggers.Indices() {
		if i < h.info.GeneralLabels.Len() {
			triggers = append(triggers, h.info.GeneralLabels.Name(i))
		}
	}

	c.JSON(http.StatusOK, InfoResponse{
		Service:     serviceName,
		Version:     serviceVersion,
		Description: "Skin disease classification with specialized cancer analysis and Grad-CAM explanation",
		Stages: map[string]StageInfo{
			"stage1": {
				Name:        "General Skin Disease Classifier",
				Classes:     h.info.GeneralLabels.Names(),
				Description: "Identifies general skin condition category",
			},
			"stage2": {
				Name:        "Specialized Cancer Classifier",
				Classes:     h.info.SpecializedLabels.Names(),
				Description: "Provides detailed cancer analysis when cancer-related condition detected",
				Triggers:    triggers,
			},
		},
		SupportedFormats: allowedExtensions,
		MaxFileSizeMB:    float64(h.opts.MaxUploadBytes) / (1 << 20),
		Endpoints: map[string]string{
			"/health":          "GET - Health check",
			"/info":            "GET - Service information",
			"/predict":         "POST - Single image prediction (multipart key: image)",
			"/predict/batch":   "POST - Batch prediction (multipart key: images)",
			"/generate_report": "POST - Prediction with heatmap (multipart key: file)",
			"/metrics":         "GET - Prometheus metrics",
		},
	})
}

// Predict POST /predict
func (h *Handler) Predict(c *gin.Context) {
	threshold, ok := h.threshold(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		h.fail(c, http.StatusBadRequest, "No image file provided", `Please upload an image file with key "image"`)
		return
	}
	data, ok := h.readUpload(c, fh)
	if !ok {
		return
	}

	result, err := h.triage.Classify(c.Request.Context(), data, threshold)
	if err != nil {
		h.failWith(c, "Prediction failed", err)
		return
	}

	c.JSON(http.StatusOK, h.toPredict(c, result, fh.Filename, threshold))
}

// PredictBatch POST /predict/batch. Файлы с неподходящим расширением пропускаются.
func (h *Handler) PredictBatch(c *gin.Context) {
	threshold, ok := h.threshold(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["images"]) == 0 {
		h.fail(c, http.StatusBadRequest, "No images provided", `Please upload one or more image files with key "images"`)
		return
	}

	results := make([]BatchItem, 0, len(form.File["images"]))
	for _, fh := range form.File["images"] {
		if !allowedFile(fh.Filename) {
			continue
		}
		item := BatchItem{Filename: fh.Filename}
		data, err := readFile(fh, h.opts.MaxUploadBytes)
		if err != nil {
			item.Error = err.Error()
			results = append(results, item)
			continue
		}
		result, err := h.triage.Classify(c.Request.Context(), data, threshold)
		if err != nil {
			if !isClientError(err) {
				h.logger.Error("batch prediction failed", zap.String("filename", fh.Filename), zap.Error(err))
			}
			item.Error = err.Error()
			results = append(results, item)
			continue
		}
		resp := h.toPredict(c, result, fh.Filename, threshold)
		item.Result = &resp
		results = append(results, item)
	}

	c.JSON(http.StatusOK, BatchResponse{Count: len(results), Results: results})
}

// GenerateReport POST /generate_report. Ошибка тепловой карты не ломает ответ.
func (h *Handler) GenerateReport(c *gin.Context) {
	threshold, ok := h.threshold(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		fh, err = c.FormFile("image")
	}
	if err != nil {
		h.fail(c, http.StatusBadRequest, "No file uploaded", `Please upload an image file with key "file"`)
		return
	}
	data, ok := h.readUpload(c, fh)
	if !ok {
		return
	}

	out, err := h.triage.Report(c.Request.Context(), data, threshold)
	if err != nil {
		h.failWith(c, "Report generation failed", err)
		return
	}

	c.JSON(http.StatusOK, toReport(out))
}

func (h *Handler) threshold(c *gin.Context) (float64, bool) {
	raw := strings.TrimSpace(c.PostForm("confidence_threshold"))
	if raw == "" {
		return h.opts.DefaultThreshold, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err == nil {
		err = entity.ValidateThreshold(v)
	}
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Invalid confidence threshold", "confidence_threshold must be a number in [0, 1]")
		return 0, false
	}
	return v, true
}

func (h *Handler) readUpload(c *gin.Context, fh *multipart.FileHeader) ([]byte, bool) {
	if fh.Filename == "" {
		h.fail(c, http.StatusBadRequest, "No file selected", "Please select a file to upload")
		return nil, false
	}
	if !allowedFile(fh.Filename) {
		h.fail(c, http.StatusBadRequest, "Invalid file type", "Allowed types: "+strings.Join(allowedExtensions, ", "))
		return nil, false
	}
	data, err := readFile(fh, h.opts.MaxUploadBytes)
	if err != nil {
		h.fail(c, http.StatusBadRequest, "Invalid file", err.Error())
		return nil, false
	}
	return data, true
}

func (h *Handler) toPredict(c *gin.Context, r *entity.CascadeResult, filename string, threshold float64) PredictResponse {
	resp := PredictResponse{
		Stage1:         toOutcome(r.Stage1, h.info.GeneralLabels),
		Recommendation: toRecommendation(r.Recommendation),
		Metadata: Metadata{
			Filename:            filepath.Base(filename),
			Timestamp:           h.timestamp(),
			ConfidenceThreshold: threshold,
			RequestID:           c.GetString(requestIDKey),
		},
	}
	if r.Stage2 != nil {
		s2 := toOutcome(r.Stage2, h.info.SpecializedLabels)
		resp.Stage2 = &s2
	}
	return resp
}

func (h *Handler) failWith(c *gin.Context, title string, err error) {
	if isClientError(err) {
		h.fail(c, http.StatusBadRequest, title, err.Error())
		return
	}
	h.logger.Error(strings.ToLower(title), zap.String("request_id", c.GetString(requestIDKey)), zap.Error(err))
	h.fail(c, http.StatusInternalServerError, title, err.Error())
}

func (h *Handler) fail(c *gin.Context, status int, title, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: title, Message: message})
}

func (h *Handler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

func isClientError(err error) bool {
	return errors.Is(err, entity.ErrInvalidParameter) || errors.Is(err, entity.ErrInvalidImage)
}

func allowedFile(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	for _, a := range allowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

func readFile(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	if fh.Size > limit {
		return nil, fmt.Errorf("file exceeds %d bytes", limit)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file exceeds %d bytes", limit)
	}
	return data, nil
}
