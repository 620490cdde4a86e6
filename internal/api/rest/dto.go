package rest

import (
	"encoding/base64"
	"fmt"

	app "skin-triage/internal/application"
	"skin-triage/internal/domain/entity"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type ScoredLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type Outcome struct {
	Class            string             `json:"class"`
	ClassIndex       int                `json:"class_index"`
	Confidence       float64            `json:"confidence"`
	AllProbabilities map[string]float64 `json:"all_probabilities"`
	Top3             []ScoredLabel      `json:"top3"`
}

type Recommendation struct {
	Severity string `json:"severity"`
	Action   string `json:"action"`
	Details  string `json:"details"`
}

type Metadata struct {
	Filename            string  `json:"filename"`
	Timestamp           string  `json:"timestamp"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	RequestID           string  `json:"request_id"`
}

// PredictResponse ответ /predict
type PredictResponse struct {
	Stage1         Outcome        `json:"stage1"`
	Stage2         *Outcome       `json:"stage2"`
	Recommendation Recommendation `json:"recommendation"`
	Metadata       Metadata       `json:"metadata"`
}

type BatchItem struct {
	Filename string           `json:"filename"`
	Result   *PredictResponse `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type BatchResponse struct {
	Count   int         `json:"count"`
	Results []BatchItem `json:"results"`
}

// ReportResponse ответ /generate_report. HeatmapImage равен null, если карту построить не удалось.
type ReportResponse struct {
	Prediction        string         `json:"prediction"`
	Confidence        float64        `json:"confidence"`
	Stage             int            `json:"stage"`
	Recommendation    Recommendation `json:"recommendation"`
	HeatmapImage      *string        `json:"heatmap_image"`
	HeatmapDegenerate bool           `json:"heatmap_degenerate"`
}

type ModelsStatus struct {
	General     bool `json:"general"`
	Specialized bool `json:"specialized"`
}

type HealthResponse struct {
	Status    string       `json:"status"`
	Service   string       `json:"service"`
	Models    ModelsStatus `json:"models"`
	Timestamp string       `json:"timestamp"`
}

type StageInfo struct {
	Name        string   `json:"name"`
	Classes     []string `json:"classes"`
	Description string   `json:"description"`
	Triggers    []string `json:"triggers,omitempty"`
}

type InfoResponse struct {
	Service          string               `json:"service"`
	Version          string               `json:"version"`
	Description      string               `json:"description"`
	Stages           map[string]StageInfo `json:"stages"`
	SupportedFormats []string             `json:"supported_formats"`
	MaxFileSizeMB    float64              `json:"max_file_size_mb"`
	Endpoints        map[string]string    `json:"endpoints"`
}

func toOutcome(o *entity.ClassificationOutcome, labels entity.LabelSet) Outcome {
	all := make(map[string]float64, o.Distribution.Len())
	for i, s := range o.Distribution.Scores() {
		name := fmt.Sprintf("Class %d", i)
		if i < labels.Len() {
			name = labels.Name(i)
		}
		all[name] = s
	}
	top := make([]ScoredLabel, len(o.TopK))
	for i, s := range o.TopK {
		top[i] = ScoredLabel{Label: s.Label, Score: s.Score}
	}
	return Outcome{
		Class:            o.Label,
		ClassIndex:       o.LabelIndex,
		Confidence:       o.Confidence,
		AllProbabilities: all,
		Top3:             top,
	}
}

func toRecommendation(r entity.Recommendation) Recommendation {
	return Recommendation{Severity: string(r.Severity), Action: r.Action, Details: r.Details}
}

func toReport(out *app.TriageOutput) ReportResponse {
	final := out.Result.Final()
	resp := ReportResponse{
		Prediction:        final.Label,
		Confidence:        final.Confidence,
		Stage:             int(final.Stage),
		Recommendation:    toRecommendation(out.Result.Recommendation),
		HeatmapDegenerate: out.HeatmapDegenerate,
	}
	if out.Heatmap != nil {
		uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(out.Heatmap)
		resp.HeatmapImage = &uri
	}
	return resp
}
