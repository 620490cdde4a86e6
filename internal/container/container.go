package container

import (
	"go.uber.org/zap"

	app "skin-triage/internal/application"
	"skin-triage/internal/domain/entity"
	"skin-triage/internal/domain/port"
)

// Deps внешние зависимости сервисов
type Deps struct {
	Sessions     port.SessionRepository
	General      port.ExplainableClassifier // может быть nil
	Specialized  port.ExplainableClassifier // может быть nil
	Triggers     entity.TriggerSet
	Preprocessor port.Preprocessor
	Renderer     port.OverlayRenderer
	HeatmapAlpha float64
	Logger       *zap.Logger
	Metrics      app.Recorder
}

type Container struct {
	SessionService *app.SessionService
	TriageService  *app.TriageService
	Engine         *app.CascadeEngine
}

func New(d Deps) *Container {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var general, specialized port.Classifier
	if d.General != nil {
		general = d.General
	}
	if d.Specialized != nil {
		specialized = d.Specialized
	}

	engine := app.NewCascadeEngine(general, specialized, d.Triggers, logger.Named("cascade"), d.Metrics)

	opts := []app.TriageOption{
		app.WithLogger(logger.Named("triage")),
		app.WithRecorder(d.Metrics),
		app.WithExplainer(entity.StageGeneral, d.General),
		app.WithExplainer(entity.StageSpecialized, d.Specialized),
	}
	if d.HeatmapAlpha > 0 {
		opts = append(opts, app.WithHeatmapAlpha(d.HeatmapAlpha))
	}

	return &Container{
		SessionService: app.NewSessionService(d.Sessions),
		TriageService:  app.NewTriageService(d.Preprocessor, engine, d.Renderer, opts...),
		Engine:         engine,
	}
}
