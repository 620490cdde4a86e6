package entity

// Stage номер стадии каскада
type Stage int

const (
	StageGeneral     Stage = 1 // общий классификатор
	StageSpecialized Stage = 2 // специализированный классификатор
)

// TopKSize число лучших классов в результате
const TopKSize = 3

// ScoredLabel класс с вероятностью
type ScoredLabel struct {
	Label string
	Index int
	Score float64
}

// ClassificationOutcome итог одного прогона классификатора
type ClassificationOutcome struct {
	Stage        Stage
	Label        string
	LabelIndex   int
	Confidence   float64
	Distribution ProbabilityVector
	TopK         []ScoredLabel
}

// NewClassificationOutcome строит итог по распределению и набору меток
func NewClassificationOutcome(stage Stage, labels LabelSet, dist ProbabilityVector) *ClassificationOutcome {
	top := dist.TopK(TopKSize)
	scored := make([]ScoredLabel, len(top))
	for i, idx := range top {
		scored[i] = ScoredLabel{Label: labels.Name(idx), Index: idx, Score: dist.At(idx)}
	}

	return &ClassificationOutcome{
		Stage:        stage,
		Label:        scored[0].Label,
		LabelIndex:   scored[0].Index,
		Confidence:   scored[0].Score,
		Distribution: dist,
		TopK:         scored,
	}
}

// CascadeResult итог каскадной классификации одного изображения
type CascadeResult struct {
	Stage1         *ClassificationOutcome
	Stage2         *ClassificationOutcome // nil, если вторая стадия не запускалась
	Recommendation Recommendation
}

// Escalated сообщает, запускалась ли вторая стадия
func (r *CascadeResult) Escalated() bool {
	return r.Stage2 != nil
}

// Final возвращает итог последней выполненной стадии
func (r *CascadeResult) Final() *ClassificationOutcome {
	if r.Stage2 != nil {
		return r.Stage2
	}
	return r.Stage1
}
