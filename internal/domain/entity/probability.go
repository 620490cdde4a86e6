package entity

import (
	"fmt"
	"math"
	"sort"
)

// ProbabilityTolerance допустимое отклонение суммы вероятностей от 1
const ProbabilityTolerance = 1e-4

// ProbabilityVector неизменяемое распределение вероятностей по классам
type ProbabilityVector struct {
	scores []float64
}

// NewProbabilityVector проверяет распределение и копирует его
func NewProbabilityVector(scores []float64) (ProbabilityVector, error) {
	if len(scores) == 0 {
		return ProbabilityVector{}, fmt.Errorf("%w: empty vector", ErrInvalidDistribution)
	}

	var sum float64
	for i, s := range scores {
		if math.IsNaN(s) || s < 0 || s > 1 {
			return ProbabilityVector{}, fmt.Errorf("%w: score[%d]=%v out of [0,1]", ErrInvalidDistribution, i, s)
		}
		sum += s
	}
	if math.Abs(sum-1) > ProbabilityTolerance {
		return ProbabilityVector{}, fmt.Errorf("%w: scores sum to %.6f", ErrInvalidDistribution, sum)
	}

	c := make([]float64, len(scores))
	copy(c, scores)
	return ProbabilityVector{scores: c}, nil
}

// Len возвращает число классов
func (p ProbabilityVector) Len() int {
	return len(p.scores)
}

// At возвращает вероятность класса i
func (p ProbabilityVector) At(i int) float64 {
	return p.scores[i]
}

// Scores возвращает копию вероятностей
func (p ProbabilityVector) Scores() []float64 {
	c := make([]float64, len(p.scores))
	copy(c, p.scores)
	return c
}

// TopK возвращает k лучших классов: по убыванию вероятности, при равенстве по возрастанию индекса
func (p ProbabilityVector) TopK(k int) []int {
	idx := make([]int, len(p.scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return p.scores[idx[a]] > p.scores[idx[b]]
	})
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}
