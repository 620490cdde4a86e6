package entity

import "sort"

// LabelSet упорядоченный неизменяемый набор названий классов
type LabelSet struct {
	names []string
}

// NewLabelSet копирует названия классов в новый набор
func NewLabelSet(names ...string) LabelSet {
	n := make([]string, len(names))
	copy(n, names)
	return LabelSet{names: n}
}

// Len возвращает число классов
func (l LabelSet) Len() int {
	return len(l.names)
}

// Name возвращает название класса по индексу
func (l LabelSet) Name(i int) string {
	return l.names[i]
}

// Names возвращает копию всех названий
func (l LabelSet) Names() []string {
	n := make([]string, len(l.names))
	copy(n, l.names)
	return n
}

// TriggerSet индексы классов первой стадии, запускающие вторую стадию
type TriggerSet struct {
	idx map[int]struct{}
}

func NewTriggerSet(indices ...int) TriggerSet {
	m := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		m[i] = struct{}{}
	}
	return TriggerSet{idx: m}
}

// Contains проверяет, входит ли индекс в набор
func (t TriggerSet) Contains(i int) bool {
	_, ok := t.idx[i]
	return ok
}

// Indices возвращает отсортированные индексы
func (t TriggerSet) Indices() []int {
	out := make([]int, 0, len(t.idx))
	for i := range t.idx {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
