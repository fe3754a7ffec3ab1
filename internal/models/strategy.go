package models

import "strings"

// Strategy - стратегия сложности, полученная от LLM (или fallback).
type Strategy struct {
	DifficultyMultiplier float64      `json:"difficulty_multiplier"`
	PreferredTags        []string     `json:"preferred_tags"`
	MonsterPreferences   []Preference `json:"monster_preferences"`
	AvoidConditions      []string     `json:"avoid_conditions"`
	Reasoning            string       `json:"reasoning"`
}

// FallbackReasoning - маркер стратегии по умолчанию.
const FallbackReasoning = "LLM fallback"

// FallbackStrategy возвращает безопасную стратегию на случай сбоя LLM.
func FallbackStrategy(multiplier float64) Strategy {
	return Strategy{
		DifficultyMultiplier: multiplier,
		PreferredTags:        []string{},
		MonsterPreferences:   []Preference{},
		AvoidConditions:      []string{},
		Reasoning:            FallbackReasoning,
	}
}

// IsFallback сообщает, что стратегия - заглушка.
func (s Strategy) IsFallback() bool {
	return s.Reasoning == FallbackReasoning
}

// Preference - предикат над статами монстра и вес выбора.
// Все заданные границы должны выполняться одновременно.
type Preference struct {
	MinHP       *float64 `json:"min_hp,omitempty"`
	MaxHP       *float64 `json:"max_hp,omitempty"`
	MinAttack   *float64 `json:"min_attack,omitempty"`
	MaxAttack   *float64 `json:"max_attack,omitempty"`
	MinSpeed    *float64 `json:"min_speed,omitempty"`
	MaxSpeed    *float64 `json:"max_speed,omitempty"`
	MonsterType string   `json:"monster_type,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
}

// DefaultPreferenceWeight используется, если вес не задан.
const DefaultPreferenceWeight = 1.0

// EffectiveWeight возвращает вес с учетом умолчания.
func (p Preference) EffectiveWeight() float64 {
	if p.Weight == nil {
		return DefaultPreferenceWeight
	}
	return *p.Weight
}

// Matches проверяет монстра на соответствие предпочтению.
func (p Preference) Matches(m MonsterRecord) bool {
	if p.MinHP != nil && m.HP < *p.MinHP {
		return false
	}
	if p.MaxHP != nil && m.HP > *p.MaxHP {
		return false
	}
	if p.MinAttack != nil && m.Attack < *p.MinAttack {
		return false
	}
	if p.MaxAttack != nil && m.Attack > *p.MaxAttack {
		return false
	}
	if p.MinSpeed != nil && m.Speed < *p.MinSpeed {
		return false
	}
	if p.MaxSpeed != nil && m.Speed > *p.MaxSpeed {
		return false
	}
	if name := strings.TrimSpace(p.MonsterType); name != "" {
		t, ok := ParseMonsterType(name)
		if !ok || t != m.MonsterType {
			return false
		}
	}
	return true
}

// Условия исключения монстров из выборки.
const (
	AvoidSlow       = "slow"
	AvoidFast       = "fast"
	AvoidWeak       = "weak"
	AvoidHighAttack = "highattack"
	AvoidLowHP      = "lowhp"
)

// AvoidPredicate возвращает предикат для условия или nil, если условие неизвестно.
func AvoidPredicate(condition string) func(MonsterRecord) bool {
	switch normalizeCondition(condition) {
	case AvoidSlow:
		return func(m MonsterRecord) bool { return m.Speed < 250 }
	case AvoidFast:
		return func(m MonsterRecord) bool { return m.Speed > 400 }
	case AvoidWeak:
		return func(m MonsterRecord) bool { return m.Attack < 12 }
	case AvoidHighAttack:
		return func(m MonsterRecord) bool { return m.Attack > 20 }
	case AvoidLowHP:
		return func(m MonsterRecord) bool { return m.HP < 200 }
	}
	return nil
}

// normalizeCondition приводит "High Attack", "high_attack" и т.п. к "highattack".
func normalizeCondition(c string) string {
	c = strings.ToLower(strings.TrimSpace(c))
	c = strings.NewReplacer("_", "", "-", "", " ", "").Replace(c)
	return c
}

// NormalizeAvoidCondition возвращает каноническое имя условия и признак того, что оно известно.
func NormalizeAvoidCondition(c string) (string, bool) {
	n := normalizeCondition(c)
	return n, AvoidPredicate(n) != nil
}
