package models

import "encoding/json"

// HeroineStat - боевые характеристики героини.
// Отсутствующие в JSON поля получают значения по умолчанию (см. DefaultHeroineStat).
type HeroineStat struct {
	HeroineID             int        `json:"heroine_id,omitempty"`
	HP                    float64    `json:"hp"`
	Strength              float64    `json:"strength"`
	Dexterity             float64    `json:"dexterity"`
	Intelligence          *float64   `json:"intelligence,omitempty"`
	AttackSpeed           float64    `json:"attack_speed"`
	CritChance            float64    `json:"crit_chance"`
	SkillDamageMultiplier float64    `json:"skill_damage_multiplier"`
	Keywords              KeywordSet `json:"keywords,omitempty"`
}

// DefaultHeroineStat возвращает статы по умолчанию.
func DefaultHeroineStat() HeroineStat {
	return HeroineStat{
		HP:                    100,
		Strength:              1,
		Dexterity:             1,
		AttackSpeed:           1.0,
		CritChance:            0.0,
		SkillDamageMultiplier: 1.0,
	}
}

// UnmarshalJSON заполняет умолчания перед разбором.
func (h *HeroineStat) UnmarshalJSON(data []byte) error {
	type alias HeroineStat
	tmp := alias(DefaultHeroineStat())
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	*h = HeroineStat(tmp)
	return nil
}

// HeroineProfile - данные героини для генерации событий.
type HeroineProfile struct {
	HeroineID      int    `json:"heroine_id"`
	Name           string `json:"name,omitempty"`
	Persona        string `json:"persona,omitempty"`
	MemoryProgress int    `json:"memory_progress"`
}

// DefaultHeroineName подставляется вместо {heroine_name}, если имя неизвестно.
const DefaultHeroineName = "그녀"

// DisplayName возвращает имя или значение по умолчанию.
func (p *HeroineProfile) DisplayName() string {
	if p == nil || p.Name == "" {
		return DefaultHeroineName
	}
	return p.Name
}
