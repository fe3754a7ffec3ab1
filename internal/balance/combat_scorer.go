package balance

import (
	"fmt"

	"dungeon-server/internal/models"
)

// Коэффициенты базовой оценки героини.
const (
	hpWeight          = 0.25
	powerWeight       = 0.45
	attackSpeedWeight = 12.0
	critWeight        = 0.12
	skillWeight       = 6.0

	fastBonus   = 0.15
	strongBonus = 0.15
	manyBonus   = 0.10
)

var (
	fastKeywords   = []string{"fast", "빠른"}
	strongKeywords = []string{"strong", "한방", "강한"}
	manyKeywords   = []string{"many", "타수"}
)

// HeroineScore считает боевую оценку одной героини.
//
//	base = 0.25*hp + 0.45*(str+dex) + 12*attack_speed + 0.12*crit + 6*skill_mult
//
// плюс бонусы за ключевые слова (поиск подстроки без учета регистра).
func HeroineScore(h models.HeroineStat) float64 {
	power := powerWeight * (h.Strength + h.Dexterity)
	speed := attackSpeedWeight * h.AttackSpeed
	skill := skillWeight * h.SkillDamageMultiplier

	score := hpWeight*h.HP + power + speed + critWeight*h.CritChance + skill

	if h.Keywords.HasSubstring(fastKeywords...) {
		score += fastBonus * speed
	}
	if h.Keywords.HasSubstring(strongKeywords...) {
		score += strongBonus * power
	}
	if h.Keywords.HasSubstring(manyKeywords...) {
		score += manyBonus * skill
	}
	return score
}

// PartyScore - среднее арифметическое оценок героинь отряда.
// Для одной героини совпадает с HeroineScore.
func PartyScore(party []models.HeroineStat) (float64, error) {
	if len(party) == 0 {
		return 0, fmt.Errorf("%w: empty heroine stats", models.ErrInvalidInput)
	}
	var total float64
	for _, h := range party {
		total += HeroineScore(h)
	}
	return total / float64(len(party)), nil
}

// PartyKeywords объединяет ключевые слова всех героинь отряда (без повторов).
func PartyKeywords(party []models.HeroineStat) models.KeywordSet {
	var out models.KeywordSet
	for _, h := range party {
		for _, k := range h.Keywords {
			if !out.Contains(k) {
				out = append(out, k)
			}
		}
	}
	return out
}
