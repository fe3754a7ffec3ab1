package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"dungeon-server/internal/ai"
	"dungeon-server/internal/models"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"
)

// Component - метка LLM-запросов оракула в метриках.
const Component = "strategy"

// MaxMultiplier - верхняя граница множителя сложности.
const MaxMultiplier = 3.0

// Config - настройки оракула.
type Config struct {
	Model              string
	Timeout            time.Duration
	FallbackMultiplier float64
}

// StrategyOracle превращает сводку отряда и номер этажа в стратегию сложности.
// Кроме вызова LLM никакого ввода-вывода не выполняет.
type StrategyOracle struct {
	client ai.AIClient
	cfg    Config
	logger *zap.Logger
}

// NewStrategyOracle создает оракул.
func NewStrategyOracle(client ai.AIClient, cfg Config, logger *zap.Logger) *StrategyOracle {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &StrategyOracle{client: client, cfg: cfg, logger: logger.Named("StrategyOracle")}
}

// Fallback возвращает стратегию по умолчанию.
func (o *StrategyOracle) Fallback() models.Strategy {
	return models.FallbackStrategy(o.cfg.FallbackMultiplier)
}

// Derive запрашивает стратегию у LLM и проверяет ответ.
// Любая ошибка транспорта или нарушение схемы возвращается как ErrLLMFailure.
func (o *StrategyOracle) Derive(ctx context.Context, heroSummary string, floor int) (models.Strategy, error) {
	if o.client == nil {
		return models.Strategy{}, fmt.Errorf("%w: ai client is not configured", models.ErrLLMFailure)
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	temperature := 0.4
	text, _, err := o.client.GenerateText(ctx, Component, systemPrompt(), userPrompt(heroSummary, floor), ai.GenerationParams{
		Model:       o.cfg.Model,
		Temperature: &temperature,
		Schema:      &ai.ResponseSchema{Name: "dungeon_strategy", Schema: strategySchema},
	})
	if err != nil {
		return models.Strategy{}, fmt.Errorf("%w: %v", models.ErrLLMFailure, err)
	}

	var raw rawStrategy
	if err := ai.DecodeJSON(text, &raw); err != nil {
		return models.Strategy{}, fmt.Errorf("%w: %v", models.ErrLLMFailure, err)
	}
	s, err := raw.coerce()
	if err != nil {
		return models.Strategy{}, fmt.Errorf("%w: %v", models.ErrLLMFailure, err)
	}
	return s, nil
}

// DeriveOrFallback никогда не завершается ошибкой: при сбое возвращается стратегия по умолчанию.
func (o *StrategyOracle) DeriveOrFallback(ctx context.Context, heroSummary string, floor int) (models.Strategy, bool) {
	s, err := o.Derive(ctx, heroSummary, floor)
	if err != nil {
		o.logger.Warn("Strategy LLM failed, using fallback", zap.Int("floor", floor), zap.Error(err))
		return o.Fallback(), true
	}
	o.logger.Info("Strategy derived",
		zap.Int("floor", floor),
		zap.Float64("multiplier", s.DifficultyMultiplier),
		zap.Strings("preferred_tags", s.PreferredTags),
		zap.Strings("avoid", s.AvoidConditions),
	)
	return s, false
}

// rawStrategy - ответ модели до проверки.
type rawStrategy struct {
	DifficultyMultiplier *float64        `json:"difficulty_multiplier"`
	PreferredTags        []string        `json:"preferred_tags"`
	MonsterPreferences   []rawPreference `json:"monster_preferences"`
	AvoidConditions      []string        `json:"avoid_conditions"`
	Reasoning            string          `json:"reasoning"`
}

type rawPreference struct {
	MinHP       *float64 `json:"min_hp"`
	MaxHP       *float64 `json:"max_hp"`
	MinAttack   *float64 `json:"min_attack"`
	MaxAttack   *float64 `json:"max_attack"`
	MinSpeed    *float64 `json:"min_speed"`
	MaxSpeed    *float64 `json:"max_speed"`
	MonsterType string   `json:"monster_type"`
	Weight      *float64 `json:"weight"`
}

// coerce проверяет и нормализует ответ: множитель обязателен и приводится к [0, 3],
// неизвестные теги и условия отбрасываются, отрицательные веса обнуляются.
func (r rawStrategy) coerce() (models.Strategy, error) {
	if r.DifficultyMultiplier == nil {
		return models.Strategy{}, fmt.Errorf("difficulty_multiplier is missing")
	}
	m := *r.DifficultyMultiplier
	if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
		return models.Strategy{}, fmt.Errorf("difficulty_multiplier %v is invalid", m)
	}
	s := models.Strategy{
		DifficultyMultiplier: math.Min(m, MaxMultiplier),
		PreferredTags:        []string{},
		MonsterPreferences:   []models.Preference{},
		AvoidConditions:      []string{},
		Reasoning:            strings.TrimSpace(r.Reasoning),
	}

	for _, tag := range r.PreferredTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if models.IsKnownKeyword(tag) && !models.KeywordSet(s.PreferredTags).Contains(tag) {
			s.PreferredTags = append(s.PreferredTags, tag)
		}
	}
	for _, c := range r.AvoidConditions {
		if name, ok := models.NormalizeAvoidCondition(c); ok && !models.KeywordSet(s.AvoidConditions).Contains(name) {
			s.AvoidConditions = append(s.AvoidConditions, name)
		}
	}
	for _, p := range r.MonsterPreferences {
		pref := models.Preference{
			MinHP: finite(p.MinHP), MaxHP: finite(p.MaxHP),
			MinAttack: finite(p.MinAttack), MaxAttack: finite(p.MaxAttack),
			MinSpeed: finite(p.MinSpeed), MaxSpeed: finite(p.MaxSpeed),
			Weight: finite(p.Weight),
		}
		if name := strings.TrimSpace(p.MonsterType); name != "" {
			t, ok := models.ParseMonsterType(name)
			if !ok {
				continue
			}
			pref.MonsterType = t.String()
		}
		if pref.Weight != nil && *pref.Weight < 0 {
			zero := 0.0
			pref.Weight = &zero
		}
		s.MonsterPreferences = append(s.MonsterPreferences, pref)
	}
	return s, nil
}

func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	out := *v
	return &out
}

var numberField = jsonschema.Definition{Type: jsonschema.Number}

// strategySchema - схема структурированного ответа.
var strategySchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"difficulty_multiplier": {Type: jsonschema.Number, Description: "0.0 - 3.0, 1.0 = matched to the party"},
		"preferred_tags":        {Type: jsonschema.Array, Items: &jsonschema.Definition{Type: jsonschema.String}},
		"monster_preferences": {
			Type: jsonschema.Array,
			Items: &jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"min_hp":       numberField,
					"max_hp":       numberField,
					"min_attack":   numberField,
					"max_attack":   numberField,
					"min_speed":    numberField,
					"max_speed":    numberField,
					"monster_type": {Type: jsonschema.String, Enum: []string{"normal", "elite", "boss"}},
					"weight":       numberField,
				},
			},
		},
		"avoid_conditions": {
			Type:  jsonschema.Array,
			Items: &jsonschema.Definition{Type: jsonschema.String, Enum: []string{models.AvoidSlow, models.AvoidFast, models.AvoidWeak, models.AvoidHighAttack, models.AvoidLowHP}},
		},
		"reasoning": {Type: jsonschema.String},
	},
	Required: []string{"difficulty_multiplier", "preferred_tags", "monster_preferences", "avoid_conditions", "reasoning"},
}

func systemPrompt() string {
	tags := make([]string, 0, len(models.AllKeywords()))
	for _, k := range models.AllKeywords() {
		tags = append(tags, string(k))
	}
	var b strings.Builder
	b.WriteString("You are the difficulty director of a cooperative dungeon game.\n")
	b.WriteString("Given a summary of the party and the floor number, choose how hard the next floor should be.\n")
	b.WriteString("Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"difficulty_multiplier": number, "preferred_tags": [string], "monster_preferences": [{"min_hp"?, "max_hp"?, "min_attack"?, "max_attack"?, "min_speed"?, "max_speed"?, "monster_type"?: "normal"|"elite"|"boss", "weight"?: number}], "avoid_conditions": [string], "reasoning": string}`)
	b.WriteString("\nRules:\n")
	b.WriteString("- difficulty_multiplier is between 0.0 and 3.0; 1.0 means a fair fight for this party. Deeper floors may go higher.\n")
	b.WriteString("- preferred_tags are chosen only from: " + strings.Join(tags, ", ") + ".\n")
	b.WriteString("- avoid_conditions are chosen only from: slow, fast, weak, highattack, lowhp.\n")
	b.WriteString("- weight is >= 0; a higher weight makes matching monsters more likely.\n")
	b.WriteString("- reasoning is one short sentence.\n")
	return b.String()
}

func userPrompt(heroSummary string, floor int) string {
	return fmt.Sprintf("Floor: %d\nParty:\n%s", floor, heroSummary)
}

// HeroSummary строит текстовую сводку отряда для промта.
func HeroSummary(party []models.HeroineStat, combatScore float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "combat_score=%.1f, members=%d\n", combatScore, len(party))
	for i, h := range party {
		fmt.Fprintf(&b, "- heroine #%d (id=%d): hp=%.0f str=%.0f dex=%.0f", i+1, h.HeroineID, h.HP, h.Strength, h.Dexterity)
		if h.Intelligence != nil {
			fmt.Fprintf(&b, " int=%.0f", *h.Intelligence)
		}
		fmt.Fprintf(&b, " attack_speed=%.2f crit=%.1f skill_mult=%.2f", h.AttackSpeed, h.CritChance, h.SkillDamageMultiplier)
		if len(h.Keywords) > 0 {
			fmt.Fprintf(&b, " keywords=[%s]", strings.Join(h.Keywords, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
