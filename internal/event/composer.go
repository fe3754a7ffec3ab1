package event

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"dungeon-server/internal/ai"
	"dungeon-server/internal/catalog"
	"dungeon-server/internal/models"

	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Component - метка LLM-запросов композитора в метриках.
const Component = "composer"

// HeroineNamePlaceholder подставляется именем героини в тексте сценария.
const HeroineNamePlaceholder = "{heroine_name}"

const (
	fallbackNarrativeRunes = 200
	minChoices             = 2
)

// defaultMainEvent используется, если каталог сценариев пуст.
var defaultMainEvent = models.MainEvent{
	EventCode:    "EV_DEFAULT",
	Title:        "고요한 방",
	ScenarioText: "{heroine_name}은(는) 고요한 방 안에서 무언가의 기척을 느낀다.",
}

// Config - настройки композитора.
type Config struct {
	Model             string
	Timeout           time.Duration
	FallbackChoices   []string
	MemoryTokenBudget int
}

// DefaultFallbackChoices - варианты действий события-заглушки.
var DefaultFallbackChoices = []string{"관찰한다", "상호작용을 시도한다"}

// EventComposer собирает события для комнат type==2.
type EventComposer struct {
	client    ai.AIClient
	rewards   *catalog.RewardCatalog
	scenarios *catalog.ScenarioCatalog
	counter   ai.TokenCounter
	cfg       Config
	logger    *zap.Logger
}

// NewEventComposer создает композитор. counter может быть nil (грубая оценка токенов).
func NewEventComposer(client ai.AIClient, rewards *catalog.RewardCatalog, scenarios *catalog.ScenarioCatalog, counter ai.TokenCounter, cfg Config, logger *zap.Logger) *EventComposer {
	if len(cfg.FallbackChoices) < minChoices {
		cfg.FallbackChoices = DefaultFallbackChoices
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if counter == nil {
		counter = ai.ApproxCounter{}
	}
	return &EventComposer{
		client:    client,
		rewards:   rewards,
		scenarios: scenarios,
		counter:   counter,
		cfg:       cfg,
		logger:    logger.Named("EventComposer"),
	}
}

// FloorRequest - входные данные для событий этажа.
type FloorRequest struct {
	Floor     int
	Map       *models.RawMap
	Heroines  []models.HeroineProfile
	UsedCodes []string
}

// RoomRequest - входные данные для события одной комнаты.
type RoomRequest struct {
	Floor     int
	RoomID    int
	PlayerIDs []int
	// HeroineByPlayer - профиль героини в слоте игрока.
	HeroineByPlayer map[int]models.HeroineProfile
	UsedCodes       []string
}

// FloorResult - события этажа и число комнат, собранных без LLM.
type FloorResult struct {
	Events    *models.FloorEvents
	Fallbacks int
}

// ComposeFloor собирает события для всех комнат type==2 в порядке объявления.
// Коды, выбранные на этом этаже, не повторяются, пока пул не исчерпан.
func (c *EventComposer) ComposeFloor(ctx context.Context, rng *rand.Rand, req FloorRequest) (*FloorResult, error) {
	if req.Map == nil {
		return nil, fmt.Errorf("%w: map is required", models.ErrInvalidInput)
	}
	byPlayer := HeroinesByPlayer(req.Map, req.Heroines)
	used := append([]string{}, req.UsedCodes...)

	result := &FloorResult{Events: &models.FloorEvents{Floor: req.Floor, Events: []models.Event{}}}
	for _, idx := range req.Map.RoomsOfType(models.RoomTypeEvent) {
		ev, fallback := c.ComposeRoom(ctx, rng, RoomRequest{
			Floor:           req.Floor,
			RoomID:          req.Map.Rooms[idx].RoomID,
			PlayerIDs:       req.Map.PlayerIDs,
			HeroineByPlayer: byPlayer,
			UsedCodes:       used,
		})
		if fallback {
			result.Fallbacks++
		}
		used = append(used, ev.EventCode)
		result.Events.Events = append(result.Events.Events, ev)
	}
	return result, nil
}

// HeroinesByPlayer связывает игроков с профилями героинь по слотам карты.
// Героиня без профиля получает профиль только с id.
func HeroinesByPlayer(m *models.RawMap, profiles []models.HeroineProfile) map[int]models.HeroineProfile {
	byID := make(map[int]models.HeroineProfile, len(profiles))
	for _, p := range profiles {
		byID[p.HeroineID] = p
	}
	out := make(map[int]models.HeroineProfile, len(m.PlayerIDs))
	for _, pid := range m.PlayerIDs {
		hid, ok := m.HeroineFor(pid)
		if !ok {
			continue
		}
		profile, ok := byID[hid]
		if !ok {
			profile = models.HeroineProfile{HeroineID: hid}
		}
		out[pid] = profile
	}
	return out
}

// ComposeRoom собирает событие комнаты. Второе значение сообщает, что использована заглушка.
func (c *EventComposer) ComposeRoom(ctx context.Context, rng *rand.Rand, req RoomRequest) (models.Event, bool) {
	main := c.pickMainEvent(rng, req.UsedCodes)

	var lead int
	if len(req.PlayerIDs) > 0 {
		lead = req.PlayerIDs[0]
	}
	leadHeroine := profileFor(req.HeroineByPlayer, lead)

	ev := models.Event{
		RoomID:       req.RoomID,
		EventCode:    main.EventCode,
		Title:        main.Title,
		IsPersonal:   main.IsPersonal,
		ScenarioText: substituteName(main.ScenarioText, leadHeroine),
	}

	sub, err := c.generateSubEvent(ctx, main, ev.ScenarioText, leadHeroine, req.Floor)
	if err != nil {
		c.logger.Warn("Event LLM failed, using fallback event",
			zap.Int("room_id", req.RoomID), zap.String("event_code", main.EventCode), zap.Error(err))
		c.applyFallback(&ev, main, req)
		return ev, true
	}

	ev.Narrative = sub.Narrative
	ev.ExpectedOutcome = sub.ExpectedOutcome
	ev.Choices = c.resolveChoices(sub.Choices, sub.ExpectedOutcome)

	if main.IsPersonal {
		ev.PerPlayerNarratives = c.personalNarratives(ctx, main, req, lead, sub.Narrative)
	}
	return ev, false
}

func (c *EventComposer) pickMainEvent(rng *rand.Rand, used []string) models.MainEvent {
	var pool []models.MainEvent
	if c.scenarios != nil {
		pool = c.scenarios.MainEventsExcluding(used)
	}
	if len(pool) == 0 {
		return defaultMainEvent
	}
	return pool[rng.Intn(len(pool))]
}

func profileFor(byPlayer map[int]models.HeroineProfile, playerID int) *models.HeroineProfile {
	p, ok := byPlayer[playerID]
	if !ok {
		return nil
	}
	return &p
}

func substituteName(text string, heroine *models.HeroineProfile) string {
	return strings.ReplaceAll(text, HeroineNamePlaceholder, heroine.DisplayName())
}

// fallbackNarrative - первые 200 символов текста сценария.
func fallbackNarrative(scenario string) string {
	if utf8.RuneCountInString(scenario) <= fallbackNarrativeRunes {
		return scenario
	}
	return string([]rune(scenario)[:fallbackNarrativeRunes])
}

func (c *EventComposer) applyFallback(ev *models.Event, main models.MainEvent, req RoomRequest) {
	ev.Fallback = true
	ev.Narrative = fallbackNarrative(ev.ScenarioText)
	ev.ExpectedOutcome = ""
	ev.Choices = make([]models.Choice, 0, len(c.cfg.FallbackChoices))
	for _, action := range c.cfg.FallbackChoices {
		ev.Choices = append(ev.Choices, models.Choice{Action: action})
	}
	if main.IsPersonal {
		ev.PerPlayerNarratives = make(map[int]string, len(req.PlayerIDs))
		for _, pid := range req.PlayerIDs {
			scenario := substituteName(main.ScenarioText, profileFor(req.HeroineByPlayer, pid))
			ev.PerPlayerNarratives[pid] = fallbackNarrative(scenario)
		}
	}
}

// resolveChoices переводит варианты модели в клиентский формат.
// Явные reward_id/penalty_id нормализуются через каталог, иначе разбирается expected_outcome,
// а если и там пусто - выбор по правилам.
func (c *EventComposer) resolveChoices(raw []rawChoice, expectedOutcome string) []models.Choice {
	out := make([]models.Choice, 0, len(raw))
	for i, rc := range raw {
		choice := models.Choice{Action: rc.Action}
		rewardID, penaltyID := strings.TrimSpace(rc.RewardID), strings.TrimSpace(rc.PenaltyID)
		switch {
		case rewardID != "" || penaltyID != "":
			choice.Reward = c.rewards.Normalise(rewardID)
			choice.Penalty = c.rewards.Normalise(penaltyID)
		default:
			if reward, penalty, ok := OutcomeForChoice(c.rewards, expectedOutcome, i); ok {
				choice.Reward, choice.Penalty = reward, penalty
			} else {
				choice.Reward = c.rewards.RuleSelectReward(rc.Action)
				choice.Penalty = c.rewards.RuleSelectPenalty(rc.Action)
			}
		}
		out = append(out, choice)
	}
	return out
}

// personalNarratives генерирует личное повествование для каждого игрока параллельно.
// Результат детерминирован по id игроков; сбой отдельного игрока заменяется заглушкой.
func (c *EventComposer) personalNarratives(ctx context.Context, main models.MainEvent, req RoomRequest, lead int, leadNarrative string) map[int]string {
	narratives := make([]string, len(req.PlayerIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, pid := range req.PlayerIDs {
		if pid == lead {
			narratives[i] = leadNarrative
			continue
		}
		g.Go(func() error {
			heroine := profileFor(req.HeroineByPlayer, pid)
			scenario := substituteName(main.ScenarioText, heroine)
			text, err := c.generateNarrative(gctx, main, scenario, heroine, req.Floor)
			if err != nil {
				c.logger.Warn("Personal narrative failed, using scenario text",
					zap.Int("player_id", pid), zap.String("event_code", main.EventCode), zap.Error(err))
				text = fallbackNarrative(scenario)
			}
			narratives[i] = text
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[int]string, len(req.PlayerIDs))
	for i, pid := range req.PlayerIDs {
		out[pid] = narratives[i]
	}
	return out
}

// --- LLM ---

type rawChoice struct {
	Action    string `json:"action"`
	RewardID  string `json:"reward_id"`
	PenaltyID string `json:"penalty_id"`
}

type subEvent struct {
	Narrative       string      `json:"sub_event_narrative"`
	Choices         []rawChoice `json:"event_choices"`
	ExpectedOutcome string      `json:"expected_outcome"`
}

var subEventSchema = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"sub_event_narrative": {Type: jsonschema.String},
		"event_choices": {
			Type: jsonschema.Array,
			Items: &jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"action":     {Type: jsonschema.String},
					"reward_id":  {Type: jsonschema.String},
					"penalty_id": {Type: jsonschema.String},
				},
				Required: []string{"action"},
			},
		},
		"expected_outcome": {Type: jsonschema.String},
	},
	Required: []string{"sub_event_narrative", "event_choices", "expected_outcome"},
}

var narrativeSchema = jsonschema.Definition{
	Type:       jsonschema.Object,
	Properties: map[string]jsonschema.Definition{"sub_event_narrative": {Type: jsonschema.String}},
	Required:   []string{"sub_event_narrative"},
}

func (c *EventComposer) call(ctx context.Context, system, user string, schema *ai.ResponseSchema) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("%w: ai client is not configured", models.ErrLLMFailure)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	temperature := 0.8
	text, _, err := c.client.GenerateText(ctx, Component, system, user, ai.GenerationParams{
		Model:       c.cfg.Model,
		Temperature: &temperature,
		Schema:      schema,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrLLMFailure, err)
	}
	return text, nil
}

func (c *EventComposer) generateSubEvent(ctx context.Context, main models.MainEvent, scenario string, heroine *models.HeroineProfile, floor int) (*subEvent, error) {
	text, err := c.call(ctx, c.subEventSystemPrompt(), c.userPrompt(main, scenario, heroine, floor), &ai.ResponseSchema{Name: "sub_event", Schema: subEventSchema})
	if err != nil {
		return nil, err
	}
	var sub subEvent
	if err := ai.DecodeJSON(text, &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrLLMFailure, err)
	}
	sub.Narrative = strings.TrimSpace(sub.Narrative)
	if sub.Narrative == "" {
		return nil, fmt.Errorf("%w: empty narrative", models.ErrLLMFailure)
	}
	valid := sub.Choices[:0]
	seen := make(map[string]struct{}, len(sub.Choices))
	for _, ch := range sub.Choices {
		ch.Action = strings.TrimSpace(ch.Action)
		if ch.Action == "" {
			continue
		}
		if _, dup := seen[ch.Action]; dup {
			continue
		}
		seen[ch.Action] = struct{}{}
		valid = append(valid, ch)
	}
	if len(valid) < minChoices {
		return nil, fmt.Errorf("%w: expected at least %d choices, got %d", models.ErrLLMFailure, minChoices, len(valid))
	}
	sub.Choices = valid
	return &sub, nil
}

func (c *EventComposer) generateNarrative(ctx context.Context, main models.MainEvent, scenario string, heroine *models.HeroineProfile, floor int) (string, error) {
	text, err := c.call(ctx, narrativeSystemPrompt, c.userPrompt(main, scenario, heroine, floor), &ai.ResponseSchema{Name: "personal_narrative", Schema: narrativeSchema})
	if err != nil {
		return "", err
	}
	var out struct {
		Narrative string `json:"sub_event_narrative"`
	}
	if err := ai.DecodeJSON(text, &out); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrLLMFailure, err)
	}
	if out.Narrative = strings.TrimSpace(out.Narrative); out.Narrative == "" {
		return "", fmt.Errorf("%w: empty narrative", models.ErrLLMFailure)
	}
	return out.Narrative, nil
}

const narrativeSystemPrompt = `You write the personal sub-event narrative for one player of a cooperative dungeon visual novel.
Write 2-4 sentences in Korean from the point of view of the player's heroine, grounded in her memories.
Respond with a single JSON object: {"sub_event_narrative": string}`

func (c *EventComposer) subEventSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You design a sub-event for a room of a cooperative dungeon visual novel.\n")
	b.WriteString("Write in Korean. Respond with a single JSON object and nothing else:\n")
	b.WriteString(`{"sub_event_narrative": string, "event_choices": [{"action": string, "reward_id"?: string, "penalty_id"?: string}], "expected_outcome": string}`)
	b.WriteString("\nRules:\n")
	b.WriteString("- Offer at least 2 distinct short actions.\n")
	b.WriteString("- reward_id must be one of: " + strings.Join(c.rewards.RewardIDs(), ", ") + ".\n")
	b.WriteString("- penalty_id must be one of: " + strings.Join(c.rewards.PenaltyIDs(), ", ") + ".\n")
	b.WriteString("- expected_outcome lists the outcome of every action as a numbered list in the same order.\n")
	return b.String()
}

func (c *EventComposer) userPrompt(main models.MainEvent, scenario string, heroine *models.HeroineProfile, floor int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Floor: %d\n", floor)
	fmt.Fprintf(&b, "Main event: %s (%s), personal=%t\n", main.Title, main.EventCode, main.IsPersonal)
	fmt.Fprintf(&b, "Scenario: %s\n", scenario)
	fmt.Fprintf(&b, "Heroine: %s\n", heroine.DisplayName())
	if heroine != nil && heroine.Persona != "" {
		fmt.Fprintf(&b, "Persona: %s\n", heroine.Persona)
	}
	if memories := c.memories(heroine); len(memories) > 0 {
		b.WriteString("Memories:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	return b.String()
}

// memories возвращает открытые воспоминания героини в пределах бюджета токенов.
func (c *EventComposer) memories(heroine *models.HeroineProfile) []string {
	if heroine == nil || c.scenarios == nil {
		return nil
	}
	list := c.scenarios.HeroineMemories(heroine.HeroineID, heroine.MemoryProgress)
	texts := make([]string, 0, len(list))
	for _, m := range list {
		texts = append(texts, m.Title+": "+m.Text)
	}
	return ai.FitToBudget(c.counter, texts, c.cfg.MemoryTokenBudget)
}
