package catalog

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"

	"dungeon-server/internal/models"
)

// EntryType - вид награды/штрафа.
type EntryType string

const (
	EntrySpawnMonster EntryType = "spawn_monster"
	EntryDropItem     EntryType = "drop_item"
	EntryChangeStat   EntryType = "change_stat"
)

// PickKind - пул для случайного выбора.
type PickKind string

const (
	PickMonster PickKind = "monster"
	PickItem    PickKind = "item"
	PickStat    PickKind = "stat"
	PickAny     PickKind = "any"
)

// TargetAll - единственная поддерживаемая цель награды.
const TargetAll = "all"

// UnexpectedActionPenaltyID - особый токен штрафа за действие вне предложенных вариантов.
const UnexpectedActionPenaltyID = "penalty_unexpected_action"

// Составляющие штрафа за неожиданное действие.
var unexpectedActionParts = []string{"hp_down_10", "pen_spawn_monster_0"}

// RewardEntry - запись пула наград или штрафов.
type RewardEntry struct {
	ID          string
	Type        EntryType
	Description string
	MonsterIDs  []int
	ItemType    string
	ItemID      int
	StatName    string
	Value       float64
	Duration    int
	Target      string
	IsPenalty   bool
}

// Payload переводит запись в клиентский формат.
func (e RewardEntry) Payload() models.ClientPayload {
	switch e.Type {
	case EntrySpawnMonster:
		return models.SpawnPayload(e.MonsterIDs...)
	case EntryDropItem:
		if strings.EqualFold(e.ItemType, "accessory") {
			return models.AccessoryPayload(e.ItemID)
		}
		return models.WeaponPayload(e.ItemID)
	case EntryChangeStat:
		return models.StatPayload(e.StatName, e.Value, e.Duration)
	}
	return models.OpaquePayload(e.ID)
}

// RewardCatalog - неизменяемые пулы наград и штрафов.
type RewardCatalog struct {
	byID      map[string]RewardEntry
	rewards   map[EntryType][]RewardEntry
	penalties map[EntryType][]RewardEntry
}

// NewRewardCatalog строит каталог из записей. Пустые и повторяющиеся id недопустимы.
func NewRewardCatalog(entries []RewardEntry) (*RewardCatalog, error) {
	c := &RewardCatalog{
		byID:      make(map[string]RewardEntry, len(entries)),
		rewards:   make(map[EntryType][]RewardEntry),
		penalties: make(map[EntryType][]RewardEntry),
	}
	for _, e := range entries {
		if e.ID == "" {
			return nil, fmt.Errorf("%w: reward entry without id", models.ErrInvalidInput)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate reward id %q", models.ErrInvalidInput, e.ID)
		}
		switch e.Type {
		case EntrySpawnMonster, EntryDropItem, EntryChangeStat:
		default:
			return nil, fmt.Errorf("%w: reward %q has unknown type %q", models.ErrInvalidInput, e.ID, e.Type)
		}
		c.byID[e.ID] = e
		if e.IsPenalty {
			c.penalties[e.Type] = append(c.penalties[e.Type], e)
		} else {
			c.rewards[e.Type] = append(c.rewards[e.Type], e)
		}
	}
	return c, nil
}

// Lookup ищет запись по id.
func (c *RewardCatalog) Lookup(id string) (RewardEntry, bool) {
	e, ok := c.byID[strings.TrimSpace(id)]
	return e, ok
}

// RewardIDs возвращает отсортированный список id наград.
func (c *RewardCatalog) RewardIDs() []string {
	return c.ids(false)
}

// PenaltyIDs возвращает отсортированный список id штрафов.
func (c *RewardCatalog) PenaltyIDs() []string {
	return c.ids(true)
}

func (c *RewardCatalog) ids(penalty bool) []string {
	var out []string
	for id, e := range c.byID {
		if e.IsPenalty == penalty {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func kindTypes(kind PickKind) []EntryType {
	switch kind {
	case PickMonster:
		return []EntryType{EntrySpawnMonster}
	case PickItem:
		return []EntryType{EntryDropItem}
	case PickStat:
		return []EntryType{EntryChangeStat}
	default:
		return []EntryType{EntrySpawnMonster, EntryDropItem, EntryChangeStat}
	}
}

func (c *RewardCatalog) pool(penalty bool, kind PickKind) []RewardEntry {
	src := c.rewards
	if penalty {
		src = c.penalties
	}
	var out []RewardEntry
	for _, t := range kindTypes(kind) {
		out = append(out, src[t]...)
	}
	return out
}

// PickRandomReward выбирает награду из пула kind. ok=false, если пул пуст.
func (c *RewardCatalog) PickRandomReward(rng *rand.Rand, kind PickKind) (RewardEntry, bool) {
	return pickRandom(rng, c.pool(false, kind))
}

// PickRandomPenalty выбирает штраф из пула kind.
func (c *RewardCatalog) PickRandomPenalty(rng *rand.Rand, kind PickKind) (RewardEntry, bool) {
	return pickRandom(rng, c.pool(true, kind))
}

func pickRandom(rng *rand.Rand, pool []RewardEntry) (RewardEntry, bool) {
	if len(pool) == 0 {
		return RewardEntry{}, false
	}
	return pool[rng.Intn(len(pool))], true
}

// UnexpectedActionPenalty возвращает составной штраф [hp_down_10, pen_spawn_monster_0].
func (c *RewardCatalog) UnexpectedActionPenalty() models.ClientPayload {
	parts := make([]models.ClientPayload, 0, len(unexpectedActionParts))
	for _, id := range unexpectedActionParts {
		if e, ok := c.byID[id]; ok {
			parts = append(parts, e.Payload())
			continue
		}
		parts = append(parts, models.OpaquePayload(id))
	}
	return models.CompositePayload(parts...)
}

// Normalise приводит сырое значение награды/штрафа к клиентскому формату.
// Принимает nil, id-строку, объект клиентской формы, объект с ключом "id",
// список id монстров, список объектов и уже нормализованный payload.
// Неизвестный id возвращается как {"id": raw}. Повторная нормализация ничего не меняет.
func (c *RewardCatalog) Normalise(raw any) *models.ClientPayload {
	switch v := raw.(type) {
	case nil:
		return nil
	case models.ClientPayload:
		p := v
		return &p
	case *models.ClientPayload:
		if v == nil {
			return nil
		}
		p := *v
		return &p
	case string:
		return c.normaliseID(v)
	case json.RawMessage:
		return c.normaliseJSON(v)
	case []byte:
		return c.normaliseJSON(v)
	case []int:
		p := models.SpawnPayload(v...)
		return &p
	case map[string]any:
		return c.normaliseMap(v)
	case []any:
		return c.normaliseList(v)
	case float64, int, int64:
		p := models.OpaquePayload(fmt.Sprint(v))
		return &p
	}
	p := models.OpaquePayload(fmt.Sprint(raw))
	return &p
}

func (c *RewardCatalog) normaliseID(id string) *models.ClientPayload {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	if id == UnexpectedActionPenaltyID {
		p := c.UnexpectedActionPenalty()
		return &p
	}
	if e, ok := c.byID[id]; ok {
		p := e.Payload()
		return &p
	}
	p := models.OpaquePayload(id)
	return &p
}

func (c *RewardCatalog) normaliseJSON(data []byte) *models.ClientPayload {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		p := models.OpaquePayload(strings.TrimSpace(string(data)))
		return &p
	}
	return c.Normalise(v)
}

// normaliseMap разбирает объект: клиентская форма или {"id": ...}.
func (c *RewardCatalog) normaliseMap(m map[string]any) *models.ClientPayload {
	if len(m) == 0 {
		return nil
	}
	if _, hasClientKey := clientKeys(m); hasClientKey {
		data, err := json.Marshal(m)
		if err == nil {
			var p models.ClientPayload
			if err := json.Unmarshal(data, &p); err == nil && !p.IsEmpty() {
				if p.OpaqueID != "" && (p.MonsterIDs != nil || p.WeaponID != nil || p.AccessoryID != nil || p.Stat != nil) {
					p.OpaqueID = ""
				}
				return &p
			}
		}
	}
	if id, ok := m["id"]; ok {
		if s, ok := id.(string); ok {
			return c.normaliseID(s)
		}
		p := models.OpaquePayload(fmt.Sprint(id))
		return &p
	}
	data, _ := json.Marshal(m)
	p := models.OpaquePayload(string(data))
	return &p
}

func clientKeys(m map[string]any) (string, bool) {
	for _, k := range []string{"monsterId", "weaponId", "accessoryId", "stat"} {
		if _, ok := m[k]; ok {
			return k, true
		}
	}
	return "", false
}

// normaliseList: список чисел - id монстров, иначе - составной payload.
func (c *RewardCatalog) normaliseList(list []any) *models.ClientPayload {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int, 0, len(list))
	allNumbers := true
	for _, item := range list {
		f, ok := item.(float64)
		if !ok {
			if n, isInt := item.(int); isInt {
				ids = append(ids, n)
				continue
			}
			allNumbers = false
			break
		}
		ids = append(ids, int(f))
	}
	if allNumbers {
		p := models.SpawnPayload(ids...)
		return &p
	}
	parts := make([]models.ClientPayload, 0, len(list))
	for _, item := range list {
		if p := c.Normalise(item); p != nil {
			parts = append(parts, *p)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	p := models.CompositePayload(parts...)
	return &p
}

// Правила выбора по тексту действия. Порядок важен: побеждает первое совпадение.
type actionRule struct {
	words []string
	kind  PickKind
	ids   []string
}

var rewardRules = []actionRule{
	{words: []string{"조사", "살펴", "열", "뒤진", "investigate", "open", "search", "examine"}, kind: PickItem},
	{words: []string{"공격", "싸운", "싸움", "베", "attack", "fight", "strike"}, ids: []string{"atk_up_5", "atk_up_10"}, kind: PickStat},
	{words: []string{"쉬", "휴식", "치료", "마신", "rest", "heal", "drink"}, ids: []string{"hp_up_20"}, kind: PickStat},
	{words: []string{"유인", "부른", "부르", "lure", "call", "summon"}, kind: PickMonster},
}

var penaltyRules = []actionRule{
	{words: []string{"도망", "무시", "지나", "flee", "ignore", "run", "escape"}, kind: PickMonster},
	{words: []string{"만진", "만지", "먹", "마신", "touch", "eat", "drink"}, ids: []string{"hp_down_10"}, kind: PickStat},
	{words: []string{"훔", "부수", "부순", "깨", "steal", "break", "smash"}, kind: PickItem},
}

// RuleSelectReward детерминированно выбирает награду по тексту действия.
func (c *RewardCatalog) RuleSelectReward(action string) *models.ClientPayload {
	return c.ruleSelect(action, rewardRules, false, PickItem)
}

// RuleSelectPenalty детерминированно выбирает штраф по тексту действия.
func (c *RewardCatalog) RuleSelectPenalty(action string) *models.ClientPayload {
	return c.ruleSelect(action, penaltyRules, true, PickStat)
}

func (c *RewardCatalog) ruleSelect(action string, rules []actionRule, penalty bool, fallback PickKind) *models.ClientPayload {
	text := strings.ToLower(strings.TrimSpace(action))
	kind := fallback
	var preferred []string
	for _, r := range rules {
		if containsAny(text, r.words) {
			kind = r.kind
			preferred = r.ids
			break
		}
	}

	var pool []RewardEntry
	for _, id := range preferred {
		if e, ok := c.byID[id]; ok && e.IsPenalty == penalty {
			pool = append(pool, e)
		}
	}
	if len(pool) == 0 {
		pool = c.pool(penalty, kind)
	}
	if len(pool) == 0 {
		pool = c.pool(penalty, PickAny)
	}
	if len(pool) == 0 {
		return nil
	}
	p := pool[stableIndex(text, len(pool))].Payload()
	return &p
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// stableIndex - детерминированный индекс по тексту (fnv-1a).
func stableIndex(text string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return int(h.Sum32() % uint32(n))
}
