package balance

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"dungeon-server/internal/catalog"
	"dungeon-server/internal/models"

	"go.uber.org/zap"
)

// PlacerConfig - параметры подбора монстров.
type PlacerConfig struct {
	BandLow         float64 // нижняя граница коридора угрозы (доля target)
	BandHigh        float64 // верхняя граница коридора угрозы
	OvershootFactor float64 // допустимый разовый выход за верхнюю границу
	MaxAttempts     int
	MinPerRoom      int
	MaxPerRoom      int
}

// DefaultPlacerConfig возвращает значения по умолчанию.
func DefaultPlacerConfig() PlacerConfig {
	return PlacerConfig{
		BandLow:         0.9,
		BandHigh:        1.1,
		OvershootFactor: 1.2,
		MaxAttempts:     100,
		MinPerRoom:      1,
		MaxPerRoom:      3,
	}
}

// Множители сродства.
const (
	weaknessAffinity      = 1.6
	strengthAffinity      = 0.6
	preferredTagAffinity  = 1.2
	minCandidateWeight    = 0.1
	noPreferenceBaseValue = 1.0
)

// PlacementInput - входные данные балансировки одного этажа.
type PlacementInput struct {
	RawMap      *models.RawMap
	CombatScore float64
	Strategy    models.Strategy
	HeroTags    models.KeywordSet
	Monsters    *catalog.MonsterCatalog
}

// PlacementResult - сбалансированная карта и отчет.
type PlacementResult struct {
	BalancedMap *models.RawMap
	Log         models.DifficultyLog
}

// MonsterPlacer подбирает обычных монстров под бюджет угрозы и расставляет боссов.
type MonsterPlacer struct {
	cfg    PlacerConfig
	logger *zap.Logger
}

// NewMonsterPlacer создает MonsterPlacer.
func NewMonsterPlacer(cfg PlacerConfig, logger *zap.Logger) *MonsterPlacer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultPlacerConfig().MaxAttempts
	}
	if cfg.MinPerRoom < 1 {
		cfg.MinPerRoom = 1
	}
	if cfg.MaxPerRoom < cfg.MinPerRoom {
		cfg.MaxPerRoom = cfg.MinPerRoom
	}
	if cfg.OvershootFactor < 1 {
		cfg.OvershootFactor = 1
	}
	return &MonsterPlacer{cfg: cfg, logger: logger.Named("MonsterPlacer")}
}

type candidate struct {
	record models.MonsterRecord
	threat float64
	weight float64
}

// Place строит сбалансированную карту: обычные монстры в комнатах type==1,
// по одному боссу в комнатах type==4, остальные комнаты очищаются.
func (p *MonsterPlacer) Place(rng *rand.Rand, in PlacementInput) (*PlacementResult, error) {
	if in.RawMap == nil {
		return nil, fmt.Errorf("%w: raw map is required", models.ErrInvalidInput)
	}
	if in.Monsters == nil {
		return nil, fmt.Errorf("%w: monster catalog is required", models.ErrInvalidInput)
	}

	balanced := in.RawMap.Layout()
	target := in.CombatScore * in.Strategy.DifficultyMultiplier
	if target < 0 || math.IsNaN(target) {
		target = 0
	}
	log := models.DifficultyLog{
		CombatScore:          in.CombatScore,
		DifficultyMultiplier: in.Strategy.DifficultyMultiplier,
		Reasoning:            in.Strategy.Reasoning,
		TargetThreat:         target,
		Monsters:             []models.MonsterDigest{},
	}

	combatRooms := balanced.RoomsOfType(models.RoomTypeCombat)
	bossRooms := balanced.RoomsOfType(models.RoomTypeBoss)

	p.placeBosses(rng, in.Monsters, balanced, bossRooms, &log)

	normals := in.Monsters.ByType(models.MonsterTypeNormal)
	switch {
	case len(combatRooms) == 0:
		p.warn(&log, "no combat rooms detected")
	case len(normals) == 0:
		p.warn(&log, "monster catalog has no normal monsters, combat rooms left empty")
	case target == 0:
		p.logger.Info("Target threat is zero, skipping normal monsters",
			zap.Float64("multiplier", in.Strategy.DifficultyMultiplier))
	default:
		cands := p.candidates(normals, in.Strategy, in.HeroTags)
		capacity := len(combatRooms) * p.cfg.MaxPerRoom
		picked := p.selectMonsters(rng, cands, target, capacity)
		p.distribute(rng, picked, cands, balanced, combatRooms, &log)
	}

	for _, d := range log.Monsters {
		if rec, err := in.Monsters.Get(d.MonsterID); err == nil && rec.MonsterType == models.MonsterTypeNormal {
			log.ActualThreat += d.Threat
		}
	}
	if target > 0 && log.ActualThreat < target*p.cfg.BandLow && len(normals) > 0 && len(combatRooms) > 0 {
		p.warn(&log, fmt.Sprintf("actual threat %.2f is below band %.2f", log.ActualThreat, target*p.cfg.BandLow))
	}
	// Каждая боевая комната получает минимум MinPerRoom монстров, поэтому при малом target
	// и большом числе комнат сумма может выйти за допустимый разовый перелет.
	if hardCap := target * p.cfg.BandHigh * p.cfg.OvershootFactor; target > 0 && log.ActualThreat > hardCap {
		p.warn(&log, fmt.Sprintf("actual threat %.2f exceeds cap %.2f: %d combat rooms need at least %d monster(s) each",
			log.ActualThreat, hardCap, len(combatRooms), p.cfg.MinPerRoom))
	}

	p.logger.Info("Floor balanced",
		zap.Float64("combat_score", in.CombatScore),
		zap.Float64("multiplier", in.Strategy.DifficultyMultiplier),
		zap.Float64("target_threat", target),
		zap.Float64("actual_threat", log.ActualThreat),
		zap.Int("placed", len(log.Monsters)),
		zap.String("reasoning", in.Strategy.Reasoning),
	)
	return &PlacementResult{BalancedMap: balanced, Log: log}, nil
}

func (p *MonsterPlacer) warn(log *models.DifficultyLog, msg string) {
	p.logger.Warn(msg)
	log.Warnings = append(log.Warnings, msg)
}

func (p *MonsterPlacer) placeBosses(rng *rand.Rand, monsters *catalog.MonsterCatalog, m *models.RawMap, rooms []int, log *models.DifficultyLog) {
	if len(rooms) == 0 {
		return
	}
	bosses := monsters.ByType(models.MonsterTypeBoss)
	if len(bosses) == 0 {
		p.warn(log, "monster catalog has no bosses, boss rooms left empty")
		return
	}
	for _, idx := range rooms {
		b := bosses[rng.Intn(len(bosses))]
		m.Rooms[idx].Monsters = []int{b.MonsterID}
		log.Monsters = append(log.Monsters, models.MonsterDigest{
			MonsterID: b.MonsterID,
			Name:      b.Name,
			RoomID:    m.Rooms[idx].RoomID,
			Threat:    b.ThreatLevel(),
		})
	}
}

// candidates фильтрует обычных монстров по стратегии и считает веса.
func (p *MonsterPlacer) candidates(normals []models.MonsterRecord, s models.Strategy, heroTags models.KeywordSet) []candidate {
	pool := make([]models.MonsterRecord, 0, len(normals))
	for _, m := range normals {
		if !avoided(m, s.AvoidConditions) {
			pool = append(pool, m)
		}
	}
	if len(s.MonsterPreferences) > 0 {
		preferred := pool[:0:0]
		for _, m := range pool {
			if matchesAny(m, s.MonsterPreferences) {
				preferred = append(preferred, m)
			}
		}
		pool = preferred
	}
	if len(pool) == 0 {
		p.logger.Debug("Strategy filters emptied the pool, reverting to all normals")
		pool = normals
	}

	out := make([]candidate, 0, len(pool))
	for _, m := range pool {
		out = append(out, candidate{
			record: m,
			threat: m.ThreatLevel(),
			weight: candidateWeight(m, s, heroTags),
		})
	}
	return out
}

func avoided(m models.MonsterRecord, conditions []string) bool {
	for _, c := range conditions {
		if pred := models.AvoidPredicate(c); pred != nil && pred(m) {
			return true
		}
	}
	return false
}

func matchesAny(m models.MonsterRecord, prefs []models.Preference) bool {
	for _, pref := range prefs {
		if pref.Matches(m) {
			return true
		}
	}
	return false
}

func candidateWeight(m models.MonsterRecord, s models.Strategy, heroTags models.KeywordSet) float64 {
	w := noPreferenceBaseValue
	if len(s.MonsterPreferences) > 0 {
		w = 0
		for _, pref := range s.MonsterPreferences {
			if pref.Matches(m) {
				w += math.Max(0, pref.EffectiveWeight())
			}
		}
	}
	if w < minCandidateWeight {
		w = minCandidateWeight
	}
	if heroTags.Intersects(m.Weaknesses) {
		w *= weaknessAffinity
	}
	if heroTags.Intersects(m.Strengths) {
		w *= strengthAffinity
	}
	if models.KeywordSet(s.PreferredTags).Intersects(m.Strengths) {
		w *= preferredTagAffinity
	}
	return w
}

func weightedPick(rng *rand.Rand, cands []candidate) candidate {
	var total float64
	for _, c := range cands {
		total += c.weight
	}
	r := rng.Float64() * total
	for _, c := range cands {
		r -= c.weight
		if r < 0 {
			return c
		}
	}
	return cands[len(cands)-1]
}

// selectMonsters выбирает монстров с возвращением, пока сумма угрозы не достигнет нижней границы.
// Последний слот закрывается детерминированно кандидатом, лучше всего попадающим в коридор.
func (p *MonsterPlacer) selectMonsters(rng *rand.Rand, cands []candidate, target float64, capacity int) []candidate {
	if target <= 0 || capacity <= 0 || len(cands) == 0 {
		return nil
	}
	lower := target * p.cfg.BandLow
	upper := target * p.cfg.BandHigh
	hardCap := upper * p.cfg.OvershootFactor

	var picked []candidate
	sum := 0.0
	for attempt := 0; attempt < p.cfg.MaxAttempts && sum < lower && len(picked) < capacity; attempt++ {
		if len(picked) == capacity-1 {
			if c, ok := bestFit(cands, sum, target, lower, hardCap); ok {
				picked = append(picked, c)
				sum += c.threat
			}
			break
		}
		c := weightedPick(rng, cands)
		if sum+c.threat > upper {
			if anyFits(cands, sum, upper) {
				continue
			}
			// Разовый выход за верхнюю границу: ничего не помещается в коридор.
			if best, ok := bestFit(cands, sum, target, lower, hardCap); ok {
				picked = append(picked, best)
				sum += best.threat
			}
			break
		}
		picked = append(picked, c)
		sum += c.threat
	}

	if len(picked) == 0 {
		picked, sum = greedy(cands, lower, hardCap, capacity)
	}
	picked, _ = p.repair(picked, sum, cands, target, lower, hardCap, capacity)
	return picked
}

func anyFits(cands []candidate, sum, limit float64) bool {
	for _, c := range cands {
		if sum+c.threat <= limit {
			return true
		}
	}
	return false
}

// bestFit ищет кандидата, при котором сумма попадает в [lower, hardCap] ближе всего к target.
// Если такого нет, берется кандидат с наибольшей угрозой, не превышающей hardCap.
func bestFit(cands []candidate, sum, target, lower, hardCap float64) (candidate, bool) {
	var (
		best     candidate
		found    bool
		bestDist = math.Inf(1)
	)
	for _, c := range cands {
		total := sum + c.threat
		if total < lower || total > hardCap {
			continue
		}
		if d := math.Abs(total - target); d < bestDist {
			best, bestDist, found = c, d, true
		}
	}
	if found {
		return best, true
	}
	for _, c := range cands {
		if sum+c.threat > hardCap {
			continue
		}
		if !found || c.threat > best.threat {
			best, found = c, true
		}
	}
	return best, found
}

// greedy - проход по кандидатам в порядке возрастания угрозы.
func greedy(cands []candidate, lower, hardCap float64, capacity int) ([]candidate, float64) {
	sorted := append([]candidate{}, cands...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].threat < sorted[j].threat })
	var picked []candidate
	sum := 0.0
	for _, c := range sorted {
		if sum >= lower || len(picked) >= capacity {
			break
		}
		if sum+c.threat > hardCap {
			continue
		}
		picked = append(picked, c)
		sum += c.threat
	}
	return picked, sum
}

// repair дотягивает сумму до нижней границы: добавляет кандидатов, пока есть место,
// затем пробует заменить одного выбранного монстра.
func (p *MonsterPlacer) repair(picked []candidate, sum float64, cands []candidate, target, lower, hardCap float64, capacity int) ([]candidate, float64) {
	for sum < lower && len(picked) < capacity {
		c, ok := bestFit(cands, sum, target, lower, hardCap)
		if !ok {
			break
		}
		picked = append(picked, c)
		sum += c.threat
	}
	if sum >= lower || len(picked) == 0 {
		return picked, sum
	}

	bestIdx := -1
	var (
		bestCand candidate
		bestDist = math.Inf(1)
	)
	for i, old := range picked {
		for _, c := range cands {
			total := sum - old.threat + c.threat
			if total < lower || total > hardCap {
				continue
			}
			if d := math.Abs(total - target); d < bestDist {
				bestIdx, bestCand, bestDist = i, c, d
			}
		}
	}
	if bestIdx >= 0 {
		sum += bestCand.threat - picked[bestIdx].threat
		picked[bestIdx] = bestCand
	}
	return picked, sum
}

// distribute раскладывает выбранных монстров по боевым комнатам в порядке объявления.
// Каждая комната получает uniform{min..max}, с оглядкой на то, чтобы хватило остальным.
func (p *MonsterPlacer) distribute(rng *rand.Rand, picked, cands []candidate, m *models.RawMap, rooms []int, log *models.DifficultyLog) {
	counts := make([]int, len(rooms))
	left := len(picked)
	for i := range rooms {
		roomsAfter := len(rooms) - i - 1
		n := p.cfg.MinPerRoom + rng.Intn(p.cfg.MaxPerRoom-p.cfg.MinPerRoom+1)
		limit := left - roomsAfter
		if limit < 1 {
			limit = 1
		}
		n = min(n, limit, left)
		counts[i] = n
		left -= n
	}
	for i := 0; i < len(rooms) && left > 0; i++ {
		add := min(p.cfg.MaxPerRoom-counts[i], left)
		counts[i] += add
		left -= add
	}
	if left > 0 {
		p.logger.Debug("Discarding unplaced monsters", zap.Int("count", left))
	}

	cheapest := cheapestCandidate(cands)
	next := 0
	for i, idx := range rooms {
		room := &m.Rooms[idx]
		room.Monsters = make([]int, 0, counts[i])
		for j := 0; j < counts[i]; j++ {
			c := picked[next]
			next++
			room.Monsters = append(room.Monsters, c.record.MonsterID)
			log.Monsters = append(log.Monsters, digest(c, room.RoomID))
		}
		for len(room.Monsters) < p.cfg.MinPerRoom {
			p.logger.Debug("Topping up empty combat room", zap.Int("room_id", room.RoomID), zap.Int("monster_id", cheapest.record.MonsterID))
			room.Monsters = append(room.Monsters, cheapest.record.MonsterID)
			log.Monsters = append(log.Monsters, digest(cheapest, room.RoomID))
		}
	}
}

func cheapestCandidate(cands []candidate) candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.threat < best.threat {
			best = c
		}
	}
	return best
}

func digest(c candidate, roomID int) models.MonsterDigest {
	return models.MonsterDigest{
		MonsterID: c.record.MonsterID,
		Name:      c.record.Name,
		RoomID:    roomID,
		Threat:    c.threat,
	}
}
