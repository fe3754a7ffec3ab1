package models

import (
	"sort"
	"strconv"
)

// DungeonRow - персистентная запись этажа забега.
type DungeonRow struct {
	ID          int64                    `json:"id"`
	Floor       int                      `json:"floor"`
	RawMap      *RawMap                  `json:"raw_map"`
	BalancedMap *RawMap                  `json:"balanced_map"`
	IsFinishing bool                     `json:"is_finishing"`
	SummaryInfo string                   `json:"summary_info"`
	Players     [MaxParticipants]*string `json:"players"`
	Heroines    [MaxParticipants]*string `json:"heroines"`
	Event       *FloorEvents             `json:"event,omitempty"`
}

// SlotsFromMap заполняет слоты игроков/героинь из карты; неиспользуемые слоты остаются nil.
func SlotsFromMap(m *RawMap) (players, heroines [MaxParticipants]*string) {
	if m == nil {
		return
	}
	for i := 0; i < MaxParticipants; i++ {
		if i < len(m.PlayerIDs) {
			s := strconv.Itoa(m.PlayerIDs[i])
			players[i] = &s
		}
		if i < len(m.HeroineIDs) {
			s := strconv.Itoa(m.HeroineIDs[i])
			heroines[i] = &s
		}
	}
	return
}

// ParticipantIDs возвращает участников забега: из raw_map, а при его отсутствии - из слотов.
func (r *DungeonRow) ParticipantIDs() []int {
	if r.RawMap != nil && len(r.RawMap.PlayerIDs) > 0 {
		return append([]int{}, r.RawMap.PlayerIDs...)
	}
	var ids []int
	for _, p := range r.Players {
		if p == nil {
			continue
		}
		if id, err := strconv.Atoi(*p); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// HasSlotPair сообщает, занят ли какой-либо слот парой (игрок, героиня).
func (r *DungeonRow) HasSlotPair(playerID, heroineID int) bool {
	p, h := strconv.Itoa(playerID), strconv.Itoa(heroineID)
	for i := 0; i < MaxParticipants; i++ {
		if r.Players[i] != nil && r.Heroines[i] != nil && *r.Players[i] == p && *r.Heroines[i] == h {
			return true
		}
	}
	return false
}

// HasPlayer сообщает, участвует ли игрок в забеге.
func (r *DungeonRow) HasPlayer(playerID int) bool {
	for _, id := range r.ParticipantIDs() {
		if id == playerID {
			return true
		}
	}
	return false
}

// IsSupersetOf: все ids входят в набор участников.
func (r *DungeonRow) IsSupersetOf(ids []int) bool {
	set := intSet(r.ParticipantIDs())
	for _, id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return len(ids) > 0
}

// Intersects: хотя бы один id входит в набор участников.
func (r *DungeonRow) Intersects(ids []int) bool {
	set := intSet(r.ParticipantIDs())
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// SameParticipants сравнивает наборы участников без учета порядка.
func (r *DungeonRow) SameParticipants(ids []int) bool {
	a := SortedIDs(r.ParticipantIDs())
	b := SortedIDs(ids)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SortedIDs возвращает отсортированную копию.
func SortedIDs(ids []int) []int {
	out := append([]int{}, ids...)
	sort.Ints(out)
	return out
}

func intSet(ids []int) map[int]struct{} {
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// DifficultyLog - отчет балансировки этажа.
type DifficultyLog struct {
	CombatScore          float64         `json:"combat_score"`
	DifficultyMultiplier float64         `json:"difficulty_multiplier"`
	Reasoning            string          `json:"reasoning"`
	TargetThreat         float64         `json:"target_threat"`
	ActualThreat         float64         `json:"actual_threat"`
	Monsters             []MonsterDigest `json:"monsters"`
	Warnings             []string        `json:"warnings,omitempty"`
}

// AgentDigest - сводка работы агентов, из которой строится summary_info.
type AgentDigest struct {
	Difficulty *DifficultyLog `json:"difficulty,omitempty"`
	Events     []Event        `json:"events,omitempty"`
}
