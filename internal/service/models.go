package service

import (
	"dungeon-server/internal/models"
)

// EntranceRequest - вход в подземелье (этаж 1).
type EntranceRequest struct {
	RawMap      *models.RawMap
	HeroineData []models.HeroineProfile
	UsedEvents  []string
}

// EntranceResult - результат входа. Resumed=true, если забег уже существовал.
type EntranceResult struct {
	DungeonID     int64          `json:"dungeon_id"`
	FirstPlayerID int            `json:"first_player_id"`
	Floor         int            `json:"floor"`
	Events        []models.Event `json:"events"`
	Resumed       bool           `json:"resumed"`
}

// BalanceRequest - балансировка следующего этажа.
type BalanceRequest struct {
	FirstPlayerID int
	PlayerData    []models.HeroineStat
	// MonsterDB заменяет встроенный каталог монстров на время запроса.
	MonsterDB []models.MonsterRecord
	// RawMap - карта следующего этажа; без нее используется планировка текущего.
	RawMap      *models.RawMap
	HeroineData []models.HeroineProfile
	UsedEvents  []string
}

// NextRequest - переход на следующий этаж без статов отряда.
type NextRequest struct {
	FirstPlayerID int
	PlayerData    []models.HeroineStat
	RawMap        *models.RawMap
	HeroineData   []models.HeroineProfile
	UsedEvents    []string
}

// RoomPlacement - монстры одной комнаты сбалансированной карты.
type RoomPlacement struct {
	RoomID   int             `json:"room_id"`
	Type     models.RoomType `json:"type"`
	Monsters []int           `json:"monsters"`
}

// BalanceResult - результат balance/next.
type BalanceResult struct {
	DungeonID         int64                `json:"dungeon_id"`
	Floor             int                  `json:"floor"`
	MonsterPlacements []RoomPlacement      `json:"monster_placements"`
	NextFloorEvent    *models.FloorEvents  `json:"next_floor_event"`
	DifficultyLog     models.DifficultyLog `json:"difficulty_log"`
	BalancedMap       *models.RawMap       `json:"balanced_map"`
	StrategyFallback  bool                 `json:"strategy_fallback"`
}

// ClearResult - результат завершения этажа.
type ClearResult struct {
	DungeonID     int64 `json:"dungeon_id"`
	FloorFinished int   `json:"floor_finished"`
	PlayerIDs     []int `json:"player_ids"`
}

// SelectEventRequest - выбор игрока в событии.
type SelectEventRequest struct {
	FirstPlayerID     int
	SelectingPlayerID int
	RoomID            int
	Choice            string
}

// SelectEventResult - награда и штраф выбранного действия.
type SelectEventResult struct {
	Reward    *models.ClientPayload `json:"reward"`
	Penalty   *models.ClientPayload `json:"penalty"`
	Matched   bool                  `json:"matched"`
	EventCode string                `json:"event_code"`
	Narrative string                `json:"narrative,omitempty"`
}

func placements(m *models.RawMap) []RoomPlacement {
	out := make([]RoomPlacement, 0, len(m.Rooms))
	for _, r := range m.Rooms {
		if r.Type != models.RoomTypeCombat && r.Type != models.RoomTypeBoss {
			continue
		}
		out = append(out, RoomPlacement{RoomID: r.RoomID, Type: r.Type, Monsters: append([]int{}, r.Monsters...)})
	}
	return out
}

// attachEvents кладет события в комнаты type==2 карты.
func attachEvents(m *models.RawMap, events *models.FloorEvents) {
	if events == nil {
		return
	}
	for i := range m.Rooms {
		if m.Rooms[i].Type != models.RoomTypeEvent {
			continue
		}
		if ev, ok := events.ByRoom(m.Rooms[i].RoomID); ok {
			cp := ev.Clone()
			m.Rooms[i].Event = &cp
		}
	}
}

func unionCodes(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, code := range list {
			if code == "" {
				continue
			}
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, code)
		}
	}
	return out
}
