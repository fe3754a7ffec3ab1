package handler

import (
	"encoding/json"
	"fmt"

	"dungeon-server/internal/models"
)

// --- DTO запросов ---

// usedEventList принимает used_events как список кодов или объектов {"event_code": ...}.
type usedEventList []string

func (l *usedEventList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("used_events: %w", err)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		var code string
		if err := json.Unmarshal(item, &code); err == nil {
			out = append(out, code)
			continue
		}
		var ev models.UsedEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			return fmt.Errorf("used_events: %w", err)
		}
		out = append(out, ev.EventCode)
	}
	*l = out
	return nil
}

// EntranceRequestDTO - тело POST /dungeon/entrance.
type EntranceRequestDTO struct {
	RawMap      *models.RawMap          `json:"raw_map" validate:"required"`
	HeroineData []models.HeroineProfile `json:"heroine_data" validate:"omitempty,max=4"`
	UsedEvents  usedEventList           `json:"used_events"`
}

// BalanceRequestDTO - тело POST /dungeon/balance.
type BalanceRequestDTO struct {
	FirstPlayerID  *int                    `json:"first_player_id" validate:"required,min=0"`
	PlayerDataList []models.HeroineStat    `json:"player_data_list" validate:"required,min=1,max=4"`
	MonsterDB      []models.MonsterRecord  `json:"monster_db,omitempty"`
	RawMap         *models.RawMap          `json:"raw_map,omitempty"`
	HeroineData    []models.HeroineProfile `json:"heroine_data" validate:"omitempty,max=4"`
	UsedEvents     usedEventList           `json:"used_events"`
}

// NextRequestDTO - тело POST /dungeon/next.
type NextRequestDTO struct {
	FirstPlayerID  *int                    `json:"first_player_id" validate:"required,min=0"`
	PlayerDataList []models.HeroineStat    `json:"player_data_list,omitempty" validate:"omitempty,max=4"`
	RawMap         *models.RawMap          `json:"raw_map,omitempty"`
	HeroineData    []models.HeroineProfile `json:"heroine_data" validate:"omitempty,max=4"`
	UsedEvents     usedEventList           `json:"used_events"`
}

// ClearRequestDTO - тело POST /dungeon/clear.
type ClearRequestDTO struct {
	PlayerIDs []int `json:"player_ids" validate:"required,min=1,max=4,dive,min=0"`
}

// SelectEventRequestDTO - тело POST /dungeon/event/select.
type SelectEventRequestDTO struct {
	FirstPlayerID     *int   `json:"first_player_id" validate:"required,min=0"`
	SelectingPlayerID *int   `json:"selecting_player_id" validate:"required,min=0"`
	RoomID            *int   `json:"room_id" validate:"required,min=0"`
	Choice            string `json:"choice"`
}

// --- DTO ответов ---

// ClearResponseDTO - ответ POST /dungeon/clear.
type ClearResponseDTO struct {
	DungeonID     int64 `json:"dungeon_id"`
	FloorFinished int   `json:"floor_finished"`
	PlayerIDs     []int `json:"player_ids"`
}

// DungeonRowDTO - текущая строка забега.
type DungeonRowDTO struct {
	ID          int64               `json:"id"`
	Floor       int                 `json:"floor"`
	RawMap      *models.RawMap      `json:"raw_map"`
	BalancedMap *models.RawMap      `json:"balanced_map"`
	IsFinishing bool                `json:"is_finishing"`
	SummaryInfo string              `json:"summary_info"`
	PlayerIDs   []int               `json:"player_ids"`
	Event       *models.FloorEvents `json:"event"`
}

func toDungeonRowDTO(row *models.DungeonRow) DungeonRowDTO {
	return DungeonRowDTO{
		ID:          row.ID,
		Floor:       row.Floor,
		RawMap:      row.RawMap,
		BalancedMap: row.BalancedMap,
		IsFinishing: row.IsFinishing,
		SummaryInfo: row.SummaryInfo,
		PlayerIDs:   row.ParticipantIDs(),
		Event:       row.Event,
	}
}

// HealthResponse - ответ GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
