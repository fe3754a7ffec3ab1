package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RoomType - тип комнаты подземелья. В JSON всегда кодируется числом.
type RoomType int

const (
	RoomTypeEmpty    RoomType = 0
	RoomTypeCombat   RoomType = 1
	RoomTypeEvent    RoomType = 2
	RoomTypeTreasure RoomType = 3
	RoomTypeBoss     RoomType = 4
)

// roomTypeNames - строковые алиасы, которые может прислать клиент.
var roomTypeNames = map[string]RoomType{
	"empty":    RoomTypeEmpty,
	"monster":  RoomTypeCombat,
	"combat":   RoomTypeCombat,
	"event":    RoomTypeEvent,
	"treasure": RoomTypeTreasure,
	"boss":     RoomTypeBoss,
}

// Valid сообщает, входит ли тип в диапазон 0..4.
func (t RoomType) Valid() bool {
	return t >= RoomTypeEmpty && t <= RoomTypeBoss
}

func (t RoomType) String() string {
	switch t {
	case RoomTypeEmpty:
		return "empty"
	case RoomTypeCombat:
		return "combat"
	case RoomTypeEvent:
		return "event"
	case RoomTypeTreasure:
		return "treasure"
	case RoomTypeBoss:
		return "boss"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// UnmarshalJSON принимает как число (1, 4), так и строку ("monster", "boss", "1").
func (t *RoomType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = RoomTypeEmpty
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseRoomType(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: room type %s", ErrInvalidMap, string(data))
	}
	*t = RoomType(n)
	return nil
}

// ParseRoomType разбирает строковое представление типа комнаты.
func ParseRoomType(s string) (RoomType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if rt, ok := roomTypeNames[s]; ok {
		return rt, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return RoomType(n), nil
	}
	return RoomTypeEmpty, fmt.Errorf("%w: unknown room type %q", ErrInvalidMap, s)
}

// Room - комната карты подземелья.
// Обычные монстры допустимы только в комнатах type==1, один босс - только в type==4,
// событие прикрепляется только к type==2.
type Room struct {
	RoomID    int      `json:"room_id"`
	Type      RoomType `json:"type"`
	Size      int      `json:"size"`
	Neighbors []int    `json:"neighbors"`
	Monsters  []int    `json:"monsters"`
	EventType *int     `json:"event_type,omitempty"`
	Event     *Event   `json:"event,omitempty"`
}

// UnmarshalJSON дополнительно понимает поле roomType, которое присылают старые клиенты.
func (r *Room) UnmarshalJSON(data []byte) error {
	type roomAlias Room
	aux := struct {
		*roomAlias
		Type     *RoomType `json:"type"`
		RoomType *RoomType `json:"roomType"`
	}{roomAlias: (*roomAlias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch {
	case aux.Type != nil:
		r.Type = *aux.Type
	case aux.RoomType != nil:
		r.Type = *aux.RoomType
	default:
		r.Type = RoomTypeEmpty
	}
	if r.Neighbors == nil {
		r.Neighbors = []int{}
	}
	if r.Monsters == nil {
		r.Monsters = []int{}
	}
	return nil
}

// Clone возвращает глубокую копию комнаты.
func (r Room) Clone() Room {
	out := r
	out.Neighbors = append([]int{}, r.Neighbors...)
	out.Monsters = append([]int{}, r.Monsters...)
	if r.EventType != nil {
		v := *r.EventType
		out.EventType = &v
	}
	if r.Event != nil {
		ev := r.Event.Clone()
		out.Event = &ev
	}
	return out
}

// RawMap - карта этажа в том виде, в котором ее присылает клиент.
// Слот игрока i связан со слотом героини i.
type RawMap struct {
	PlayerIDs  []int  `json:"player_ids"`
	HeroineIDs []int  `json:"heroine_ids"`
	Rooms      []Room `json:"rooms"`
}

// MaxParticipants - максимальное число игроков в одном забеге.
const MaxParticipants = 4

// Validate проверяет структурную корректность карты.
func (m *RawMap) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: map is nil", ErrInvalidMap)
	}
	if len(m.PlayerIDs) == 0 || len(m.PlayerIDs) > MaxParticipants {
		return fmt.Errorf("%w: expected 1..%d players, got %d", ErrInvalidMap, MaxParticipants, len(m.PlayerIDs))
	}
	if len(m.HeroineIDs) != len(m.PlayerIDs) {
		return fmt.Errorf("%w: heroine_ids (%d) must align with player_ids (%d)", ErrInvalidMap, len(m.HeroineIDs), len(m.PlayerIDs))
	}
	seen := make(map[int]struct{}, len(m.PlayerIDs))
	for _, id := range m.PlayerIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate player id %d", ErrInvalidMap, id)
		}
		seen[id] = struct{}{}
	}
	if len(m.Rooms) == 0 {
		return fmt.Errorf("%w: map has no rooms", ErrInvalidMap)
	}
	roomIDs := make(map[int]struct{}, len(m.Rooms))
	for _, room := range m.Rooms {
		if !room.Type.Valid() {
			return fmt.Errorf("%w: room %d has type %d", ErrInvalidMap, room.RoomID, room.Type)
		}
		if _, dup := roomIDs[room.RoomID]; dup {
			return fmt.Errorf("%w: duplicate room id %d", ErrInvalidMap, room.RoomID)
		}
		roomIDs[room.RoomID] = struct{}{}
	}
	for _, room := range m.Rooms {
		for _, n := range room.Neighbors {
			if _, ok := roomIDs[n]; !ok {
				return fmt.Errorf("%w: room %d references unknown neighbour %d", ErrInvalidMap, room.RoomID, n)
			}
		}
	}
	return nil
}

// Clone возвращает глубокую копию карты.
func (m *RawMap) Clone() *RawMap {
	if m == nil {
		return nil
	}
	out := &RawMap{
		PlayerIDs:  append([]int{}, m.PlayerIDs...),
		HeroineIDs: append([]int{}, m.HeroineIDs...),
		Rooms:      make([]Room, len(m.Rooms)),
	}
	for i, r := range m.Rooms {
		out.Rooms[i] = r.Clone()
	}
	return out
}

// Layout возвращает копию карты без монстров и событий (заготовка следующего этажа).
func (m *RawMap) Layout() *RawMap {
	out := m.Clone()
	if out == nil {
		return nil
	}
	for i := range out.Rooms {
		out.Rooms[i].Monsters = []int{}
		out.Rooms[i].Event = nil
	}
	return out
}

// RoomsOfType возвращает индексы комнат заданного типа в порядке объявления.
func (m *RawMap) RoomsOfType(t RoomType) []int {
	var idx []int
	for i, r := range m.Rooms {
		if r.Type == t {
			idx = append(idx, i)
		}
	}
	return idx
}

// HeroineFor возвращает героиню, связанную со слотом игрока.
func (m *RawMap) HeroineFor(playerID int) (int, bool) {
	for i, p := range m.PlayerIDs {
		if p == playerID && i < len(m.HeroineIDs) {
			return m.HeroineIDs[i], true
		}
	}
	return 0, false
}
