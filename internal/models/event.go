package models

// Choice - вариант действия в событии.
type Choice struct {
	Action  string         `json:"action"`
	Reward  *ClientPayload `json:"reward"`
	Penalty *ClientPayload `json:"penalty"`
}

// Event - событие, прикрепленное к комнате type==2.
type Event struct {
	RoomID              int            `json:"room_id"`
	EventCode           string         `json:"event_code"`
	Title               string         `json:"title"`
	IsPersonal          bool           `json:"is_personal"`
	ScenarioText        string         `json:"scenario_text"`
	Narrative           string         `json:"narrative"`
	Choices             []Choice       `json:"choices"`
	ExpectedOutcome     string         `json:"expected_outcome"`
	PerPlayerNarratives map[int]string `json:"per_player_narratives,omitempty"`
	Fallback            bool           `json:"fallback,omitempty"`
}

// Clone возвращает копию события (payload разделяются, они неизменяемы после сборки).
func (e Event) Clone() Event {
	out := e
	out.Choices = append([]Choice{}, e.Choices...)
	if e.PerPlayerNarratives != nil {
		out.PerPlayerNarratives = make(map[int]string, len(e.PerPlayerNarratives))
		for k, v := range e.PerPlayerNarratives {
			out.PerPlayerNarratives[k] = v
		}
	}
	return out
}

// NarrativeFor возвращает повествование для игрока (личное, если есть).
func (e Event) NarrativeFor(playerID int) string {
	if n, ok := e.PerPlayerNarratives[playerID]; ok && n != "" {
		return n
	}
	return e.Narrative
}

// FloorEvents - набор событий этажа, хранится в колонке event.
type FloorEvents struct {
	Floor  int     `json:"floor"`
	Events []Event `json:"events"`
}

// ByRoom ищет событие по id комнаты.
func (f *FloorEvents) ByRoom(roomID int) (*Event, bool) {
	if f == nil {
		return nil, false
	}
	for i := range f.Events {
		if f.Events[i].RoomID == roomID {
			return &f.Events[i], true
		}
	}
	return nil, false
}

// Codes возвращает коды событий этажа.
func (f *FloorEvents) Codes() []string {
	if f == nil {
		return nil
	}
	codes := make([]string, 0, len(f.Events))
	for _, e := range f.Events {
		codes = append(codes, e.EventCode)
	}
	return codes
}

// UsedEvent - ранее показанное участникам событие.
type UsedEvent struct {
	EventCode string `json:"event_code"`
}

// MainEvent - шаблон основного сценария.
type MainEvent struct {
	EventCode    string `json:"event_code" yaml:"event_code"`
	Title        string `json:"title" yaml:"title"`
	ScenarioText string `json:"scenario_text" yaml:"scenario_text"`
	IsPersonal   bool   `json:"is_personal" yaml:"is_personal"`
}

// MemoryScenario - воспоминание героини, открываемое по прогрессу.
type MemoryScenario struct {
	HeroineID      int    `json:"heroine_id" yaml:"heroine_id"`
	MemoryProgress int    `json:"memory_progress" yaml:"memory_progress"`
	Title          string `json:"title" yaml:"title"`
	Text           string `json:"text" yaml:"text"`
}
