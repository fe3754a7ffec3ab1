package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StatChange - изменение характеристики (duration в секундах, 0 - мгновенно).
type StatChange struct {
	Name     string  `json:"name"`
	Value    float64 `json:"value"`
	Duration int     `json:"duration"`
}

// ClientPayload - нормализованное представление награды/штрафа для клиента.
// Допустимые формы:
//
//	{"monsterId": [int, ...]}
//	{"weaponId": int}
//	{"accessoryId": int}
//	{"stat": {"name": string, "value": number, "duration": int}}
//	{"id": "raw"}            - непрозрачный проброс неизвестного id
//	[ ...любая из форм выше ] - составной payload
type ClientPayload struct {
	MonsterIDs  []int       `json:"monsterId,omitempty"`
	WeaponID    *int        `json:"weaponId,omitempty"`
	AccessoryID *int        `json:"accessoryId,omitempty"`
	Stat        *StatChange `json:"stat,omitempty"`
	OpaqueID    string      `json:"id,omitempty"`

	// Parts не пуст только у составного payload.
	Parts []ClientPayload `json:"-"`
}

// SpawnPayload создает {"monsterId": ids}.
func SpawnPayload(ids ...int) ClientPayload {
	return ClientPayload{MonsterIDs: append([]int{}, ids...)}
}

// WeaponPayload создает {"weaponId": id}.
func WeaponPayload(id int) ClientPayload {
	return ClientPayload{WeaponID: &id}
}

// AccessoryPayload создает {"accessoryId": id}.
func AccessoryPayload(id int) ClientPayload {
	return ClientPayload{AccessoryID: &id}
}

// StatPayload создает {"stat": {...}}.
func StatPayload(name string, value float64, duration int) ClientPayload {
	return ClientPayload{Stat: &StatChange{Name: name, Value: value, Duration: duration}}
}

// OpaquePayload создает {"id": raw}.
func OpaquePayload(raw string) ClientPayload {
	return ClientPayload{OpaqueID: raw}
}

// CompositePayload объединяет несколько payload в список.
// Вложенные составные payload разворачиваются.
func CompositePayload(parts ...ClientPayload) ClientPayload {
	flat := make([]ClientPayload, 0, len(parts))
	for _, p := range parts {
		if p.IsComposite() {
			flat = append(flat, p.Parts...)
			continue
		}
		flat = append(flat, p)
	}
	return ClientPayload{Parts: flat}
}

// IsComposite сообщает, что payload - список.
func (p ClientPayload) IsComposite() bool {
	return p.Parts != nil
}

// IsEmpty сообщает, что payload не несет ни одной формы.
func (p ClientPayload) IsEmpty() bool {
	return !p.IsComposite() && p.MonsterIDs == nil && p.WeaponID == nil &&
		p.AccessoryID == nil && p.Stat == nil && p.OpaqueID == ""
}

// MarshalJSON кодирует составной payload как JSON-массив.
func (p ClientPayload) MarshalJSON() ([]byte, error) {
	if p.IsComposite() {
		return json.Marshal(p.Parts)
	}
	type alias ClientPayload
	return json.Marshal(alias(p))
}

// UnmarshalJSON принимает объект или массив объектов.
func (p *ClientPayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var parts []ClientPayload
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("composite payload: %w", err)
		}
		*p = CompositePayload(parts...)
		return nil
	}
	type alias ClientPayload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = ClientPayload(a)
	return nil
}
