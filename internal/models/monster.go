package models

import (
	"fmt"
	"strings"
)

// MonsterType - категория монстра.
type MonsterType int

const (
	MonsterTypeNormal MonsterType = 0
	MonsterTypeElite  MonsterType = 1
	MonsterTypeBoss   MonsterType = 2
)

func (t MonsterType) String() string {
	switch t {
	case MonsterTypeNormal:
		return "normal"
	case MonsterTypeElite:
		return "elite"
	case MonsterTypeBoss:
		return "boss"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseMonsterType разбирает имя типа ("normal", "elite", "boss").
func ParseMonsterType(s string) (MonsterType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "0":
		return MonsterTypeNormal, true
	case "elite", "1":
		return MonsterTypeElite, true
	case "boss", "2":
		return MonsterTypeBoss, true
	}
	return MonsterTypeNormal, false
}

// MonsterRecord - статы монстра из каталога.
type MonsterRecord struct {
	MonsterID   int         `json:"monster_id" yaml:"monster_id"`
	Name        string      `json:"name,omitempty" yaml:"name"`
	MonsterType MonsterType `json:"monster_type" yaml:"monster_type"`
	HP          float64     `json:"hp" yaml:"hp"`
	Speed       float64     `json:"speed" yaml:"speed"`
	Attack      float64     `json:"attack" yaml:"attack"`
	AttackSpeed float64     `json:"attack_speed" yaml:"attack_speed"`
	AttackRange float64     `json:"attack_range" yaml:"attack_range"`
	StaggerGage float64     `json:"stagger_gage" yaml:"stagger_gage"`
	Weaknesses  KeywordSet  `json:"weaknesses,omitempty" yaml:"-"`
	Strengths   KeywordSet  `json:"strengths,omitempty" yaml:"-"`
}

// ThreatLevel = hp * attack * attack_speed * (speed/100) / 100.
func (m MonsterRecord) ThreatLevel() float64 {
	return m.HP * m.Attack * m.AttackSpeed * (m.Speed / 100) / 100
}

// MonsterDigest - краткая запись о размещенном монстре для difficulty_log.
type MonsterDigest struct {
	MonsterID int     `json:"monster_id"`
	Name      string  `json:"name,omitempty"`
	RoomID    int     `json:"room_id"`
	Threat    float64 `json:"threat"`
}
