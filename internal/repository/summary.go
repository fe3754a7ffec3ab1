package repository

import (
	"fmt"
	"strings"

	"dungeon-server/internal/models"
)

var roomTypeLabels = map[models.RoomType]string{
	models.RoomTypeEmpty:    "빈 방",
	models.RoomTypeCombat:   "전투",
	models.RoomTypeEvent:    "이벤트",
	models.RoomTypeTreasure: "보물",
	models.RoomTypeBoss:     "보스",
}

// BuildSummary строит человекочитаемое описание этажа для колонки summary_info:
// состав комнат, число монстров, метрики сложности и названия событий.
func BuildSummary(floor int, balanced *models.RawMap, events *models.FloorEvents, digest *models.AgentDigest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d층 요약]\n", floor)

	if balanced != nil {
		counts := make(map[models.RoomType]int)
		var normal, boss, filledCombat, combat int
		for _, r := range balanced.Rooms {
			counts[r.Type]++
			switch r.Type {
			case models.RoomTypeCombat:
				combat++
				normal += len(r.Monsters)
				if len(r.Monsters) > 0 {
					filledCombat++
				}
			case models.RoomTypeBoss:
				boss += len(r.Monsters)
			}
		}
		parts := make([]string, 0, len(roomTypeLabels))
		for t := models.RoomTypeEmpty; t <= models.RoomTypeBoss; t++ {
			if counts[t] > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", roomTypeLabels[t], counts[t]))
			}
		}
		fmt.Fprintf(&b, "방 구성: %s (총 %d개)\n", strings.Join(parts, ", "), len(balanced.Rooms))
		fmt.Fprintf(&b, "몬스터: %d마리 (일반 %d, 보스 %d)", normal+boss, normal, boss)
		if combat > 0 {
			fmt.Fprintf(&b, ", 전투 방 배치율 %d%%", filledCombat*100/combat)
		}
		b.WriteString("\n")
	}

	if digest != nil && digest.Difficulty != nil {
		d := digest.Difficulty
		fmt.Fprintf(&b, "난이도: 전투력 %.1f, 배율 %.2f, 목표 위협 %.1f, 실제 위협 %.1f", d.CombatScore, d.DifficultyMultiplier, d.TargetThreat, d.ActualThreat)
		if d.TargetThreat > 0 {
			fmt.Fprintf(&b, " (달성률 %.0f%%)", d.ActualThreat/d.TargetThreat*100)
		}
		b.WriteString("\n")
		if d.Reasoning != "" {
			fmt.Fprintf(&b, "전략: %s\n", d.Reasoning)
		}
		if len(d.Warnings) > 0 {
			fmt.Fprintf(&b, "경고: %s\n", strings.Join(d.Warnings, "; "))
		}
	}

	if events != nil && len(events.Events) > 0 {
		titles := make([]string, 0, len(events.Events))
		for _, ev := range events.Events {
			title := ev.Title
			if ev.IsPersonal {
				title += "(개인)"
			}
			titles = append(titles, title)
		}
		fmt.Fprintf(&b, "이벤트: %s\n", strings.Join(titles, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
