package event

import (
	"strings"

	"dungeon-server/internal/catalog"
	"dungeon-server/internal/models"
)

// Resolution - итог выбора игрока в событии.
type Resolution struct {
	Reward  *models.ClientPayload `json:"reward"`
	Penalty *models.ClientPayload `json:"penalty"`
	Matched bool                  `json:"matched"`
}

// Resolve сопоставляет выбор игрока с вариантами события.
// Сравнение без учета регистра и лишних пробелов. Действие вне вариантов
// не дает награды и получает штраф за неожиданное действие.
func Resolve(ev *models.Event, choice string, rewards *catalog.RewardCatalog) Resolution {
	want := normaliseAction(choice)
	if ev != nil && want != "" {
		for _, c := range ev.Choices {
			if normaliseAction(c.Action) == want {
				return Resolution{Reward: c.Reward, Penalty: c.Penalty, Matched: true}
			}
		}
	}
	penalty := rewards.UnexpectedActionPenalty()
	return Resolution{Penalty: &penalty}
}

func normaliseAction(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
