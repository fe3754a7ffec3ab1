package catalog

import (
	"fmt"
	"sort"

	"dungeon-server/internal/models"
)

// ScenarioCatalog - основные события и воспоминания героинь.
type ScenarioCatalog struct {
	mainEvents []models.MainEvent
	memories   map[int][]models.MemoryScenario
}

// NewScenarioCatalog проверяет уникальность кодов событий и группирует воспоминания по героиням.
func NewScenarioCatalog(mainEvents []models.MainEvent, memories []models.MemoryScenario) (*ScenarioCatalog, error) {
	c := &ScenarioCatalog{memories: make(map[int][]models.MemoryScenario)}
	seen := make(map[string]struct{}, len(mainEvents))
	for _, ev := range mainEvents {
		if ev.EventCode == "" {
			return nil, fmt.Errorf("%w: main event without code", models.ErrInvalidInput)
		}
		if _, dup := seen[ev.EventCode]; dup {
			return nil, fmt.Errorf("%w: duplicate event code %q", models.ErrInvalidInput, ev.EventCode)
		}
		seen[ev.EventCode] = struct{}{}
		c.mainEvents = append(c.mainEvents, ev)
	}
	for _, m := range memories {
		c.memories[m.HeroineID] = append(c.memories[m.HeroineID], m)
	}
	for id := range c.memories {
		list := c.memories[id]
		sort.SliceStable(list, func(i, j int) bool { return list[i].MemoryProgress < list[j].MemoryProgress })
	}
	return c, nil
}

// HeroineMemories возвращает воспоминания героини с memory_progress <= progress.
func (c *ScenarioCatalog) HeroineMemories(heroineID, progress int) []models.MemoryScenario {
	var out []models.MemoryScenario
	for _, m := range c.memories[heroineID] {
		if m.MemoryProgress <= progress {
			out = append(out, m)
		}
	}
	return out
}

// MainEventsExcluding возвращает неиспользованные события.
// Если все события уже показаны, возвращается полный пул.
func (c *ScenarioCatalog) MainEventsExcluding(usedCodes []string) []models.MainEvent {
	used := make(map[string]struct{}, len(usedCodes))
	for _, code := range usedCodes {
		used[code] = struct{}{}
	}
	var out []models.MainEvent
	for _, ev := range c.mainEvents {
		if _, ok := used[ev.EventCode]; !ok {
			out = append(out, ev)
		}
	}
	if len(out) == 0 {
		return c.AllMainEvents()
	}
	return out
}

// AllMainEvents возвращает копию полного пула.
func (c *ScenarioCatalog) AllMainEvents() []models.MainEvent {
	return append([]models.MainEvent{}, c.mainEvents...)
}
