package catalog

import (
	"fmt"
	"sort"

	"dungeon-server/internal/models"
)

// MonsterCatalog - неизменяемый каталог монстров.
type MonsterCatalog struct {
	byID  map[int]models.MonsterRecord
	order []int
}

// NewMonsterCatalog строит каталог; повторяющиеся id считаются ошибкой.
func NewMonsterCatalog(records []models.MonsterRecord) (*MonsterCatalog, error) {
	c := &MonsterCatalog{byID: make(map[int]models.MonsterRecord, len(records))}
	for _, r := range records {
		if _, dup := c.byID[r.MonsterID]; dup {
			return nil, fmt.Errorf("%w: duplicate monster id %d", models.ErrInvalidInput, r.MonsterID)
		}
		if r.MonsterType < models.MonsterTypeNormal || r.MonsterType > models.MonsterTypeBoss {
			return nil, fmt.Errorf("%w: monster %d has type %d", models.ErrInvalidInput, r.MonsterID, r.MonsterType)
		}
		c.byID[r.MonsterID] = r
		c.order = append(c.order, r.MonsterID)
	}
	sort.Ints(c.order)
	return c, nil
}

// Get возвращает запись монстра или ErrUnknownMonster.
func (c *MonsterCatalog) Get(id int) (models.MonsterRecord, error) {
	r, ok := c.byID[id]
	if !ok {
		return models.MonsterRecord{}, fmt.Errorf("%w: %d", models.ErrUnknownMonster, id)
	}
	return r, nil
}

// ByType фильтрует монстров по категории (в порядке возрастания id).
func (c *MonsterCatalog) ByType(t models.MonsterType) []models.MonsterRecord {
	var out []models.MonsterRecord
	for _, id := range c.order {
		if r := c.byID[id]; r.MonsterType == t {
			out = append(out, r)
		}
	}
	return out
}

// ThreatOf возвращает уровень угрозы монстра.
func (c *MonsterCatalog) ThreatOf(id int) (float64, error) {
	r, err := c.Get(id)
	if err != nil {
		return 0, err
	}
	return r.ThreatLevel(), nil
}

// All возвращает все записи в порядке id.
func (c *MonsterCatalog) All() []models.MonsterRecord {
	out := make([]models.MonsterRecord, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len - количество записей.
func (c *MonsterCatalog) Len() int {
	return len(c.order)
}
