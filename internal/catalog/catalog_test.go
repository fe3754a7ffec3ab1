package catalog_test

import (
	"encoding/json"
	"math/rand"
	"testing"

	"dungeon-server/internal/catalog"
	"dungeon-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefault(t *testing.T) *catalog.Catalogs {
	t.Helper()
	c, err := catalog.LoadDefault()
	require.NoError(t, err)
	return c
}

func TestMonsterCatalog(t *testing.T) {
	c := loadDefault(t)

	t.Run("Get known monster", func(t *testing.T) {
		slime, err := c.Monsters.Get(0)
		require.NoError(t, err)
		assert.Equal(t, "slime", slime.Name)
		assert.Equal(t, models.MonsterTypeNormal, slime.MonsterType)
		// 100 * 8 * 1.0 * 2.0 / 100
		assert.InDelta(t, 16.0, slime.ThreatLevel(), 1e-9)
		// Ключевые слова из YAML: имя и id (15 = blunt)
		assert.Equal(t, models.KeywordSet{"strong_hit", "blunt"}, slime.Weaknesses)
	})

	t.Run("Unknown monster", func(t *testing.T) {
		_, err := c.Monsters.Get(9999)
		assert.ErrorIs(t, err, models.ErrUnknownMonster)

		_, err = c.Monsters.ThreatOf(9999)
		assert.ErrorIs(t, err, models.ErrUnknownMonster)
	})

	t.Run("ByType", func(t *testing.T) {
		bosses := c.Monsters.ByType(models.MonsterTypeBoss)
		require.NotEmpty(t, bosses)
		for _, b := range bosses {
			assert.Equal(t, models.MonsterTypeBoss, b.MonsterType)
		}
		normals := c.Monsters.ByType(models.MonsterTypeNormal)
		assert.Len(t, normals, 9)
		assert.Equal(t, c.Monsters.Len(), len(c.Monsters.All()))
	})

	t.Run("Duplicate ids are rejected", func(t *testing.T) {
		_, err := catalog.NewMonsterCatalog([]models.MonsterRecord{{MonsterID: 1}, {MonsterID: 1}})
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("Unknown keyword in YAML", func(t *testing.T) {
		_, err := catalog.LoadMonstersFromYAML([]byte("monsters:\n  - monster_id: 1\n    weaknesses: [no_such_tag]\n"))
		assert.Error(t, err)
	})
}

func TestRewardCatalogNormalise(t *testing.T) {
	c := loadDefault(t).Rewards

	t.Run("Nil", func(t *testing.T) {
		assert.Nil(t, c.Normalise(nil))
	})

	t.Run("Known ids", func(t *testing.T) {
		p := c.Normalise("drop_weapon_1")
		require.NotNil(t, p)
		require.NotNil(t, p.WeaponID)
		assert.Equal(t, 1, *p.WeaponID)

		p = c.Normalise("drop_accessory_2")
		require.NotNil(t, p)
		require.NotNil(t, p.AccessoryID)
		assert.Equal(t, 2, *p.AccessoryID)

		p = c.Normalise("spawn_friendly_bats")
		require.NotNil(t, p)
		assert.Equal(t, []int{4, 4}, p.MonsterIDs)
	})

	t.Run("Unknown id passes through", func(t *testing.T) {
		p := c.Normalise("ghost_reward")
		require.NotNil(t, p)
		data, err := json.Marshal(p)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"ghost_reward"}`, string(data))
	})

	t.Run("Client shaped map and list of ids", func(t *testing.T) {
		p := c.Normalise(map[string]any{"stat": map[string]any{"name": "hp", "value": 5.0, "duration": 10.0}})
		require.NotNil(t, p)
		require.NotNil(t, p.Stat)
		assert.Equal(t, models.StatChange{Name: "hp", Value: 5, Duration: 10}, *p.Stat)

		p = c.Normalise([]any{1.0, 2.0})
		require.NotNil(t, p)
		assert.Equal(t, []int{1, 2}, p.MonsterIDs)
	})

	t.Run("Map with id key", func(t *testing.T) {
		p := c.Normalise(map[string]any{"id": "hp_up_20"})
		require.NotNil(t, p)
		require.NotNil(t, p.Stat)
		assert.Equal(t, 20.0, p.Stat.Value)
	})

	t.Run("Unexpected action expands to composite", func(t *testing.T) {
		p := c.Normalise(catalog.UnexpectedActionPenaltyID)
		require.NotNil(t, p)
		data, err := json.Marshal(p)
		require.NoError(t, err)
		assert.JSONEq(t, `[{"stat":{"name":"hp","value":-10,"duration":0}},{"monsterId":[0]}]`, string(data))
	})

	t.Run("Normalise is idempotent", func(t *testing.T) {
		inputs := []any{
			"drop_weapon_2",
			"ghost_reward",
			catalog.UnexpectedActionPenaltyID,
			[]any{3.0},
			map[string]any{"weaponId": 7.0},
			json.RawMessage(`[{"id":"atk_up_5"},{"monsterId":[1]}]`),
		}
		for _, in := range inputs {
			once := c.Normalise(in)
			require.NotNil(t, once)
			twice := c.Normalise(*once)
			assert.Equal(t, once, twice)

			// Повторная нормализация JSON-формы дает тот же JSON
			data, err := json.Marshal(once)
			require.NoError(t, err)
			again := c.Normalise(json.RawMessage(data))
			require.NotNil(t, again)
			againData, err := json.Marshal(again)
			require.NoError(t, err)
			assert.JSONEq(t, string(data), string(againData))
		}
	})
}

func TestRewardCatalogSelection(t *testing.T) {
	c := loadDefault(t).Rewards

	t.Run("Rule selection is deterministic", func(t *testing.T) {
		a := c.RuleSelectReward("상자를 조사한다")
		b := c.RuleSelectReward("상자를 조사한다")
		require.NotNil(t, a)
		assert.Equal(t, a, b)
		// "조사" -> пул предметов
		assert.True(t, a.WeaponID != nil || a.AccessoryID != nil)
	})

	t.Run("Rest rewards hp", func(t *testing.T) {
		p := c.RuleSelectReward("모닥불 옆에서 휴식한다")
		require.NotNil(t, p)
		require.NotNil(t, p.Stat)
		assert.Equal(t, "hp", p.Stat.Name)
	})

	t.Run("Flee is punished by spawn", func(t *testing.T) {
		p := c.RuleSelectPenalty("도망친다")
		require.NotNil(t, p)
		assert.NotEmpty(t, p.MonsterIDs)
	})

	t.Run("Default penalty is a stat change", func(t *testing.T) {
		p := c.RuleSelectPenalty("노래를 부른다")
		require.NotNil(t, p)
		assert.NotNil(t, p.Stat)
	})

	t.Run("Pick random respects kind", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 20; i++ {
			e, ok := c.PickRandomReward(rng, catalog.PickMonster)
			require.True(t, ok)
			assert.Equal(t, catalog.EntrySpawnMonster, e.Type)
			assert.False(t, e.IsPenalty)

			e, ok = c.PickRandomPenalty(rng, catalog.PickAny)
			require.True(t, ok)
			assert.True(t, e.IsPenalty)
		}
	})

	t.Run("Id universes are disjoint", func(t *testing.T) {
		rewards := c.RewardIDs()
		penalties := c.PenaltyIDs()
		assert.Contains(t, rewards, "drop_weapon_1")
		assert.Contains(t, penalties, "hp_down_10")
		for _, id := range rewards {
			assert.NotContains(t, penalties, id)
		}
	})
}

func TestScenarioCatalog(t *testing.T) {
	c := loadDefault(t).Scenarios

	t.Run("Memories filtered by progress", func(t *testing.T) {
		mem := c.HeroineMemories(1, 2)
		require.Len(t, mem, 2)
		for _, m := range mem {
			assert.LessOrEqual(t, m.MemoryProgress, 2)
			assert.Equal(t, 1, m.HeroineID)
		}
		assert.Empty(t, c.HeroineMemories(42, 10))
	})

	t.Run("Excluding used events", func(t *testing.T) {
		all := c.AllMainEvents()
		require.NotEmpty(t, all)
		left := c.MainEventsExcluding([]string{all[0].EventCode})
		assert.Len(t, left, len(all)-1)
		for _, ev := range left {
			assert.NotEqual(t, all[0].EventCode, ev.EventCode)
		}
	})

	t.Run("Exhausted pool returns everything", func(t *testing.T) {
		all := c.AllMainEvents()
		var codes []string
		for _, ev := range all {
			codes = append(codes, ev.EventCode)
		}
		assert.Equal(t, all, c.MainEventsExcluding(codes))
	})

	t.Run("Empty catalog", func(t *testing.T) {
		empty, err := catalog.NewScenarioCatalog(nil, nil)
		require.NoError(t, err)
		assert.Empty(t, empty.MainEventsExcluding(nil))
	})
}
