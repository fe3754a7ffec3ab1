package balance_test

import (
	"math/rand"
	"testing"

	"dungeon-server/internal/balance"
	"dungeon-server/internal/catalog"
	"dungeon-server/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ptr(v float64) *float64 { return &v }

func heroine(hp, str, dex, as float64) models.HeroineStat {
	h := models.DefaultHeroineStat()
	h.HP, h.Strength, h.Dexterity, h.AttackSpeed = hp, str, dex, as
	return h
}

func TestCombatScorer(t *testing.T) {
	t.Run("Base formula", func(t *testing.T) {
		// 0.25*100 + 0.45*20 + 12*1 + 0 + 6*1
		assert.InDelta(t, 52.0, balance.HeroineScore(heroine(100, 10, 10, 1.0)), 1e-9)
	})

	t.Run("Defaults", func(t *testing.T) {
		// 25 + 0.9 + 12 + 6
		assert.InDelta(t, 43.9, balance.HeroineScore(models.DefaultHeroineStat()), 1e-9)
	})

	t.Run("Single heroine party equals heroine score", func(t *testing.T) {
		h := heroine(180, 14, 9, 1.3)
		h.CritChance = 25
		h.Keywords = models.KeywordSet{"fast_attack"}
		party, err := balance.PartyScore([]models.HeroineStat{h})
		require.NoError(t, err)
		assert.Equal(t, balance.HeroineScore(h), party)
	})

	t.Run("Keyword bonuses", func(t *testing.T) {
		plain := heroine(100, 10, 10, 2.0)
		plain.SkillDamageMultiplier = 2.0
		base := balance.HeroineScore(plain)

		fast := plain
		fast.Keywords = models.KeywordSet{"빠른 발놀림"}
		assert.InDelta(t, base+0.15*24, balance.HeroineScore(fast), 1e-9)

		strong := plain
		strong.Keywords = models.KeywordSet{"STRONG_HIT"}
		assert.InDelta(t, base+0.15*9, balance.HeroineScore(strong), 1e-9)

		many := plain
		many.Keywords = models.KeywordSet{"many_hits"}
		assert.InDelta(t, base+0.10*12, balance.HeroineScore(many), 1e-9)
	})

	t.Run("Party mean", func(t *testing.T) {
		a := heroine(100, 10, 10, 1.0) // 52
		b := models.DefaultHeroineStat()
		score, err := balance.PartyScore([]models.HeroineStat{a, b})
		require.NoError(t, err)
		assert.InDelta(t, (52.0+43.9)/2, score, 1e-9)
	})

	t.Run("Empty party", func(t *testing.T) {
		_, err := balance.PartyScore(nil)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

// scenarioMap - 4 комнаты: пустая, боевая, событие, босс.
func scenarioMap() *models.RawMap {
	return &models.RawMap{
		PlayerIDs:  []int{0, 1},
		HeroineIDs: []int{1, 2},
		Rooms: []models.Room{
			{RoomID: 0, Type: models.RoomTypeEmpty, Neighbors: []int{1}, Monsters: []int{}},
			{RoomID: 1, Type: models.RoomTypeCombat, Neighbors: []int{0, 2}, Monsters: []int{}},
			{RoomID: 2, Type: models.RoomTypeEvent, Neighbors: []int{1, 3}, Monsters: []int{}},
			{RoomID: 3, Type: models.RoomTypeBoss, Neighbors: []int{2}, Monsters: []int{}},
		},
	}
}

func multiCombatMap(n int) *models.RawMap {
	m := &models.RawMap{PlayerIDs: []int{7}, HeroineIDs: []int{1}}
	for i := 0; i < n; i++ {
		m.Rooms = append(m.Rooms, models.Room{RoomID: i, Type: models.RoomTypeCombat, Monsters: []int{}})
	}
	m.Rooms = append(m.Rooms, models.Room{RoomID: n, Type: models.RoomTypeBoss, Monsters: []int{}})
	return m
}

func newPlacer() *balance.MonsterPlacer {
	return balance.NewMonsterPlacer(balance.DefaultPlacerConfig(), zap.NewNop())
}

func assertRoomInvariants(t *testing.T, monsters *catalog.MonsterCatalog, m *models.RawMap) {
	t.Helper()
	for _, room := range m.Rooms {
		switch room.Type {
		case models.RoomTypeCombat:
			assert.GreaterOrEqual(t, len(room.Monsters), 1, "room %d", room.RoomID)
			assert.LessOrEqual(t, len(room.Monsters), 3, "room %d", room.RoomID)
			for _, id := range room.Monsters {
				rec, err := monsters.Get(id)
				require.NoError(t, err)
				assert.Equal(t, models.MonsterTypeNormal, rec.MonsterType)
			}
		case models.RoomTypeBoss:
			require.Len(t, room.Monsters, 1)
			rec, err := monsters.Get(room.Monsters[0])
			require.NoError(t, err)
			assert.Equal(t, models.MonsterTypeBoss, rec.MonsterType)
		default:
			assert.Empty(t, room.Monsters)
		}
	}
}

func TestMonsterPlacer(t *testing.T) {
	cats, err := catalog.LoadDefault()
	require.NoError(t, err)
	placer := newPlacer()

	t.Run("Fallback strategy stays in band", func(t *testing.T) {
		score := balance.HeroineScore(heroine(100, 10, 10, 1.0))
		for seed := int64(0); seed < 200; seed++ {
			res, err := placer.Place(rand.New(rand.NewSource(seed)), balance.PlacementInput{
				RawMap:      scenarioMap(),
				CombatScore: score,
				Strategy:    models.FallbackStrategy(1.0),
				Monsters:    cats.Monsters,
			})
			require.NoError(t, err)
			assertRoomInvariants(t, cats.Monsters, res.BalancedMap)
			assert.GreaterOrEqual(t, res.Log.ActualThreat, 0.9*res.Log.TargetThreat, "seed %d", seed)
			assert.Equal(t, models.FallbackReasoning, res.Log.Reasoning)
		}
	})

	t.Run("Many combat rooms with high multiplier", func(t *testing.T) {
		for seed := int64(0); seed < 50; seed++ {
			res, err := placer.Place(rand.New(rand.NewSource(seed)), balance.PlacementInput{
				RawMap:      multiCombatMap(4),
				CombatScore: 60,
				Strategy:    models.Strategy{DifficultyMultiplier: 2.5, Reasoning: "hard"},
				Monsters:    cats.Monsters,
			})
			require.NoError(t, err)
			assertRoomInvariants(t, cats.Monsters, res.BalancedMap)
			assert.GreaterOrEqual(t, res.Log.ActualThreat, 0.9*res.Log.TargetThreat, "seed %d", seed)
		}
	})

	t.Run("Room minimum above the cap is reported", func(t *testing.T) {
		res, err := placer.Place(rand.New(rand.NewSource(3)), balance.PlacementInput{
			RawMap:      multiCombatMap(8),
			CombatScore: 52,
			Strategy:    models.Strategy{DifficultyMultiplier: 0.3, Reasoning: "easy"},
			Monsters:    cats.Monsters,
		})
		require.NoError(t, err)
		assertRoomInvariants(t, cats.Monsters, res.BalancedMap)

		hardCap := res.Log.TargetThreat * 1.1 * 1.2
		require.Greater(t, res.Log.ActualThreat, hardCap)
		require.NotEmpty(t, res.Log.Warnings)
		assert.Contains(t, res.Log.Warnings[len(res.Log.Warnings)-1], "exceeds cap")
	})

	t.Run("Band-compliant floor has no cap warning", func(t *testing.T) {
		res, err := placer.Place(rand.New(rand.NewSource(3)), balance.PlacementInput{
			RawMap:      scenarioMap(),
			CombatScore: 52,
			Strategy:    models.FallbackStrategy(1.0),
			Monsters:    cats.Monsters,
		})
		require.NoError(t, err)
		for _, w := range res.Log.Warnings {
			assert.NotContains(t, w, "exceeds cap")
		}
	})

	t.Run("Zero multiplier places no normals", func(t *testing.T) {
		res, err := placer.Place(rand.New(rand.NewSource(1)), balance.PlacementInput{
			RawMap:      scenarioMap(),
			CombatScore: 52,
			Strategy:    models.Strategy{DifficultyMultiplier: 0},
			Monsters:    cats.Monsters,
		})
		require.NoError(t, err)
		assert.Empty(t, res.BalancedMap.Rooms[1].Monsters)
		assert.Zero(t, res.Log.ActualThreat)
	})

	t.Run("Avoid conditions are respected", func(t *testing.T) {
		strategy := models.Strategy{DifficultyMultiplier: 1.0, AvoidConditions: []string{"fast", "weak"}}
		for seed := int64(0); seed < 30; seed++ {
			res, err := placer.Place(rand.New(rand.NewSource(seed)), balance.PlacementInput{
				RawMap:      scenarioMap(),
				CombatScore: 52,
				Strategy:    strategy,
				Monsters:    cats.Monsters,
			})
			require.NoError(t, err)
			for _, id := range res.BalancedMap.Rooms[1].Monsters {
				rec, _ := cats.Monsters.Get(id)
				assert.LessOrEqual(t, rec.Speed, 400.0)
				assert.GreaterOrEqual(t, rec.Attack, 12.0)
			}
		}
	})

	t.Run("Preferences that match nothing revert to full pool", func(t *testing.T) {
		strategy := models.Strategy{
			DifficultyMultiplier: 1.0,
			MonsterPreferences:   []models.Preference{{MinHP: ptr(100000)}},
		}
		res, err := placer.Place(rand.New(rand.NewSource(3)), balance.PlacementInput{
			RawMap:      scenarioMap(),
			CombatScore: 52,
			Strategy:    strategy,
			Monsters:    cats.Monsters,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, res.BalancedMap.Rooms[1].Monsters)
	})

	t.Run("No combat rooms", func(t *testing.T) {
		m := &models.RawMap{PlayerIDs: []int{1}, HeroineIDs: []int{1}, Rooms: []models.Room{{RoomID: 0, Type: models.RoomTypeEvent}}}
		res, err := placer.Place(rand.New(rand.NewSource(1)), balance.PlacementInput{
			RawMap: m, CombatScore: 52, Strategy: models.FallbackStrategy(1), Monsters: cats.Monsters,
		})
		require.NoError(t, err)
		assert.Contains(t, res.Log.Warnings, "no combat rooms detected")
	})

	t.Run("Catalog without normals or bosses", func(t *testing.T) {
		elites, err := catalog.NewMonsterCatalog([]models.MonsterRecord{{MonsterID: 20, MonsterType: models.MonsterTypeElite, HP: 10}})
		require.NoError(t, err)
		res, err := placer.Place(rand.New(rand.NewSource(1)), balance.PlacementInput{
			RawMap: scenarioMap(), CombatScore: 52, Strategy: models.FallbackStrategy(1), Monsters: elites,
		})
		require.NoError(t, err)
		assert.Empty(t, res.BalancedMap.Rooms[1].Monsters)
		assert.Empty(t, res.BalancedMap.Rooms[3].Monsters)
		assert.Len(t, res.Log.Warnings, 2)
	})

	t.Run("Input map is not mutated", func(t *testing.T) {
		raw := scenarioMap()
		raw.Rooms[1].Monsters = []int{5, 5}
		_, err := placer.Place(rand.New(rand.NewSource(1)), balance.PlacementInput{
			RawMap: raw, CombatScore: 52, Strategy: models.FallbackStrategy(1), Monsters: cats.Monsters,
		})
		require.NoError(t, err)
		assert.Equal(t, []int{5, 5}, raw.Rooms[1].Monsters)
	})

	t.Run("Deterministic with the same seed", func(t *testing.T) {
		in := balance.PlacementInput{
			RawMap: multiCombatMap(3), CombatScore: 80, Strategy: models.FallbackStrategy(1), Monsters: cats.Monsters,
			HeroTags: models.KeywordSet{"blunt"},
		}
		a, err := placer.Place(rand.New(rand.NewSource(42)), in)
		require.NoError(t, err)
		b, err := placer.Place(rand.New(rand.NewSource(42)), in)
		require.NoError(t, err)
		assert.Equal(t, a.BalancedMap, b.BalancedMap)
	})

	t.Run("Missing input", func(t *testing.T) {
		_, err := placer.Place(rand.New(rand.NewSource(1)), balance.PlacementInput{Monsters: cats.Monsters})
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}
