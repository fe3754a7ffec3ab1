package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"dungeon-server/internal/ai"
	aiMocks "dungeon-server/internal/ai/mocks"
	"dungeon-server/internal/balance"
	"dungeon-server/internal/catalog"
	"dungeon-server/internal/event"
	"dungeon-server/internal/lock"
	"dungeon-server/internal/messaging"
	"dungeon-server/internal/models"
	"dungeon-server/internal/repository"
	"dungeon-server/internal/service"
	serviceMocks "dungeon-server/internal/service/mocks"
	"dungeon-server/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const subEventJSON = `{
	"sub_event_narrative": "제단 위에서 희미한 빛이 흔들린다.",
	"event_choices": [
		{"action": "제단을 조사한다", "reward_id": "ghost_reward"},
		{"action": "기도한다", "reward_id": "hp_up_20", "penalty_id": "hp_down_10"}
	],
	"expected_outcome": "1. 무언가 2. 회복"
}`

type fixture struct {
	svc       service.DungeonService
	repo      repository.DungeonRepository
	client    *aiMocks.MockAIClient
	publisher *serviceMocks.MockDungeonPublisher
	logs      *observer.ObservedLogs
}

// newFixture собирает оркестратор на хранилище в памяти с фиксированным seed.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, nil)
}

// newFixtureWithRepo позволяет обернуть хранилище, которое видит оркестратор.
// f.repo остается исходным хранилищем для проверок.
func newFixtureWithRepo(t *testing.T, wrap func(repository.DungeonRepository) repository.DungeonRepository) *fixture {
	t.Helper()
	cats, err := catalog.LoadDefault()
	require.NoError(t, err)

	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	client := aiMocks.NewMockAIClient(t)
	publisher := serviceMocks.NewMockDungeonPublisher(t)
	repo := repository.NewMemoryDungeonRepository(logger)
	serviceRepo := repo
	if wrap != nil {
		serviceRepo = wrap(repo)
	}

	seed := int64(0)
	var seedMu sync.Mutex
	svc := service.NewDungeonService(service.Deps{
		Repo:      serviceRepo,
		Locker:    lock.NewMemoryLocker(time.Second),
		Publisher: publisher,
		Catalogs:  cats,
		Oracle:    strategy.NewStrategyOracle(client, strategy.Config{Model: "strategy-model", Timeout: time.Second, FallbackMultiplier: 1.0}, logger),
		Composer:  event.NewEventComposer(client, cats.Rewards, cats.Scenarios, ai.ApproxCounter{}, event.Config{Model: "event-model", Timeout: time.Second, MemoryTokenBudget: 256}, logger),
		Placer:    balance.NewMonsterPlacer(balance.DefaultPlacerConfig(), logger),
		NewRand: func() *rand.Rand {
			seedMu.Lock()
			defer seedMu.Unlock()
			seed++
			return rand.New(rand.NewSource(seed))
		},
	}, logger)

	return &fixture{svc: svc, repo: repo, client: client, publisher: publisher, logs: logs}
}

var errDBBlip = errors.New("db blip")

// failingWriteRepo отказывает в первых failures записях этажа.
type failingWriteRepo struct {
	repository.DungeonRepository
	mu       sync.Mutex
	failures int
}

func (r *failingWriteRepo) failWrite() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errDBBlip
	}
	return nil
}

func (r *failingWriteRepo) InsertBalanced(ctx context.Context, floor int, rawMap, balanced *models.RawMap, events *models.FloorEvents, digest *models.AgentDigest) (*models.DungeonRow, error) {
	if err := r.failWrite(); err != nil {
		return nil, err
	}
	return r.DungeonRepository.InsertBalanced(ctx, floor, rawMap, balanced, events, digest)
}

func (r *failingWriteRepo) UpdateBalanced(ctx context.Context, id int64, balanced *models.RawMap, events *models.FloorEvents, digest *models.AgentDigest) (*models.DungeonRow, error) {
	if err := r.failWrite(); err != nil {
		return nil, err
	}
	return r.DungeonRepository.UpdateBalanced(ctx, id, balanced, events, digest)
}

func (f *fixture) composerReturns(body string, err error) {
	f.client.On("GenerateText", mock.Anything, event.Component, mock.Anything, mock.Anything, mock.Anything).
		Return(body, ai.UsageInfo{}, err).Maybe()
}

func (f *fixture) strategyFails() {
	f.client.On("GenerateText", mock.Anything, strategy.Component, mock.Anything, mock.Anything, mock.Anything).
		Return("", ai.UsageInfo{}, ai.ErrAIGenerationFailed).Maybe()
}

func (f *fixture) expectPublish(kind messaging.UpdateKind) {
	f.publisher.On("PublishDungeonUpdate", mock.Anything, mock.MatchedBy(func(u messaging.DungeonUpdate) bool {
		return u.Kind == kind && u.MessageID != ""
	})).Return(nil)
}

// happyPathMap - карта из четырех комнат: пустая, бой, событие, босс.
func happyPathMap() *models.RawMap {
	return &models.RawMap{
		PlayerIDs:  []int{0, 1},
		HeroineIDs: []int{1, 2},
		Rooms: []models.Room{
			{RoomID: 0, Type: models.RoomTypeEmpty, Neighbors: []int{1}, Monsters: []int{}},
			{RoomID: 1, Type: models.RoomTypeCombat, Neighbors: []int{0, 2}, Monsters: []int{0}},
			{RoomID: 2, Type: models.RoomTypeEvent, Neighbors: []int{1, 3}, Monsters: []int{}},
			{RoomID: 3, Type: models.RoomTypeBoss, Neighbors: []int{2}, Monsters: []int{100}},
		},
	}
}

func party() []models.HeroineStat {
	h := models.DefaultHeroineStat()
	h.HP, h.Strength, h.Dexterity, h.AttackSpeed = 100, 10, 10, 1.0
	return []models.HeroineStat{h, h}
}

func heroines() []models.HeroineProfile {
	return []models.HeroineProfile{
		{HeroineID: 1, Name: "리나", MemoryProgress: 10},
		{HeroineID: 2, Name: "세라", MemoryProgress: 0},
	}
}

func TestEntrance(t *testing.T) {
	ctx := context.Background()

	t.Run("Happy path floor 1", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.expectPublish(messaging.UpdateEntrance)

		raw := happyPathMap()
		res, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: raw, HeroineData: heroines()})
		require.NoError(t, err)
		assert.Equal(t, 0, res.FirstPlayerID)
		assert.Equal(t, 1, res.Floor)
		assert.False(t, res.Resumed)
		require.Len(t, res.Events, 1)
		assert.Equal(t, 2, res.Events[0].RoomID)

		row, err := f.repo.GetByID(ctx, res.DungeonID)
		require.NoError(t, err)
		assert.Equal(t, raw, row.RawMap)
		// Сбалансированная карта этажа 1 совпадает с исходной, плюс события в комнатах
		for i, room := range row.BalancedMap.Rooms {
			assert.Equal(t, raw.Rooms[i].Monsters, room.Monsters)
		}
		require.NotNil(t, row.BalancedMap.Rooms[2].Event)
		assert.Equal(t, res.Events[0].EventCode, row.BalancedMap.Rooms[2].Event.EventCode)
		require.NotNil(t, row.Event)
		assert.Equal(t, 1, row.Event.Floor)
		assert.Contains(t, row.SummaryInfo, "[1층 요약]")
	})

	t.Run("Unknown reward id is passed through", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.expectPublish(messaging.UpdateEntrance)

		res, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
		require.NoError(t, err)
		require.Len(t, res.Events, 1)
		data, err := json.Marshal(res.Events[0].Choices[0].Reward)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"ghost_reward"}`, string(data))
	})

	t.Run("Second entrance resumes the run", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.expectPublish(messaging.UpdateEntrance)

		first, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
		require.NoError(t, err)
		second, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
		require.NoError(t, err)

		assert.True(t, second.Resumed)
		assert.Equal(t, first.DungeonID, second.DungeonID)
		assert.Equal(t, first.FirstPlayerID, second.FirstPlayerID)
		assert.Equal(t, first.Events, second.Events)
		f.publisher.AssertNumberOfCalls(t, "PublishDungeonUpdate", 1)
	})

	t.Run("Invalid map", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: &models.RawMap{PlayerIDs: []int{1}}})
		assert.ErrorIs(t, err, models.ErrInvalidMap)
	})

	t.Run("Single player run", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.expectPublish(messaging.UpdateEntrance)

		raw := happyPathMap()
		raw.PlayerIDs, raw.HeroineIDs = []int{7}, []int{3}
		res, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: raw})
		require.NoError(t, err)
		assert.Equal(t, 7, res.FirstPlayerID)
	})
}

func TestBalance(t *testing.T) {
	ctx := context.Background()

	enter := func(t *testing.T, f *fixture) *service.EntranceResult {
		t.Helper()
		f.expectPublish(messaging.UpdateEntrance)
		res, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap(), HeroineData: heroines()})
		require.NoError(t, err)
		return res
	}

	t.Run("Balance generates floor 2", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.strategyFails()
		entered := enter(t, f)
		f.expectPublish(messaging.UpdateBalanced)

		res, err := f.svc.Balance(ctx, service.BalanceRequest{FirstPlayerID: 0, PlayerData: party(), HeroineData: heroines()})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Floor)
		assert.NotEqual(t, entered.DungeonID, res.DungeonID)

		log := res.DifficultyLog
		assert.InDelta(t, 52.0, log.CombatScore, 1e-9)
		assert.InDelta(t, 52.0, log.TargetThreat, 1e-9)
		assert.GreaterOrEqual(t, log.ActualThreat, 0.9*log.TargetThreat)

		cats, err := catalog.LoadDefault()
		require.NoError(t, err)
		for _, p := range res.MonsterPlacements {
			switch p.Type {
			case models.RoomTypeCombat:
				assert.GreaterOrEqual(t, len(p.Monsters), 1)
				assert.LessOrEqual(t, len(p.Monsters), 3)
				for _, id := range p.Monsters {
					rec, err := cats.Monsters.Get(id)
					require.NoError(t, err)
					assert.Equal(t, models.MonsterTypeNormal, rec.MonsterType)
				}
			case models.RoomTypeBoss:
				require.Len(t, p.Monsters, 1)
				rec, err := cats.Monsters.Get(p.Monsters[0])
				require.NoError(t, err)
				assert.Equal(t, models.MonsterTypeBoss, rec.MonsterType)
			}
		}

		require.NotNil(t, res.NextFloorEvent)
		assert.Equal(t, 2, res.NextFloorEvent.Floor)
		// Код события этажа 1 не повторяется
		assert.NotContains(t, res.NextFloorEvent.Codes(), entered.Events[0].EventCode)

		row, err := f.repo.GetByID(ctx, res.DungeonID)
		require.NoError(t, err)
		assert.Equal(t, 2, row.Floor)
		assert.Equal(t, res.BalancedMap, row.BalancedMap)
		assert.Contains(t, row.SummaryInfo, "[2층 요약]")
		// Исходная карта этажа 2 - планировка этажа 1 без монстров
		assert.Empty(t, row.RawMap.Rooms[1].Monsters)
	})

	t.Run("LLM outage", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns("", errors.New("provider down"))
		f.strategyFails()
		enter(t, f)
		f.expectPublish(messaging.UpdateBalanced)

		res, err := f.svc.Balance(ctx, service.BalanceRequest{FirstPlayerID: 1, PlayerData: party()})
		require.NoError(t, err)
		assert.True(t, res.StrategyFallback)
		assert.Equal(t, models.FallbackReasoning, res.DifficultyLog.Reasoning)
		assert.GreaterOrEqual(t, res.DifficultyLog.ActualThreat, 0.9*res.DifficultyLog.TargetThreat)
		require.Len(t, res.NextFloorEvent.Events, 1)
		assert.True(t, res.NextFloorEvent.Events[0].Fallback)

		entries := f.logs.FilterMessage("Dungeon floor balanced").All()
		require.Len(t, entries, 1)
		assert.Equal(t, models.FallbackReasoning, entries[0].ContextMap()["reasoning"])
	})

	t.Run("Repeated balance overwrites the same floor", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.strategyFails()
		enter(t, f)
		f.expectPublish(messaging.UpdateBalanced)

		var wg sync.WaitGroup
		results := make([]*service.BalanceResult, 2)
		errs := make([]error, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.svc.Balance(ctx, service.BalanceRequest{FirstPlayerID: 0, PlayerData: party()})
			}(i)
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.Equal(t, results[0].DungeonID, results[1].DungeonID)
		assert.Equal(t, 2, results[1].Floor)
	})

	t.Run("Next uses default stats", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.strategyFails()
		enter(t, f)
		f.expectPublish(messaging.UpdateBalanced)

		res, err := f.svc.Next(ctx, service.NextRequest{FirstPlayerID: 0})
		require.NoError(t, err)
		assert.InDelta(t, balance.HeroineScore(models.DefaultHeroineStat()), res.DifficultyLog.CombatScore, 1e-9)
	})

	t.Run("Next floor raw map from the client", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.strategyFails()
		enter(t, f)
		f.expectPublish(messaging.UpdateBalanced)

		next := happyPathMap()
		next.Rooms = append(next.Rooms, models.Room{RoomID: 4, Type: models.RoomTypeTreasure, Neighbors: []int{3}, Monsters: []int{}})
		next.Rooms[3].Neighbors = []int{2, 4}
		res, err := f.svc.Next(ctx, service.NextRequest{FirstPlayerID: 0, PlayerData: party(), RawMap: next})
		require.NoError(t, err)
		assert.Len(t, res.BalancedMap.Rooms, 5)

		other := happyPathMap()
		other.PlayerIDs = []int{0, 9}
		f2 := newFixture(t)
		f2.composerReturns(subEventJSON, nil)
		f2.strategyFails()
		enter(t, f2)
		_, err = f2.svc.Next(ctx, service.NextRequest{FirstPlayerID: 0, PlayerData: party(), RawMap: other})
		assert.ErrorIs(t, err, models.ErrInvalidMap)
	})

	t.Run("Monster db override", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.strategyFails()
		enter(t, f)
		f.expectPublish(messaging.UpdateBalanced)

		db := []models.MonsterRecord{
			{MonsterID: 10, Name: "rat", MonsterType: models.MonsterTypeNormal, HP: 100, Attack: 10, Speed: 300, AttackSpeed: 1},
			{MonsterID: 20, Name: "lord", MonsterType: models.MonsterTypeBoss, HP: 900, Attack: 40, Speed: 300, AttackSpeed: 1},
		}
		res, err := f.svc.Balance(ctx, service.BalanceRequest{FirstPlayerID: 0, PlayerData: party(), MonsterDB: db})
		require.NoError(t, err)
		for _, p := range res.MonsterPlacements {
			for _, id := range p.Monsters {
				assert.Contains(t, []int{10, 20}, id)
			}
		}
	})

	t.Run("No active run", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Balance(ctx, service.BalanceRequest{FirstPlayerID: 42, PlayerData: party()})
		assert.ErrorIs(t, err, models.ErrNoActiveRun)
	})
}

func TestClear(t *testing.T) {
	ctx := context.Background()

	t.Run("Finishing idempotence", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.expectPublish(messaging.UpdateEntrance)
		f.expectPublish(messaging.UpdateFloorCleared)

		entered, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
		require.NoError(t, err)

		res, err := f.svc.Clear(ctx, []int{0, 1})
		require.NoError(t, err)
		assert.Equal(t, entered.DungeonID, res.DungeonID)
		assert.Equal(t, 1, res.FloorFinished)

		_, err = f.svc.Clear(ctx, []int{0, 1})
		assert.ErrorIs(t, err, models.ErrNoActiveRun)

		row, err := f.repo.GetByID(ctx, entered.DungeonID)
		require.NoError(t, err)
		assert.True(t, row.IsFinishing)
	})

	t.Run("Empty player list", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Clear(ctx, nil)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("Publish failure is not surfaced", func(t *testing.T) {
		f := newFixture(t)
		f.composerReturns(subEventJSON, nil)
		f.publisher.On("PublishDungeonUpdate", mock.Anything, mock.Anything).Return(errors.New("broker down"))

		_, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
		require.NoError(t, err)
		_, err = f.svc.Clear(ctx, []int{1})
		require.NoError(t, err)
		assert.Equal(t, 2, f.logs.FilterMessage("Dungeon update was not published").Len())
	})
}

func TestSelectEvent(t *testing.T) {
	ctx := context.Background()

	enterWithFallbackEvent := func(t *testing.T) *fixture {
		t.Helper()
		f := newFixture(t)
		f.composerReturns("", errors.New("timeout"))
		f.expectPublish(messaging.UpdateEntrance)
		_, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
		require.NoError(t, err)
		return f
	}

	t.Run("Unmatched event choice", func(t *testing.T) {
		f := enterWithFallbackEvent(t)

		res, err := f.svc.SelectEvent(ctx, service.SelectEventRequest{FirstPlayerID: 0, SelectingPlayerID: 1, RoomID: 2, Choice: "탈출한다"})
		require.NoError(t, err)
		assert.False(t, res.Matched)
		assert.Nil(t, res.Reward)
		require.NotNil(t, res.Penalty)
		data, err := json.Marshal(res.Penalty)
		require.NoError(t, err)
		assert.JSONEq(t, `[{"stat":{"name":"hp","value":-10,"duration":0}},{"monsterId":[0]}]`, string(data))
	})

	t.Run("Matched fallback choice", func(t *testing.T) {
		f := enterWithFallbackEvent(t)

		res, err := f.svc.SelectEvent(ctx, service.SelectEventRequest{FirstPlayerID: 0, SelectingPlayerID: 0, RoomID: 2, Choice: "관찰한다"})
		require.NoError(t, err)
		assert.True(t, res.Matched)
		assert.Nil(t, res.Reward)
		assert.Nil(t, res.Penalty)
		assert.NotEmpty(t, res.Narrative)
	})

	t.Run("No event at room", func(t *testing.T) {
		f := enterWithFallbackEvent(t)
		_, err := f.svc.SelectEvent(ctx, service.SelectEventRequest{FirstPlayerID: 0, SelectingPlayerID: 0, RoomID: 1, Choice: "관찰한다"})
		assert.ErrorIs(t, err, models.ErrNoEventAtRoom)
	})

	t.Run("Outsider cannot select", func(t *testing.T) {
		f := enterWithFallbackEvent(t)
		_, err := f.svc.SelectEvent(ctx, service.SelectEventRequest{FirstPlayerID: 0, SelectingPlayerID: 5, RoomID: 2, Choice: "관찰한다"})
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("No active run", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.SelectEvent(ctx, service.SelectEventRequest{FirstPlayerID: 3, SelectingPlayerID: 3, RoomID: 2, Choice: "x"})
		assert.ErrorIs(t, err, models.ErrNoActiveRun)
	})
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.composerReturns(subEventJSON, nil)
	f.expectPublish(messaging.UpdateEntrance)
	entered, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
	require.NoError(t, err)

	t.Run("Current", func(t *testing.T) {
		row, err := f.svc.Current(ctx, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, entered.DungeonID, row.ID)

		_, err = f.svc.Current(ctx, 1, 1)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("EventByFloor", func(t *testing.T) {
		events, err := f.svc.EventByFloor(ctx, 0, 1)
		require.NoError(t, err)
		assert.Len(t, events.Events, 1)

		_, err = f.svc.EventByFloor(ctx, 0, 0)
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})

	t.Run("Health", func(t *testing.T) {
		assert.NoError(t, f.svc.Health(ctx))
	})
}

func TestFailedWriteLeavesNoFloor(t *testing.T) {
	ctx := context.Background()

	t.Run("Entrance", func(t *testing.T) {
		flaky := &failingWriteRepo{failures: 1}
		f := newFixtureWithRepo(t, func(r repository.DungeonRepository) repository.DungeonRepository {
			flaky.DungeonRepository = r
			return flaky
		})
		f.composerReturns(subEventJSON, nil)
		f.expectPublish(messaging.UpdateEntrance)

		_, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
		require.ErrorIs(t, err, errDBBlip)

		_, err = f.repo.UnfinishedFor(ctx, []int{0, 1})
		assert.ErrorIs(t, err, models.ErrNotFound)

		// Повтор создает забег заново, а не возобновляет пустой этаж
		res, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
		require.NoError(t, err)
		assert.False(t, res.Resumed)
		require.Len(t, res.Events, 1)
		f.publisher.AssertNumberOfCalls(t, "PublishDungeonUpdate", 1)
	})

	t.Run("Balance", func(t *testing.T) {
		flaky := &failingWriteRepo{}
		f := newFixtureWithRepo(t, func(r repository.DungeonRepository) repository.DungeonRepository {
			flaky.DungeonRepository = r
			return flaky
		})
		f.composerReturns(subEventJSON, nil)
		f.strategyFails()
		f.expectPublish(messaging.UpdateEntrance)
		_, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
		require.NoError(t, err)

		flaky.failures = 1
		_, err = f.svc.Balance(ctx, service.BalanceRequest{FirstPlayerID: 0, PlayerData: party()})
		require.ErrorIs(t, err, errDBBlip)

		_, err = f.repo.UnfinishedAtFloor(ctx, []int{0, 1}, 2)
		assert.ErrorIs(t, err, models.ErrNotFound)

		f.expectPublish(messaging.UpdateBalanced)
		res, err := f.svc.Balance(ctx, service.BalanceRequest{FirstPlayerID: 0, PlayerData: party()})
		require.NoError(t, err)
		row, err := f.repo.GetByID(ctx, res.DungeonID)
		require.NoError(t, err)
		assert.Equal(t, 2, row.Floor)
		assert.NotNil(t, row.BalancedMap)
		assert.NotNil(t, row.Event)
	})
}

func TestRunLockCoversWholeParticipantSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.composerReturns(subEventJSON, nil)
	f.expectPublish(messaging.UpdateEntrance)
	f.expectPublish(messaging.UpdateBalanced)
	f.expectPublish(messaging.UpdateFloorCleared)

	_, err := f.svc.Entrance(ctx, service.EntranceRequest{RawMap: happyPathMap()})
	require.NoError(t, err)

	// Стратегия "зависает", пока balance держит блокировку забега
	inOracle := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.client.On("GenerateText", mock.Anything, strategy.Component, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			once.Do(func() { close(inOracle) })
			<-release
		}).
		Return("", ai.UsageInfo{}, ai.ErrAIGenerationFailed).Maybe()

	var mu sync.Mutex
	var order []string
	done := func(name string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, name)
	}

	balanceErr := make(chan error, 1)
	go func() {
		_, err := f.svc.Balance(ctx, service.BalanceRequest{FirstPlayerID: 0, PlayerData: party()})
		done("balance")
		balanceErr <- err
	}()
	<-inOracle

	clearErr := make(chan error, 1)
	var cleared *service.ClearResult
	go func() {
		res, err := f.svc.Clear(ctx, []int{0})
		cleared = res
		done("clear")
		clearErr <- err
	}()

	select {
	case err := <-clearErr:
		t.Fatalf("clear of a subset finished while balance held the run: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-balanceErr)
	require.NoError(t, <-clearErr)
	assert.Equal(t, []string{"balance", "clear"}, order)
	require.NotNil(t, cleared)
	assert.Equal(t, 1, cleared.FloorFinished)
	assert.ElementsMatch(t, []int{0, 1}, cleared.PlayerIDs)
}
