package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"dungeon-server/internal/balance"
	"dungeon-server/internal/catalog"
	"dungeon-server/internal/event"
	"dungeon-server/internal/lock"
	"dungeon-server/internal/messaging"
	"dungeon-server/internal/models"
	"dungeon-server/internal/repository"
	"dungeon-server/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DungeonService - оркестратор пайплайна подземелья.
type DungeonService interface {
	Entrance(ctx context.Context, req EntranceRequest) (*EntranceResult, error)
	Balance(ctx context.Context, req BalanceRequest) (*BalanceResult, error)
	Clear(ctx context.Context, playerIDs []int) (*ClearResult, error)
	Next(ctx context.Context, req NextRequest) (*BalanceResult, error)
	SelectEvent(ctx context.Context, req SelectEventRequest) (*SelectEventResult, error)
	Current(ctx context.Context, playerID, heroineID int) (*models.DungeonRow, error)
	EventByFloor(ctx context.Context, playerID, floor int) (*models.FloorEvents, error)
	Health(ctx context.Context) error
}

// Deps - зависимости оркестратора.
type Deps struct {
	Repo      repository.DungeonRepository
	Locker    lock.RunLocker
	Publisher messaging.DungeonPublisher
	Catalogs  *catalog.Catalogs
	Oracle    *strategy.StrategyOracle
	Composer  *event.EventComposer
	Placer    *balance.MonsterPlacer
	// NewRand возвращает источник случайности на одну операцию. По умолчанию - от текущего времени.
	NewRand func() *rand.Rand
}

type dungeonService struct {
	Deps
	logger *zap.Logger
}

// NewDungeonService создает оркестратор.
func NewDungeonService(deps Deps, logger *zap.Logger) DungeonService {
	if deps.NewRand == nil {
		deps.NewRand = func() *rand.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) }
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewMemoryLocker(0)
	}
	if deps.Publisher == nil {
		deps.Publisher = messaging.NewNopPublisher(logger)
	}
	return &dungeonService{Deps: deps, logger: logger.Named("DungeonService")}
}

// withRunLock выполняет fn под блокировкой набора участников.
func (s *dungeonService) withRunLock(ctx context.Context, playerIDs []int, fn func() error) error {
	key := lock.RunKey(playerIDs)
	unlock, err := s.Locker.Lock(ctx, key)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return fmt.Errorf("%w: %v", models.ErrStoreConflict, err)
		}
		return err
	}
	defer func() {
		// Контекст запроса мог быть отменен, блокировку снимаем в любом случае
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := unlock(releaseCtx); err != nil {
			s.logger.Warn("Failed to release run lock", zap.String("key", key), zap.Error(err))
		}
	}()
	return fn()
}

// maxRunResolveAttempts - сколько раз перечитывать забег, если он сменился, пока ждали блокировку.
const maxRunResolveAttempts = 3

// withResolvedRun находит строку забега, блокирует полный набор ее участников и
// перечитывает строку под блокировкой. Если строки нет, блокируется fallback, а fn
// получает nil. Ключ блокировки не зависит от того, каким подмножеством игроков
// пришел запрос.
func (s *dungeonService) withResolvedRun(ctx context.Context, fallback []int, resolve func() (*models.DungeonRow, error), fn func(row *models.DungeonRow) error) error {
	for attempt := 0; attempt < maxRunResolveAttempts; attempt++ {
		row, err := resolveRow(resolve)
		if err != nil {
			return err
		}
		key := lock.RunKey(runParticipants(row, fallback))
		stale := false
		err = s.withRunLock(ctx, runParticipants(row, fallback), func() error {
			fresh, err := resolveRow(resolve)
			if err != nil {
				return err
			}
			if lock.RunKey(runParticipants(fresh, fallback)) != key {
				stale = true
				return nil
			}
			return fn(fresh)
		})
		if err != nil || !stale {
			return err
		}
		s.logger.Debug("Run participants changed while waiting for lock", zap.String("key", key), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("%w: run of players %v kept changing", models.ErrStoreConflict, fallback)
}

func resolveRow(resolve func() (*models.DungeonRow, error)) (*models.DungeonRow, error) {
	row, err := resolve()
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return row, err
}

func runParticipants(row *models.DungeonRow, fallback []int) []int {
	if row == nil {
		return fallback
	}
	return row.ParticipantIDs()
}

func (s *dungeonService) Entrance(ctx context.Context, req EntranceRequest) (res *EntranceResult, err error) {
	defer func() { observeOperation("entrance", err) }()

	if err := req.RawMap.Validate(); err != nil {
		return nil, err
	}
	players := req.RawMap.PlayerIDs
	log := s.logger.With(zap.Ints("players", players))

	resolve := func() (*models.DungeonRow, error) { return s.Repo.UnfinishedFor(ctx, players) }
	err = s.withResolvedRun(ctx, players, resolve, func(existing *models.DungeonRow) error {
		if existing != nil {
			log.Info("Resuming unfinished dungeon", zap.Int64("dungeon_id", existing.ID), zap.Int("floor", existing.Floor))
			res = &EntranceResult{
				DungeonID:     existing.ID,
				FirstPlayerID: existing.ParticipantIDs()[0],
				Floor:         existing.Floor,
				Events:        eventsOf(existing.Event),
				Resumed:       true,
			}
			return nil
		}

		// Сначала события, затем одна запись: при сбое строка этажа не появляется
		used, err := s.usedCodes(ctx, players, req.UsedEvents)
		if err != nil {
			return err
		}
		composed, err := s.Composer.ComposeFloor(ctx, s.NewRand(), event.FloorRequest{
			Floor:     1,
			Map:       req.RawMap,
			Heroines:  req.HeroineData,
			UsedCodes: used,
		})
		if err != nil {
			return err
		}
		s.countEventFallbacks(composed.Fallbacks)

		balanced := req.RawMap.Clone()
		attachEvents(balanced, composed.Events)
		digest := &models.AgentDigest{Events: composed.Events.Events}
		row, err := s.Repo.InsertBalanced(ctx, 1, req.RawMap, balanced, composed.Events, digest)
		if err != nil {
			return err
		}

		log.Info("Dungeon entered", zap.Int64("dungeon_id", row.ID), zap.Int("events", len(composed.Events.Events)))
		res = &EntranceResult{
			DungeonID:     row.ID,
			FirstPlayerID: players[0],
			Floor:         1,
			Events:        composed.Events.Events,
		}
		s.publish(ctx, messaging.UpdateEntrance, row.ID, 1, players, "")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *dungeonService) Balance(ctx context.Context, req BalanceRequest) (res *BalanceResult, err error) {
	defer func() { observeOperation("balance", err) }()
	return s.balanceNextFloor(ctx, req)
}

func (s *dungeonService) Next(ctx context.Context, req NextRequest) (res *BalanceResult, err error) {
	defer func() { observeOperation("next", err) }()
	return s.balanceNextFloor(ctx, BalanceRequest{
		FirstPlayerID: req.FirstPlayerID,
		PlayerData:    req.PlayerData,
		RawMap:        req.RawMap,
		HeroineData:   req.HeroineData,
		UsedEvents:    req.UsedEvents,
	})
}

// balanceNextFloor: скоринг отряда, стратегия, расстановка монстров и события для этажа N+1.
// Этаж N+1 записывается один раз, после того как все шаги завершились.
func (s *dungeonService) balanceNextFloor(ctx context.Context, req BalanceRequest) (*BalanceResult, error) {
	started := time.Now()

	monsters, err := s.monsterCatalog(req.MonsterDB)
	if err != nil {
		return nil, err
	}

	first := []int{req.FirstPlayerID}
	resolve := func() (*models.DungeonRow, error) { return s.Repo.UnfinishedFor(ctx, first) }
	var res *BalanceResult
	err = s.withResolvedRun(ctx, first, resolve, func(current *models.DungeonRow) error {
		if current == nil {
			return fmt.Errorf("%w: players %v", models.ErrNoActiveRun, first)
		}
		participants := current.ParticipantIDs()
		party := req.PlayerData
		if len(party) == 0 {
			party = defaultParty(current.RawMap)
		}
		score, err := balance.PartyScore(party)
		if err != nil {
			return err
		}

		nextFloor := current.Floor + 1
		existing, layout, err := s.nextLayout(ctx, current, req.RawMap, nextFloor)
		if err != nil {
			return err
		}

		rng := s.NewRand()
		strat, usedFallback := s.Oracle.DeriveOrFallback(ctx, strategy.HeroSummary(party, score), nextFloor)
		if usedFallback {
			llmFallbacks.WithLabelValues(strategy.Component).Inc()
		}
		placement, err := s.Placer.Place(rng, balance.PlacementInput{
			RawMap:      layout,
			CombatScore: score,
			Strategy:    strat,
			HeroTags:    balance.PartyKeywords(party),
			Monsters:    monsters,
		})
		if err != nil {
			return err
		}

		used, err := s.usedCodes(ctx, participants, req.UsedEvents)
		if err != nil {
			return err
		}
		composed, err := s.Composer.ComposeFloor(ctx, rng, event.FloorRequest{
			Floor:     nextFloor,
			Map:       placement.BalancedMap,
			Heroines:  req.HeroineData,
			UsedCodes: used,
		})
		if err != nil {
			return err
		}
		s.countEventFallbacks(composed.Fallbacks)
		attachEvents(placement.BalancedMap, composed.Events)

		difficulty := placement.Log
		digest := &models.AgentDigest{Difficulty: &difficulty, Events: composed.Events.Events}
		var saved *models.DungeonRow
		if existing != nil {
			saved, err = s.Repo.UpdateBalanced(ctx, existing.ID, placement.BalancedMap, composed.Events, digest)
		} else {
			saved, err = s.Repo.InsertBalanced(ctx, nextFloor, layout, placement.BalancedMap, composed.Events, digest)
		}
		if err != nil {
			return err
		}

		if difficulty.TargetThreat > 0 {
			threatRatio.Observe(difficulty.ActualThreat / difficulty.TargetThreat)
		}
		s.logger.Info("Dungeon floor balanced",
			zap.Int64("dungeon_id", saved.ID),
			zap.Int("floor", nextFloor),
			zap.Ints("players", participants),
			zap.Float64("combat_score", score),
			zap.Float64("target_threat", difficulty.TargetThreat),
			zap.Float64("actual_threat", difficulty.ActualThreat),
			zap.String("reasoning", difficulty.Reasoning),
		)
		res = &BalanceResult{
			DungeonID:         saved.ID,
			Floor:             nextFloor,
			MonsterPlacements: placements(placement.BalancedMap),
			NextFloorEvent:    composed.Events,
			DifficultyLog:     difficulty,
			BalancedMap:       placement.BalancedMap,
			StrategyFallback:  usedFallback,
		}
		s.publish(ctx, messaging.UpdateBalanced, saved.ID, nextFloor, participants, saved.SummaryInfo)
		return nil
	})
	if err != nil {
		return nil, err
	}
	balanceDuration.Observe(time.Since(started).Seconds())
	return res, nil
}

// activeRow - текущая незавершенная строка набора участников.
func (s *dungeonService) activeRow(ctx context.Context, playerIDs []int) (*models.DungeonRow, error) {
	row, err := s.Repo.UnfinishedFor(ctx, playerIDs)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: players %v", models.ErrNoActiveRun, playerIDs)
		}
		return nil, err
	}
	return row, nil
}

// nextLayout возвращает уже существующую строку этажа N+1 (если есть) и планировку этого этажа.
// Ничего не записывает.
func (s *dungeonService) nextLayout(ctx context.Context, current *models.DungeonRow, rawMap *models.RawMap, floor int) (*models.DungeonRow, *models.RawMap, error) {
	participants := current.ParticipantIDs()
	existing, err := s.Repo.UnfinishedAtFloor(ctx, participants, floor)
	switch {
	case err == nil:
		if rawMap != nil {
			s.logger.Info("Next floor already exists, its raw map is kept", zap.Int64("dungeon_id", existing.ID), zap.Int("floor", floor))
		}
		if existing.RawMap == nil {
			return nil, nil, fmt.Errorf("%w: dungeon %d has no raw map", models.ErrInvalidMap, existing.ID)
		}
		return existing, existing.RawMap, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, nil, err
	}

	if rawMap == nil {
		if current.RawMap == nil {
			return nil, nil, fmt.Errorf("%w: dungeon %d has no raw map", models.ErrInvalidMap, current.ID)
		}
		return nil, current.RawMap.Layout(), nil
	}
	if !current.SameParticipants(rawMap.PlayerIDs) {
		return nil, nil, fmt.Errorf("%w: next floor players %v differ from run %v", models.ErrInvalidMap, rawMap.PlayerIDs, participants)
	}
	if err := rawMap.Validate(); err != nil {
		return nil, nil, err
	}
	return nil, rawMap, nil
}

func (s *dungeonService) monsterCatalog(override []models.MonsterRecord) (*catalog.MonsterCatalog, error) {
	if len(override) == 0 {
		return s.Catalogs.Monsters, nil
	}
	c, err := catalog.NewMonsterCatalog(override)
	if err != nil {
		return nil, fmt.Errorf("monster_db: %w", err)
	}
	return c, nil
}

// defaultParty - статы по умолчанию для каждой героини карты.
func defaultParty(m *models.RawMap) []models.HeroineStat {
	if m == nil || len(m.HeroineIDs) == 0 {
		return []models.HeroineStat{models.DefaultHeroineStat()}
	}
	party := make([]models.HeroineStat, 0, len(m.HeroineIDs))
	for _, id := range m.HeroineIDs {
		h := models.DefaultHeroineStat()
		h.HeroineID = id
		party = append(party, h)
	}
	return party
}

func (s *dungeonService) usedCodes(ctx context.Context, players []int, clientCodes []string) ([]string, error) {
	stored, err := s.Repo.UsedEventCodes(ctx, players)
	if err != nil {
		return nil, fmt.Errorf("failed to load used events: %w", err)
	}
	return unionCodes(clientCodes, stored), nil
}

func (s *dungeonService) countEventFallbacks(n int) {
	if n > 0 {
		llmFallbacks.WithLabelValues(event.Component).Add(float64(n))
	}
}

func (s *dungeonService) Clear(ctx context.Context, playerIDs []int) (res *ClearResult, err error) {
	defer func() { observeOperation("clear", err) }()
	if len(playerIDs) == 0 {
		return nil, fmt.Errorf("%w: player_ids is empty", models.ErrInvalidInput)
	}

	resolve := func() (*models.DungeonRow, error) { return s.Repo.UnfinishedOverlapping(ctx, playerIDs) }
	err = s.withResolvedRun(ctx, playerIDs, resolve, func(active *models.DungeonRow) error {
		if active == nil {
			return fmt.Errorf("%w: players %v", models.ErrNoActiveRun, playerIDs)
		}
		row, err := s.Repo.Finish(ctx, playerIDs)
		if err != nil {
			return err
		}
		participants := row.ParticipantIDs()
		s.logger.Info("Floor cleared", zap.Int64("dungeon_id", row.ID), zap.Int("floor", row.Floor), zap.Ints("players", participants))
		res = &ClearResult{DungeonID: row.ID, FloorFinished: row.Floor, PlayerIDs: participants}
		s.publish(ctx, messaging.UpdateFloorCleared, row.ID, row.Floor, participants, row.SummaryInfo)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *dungeonService) SelectEvent(ctx context.Context, req SelectEventRequest) (res *SelectEventResult, err error) {
	defer func() { observeOperation("select_event", err) }()

	row, err := s.activeRow(ctx, []int{req.FirstPlayerID})
	if err != nil {
		return nil, err
	}
	if !row.HasPlayer(req.SelectingPlayerID) {
		return nil, fmt.Errorf("%w: player %d is not in the run", models.ErrInvalidInput, req.SelectingPlayerID)
	}
	ev, ok := row.Event.ByRoom(req.RoomID)
	if !ok {
		return nil, fmt.Errorf("%w: room %d on floor %d", models.ErrNoEventAtRoom, req.RoomID, row.Floor)
	}

	resolution := event.Resolve(ev, req.Choice, s.Catalogs.Rewards)
	s.logger.Info("Event choice resolved",
		zap.Int64("dungeon_id", row.ID),
		zap.Int("room_id", req.RoomID),
		zap.Int("player_id", req.SelectingPlayerID),
		zap.String("event_code", ev.EventCode),
		zap.Bool("matched", resolution.Matched),
	)
	return &SelectEventResult{
		Reward:    resolution.Reward,
		Penalty:   resolution.Penalty,
		Matched:   resolution.Matched,
		EventCode: ev.EventCode,
		Narrative: ev.NarrativeFor(req.SelectingPlayerID),
	}, nil
}

func (s *dungeonService) Current(ctx context.Context, playerID, heroineID int) (*models.DungeonRow, error) {
	return s.Repo.CurrentFor(ctx, playerID, heroineID)
}

func (s *dungeonService) EventByFloor(ctx context.Context, playerID, floor int) (*models.FloorEvents, error) {
	if floor < 1 {
		return nil, fmt.Errorf("%w: floor must be >= 1", models.ErrInvalidInput)
	}
	return s.Repo.EventByFloor(ctx, playerID, floor)
}

func (s *dungeonService) Health(ctx context.Context) error {
	return s.Repo.Ping(ctx)
}

// publish отправляет уведомление; ошибки только логируются.
func (s *dungeonService) publish(ctx context.Context, kind messaging.UpdateKind, dungeonID int64, floor int, players []int, summary string) {
	update := messaging.DungeonUpdate{
		MessageID: uuid.NewString(),
		Kind:      kind,
		DungeonID: dungeonID,
		Floor:     floor,
		PlayerIDs: players,
		Summary:   summary,
		Timestamp: time.Now().UTC(),
	}
	if err := s.Publisher.PublishDungeonUpdate(ctx, update); err != nil {
		s.logger.Warn("Dungeon update was not published", zap.String("kind", string(kind)), zap.Int64("dungeon_id", dungeonID), zap.Error(err))
	}
}

func eventsOf(f *models.FloorEvents) []models.Event {
	if f == nil {
		return []models.Event{}
	}
	return f.Events
}
