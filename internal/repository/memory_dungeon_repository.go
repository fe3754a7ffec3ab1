package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"dungeon-server/internal/models"

	"go.uber.org/zap"
)

var _ DungeonRepository = (*memoryDungeonRepository)(nil)

// memoryDungeonRepository - реализация в памяти процесса для локального запуска и тестов.
type memoryDungeonRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]*models.DungeonRow
	logger *zap.Logger
}

// NewMemoryDungeonRepository создает пустое хранилище в памяти.
func NewMemoryDungeonRepository(logger *zap.Logger) DungeonRepository {
	return &memoryDungeonRepository{
		rows:   make(map[int64]*models.DungeonRow),
		logger: logger.Named("MemoryDungeonRepo"),
	}
}

func (r *memoryDungeonRepository) Insert(ctx context.Context, floor int, rawMap *models.RawMap) (*models.DungeonRow, error) {
	row, err := newRow(floor, rawMap)
	if err != nil {
		return nil, err
	}
	return r.store(row), nil
}

func (r *memoryDungeonRepository) InsertBalanced(ctx context.Context, floor int, rawMap, balanced *models.RawMap, events *models.FloorEvents, digest *models.AgentDigest) (*models.DungeonRow, error) {
	row, err := newRow(floor, rawMap)
	if err != nil {
		return nil, err
	}
	row.BalancedMap = balanced.Clone()
	row.Event = cloneEvents(events)
	row.SummaryInfo = BuildSummary(floor, balanced, events, digest)
	return r.store(row), nil
}

func (r *memoryDungeonRepository) store(row *models.DungeonRow) *models.DungeonRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	row.ID = r.nextID
	r.rows[row.ID] = row
	r.logger.Debug("Dungeon floor inserted", zap.Int64("id", row.ID), zap.Int("floor", row.Floor))
	return cloneRow(row)
}

func (r *memoryDungeonRepository) GetByID(ctx context.Context, id int64) (*models.DungeonRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneRow(row), nil
}

// ordered возвращает строки по возрастанию (floor, id). Вызывать под блокировкой.
func (r *memoryDungeonRepository) ordered(filter func(*models.DungeonRow) bool) []*models.DungeonRow {
	var out []*models.DungeonRow
	for _, row := range r.rows {
		if filter(row) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Floor != out[j].Floor {
			return out[i].Floor < out[j].Floor
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *memoryDungeonRepository) UnfinishedFor(ctx context.Context, playerIDs []int) (*models.DungeonRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := r.ordered(func(row *models.DungeonRow) bool {
		return !row.IsFinishing && row.IsSupersetOf(playerIDs)
	})
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return cloneRow(rows[0]), nil
}

func (r *memoryDungeonRepository) UnfinishedAtFloor(ctx context.Context, playerIDs []int, floor int) (*models.DungeonRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := r.ordered(func(row *models.DungeonRow) bool {
		return !row.IsFinishing && row.Floor == floor && row.IsSupersetOf(playerIDs)
	})
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return cloneRow(rows[0]), nil
}

func (r *memoryDungeonRepository) UnfinishedOverlapping(ctx context.Context, playerIDs []int) (*models.DungeonRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := r.ordered(func(row *models.DungeonRow) bool {
		return !row.IsFinishing && row.Intersects(playerIDs)
	})
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return cloneRow(rows[0]), nil
}

func (r *memoryDungeonRepository) Finish(ctx context.Context, playerIDs []int) (*models.DungeonRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.ordered(func(row *models.DungeonRow) bool {
		return !row.IsFinishing && row.Intersects(playerIDs)
	})
	if len(rows) == 0 {
		return nil, models.ErrNoActiveRun
	}
	rows[0].IsFinishing = true
	return cloneRow(rows[0]), nil
}

func (r *memoryDungeonRepository) UpdateBalanced(ctx context.Context, id int64, balanced *models.RawMap, events *models.FloorEvents, digest *models.AgentDigest) (*models.DungeonRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	row.BalancedMap = balanced.Clone()
	row.Event = cloneEvents(events)
	row.SummaryInfo = BuildSummary(row.Floor, balanced, events, digest)
	return cloneRow(row), nil
}

func (r *memoryDungeonRepository) CurrentFor(ctx context.Context, playerID, heroineID int) (*models.DungeonRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := r.ordered(func(row *models.DungeonRow) bool {
		return !row.IsFinishing && row.HasSlotPair(playerID, heroineID)
	})
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return cloneRow(rows[0]), nil
}

func (r *memoryDungeonRepository) EventByFloor(ctx context.Context, playerID, floor int) (*models.FloorEvents, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := r.ordered(func(row *models.DungeonRow) bool {
		return row.Floor == floor && row.HasPlayer(playerID) && row.Event != nil
	})
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	// Самая свежая строка этажа
	return cloneEvents(rows[len(rows)-1].Event), nil
}

func (r *memoryDungeonRepository) UsedEventCodes(ctx context.Context, playerIDs []int) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := r.ordered(func(row *models.DungeonRow) bool {
		return row.Event != nil && row.IsSupersetOf(playerIDs)
	})
	return collectCodes(rows), nil
}

func (r *memoryDungeonRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// newRow готовит строку к вставке.
func newRow(floor int, rawMap *models.RawMap) (*models.DungeonRow, error) {
	if floor < 1 {
		return nil, models.ErrInvalidInput
	}
	if err := rawMap.Validate(); err != nil {
		return nil, err
	}
	row := &models.DungeonRow{Floor: floor, RawMap: rawMap.Clone()}
	if floor == 1 {
		row.BalancedMap = rawMap.Clone()
	}
	row.Players, row.Heroines = models.SlotsFromMap(rawMap)
	return row, nil
}

func collectCodes(rows []*models.DungeonRow) []string {
	seen := make(map[string]struct{})
	codes := []string{}
	for _, row := range rows {
		for _, code := range row.Event.Codes() {
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			codes = append(codes, code)
		}
	}
	return codes
}

func cloneEvents(events *models.FloorEvents) *models.FloorEvents {
	if events == nil {
		return nil
	}
	out := &models.FloorEvents{Floor: events.Floor, Events: make([]models.Event, len(events.Events))}
	for i, ev := range events.Events {
		out.Events[i] = ev.Clone()
	}
	return out
}

func cloneRow(row *models.DungeonRow) *models.DungeonRow {
	out := *row
	out.RawMap = row.RawMap.Clone()
	out.BalancedMap = row.BalancedMap.Clone()
	out.Event = cloneEvents(row.Event)
	for i := range out.Players {
		out.Players[i] = cloneStr(row.Players[i])
		out.Heroines[i] = cloneStr(row.Heroines[i])
	}
	return &out
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// playerStrings переводит id игроков в формат слотов.
func playerStrings(ids []int) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.Itoa(id))
	}
	return out
}
