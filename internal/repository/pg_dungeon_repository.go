package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"dungeon-server/internal/database"
	"dungeon-server/internal/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	dungeonFields = `id, floor, raw_map, balanced_map, is_finishing, summary_info,
        player1, player2, player3, player4, heroine1, heroine2, heroine3, heroine4, event`

	anyPlayerIn = `(player1 = ANY($1::text[]) OR player2 = ANY($1::text[]) OR player3 = ANY($1::text[]) OR player4 = ANY($1::text[]))`

	insertDungeonQuery = `
        INSERT INTO dungeon
            (floor, raw_map, balanced_map, is_finishing, summary_info,
             player1, player2, player3, player4, heroine1, heroine2, heroine3, heroine4, event)
        VALUES ($1, $2, $3, FALSE, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING ` + dungeonFields
	getDungeonByIDQuery = `SELECT ` + dungeonFields + ` FROM dungeon WHERE id = $1`
	// Кандидаты с пересечением по слотам; точная проверка участников выполняется в Go.
	listUnfinishedForPlayersQuery = `
        SELECT ` + dungeonFields + `
        FROM dungeon
        WHERE is_finishing = FALSE AND ` + anyPlayerIn + `
        ORDER BY floor ASC, id ASC`
	lockUnfinishedForPlayersQuery = listUnfinishedForPlayersQuery + ` FOR UPDATE`
	markFinishedQuery             = `UPDATE dungeon SET is_finishing = TRUE, updated_at = NOW() WHERE id = $1`
	lockFloorQuery                = `SELECT floor FROM dungeon WHERE id = $1 FOR UPDATE`
	updateBalancedQuery           = `
        UPDATE dungeon SET
            balanced_map = $2,
            event = $3,
            summary_info = $4,
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + dungeonFields
	currentForQuery = `
        SELECT ` + dungeonFields + `
        FROM dungeon
        WHERE is_finishing = FALSE AND (
            (player1 = $1 AND heroine1 = $2) OR (player2 = $1 AND heroine2 = $2) OR
            (player3 = $1 AND heroine3 = $2) OR (player4 = $1 AND heroine4 = $2))
        ORDER BY floor ASC, id ASC
        LIMIT 1`
	eventByFloorQuery = `
        SELECT event
        FROM dungeon
        WHERE floor = $2 AND event IS NOT NULL AND $1 IN (player1, player2, player3, player4)
        ORDER BY id DESC
        LIMIT 1`
	// Строки, включающие весь набор участников, отбираются в Go.
	listEventsForPlayersQuery = `
        SELECT ` + dungeonFields + `
        FROM dungeon
        WHERE event IS NOT NULL AND ` + anyPlayerIn + `
        ORDER BY floor ASC, id ASC`
)

// dungeonRecord - строка таблицы dungeon в виде, удобном для scany.
type dungeonRecord struct {
	ID          int64   `db:"id"`
	Floor       int     `db:"floor"`
	RawMap      []byte  `db:"raw_map"`
	BalancedMap []byte  `db:"balanced_map"`
	IsFinishing bool    `db:"is_finishing"`
	SummaryInfo string  `db:"summary_info"`
	Player1     *string `db:"player1"`
	Player2     *string `db:"player2"`
	Player3     *string `db:"player3"`
	Player4     *string `db:"player4"`
	Heroine1    *string `db:"heroine1"`
	Heroine2    *string `db:"heroine2"`
	Heroine3    *string `db:"heroine3"`
	Heroine4    *string `db:"heroine4"`
	Event       []byte  `db:"event"`
}

func (rec *dungeonRecord) toModel() (*models.DungeonRow, error) {
	row := &models.DungeonRow{
		ID:          rec.ID,
		Floor:       rec.Floor,
		IsFinishing: rec.IsFinishing,
		SummaryInfo: rec.SummaryInfo,
		Players:     [models.MaxParticipants]*string{rec.Player1, rec.Player2, rec.Player3, rec.Player4},
		Heroines:    [models.MaxParticipants]*string{rec.Heroine1, rec.Heroine2, rec.Heroine3, rec.Heroine4},
	}
	if err := unmarshalNullable(rec.RawMap, &row.RawMap); err != nil {
		return nil, fmt.Errorf("dungeon %d raw_map: %w", rec.ID, err)
	}
	if err := unmarshalNullable(rec.BalancedMap, &row.BalancedMap); err != nil {
		return nil, fmt.Errorf("dungeon %d balanced_map: %w", rec.ID, err)
	}
	if err := unmarshalNullable(rec.Event, &row.Event); err != nil {
		return nil, fmt.Errorf("dungeon %d event: %w", rec.ID, err)
	}
	return row, nil
}

func unmarshalNullable[T any](data []byte, dst **T) error {
	if len(data) == 0 || string(data) == "null" {
		*dst = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

// marshalNullable кодирует значение в JSON; nil-указатель сохраняется как SQL NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

var _ DungeonRepository = (*pgDungeonRepository)(nil)

type pgDungeonRepository struct {
	pool   *pgxpool.Pool
	tx     *database.TransactionHelper
	logger *zap.Logger
}

// NewPgDungeonRepository создает репозиторий поверх пула pgx.
func NewPgDungeonRepository(pool *pgxpool.Pool, logger *zap.Logger) DungeonRepository {
	return &pgDungeonRepository{
		pool:   pool,
		tx:     database.NewTransactionHelper(pool, logger),
		logger: logger.Named("PgDungeonRepo"),
	}
}

func (r *pgDungeonRepository) Insert(ctx context.Context, floor int, rawMap *models.RawMap) (*models.DungeonRow, error) {
	row, err := newRow(floor, rawMap)
	if err != nil {
		return nil, err
	}
	return r.insertRow(ctx, row)
}

func (r *pgDungeonRepository) InsertBalanced(ctx context.Context, floor int, rawMap, balanced *models.RawMap, events *models.FloorEvents, digest *models.AgentDigest) (*models.DungeonRow, error) {
	row, err := newRow(floor, rawMap)
	if err != nil {
		return nil, err
	}
	row.BalancedMap = balanced
	row.Event = events
	row.SummaryInfo = BuildSummary(floor, balanced, events, digest)
	return r.insertRow(ctx, row)
}

// insertRow записывает строку одним INSERT.
func (r *pgDungeonRepository) insertRow(ctx context.Context, row *models.DungeonRow) (*models.DungeonRow, error) {
	rawJSON, err := json.Marshal(row.RawMap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode raw_map: %w", err)
	}
	balancedJSON, err := marshalNullable(row.BalancedMap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode balanced_map: %w", err)
	}
	eventJSON, err := marshalNullable(row.Event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	var rec dungeonRecord
	err = pgxscan.Get(ctx, r.pool, &rec, insertDungeonQuery,
		row.Floor, rawJSON, balancedJSON, row.SummaryInfo,
		row.Players[0], row.Players[1], row.Players[2], row.Players[3],
		row.Heroines[0], row.Heroines[1], row.Heroines[2], row.Heroines[3],
		eventJSON,
	)
	if err != nil {
		r.logger.Error("Failed to insert dungeon floor", zap.Int("floor", row.Floor), zap.Error(err))
		return nil, fmt.Errorf("failed to insert dungeon floor %d: %w", row.Floor, err)
	}
	r.logger.Info("Dungeon floor inserted", zap.Int64("id", rec.ID), zap.Int("floor", row.Floor), zap.Ints("players", row.RawMap.PlayerIDs))
	return rec.toModel()
}

func (r *pgDungeonRepository) GetByID(ctx context.Context, id int64) (*models.DungeonRow, error) {
	var rec dungeonRecord
	if err := pgxscan.Get(ctx, r.pool, &rec, getDungeonByIDQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get dungeon %d: %w", id, err)
	}
	return rec.toModel()
}

// selectRows выполняет запрос и возвращает строки в порядке выдачи.
func (r *pgDungeonRepository) selectRows(ctx context.Context, db database.DBTX, query string, args ...any) ([]*models.DungeonRow, error) {
	var recs []*dungeonRecord
	if err := pgxscan.Select(ctx, db, &recs, query, args...); err != nil {
		return nil, err
	}
	rows := make([]*models.DungeonRow, 0, len(recs))
	for _, rec := range recs {
		row, err := rec.toModel()
		if err != nil {
			r.logger.Error("Skipping corrupt dungeon row", zap.Int64("id", rec.ID), zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r *pgDungeonRepository) UnfinishedFor(ctx context.Context, playerIDs []int) (*models.DungeonRow, error) {
	return r.firstUnfinished(ctx, playerIDs, func(row *models.DungeonRow) bool { return true })
}

func (r *pgDungeonRepository) UnfinishedAtFloor(ctx context.Context, playerIDs []int, floor int) (*models.DungeonRow, error) {
	return r.firstUnfinished(ctx, playerIDs, func(row *models.DungeonRow) bool { return row.Floor == floor })
}

func (r *pgDungeonRepository) firstUnfinished(ctx context.Context, playerIDs []int, accept func(*models.DungeonRow) bool) (*models.DungeonRow, error) {
	if len(playerIDs) == 0 {
		return nil, models.ErrNotFound
	}
	rows, err := r.selectRows(ctx, r.pool, listUnfinishedForPlayersQuery, playerStrings(playerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished dungeons: %w", err)
	}
	for _, row := range rows {
		if row.IsSupersetOf(playerIDs) && accept(row) {
			return row, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *pgDungeonRepository) UnfinishedOverlapping(ctx context.Context, playerIDs []int) (*models.DungeonRow, error) {
	if len(playerIDs) == 0 {
		return nil, models.ErrNotFound
	}
	rows, err := r.selectRows(ctx, r.pool, listUnfinishedForPlayersQuery, playerStrings(playerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished dungeons: %w", err)
	}
	for _, row := range rows {
		if row.Intersects(playerIDs) {
			return row, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *pgDungeonRepository) Finish(ctx context.Context, playerIDs []int) (*models.DungeonRow, error) {
	if len(playerIDs) == 0 {
		return nil, models.ErrNoActiveRun
	}
	var finished *models.DungeonRow
	err := r.tx.WithTransaction(ctx, func(ctx context.Context, tx database.DBTX) error {
		rows, err := r.selectRows(ctx, tx, lockUnfinishedForPlayersQuery, playerStrings(playerIDs))
		if err != nil {
			return fmt.Errorf("failed to lock unfinished dungeons: %w", err)
		}
		for _, row := range rows {
			if !row.Intersects(playerIDs) {
				continue
			}
			if _, err := tx.Exec(ctx, markFinishedQuery, row.ID); err != nil {
				return fmt.Errorf("failed to finish dungeon %d: %w", row.ID, err)
			}
			row.IsFinishing = true
			finished = row
			return nil
		}
		return models.ErrNoActiveRun
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("Dungeon floor finished", zap.Int64("id", finished.ID), zap.Int("floor", finished.Floor))
	return finished, nil
}

func (r *pgDungeonRepository) UpdateBalanced(ctx context.Context, id int64, balanced *models.RawMap, events *models.FloorEvents, digest *models.AgentDigest) (*models.DungeonRow, error) {
	balancedJSON, err := marshalNullable(balanced)
	if err != nil {
		return nil, fmt.Errorf("failed to encode balanced_map: %w", err)
	}
	eventJSON, err := marshalNullable(events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	var updated *models.DungeonRow
	err = r.tx.WithTransaction(ctx, func(ctx context.Context, tx database.DBTX) error {
		var floor int
		if err := tx.QueryRow(ctx, lockFloorQuery, id).Scan(&floor); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrNotFound
			}
			return fmt.Errorf("failed to lock dungeon %d: %w", id, err)
		}
		summary := BuildSummary(floor, balanced, events, digest)

		var rec dungeonRecord
		if err := pgxscan.Get(ctx, tx, &rec, updateBalancedQuery, id, balancedJSON, eventJSON, summary); err != nil {
			return fmt.Errorf("failed to update dungeon %d: %w", id, err)
		}
		row, err := rec.toModel()
		if err != nil {
			return err
		}
		updated = row
		return nil
	})
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			r.logger.Error("Failed to persist balanced map", zap.Int64("id", id), zap.Error(err))
		}
		return nil, err
	}
	return updated, nil
}

func (r *pgDungeonRepository) CurrentFor(ctx context.Context, playerID, heroineID int) (*models.DungeonRow, error) {
	var rec dungeonRecord
	err := pgxscan.Get(ctx, r.pool, &rec, currentForQuery, strconv.Itoa(playerID), strconv.Itoa(heroineID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get current dungeon: %w", err)
	}
	return rec.toModel()
}

func (r *pgDungeonRepository) EventByFloor(ctx context.Context, playerID, floor int) (*models.FloorEvents, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, eventByFloorQuery, strconv.Itoa(playerID), floor).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event of floor %d: %w", floor, err)
	}
	var events *models.FloorEvents
	if err := unmarshalNullable(data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode event of floor %d: %w", floor, err)
	}
	if events == nil {
		return nil, models.ErrNotFound
	}
	return events, nil
}

func (r *pgDungeonRepository) UsedEventCodes(ctx context.Context, playerIDs []int) ([]string, error) {
	if len(playerIDs) == 0 {
		return []string{}, nil
	}
	rows, err := r.selectRows(ctx, r.pool, listEventsForPlayersQuery, playerStrings(playerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list used events: %w", err)
	}
	same := rows[:0]
	for _, row := range rows {
		if row.IsSupersetOf(playerIDs) {
			same = append(same, row)
		}
	}
	return collectCodes(same), nil
}

func (r *pgDungeonRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
