package repository

import (
	"context"

	"dungeon-server/internal/models"
)

// DungeonRepository - хранилище этажей забега (таблица dungeon).
// Все методы, ищущие строку, возвращают models.ErrNotFound, если строки нет.
type DungeonRepository interface {
	// Insert создает этаж. Для floor 1 balanced_map = raw_map, для остальных - null.
	Insert(ctx context.Context, floor int, rawMap *models.RawMap) (*models.DungeonRow, error)
	// InsertBalanced создает этаж сразу со сбалансированной картой, событиями и summary_info
	// одной записью. Используется операциями, которые фиксируют результат один раз.
	InsertBalanced(ctx context.Context, floor int, rawMap, balanced *models.RawMap, events *models.FloorEvents, digest *models.AgentDigest) (*models.DungeonRow, error)
	// GetByID возвращает строку по id.
	GetByID(ctx context.Context, id int64) (*models.DungeonRow, error)
	// UnfinishedFor - первая незавершенная строка (по возрастанию этажа), участники которой включают playerIDs.
	UnfinishedFor(ctx context.Context, playerIDs []int) (*models.DungeonRow, error)
	// UnfinishedAtFloor - незавершенная строка этого набора участников на заданном этаже.
	UnfinishedAtFloor(ctx context.Context, playerIDs []int, floor int) (*models.DungeonRow, error)
	// UnfinishedOverlapping - первая незавершенная строка (по возрастанию этажа), пересекающаяся с playerIDs.
	UnfinishedOverlapping(ctx context.Context, playerIDs []int) (*models.DungeonRow, error)
	// Finish помечает первую незавершенную строку, пересекающуюся с playerIDs, как завершенную.
	// Если такой строки нет, возвращает models.ErrNoActiveRun.
	Finish(ctx context.Context, playerIDs []int) (*models.DungeonRow, error)
	// UpdateBalanced сохраняет сбалансированную карту, события и summary_info.
	UpdateBalanced(ctx context.Context, id int64, balanced *models.RawMap, events *models.FloorEvents, digest *models.AgentDigest) (*models.DungeonRow, error)
	// CurrentFor - первая незавершенная строка, где в одном слоте стоят игрок и героиня.
	CurrentFor(ctx context.Context, playerID, heroineID int) (*models.DungeonRow, error)
	// EventByFloor возвращает события этажа игрока.
	EventByFloor(ctx context.Context, playerID, floor int) (*models.FloorEvents, error)
	// UsedEventCodes - коды событий строк, участники которых включают все playerIDs.
	UsedEventCodes(ctx context.Context, playerIDs []int) ([]string, error)
	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}
