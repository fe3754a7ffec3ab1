package models

import "errors"

// Ошибки пайплайна подземелья
var (
	// Ввод
	ErrInvalidInput = errors.New("invalid input data")
	ErrInvalidMap   = errors.New("invalid dungeon map")

	// Каталоги
	ErrUnknownMonster = errors.New("unknown monster")
	ErrUnknownReward  = errors.New("unknown reward")

	// LLM
	ErrLLMFailure = errors.New("llm failure")

	// Хранилище и жизненный цикл забега
	ErrNotFound      = errors.New("resource not found")
	ErrNoActiveRun   = errors.New("no active dungeon run")
	ErrNoEventAtRoom = errors.New("no event at room")
	ErrStoreConflict = errors.New("concurrent dungeon update")
)
