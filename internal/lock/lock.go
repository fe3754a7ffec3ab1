package lock

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotAcquired - блокировку не удалось получить за отведенное время.
var ErrNotAcquired = errors.New("run lock not acquired")

// Unlock освобождает блокировку.
type Unlock func(ctx context.Context) error

// RunLocker сериализует операции над одним набором участников.
type RunLocker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// RunKey строит ключ блокировки по набору участников (порядок не важен).
func RunKey(playerIDs []int) string {
	ids := append([]int{}, playerIDs...)
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return "dungeon:run:" + strings.Join(parts, ",")
}

// memoryLocker - блокировки в пределах одного процесса.
type memoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	wait  time.Duration
}

// NewMemoryLocker создает блокировщик в памяти. wait <= 0 - ждать до отмены контекста.
func NewMemoryLocker(wait time.Duration) RunLocker {
	return &memoryLocker{slots: make(map[string]chan struct{}), wait: wait}
}

func (l *memoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *memoryLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	ch := l.slot(key)
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ErrNotAcquired
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}
