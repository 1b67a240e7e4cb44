package budget

import (
	"sync"
	"time"

	"feed-curator/internal/domain"
	"feed-curator/internal/infra/metrics"
)

// Tracker ограничивает количество внешних вызовов в сутки.
// Период определяется календарной датой UTC, смена периода
// обнаруживается лениво при первом обращении нового дня.
type Tracker struct {
	mu      sync.Mutex
	ceiling int
	used    int
	day     string
	now     func() time.Time
}

// NewTracker создаёт трекер квоты с заданным потолком.
func NewTracker(ceiling int) *Tracker {
	return &Tracker{ceiling: ceiling, now: time.Now}
}

// NewTrackerWithClock создаёт трекер с внешними часами для тестов.
func NewTrackerWithClock(ceiling int, now func() time.Time) *Tracker {
	return &Tracker{ceiling: ceiling, now: now}
}

var _ domain.BudgetTracker = (*Tracker)(nil)

func (t *Tracker) rollover() {
	day := t.now().UTC().Format("2006-01-02")
	if day != t.day {
		t.day = day
		t.used = 0
		metrics.BudgetCallsUsed.Set(0)
	}
}

// TryReserve возвращает, сколько из n слотов доступно, не превышая потолок.
// Ноль при исчерпанной квоте — штатный ответ, а не ошибка.
func (t *Tracker) TryReserve(n int) int {
	if n <= 0 {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	remaining := t.ceiling - t.used
	if remaining <= 0 {
		return 0
	}
	if n > remaining {
		return remaining
	}
	return n
}

// RecordUsed фиксирует фактически использованные слоты.
func (t *Tracker) RecordUsed(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	t.used += n
	metrics.BudgetCallsUsed.Set(float64(t.used))
}

// Snapshot возвращает использование и потолок текущего периода.
func (t *Tracker) Snapshot() (used, ceiling int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()
	return t.used, t.ceiling
}
