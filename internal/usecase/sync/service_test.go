package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feed-curator/internal/domain"
	"feed-curator/internal/usecase/budget"
	"feed-curator/internal/usecase/ingest"
)

type stubSource struct {
	pages   [][]domain.RawItem
	cursors []string
	failAt  int // номер страницы с ошибкой, -1 если без ошибок
	fetches int
}

func (s *stubSource) FetchPage(_ context.Context, cursor *string, _ time.Time) ([]domain.RawItem, *string, error) {
	idx := 0
	if cursor != nil {
		for i, c := range s.cursors {
			if c == *cursor {
				idx = i + 1
			}
		}
	}
	if s.failAt >= 0 && idx == s.failAt {
		return nil, nil, errors.New("источник недоступен")
	}
	s.fetches++
	if idx >= len(s.pages) {
		return nil, nil, nil
	}
	var next *string
	if idx < len(s.pages)-1 {
		c := s.cursors[idx]
		next = &c
	}
	return s.pages[idx], next, nil
}

type stubStore struct {
	mu          stdsync.Mutex
	items       map[string]domain.FeedItem
	checkpoints map[string]domain.SyncCheckpoint
	upsertErr   error
	saveCPErr   error
}

func newStubStore() *stubStore {
	return &stubStore{
		items:       make(map[string]domain.FeedItem),
		checkpoints: make(map[string]domain.SyncCheckpoint),
	}
}

func (s *stubStore) UpsertItems(_ context.Context, items []domain.FeedItem) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	added := 0
	for _, item := range items {
		if _, ok := s.items[item.ID]; !ok {
			added++
		}
		s.items[item.ID] = item
	}
	return added, nil
}

func (s *stubStore) ListByCategory(context.Context, domain.Category, time.Time) ([]domain.FeedItem, error) {
	return nil, nil
}
func (s *stubStore) SaveScores(context.Context, []domain.ItemScore) error { return nil }
func (s *stubStore) LoadScores(context.Context, []string) (map[string]domain.ItemScore, error) {
	return nil, nil
}
func (s *stubStore) ListMissingFullText(context.Context, int) ([]domain.FeedItem, error) {
	return nil, nil
}
func (s *stubStore) SaveFullText(context.Context, string, string) error { return nil }

func (s *stubStore) GetCheckpoint(_ context.Context, jobName string) (domain.SyncCheckpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[jobName]
	return cp, ok, nil
}

func (s *stubStore) SaveCheckpoint(_ context.Context, cp domain.SyncCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveCPErr != nil {
		return s.saveCPErr
	}
	s.checkpoints[cp.JobName] = cp
	return nil
}

type stubLocker struct {
	mu    stdsync.Mutex
	locks map[string]bool
}

func newStubLocker() *stubLocker {
	return &stubLocker{locks: make(map[string]bool)}
}

func (l *stubLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] {
		return false, nil
	}
	l.locks[key] = true
	return true, nil
}

func (l *stubLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}

func rawPage(prefix string, n int) []domain.RawItem {
	page := make([]domain.RawItem, 0, n)
	for i := 0; i < n; i++ {
		page = append(page, domain.RawItem{
			NativeID:    fmt.Sprintf("%s-%d", prefix, i),
			Origin:      "Example Feed",
			Title:       fmt.Sprintf("Запись %s %d", prefix, i),
			PublishedAt: time.Now().UTC().Add(-time.Hour),
		})
	}
	return page
}

func newTestService(src domain.Source, store *stubStore, tracker domain.BudgetTracker) *Service {
	return NewService(
		src, store, store, tracker,
		ingest.NewNormalizer(zerolog.Nop()),
		ingest.NewCategorizer(ingest.DefaultFolderMap(), domain.CategoryTechArticles),
		newStubLocker(), time.Minute,
		domain.SyncOptions{LookbackDays: 2, MaxItems: 0},
		zerolog.Nop(),
	)
}

func TestRunSyncCompletesThreePages(t *testing.T) {
	src := &stubSource{
		pages:   [][]domain.RawItem{rawPage("p1", 1000), rawPage("p2", 1000), rawPage("p3", 200)},
		cursors: []string{"c2", "c3"},
		failAt:  -1,
	}
	store := newStubStore()
	tracker := budget.NewTracker(95)
	service := newTestService(src, store, tracker)

	result, err := service.RunSync(context.Background(), "daily", domain.SyncOptions{LookbackDays: 2})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Paused {
		t.Fatalf("запуск должен завершиться, а не приостановиться")
	}
	if result.CallsUsed != 3 {
		t.Fatalf("ожидали 3 вызова, получили %d", result.CallsUsed)
	}
	if result.ItemsAdded != 2200 {
		t.Fatalf("ожидали 2200 записей после дедупликации, получили %d", result.ItemsAdded)
	}
	cp := store.checkpoints["daily"]
	if cp.Status != domain.SyncCompleted {
		t.Fatalf("ожидали статус completed, получили %s", cp.Status)
	}
	if cp.Cursor != nil {
		t.Fatalf("у завершённой задачи курсор должен быть пуст")
	}
}

func TestRunSyncPausesOnBudgetAndResumes(t *testing.T) {
	pages := [][]domain.RawItem{rawPage("p1", 10), rawPage("p2", 10), rawPage("p3", 5)}
	src := &stubSource{pages: pages, cursors: []string{"c2", "c3"}, failAt: -1}
	store := newStubStore()

	// Квоты хватает только на две страницы.
	service := newTestService(src, store, budget.NewTracker(2))
	result, err := service.RunSync(context.Background(), "daily", domain.SyncOptions{LookbackDays: 2})
	if err != nil {
		t.Fatalf("исчерпание квоты не должно быть ошибкой: %v", err)
	}
	if !result.Paused {
		t.Fatalf("запуск должен приостановиться")
	}
	if result.ItemsAdded != 20 {
		t.Fatalf("ожидали 20 записей за две страницы, получили %d", result.ItemsAdded)
	}
	cp := store.checkpoints["daily"]
	if cp.Status != domain.SyncPaused {
		t.Fatalf("ожидали статус paused, получили %s", cp.Status)
	}
	if cp.Cursor == nil || *cp.Cursor != "c3" {
		t.Fatalf("курсор должен указывать на третью страницу")
	}

	// Повторный запуск со свежей квотой дочитывает только третью страницу.
	fetchesBefore := src.fetches
	service = newTestService(src, store, budget.NewTracker(95))
	result, err = service.RunSync(context.Background(), "daily", domain.SyncOptions{LookbackDays: 2})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Paused {
		t.Fatalf("возобновлённый запуск должен завершиться")
	}
	if src.fetches-fetchesBefore != 1 {
		t.Fatalf("ожидали одну дочитанную страницу, получили %d", src.fetches-fetchesBefore)
	}
	if result.ItemsAdded != 5 {
		t.Fatalf("ожидали 5 новых записей, получили %d", result.ItemsAdded)
	}
	cp = store.checkpoints["daily"]
	if cp.Status != domain.SyncCompleted {
		t.Fatalf("ожидали completed после возобновления, получили %s", cp.Status)
	}
	if cp.ItemsProcessed != 25 {
		t.Fatalf("итоговый счётчик должен совпасть с непрерывным прогоном: %d", cp.ItemsProcessed)
	}
}

func TestRunSyncIdempotentUpsert(t *testing.T) {
	pages := [][]domain.RawItem{rawPage("p1", 50)}
	store := newStubStore()

	for run := 0; run < 2; run++ {
		src := &stubSource{pages: pages, failAt: -1}
		service := newTestService(src, store, budget.NewTracker(95))
		if _, err := service.RunSync(context.Background(), "daily", domain.SyncOptions{LookbackDays: 2}); err != nil {
			t.Fatalf("прогон %d: %v", run, err)
		}
	}
	if len(store.items) != 50 {
		t.Fatalf("повторный прогон не должен плодить дубликаты: %d записей", len(store.items))
	}
}

func TestRunSyncPausesOnFetchError(t *testing.T) {
	src := &stubSource{
		pages:   [][]domain.RawItem{rawPage("p1", 10), rawPage("p2", 10)},
		cursors: []string{"c2"},
		failAt:  1,
	}
	store := newStubStore()
	service := newTestService(src, store, budget.NewTracker(95))

	result, err := service.RunSync(context.Background(), "daily", domain.SyncOptions{LookbackDays: 2})
	if err != nil {
		t.Fatalf("ошибка выгрузки должна приостанавливать, а не падать: %v", err)
	}
	if !result.Paused {
		t.Fatalf("запуск должен быть приостановлен")
	}
	cp := store.checkpoints["daily"]
	if cp.Status != domain.SyncPaused {
		t.Fatalf("ожидали paused, получили %s", cp.Status)
	}
	if cp.Cursor == nil || *cp.Cursor != "c2" {
		t.Fatalf("курсор должен остаться на последней успешной странице")
	}
	if cp.LastError == nil {
		t.Fatalf("текст ошибки должен сохраниться в чекпоинте")
	}
	if cp.ItemsProcessed != 10 {
		t.Fatalf("счётчик записей должен соответствовать последней успешной странице: %d", cp.ItemsProcessed)
	}
	// Неудачный вызов тоже потрачен из квоты и должен быть учтён.
	if cp.CallsUsed != 2 {
		t.Fatalf("счётчик вызовов должен включать неудачный запрос: %d", cp.CallsUsed)
	}
}

func TestRunSyncPersistenceErrorIsFatal(t *testing.T) {
	src := &stubSource{pages: [][]domain.RawItem{rawPage("p1", 5)}, failAt: -1}
	store := newStubStore()
	store.upsertErr = errors.New("диск закончился")
	service := newTestService(src, store, budget.NewTracker(95))

	result, err := service.RunSync(context.Background(), "daily", domain.SyncOptions{LookbackDays: 2})
	if err == nil {
		t.Fatalf("ошибка персистентности должна пробрасываться")
	}
	if result.Success {
		t.Fatalf("результат не должен быть успешным")
	}
	cp := store.checkpoints["daily"]
	if cp.Status != domain.SyncPaused {
		t.Fatalf("чекпоинт должен остаться пригодным для повтора, статус %s", cp.Status)
	}
}

func TestRunSyncRejectsConcurrentRun(t *testing.T) {
	src := &stubSource{pages: [][]domain.RawItem{rawPage("p1", 5)}, failAt: -1}
	store := newStubStore()
	locker := newStubLocker()

	service := NewService(
		src, store, store, budget.NewTracker(95),
		ingest.NewNormalizer(zerolog.Nop()),
		ingest.NewCategorizer(nil, domain.CategoryTechArticles),
		locker, time.Minute,
		domain.SyncOptions{LookbackDays: 2},
		zerolog.Nop(),
	)

	if ok, _ := locker.TryLock(context.Background(), "sync_lock:daily", time.Minute); !ok {
		t.Fatalf("не удалось смоделировать выполняющийся запуск")
	}
	_, err := service.RunSync(context.Background(), "daily", domain.SyncOptions{})
	if !errors.Is(err, ErrSyncAlreadyRunning) {
		t.Fatalf("ожидали ErrSyncAlreadyRunning, получили %v", err)
	}
}

func TestRunSyncItemCapPauses(t *testing.T) {
	src := &stubSource{
		pages:   [][]domain.RawItem{rawPage("p1", 10), rawPage("p2", 10)},
		cursors: []string{"c2"},
		failAt:  -1,
	}
	store := newStubStore()
	service := newTestService(src, store, budget.NewTracker(95))

	result, err := service.RunSync(context.Background(), "daily", domain.SyncOptions{LookbackDays: 2, MaxItems: 10})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !result.Paused {
		t.Fatalf("достижение лимита записей должно приостанавливать запуск")
	}
	if len(store.items) != 10 {
		t.Fatalf("ожидали 10 сохранённых записей, получили %d", len(store.items))
	}
	cp := store.checkpoints["daily"]
	if cp.Cursor == nil || *cp.Cursor != "c2" {
		t.Fatalf("курсор должен указывать на следующую страницу для возобновления")
	}
}

func TestRunSyncItemCapKeepsWholePage(t *testing.T) {
	// Лимит срабатывает посреди страницы: страница сохраняется целиком,
	// небольшое превышение лимита допустимо, потеря хвоста — нет.
	src := &stubSource{pages: [][]domain.RawItem{rawPage("p1", 20)}, failAt: -1}
	store := newStubStore()
	service := newTestService(src, store, budget.NewTracker(95))

	result, err := service.RunSync(context.Background(), "daily", domain.SyncOptions{LookbackDays: 2, MaxItems: 10})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(store.items) != 20 {
		t.Fatalf("хвост страницы потерян: сохранено %d из 20", len(store.items))
	}
	if result.ItemsAdded != 20 {
		t.Fatalf("ожидали 20 добавленных записей, получили %d", result.ItemsAdded)
	}
	if result.Paused {
		t.Fatalf("последняя страница окна сохранена целиком, запуск должен завершиться")
	}
	if cp := store.checkpoints["daily"]; cp.Status != domain.SyncCompleted {
		t.Fatalf("ожидали completed, получили %s", cp.Status)
	}
}

func TestRunSyncFiltersOldItemsClientSide(t *testing.T) {
	old := domain.RawItem{
		NativeID:    "old",
		Origin:      "Example Feed",
		Title:       "Старая запись",
		PublishedAt: time.Now().UTC().AddDate(0, 0, -30),
	}
	fresh := domain.RawItem{
		NativeID:    "fresh",
		Origin:      "Example Feed",
		Title:       "Свежая запись",
		PublishedAt: time.Now().UTC().Add(-time.Hour),
	}
	src := &stubSource{pages: [][]domain.RawItem{{old, fresh}}, failAt: -1}
	store := newStubStore()
	service := newTestService(src, store, budget.NewTracker(95))

	result, err := service.RunSync(context.Background(), "daily", domain.SyncOptions{LookbackDays: 2})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.ItemsAdded != 1 {
		t.Fatalf("источник игнорирует фильтр, клиентская отсечка должна сработать: %d", result.ItemsAdded)
	}
}

func TestGetSyncStatusUnknownJob(t *testing.T) {
	store := newStubStore()
	service := newTestService(&stubSource{failAt: -1}, store, budget.NewTracker(1))

	cp, err := service.GetSyncStatus(context.Background(), "nope")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cp.Status != domain.SyncIdle {
		t.Fatalf("неизвестная задача должна быть idle, получили %s", cp.Status)
	}
}
