package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"feed-curator/internal/domain"
	"feed-curator/internal/infra/metrics"
	"feed-curator/internal/usecase/ingest"
)

// ErrSyncAlreadyRunning возвращается при попытке запустить вторую
// синхронизацию с тем же именем задачи.
var ErrSyncAlreadyRunning = errors.New("синхронизация с этим именем уже выполняется")

const (
	pauseReasonBudget    = "budget"
	pauseReasonFetch     = "fetch"
	pauseReasonCancelled = "cancelled"
	pauseReasonItemCap   = "item_cap"
)

// Service управляет циклом синхронизации: выгрузка страниц под квотой,
// нормализация, категоризация, сохранение и чекпоинт после каждой страницы.
type Service struct {
	source      domain.Source
	items       domain.ItemRepo
	checkpoints domain.CheckpointRepo
	budget      domain.BudgetTracker
	normalizer  *ingest.Normalizer
	categorizer *ingest.Categorizer
	locker      domain.Locker
	lockTTL     time.Duration
	defaults    domain.SyncOptions
	log         zerolog.Logger
}

// NewService создаёт оркестратор синхронизации.
func NewService(
	source domain.Source,
	items domain.ItemRepo,
	checkpoints domain.CheckpointRepo,
	budget domain.BudgetTracker,
	normalizer *ingest.Normalizer,
	categorizer *ingest.Categorizer,
	locker domain.Locker,
	lockTTL time.Duration,
	defaults domain.SyncOptions,
	logger zerolog.Logger,
) *Service {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Service{
		source:      source,
		items:       items,
		checkpoints: checkpoints,
		budget:      budget,
		normalizer:  normalizer,
		categorizer: categorizer,
		locker:      locker,
		lockTTL:     lockTTL,
		defaults:    defaults,
		log:         logger,
	}
}

// runState накапливает прогресс одного запуска.
type runState struct {
	cp         domain.SyncCheckpoint
	added      int
	calls      int
	processed  int
	categories map[domain.Category]struct{}
}

func (r *runState) result(paused bool, errText string) domain.SyncResult {
	cats := make([]domain.Category, 0, len(r.categories))
	for cat := range r.categories {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return domain.SyncResult{
		Success:             errText == "",
		ItemsAdded:          r.added,
		CallsUsed:           r.calls,
		CategoriesProcessed: cats,
		Paused:              paused,
		Error:               errText,
	}
}

// RunSync выполняет один запуск синхронизации именованной задачи.
// Приостановленная задача возобновляется с сохранённого курсора.
// Исчерпание квоты — штатная приостановка, а не ошибка.
func (s *Service) RunSync(ctx context.Context, jobName string, opts domain.SyncOptions) (domain.SyncResult, error) {
	if jobName == "" {
		return domain.SyncResult{}, errors.New("имя задачи пустое")
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = s.defaults.LookbackDays
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = s.defaults.MaxItems
	}

	lockKey := "sync_lock:" + jobName
	acquired, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("захват блокировки: %w", err)
	}
	if !acquired {
		return domain.SyncResult{Error: ErrSyncAlreadyRunning.Error()}, ErrSyncAlreadyRunning
	}
	defer func() {
		if err := s.locker.Unlock(context.Background(), lockKey); err != nil {
			s.log.Error().Err(err).Str("job", jobName).Msg("sync: не удалось снять блокировку")
		}
	}()

	state, err := s.prepare(ctx, jobName)
	if err != nil {
		return domain.SyncResult{}, err
	}

	return s.runLoop(ctx, jobName, opts, state)
}

// prepare загружает чекпоинт и переводит задачу в running.
func (s *Service) prepare(ctx context.Context, jobName string) (*runState, error) {
	cp, exists, err := s.checkpoints.GetCheckpoint(ctx, jobName)
	if err != nil {
		return nil, fmt.Errorf("чтение чекпоинта: %w", err)
	}
	if exists && cp.Status == domain.SyncRunning {
		return nil, ErrSyncAlreadyRunning
	}

	if exists && cp.Status == domain.SyncPaused && cp.Cursor != nil {
		s.log.Info().Str("job", jobName).Int("items", cp.ItemsProcessed).Msg("sync: возобновление с сохранённого курсора")
	} else {
		cp = domain.SyncCheckpoint{JobName: jobName}
	}

	cp.Status = domain.SyncRunning
	cp.LastError = nil
	if err := s.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return nil, fmt.Errorf("запись чекпоинта: %w", err)
	}
	return &runState{cp: cp, categories: make(map[domain.Category]struct{})}, nil
}

func (s *Service) runLoop(ctx context.Context, jobName string, opts domain.SyncOptions, state *runState) (domain.SyncResult, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -opts.LookbackDays)

	for {
		if ctx.Err() != nil {
			return s.pause(jobName, state, pauseReasonCancelled, "запуск отменён")
		}
		if opts.MaxItems > 0 && state.processed >= opts.MaxItems {
			return s.pause(jobName, state, pauseReasonItemCap, "")
		}

		if s.budget.TryReserve(1) == 0 {
			return s.pause(jobName, state, pauseReasonBudget, "")
		}

		rawItems, nextCursor, err := s.source.FetchPage(ctx, state.cp.Cursor, cutoff)
		s.budget.RecordUsed(1)
		state.calls++
		state.cp.CallsUsed++
		if err != nil {
			// Курсор и счётчик записей остаются на последней успешной
			// странице; вызов при этом потрачен и учитывается.
			s.log.Error().Err(err).Str("job", jobName).Msg("sync: ошибка выгрузки страницы")
			return s.pause(jobName, state, pauseReasonFetch, err.Error())
		}
		metrics.SyncPagesFetched.WithLabelValues(jobName).Inc()

		// Страница сохраняется целиком даже вблизи лимита записей:
		// небольшое превышение безопасно, потеря хвоста страницы — нет.
		page := s.categorizer.Categorize(s.normalizer.Normalize(rawItems))
		page = filterByCutoff(page, cutoff)

		added, err := s.items.UpsertItems(ctx, page)
		if err != nil {
			// Ошибка персистентности фатальна: целостность данных важнее
			// продвижения, чекпоинт остаётся в последнем целом состоянии.
			return s.fail(jobName, state, fmt.Errorf("сохранение записей: %w", err))
		}
		state.added += added
		metrics.SyncItemsAdded.WithLabelValues(jobName).Add(float64(added))
		for _, item := range page {
			state.categories[item.Category] = struct{}{}
		}

		state.processed += len(page)
		state.cp.Cursor = nextCursor
		state.cp.ItemsProcessed += len(page)
		if err := s.checkpoints.SaveCheckpoint(ctx, state.cp); err != nil {
			return s.fail(jobName, state, fmt.Errorf("обновление чекпоинта: %w", err))
		}

		if nextCursor == nil {
			return s.complete(ctx, jobName, state)
		}
	}
}

// pause переводит задачу в paused, сохраняя курсор и счётчики.
func (s *Service) pause(jobName string, state *runState, reason, errText string) (domain.SyncResult, error) {
	metrics.SyncRunsPaused.WithLabelValues(jobName, reason).Inc()
	state.cp.Status = domain.SyncPaused
	if errText != "" {
		state.cp.LastError = &errText
	}
	if err := s.checkpoints.SaveCheckpoint(context.Background(), state.cp); err != nil {
		s.log.Error().Err(err).Str("job", jobName).Msg("sync: не удалось сохранить paused-чекпоинт")
		return state.result(true, err.Error()), fmt.Errorf("запись чекпоинта: %w", err)
	}
	s.log.Info().
		Str("job", jobName).
		Str("reason", reason).
		Int("items_added", state.added).
		Int("calls_used", state.calls).
		Msg("sync: запуск приостановлен, повторный вызов продолжит с курсора")
	return state.result(true, ""), nil
}

// fail сохраняет последнее целое состояние со статусом paused и пробрасывает ошибку.
func (s *Service) fail(jobName string, state *runState, cause error) (domain.SyncResult, error) {
	errText := cause.Error()
	state.cp.Status = domain.SyncPaused
	state.cp.LastError = &errText
	if err := s.checkpoints.SaveCheckpoint(context.Background(), state.cp); err != nil {
		s.log.Error().Err(err).Str("job", jobName).Msg("sync: не удалось сохранить чекпоинт после ошибки")
	}
	return state.result(false, errText), cause
}

func (s *Service) complete(ctx context.Context, jobName string, state *runState) (domain.SyncResult, error) {
	state.cp.Status = domain.SyncCompleted
	state.cp.Cursor = nil
	if err := s.checkpoints.SaveCheckpoint(ctx, state.cp); err != nil {
		return s.fail(jobName, state, fmt.Errorf("завершение чекпоинта: %w", err))
	}
	s.log.Info().
		Str("job", jobName).
		Int("items_added", state.added).
		Int("calls_used", state.calls).
		Msg("sync: запуск завершён")
	return state.result(false, ""), nil
}

// GetSyncStatus возвращает текущий чекпоинт задачи.
// Для неизвестной задачи возвращается пустой чекпоинт со статусом idle.
func (s *Service) GetSyncStatus(ctx context.Context, jobName string) (domain.SyncCheckpoint, error) {
	cp, exists, err := s.checkpoints.GetCheckpoint(ctx, jobName)
	if err != nil {
		return domain.SyncCheckpoint{}, fmt.Errorf("чтение чекпоинта: %w", err)
	}
	if !exists {
		return domain.SyncCheckpoint{JobName: jobName, Status: domain.SyncIdle}, nil
	}
	return cp, nil
}

// filterByCutoff отбрасывает записи старше клиентской границы окна.
// Защита от источника, игнорирующего серверный фильтр newerThan.
func filterByCutoff(items []domain.FeedItem, cutoff time.Time) []domain.FeedItem {
	out := items[:0]
	for _, item := range items {
		if item.PublishedAt.Before(cutoff) {
			continue
		}
		out = append(out, item)
	}
	return out
}
