package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"task-market/internal/cache"
	"task-market/internal/models"
)

const (
	taskViewTTL = 30 * time.Second
	taskPageTTL = 10 * time.Second
	accountsTTL = 30 * time.Second
)

// CachedMarketService serves the hot read paths from the multi-level cache
// and drops affected entries whenever a transition commits. Transitions and
// the remaining queries go straight to the wrapped service.
type CachedMarketService struct {
	MarketService
	cache  cache.Cache
	logger *slog.Logger

	// generation moves on every invalidation. A read that overlapped one is
	// returned but not cached.
	generation atomic.Uint64
}

func NewCachedMarketService(inner MarketService, c cache.Cache, logger *slog.Logger) *CachedMarketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedMarketService{MarketService: inner, cache: c, logger: logger}
}

func taskKey(id models.TaskID) string {
	return "task:" + id.String()
}

func pageKey(page, pageSize int) string {
	return fmt.Sprintf("tasks:page:%d:%d", page, pageSize)
}

type taskPage struct {
	Tasks []models.Task `json:"tasks"`
	Total uint64        `json:"total"`
}

func (s *CachedMarketService) GetTask(ctx context.Context, id models.TaskID) (*models.TaskView, error) {
	var view models.TaskView
	if err := s.cache.Get(ctx, taskKey(id), &view); err == nil {
		return &view, nil
	}

	gen := s.generation.Load()
	fresh, err := s.MarketService.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, gen, taskKey(id), fresh, taskViewTTL)
	return fresh, nil
}

func (s *CachedMarketService) ListTasks(ctx context.Context, page, pageSize int) ([]models.Task, uint64, error) {
	page, pageSize = NormalizePage(page, pageSize)
	key := pageKey(page, pageSize)

	var cached taskPage
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached.Tasks, cached.Total, nil
	}

	gen := s.generation.Load()
	tasks, total, err := s.MarketService.ListTasks(ctx, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	s.store(ctx, gen, key, taskPage{Tasks: tasks, Total: total}, taskPageTTL)
	return tasks, total, nil
}

func (s *CachedMarketService) Accounts(ctx context.Context) ([]models.AccountID, error) {
	var accounts []models.AccountID
	if err := s.cache.Get(ctx, "accounts", &accounts); err == nil {
		return accounts, nil
	}

	gen := s.generation.Load()
	accounts, err := s.MarketService.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	s.store(ctx, gen, "accounts", accounts, accountsTTL)
	return accounts, nil
}

func (s *CachedMarketService) CreateTask(ctx context.Context, caller models.AccountID, id models.TaskID, stake models.Balance, detail []byte) (*models.Event, error) {
	return s.invalidateAfter(s.MarketService.CreateTask(ctx, caller, id, stake, detail))
}

func (s *CachedMarketService) UpdateTaskStatus(ctx context.Context, caller models.AccountID, id models.TaskID, status uint8) (*models.Event, error) {
	return s.invalidateAfter(s.MarketService.UpdateTaskStatus(ctx, caller, id, status))
}

func (s *CachedMarketService) BidTask(ctx context.Context, caller models.AccountID, id models.TaskID, stake models.Balance) (*models.Event, error) {
	return s.invalidateAfter(s.MarketService.BidTask(ctx, caller, id, stake))
}

func (s *CachedMarketService) DelegateTask(ctx context.Context, caller, bidder models.AccountID, id models.TaskID) (*models.Event, error) {
	return s.invalidateAfter(s.MarketService.DelegateTask(ctx, caller, bidder, id))
}

func (s *CachedMarketService) RevokeTask(ctx context.Context, caller models.AccountID, id models.TaskID) (*models.Event, error) {
	return s.invalidateAfter(s.MarketService.RevokeTask(ctx, caller, id))
}

func (s *CachedMarketService) invalidateAfter(event *models.Event, err error) (*models.Event, error) {
	if err != nil {
		return nil, err
	}
	s.Invalidate(context.Background(), *event)
	return event, nil
}

// Invalidate drops every cached entry a committed event can have changed.
// It is also called by the event consumer so entries written before a
// transition on another instance do not outlive it in Redis.
func (s *CachedMarketService) Invalidate(ctx context.Context, event models.Event) {
	s.generation.Add(1)

	if err := s.cache.Delete(ctx, taskKey(event.TaskID)); err != nil {
		s.logger.WarnContext(ctx, "cache delete failed", slog.String("key", taskKey(event.TaskID)), slog.Any("error", err))
	}

	if event.Kind == models.EventTaskCreated || event.Kind == models.EventTaskRevoked {
		if err := s.cache.DeletePattern(ctx, "tasks:*"); err != nil {
			s.logger.WarnContext(ctx, "cache pattern delete failed", slog.Any("error", err))
		}
	}
	if event.Kind == models.EventTaskCreated {
		if err := s.cache.Delete(ctx, "accounts"); err != nil {
			s.logger.WarnContext(ctx, "cache delete failed", slog.String("key", "accounts"), slog.Any("error", err))
		}
	}
}

// Warm loads the first page of tasks and their views so the first requests
// after a restart do not all reach the database.
func (s *CachedMarketService) Warm(ctx context.Context, pageSize int) error {
	tasks, _, err := s.ListTasks(ctx, 1, pageSize)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if _, err := s.GetTask(ctx, task.ID); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "cache warmed", slog.Int("tasks", len(tasks)))
	return nil
}

func (s *CachedMarketService) CacheStats() map[string]any {
	return s.cache.Stats()
}

func (s *CachedMarketService) store(ctx context.Context, gen uint64, key string, value any, ttl time.Duration) {
	if s.generation.Load() != gen {
		s.logger.DebugContext(ctx, "cache fill skipped after concurrent invalidation", slog.String("key", key))
		return
	}
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.logger.DebugContext(ctx, "cache set failed", slog.String("key", key), slog.Any("error", err))
	}
}
