package services_test

import (
	"context"
	"math/big"
	"testing"

	"task-market/internal/cache"
	"task-market/internal/models"
	"task-market/internal/repositories"
	"task-market/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingMarket records how often the read paths reach the inner service.
type countingMarket struct {
	services.MarketService
	getTask   int
	listTasks int
	accounts  int

	// afterGetTask runs once, between the database read and the cache fill.
	afterGetTask func()
}

func (c *countingMarket) GetTask(ctx context.Context, id models.TaskID) (*models.TaskView, error) {
	c.getTask++
	view, err := c.MarketService.GetTask(ctx, id)
	if hook := c.afterGetTask; hook != nil {
		c.afterGetTask = nil
		hook()
	}
	return view, err
}

func (c *countingMarket) ListTasks(ctx context.Context, page, pageSize int) ([]models.Task, uint64, error) {
	c.listTasks++
	return c.MarketService.ListTasks(ctx, page, pageSize)
}

func (c *countingMarket) Accounts(ctx context.Context) ([]models.AccountID, error) {
	c.accounts++
	return c.MarketService.Accounts(ctx)
}

func setupCachedMarket(t *testing.T) (*services.CachedMarketService, *countingMarket) {
	t.Helper()
	ctx := context.Background()

	store := repositories.NewMarketStore(openTestDB(t))
	require.NoError(t, store.Migrate(ctx))

	inner := services.NewMarketService(store, services.MarketOptions{BidStakeRatio: big.NewRat(1, 10)})
	for _, who := range []models.AccountID{alice, bob} {
		_, err := inner.Fund(ctx, who, models.NewU128(10_000))
		require.NoError(t, err)
	}

	counting := &countingMarket{MarketService: inner}
	c := cache.NewMultiLevelCache(nil, 16)
	t.Cleanup(func() { c.Close() })
	return services.NewCachedMarketService(counting, c, nil), counting
}

func TestCachedMarket_GetTaskServedFromCache(t *testing.T) {
	ctx := context.Background()
	svc, inner := setupCachedMarket(t)

	_, err := svc.CreateTask(ctx, alice, id(1), amount(1000), []byte("x"))
	require.NoError(t, err)

	first, err := svc.GetTask(ctx, id(1))
	require.NoError(t, err)
	second, err := svc.GetTask(ctx, id(1))
	require.NoError(t, err)

	assert.Equal(t, 1, inner.getTask)
	assert.Equal(t, first.Owner, second.Owner)
	assert.Equal(t, first.Status, second.Status)
}

func TestCachedMarket_TransitionInvalidatesTask(t *testing.T) {
	ctx := context.Background()
	svc, inner := setupCachedMarket(t)

	_, err := svc.CreateTask(ctx, alice, id(1), amount(1000), nil)
	require.NoError(t, err)
	_, err = svc.GetTask(ctx, id(1))
	require.NoError(t, err)

	_, err = svc.BidTask(ctx, bob, id(1), amount(10))
	require.NoError(t, err)

	view, err := svc.GetTask(ctx, id(1))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.getTask)
	assert.Equal(t, []models.AccountID{bob}, view.Bidders)

	_, err = svc.RevokeTask(ctx, alice, id(1))
	require.NoError(t, err)

	_, err = svc.GetTask(ctx, id(1))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCachedMarket_RejectedTransitionKeepsCache(t *testing.T) {
	ctx := context.Background()
	svc, inner := setupCachedMarket(t)

	_, err := svc.CreateTask(ctx, alice, id(1), amount(1000), nil)
	require.NoError(t, err)
	_, err = svc.GetTask(ctx, id(1))
	require.NoError(t, err)

	_, err = svc.BidTask(ctx, alice, id(1), amount(10))
	require.ErrorIs(t, err, models.ErrSelfBid)

	_, err = svc.GetTask(ctx, id(1))
	require.NoError(t, err)
	assert.Equal(t, 1, inner.getTask)
}

func TestCachedMarket_CreateInvalidatesPagesAndAccounts(t *testing.T) {
	ctx := context.Background()
	svc, inner := setupCachedMarket(t)

	_, err := svc.CreateTask(ctx, alice, id(1), amount(100), nil)
	require.NoError(t, err)

	tasks, total, err := svc.ListTasks(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, uint64(1), total)

	accounts, err := svc.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.AccountID{alice}, accounts)

	_, _, err = svc.ListTasks(ctx, 1, 10)
	require.NoError(t, err)
	_, err = svc.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.listTasks)
	assert.Equal(t, 1, inner.accounts)

	_, err = svc.CreateTask(ctx, bob, id(2), amount(100), nil)
	require.NoError(t, err)

	tasks, total, err = svc.ListTasks(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.Equal(t, uint64(2), total)

	accounts, err = svc.Accounts(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.AccountID{alice, bob}, accounts)
	assert.Equal(t, 2, inner.listTasks)
	assert.Equal(t, 2, inner.accounts)
}

func TestCachedMarket_Warm(t *testing.T) {
	ctx := context.Background()
	svc, inner := setupCachedMarket(t)

	for n := uint64(1); n <= 3; n++ {
		_, err := svc.CreateTask(ctx, alice, id(n), amount(100), nil)
		require.NoError(t, err)
	}

	require.NoError(t, svc.Warm(ctx, 20))
	assert.Equal(t, 3, inner.getTask)

	_, err := svc.GetTask(ctx, id(2))
	require.NoError(t, err)
	assert.Equal(t, 3, inner.getTask)

	stats := svc.CacheStats()
	assert.NotEmpty(t, stats)
}

func TestCachedMarket_ReadOverlappingTransitionIsNotCached(t *testing.T) {
	ctx := context.Background()
	svc, inner := setupCachedMarket(t)

	_, err := svc.CreateTask(ctx, alice, id(1), amount(1000), nil)
	require.NoError(t, err)

	inner.afterGetTask = func() {
		_, err := svc.BidTask(ctx, bob, id(1), amount(10))
		require.NoError(t, err)
	}

	stale, err := svc.GetTask(ctx, id(1))
	require.NoError(t, err)
	assert.Empty(t, stale.Bidders, "read before the bid committed")

	view, err := svc.GetTask(ctx, id(1))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.getTask, "the overlapping read was not cached")
	assert.Equal(t, []models.AccountID{bob}, view.Bidders)

	_, err = svc.GetTask(ctx, id(1))
	require.NoError(t, err)
	assert.Equal(t, 2, inner.getTask)
}
