package services

import (
	"context"

	"task-market/internal/models"
	"task-market/internal/repositories"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NormalizePage clamps a requested page to the values ListTasks serves:
// pages start at 1 and hold between 1 and 100 tasks.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func (s *MarketServiceImpl) ListTasks(ctx context.Context, page, pageSize int) ([]models.Task, uint64, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var (
		tasks []models.Task
		total uint64
	)
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		var err error
		if total, err = tx.TaskCount(); err != nil {
			return err
		}
		tasks, err = tx.ListTasks((page-1)*pageSize, pageSize)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (s *MarketServiceImpl) GetTask(ctx context.Context, id models.TaskID) (*models.TaskView, error) {
	var view *models.TaskView
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		task, err := tx.GetTask(id)
		if err != nil {
			return err
		}
		status, _, err := tx.GetStatus(id)
		if err != nil {
			return err
		}
		stake, err := tx.GetCreatorStake(id)
		if err != nil {
			return err
		}
		bidders, err := tx.Bidders(id)
		if err != nil {
			return err
		}
		receiver, ok, err := tx.Receiver(id)
		if err != nil {
			return err
		}

		view = &models.TaskView{
			Task:         *task,
			Status:       status,
			CreatorStake: stake,
			Bidders:      bidders,
		}
		if ok {
			view.Receiver = &receiver
		}
		if view.Bidders == nil {
			view.Bidders = []models.AccountID{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *MarketServiceImpl) TaskCount(ctx context.Context) (uint64, error) {
	var count uint64
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		var err error
		count, err = tx.TaskCount()
		return err
	})
	return count, err
}

func (s *MarketServiceImpl) GetStatus(ctx context.Context, id models.TaskID) (models.TaskStatus, error) {
	var status models.TaskStatus
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		st, ok, err := tx.GetStatus(id)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrNotFound
		}
		status = st
		return nil
	})
	return status, err
}

func (s *MarketServiceImpl) GetCreatorStake(ctx context.Context, id models.TaskID) (models.Balance, error) {
	var stake models.Balance
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		exists, err := tx.TaskExists(id)
		if err != nil {
			return err
		}
		if !exists {
			return models.ErrNotFound
		}
		stake, err = tx.GetCreatorStake(id)
		return err
	})
	return stake, err
}

func (s *MarketServiceImpl) GetBidStake(ctx context.Context, id models.TaskID, bidder models.AccountID) (models.Balance, error) {
	var stake models.Balance
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		amount, ok, err := tx.GetBidStake(id, bidder)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrNotFound.With("bid not found")
		}
		stake = amount
		return nil
	})
	return stake, err
}

func (s *MarketServiceImpl) Bidders(ctx context.Context, id models.TaskID) ([]models.AccountID, error) {
	var bidders []models.AccountID
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		var err error
		bidders, err = tx.Bidders(id)
		return err
	})
	return bidders, err
}

func (s *MarketServiceImpl) Receiver(ctx context.Context, id models.TaskID) (models.AccountID, error) {
	var receiver models.AccountID
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		r, ok, err := tx.Receiver(id)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrNotFound.With("task has no receiver")
		}
		receiver = r
		return nil
	})
	return receiver, err
}

func (s *MarketServiceImpl) AccountTasks(ctx context.Context, account models.AccountID, kind models.TaskSetKind) ([]models.TaskID, error) {
	var ids []models.TaskID
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		var err error
		ids, err = tx.AccountTasks(account, kind)
		return err
	})
	return ids, err
}

func (s *MarketServiceImpl) Accounts(ctx context.Context) ([]models.AccountID, error) {
	var accounts []models.AccountID
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		var err error
		accounts, err = tx.Accounts()
		return err
	})
	return accounts, err
}

func (s *MarketServiceImpl) Balance(ctx context.Context, account models.AccountID) (models.AccountBalance, error) {
	var balance models.AccountBalance
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		var err error
		balance, err = tx.BalanceOf(account)
		return err
	})
	return balance, err
}

func (s *MarketServiceImpl) Events(ctx context.Context, since uint64, limit int) ([]models.Event, error) {
	if limit < 1 || limit > maxPageSize {
		limit = maxPageSize
	}
	var events []models.Event
	err := s.store.View(ctx, func(tx *repositories.Tx) error {
		var err error
		events, err = tx.Events(since, limit)
		return err
	})
	return events, err
}

// Fund credits free balance to an account. It is an operator action and
// does not emit a market event.
func (s *MarketServiceImpl) Fund(ctx context.Context, account models.AccountID, amount models.Balance) (models.AccountBalance, error) {
	var balance models.AccountBalance
	err := s.store.Transact(ctx, func(tx *repositories.Tx) error {
		if err := tx.Deposit(account, amount); err != nil {
			return err
		}
		var err error
		balance, err = tx.BalanceOf(account)
		return err
	})
	return balance, err
}
