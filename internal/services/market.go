package services

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"task-market/internal/models"
	"task-market/internal/monitoring"
	"task-market/internal/repositories"
)

// MarketService exposes the marketplace transitions and queries. Callers are
// already authenticated; the service only checks what they may do.
type MarketService interface {
	CreateTask(ctx context.Context, caller models.AccountID, id models.TaskID, stake models.Balance, detail []byte) (*models.Event, error)
	UpdateTaskStatus(ctx context.Context, caller models.AccountID, id models.TaskID, status uint8) (*models.Event, error)
	BidTask(ctx context.Context, caller models.AccountID, id models.TaskID, stake models.Balance) (*models.Event, error)
	DelegateTask(ctx context.Context, caller, bidder models.AccountID, id models.TaskID) (*models.Event, error)
	RevokeTask(ctx context.Context, caller models.AccountID, id models.TaskID) (*models.Event, error)

	ListTasks(ctx context.Context, page, pageSize int) ([]models.Task, uint64, error)
	GetTask(ctx context.Context, id models.TaskID) (*models.TaskView, error)
	TaskCount(ctx context.Context) (uint64, error)
	GetStatus(ctx context.Context, id models.TaskID) (models.TaskStatus, error)
	GetCreatorStake(ctx context.Context, id models.TaskID) (models.Balance, error)
	GetBidStake(ctx context.Context, id models.TaskID, bidder models.AccountID) (models.Balance, error)
	Bidders(ctx context.Context, id models.TaskID) ([]models.AccountID, error)
	Receiver(ctx context.Context, id models.TaskID) (models.AccountID, error)
	AccountTasks(ctx context.Context, account models.AccountID, kind models.TaskSetKind) ([]models.TaskID, error)
	Accounts(ctx context.Context) ([]models.AccountID, error)
	Balance(ctx context.Context, account models.AccountID) (models.AccountBalance, error)
	Events(ctx context.Context, since uint64, limit int) ([]models.Event, error)
}

// EventPublisher forwards committed notifications outside the store.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

type MarketOptions struct {
	// BidStakeRatio bounds bids: a bid must be strictly below
	// creator stake * BidStakeRatio.
	BidStakeRatio  *big.Rat
	MaxDetailBytes int
	Publisher      EventPublisher
	Logger         *slog.Logger
}

// ParseBidStakeRatio parses a decimal or fractional ratio such as "0.1" or
// "1/10". The ratio must lie strictly between 0 and 1.
func ParseBidStakeRatio(s string) (*big.Rat, error) {
	ratio, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid bid stake ratio %q", s)
	}
	if ratio.Sign() <= 0 || ratio.Cmp(big.NewRat(1, 1)) >= 0 {
		return nil, fmt.Errorf("bid stake ratio %s must be in (0, 1)", ratio.RatString())
	}
	return ratio, nil
}

type MarketServiceImpl struct {
	store     repositories.MarketStore
	ratio     *big.Rat
	maxDetail int
	publisher EventPublisher
	logger    *slog.Logger
}

func NewMarketService(store repositories.MarketStore, opts MarketOptions) *MarketServiceImpl {
	ratio := opts.BidStakeRatio
	if ratio == nil {
		ratio = big.NewRat(1, 10)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketServiceImpl{
		store:     store,
		ratio:     ratio,
		maxDetail: opts.MaxDetailBytes,
		publisher: opts.Publisher,
		logger:    logger,
	}
}

var _ MarketService = &MarketServiceImpl{}

func (s *MarketServiceImpl) CreateTask(ctx context.Context, caller models.AccountID, id models.TaskID, stake models.Balance, detail []byte) (*models.Event, error) {
	return s.transition(ctx, "create_task", caller, id, func(tx *repositories.Tx) (*models.Event, error) {
		exists, err := tx.TaskExists(id)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, models.ErrAlreadyExists
		}
		if stake.IsZero() {
			return nil, models.ErrInvalidStake.With("creator stake must be positive")
		}
		if s.maxDetail > 0 && len(detail) > s.maxDetail {
			return nil, models.ErrInvalidDetail.With(fmt.Sprintf("detail exceeds %d bytes", s.maxDetail))
		}

		if err := tx.Reserve(caller, stake); err != nil {
			return nil, err
		}
		if _, err := tx.CreateTask(id, caller, detail, tx.Now()); err != nil {
			return nil, err
		}
		if err := tx.SetStatus(id, models.StatusBidding); err != nil {
			return nil, err
		}
		if err := tx.SetCreatorStake(id, stake); err != nil {
			return nil, err
		}
		if err := tx.IndexNewTask(id, caller); err != nil {
			return nil, err
		}

		amount := stake
		return &models.Event{
			Kind:   models.EventTaskCreated,
			TaskID: id,
			Actor:  caller,
			Status: models.StatusBidding,
			Amount: &amount,
			Detail: detail,
		}, nil
	})
}

func (s *MarketServiceImpl) UpdateTaskStatus(ctx context.Context, caller models.AccountID, id models.TaskID, code uint8) (*models.Event, error) {
	return s.transition(ctx, "update_task_status", caller, id, func(tx *repositories.Tx) (*models.Event, error) {
		task, err := tx.GetTask(id)
		if err != nil {
			return nil, err
		}

		next, known := models.ParseTaskStatus(code)
		current, found, err := tx.GetStatus(id)
		if err != nil {
			return nil, err
		}
		if !known || !found || !current.CanAdvanceTo(next) {
			return nil, models.ErrInvalidStatus.With(fmt.Sprintf("cannot move from %s to %s", current, next))
		}

		receiver, hasReceiver, err := tx.ReceiverEntry(id)
		if err != nil {
			return nil, err
		}
		isReceiver := hasReceiver && caller == receiver.Receiver

		switch next {
		case models.StatusDelivered:
			if !isReceiver {
				return nil, models.ErrNotReceiver
			}
		case models.StatusArbitrating, models.StatusJudging:
			if caller != task.Owner && !isReceiver {
				return nil, models.ErrNotOwnerOrReceiver
			}
		default:
			if caller != task.Owner {
				return nil, models.ErrNotOwner
			}
		}

		if err := tx.SetStatus(id, next); err != nil {
			return nil, err
		}

		if next == models.StatusFinished {
			if err := settle(tx, task, receiver, hasReceiver); err != nil {
				return nil, err
			}
		}

		return &models.Event{
			Kind:   models.EventTaskStatusUpdated,
			TaskID: id,
			Actor:  caller,
			Status: next,
		}, nil
	})
}

// settle releases escrow when a task finishes: the creator stake goes to the
// receiver and the receiver gets its own bid stake back. A task finished
// without a receiver returns the creator stake to the owner.
func settle(tx *repositories.Tx, task *models.Task, receiver models.TaskReceiver, hasReceiver bool) error {
	stake, err := tx.GetCreatorStake(task.ID)
	if err != nil {
		return err
	}

	if !stake.IsZero() {
		if err := tx.Unreserve(task.Owner, stake); err != nil {
			return err
		}
		if hasReceiver {
			if err := tx.Transfer(task.Owner, receiver.Receiver, stake); err != nil {
				return err
			}
		}
	}

	if hasReceiver && !receiver.Stake.IsZero() {
		return tx.Unreserve(receiver.Receiver, receiver.Stake)
	}
	return nil
}

func (s *MarketServiceImpl) BidTask(ctx context.Context, caller models.AccountID, id models.TaskID, stake models.Balance) (*models.Event, error) {
	return s.transition(ctx, "bid_task", caller, id, func(tx *repositories.Tx) (*models.Event, error) {
		task, err := tx.GetTask(id)
		if err != nil {
			return nil, err
		}
		if caller == task.Owner {
			return nil, models.ErrSelfBid
		}

		status, _, err := tx.GetStatus(id)
		if err != nil {
			return nil, err
		}
		if status != models.StatusBidding {
			return nil, models.ErrBidClosed
		}

		creatorStake, err := tx.GetCreatorStake(id)
		if err != nil {
			return nil, err
		}
		if !s.withinBidLimit(stake, creatorStake) {
			return nil, models.ErrInvalidStake.With(fmt.Sprintf("bid must be below %s of creator stake %s", s.ratio.RatString(), creatorStake))
		}

		exists, err := tx.BidExists(id, caller)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, models.ErrDuplicateBid
		}

		if err := tx.Reserve(caller, stake); err != nil {
			return nil, err
		}
		if err := tx.SetBidStake(id, caller, stake); err != nil {
			return nil, err
		}
		if err := tx.AddBidder(id, caller); err != nil {
			return nil, err
		}
		if err := tx.AddAccountTask(caller, models.TaskSetBid, id); err != nil {
			return nil, err
		}

		amount := stake
		return &models.Event{
			Kind:   models.EventBidCompleted,
			TaskID: id,
			Actor:  caller,
			Amount: &amount,
		}, nil
	})
}

// withinBidLimit reports stake < creator * ratio, computed exactly.
func (s *MarketServiceImpl) withinBidLimit(stake, creator models.Balance) bool {
	lhs := new(big.Int).Mul(stake.Big(), s.ratio.Denom())
	rhs := new(big.Int).Mul(creator.Big(), s.ratio.Num())
	return lhs.Cmp(rhs) < 0
}

func (s *MarketServiceImpl) DelegateTask(ctx context.Context, caller, bidder models.AccountID, id models.TaskID) (*models.Event, error) {
	return s.transition(ctx, "delegate_task", caller, id, func(tx *repositories.Tx) (*models.Event, error) {
		task, err := tx.GetTask(id)
		if err != nil {
			return nil, err
		}
		if caller != task.Owner {
			return nil, models.ErrNotOwner
		}

		status, _, err := tx.GetStatus(id)
		if err != nil {
			return nil, err
		}
		if status != models.StatusBidding {
			return nil, models.ErrDelegateClosed
		}

		isBidder, err := tx.IsBidder(id, bidder)
		if err != nil {
			return nil, err
		}
		if !isBidder {
			return nil, models.ErrNoSuchBidder
		}

		// Bidding closes here. The winner's stake moves to the receiver row;
		// losing bidders keep their balances reserved.
		stakes, err := tx.CloseBidding(id)
		if err != nil {
			return nil, err
		}
		var won models.Balance
		for _, stake := range stakes {
			if stake.Bidder == bidder {
				won = stake.Amount
			}
		}
		if err := tx.SetReceiver(id, bidder, won); err != nil {
			return nil, err
		}
		if err := tx.SetStatus(id, models.StatusDoing); err != nil {
			return nil, err
		}
		if err := tx.AddAccountTask(bidder, models.TaskSetReceived, id); err != nil {
			return nil, err
		}

		return &models.Event{
			Kind:         models.EventTaskDelegated,
			TaskID:       id,
			Actor:        caller,
			Counterparty: bidder,
			Status:       models.StatusDoing,
		}, nil
	})
}

func (s *MarketServiceImpl) RevokeTask(ctx context.Context, caller models.AccountID, id models.TaskID) (*models.Event, error) {
	return s.transition(ctx, "revoke_task", caller, id, func(tx *repositories.Tx) (*models.Event, error) {
		task, err := tx.GetTask(id)
		if err != nil {
			return nil, err
		}
		if caller != task.Owner {
			return nil, models.ErrNotOwner
		}

		// Reserved stakes stay reserved: revocation refunds nothing.
		if err := tx.RemoveTask(id); err != nil {
			return nil, err
		}
		if err := tx.RemoveTaskEverywhere(id); err != nil {
			return nil, err
		}

		return &models.Event{
			Kind:   models.EventTaskRevoked,
			TaskID: id,
			Actor:  caller,
		}, nil
	})
}

func (s *MarketServiceImpl) transition(ctx context.Context, op string, caller models.AccountID, id models.TaskID, fn func(tx *repositories.Tx) (*models.Event, error)) (*models.Event, error) {
	start := time.Now()

	var event *models.Event
	err := s.store.Transact(ctx, func(tx *repositories.Tx) error {
		ev, err := fn(tx)
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ev); err != nil {
			return err
		}
		event = ev
		return nil
	})

	monitoring.ObserveTransition(op, err, time.Since(start))

	if err != nil {
		s.logger.DebugContext(ctx, "transition rejected",
			slog.String("operation", op),
			slog.String("caller", string(caller)),
			slog.String("task_id", id.String()),
			slog.Any("error", err),
		)
		return nil, err
	}

	s.logger.InfoContext(ctx, "transition committed",
		slog.String("operation", op),
		slog.String("caller", string(caller)),
		slog.String("task_id", id.String()),
		slog.Uint64("block", event.Block),
	)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, *event); err != nil {
			s.logger.WarnContext(ctx, "could not publish market event",
				slog.String("event_id", event.ID.String()),
				slog.Any("error", err),
			)
		}
	}

	return event, nil
}
