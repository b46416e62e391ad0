package repositories

import (
	"math"

	"task-market/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"
)

// Every add in the relationship index is idempotent: inserting a member that
// is already present does nothing.

func (t *Tx) insertIgnore(row any) error {
	return errors.WithStack(t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error)
}

func (t *Tx) AddBidder(id models.TaskID, bidder models.AccountID) error {
	return t.insertIgnore(&models.TaskBidder{TaskID: id, Bidder: bidder})
}

func (t *Tx) Bidders(id models.TaskID) ([]models.AccountID, error) {
	var bidders []models.AccountID
	err := t.db.Model(&models.TaskBidder{}).
		Where("task_id = ?", id).
		Order("bidder asc").
		Pluck("bidder", &bidders).Error
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return bidders, nil
}

func (t *Tx) IsBidder(id models.TaskID, account models.AccountID) (bool, error) {
	var count int64
	err := t.db.Model(&models.TaskBidder{}).
		Where("task_id = ? AND bidder = ?", id, account).
		Count(&count).Error
	if err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

// SetReceiver overwrites any previous receiver. Exactly-once delegation is
// enforced by the transition, not here.
func (t *Tx) SetReceiver(id models.TaskID, receiver models.AccountID, stake models.Balance) error {
	row := models.TaskReceiver{TaskID: id, Receiver: receiver, Stake: stake}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"receiver", "stake"}),
	}).Create(&row).Error
	return errors.WithStack(err)
}

func (t *Tx) Receiver(id models.TaskID) (models.AccountID, bool, error) {
	entry, ok, err := t.ReceiverEntry(id)
	return entry.Receiver, ok, err
}

// ReceiverEntry returns the receiver together with its escrowed bid stake.
func (t *Tx) ReceiverEntry(id models.TaskID) (models.TaskReceiver, bool, error) {
	var rows []models.TaskReceiver
	if err := t.db.Where("task_id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return models.TaskReceiver{}, false, errors.WithStack(err)
	}
	if len(rows) == 0 {
		return models.TaskReceiver{}, false, nil
	}
	return rows[0], true, nil
}

func (t *Tx) AddAccountTask(account models.AccountID, kind models.TaskSetKind, id models.TaskID) error {
	return t.insertIgnore(&models.AccountTask{Account: account, Kind: kind, TaskID: id})
}

func (t *Tx) AccountTasks(account models.AccountID, kind models.TaskSetKind) ([]models.TaskID, error) {
	var ids []models.TaskID
	err := t.db.Model(&models.AccountTask{}).
		Where("account = ? AND kind = ?", account, kind).
		Order("task_id asc").
		Pluck("task_id", &ids).Error
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ids, nil
}

func (t *Tx) AddAccount(account models.AccountID) error {
	return t.insertIgnore(&models.MarketAccount{Account: account})
}

func (t *Tx) Accounts() ([]models.AccountID, error) {
	var accounts []models.AccountID
	err := t.db.Model(&models.MarketAccount{}).Order("account asc").Pluck("account", &accounts).Error
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return accounts, nil
}

func (t *Tx) AddToTaskSet(id models.TaskID) error {
	return t.insertIgnore(&models.TaskSetEntry{TaskID: id})
}

func (t *Tx) InTaskSet(id models.TaskID) (bool, error) {
	var count int64
	if err := t.db.Model(&models.TaskSetEntry{}).Where("task_id = ?", id).Count(&count).Error; err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

func (t *Tx) TaskSet() ([]models.TaskID, error) {
	var ids []models.TaskID
	if err := t.db.Model(&models.TaskSetEntry{}).Order("task_id asc").Pluck("task_id", &ids).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	return ids, nil
}

func (t *Tx) TaskCount() (uint64, error) {
	return readCounter(t.db, models.CounterTaskCount, false)
}

// IncrementTaskCount saturates at the maximum instead of failing.
func (t *Tx) IncrementTaskCount() error {
	count, err := t.TaskCount()
	if err != nil {
		return err
	}
	if count < math.MaxUint64 {
		count++
	}
	return writeCounter(t.db, models.CounterTaskCount, count)
}

// DecrementTaskCount does not check for a floor: decrementing zero wraps.
func (t *Tx) DecrementTaskCount() error {
	count, err := t.TaskCount()
	if err != nil {
		return err
	}
	count--
	return writeCounter(t.db, models.CounterTaskCount, count)
}

// IndexNewTask records a freshly created task in the global task set, the
// owner's created set and the account set, and bumps the task count.
func (t *Tx) IndexNewTask(id models.TaskID, owner models.AccountID) error {
	if err := t.AddToTaskSet(id); err != nil {
		return err
	}
	if err := t.AddAccountTask(owner, models.TaskSetCreated, id); err != nil {
		return err
	}
	if err := t.AddAccount(owner); err != nil {
		return err
	}
	return t.IncrementTaskCount()
}

// RemoveTaskEverywhere purges id from every relation that can reference it
// and decrements the task count. Afterwards nothing in the store mentions id.
func (t *Tx) RemoveTaskEverywhere(id models.TaskID) error {
	for _, row := range taskRelations() {
		if err := t.db.Where("task_id = ?", id).Delete(row).Error; err != nil {
			return errors.WithStack(err)
		}
	}
	return t.DecrementTaskCount()
}

// References counts the rows still pointing at id across the index.
func (t *Tx) References(id models.TaskID) (int64, error) {
	var total int64
	for _, row := range taskRelations() {
		var count int64
		if err := t.db.Model(row).Where("task_id = ?", id).Count(&count).Error; err != nil {
			return 0, errors.WithStack(err)
		}
		total += count
	}
	return total, nil
}

// taskRelations lists every table keyed by task_id other than the registry.
func taskRelations() []any {
	return []any{
		&models.TaskStatusEntry{},
		&models.CreatorStake{},
		&models.BidStake{},
		&models.TaskBidder{},
		&models.TaskReceiver{},
		&models.AccountTask{},
		&models.TaskSetEntry{},
	}
}
