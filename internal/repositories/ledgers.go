package repositories

import (
	"task-market/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"
)

// The status ledger is a passive store: transition rules are enforced by the
// caller.

func (t *Tx) SetStatus(id models.TaskID, status models.TaskStatus) error {
	entry := models.TaskStatusEntry{TaskID: id, Status: status}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status"}),
	}).Create(&entry).Error
	return errors.WithStack(err)
}

// GetStatus returns false when the task never had a status.
func (t *Tx) GetStatus(id models.TaskID) (models.TaskStatus, bool, error) {
	var entries []models.TaskStatusEntry
	if err := t.db.Where("task_id = ?", id).Limit(1).Find(&entries).Error; err != nil {
		return 0, false, errors.WithStack(err)
	}
	if len(entries) == 0 {
		return 0, false, nil
	}
	return entries[0].Status, true, nil
}

func (t *Tx) SetCreatorStake(id models.TaskID, amount models.Balance) error {
	stake := models.CreatorStake{TaskID: id, Amount: amount}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount"}),
	}).Create(&stake).Error
	return errors.WithStack(err)
}

// GetCreatorStake returns a zero balance when no stake is recorded.
func (t *Tx) GetCreatorStake(id models.TaskID) (models.Balance, error) {
	var stakes []models.CreatorStake
	if err := t.db.Where("task_id = ?", id).Limit(1).Find(&stakes).Error; err != nil {
		return models.Balance{}, errors.WithStack(err)
	}
	if len(stakes) == 0 {
		return models.Balance{}, nil
	}
	return stakes[0].Amount, nil
}

func (t *Tx) BidExists(id models.TaskID, bidder models.AccountID) (bool, error) {
	var count int64
	err := t.db.Model(&models.BidStake{}).
		Where("task_id = ? AND bidder = ?", id, bidder).
		Count(&count).Error
	if err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

// SetBidStake records a bidder's stake once; a second call for the same pair
// fails with ErrDuplicateBid.
func (t *Tx) SetBidStake(id models.TaskID, bidder models.AccountID, amount models.Balance) error {
	exists, err := t.BidExists(id, bidder)
	if err != nil {
		return err
	}
	if exists {
		return models.ErrDuplicateBid
	}

	stake := models.BidStake{TaskID: id, Bidder: bidder, Amount: amount}
	return errors.WithStack(t.db.Create(&stake).Error)
}

func (t *Tx) GetBidStake(id models.TaskID, bidder models.AccountID) (models.Balance, bool, error) {
	var stakes []models.BidStake
	err := t.db.Where("task_id = ? AND bidder = ?", id, bidder).Limit(1).Find(&stakes).Error
	if err != nil {
		return models.Balance{}, false, errors.WithStack(err)
	}
	if len(stakes) == 0 {
		return models.Balance{}, false, nil
	}
	return stakes[0].Amount, true, nil
}

func (t *Tx) BidStakes(id models.TaskID) ([]models.BidStake, error) {
	var stakes []models.BidStake
	if err := t.db.Where("task_id = ?", id).Order("bidder asc").Find(&stakes).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	return stakes, nil
}

// CloseBidding removes every bid stake of a task and returns the removed
// rows. Bid stakes only exist while a task is Bidding; the balances they
// reserved are left untouched.
func (t *Tx) CloseBidding(id models.TaskID) ([]models.BidStake, error) {
	stakes, err := t.BidStakes(id)
	if err != nil {
		return nil, err
	}
	if len(stakes) == 0 {
		return nil, nil
	}
	if err := t.db.Where("task_id = ?", id).Delete(&models.BidStake{}).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	return stakes, nil
}
