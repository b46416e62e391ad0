package repositories

import (
	"task-market/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm/clause"
)

// Balance movements run inside the transition's transaction, so a failed
// transition never leaves funds half moved.

func (t *Tx) loadBalance(who models.AccountID) (*models.AccountBalance, error) {
	var rows []models.AccountBalance
	err := t.db.Where("account = ?", who).Limit(1).Find(&rows).Error
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(rows) == 0 {
		return nil, models.ErrDeadAccount
	}
	return &rows[0], nil
}

func (t *Tx) saveBalance(b *models.AccountBalance) error {
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"free", "reserved"}),
	}).Create(b).Error
	return errors.WithStack(err)
}

func (t *Tx) BalanceOf(who models.AccountID) (models.AccountBalance, error) {
	b, err := t.loadBalance(who)
	if err != nil {
		return models.AccountBalance{}, err
	}
	return *b, nil
}

// Deposit credits free balance, opening the account if needed.
func (t *Tx) Deposit(who models.AccountID, amount models.Balance) error {
	b, err := t.loadBalance(who)
	if errors.Is(err, models.ErrDeadAccount) {
		b = &models.AccountBalance{Account: who}
	} else if err != nil {
		return err
	}

	free, ok := addChecked(b.Free, amount)
	if !ok {
		return models.ErrInvalidStake.With("deposit overflows balance")
	}
	b.Free = free
	return t.saveBalance(b)
}

func (t *Tx) Transfer(from, to models.AccountID, amount models.Balance) error {
	src, err := t.loadBalance(from)
	if err != nil {
		return err
	}
	if src.Free.Less(amount) {
		return models.ErrInsufficientBalance
	}
	if from == to {
		return nil
	}

	dst, err := t.loadBalance(to)
	if errors.Is(err, models.ErrDeadAccount) {
		dst = &models.AccountBalance{Account: to}
	} else if err != nil {
		return err
	}

	credited, ok := addChecked(dst.Free, amount)
	if !ok {
		return models.ErrInsufficientBalance.With("transfer overflows destination balance")
	}

	src.Free = models.U128{Uint128: src.Free.Uint128.Sub(amount.Uint128)}
	dst.Free = credited

	if err := t.saveBalance(src); err != nil {
		return err
	}
	return t.saveBalance(dst)
}

// Reserve moves amount from free to reserved balance.
func (t *Tx) Reserve(who models.AccountID, amount models.Balance) error {
	b, err := t.loadBalance(who)
	if err != nil {
		return err
	}
	if b.Free.Less(amount) {
		return models.ErrInsufficientBalance
	}

	reserved, ok := addChecked(b.Reserved, amount)
	if !ok {
		return models.ErrInsufficientBalance.With("reserved balance overflows")
	}
	b.Free = models.U128{Uint128: b.Free.Uint128.Sub(amount.Uint128)}
	b.Reserved = reserved
	return t.saveBalance(b)
}

// Unreserve moves amount from reserved back to free balance.
func (t *Tx) Unreserve(who models.AccountID, amount models.Balance) error {
	b, err := t.loadBalance(who)
	if err != nil {
		return err
	}
	if b.Reserved.Less(amount) {
		return models.ErrInsufficientBalance.With("reserved balance too low")
	}

	free, ok := addChecked(b.Free, amount)
	if !ok {
		return models.ErrInsufficientBalance.With("free balance overflows")
	}
	b.Reserved = models.U128{Uint128: b.Reserved.Uint128.Sub(amount.Uint128)}
	b.Free = free
	return t.saveBalance(b)
}

func addChecked(a, b models.Balance) (models.Balance, bool) {
	sum := a.Uint128.AddWrap(b.Uint128)
	if sum.Cmp(a.Uint128) < 0 {
		return models.Balance{}, false
	}
	return models.U128{Uint128: sum}, true
}
