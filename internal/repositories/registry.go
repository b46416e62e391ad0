package repositories

import (
	"task-market/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

func (t *Tx) TaskExists(id models.TaskID) (bool, error) {
	var count int64
	if err := t.db.Model(&models.Task{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

// CreateTask inserts a registry row; it fails with ErrAlreadyExists when the
// id is taken.
func (t *Tx) CreateTask(id models.TaskID, owner models.AccountID, detail []byte, now uint64) (*models.Task, error) {
	exists, err := t.TaskExists(id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, models.ErrAlreadyExists
	}

	task := &models.Task{
		ID:        id,
		Owner:     owner,
		Detail:    detail,
		CreatedAt: now,
	}
	if err := t.db.Create(task).Error; err != nil {
		return nil, errors.WithStack(err)
	}

	return task, nil
}

func (t *Tx) GetTask(id models.TaskID) (*models.Task, error) {
	var task models.Task
	if err := t.db.Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, errors.WithStack(err)
	}
	return &task, nil
}

func (t *Tx) RemoveTask(id models.TaskID) error {
	res := t.db.Where("id = ?", id).Delete(&models.Task{})
	if res.Error != nil {
		return errors.WithStack(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListTasks returns the registry rows ordered by id.
func (t *Tx) ListTasks(offset, limit int) ([]models.Task, error) {
	var tasks []models.Task
	query := t.db.Order("id asc")
	if limit > 0 {
		query = query.Offset(offset).Limit(limit)
	}
	if err := query.Find(&tasks).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	return tasks, nil
}
