package repositories

import (
	"time"

	"task-market/internal/models"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// AppendEvent stores the notification for the transition being applied,
// stamping it with an id and the current logical time.
func (t *Tx) AppendEvent(event *models.Event) error {
	if event.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return errors.WithStack(err)
		}
		event.ID = id
	}
	event.Block = t.now
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return errors.WithStack(t.db.Create(event).Error)
}

// Events returns notifications with a sequence number greater than since.
func (t *Tx) Events(since uint64, limit int) ([]models.Event, error) {
	var events []models.Event
	query := t.db.Where("seq > ?", since).Order("seq asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, errors.WithStack(err)
	}
	return events, nil
}
