package models

import (
	"time"

	"github.com/gofrs/uuid"
)

type EventKind string

const (
	EventTaskCreated       EventKind = "TaskCreated"
	EventTaskStatusUpdated EventKind = "TaskStatusUpdated"
	EventBidCompleted      EventKind = "BidCompleted"
	EventTaskDelegated     EventKind = "TaskDelegated"
	EventTaskRevoked       EventKind = "TaskRevoked"
)

// Event is the notification record appended by every committed transition.
type Event struct {
	Seq          uint64     `json:"seq" gorm:"primaryKey;autoIncrement"`
	ID           uuid.UUID  `json:"id" gorm:"type:varchar(36);uniqueIndex;not null"`
	Kind         EventKind  `json:"kind" gorm:"type:varchar(32);not null"`
	TaskID       TaskID     `json:"task_id" gorm:"index;not null"`
	Actor        AccountID  `json:"actor" gorm:"type:varchar(128);not null"`
	Counterparty AccountID  `json:"counterparty,omitempty" gorm:"type:varchar(128)"`
	Status       TaskStatus `json:"status,omitempty"`
	Amount       *Balance   `json:"amount,omitempty"`
	Detail       []byte     `json:"detail,omitempty"`
	Block        uint64     `json:"block" gorm:"not null"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (Event) TableName() string { return "market_events" }
