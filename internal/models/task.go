package models

// AccountID is an identity already authenticated by the host.
type AccountID string

type Task struct {
	ID        TaskID    `json:"id" gorm:"primaryKey"`
	Owner     AccountID `json:"owner" gorm:"type:varchar(128);not null;index"`
	Detail    []byte    `json:"detail"`
	CreatedAt uint64    `json:"created_at" gorm:"column:created_at;autoCreateTime:false"`
}

type TaskStatusEntry struct {
	TaskID TaskID     `gorm:"primaryKey"`
	Status TaskStatus `gorm:"not null"`
}

func (TaskStatusEntry) TableName() string { return "task_statuses" }

type CreatorStake struct {
	TaskID TaskID  `gorm:"primaryKey"`
	Amount Balance `gorm:"not null"`
}

type BidStake struct {
	TaskID TaskID    `json:"task_id" gorm:"primaryKey"`
	Bidder AccountID `json:"bidder" gorm:"primaryKey;type:varchar(128)"`
	Amount Balance   `json:"amount" gorm:"not null"`
}

type TaskBidder struct {
	TaskID TaskID    `gorm:"primaryKey"`
	Bidder AccountID `gorm:"primaryKey;type:varchar(128)"`
}

// TaskReceiver also carries the winning bid stake, which stays reserved
// until the task finishes.
type TaskReceiver struct {
	TaskID   TaskID    `gorm:"primaryKey"`
	Receiver AccountID `gorm:"type:varchar(128);not null"`
	Stake    Balance   `gorm:"not null"`
}

// TaskSetKind selects one of the per-account task sets.
type TaskSetKind string

const (
	TaskSetCreated  TaskSetKind = "created"
	TaskSetBid      TaskSetKind = "bid"
	TaskSetReceived TaskSetKind = "received"
)

func (k TaskSetKind) Valid() bool {
	switch k {
	case TaskSetCreated, TaskSetBid, TaskSetReceived:
		return true
	default:
		return false
	}
}

type AccountTask struct {
	Account AccountID   `gorm:"primaryKey;type:varchar(128)"`
	Kind    TaskSetKind `gorm:"primaryKey;type:varchar(16)"`
	TaskID  TaskID      `gorm:"primaryKey;index"`
}

type MarketAccount struct {
	Account AccountID `gorm:"primaryKey;type:varchar(128)"`
}

type TaskSetEntry struct {
	TaskID TaskID `gorm:"primaryKey"`
}

func (TaskSetEntry) TableName() string { return "task_set" }

// Counter holds a named monotonic value such as the task count or the
// committed block height.
type Counter struct {
	Name  string `gorm:"primaryKey;type:varchar(64)"`
	Value U128   `gorm:"not null"`
}

const (
	CounterTaskCount   = "task_count"
	CounterBlockHeight = "block_height"
)

// TaskView is the read model returned by detail queries.
type TaskView struct {
	Task
	Status       TaskStatus  `json:"status"`
	CreatorStake Balance     `json:"creator_stake"`
	Receiver     *AccountID  `json:"receiver,omitempty"`
	Bidders      []AccountID `json:"bidders"`
}
