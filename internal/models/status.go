package models

import (
	"encoding/json"
	"fmt"
)

// TaskStatus is the lifecycle position of a task. The numeric values are the
// wire codes and define the total order used by status transitions.
type TaskStatus uint8

const (
	StatusBidding     TaskStatus = 1
	StatusDoing       TaskStatus = 2
	StatusUnDone      TaskStatus = 3
	StatusDelivered   TaskStatus = 4
	StatusAccepted    TaskStatus = 5
	StatusArbitrating TaskStatus = 6
	StatusJudging     TaskStatus = 7
	StatusFinished    TaskStatus = 8
)

var statusNames = map[TaskStatus]string{
	StatusBidding:     "bidding",
	StatusDoing:       "doing",
	StatusUnDone:      "undone",
	StatusDelivered:   "delivered",
	StatusAccepted:    "accepted",
	StatusArbitrating: "arbitrating",
	StatusJudging:     "judging",
	StatusFinished:    "finished",
}

// ParseTaskStatus converts a wire code into a TaskStatus.
func ParseTaskStatus(code uint8) (TaskStatus, bool) {
	s := TaskStatus(code)
	return s, s.Valid()
}

func (s TaskStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// CanAdvanceTo reports whether next is a recognized status strictly after s.
func (s TaskStatus) CanAdvanceTo(next TaskStatus) bool {
	return next.Valid() && next > s
}

func (s TaskStatus) Terminal() bool {
	return s == StatusFinished
}

func (s TaskStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s TaskStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint8(s))
}

func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var code uint8
	if err := json.Unmarshal(data, &code); err != nil {
		return err
	}
	*s = TaskStatus(code)
	return nil
}
