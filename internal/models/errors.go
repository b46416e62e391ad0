package models

// ErrorCode identifies a marketplace failure. The set is closed.
type ErrorCode string

const (
	CodeAlreadyExists       ErrorCode = "AlreadyExists"
	CodeNotFound            ErrorCode = "NotFound"
	CodeInvalidStatus       ErrorCode = "InvalidStatus"
	CodeInvalidStake        ErrorCode = "InvalidStake"
	CodeInvalidDetail       ErrorCode = "InvalidDetail"
	CodeSelfBid             ErrorCode = "SelfBid"
	CodeBidClosed           ErrorCode = "BidClosed"
	CodeDuplicateBid        ErrorCode = "DuplicateBid"
	CodeDelegateClosed      ErrorCode = "DelegateClosed"
	CodeNoSuchBidder        ErrorCode = "NoSuchBidder"
	CodeNotOwner            ErrorCode = "NotOwner"
	CodeNotOwnerOrReceiver  ErrorCode = "NotOwnerOrReceiver"
	CodeNotReceiver         ErrorCode = "NotReceiver"
	CodeInsufficientBalance ErrorCode = "InsufficientBalance"
	CodeDeadAccount         ErrorCode = "DeadAccount"
)

// MarketError is returned for every rejected transition. Two MarketErrors
// match under errors.Is when their codes are equal.
type MarketError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *MarketError) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *MarketError) Is(target error) bool {
	t, ok := target.(*MarketError)
	return ok && t.Code == e.Code
}

var (
	ErrAlreadyExists       = &MarketError{Code: CodeAlreadyExists, Message: "task already exists"}
	ErrNotFound            = &MarketError{Code: CodeNotFound, Message: "task not found"}
	ErrInvalidStatus       = &MarketError{Code: CodeInvalidStatus, Message: "status must be a known value above the current one"}
	ErrInvalidStake        = &MarketError{Code: CodeInvalidStake, Message: "stake out of range"}
	ErrInvalidDetail       = &MarketError{Code: CodeInvalidDetail, Message: "task detail rejected"}
	ErrSelfBid             = &MarketError{Code: CodeSelfBid, Message: "owner cannot bid on own task"}
	ErrBidClosed           = &MarketError{Code: CodeBidClosed, Message: "task is not open for bids"}
	ErrDuplicateBid        = &MarketError{Code: CodeDuplicateBid, Message: "account already bid on task"}
	ErrDelegateClosed      = &MarketError{Code: CodeDelegateClosed, Message: "task can no longer be delegated"}
	ErrNoSuchBidder        = &MarketError{Code: CodeNoSuchBidder, Message: "account did not bid on task"}
	ErrNotOwner            = &MarketError{Code: CodeNotOwner, Message: "caller is not the task owner"}
	ErrNotOwnerOrReceiver  = &MarketError{Code: CodeNotOwnerOrReceiver, Message: "caller is neither owner nor receiver"}
	ErrNotReceiver         = &MarketError{Code: CodeNotReceiver, Message: "caller is not the task receiver"}
	ErrInsufficientBalance = &MarketError{Code: CodeInsufficientBalance, Message: "insufficient balance"}
	ErrDeadAccount         = &MarketError{Code: CodeDeadAccount, Message: "account has no balance"}
)

// With returns a copy of e carrying a more specific message.
func (e *MarketError) With(message string) *MarketError {
	return &MarketError{Code: e.Code, Message: message}
}
