package errno

import "errors"

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// Decode tries to convert an error to Errno, unwrapping wrapped errors
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	var typed Errno
	if errors.As(err, &typed) {
		return typed.Code, typed.Message
	}
	var ptr *Errno
	if errors.As(err, &ptr) {
		return ptr.Code, ptr.Message
	}
	return InternalServerError.Code, err.Error()
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
)

// Payment Errors (20300+)
var (
	ErrInvalidRequest      = Errno{Code: 20301, Message: "Invalid payment request"}
	ErrInvalidAmount       = Errno{Code: 20302, Message: "Amount must be a positive integer in the token's smallest unit"}
	ErrUnsupportedToken    = Errno{Code: 20303, Message: "Unsupported token"}
	ErrQueueFull           = Errno{Code: 20304, Message: "Payment queue is full"}
	ErrTransactionNotFound = Errno{Code: 20305, Message: "Transaction not found"}
)

// Fee Errors (20400+)
var (
	ErrFeeCalculation = Errno{Code: 20401, Message: "Fee calculation failed"}
)

// Distribution / Staking Errors (20500+)
var (
	ErrEmptyDistribution   = Errno{Code: 20501, Message: "Distribution list is empty"}
	ErrBatchNotFound       = Errno{Code: 20502, Message: "Distribution batch not found"}
	ErrInsufficientStake   = Errno{Code: 20511, Message: "Insufficient staked amount"}
	ErrStakeholderNotFound = Errno{Code: 20512, Message: "Stakeholder not found"}
	ErrStakeLocked         = Errno{Code: 20513, Message: "Stake is still within the lockup period"}
)
