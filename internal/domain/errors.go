package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is returned when a breaker short-circuits a call.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRateLimitExceeded is returned when a (user, action) window is full.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrInvalidTransaction marks a malformed queue submission.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInsufficientBalance is returned when a wallet cannot cover a cost.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrApprovalRequired is returned when an external wallet declined or did not approve.
	ErrApprovalRequired = errors.New("approval required")

	// ErrTradeExecution wraps failures reported by a trade executor.
	ErrTradeExecution = errors.New("trade execution failed")

	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrAutonomousDisabled = errors.New("autonomous trading is disabled")
	ErrEngineRunning      = errors.New("engine is already running")
	ErrEngineStopped      = errors.New("engine is not running")
	ErrPositionNotFound   = errors.New("position not found")
	ErrQueueClosed        = errors.New("transaction queue is closed")
)

// Code is a stable classification of an error for callers outside the core.
type Code string

const (
	CodeCircuitOpen         Code = "CIRCUIT_OPEN"
	CodeRateLimit           Code = "RATE_LIMIT"
	CodeInvalidTransaction  Code = "INVALID_TRANSACTION"
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeApprovalRequired    Code = "APPROVAL_REQUIRED"
	CodeTradeExecution      Code = "TRADE_EXECUTION"
	CodeValidation          Code = "VALIDATION"
	CodeWallet              Code = "WALLET"
	CodeUnavailable         Code = "UNAVAILABLE"
	CodeInternal            Code = "INTERNAL"
)

// Error carries a classification and context around an underlying error.
type Error struct {
	Code    Code
	Op      string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("[%s] %v", e.Code, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with an operation name; the code is derived from err.
func NewError(op string, err error, details map[string]any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeOf(err), Op: op, Err: err, Details: details}
}

// TradeError builds the error returned when an executor fails.
func TradeError(op string, cause error) error {
	return &Error{Code: CodeTradeExecution, Op: op, Err: fmt.Errorf("%w: %w", ErrTradeExecution, cause)}
}

// CodeOf classifies any error, looking through wrapping.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) && de.Code != "" {
		return de.Code
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCircuitOpen):
		return CodeCircuitOpen
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimit
	case errors.Is(err, ErrInvalidTransaction), errors.Is(err, ErrUnsupportedNetwork):
		return CodeInvalidTransaction
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrApprovalRequired):
		return CodeApprovalRequired
	case errors.Is(err, ErrTradeExecution):
		return CodeTradeExecution
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrAutonomousDisabled):
		return CodeWallet
	case errors.Is(err, ErrEngineRunning), errors.Is(err, ErrEngineStopped), errors.Is(err, ErrPositionNotFound):
		return CodeValidation
	case errors.Is(err, ErrQueueClosed):
		return CodeUnavailable
	}
	return CodeInternal
}

// Retryable reports whether a caller may try the operation again later.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeCircuitOpen, CodeRateLimit, CodeUnavailable, CodeTradeExecution:
		return true
	}
	return false
}

var userMessages = map[Code]string{
	CodeCircuitOpen:         "Service temporarily unavailable. Please try again in a moment.",
	CodeRateLimit:           "You are sending too many requests. Please wait a moment.",
	CodeInvalidTransaction:  "Invalid transaction. Please check your input.",
	CodeInsufficientBalance: "Insufficient funds for this operation.",
	CodeApprovalRequired:    "Please approve the transaction in your connected wallet.",
	CodeTradeExecution:      "Trade failed to execute. Please check the position manually.",
	CodeValidation:          "Invalid request. Please check your settings.",
	CodeWallet:              "Wallet operation failed. Please check your settings.",
	CodeUnavailable:         "Service is shutting down. Please try again later.",
}

// UserMessage returns a human-readable summary suitable for chat surfaces.
func UserMessage(err error) string {
	if msg, ok := userMessages[CodeOf(err)]; ok {
		return msg
	}
	return "An unexpected error occurred."
}
