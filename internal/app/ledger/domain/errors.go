package domain

import "errors"

var (
	// ErrAmountNotPositive is returned for zero or negative operation amounts.
	ErrAmountNotPositive = errors.New("amount must be positive")

	// ErrInvalidAmount is returned when an amount string cannot be parsed.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidCurrency is returned for a malformed currency code.
	ErrInvalidCurrency = errors.New("invalid currency code")

	// ErrInvalidAccountID is returned when opening an account with a
	// non-positive id.
	ErrInvalidAccountID = errors.New("invalid account id")

	// ErrSameAccount is returned for a transfer whose source and destination match.
	ErrSameAccount = errors.New("cannot transfer to the same account")

	// ErrInsufficientFunds is returned when a delta would drive a balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound is returned for an unknown account id.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountLocked is returned when mutating an account reported lost.
	ErrAccountLocked = errors.New("account is reported lost")

	// ErrAccountExists is returned when opening an account with a taken id.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountInUse rejects deleting an account still referenced by records.
	ErrAccountInUse = errors.New("account is referenced by transaction records")

	// ErrLockWait is returned when exclusive access could not be acquired in time.
	// Callers may retry; exhausted retries surface ErrConcurrency.
	ErrLockWait = errors.New("lock wait timed out")

	// ErrConcurrency is returned once bounded lock-wait retries are exhausted.
	ErrConcurrency = errors.New("account contention, retries exhausted")

	// ErrPersistence wraps storage I/O failures.
	ErrPersistence = errors.New("persistence failure")

	// ErrRecordNotFound is returned for an unknown transaction record id.
	ErrRecordNotFound = errors.New("transaction record not found")

	// ErrPlanNotFound is returned for an unknown savings plan id.
	ErrPlanNotFound = errors.New("savings plan not found")

	// ErrPlanInUse rejects deleting a plan still referenced by accounts.
	ErrPlanInUse = errors.New("savings plan is referenced by accounts")
)
