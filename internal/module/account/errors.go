package account

import "errors"

var (
	// ErrAccountNotFound indicates the account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists indicates an account already exists for the email.
	ErrAccountExists = errors.New("account already exists")
)
