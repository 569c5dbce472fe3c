package app

import "errors"

var (
	ErrRegistrationFailed = errors.New("installation registration failed")
	ErrSignInFailed       = errors.New("initial sign-in failed")
)
