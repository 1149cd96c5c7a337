package model

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrBadCredentials means the portal rejected the username/password pair.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrSessionExpired means the portal no longer honors the session token.
	ErrSessionExpired = errors.New("session expired")
	// ErrVault wraps encryption/decryption failures. Callers must treat it as
	// a fatal configuration problem, not something to retry.
	ErrVault = errors.New("vault failure")
)
