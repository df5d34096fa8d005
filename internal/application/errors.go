package application

import "errors"

var (
	// ErrInvalidCredentials covers unknown identity and wrong password
	// alike, so login failures do not reveal which part was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("username or email already registered")

	// ErrMissingAvatar is raised before any upload attempt when the
	// mandatory avatar file is absent from a registration.
	ErrMissingAvatar = errors.New("avatar file is required")
	// ErrAvatarUpload means the mandatory avatar could not be stored
	// remotely, so no account was created.
	ErrAvatarUpload = errors.New("avatar upload failed")

	// Refresh failures, in checking order: structural validity, account
	// existence, then equality with the stored token.
	ErrRefreshInvalid      = errors.New("refresh token invalid")
	ErrRefreshUserNotFound = errors.New("refresh token user not found")
	// ErrRefreshStale rejects a structurally valid token that is no
	// longer the account's live one: a later rotation or a logout
	// superseded it.
	ErrRefreshStale = errors.New("refresh token superseded")
)
