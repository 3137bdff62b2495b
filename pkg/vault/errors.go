package vault

import (
	"errors"

	"github.com/forest6511/securefolder/internal/platform"
)

// Errors
var (
	ErrVaultLocked         = errors.New("vault: vault is locked")
	ErrVaultNotInitialized = errors.New("vault: vault has not been set up")
	ErrVaultAlreadySetUp   = errors.New("vault: vault is already set up")
	ErrLegacyVault         = errors.New("vault: legacy vault is read only until migrated")

	ErrPasswordEmpty        = errors.New("vault: password cannot be empty")
	ErrPasswordMismatch     = errors.New("vault: passwords do not match")
	ErrWrongPassword        = errors.New("vault: incorrect password")
	ErrWrongCurrentPassword = errors.New("vault: current password is incorrect")

	ErrUnsupportedKind  = errors.New("vault: only regular files can be added")
	ErrNotNavigable     = errors.New("vault: folders cannot be opened")
	ErrInvalidEntryName = errors.New("vault: invalid entry name")
	ErrEntryNotFound    = errors.New("vault: entry not found")
	ErrNoOpener         = errors.New("vault: no application launcher configured")

	ErrInsufficientDisk = platform.ErrInsufficientDisk
)

// SetupError reports a password that cannot be set.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string { return e.Err.Error() }
func (e *SetupError) Unwrap() error { return e.Err }

// AuthError reports a password that did not match the stored digest.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }
