package library

import "github.com/flemzord/strmsync/internal/fault"

// Failures returned by the store.
var (
	ErrDuplicatePath   = fault.New(fault.Validation, "a sync directory with this path already exists")
	ErrDuplicateName   = fault.New(fault.Validation, "a sync directory with this name already exists")
	ErrDuplicateKey    = fault.New(fault.Validation, "a sync directory with this key already exists")
	ErrDuplicateAcct   = fault.New(fault.Validation, "an account with this name or cookie already exists")
	ErrInvalid         = fault.New(fault.Validation, "invalid record")
	ErrDirNotFound     = fault.New(fault.NotFound, "sync directory not found")
	ErrAccountNotFound = fault.New(fault.NotFound, "account not found")
	ErrAccountInUse    = fault.New(fault.Conflict, "account is used by a sync directory")
)
