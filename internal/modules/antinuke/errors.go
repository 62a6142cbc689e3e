package antinuke

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyLocked     = errors.New("server is already locked")
	ErrNotLocked         = errors.New("server is not locked")
	ErrNotAuthorized     = errors.New("only the server owner or a wladmin can use this")
	ErrOwnerOnly         = errors.New("only the server owner can manage wladmins")
	ErrInvalidVanity     = errors.New("vanity code must be 3-32 characters of letters, digits or dashes")
	ErrInvalidPunishment = errors.New("punishment must be one of jail, strip, ban")
	ErrUnknownAction     = errors.New("unknown action")
	ErrInvalidThreshold  = errors.New("count and interval must be positive")
	ErrCannotJail        = errors.New("cannot jail that member (owner or higher role)")
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPermission
	KindNotFound
	KindConflict
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// MutationError is returned by API calls that the platform refused.
type MutationError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

func KindOf(err error) ErrorKind {
	var mutation *MutationError
	if errors.As(err, &mutation) {
		return mutation.Kind
	}
	return KindUnknown
}

// Terminal reports whether retrying err cannot succeed.
func Terminal(err error) bool {
	switch KindOf(err) {
	case KindPermission, KindNotFound:
		return true
	default:
		return false
	}
}
