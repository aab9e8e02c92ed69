package gateway

import (
	"context"
	"errors"
	"fmt"

	fc "facility_console"
)

// Gateway is the persistence API the scheduler syncs against: fetch-all,
// patch-one. Implementations are treated as network-latent and fallible.
type Gateway interface {
	FetchDevices(ctx context.Context, scope string) ([]fc.Device, error)
	PatchDevice(ctx context.Context, id string, patch fc.DevicePatch) (fc.Device, error)
}

// ErrorKind classifies gateway failures. The scheduler's retry policy
// depends on the kind: Network is retried, the others are terminal.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindUnauthorized
	KindNotFound
	KindValidationFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindValidationFailed:
		return "validation_failed"
	default:
		return "network"
	}
}

// Error is a classified gateway failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "gateway: " + e.Kind.String()
	}
	return fmt.Sprintf("gateway: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from err. Anything that is not a
// classified gateway error (context deadlines included) counts as Network.
func KindOf(err error) ErrorKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindNetwork
}
