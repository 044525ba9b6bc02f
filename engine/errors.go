package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// Result codes are the typed enums spec.md §7 mandates: every control-flow
// outcome (miss, mismatch, invalid state) is returned as one of these, never
// surfaced as a package-level error value or global flag.

// StoreResult is returned by the classic get/set family.
type StoreResult int

const (
	StoreStored StoreResult = iota
	StoreNotStored
	StoreExists
	StoreNotFound
	StoreClientError
	StoreServerError
)

func (r StoreResult) String() string {
	switch r {
	case StoreStored:
		return "STORED"
	case StoreNotStored:
		return "NOT_STORED"
	case StoreExists:
		return "EXISTS"
	case StoreNotFound:
		return "NOT_FOUND"
	case StoreClientError:
		return "CLIENT_ERROR"
	case StoreServerError:
		return "SERVER_ERROR"
	default:
		return "UNKNOWN"
	}
}

// IQResult is returned by the IQ (inhibit/quarantine) lease family.
type IQResult int

const (
	IQValue IQResult = iota
	IQNoValue
	IQLease
	IQLeaseNoValue
	IQMiss
	IQOK
	IQNotFound
	IQServerError
	IQClientError
)

func (r IQResult) String() string {
	switch r {
	case IQValue:
		return "IQ_VALUE"
	case IQNoValue:
		return "IQ_NO_VALUE"
	case IQLease:
		return "IQ_LEASE"
	case IQLeaseNoValue:
		return "IQ_LEASE_NO_VALUE"
	case IQMiss:
		return "IQ_MISS"
	case IQOK:
		return "IQ_OK"
	case IQNotFound:
		return "IQ_NOT_FOUND"
	case IQServerError:
		return "IQ_SERVER_ERROR"
	case IQClientError:
		return "IQ_CLIENT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// COResult is returned by the CO (cooperative colease) family.
type COResult int

const (
	COOK COResult = iota
	CORetry
	COAbort
	CONotFound
	COInvalid
)

func (r COResult) String() string {
	switch r {
	case COOK:
		return "CO_OK"
	case CORetry:
		return "CO_RETRY"
	case COAbort:
		return "CO_ABORT"
	case CONotFound:
		return "CO_NOT_FOUND"
	case COInvalid:
		return "CO_INVALID"
	default:
		return "UNKNOWN"
	}
}

// The errors below back the assertion/invariant half of §7 — allocation
// failures, malformed key-lists, and conditions that indicate a caller or
// engine bug rather than ordinary control flow, which stays in the typed
// result codes above. Wrapped with github.com/pkg/errors so a caller that
// does hit one of these gets a stack trace pinned to the point of failure.
var (
	errBaseSlabExhausted  = errors.New("rejig: no free chunk for slab class")
	errBaseCorruptPayload = errors.New("rejig: malformed key-list payload")
	errBaseInvariant      = errors.New("rejig: invariant violated")
)

func errSlabExhausted(slabID int) error {
	return errors.WithStack(errors.WithMessage(errBaseSlabExhausted, fmt.Sprintf("slab_id=%d", slabID)))
}

func errCorruptKeylist(reason string) error {
	return errors.WithStack(errors.WithMessage(errBaseCorruptPayload, reason))
}

func errInvariant(what string) error {
	return errors.WithStack(errors.WithMessage(errBaseInvariant, what))
}
