package cycle

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"viewcheck/schema"
	"viewcheck/store"
)

// Failure kinds. Match with errors.Is on any error returned by this package.
var (
	ErrConnectivity         = errors.New("store unreachable")
	ErrDuplicateFixture     = errors.New("fixture already present")
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrPipelineNotConverged = errors.New("pipeline not converged")
	ErrOrderingViolation    = errors.New("ordering violation")
	ErrUnexpectedCount      = errors.New("unexpected document count")
	ErrStore                = errors.New("store operation failed")
)

// PhaseError carries enough context to diagnose a failed store operation.
type PhaseError struct {
	Phase      string
	Target     store.Target
	Collection string
	Filter     bson.M
	Kind       error
	Err        error
}

func (e *PhaseError) Error() string {
	msg := fmt.Sprintf("%s phase: %s %s.%s", e.Phase, e.Kind, e.Target, e.Collection)
	if len(e.Filter) > 0 {
		msg += fmt.Sprintf(" filter=%v", e.Filter)
	}
	return msg + ": " + e.Err.Error()
}

func (e *PhaseError) Unwrap() []error { return []error{e.Kind, e.Err} }

func newPhaseError(phase string, t store.Target, coll string, filter bson.M, err error) *PhaseError {
	return &PhaseError{
		Phase:      phase,
		Target:     t,
		Collection: coll,
		Filter:     filter,
		Kind:       classify(err),
		Err:        err,
	}
}

func classify(err error) error {
	var verr *schema.ValidationError
	switch {
	case errors.As(err, &verr):
		return ErrSchemaMismatch
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicateFixture
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return ErrConnectivity
	default:
		return ErrStore
	}
}
