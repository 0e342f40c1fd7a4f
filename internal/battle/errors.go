package battle

import (
	"github.com/victornm/ebattle/internal/errors"
	"github.com/victornm/ebattle/internal/tracker"
)

const (
	ReasonCapacityExceeded    = "CapacityExceeded"
	ReasonUnknownSession      = "UnknownSession"
	ReasonUnknownParticipant  = "UnknownParticipant"
	ReasonRegressionRejected  = tracker.ReasonRegressionRejected
	ReasonInvalidProgress     = tracker.ReasonInvalidProgress
	ReasonSessionNotActive    = "SessionNotActive"
	ReasonAlreadyCompleted    = "AlreadyCompleted"
	ReasonAlreadyActive       = "AlreadyActive"
	ReasonAlreadyJoined       = "AlreadyJoined"
	ReasonSessionNotCompleted = "SessionNotCompleted"
)

// Input errors.
var (
	ErrCapacityExceeded   = errors.New(errors.CodeResourceExhausted, errors.WithReason(ReasonCapacityExceeded))
	ErrUnknownSession     = errors.New(errors.CodeNotFound, errors.WithReason(ReasonUnknownSession))
	ErrUnknownParticipant = errors.New(errors.CodeNotFound, errors.WithReason(ReasonUnknownParticipant))
	ErrRegressionRejected = tracker.ErrRegressionRejected
	ErrInvalidProgress    = tracker.ErrInvalidProgress
	ErrAlreadyJoined      = errors.New(errors.CodeAlreadyExists, errors.WithReason(ReasonAlreadyJoined))
)

// State errors.
var (
	ErrSessionNotActive    = errors.New(errors.CodeFailedPrecondition, errors.WithReason(ReasonSessionNotActive))
	ErrAlreadyCompleted    = errors.New(errors.CodeFailedPrecondition, errors.WithReason(ReasonAlreadyCompleted))
	ErrAlreadyActive       = errors.New(errors.CodeFailedPrecondition, errors.WithReason(ReasonAlreadyActive))
	ErrSessionNotCompleted = errors.New(errors.CodeFailedPrecondition, errors.WithReason(ReasonSessionNotCompleted))
)
