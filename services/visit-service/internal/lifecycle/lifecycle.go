// Package lifecycle holds the visit status transition table.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

type Action string

const (
	ActionConfirm    Action = "confirm"
	ActionStart      Action = "start"
	ActionComplete   Action = "complete"
	ActionCancel     Action = "cancel"
	ActionNoShow     Action = "no_show"
	ActionReschedule Action = "reschedule"
)

var AllActions = []Action{
	ActionConfirm,
	ActionStart,
	ActionComplete,
	ActionCancel,
	ActionNoShow,
	ActionReschedule,
}

// Initial is the status every new visit starts in, regardless of channel.
const Initial = model.StatusPending

var ErrInvalidTransition = errors.New("invalid visit transition")

// RejectedError reports a (status, action) pair outside the transition table.
type RejectedError struct {
	From   model.VisitStatus
	Action Action
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("cannot %s a visit in status %s", e.Action, e.From)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type key struct {
	from   model.VisitStatus
	action Action
}

var transitions = map[key]model.VisitStatus{
	{model.StatusPending, ActionConfirm}: model.StatusConfirmed,

	{model.StatusPending, ActionStart}:   model.StatusInProgress,
	{model.StatusConfirmed, ActionStart}: model.StatusInProgress,

	{model.StatusInProgress, ActionComplete}: model.StatusCompleted,

	{model.StatusPending, ActionCancel}:    model.StatusCanceled,
	{model.StatusConfirmed, ActionCancel}:  model.StatusCanceled,
	{model.StatusInProgress, ActionCancel}: model.StatusCanceled,

	{model.StatusPending, ActionNoShow}:    model.StatusNoShow,
	{model.StatusConfirmed, ActionNoShow}:  model.StatusNoShow,
	{model.StatusInProgress, ActionNoShow}: model.StatusNoShow,

	// reschedule swaps the slot and keeps the status
	{model.StatusPending, ActionReschedule}:    model.StatusPending,
	{model.StatusConfirmed, ActionReschedule}:  model.StatusConfirmed,
	{model.StatusInProgress, ActionReschedule}: model.StatusInProgress,
}

// Next returns the status reached by applying action to current.
func Next(current model.VisitStatus, action Action) (model.VisitStatus, error) {
	next, ok := transitions[key{current, action}]
	if !ok {
		return "", &RejectedError{From: current, Action: action}
	}
	return next, nil
}

// ActionFor maps an administratively requested status onto the action that
// reaches it. pending has no action since nothing transitions into it.
func ActionFor(status model.VisitStatus) (Action, bool) {
	switch status {
	case model.StatusConfirmed:
		return ActionConfirm, true
	case model.StatusInProgress:
		return ActionStart, true
	case model.StatusCompleted:
		return ActionComplete, true
	case model.StatusCanceled:
		return ActionCancel, true
	case model.StatusNoShow:
		return ActionNoShow, true
	default:
		return "", false
	}
}
