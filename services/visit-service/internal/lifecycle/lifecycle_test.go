package lifecycle

import (
	"errors"
	"testing"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

func TestTransitionTableIsComplete(t *testing.T) {
	allowed := map[model.VisitStatus]map[Action]model.VisitStatus{
		model.StatusPending: {
			ActionConfirm:    model.StatusConfirmed,
			ActionStart:      model.StatusInProgress,
			ActionCancel:     model.StatusCanceled,
			ActionNoShow:     model.StatusNoShow,
			ActionReschedule: model.StatusPending,
		},
		model.StatusConfirmed: {
			ActionStart:      model.StatusInProgress,
			ActionCancel:     model.StatusCanceled,
			ActionNoShow:     model.StatusNoShow,
			ActionReschedule: model.StatusConfirmed,
		},
		model.StatusInProgress: {
			ActionComplete:   model.StatusCompleted,
			ActionCancel:     model.StatusCanceled,
			ActionNoShow:     model.StatusNoShow,
			ActionReschedule: model.StatusInProgress,
		},
	}

	for _, status := range model.AllStatuses {
		for _, action := range AllActions {
			want, ok := allowed[status][action]
			got, err := Next(status, action)
			if ok {
				if err != nil {
					t.Fatalf("%s/%s: unexpected rejection: %v", status, action, err)
				}
				if got != want {
					t.Fatalf("%s/%s: got %s, want %s", status, action, got, want)
				}
				continue
			}
			if err == nil {
				t.Fatalf("%s/%s: expected rejection, got %s", status, action, got)
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s/%s: error does not match ErrInvalidTransition: %v", status, action, err)
			}
			var rej *RejectedError
			if !errors.As(err, &rej) || rej.From != status || rej.Action != action {
				t.Fatalf("%s/%s: unexpected rejection detail %v", status, action, err)
			}
		}
	}
}

func TestTerminalStatusesRejectEverything(t *testing.T) {
	for _, status := range model.AllStatuses {
		if !status.Terminal() {
			continue
		}
		for _, action := range AllActions {
			if _, err := Next(status, action); err == nil {
				t.Fatalf("terminal status %s allows %s", status, action)
			}
		}
	}
}

func TestActionFor(t *testing.T) {
	for _, status := range model.AllStatuses {
		action, ok := ActionFor(status)
		if status == model.StatusPending {
			if ok {
				t.Fatalf("pending must not map to an action")
			}
			continue
		}
		if !ok {
			t.Fatalf("no action for %s", status)
		}
		// wherever the action is allowed it must land on the requested status
		for _, from := range []model.VisitStatus{model.StatusPending, model.StatusConfirmed, model.StatusInProgress} {
			if next, err := Next(from, action); err == nil && next != status {
				t.Fatalf("%s via %s landed on %s, want %s", from, action, next, status)
			}
		}
	}
}

func TestInitialIsPending(t *testing.T) {
	if Initial != model.StatusPending {
		t.Fatalf("initial status changed to %s", Initial)
	}
}
