package policy

import (
	"context"
	"time"
)

// Windows are the lead times before a slot starts after which a visit can no
// longer be canceled or rescheduled.
type Windows struct {
	CancelLead        time.Duration
	RescheduleLead    time.Duration
	EnforceReschedule bool
}

// CancelExpired reports whether now is past the cancellation cutoff for a slot starting at start.
func (w Windows) CancelExpired(start, now time.Time) bool {
	return now.After(start.Add(-w.CancelLead))
}

func (w Windows) RescheduleExpired(start, now time.Time) bool {
	if !w.EnforceReschedule {
		return false
	}
	return now.After(start.Add(-w.RescheduleLead))
}

type Provider interface {
	Windows(ctx context.Context, listingID, channel string) (Windows, error)
}

type staticProvider struct {
	defaults Windows
	listings map[string]time.Duration
	channels map[string]time.Duration
}

// NewStaticProvider serves fixed windows. Overrides replace both lead times;
// a listing override wins over a channel override.
func NewStaticProvider(defaults Windows, overrides ...Override) Provider {
	p := &staticProvider{
		defaults: defaults,
		listings: map[string]time.Duration{},
		channels: map[string]time.Duration{},
	}
	for _, o := range overrides {
		switch o.Scope {
		case ScopeListing:
			p.listings[o.Key] = o.Lead
		case ScopeChannel:
			p.channels[o.Key] = o.Lead
		}
	}
	return p
}

func (p *staticProvider) Windows(_ context.Context, listingID, channel string) (Windows, error) {
	w := p.defaults
	if lead, ok := p.channels[channel]; ok && channel != "" {
		w.CancelLead, w.RescheduleLead = lead, lead
	}
	if lead, ok := p.listings[listingID]; ok {
		w.CancelLead, w.RescheduleLead = lead, lead
	}
	return w, nil
}
