package hotplug

import (
	"context"
	"time"

	"k8s.io/klog/v2"
)

// PollSource emits a Connected event on a fixed interval, for hosts without
// a usable notification facility.
type PollSource struct {
	Interval time.Duration
}

func (p *PollSource) Name() string {
	return "poll"
}

func (p *PollSource) Run(ctx context.Context, out Publisher) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := out.Submit(ctx, Event{Kind: Connected, Hint: p.Interval.String(), Source: p.Name()}); err != nil {
				klog.Errorf("poll: %v", err)
			}
		}
	}
}
