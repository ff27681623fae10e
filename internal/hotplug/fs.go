package hotplug

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// FSSource watches a device directory for I2C adapter nodes appearing and
// disappearing. It sees monitors behind new buses (docks, GPU hot-plug) but
// not a monitor plugged into an existing bus; pair it with polling.
type FSSource struct {
	Dir     string
	Pattern string
}

func (s *FSSource) Name() string {
	return "fsnotify"
}

func (s *FSSource) Run(ctx context.Context, out Publisher) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.Dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.Dir, err)
	}
	klog.Infof("fsnotify: watching %s/%s", s.Dir, s.Pattern)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev, ok := s.translate(event); ok {
				if err := out.Submit(ctx, ev); err != nil {
					klog.Errorf("fsnotify: %v", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			klog.Errorf("fsnotify: watcher error: %v", err)
		}
	}
}

func (s *FSSource) translate(event fsnotify.Event) (Event, bool) {
	if match, _ := filepath.Match(s.Pattern, filepath.Base(event.Name)); !match {
		return Event{}, false
	}
	switch {
	case event.Has(fsnotify.Create):
		return Event{Kind: Connected, Hint: event.Name, Source: s.Name()}, true
	case event.Has(fsnotify.Remove):
		return Event{Kind: Disconnected, Hint: event.Name, Source: s.Name()}, true
	}
	return Event{}, false
}
