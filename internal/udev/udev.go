// Package udev feeds display hot-plug events from the udev netlink socket.
package udev

import (
	"context"
	"fmt"
	"strings"
	"time"

	libudev "github.com/jochenvg/go-udev"
	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/hotplug"
)

// Source listens for drm, i2c-dev and backlight uevents.
type Source struct {
	udev libudev.Udev

	// RetryInterval is the pause between reconnect attempts.
	RetryInterval time.Duration
}

func NewSource() *Source {
	return &Source{RetryInterval: time.Second}
}

func (s *Source) Name() string {
	return "udev"
}

func (s *Source) connect(ctx context.Context) (<-chan *libudev.Device, <-chan error, error) {
	mon := s.udev.NewMonitorFromNetlink("udev")
	if mon == nil {
		return nil, nil, fmt.Errorf("failed to create udev netlink monitor")
	}
	for _, sub := range Subsystems {
		if err := mon.FilterAddMatchSubsystem(sub); err != nil {
			return nil, nil, fmt.Errorf("failed to filter subsystem %s: %w", sub, err)
		}
	}
	return mon.DeviceChan(ctx)
}

func (s *Source) Run(ctx context.Context, out hotplug.Publisher) error {
	devChan, errChan, err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to create device channel: %w", err)
	}
	klog.Infof("udev: monitoring %v", Subsystems)

	for {
		select {
		case <-ctx.Done():
			return nil
		case dev, ok := <-devChan:
			if !ok {
				return nil
			}
			u := Uevent{
				Action:    dev.Action(),
				Subsystem: dev.Subsystem(),
				Syspath:   dev.Syspath(),
				Devnode:   dev.Devnode(),
				Hotplug:   strings.TrimSpace(dev.PropertyValue(PropertyHotplug)) == "1",
			}
			klog.V(5).Infof("udev: received %s event for %s (%s)", u.Action, u.Syspath, u.Subsystem)
			if !Interesting(u) {
				continue
			}
			if err := out.Submit(ctx, ToEvent(u)); err != nil {
				klog.Errorf("udev: %v", err)
			}
		case err := <-errChan:
			klog.Errorf("Error from udev monitor, will try to reconnect: %v", err)
			for {
				devChan, errChan, err = s.connect(ctx)
				if err == nil {
					break
				}
				klog.Errorf("Failed to create device channel, retrying: %v", err)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(s.RetryInterval):
				}
			}
			klog.Infof("Successfully reconnected to udev")
		}
	}
}
