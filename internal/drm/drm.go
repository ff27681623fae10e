// Package drm maps DRM connectors found in sysfs to the I2C buses and
// backlight devices attached to them.
package drm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"k8s.io/klog/v2"
)

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

var (
	connectorRegex = regexp.MustCompile(`^(card[0-9]+)-(.+)$`)
	busRegex       = regexp.MustCompile(`^i2c-[0-9]+$`)
)

type Connector struct {
	Name      string // e.g. "DP-1", "eDP-1"
	Card      string // e.g. "card0"
	Path      string
	Status    string
	Bus       string // e.g. "i2c-5", empty if none is attached
	Backlight string // e.g. "intel_backlight", empty if none is attached
}

func (c Connector) Connected() bool {
	return c.Status == StatusConnected
}

type Connectors []Connector

// Scan lists the connectors under <sysfs>/class/drm sorted by name.
// A missing drm class directory yields no connectors.
func Scan(sysfs string) (Connectors, error) {
	root := filepath.Join(sysfs, "class", "drm")
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}

	res := make(Connectors, 0, len(entries))
	for _, entry := range entries {
		m := connectorRegex.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		conn := Connector{
			Card: m[1],
			Name: m[2],
			Path: filepath.Join(root, entry.Name()),
		}
		if status, err := os.ReadFile(filepath.Join(conn.Path, "status")); err == nil {
			conn.Status = strings.TrimSpace(string(status))
		}
		conn.Bus, conn.Backlight = children(conn.Path)
		klog.V(5).Infof("drm connector %s: status=%s bus=%q backlight=%q", entry.Name(), conn.Status, conn.Bus, conn.Backlight)
		res = append(res, conn)
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func children(path string) (bus string, backlight string) {
	if target, err := filepath.EvalSymlinks(filepath.Join(path, "ddc")); err == nil {
		if name := filepath.Base(target); busRegex.MatchString(name) {
			bus = name
		}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return bus, ""
	}
	for _, entry := range entries {
		name := entry.Name()
		if bus == "" && busRegex.MatchString(name) {
			bus = name
			continue
		}
		if backlight == "" && isBacklight(filepath.Join(path, name)) {
			backlight = name
		}
	}
	return bus, backlight
}

func isBacklight(path string) bool {
	for _, attr := range []string{"brightness", "max_brightness"} {
		if _, err := os.Stat(filepath.Join(path, attr)); err != nil {
			return false
		}
	}
	return true
}

// ForBacklight returns the connector a backlight device is attached to.
func (cs Connectors) ForBacklight(name string) (Connector, bool) {
	for _, c := range cs {
		if c.Backlight == name {
			return c, true
		}
	}
	return Connector{}, false
}
