// Package backlight drives local panels through the kernel backlight class.
package backlight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"k8s.io/klog/v2"

	"github.com/lumactl/lumactl/internal/device"
	"github.com/lumactl/lumactl/internal/drm"
)

const (
	attrBrightness    = "brightness"
	attrMaxBrightness = "max_brightness"
	attrType          = "type"

	subsystem = "backlight"
)

// Setter writes brightness through a privileged broker when the sysfs
// attribute is not writable by the daemon's user.
type Setter interface {
	SetBrightness(ctx context.Context, subsystem, name string, value int) error
}

type Backend struct {
	sysfs  string
	setter Setter
}

// New returns a backend scanning <sysfs>/class/backlight. setter may be nil.
func New(sysfs string, setter Setter) *Backend {
	return &Backend{sysfs: sysfs, setter: setter}
}

func (b *Backend) Name() string {
	return subsystem
}

// Close releases the setter's bus connection.
func (b *Backend) Close() error {
	if c, ok := b.setter.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (b *Backend) Probe(ctx context.Context) ([]device.Probed, error) {
	root := filepath.Join(b.sysfs, "class", subsystem)
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		klog.V(2).Infof("no backlight class at %s", root)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}

	conns, err := drm.Scan(b.sysfs)
	if err != nil {
		klog.Errorf("failed to scan drm connectors, naming panels by backlight: %v", err)
	}

	res := make([]device.Probed, 0, len(entries))
	for _, entry := range entries {
		panel, err := b.open(entry.Name(), conns)
		if err != nil {
			klog.Errorf("skipping backlight %q: %v", entry.Name(), err)
			continue
		}
		value, err := panel.Read(ctx)
		if err != nil {
			klog.Errorf("skipping backlight %q: %v", entry.Name(), err)
			continue
		}
		res = append(res, device.Probed{Device: panel, Value: value})
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Name() < res[j].Name() })
	return res, nil
}

func (b *Backend) open(sysname string, conns drm.Connectors) (*Panel, error) {
	path := filepath.Join(b.sysfs, "class", subsystem, sysname)
	maxValue, err := readInt(filepath.Join(path, attrMaxBrightness))
	if err != nil {
		return nil, err
	}
	if maxValue <= 0 {
		return nil, fmt.Errorf("invalid %s value %d", attrMaxBrightness, maxValue)
	}

	name := sysname
	if conn, ok := conns.ForBacklight(sysname); ok {
		name = conn.Name
	}

	kind, _ := os.ReadFile(filepath.Join(path, attrType))
	return &Panel{
		name:    name,
		sysname: sysname,
		path:    path,
		max:     maxValue,
		info: device.Info{
			Model:       sysname,
			Description: strings.TrimSpace(string(kind)) + " backlight",
		},
		setter: b.setter,
	}, nil
}

// Panel is one backlight-class device.
type Panel struct {
	name    string
	sysname string
	path    string
	max     int
	info    device.Info
	setter  Setter
}

func (p *Panel) Name() string {
	return p.name
}

func (p *Panel) Kind() device.Kind {
	return device.Backlight{}
}

func (p *Panel) Info() device.Info {
	return p.info
}

func (p *Panel) Range() (int, int) {
	return 0, p.max
}

func (p *Panel) Read(context.Context) (int, error) {
	return readInt(filepath.Join(p.path, attrBrightness))
}

func (p *Panel) Write(ctx context.Context, value int) (int, error) {
	err := writeInt(filepath.Join(p.path, attrBrightness), value)
	if errors.Is(err, fs.ErrPermission) && p.setter != nil {
		klog.V(2).Infof("%q: sysfs write denied, using logind", p.name)
		err = p.setter.SetBrightness(ctx, subsystem, p.sysname, value)
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return v, nil
}

func writeInt(path string, value int) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strconv.Itoa(value)); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
