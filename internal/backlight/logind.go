package backlight

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	logindService   = "org.freedesktop.login1"
	logindSession   = dbus.ObjectPath("/org/freedesktop/login1/session/auto")
	setBrightnessFn = "org.freedesktop.login1.Session.SetBrightness"
)

// Logind sets brightness through systemd-logind, which lets the user owning
// the active session change backlight without write access to sysfs.
type Logind struct {
	conn    *dbus.Conn
	session dbus.BusObject
}

func NewLogind() (*Logind, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &Logind{
		conn:    conn,
		session: conn.Object(logindService, logindSession),
	}, nil
}

func (l *Logind) SetBrightness(ctx context.Context, subsystem, name string, value int) error {
	call := l.session.CallWithContext(ctx, setBrightnessFn, 0, subsystem, name, uint32(value))
	if call.Err != nil {
		return fmt.Errorf("logind SetBrightness(%s, %s, %d): %w", subsystem, name, value, call.Err)
	}
	return nil
}

func (l *Logind) Close() error {
	return l.conn.Close()
}
