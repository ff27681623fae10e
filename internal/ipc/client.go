package ipc

import (
	"context"
	"fmt"
	"net"

	"github.com/lumactl/lumactl/internal/dispatch"
)

// Do sends req to the daemon listening on socket and waits for its answer.
func Do(ctx context.Context, socket string, req dispatch.Request) (dispatch.Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return dispatch.Response{}, fmt.Errorf("failed to connect to %s: %w", socket, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := writeFrame(conn, req); err != nil {
		return dispatch.Response{}, fmt.Errorf("failed to send request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}
	return ReadResponse(conn)
}
