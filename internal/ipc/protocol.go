// Package ipc carries dispatch requests over a local unix socket: one
// newline-terminated JSON request per connection, answered by one
// newline-terminated JSON response.
package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/lumactl/lumactl/internal/device"
	"github.com/lumactl/lumactl/internal/dispatch"
)

const DefaultMaxBytes = 4096

// ReadRequest reads one framed request of at most maxBytes, newline
// excluded. Framing and decoding failures wrap device.ErrProtocol.
func ReadRequest(r io.Reader, maxBytes int) (dispatch.Request, error) {
	var req dispatch.Request
	line, err := readFrame(r, maxBytes)
	if err != nil {
		return req, err
	}
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: malformed request: %w", device.ErrProtocol, err)
	}
	if dec.More() {
		return req, fmt.Errorf("%w: trailing data after request", device.ErrProtocol)
	}
	return req, nil
}

func readFrame(r io.Reader, maxBytes int) ([]byte, error) {
	br := bufio.NewReader(io.LimitReader(r, int64(maxBytes)+1))
	line, err := br.ReadBytes('\n')
	switch {
	case err == nil:
		line = line[:len(line)-1]
	case errors.Is(err, io.EOF) && len(line) > maxBytes:
		return nil, fmt.Errorf("%w: request exceeds %d bytes", device.ErrProtocol, maxBytes)
	case errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) == 0:
		return nil, fmt.Errorf("%w: empty request", device.ErrProtocol)
	case errors.Is(err, io.EOF):
		// peer half-closed without a trailing newline
	default:
		return nil, fmt.Errorf("%w: %w", device.ErrProtocol, err)
	}
	if len(line) > maxBytes {
		return nil, fmt.Errorf("%w: request exceeds %d bytes", device.ErrProtocol, maxBytes)
	}
	return line, nil
}

// WriteResponse frames resp onto w.
func WriteResponse(w io.Writer, resp dispatch.Response) error {
	return writeFrame(w, resp)
}

func writeFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// ReadResponse reads one framed response.
func ReadResponse(r io.Reader) (dispatch.Response, error) {
	var resp dispatch.Response
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return resp, fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return resp, fmt.Errorf("%w: malformed response: %w", device.ErrProtocol, err)
	}
	return resp, nil
}
