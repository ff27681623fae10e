package ddc_test

import (
	"errors"
	"sync"

	"github.com/lumactl/lumactl/internal/ddc"
)

func xor(seed byte, p []byte) byte {
	for _, b := range p {
		seed ^= b
	}
	return seed
}

func vcpReply(code byte, current, maximum int) []byte {
	r := []byte{0x6e, 0x88, 0x02, 0x00, code, 0x00,
		byte(maximum >> 8), byte(maximum), byte(current >> 8), byte(current)}
	return append(r, xor(0x50, r))
}

func edidBlock(name string) []byte {
	b := make([]byte, 128)
	copy(b, []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00})
	b[8], b[9] = 0x10, 0xac // DEL
	b[10], b[11] = 0xf1, 0xa0
	b[12] = 0x2a
	d := b[72:90]
	d[3] = 0xfc
	copy(d[5:], []byte(name + "\n             ")[:13])
	var sum byte
	for _, v := range b[:127] {
		sum += v
	}
	b[127] = -sum
	return b
}

// fakeMonitor answers DDC/CI and EDID reads like a monitor on one bus.
type fakeMonitor struct {
	mu      sync.Mutex
	edid    []byte
	current int
	maximum int
	pending []byte
	closed  bool
	writes  int

	// while hang is open, every bus operation blocks
	hang chan struct{}
}

func newFakeMonitor(name string, current, maximum int) *fakeMonitor {
	return &fakeMonitor{edid: edidBlock(name), current: current, maximum: maximum}
}

func (f *fakeMonitor) wait() {
	f.mu.Lock()
	hang := f.hang
	f.mu.Unlock()
	if hang != nil {
		<-hang
	}
}

func (f *fakeMonitor) stall() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = make(chan struct{})
}

func (f *fakeMonitor) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hang != nil {
		close(f.hang)
		f.hang = nil
	}
}

func (f *fakeMonitor) value() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeMonitor) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeMonitor) Write(addr uint16, p []byte) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	switch addr {
	case ddc.AddrEDID:
		f.pending = f.edid
	case ddc.AddrDDC:
		if len(p) < 4 {
			return errors.New("short ddc message")
		}
		switch p[2] {
		case 0x01:
			f.pending = vcpReply(p[3], f.current, f.maximum)
		case 0x03:
			f.current = int(p[4])<<8 | int(p[5])
		}
	}
	return nil
}

func (f *fakeMonitor) Read(addr uint16, p []byte) error {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return errors.New("nack")
	}
	copy(p, f.pending)
	f.pending = nil
	return nil
}

func (f *fakeMonitor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// silentBus is an adapter with nothing listening on it.
type silentBus struct{}

func (silentBus) Write(uint16, []byte) error { return errors.New("nack") }
func (silentBus) Read(uint16, []byte) error  { return errors.New("nack") }
func (silentBus) Close() error               { return nil }
