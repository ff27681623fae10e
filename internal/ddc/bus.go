package ddc

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// I2C_SLAVE from linux/i2c-dev.h.
const i2cSlave = 0x0703

// Bus is one I2C adapter. Implementations need not be safe for concurrent
// use; channels serialize access.
type Bus interface {
	Read(addr uint16, p []byte) error
	Write(addr uint16, p []byte) error
	Close() error
}

// Opener opens the bus at a device node path such as /dev/i2c-5.
type Opener func(path string) (Bus, error)

type i2cBus struct {
	mu   sync.Mutex
	path string
	file *os.File
	addr int
}

// OpenI2C opens a Linux i2c-dev node.
func OpenI2C(path string) (Bus, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &i2cBus{path: path, file: f, addr: -1}, nil
}

func (b *i2cBus) target(addr uint16) error {
	if b.addr == int(addr) {
		return nil
	}
	if err := unix.IoctlSetInt(int(b.file.Fd()), i2cSlave, int(addr)); err != nil {
		return fmt.Errorf("%s: I2C_SLAVE 0x%02x: %w", b.path, addr, err)
	}
	b.addr = int(addr)
	return nil
}

func (b *i2cBus) Read(addr uint16, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.target(addr); err != nil {
		return err
	}
	n, err := b.file.Read(p)
	if err != nil {
		return fmt.Errorf("%s: read 0x%02x: %w", b.path, addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("%s: short read from 0x%02x: %d of %d bytes", b.path, addr, n, len(p))
	}
	return nil
}

func (b *i2cBus) Write(addr uint16, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.target(addr); err != nil {
		return err
	}
	n, err := b.file.Write(p)
	if err != nil {
		return fmt.Errorf("%s: write 0x%02x: %w", b.path, addr, err)
	}
	if n != len(p) {
		return fmt.Errorf("%s: short write to 0x%02x: %d of %d bytes", b.path, addr, n, len(p))
	}
	return nil
}

func (b *i2cBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
