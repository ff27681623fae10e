package ddc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const edidLen = 128

var (
	edidHeader = []byte{0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00}

	ErrEDID = errors.New("ddc: invalid edid")
)

const (
	descriptorSerial = 0xff
	descriptorName   = 0xfc
)

// EDID holds the identity fields of a base EDID block.
type EDID struct {
	Manufacturer string
	Product      uint16
	Serial       uint32
	Name         string
	SerialText   string
}

// Model returns the monitor name, or the manufacturer and product code when
// the block carries no name descriptor.
func (e EDID) Model() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("%s %04X", e.Manufacturer, e.Product)
}

func ParseEDID(block []byte) (EDID, error) {
	if len(block) < edidLen {
		return EDID{}, fmt.Errorf("%w: %d bytes", ErrEDID, len(block))
	}
	block = block[:edidLen]
	if !bytes.Equal(block[:8], edidHeader) {
		return EDID{}, fmt.Errorf("%w: bad header", ErrEDID)
	}
	var sum byte
	for _, b := range block {
		sum += b
	}
	if sum != 0 {
		return EDID{}, fmt.Errorf("%w: bad checksum", ErrEDID)
	}

	id := binary.BigEndian.Uint16(block[8:10])
	e := EDID{
		Manufacturer: string([]byte{
			byte(id>>10&0x1f) + 'A' - 1,
			byte(id>>5&0x1f) + 'A' - 1,
			byte(id&0x1f) + 'A' - 1,
		}),
		Product: binary.LittleEndian.Uint16(block[10:12]),
		Serial:  binary.LittleEndian.Uint32(block[12:16]),
	}

	for i := 0; i < 4; i++ {
		d := block[54+18*i : 54+18*(i+1)]
		if d[0] != 0 || d[1] != 0 {
			continue // detailed timing
		}
		switch d[3] {
		case descriptorName:
			e.Name = descriptorString(d[5:])
		case descriptorSerial:
			e.SerialText = descriptorString(d[5:])
		}
	}
	return e, nil
}

func descriptorString(p []byte) string {
	if i := bytes.IndexByte(p, 0x0a); i >= 0 {
		p = p[:i]
	}
	return strings.TrimSpace(string(p))
}
