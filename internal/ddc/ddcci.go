package ddc

import (
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"
)

const (
	// AddrDDC is the DDC/CI slave address of a monitor.
	AddrDDC uint16 = 0x37
	// AddrEDID is the EDID EEPROM address.
	AddrEDID uint16 = 0x50

	// VCPLuminance is the VCP code for brightness.
	VCPLuminance byte = 0x10

	hostAddr    byte = 0x51
	destAddr    byte = 0x6e
	virtualHost byte = 0x50

	opGetVCP      byte = 0x01
	opGetVCPReply byte = 0x02
	opSetVCP      byte = 0x03

	getReplyLen = 11
)

var (
	ErrChecksum    = errors.New("ddc: bad checksum")
	ErrUnsupported = errors.New("ddc: unsupported vcp code")
	ErrNullReply   = errors.New("ddc: monitor returned null message")
	ErrBadReply    = errors.New("ddc: malformed reply")
)

// Timing holds the delays DDC/CI requires between a request and the
// monitor's reply.
type Timing struct {
	ReplyDelay time.Duration
	SetDelay   time.Duration
}

var DefaultTiming = Timing{
	ReplyDelay: 40 * time.Millisecond,
	SetDelay:   50 * time.Millisecond,
}

// VCPValue is a decoded Get VCP Feature reply.
type VCPValue struct {
	Code    byte
	Type    byte
	Current int
	Maximum int
}

func checksum(seed byte, p []byte) byte {
	for _, b := range p {
		seed ^= b
	}
	return seed
}

// encode frames a host-to-display message.
func encode(payload ...byte) []byte {
	msg := make([]byte, 0, len(payload)+3)
	msg = append(msg, hostAddr, 0x80|byte(len(payload)))
	msg = append(msg, payload...)
	return append(msg, checksum(destAddr, msg))
}

// EncodeGetVCP returns the Get VCP Feature request for code.
func EncodeGetVCP(code byte) []byte {
	return encode(opGetVCP, code)
}

// EncodeSetVCP returns the Set VCP Feature request for code.
func EncodeSetVCP(code byte, value int) []byte {
	return encode(opSetVCP, code, byte(value>>8), byte(value))
}

// DecodeGetVCPReply validates and decodes a Get VCP Feature reply.
func DecodeGetVCPReply(code byte, reply []byte) (VCPValue, error) {
	if len(reply) >= 3 && reply[1] == 0x80 {
		return VCPValue{}, ErrNullReply
	}
	if len(reply) < getReplyLen {
		return VCPValue{}, fmt.Errorf("%w: %d bytes", ErrBadReply, len(reply))
	}
	reply = reply[:getReplyLen]
	if want := checksum(virtualHost, reply[:getReplyLen-1]); reply[getReplyLen-1] != want {
		return VCPValue{}, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrChecksum, reply[getReplyLen-1], want)
	}
	if reply[1] != 0x88 || reply[2] != opGetVCPReply {
		return VCPValue{}, fmt.Errorf("%w: % x", ErrBadReply, reply)
	}
	if reply[3] != 0 {
		return VCPValue{}, fmt.Errorf("%w: 0x%02x", ErrUnsupported, code)
	}
	if reply[4] != code {
		return VCPValue{}, fmt.Errorf("%w: reply for code 0x%02x, asked 0x%02x", ErrBadReply, reply[4], code)
	}
	return VCPValue{
		Code:    reply[4],
		Type:    reply[5],
		Maximum: int(reply[6])<<8 | int(reply[7]),
		Current: int(reply[8])<<8 | int(reply[9]),
	}, nil
}

// GetVCP performs a Get VCP Feature transaction.
func GetVCP(bus Bus, code byte, timing Timing) (VCPValue, error) {
	req := EncodeGetVCP(code)
	klog.V(5).Infof("ddc: -> % x", req)
	if err := bus.Write(AddrDDC, req); err != nil {
		return VCPValue{}, err
	}
	time.Sleep(timing.ReplyDelay)
	reply := make([]byte, getReplyLen)
	if err := bus.Read(AddrDDC, reply); err != nil {
		return VCPValue{}, err
	}
	klog.V(5).Infof("ddc: <- % x", reply)
	return DecodeGetVCPReply(code, reply)
}

// SetVCP performs a Set VCP Feature transaction.
func SetVCP(bus Bus, code byte, value int, timing Timing) error {
	req := EncodeSetVCP(code, value)
	klog.V(5).Infof("ddc: -> % x", req)
	if err := bus.Write(AddrDDC, req); err != nil {
		return err
	}
	time.Sleep(timing.SetDelay)
	return nil
}

// ReadEDID reads the base EDID block.
func ReadEDID(bus Bus) (EDID, error) {
	if err := bus.Write(AddrEDID, []byte{0}); err != nil {
		return EDID{}, err
	}
	block := make([]byte, edidLen)
	if err := bus.Read(AddrEDID, block); err != nil {
		return EDID{}, err
	}
	return ParseEDID(block)
}
