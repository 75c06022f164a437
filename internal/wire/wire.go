// Package wire implements the two binary frame families the rover speaks:
// the RIPv2-inspired advertisement frame and the stop-and-wait data frame.
package wire

import (
	"encoding/binary"
	"fmt"
)

// ErrMalformedFrame is returned whenever a buffer cannot be decoded into
// a well-formed frame of the requested kind.
type ErrMalformedFrame struct {
	Reason string
}

func (e *ErrMalformedFrame) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

func malformed(format string, args ...interface{}) error {
	return &ErrMalformedFrame{Reason: fmt.Sprintf(format, args...)}
}

const (
	// AdHeaderLen is the fixed 8-byte advertisement header.
	AdHeaderLen = 8
	// AdRecordLen is the fixed size of one route record within an
	// advertisement frame.
	AdRecordLen = 16

	// CommandRequest asks peers to send their full table immediately.
	CommandRequest uint8 = 1
	// CommandUpdate carries a routine or triggered full-table advertisement.
	CommandUpdate uint8 = 2

	protoVersion       uint8 = 2
	addressFamilyIPv4  uint8 = 2
)

// Address4 is a raw 4-byte IPv4-shaped address as carried on the wire,
// independent of whether it names a PrivateAddress or a PublicAddress.
type Address4 [4]byte

func (a Address4) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// Record is one route record inside an advertisement frame.
type Record struct {
	Dest    Address4
	Mask    uint8
	NextHop Address4
	Metric  uint8
}

// Advertisement is a fully decoded (or yet-to-be-encoded) advertisement frame.
type Advertisement struct {
	Command uint8
	RoverID uint8
	Records []Record
}

// EncodeAdvertisement renders an advertisement frame to bytes. Mask and
// metric are clamped into their valid wire ranges (mask<=32, metric<=16) —
// the codec never rejects an out-of-range value, it normalizes it on write.
func EncodeAdvertisement(ad Advertisement) []byte {
	buf := make([]byte, AdHeaderLen+AdRecordLen*len(ad.Records))
	buf[0] = ad.Command
	buf[1] = protoVersion
	buf[2] = ad.RoverID
	buf[3] = 0
	buf[4] = 0
	buf[5] = addressFamilyIPv4
	buf[6] = 0
	buf[7] = 0

	off := AdHeaderLen
	for _, rec := range ad.Records {
		copy(buf[off:off+4], rec.Dest[:])
		off += 4
		buf[off+3] = clampByte(rec.Mask, 32)
		off += 4
		copy(buf[off:off+4], rec.NextHop[:])
		off += 4
		buf[off+3] = clampByte(rec.Metric, 16)
		off += 4
	}
	return buf
}

func clampByte(v uint8, max uint8) uint8 {
	if v > max {
		return max
	}
	return v
}

// DecodeAdvertisement parses an advertisement frame. The record count is
// derived from (len(buf)-8)/16; any length that doesn't fit that shape is
// ErrMalformedFrame. Mask/metric are read as unsigned low bytes without
// range enforcement — callers apply the update rule's own clamping.
func DecodeAdvertisement(buf []byte) (Advertisement, error) {
	if len(buf) < AdHeaderLen {
		return Advertisement{}, malformed("buffer too short for advertisement header: got %d bytes", len(buf))
	}
	remainder := len(buf) - AdHeaderLen
	if remainder%AdRecordLen != 0 {
		return Advertisement{}, malformed("advertisement length %d is not header-plus-records shaped", len(buf))
	}
	n := remainder / AdRecordLen

	ad := Advertisement{
		Command: buf[0],
		RoverID: buf[2],
		Records: make([]Record, n),
	}

	off := AdHeaderLen
	for i := 0; i < n; i++ {
		var rec Record
		copy(rec.Dest[:], buf[off:off+4])
		off += 4
		rec.Mask = buf[off+3]
		off += 4
		copy(rec.NextHop[:], buf[off:off+4])
		off += 4
		rec.Metric = buf[off+3]
		off += 4
		ad.Records[i] = rec
	}
	return ad, nil
}

// Flag bits for DataFrame.Flags. Exactly one is set per frame.
const (
	FlagSYN    uint8 = 1 << 0
	FlagNORMAL uint8 = 1 << 1
	FlagACK    uint8 = 1 << 2
)

// DataHeaderLen is the fixed portion of a data-plane frame: dest(4) +
// src(4) + seqno(4) + ackno(4) + flags(1) + total-size(4).
const DataHeaderLen = 4 + 4 + 4 + 4 + 1 + 4

// DataFrame is a decoded (or yet-to-be-encoded) data-plane frame.
type DataFrame struct {
	Dest      Address4
	Src       Address4
	Seqno     uint32
	Ackno     uint32
	Flags     uint8
	TotalSize uint32
	Payload   []byte
}

// EncodeDataFrame renders a data frame to bytes.
func EncodeDataFrame(f DataFrame) []byte {
	buf := make([]byte, DataHeaderLen+len(f.Payload))
	copy(buf[0:4], f.Dest[:])
	copy(buf[4:8], f.Src[:])
	binary.BigEndian.PutUint32(buf[8:12], f.Seqno)
	binary.BigEndian.PutUint32(buf[12:16], f.Ackno)
	buf[16] = f.Flags
	binary.BigEndian.PutUint32(buf[17:21], f.TotalSize)
	copy(buf[DataHeaderLen:], f.Payload)
	return buf
}

// DecodeDataFrame parses a data-plane frame. Fails with ErrMalformedFrame
// if the buffer is shorter than the fixed header.
func DecodeDataFrame(buf []byte) (DataFrame, error) {
	if len(buf) < DataHeaderLen {
		return DataFrame{}, malformed("buffer too short for data frame header: got %d bytes, need %d", len(buf), DataHeaderLen)
	}
	var f DataFrame
	copy(f.Dest[:], buf[0:4])
	copy(f.Src[:], buf[4:8])
	f.Seqno = binary.BigEndian.Uint32(buf[8:12])
	f.Ackno = binary.BigEndian.Uint32(buf[12:16])
	f.Flags = buf[16]
	f.TotalSize = binary.BigEndian.Uint32(buf[17:21])
	if len(buf) > DataHeaderLen {
		f.Payload = buf[DataHeaderLen:]
	}
	return f, nil
}
