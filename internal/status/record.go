// Package status implements the shared-status view: a fixed-layout,
// packed, version-prefixed 77-byte record that the supervising loop
// writes every ~2s and that out-of-process readers (edr-console, health
// checks) mmap and decode without talking to the agent at all.
//
// No repo in the example pack implements a shared-memory status view;
// the byte layout is grounded entirely on spec.md §6, and the mmap
// mechanics are grounded on golang.org/x/sys being present (indirectly)
// in the teacher's dependency graph and being the only idiomatic way to
// reach the mmap(2) syscall from Go — the standard library has no mmap
// wrapper.
package status

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic is the constant 'C','E','T','R' little-endian u32 that
	// identifies a valid record.
	Magic uint32 = 0x43455452
	// Version is the current record layout version.
	Version uint32 = 1
	// RecordSize is the total packed size in bytes, #pragma pack(1)
	// equivalent.
	RecordSize = 77

	engineVersionSize = 32
)

// ErrBadMagic is returned by Decode when the leading 4 bytes don't match Magic.
var ErrBadMagic = errors.New("status: bad magic")

// ErrBadVersion is returned by Decode when the version field isn't one this package understands.
var ErrBadVersion = errors.New("status: unsupported version")

// ErrShortBuffer is returned by Decode when buf is smaller than RecordSize.
var ErrShortBuffer = errors.New("status: buffer shorter than a record")

// Record is the decoded form of the shared-status payload.
type Record struct {
	ProtectionActive      bool
	ActiveIncidentCount   uint32
	TotalIncidentCount    uint32
	TotalEventCount       uint32
	HighestRiskScore      uint32
	EngineUptimeMs        uint64
	LastUpdatedMs         uint64
	ProcessMonitorActive  bool
	FileMonitorActive     bool
	NetworkMonitorActive  bool
	RegistryMonitorActive bool
	EngineVersion         string
}

// Encode writes r into buf at the exact offsets spec.md §6 defines.
// buf must be at least RecordSize bytes.
func Encode(r Record, buf []byte) error {
	if len(buf) < RecordSize {
		return ErrShortBuffer
	}

	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], Version)
	buf[8] = boolToByte(r.ProtectionActive)
	binary.LittleEndian.PutUint32(buf[9:13], r.ActiveIncidentCount)
	binary.LittleEndian.PutUint32(buf[13:17], r.TotalIncidentCount)
	binary.LittleEndian.PutUint32(buf[17:21], r.TotalEventCount)
	binary.LittleEndian.PutUint32(buf[21:25], r.HighestRiskScore)
	binary.LittleEndian.PutUint64(buf[25:33], r.EngineUptimeMs)
	binary.LittleEndian.PutUint64(buf[33:41], r.LastUpdatedMs)
	buf[41] = boolToByte(r.ProcessMonitorActive)
	buf[42] = boolToByte(r.FileMonitorActive)
	buf[43] = boolToByte(r.NetworkMonitorActive)
	buf[44] = boolToByte(r.RegistryMonitorActive)

	versionField := buf[45:77]
	for i := range versionField {
		versionField[i] = 0
	}
	n := copy(versionField, r.EngineVersion)
	if n == len(versionField) {
		// truncate to leave room for the NUL terminator spec.md requires.
		versionField[len(versionField)-1] = 0
	}

	return nil
}

// Decode reads a Record out of buf, validating magic and version first.
func Decode(buf []byte) (Record, error) {
	if len(buf) < RecordSize {
		return Record{}, ErrShortBuffer
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return Record{}, fmt.Errorf("%w: got 0x%08x", ErrBadMagic, magic)
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != Version {
		return Record{}, fmt.Errorf("%w: got %d", ErrBadVersion, version)
	}

	r := Record{
		ProtectionActive:      buf[8] != 0,
		ActiveIncidentCount:   binary.LittleEndian.Uint32(buf[9:13]),
		TotalIncidentCount:    binary.LittleEndian.Uint32(buf[13:17]),
		TotalEventCount:       binary.LittleEndian.Uint32(buf[17:21]),
		HighestRiskScore:      binary.LittleEndian.Uint32(buf[21:25]),
		EngineUptimeMs:        binary.LittleEndian.Uint64(buf[25:33]),
		LastUpdatedMs:         binary.LittleEndian.Uint64(buf[33:41]),
		ProcessMonitorActive:  buf[41] != 0,
		FileMonitorActive:     buf[42] != 0,
		NetworkMonitorActive:  buf[43] != 0,
		RegistryMonitorActive: buf[44] != 0,
		EngineVersion:         nulTerminatedString(buf[45:77]),
	}
	return r, nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func nulTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
