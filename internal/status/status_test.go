package status

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	rec := Record{
		ProtectionActive:      true,
		ActiveIncidentCount:   3,
		TotalIncidentCount:    10,
		TotalEventCount:       98765,
		HighestRiskScore:      80,
		EngineUptimeMs:        123456789,
		LastUpdatedMs:         987654321,
		ProcessMonitorActive:  true,
		FileMonitorActive:     true,
		NetworkMonitorActive:  false,
		RegistryMonitorActive: true,
		EngineVersion:         "1.2.3",
	}

	buf := make([]byte, RecordSize)
	if err := Encode(rec, buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != rec {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, rec)
	}
}

func TestEncode_TotalSizeIs77Bytes(t *testing.T) {
	if RecordSize != 77 {
		t.Fatalf("RecordSize = %d, want 77", RecordSize)
	}
}

func TestDecode_RejectsBadMagic(t *testing.T) {
	buf := make([]byte, RecordSize)
	Encode(Record{}, buf)
	buf[0] = 0xFF

	_, err := Decode(buf)
	if !errors.Is(err, ErrBadMagic) {
		t.Errorf("Decode = %v, want ErrBadMagic", err)
	}
}

func TestDecode_RejectsBadVersion(t *testing.T) {
	buf := make([]byte, RecordSize)
	Encode(Record{}, buf)
	buf[4] = 99

	_, err := Decode(buf)
	if !errors.Is(err, ErrBadVersion) {
		t.Errorf("Decode = %v, want ErrBadVersion", err)
	}
}

func TestDecode_RejectsShortBuffer(t *testing.T) {
	_, err := Decode(make([]byte, 10))
	if !errors.Is(err, ErrShortBuffer) {
		t.Errorf("Decode = %v, want ErrShortBuffer", err)
	}
}

func TestEncode_EngineVersionIsNULTerminated(t *testing.T) {
	buf := make([]byte, RecordSize)
	Encode(Record{EngineVersion: "short"}, buf)

	field := buf[45:77]
	nulAt := -1
	for i, b := range field {
		if b == 0 {
			nulAt = i
			break
		}
	}
	if nulAt != 5 {
		t.Errorf("expected NUL at index 5 (after %q), got %d", "short", nulAt)
	}
}

func TestEncode_OversizeEngineVersionTruncatesWithTrailingNUL(t *testing.T) {
	buf := make([]byte, RecordSize)
	longVersion := "this-version-string-is-far-too-long-to-fit"
	Encode(Record{EngineVersion: longVersion}, buf)

	field := buf[45:77]
	if field[len(field)-1] != 0 {
		t.Error("oversize version field must still end in a NUL byte")
	}
}

func TestWriterReader_RoundTripThroughMmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.bin")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	rec := Record{
		ProtectionActive:     true,
		ActiveIncidentCount:  2,
		TotalEventCount:      555,
		HighestRiskScore:     60,
		ProcessMonitorActive: true,
		EngineVersion:        "test-build",
	}
	if err := w.Write(rec, time.Now()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	got, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.ActiveIncidentCount != 2 || got.TotalEventCount != 555 || got.EngineVersion != "test-build" {
		t.Errorf("got %+v", got)
	}
	if got.LastUpdatedMs == 0 {
		t.Error("Write should stamp LastUpdatedMs")
	}
}

func TestWriterReader_MultipleWritesStayConsistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.bin")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	for i := uint32(1); i <= 3; i++ {
		w.Write(Record{TotalEventCount: i * 100}, time.Now())
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read iteration %d: %v", i, err)
		}
		if got.TotalEventCount != i*100 {
			t.Errorf("iteration %d: TotalEventCount = %d, want %d", i, got.TotalEventCount, i*100)
		}
	}
}
