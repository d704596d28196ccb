package kafkabridge

import (
	"encoding/json"
	"testing"

	"edr-agent/internal/schema"
)

func TestConfig_ValidateRequiresBrokersAndTopic(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", DefaultConfig(), true},
		{"no brokers", Config{Topic: "t"}, false},
		{"no topic", Config{Brokers: []string{"localhost:9092"}}, false},
	}
	for _, c := range cases {
		err := c.cfg.Validate()
		if (err == nil) != c.ok {
			t.Errorf("%s: Validate() error = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestDecodeEvent_RoundTripsValidEvent(t *testing.T) {
	want := schema.NewEvent(schema.KindProcessCreate, 42, "evil.exe", map[string]string{"image_path": "/tmp/evil.exe"})
	payload, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := decodeEvent(payload)
	if err != nil {
		t.Fatalf("decodeEvent: %v", err)
	}
	if got.Kind != want.Kind || got.PID != want.PID || got.ProcessName != want.ProcessName {
		t.Errorf("decodeEvent mismatch: got %+v, want %+v", got, want)
	}
}

func TestDecodeEvent_RejectsMalformedJSON(t *testing.T) {
	if _, err := decodeEvent([]byte("not json")); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestDecodeEvent_RejectsUnknownKind(t *testing.T) {
	payload := []byte(`{"event_type":"SOMETHING_MADE_UP","timestamp_ms":1,"pid":1,"process_name":"x","details":{}}`)
	if _, err := decodeEvent(payload); err == nil {
		t.Fatal("expected an error for an unknown event kind")
	}
}
