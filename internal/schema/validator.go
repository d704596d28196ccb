package schema

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validator checks events against the canonical schema: struct tags first,
// then the timestamp-bounds rule that a struct tag can't express.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig bounds how old or how far in the future an event's
// timestamp may be before it is rejected as malformed input.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig mirrors the agent's tolerance for clock skew
// between a collector and the core process.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    7 * 24 * time.Hour, // 7 days
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a Validator with DefaultValidatorConfig.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a Validator with the given bounds.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	v.RegisterValidation("event_kind", func(fl validator.FieldLevel) bool {
		return Kind(fl.Field().String()).IsValid()
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates an event against the canonical schema and its
// timestamp bounds. It does not reject on missing kind-specific metadata;
// per the error-handling policy that absence is a silent no-op for the
// analyser that needed it, not a schema violation.
func (v *Validator) Validate(event *Event) error {
	if err := v.validate.Struct(event); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if !event.Kind.IsValid() {
		return fmt.Errorf("unknown event kind: %q", event.Kind)
	}

	now := time.Now().UTC()
	ts := event.Timestamp()

	if event.TimestampMS == 0 {
		return fmt.Errorf("timestamp is required")
	}

	if ts.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", ts, v.maxAge)
	}

	if ts.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", ts, v.maxFuture)
	}

	return nil
}

// requiredMetadata lists the metadata keys the collector contract expects
// to be populated when known, per kind (spec §6). RequiredMetadataFor lets
// a collector self-check before publishing; Validate itself does not
// enforce this, since absence is handled per-analyser, not at the schema
// boundary.
var requiredMetadata = map[Kind][]string{
	KindProcessCreate:  {"image_path", "parent_pid", "command_line", "session_id"},
	KindFileCreate:     {"file_path", "action"},
	KindFileModify:     {"file_path", "action"},
	KindFileDelete:     {"file_path", "action"},
	KindNetworkConnect: {"local_address", "local_port", "remote_address", "remote_port", "protocol", "state", "is_new"},
	KindRegistryWrite:  {"key_path", "value_name"},
}

// RequiredMetadataFor returns the metadata keys the collector contract
// expects for kind, or nil if kind has no documented keys.
func RequiredMetadataFor(kind Kind) []string {
	return requiredMetadata[kind]
}
