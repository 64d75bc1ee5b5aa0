package tcpstack

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config bundles the tunables spec.md §6 names as the "Config" collaborator.
type Config struct {
	// RTTimeout is the initial retransmission timeout.
	RTTimeout time.Duration `yaml:"rt_timeout"`
	// MaxRetxAttempts is the number of consecutive retransmissions a
	// Connection tolerates before aborting with a reset.
	MaxRetxAttempts uint32 `yaml:"max_retx_attempts"`
	// MaxPayloadSize caps the payload bytes a single outbound segment
	// carries.
	MaxPayloadSize uint16 `yaml:"max_payload_size"`
}

// DefaultConfig returns the values the original CS144 sponge lab uses.
func DefaultConfig() Config {
	return Config{
		RTTimeout:       time.Second,
		MaxRetxAttempts: 8,
		MaxPayloadSize:  1000,
	}
}

// configFile mirrors Config's shape for YAML unmarshaling, so that a
// partially-specified file still inherits DefaultConfig's values instead
// of zeroing unset fields. The retransmission timeout is read from the
// rt_timeout_ms key as whole milliseconds, not from Config's rt_timeout tag.
type configFile struct {
	RTTimeoutMillis *int64  `yaml:"rt_timeout_ms"`
	MaxRetxAttempts *uint32 `yaml:"max_retx_attempts"`
	MaxPayloadSize  *uint16 `yaml:"max_payload_size"`
}

// LoadConfig reads a YAML config file, falling back to DefaultConfig for any
// field the file leaves unset.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var parsed configFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return Config{}, err
	}

	if parsed.RTTimeoutMillis != nil {
		cfg.RTTimeout = time.Duration(*parsed.RTTimeoutMillis) * time.Millisecond
	}
	if parsed.MaxRetxAttempts != nil {
		cfg.MaxRetxAttempts = *parsed.MaxRetxAttempts
	}
	if parsed.MaxPayloadSize != nil {
		cfg.MaxPayloadSize = *parsed.MaxPayloadSize
	}

	return cfg, nil
}
