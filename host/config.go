package host

import (
	"bytes"
	"io"
	"math/bits"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// BufferAlignment is the default alignment in bytes of device memory allocated by the host platform.
const BufferAlignment = 64

// Config of a host Executor. The zero value is not valid, start from DefaultConfig.
//
// It can be loaded from YAML (see LoadConfig), e.g.:
//
//	name: host
//	alignment: 64
//	memory_limit: 1073741824
//	max_streams: 64
//	queue_capacity: 1024
//	disable_status: false
type Config struct {
	// Name of the platform instance, used in logs, errors and metrics labels.
	Name string `yaml:"name"`

	// Alignment in bytes of allocations, a power of 2.
	Alignment uint64 `yaml:"alignment"`

	// MemoryLimit is the maximum number of bytes allocated at any time. 0 means unlimited.
	MemoryLimit uint64 `yaml:"memory_limit"`

	// MaxStreams is the maximum number of streams allocated at any time. 0 means unlimited.
	MaxStreams int `yaml:"max_streams"`

	// QueueCapacity is the maximum number of pending operations per stream, further operations are rejected.
	// 0 means unlimited.
	QueueCapacity int `yaml:"queue_capacity"`

	// DisableStatus makes GetStatus report it is unimplemented, like platforms that can't query a stream's
	// status without blocking.
	//
	// It can also be set with the environment variable STREAMEXECUTOR_HOST_DISABLE_STATUS=1.
	DisableStatus bool `yaml:"disable_status"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Name:      "host",
		Alignment: BufferAlignment,
	}
}

// Validate returns an error describing the first invalid field, if any.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("host.Config: name must not be empty")
	}
	if c.Alignment == 0 || bits.OnesCount64(c.Alignment) != 1 {
		return errors.Errorf("host.Config: alignment must be a power of 2, got %d", c.Alignment)
	}
	if c.MaxStreams < 0 {
		return errors.Errorf("host.Config: max_streams must be >= 0, got %d", c.MaxStreams)
	}
	if c.QueueCapacity < 0 {
		return errors.Errorf("host.Config: queue_capacity must be >= 0, got %d", c.QueueCapacity)
	}
	return nil
}

// ParseConfig parses a YAML configuration. Fields not given keep the values of DefaultConfig, unknown fields
// are an error.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return Config{}, errors.Wrap(err, "failed to parse host platform configuration")
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// LoadConfig reads and parses the YAML configuration file in path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read host platform configuration from %q", path)
	}
	config, err := ParseConfig(data)
	if err != nil {
		return Config{}, errors.WithMessagef(err, "configuration file %q", path)
	}
	return config, nil
}
