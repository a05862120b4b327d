package application

import (
	"fmt"
	"runtime"
	"strings"
)

const (
	DefaultBaudRate       = 57600
	DefaultSampleRateMs   = 1000
	DefaultBrokerAddress  = "localhost"
	DefaultBrokerPort     = 1883
	DefaultBrokerClientID = "xbee-bridge"

	maxSampleRateMs = 0xFFFF
)

// Config is bound to a running bridge by value. A reload builds a new Config,
// it never edits the one a running session was started with.
type Config struct {
	DevicePath   string
	BaudRate     int
	SampleRateMs int

	BrokerAddress  string
	BrokerPort     int
	BrokerUser     string
	BrokerPassword string
	BrokerClientID string

	DebugMode bool
}

func DefaultConfig() Config {
	return Config{
		DevicePath:     DefaultDevicePath(),
		BaudRate:       DefaultBaudRate,
		SampleRateMs:   DefaultSampleRateMs,
		BrokerAddress:  DefaultBrokerAddress,
		BrokerPort:     DefaultBrokerPort,
		BrokerClientID: DefaultBrokerClientID,
	}
}

// DefaultDevicePath returns the usual USB serial adapter path for the platform.
func DefaultDevicePath() string {
	switch runtime.GOOS {
	case "windows":
		return "COM3"
	case "darwin":
		return "/dev/tty.usbserial"
	default:
		return "/dev/ttyUSB0"
	}
}

func (c Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.BrokerAddress, c.BrokerPort)
}

func (c Config) HasCredentials() bool {
	return c.BrokerUser != ""
}

func (c Config) Validate() error {
	var errs []string

	if !c.DebugMode {
		if c.DevicePath == "" {
			errs = append(errs, "port is required")
		}
		if c.BaudRate <= 0 {
			errs = append(errs, "baud_rate must be positive")
		}
	}
	if c.SampleRateMs <= 0 || c.SampleRateMs > maxSampleRateMs {
		errs = append(errs, fmt.Sprintf("sample_rate_ms must be between 1 and %d", maxSampleRateMs))
	}
	if c.BrokerAddress == "" {
		errs = append(errs, "mqtt_broker is required")
	}
	if c.BrokerPort < 1 || c.BrokerPort > 65535 {
		errs = append(errs, "mqtt_port must be between 1 and 65535")
	}
	if (c.BrokerUser == "") != (c.BrokerPassword == "") {
		errs = append(errs, "mqtt_user and mqtt_password must be set together")
	}
	if c.BrokerClientID == "" {
		errs = append(errs, "mqtt_client_id is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
