package application

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type SessionState int

const (
	SessionClosed SessionState = iota
	SessionOpening
	SessionConfigured
	SessionSampling
	SessionDisabling
	SessionError
)

func (s SessionState) String() string {
	switch s {
	case SessionClosed:
		return "closed"
	case SessionOpening:
		return "opening"
	case SessionConfigured:
		return "configured"
	case SessionSampling:
		return "sampling"
	case SessionDisabling:
		return "disabling"
	case SessionError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// EncodeSampleRate encodes the IR parameter as a big-endian 16 bit value.
func EncodeSampleRate(sampleRateMs uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, sampleRateMs)
	return b
}

type DeviceSessionParams struct {
	DevicePath string
	BaudRate   int

	NewDevice XBeeDeviceFactory
	Registry  *DevicePathRegistry

	Log zerolog.Logger
}

// DeviceSession owns one open XBee handle and walks it through
// Closed -> Opening -> Configured -> Sampling -> Disabling -> Closed. Any
// failed step lands in Error, from which only Close is accepted.
//
// Lifecycle methods are serialized by opMu. The sample handler runs on the
// driver's goroutine holding stateMu for reading, so moving to Disabling or
// Closed waits for an in-flight handler and no handler starts afterwards.
// Device I/O never happens with stateMu held: the driver goroutine that runs
// the handler is also the one completing AT requests.
type DeviceSession struct {
	params DeviceSessionParams

	opMu   sync.Mutex
	device XBeeDevice

	stateMu sync.RWMutex
	state   SessionState

	log zerolog.Logger
}

func NewDeviceSession(params DeviceSessionParams) (*DeviceSession, error) {
	if params.NewDevice == nil {
		return nil, fmt.Errorf("device factory is nil")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("device path registry is nil")
	}
	return &DeviceSession{
		params: params,
		log:    params.Log.With().Str("device", params.DevicePath).Logger(),
	}, nil
}

func (s *DeviceSession) State() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Open acquires the device path and reads the module identification. It does
// not retry.
func (s *DeviceSession) Open() (Reading, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.transition(SessionOpening, SessionClosed); err != nil {
		return Reading{}, newBridgeError(ErrInvalidState, "open", err)
	}

	if !s.params.Registry.Acquire(s.params.DevicePath) {
		s.setState(SessionClosed)
		return Reading{}, newBridgeError(ErrConnection, "open", ErrDeviceBusy)
	}

	s.device = s.params.NewDevice(s.params.DevicePath, s.params.BaudRate)
	if err := s.device.Open(); err != nil {
		s.log.Error().Err(err).Msg("failed to open xbee device")
		s.setState(SessionError)
		return Reading{}, newBridgeError(ErrConnection, "open", err)
	}

	nodeID, err := s.device.NodeID()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read node id")
		s.setState(SessionError)
		return Reading{}, newBridgeError(ErrConnection, "read node id", err)
	}
	firmware, err := s.device.FirmwareVersion()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read firmware version")
		s.setState(SessionError)
		return Reading{}, newBridgeError(ErrConnection, "read firmware version", err)
	}

	status := fmt.Sprintf("XBEE module: %s, Firmware version: %x", strings.TrimSpace(nodeID), firmware)
	s.log.Info().Msg(status)

	s.setState(SessionConfigured)
	return Reading{Key: KeyStatus, Value: status, Retained: true}, nil
}

// Configure sets DIO2 to analog input, DIO3 to digital input, broadcasts
// samples, writes the sampling interval, applies and requests one sample.
// The first failing step aborts; the steps before it stay applied on the
// device.
func (s *DeviceSession) Configure(sampleRateMs int) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.transition(SessionConfigured, SessionConfigured); err != nil {
		return newBridgeError(ErrInvalidState, "configure", err)
	}

	if sampleRateMs <= 0 || sampleRateMs > maxSampleRateMs {
		s.setState(SessionError)
		return newBridgeError(ErrConfiguration, "configure", fmt.Errorf("sample rate %dms out of range", sampleRateMs))
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"configure DIO2_AD2 as analog input", func() error {
			return s.device.SetIOConfiguration(IOLineDIO2AD2, IOModeADC)
		}},
		{"configure DIO3_AD3 as digital input", func() error {
			return s.device.SetIOConfiguration(IOLineDIO3AD3, IOModeDigitalIn)
		}},
		{"set broadcast destination", func() error {
			return s.device.SetDestAddress(BroadcastAddress)
		}},
		{"set sample rate", func() error {
			return s.device.SetParameter(ParamSampleRate, EncodeSampleRate(uint16(sampleRateMs)))
		}},
		{"apply changes", s.device.ApplyChanges},
		{"request immediate sample", func() error {
			return s.device.ExecuteCommand(CommandIOSample)
		}},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			s.log.Error().Err(err).Str("step", step.name).Msg("failed to configure xbee device")
			s.setState(SessionError)
			return newBridgeError(ErrConfiguration, step.name, err)
		}
		s.log.Debug().Str("step", step.name).Msg("configure step done")
	}

	s.log.Info().Int("sample_rate_ms", sampleRateMs).Msg("xbee device configured")
	return nil
}

// RegisterSampleCallback installs fn as the frame handler and starts
// sampling. fn runs on the driver goroutine and must not block.
func (s *DeviceSession) RegisterSampleCallback(fn func(frame string)) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if fn == nil {
		return fmt.Errorf("sample callback is nil")
	}
	if s.State() != SessionConfigured {
		return newBridgeError(ErrInvalidState, "register sample callback",
			fmt.Errorf("session is %s", s.State()))
	}

	s.device.SetIOSampleHandler(func(frame string) {
		s.stateMu.RLock()
		defer s.stateMu.RUnlock()

		if s.state != SessionSampling {
			return
		}
		fn(frame)
	})

	s.setState(SessionSampling)
	s.log.Info().Msg("io sample callback registered")
	return nil
}

// DisableSampling writes IR=0 and applies it. It is used on shutdown, so the
// error is only informational.
func (s *DeviceSession) DisableSampling() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.transition(SessionDisabling, SessionSampling, SessionConfigured); err != nil {
		return newBridgeError(ErrInvalidState, "disable sampling", err)
	}

	s.device.SetIOSampleHandler(nil)

	if err := s.device.SetParameter(ParamSampleRate, EncodeSampleRate(0)); err != nil {
		s.log.Warn().Err(err).Msg("failed to disable io sampling")
		s.setState(SessionError)
		return newBridgeError(ErrConfiguration, "disable sampling", err)
	}
	if err := s.device.ApplyChanges(); err != nil {
		s.log.Warn().Err(err).Msg("failed to apply disabled io sampling")
		s.setState(SessionError)
		return newBridgeError(ErrConfiguration, "disable sampling", err)
	}

	s.log.Info().Msg("io sampling disabled")
	return nil
}

// Close releases the device and the device path. Calling it again is a no-op.
func (s *DeviceSession) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() == SessionClosed {
		return
	}
	s.setState(SessionClosed)

	if s.device != nil {
		s.device.SetIOSampleHandler(nil)
		if s.device.IsOpen() {
			if err := s.device.Close(); err != nil {
				s.log.Warn().Err(err).Msg("error closing xbee device")
			} else {
				s.log.Info().Msg("device closed")
			}
		}
		s.device = nil
	}
	s.params.Registry.Release(s.params.DevicePath)
}

// Err returns the asynchronous device failure, if any.
func (s *DeviceSession) Err() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.device == nil {
		return nil
	}
	return s.device.Err()
}

func (s *DeviceSession) transition(to SessionState, from ...SessionState) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	for _, f := range from {
		if s.state == f {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("cannot move from %s to %s", s.state, to)
}

func (s *DeviceSession) setState(state SessionState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}
