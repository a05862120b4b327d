package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

const (
	DefaultStopTimeout  = 5 * time.Second
	DefaultPollInterval = 1 * time.Second
	DefaultFrameBuffer  = 64
)

type BridgeSupervisorParams struct {
	NewDevice     XBeeDeviceFactory
	NewMQTTClient MQTTClientFactory

	// Registry defaults to a registry private to this supervisor.
	Registry *DevicePathRegistry
	Parser   *SampleParser

	PollInterval time.Duration
	StopTimeout  time.Duration
	FrameBuffer  int

	Log zerolog.Logger
}

func (p *BridgeSupervisorParams) EnsureDefaults() {
	if p.Registry == nil {
		p.Registry = NewDevicePathRegistry()
	}
	if p.Parser == nil {
		p.Parser = NewSampleParser(SampleParserParams{Log: p.Log.With().Str("module", "sample-parser").Logger()})
	}
	if p.PollInterval == 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.StopTimeout == 0 {
		p.StopTimeout = DefaultStopTimeout
	}
	if p.FrameBuffer == 0 {
		p.FrameBuffer = DefaultFrameBuffer
	}
}

// BridgeHandle is one running pairing of a device session and a broker
// publisher. In debug mode it has no session.
type BridgeHandle struct {
	config    Config
	session   *DeviceSession
	publisher *BrokerPublisher

	cancel context.CancelFunc
	done   chan struct{}
	frames chan string

	mu  sync.Mutex
	err error

	log zerolog.Logger
}

func (h *BridgeHandle) Config() Config {
	return h.config
}

func (h *BridgeHandle) Session() *DeviceSession {
	return h.session
}

func (h *BridgeHandle) Publisher() *BrokerPublisher {
	return h.publisher
}

// Done is closed once the background goroutine has finished its teardown.
func (h *BridgeHandle) Done() <-chan struct{} {
	return h.done
}

func (h *BridgeHandle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Err is the failure that ended the background goroutine, nil after a clean
// stop.
func (h *BridgeHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *BridgeHandle) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		h.err = err
	}
}

// enqueue is the device sample callback. It runs on the driver goroutine, so
// a full buffer drops the frame instead of blocking.
func (h *BridgeHandle) enqueue(frame string) {
	select {
	case h.frames <- frame:
	default:
		h.log.Warn().Str("frame", frame).Msg("frame buffer full, frame dropped")
	}
}

// BridgeSupervisor starts and stops bridge handles. It does not track which
// handle is current; ReloadController does.
type BridgeSupervisor struct {
	params BridgeSupervisorParams

	log zerolog.Logger
}

func NewBridgeSupervisor(params BridgeSupervisorParams) (*BridgeSupervisor, error) {
	if params.NewDevice == nil {
		return nil, fmt.Errorf("device factory is nil")
	}
	if params.NewMQTTClient == nil {
		return nil, fmt.Errorf("MQTTClient factory is nil")
	}
	params.EnsureDefaults()
	return &BridgeSupervisor{params: params, log: params.Log}, nil
}

func (s *BridgeSupervisor) StopTimeout() time.Duration {
	return s.params.StopTimeout
}

func (s *BridgeSupervisor) NewPublisher(cfg Config) (*BrokerPublisher, error) {
	return NewBrokerPublisher(BrokerPublisherParams{
		MQTTClient: s.params.NewMQTTClient(cfg),
		Log:        s.log.With().Str("module", "broker-publisher").Str("client_id", cfg.BrokerClientID).Logger(),
	})
}

func (s *BridgeSupervisor) newSession(cfg Config) (*DeviceSession, error) {
	return NewDeviceSession(DeviceSessionParams{
		DevicePath: cfg.DevicePath,
		BaudRate:   cfg.BaudRate,
		NewDevice:  s.params.NewDevice,
		Registry:   s.params.Registry,
		Log:        s.log.With().Str("module", "device-session").Logger(),
	})
}

// Probe opens the device once and closes it again.
func (s *BridgeSupervisor) Probe(cfg Config) error {
	probe, err := s.newSession(cfg)
	if err != nil {
		return err
	}
	defer probe.Close()

	if _, err := probe.Open(); err != nil {
		s.log.Error().Err(err).Str("device", cfg.DevicePath).Msg("device probe failed")
		if !errors.Is(err, ErrConnection) {
			return newBridgeError(ErrConnection, "probe", err)
		}
		return err
	}
	return nil
}

// Start probes the device, connects the publisher and brings the session up
// to Sampling on a background goroutine. It returns once sampling runs or
// startup failed; on failure nothing is left running.
func (s *BridgeSupervisor) Start(ctx context.Context, cfg Config) (*BridgeHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newBridgeError(ErrConfiguration, "start", err)
	}

	publisher, err := s.NewPublisher(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.DebugMode {
		return s.startDebug(cfg, publisher)
	}

	if err := s.Probe(cfg); err != nil {
		return nil, err
	}

	if err := publisher.Connect(); err != nil {
		return nil, err
	}

	session, err := s.newSession(cfg)
	if err != nil {
		publisher.Disconnect()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	h := &BridgeHandle{
		config:    cfg,
		session:   session,
		publisher: publisher,
		cancel:    cancel,
		done:      make(chan struct{}),
		frames:    make(chan string, s.params.FrameBuffer),
		log:       s.log.With().Str("device", cfg.DevicePath).Logger(),
	}

	ready := make(chan error, 1)

	var wg conc.WaitGroup
	wg.Go(func() {
		s.run(runCtx, h, ready)
	})
	go func() {
		if r := wg.WaitAndRecover(); r != nil {
			err := r.AsError()
			h.log.Error().Err(err).Bytes("stack", r.Stack).Msg("bridge goroutine panicked")
			h.setErr(err)
			session.Close()
			select {
			case ready <- err:
			default:
			}
		}
		close(h.done)
	}()

	select {
	case err := <-ready:
		if err != nil {
			<-h.done
			publisher.Disconnect()
			return nil, err
		}
	case <-ctx.Done():
		s.Stop(h, s.params.StopTimeout)
		return nil, newBridgeError(ErrConnection, "start", ctx.Err())
	}

	h.log.Info().Msg("bridge started")
	return h, nil
}

func (s *BridgeSupervisor) startDebug(cfg Config, publisher *BrokerPublisher) (*BridgeHandle, error) {
	s.log.Warn().Msg("debug mode, skipping xbee device startup")

	if err := publisher.Connect(); err != nil {
		return nil, err
	}
	if err := publisher.PublishDiagnostics(); err != nil {
		s.log.Warn().Err(err).Msg("diagnostic publish incomplete")
	}

	done := make(chan struct{})
	close(done)
	return &BridgeHandle{
		config:    cfg,
		publisher: publisher,
		cancel:    func() {},
		done:      done,
		log:       s.log,
	}, nil
}

func (s *BridgeSupervisor) run(ctx context.Context, h *BridgeHandle, ready chan<- error) {
	defer s.teardown(h)

	fail := func(err error) {
		h.setErr(err)
		ready <- err
	}

	status, err := h.session.Open()
	if err != nil {
		fail(err)
		return
	}
	_ = h.publisher.PublishReading(status)

	if err := h.session.Configure(h.config.SampleRateMs); err != nil {
		fail(err)
		return
	}
	if err := h.session.RegisterSampleCallback(h.enqueue); err != nil {
		fail(err)
		return
	}
	ready <- nil

	ticker := time.NewTicker(s.params.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("bridge stop requested")
			return
		case frame := <-h.frames:
			s.handleFrame(ctx, h, frame)
		case <-ticker.C:
			if err := h.session.Err(); err != nil {
				h.log.Error().Err(err).Msg("device failed, sampling stopped until reload")
				h.setErr(newBridgeError(ErrConnection, "sample", err))
				return
			}
		}
	}
}

func (s *BridgeSupervisor) handleFrame(ctx context.Context, h *BridgeHandle, frame string) {
	h.log.Info().Str("frame", frame).Msg("io sample received")

	// a ParseError is already logged by the parser and still yields sample_time
	readings, _ := s.params.Parser.Parse(frame)
	for _, r := range readings {
		if ctx.Err() != nil {
			return
		}
		h.publisher.Publish(r.Key, r.Value, r.Retained)
	}
}

func (s *BridgeSupervisor) teardown(h *BridgeHandle) {
	if err := h.session.DisableSampling(); err != nil {
		h.log.Warn().Err(err).Msg("disable sampling failed")
	}
	h.session.Close()
}

// Stop cancels the handle and waits up to timeout for its teardown. A
// goroutine that does not finish in time is abandoned. The publisher is
// disconnected either way, so nothing is published for this handle after
// Stop returns.
func (s *BridgeSupervisor) Stop(h *BridgeHandle, timeout time.Duration) {
	if h == nil {
		return
	}
	if timeout <= 0 {
		timeout = s.params.StopTimeout
	}

	h.cancel()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-h.done:
	case <-t.C:
		h.log.Warn().Dur("timeout", timeout).Msg("bridge goroutine did not stop in time, abandoning it")
	}

	h.publisher.Disconnect()
	h.log.Info().Msg("bridge stopped")
}
