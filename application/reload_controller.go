package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

type ReloadControllerParams struct {
	Supervisor *BridgeSupervisor

	Log zerolog.Logger
}

// ReloadController owns the current bridge handle and replaces it under a
// single mutex. The old pair is fully torn down before the new pair is
// created, so two sessions never hold the same device path and two
// publishers never share a client id.
type ReloadController struct {
	supervisor *BridgeSupervisor

	mu      sync.Mutex
	current *BridgeHandle
	config  Config
	started bool

	log zerolog.Logger
}

func NewReloadController(params ReloadControllerParams) (*ReloadController, error) {
	if params.Supervisor == nil {
		return nil, fmt.Errorf("BridgeSupervisor is nil")
	}
	return &ReloadController{supervisor: params.Supervisor, log: params.Log}, nil
}

// Start brings up the first handle. cfg becomes the last known configuration
// even when startup fails, so a later reload without a config retries it.
func (r *ReloadController) Start(ctx context.Context, cfg Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return fmt.Errorf("bridge already started")
	}
	r.config = cfg
	r.started = true

	h, err := r.supervisor.Start(ctx, cfg)
	if err != nil {
		return err
	}
	r.current = h
	return nil
}

// Reload stops the current handle and starts a new one from cfg, or from the
// last known configuration when cfg is nil. If the new handle fails to start
// the bridge stays stopped.
func (r *ReloadController) Reload(ctx context.Context, cfg *Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.config
	if cfg != nil {
		next = *cfg
	} else if !r.started {
		return newBridgeError(ErrReload, "reload", fmt.Errorf("no configuration known yet"))
	}

	r.log.Info().Str("device", next.DevicePath).Str("broker", next.BrokerURL()).Msg("reloading bridge")

	r.stopLocked()
	r.config = next
	r.started = true

	h, err := r.supervisor.Start(ctx, next)
	if err != nil {
		r.log.Error().Err(err).Msg("reload failed, bridge stopped")
		return newBridgeError(ErrReload, "reload", err)
	}
	r.current = h

	r.log.Info().Msg("bridge reloaded")
	return nil
}

func (r *ReloadController) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLocked()
}

func (r *ReloadController) stopLocked() {
	if r.current == nil {
		return
	}
	r.supervisor.Stop(r.current, r.supervisor.StopTimeout())
	r.current.Publisher().Disconnect()
	r.current = nil
}

// TestPublish publishes the diagnostic set through the current publisher, or
// through a short-lived one when no bridge is running.
func (r *ReloadController) TestPublish(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return r.current.Publisher().PublishDiagnostics()
	}

	cfg := r.config
	if !r.started {
		cfg = DefaultConfig()
	}
	publisher, err := r.supervisor.NewPublisher(cfg)
	if err != nil {
		return err
	}
	if err := publisher.Connect(); err != nil {
		return err
	}
	defer publisher.Disconnect()

	return publisher.PublishDiagnostics()
}

func (r *ReloadController) Current() *BridgeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *ReloadController) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}

// CommandFunc is a host command. cfg is optional; nil means the last known
// configuration.
type CommandFunc func(ctx context.Context, cfg *Config) error

const (
	CommandStart       = "start"
	CommandStop        = "stop"
	CommandReload      = "reload"
	CommandTestPublish = "test_publish"
)

type Commands map[string]CommandFunc

// NewCommands exposes the controller as a function table the host can bind to
// its own command mechanism.
func NewCommands(r *ReloadController) Commands {
	return Commands{
		CommandStart: func(ctx context.Context, cfg *Config) error {
			if cfg == nil {
				c := r.Config()
				cfg = &c
			}
			return r.Start(ctx, *cfg)
		},
		CommandStop: func(ctx context.Context, cfg *Config) error {
			r.Stop()
			return nil
		},
		CommandReload: r.Reload,
		CommandTestPublish: func(ctx context.Context, cfg *Config) error {
			return r.TestPublish(ctx)
		},
	}
}

func (c Commands) Execute(ctx context.Context, name string, cfg *Config) error {
	cmd, ok := c[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	return cmd(ctx, cfg)
}
