package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultReportInterval = 30 * time.Second

type XBeeToMQTTService interface {
	// Setup starts the bridge and reports whether it came up. It never
	// panics on a failed probe so the host can decide what to do next.
	Setup(ctx context.Context) bool
	Run(ctx context.Context) error
}

type XBeeToMQTTServiceParams struct {
	Controller *ReloadController
	Config     Config

	// LoadConfig is called on reload to pick up configuration changes. When
	// nil, reload reuses the last known configuration.
	LoadConfig func() (Config, error)

	// Requests carries host command names, see NewCommands.
	Requests <-chan string

	ReportInterval time.Duration

	Log zerolog.Logger
}

type xbeeToMQTTService struct {
	params   XBeeToMQTTServiceParams
	commands Commands

	log zerolog.Logger
}

func NewXBeeToMQTTService(params XBeeToMQTTServiceParams) (XBeeToMQTTService, error) {
	if params.Controller == nil {
		return nil, fmt.Errorf("ReloadController is nil")
	}
	if params.ReportInterval == 0 {
		params.ReportInterval = DefaultReportInterval
	}
	return &xbeeToMQTTService{
		params:   params,
		commands: NewCommands(params.Controller),
		log:      params.Log,
	}, nil
}

func (t *xbeeToMQTTService) Setup(ctx context.Context) bool {
	if err := t.params.Controller.Start(ctx, t.params.Config); err != nil {
		t.log.Error().Err(err).Bool("fatal", IsFatal(err)).Msg("bridge setup failed")
		return false
	}
	return true
}

func (t *xbeeToMQTTService) Run(ctx context.Context) error {
	g := errgroup.Group{}

	// host commands
	g.Go(func() error {
		defer t.params.Controller.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case name, ok := <-t.params.Requests:
				if !ok {
					<-ctx.Done()
					return nil
				}
				t.execute(ctx, name)
			}
		}
	})

	// mqtt publish reporter
	g.Go(func() error {
		ticker := time.NewTicker(t.params.ReportInterval)
		defer ticker.Stop()

		var lastStatus MQTTStatus

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				h := t.params.Controller.Current()
				if h == nil {
					t.log.Warn().Msg("bridge not running")
					lastStatus = MQTTStatus{}
					continue
				}

				newStatus := h.Publisher().Status()
				msgPerMin := float64(0)
				if lastStatus.Connected && newStatus.MessageCount >= lastStatus.MessageCount {
					msgPerMin = float64(newStatus.MessageCount-lastStatus.MessageCount) / t.params.ReportInterval.Minutes()
				}

				t.log.Info().
					Float64("msg_per_min", msgPerMin).
					Bool("is_connected", newStatus.Connected).
					Bool("is_sampling", h.Running()).
					Time("last_time_published", newStatus.LastTimePublished).
					Msg("publish report")

				lastStatus = newStatus
			}
		}
	})

	return g.Wait()
}

func (t *xbeeToMQTTService) execute(ctx context.Context, name string) {
	var cfg *Config
	if name == CommandReload && t.params.LoadConfig != nil {
		c, err := t.params.LoadConfig()
		if err != nil {
			t.log.Error().Err(err).Msg("failed to load configuration, keeping the last known one")
		} else {
			cfg = &c
		}
	}

	t.log.Info().Str("command", name).Msg("executing command")
	if err := t.commands.Execute(ctx, name, cfg); err != nil {
		t.log.Error().Err(err).Str("command", name).Msg("command failed")
	}
}
