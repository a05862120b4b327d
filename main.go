package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"
	"xbee-to-mqtt/adapters"
	"xbee-to-mqtt/application"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

var Flags = []cli.Flag{
	FlagLogLevel,
	FlagLogWriter,
	FlagConfig,
	FlagPort,
	FlagBaudRate,
	FlagSampleRateMs,
	FlagEscaped,
	FlagDebugMode,
	FlagMQTTBroker,
	FlagMQTTPort,
	FlagMQTTUser,
	FlagMQTTPassword,
	FlagMQTTClientID,
	FlagStayUpOnFailure,
}

func main() {
	var logger zerolog.Logger

	app := cli.App{
		Name:    "xbee-to-mqtt",
		Version: "v0.0.1",
		Flags:   Flags,
		Before: func(ctx *cli.Context) error {
			var logWriter io.Writer
			if ctx.String(FlagLogWriter.Name) == "console" {
				logWriter = zerolog.ConsoleWriter{
					Out:        os.Stderr,
					TimeFormat: time.RFC3339Nano,
				}
			} else if ctx.String(FlagLogWriter.Name) == "json" {
				logWriter = os.Stderr
			}

			logger = zerolog.New(logWriter).With().Timestamp().
				Str("service", "xbee-to-mqtt").
				Str("module", "main").
				Logger()

			level, err := zerolog.ParseLevel(ctx.String(FlagLogLevel.Name))
			if err != nil {
				return err
			}

			zerolog.SetGlobalLevel(level)

			return nil
		},
		Action: func(ctx *cli.Context) error {
			logger.Info().Msg("service starting...")

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			requests := make(chan string, 1)
			appCtx, cancel := context.WithCancel(logger.WithContext(context.Background()))
			defer cancel()
			go func() {
				c := make(chan os.Signal, 1)
				signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
				defer signal.Stop(c)

				for {
					select {
					case <-appCtx.Done():
						return
					case sig := <-c:
						switch sig {
						case syscall.SIGHUP:
							logger.Info().Msg("reload signal received")
							request(appCtx, requests, application.CommandReload)
						case syscall.SIGUSR1:
							logger.Info().Msg("test publish signal received")
							request(appCtx, requests, application.CommandTestPublish)
						default:
							logger.Warn().Msg("interrupt signal received")
							cancel()
							return
						}
					}
				}
			}()

			newDevice := adapters.NewXBeeDeviceFactory(adapters.XBeeDeviceParams{
				Escaped: ctx.Bool(FlagEscaped.Name),
				Log:     logger.With().Str("module", "xbee-device").Logger(),
			})

			newMQTTClient := func(cfg application.Config) application.MQTTClient {
				return adapters.NewMQTTClient(adapters.MQTTClientParamsFromConfig(
					cfg, logger.With().Str("module", "mqtt-client").Logger()))
			}

			supervisor, err := application.NewBridgeSupervisor(application.BridgeSupervisorParams{
				NewDevice:     newDevice,
				NewMQTTClient: newMQTTClient,
				Log:           logger.With().Str("module", "bridge-supervisor").Logger(),
			})
			if err != nil {
				return err
			}

			controller, err := application.NewReloadController(application.ReloadControllerParams{
				Supervisor: supervisor,
				Log:        logger.With().Str("module", "reload-controller").Logger(),
			})
			if err != nil {
				return err
			}

			xbeeToMQTTService, err := application.NewXBeeToMQTTService(application.XBeeToMQTTServiceParams{
				Controller: controller,
				Config:     cfg,
				LoadConfig: func() (application.Config, error) {
					return loadConfig(ctx)
				},
				Requests: requests,
				Log:      logger.With().Str("module", "xbee-to-mqtt-service").Logger(),
			})
			if err != nil {
				return err
			}

			if !xbeeToMQTTService.Setup(appCtx) {
				if !ctx.Bool(FlagStayUpOnFailure.Name) {
					return fmt.Errorf("bridge failed to start")
				}
				logger.Warn().Msg("bridge failed to start, waiting for reload")
			}

			logger.Info().Msg("service started")
			err = xbeeToMQTTService.Run(appCtx)
			if err != nil {
				return err
			}

			logger.Info().Msg("service terminating...")
			return nil
		},
		Authors: []*cli.Author{
			{
				Name:  "Marcin Gorzynski",
				Email: "marcin@gorzynski.me",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Err(err).Msg("service terminated")
		os.Exit(1)
	}
}

func request(ctx context.Context, requests chan<- string, name string) {
	select {
	case requests <- name:
	case <-ctx.Done():
	}
}
