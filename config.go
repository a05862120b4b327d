package main

import (
	"fmt"
	"os"
	"xbee-to-mqtt/application"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the yaml config file. Pointer fields tell an absent key
// apart from a zero value.
type fileConfig struct {
	Port         *string `yaml:"port"`
	BaudRate     *int    `yaml:"baud_rate"`
	SampleRateMs *int    `yaml:"sample_rate_ms"`
	DebugMode    *bool   `yaml:"debug_mode"`

	MQTTBroker   *string `yaml:"mqtt_broker"`
	MQTTPort     *int    `yaml:"mqtt_port"`
	MQTTUser     *string `yaml:"mqtt_user"`
	MQTTPassword *string `yaml:"mqtt_password"`
	MQTTClientID *string `yaml:"mqtt_client_id"`
}

func readConfigFile(path string) (fileConfig, error) {
	var fc fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parsing config file: %w", err)
	}
	return fc, nil
}

func (fc fileConfig) apply(cfg *application.Config) {
	if fc.Port != nil {
		cfg.DevicePath = *fc.Port
	}
	if fc.BaudRate != nil {
		cfg.BaudRate = *fc.BaudRate
	}
	if fc.SampleRateMs != nil {
		cfg.SampleRateMs = *fc.SampleRateMs
	}
	if fc.DebugMode != nil {
		cfg.DebugMode = *fc.DebugMode
	}
	if fc.MQTTBroker != nil {
		cfg.BrokerAddress = *fc.MQTTBroker
	}
	if fc.MQTTPort != nil {
		cfg.BrokerPort = *fc.MQTTPort
	}
	if fc.MQTTUser != nil {
		cfg.BrokerUser = *fc.MQTTUser
	}
	if fc.MQTTPassword != nil {
		cfg.BrokerPassword = *fc.MQTTPassword
	}
	if fc.MQTTClientID != nil {
		cfg.BrokerClientID = *fc.MQTTClientID
	}
}

// loadConfig builds the bridge configuration: defaults, then the config
// file, then flags and environment variables that were set explicitly.
func loadConfig(ctx *cli.Context) (application.Config, error) {
	cfg := application.DefaultConfig()

	if path := ctx.String(FlagConfig.Name); path != "" {
		fc, err := readConfigFile(path)
		if err != nil {
			return cfg, err
		}
		fc.apply(&cfg)
	}

	if ctx.IsSet(FlagPort.Name) {
		cfg.DevicePath = ctx.String(FlagPort.Name)
	}
	if ctx.IsSet(FlagBaudRate.Name) {
		cfg.BaudRate = ctx.Int(FlagBaudRate.Name)
	}
	if ctx.IsSet(FlagSampleRateMs.Name) {
		cfg.SampleRateMs = ctx.Int(FlagSampleRateMs.Name)
	}
	if ctx.IsSet(FlagDebugMode.Name) {
		cfg.DebugMode = ctx.Bool(FlagDebugMode.Name)
	}
	if ctx.IsSet(FlagMQTTBroker.Name) {
		cfg.BrokerAddress = ctx.String(FlagMQTTBroker.Name)
	}
	if ctx.IsSet(FlagMQTTPort.Name) {
		cfg.BrokerPort = ctx.Int(FlagMQTTPort.Name)
	}
	if ctx.IsSet(FlagMQTTUser.Name) {
		cfg.BrokerUser = ctx.String(FlagMQTTUser.Name)
	}
	if ctx.IsSet(FlagMQTTPassword.Name) {
		cfg.BrokerPassword = ctx.String(FlagMQTTPassword.Name)
	}
	if ctx.IsSet(FlagMQTTClientID.Name) {
		cfg.BrokerClientID = ctx.String(FlagMQTTClientID.Name)
	}

	return cfg, cfg.Validate()
}
