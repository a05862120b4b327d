package main

import (
	"xbee-to-mqtt/application"

	"github.com/urfave/cli/v2"
)

var FlagLogLevel = &cli.StringFlag{
	Name:     "log-level",
	EnvVars:  []string{"LOG_LEVEL"},
	Value:    "info",
	Required: false,
}

var FlagLogWriter = &cli.StringFlag{
	Name:     "log-writer",
	Usage:    "one of: [console, json]",
	EnvVars:  []string{"LOG_WRITER"},
	Value:    "console",
	Required: false,
}

var FlagConfig = &cli.StringFlag{
	Name:     "config",
	Usage:    "path to a yaml config file, re-read on SIGHUP",
	EnvVars:  []string{"XBEE_CONFIG"},
	Required: false,
}

var FlagPort = &cli.StringFlag{
	Name:     "port",
	Usage:    "serial device path of the xbee module",
	EnvVars:  []string{"XBEE_PORT"},
	Value:    application.DefaultDevicePath(),
	Required: false,
}

var FlagBaudRate = &cli.IntFlag{
	Name:     "baud-rate",
	EnvVars:  []string{"XBEE_BAUD_RATE"},
	Value:    application.DefaultBaudRate,
	Required: false,
}

var FlagSampleRateMs = &cli.IntFlag{
	Name:     "sample-rate-ms",
	Usage:    "io sample rate in milliseconds, 1-65535",
	EnvVars:  []string{"XBEE_SAMPLE_RATE_MS"},
	Value:    application.DefaultSampleRateMs,
	Required: false,
}

var FlagEscaped = &cli.BoolFlag{
	Name:     "xbee-escaped",
	Usage:    "module runs in API mode 2 (escaped)",
	EnvVars:  []string{"XBEE_ESCAPED"},
	Required: false,
}

var FlagDebugMode = &cli.BoolFlag{
	Name:     "debug-mode",
	Usage:    "publish test values without opening the device",
	EnvVars:  []string{"XBEE_DEBUG_MODE"},
	Required: false,
}

var FlagMQTTBroker = &cli.StringFlag{
	Name:     "mqtt-broker",
	EnvVars:  []string{"MQTT_BROKER"},
	Value:    application.DefaultBrokerAddress,
	Required: false,
}

var FlagMQTTPort = &cli.IntFlag{
	Name:     "mqtt-port",
	EnvVars:  []string{"MQTT_PORT"},
	Value:    application.DefaultBrokerPort,
	Required: false,
}

var FlagMQTTUser = &cli.StringFlag{
	Name:     "mqtt-user",
	EnvVars:  []string{"MQTT_USER"},
	Required: false,
}

var FlagMQTTPassword = &cli.StringFlag{
	Name:     "mqtt-password",
	EnvVars:  []string{"MQTT_PASSWORD"},
	Required: false,
}

var FlagMQTTClientID = &cli.StringFlag{
	Name:     "mqtt-client-id",
	EnvVars:  []string{"MQTT_CLIENT_ID"},
	Value:    application.DefaultBrokerClientID,
	Required: false,
}

var FlagStayUpOnFailure = &cli.BoolFlag{
	Name:     "stay-up-on-failure",
	Usage:    "keep running after a failed start and wait for SIGHUP",
	EnvVars:  []string{"XBEE_STAY_UP_ON_FAILURE"},
	Required: false,
}
