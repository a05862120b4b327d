package application

const TopicPrefix = "home/sensors/xbee/"

const (
	KeyStatus     = "xbee_status"
	KeySampleTime = "sample_time"
	KeyDIO2AD2    = "dio2_ad2"
	KeyDIO3AD3    = "dio3_ad3"
)

// Reading is one decoded key/value pair, published to TopicPrefix+Key.
type Reading struct {
	Key      string
	Value    string
	Retained bool
}

// DiagnosticReadings is the fixed set published by the test_publish command.
// It is not retained so it never replaces a real last-known value.
func DiagnosticReadings() []Reading {
	return []Reading{
		{Key: KeyStatus, Value: "TEST: XBEE module online"},
		{Key: KeySampleTime, Value: "2025-05-23T20:00:00"},
		{Key: KeyDIO2AD2, Value: "1234"},
		{Key: KeyDIO3AD3, Value: "HIGH"},
	}
}
