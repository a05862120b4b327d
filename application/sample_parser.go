package application

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	lineDIO2AD2 = "DIO2_AD2"
	lineDIO3AD3 = "DIO3_AD3"

	adcMaxRaw    = 1023
	adcReference = 3.3
)

var (
	digitalEntryRe = regexp.MustCompile(`IOLine\.([A-Z0-9_]+):\s*IOValue\.([A-Z]+)`)
	analogEntryRe  = regexp.MustCompile(`IOLine\.([A-Z0-9_]+):\s*(\d+)`)
)

type SampleParserParams struct {
	// Now stamps sample_time. The device does not send a timestamp.
	Now func() time.Time

	Log zerolog.Logger
}

func (p *SampleParserParams) EnsureDefaults() {
	if p.Now == nil {
		p.Now = time.Now
	}
}

// SampleParser decodes the text form of an IO sample frame into readings. It
// keeps no state between frames.
type SampleParser struct {
	now func() time.Time

	log zerolog.Logger
}

func NewSampleParser(params SampleParserParams) *SampleParser {
	params.EnsureDefaults()
	return &SampleParser{now: params.Now, log: params.Log}
}

// Parse always returns a sample_time reading. The returned error is a
// ParseError diagnostic for a frame without a single IO line entry; the
// readings are still valid and the caller is expected to carry on.
func (p *SampleParser) Parse(frame string) ([]Reading, error) {
	var readings []Reading
	recognized := false

	for _, m := range digitalEntryRe.FindAllStringSubmatch(frame, -1) {
		recognized = true
		line, value := m[1], m[2]
		p.log.Debug().Str("line", line).Str("value", value).Msg("digital line")
		if line == lineDIO3AD3 {
			readings = append(readings, Reading{Key: KeyDIO3AD3, Value: value, Retained: true})
		}
	}

	for _, m := range analogEntryRe.FindAllStringSubmatch(frame, -1) {
		recognized = true
		line := m[1]
		if line != lineDIO2AD2 {
			p.log.Debug().Str("line", line).Str("value", m[2]).Msg("analog line")
			continue
		}
		raw, err := strconv.Atoi(m[2])
		if err != nil {
			p.log.Warn().Err(err).Str("line", line).Msg("unparseable analog value")
			continue
		}
		value := FormatAnalog(raw)
		p.log.Debug().Str("line", line).Str("value", value).Msg("analog line")
		readings = append(readings, Reading{Key: KeyDIO2AD2, Value: value, Retained: true})
	}

	readings = append(readings, Reading{
		Key:      KeySampleTime,
		Value:    p.now().Format(time.RFC3339Nano),
		Retained: true,
	})

	if !recognized {
		err := newBridgeError(ErrParse, "parse sample", fmt.Errorf("no io line entries in frame %q", frame))
		p.log.Warn().Err(err).Msg("frame dropped")
		return readings, err
	}
	return readings, nil
}

// FormatAnalog renders a raw 10 bit ADC value with its voltage against a 3.3V
// reference. Values outside 0-1023 go through the same formula unclamped.
func FormatAnalog(raw int) string {
	voltage := float64(raw) / adcMaxRaw * adcReference
	return fmt.Sprintf("%d (approx. %.2fV)", raw, voltage)
}
