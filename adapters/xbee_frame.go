package adapters

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	frameDelimiter = 0x7E
	frameEscape    = 0x7D
	frameXON       = 0x11
	frameXOFF      = 0x13
	frameEscapeXOR = 0x20

	frameTypeATCommand         = 0x08
	frameTypeATCommandResponse = 0x88
	frameTypeModemStatus       = 0x8A
	frameTypeIODataSample      = 0x92

	ioSampleHeaderLen = 16
	supplyVoltageBit  = 7
)

var (
	ErrFrameChecksum  = fmt.Errorf("frame checksum mismatch")
	ErrFrameTruncated = fmt.Errorf("frame truncated")
	ErrIOSampleShort  = fmt.Errorf("io sample frame too short")
)

var ioLineNames = []string{
	"DIO0_AD0", "DIO1_AD1", "DIO2_AD2", "DIO3_AD3", "DIO4_AD4", "DIO5_AD5",
	"DIO6", "DIO7", "DIO8", "DIO9", "DIO10_PWM0", "DIO11_PWM1", "DIO12", "DIO13", "DIO14",
}

func ioLineIndex(line string) (int, bool) {
	for i, name := range ioLineNames {
		if name == line {
			return i, true
		}
	}
	return 0, false
}

// ioLineATCommand is the AT command configuring the line: D0-D9, then P0-P4.
func ioLineATCommand(line string) (string, bool) {
	i, ok := ioLineIndex(line)
	if !ok {
		return "", false
	}
	if i < 10 {
		return fmt.Sprintf("D%d", i), true
	}
	return fmt.Sprintf("P%d", i-10), true
}

func frameChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

func needsEscape(b byte) bool {
	return b == frameDelimiter || b == frameEscape || b == frameXON || b == frameXOFF
}

// encodeFrame wraps frame data in an API frame. With escaped set, the
// bytes after the delimiter are escaped as in API mode 2.
func encodeFrame(data []byte, escaped bool) []byte {
	body := make([]byte, 0, len(data)+3)
	body = binary.BigEndian.AppendUint16(body, uint16(len(data)))
	body = append(body, data...)
	body = append(body, frameChecksum(data))

	out := make([]byte, 0, len(body)+1)
	out = append(out, frameDelimiter)
	for _, b := range body {
		if escaped && needsEscape(b) {
			out = append(out, frameEscape, b^frameEscapeXOR)
			continue
		}
		out = append(out, b)
	}
	return out
}

// frameDecoder reassembles API frames from a byte stream split at arbitrary
// points. Bytes outside a frame are discarded.
type frameDecoder struct {
	escaped    bool
	escapeNext bool
	buf        []byte
}

func (d *frameDecoder) Feed(p []byte) ([][]byte, []error) {
	var (
		frames [][]byte
		errs   []error
	)

	for _, b := range p {
		// in API mode 2 a raw delimiter always starts a frame
		if b == frameDelimiter && (d.escaped || len(d.buf) == 0) {
			if len(d.buf) > 0 {
				errs = append(errs, ErrFrameTruncated)
			}
			d.buf = append(d.buf[:0], b)
			d.escapeNext = false
			continue
		}
		if len(d.buf) == 0 {
			continue
		}
		if d.escaped {
			if d.escapeNext {
				b ^= frameEscapeXOR
				d.escapeNext = false
			} else if b == frameEscape {
				d.escapeNext = true
				continue
			}
		}

		d.buf = append(d.buf, b)
		if len(d.buf) < 3 {
			continue
		}

		length := int(binary.BigEndian.Uint16(d.buf[1:3]))
		if len(d.buf) < 3+length+1 {
			continue
		}

		data := d.buf[3 : 3+length]
		if frameChecksum(data) != d.buf[3+length] {
			errs = append(errs, ErrFrameChecksum)
		} else {
			frames = append(frames, append([]byte(nil), data...))
		}
		d.buf = d.buf[:0]
	}

	return frames, errs
}

type ioSample struct {
	source64 uint64

	digitalMask uint16
	digital     uint16
	analogMask  uint8
	analog      []uint16
}

func decodeIOSample(frame []byte) (ioSample, error) {
	if len(frame) < ioSampleHeaderLen || frame[0] != frameTypeIODataSample {
		return ioSample{}, ErrIOSampleShort
	}

	s := ioSample{
		source64:    binary.BigEndian.Uint64(frame[1:9]),
		digitalMask: binary.BigEndian.Uint16(frame[13:15]),
		analogMask:  frame[15],
	}

	pos := ioSampleHeaderLen
	if s.digitalMask != 0 {
		if len(frame) < pos+2 {
			return ioSample{}, ErrIOSampleShort
		}
		s.digital = binary.BigEndian.Uint16(frame[pos : pos+2])
		pos += 2
	}
	for bit := 0; bit < 8; bit++ {
		if s.analogMask&(1<<bit) == 0 {
			continue
		}
		if len(frame) < pos+2 {
			return ioSample{}, ErrIOSampleShort
		}
		s.analog = append(s.analog, binary.BigEndian.Uint16(frame[pos:pos+2]))
		pos += 2
	}

	return s, nil
}

// String renders the sample the way the Digi libraries print one, e.g.
// {[IOLine.DIO3_AD3: IOValue.HIGH], [IOLine.DIO2_AD2: 512]}.
func (s ioSample) String() string {
	var entries []string

	for i, name := range ioLineNames {
		if s.digitalMask&(1<<i) == 0 {
			continue
		}
		value := "LOW"
		if s.digital&(1<<i) != 0 {
			value = "HIGH"
		}
		entries = append(entries, fmt.Sprintf("[IOLine.%s: IOValue.%s]", name, value))
	}

	n := 0
	for bit := 0; bit < 8; bit++ {
		if s.analogMask&(1<<bit) == 0 {
			continue
		}
		v := s.analog[n]
		n++
		if bit == supplyVoltageBit {
			entries = append(entries, fmt.Sprintf("[Power supply value: %d]", v))
			continue
		}
		entries = append(entries, fmt.Sprintf("[IOLine.%s: %d]", ioLineNames[bit], v))
	}

	return "{" + strings.Join(entries, ", ") + "}"
}
