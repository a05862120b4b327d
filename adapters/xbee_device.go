package adapters

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"xbee-to-mqtt/application"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

const (
	XBeeDefaultATTimeout   = 4 * time.Second
	XBeeDefaultReadTimeout = 100 * time.Millisecond

	atStatusOK = 0
)

var (
	ErrXBeeNotOpen     = fmt.Errorf("xbee device not open")
	ErrXBeeClosed      = fmt.Errorf("xbee device closed")
	ErrXBeeATTimeout   = fmt.Errorf("at command timeout")
	ErrXBeeUnknownLine = fmt.Errorf("unknown io line")
)

// ATCommandError is a non-OK status in an AT command response.
type ATCommandError struct {
	Command string
	Status  byte
}

func (e *ATCommandError) Error() string {
	var reason string
	switch e.Status {
	case 1:
		reason = "error"
	case 2:
		reason = "invalid command"
	case 3:
		reason = "invalid parameter"
	case 4:
		reason = "tx failure"
	default:
		reason = fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("at command %s: %s", e.Command, reason)
}

type XBeeDeviceParams struct {
	Path     string
	BaudRate int

	// Escaped selects API mode 2 framing.
	Escaped bool

	ATTimeout   time.Duration
	ReadTimeout time.Duration

	OpenPort func(path string, baudRate int, readTimeout time.Duration) (io.ReadWriteCloser, error)

	Log zerolog.Logger
}

func (p *XBeeDeviceParams) EnsureDefaults() {
	if p.ATTimeout == 0 {
		p.ATTimeout = XBeeDefaultATTimeout
	}
	if p.ReadTimeout == 0 {
		p.ReadTimeout = XBeeDefaultReadTimeout
	}
	if p.OpenPort == nil {
		p.OpenPort = openSerialPort
	}
}

func openSerialPort(path string, baudRate int, readTimeout time.Duration) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        baudRate,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		Size:        8,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

type atResponse struct {
	command string
	status  byte
	data    []byte
}

// XBeeDevice talks to a local XBee module in API mode over a serial port. A
// reader goroutine completes AT requests and delivers IO sample frames to the
// sample handler.
type XBeeDevice struct {
	params XBeeDeviceParams

	writeMu sync.Mutex

	mu          sync.Mutex
	port        io.ReadWriteCloser
	open        bool
	stop        chan struct{}
	readerDone  chan struct{}
	pending     map[byte]chan atResponse
	nextFrameID byte
	handler     func(frame string)
	err         error

	log zerolog.Logger
}

func NewXBeeDevice(params XBeeDeviceParams) *XBeeDevice {
	params.EnsureDefaults()
	return &XBeeDevice{
		params:  params,
		pending: map[byte]chan atResponse{},
		log:     params.Log.With().Str("port", params.Path).Logger(),
	}
}

// NewXBeeDeviceFactory returns a factory creating devices that share params
// apart from path and baud rate.
func NewXBeeDeviceFactory(params XBeeDeviceParams) application.XBeeDeviceFactory {
	return func(path string, baudRate int) application.XBeeDevice {
		p := params
		p.Path = path
		p.BaudRate = baudRate
		return NewXBeeDevice(p)
	}
}

func (x *XBeeDevice) Open() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.open {
		return nil
	}

	port, err := x.params.OpenPort(x.params.Path, x.params.BaudRate, x.params.ReadTimeout)
	if err != nil {
		return fmt.Errorf("open %s: %w", x.params.Path, err)
	}

	x.port = port
	x.open = true
	x.err = nil
	x.stop = make(chan struct{})
	x.readerDone = make(chan struct{})

	go x.readLoop(port, x.stop, x.readerDone)

	x.log.Info().Int("baud_rate", x.params.BaudRate).Msg("xbee device opened")
	return nil
}

func (x *XBeeDevice) Close() error {
	x.mu.Lock()
	if !x.open {
		x.mu.Unlock()
		return nil
	}
	x.open = false
	close(x.stop)
	port, readerDone := x.port, x.readerDone
	for id, ch := range x.pending {
		delete(x.pending, id)
		close(ch)
	}
	x.mu.Unlock()

	err := port.Close()
	<-readerDone
	return err
}

func (x *XBeeDevice) IsOpen() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.open
}

func (x *XBeeDevice) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

func (x *XBeeDevice) SetIOSampleHandler(handler func(frame string)) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.handler = handler
}

func (x *XBeeDevice) NodeID() (string, error) {
	data, err := x.sendAT("NI", nil)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (x *XBeeDevice) FirmwareVersion() ([]byte, error) {
	return x.sendAT("VR", nil)
}

func (x *XBeeDevice) SetIOConfiguration(line application.IOLine, mode application.IOMode) error {
	cmd, ok := ioLineATCommand(string(line))
	if !ok {
		return fmt.Errorf("%w: %s", ErrXBeeUnknownLine, line)
	}
	_, err := x.sendAT(cmd, []byte{byte(mode)})
	return err
}

func (x *XBeeDevice) SetDestAddress(addr uint64) error {
	high := make([]byte, 4)
	low := make([]byte, 4)
	binary.BigEndian.PutUint32(high, uint32(addr>>32))
	binary.BigEndian.PutUint32(low, uint32(addr))

	if _, err := x.sendAT("DH", high); err != nil {
		return err
	}
	_, err := x.sendAT("DL", low)
	return err
}

func (x *XBeeDevice) SetParameter(param string, value []byte) error {
	_, err := x.sendAT(param, value)
	return err
}

func (x *XBeeDevice) ApplyChanges() error {
	_, err := x.sendAT("AC", nil)
	return err
}

// ExecuteCommand sends cmd and waits for its status only; response data is
// discarded.
func (x *XBeeDevice) ExecuteCommand(cmd string) error {
	_, err := x.sendAT(cmd, nil)
	return err
}

func (x *XBeeDevice) sendAT(cmd string, param []byte) ([]byte, error) {
	if len(cmd) != 2 {
		return nil, fmt.Errorf("invalid at command %q", cmd)
	}

	x.mu.Lock()
	if !x.open {
		x.mu.Unlock()
		return nil, ErrXBeeNotOpen
	}
	if x.err != nil {
		err := x.err
		x.mu.Unlock()
		return nil, err
	}
	id := x.allocFrameID()
	ch := make(chan atResponse, 1)
	x.pending[id] = ch
	port, stop := x.port, x.stop
	x.mu.Unlock()

	data := append([]byte{frameTypeATCommand, id, cmd[0], cmd[1]}, param...)

	x.writeMu.Lock()
	_, err := port.Write(encodeFrame(data, x.params.Escaped))
	x.writeMu.Unlock()
	if err != nil {
		x.dropPending(id)
		return nil, fmt.Errorf("write at command %s: %w", cmd, err)
	}

	t := time.NewTimer(x.params.ATTimeout)
	defer t.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrXBeeClosed
		}
		if resp.status != atStatusOK {
			return nil, &ATCommandError{Command: cmd, Status: resp.status}
		}
		return resp.data, nil
	case <-t.C:
		x.dropPending(id)
		return nil, fmt.Errorf("%w: %s", ErrXBeeATTimeout, cmd)
	case <-stop:
		return nil, ErrXBeeClosed
	}
}

// allocFrameID returns the next free frame id, never 0 since that disables
// the response. Callers hold mu.
func (x *XBeeDevice) allocFrameID() byte {
	for {
		x.nextFrameID++
		if x.nextFrameID == 0 {
			continue
		}
		if _, busy := x.pending[x.nextFrameID]; !busy {
			return x.nextFrameID
		}
	}
}

func (x *XBeeDevice) dropPending(id byte) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.pending, id)
}

func (x *XBeeDevice) readLoop(port io.Reader, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	dec := frameDecoder{escaped: x.params.Escaped}
	buf := make([]byte, 256)

	for {
		n, err := port.Read(buf)
		if n > 0 {
			frames, errs := dec.Feed(buf[:n])
			for _, ferr := range errs {
				x.log.Warn().Err(ferr).Msg("dropped api frame")
			}
			for _, f := range frames {
				x.dispatch(f)
			}
		}

		select {
		case <-stop:
			return
		default:
		}

		// a read timeout shows up as io.EOF with no data
		if err != nil && !errors.Is(err, io.EOF) {
			x.log.Error().Err(err).Msg("serial read failed")
			x.mu.Lock()
			x.err = err
			x.mu.Unlock()
			return
		}
	}
}

func (x *XBeeDevice) dispatch(frame []byte) {
	if len(frame) == 0 {
		return
	}

	switch frame[0] {
	case frameTypeATCommandResponse:
		if len(frame) < 5 {
			x.log.Warn().Hex("frame", frame).Msg("short at command response")
			return
		}
		resp := atResponse{
			command: string(frame[2:4]),
			status:  frame[4],
			data:    append([]byte(nil), frame[5:]...),
		}
		x.mu.Lock()
		ch, ok := x.pending[frame[1]]
		delete(x.pending, frame[1])
		x.mu.Unlock()
		if ok {
			ch <- resp
		}
	case frameTypeIODataSample:
		sample, err := decodeIOSample(frame)
		if err != nil {
			x.log.Warn().Err(err).Hex("frame", frame).Msg("bad io sample")
			return
		}
		x.mu.Lock()
		handler := x.handler
		x.mu.Unlock()
		if handler != nil {
			handler(sample.String())
		}
	case frameTypeModemStatus:
		if len(frame) > 1 {
			x.log.Debug().Uint8("status", frame[1]).Msg("modem status")
		}
	default:
		x.log.Debug().Uint8("type", frame[0]).Msg("ignored api frame")
	}
}

var _ application.XBeeDevice = &XBeeDevice{}
