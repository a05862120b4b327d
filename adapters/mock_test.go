package adapters

import (
	"io"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) IsConnectionOpen() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	return m.Called().Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return m.Called(topic, qos, retained, payload).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(topic, qos, callback).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return m.Called(filters, callback).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	return m.Called(topics).Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) AddRoute(topic string, callback mqtt.MessageHandler) {
	m.Called(topic, callback)
}

func (m *MockMQTTClient) OptionsReader() mqtt.ClientOptionsReader {
	return m.Called().Get(0).(mqtt.ClientOptionsReader)
}

var _ mqtt.Client = &MockMQTTClient{}

type MockToken struct {
	mock.Mock
}

func (m *MockToken) Wait() bool {
	return m.Called().Bool(0)
}

func (m *MockToken) WaitTimeout(d time.Duration) bool {
	return m.Called(d).Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	return m.Called().Get(0).(chan struct{})
}

func (m *MockToken) Error() error {
	return m.Called().Error(0)
}

var _ mqtt.Token = &MockToken{}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// fakeSerialPort plays the module side of a serial link. Bytes written by the
// driver are handed to respond, whose return value is fed back to the driver.
type fakeSerialPort struct {
	toDriverR *io.PipeReader
	toDriverW *io.PipeWriter

	mu      sync.Mutex
	written [][]byte
	respond func(frame []byte) [][]byte
	closed  bool
}

func newFakeSerialPort(respond func(frame []byte) [][]byte) *fakeSerialPort {
	r, w := io.Pipe()
	return &fakeSerialPort{toDriverR: r, toDriverW: w, respond: respond}
}

func (f *fakeSerialPort) Read(p []byte) (int, error) {
	return f.toDriverR.Read(p)
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.written = append(f.written, append([]byte(nil), p...))
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		var dec frameDecoder
		frames, _ := dec.Feed(p)
		for _, frame := range frames {
			for _, out := range respond(frame) {
				go f.toDriverW.Write(out)
			}
		}
	}
	return len(p), nil
}

// Inject sends raw bytes to the driver as if the module emitted them.
func (f *fakeSerialPort) Inject(b []byte) {
	_, _ = f.toDriverW.Write(b)
}

// Fail makes the next driver read fail with err.
func (f *fakeSerialPort) Fail(err error) {
	_ = f.toDriverW.CloseWithError(err)
}

func (f *fakeSerialPort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	_ = f.toDriverR.Close()
	return nil
}

func (f *fakeSerialPort) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}
