package application

import (
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"
)

type MockXBeeDevice struct {
	mock.Mock
}

func (m *MockXBeeDevice) Open() error {
	return m.Called().Error(0)
}

func (m *MockXBeeDevice) Close() error {
	return m.Called().Error(0)
}

func (m *MockXBeeDevice) IsOpen() bool {
	return m.Called().Bool(0)
}

func (m *MockXBeeDevice) NodeID() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockXBeeDevice) FirmwareVersion() ([]byte, error) {
	args := m.Called()

	var firmware []byte
	if v := args.Get(0); v != nil {
		firmware = v.([]byte)
	}
	return firmware, args.Error(1)
}

func (m *MockXBeeDevice) SetIOConfiguration(line IOLine, mode IOMode) error {
	return m.Called(line, mode).Error(0)
}

func (m *MockXBeeDevice) SetDestAddress(addr uint64) error {
	return m.Called(addr).Error(0)
}

func (m *MockXBeeDevice) SetParameter(param string, value []byte) error {
	return m.Called(param, value).Error(0)
}

func (m *MockXBeeDevice) ApplyChanges() error {
	return m.Called().Error(0)
}

func (m *MockXBeeDevice) ExecuteCommand(cmd string) error {
	return m.Called(cmd).Error(0)
}

func (m *MockXBeeDevice) SetIOSampleHandler(handler func(frame string)) {
	m.Called(handler)
}

func (m *MockXBeeDevice) Err() error {
	return m.Called().Error(0)
}

var _ XBeeDevice = &MockXBeeDevice{}

type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, msg any) error {
	return m.Called(topic, qos, retained, msg).Error(0)
}

func (m *MockMQTTClient) Connect() error {
	return m.Called().Error(0)
}

func (m *MockMQTTClient) Disconnect() {
	m.Called()
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.Called().Bool(0)
}

func (m *MockMQTTClient) Status() MQTTStatus {
	return m.Called().Get(0).(MQTTStatus)
}

var _ MQTTClient = &MockMQTTClient{}

// deviceBus hands out fake devices and records every open and close. It
// flags an overlap when a path is opened while a device on it is still open.
type deviceBus struct {
	mu       sync.Mutex
	events   []string
	open     map[string]int
	overlap  bool
	failOpen map[string]error
	failIR   error
	devices  []*fakeDevice

	// blockDisable makes IR=0 writes hang until closed
	blockDisable chan struct{}
}

func newDeviceBus() *deviceBus {
	return &deviceBus{open: map[string]int{}, failOpen: map[string]error{}}
}

func (b *deviceBus) factory(path string, baudRate int) XBeeDevice {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := &fakeDevice{bus: b, path: path}
	b.devices = append(b.devices, d)
	return d
}

func (b *deviceBus) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *deviceBus) Overlap() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overlap
}

func (b *deviceBus) OpenCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open[path]
}

// Last returns the most recently created device.
func (b *deviceBus) Last() *fakeDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[len(b.devices)-1]
}

type fakeDevice struct {
	bus  *deviceBus
	path string

	mu      sync.Mutex
	isOpen  bool
	handler func(frame string)
	params  map[string][]byte
	err     error
}

func (d *fakeDevice) Open() error {
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()

	if err := d.bus.failOpen[d.path]; err != nil {
		return err
	}
	if d.bus.open[d.path] > 0 {
		d.bus.overlap = true
		return fmt.Errorf("%s already open", d.path)
	}
	d.bus.open[d.path]++
	d.bus.events = append(d.bus.events, "open "+d.path)

	d.mu.Lock()
	d.isOpen = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	wasOpen := d.isOpen
	d.isOpen = false
	d.mu.Unlock()
	if !wasOpen {
		return nil
	}

	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	d.bus.open[d.path]--
	d.bus.events = append(d.bus.events, "close "+d.path)
	return nil
}

func (d *fakeDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isOpen
}

func (d *fakeDevice) NodeID() (string, error) {
	return "ROUTER1 ", nil
}

func (d *fakeDevice) FirmwareVersion() ([]byte, error) {
	return []byte{0x20, 0x0A}, nil
}

func (d *fakeDevice) SetIOConfiguration(line IOLine, mode IOMode) error {
	return nil
}

func (d *fakeDevice) SetDestAddress(addr uint64) error {
	return nil
}

func (d *fakeDevice) SetParameter(param string, value []byte) error {
	d.bus.mu.Lock()
	failIR, block := d.bus.failIR, d.bus.blockDisable
	d.bus.mu.Unlock()

	if param == ParamSampleRate {
		if failIR != nil {
			return failIR
		}
		if block != nil && value[0] == 0 && value[1] == 0 {
			<-block
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.params == nil {
		d.params = map[string][]byte{}
	}
	d.params[param] = value
	return nil
}

func (d *fakeDevice) Param(param string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params[param]
}

func (d *fakeDevice) ApplyChanges() error {
	return nil
}

func (d *fakeDevice) ExecuteCommand(cmd string) error {
	return nil
}

func (d *fakeDevice) SetIOSampleHandler(handler func(frame string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

// Emit delivers frame the way the driver's reader goroutine would. It
// reports whether a handler was installed.
func (d *fakeDevice) Emit(frame string) bool {
	d.mu.Lock()
	handler := d.handler
	d.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(frame)
	return true
}

func (d *fakeDevice) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDevice) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

var _ XBeeDevice = &fakeDevice{}

type published struct {
	clientID string
	topic    string
	value    string
	retained bool
}

// fakeBroker records publishes and flags two connected clients sharing a
// client id.
type fakeBroker struct {
	mu         sync.Mutex
	connected  map[string]int
	overlap    bool
	messages   []published
	retained   map[string]string
	connectErr error
	clients    []*fakeMQTTClient

	// publishes to blockTopic signal blocked and hang until release is closed
	blockTopic string
	blocked    chan struct{}
	release    chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{connected: map[string]int{}, retained: map[string]string{}}
}

func (b *fakeBroker) factory(cfg Config) MQTTClient {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &fakeMQTTClient{broker: b, clientID: cfg.BrokerClientID}
	b.clients = append(b.clients, c)
	return c
}

func (b *fakeBroker) Messages() []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]published(nil), b.messages...)
}

func (b *fakeBroker) Retained(topic string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retained[topic]
}

func (b *fakeBroker) Overlap() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overlap
}

func (b *fakeBroker) ConnectedCount(clientID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected[clientID]
}

type fakeMQTTClient struct {
	broker   *fakeBroker
	clientID string

	mu        sync.Mutex
	connected bool
	count     uint64
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, msg any) error {
	c.broker.mu.Lock()
	blockTopic, blocked, release := c.broker.blockTopic, c.broker.blocked, c.broker.release
	c.broker.mu.Unlock()
	if topic == blockTopic && release != nil {
		select {
		case blocked <- struct{}{}:
		default:
		}
		<-release
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return fmt.Errorf("not connected")
	}
	c.count++

	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	value := fmt.Sprint(msg)
	c.broker.messages = append(c.broker.messages, published{clientID: c.clientID, topic: topic, value: value, retained: retained})
	if retained {
		c.broker.retained[topic] = value
	}
	return nil
}

func (c *fakeMQTTClient) Connect() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.broker.connectErr != nil {
		return c.broker.connectErr
	}
	if c.broker.connected[c.clientID] > 0 {
		c.broker.overlap = true
	}
	c.broker.connected[c.clientID]++

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeMQTTClient) Disconnect() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()
	if !wasConnected {
		return
	}

	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	c.broker.connected[c.clientID]--
}

func (c *fakeMQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeMQTTClient) Status() MQTTStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return MQTTStatus{MessageCount: c.count, Connected: c.connected}
}

var _ MQTTClient = &fakeMQTTClient{}

// pathInUse reports whether a session holds path in r.
func pathInUse(r *DevicePathRegistry, path string) bool {
	if !r.Acquire(path) {
		return true
	}
	r.Release(path)
	return false
}
