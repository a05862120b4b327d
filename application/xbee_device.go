package application

type IOLine string

const (
	IOLineDIO2AD2 IOLine = lineDIO2AD2
	IOLineDIO3AD3 IOLine = lineDIO3AD3
)

type IOMode byte

const (
	IOModeDisabled  IOMode = 0
	IOModeADC       IOMode = 2
	IOModeDigitalIn IOMode = 3
)

const (
	BroadcastAddress uint64 = 0x000000000000FFFF

	ParamSampleRate = "IR"
	CommandIOSample = "IS"
)

// XBeeDevice is a local XBee module in API mode.
//
// The sample handler is called from the driver's own reader goroutine, the
// same goroutine that completes AT command requests, so it must not block.
type XBeeDevice interface {
	Open() error
	Close() error
	IsOpen() bool

	NodeID() (string, error)
	FirmwareVersion() ([]byte, error)

	SetIOConfiguration(line IOLine, mode IOMode) error
	SetDestAddress(addr uint64) error
	SetParameter(param string, value []byte) error
	ApplyChanges() error
	ExecuteCommand(cmd string) error

	SetIOSampleHandler(handler func(frame string))

	// Err reports a failure of the background reader, nil while healthy.
	Err() error
}

type XBeeDeviceFactory func(path string, baudRate int) XBeeDevice
