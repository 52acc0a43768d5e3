package core

// USARTMode is the operating mode, numbered as in SET COM
type USARTMode uint8

const (
	USARTModeAsynchronous USARTMode = iota + 1
	USARTModeSynchronousMaster
	USARTModeSynchronousSlave
	USARTModeSingleWire
	USARTModeIrDA
	USARTModeSmartCard
)

// USARTParity is the parity setting
type USARTParity uint8

const (
	USARTParityNone USARTParity = iota
	USARTParityEven
	USARTParityOdd
)

// USARTStopBits is the stop bit setting, numbered as in SET COM
type USARTStopBits uint8

const (
	USARTStopBits1 USARTStopBits = iota
	USARTStopBits2
	USARTStopBits1_5
	USARTStopBits0_5
)

// USARTFlowControl is the hardware flow control setting
type USARTFlowControl uint8

const (
	USARTFlowNone USARTFlowControl = iota
	USARTFlowRTS
	USARTFlowCTS
	USARTFlowRTSCTS
)

// USARTConfig is a complete USART communication configuration
type USARTConfig struct {
	Mode        USARTMode
	DataBits    uint8 // 5..9
	Parity      USARTParity
	StopBits    USARTStopBits
	FlowControl USARTFlowControl
	CPOL        uint8 // synchronous modes only
	CPHA        uint8
	Baudrate    uint32
}

// BytesPerItem returns the buffer bytes one data item occupies
func (c USARTConfig) BytesPerItem() int {
	if c.DataBits == 9 {
		return 2
	}
	return 1
}

// USARTCapabilities describes what a USART driver supports
type USARTCapabilities struct {
	Asynchronous      bool
	SynchronousMaster bool
	SynchronousSlave  bool
	SingleWire        bool
	IrDA              bool
	SmartCard         bool

	FlowControlRTS bool
	FlowControlCTS bool

	// EventTxComplete means the driver signals EventUSARTTxComplete once
	// the last bit left the wire
	EventTxComplete bool

	RTS bool
	CTS bool
	DTR bool
	DSR bool
	DCD bool
	RI  bool
}

// USARTStatus is the transfer status of a USART driver
type USARTStatus struct {
	TxBusy bool
	RxBusy bool
}

// ModemControl changes one modem output line
type ModemControl uint8

const (
	ModemRTSClear ModemControl = iota
	ModemRTSSet
	ModemDTRClear
	ModemDTRSet
)

// ModemStatus holds the modem input lines
type ModemStatus struct {
	CTS bool
	DSR bool
	DCD bool
	RI  bool
}

// USARTDriver is the abstract USART interface the USART server uses.
// Send, Receive and Transfer only start an operation; the driver reports
// its end through the EventFunc given to Initialize.
type USARTDriver interface {
	Capabilities() USARTCapabilities

	Initialize(cb EventFunc) error
	Uninitialize() error
	PowerControl(state PowerState) error

	// Control applies a configuration; ErrUnsupported for settings the
	// hardware cannot do
	Control(cfg USARTConfig) error
	ControlTx(enable bool) error
	ControlRx(enable bool) error
	Break(on bool) error

	Send(data []byte, num uint32) error
	Receive(data []byte, num uint32) error
	Transfer(out, in []byte, num uint32) error
	GetTxCount() uint32
	GetRxCount() uint32
	GetStatus() USARTStatus

	SetModemControl(ctrl ModemControl) error
	GetModemStatus() ModemStatus

	AbortSend() error
	AbortReceive() error
	AbortTransfer() error
}
