package core

// PowerState is the power level requested from a driver
type PowerState uint8

const (
	PowerOff PowerState = iota
	PowerLow
	PowerFull
)

// SPIMode selects the bus role
type SPIMode uint8

const (
	SPIModeInactive SPIMode = iota
	SPIModeMaster
	SPIModeSlave
)

// SPIFormat is the frame format.
// Format 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Format 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Format 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Format 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIFormat uint8

const (
	SPIFormatCPOL0CPHA0 SPIFormat = iota
	SPIFormatCPOL0CPHA1
	SPIFormatCPOL1CPHA0
	SPIFormatCPOL1CPHA1
	SPIFormatTISSI
	SPIFormatMicrowire
)

// SPIBitOrder is the bit order on the wire
type SPIBitOrder uint8

const (
	SPIMSBFirst SPIBitOrder = iota
	SPILSBFirst
)

// SPISSMode is the slave select handling
type SPISSMode uint8

const (
	SPISSMasterUnused   SPISSMode = iota // master, SS not used
	SPISSMasterSW                        // master, SS driven by ControlSS
	SPISSMasterHWOutput                  // master, SS driven by hardware
	SPISSMasterHWInput                   // master, SS input for mode fault detection
	SPISSSlaveHW                         // slave, SS monitored by hardware
	SPISSSlaveSW                         // slave, SS set by ControlSS
)

// SPIConfig is a complete SPI communication configuration
type SPIConfig struct {
	Mode     SPIMode
	Format   SPIFormat
	DataBits uint8 // 1..32
	BitOrder SPIBitOrder
	SS       SPISSMode
	BusSpeed uint32 // Hz, master only
}

// BytesPerItem returns the buffer bytes one data item occupies
func (c SPIConfig) BytesPerItem() int {
	return spiBytesPerItem(c.DataBits)
}

func spiBytesPerItem(bits uint8) int {
	switch {
	case bits > 16:
		return 4
	case bits > 8:
		return 2
	}
	return 1
}

// softwareSS reports whether XFER must drive slave select itself
func (c SPIConfig) softwareSS() bool {
	return (c.Mode == SPIModeSlave && c.SS == SPISSSlaveSW) ||
		(c.Mode == SPIModeMaster && c.SS == SPISSMasterSW)
}

// SPIDriver is the abstract SPI interface the SPI server uses.
// Platform-specific implementations handle actual hardware control.
//
// Send, Receive and Transfer only start an operation; the driver reports
// its end through the EventFunc given to Initialize.
type SPIDriver interface {
	Initialize(cb EventFunc) error
	Uninitialize() error
	PowerControl(state PowerState) error

	// Control applies a configuration; ErrUnsupported for settings the
	// hardware cannot do
	Control(cfg SPIConfig) error

	// ControlSS sets the software slave select line
	ControlSS(active bool) error

	Send(data []byte, num uint32) error
	Receive(data []byte, num uint32) error
	Transfer(out, in []byte, num uint32) error

	// GetDataCount returns the items moved by the current or last operation
	GetDataCount() uint32

	// Abort cancels the current operation
	Abort() error
}
