// Package protocol implements the textual command protocol spoken between a
// Driver Validation client and the SPI, USART and socket servers.
package protocol

import "bytes"

// Frame and response sizes
const (
	CommandFrameSize = 32 // Fixed command frame on byte channels (SPI, USART)
	VersionSize      = 16 // GET VER response
	CapabilitySize   = 32 // GET CAP response
	CountSize        = 16 // GET CNT response
	StatusSize       = 1  // GET BRK / GET MDM response

	// Test Assistant frames are single socket reads of up to this size
	AssistantFrameMax = 1500
)

// Verbs, in the order servers register them.
const (
	VerbGetVer  = "GET VER"
	VerbGetCap  = "GET CAP"
	VerbSetBuf  = "SET BUF"
	VerbGetBuf  = "GET BUF"
	VerbSetCom  = "SET COM"
	VerbXfer    = "XFER"
	VerbGetCnt  = "GET CNT"
	VerbSetBrk  = "SET BRK"
	VerbGetBrk  = "GET BRK"
	VerbSetMdm  = "SET MDM"
	VerbGetMdm  = "GET MDM"
	VerbConnect = "CONNECT"
	VerbSend    = "SEND TCP"
	VerbRecv    = "RECV TCP"
)

// FrameText returns the command text held in a raw frame. Text ends at the
// first NUL byte, the remainder of the frame is padding.
func FrameText(frame []byte) string {
	if i := bytes.IndexByte(frame, 0); i >= 0 {
		frame = frame[:i]
	}
	return string(frame)
}

// PadFrame builds a zero padded frame of the given size holding text.
// Text longer than size is truncated.
func PadFrame(text string, size int) []byte {
	frame := make([]byte, size)
	copy(frame, text)
	return frame
}
