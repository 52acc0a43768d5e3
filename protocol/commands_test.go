package protocol

import (
	"net"
	"testing"

	. "github.com/onsi/gomega"
)

func TestParseSetBuf(t *testing.T) {
	g := NewWithT(t)

	c, err := ParseSetBuf("SET BUF TX,0,55", 4096)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c).To(Equal(SetBuf{Dir: BufferTX, Len: 0, Pattern: 0x55}))

	c, err = ParseSetBuf("SET BUF RX,16", 4096)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c).To(Equal(SetBuf{Dir: BufferRX, Len: 16}))

	_, err = ParseSetBuf("SET BUF TX,4097", 4096)
	g.Expect(err).To(MatchError(ErrRange))

	_, err = ParseSetBuf("SET BUF XX,1", 4096)
	g.Expect(err).To(MatchError(ErrSyntax))

	_, err = ParseSetBuf("SET BUF TX", 4096)
	g.Expect(err).To(MatchError(ErrSyntax))

	_, err = ParseSetBuf("SET BUF TX,1,zz", 4096)
	g.Expect(err).To(MatchError(ErrSyntax))
}

func TestParseGetBuf(t *testing.T) {
	g := NewWithT(t)

	c, err := ParseGetBuf("GET BUF RX,32", 4096)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c).To(Equal(GetBuf{Dir: BufferRX, Len: 32}))

	_, err = ParseGetBuf("GET BUF RX,0", 4096)
	g.Expect(err).To(MatchError(ErrRange))

	_, err = ParseGetBuf("GET BUF RX,4097", 4096)
	g.Expect(err).To(MatchError(ErrRange))
}

func TestParseSPISetCom(t *testing.T) {
	g := NewWithT(t)

	c, err := ParseSPISetCom("SET COM 0,1,16,0,1,1000000")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c).To(Equal(SPISetCom{
		Mode:     0,
		Format:   Some(1),
		DataBits: Some(16),
		BitOrder: Some(0),
		SSMode:   Some(1),
		BusSpeed: Some(1000000),
	}))

	c, err = ParseSPISetCom("SET COM 1")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c.Mode).To(BeEquivalentTo(1))
	g.Expect(c.Format.Valid).To(BeFalse())
	g.Expect(c.BusSpeed.Valid).To(BeFalse())

	for _, bad := range []string{
		"SET COM 2",
		"SET COM 0,6",
		"SET COM 0,0,0",
		"SET COM 0,0,33",
		"SET COM 0,0,8,2",
		"SET COM 0,0,8,0,2",
	} {
		_, err = ParseSPISetCom(bad)
		g.Expect(err).To(MatchError(ErrRange), bad)
	}

	_, err = ParseSPISetCom("SET COM 0,x")
	g.Expect(err).To(MatchError(ErrSyntax))
}

func TestParseSPIXfer(t *testing.T) {
	g := NewWithT(t)

	c, err := ParseSPIXfer("XFER 32,5,10,200", 4096)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c).To(Equal(SPIXfer{Num: 32, DelayC: Some(5), DelayT: Some(10), Timeout: Some(200)}))

	c, err = ParseSPIXfer("XFER 1", 4096)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c.Timeout.Valid).To(BeFalse())

	_, err = ParseSPIXfer("XFER 0", 4096)
	g.Expect(err).To(MatchError(ErrRange))

	_, err = ParseSPIXfer("XFER 10,4294967295", 4096)
	g.Expect(err).To(MatchError(ErrRange))

	_, err = ParseSPIXfer("XFER 10,0,0,4294967295", 4096)
	g.Expect(err).To(MatchError(ErrRange))
}

func TestParseUSARTSetCom(t *testing.T) {
	g := NewWithT(t)

	c, err := ParseUSARTSetCom("SET COM 1,8,0,0,0,0,0,115200")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c.Mode).To(BeEquivalentTo(1))
	g.Expect(c.DataBits).To(Equal(Some(8)))
	g.Expect(c.Baudrate).To(Equal(Some(115200)))

	for _, bad := range []string{
		"SET COM 0",
		"SET COM 7",
		"SET COM 1,4",
		"SET COM 1,10",
		"SET COM 1,8,3",
		"SET COM 1,8,0,4",
		"SET COM 1,8,0,0,4",
		"SET COM 1,8,0,0,0,2",
	} {
		_, err = ParseUSARTSetCom(bad)
		g.Expect(err).To(MatchError(ErrRange), bad)
	}
}

func TestParseUSARTXfer(t *testing.T) {
	g := NewWithT(t)

	c, err := ParseUSARTXfer("XFER 1,64,0,500,16", 4096)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c).To(Equal(USARTXfer{Dir: XferReceive, Num: 64, Delay: Some(0), Timeout: Some(500), NumRTS: Some(16)}))

	_, err = ParseUSARTXfer("XFER 3,1", 4096)
	g.Expect(err).To(MatchError(ErrRange))

	_, err = ParseUSARTXfer("XFER 0", 4096)
	g.Expect(err).To(MatchError(ErrSyntax))

	_, err = ParseUSARTXfer("XFER 1,8,0,100,9", 4096)
	g.Expect(err).To(MatchError(ErrRange))
}

func TestParseBreakAndModem(t *testing.T) {
	g := NewWithT(t)

	b, err := ParseSetBrk("SET BRK 10,50")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(b).To(Equal(SetBrk{Delay: 10, Duration: Some(50)}))

	_, err = ParseSetBrk("SET BRK")
	g.Expect(err).To(MatchError(ErrSyntax))

	m, err := ParseSetMdm("SET MDM 0F,5,20")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(m).To(Equal(SetMdm{Control: 0x0f, Delay: 5, Duration: Some(20)}))

	// delay is required
	_, err = ParseSetMdm("SET MDM 01")
	g.Expect(err).To(MatchError(ErrSyntax))
}

func TestParseAssistant(t *testing.T) {
	g := NewWithT(t)

	c, err := ParseConnect("CONNECT UDP,192.168.1.10,2000,50")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c.Network).To(Equal("udp"))
	g.Expect(c.IP.Equal(net.IPv4(192, 168, 1, 10))).To(BeTrue())
	g.Expect(c.Port).To(BeEquivalentTo(2000))
	g.Expect(c.Delay).To(BeEquivalentTo(50))

	_, err = ParseConnect("CONNECT SCTP,1.2.3.4,1,1")
	g.Expect(err).To(MatchError(ErrSyntax))

	_, err = ParseConnect("CONNECT TCP,1.2.3.4,70000,1")
	g.Expect(err).To(MatchError(ErrRange))

	s, err := ParseSend("SEND TCP,1024,2000")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(s).To(Equal(Send{BlockSize: 1024, Duration: 2000}))

	r, err := ParseRecv("RECV TCP,512")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(r.BlockSize).To(BeEquivalentTo(512))
}
