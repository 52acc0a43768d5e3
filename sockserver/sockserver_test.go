package sockserver

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Line generator", func() {
	It("rotates printable characters and ends lines with LF CR", func() {
		line := make([]byte, ChargenLineSize)
		start := fillLine(line, '@')
		Expect(start).To(Equal(byte('A')))
		Expect(line[0]).To(Equal(byte('A')))
		Expect(line[1]).To(Equal(byte('B')))
		Expect(line[ChargenLineSize-2:]).To(Equal([]byte("\n\r")))

		start = fillLine(line, start)
		Expect(line[0]).To(Equal(byte('B')))
	})

	It("wraps past the last printable character", func() {
		line := make([]byte, 4)
		Expect(fillLine(line, 0x7e)).To(Equal(byte(0x21)))
		Expect(string(line)).To(Equal("!\"\n\r"))

		line = make([]byte, 5)
		fillLine(line, 0x7c)
		Expect(line[:3]).To(Equal([]byte{0x7d, 0x7e, 0x21}))
	})
})

var _ = Describe("Test Assistant limits", func() {
	It("clamps the connect delay", func() {
		Expect(ConnectDelay(0)).To(Equal(10 * time.Millisecond))
		Expect(ConnectDelay(600)).To(Equal(600 * time.Millisecond))
		Expect(ConnectDelay(5000)).To(Equal(5000 * time.Millisecond))
		Expect(ConnectDelay(5001)).To(Equal(6000 * time.Millisecond))
	})

	It("numbers and pads blocks", func() {
		block := make([]byte, 32)
		fillBlock(block, 12, 'c')
		Expect(string(block)).To(Equal("Block[12] " + strings.Repeat("c", 22)))
	})
})

var _ = Describe("Server", func() {
	var (
		s     *Server
		conns []net.Conn
	)

	dial := func(service string) net.Conn {
		conn, err := net.Dial("tcp", s.Addr(service).String())
		Expect(err).NotTo(HaveOccurred())
		conns = append(conns, conn)
		return conn
	}

	dialUDP := func(service string) net.Conn {
		conn, err := net.Dial("udp", s.Addr(service).String())
		Expect(err).NotTo(HaveOccurred())
		conns = append(conns, conn)
		return conn
	}

	readAll := func(conn net.Conn) []byte {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		data, _ := io.ReadAll(conn)
		return data
	}

	BeforeEach(func() {
		s = New(Config{Bind: "127.0.0.1", ConnectHold: 20 * time.Millisecond})
		Expect(s.Start()).To(Succeed())
	})

	AfterEach(func() {
		for _, c := range conns {
			c.Close()
		}
		conns = nil
		Expect(s.Stop()).To(Succeed())
		Expect(s.Addr(ServiceEchoTCP)).To(BeNil())
	})

	It("refuses a second start", func() {
		Expect(s.Start()).NotTo(Succeed())
	})

	Context("echo", func() {
		It("returns TCP data until ESC", func() {
			conn := dial(ServiceEchoTCP)
			_, err := conn.Write([]byte("hello"))
			Expect(err).NotTo(HaveOccurred())

			buf := make([]byte, 5)
			_, err = io.ReadFull(conn, buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(buf)).To(Equal("hello"))

			conn.Write([]byte{ESC, 'x'})
			Expect(readAll(conn)).To(Equal([]byte{ESC, 'x'}))
			Eventually(s.Stats().Tx).Should(BeNumerically(">=", 7))
		})

		It("returns datagrams", func() {
			conn := dialUDP(ServiceEchoUDP)
			conn.Write([]byte("ping"))

			buf := make([]byte, BufferSize)
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, err := conn.Read(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(buf[:n])).To(Equal("ping"))
			Expect(s.Stats().Remote()).To(Equal(conn.LocalAddr().String()))
		})
	})

	Context("discard", func() {
		It("counts and drops data", func() {
			conn := dial(ServiceDiscard)
			conn.Write(bytes.Repeat([]byte("z"), 100))
			Eventually(s.Stats().Rx).Should(BeNumerically("==", 100))
			Expect(s.Stats().Tx()).To(BeZero())

			conn.Write([]byte{ESC})
			Expect(readAll(conn)).To(BeEmpty())
		})
	})

	Context("chargen", func() {
		It("streams lines over TCP", func() {
			conn := dial(ServiceChargenTCP)
			line := make([]byte, ChargenLineSize)
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))

			_, err := io.ReadFull(conn, line)
			Expect(err).NotTo(HaveOccurred())
			Expect(line[0]).To(Equal(byte('A')))
			Expect(line[ChargenLineSize-2:]).To(Equal([]byte("\n\r")))

			_, err = io.ReadFull(conn, line)
			Expect(err).NotTo(HaveOccurred())
			Expect(line[0]).To(Equal(byte('B')))

			conn.Write([]byte{ESC})
			readAll(conn)
		})

		It("answers datagrams with a line of random length", func() {
			conn := dialUDP(ServiceChargenUDP)
			buf := make([]byte, BufferSize+1)
			for i := 0; i < 5; i++ {
				conn.Write([]byte("?"))
				conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				n, err := conn.Read(buf)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(BeNumerically(">=", 2))
				Expect(n).To(BeNumerically("<=", BufferSize))
				Expect(buf[n-2 : n]).To(Equal([]byte("\n\r")))
			}
		})
	})

	Context("special ports", func() {
		It("resets connections on the rejected port", func() {
			conn := dial(ServiceRejected)
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, err := conn.Read(make([]byte, 1))
			Expect(err).To(HaveOccurred())
			Expect(err).NotTo(MatchError(ContainSubstring("timeout")))
		})

		It("never answers on the timeout port", func() {
			conn := dial(ServiceTimeout)
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
			_, err := conn.Read(make([]byte, 1))
			ne, ok := err.(net.Error)
			Expect(ok).To(BeTrue())
			Expect(ne.Timeout()).To(BeTrue())
		})
	})

	Context("Test Assistant", func() {
		command := func(cmd string) net.Conn {
			conn := dial(ServiceAssistant)
			_, err := conn.Write([]byte(cmd))
			Expect(err).NotTo(HaveOccurred())
			return conn
		}

		port := func(addr net.Addr) string {
			_, p, _ := net.SplitHostPort(addr.String())
			return p
		}

		It("connects back over TCP", func() {
			ln, err := net.Listen("tcp4", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			defer ln.Close()

			command("CONNECT TCP,0.0.0.0," + port(ln.Addr()) + ",10")

			peer, err := ln.Accept()
			Expect(err).NotTo(HaveOccurred())
			defer peer.Close()
			Expect(string(readAll(peer))).To(Equal("SockServer"))
		})

		It("connects back over UDP", func() {
			pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			defer pc.Close()

			command("CONNECT UDP,127.0.0.1," + port(pc.LocalAddr()) + ",10")

			buf := make([]byte, 64)
			pc.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, _, err := pc.ReadFrom(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(buf[:n])).To(Equal("SockServer"))
		})

		It("sends blocks and reports the count", func() {
			conn := command("SEND TCP,100,500")
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))

			var data []byte
			buf := make([]byte, 4096)
			for !bytes.HasSuffix(data, []byte(" bytes.")) {
				n, err := conn.Read(buf)
				data = append(data, buf[:n]...)
				Expect(err).NotTo(HaveOccurred())
			}

			i := bytes.LastIndex(data, []byte("STAT "))
			Expect(i).To(BeNumerically(">", 0))
			Expect(string(data[:i])).To(HavePrefix("Block[1] aaaa"))
			Expect(i % 100).To(BeZero())
			Expect(string(data[i:])).To(Equal(fmt.Sprintf("STAT %d bytes.", i)))
			Expect(string(data[100:109])).To(Equal("Block[2] "))
			Expect(data[109]).To(Equal(byte('b')))
		})

		It("counts uploaded bytes until STOP", func() {
			conn := command("RECV TCP,64")
			time.Sleep(50 * time.Millisecond)
			conn.Write(bytes.Repeat([]byte{'u'}, 300))
			time.Sleep(50 * time.Millisecond)
			conn.Write([]byte("STOP"))

			buf := make([]byte, 64)
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			n, err := conn.Read(buf)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(buf[:n])).To(Equal("STAT 300 bytes."))
		})

		It("drops unknown commands", func() {
			conn := command("HELLO")
			Expect(readAll(conn)).To(BeEmpty())
		})

		It("closes a silent connection after the command timeout", func() {
			conn := dial(ServiceAssistant)
			start := time.Now()
			Expect(readAll(conn)).To(BeEmpty())
			Expect(time.Since(start)).To(BeNumerically(">=", DefaultCommandTimeout-100*time.Millisecond))
		})
	})

	It("clears the statistics", func() {
		conn := dialUDP(ServiceEchoUDP)
		conn.Write([]byte("abc"))
		Eventually(s.Stats().Rx).Should(BeNumerically("==", 3))

		s.Stats().Clear()
		Expect(s.Stats().Rx()).To(BeZero())
		Expect(s.Stats().Tx()).To(BeZero())
		Expect(s.Stats().Remote()).To(BeEmpty())
	})
})
