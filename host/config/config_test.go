package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/onsi/gomega"
	"periph.io/x/conn/v3/physic"

	"dvserver/host/gpio"
	"dvserver/sockserver"
)

func TestDefault(t *testing.T) {
	g := gomega.NewWithT(t)

	c := Default()
	g.Expect(c.Server).To(gomega.Equal(ServerUSART))
	g.Expect(c.BufferSize).To(gomega.Equal(4096))
	g.Expect(c.CommandTimeoutMs).To(gomega.Equal(100))
	g.Expect(c.USART.Baud).To(gomega.Equal(115200))
	g.Expect(c.Sock.Ports).To(gomega.Equal(sockserver.DefaultPorts()))
	g.Expect(c.Client.Device).To(gomega.Equal(c.USART.Device))
	g.Expect(c.HasPins()).To(gomega.BeFalse())
	g.Expect(c.HasLEDs()).To(gomega.BeFalse())
}

func TestParse(t *testing.T) {
	g := gomega.NewWithT(t)

	c, err := Parse([]byte(`
server: sock
logLevel: 2
metricsAddr: ":9100"
commandTimeoutMs: 250
usart:
  device: /dev/ttyAMA0
gpio:
  chip: gpiochip1
  dcd: 17
  leds: [5, 6]
sock:
  bind: 127.0.0.1
  ports:
    echo: 7007
  statusIntervalMs: 1000
client:
  transport: spi
  spiPort: /dev/spidev0.0
  spiSpeedHz: 2000000
`))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(c.Server).To(gomega.Equal(ServerSock))
	g.Expect(c.LogLevel).To(gomega.Equal(2))
	g.Expect(c.MetricsAddr).To(gomega.Equal(":9100"))

	opts := c.Options(logr.Discard(), nil)
	g.Expect(opts.CommandTimeout).To(gomega.Equal(250 * time.Millisecond))
	g.Expect(opts.BufferSize).To(gomega.Equal(4096))

	m := c.PinMap()
	g.Expect(m.Chip).To(gomega.Equal("gpiochip1"))
	g.Expect(m.DCD).To(gomega.Equal(17))
	g.Expect(m.RI).To(gomega.Equal(gpio.NoLine))
	g.Expect(m.LEDs).To(gomega.Equal([3]int{5, 6, gpio.NoLine}))
	g.Expect(c.HasPins()).To(gomega.BeTrue())

	sc := c.SockServer(logr.Discard())
	g.Expect(sc.Bind).To(gomega.Equal("127.0.0.1"))
	g.Expect(sc.Ports.Echo).To(gomega.Equal(7007))
	g.Expect(sc.Ports.Chargen).To(gomega.Equal(sockserver.ChargenPort))
	g.Expect(sc.StatusInterval).To(gomega.Equal(time.Second))

	g.Expect(c.Client.Device).To(gomega.Equal("/dev/ttyAMA0"))
	spi := c.ClientSPI()
	g.Expect(spi.Port).To(gomega.Equal("/dev/spidev0.0"))
	g.Expect(spi.Speed).To(gomega.Equal(2 * physic.MegaHertz))
	g.Expect(c.ClientTimeout()).To(gomega.Equal(time.Second))
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"server", "server: spi"},
		{"transport", "client:\n  transport: can"},
		{"leds", "gpio:\n  leds: [1, 2, 3, 4]"},
		{"syntax", "server: [usart"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Errorf("Expected %q to be rejected", tt.yaml)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dv.yaml")
	if err := os.WriteFile(path, []byte("usart:\n  baud: 9600\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.USART.Baud != 9600 {
		t.Errorf("Expected baud 9600, got %d", c.USART.Baud)
	}
	if c.ClientSerial().Baud != 115200 {
		t.Errorf("Expected the client to keep the default baud, got %d", c.ClientSerial().Baud)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected an error for a missing file")
	}
}
