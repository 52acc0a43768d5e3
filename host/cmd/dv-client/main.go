// dv-client is an interactive host for the Driver Validation servers. It
// talks to a USART server over a serial port, or to an SPI server as bus
// master.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/google/shlex"
	"go.uber.org/zap"

	"dvserver/host/client"
	"dvserver/host/config"
	"dvserver/protocol"
)

var (
	configPath = flag.String("config", "", "YAML configuration file")
	transport  = flag.String("transport", "", "Link to the server (serial, spi)")
	device     = flag.String("device", "", "Serial device path")
	baud       = flag.Int("baud", 0, "Baud rate")
	spiPort    = flag.String("spi", "", "SPI port, e.g. /dev/spidev0.0")
	verbose    = flag.Bool("verbose", false, "Log every command")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := logr.Discard()
	if *verbose {
		zl, err := zap.NewDevelopment()
		if err == nil {
			defer zl.Sync()
			log = zapr.NewLogger(zl)
		}
	}

	fmt.Println("Driver Validation Client")
	fmt.Println("========================")
	fmt.Println()

	var s *client.Session
	switch cfg.Client.Transport {
	case config.TransportSPI:
		fmt.Printf("Connecting to SPI server on %q...\n", cfg.Client.SPIPort)
		s, err = client.OpenSPI(cfg.ClientSPI(), cfg.ClientTimeout(), log)
	default:
		fmt.Printf("Connecting to USART server on %s...\n", cfg.Client.Device)
		s, err = client.OpenSerial(cfg.ClientSerial(), cfg.ClientTimeout(), log)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	if v, err := s.Version(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: no version from server: %v\n", err)
	} else {
		fmt.Printf("Server version %s\n", v)
	}

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return
		case "help", "?":
			printHelp()
		default:
			if err := run(s, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if *transport != "" {
		cfg.Client.Transport = *transport
	}
	if *device != "" {
		cfg.Client.Device = *device
	}
	if *baud > 0 {
		cfg.Client.Baud = *baud
	}
	if *spiPort != "" {
		cfg.Client.SPIPort = *spiPort
	}
	return cfg, cfg.Validate()
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  ver                        - Server version")
	fmt.Println("  cap                        - Server capabilities")
	fmt.Println("  setbuf rx|tx <text> [pat]  - Fill a buffer with pattern, load text")
	fmt.Println("  getbuf rx|tx <len>         - Read a buffer")
	fmt.Println("  setcom <params>            - Set the transfer configuration")
	fmt.Println("  xfer <params>              - Start a transfer on the server")
	fmt.Println("  send <text>                - Send raw data")
	fmt.Println("  recv <len>                 - Receive raw data")
	fmt.Println("  cnt                        - Item count of the last transfer")
	fmt.Println("  setbrk <delay> <duration>  - Request a break (USART)")
	fmt.Println("  brk                        - Break detected since last query (USART)")
	fmt.Println("  setmdm <hex> <delay> <dur> - Drive modem lines (USART)")
	fmt.Println("  mdm                        - CTS and DSR seen by the server (USART)")
	fmt.Println("  raw \"<command>\" [size]     - Send any command text")
	fmt.Println("  quit/exit/q                - Exit the program")
	fmt.Println()
}

func need(args []string, n int) error {
	if len(args) < n+1 {
		return fmt.Errorf("%s needs %d argument(s)", args[0], n)
	}
	return nil
}

func parseDir(s string) (protocol.BufferDir, error) {
	switch strings.ToLower(s) {
	case "rx":
		return protocol.BufferRX, nil
	case "tx":
		return protocol.BufferTX, nil
	}
	return 0, fmt.Errorf("buffer must be rx or tx, got %q", s)
}

func parseUint(s string, base, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, base, bits)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return v, nil
}

// run executes one interactive command
func run(s *client.Session, args []string) error {
	switch args[0] {
	case "ver":
		v, err := s.Version()
		if err != nil {
			return err
		}
		fmt.Println(v)

	case "cap":
		c, err := s.Capabilities()
		if err != nil {
			return err
		}
		fmt.Println(c)

	case "setbuf":
		if err := need(args, 2); err != nil {
			return err
		}
		dir, err := parseDir(args[1])
		if err != nil {
			return err
		}
		var pattern uint64
		if len(args) > 3 {
			if pattern, err = parseUint(args[3], 16, 8); err != nil {
				return err
			}
		}
		return s.SetBuf(dir, []byte(args[2]), byte(pattern))

	case "getbuf":
		if err := need(args, 2); err != nil {
			return err
		}
		dir, err := parseDir(args[1])
		if err != nil {
			return err
		}
		n, err := parseUint(args[2], 10, 32)
		if err != nil {
			return err
		}
		data, err := s.GetBuf(dir, int(n))
		if err != nil {
			return err
		}
		fmt.Printf("%q\n", data)

	case "setcom":
		if err := need(args, 1); err != nil {
			return err
		}
		return s.SetCom(strings.Join(args[1:], ""))

	case "xfer":
		if err := need(args, 1); err != nil {
			return err
		}
		return s.Xfer(strings.Join(args[1:], ""))

	case "send":
		if err := need(args, 1); err != nil {
			return err
		}
		return s.Send([]byte(strings.Join(args[1:], " ")))

	case "recv":
		if err := need(args, 1); err != nil {
			return err
		}
		n, err := parseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		data, err := s.Receive(int(n))
		if err != nil {
			return err
		}
		fmt.Printf("%q\n", data)

	case "cnt":
		n, err := s.Count()
		if err != nil {
			return err
		}
		fmt.Println(n)

	case "setbrk":
		if err := need(args, 2); err != nil {
			return err
		}
		delay, err := parseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		dur, err := parseUint(args[2], 10, 32)
		if err != nil {
			return err
		}
		return s.SetBreak(uint32(delay), uint32(dur))

	case "brk":
		b, err := s.BreakDetected()
		if err != nil {
			return err
		}
		fmt.Println(b)

	case "setmdm":
		if err := need(args, 3); err != nil {
			return err
		}
		ctrl, err := parseUint(args[1], 16, 8)
		if err != nil {
			return err
		}
		delay, err := parseUint(args[2], 10, 32)
		if err != nil {
			return err
		}
		dur, err := parseUint(args[3], 10, 32)
		if err != nil {
			return err
		}
		return s.SetModem(uint8(ctrl), uint32(delay), uint32(dur))

	case "mdm":
		cts, dsr, err := s.ModemStatus()
		if err != nil {
			return err
		}
		fmt.Printf("CTS=%v DSR=%v\n", cts, dsr)

	case "raw":
		if err := need(args, 1); err != nil {
			return err
		}
		size := uint64(0)
		if len(args) > 2 {
			var err error
			if size, err = parseUint(args[2], 10, 16); err != nil {
				return err
			}
		}
		resp, err := s.Raw(args[1], int(size))
		if err != nil {
			return err
		}
		if size > 0 {
			fmt.Printf("%q\n", protocol.FrameText(resp))
		}

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", args[0])
	}
	return nil
}
