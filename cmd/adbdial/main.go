// adbdial is a manual demonstration binary for this module's client: it
// connects to an adbd instance (optionally pairing with it first), opens a
// single stream, and copies the stream's output to stdout.
//
// Usage:
//
//	adbdial -host 127.0.0.1 -port 5555 -destination 'shell:echo hello'
//
// To pair first (e.g. with a device advertising wireless debugging):
//
//	adbdial -host 192.168.1.50 -port 5555 -pair-port 37251 -pair-code 123456 -destination shell:id
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/pion/logging"

	"github.com/go-adb/adb/pkg/adb"
)

func main() {
	host := flag.String("host", "127.0.0.1", "adbd host to connect to")
	port := flag.Int("port", 5555, "adbd port to connect to")
	destination := flag.String("destination", "shell:echo hello from adbdial", "stream destination to open after connecting")
	deviceName := flag.String("device-name", "adbdial", "device name sent in the CNXN banner")
	timeout := flag.Duration("timeout", 10*time.Second, "deadline for the connect handshake")
	failFast := flag.Bool("fail-fast", false, "reject a second AUTH challenge instead of enrolling a new key")

	pairPort := flag.Int("pair-port", 0, "if set, pair on this port before connecting")
	pairCode := flag.String("pair-code", "", "six-digit pairing code, required when -pair-port is set")

	flag.Parse()

	loggerFactory := logging.NewDefaultLoggerFactory()

	m := adb.NewConnectionManager(adb.Config{
		DeviceName:    *deviceName,
		Timeout:       *timeout,
		FailFast:      *failFast,
		LoggerFactory: loggerFactory,
	})
	defer m.Close()

	ctx := context.Background()

	if *pairPort != 0 {
		if *pairCode == "" {
			log.Fatal("-pair-code is required when -pair-port is set")
		}
		if err := m.Pair(ctx, *host, *pairPort, []byte(*pairCode)); err != nil {
			log.Fatalf("pair: %v", err)
		}
		fmt.Fprintln(os.Stderr, "pairing succeeded")
	}

	if _, err := m.Connect(ctx, *host, *port); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	s, err := m.OpenStream(*destination)
	if err != nil {
		log.Fatalf("open stream %q: %v", *destination, err)
	}
	defer s.Close()

	if _, err := io.Copy(os.Stdout, s); err != nil && err != io.EOF {
		log.Fatalf("read stream: %v", err)
	}
}
