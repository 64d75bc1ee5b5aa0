// Command utcpdemo drives two userspace TCP connections back to back,
// handing each side's outbound segments directly to the other: one side
// connects, the other listens, the client sends a short message to the
// server, and both then close cleanly.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tinyrange/utcpstack/internal/tcpstack"
)

func main() {
	if err := run(); err != nil {
		slog.Error("utcpdemo: failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := tcpstack.DefaultConfig()

	client := tcpstack.NewConnection(cfg, tcpstack.Seqno(1000), 64*1024, nil)
	server := tcpstack.NewConnection(cfg, tcpstack.Seqno(9000), 64*1024, nil)
	defer client.Close()
	defer server.Close()

	client.Connect()

	// A 200ms tick keeps the round count small while still giving the
	// connection's 10*RTTimeout linger-after-close window (10s, with the
	// default config) room to elapse well inside maxRounds.
	const tick = 200 * time.Millisecond
	const maxRounds = 200

	client.Write([]byte("hello from the client"))

	for round := 0; round < maxRounds; round++ {
		for _, seg := range client.DrainSegments() {
			server.SegmentReceived(seg)
		}
		for _, seg := range server.DrainSegments() {
			client.SegmentReceived(seg)
		}

		client.Tick(tick)
		server.Tick(tick)

		if round == 5 {
			client.EndInputStream()
			server.EndInputStream()
		}

		if !client.Active() && !server.Active() {
			break
		}
	}

	got := server.InboundStream().Read(4096)
	slog.Info("utcpdemo: transfer complete", "received", string(got))
	fmt.Println(string(got))
	return nil
}
