// Command trudp-monitor runs a TRUDP server endpoint and prints periodic
// connection/congestion snapshots to the terminal, the transport-layer
// analogue of a live scoreboard.
package main

import (
	"flag"
	"time"

	"github.com/trudp/trudp/pkg/logger"
	"github.com/trudp/trudp/pkg/trudp"
)

const version = "1.0.0"

func main() {
	logger.Banner("TRUDP Monitor", version)

	host := flag.String("host", "0.0.0.0", "address to bind")
	port := flag.Int("port", 9000, "port to listen on")
	interval := flag.Duration("interval", 2*time.Second, "reporting interval")
	flag.Parse()

	opts := trudp.DefaultOptions()
	logger.Info("waiting for a connection on %s:%d", *host, *port)
	conn, err := trudp.Listen(*host, *port, opts)
	if err != nil {
		logger.Fatal("accept failed: %v", err)
	}
	defer conn.Close()
	logger.Success("connection %s established", conn.ConnID())

	conn.Events().Register(trudp.EventConnected, func(e trudp.Event) {
		logger.InfoCyan("connected: %s", e.ConnID)
	})
	conn.Events().Register(trudp.EventRetransmit, func(e trudp.Event) {
		logger.Warn("retransmit: %v", e.Data)
	})
	conn.Events().Register(trudp.EventDegraded, func(e trudp.Event) {
		logger.Error("segment abandoned: %v", e.Data)
	})
	conn.Events().Register(trudp.EventKeyExchangeComplete, func(e trudp.Event) {
		logger.InfoCyan("key exchange complete")
	})
	closed := make(chan struct{})
	conn.Events().Register(trudp.EventClosed, func(e trudp.Event) { close(closed) })

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			logger.Warn("connection closed, monitor exiting")
			return
		case <-ticker.C:
			rtt := conn.RTTStats()
			cong := conn.CongestionStats()
			logger.Section("Connection " + conn.ConnID())
			logger.Info("rtt: srtt=%s rttvar=%s rto=%s samples=%d", rtt.SRTT, rtt.RTTVar, rtt.RTO, rtt.Samples)
			logger.Info("congestion: cwnd=%.2f ssthresh=%.2f state=%s window=%d dup_acks=%d retransmits=%d",
				cong.Cwnd, cong.Ssthresh, cong.State, cong.WindowSize, cong.DupAcks, cong.Retransmits)
			logger.Info("duplicate segments: %d  degraded: %v", conn.DuplicateSegments(), conn.Degraded())
		}
	}
}
