package main

import (
	"flag"

	"github.com/trudp/trudp/pkg/logger"
	"github.com/trudp/trudp/pkg/trudp"
)

const version = "1.0.0"

type Config struct {
	Host         string
	Port         int
	PayloadBytes int
	Confidential bool
}

func loadConfig() Config {
	host := flag.String("host", "127.0.0.1", "server address")
	port := flag.Int("port", 9000, "server port")
	payloadBytes := flag.Int("synthetic", 14000, "size in bytes of the synthetic payload to generate and send")
	confidential := flag.Bool("confidential", false, "negotiate a session key before sending")
	flag.Parse()
	return Config{
		Host:         *host,
		Port:         *port,
		PayloadBytes: *payloadBytes,
		Confidential: *confidential,
	}
}

func main() {
	logger.Banner("TRUDP Client", version)

	cfg := loadConfig()
	opts := trudp.DefaultOptions()

	logger.Info("Connecting to %s:%d", cfg.Host, cfg.Port)
	conn, err := trudp.Dial(cfg.Host, cfg.Port, opts)
	if err != nil {
		logger.Fatal("handshake failed: %v", err)
	}
	defer conn.Close()
	logger.Success("connection %s established", conn.ConnID())

	conn.Events().Register(trudp.EventRetransmit, func(e trudp.Event) {
		logger.Warn("retransmit on %s: %v", e.ConnID, e.Data)
	})

	if cfg.Confidential {
		logger.Info("negotiating session key...")
		if err := conn.NegotiateKeyInitiator(); err != nil {
			logger.Fatal("key exchange failed: %v", err)
		}
		logger.Success("confidential mode established")
	}

	payload := trudp.GenerateSyntheticPayload(cfg.PayloadBytes)
	logger.Info("sending %d bytes", len(payload))

	ok, err := conn.SendData(payload, func(sent, total int) {
		logger.Debug("sent %d/%d segments", sent, total)
	})
	if err != nil {
		logger.Fatal("send_data failed: %v", err)
	}
	if !ok {
		logger.Warn("send_data did not drain within the completion timeout")
		return
	}

	stats := conn.CongestionStats()
	rtt := conn.RTTStats()
	logger.Success("transfer complete: cwnd=%.2f ssthresh=%.2f state=%s rto=%s", stats.Cwnd, stats.Ssthresh, stats.State, rtt.RTO)
}
