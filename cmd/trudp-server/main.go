package main

import (
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trudp/trudp/pkg/logger"
	"github.com/trudp/trudp/pkg/trudp"
)

const version = "1.0.0"

// Config mirrors the flat, field-per-knob struct the teacher's core/main.go
// built for its SA-MP server, adapted from game settings to transport
// tuning knobs.
type Config struct {
	Host                string
	Port                int
	RequireConfidential bool
	ExpectedSegments    int
	LossProbability     float64
}

func loadConfig() Config {
	host := flag.String("host", "0.0.0.0", "address to bind")
	port := flag.Int("port", 9000, "port to listen on")
	requireConf := flag.Bool("require-confidential", false, "reject send/recv before key exchange completes")
	expect := flag.Int("expect-segments", 1, "number of DATA segments one recv_data call should wait for")
	loss := flag.Float64("loss", 0, "probability in [0,1] of dropping an inbound packet before processing, for exercising retransmission under loss")
	flag.Parse()
	return Config{
		Host:                *host,
		Port:                *port,
		RequireConfidential: *requireConf,
		ExpectedSegments:    *expect,
		LossProbability:     *loss,
	}
}

// lossInjector returns an Options.DropInbound hook that drops an inbound
// packet with uniform probability p, independent of sequence number. A nil
// return leaves DropInbound at its default (never drop), matching the
// original's loss_callback being optional.
func lossInjector(p float64) func(seq uint32) bool {
	if p <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return func(seq uint32) bool {
		return rng.Float64() < p
	}
}

func main() {
	logger.Banner("TRUDP Server", version)

	cfg := loadConfig()
	opts := trudp.DefaultOptions()
	opts.RequireConfidentiality = cfg.RequireConfidential
	if drop := lossInjector(cfg.LossProbability); drop != nil {
		opts.DropInbound = drop
		logger.Warn("loss injection active: dropping inbound packets with probability %.3f", cfg.LossProbability)
	}

	logger.Info("Binding on %s:%d", cfg.Host, cfg.Port)
	conn, err := trudp.Listen(cfg.Host, cfg.Port, opts)
	if err != nil {
		logger.Fatal("accept failed: %v", err)
	}
	logger.Success("Handshake complete, connection %s established", conn.ConnID())

	conn.Events().Register(trudp.EventRetransmit, func(e trudp.Event) {
		logger.Warn("retransmit on %s: %v", e.ConnID, e.Data)
	})
	conn.Events().Register(trudp.EventDegraded, func(e trudp.Event) {
		logger.Error("segment abandoned on %s after exceeding retry bound: %v", e.ConnID, e.Data)
	})
	conn.Events().Register(trudp.EventClosed, func(e trudp.Event) {
		logger.Warn("connection %s closed", e.ConnID)
	})

	if err := conn.NegotiateKeyResponder(); err != nil {
		logger.Warn("key exchange did not complete, continuing in plaintext: %v", err)
	} else {
		logger.Success("confidential mode established")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	errChan := make(chan error, 1)
	go func() {
		data, err := conn.RecvData(cfg.ExpectedSegments, func(received, total int) {
			logger.Debug("received %d/%d segments", received, total)
		})
		if err != nil {
			errChan <- err
			return
		}
		logger.Success("received %d bytes", len(data))
		errChan <- nil
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("recv_data failed: %v", err)
		}
	case sig := <-sigChan:
		logger.Warn("received signal: %v", sig)
	}

	logger.Info("shutting down gracefully...")
	conn.Close()
	time.Sleep(200 * time.Millisecond)
	logger.Success("server stopped")
}
