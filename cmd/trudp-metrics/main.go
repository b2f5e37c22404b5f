// Command trudp-metrics runs a TRUDP server endpoint, exposes its
// congestion/RTT/retransmit counters on a Prometheus /metrics endpoint, and
// periodically dumps the in-memory packet-event history as
// newline-delimited JSON, the Go equivalent of the source's
// metrics_collector.py CSV dump.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trudp/trudp/pkg/logger"
	"github.com/trudp/trudp/pkg/trudp"
)

const version = "1.0.0"

func main() {
	logger.Banner("TRUDP Metrics", version)

	host := flag.String("host", "0.0.0.0", "address to bind the TRUDP listener")
	port := flag.Int("port", 9000, "port to listen on")
	metricsAddr := flag.String("metrics-addr", ":9100", "address to serve /metrics on")
	dumpInterval := flag.Duration("dump-interval", 10*time.Second, "interval between JSON history dumps")
	sinkCapacity := flag.Int("history", 1000, "number of packet-level records to retain in memory")
	flag.Parse()

	opts := trudp.DefaultOptions()
	conn, err := trudp.Listen(*host, *port, opts)
	if err != nil {
		logger.Fatal("accept failed: %v", err)
	}
	defer conn.Close()
	logger.Success("connection %s established", conn.ConnID())

	collector := trudp.NewCollector()
	collector.Add(conn)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	sink := trudp.NewMemorySink(*sinkCapacity)
	conn.Events().Register(trudp.EventPacketSent, func(e trudp.Event) {
		seq, _ := e.Data.(uint32)
		cong := conn.CongestionStats()
		sink.Record(trudp.Record{
			Timestamp:       time.Now(),
			ConnID:          e.ConnID,
			Event:           e.Type,
			Seq:             seq,
			Cwnd:            cong.Cwnd,
			Ssthresh:        cong.Ssthresh,
			CongestionState: cong.State,
		})
	})
	conn.Events().Register(trudp.EventRetransmit, func(e trudp.Event) {
		seq, _ := e.Data.(uint32)
		cong := conn.CongestionStats()
		sink.Record(trudp.Record{
			Timestamp:       time.Now(),
			ConnID:          e.ConnID,
			Event:           e.Type,
			Seq:             seq,
			IsRetransmit:    true,
			Cwnd:            cong.Cwnd,
			Ssthresh:        cong.Ssthresh,
			CongestionState: cong.State,
		})
	})
	conn.Events().Register(trudp.EventClosed, func(e trudp.Event) {
		collector.Remove(e.ConnID)
	})

	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		logger.Info("serving metrics on %s/metrics", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			logger.Error("metrics server stopped: %v", err)
		}
	}()

	encoder := json.NewEncoder(os.Stdout)
	ticker := time.NewTicker(*dumpInterval)
	defer ticker.Stop()
	for range ticker.C {
		for _, record := range sink.Drain() {
			encoder.Encode(record)
		}
	}
}
