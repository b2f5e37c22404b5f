package trudp

import "time"

// Options carries every tunable knob of the engine. It mirrors the flat
// Config struct the teacher's core/main.go built for its SA-MP server
// fields: a plain struct with documented defaults, constructed once at
// startup and never mutated afterward.
type Options struct {
	// MSS is the maximum application payload carried by one DATA segment.
	MSS int

	// InitialCwnd and InitialSsthresh seed the congestion controller.
	InitialCwnd     float64
	InitialSsthresh float64

	// MinRTO and MaxRTO bound the retransmission timeout (§4.4).
	MinRTO time.Duration
	MaxRTO time.Duration

	// MinRTTSample and MaxRTTSample bound which RTT samples are fed to the
	// estimator; samples outside this range are discarded unless the
	// estimator has never seen a sample at all (see Conn.handleAck).
	MinRTTSample time.Duration
	MaxRTTSample time.Duration

	// TimerGranularity is how often the timer task scans the send buffer.
	TimerGranularity time.Duration

	// SocketReadBuffer is the size of the per-read UDP buffer.
	SocketReadBuffer int

	// RetryBound is how many times a segment is retransmitted before it is
	// permanently abandoned (degraded mode, §3 lifecycle).
	RetryBound int

	// SendCompletionMultiple scales the current RTO for SendData's overall
	// completion deadline (spec: 3 × rto).
	SendCompletionMultiple int

	// RecvCeiling bounds how long RecvData blocks waiting for segments.
	RecvCeiling time.Duration

	// SynRetries and SynRetryInterval bound the client handshake.
	SynRetries       int
	SynRetryInterval time.Duration

	// AcceptTimeout bounds how long Listen blocks waiting for a SYN.
	AcceptTimeout time.Duration

	// FinAckTimeout bounds how long Close waits for the peer's FIN_ACK.
	FinAckTimeout time.Duration

	// KeyExchangeClientTimeout and KeyExchangeServerTimeout bound
	// NegotiateKeyInitiator/NegotiateKeyResponder respectively.
	KeyExchangeClientTimeout time.Duration
	KeyExchangeServerTimeout time.Duration

	// SocketReadTimeout bounds each blocking read on the UDP socket so the
	// receive task can observe the running flag promptly on shutdown.
	SocketReadTimeout time.Duration

	// DropInbound, when non-nil, is consulted for every inbound packet the
	// receive task reads after the handshake, before checksum validation;
	// returning true drops the packet. This is
	// the explicit, constructor-level replacement for the source's global
	// loss_probability test hook (see REDESIGN FLAGS, spec.md §9).
	DropInbound func(seq uint32) bool

	// RequireConfidentiality, when true, rejects SendData/RecvData calls
	// made before a successful key exchange. Off by default: plaintext
	// mode is always usable (spec.md §7, key-exchange failure disposition).
	RequireConfidentiality bool
}

// DefaultOptions returns the knob values named in spec.md §6.
func DefaultOptions() Options {
	return Options{
		MSS:                      1400,
		InitialCwnd:              1.0,
		InitialSsthresh:          64.0,
		MinRTO:                   100 * time.Millisecond,
		MaxRTO:                   10 * time.Second,
		MinRTTSample:             100 * time.Microsecond,
		MaxRTTSample:             2 * time.Second,
		TimerGranularity:         100 * time.Millisecond,
		SocketReadBuffer:         2048,
		RetryBound:               3,
		SendCompletionMultiple:   3,
		RecvCeiling:              30 * time.Second,
		SynRetries:               3,
		SynRetryInterval:         1500 * time.Millisecond,
		AcceptTimeout:            30 * time.Second,
		FinAckTimeout:            2 * time.Second,
		KeyExchangeClientTimeout: 10 * time.Second,
		KeyExchangeServerTimeout: 30 * time.Second,
		SocketReadTimeout:        1 * time.Second,
	}
}
