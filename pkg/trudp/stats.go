package trudp

import "time"

// RTTStats is a point-in-time snapshot of the RTT estimator, returned by
// Conn.RTTStats and published through the metrics sink. Min/Max/SRTT/RTTVar
// match spec.md §6's rtt_stats() -> {avg, min, max, dev, rto, samples},
// with SRTT standing in for avg and RTTVar for dev.
type RTTStats struct {
	SRTT    time.Duration
	RTTVar  time.Duration
	Min     time.Duration
	Max     time.Duration
	RTO     time.Duration
	Samples int
}

// CongestionStats is a point-in-time snapshot of the congestion controller,
// returned by Conn.CongestionStats and published through the metrics sink.
// Matches spec.md §6's congestion_stats() -> {cwnd, ssthresh, state,
// window, dup_acks, rto}.
type CongestionStats struct {
	Cwnd        float64
	Ssthresh    float64
	State       CongestionState
	WindowSize  int
	DupAcks     int
	Retransmits uint64
	RTO         time.Duration
}
