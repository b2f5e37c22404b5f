package trudp

import (
	"sync"
	"time"
)

// rtoAlpha and rtoBeta are the Jacobson/Karn smoothing gains from RFC 6298.
const (
	rtoAlpha = 0.125
	rtoBeta  = 0.25
)

// RTTEstimator tracks smoothed RTT and RTT variance and derives the current
// retransmission timeout from them, per spec.md §4.4. Grounded on the
// source's _update_rtt/_calculate_timeout pair (original_source/tru_protocol.py),
// reworked as its own type instead of inline instance state so conn.go can
// hold it separately from the congestion controller.
type RTTEstimator struct {
	mu sync.Mutex

	minRTO time.Duration
	maxRTO time.Duration

	hasSample bool
	srtt      time.Duration
	rttvar    time.Duration
	samples   int

	// recent holds the last 10 accepted samples, oldest first, matching the
	// bounded history the source kept for get_rtt_stats-style reporting.
	recent []time.Duration
}

// NewRTTEstimator creates an estimator with no samples yet; RTO returns
// minRTO until the first sample arrives.
func NewRTTEstimator(minRTO, maxRTO time.Duration) *RTTEstimator {
	return &RTTEstimator{minRTO: minRTO, maxRTO: maxRTO}
}

// Update feeds one RTT sample (measured from a segment's send time to the
// arrival of the ACK that retires it) into the estimator. The caller is
// responsible for Karn's rule: only feed samples measured from segments that
// were never retransmitted.
func (e *RTTEstimator) Update(sample time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasSample {
		e.srtt = sample
		e.rttvar = sample / 2
		e.hasSample = true
	} else {
		diff := sample - e.srtt
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = time.Duration((1-rtoBeta)*float64(e.rttvar) + rtoBeta*float64(diff))
		e.srtt = time.Duration((1-rtoAlpha)*float64(e.srtt) + rtoAlpha*float64(sample))
	}
	e.samples++
	e.recent = append(e.recent, sample)
	if len(e.recent) > 10 {
		e.recent = e.recent[1:]
	}
}

// RTO returns the current retransmission timeout, clamped to [minRTO,
// maxRTO]. Before any sample has arrived it returns minRTO, matching the
// source's initial_timeout fallback.
func (e *RTTEstimator) RTO() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rtoLocked()
}

func (e *RTTEstimator) rtoLocked() time.Duration {
	if !e.hasSample {
		return e.minRTO
	}
	rttvar := e.rttvar
	if rttvar < time.Millisecond {
		rttvar = time.Millisecond
	}
	rto := e.srtt + 4*rttvar
	if rto < e.minRTO {
		rto = e.minRTO
	}
	if rto > e.maxRTO {
		rto = e.maxRTO
	}
	return rto
}

// Backoff returns the Karn-backoff timeout to use for the retries'th
// retransmission of a still-unacked segment: the current RTO doubled once
// per retry, capped at maxRTO. It does not mutate estimator state — the
// doubling applies only to this segment's next retransmission and is
// discarded the moment a fresh, un-retransmitted sample updates srtt/rttvar
// (spec.md §9, Karn backoff resolution).
func (e *RTTEstimator) Backoff(retries int) time.Duration {
	e.mu.Lock()
	base := e.rtoLocked()
	maxRTO := e.maxRTO
	e.mu.Unlock()

	backoff := base
	for i := 0; i < retries; i++ {
		backoff *= 2
		if backoff >= maxRTO {
			return maxRTO
		}
	}
	return backoff
}

// Stats returns a snapshot for reporting, including the min/max of the
// bounded recent-sample window spec.md §6 requires alongside avg/dev.
func (e *RTTEstimator) Stats() RTTStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var min, max time.Duration
	for i, s := range e.recent {
		if i == 0 || s < min {
			min = s
		}
		if i == 0 || s > max {
			max = s
		}
	}
	return RTTStats{
		SRTT:    e.srtt,
		RTTVar:  e.rttvar,
		Min:     min,
		Max:     max,
		RTO:     e.rtoLocked(),
		Samples: e.samples,
	}
}
