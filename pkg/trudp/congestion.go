package trudp

import "sync"

// CongestionState names the three AIMD phases from spec.md §4.4. Note the
// deliberate spelling: the source's congestion.py carried a `sstresh` typo
// through its whole state machine; spec.md §9 calls that out as a bug to
// fix, so every identifier here spells it ssthresh.
type CongestionState int

const (
	SlowStart CongestionState = iota
	CongestionAvoidance
	FastRecovery
)

func (s CongestionState) String() string {
	switch s {
	case SlowStart:
		return "slow_start"
	case CongestionAvoidance:
		return "congestion_avoidance"
	case FastRecovery:
		return "fast_recovery"
	default:
		return "unknown"
	}
}

// CongestionController implements the AIMD window controller from
// spec.md §4.4, grounded on original_source/congestion.py's CongestionControl
// class (on_packet_sent/on_ack_received/on_timeout/on_three_duplicate_acks),
// with the ssthresh typo fixed and the dup-ack bookkeeping made an explicit,
// self-contained state machine rather than free functions mutating instance
// fields.
type CongestionController struct {
	mu sync.Mutex

	cwnd     float64
	ssthresh float64
	state    CongestionState

	lastAck     uint32
	haveLastAck bool
	dupAckCount int
	retransmits uint64
}

// NewCongestionController creates a controller seeded with the given
// initial window and slow-start threshold.
func NewCongestionController(initialCwnd, initialSsthresh float64) *CongestionController {
	return &CongestionController{
		cwnd:     initialCwnd,
		ssthresh: initialSsthresh,
		state:    SlowStart,
	}
}

// OnPacketSent is a hook point mirroring the source's on_packet_sent; the
// controller currently needs no bookkeeping on send, only on ACK/timeout.
func (c *CongestionController) OnPacketSent() {}

// OnAckReceived processes one inbound ACK. ackNum is the cumulative ack_num
// carried by the packet. It returns true the moment three duplicate ACKs at
// the same ack_num push the controller into FastRecovery (spec.md §4.4,
// testable property 3), so callers can trigger a fast retransmit.
func (c *CongestionController) OnAckReceived(ackNum uint32) (enteredFastRecovery bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	isDuplicate := c.haveLastAck && ackNum <= c.lastAck
	if isDuplicate {
		c.dupAckCount++
		if c.dupAckCount == 3 && c.state != FastRecovery {
			c.ssthresh = maxFloat(c.cwnd/2, 2.0)
			c.cwnd = c.ssthresh
			c.state = FastRecovery
			return true
		}
		return false
	}

	c.lastAck = ackNum
	c.haveLastAck = true
	c.dupAckCount = 0

	switch c.state {
	case SlowStart:
		c.cwnd++
		if c.cwnd >= c.ssthresh {
			c.state = CongestionAvoidance
		}
	case CongestionAvoidance:
		c.cwnd += 1.0 / c.cwnd
	case FastRecovery:
		c.cwnd = c.ssthresh
		c.state = CongestionAvoidance
	}
	return false
}

// OnTimeout handles a retransmission timeout: halve the window into
// ssthresh, reset cwnd to one segment and return to SlowStart.
func (c *CongestionController) OnTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ssthresh = maxFloat(c.cwnd/2, 2.0)
	c.cwnd = 1.0
	c.state = SlowStart
	c.dupAckCount = 0
	c.retransmits++
}

// WindowSize returns the current congestion window as a whole number of
// segments, floored at 1 so the sender never stalls completely.
func (c *CongestionController) WindowSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := int(c.cwnd)
	if w < 1 {
		w = 1
	}
	return w
}

// Stats returns a snapshot for reporting.
func (c *CongestionController) Stats() CongestionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := int(c.cwnd)
	if w < 1 {
		w = 1
	}
	return CongestionStats{
		Cwnd:        c.cwnd,
		Ssthresh:    c.ssthresh,
		State:       c.state,
		WindowSize:  w,
		DupAcks:     c.dupAckCount,
		Retransmits: c.retransmits,
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
