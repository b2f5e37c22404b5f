package trudp

import "testing"

func TestCongestionSlowStartGrowsToAvoidance(t *testing.T) {
	c := NewCongestionController(1.0, 4.0)
	for ack := uint32(1); ack <= 4; ack++ {
		c.OnAckReceived(ack)
	}
	stats := c.Stats()
	if stats.State != CongestionAvoidance {
		t.Fatalf("state after crossing ssthresh = %v, want CongestionAvoidance", stats.State)
	}
	if stats.Cwnd < stats.Ssthresh {
		t.Fatalf("cwnd %v should be >= ssthresh %v once in avoidance", stats.Cwnd, stats.Ssthresh)
	}
}

func TestCongestionThreeDuplicateAcksTriggersFastRecovery(t *testing.T) {
	c := NewCongestionController(10.0, 20.0)
	c.OnAckReceived(5) // establish lastAck

	var entered bool
	for i := 0; i < 3; i++ {
		entered = c.OnAckReceived(5)
	}
	if !entered {
		t.Fatalf("third duplicate ACK did not report entering fast recovery")
	}
	stats := c.Stats()
	if stats.State != FastRecovery {
		t.Fatalf("state = %v, want FastRecovery", stats.State)
	}
	if stats.Cwnd != stats.Ssthresh {
		t.Fatalf("cwnd = %v, want == ssthresh on entering fast recovery", stats.Cwnd)
	}
}

func TestCongestionFastRecoveryExitsOnFreshAck(t *testing.T) {
	c := NewCongestionController(10.0, 20.0)
	c.OnAckReceived(5) // establish lastAck
	c.OnAckReceived(5)
	c.OnAckReceived(5)
	c.OnAckReceived(5) // third duplicate: enters fast recovery

	c.OnAckReceived(6) // fresh data ack
	stats := c.Stats()
	if stats.State != CongestionAvoidance {
		t.Fatalf("state after fresh ack in fast recovery = %v, want CongestionAvoidance", stats.State)
	}
}

func TestCongestionOnTimeoutResetsToSlowStart(t *testing.T) {
	c := NewCongestionController(16.0, 4.0)
	c.OnTimeout()
	stats := c.Stats()
	if stats.State != SlowStart {
		t.Fatalf("state after timeout = %v, want SlowStart", stats.State)
	}
	if stats.Cwnd != 1.0 {
		t.Fatalf("cwnd after timeout = %v, want 1.0", stats.Cwnd)
	}
	if stats.Ssthresh != 8.0 {
		t.Fatalf("ssthresh after timeout = %v, want 8.0 (half of 16)", stats.Ssthresh)
	}
	if stats.Retransmits != 1 {
		t.Fatalf("retransmits = %d, want 1", stats.Retransmits)
	}
}

func TestCongestionWindowSizeNeverBelowOne(t *testing.T) {
	c := NewCongestionController(0.1, 4.0)
	if got := c.WindowSize(); got != 1 {
		t.Fatalf("WindowSize() = %d, want 1 (floored)", got)
	}
}
