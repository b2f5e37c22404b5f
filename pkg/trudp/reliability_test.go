package trudp

import (
	"bytes"
	"testing"
	"time"
)

func TestReliabilityHandleDataInOrder(t *testing.T) {
	r := NewReliability(100)

	dup, delivered := r.HandleData(100, []byte("a"))
	if dup || !delivered {
		t.Fatalf("first in-order segment: dup=%v delivered=%v, want false/true", dup, delivered)
	}
	dup, delivered = r.HandleData(101, []byte("b"))
	if dup || !delivered {
		t.Fatalf("second in-order segment: dup=%v delivered=%v, want false/true", dup, delivered)
	}

	out := r.PopDelivered()
	if len(out) != 2 || !bytes.Equal(out[0], []byte("a")) || !bytes.Equal(out[1], []byte("b")) {
		t.Fatalf("PopDelivered = %v, want [a b]", out)
	}
	if r.NextAck() != 102 {
		t.Fatalf("NextAck = %d, want 102", r.NextAck())
	}
}

func TestReliabilityHandleDataOutOfOrderThenFill(t *testing.T) {
	r := NewReliability(100)

	// First segment ever seen adopts its seq as the delivery cursor
	// (spec.md §4.3 receive-path step 2), so seed the baseline with an
	// in-order arrival before exercising a genuine gap.
	_, delivered := r.HandleData(100, []byte("a"))
	if !delivered {
		t.Fatalf("baseline segment did not report delivered")
	}
	r.PopDelivered()

	_, delivered = r.HandleData(102, []byte("c")) // arrives early, leaves a gap at 101
	if delivered {
		t.Fatalf("out-of-order segment reported delivered before gap filled")
	}
	if out := r.PopDelivered(); out != nil {
		t.Fatalf("PopDelivered before gap fill = %v, want nil", out)
	}

	_, delivered = r.HandleData(101, []byte("b")) // fills the gap
	if !delivered {
		t.Fatalf("filling segment did not report delivered")
	}
	out := r.PopDelivered()
	if len(out) != 2 || !bytes.Equal(out[0], []byte("b")) || !bytes.Equal(out[1], []byte("c")) {
		t.Fatalf("PopDelivered after gap fill = %v, want [b c]", out)
	}
}

func TestReliabilityHandleDataDuplicate(t *testing.T) {
	r := NewReliability(100)
	r.HandleData(100, []byte("a"))
	r.PopDelivered()

	dup, delivered := r.HandleData(100, []byte("a-retransmitted"))
	if !dup || delivered {
		t.Fatalf("re-delivered segment: dup=%v delivered=%v, want true/false", dup, delivered)
	}
	if r.Counters() != 1 {
		t.Fatalf("duplicate counter = %d, want 1", r.Counters())
	}
}

func TestReliabilityProcessAckRetiresSentSegments(t *testing.T) {
	r := NewReliability(0)
	now := time.Unix(0, 0)
	r.TrackSent(&Packet{Seq: 10}, now)
	r.TrackSent(&Packet{Seq: 11}, now)
	r.TrackSent(&Packet{Seq: 12}, now)

	result := r.ProcessAck(12, now)
	if !result.AdvancedSendBase {
		t.Fatalf("AdvancedSendBase = false, want true")
	}
	if len(result.NewlyAcked) != 2 {
		t.Fatalf("NewlyAcked = %d entries, want 2", len(result.NewlyAcked))
	}
	if r.SendBufferLen() != 1 {
		t.Fatalf("SendBufferLen = %d, want 1 (seq 12 still outstanding)", r.SendBufferLen())
	}
}

func TestReliabilityProcessAckDuplicateAckNoOp(t *testing.T) {
	r := NewReliability(0)
	now := time.Unix(0, 0)
	r.TrackSent(&Packet{Seq: 10}, now)

	result := r.ProcessAck(5, now) // ack below everything tracked
	if result.AdvancedSendBase || len(result.NewlyAcked) != 0 {
		t.Fatalf("ProcessAck(5) retired entries it shouldn't have: %+v", result)
	}
	if r.SendBufferLen() != 1 {
		t.Fatalf("SendBufferLen = %d, want 1", r.SendBufferLen())
	}
}

func TestReliabilityTimedOutAndRetransmit(t *testing.T) {
	r := NewReliability(0)
	rtt := NewRTTEstimator(10*time.Millisecond, time.Second)
	past := time.Now().Add(-time.Second)
	r.TrackSent(&Packet{Seq: 1}, past)

	timedOut := r.TimedOut(rtt, time.Now())
	if len(timedOut) != 1 || timedOut[0] != 1 {
		t.Fatalf("TimedOut = %v, want [1]", timedOut)
	}

	retries, ok := r.MarkRetransmitted(1, time.Now())
	if !ok || retries != 1 {
		t.Fatalf("MarkRetransmitted = (%d, %v), want (1, true)", retries, ok)
	}

	// Freshly retransmitted, should not be timed out again immediately.
	if timedOut := r.TimedOut(rtt, time.Now()); len(timedOut) != 0 {
		t.Fatalf("TimedOut right after retransmit = %v, want none", timedOut)
	}
}
