package trudp

import (
	"sync"
	"time"
)

// sendEntry tracks one in-flight segment awaiting acknowledgment.
type sendEntry struct {
	packet  *Packet
	sentAt  time.Time
	retries int
}

// AckResult summarizes what processing one inbound ACK did to the send
// buffer, so the caller (conn.go's receive task) can feed RTT samples and
// drive the congestion controller without reaching into Reliability's
// internals.
type AckResult struct {
	// NewlyAcked lists segments retired by this ACK, in ascending seq order.
	NewlyAcked []RetiredSegment
	// AdvancedSendBase reports whether this ACK retired at least one
	// segment (i.e. was not a pure duplicate).
	AdvancedSendBase bool
}

// RetiredSegment is one send-buffer entry removed by a cumulative ACK.
type RetiredSegment struct {
	Seq           uint32
	SentAt        time.Time
	Retries       int
	WasRetransmit bool
}

// Reliability owns the send buffer, receive buffer, duplicate-segment
// detection and the in-order delivery queue described in spec.md §4.3 (C3).
// Grounded on the source's send_buffer/receive_buffer/app_queue triad
// (original_source/tru_protocol.py __init__, _handle_data, _deliver_data),
// pulled out into its own type so conn.go's state machine doesn't also have
// to own buffer bookkeeping.
type Reliability struct {
	mu sync.Mutex

	sendBuf map[uint32]*sendEntry

	recvBuf          map[uint32][]byte
	receivedSegments map[uint32]struct{}
	nextDeliverSeq   uint32
	deliveryQueue    [][]byte

	duplicates uint64
}

// NewReliability creates an empty reliability engine. firstExpectedSeq is
// the sequence number of the first DATA segment the peer will send (the
// peer's ISN plus one, since its SYN consumed one sequence number), used to
// seed the in-order delivery sweep.
func NewReliability(firstExpectedSeq uint32) *Reliability {
	return &Reliability{
		sendBuf:          make(map[uint32]*sendEntry),
		recvBuf:          make(map[uint32][]byte),
		receivedSegments: make(map[uint32]struct{}),
		nextDeliverSeq:   firstExpectedSeq,
	}
}

// TrackSent records a freshly sent segment awaiting ACK.
func (r *Reliability) TrackSent(p *Packet, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendBuf[p.Seq] = &sendEntry{packet: p, sentAt: now}
}

// ProcessAck applies a cumulative ACK: every tracked segment with
// seq < ackNum is retired. Segments are compared with wraparound-aware
// arithmetic (seq - base, matching spec.md §3's 32-bit sequence space).
func (r *Reliability) ProcessAck(ackNum uint32, now time.Time) AckResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result AckResult
	for seq, entry := range r.sendBuf {
		if seqLess(seq, ackNum) {
			result.NewlyAcked = append(result.NewlyAcked, RetiredSegment{
				Seq:           seq,
				SentAt:        entry.sentAt,
				Retries:       entry.retries,
				WasRetransmit: entry.retries > 0,
			})
			delete(r.sendBuf, seq)
		}
	}
	result.AdvancedSendBase = len(result.NewlyAcked) > 0
	return result
}

// seqLess reports whether a precedes b in the 32-bit sequence space,
// tolerating wraparound the way TCP sequence comparison does.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// TimedOut returns every send-buffer entry whose age exceeds its timeout as
// computed by rtt.Backoff(entry.retries), for the timer task to retransmit.
// It does not mutate retry counts; call MarkRetransmitted for each one the
// caller actually resends.
func (r *Reliability) TimedOut(rtt *RTTEstimator, now time.Time) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var timedOut []uint32
	for seq, entry := range r.sendBuf {
		timeout := rtt.Backoff(entry.retries)
		if now.Sub(entry.sentAt) >= timeout {
			timedOut = append(timedOut, seq)
		}
	}
	return timedOut
}

// MarkRetransmitted increments an entry's retry count and resets its send
// time after the caller has retransmitted it, returning the new retry
// count and false if the entry is no longer tracked (already ACKed).
func (r *Reliability) MarkRetransmitted(seq uint32, now time.Time) (retries int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, found := r.sendBuf[seq]
	if !found {
		return 0, false
	}
	entry.retries++
	entry.sentAt = now
	return entry.retries, true
}

// PeekPacket returns the originally sent packet tracked for seq, for the
// timer task to retransmit byte-for-byte, without touching its retry count
// or send timestamp.
func (r *Reliability) PeekPacket(seq uint32) (*Packet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, found := r.sendBuf[seq]
	if !found {
		return nil, false
	}
	return entry.packet, true
}

// Abandon permanently removes a send-buffer entry that exceeded the retry
// bound, returning the packet for diagnostics.
func (r *Reliability) Abandon(seq uint32) (*Packet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, found := r.sendBuf[seq]
	if !found {
		return nil, false
	}
	delete(r.sendBuf, seq)
	return entry.packet, true
}

// SendBufferLen reports how many segments are currently in flight, used to
// respect the congestion window.
func (r *Reliability) SendBufferLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sendBuf)
}

// HandleData processes one inbound DATA segment: deduplicates it, stores it
// if new, and sweeps the receive buffer forward delivering every
// contiguous run starting at nextDeliverSeq into the delivery queue.
// Returns whether the segment was a duplicate (for metrics) and whether at
// least one byte run advanced to the application queue.
func (r *Reliability) HandleData(seq uint32, data []byte) (duplicate bool, delivered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.receivedSegments[seq]; seen {
		r.duplicates++
		return true, false
	}
	if len(r.receivedSegments) == 0 {
		// First DATA segment ever seen on this connection: adopt its seq as
		// the delivery cursor, tolerating ISN skew between what the
		// handshake recorded and the peer's actual first byte (spec.md
		// §4.3, receive path step 2).
		r.nextDeliverSeq = seq
	} else if seqLess(seq, r.nextDeliverSeq) {
		// Already delivered and swept past; treat as duplicate.
		r.duplicates++
		return true, false
	}

	r.receivedSegments[seq] = struct{}{}
	r.recvBuf[seq] = data

	for {
		chunk, ok := r.recvBuf[r.nextDeliverSeq]
		if !ok {
			break
		}
		r.deliveryQueue = append(r.deliveryQueue, chunk)
		delete(r.recvBuf, r.nextDeliverSeq)
		r.nextDeliverSeq += uint32(len(chunk))
		delivered = true
	}
	return false, delivered
}

// NextAck returns the cumulative ack_num to advertise: the next byte-stream
// sequence number the receiver expects, i.e. nextDeliverSeq.
func (r *Reliability) NextAck() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextDeliverSeq
}

// PopDelivered drains and returns everything currently in the delivery
// queue, in order.
func (r *Reliability) PopDelivered() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.deliveryQueue) == 0 {
		return nil
	}
	out := r.deliveryQueue
	r.deliveryQueue = nil
	return out
}

// Counters reports the duplicate-segment count for the metrics sink.
func (r *Reliability) Counters() (duplicates uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duplicates
}
