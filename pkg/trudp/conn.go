package trudp

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// State names a phase of the connection lifecycle (spec.md §3, Lifecycles).
type State int

const (
	StateClosed State = iota
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateFinSent
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateSynSent:
		return "syn_sent"
	case StateSynRcvd:
		return "syn_rcvd"
	case StateEstablished:
		return "established"
	case StateFinSent:
		return "fin_sent"
	default:
		return "unknown"
	}
}

// Conn is one TRUDP endpoint: one UDP socket talking to exactly one peer.
// Grounded on the source's TRUProtocol class (original_source/tru_protocol.py)
// and on the teacher's Session struct (source/protocol/raknet.go) for the
// mutex-guarded-state-plus-background-loops shape; the handshake itself
// runs synchronously on the caller's goroutine before the background
// receive/timer loops start, exactly as the source's connect()/accept() do
// before calling self.start().
type Conn struct {
	id   string
	opts Options

	sock     *net.UDPConn
	peerAddr *net.UDPAddr
	isServer bool

	mu           sync.Mutex
	state        State
	connected    bool
	baseSeq      uint32
	nextSeq      uint32
	confidential bool
	sessionKey   []byte
	iv           [IVSize]byte
	degraded     bool

	reliability *Reliability
	congestion  *CongestionController
	rtt         *RTTEstimator
	events      *EventManager
	pendingDH   *DHKeyPair

	running   bool
	runningMu sync.Mutex
	wg        sync.WaitGroup

	finAckOnce sync.Once
	finAckCh   chan struct{}

	keyRespOnce sync.Once
	keyRespCh   chan struct{}
	keyDoneOnce sync.Once
	keyDoneCh   chan struct{}
}

func newConn(sock *net.UDPConn, isServer bool, opts Options) *Conn {
	return &Conn{
		id:          newConnID(),
		opts:        opts,
		sock:        sock,
		isServer:    isServer,
		state:       StateClosed,
		congestion:  NewCongestionController(opts.InitialCwnd, opts.InitialSsthresh),
		rtt:         NewRTTEstimator(opts.MinRTO, opts.MaxRTO),
		events:      NewEventManager(),
		finAckCh:    make(chan struct{}),
		keyRespCh:   make(chan struct{}),
		keyDoneCh:   make(chan struct{}),
	}
}

// ConnID returns this connection's short identifier, used only for metric
// labels.
func (c *Conn) ConnID() string { return c.id }

// Events returns the EventManager observers can register handlers on.
func (c *Conn) Events() *EventManager { return c.events }

func randomISN() uint32 {
	return rand.Uint32()
}

func (c *Conn) isRunning() bool {
	c.runningMu.Lock()
	defer c.runningMu.Unlock()
	return c.running
}

func (c *Conn) setRunning(v bool) {
	c.runningMu.Lock()
	c.running = v
	c.runningMu.Unlock()
}

// newPacket builds an outgoing packet stamped with this connection's
// current confidentiality state: once a session key is established every
// packet must carry the wire-format IV slot Decode expects on the
// receiving end, or the two sides disagree on header length (spec.md
// §4.1's 23-vs-39-byte framing).
func (c *Conn) newPacket(seq, ack uint32, ptype PacketType, window uint16, data []byte) *Packet {
	c.mu.Lock()
	confidential := c.confidential
	iv := c.iv
	c.mu.Unlock()
	return &Packet{
		Seq:          seq,
		Ack:          ack,
		Type:         ptype,
		Window:       window,
		Timestamp:    time.Now(),
		IV:           iv,
		Confidential: confidential,
		Data:         data,
	}
}

// Dial performs the client side of the three-way handshake against
// host:port and, on success, starts the background receive and timer
// tasks. Grounded on the source's connect(), including the source's bug
// fix mandated by spec.md §9: a handshake timeout is a hard failure, not a
// connection reported as open.
func Dial(host string, port int, opts Options) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "trudp: resolving peer address")
	}
	sock, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, errors.Wrap(err, "trudp: opening client socket")
	}

	c := newConn(sock, false, opts)
	c.peerAddr = raddr
	c.baseSeq = randomISN()
	c.nextSeq = c.baseSeq

	if err := c.clientHandshake(); err != nil {
		sock.Close()
		return nil, err
	}

	c.start()
	c.events.Trigger(Event{Type: EventConnected, ConnID: c.id})
	return c, nil
}

// clientHandshake runs the synchronous SYN / SYN_ACK / ACK exchange,
// retrying SYN up to opts.SynRetries times at opts.SynRetryInterval.
func (c *Conn) clientHandshake() error {
	c.state = StateSynSent
	buf := make([]byte, c.opts.SocketReadBuffer)

	for attempt := 0; attempt < c.opts.SynRetries; attempt++ {
		syn := c.newPacket(c.baseSeq, 0, PacketSYN, 0, nil)
		if _, err := c.sock.WriteToUDP(syn.Encode(), c.peerAddr); err != nil {
			return errors.Wrap(err, "trudp: sending SYN")
		}

		c.sock.SetReadDeadline(time.Now().Add(c.opts.SynRetryInterval))
		n, addr, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			continue // timed out waiting for SYN_ACK, retry
		}
		pkt, err := Decode(buf[:n], false)
		if err != nil || pkt.Type != PacketSYNACK || pkt.Ack != c.baseSeq+1 {
			continue
		}
		c.peerAddr = addr

		serverISN := pkt.Seq
		c.nextSeq = c.baseSeq + 1
		ack := c.newPacket(c.nextSeq, serverISN+1, PacketACK, 0, nil)
		if _, err := c.sock.WriteToUDP(ack.Encode(), c.peerAddr); err != nil {
			return errors.Wrap(err, "trudp: sending final ACK")
		}

		c.reliability = NewReliability(serverISN + 1)
		c.state = StateEstablished
		c.connected = true
		return nil
	}

	c.state = StateClosed
	return errors.New("trudp: handshake timed out, no SYN_ACK received")
}

// Listen performs the server side of the three-way handshake, blocking up
// to opts.AcceptTimeout for a client's SYN. Grounded on the source's
// accept(), including the §9 bug fix requiring the closing ACK's ack_num
// to equal ISN_s+1 before the handshake is accepted.
func Listen(host string, port int, opts Options) (*Conn, error) {
	laddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrap(err, "trudp: resolving bind address")
	}
	sock, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "trudp: binding server socket")
	}

	c := newConn(sock, true, opts)
	c.baseSeq = randomISN()
	c.nextSeq = c.baseSeq

	if err := c.serverHandshake(); err != nil {
		sock.Close()
		return nil, err
	}

	c.start()
	c.events.Trigger(Event{Type: EventConnected, ConnID: c.id})
	return c, nil
}

func (c *Conn) serverHandshake() error {
	c.state = StateClosed
	buf := make([]byte, c.opts.SocketReadBuffer)
	deadline := time.Now().Add(c.opts.AcceptTimeout)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.New("trudp: accept timed out waiting for SYN")
		}
		c.sock.SetReadDeadline(time.Now().Add(remaining))
		n, addr, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			return errors.New("trudp: accept timed out waiting for SYN")
		}
		pkt, err := Decode(buf[:n], false)
		if err != nil || pkt.Type != PacketSYN {
			continue // spurious packet during accept window, discard and keep listening
		}

		clientISN := pkt.Seq
		c.peerAddr = addr
		c.state = StateSynRcvd
		synAck := c.newPacket(c.baseSeq, clientISN+1, PacketSYNACK, 0, nil)
		if _, err := c.sock.WriteToUDP(synAck.Encode(), addr); err != nil {
			return errors.Wrap(err, "trudp: sending SYN_ACK")
		}

		c.sock.SetReadDeadline(time.Now().Add(c.opts.AcceptTimeout))
		n2, addr2, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			return errors.New("trudp: accept timed out waiting for final ACK")
		}
		finalPkt, err := Decode(buf[:n2], false)
		if err != nil || finalPkt.Type != PacketACK || !sameAddr(addr2, addr) {
			continue
		}
		if finalPkt.Ack != c.baseSeq+1 {
			continue // §9 ambiguity resolution: reject an ACK with the wrong ack_num
		}

		c.nextSeq = c.baseSeq + 1
		c.reliability = NewReliability(clientISN + 1)
		c.state = StateEstablished
		c.connected = true
		return nil
	}
}

func sameAddr(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// start launches the background receive and timer tasks.
func (c *Conn) start() {
	c.setRunning(true)
	c.wg.Add(2)
	go c.receiveLoop()
	go c.timerLoop()
}

func (c *Conn) receiveLoop() {
	defer c.wg.Done()
	buf := make([]byte, c.opts.SocketReadBuffer)
	for c.isRunning() {
		c.sock.SetReadDeadline(time.Now().Add(c.opts.SocketReadTimeout))
		n, addr, err := c.sock.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		raw := append([]byte(nil), buf[:n]...)
		c.handleInbound(raw, addr)
	}
}

func (c *Conn) timerLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.TimerGranularity)
	defer ticker.Stop()
	for c.isRunning() {
		<-ticker.C
		c.scanAndRetransmit()
	}
}

func (c *Conn) scanAndRetransmit() {
	now := time.Now()
	for _, seq := range c.reliability.TimedOut(c.rtt, now) {
		retries, ok := c.reliability.MarkRetransmitted(seq, now)
		if !ok {
			continue
		}
		if retries > c.opts.RetryBound {
			if pkt, abandoned := c.reliability.Abandon(seq); abandoned {
				c.setDegraded(true)
				c.events.Trigger(Event{Type: EventDegraded, ConnID: c.id, Data: pkt.Seq})
			}
			continue
		}
		if pkt, found := c.peekSent(seq); found {
			c.sock.WriteToUDP(pkt.Encode(), c.peerAddr)
			c.congestion.OnTimeout()
			c.events.Trigger(Event{Type: EventRetransmit, ConnID: c.id, Data: seq})
		}
	}
}

// peekSent retrieves the original packet tracked for seq without mutating
// the send buffer; Reliability doesn't expose sendBuf directly, so
// scanAndRetransmit reconstructs from the same entry used by
// MarkRetransmitted. This relies on MarkRetransmitted having already run
// and left the entry in place (only Abandon removes it).
func (c *Conn) peekSent(seq uint32) (*Packet, bool) {
	return c.reliability.PeekPacket(seq)
}

func (c *Conn) setDegraded(v bool) {
	c.mu.Lock()
	c.degraded = v
	c.mu.Unlock()
}

// handleInbound decodes and dispatches one inbound datagram.
func (c *Conn) handleInbound(raw []byte, addr *net.UDPAddr) {
	if len(raw) >= 4 && c.opts.DropInbound != nil {
		seq := binary.BigEndian.Uint32(raw[0:4])
		if c.opts.DropInbound(seq) {
			return
		}
	}

	c.mu.Lock()
	confidential := c.confidential
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return
	}

	pkt, err := Decode(raw, confidential)
	if err != nil {
		return
	}
	c.events.Trigger(Event{Type: EventPacketReceived, ConnID: c.id, Data: pkt.Type})

	switch pkt.Type {
	case PacketData:
		c.handleData(pkt, addr)
	case PacketACK:
		c.handleAck(pkt)
	case PacketFIN:
		c.handleFin(addr)
	case PacketFINACK:
		c.finAckOnce.Do(func() { close(c.finAckCh) })
	case PacketKeyExchange:
		c.handleKeyExchange(pkt, addr)
	case PacketKeyResponse:
		c.handleKeyResponse(pkt)
	case PacketSYN:
		// Repeated SYN while ESTABLISHED is ignored (idempotent server),
		// spec.md §4.2.
	}
}

func (c *Conn) handleData(pkt *Packet, addr *net.UDPAddr) {
	c.reliability.HandleData(pkt.Seq, pkt.Data)
	ackNum := c.reliability.NextAck()
	ack := c.newPacket(c.currentNextSeq(), ackNum, PacketACK, 0, nil)
	c.sock.WriteToUDP(ack.Encode(), addr)
}

func (c *Conn) currentNextSeq() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextSeq
}

func (c *Conn) handleAck(pkt *Packet) {
	now := time.Now()
	result := c.reliability.ProcessAck(pkt.Ack, now)
	for _, seg := range result.NewlyAcked {
		if seg.WasRetransmit {
			continue // Karn's algorithm: no RTT sample from a retransmitted segment
		}
		sample := now.Sub(seg.SentAt)
		stats := c.rtt.Stats()
		if stats.Samples == 0 || (sample >= c.opts.MinRTTSample && sample <= c.opts.MaxRTTSample) {
			c.rtt.Update(sample)
		}
	}
	if c.congestion.OnAckReceived(pkt.Ack) {
		c.events.Trigger(Event{Type: EventRetransmit, ConnID: c.id, Data: "fast_recovery"})
	}
}

func (c *Conn) handleFin(addr *net.UDPAddr) {
	finAck := c.newPacket(0, 0, PacketFINACK, 0, nil)
	c.sock.WriteToUDP(finAck.Encode(), addr)

	c.mu.Lock()
	c.connected = false
	c.state = StateClosed
	c.mu.Unlock()
	c.setRunning(false)
	c.events.Trigger(Event{Type: EventClosed, ConnID: c.id})
}

// Close sends FIN, waits up to opts.FinAckTimeout for FIN_ACK, then closes
// the socket regardless of whether it arrived (spec.md §4.2 graceful close,
// §7 "application close during outstanding data").
func (c *Conn) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		c.setRunning(false)
		c.wg.Wait()
		return c.sock.Close()
	}
	c.state = StateFinSent
	c.mu.Unlock()

	fin := c.newPacket(0, 0, PacketFIN, 0, nil)
	c.sock.WriteToUDP(fin.Encode(), c.peerAddr)

	select {
	case <-c.finAckCh:
	case <-time.After(c.opts.FinAckTimeout):
	}

	c.mu.Lock()
	c.connected = false
	c.state = StateClosed
	c.mu.Unlock()

	c.setRunning(false)
	c.wg.Wait()
	c.events.Trigger(Event{Type: EventClosed, ConnID: c.id})
	return c.sock.Close()
}

// NegotiateKeyInitiator sends a KEY_EXCHANGE and waits for KEY_RESPONSE,
// upgrading the connection to confidential mode on success. spec.md §7:
// failure leaves the connection usable in plaintext.
func (c *Conn) NegotiateKeyInitiator() error {
	kp, err := GenerateDHKeyPair()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pendingDH = kp
	c.mu.Unlock()

	payload := encodeKeyExchangePayload(kp.group.G, kp.group.P, kp.Public)
	pkt := c.newPacket(0, 0, PacketKeyExchange, 0, payload)
	if _, err := c.sock.WriteToUDP(pkt.Encode(), c.peerAddr); err != nil {
		return errors.Wrap(err, "trudp: sending KEY_EXCHANGE")
	}

	select {
	case <-c.keyRespCh:
		c.events.Trigger(Event{Type: EventKeyExchangeComplete, ConnID: c.id})
		return nil
	case <-time.After(c.opts.KeyExchangeClientTimeout):
		return errors.New("trudp: key exchange timed out waiting for KEY_RESPONSE")
	}
}

// NegotiateKeyResponder waits for an inbound KEY_EXCHANGE and completes the
// responder side; the actual cryptographic work happens in
// handleKeyExchange on the receive task the moment the packet arrives, so
// this call is a bounded wait on that completion.
func (c *Conn) NegotiateKeyResponder() error {
	select {
	case <-c.keyDoneCh:
		return nil
	case <-time.After(c.opts.KeyExchangeServerTimeout):
		return errors.New("trudp: key exchange timed out waiting for KEY_EXCHANGE")
	}
}

func (c *Conn) handleKeyExchange(pkt *Packet, addr *net.UDPAddr) {
	g, p, yc, err := decodeKeyExchangePayload(pkt.Data)
	if err != nil {
		return
	}
	group := DHGroup{G: g, P: p}
	kp, err := GenerateDHKeyPairInGroup(group)
	if err != nil {
		return
	}
	shared := kp.SharedSecret(yc)
	key, err := DeriveSessionKey(shared)
	if err != nil {
		return
	}
	iv, err := GenerateIV()
	if err != nil {
		return
	}

	// The KEY_RESPONSE packet itself must go out under the old (plaintext)
	// framing: the peer hasn't learned this IV yet when it decodes this
	// packet, so it still expects the pre-exchange header layout. Flip
	// c.confidential only after this send, so newPacket frames it correctly.
	resp := encodeKeyResponsePayload(kp.Public, iv)
	respPkt := c.newPacket(0, 0, PacketKeyResponse, 0, resp)
	c.sock.WriteToUDP(respPkt.Encode(), addr)

	c.mu.Lock()
	c.sessionKey = key
	c.iv = iv
	c.confidential = true
	c.mu.Unlock()

	c.keyDoneOnce.Do(func() { close(c.keyDoneCh) })
	c.events.Trigger(Event{Type: EventKeyExchangeComplete, ConnID: c.id})
}

func (c *Conn) handleKeyResponse(pkt *Packet) {
	c.mu.Lock()
	kp := c.pendingDH
	c.mu.Unlock()
	if kp == nil {
		return
	}
	ys, iv, err := decodeKeyResponsePayload(pkt.Data)
	if err != nil {
		return
	}
	shared := kp.SharedSecret(ys)
	key, err := DeriveSessionKey(shared)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.sessionKey = key
	c.iv = iv
	c.confidential = true
	c.pendingDH = nil
	c.mu.Unlock()

	c.keyRespOnce.Do(func() { close(c.keyRespCh) })
}

// segmentPayload splits data into chunks of at most mss bytes.
func segmentPayload(data []byte, mss int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var segments [][]byte
	for len(data) > 0 {
		n := mss
		if n > len(data) {
			n = len(data)
		}
		segments = append(segments, data[:n])
		data = data[n:]
	}
	return segments
}

// SendData encrypts (if confidential mode is on), segments, and transmits
// data, blocking until every segment is acknowledged or the completion
// timeout elapses. Grounded on the source's send_data, including its
// window-admission wait and its 3×rto completion ceiling (spec.md §4.3).
func (c *Conn) SendData(data []byte, progress func(sent, total int)) (bool, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return false, errors.New("trudp: send_data called while not connected")
	}
	if c.opts.RequireConfidentiality && !c.confidential {
		c.mu.Unlock()
		return false, errors.New("trudp: send_data requires confidential mode")
	}
	confidential := c.confidential
	key := c.sessionKey
	iv := c.iv
	c.mu.Unlock()

	payload := data
	if confidential {
		payload = EncryptPayload(key, iv, data)
	}

	segments := segmentPayload(payload, c.opts.MSS)
	total := len(segments)
	for i, seg := range segments {
		for {
			if !c.isRunning() {
				return false, errors.New("trudp: connection closed during send_data")
			}
			if c.reliability.SendBufferLen() < c.congestion.WindowSize() {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		c.sendSegment(seg)
		if progress != nil {
			progress(i+1, total)
		}
	}

	timeout := time.Duration(c.opts.SendCompletionMultiple) * c.rtt.RTO()
	deadline := time.Now().Add(timeout)
	for c.reliability.SendBufferLen() > 0 {
		if time.Now().After(deadline) {
			return false, nil
		}
		if !c.isRunning() {
			return false, errors.New("trudp: connection closed during send_data")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true, nil
}

func (c *Conn) sendSegment(seg []byte) {
	c.mu.Lock()
	seq := c.nextSeq
	c.nextSeq += uint32(len(seg))
	c.mu.Unlock()

	pkt := c.newPacket(seq, 0, PacketData, uint16(c.congestion.WindowSize()), seg)
	c.reliability.TrackSent(pkt, pkt.Timestamp)
	c.congestion.OnPacketSent()
	c.sock.WriteToUDP(pkt.Encode(), c.peerAddr)
	c.events.Trigger(Event{Type: EventPacketSent, ConnID: c.id, Data: seq})
}

// RecvData polls the delivery queue until expectedSegments payload chunks
// have arrived or opts.RecvCeiling elapses, then concatenates and (if
// confidential) decrypts them as the single whole-payload unit they were
// encrypted as.
func (c *Conn) RecvData(expectedSegments int, progress func(received, total int)) ([]byte, error) {
	c.mu.Lock()
	rejected := c.opts.RequireConfidentiality && !c.confidential
	c.mu.Unlock()
	if rejected {
		return nil, errors.New("trudp: recv_data requires confidential mode")
	}

	deadline := time.Now().Add(c.opts.RecvCeiling)
	var collected [][]byte
	for len(collected) < expectedSegments {
		if !c.isRunning() {
			return nil, errors.New("trudp: connection closed during recv_data")
		}
		chunks := c.reliability.PopDelivered()
		if len(chunks) > 0 {
			collected = append(collected, chunks...)
			if progress != nil {
				progress(len(collected), expectedSegments)
			}
			continue
		}
		if time.Now().After(deadline) {
			return nil, errors.New("trudp: recv_data timed out waiting for segments")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var buf bytes.Buffer
	for _, chunk := range collected {
		buf.Write(chunk)
	}
	payload := buf.Bytes()

	c.mu.Lock()
	confidential := c.confidential
	key := c.sessionKey
	iv := c.iv
	c.mu.Unlock()
	if confidential {
		return DecryptPayload(key, iv, payload)
	}
	return payload, nil
}

// RTTStats returns a snapshot of the RTT estimator.
func (c *Conn) RTTStats() RTTStats { return c.rtt.Stats() }

// CongestionStats returns a snapshot of the congestion controller, with RTO
// filled in from the connection's RTT estimator (spec.md §6: congestion_stats
// reports rto alongside cwnd/ssthresh/state/window/dup_acks).
func (c *Conn) CongestionStats() CongestionStats {
	stats := c.congestion.Stats()
	stats.RTO = c.rtt.RTO()
	return stats
}

// DuplicateSegments reports the number of duplicate DATA segments seen.
func (c *Conn) DuplicateSegments() uint64 { return c.reliability.Counters() }

// Degraded reports whether any send-buffer entry was ever abandoned after
// exceeding the retry bound (spec.md §3 Lifecycles).
func (c *Conn) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}
