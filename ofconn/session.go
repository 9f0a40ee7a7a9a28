// Package ofconn maintains the bridge's OpenFlow connection to a
// switch: it connects and reconnects with backoff, negotiates
// OpenFlow 1.4, answers and sends echo probes, and queues everything
// else the switch sends.
//
// A Session is driven by one goroutine. That goroutine calls Run to
// make progress, Recv to drain received messages, and waits on
// Notify and NextWake between calls. Only the per-connection reader
// goroutine runs concurrently, and it only posts events.
package ofconn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/frobware/go-p4bridge/doorbell"
	"github.com/frobware/go-p4bridge/ofp"
)

// Defaults applied to zero Options fields.
const (
	DefaultProbeInterval  = 5 * time.Second
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 8 * time.Second
)

// ErrNotConnected is returned by Send while no session is
// established.
var ErrNotConnected = errors.New("ofconn: not connected")

// Options configures a Session.
type Options struct {
	// Target is "tcp:host:port" or "unix:/path".
	Target string

	// ProbeInterval is how long the connection may be idle before
	// an echo request is sent. Two unanswered probes drop the
	// connection.
	ProbeInterval time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ParseTarget splits a target into a network and an address.
func ParseTarget(target string) (network, addr string, err error) {
	network, addr, ok := strings.Cut(target, ":")
	if !ok || addr == "" {
		return "", "", fmt.Errorf("invalid switch target %q: want tcp:host:port or unix:/path", target)
	}
	switch network {
	case "tcp":
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", "", fmt.Errorf("invalid switch target %q: %w", target, err)
		}
	case "unix":
	default:
		return "", "", fmt.Errorf("invalid switch target %q: unsupported network %q", target, network)
	}
	return network, addr, nil
}

type state int

const (
	stateIdle state = iota
	stateHandshake
	stateConnected
)

// event is posted by a reader goroutine. gen ties it to the
// connection that produced it so events from a dropped connection
// are ignored.
type event struct {
	gen uint64
	msg ofp.Message
	err error
}

// Session is a reconnecting OpenFlow channel.
type Session struct {
	network string
	addr    string
	opts    Options
	logger  *slog.Logger
	bell    *doorbell.Doorbell
	now     func() time.Time

	mu     sync.Mutex
	events []event

	conn        net.Conn
	gen         uint64
	state       state
	epoch       uint64
	backoff     time.Duration
	nextAttempt time.Time
	started     time.Time
	lastRecv    time.Time
	probes      int
	xid         uint32
	recvq       []ofp.Message
	closed      bool
}

// New creates a session for opts.Target. No connection is attempted
// until the first call to Run.
func New(opts Options, logger *slog.Logger) (*Session, error) {
	network, addr, err := ParseTarget(opts.Target)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultProbeInterval
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = max(DefaultMaxBackoff, opts.InitialBackoff)
	}
	return &Session{
		network: network,
		addr:    addr,
		opts:    opts,
		logger:  logger.With("component", "transport", "target", opts.Target),
		bell:    doorbell.New(),
		now:     time.Now,
		backoff: opts.InitialBackoff,
	}, nil
}

// Connected reports whether the handshake has completed on the
// current connection.
func (s *Session) Connected() bool {
	return s.state == stateConnected
}

// Epoch counts completed handshakes. It changes exactly when the
// switch may have lost its flow table.
func (s *Session) Epoch() uint64 {
	return s.epoch
}

// Notify returns a channel that becomes readable when Run has work
// to do.
func (s *Session) Notify() <-chan struct{} {
	return s.bell.C()
}

// NextWake returns how long the caller may wait before Run must be
// called again to honour reconnect and probe timers.
func (s *Session) NextWake() time.Duration {
	var at time.Time
	switch {
	case s.closed:
		return time.Hour
	case s.state == stateIdle:
		at = s.nextAttempt
	case s.state == stateHandshake:
		at = s.started.Add(s.opts.ProbeInterval)
	default:
		at = s.probeDeadline()
	}
	return max(at.Sub(s.now()), 0)
}

func (s *Session) probeDeadline() time.Time {
	return s.lastRecv.Add(time.Duration(s.probes+1) * s.opts.ProbeInterval)
}

// Run processes received events and timers: it connects when a
// retry is due, completes the handshake, answers echo requests and
// sends or expires probes. It never blocks longer than a dial.
func (s *Session) Run() {
	if s.closed {
		return
	}
	for _, ev := range s.takeEvents() {
		if ev.gen != s.gen || s.conn == nil {
			continue
		}
		if ev.err != nil {
			s.disconnect(fmt.Sprintf("receive failed: %v", ev.err))
			continue
		}
		s.handle(ev.msg)
	}

	now := s.now()
	switch s.state {
	case stateIdle:
		if !now.Before(s.nextAttempt) {
			s.connect(now)
		}
	case stateHandshake:
		if !now.Before(s.started.Add(s.opts.ProbeInterval)) {
			s.disconnect("handshake timed out")
		}
	case stateConnected:
		if now.Before(s.probeDeadline()) {
			break
		}
		if s.probes >= 2 {
			s.disconnect("echo probes unanswered")
			break
		}
		s.probes++
		if err := s.write(&ofp.EchoRequest{}); err != nil {
			s.disconnect(fmt.Sprintf("send probe: %v", err))
		}
	}
}

func (s *Session) handle(msg ofp.Message) {
	s.lastRecv = s.now()
	s.probes = 0

	switch m := msg.(type) {
	case *ofp.Hello:
		if s.state != stateHandshake {
			return
		}
		if !m.Supports(ofp.Version) {
			_ = s.write(&ofp.Error{ErrType: ofp.ErrTypeHelloFailed, Data: []byte("OpenFlow 1.4 required")})
			s.disconnect(fmt.Sprintf("switch does not support OpenFlow 1.4 (hello version %#x)", m.Version))
			return
		}
		s.state = stateConnected
		s.epoch++
		s.backoff = s.opts.InitialBackoff
		s.logger.Info("connected to switch", "epoch", s.epoch)
	case *ofp.EchoRequest:
		if err := s.write(ofp.NewEchoReply(m)); err != nil {
			s.disconnect(fmt.Sprintf("send echo reply: %v", err))
		}
	case *ofp.EchoReply:
	default:
		if s.state != stateConnected {
			s.disconnect(fmt.Sprintf("received %s before hello", msg.Type()))
			return
		}
		s.recvq = append(s.recvq, msg)
	}
}

// Recv returns the next received message that the session did not
// consume itself.
func (s *Session) Recv() (ofp.Message, bool) {
	if len(s.recvq) == 0 {
		return nil, false
	}
	msg := s.recvq[0]
	s.recvq = s.recvq[1:]
	return msg, true
}

// Send writes msg, assigning a transaction id when it has none. A
// write failure drops the connection.
func (s *Session) Send(msg ofp.Message) error {
	if s.state != stateConnected {
		return ErrNotConnected
	}
	if err := s.write(msg); err != nil {
		s.disconnect(fmt.Sprintf("send %s: %v", msg.Type(), err))
		return err
	}
	return nil
}

// Close drops the connection. The session cannot be reused.
func (s *Session) Close() error {
	s.closed = true
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.state = stateIdle
	return err
}

func (s *Session) write(msg ofp.Message) error {
	if msg.Xid() == 0 {
		s.xid++
		if s.xid == 0 {
			s.xid++
		}
		msg.SetXid(s.xid)
	}
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(s.now().Add(s.opts.ProbeInterval)); err != nil {
		return err
	}
	_, err = s.conn.Write(data)
	return err
}

func (s *Session) connect(now time.Time) {
	d := net.Dialer{Timeout: s.opts.ProbeInterval}
	conn, err := d.Dial(s.network, s.addr)
	if err != nil {
		s.logger.Debug("connect failed", "error", err, "retry_in", s.backoff)
		s.scheduleRetry(now)
		return
	}

	s.gen++
	s.conn = conn
	s.state = stateHandshake
	s.started = now
	s.lastRecv = now
	s.probes = 0
	go s.readLoop(s.gen, conn)

	if err := s.write(ofp.NewHello()); err != nil {
		s.disconnect(fmt.Sprintf("send hello: %v", err))
	}
}

func (s *Session) scheduleRetry(now time.Time) {
	s.nextAttempt = now.Add(s.backoff)
	s.backoff = min(s.backoff*2, s.opts.MaxBackoff)
}

func (s *Session) disconnect(reason string) {
	if s.conn == nil {
		return
	}
	if s.state == stateConnected {
		s.logger.Warn("disconnected from switch", "reason", reason, "epoch", s.epoch)
	} else {
		s.logger.Debug("connection dropped", "reason", reason)
	}
	s.conn.Close()
	s.conn = nil
	s.gen++
	s.state = stateIdle
	s.scheduleRetry(s.now())
	s.bell.Ring()
}

func (s *Session) takeEvents() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events
	s.events = nil
	return evs
}

func (s *Session) post(ev event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.bell.Ring()
}

func (s *Session) readLoop(gen uint64, conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		msg, err := readMessage(r)
		s.post(event{gen: gen, msg: msg, err: err})
		if err != nil {
			return
		}
	}
}

// readMessage reads one complete frame.
func readMessage(r io.Reader) (ofp.Message, error) {
	buf := make([]byte, ofp.HeaderLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	var h ofp.Header
	if err := h.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	if h.Length < ofp.HeaderLen {
		return nil, ofp.ErrInvalidFrame
	}
	buf = append(buf, make([]byte, int(h.Length)-ofp.HeaderLen)...)
	if _, err := io.ReadFull(r, buf[ofp.HeaderLen:]); err != nil {
		return nil, err
	}
	return ofp.Decode(buf)
}
