package ofconn_test

import (
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-p4bridge/ofconn"
	"github.com/frobware/go-p4bridge/ofp"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set P4BRIDGE_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("P4BRIDGE_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSwitch accepts bridge connections on a loopback listener.
type fakeSwitch struct {
	lis   net.Listener
	conns chan *switchConn
}

// switchConn is the switch side of one connection. Messages the
// bridge sends arrive on rx, which is closed when the bridge hangs
// up.
type switchConn struct {
	net.Conn
	rx chan ofp.Message
}

func newFakeSwitch(t *testing.T) *fakeSwitch {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { lis.Close() })

	sw := &fakeSwitch{lis: lis, conns: make(chan *switchConn, 16)}
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			sc := &switchConn{Conn: conn, rx: make(chan ofp.Message, 64)}
			go sc.readLoop()
			sw.conns <- sc
		}
	}()
	return sw
}

func (sw *fakeSwitch) target() string {
	return "tcp:" + sw.lis.Addr().String()
}

func (sc *switchConn) readLoop() {
	defer close(sc.rx)
	for {
		hdr := make([]byte, ofp.HeaderLen)
		if _, err := io.ReadFull(sc, hdr); err != nil {
			return
		}
		buf := make([]byte, binary.BigEndian.Uint16(hdr[2:4]))
		copy(buf, hdr)
		if _, err := io.ReadFull(sc, buf[ofp.HeaderLen:]); err != nil {
			return
		}
		msg, err := ofp.Decode(buf)
		if err != nil {
			return
		}
		sc.rx <- msg
	}
}

func (sc *switchConn) send(t *testing.T, msg ofp.Message) {
	t.Helper()
	data, err := msg.MarshalBinary()
	require.NoError(t, err)
	_, err = sc.Write(data)
	require.NoError(t, err)
}

func (sc *switchConn) recv(t *testing.T) ofp.Message {
	t.Helper()
	select {
	case msg, ok := <-sc.rx:
		require.True(t, ok, "bridge closed the connection")
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a message from the bridge")
		return nil
	}
}

// pollInterval bounds how long pump sleeps between checks of cond,
// so that events outside the session, such as an accepted
// connection, are noticed well before any session timer fires.
const pollInterval = 5 * time.Millisecond

// pump drives the session the way the reconciler does until cond
// holds.
func pump(t *testing.T, s *ofconn.Session, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		s.Run()
		if cond() {
			return
		}
		timer := time.NewTimer(min(s.NextWake(), pollInterval))
		select {
		case <-s.Notify():
		case <-timer.C:
		case <-deadline:
			timer.Stop()
			t.Fatal("condition not reached")
		}
		timer.Stop()
	}
}

func newSession(t *testing.T, target string, probe time.Duration) *ofconn.Session {
	t.Helper()
	s, err := ofconn.New(ofconn.Options{
		Target:         target,
		ProbeInterval:  probe,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// handshake waits for the bridge's next connection and completes
// the hello exchange.
func handshake(t *testing.T, sw *fakeSwitch, s *ofconn.Session) *switchConn {
	t.Helper()
	var sc *switchConn
	pump(t, s, func() bool {
		select {
		case sc = <-sw.conns:
			return true
		default:
			return false
		}
	})
	hello, ok := sc.recv(t).(*ofp.Hello)
	require.True(t, ok, "first message is a hello")
	assert.True(t, hello.Supports(ofp.Version))
	sc.send(t, ofp.NewHello())
	pump(t, s, s.Connected)
	return sc
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		target  string
		network string
		addr    string
		wantErr bool
	}{
		{target: "tcp:127.0.0.1:6653", network: "tcp", addr: "127.0.0.1:6653"},
		{target: "tcp:[::1]:6653", network: "tcp", addr: "[::1]:6653"},
		{target: "unix:/var/run/openvswitch/br0.mgmt", network: "unix", addr: "/var/run/openvswitch/br0.mgmt"},
		{target: "tcp:localhost", wantErr: true},
		{target: "ssl:127.0.0.1:6653", wantErr: true},
		{target: "unix:", wantErr: true},
		{target: "br0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			network, addr, err := ofconn.ParseTarget(tt.target)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.network, network)
			assert.Equal(t, tt.addr, addr)
		})
	}
}

func TestHandshakeAndEpoch(t *testing.T) {
	sw := newFakeSwitch(t)
	s := newSession(t, sw.target(), time.Second)

	assert.False(t, s.Connected())
	assert.ErrorIs(t, s.Send(&ofp.EchoRequest{}), ofconn.ErrNotConnected)

	sc := handshake(t, sw, s)
	assert.Equal(t, uint64(1), s.Epoch())

	sc.Close()
	pump(t, s, func() bool { return !s.Connected() })
	assert.Equal(t, uint64(1), s.Epoch(), "epoch only moves on a completed handshake")

	handshake(t, sw, s)
	assert.Equal(t, uint64(2), s.Epoch())
}

func TestEchoRequestsAreAnswered(t *testing.T) {
	sw := newFakeSwitch(t)
	s := newSession(t, sw.target(), time.Second)
	sc := handshake(t, sw, s)

	req := &ofp.EchoRequest{Data: []byte("ping")}
	req.SetXid(77)
	sc.send(t, req)
	pump(t, s, func() bool { return len(sc.rx) > 0 })

	reply, ok := sc.recv(t).(*ofp.EchoReply)
	require.True(t, ok)
	assert.Equal(t, uint32(77), reply.Xid())
	assert.Equal(t, []byte("ping"), reply.Data)

	_, ok = s.Recv()
	assert.False(t, ok, "echo traffic is not queued")
}

func TestOtherMessagesAreQueued(t *testing.T) {
	sw := newFakeSwitch(t)
	s := newSession(t, sw.target(), time.Second)
	sc := handshake(t, sw, s)

	sc.send(t, &ofp.BundleControl{BundleID: 3, CtrlType: ofp.BundleCommitReply})
	sc.send(t, &ofp.Error{ErrType: ofp.ErrTypeBadMatch, Code: 4})

	var got []ofp.Message
	pump(t, s, func() bool {
		for {
			msg, ok := s.Recv()
			if !ok {
				break
			}
			got = append(got, msg)
		}
		return len(got) == 2
	})
	require.IsType(t, &ofp.BundleControl{}, got[0])
	assert.Equal(t, ofp.BundleCommitReply, got[0].(*ofp.BundleControl).CtrlType)
	require.IsType(t, &ofp.Error{}, got[1])
	assert.Equal(t, "BAD_MATCH", got[1].(*ofp.Error).TypeName())
}

func TestSendAssignsXid(t *testing.T) {
	sw := newFakeSwitch(t)
	s := newSession(t, sw.target(), time.Second)
	sc := handshake(t, sw, s)

	require.NoError(t, s.Send(ofp.DeleteAll()))
	msg := sc.recv(t)
	assert.Equal(t, ofp.TypeFlowMod, msg.Type())
	assert.NotZero(t, msg.Xid())
}

func TestUnsupportedVersionIsRejected(t *testing.T) {
	sw := newFakeSwitch(t)
	s := newSession(t, sw.target(), time.Second)

	var sc *switchConn
	pump(t, s, func() bool {
		select {
		case sc = <-sw.conns:
			return true
		default:
			return false
		}
	})
	sc.recv(t)
	sc.send(t, &ofp.Hello{Version: 0x04})

	pump(t, s, func() bool { return len(sc.rx) > 0 })
	reply := sc.recv(t)
	require.IsType(t, &ofp.Error{}, reply)
	assert.Equal(t, ofp.ErrTypeHelloFailed, reply.(*ofp.Error).ErrType)
	assert.False(t, s.Connected())
	assert.Zero(t, s.Epoch())
}

func TestHandshakeSurvivesSlowAccept(t *testing.T) {
	sw := newFakeSwitch(t)
	s := newSession(t, sw.target(), 200*time.Millisecond)

	// The session idles on its own timers while the switch side is
	// slow to pick up the connection.
	s.Run()
	time.Sleep(50 * time.Millisecond)
	sc := handshake(t, sw, s)
	assert.True(t, s.Connected())
	assert.Equal(t, uint64(1), s.Epoch())

	require.NoError(t, s.Send(ofp.DeleteAll()))
	assert.Equal(t, ofp.TypeFlowMod, sc.recv(t).Type())
}

func TestUnansweredProbesDisconnect(t *testing.T) {
	sw := newFakeSwitch(t)
	s := newSession(t, sw.target(), 50*time.Millisecond)
	sc := handshake(t, sw, s)

	pump(t, s, func() bool { return !s.Connected() })

	var probes int
	for msg := range sc.rx {
		if msg.Type() == ofp.TypeEchoRequest {
			probes++
		}
	}
	assert.Equal(t, 2, probes)
}

func TestReconnectBacksOff(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target := "tcp:" + lis.Addr().String()
	lis.Close()

	s := newSession(t, target, time.Second)
	s.Run()
	assert.False(t, s.Connected())
	first := s.NextWake()
	assert.Positive(t, first)
	assert.LessOrEqual(t, first, 10*time.Millisecond)

	time.Sleep(first)
	s.Run()
	second := s.NextWake()
	assert.Greater(t, second, first, "backoff doubles")
	assert.LessOrEqual(t, second, 20*time.Millisecond)
}
