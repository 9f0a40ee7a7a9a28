package reconciler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/bundle"
	"github.com/frobware/go-p4bridge/doorbell"
	"github.com/frobware/go-p4bridge/interpreter/store/sqlite"
	"github.com/frobware/go-p4bridge/manager"
	"github.com/frobware/go-p4bridge/ofp"
	"github.com/frobware/go-p4bridge/reconciler"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set P4BRIDGE_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("P4BRIDGE_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport records what the loop sends.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	epoch     uint64
	sent      []ofp.Message
	inbox     []ofp.Message
	failSend  bool
	notify    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{notify: make(chan struct{}, 1)}
}

func (f *fakeTransport) Run() {}

func (f *fakeTransport) Recv() (ofp.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbox) == 0 {
		return nil, false
	}
	msg := f.inbox[0]
	f.inbox = f.inbox[1:]
	return msg, true
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Epoch() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.epoch
}

func (f *fakeTransport) Send(msg ofp.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("broken pipe")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Notify() <-chan struct{} { return f.notify }

func (f *fakeTransport) NextWake() time.Duration { return time.Hour }

// connect simulates a completed handshake.
func (f *fakeTransport) connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.epoch++
}

func (f *fakeTransport) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

// takeSent returns and clears the messages sent so far.
func (f *fakeTransport) takeSent() []ofp.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// testFixture wires a loop to a real manager and a fake transport.
type testFixture struct {
	Loop      *reconciler.Loop
	Manager   *manager.Manager
	Transport *fakeTransport
	Bell      *doorbell.Doorbell
	t         *testing.T
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	prog, err := sqlite.NewInMemory(context.Background(), "", nil, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { prog.Close() })

	bell := doorbell.New()
	mgr, err := manager.New(prog, manager.Options{FlowRelation: sqlite.DefaultOutput}, bell, testLogger())
	require.NoError(t, err)

	tr := newFakeTransport()
	return &testFixture{
		Loop:      reconciler.New(tr, mgr, bell, testLogger()),
		Manager:   mgr,
		Transport: tr,
		Bell:      bell,
		t:         t,
	}
}

func (f *testFixture) insertGroup(id uint32, ports ...uint32) {
	f.t.Helper()
	g := &p4bridge.MulticastGroup{ID: id}
	for i, p := range ports {
		g.Replicas = append(g.Replicas, p4bridge.Replica{Port: p, Instance: uint32(i + 1)})
	}
	errs := f.Manager.Write(context.Background(), []p4bridge.Update{{Op: p4bridge.OpInsert, Entity: g}})
	require.NoError(f.t, errs[0])
}

// bundleMods checks that msgs form exactly one well formed bundle
// and returns its id and flow mods.
func bundleMods(t *testing.T, msgs []ofp.Message) (uint32, []*ofp.FlowMod) {
	t.Helper()
	require.GreaterOrEqual(t, len(msgs), 2)

	open, ok := msgs[0].(*ofp.BundleControl)
	require.True(t, ok)
	assert.Equal(t, ofp.BundleOpenRequest, open.CtrlType)
	commit, ok := msgs[len(msgs)-1].(*ofp.BundleControl)
	require.True(t, ok)
	assert.Equal(t, ofp.BundleCommitRequest, commit.CtrlType)
	assert.Equal(t, open.BundleID, commit.BundleID)

	var mods []*ofp.FlowMod
	for _, m := range msgs[1 : len(msgs)-1] {
		add, ok := m.(*ofp.BundleAdd)
		require.True(t, ok)
		assert.Equal(t, open.BundleID, add.BundleID)
		fm, ok := add.Message.(*ofp.FlowMod)
		require.True(t, ok)
		mods = append(mods, fm)
	}
	require.Len(t, msgs, bundle.Count(len(mods)))
	return open.BundleID, mods
}

func TestResyncOnFirstConnect(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	f.insertGroup(1, 1, 2)
	f.insertGroup(2, 3)
	f.Transport.connect()
	f.Loop.Step(ctx)

	_, mods := bundleMods(t, f.Transport.takeSent())
	require.Len(t, mods, 3)
	assert.Equal(t, ofp.FlowDelete, mods[0].Command)
	assert.Equal(t, ofp.TableAll, mods[0].TableID)
	assert.Empty(t, mods[0].Match)
	for _, fm := range mods[1:] {
		assert.Equal(t, ofp.FlowAdd, fm.Command)
	}
	assert.Equal(t, "table=0,priority=100,metadata=1,actions=output:1,output:2", mods[1].Text)
	assert.Empty(t, f.Manager.TakePending(), "resync discards the queue")
}

func TestPendingMutationsAreBundled(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	f.Transport.connect()
	f.Loop.Step(ctx)
	first, _ := bundleMods(t, f.Transport.takeSent())

	f.Loop.Step(ctx)
	assert.Empty(t, f.Transport.takeSent(), "nothing pending, nothing sent")

	f.insertGroup(1, 1, 2)
	f.Loop.Step(ctx)
	second, mods := bundleMods(t, f.Transport.takeSent())
	assert.Greater(t, second, first, "every bundle gets a fresh id")
	require.Len(t, mods, 1)
	assert.Equal(t, ofp.FlowAdd, mods[0].Command)

	errs := f.Manager.Write(ctx, []p4bridge.Update{{Op: p4bridge.OpModify, Entity: &p4bridge.MulticastGroup{
		ID:       1,
		Replicas: []p4bridge.Replica{{Port: 2, Instance: 1}},
	}}})
	require.NoError(t, errs[0])
	f.Loop.Step(ctx)
	_, mods = bundleMods(t, f.Transport.takeSent())
	require.Len(t, mods, 2)
	assert.Equal(t, ofp.FlowDeleteStrict, mods[0].Command, "removals precede additions")
	assert.Equal(t, ofp.FlowAdd, mods[1].Command)
}

func TestDisconnectedDropsPending(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	f.insertGroup(1, 1)
	f.Loop.Step(ctx)
	assert.Empty(t, f.Transport.takeSent())
	assert.Empty(t, f.Manager.TakePending())
}

func TestReconnectResyncs(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	f.Transport.connect()
	f.Loop.Step(ctx)
	f.Transport.takeSent()

	f.Transport.disconnect()
	f.insertGroup(1, 1, 2)
	f.Loop.Step(ctx)
	assert.Empty(t, f.Transport.takeSent())

	f.Transport.connect()
	f.Loop.Step(ctx)
	_, mods := bundleMods(t, f.Transport.takeSent())
	require.Len(t, mods, 2, "the dropped mutation is recovered by the resync")
	assert.Equal(t, ofp.FlowDelete, mods[0].Command)
	assert.Equal(t, "table=0,priority=100,metadata=1,actions=output:1,output:2", mods[1].Text)
}

func TestFailedResyncIsRetried(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()

	f.Transport.connect()
	f.Transport.failSend = true
	f.Loop.Step(ctx)
	assert.Empty(t, f.Transport.takeSent())

	f.Transport.failSend = false
	f.Loop.Step(ctx)
	_, mods := bundleMods(t, f.Transport.takeSent())
	assert.Len(t, mods, 1, "the epoch is only marked synced once the bundle is out")
}

// failingState fails the first resync.
type failingState struct {
	reconciler.State
	failures int
}

func (s *failingState) Resync(ctx context.Context) ([]*ofp.FlowMod, error) {
	if s.failures > 0 {
		s.failures--
		return nil, errors.New("dump failed")
	}
	return s.State.Resync(ctx)
}

func TestResyncDumpFailureIsRetried(t *testing.T) {
	f := newTestFixture(t)
	ctx := context.Background()
	loop := reconciler.New(f.Transport, &failingState{State: f.Manager, failures: 1}, f.Bell, testLogger())

	f.insertGroup(1, 1)
	f.Transport.connect()
	loop.Step(ctx)
	assert.Empty(t, f.Transport.takeSent())

	loop.Step(ctx)
	_, mods := bundleMods(t, f.Transport.takeSent())
	assert.Len(t, mods, 2)
}

func TestSwitchMessagesAreDrained(t *testing.T) {
	f := newTestFixture(t)
	f.Transport.inbox = []ofp.Message{
		&ofp.Error{ErrType: ofp.ErrTypeBundleFailed, Code: 1},
		&ofp.BundleControl{BundleID: 1, CtrlType: ofp.BundleCommitReply},
		&ofp.Unknown{MsgType: ofp.TypeBarrierReply},
	}
	f.Loop.Step(context.Background())
	_, ok := f.Transport.Recv()
	assert.False(t, ok)
}

func TestRunWakesOnDoorbell(t *testing.T) {
	f := newTestFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.Transport.connect()

	done := make(chan error, 1)
	go func() { done <- f.Loop.Run(ctx) }()

	require.Eventually(t, func() bool { return f.Transport.sentCount() == bundle.Count(1) }, 5*time.Second, 10*time.Millisecond,
		"initial resync bundle")

	f.insertGroup(1, 1)
	require.Eventually(t, func() bool { return f.Transport.sentCount() == 2*bundle.Count(1) }, 5*time.Second, 10*time.Millisecond,
		"a write wakes the loop")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
}
