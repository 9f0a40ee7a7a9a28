package server

import (
	"cmp"
	"context"
	"errors"
	"io"
	"sync"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/logging"
)

// electionID is a 128-bit P4Runtime election id.
type electionID struct {
	high, low uint64
}

func electionFromProto(u *p4v1.Uint128) electionID {
	return electionID{high: u.GetHigh(), low: u.GetLow()}
}

func (e electionID) proto() *p4v1.Uint128 {
	return &p4v1.Uint128{High: e.high, Low: e.low}
}

func (e electionID) compare(o electionID) int {
	if c := cmp.Compare(e.high, o.high); c != 0 {
		return c
	}
	return cmp.Compare(e.low, o.low)
}

// controller is one open StreamChannel.
type controller struct {
	stream p4v1.P4Runtime_StreamChannelServer

	sendMu sync.Mutex

	// Guarded by arbiter.mu.
	election *electionID
}

func (c *controller) send(resp *p4v1.StreamMessageResponse) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.Send(resp)
}

// arbiter tracks the open streams and which controller is primary:
// the one with the highest election id.
type arbiter struct {
	mu          sync.Mutex
	controllers map[*controller]struct{}
}

func newArbiter() *arbiter {
	return &arbiter{controllers: make(map[*controller]struct{})}
}

// primaryLocked returns the primary's election id. It must be called
// with a.mu held.
func (a *arbiter) primaryLocked() (electionID, bool) {
	var best electionID
	found := false
	for c := range a.controllers {
		if c.election == nil {
			continue
		}
		if !found || c.election.compare(best) > 0 {
			best, found = *c.election, true
		}
	}
	return best, found
}

// checkWriter allows a write when no controller has claimed
// primacy, or when id is the primary's election id.
func (a *arbiter) checkWriter(id *p4v1.Uint128) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	primary, ok := a.primaryLocked()
	if !ok {
		return nil
	}
	if id == nil || electionFromProto(id) != primary {
		return p4bridge.ErrPermissionDenied{Reason: "election id does not match the primary controller"}
	}
	return nil
}

func (a *arbiter) add(c *controller) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.controllers[c] = struct{}{}
}

// remove drops a closed stream and, if it was primary, tells the
// remaining controllers about the new primary.
func (a *arbiter) remove(c *controller, deviceID uint64) {
	a.mu.Lock()
	before, hadPrimary := a.primaryLocked()
	delete(a.controllers, c)
	after, hasPrimary := a.primaryLocked()
	changed := hadPrimary && (!hasPrimary || after != before)
	a.mu.Unlock()
	if changed {
		a.broadcast(deviceID)
	}
}

// arbitrate records a controller's election id and reports whether
// the primary changed.
func (a *arbiter) arbitrate(c *controller, id electionID) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for other := range a.controllers {
		if other != c && other.election != nil && *other.election == id {
			return false, p4bridge.ErrInvalidArgument{Reason: "election id is already used by another controller"}
		}
	}
	before, hadPrimary := a.primaryLocked()
	c.election = &id
	after, _ := a.primaryLocked()
	return !hadPrimary || before != after, nil
}

// response builds the arbitration reply for c: OK when c is primary,
// ALREADY_EXISTS otherwise. The reply carries the primary's election
// id.
func (a *arbiter) response(c *controller, deviceID uint64) *p4v1.StreamMessageResponse {
	a.mu.Lock()
	primary, _ := a.primaryLocked()
	isPrimary := c.election != nil && *c.election == primary
	a.mu.Unlock()

	st := &rpcstatus.Status{Code: int32(codes.OK), Message: "is primary"}
	if !isPrimary {
		st = &rpcstatus.Status{Code: int32(codes.AlreadyExists), Message: "is backup"}
	}
	return &p4v1.StreamMessageResponse{
		Update: &p4v1.StreamMessageResponse_Arbitration{
			Arbitration: &p4v1.MasterArbitrationUpdate{
				DeviceId:   deviceID,
				ElectionId: primary.proto(),
				Status:     st,
			},
		},
	}
}

// broadcast sends every arbitrated controller its current role.
func (a *arbiter) broadcast(deviceID uint64) {
	a.mu.Lock()
	var targets []*controller
	for c := range a.controllers {
		if c.election != nil {
			targets = append(targets, c)
		}
	}
	a.mu.Unlock()
	for _, c := range targets {
		_ = c.send(a.response(c, deviceID))
	}
}

// StreamChannel handles master arbitration. Packet-out and digest
// acknowledgements are accepted and ignored.
func (s *Server) StreamChannel(stream p4v1.P4Runtime_StreamChannelServer) error {
	ctx := stream.Context()
	c := &controller{stream: stream}
	s.arbiter.add(c)
	defer s.arbiter.remove(c, s.deviceID)

	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return nil
		}
		if err != nil {
			return err
		}
		arb := req.GetArbitration()
		if arb == nil {
			s.logger.Log(ctx, logging.LevelTrace.ToSlog(), "ignoring stream message", "type", streamMessageType(req))
			continue
		}
		if err := s.handleArbitration(ctx, c, arb); err != nil {
			return statusErr(err)
		}
	}
}

func (s *Server) handleArbitration(ctx context.Context, c *controller, arb *p4v1.MasterArbitrationUpdate) error {
	if arb.GetDeviceId() != s.deviceID {
		return p4bridge.ErrNotFound{What: "device"}
	}
	if arb.GetRole() != nil && arb.GetRole().GetName() != "" {
		return p4bridge.ErrUnimplemented{What: "role based arbitration"}
	}
	changed, err := s.arbiter.arbitrate(c, electionFromProto(arb.GetElectionId()))
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "master arbitration",
		"election_high", arb.GetElectionId().GetHigh(),
		"election_low", arb.GetElectionId().GetLow(),
		"primary_changed", changed)
	if changed {
		s.arbiter.broadcast(s.deviceID)
		return nil
	}
	return c.send(s.arbiter.response(c, s.deviceID))
}

func streamMessageType(req *p4v1.StreamMessageRequest) string {
	switch req.GetUpdate().(type) {
	case *p4v1.StreamMessageRequest_Packet:
		return "packet"
	case *p4v1.StreamMessageRequest_DigestAck:
		return "digest_ack"
	default:
		return "other"
	}
}
