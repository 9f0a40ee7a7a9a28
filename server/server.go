// Package server implements the P4Runtime gRPC service on top of the
// manager.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/manager"
)

// APIVersion is the P4Runtime version reported by Capabilities.
const APIVersion = "1.5.0"

// shutdownGrace bounds how long Serve waits for open RPCs on
// shutdown.
const shutdownGrace = 2 * time.Second

// Server implements the P4Runtime service for one device.
type Server struct {
	p4v1.UnimplementedP4RuntimeServer

	deviceID  uint64
	mgr       *manager.Manager
	arbiter   *arbiter
	logger    *slog.Logger
	opCounter atomic.Uint64

	// cfgMu serialises pipeline changes and guards the configs.
	cfgMu     sync.Mutex
	saved     *p4v1.ForwardingPipelineConfig
	committed *p4v1.ForwardingPipelineConfig
}

// New creates a server for deviceID backed by mgr.
func New(deviceID uint64, mgr *manager.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deviceID: deviceID,
		mgr:      mgr,
		arbiter:  newArbiter(),
		logger:   manager.WithOpIDHandler(logger).With("component", "server"),
	}
}

// Listen opens a listener for addr, which is either "unix:/path" or
// a TCP host:port. A stale unix socket is removed first.
func Listen(addr string) (net.Listener, error) {
	path, ok := strings.CutPrefix(addr, "unix:")
	if !ok {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		return lis, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0660); err != nil {
		lis.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return lis, nil
}

// GRPCServer returns a gRPC server with the service and interceptors
// registered.
func (s *Server) GRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.UnaryInterceptor(s.loggingInterceptor()),
		grpc.StreamInterceptor(s.streamLoggingInterceptor()),
	)
	gs := grpc.NewServer(opts...)
	p4v1.RegisterP4RuntimeServer(gs, s)
	return gs
}

// Serve serves P4Runtime on lis until ctx is cancelled, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := s.GRPCServer()

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "P4Runtime server listening", "addr", lis.Addr().String(), "device_id", s.deviceID)
		errCh <- gs.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.logger.InfoContext(ctx, "shutting down gRPC server")
		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(shutdownGrace):
			// Controllers keep StreamChannel open indefinitely.
			gs.Stop()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("grpc serve: %w", err)
	}
}

// loggingInterceptor returns a gRPC unary interceptor that assigns a
// monotonic operation ID to each request and logs errors.
func (s *Server) loggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = manager.ContextWithOpID(ctx, s.opCounter.Add(1))
		resp, err := handler(ctx, req)
		if err != nil {
			s.logger.WarnContext(ctx, "rpc failed", "method", info.FullMethod, "code", status.Code(err), "error", err)
		}
		return resp, err
	}
}

// opStream carries the op id into a streaming handler's context.
type opStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s opStream) Context() context.Context { return s.ctx }

func (s *Server) streamLoggingInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := manager.ContextWithOpID(ss.Context(), s.opCounter.Add(1))
		err := handler(srv, opStream{ServerStream: ss, ctx: ctx})
		if err != nil {
			s.logger.WarnContext(ctx, "stream failed", "method", info.FullMethod, "code", status.Code(err), "error", err)
		}
		return err
	}
}

func (s *Server) checkDevice(id uint64) error {
	if id != s.deviceID {
		return status.Errorf(codes.NotFound, "device %d not found", id)
	}
	return nil
}

// Write applies the updates in order. If any update fails the RPC
// fails with UNKNOWN and one p4.v1.Error per update.
func (s *Server) Write(ctx context.Context, req *p4v1.WriteRequest) (*p4v1.WriteResponse, error) {
	if err := s.checkDevice(req.GetDeviceId()); err != nil {
		return nil, err
	}
	if err := s.arbiter.checkWriter(req.GetElectionId()); err != nil {
		return nil, statusErr(err)
	}
	if len(req.GetUpdates()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "write request has no updates")
	}
	if req.GetAtomicity() != p4v1.WriteRequest_CONTINUE_ON_ERROR {
		return nil, status.Errorf(codes.Unimplemented, "atomicity %v is not supported", req.GetAtomicity())
	}

	// Updates that fail conversion keep their slot so that results
	// line up with the request.
	results := make([]error, len(req.GetUpdates()))
	var updates []p4bridge.Update
	var slots []int
	for i, u := range req.GetUpdates() {
		op, err := protoToOperation(u.GetType())
		if err != nil {
			results[i] = err
			continue
		}
		entity, err := protoToEntity(u.GetEntity())
		if err != nil {
			results[i] = err
			continue
		}
		updates = append(updates, p4bridge.Update{Op: op, Entity: entity})
		slots = append(slots, i)
	}
	for i, err := range s.mgr.Write(ctx, updates) {
		results[slots[i]] = err
	}

	for _, err := range results {
		if err != nil {
			return nil, writeError(results)
		}
	}
	s.logger.DebugContext(ctx, "write applied", "updates", len(results))
	return &p4v1.WriteResponse{}, nil
}

// Read returns every stored entity selected by the request's
// entities in a single response.
func (s *Server) Read(req *p4v1.ReadRequest, stream p4v1.P4Runtime_ReadServer) error {
	ctx := stream.Context()
	if err := s.checkDevice(req.GetDeviceId()); err != nil {
		return err
	}
	resp := &p4v1.ReadResponse{}
	for _, e := range req.GetEntities() {
		switch x := e.GetEntity().(type) {
		case *p4v1.Entity_TableEntry:
			q, err := protoToTableQuery(x.TableEntry)
			if err != nil {
				return statusErr(err)
			}
			for _, te := range s.mgr.ReadTableEntries(q) {
				resp.Entities = append(resp.Entities, tableEntryToProto(te))
			}
		case *p4v1.Entity_PacketReplicationEngineEntry:
			mg := x.PacketReplicationEngineEntry.GetMulticastGroupEntry()
			if mg == nil {
				return status.Error(codes.Unimplemented, "only multicast group entries can be read")
			}
			for _, g := range s.mgr.ReadMulticastGroups(mg.GetMulticastGroupId()) {
				resp.Entities = append(resp.Entities, multicastGroupToProto(g))
			}
		case nil:
			return status.Error(codes.InvalidArgument, "read entity is empty")
		default:
			return status.Errorf(codes.Unimplemented, "reading %s is not supported", entityKind(x))
		}
	}
	s.logger.DebugContext(ctx, "read", "queries", len(req.GetEntities()), "entities", len(resp.Entities))
	return stream.Send(resp)
}

// Capabilities reports the P4Runtime API version.
func (s *Server) Capabilities(context.Context, *p4v1.CapabilitiesRequest) (*p4v1.CapabilitiesResponse, error) {
	return &p4v1.CapabilitiesResponse{P4RuntimeApiVersion: APIVersion}, nil
}
