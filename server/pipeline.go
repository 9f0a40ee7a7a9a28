package server

import (
	"context"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/pipeline"
)

// SetForwardingPipelineConfig verifies, saves and commits pipeline
// configs. Committing a config installs its P4Info in the manager,
// which removes every table entry and multicast group.
func (s *Server) SetForwardingPipelineConfig(ctx context.Context, req *p4v1.SetForwardingPipelineConfigRequest) (*p4v1.SetForwardingPipelineConfigResponse, error) {
	if err := s.checkDevice(req.GetDeviceId()); err != nil {
		return nil, err
	}
	if err := s.arbiter.checkWriter(req.GetElectionId()); err != nil {
		return nil, statusErr(err)
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	action := req.GetAction()
	if action == p4v1.SetForwardingPipelineConfigRequest_COMMIT {
		if s.saved == nil {
			return nil, statusErr(p4bridge.ErrFailedPrecondition{Reason: "no saved pipeline config to commit"})
		}
		if err := s.commitLocked(ctx, s.saved); err != nil {
			return nil, err
		}
		s.saved = nil
		return &p4v1.SetForwardingPipelineConfigResponse{}, nil
	}

	cfg := req.GetConfig()
	if cfg == nil {
		return nil, status.Error(codes.InvalidArgument, "pipeline config is missing")
	}
	p, err := pipeline.New(cfg.GetP4Info())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid p4info: %v", err)
	}

	switch action {
	case p4v1.SetForwardingPipelineConfigRequest_VERIFY:
		s.logger.InfoContext(ctx, "pipeline config verified", "tables", len(p.Tables()))
	case p4v1.SetForwardingPipelineConfigRequest_VERIFY_AND_SAVE:
		s.saved = proto.Clone(cfg).(*p4v1.ForwardingPipelineConfig)
		s.logger.InfoContext(ctx, "pipeline config saved", "cookie", cfg.GetCookie().GetCookie())
	case p4v1.SetForwardingPipelineConfigRequest_VERIFY_AND_COMMIT,
		p4v1.SetForwardingPipelineConfigRequest_RECONCILE_AND_COMMIT:
		if err := s.install(ctx, p, cfg); err != nil {
			return nil, err
		}
		s.saved = nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unsupported pipeline config action %v", action)
	}
	return &p4v1.SetForwardingPipelineConfigResponse{}, nil
}

func (s *Server) commitLocked(ctx context.Context, cfg *p4v1.ForwardingPipelineConfig) error {
	p, err := pipeline.New(cfg.GetP4Info())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid p4info: %v", err)
	}
	return s.install(ctx, p, cfg)
}

// install hands p to the manager and records cfg as committed. It
// must be called with s.cfgMu held.
func (s *Server) install(ctx context.Context, p *pipeline.Pipeline, cfg *p4v1.ForwardingPipelineConfig) error {
	if err := s.mgr.SetPipeline(ctx, p); err != nil {
		return statusErr(err)
	}
	s.committed = proto.Clone(cfg).(*p4v1.ForwardingPipelineConfig)
	s.logger.InfoContext(ctx, "pipeline config committed",
		"cookie", cfg.GetCookie().GetCookie(),
		"tables", len(p.Tables()))
	return nil
}

// InstallPipeline commits a P4Info loaded at startup, as if a
// controller had sent VERIFY_AND_COMMIT.
func (s *Server) InstallPipeline(ctx context.Context, p *pipeline.Pipeline) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.install(ctx, p, &p4v1.ForwardingPipelineConfig{P4Info: p.P4Info()})
}

// GetForwardingPipelineConfig returns the committed config, trimmed
// to the requested response type.
func (s *Server) GetForwardingPipelineConfig(ctx context.Context, req *p4v1.GetForwardingPipelineConfigRequest) (*p4v1.GetForwardingPipelineConfigResponse, error) {
	if err := s.checkDevice(req.GetDeviceId()); err != nil {
		return nil, err
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	if s.committed == nil {
		return &p4v1.GetForwardingPipelineConfigResponse{Config: &p4v1.ForwardingPipelineConfig{}}, nil
	}
	c := s.committed
	out := &p4v1.ForwardingPipelineConfig{Cookie: c.GetCookie()}
	switch req.GetResponseType() {
	case p4v1.GetForwardingPipelineConfigRequest_ALL:
		out.P4Info = c.GetP4Info()
		out.P4DeviceConfig = c.GetP4DeviceConfig()
	case p4v1.GetForwardingPipelineConfigRequest_COOKIE_ONLY:
	case p4v1.GetForwardingPipelineConfigRequest_P4INFO_AND_COOKIE:
		out.P4Info = c.GetP4Info()
	case p4v1.GetForwardingPipelineConfigRequest_DEVICE_CONFIG_AND_COOKIE:
		out.P4DeviceConfig = c.GetP4DeviceConfig()
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unsupported response type %v", req.GetResponseType())
	}
	return &p4v1.GetForwardingPipelineConfigResponse{Config: proto.Clone(out).(*p4v1.ForwardingPipelineConfig)}, nil
}
