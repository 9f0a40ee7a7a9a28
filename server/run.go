package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/frobware/go-p4bridge/config"
	"github.com/frobware/go-p4bridge/doorbell"
	"github.com/frobware/go-p4bridge/interpreter/store/sqlite"
	"github.com/frobware/go-p4bridge/lock"
	"github.com/frobware/go-p4bridge/manager"
	"github.com/frobware/go-p4bridge/ofconn"
	"github.com/frobware/go-p4bridge/pipeline"
	"github.com/frobware/go-p4bridge/reconciler"
)

// lockWait bounds how long serve waits for another instance to exit.
const lockWait = 2 * time.Second

// RunConfig configures the bridge daemon.
type RunConfig struct {
	Dirs         config.RuntimeDirs
	Config       config.Config
	PprofAddress string // Optional address for pprof HTTP server (e.g., "localhost:2026")
	Logger       *slog.Logger
}

// Run starts the bridge: the evaluator, the manager, the P4Runtime
// server and the reconciliation loop. It returns when ctx is
// cancelled or any of them fails.
func Run(ctx context.Context, cfg RunConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	logger = manager.WithOpIDHandler(logger)

	if err := cfg.Config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Dirs.EnsureDirectories(); err != nil {
		return fmt.Errorf("runtime directory setup failed: %w", err)
	}

	return lock.Run(ctx, cfg.Dirs.Lock(), lockWait, func(ctx context.Context) error {
		return run(ctx, cfg, logger)
	})
}

func run(ctx context.Context, cfg RunConfig, logger *slog.Logger) error {
	bc := cfg.Config.Bridge

	var program string
	if bc.Program != "" {
		data, err := os.ReadFile(bc.Program)
		if err != nil {
			return fmt.Errorf("failed to read evaluator program: %w", err)
		}
		program = string(data)
	}
	dbPath := bc.Database
	if dbPath == "" {
		dbPath = cfg.Dirs.DBPath()
	}
	prog, err := sqlite.New(ctx, sqlite.Options{
		Path:    dbPath,
		Program: program,
		Outputs: []string{bc.FlowRelation},
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to load evaluator program: %w", err)
	}
	defer prog.Close()

	bell := doorbell.New()
	mgr, err := manager.New(prog, manager.Options{FlowRelation: bc.FlowRelation}, bell, logger)
	if err != nil {
		return err
	}

	srv := New(bc.DeviceID, mgr, logger)
	if bc.P4Info != "" {
		p, err := pipeline.Load(bc.P4Info)
		if err != nil {
			return err
		}
		if err := srv.InstallPipeline(ctx, p); err != nil {
			return fmt.Errorf("failed to install %s: %w", bc.P4Info, err)
		}
	}

	sc := cfg.Config.Switch
	session, err := ofconn.New(ofconn.Options{
		Target:         sc.Target,
		ProbeInterval:  sc.ProbeInterval.Duration,
		InitialBackoff: sc.InitialBackoff.Duration,
		MaxBackoff:     sc.MaxBackoff.Duration,
	}, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	lis, err := Listen(bc.Listen)
	if err != nil {
		return err
	}

	var pprofListener net.Listener
	if cfg.PprofAddress != "" {
		pprofListener, err = net.Listen("tcp", cfg.PprofAddress)
		if err != nil {
			lis.Close()
			return fmt.Errorf("pprof listen on %s: %w", cfg.PprofAddress, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, lis)
	})
	g.Go(func() error {
		return reconciler.New(session, mgr, bell, logger).Run(gctx)
	})

	if pprofListener != nil {
		pprofServer := &http.Server{}
		logger.Info("pprof HTTP server listening", "address", pprofListener.Addr().String())
		g.Go(func() error {
			if err := pprofServer.Serve(pprofListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("pprof HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return pprofServer.Close()
		})
	}

	return g.Wait()
}
