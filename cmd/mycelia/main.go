// Command mycelia boots one MessageSystem process: load layered
// configuration, wire telemetry, bootstrap the kernel/AccessControl/
// scheduler, optionally attach an audit-ledger store and the debug
// control plane, register the demo subsystem, then run until signalled.
// Grounded on the teacher's cmd/app/micro.go process wiring (NewKernel,
// RegisterPrivilegedService, RegisterService, GrantCap, Start), rebuilt
// on urfave/cli/v2 for flag parsing the way the dependency pack's own
// cli tools do it, in place of the teacher's bare flag package.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"mycelia/internal/buildgraph"
	"mycelia/internal/config"
	"mycelia/internal/controlplane"
	"mycelia/internal/message"
	"mycelia/internal/ratelimit"
	"mycelia/internal/security"
	"mycelia/internal/store/mysql"
	"mycelia/internal/store/sqlite"
	"mycelia/internal/system"
	"mycelia/internal/telemetry"
)

func main() {
	var (
		configPath       string
		logLevel         string
		logPretty        bool
		controlPlaneAddr string
		storeDriver      string
		storeDSN         string
	)

	app := &cli.App{
		Name:  "mycelia",
		Usage: "run a Mycelia message-kernel process",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file", Destination: &configPath},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn, error, none", Destination: &logLevel},
			&cli.BoolFlag{Name: "log-pretty", Usage: "human-readable console logging instead of JSON", Destination: &logPretty},
			&cli.StringFlag{Name: "control-plane-addr", Usage: "address the debug HTTP control plane listens on, empty disables it", Destination: &controlPlaneAddr},
			&cli.StringFlag{Name: "store-driver", Usage: "audit-ledger store driver: sqlite, mysql, or empty to disable", Destination: &storeDriver},
			&cli.StringFlag{Name: "store-dsn", Usage: "audit-ledger store data source name", Destination: &storeDSN},
		},
		Action: func(c *cli.Context) error {
			return run(c.Context, runFlags{
				configPath:       configPath,
				logLevel:         logLevel,
				logPretty:        logPretty,
				controlPlaneAddr: controlPlaneAddr,
				storeDriver:      storeDriver,
				storeDSN:         storeDSN,
			})
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runFlags struct {
	configPath       string
	logLevel         string
	logPretty        bool
	controlPlaneAddr string
	storeDriver      string
	storeDSN         string
}

func run(ctx context.Context, flags runFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags always win over the config file/environment, per
	// internal/config's documented precedence.
	if flags.logLevel != "" {
		cfg.System.LogLevel = flags.logLevel
	}
	if flags.logPretty {
		cfg.System.LogPretty = true
	}
	if flags.controlPlaneAddr != "" {
		cfg.System.ControlPlaneAddr = flags.controlPlaneAddr
	}
	if flags.storeDriver != "" {
		cfg.System.StoreDriver = flags.storeDriver
	}
	if flags.storeDSN != "" {
		cfg.System.StoreDSN = flags.storeDSN
	}

	log := telemetry.New(telemetry.Options{Level: cfg.System.LogLevel, Pretty: cfg.System.LogPretty})

	sys, err := system.Bootstrap(log, system.Config{
		PoolCapacity:        cfg.System.PoolSize,
		WarmupCount:         boolToWarmup(cfg.System.WarmupOnBoot, cfg.System.PoolSize),
		TimeSliceMs:         int64(cfg.System.TimeSliceMs),
		ResponseTimeoutMs:   int64(cfg.Responses.DefaultTimeoutMs),
		MaxPendingReplies:   cfg.Responses.MaxPending,
		PrincipalExpiration: cfg.System.PKRDefaultExpiration,
	})
	if err != nil {
		return fmt.Errorf("bootstrap system: %w", err)
	}
	defer sys.Dispose()

	closeStore, auditReader, err := attachAuditStore(sys, cfg, log)
	if err != nil {
		return fmt.Errorf("attach audit store: %w", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	registerDemoSubsystem(sys, cfg)

	sys.Scheduler().Start()

	if cfg.System.ControlPlaneAddr != "" {
		cp := controlplane.New(sys, auditReader, log)
		cp.Serve(cfg.System.ControlPlaneAddr)
	}

	log.Info().Msg("mycelia running")

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	log.Info().Msg("shutting down")
	return nil
}

func boolToWarmup(warmup bool, poolSize int) int {
	if !warmup {
		return 0
	}
	tenth := poolSize / 10
	if tenth <= 0 {
		tenth = 1
	}
	return tenth
}

// attachAuditStore wires the configured store driver as a
// responsemgr.Observer on the kernel's ResponseManager, and returns a
// close func and an AuditReader adapter for the control plane's /audit
// endpoint. A driver of "" disables the audit ledger entirely.
func attachAuditStore(sys *system.System, cfg config.Config, log *telemetry.Logger) (func(), controlplane.AuditReader, error) {
	switch cfg.System.StoreDriver {
	case "":
		return nil, nil, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.System.StoreDSN, log)
		if err != nil {
			return nil, nil, err
		}
		sys.Kernel().Responses().SetObserver(st)
		reader := func(limit int) ([]controlplane.AuditEntry, error) {
			rows, err := st.Recent(limit)
			if err != nil {
				return nil, err
			}
			out := make([]controlplane.AuditEntry, len(rows))
			for i, r := range rows {
				out[i] = controlplane.AuditEntry{
					CorrelationID: r.CorrelationID,
					OwnerPKR:      r.OwnerPKR,
					ReplyTo:       r.ReplyTo,
					TimeoutMs:     r.TimeoutMs,
					CreatedAt:     r.CreatedAt,
					Outcome:       r.Outcome,
					RecordedAt:    r.RecordedAt,
				}
			}
			return out, nil
		}
		return func() { st.Close() }, reader, nil
	case "mysql":
		st, err := mysql.Open(cfg.System.StoreDSN, log)
		if err != nil {
			return nil, nil, err
		}
		sys.Kernel().Responses().SetObserver(st)
		reader := func(limit int) ([]controlplane.AuditEntry, error) {
			rows, err := st.Recent(limit)
			if err != nil {
				return nil, err
			}
			out := make([]controlplane.AuditEntry, len(rows))
			for i, r := range rows {
				out[i] = controlplane.AuditEntry{
					CorrelationID: r.CorrelationID,
					OwnerPKR:      r.OwnerPKR,
					ReplyTo:       r.ReplyTo,
					TimeoutMs:     r.TimeoutMs,
					CreatedAt:     r.CreatedAt,
					Outcome:       r.Outcome,
					RecordedAt:    r.RecordedAt,
				}
			}
			return out, nil
		}
		return func() { st.Close() }, reader, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.System.StoreDriver)
	}
}

// ratelimitFacetKind is the custom buildgraph.FacetKind the demo subsystem
// builds its rate limiter under, alongside the fixed core kinds.
const ratelimitFacetKind buildgraph.FacetKind = "ratelimit"

// registerDemoSubsystem mirrors the teacher's "demo" actor (cmd/app/micro.go)
// showing basic subsystem usage: a top-level subsystem with a ping route
// and, when a positive rate is configured, a rate limiter installed as a
// buildgraph facet via Use/Build rather than a plain local variable, so
// the ping handler reads it back through Subsystem.Facet the same way any
// hook-supplied capability is consumed.
func registerDemoSubsystem(sys *system.System, cfg config.Config) {
	demo, err := sys.RegisterSubsystem("demo", system.RegisterSubsystemOptions{Kind: security.KindTopLevel})
	if err != nil {
		return
	}

	if cfg.System.RateLimitPerSecond > 0 {
		demo.Use(buildgraph.Hook{
			Kind: ratelimitFacetKind,
			Make: func(ctx *buildgraph.Context) (*buildgraph.Facet, error) {
				limiter := ratelimit.New(ratelimit.Limit{
					RatePerSec: cfg.System.RateLimitPerSecond,
					Burst:      cfg.System.RateLimitBurst,
				})
				return &buildgraph.Facet{Kind: ratelimitFacetKind, Value: limiter, Attach: true}, nil
			},
		})
		if err := demo.Build(); err != nil {
			return
		}
	}

	demo.Routes().Register("ping", func(msg *message.Message, params map[string]string, opts security.SendOptions) (any, error) {
		if f, ok := demo.Facet(ratelimitFacetKind); ok {
			if !f.Value.(*ratelimit.Limiter).Allow("ping") {
				return nil, nil
			}
		}
		if opts.ResponseRequired == nil {
			return "pong", nil
		}
		resp, err := message.NewMessage(opts.ResponseRequired.ReplyTo, "pong", message.Options{
			Type:       message.TypeResponse,
			IsResponse: true,
			InReplyTo:  msg.ID(),
		})
		if err != nil {
			return nil, err
		}
		return nil, demo.Identity().SendProtected(resp, security.SendOptions{IsResponse: true})
	})
}
