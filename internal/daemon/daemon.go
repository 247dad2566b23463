package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/lumen-network/lumen/internal/health"
	"github.com/lumen-network/lumen/internal/registry"
	"github.com/lumen-network/lumen/internal/security"
	"github.com/lumen-network/lumen/internal/signal"
	"github.com/lumen-network/lumen/internal/store"
	"github.com/lumen-network/lumen/internal/trust"
)

// Daemon is the rendezvous node runtime. It wires together all services.
type Daemon struct {
	Config   Config
	NodeID   string
	Keypair  *security.Keypair
	Registry *registry.Registry
	Handler  *signal.Handler
	Server   *signal.Server
	Journal  *store.Journal
	Health   *health.Checker

	cancel context.CancelFunc
}

// New creates a Daemon from the on-disk configuration.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	home := lumenHome()

	// Crypto identity (Ed25519); the challenge key for the trust
	// handshake is derived from it.
	kp, err := security.LoadOrCreateKeypair(home)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}

	nodeID := cfg.Node.ID
	if nodeID == "" {
		hex := kp.PublicKeyHex()
		if len(hex) > 16 {
			nodeID = "lumen-" + hex[:16]
		} else {
			nodeID = "lumen-local"
		}
	}

	var journal *store.Journal
	if cfg.Journal.Enabled {
		journal, err = store.Open(home)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
	}

	reg := registry.New()
	auth := trust.NewAuthenticator(kp.ChallengeKey(),
		parseDuration(cfg.Trust.ChallengeTTL, trust.DefaultChallengeTTL))

	handlerCfg := signal.Config{
		MaxMessageSize:   cfg.Limits.MaxMessageSize,
		MessageRate:      cfg.Limits.MessageRate,
		MessageWindow:    parseDuration(cfg.Limits.MessageWindow, time.Minute),
		ConnectionRate:   cfg.Limits.ConnectionRate,
		ConnectionWindow: parseDuration(cfg.Limits.ConnectionWindow, time.Minute),
	}

	var sink signal.EventSink
	if journal != nil {
		sink = journal
	}
	handler := signal.NewHandler(handlerCfg, reg, auth, sink)

	srv := signal.NewServer(handler, reg, journal)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	var pinger health.Pinger
	if journal != nil {
		pinger = journal
	}
	checker := health.NewChecker(pinger, reg, home, cfg.Limits.MaxPeers)
	srv.SetHealthChecker(checker)

	return &Daemon{
		Config:   cfg,
		NodeID:   nodeID,
		Keypair:  kp,
		Registry: reg,
		Handler:  handler,
		Server:   srv,
		Journal:  journal,
		Health:   checker,
	}, nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)
	go d.maintenance(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.Listen.Host, d.Config.Listen.Port)

	httpServer := &http.Server{
		Addr:        addr,
		Handler:     d.Server.Router(),
		ReadTimeout: 0, // websocket connections are long-lived
		IdleTimeout: 2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		if d.Journal != nil {
			_ = d.Journal.Close()
		}
	}()

	fmt.Printf("Lumen rendezvous node %s serving on ws://%s/ws\n", d.NodeID, addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// maintenance evicts stale rate-limit state and prunes old journal
// events until the context ends.
func (d *Daemon) maintenance(ctx context.Context) {
	limiterTick := time.NewTicker(time.Minute)
	defer limiterTick.Stop()
	pruneTick := time.NewTicker(time.Hour)
	defer pruneTick.Stop()

	retention := parseDuration(d.Config.Journal.Retention, 168*time.Hour)

	for {
		select {
		case <-ctx.Done():
			return
		case <-limiterTick.C:
			msgs, conns := d.Handler.Limiters()
			msgs.Cleanup()
			conns.Cleanup()
		case <-pruneTick.C:
			if d.Journal == nil {
				continue
			}
			if n, err := d.Journal.Prune(retention); err != nil {
				log.Printf("[daemon] journal prune: %v", err)
			} else if n > 0 {
				log.Printf("[daemon] journal pruned %d events", n)
			}
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Journal != nil {
		_ = d.Journal.Close()
	}
}
