// Package app wires the swarm storage node's components together (C8
// Service): configuration, logging, the message store, authenticator,
// swarm router, monitor registry, request handler, both wire transports,
// the periodic cleanup sweep, and signal-driven shutdown.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"swarmstore/internal/cleanup"
	"swarmstore/pkg/auth"
	"swarmstore/pkg/banner"
	"swarmstore/pkg/config"
	"swarmstore/pkg/logger"
	"swarmstore/pkg/models"
	"swarmstore/pkg/monitor"
	"swarmstore/pkg/rpc"
	"swarmstore/pkg/state"
	"swarmstore/pkg/store"
	"swarmstore/pkg/swarm"
	"swarmstore/pkg/telemetry"
	"swarmstore/pkg/wire"
)

// App holds every constructed component for one running node.
type App struct {
	eff    config.Effective
	log    *zap.Logger
	store  *store.Store
	router *swarm.Router
	mon    *monitor.Registry

	httpSrv    *wire.HTTPServer
	mqSrv      *wire.MQServer
	metricsSrv *http.Server
	cleaner    *cleanup.Scheduler
	telemetry  *telemetry.Recorder

	version, commit, buildDate string
}

// New constructs every component that does not require a running context:
// the logger, state directories, pebble store, authenticator, router,
// monitor registry, request handler, and both wire transports. Call Run
// to start background loops and the listeners, blocking until shutdown.
func New(eff config.Effective, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	log, err := logger.New(eff.Config.Logging.Level, eff.Config.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	if err := state.EnsureStateDirs(eff.DBPath); err != nil {
		return nil, fmt.Errorf("prepare state dirs: %w", err)
	}

	st, err := store.Open(state.PathsVar.Store, log, store.Options{PageLimit: eff.Config.Store.PageLimit})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", state.PathsVar.Store, err)
	}

	authr := auth.New(auth.NetworkParams{PubkeySize: eff.Config.Network.PubkeySize})

	router := swarm.New(localSnapshot(eff.Config), nil, nil, st, log)

	mon := monitor.New(authr, router, log)

	registry := prometheus.NewRegistry()
	rec := telemetry.NewRecorder(registry)

	limits := rpc.NewRateLimitsWithRates(eff.Config.RateLimit.PublicPerMinute, eff.Config.RateLimit.AuthenticatedPerMinute)

	handler := rpc.New(st, authr, router, mon, limits, wire.NewHTTPForwarder(),
		retentionTable(eff.Config.Retention), rpc.NodeVersion{Version: version, HardForkLevel: 1}, rec, log)

	onionKey, err := onionPrivateKey(eff.Config.Identity.OnionPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load onion private key: %w", err)
	}
	if eff.Config.Identity.OnionPrivateKey == "" {
		log.Warn("onion_key_ephemeral", zap.String("detail", "no identity.onion_private_key configured, generated a throwaway key for this process"))
	}

	httpSrv := wire.NewHTTPServer(eff.Config.Server.HTTPAddr, handler, log)
	mqSrv := wire.NewMQServer(handler, onionKey, log)

	cleaner, err := cleanup.New(st, mon, log, cleanup.Options{
		Cron:   eff.Config.Cleanup.Cron,
		Period: eff.Config.Cleanup.Period.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("build cleanup scheduler: %w", err)
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &App{
		eff: eff, log: log, store: st, router: router, mon: mon,
		httpSrv:    httpSrv,
		mqSrv:      mqSrv,
		metricsSrv: &http.Server{Addr: metricsAddr(eff.Config.Server.HTTPAddr), Handler: metricsMux},
		cleaner:    cleaner,
		telemetry:  rec,
		version:    version, commit: commit, buildDate: buildDate,
	}, nil
}

// Logger returns the node's structured logger, for use by main's signal
// handler and fatal-abort path once the App has been constructed.
func (a *App) Logger() *zap.Logger {
	return a.log
}

// Run starts the background loops and both wire listeners, and blocks
// until ctx is canceled or a listener fails fatally.
func (a *App) Run(ctx context.Context) error {
	banner.Print(a.eff, a.version)

	bg, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.cleaner.Run(bg)
	go a.router.RunRefresher(bg, a.eff.Config.Swarm.RefreshInterval.Duration())
	go a.router.RunLivenessProbe(bg, a.eff.Config.Swarm.LivenessInterval.Duration())
	go a.reportStoreStats(bg)

	errCh := make(chan error, 3)

	go func() {
		a.log.Info("http_listening", zap.String("addr", a.eff.Config.Server.HTTPAddr))
		var err error
		if a.eff.Config.Server.TLS.CertFile != "" {
			err = a.httpSrv.ListenAndServeTLS(a.eff.Config.Server.TLS.CertFile, a.eff.Config.Server.TLS.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http listener: %w", err)
		}
	}()

	go func() {
		a.log.Info("mq_listening", zap.String("addr", a.eff.Config.Server.MQAddr))
		if err := a.mqSrv.ListenAndServe(a.eff.Config.Server.MQAddr); err != nil {
			errCh <- fmt.Errorf("mq listener: %w", err)
		}
	}()

	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	_ = a.mqSrv.Shutdown()
	_ = a.metricsSrv.Shutdown(shutdownCtx)
	if err := a.store.Close(); err != nil {
		a.log.Warn("store_close_failed", zap.Error(err))
	}
}

// reportStoreStats periodically publishes get_stats() to the telemetry
// recorder, since Observe only fires on request dispatch.
func (a *App) reportStoreStats(ctx context.Context) {
	t := time.NewTicker(30 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			stats := a.store.GetStats()
			a.telemetry.SetStoreStats(stats.MessageCount, stats.PageCount)
		}
	}
}

// localSnapshot builds the initial swarm.Snapshot for a standalone node:
// every account maps to this node's single configured swarm, served by
// this node alone, until a membership oracle is configured and refreshes
// it with the real topology.
func localSnapshot(cfg *config.Config) *swarm.Snapshot {
	localSwarm := swarm.SwarmID(cfg.Swarm.LocalSwarmID)
	if localSwarm == swarm.InvalidSwarmID {
		localSwarm = 1
	}
	self := swarm.NodeRecord{ID: cfg.Swarm.LocalNodeID, Address: cfg.Server.HTTPAddr}
	return &swarm.Snapshot{
		LocalNodeID: cfg.Swarm.LocalNodeID,
		SwarmOf:     func(models.Account) swarm.SwarmID { return localSwarm },
		Peers:       map[swarm.SwarmID][]swarm.NodeRecord{localSwarm: {self}},
		LocalSwarm:  localSwarm,
	}
}

// onionPrivateKey decodes the node's static X25519 scalar from hex, or
// generates one for the life of this process if none is configured. An
// ephemeral key means peers can never reach this node's info.onion
// endpoint with a real envelope, since they'd need the matching public
// key out of band; that's acceptable for a node that isn't advertising
// itself as an onion-routing hop.
func onionPrivateKey(hexKey string) ([32]byte, error) {
	var key [32]byte
	if hexKey == "" {
		if _, err := rand.Read(key[:]); err != nil {
			return key, fmt.Errorf("generate ephemeral onion key: %w", err)
		}
		return key, nil
	}
	decoded, err := hex.DecodeString(hexKey)
	if err != nil {
		return key, fmt.Errorf("decode identity.onion_private_key: %w", err)
	}
	if len(decoded) != 32 {
		return key, fmt.Errorf("identity.onion_private_key must be 32 bytes, got %d", len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}

func retentionTable(classes []config.RetentionClass) []rpc.RetentionClass {
	out := make([]rpc.RetentionClass, 0, len(classes))
	for _, c := range classes {
		out = append(out, rpc.RetentionClass{
			NamespaceMin: models.Namespace(c.NamespaceMin),
			NamespaceMax: models.Namespace(c.NamespaceMax),
			MaxTTL:       c.MaxTTL.Duration(),
		})
	}
	return out
}

// metricsAddr derives the metrics listen address from the HTTP address by
// shifting its port by one, so a default setup needs no extra config.
func metricsAddr(httpAddr string) string {
	host, port := splitHostPort(httpAddr)
	n := 0
	fmt.Sscanf(port, "%d", &n)
	return fmt.Sprintf("%s:%d", host, n+1)
}

func splitHostPort(addr string) (host, port string) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	return "", addr
}
