// rankdns — adaptive recursive DNS forwarder with pluggable upstream
// ranking algorithms.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	nethttp "net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rankdns/rankdns/internal/anomaly"
	"github.com/rankdns/rankdns/internal/backend"
	"github.com/rankdns/rankdns/internal/config"
	"github.com/rankdns/rankdns/internal/dnsrank"
	"github.com/rankdns/rankdns/internal/frontend"
	"github.com/rankdns/rankdns/internal/logging"
	"github.com/rankdns/rankdns/internal/metrics"
	"github.com/rankdns/rankdns/internal/querylog"
)

func main() {
	configPath := flag.String("config", "/etc/rankdns/config.toml", "path to configuration file")
	debugPort := flag.String("debug-port", "", "enable pprof debug server on this port (e.g. 6060)")
	mode := flag.String("mode", "server", "run mode: server (listen and resolve) or client (drive queries against the configured servers)")
	clientThreads := flag.Int("n", 1, "client mode: number of concurrent query worker goroutines")
	clientInterval := flag.Duration("interval", 0, "client mode: pause between queries issued by each worker")
	clientCount := flag.Int("count", 0, "client mode: stop after this many total queries (0 = run until interrupted)")
	clientSequential := flag.Bool("sequential", false, "client mode: iterate the configured questions once in order, then quit, instead of picking randomly forever")
	flag.Parse()

	if *debugPort != "" {
		runtime.SetMutexProfileFraction(5)
		runtime.SetBlockProfileRate(1)
		go func() {
			addr := "0.0.0.0:" + *debugPort
			fmt.Fprintf(os.Stderr, "pprof debug server on http://%s/debug/pprof/\n", addr)
			if err := nethttp.ListenAndServe(addr, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server failed: %v\n", err)
			}
		}()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, os.Stdout)
	logger.Info("rankdns starting",
		"config", *configPath,
		"algorithm", cfg.Algorithm,
		"servers", len(cfg.Servers))

	if *mode == "client" {
		if err := runClient(cfg, logger, clientOptions{
			threads:    *clientThreads,
			interval:   *clientInterval,
			count:      *clientCount,
			sequential: *clientSequential,
		}); err != nil {
			logger.Error("client run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	svc, err := newService(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer svc.close()

	if err := svc.start(); err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	// SIGUSR1 dumps the current server-ranking report to the log.
	go func() {
		sigUsr1 := make(chan os.Signal, 1)
		signal.Notify(sigUsr1, syscall.SIGUSR1)
		for range sigUsr1 {
			logger.Info("server ranking report\n" + svc.report())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			logger.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				logger.Error("failed to reload config", "error", err)
				continue
			}
			if err := svc.reload(newCfg); err != nil {
				logger.Error("failed to apply reloaded config", "error", err)
				continue
			}
			cfg = newCfg
			logger.Info("configuration reloaded successfully")

		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("received shutdown signal", "signal", sig.String())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			svc.stop(shutdownCtx)
			cancel()
			logger.Info("rankdns stopped")
			return
		}
	}
}

// service bundles everything that needs to survive a SIGHUP reload: the
// resolver, its ranking state, the anomaly queue, and the listeners in
// front of it.
type service struct {
	cfg      *config.Config
	logger   *slog.Logger
	state    dnsrank.State
	resolver *dnsrank.Resolver
	anomalyQ *anomaly.Queue
	front    *frontend.Server
	qlog     *querylog.Log
	qstore   *querylog.Store
	metrics  *nethttp.Server
	stopCh   chan struct{}
}

func newService(cfg *config.Config, logger *slog.Logger) (*service, error) {
	rcfg, err := cfg.ResolverConfig()
	if err != nil {
		return nil, fmt.Errorf("resolver config: %w", err)
	}

	state := cfg.NewState()
	if err := dnsrank.LoadSnapshot(cfg.SnapshotPath, state, rcfg.Servers); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	resolver := dnsrank.NewResolver(rcfg, state, backend.Dial)

	anomalyCfgs, err := cfg.AnomalyConfigs()
	if err != nil {
		return nil, fmt.Errorf("anomaly config: %w", err)
	}
	anomalyQ, err := anomaly.NewQueue(anomalyCfgs)
	if err != nil {
		return nil, fmt.Errorf("anomaly queue: %w", err)
	}
	resolver.Delayers = toResolverDelayers(anomalyQ.Delayers())

	qlog := querylog.New(5000)
	var qstore *querylog.Store
	if cfg.QuerylogPath != "" {
		qstore, err = querylog.OpenStore(cfg.QuerylogPath)
		if err != nil {
			return nil, fmt.Errorf("open query log store: %w", err)
		}
	}

	front := frontend.NewServer(frontend.Config{ListenUDP: cfg.ListenUDP, ListenTCP: cfg.ListenTCP}, resolver, qlog, qstore, logger)

	svc := &service{
		cfg: cfg, logger: logger, state: state, resolver: resolver,
		anomalyQ: anomalyQ, front: front, qlog: qlog, qstore: qstore,
		stopCh: make(chan struct{}),
	}
	front.SetResolver(resolver, svc.onQueryHook)

	mux := nethttp.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /report", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		fmt.Fprint(w, svc.report())
	})
	svc.metrics = &nethttp.Server{Addr: cfg.MetricsListen, Handler: mux}

	return svc, nil
}

// onQueryHook bridges a completed query back into anomaly-phase bookkeeping
// and selection metrics. It always reads s.anomalyQ/s.resolver, so it stays
// correct across a reload even though frontend.Server captured it once.
func (s *service) onQueryHook(rep dnsrank.Response) {
	s.anomalyQ.Consume(1)
	s.resolver.Delayers = toResolverDelayers(s.anomalyQ.Delayers())
	metrics.ServerSelected.WithLabelValues(rep.Server).Inc()
}

// refreshRankingMetrics periodically exports each server's current rank and
// whether an anomaly phase is active, off the query hot path.
func (s *service) refreshRankingMetrics() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for server := range s.resolver.Servergroups() {
				metrics.ServerRank.WithLabelValues(server).Set(s.state.Rank(server))
			}
			active := 0.0
			if len(s.anomalyQ.Delayers()) > 0 {
				active = 1.0
			}
			metrics.AnomalyPhaseActive.Set(active)
		case <-s.stopCh:
			return
		}
	}
}

func (s *service) start() error {
	if err := s.front.Start(); err != nil {
		return err
	}
	go func() {
		if err := s.metrics.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err)
		}
	}()
	go s.refreshRankingMetrics()
	metrics.ServerStartTime.SetToCurrentTime()
	metrics.ServerInfo.WithLabelValues("dev").Set(1)
	return nil
}

func (s *service) stop(ctx context.Context) {
	close(s.stopCh)
	s.front.Stop(ctx)
	if err := s.metrics.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics server shutdown error", "error", err)
	}
	if err := dnsrank.DumpSnapshot(s.cfg.SnapshotPath, s.state); err != nil {
		s.logger.Warn("failed to dump state snapshot", "error", err)
	}
}

func (s *service) close() {
	if s.qstore != nil {
		s.qstore.Close()
	}
}

// reload builds a fresh Resolver (of the possibly new algorithm) and
// anomaly queue from a newly-loaded config, and swaps them into the live
// frontend so every query that starts after the swap picks up the new
// rules, timeouts, and ranking algorithm; queries already in flight finish
// on the old resolver. Accumulated ranking
// statistics carry across: if the algorithm didn't change, the existing
// State is reused outright; if it did, the old State's Dump() is replayed
// into a fresh State of the new algorithm via Load, so history isn't lost.
func (s *service) reload(cfg *config.Config) error {
	rcfg, err := cfg.ResolverConfig()
	if err != nil {
		return fmt.Errorf("resolver config: %w", err)
	}
	anomalyCfgs, err := cfg.AnomalyConfigs()
	if err != nil {
		return fmt.Errorf("anomaly config: %w", err)
	}
	anomalyQ, err := anomaly.NewQueue(anomalyCfgs)
	if err != nil {
		return fmt.Errorf("anomaly queue: %w", err)
	}

	state := s.state
	if cfg.Algorithm != s.cfg.Algorithm {
		newState := cfg.NewState()
		if err := newState.Load(s.state.Dump(), rcfg.Servers); err != nil {
			return fmt.Errorf("migrate ranking state to %q: %w", cfg.Algorithm, err)
		}
		state = newState
	}

	backend.ClearCache()
	resolver := dnsrank.NewResolver(rcfg, state, backend.Dial)
	resolver.Delayers = toResolverDelayers(anomalyQ.Delayers())

	s.state = state
	s.resolver = resolver
	s.anomalyQ = anomalyQ
	s.cfg = cfg
	s.front.SetResolver(resolver, s.onQueryHook)
	return nil
}

func (s *service) report() string {
	report := dnsrank.BuildReport(s.state, s.resolver.Servergroups(), nil)
	return report.Table()
}

// clientOptions controls the CLI client mode's worker-loop behavior.
type clientOptions struct {
	threads    int
	interval   time.Duration
	count      int
	sequential bool
}

// runClient drives queries against the configured resolver from threads
// concurrent worker goroutines, each looping over the configured question
// set the way the original interactive client polled a single question at a
// time, until count total queries have been issued (0 means run until
// SIGINT/SIGTERM) or, in sequential mode, until every question has been
// asked once. It dumps the accumulated ranking state snapshot on exit so
// statistics survive a rerun.
func runClient(cfg *config.Config, logger *slog.Logger, opts clientOptions) error {
	rcfg, err := cfg.ResolverConfig()
	if err != nil {
		return fmt.Errorf("resolver config: %w", err)
	}
	state := cfg.NewState()
	if err := dnsrank.LoadSnapshot(cfg.SnapshotPath, state, rcfg.Servers); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	resolver := dnsrank.NewResolver(rcfg, state, backend.Dial)

	questions, err := cfg.ClientQuestions()
	if err != nil {
		return fmt.Errorf("client questions: %w", err)
	}

	logger.Info("server ranking report\n" + dnsrank.BuildReport(state, resolver.Servergroups(), nil).Table())

	threads := opts.threads
	if threads < 1 {
		threads = 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	stop := make(chan struct{})
	go func() { <-sigCh; close(stop) }()

	var issued int64
	var wg sync.WaitGroup
	for worker := 0; worker < threads; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
			next := worker
			for {
				select {
				case <-stop:
					return
				default:
				}
				if opts.count > 0 && atomic.LoadInt64(&issued) >= int64(opts.count) {
					return
				}

				var q dnsrank.Question
				if opts.sequential {
					if next >= len(questions) {
						return
					}
					q = questions[next]
					next += threads
				} else {
					q = questions[rnd.Intn(len(questions))]
				}

				rep, err := resolver.Query(context.Background(), q)
				n := atomic.AddInt64(&issued, 1)
				if err != nil {
					logger.Warn("client query failed", "qname", q.Qname, "rdtype", q.Rdtype, "error", err)
				} else {
					logger.Info("client query", "qname", q.Qname, "rdtype", q.Rdtype,
						"server", rep.Server, "code", rep.Code, "n", n)
				}

				if opts.interval > 0 {
					select {
					case <-stop:
						return
					case <-time.After(opts.interval):
					}
				}
			}
		}(worker)
	}
	wg.Wait()

	logger.Info("server ranking report\n" + dnsrank.BuildReport(state, resolver.Servergroups(), nil).Table())
	return dnsrank.DumpSnapshot(cfg.SnapshotPath, state)
}

func toResolverDelayers(delayers []anomaly.Delayer) []dnsrank.Delayer {
	if len(delayers) == 0 {
		return nil
	}
	out := make([]dnsrank.Delayer, len(delayers))
	for i, d := range delayers {
		out[i] = dnsrank.Delayer{Pattern: d.Pattern, Delay: d.Delay}
	}
	return out
}
