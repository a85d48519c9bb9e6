package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cellsim.ai/internal/config"
	persistlog "cellsim.ai/internal/persistence/log"
	"cellsim.ai/internal/persistence/snapshot"
	"cellsim.ai/internal/sim/session"
	"cellsim.ai/internal/transport/observer"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/run.yaml", "run config path")
		addr       = flag.String("addr", "", "http listen address (default: observer.addr from the config)")
		snapPath   = flag.String("snapshot", "", "path to snapshot to resume from (overrides the config)")
		loadLatest = flag.Bool("load_latest_snapshot", false, "resume from the latest snapshot in the data dir if present")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.Observer.Addr = strings.TrimSpace(*addr)
	}
	if strings.TrimSpace(*snapPath) != "" {
		cfg.Snapshot, cfg.Pattern, cfg.PatternText = strings.TrimSpace(*snapPath), "", ""
	}

	// Optional: read-model index (does not affect the simulation).
	idx, err := openRuntimeIndex(cfg.DataDir, cfg.Index)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	if cfg.Snapshot == "" && *loadLatest {
		if p := resolveLatest(context.Background(), cfg.DataDir, idx); p != "" {
			cfg.Snapshot, cfg.Pattern, cfg.PatternText = p, "", ""
		}
	}

	start, err := startFrame(cfg)
	if err != nil {
		logger.Fatalf("start frame: %v", err)
	}
	if cfg.Snapshot != "" {
		// The snapshot decides the rule and the shape of the universe.
		cfg.Rule = start.Rule
		cfg.Topology, cfg.Width, cfg.Height, cfg.ChunkExp = start.Topology, start.Width, start.Height, start.ChunkExp
		logger.Printf("resumed from snapshot=%s generation=%d", filepath.Base(cfg.Snapshot), start.Generation)
	}

	sess, err := session.New(cfg, start, logger)
	if err != nil {
		logger.Fatalf("session: %v", err)
	}
	defer sess.Close()

	var genLog generationWriter
	if cfg.LogGenerations {
		l := persistlog.NewGenerationLogger(cfg.DataDir)
		defer l.Close()
		genLog = l
	}

	rec := newRecorder(sess, genLog, idx, logger)

	if cfg.Generations > 0 {
		sess.Run(cfg.Generations)
	}

	ctx, cancel := signalContext()
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		info := sess.Info()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP cellsim_highest_generation Newest scheduled generation.\n")
		fmt.Fprintf(rw, "# TYPE cellsim_highest_generation gauge\n")
		fmt.Fprintf(rw, "cellsim_highest_generation{rule=%q,mode=%q} %d\n", info.Rule, info.Mode, info.Generation)

		if last, ok := rec.Last(); ok {
			fmt.Fprintf(rw, "# HELP cellsim_recorded_generation Newest generation written to the log.\n")
			fmt.Fprintf(rw, "# TYPE cellsim_recorded_generation gauge\n")
			fmt.Fprintf(rw, "cellsim_recorded_generation{rule=%q} %d\n", info.Rule, last.Generation)
		}
		if idx != nil {
			st := idx.Stats()
			fmt.Fprintf(rw, "# HELP cellsim_index_queue_depth Index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE cellsim_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "cellsim_index_queue_depth %d\n", st.QueueDepth)
			fmt.Fprintf(rw, "# HELP cellsim_index_dropped_total Index rows dropped under backlog.\n")
			fmt.Fprintf(rw, "# TYPE cellsim_index_dropped_total counter\n")
			fmt.Fprintf(rw, "cellsim_index_dropped_total{kind=%q} %d\n", "generation", st.DropGenerationTotal)
			fmt.Fprintf(rw, "cellsim_index_dropped_total{kind=%q} %d\n", "snapshot", st.DropSnapshotTotal)
		}
	})
	if envBool("CS_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (CS_ENABLE_PPROF_HTTP=false)")
	}
	poll := time.Duration(cfg.Observer.PollMS) * time.Millisecond
	mux.Handle("/v1/", observer.NewServer(sess, poll, logger).Handler())

	srv := &http.Server{
		Addr:              cfg.Observer.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Printf("listening on %s rule=%s topology=%s mode=%s", cfg.Observer.Addr, cfg.Rule, cfg.Topology, cfg.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		return srv.Shutdown(ctx2)
	})
	g.Go(func() error {
		if genLog == nil && idx == nil {
			return nil
		}
		return rec.run(ctx, poll)
	})

	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}

	// Record what compute finishes within the grace period, then snapshot
	// the newest recorded generation.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rec.catchUp(ctx2); err != nil {
		logger.Printf("final catch-up: %v", err)
	}
	cancel2()
	last, ok := rec.Last()
	if !ok {
		logger.Printf("snapshot skipped: nothing recorded")
		return
	}
	if err := writeSnapshot(cfg.DataDir, last, idx); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	logger.Printf("snapshot written generation=%d", last.Generation)
}

func startFrame(cfg config.Config) (session.Frame, error) {
	if cfg.Snapshot == "" {
		return session.StartFrame(cfg)
	}
	snap, err := snapshot.Read(cfg.Snapshot)
	if err != nil {
		return session.Frame{}, err
	}
	return snap.Frame()
}

func writeSnapshot(dataDir string, f session.Frame, idx runtimeIndex) error {
	snap, err := snapshot.FromFrame(f)
	if err != nil {
		return err
	}
	path := snapshot.PathFor(dataDir, f.Generation)
	if err := snapshot.Write(path, snap); err != nil {
		return err
	}
	if idx != nil {
		idx.RecordSnapshot(path, snap)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// resolveLatest prefers the index's newest snapshot when its file still
// exists and falls back to scanning the data dir.
func resolveLatest(ctx context.Context, dataDir string, idx runtimeIndex) string {
	if idx != nil {
		row, ok, err := idx.LatestSnapshot(ctx)
		if err == nil && ok {
			if _, err := os.Stat(row.Path); err == nil {
				return row.Path
			}
		}
	}
	return latestSnapshot(dataDir)
}

func latestSnapshot(dataDir string) string {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestGen uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		gen, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || gen > bestGen {
			bestGen = gen
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
