// Command sentinel runs the Shadow AI detection platform: capture (or the
// demo simulator), the detection pipeline, graph analytics, and the REST
// control plane, all in one process.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shadowhunter/backend/internal/alerts"
	"github.com/shadowhunter/backend/internal/api"
	"github.com/shadowhunter/backend/internal/bus"
	"github.com/shadowhunter/backend/internal/capture"
	"github.com/shadowhunter/backend/internal/config"
	"github.com/shadowhunter/backend/internal/detect"
	"github.com/shadowhunter/backend/internal/graph"
	"github.com/shadowhunter/backend/internal/infra"
	"github.com/shadowhunter/backend/internal/intel"
	"github.com/shadowhunter/backend/internal/ml"
	"github.com/shadowhunter/backend/internal/monitoring"
	"github.com/shadowhunter/backend/internal/pipeline"
	"github.com/shadowhunter/backend/internal/probe"
	"github.com/shadowhunter/backend/internal/response"
	"github.com/shadowhunter/backend/internal/session"
	"github.com/shadowhunter/backend/internal/simulate"
	"github.com/shadowhunter/backend/internal/stream"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment")
	}

	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	demo := flag.Bool("demo", false, "run the traffic simulator instead of live capture")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *demo {
		cfg.Simulator.Enabled = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Graph store: Postgres when a DSN is configured, in-memory otherwise.
	var store graph.Store
	if cfg.Graph.DSN != "" {
		sqlStore, err := graph.NewSQLStore(cfg.Graph.DSN)
		if err != nil {
			log.Fatalf("connect graph store: %v", err)
		}
		store = sqlStore
		slog.Info("[Main] Graph store: postgres")
	} else {
		store = graph.NewMemoryStore()
		slog.Info("[Main] Graph store: in-memory")
	}
	defer store.Close()

	// Event bus: Redis Pub/Sub when an address is configured, in-process
	// otherwise.
	var eventBus bus.Bus
	if cfg.Bus.RedisAddr != "" {
		adapter, err := infra.NewGoRedisAdapter(cfg.Bus.RedisAddr, cfg.Bus.RedisPassword, cfg.Bus.RedisDB)
		if err != nil {
			log.Fatalf("connect redis bus: %v", err)
		}
		defer adapter.Close()
		eventBus = bus.NewRedisBus(adapter, "sentinel", cfg.Capture.BufferSize)
		slog.Info("[Main] Event bus: redis", "addr", cfg.Bus.RedisAddr)
	} else {
		eventBus = bus.NewMemoryBus(cfg.Capture.BufferSize)
		slog.Info("[Main] Event bus: in-process")
	}
	defer eventBus.Close()

	cidr := intel.NewCIDRMatcher()
	ja3 := intel.NewJA3Matcher()
	registry := detect.NewRegistry(cidr, ja3, cfg.Detect.Plugins)
	scorer := ml.NewEngine(cfg.ML.Enabled, cfg.ML.ModelDir, cidr)
	sessions := session.NewTracker(time.Duration(cfg.Session.WindowMinutes) * time.Minute)
	prober := probe.NewInterrogator(cfg.Probe.Enabled,
		cfg.Probe.MaxPerMinute,
		time.Duration(cfg.Probe.CooldownS)*time.Second,
		time.Duration(cfg.Probe.TimeoutS)*time.Second)
	responder := response.NewManager(cfg.Response.Enabled,
		cfg.Response.MaxBlocked,
		time.Duration(cfg.Response.TTLS)*time.Second)
	hub := stream.NewHub()
	buffer := alerts.NewBuffer(100)
	metrics := monitoring.NewMetrics()

	engine := pipeline.NewEngine(pipeline.Options{
		Bus:       eventBus,
		Topic:     cfg.Bus.Topic,
		Store:     store,
		Detectors: registry,
		Scorer:    scorer,
		Sessions:  sessions,
		Prober:    prober,
		Responder: responder,
		Broadcast: hub,
		Buffer:    buffer,
		Metrics:   metrics,
		CIDR:      cidr,
		JA3:       ja3,
	})
	engine.Subscribe()

	analyzer := graph.NewAnalyzer(store,
		time.Duration(cfg.Graph.CentralityIntervalS)*time.Second,
		cfg.Graph.CentralityThreshold,
		cfg.Graph.MinConnections)
	go analyzer.Run(ctx, engine.EmitFindings)

	// Ingest: live capture unless the simulator is on.
	mode := "live"
	var (
		captureEngine *capture.Engine
		queue         *capture.PacketQueue
		dpi           *capture.DPIWorker
	)
	if cfg.Simulator.Enabled {
		mode = "demo"
		generator := simulate.NewGenerator(eventBus, cfg.Bus.Topic)
		go generator.Run(ctx)
	} else {
		queue = capture.NewPacketQueue(cfg.Capture.BufferSize)
		captureEngine, err = capture.NewEngine(cfg.Capture.Interface, queue, metrics)
		if err != nil {
			log.Fatalf("open capture interface: %v (use -demo for the simulator)", err)
		}
		dpi = capture.NewDPIWorker(queue, eventBus, cfg.Bus.Topic, metrics)
		go dpi.Run(ctx)
		go func() {
			if err := captureEngine.Run(ctx); err != nil && err != context.Canceled {
				slog.Error("[Main] Capture loop exited", "error", err)
			}
		}()
	}

	go refreshGauges(ctx, metrics, queue, hub, store)

	server := api.NewServer(api.Options{
		Addr:     cfg.API.Addr,
		APIKey:   cfg.API.Key,
		Mode:     mode,
		Store:    store,
		Buffer:   buffer,
		Response: responder,
		Prober:   prober,
		Hub:      hub,
		Analyzer: analyzer,
		Registry: registry,
		CIDR:     cidr,
		JA3:      ja3,
	})
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("[Main] API server exited", "error", err)
			stop()
		}
	}()

	slog.Info("[Main] 🛡 Sentinel running", "mode", mode, "addr", cfg.API.Addr)
	<-ctx.Done()
	slog.Info("[Main] Shutdown signal received")

	// Stop ingest first so the pipeline drains, then detach and close the
	// outward surfaces.
	if captureEngine != nil {
		captureEngine.Close()
		queue.Close()
		dpi.Wait()
	}
	engine.Unsubscribe()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("[Main] API shutdown incomplete", "error", err)
	}
	hub.Close()

	slog.Info("[Main] Sentinel stopped")
	os.Exit(0)
}

// refreshGauges samples queue depth, client count, and graph size for
// Prometheus every 10 seconds.
func refreshGauges(ctx context.Context, m *monitoring.Metrics,
	queue *capture.PacketQueue, hub *stream.Hub, store graph.Store) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if queue != nil {
				m.QueueDepth.Set(float64(queue.Len()))
			}
			m.WSClients.Set(float64(hub.Clients()))
			if nodes, err := store.AllNodes(ctx); err == nil {
				m.GraphNodes.Set(float64(len(nodes)))
			}
			if edges, err := store.AllEdges(ctx); err == nil {
				m.GraphEdges.Set(float64(len(edges)))
			}
		}
	}
}
