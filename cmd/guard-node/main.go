// Command guard-node runs a chatguard node: the guard engine behind an HTTP
// bridge for the page shell, with an optional libp2p transport between nodes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ZentaChain/chatguard/pkg/api"
	"github.com/ZentaChain/chatguard/pkg/config"
	"github.com/ZentaChain/chatguard/pkg/guard"
	"github.com/ZentaChain/chatguard/pkg/network"
	"github.com/ZentaChain/chatguard/pkg/storage"
)

const cleanupInterval = time.Hour

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	localID    = flag.String("id", "", "Local peer id (overrides config)")
	apiPort    = flag.Int("api-port", 0, "HTTP API port (overrides config)")
	noP2P      = flag.Bool("no-p2p", false, "Disable the libp2p transport")
	enableDHT  = flag.Bool("dht", false, "Enable DHT peer routing")
	rateLimit  = flag.Int("rate-limit", 600, "HTTP rate limit (requests per minute)")
)

func main() {
	flag.Parse()

	printBanner()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *localID != "" {
		cfg.LocalID = *localID
	}
	if *apiPort != 0 {
		cfg.API.Port = *apiPort
	}
	if *noP2P {
		cfg.P2P.Enabled = false
	}
	if *enableDHT {
		cfg.P2P.EnableDHT = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if !cfg.Enabled {
		log.Println("⚠️  chatguard is disabled; packets will not be processed")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	if cfg.DBPassword == "" {
		log.Printf("⚠️  No database password set; private key is sealed with an empty passphrase (set %s)", config.EnvDBPassword)
	}

	db, err := storage.Open(cfg.DBPath(), cfg.DBPassword)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	log.Printf("💾 Database opened at %s", cfg.DBPath())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := guard.New(cfg, db, db, guard.WithMetrics(guard.NewMetrics(reg)))
	if cfg.LocalID != "" && cfg.Enabled {
		id, err := engine.Register(ctx, cfg.LocalID)
		if err != nil {
			log.Fatalf("Failed to register identity: %v", err)
		}
		fp, _ := id.Fingerprint()
		log.Printf("✓ Identity %s ready (fingerprint %s)", id.ID, fp)
	} else {
		log.Println("⏳ No local id configured; waiting for POST /api/v1/identity")
	}

	go db.RunCleanup(ctx, cleanupInterval)

	opts := []api.Option{api.WithOutbox(db)}
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithGatherer(reg))
	}

	var transport *network.Transport
	if cfg.P2P.Enabled {
		key, err := network.LoadOrCreateKey(filepath.Join(cfg.DataDir, "node.key"))
		if err != nil {
			log.Fatalf("Failed to load node key: %v", err)
		}

		handler := func(ctx context.Context, from peer.ID, packet string) (string, error) {
			res, err := engine.Handle(ctx, packet)
			if err != nil {
				return "", err
			}
			if len(res.Plaintext) > 0 {
				log.Printf("📨 Message from %s decrypted (%d bytes)", from, len(res.Plaintext))
			}
			return res.Reply, nil
		}

		transport, err = network.New(ctx, network.Config{
			ListenAddrs: cfg.P2P.Listen,
			Peers:       cfg.P2P.Peers,
			EnableDHT:   cfg.P2P.EnableDHT,
			PrivateKey:  key,
			OutboxTTL:   cfg.OutboxTTL,
		}, handler, db)
		if err != nil {
			log.Fatalf("Failed to start transport: %v", err)
		}
		for _, addr := range transport.Addrs() {
			log.Printf("   %s", addr)
		}
		opts = append(opts, api.WithTransport(transport))
	} else {
		log.Println("⚠️  P2P transport disabled")
	}

	apiConfig := api.DefaultConfig()
	apiConfig.Port = cfg.API.Port
	apiConfig.EnableCORS = cfg.API.EnableCORS
	apiConfig.RateLimit = *rateLimit

	server := api.NewServer(engine, apiConfig, opts...)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	printStatus(cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			log.Printf("API server error: %v", err)
		}
	}

	fmt.Println("\n🛑 Shutting down...")
	cancel()

	if transport != nil {
		if err := transport.Close(); err != nil {
			log.Printf("Error closing transport: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}

	fmt.Println("👋 Goodbye!")
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║               chatguard node v1.0                ║")
	fmt.Println("║     End-to-end encryption for any chat thread    ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func printStatus(cfg config.Config) {
	fmt.Println()
	fmt.Println("✅ Node is ready!")
	fmt.Println()
	fmt.Println("API Endpoints:")
	fmt.Printf("  POST   http://localhost:%d/api/v1/identity\n", cfg.API.Port)
	fmt.Printf("  GET    http://localhost:%d/api/v1/handshake\n", cfg.API.Port)
	fmt.Printf("  POST   http://localhost:%d/api/v1/packets\n", cfg.API.Port)
	fmt.Printf("  POST   http://localhost:%d/api/v1/messages\n", cfg.API.Port)
	fmt.Printf("  GET    http://localhost:%d/api/v1/contacts\n", cfg.API.Port)
	fmt.Printf("  GET    http://localhost:%d/health\n", cfg.API.Port)
	fmt.Println()
}
