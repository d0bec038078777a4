// indexerd runs the shielded pool's off-chain indexer: an HTTP surface,
// a webhook/poll ingest pipeline, and best-effort gossip replication.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ccoin/shieldpool/internal/accounts"
	"github.com/ccoin/shieldpool/internal/accumulator"
	"github.com/ccoin/shieldpool/internal/indexer"
	"github.com/ccoin/shieldpool/internal/relay"
	"github.com/ccoin/shieldpool/internal/verifier"
	"github.com/ccoin/shieldpool/pkg/address"
	"github.com/ccoin/shieldpool/pkg/field"
)

const version = "0.1.0"

// config holds indexerd's flag-parsed configuration.
type config struct {
	dbHost, dbUser, dbPassword, dbName string
	dbPort                             int

	httpAddr string

	treeHeight   int
	ringCap      int
	pollInterval time.Duration

	gossipListen string
	gossipPeers  string
	enableMDNS   bool

	// program/nativeMint/hotWalletSeed enable the in-process relay mode: a
	// single binary that both indexes and submits. Leaving program empty
	// keeps indexerd index-only, with deposit/withdraw returning an
	// explicit error, for deployments that run the relay as its own
	// process against the same database. With program set but
	// hotWalletSeed empty, deposits are submitted and withdrawals are
	// rejected.
	program       string
	nativeMint    uint64
	hotWalletSeed string

	logLevel string
}

func parseFlags() *config {
	cfg := &config{}
	flag.StringVar(&cfg.dbHost, "db-host", "localhost", "PostgreSQL host")
	flag.IntVar(&cfg.dbPort, "db-port", 5432, "PostgreSQL port")
	flag.StringVar(&cfg.dbUser, "db-user", "shieldpool", "PostgreSQL user")
	flag.StringVar(&cfg.dbPassword, "db-password", "", "PostgreSQL password")
	flag.StringVar(&cfg.dbName, "db-name", "shieldpool", "PostgreSQL database name")

	flag.StringVar(&cfg.httpAddr, "http-addr", "127.0.0.1:8080", "HTTP listen address")

	flag.IntVar(&cfg.treeHeight, "tree-height", accounts.DefaultConfig().TreeHeight, "accumulator tree height")
	flag.IntVar(&cfg.ringCap, "ring-capacity", accounts.DefaultConfig().RingCapacity, "root ring capacity")
	flag.DurationVar(&cfg.pollInterval, "poll-interval", 10*time.Second, "reconciliation poll interval")

	flag.StringVar(&cfg.gossipListen, "gossip-listen", "/ip4/0.0.0.0/tcp/9100", "libp2p gossip listen address")
	flag.StringVar(&cfg.gossipPeers, "gossip-peers", "", "comma-separated bootstrap peer multiaddrs")
	flag.BoolVar(&cfg.enableMDNS, "gossip-mdns", true, "enable mDNS peer discovery for gossip")

	flag.StringVar(&cfg.program, "program", "", "hex-encoded program address (enables in-process relay)")
	flag.Uint64Var(&cfg.nativeMint, "native-mint", 0, "native mint tag, as a small integer")
	flag.StringVar(&cfg.hotWalletSeed, "hot-wallet-seed", "", "hex-encoded fee-payer hot wallet seed (enables withdrawal submission)")

	flag.StringVar(&cfg.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	flag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()

	level, err := logrus.ParseLevel(cfg.logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.Infof("indexerd v%s starting", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Info("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "indexerd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config) error {
	dbCfg := &accounts.Config{
		Host:         cfg.dbHost,
		Port:         cfg.dbPort,
		User:         cfg.dbUser,
		Password:     cfg.dbPassword,
		Database:     cfg.dbName,
		SSLMode:      "disable",
		MaxConns:     20,
		TreeHeight:   cfg.treeHeight,
		RingCapacity: cfg.ringCap,
	}
	store, err := accounts.NewPostgresStore(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer store.Close()
	logrus.Info("database connected")

	index, err := indexer.NewCommitmentIndex(cfg.treeHeight, cfg.ringCap)
	if err != nil {
		return fmt.Errorf("initialize commitment index: %w", err)
	}

	var gossip *indexer.Gossip
	gossipCfg := &indexer.GossipConfig{
		ListenAddrs: []string{cfg.gossipListen},
		EnableMDNS:  cfg.enableMDNS,
	}
	if cfg.gossipPeers != "" {
		gossipCfg.BootstrapPeers = splitNonEmpty(cfg.gossipPeers)
	}
	gossip, err = indexer.NewGossip(ctx, gossipCfg)
	if err != nil {
		logrus.WithError(err).Warn("gossip disabled: failed to start libp2p host")
		gossip = nil
	} else {
		go indexer.StartGossipListener(ctx, index, gossip)
		defer gossip.Close()
	}

	source := &markerStore{store: store}
	loop := indexer.NewReconcileLoop(index, source, cfg.pollInterval, gossip)
	go loop.Run(ctx)

	submitter, err := buildSubmitter(cfg, store)
	if err != nil {
		return err
	}
	server := indexer.NewServer(index, submitter, gossip)

	httpServer := &http.Server{Addr: cfg.httpAddr, Handler: server.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logrus.Infof("indexer HTTP surface listening on %s", cfg.httpAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// buildSubmitter wires a relay.Relay against an in-process verifier.Pool
// when a program address is configured, so a single indexerd deployment can
// both index and submit. Split deployments leave --program unset and get a
// noopSubmitter, relying on a separate relay process to hit the same
// database's accounts.Store.
func buildSubmitter(cfg *config, store *accounts.PostgresStore) (indexer.Submitter, error) {
	if cfg.program == "" {
		logrus.Info("no --program configured, running index-only (deposit/withdraw disabled)")
		return noopSubmitter{}, nil
	}

	program, err := hexAddress(cfg.program)
	if err != nil {
		return nil, fmt.Errorf("parse --program: %w", err)
	}
	tree, err := accumulator.New(accumulator.NewInMemoryStore(), cfg.treeHeight, cfg.ringCap)
	if err != nil {
		return nil, fmt.Errorf("initialize accumulator: %w", err)
	}
	ledger := verifier.NewInMemoryLedger(nil)
	feeRecipient := accounts.Derive(program, []byte("fee_recipient"))
	pool := verifier.New(program, field.FromUint64(cfg.nativeMint), nil, tree, store, ledger, feeRecipient)

	var hotWalletSeed []byte
	if cfg.hotWalletSeed != "" {
		hotWalletSeed, err = hex.DecodeString(cfg.hotWalletSeed)
		if err != nil {
			return nil, fmt.Errorf("parse --hot-wallet-seed: %w", err)
		}
	} else {
		logrus.Warn("no --hot-wallet-seed configured, withdrawals will be rejected")
	}

	return relay.New(relay.Config{
		Client:        &relay.DirectPoolClient{Pool: pool},
		HotWalletSeed: hotWalletSeed,
	}), nil
}

func hexAddress(s string) (address.Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return address.Address{}, err
	}
	return address.FromBytes(b)
}

// markerStore adapts accounts.Store's commitment marker table into a
// MarkerSource, reading the same rows the verifier process writes.
type markerStore struct {
	store *accounts.PostgresStore
}

func (m *markerStore) MarkersFrom(ctx context.Context, from uint64) ([]*accounts.CommitmentMarker, error) {
	return m.store.ListCommitmentMarkersFrom(ctx, from)
}

type noopSubmitter struct{}

func (noopSubmitter) SubmitDeposit([]byte) (string, error) {
	return "", fmt.Errorf("indexerd: deposit submission requires a relay process")
}

func (noopSubmitter) SubmitWithdraw(indexer.WithdrawRequest) (string, error) {
	return "", fmt.Errorf("indexerd: withdraw submission requires a relay process")
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
