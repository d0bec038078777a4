// poolctl is the administrative command-line interface for the shielded
// pool's governance operations: initializing a pool, pausing/unpausing it,
// updating its deposit cap, and draining the fee vault.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/ccoin/shieldpool/internal/accounts"
	"github.com/ccoin/shieldpool/internal/accumulator"
	"github.com/ccoin/shieldpool/internal/verifier"
	"github.com/ccoin/shieldpool/pkg/address"
	"github.com/ccoin/shieldpool/pkg/field"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("poolctl v%s\n", version)
	case "help":
		printUsage()
	case "init":
		cmdInit(os.Args[2:])
	case "pause":
		cmdSetPaused(os.Args[2:], true)
	case "unpause":
		cmdSetPaused(os.Args[2:], false)
	case "set-cap":
		cmdSetCap(os.Args[2:])
	case "withdraw-fees":
		cmdWithdrawFees(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("poolctl - administrative CLI for the shielded pool")
	fmt.Println()
	fmt.Println("Usage: poolctl <command> [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init           Initialize a pool (authority, deposit cap)")
	fmt.Println("  pause          Pause transaction processing")
	fmt.Println("  unpause        Resume transaction processing")
	fmt.Println("  set-cap        Update the per-deposit cap")
	fmt.Println("  withdraw-fees  Drain the fee vault to a destination")
	fmt.Println("  status         Show pool configuration")
}

// poolFlags are the connection/derivation parameters every subcommand
// needs to address the right pool instance.
type poolFlags struct {
	dbHost, dbUser, dbPassword, dbName string
	dbPort                             int
	treeHeight, ringCap                int
	program                            string
	nativeMint                         uint64
	authority                          string
}

func bindPoolFlags(fs *flag.FlagSet) *poolFlags {
	pf := &poolFlags{}
	fs.StringVar(&pf.dbHost, "db-host", "localhost", "PostgreSQL host")
	fs.IntVar(&pf.dbPort, "db-port", 5432, "PostgreSQL port")
	fs.StringVar(&pf.dbUser, "db-user", "shieldpool", "PostgreSQL user")
	fs.StringVar(&pf.dbPassword, "db-password", "", "PostgreSQL password")
	fs.StringVar(&pf.dbName, "db-name", "shieldpool", "PostgreSQL database name")
	fs.IntVar(&pf.treeHeight, "tree-height", accounts.DefaultConfig().TreeHeight, "accumulator tree height")
	fs.IntVar(&pf.ringCap, "ring-capacity", accounts.DefaultConfig().RingCapacity, "root ring capacity")
	fs.StringVar(&pf.program, "program", "", "hex-encoded program address")
	fs.Uint64Var(&pf.nativeMint, "native-mint", 0, "native mint tag, as a small integer")
	fs.StringVar(&pf.authority, "authority", "", "hex-encoded authority address")
	return pf
}

func (pf *poolFlags) openPool(ctx context.Context) (*verifier.Pool, *accounts.PostgresStore, error) {
	program, err := hexAddress(pf.program)
	if err != nil {
		return nil, nil, fmt.Errorf("parse --program: %w", err)
	}
	store, err := accounts.NewPostgresStore(ctx, &accounts.Config{
		Host: pf.dbHost, Port: pf.dbPort, User: pf.dbUser, Password: pf.dbPassword,
		Database: pf.dbName, SSLMode: "disable", MaxConns: 5,
		TreeHeight: pf.treeHeight, RingCapacity: pf.ringCap,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	// poolctl never moves value itself: every subcommand here is
	// governance, not a Transact call, so an empty in-memory ledger
	// stands in for whatever the deployment's real value-transfer backend
	// is. WithdrawFees is the one exception and needs a live ledger to be
	// meaningful; operators running it against production wire a real
	// Ledger implementation into this same Pool construction.
	ledger := verifier.NewInMemoryLedger(nil)
	feeRecipient := accounts.Derive(program, []byte("fee_recipient"))
	// poolctl addresses the same tree account row the verifier process
	// writes; the in-memory accumulator.Store here only mirrors the shape
	// the Pool constructor needs and is never consulted for governance
	// operations, which go through accounts.Store directly.
	tree, err := accumulator.New(accumulator.NewInMemoryStore(), pf.treeHeight, pf.ringCap)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	pool := verifier.New(program, field.FromUint64(pf.nativeMint), nil, tree, store, ledger, feeRecipient)
	return pool, store, nil
}

func hexAddress(s string) (address.Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return address.Address{}, err
	}
	return address.FromBytes(b)
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	pf := bindPoolFlags(fs)
	var depositCap uint64
	fs.Uint64Var(&depositCap, "deposit-cap", 0, "per-deposit cap")
	fs.Parse(args)

	ctx := context.Background()
	pool, store, err := pf.openPool(ctx)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	authority, err := hexAddress(pf.authority)
	if err != nil {
		fatal(fmt.Errorf("parse --authority: %w", err))
	}
	if err := pool.Initialize(ctx, authority, depositCap); err != nil {
		fatal(err)
	}
	fmt.Println("pool initialized")
}

func cmdSetPaused(args []string, paused bool) {
	fs := flag.NewFlagSet("pause", flag.ExitOnError)
	pf := bindPoolFlags(fs)
	fs.Parse(args)

	ctx := context.Background()
	pool, store, err := pf.openPool(ctx)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	authority, err := hexAddress(pf.authority)
	if err != nil {
		fatal(fmt.Errorf("parse --authority: %w", err))
	}
	if err := pool.SetPaused(ctx, authority, paused); err != nil {
		fatal(err)
	}
	fmt.Printf("pool paused=%v\n", paused)
}

func cmdSetCap(args []string) {
	fs := flag.NewFlagSet("set-cap", flag.ExitOnError)
	pf := bindPoolFlags(fs)
	var newCap uint64
	fs.Uint64Var(&newCap, "deposit-cap", 0, "new per-deposit cap")
	fs.Parse(args)

	ctx := context.Background()
	pool, store, err := pf.openPool(ctx)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	authority, err := hexAddress(pf.authority)
	if err != nil {
		fatal(fmt.Errorf("parse --authority: %w", err))
	}
	if err := pool.UpdateCap(ctx, authority, newCap); err != nil {
		fatal(err)
	}
	fmt.Printf("deposit cap updated to %d\n", newCap)
}

func cmdWithdrawFees(args []string) {
	fs := flag.NewFlagSet("withdraw-fees", flag.ExitOnError)
	pf := bindPoolFlags(fs)
	var destination string
	var amount, rentExempt uint64
	fs.StringVar(&destination, "destination", "", "hex-encoded destination address")
	fs.Uint64Var(&amount, "amount", 0, "amount to withdraw")
	fs.Uint64Var(&rentExempt, "rent-exempt-minimum", 0, "minimum balance the fee vault must retain")
	fs.Parse(args)

	ctx := context.Background()
	pool, store, err := pf.openPool(ctx)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	authority, err := hexAddress(pf.authority)
	if err != nil {
		fatal(fmt.Errorf("parse --authority: %w", err))
	}
	dest, err := hexAddress(destination)
	if err != nil {
		fatal(fmt.Errorf("parse --destination: %w", err))
	}
	if err := pool.WithdrawFees(ctx, authority, dest, amount, rentExempt); err != nil {
		fatal(err)
	}
	fmt.Printf("withdrew %d to %s\n", amount, destination)
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	pf := bindPoolFlags(fs)
	fs.Parse(args)

	ctx := context.Background()
	pool, store, err := pf.openPool(ctx)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	fmt.Println("Pool:")
	fmt.Printf("  program:       %s\n", pool.Program())
	fmt.Printf("  tree account:  %s\n", pool.TreeAddress())
	fmt.Printf("  tree vault:    %s\n", pool.TreeVaultAddress())
	fmt.Printf("  config:        %s\n", pool.GlobalConfigAddress())
	fmt.Printf("  fee recipient: %s\n", pool.FeeRecipientAddress())
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "poolctl: %v\n", err)
	os.Exit(1)
}
