package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ccoin/shieldpool/pkg/address"
)

// Store errors, named consistently with the verifier's own error taxonomy
// where they overlap.
var (
	ErrNotFound      = errors.New("accounts: not found")
	ErrAlreadyExists = errors.New("accounts: already exists")
	ErrDBConnection  = errors.New("accounts: database connection error")
)

// Store persists the pool's on-ledger accounts. Marker creation is
// all-or-nothing: CreateCommitmentMarker and CreateNullifierMarker must
// fail with ErrAlreadyExists rather than silently succeed a second time,
// because nullifier replay rejection depends on that atomicity.
type Store interface {
	LoadTreeAccount(ctx context.Context, addr address.Address) (*TreeAccount, error)
	SaveTreeAccount(ctx context.Context, addr address.Address, t *TreeAccount) error

	LoadGlobalConfig(ctx context.Context, addr address.Address) (*GlobalConfig, error)
	SaveGlobalConfig(ctx context.Context, addr address.Address, c *GlobalConfig) error

	CreateCommitmentMarker(ctx context.Context, addr address.Address, m *CommitmentMarker) error
	CreateNullifierMarker(ctx context.Context, addr address.Address, m *NullifierMarker) error
	HasNullifierMarker(ctx context.Context, addr address.Address) (bool, error)

	// ListCommitmentMarkersFrom returns commitment markers with Index >= from,
	// ordered by Index ascending. The indexer's reconciliation pass uses this
	// to catch up incrementally rather than rescan the whole table.
	ListCommitmentMarkersFrom(ctx context.Context, from uint64) ([]*CommitmentMarker, error)
}

// Config holds PostgreSQL connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32

	// TreeHeight and RingCapacity are needed to decode the fixed-size tree
	// account layout back into typed fields; they must match the values
	// the pool was initialized with.
	TreeHeight   int
	RingCapacity int
}

// DefaultConfig returns sane local-development defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:         "localhost",
		Port:         5432,
		User:         "shieldpool",
		Password:     "",
		Database:     "shieldpool",
		SSLMode:      "disable",
		MaxConns:     20,
		TreeHeight:   26,
		RingCapacity: 100,
	}
}

// PostgresStore is the persistent account store backing one pool instance.
type PostgresStore struct {
	pool   *pgxpool.Pool
	height int
	ring   int
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, cfg *Config) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns,
	)
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	return &PostgresStore{pool: pool, height: cfg.TreeHeight, ring: cfg.RingCapacity}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Schema is the DDL this store expects to already be applied.
const Schema = `
CREATE TABLE IF NOT EXISTS tree_accounts (
	address BYTEA PRIMARY KEY,
	data BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS global_configs (
	address BYTEA PRIMARY KEY,
	data BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS commitment_markers (
	address BYTEA PRIMARY KEY,
	idx BIGINT NOT NULL,
	data BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS commitment_markers_idx_idx ON commitment_markers (idx);

CREATE TABLE IF NOT EXISTS nullifier_markers (
	address BYTEA PRIMARY KEY,
	data BYTEA NOT NULL
);
`

func (s *PostgresStore) LoadTreeAccount(ctx context.Context, addr address.Address) (*TreeAccount, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM tree_accounts WHERE address = $1`, addr[:]).Scan(&data)
	if err != nil {
		return nil, translateNoRows(err)
	}
	return DecodeTreeAccount(data, s.height, s.ring)
}

func (s *PostgresStore) SaveTreeAccount(ctx context.Context, addr address.Address, t *TreeAccount) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tree_accounts (address, data) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET data = EXCLUDED.data
	`, addr[:], t.Encode())
	return err
}

func (s *PostgresStore) LoadGlobalConfig(ctx context.Context, addr address.Address) (*GlobalConfig, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM global_configs WHERE address = $1`, addr[:]).Scan(&data)
	if err != nil {
		return nil, translateNoRows(err)
	}
	return DecodeGlobalConfig(data)
}

func (s *PostgresStore) SaveGlobalConfig(ctx context.Context, addr address.Address, c *GlobalConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO global_configs (address, data) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET data = EXCLUDED.data
	`, addr[:], c.Encode())
	return err
}

// CreateCommitmentMarker inserts a commitment marker, failing with
// ErrAlreadyExists on conflict.
func (s *PostgresStore) CreateCommitmentMarker(ctx context.Context, addr address.Address, m *CommitmentMarker) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO commitment_markers (address, idx, data) VALUES ($1, $2, $3)
		ON CONFLICT (address) DO NOTHING
	`, addr[:], int64(m.Index), m.Encode())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// ListCommitmentMarkersFrom queries commitment_markers by its indexed idx
// column rather than decoding every row, so reconciliation stays cheap as
// the table grows.
func (s *PostgresStore) ListCommitmentMarkersFrom(ctx context.Context, from uint64) ([]*CommitmentMarker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT data FROM commitment_markers WHERE idx >= $1 ORDER BY idx ASC
	`, int64(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CommitmentMarker
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		m, err := DecodeCommitmentMarker(data)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateNullifierMarker inserts a nullifier marker, failing atomically with
// ErrAlreadyExists on conflict. This is the single mechanism the verifier
// relies on to reject a replayed spend: there is no separate read before
// the write.
func (s *PostgresStore) CreateNullifierMarker(ctx context.Context, addr address.Address, m *NullifierMarker) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO nullifier_markers (address, data) VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING
	`, addr[:], m.Encode())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) HasNullifierMarker(ctx context.Context, addr address.Address) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM nullifier_markers WHERE address = $1)`, addr[:]).Scan(&exists)
	return exists, err
}

func translateNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// MemoryStore is an in-process Store used by tests and local development.
type MemoryStore struct {
	mu         sync.RWMutex
	trees      map[address.Address]*TreeAccount
	configs    map[address.Address]*GlobalConfig
	commitment map[address.Address]*CommitmentMarker
	nullifier  map[address.Address]*NullifierMarker
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trees:      make(map[address.Address]*TreeAccount),
		configs:    make(map[address.Address]*GlobalConfig),
		commitment: make(map[address.Address]*CommitmentMarker),
		nullifier:  make(map[address.Address]*NullifierMarker),
	}
}

func (s *MemoryStore) LoadTreeAccount(_ context.Context, addr address.Address) (*TreeAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[addr]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) SaveTreeAccount(_ context.Context, addr address.Address, t *TreeAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.trees[addr] = &cp
	return nil
}

func (s *MemoryStore) LoadGlobalConfig(_ context.Context, addr address.Address) (*GlobalConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.configs[addr]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) SaveGlobalConfig(_ context.Context, addr address.Address, c *GlobalConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.configs[addr] = &cp
	return nil
}

func (s *MemoryStore) CreateCommitmentMarker(_ context.Context, addr address.Address, m *CommitmentMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.commitment[addr]; exists {
		return ErrAlreadyExists
	}
	s.commitment[addr] = m
	return nil
}

func (s *MemoryStore) CreateNullifierMarker(_ context.Context, addr address.Address, m *NullifierMarker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nullifier[addr]; exists {
		return ErrAlreadyExists
	}
	s.nullifier[addr] = m
	return nil
}

func (s *MemoryStore) HasNullifierMarker(_ context.Context, addr address.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nullifier[addr]
	return ok, nil
}

func (s *MemoryStore) ListCommitmentMarkersFrom(_ context.Context, from uint64) ([]*CommitmentMarker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CommitmentMarker, 0)
	for _, m := range s.commitment {
		if m.Index >= from {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}
