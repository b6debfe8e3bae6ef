package colmena

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteStoreConfig configures the SQLite snapshot store.
type SQLiteStoreConfig struct {
	// Path to the SQLite database file
	Path string

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA)
	Synchronous string

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int

	// MaxConnections is the max number of database connections
	MaxConnections int
}

// DefaultSQLiteStoreConfig returns default configuration.
func DefaultSQLiteStoreConfig() SQLiteStoreConfig {
	return SQLiteStoreConfig{
		Path:           "colmena.db",
		JournalMode:    "WAL",
		Synchronous:    "NORMAL",
		BusyTimeout:    5000,
		MaxConnections: 10,
	}
}

// SQLiteStore is a durable SnapshotStore backed by SQLite. Besides
// model snapshots it persists contribution records, metrics
// submissions, and audit entries so a restarted pool resumes where it
// left off. Parameter and metric payloads are stored as
// snappy-compressed JSON blobs.
type SQLiteStore struct {
	db     *sql.DB
	config SQLiteStoreConfig
	mu     sync.RWMutex
	closed bool

	// Prepared statements for the hot paths
	putSnapshot  *sql.Stmt
	getSnapshot  *sql.Stmt
	insertRecord *sql.Stmt
	insertAudit  *sql.Stmt
}

// NewSQLiteStore opens (or creates) the database and initializes the
// schema.
func NewSQLiteStore(config SQLiteStoreConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		config.Path = "colmena.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}
	if config.MaxConnections <= 0 {
		config.MaxConnections = 10
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_synchronous=%s&_busy_timeout=%d",
		config.Path, config.JournalMode, config.Synchronous, config.BusyTimeout)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetMaxIdleConns(config.MaxConnections / 2)

	store := &SQLiteStore{
		db:     db,
		config: config,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		model_type TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contributions (
		id TEXT PRIMARY KEY,
		model_type TEXT NOT NULL,
		segment_prefix TEXT NOT NULL,
		payload BLOB NOT NULL,
		sample_count INTEGER NOT NULL,
		received_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contributions_type ON contributions(model_type);
	CREATE INDEX IF NOT EXISTS idx_contributions_received ON contributions(received_at);

	CREATE TABLE IF NOT EXISTS metrics_submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		segment_prefix TEXT NOT NULL,
		payload BLOB NOT NULL,
		received_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event TEXT NOT NULL,
		model_type TEXT NOT NULL,
		detail TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.putSnapshot, err = s.db.Prepare(`
		INSERT INTO snapshots (model_type, payload, version, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(model_type) DO UPDATE SET
			payload = excluded.payload,
			version = excluded.version,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}

	s.getSnapshot, err = s.db.Prepare(`SELECT payload FROM snapshots WHERE model_type = ?`)
	if err != nil {
		return err
	}

	s.insertRecord, err = s.db.Prepare(`
		INSERT OR REPLACE INTO contributions (id, model_type, segment_prefix, payload, sample_count, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	s.insertAudit, err = s.db.Prepare(`
		INSERT INTO audit_log (event, model_type, detail, created_at)
		VALUES (?, ?, ?, ?)`)
	return err
}

// encodeBlob marshals a value to snappy-compressed JSON.
func encodeBlob(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

// decodeBlob reverses encodeBlob.
func decodeBlob(blob []byte, v any) error {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Put implements SnapshotStore.
func (s *SQLiteStore) Put(model *AggregatedModel) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	blob, err := encodeBlob(model)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	_, err = s.putSnapshot.Exec(string(model.ModelType), blob, model.Version, time.Now().Unix())
	return err
}

// Get implements SnapshotStore.
func (s *SQLiteStore) Get(typ ModelType) (*AggregatedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var blob []byte
	err := s.getSnapshot.QueryRow(string(typ)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var model AggregatedModel
	if err := decodeBlob(blob, &model); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &model, nil
}

// List implements SnapshotStore.
func (s *SQLiteStore) List() ([]*AggregatedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`SELECT payload FROM snapshots ORDER BY model_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AggregatedModel
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		var model AggregatedModel
		if err := decodeBlob(blob, &model); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot: %w", err)
		}
		out = append(out, &model)
	}
	return out, rows.Err()
}

// sqliteRecord is the persisted form of a ContributionRecord. The
// parameter map is serialized here deliberately: it lives only inside
// the compressed blob, never in a queryable column.
type sqliteRecord struct {
	Parameters        ParamMap           `json:"parameters"`
	ValidationMetrics map[string]float64 `json:"validation_metrics"`
}

// SaveContribution persists a validated contribution record.
func (s *SQLiteStore) SaveContribution(rec *ContributionRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	blob, err := encodeBlob(sqliteRecord{
		Parameters:        rec.Parameters,
		ValidationMetrics: rec.ValidationMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to encode contribution: %w", err)
	}

	_, err = s.insertRecord.Exec(rec.ID, string(rec.ModelType), rec.SegmentHashPrefix,
		blob, rec.SampleCount, rec.ReceivedAt.Unix())
	return err
}

// LoadContributions returns all persisted contribution records, oldest
// first. Used to rebuild the in-memory pools at startup.
func (s *SQLiteStore) LoadContributions() ([]*ContributionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`
		SELECT id, model_type, segment_prefix, payload, sample_count, received_at
		FROM contributions ORDER BY received_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ContributionRecord
	for rows.Next() {
		var (
			rec        ContributionRecord
			typ        string
			blob       []byte
			receivedAt int64
		)
		if err := rows.Scan(&rec.ID, &typ, &rec.SegmentHashPrefix, &blob, &rec.SampleCount, &receivedAt); err != nil {
			return nil, err
		}

		var payload sqliteRecord
		if err := decodeBlob(blob, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode contribution %s: %w", rec.ID, err)
		}

		rec.ModelType = ModelType(typ)
		rec.Parameters = payload.Parameters
		rec.ValidationMetrics = payload.ValidationMetrics
		rec.ReceivedAt = time.Unix(receivedAt, 0)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PurgeContributions deletes persisted records older than the cutoff
// and returns how many were removed.
func (s *SQLiteStore) PurgeContributions(cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}

	res, err := s.db.Exec(`DELETE FROM contributions WHERE received_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteContributions drops all persisted records for a model type.
func (s *SQLiteStore) DeleteContributions(typ ModelType) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.Exec(`DELETE FROM contributions WHERE model_type = ?`, string(typ))
	return err
}

// SaveMetrics persists an accepted metrics submission.
func (s *SQLiteStore) SaveMetrics(m *MetricsContribution) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	blob, err := encodeBlob(m)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO metrics_submissions (segment_prefix, payload, received_at) VALUES (?, ?, ?)`,
		hashPrefix(m.SegmentHash), blob, time.Now().Unix())
	return err
}

// SaveAudit appends an audit entry.
func (s *SQLiteStore) SaveAudit(entry AuditEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.insertAudit.Exec(entry.Event, string(entry.ModelType), entry.Detail, entry.Timestamp.Unix())
	return err
}

// Close implements SnapshotStore.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	for _, stmt := range []*sql.Stmt{s.putSnapshot, s.getSnapshot, s.insertRecord, s.insertAudit} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
