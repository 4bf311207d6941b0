package providers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/systmms/secretstage/pkg/store"
)

// SQLStoreName identifies the store in errors and logs.
const SQLStoreName = "sql"

// DefaultSQLTablePrefix names the tables when no prefix is configured.
const DefaultSQLTablePrefix = "secretstage"

var tablePrefixPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sqlDrivers maps configured driver names to registered database/sql drivers.
var sqlDrivers = map[string]string{
	"postgresql": "postgres",
	"postgres":   "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

// SQLStoreConfig holds database store configuration
type SQLStoreConfig struct {
	Driver      string
	DSN         string
	TablePrefix string
	AutoMigrate bool
	Timeout     time.Duration
}

// SQLStore implements store.Client on a relational database. It keeps three
// tables: <prefix>_secrets, <prefix>_versions and <prefix>_stages, and
// follows the same staging rules as store.Memory: writes move
// store.CurrentLabel to the new version and a label sits on at most one
// version of a secret.
type SQLStore struct {
	db      *sql.DB
	driver  string
	timeout time.Duration
	now     func() time.Time

	secretsTable  string
	versionsTable string
	stagesTable   string
}

// SQLStoreOption is a functional option for configuring the SQL store
type SQLStoreOption func(*SQLStore)

// WithSQLDB sets an open database handle (for testing)
func WithSQLDB(db *sql.DB) SQLStoreOption {
	return func(s *SQLStore) {
		s.db = db
	}
}

// NewSQLStore opens the database and, when AutoMigrate is set, creates the
// tables.
func NewSQLStore(ctx context.Context, cfg SQLStoreConfig, opts ...SQLStoreOption) (*SQLStore, error) {
	driver, ok := sqlDrivers[strings.ToLower(cfg.Driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %q (use postgres or mysql)", cfg.Driver)
	}

	prefix := cfg.TablePrefix
	if prefix == "" {
		prefix = DefaultSQLTablePrefix
	}
	if !tablePrefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q: use letters, digits and underscores", prefix)
	}

	s := &SQLStore{
		driver:        driver,
		timeout:       cfg.Timeout,
		now:           time.Now,
		secretsTable:  prefix + "_secrets",
		versionsTable: prefix + "_versions",
		stagesTable:   prefix + "_stages",
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.db == nil {
		db, err := openSQL(ctx, driver, cfg.DSN, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		s.db = db
	}

	if cfg.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.db.Close()
			return nil, err
		}
	}

	return s, nil
}

func openSQL(ctx context.Context, driver, dsn string, timeout time.Duration) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn is required for the sql store")
	}

	dsn, err := normalizeDSN(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid dsn: %w", err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	pingCtx, cancel := withCallTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// normalizeDSN turns postgres URLs into key=value form and makes the MySQL
// driver parse timestamps.
func normalizeDSN(driver, dsn string) (string, error) {
	switch driver {
	case "postgres":
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			return pq.ParseURL(dsn)
		}
		return dsn, nil
	case "mysql":
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", err
		}
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	default:
		return dsn, nil
	}
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the store tables when they do not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	store_key VARCHAR(512) NOT NULL PRIMARY KEY,
	description TEXT,
	created_at TIMESTAMP NOT NULL
)`, s.secretsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	store_key VARCHAR(512) NOT NULL,
	version_id VARCHAR(64) NOT NULL,
	seq BIGINT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (store_key, version_id)
)`, s.versionsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	store_key VARCHAR(512) NOT NULL,
	label VARCHAR(255) NOT NULL,
	version_id VARCHAR(64) NOT NULL,
	PRIMARY KEY (store_key, label)
)`, s.stagesTable),
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// ListVersions implements store.Client.
func (s *SQLStore) ListVersions(ctx context.Context, storeKey string) ([]store.Version, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.bind(fmt.Sprintf(
		"SELECT version_id, created_at FROM %s WHERE store_key = ? ORDER BY seq", s.versionsTable)), storeKey)
	if err != nil {
		return nil, s.handleError(err, storeKey)
	}
	defer func() { _ = rows.Close() }()

	var versions []store.Version
	for rows.Next() {
		var v store.Version
		if err := rows.Scan(&v.VersionID, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, s.handleError(err, storeKey)
	}
	if len(versions) == 0 {
		return nil, &store.NotFoundError{Store: SQLStoreName, StoreKey: storeKey}
	}

	labels, err := s.labels(ctx, []string{storeKey})
	if err != nil {
		return nil, err
	}
	for i := range versions {
		versions[i].StageLabels = labels[stageKey{storeKey, versions[i].VersionID}]
	}
	return versions, nil
}

// CreateSecret implements store.Client.
func (s *SQLStore) CreateSecret(ctx context.Context, storeKey, payload, description string) (store.WriteResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()
	versionID := uuid.NewString()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.bind(fmt.Sprintf(
			"INSERT INTO %s (store_key, description, created_at) VALUES (?, ?, ?)", s.secretsTable)),
			storeKey, description, now); err != nil {
			if isUniqueViolation(err) {
				return &store.ExistsError{Store: SQLStoreName, StoreKey: storeKey}
			}
			return err
		}
		if err := s.insertVersion(ctx, tx, storeKey, versionID, 1, payload, now); err != nil {
			return err
		}
		return s.insertStage(ctx, tx, storeKey, store.CurrentLabel, versionID)
	})
	if err != nil {
		return store.WriteResult{}, s.handleError(err, storeKey)
	}
	return store.WriteResult{VersionID: versionID}, nil
}

// PutSecretValue implements store.Client. The secret row is locked for the
// length of the write so concurrent puts number their versions in order.
func (s *SQLStore) PutSecretValue(ctx context.Context, storeKey, payload string) (store.WriteResult, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now().UTC()
	versionID := uuid.NewString()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, s.bind(fmt.Sprintf(
			"SELECT store_key FROM %s WHERE store_key = ? FOR UPDATE", s.secretsTable)), storeKey).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return &store.NotFoundError{Store: SQLStoreName, StoreKey: storeKey}
		}
		if err != nil {
			return err
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, s.bind(fmt.Sprintf(
			"SELECT COALESCE(MAX(seq), 0) FROM %s WHERE store_key = ?", s.versionsTable)), storeKey).Scan(&seq); err != nil {
			return err
		}
		if err := s.insertVersion(ctx, tx, storeKey, versionID, seq+1, payload, now); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, s.bind(fmt.Sprintf(
			"DELETE FROM %s WHERE store_key = ? AND label = ?", s.stagesTable)),
			storeKey, store.PreviousLabel); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.bind(fmt.Sprintf(
			"UPDATE %s SET label = ? WHERE store_key = ? AND label = ?", s.stagesTable)),
			store.PreviousLabel, storeKey, store.CurrentLabel); err != nil {
			return err
		}
		return s.insertStage(ctx, tx, storeKey, store.CurrentLabel, versionID)
	})
	if err != nil {
		return store.WriteResult{}, s.handleError(err, storeKey)
	}
	return store.WriteResult{VersionID: versionID}, nil
}

// UpdateVersionStage implements store.Client. The label is detached from any
// other version of the secret.
func (s *SQLStore) UpdateVersionStage(ctx context.Context, storeKey, versionID, label string) error {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var seq int64
		err := tx.QueryRowContext(ctx, s.bind(fmt.Sprintf(
			"SELECT seq FROM %s WHERE store_key = ? AND version_id = ?", s.versionsTable)),
			storeKey, versionID).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return &store.NotFoundError{Store: SQLStoreName, StoreKey: storeKey, Label: label}
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, s.bind(fmt.Sprintf(
			"DELETE FROM %s WHERE store_key = ? AND label = ?", s.stagesTable)),
			storeKey, label); err != nil {
			return err
		}
		return s.insertStage(ctx, tx, storeKey, label, versionID)
	})
	return s.handleError(err, storeKey)
}

// BatchGetCurrent implements store.Client with one query for the values and
// one for their labels.
func (s *SQLStore) BatchGetCurrent(ctx context.Context, storeKeys []string) (store.BatchResult, error) {
	if len(storeKeys) == 0 {
		return store.BatchResult{}, nil
	}

	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	args := make([]any, 0, len(storeKeys)+1)
	args = append(args, store.CurrentLabel)
	for _, key := range storeKeys {
		args = append(args, key)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(fmt.Sprintf(
		"SELECT v.store_key, v.version_id, v.payload FROM %s v JOIN %s s ON s.store_key = v.store_key AND s.version_id = v.version_id WHERE s.label = ? AND v.store_key IN (%s)",
		s.versionsTable, s.stagesTable, placeholders(len(storeKeys)))), args...)
	if err != nil {
		return store.BatchResult{}, fmt.Errorf("SQL store batch read failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	current := make(map[string]store.Value, len(storeKeys))
	for rows.Next() {
		var v store.Value
		if err := rows.Scan(&v.StoreKey, &v.VersionID, &v.Payload); err != nil {
			return store.BatchResult{}, fmt.Errorf("failed to scan value: %w", err)
		}
		current[v.StoreKey] = v
	}
	if err := rows.Err(); err != nil {
		return store.BatchResult{}, fmt.Errorf("SQL store batch read failed: %w", err)
	}

	labels, err := s.labels(ctx, storeKeys)
	if err != nil {
		return store.BatchResult{}, err
	}

	var out store.BatchResult
	for _, key := range storeKeys {
		v, ok := current[key]
		if !ok {
			out.Errors = append(out.Errors, store.ItemError{
				StoreKey: key,
				Code:     store.ErrCodeNotFound,
				Message:  "secret not found",
			})
			continue
		}
		v.StageLabels = labels[stageKey{key, v.VersionID}]
		out.Values = append(out.Values, v)
	}
	return out, nil
}

// GetAtStage implements store.Client.
func (s *SQLStore) GetAtStage(ctx context.Context, storeKey, label string) (store.Value, error) {
	ctx, cancel := withCallTimeout(ctx, s.timeout)
	defer cancel()

	v := store.Value{StoreKey: storeKey}
	err := s.db.QueryRowContext(ctx, s.bind(fmt.Sprintf(
		"SELECT v.version_id, v.payload FROM %s v JOIN %s s ON s.store_key = v.store_key AND s.version_id = v.version_id WHERE v.store_key = ? AND s.label = ?",
		s.versionsTable, s.stagesTable)), storeKey, label).Scan(&v.VersionID, &v.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Value{}, &store.NotFoundError{Store: SQLStoreName, StoreKey: storeKey, Label: label}
	}
	if err != nil {
		return store.Value{}, s.handleError(err, storeKey)
	}

	labels, err := s.labels(ctx, []string{storeKey})
	if err != nil {
		return store.Value{}, err
	}
	v.StageLabels = labels[stageKey{storeKey, v.VersionID}]
	return v, nil
}

type stageKey struct {
	storeKey  string
	versionID string
}

// labels loads the stage labels of every version of the given secrets,
// sorted by label.
func (s *SQLStore) labels(ctx context.Context, storeKeys []string) (map[stageKey][]string, error) {
	args := make([]any, len(storeKeys))
	for i, key := range storeKeys {
		args[i] = key
	}

	rows, err := s.db.QueryContext(ctx, s.bind(fmt.Sprintf(
		"SELECT store_key, version_id, label FROM %s WHERE store_key IN (%s) ORDER BY label",
		s.stagesTable, placeholders(len(storeKeys)))), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read stage labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[stageKey][]string)
	for rows.Next() {
		var k stageKey
		var label string
		if err := rows.Scan(&k.storeKey, &k.versionID, &label); err != nil {
			return nil, fmt.Errorf("failed to scan stage label: %w", err)
		}
		out[k] = append(out[k], label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stage labels: %w", err)
	}
	return out, nil
}

func (s *SQLStore) insertVersion(ctx context.Context, tx *sql.Tx, storeKey, versionID string, seq int64, payload string, now time.Time) error {
	_, err := tx.ExecContext(ctx, s.bind(fmt.Sprintf(
		"INSERT INTO %s (store_key, version_id, seq, payload, created_at) VALUES (?, ?, ?, ?, ?)", s.versionsTable)),
		storeKey, versionID, seq, payload, now)
	return err
}

func (s *SQLStore) insertStage(ctx context.Context, tx *sql.Tx, storeKey, label, versionID string) error {
	_, err := tx.ExecContext(ctx, s.bind(fmt.Sprintf(
		"INSERT INTO %s (store_key, label, version_id) VALUES (?, ?, ?)", s.stagesTable)),
		storeKey, label, versionID)
	return err
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// bind rewrites ? placeholders into the driver's style.
func (s *SQLStore) bind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// handleError passes store errors through and wraps everything else.
func (s *SQLStore) handleError(err error, storeKey string) error {
	if err == nil {
		return nil
	}
	var notFound *store.NotFoundError
	var exists *store.ExistsError
	if errors.As(err, &notFound) || errors.As(err, &exists) {
		return err
	}
	return fmt.Errorf("SQL store error for %s: %w", storeKey, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

var _ store.Client = (*SQLStore)(nil)
