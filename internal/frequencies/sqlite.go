package frequencies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hla-match-prediction/internal/domain"
)

// SQLiteStore implements Store on a local SQLite file
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore opens or creates a SQLite frequency store.
// The schema is created if it does not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS haplotype_frequency_sets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		registry_code TEXT NOT NULL DEFAULT '',
		ethnicity_code TEXT NOT NULL DEFAULT '',
		population_id INTEGER NOT NULL DEFAULT 0,
		hla_nomenclature_version TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_frequency_sets_selection
		ON haplotype_frequency_sets(registry_code, ethnicity_code, active);

	CREATE TABLE IF NOT EXISTS haplotype_frequencies (
		set_id INTEGER NOT NULL REFERENCES haplotype_frequency_sets(id) ON DELETE CASCADE,
		a TEXT NOT NULL,
		b TEXT NOT NULL,
		c TEXT NOT NULL,
		dqb1 TEXT NOT NULL,
		drb1 TEXT NOT NULL,
		frequency REAL NOT NULL,
		PRIMARY KEY (set_id, a, b, c, dqb1, drb1)
	);
	`

	_, err := db.Exec(schema)
	return err
}

const sqliteSetColumns = `id, name, registry_code, ethnicity_code, population_id,
	hla_nomenclature_version, active, created_at`

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSet(s scanner) (*domain.HaplotypeFrequencySet, error) {
	set := &domain.HaplotypeFrequencySet{}
	err := s.Scan(
		&set.ID, &set.Name, &set.RegistryCode, &set.EthnicityCode, &set.PopulationID,
		&set.HlaNomenclatureVersion, &set.Active, &set.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// SelectActiveSet implements domain.HaplotypeFrequencyRepository
func (s *SQLiteStore) SelectActiveSet(ctx context.Context, registryCode, ethnicityCode string) (*domain.HaplotypeFrequencySet, error) {
	return selectActiveSet(ctx, registryCode, ethnicityCode, s.findActive)
}

func (s *SQLiteStore) findActive(ctx context.Context, selector domain.FrequencySetSelector) (*domain.HaplotypeFrequencySet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteSetColumns+`
		FROM haplotype_frequency_sets
		WHERE registry_code = ? AND ethnicity_code = ? AND active = 1
		ORDER BY id DESC
		LIMIT 1
	`, selector.RegistryCode, selector.EthnicityCode)

	set, err := scanSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return set, nil
}

func (s *SQLiteStore) getSet(ctx context.Context, setID int64) (*domain.HaplotypeFrequencySet, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+sqliteSetColumns+" FROM haplotype_frequency_sets WHERE id = ?", setID)
	set, err := scanSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("frequency set %d: %w", setID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return set, nil
}

// LoadFrequencies implements domain.HaplotypeFrequencyRepository
func (s *SQLiteStore) LoadFrequencies(ctx context.Context, setID int64) (*domain.HaplotypeFrequencyTable, error) {
	set, err := s.getSet(ctx, setID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT a, b, c, dqb1, drb1, frequency FROM haplotype_frequencies WHERE set_id = ?", setID)
	if err != nil {
		return nil, fmt.Errorf("failed to query frequencies: %w", err)
	}
	defer rows.Close()

	frequencies := make(map[domain.Haplotype]float64)
	for rows.Next() {
		var h domain.Haplotype
		var f float64
		if err := rows.Scan(&h.A, &h.B, &h.C, &h.Dqb1, &h.Drb1, &f); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		frequencies[h] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read frequencies: %w", err)
	}
	return domain.NewHaplotypeFrequencyTable(*set, frequencies), nil
}

// ImportSet implements Store
func (s *SQLiteStore) ImportSet(ctx context.Context, set *domain.HaplotypeFrequencySet, frequencies []HaplotypeFrequency) error {
	if err := validateImport(set, frequencies); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE haplotype_frequency_sets SET active = 0
		WHERE registry_code = ? AND ethnicity_code = ? AND active = 1
	`, set.RegistryCode, set.EthnicityCode); err != nil {
		return fmt.Errorf("failed to deactivate previous set: %w", err)
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO haplotype_frequency_sets (
			name, registry_code, ethnicity_code, population_id,
			hla_nomenclature_version, active, created_at
		) VALUES (?, ?, ?, ?, ?, 1, ?)
	`, set.Name, set.RegistryCode, set.EthnicityCode, set.PopulationID, set.HlaNomenclatureVersion, now)
	if err != nil {
		return fmt.Errorf("failed to insert set: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO haplotype_frequencies (set_id, a, b, c, dqb1, drb1, frequency)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range frequencies {
		if _, err := stmt.ExecContext(ctx, id, f.A, f.B, f.C, f.Dqb1, f.Drb1, f.Frequency); err != nil {
			return fmt.Errorf("failed to insert haplotype %s: %w", f.Haplotype, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	set.ID = id
	set.Active = true
	set.CreatedAt = now
	return nil
}

// ListSets implements Store
func (s *SQLiteStore) ListSets(ctx context.Context) ([]domain.HaplotypeFrequencySet, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqliteSetColumns+" FROM haplotype_frequency_sets ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []domain.HaplotypeFrequencySet
	for rows.Next() {
		set, err := scanSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, *set)
	}
	return result, rows.Err()
}

// ExportJSON implements Store
func (s *SQLiteStore) ExportJSON(ctx context.Context, setID int64, writer io.Writer) error {
	table, err := s.LoadFrequencies(ctx, setID)
	if err != nil {
		return err
	}
	return writeExport(writer, &table.Set, table)
}

// ImportJSON implements Store
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (*domain.HaplotypeFrequencySet, error) {
	export, err := readExport(reader)
	if err != nil {
		return nil, err
	}
	set := export.Set
	if err := s.ImportSet(ctx, &set, export.Frequencies); err != nil {
		return nil, err
	}
	return &set, nil
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
