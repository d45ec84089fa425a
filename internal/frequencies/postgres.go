package frequencies

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hla-match-prediction/internal/database"
	"github.com/hla-match-prediction/internal/domain"
)

// PostgresStore implements Store on PostgreSQL. The schema is created by
// the migrations in internal/database/migrations.
type PostgresStore struct {
	db   *database.DB
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over an open connection pool. Closing
// the store closes the pool.
func NewPostgresStore(db *database.DB) (*PostgresStore, error) {
	if db == nil || db.Pool == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &PostgresStore{db: db, pool: db.Pool}, nil
}

const pgSetColumns = `id, name, registry_code, ethnicity_code, population_id,
	hla_nomenclature_version, active, created_at`

func scanPgSet(row pgx.Row) (*domain.HaplotypeFrequencySet, error) {
	set := &domain.HaplotypeFrequencySet{}
	err := row.Scan(
		&set.ID, &set.Name, &set.RegistryCode, &set.EthnicityCode, &set.PopulationID,
		&set.HlaNomenclatureVersion, &set.Active, &set.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return set, nil
}

// SelectActiveSet implements domain.HaplotypeFrequencyRepository
func (s *PostgresStore) SelectActiveSet(ctx context.Context, registryCode, ethnicityCode string) (*domain.HaplotypeFrequencySet, error) {
	return selectActiveSet(ctx, registryCode, ethnicityCode, s.findActive)
}

func (s *PostgresStore) findActive(ctx context.Context, selector domain.FrequencySetSelector) (*domain.HaplotypeFrequencySet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+pgSetColumns+`
		FROM haplotype_frequency_sets
		WHERE registry_code = $1 AND ethnicity_code = $2 AND active
		ORDER BY id DESC
		LIMIT 1
	`, selector.RegistryCode, selector.EthnicityCode)

	set, err := scanPgSet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frequency set: %w", err)
	}
	return set, nil
}

// LoadFrequencies implements domain.HaplotypeFrequencyRepository
func (s *PostgresStore) LoadFrequencies(ctx context.Context, setID int64) (*domain.HaplotypeFrequencyTable, error) {
	set, err := scanPgSet(s.pool.QueryRow(ctx,
		"SELECT "+pgSetColumns+" FROM haplotype_frequency_sets WHERE id = $1", setID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("frequency set %d: %w", setID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frequency set: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		"SELECT a, b, c, dqb1, drb1, frequency FROM haplotype_frequencies WHERE set_id = $1", setID)
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

// ImportSet implements Store. Frequencies are written with COPY.
func (s *PostgresStore) ImportSet(ctx context.Context, set *domain.HaplotypeFrequencySet, frequencies []HaplotypeFrequency) error {
	if err := validateImport(set, frequencies); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE haplotype_frequency_sets SET active = FALSE
		WHERE registry_code = $1 AND ethnicity_code = $2 AND active
	`, set.RegistryCode, set.EthnicityCode); err != nil {
		return fmt.Errorf("failed to deactivate previous set: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO haplotype_frequency_sets (
			name, registry_code, ethnicity_code, population_id,
			hla_nomenclature_version, active
		) VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id, created_at
	`, set.Name, set.RegistryCode, set.EthnicityCode, set.PopulationID, set.HlaNomenclatureVersion,
	).Scan(&set.ID, &set.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert set: %w", err)
	}

	setID := set.ID
	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"haplotype_frequencies"},
		[]string{"set_id", "a", "b", "c", "dqb1", "drb1", "frequency"},
		pgx.CopyFromSlice(len(frequencies), func(i int) ([]any, error) {
			f := frequencies[i]
			return []any{setID, f.A, f.B, f.C, f.Dqb1, f.Drb1, f.Frequency}, nil
		}),
	)
	if err != nil {
		set.ID = 0
		return fmt.Errorf("failed to copy frequencies: %w", err)
	}
	if int(copied) != len(frequencies) {
		set.ID = 0
		return fmt.Errorf("copied %d of %d frequencies", copied, len(frequencies))
	}

	if err := tx.Commit(ctx); err != nil {
		set.ID = 0
		return fmt.Errorf("failed to commit: %w", err)
	}
	set.Active = true
	return nil
}

// ListSets implements Store
func (s *PostgresStore) ListSets(ctx context.Context) ([]domain.HaplotypeFrequencySet, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+pgSetColumns+" FROM haplotype_frequency_sets ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list frequency sets: %w", err)
	}
	defer rows.Close()

	var result []domain.HaplotypeFrequencySet
	for rows.Next() {
		set, err := scanPgSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, *set)
	}
	return result, rows.Err()
}

// ExportJSON implements Store
func (s *PostgresStore) ExportJSON(ctx context.Context, setID int64, writer io.Writer) error {
	table, err := s.LoadFrequencies(ctx, setID)
	if err != nil {
		return err
	}
	return writeExport(writer, &table.Set, table)
}

// ImportJSON implements Store
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (*domain.HaplotypeFrequencySet, error) {
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

// Health pings the database
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
