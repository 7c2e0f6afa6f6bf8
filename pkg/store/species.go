package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tuibird/tracker-core/pkg/pool"
)

// ErrSpeciesNotFound is returned when no species matches a lookup.
var ErrSpeciesNotFound = errors.New("species not found")

// Species is one row of the species reference table.
type Species struct {
	Code        string
	EnglishName string
	LocalName   string
}

const speciesSchema = `
CREATE TABLE IF NOT EXISTS species (
	code         TEXT PRIMARY KEY,
	english_name TEXT NOT NULL,
	local_name   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_species_english_name ON species (english_name COLLATE NOCASE);
`

// SpeciesDB answers species lookups over pooled SQLite handles. Code-to-name
// resolution is memoized after the first load since the reference data only
// changes on import.
type SpeciesDB struct {
	pool   *pool.Pool
	logger zerolog.Logger

	mu    sync.RWMutex
	names map[string]string // code -> english name
}

// NewSpeciesDB creates a species lookup backed by the given connection pool.
func NewSpeciesDB(p *pool.Pool, logger zerolog.Logger) *SpeciesDB {
	return &SpeciesDB{
		pool:   p,
		logger: logger.With().Str("component", "species_db").Logger(),
	}
}

// EnsureSchema creates the species table if it does not exist.
func (s *SpeciesDB) EnsureSchema(ctx context.Context) error {
	return s.withDB(ctx, func(ctx context.Context, db *DBConn) error {
		if _, err := db.ExecContext(ctx, speciesSchema); err != nil {
			return fmt.Errorf("create species schema: %w", err)
		}
		return nil
	})
}

// Insert adds or replaces one species row.
func (s *SpeciesDB) Insert(ctx context.Context, sp Species) error {
	err := s.withDB(ctx, func(ctx context.Context, db *DBConn) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR REPLACE INTO species (code, english_name, local_name) VALUES (?, ?, ?)`,
			sp.Code, sp.EnglishName, sp.LocalName)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert species %s: %w", sp.Code, err)
	}

	s.mu.Lock()
	if s.names != nil {
		s.names[sp.Code] = sp.EnglishName
	}
	s.mu.Unlock()
	return nil
}

// LoadAll returns every species ordered by English name.
func (s *SpeciesDB) LoadAll(ctx context.Context) ([]Species, error) {
	var out []Species
	err := s.withDB(ctx, func(ctx context.Context, db *DBConn) error {
		rows, err := db.QueryContext(ctx,
			`SELECT code, english_name, local_name FROM species ORDER BY english_name`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var sp Species
			if err := rows.Scan(&sp.Code, &sp.EnglishName, &sp.LocalName); err != nil {
				return err
			}
			out = append(out, sp)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load species: %w", err)
	}

	// Refresh the memoized name map while we have the full set.
	names := make(map[string]string, len(out))
	for _, sp := range out {
		names[sp.Code] = sp.EnglishName
	}
	s.mu.Lock()
	s.names = names
	s.mu.Unlock()

	s.logger.Debug().Int("count", len(out)).Msg("Loaded species table")
	return out, nil
}

// FindByName looks up species whose English or local name contains the given
// fragment, case-insensitively.
func (s *SpeciesDB) FindByName(ctx context.Context, name string) ([]Species, error) {
	var out []Species
	err := s.withDB(ctx, func(ctx context.Context, db *DBConn) error {
		rows, err := db.QueryContext(ctx,
			`SELECT code, english_name, local_name FROM species
			 WHERE english_name LIKE '%' || ? || '%' COLLATE NOCASE
			    OR local_name LIKE '%' || ? || '%' COLLATE NOCASE
			 ORDER BY english_name`,
			name, name)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var sp Species
			if err := rows.Scan(&sp.Code, &sp.EnglishName, &sp.LocalName); err != nil {
				return err
			}
			out = append(out, sp)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("find species by name %q: %w", name, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrSpeciesNotFound, name)
	}
	return out, nil
}

// CodeToName resolves a species code to its English name. The first call
// after construction loads the mapping from the database; later calls are
// served from memory.
func (s *SpeciesDB) CodeToName(ctx context.Context, code string) (string, error) {
	s.mu.RLock()
	if s.names != nil {
		name, ok := s.names[code]
		s.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("%w: code %q", ErrSpeciesNotFound, code)
		}
		return name, nil
	}
	s.mu.RUnlock()

	if _, err := s.LoadAll(ctx); err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.names[code]
	if !ok {
		return "", fmt.Errorf("%w: code %q", ErrSpeciesNotFound, code)
	}
	return name, nil
}

// withDB runs fn on a pooled handle.
func (s *SpeciesDB) withDB(ctx context.Context, fn func(context.Context, *DBConn) error) error {
	return s.pool.WithConn(ctx, func(ctx context.Context, conn pool.Conn) error {
		db, ok := conn.(*DBConn)
		if !ok {
			return fmt.Errorf("unexpected connection type %T", conn)
		}
		return fn(ctx, db)
	})
}
