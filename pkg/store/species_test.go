package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tuibird/tracker-core/pkg/pool"
)

func newTestDB(t *testing.T) *SpeciesDB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tracker.db")
	driver := NewSQLiteDriver(path, "wal", zerolog.Nop())
	p := pool.New(driver, pool.Config{Size: 2}, zerolog.Nop())
	t.Cleanup(func() { p.Close() })

	db := NewSpeciesDB(p, zerolog.Nop())
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	return db
}

func seedSpecies(t *testing.T, db *SpeciesDB) {
	t.Helper()
	ctx := context.Background()
	for _, sp := range []Species{
		{Code: "houspa", EnglishName: "House Sparrow", LocalName: "Haussperling"},
		{Code: "eurbla", EnglishName: "Eurasian Blackbird", LocalName: "Amsel"},
		{Code: "comcha", EnglishName: "Common Chaffinch", LocalName: "Buchfink"},
	} {
		if err := db.Insert(ctx, sp); err != nil {
			t.Fatalf("Insert %s failed: %v", sp.Code, err)
		}
	}
}

func TestSpeciesDB_LoadAll(t *testing.T) {
	db := newTestDB(t)
	seedSpecies(t, db)

	all, err := db.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("LoadAll returned %d species, want 3", len(all))
	}
	if all[0].EnglishName != "Common Chaffinch" {
		t.Errorf("first species = %q, want ordering by English name", all[0].EnglishName)
	}
}

func TestSpeciesDB_FindByName(t *testing.T) {
	db := newTestDB(t)
	seedSpecies(t, db)
	ctx := context.Background()

	tests := []struct {
		name      string
		query     string
		wantCodes []string
		wantErr   error
	}{
		{name: "exact english", query: "House Sparrow", wantCodes: []string{"houspa"}},
		{name: "case insensitive", query: "house sparrow", wantCodes: []string{"houspa"}},
		{name: "fragment", query: "black", wantCodes: []string{"eurbla"}},
		{name: "local name", query: "amsel", wantCodes: []string{"eurbla"}},
		{name: "no match", query: "penguin", wantErr: ErrSpeciesNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.FindByName(ctx, tt.query)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("FindByName(%q) error = %v, want %v", tt.query, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindByName(%q) failed: %v", tt.query, err)
			}
			if len(got) != len(tt.wantCodes) {
				t.Fatalf("FindByName(%q) returned %d species, want %d", tt.query, len(got), len(tt.wantCodes))
			}
			for i, code := range tt.wantCodes {
				if got[i].Code != code {
					t.Errorf("result[%d].Code = %q, want %q", i, got[i].Code, code)
				}
			}
		})
	}
}

func TestSpeciesDB_CodeToName(t *testing.T) {
	db := newTestDB(t)
	seedSpecies(t, db)
	ctx := context.Background()

	name, err := db.CodeToName(ctx, "comcha")
	if err != nil {
		t.Fatalf("CodeToName failed: %v", err)
	}
	if name != "Common Chaffinch" {
		t.Errorf("CodeToName = %q, want Common Chaffinch", name)
	}

	if _, err := db.CodeToName(ctx, "nosuch"); !errors.Is(err, ErrSpeciesNotFound) {
		t.Errorf("CodeToName for unknown code = %v, want ErrSpeciesNotFound", err)
	}
}

func TestSpeciesDB_InsertUpdatesMemoizedNames(t *testing.T) {
	db := newTestDB(t)
	seedSpecies(t, db)
	ctx := context.Background()

	// Prime the memoized map.
	if _, err := db.CodeToName(ctx, "houspa"); err != nil {
		t.Fatalf("CodeToName failed: %v", err)
	}

	if err := db.Insert(ctx, Species{Code: "barswa", EnglishName: "Barn Swallow"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	name, err := db.CodeToName(ctx, "barswa")
	if err != nil {
		t.Fatalf("CodeToName after Insert failed: %v", err)
	}
	if name != "Barn Swallow" {
		t.Errorf("CodeToName = %q, want Barn Swallow", name)
	}
}

func TestSQLiteDriver_DSN(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		wantWAL bool
	}{
		{name: "wal mode", mode: "wal", wantWAL: true},
		{name: "default mode", mode: "default", wantWAL: false},
		{name: "unknown mode falls back to wal", mode: "bogus", wantWAL: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewSQLiteDriver("/tmp/x.db", tt.mode, zerolog.Nop())
			dsn := d.DSN()
			hasWAL := strings.Contains(dsn, "_journal_mode=WAL")
			if hasWAL != tt.wantWAL {
				t.Errorf("DSN = %q, journal_mode presence = %v, want %v", dsn, hasWAL, tt.wantWAL)
			}
			if !strings.Contains(dsn, "_busy_timeout=5000") {
				t.Errorf("DSN = %q, missing busy timeout", dsn)
			}
		})
	}
}
