package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for profiles, progress notes,
// and challenge records.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "forja.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Profiles ---

// UpsertProfile creates or replaces a user profile.
func (s *Store) UpsertProfile(p Profile) error {
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, name, d1, d2, d3, d4, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name, d1 = excluded.d1, d2 = excluded.d2,
			d3 = excluded.d3, d4 = excluded.d4, updated_at = excluded.updated_at`,
		p.UserID, p.Name, p.D1, p.D2, p.D3, p.D4,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProfile(userID string) (Profile, error) {
	var p Profile
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, name, d1, d2, d3, d4, updated_at
		FROM users WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Name, &p.D1, &p.D2, &p.D3, &p.D4, &updatedAt)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return Profile{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	p.UpdatedAt = t
	return p, nil
}

// ListUserIDs returns every known user ID in insertion order.
func (s *Store) ListUserIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT user_id FROM users ORDER BY rowid ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Progress notes ---

func (s *Store) AddProgressNote(n ProgressNote) error {
	id := n.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO progress_notes (id, user_id, text, created_at)
		VALUES (?, ?, ?, ?)`,
		id, n.UserID, n.Text, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// RecentProgress returns the user's most recent progress notes, newest
// first, at most limit entries.
func (s *Store) RecentProgress(userID string, limit int) ([]ProgressNote, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, text, created_at FROM progress_notes
		WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []ProgressNote
	for rows.Next() {
		var n ProgressNote
		var createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Text, &createdAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			n.CreatedAt = t
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// --- Challenges ---

// CreateChallenge inserts a new challenge record with the given brief and
// the three stage fields empty. Returns the new record's ID.
func (s *Store) CreateChallenge(userID, brief string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(`
		INSERT INTO challenges (id, user_id, brief, daily_task, image_ref, audio_ref, created_at)
		VALUES (?, ?, ?, '', '', '', ?)`,
		id, userID, brief, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetChallenge(id string) (Challenge, error) {
	var c Challenge
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, brief, daily_task, image_ref, audio_ref, created_at
		FROM challenges WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Brief, &c.DailyTask, &c.ImageRef, &c.AudioRef, &createdAt)
	if err == sql.ErrNoRows {
		return Challenge{}, ErrNotFound
	}
	if err != nil {
		return Challenge{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Challenge{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

// ListChallenges returns the user's challenges, newest first.
func (s *Store) ListChallenges(userID string, limit int) ([]Challenge, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, brief, daily_task, image_ref, audio_ref, created_at
		FROM challenges WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Challenge
	for rows.Next() {
		var c Challenge
		var createdAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Brief, &c.DailyTask, &c.ImageRef, &c.AudioRef, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}

// ApplyPatch writes the patch's field on the given challenge. The update
// only lands when the field is still empty; a populated field is left
// untouched and ErrFieldSet is returned.
func (s *Store) ApplyPatch(id string, p Patch) error {
	col := p.column()
	// col comes from the closed Patch union, never from input.
	res, err := s.db.Exec(
		`UPDATE challenges SET `+col+` = ? WHERE id = ? AND `+col+` = ''`,
		p.value(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM challenges WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrFieldSet
}
