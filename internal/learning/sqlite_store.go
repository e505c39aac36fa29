package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"go.uber.org/zap"

	"groundwork-mcp-server/internal/failure"
)

// SQLiteStore keeps mappings in a SQLite database shared by every session.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, failure.Persistence("create learning directory", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, failure.Persistence("open learning database", err)
	}
	// One connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	const schema = `CREATE TABLE IF NOT EXISTS learned_mappings (
		origin TEXT NOT NULL,
		phrase TEXT NOT NULL,
		tag TEXT NOT NULL,
		identifier TEXT,
		markers TEXT,
		text TEXT,
		link_suffix TEXT,
		learned_at INTEGER,
		PRIMARY KEY (origin, phrase)
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, failure.Persistence("create learning schema", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Learn(ctx context.Context, origin, phrase string, sig Signature) error {
	key := NormalizePhrase(phrase)
	if key == "" {
		return errors.New("phrase is required")
	}
	const q = `INSERT INTO learned_mappings (origin, phrase, tag, identifier, markers, text, link_suffix, learned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(origin, phrase) DO UPDATE SET
			tag = excluded.tag,
			identifier = excluded.identifier,
			markers = excluded.markers,
			text = excluded.text,
			link_suffix = excluded.link_suffix,
			learned_at = excluded.learned_at`
	_, err := s.db.ExecContext(ctx, q, Origin(origin), key, sig.Tag, sig.Identifier, sig.Markers, sig.Text, sig.LinkSuffix, sig.LearnedAt.UnixMilli())
	if err != nil {
		return failure.Persistence("save learned mapping", err)
	}
	s.logger.Debug("learned mapping", zap.String("origin", Origin(origin)), zap.String("phrase", key))
	return nil
}

func (s *SQLiteStore) Recall(ctx context.Context, origin, phrase string) (Signature, bool, error) {
	key := NormalizePhrase(phrase)
	if key == "" {
		return Signature{}, false, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT phrase FROM learned_mappings WHERE origin = ?`, Origin(origin))
	if err != nil {
		return Signature{}, false, failure.Persistence("query learned mappings", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return Signature{}, false, failure.Persistence("scan learned mapping", err)
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Signature{}, false, failure.Persistence("iterate learned mappings", err)
	}

	match, ok := bestKey(keys, key)
	if !ok {
		return Signature{}, false, nil
	}

	var sig Signature
	var identifier, markers, text, suffix sql.NullString
	var learnedAt sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT tag, identifier, markers, text, link_suffix, learned_at FROM learned_mappings WHERE origin = ? AND phrase = ?`,
		Origin(origin), match,
	).Scan(&sig.Tag, &identifier, &markers, &text, &suffix, &learnedAt)
	if err != nil {
		return Signature{}, false, failure.Persistence(fmt.Sprintf("load learned mapping %q", match), err)
	}
	sig.Identifier = identifier.String
	sig.Markers = markers.String
	sig.Text = text.String
	sig.LinkSuffix = suffix.String
	if learnedAt.Valid {
		sig.LearnedAt = time.UnixMilli(learnedAt.Int64).UTC()
	}
	return sig, true, nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
