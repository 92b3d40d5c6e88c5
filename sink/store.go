package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/imgscout/dbopen"
	"github.com/hazyhaar/imgscout/event"
	"github.com/hazyhaar/imgscout/idgen"
)

// Schema is the history database layout. Each Clear opens a scan row; every
// Discovered in that epoch lands in images keyed by (scan_id, source).
const Schema = `
CREATE TABLE IF NOT EXISTS scans (
	id           TEXT PRIMARY KEY,
	page_url     TEXT NOT NULL,
	epoch        INTEGER NOT NULL,
	started_at   INTEGER NOT NULL,
	completed_at INTEGER,
	discovered   INTEGER NOT NULL DEFAULT 0,
	elements     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_scans_page ON scans(page_url, started_at);

CREATE TABLE IF NOT EXISTS images (
	scan_id       TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	source        TEXT NOT NULL,
	mime_type     TEXT NOT NULL,
	filename      TEXT NOT NULL,
	dimensions    TEXT NOT NULL,
	origin_tag    TEXT NOT NULL,
	via           TEXT NOT NULL,
	discovered_at INTEGER NOT NULL,
	PRIMARY KEY (scan_id, source)
);
CREATE INDEX IF NOT EXISTS idx_images_source ON images(source);
`

// ScanRecord is one row of scan history.
type ScanRecord struct {
	ID          string    `json:"id"`
	PageURL     string    `json:"page_url"`
	Epoch       uint64    `json:"epoch"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"` // zero while the scan is open or was superseded
	Discovered  int       `json:"discovered"`
	Elements    int       `json:"elements"`
}

// Store persists the event stream into SQLite.
type Store struct {
	db      *sql.DB
	pageURL string
	newID   idgen.Generator
	logger  *slog.Logger

	mu     sync.Mutex
	scanID string
	epoch  uint64
}

// OpenStore opens (or creates) the history database at path.
func OpenStore(path string) (*sql.DB, error) {
	db, err := dbopen.Open(path, dbopen.WithSchema(Schema), dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("sink: open store: %w", err)
	}
	return db, nil
}

// NewStore records events for pageURL into db, which must carry Schema.
func NewStore(db *sql.DB, pageURL string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:      db,
		pageURL: pageURL,
		newID:   idgen.Prefixed("scn_", idgen.Default),
		logger:  logger,
	}
}

func (s *Store) Emit(ctx context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case event.Clear:
		id := s.newID()
		_, err := dbopen.Exec(ctx, s.db,
			`INSERT INTO scans (id, page_url, epoch, started_at) VALUES (?, ?, ?, ?)`,
			id, s.pageURL, int64(e.Epoch), time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("sink: store clear: %w", err)
		}
		s.scanID, s.epoch = id, e.Epoch
	case event.Discovered:
		if s.scanID == "" || e.Epoch != s.epoch {
			s.logger.Debug("sink: store skips stale discovery", "epoch", e.Epoch, "current", s.epoch)
			return nil
		}
		img := e.Image
		_, err := dbopen.Exec(ctx, s.db,
			`INSERT OR IGNORE INTO images
			 (scan_id, source, mime_type, filename, dimensions, origin_tag, via, discovered_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			s.scanID, img.Source, img.MimeType, img.Filename, img.Dimensions,
			img.OriginTag, img.Via, int64(img.DiscoveredAt))
		if err != nil {
			return fmt.Errorf("sink: store discovered: %w", err)
		}
	case event.ScanComplete:
		if s.scanID == "" || e.Epoch != s.epoch {
			return nil
		}
		_, err := dbopen.Exec(ctx, s.db,
			`UPDATE scans SET completed_at = ?, discovered = ?, elements = ? WHERE id = ?`,
			time.Now().UnixMilli(), e.Discovered, e.Elements, s.scanID)
		if err != nil {
			return fmt.Errorf("sink: store complete: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return nil }

// CurrentScan returns the id of the scan being recorded, or "".
func (s *Store) CurrentScan() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanID
}

// Scans lists the history for pageURL, newest first. An empty pageURL
// lists every page.
func (s *Store) Scans(ctx context.Context, pageURL string, limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, page_url, epoch, started_at, completed_at, discovered, elements
		 FROM scans WHERE ? = '' OR page_url = ?
		 ORDER BY started_at DESC, epoch DESC LIMIT ?`,
		pageURL, pageURL, limit)
	if err != nil {
		return nil, fmt.Errorf("sink: list scans: %w", err)
	}
	defer rows.Close()

	var out []ScanRecord
	for rows.Next() {
		var (
			r         ScanRecord
			epoch     int64
			started   int64
			completed sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.PageURL, &epoch, &started, &completed, &r.Discovered, &r.Elements); err != nil {
			return nil, fmt.Errorf("sink: scan row: %w", err)
		}
		r.Epoch = uint64(epoch)
		r.StartedAt = time.UnixMilli(started)
		if completed.Valid {
			r.CompletedAt = time.UnixMilli(completed.Int64)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Images returns the images recorded for scanID in discovery order.
func (s *Store) Images(ctx context.Context, scanID string) ([]event.DiscoveredImage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, mime_type, filename, dimensions, origin_tag, via, discovered_at
		 FROM images WHERE scan_id = ? ORDER BY discovered_at`, scanID)
	if err != nil {
		return nil, fmt.Errorf("sink: list images: %w", err)
	}
	defer rows.Close()

	var out []event.DiscoveredImage
	for rows.Next() {
		var (
			img event.DiscoveredImage
			at  int64
		)
		if err := rows.Scan(&img.Source, &img.MimeType, &img.Filename, &img.Dimensions,
			&img.OriginTag, &img.Via, &at); err != nil {
			return nil, fmt.Errorf("sink: image row: %w", err)
		}
		img.DiscoveredAt = uint64(at)
		out = append(out, img)
	}
	return out, rows.Err()
}

// SeenIn returns the ids of scans in which source was discovered.
func (s *Store) SeenIn(ctx context.Context, source string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT i.scan_id FROM images i JOIN scans s ON s.id = i.scan_id
		 WHERE i.source = ? ORDER BY s.started_at`, source)
	if err != nil {
		return nil, fmt.Errorf("sink: seen in: %w", err)
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

// Prune deletes scans started before cutoff together with their images.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		ms := cutoff.UnixMilli()
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM images WHERE scan_id IN (SELECT id FROM scans WHERE started_at < ?)`, ms); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM scans WHERE started_at < ?`, ms)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sink: prune: %w", err)
	}
	return n, nil
}
