// Package brandstore answers brand sustainability lookups from a local
// SQLite database: overall score by brand name or site URL, and alternative
// brand recommendations in the same price tier.
package brandstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ecostyle/scout/dbopen"
)

// Schema creates the brands table. Scores are 0-100.
const Schema = `
CREATE TABLE IF NOT EXISTS brands (
	brand_name    TEXT PRIMARY KEY,
	brand_url     TEXT NOT NULL DEFAULT '',
	overall_score REAL NOT NULL DEFAULT 0,
	price_tier    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_brands_url ON brands(brand_url);
`

// SustainableThreshold is the minimum overall score for a brand to be
// recommended as an alternative.
const SustainableThreshold = 60

// MaxRecommendations caps the recommendation list.
const MaxRecommendations = 5

// Brand is one row of the brands table.
type Brand struct {
	Name         string  `json:"brand_name"`
	URL          string  `json:"brand_url"`
	OverallScore float64 `json:"overall_score"`
	PriceTier    string  `json:"price_tier,omitempty"`
}

// Store wraps the brands database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New wraps an already-open database handle. The schema is applied
// idempotently.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{db: db, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("brandstore: apply schema: %w", err)
	}
	return s, nil
}

// Open opens (or creates) the brands database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("brandstore: %w", err)
	}
	return New(db, opts...)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces a brand row.
func (s *Store) Upsert(ctx context.Context, b Brand) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO brands (brand_name, brand_url, overall_score, price_tier)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(brand_name) DO UPDATE SET
			brand_url = excluded.brand_url,
			overall_score = excluded.overall_score,
			price_tier = excluded.price_tier`,
		b.Name, b.URL, b.OverallScore, b.PriceTier)
	if err != nil {
		return fmt.Errorf("brandstore: upsert %s: %w", b.Name, err)
	}
	return nil
}

// ScoreByName looks a brand up by name: exact match first, then
// case-insensitive containment. The second return is false when no row
// matched, which is a normal outcome for unlisted brands.
func (s *Store) ScoreByName(ctx context.Context, name string) (Brand, bool, error) {
	b, ok, err := s.one(ctx,
		`SELECT brand_name, brand_url, overall_score, price_tier
		 FROM brands WHERE brand_name = ? LIMIT 1`, name)
	if err != nil || ok {
		return b, ok, err
	}

	return s.one(ctx,
		`SELECT brand_name, brand_url, overall_score, price_tier
		 FROM brands WHERE brand_name LIKE ? LIMIT 1`, "%"+name+"%")
}

// ScoreByURL looks a brand up by site URL: exact URL, then scheme+host
// origin, then containment on the hostname.
func (s *Store) ScoreByURL(ctx context.Context, rawURL string) (Brand, bool, error) {
	b, ok, err := s.one(ctx,
		`SELECT brand_name, brand_url, overall_score, price_tier
		 FROM brands WHERE brand_url = ? LIMIT 1`, rawURL)
	if err != nil || ok {
		return b, ok, err
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Brand{}, false, nil
	}

	origin := u.Scheme + "://" + u.Host
	b, ok, err = s.one(ctx,
		`SELECT brand_name, brand_url, overall_score, price_tier
		 FROM brands WHERE brand_url = ? LIMIT 1`, origin)
	if err != nil || ok {
		return b, ok, err
	}

	return s.one(ctx,
		`SELECT brand_name, brand_url, overall_score, price_tier
		 FROM brands WHERE brand_url LIKE ? LIMIT 1`, "%"+u.Hostname()+"%")
}

// Recommendations finds the brand behind hostname (if listed) and returns
// up to MaxRecommendations sustainable alternatives: overall score at or
// above the threshold, same price tier as the current brand when that tier
// is known, highest score first.
func (s *Store) Recommendations(ctx context.Context, hostname string) (*Brand, []Brand, error) {
	current, err := s.byHostname(ctx, hostname)
	if err != nil {
		return nil, nil, err
	}

	query := `SELECT brand_name, brand_url, overall_score, price_tier
		FROM brands WHERE overall_score >= ?`
	args := []any{float64(SustainableThreshold)}
	if current != nil && current.PriceTier != "" {
		query += ` AND price_tier = ?`
		args = append(args, current.PriceTier)
	}
	query += ` ORDER BY overall_score DESC LIMIT ?`
	args = append(args, MaxRecommendations)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("brandstore: recommendations: %w", err)
	}
	defer rows.Close()

	var recs []Brand
	for rows.Next() {
		var b Brand
		if err := rows.Scan(&b.Name, &b.URL, &b.OverallScore, &b.PriceTier); err != nil {
			return nil, nil, fmt.Errorf("brandstore: scan: %w", err)
		}
		recs = append(recs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("brandstore: recommendations: %w", err)
	}

	return current, recs, nil
}

// byHostname matches the watched site's hostname against brand URLs.
func (s *Store) byHostname(ctx context.Context, hostname string) (*Brand, error) {
	if hostname == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT brand_name, brand_url, overall_score, price_tier FROM brands`)
	if err != nil {
		return nil, fmt.Errorf("brandstore: list brands: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b Brand
		if err := rows.Scan(&b.Name, &b.URL, &b.OverallScore, &b.PriceTier); err != nil {
			return nil, fmt.Errorf("brandstore: scan: %w", err)
		}
		u, err := url.Parse(b.URL)
		if err != nil || u.Hostname() == "" {
			continue
		}
		if strings.Contains(hostname, u.Hostname()) {
			return &b, rows.Err()
		}
	}
	return nil, rows.Err()
}

func (s *Store) one(ctx context.Context, query string, args ...any) (Brand, bool, error) {
	var b Brand
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&b.Name, &b.URL, &b.OverallScore, &b.PriceTier)
	if err == sql.ErrNoRows {
		return Brand{}, false, nil
	}
	if err != nil {
		return Brand{}, false, fmt.Errorf("brandstore: query: %w", err)
	}
	return b, true, nil
}
