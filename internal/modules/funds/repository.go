package funds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/fundfolio/internal/database"
	"github.com/aristath/fundfolio/internal/domain"
	"github.com/rs/zerolog"
)

// Column order must match scanFund.
const fundColumns = `code, name, fund_type, latest_nav, nav_date, created_at, updated_at`

// Repository handles instrument database access in market.db.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new funds repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "funds").Logger(),
	}
}

// Upsert creates or refreshes a fund row.
func (r *Repository) Upsert(ctx context.Context, fund *Fund) error {
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO funds (code, name, fund_type, latest_nav, nav_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			fund_type = excluded.fund_type,
			latest_nav = COALESCE(excluded.latest_nav, funds.latest_nav),
			nav_date = CASE WHEN excluded.nav_date != '' THEN excluded.nav_date ELSE funds.nav_date END,
			updated_at = excluded.updated_at`,
		fund.Code, fund.Name, fund.Type, fund.LatestNav, fund.NavDate, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fund %s: %w", fund.Code, err)
	}
	return nil
}

// Get returns a fund by code, or domain.ErrNotFound.
func (r *Repository) Get(ctx context.Context, code string) (*Fund, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+fundColumns+` FROM funds WHERE code = ?`, code)
	fund, err := scanFund(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fund %s: %w", code, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fund %s: %w", code, err)
	}
	return fund, nil
}

// Exists reports whether the code is already tracked.
func (r *Repository) Exists(ctx context.Context, code string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM funds WHERE code = ?`, code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check fund %s: %w", code, err)
	}
	return true, nil
}

// List returns all tracked funds ordered by code.
func (r *Repository) List(ctx context.Context) ([]Fund, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fundColumns+` FROM funds ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list funds: %w", err)
	}
	defer rows.Close()

	var funds []Fund
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		funds = append(funds, *fund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funds: %w", err)
	}
	return funds, nil
}

// Codes returns every tracked fund code.
func (r *Repository) Codes(ctx context.Context) ([]string, error) {
	return r.codeList(ctx, `SELECT code FROM funds ORDER BY code`)
}

// UpdateNav refreshes the cached latest NAV on the fund row.
func (r *Repository) UpdateNav(ctx context.Context, code string, nav float64, navDate string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE funds SET latest_nav = ?, nav_date = ?, updated_at = ?
		WHERE code = ? AND nav_date <= ?`,
		nav, navDate, time.Now().Unix(), code, navDate,
	)
	if err != nil {
		return fmt.Errorf("failed to update nav for %s: %w", code, err)
	}
	return nil
}

// InsertNavPoints stores published NAVs, ignoring dates already archived.
// NAVs never change once published, so first write wins.
func (r *Repository) InsertNavPoints(ctx context.Context, code string, points map[string]float64) error {
	if len(points) == 0 {
		return nil
	}
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		for date, nav := range points {
			_, err := tx.Exec(`
				INSERT OR IGNORE INTO fund_history (code, nav_date, nav)
				VALUES (?, ?, ?)`, code, date, nav)
			if err != nil {
				return fmt.Errorf("failed to insert nav point %s %s: %w", code, date, err)
			}
		}
		return nil
	})
}

// NavOn returns the archived NAV for one date; ok is false when the date has
// no row yet.
func (r *Repository) NavOn(ctx context.Context, code, date string) (float64, bool, error) {
	var nav float64
	err := r.db.QueryRowContext(ctx,
		`SELECT nav FROM fund_history WHERE code = ? AND nav_date = ?`, code, date).Scan(&nav)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get nav for %s on %s: %w", code, date, err)
	}
	return nav, true, nil
}

// NavRange returns archived NAVs between start and end inclusive.
func (r *Repository) NavRange(ctx context.Context, code, start, end string) (map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT nav_date, nav FROM fund_history
		WHERE code = ? AND nav_date >= ? AND nav_date <= ?`, code, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get nav range for %s: %w", code, err)
	}
	defer rows.Close()

	navs := make(map[string]float64)
	for rows.Next() {
		var (
			date string
			nav  float64
		)
		if err := rows.Scan(&date, &nav); err != nil {
			return nil, fmt.Errorf("failed to scan nav point: %w", err)
		}
		navs[date] = nav
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nav points: %w", err)
	}
	return navs, nil
}

// NavSeries returns the most recent archived NAVs in ascending date order.
func (r *Repository) NavSeries(ctx context.Context, code string, limit int) ([]NavPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT nav_date, nav FROM (
			SELECT nav_date, nav FROM fund_history
			WHERE code = ?
			ORDER BY nav_date DESC
			LIMIT ?
		) ORDER BY nav_date ASC`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get nav series for %s: %w", code, err)
	}
	defer rows.Close()

	var series []NavPoint
	for rows.Next() {
		var p NavPoint
		if err := rows.Scan(&p.Date, &p.Nav); err != nil {
			return nil, fmt.Errorf("failed to scan nav point: %w", err)
		}
		series = append(series, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nav series: %w", err)
	}
	return series, nil
}

// LastNavDate returns the newest archived date for a code, or "".
func (r *Repository) LastNavDate(ctx context.Context, code string) (string, error) {
	var date sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT MAX(nav_date) FROM fund_history WHERE code = ?`, code).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to get last nav date for %s: %w", code, err)
	}
	return date.String, nil
}

// LatestNavPoint returns the newest archived NAV, or nil when the archive is
// empty for the code.
func (r *Repository) LatestNavPoint(ctx context.Context, code string) (*NavPoint, error) {
	var p NavPoint
	err := r.db.QueryRowContext(ctx, `
		SELECT nav_date, nav FROM fund_history
		WHERE code = ? ORDER BY nav_date DESC LIMIT 1`, code).Scan(&p.Date, &p.Nav)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest nav for %s: %w", code, err)
	}
	return &p, nil
}

// Search returns funds whose code or name contains the query, ordered by
// code.
func (r *Repository) Search(ctx context.Context, query string) ([]Fund, error) {
	pattern := "%" + query + "%"
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+fundColumns+` FROM funds
		WHERE code LIKE ? OR name LIKE ?
		ORDER BY code`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search funds: %w", err)
	}
	defer rows.Close()

	var funds []Fund
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fund: %w", err)
		}
		funds = append(funds, *fund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funds: %w", err)
	}
	return funds, nil
}

// Delete removes a fund and all its market data.
func (r *Repository) Delete(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM funds WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("failed to delete fund %s: %w", code, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("fund %s: %w", code, domain.ErrNotFound)
	}

	for _, table := range []string{"fund_history", "intraday_estimates", "estimate_accuracy", "watchlist"} {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE code = ?`, code); err != nil {
			return fmt.Errorf("failed to delete %s rows for %s: %w", table, code, err)
		}
	}
	return nil
}

// Watch adds a code to the watchlist.
func (r *Repository) Watch(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO watchlist (code, added_at) VALUES (?, ?)`,
		code, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", code, err)
	}
	return nil
}

// Unwatch removes a code from the watchlist.
func (r *Repository) Unwatch(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM watchlist WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("failed to unwatch %s: %w", code, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check unwatch result: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Watchlist returns watched codes ordered by when they were added.
func (r *Repository) Watchlist(ctx context.Context) ([]string, error) {
	return r.codeList(ctx, `SELECT code FROM watchlist ORDER BY added_at, code`)
}

// RecordEstimate stores the day's latest intraday estimate for a code. Later
// estimates on the same day overwrite earlier ones, so the row left at day's
// end is the one accuracy is judged against.
func (r *Repository) RecordEstimate(ctx context.Context, code, date string, estimate, rate float64, asOf time.Time, source string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO intraday_estimates (code, estimate_date, estimate, estimate_rate, as_of, source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code, estimate_date) DO UPDATE SET
			estimate = excluded.estimate,
			estimate_rate = excluded.estimate_rate,
			as_of = excluded.as_of,
			source = excluded.source`,
		code, date, estimate, rate, asOf.Unix(), source,
	)
	if err != nil {
		return fmt.Errorf("failed to record estimate for %s: %w", code, err)
	}
	return nil
}

// EstimateOn returns the stored intraday estimate for a date.
func (r *Repository) EstimateOn(ctx context.Context, code, date string) (estimate float64, ok bool, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT estimate FROM intraday_estimates
		WHERE code = ? AND estimate_date = ?`, code, date).Scan(&estimate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get estimate for %s on %s: %w", code, date, err)
	}
	return estimate, true, nil
}

// UpsertAccuracy stores how far the day's estimate landed from the published
// NAV.
func (r *Repository) UpsertAccuracy(ctx context.Context, p AccuracyPoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO estimate_accuracy (code, nav_date, estimate, nav, error_pct)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code, nav_date) DO UPDATE SET
			estimate = excluded.estimate,
			nav = excluded.nav,
			error_pct = excluded.error_pct`,
		p.Code, p.Date, p.Estimate, p.Nav, p.ErrorPct,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert accuracy for %s: %w", p.Code, err)
	}
	return nil
}

// AccuracyHistory returns recent accuracy points, newest first.
func (r *Repository) AccuracyHistory(ctx context.Context, code string, limit int) ([]AccuracyPoint, error) {
	if limit <= 0 || limit > 250 {
		limit = 250
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, nav_date, estimate, nav, error_pct FROM estimate_accuracy
		WHERE code = ? ORDER BY nav_date DESC LIMIT ?`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get accuracy history for %s: %w", code, err)
	}
	defer rows.Close()

	var points []AccuracyPoint
	for rows.Next() {
		var p AccuracyPoint
		if err := rows.Scan(&p.Code, &p.Date, &p.Estimate, &p.Nav, &p.ErrorPct); err != nil {
			return nil, fmt.Errorf("failed to scan accuracy point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accuracy points: %w", err)
	}
	return points, nil
}

func (r *Repository) codeList(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating codes: %w", err)
	}
	return codes, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFund(s rowScanner) (*Fund, error) {
	var (
		fund      Fund
		latestNav sql.NullFloat64
		createdAt int64
		updatedAt int64
	)
	if err := s.Scan(&fund.Code, &fund.Name, &fund.Type, &latestNav, &fund.NavDate, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if latestNav.Valid {
		fund.LatestNav = &latestNav.Float64
	}
	fund.CreatedAt = time.Unix(createdAt, 0)
	fund.UpdatedAt = time.Unix(updatedAt, 0)
	return &fund, nil
}
