package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveQuotation(ctx context.Context, snap model.QuotationSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save quotation %s: %w", snap.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO quotations (id, company_name, stock_name, type, price, volatility, feed_symbol)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   company_name = EXCLUDED.company_name,
		   stock_name   = EXCLUDED.stock_name,
		   type         = EXCLUDED.type,
		   price        = EXCLUDED.price,
		   volatility   = EXCLUDED.volatility,
		   feed_symbol  = EXCLUDED.feed_symbol`,
		snap.ID, snap.CompanyName, snap.StockName, string(snap.Type),
		snap.Price.String(), snap.Volatility.String(), snap.FeedSymbol,
	)
	if err != nil {
		return fmt.Errorf("save quotation %s: %w", snap.ID, err)
	}

	// The snapshot carries the authoritative series; replace wholesale.
	if _, err := tx.Exec(ctx,
		`DELETE FROM price_samples WHERE quotation_id = $1`, snap.ID); err != nil {
		return fmt.Errorf("save quotation %s: clear series: %w", snap.ID, err)
	}
	for _, sample := range snap.Series {
		if _, err := tx.Exec(ctx,
			`INSERT INTO price_samples (quotation_id, ts, price)
			 VALUES ($1, $2, $3::NUMERIC)`,
			snap.ID, sample.Timestamp, sample.Price.String()); err != nil {
			return fmt.Errorf("save quotation %s: series: %w", snap.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadQuotations(ctx context.Context) ([]model.QuotationSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_name, stock_name, type,
		        price::TEXT, volatility::TEXT, feed_symbol
		 FROM quotations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.QuotationSnapshot
	for rows.Next() {
		var snap model.QuotationSnapshot
		var qType, priceS, volS string
		if err := rows.Scan(&snap.ID, &snap.CompanyName, &snap.StockName, &qType,
			&priceS, &volS, &snap.FeedSymbol); err != nil {
			return nil, err
		}
		snap.Type = model.QuotationType(qType)
		snap.Price, _ = decimal.NewFromString(priceS)
		snap.Volatility, _ = decimal.NewFromString(volS)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range snaps {
		series, err := s.loadSeries(ctx, snaps[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load series for %s: %w", snaps[i].ID, err)
		}
		snaps[i].Series = series
	}
	return snaps, nil
}

func (s *PostgresStore) loadSeries(ctx context.Context, quotationID string) ([]model.PriceSample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, price::TEXT FROM price_samples
		 WHERE quotation_id = $1 ORDER BY ts`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []model.PriceSample
	for rows.Next() {
		var sample model.PriceSample
		var priceS string
		if err := rows.Scan(&sample.Timestamp, &priceS); err != nil {
			return nil, err
		}
		sample.Price, _ = decimal.NewFromString(priceS)
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

func (s *PostgresStore) DeleteQuotation(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete quotation %s: %w", id, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM price_samples WHERE quotation_id = $1`, id); err != nil {
		return fmt.Errorf("delete quotation %s: series: %w", id, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM quotations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete quotation %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) InsertSettlement(ctx context.Context, st model.Settlement) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlements (id, order_id, share_id, owner, quotation_id,
		                          close_price, payout, tax, reason, closed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		st.ID, st.OrderID, st.ShareID, st.Owner, st.QuotationID,
		st.ClosePrice.String(), st.Payout.String(), st.Tax.String(),
		string(st.Reason), st.ClosedAt,
	)
	return err
}

func (s *PostgresStore) SettlementsByOwner(ctx context.Context, owner string) ([]model.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, share_id, owner, quotation_id,
		        close_price::TEXT, payout::TEXT, tax::TEXT, reason, closed_at
		 FROM settlements WHERE owner = $1 ORDER BY closed_at`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSettlements(rows)
}

func (s *PostgresStore) SettlementsByQuotation(ctx context.Context, quotationID string) ([]model.Settlement, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, share_id, owner, quotation_id,
		        close_price::TEXT, payout::TEXT, tax::TEXT, reason, closed_at
		 FROM settlements WHERE quotation_id = $1 ORDER BY closed_at`, quotationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSettlements(rows)
}

// pgxRows narrows pgx.Rows for settlement scanning.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanSettlements(rows pgxRows) ([]model.Settlement, error) {
	var settlements []model.Settlement
	for rows.Next() {
		var st model.Settlement
		var closeS, payoutS, taxS, reason string

		if err := rows.Scan(&st.ID, &st.OrderID, &st.ShareID, &st.Owner, &st.QuotationID,
			&closeS, &payoutS, &taxS, &reason, &st.ClosedAt); err != nil {
			return nil, err
		}
		st.ClosePrice, _ = decimal.NewFromString(closeS)
		st.Payout, _ = decimal.NewFromString(payoutS)
		st.Tax, _ = decimal.NewFromString(taxS)
		st.Reason = model.CloseReason(reason)
		settlements = append(settlements, st)
	}
	return settlements, rows.Err()
}
