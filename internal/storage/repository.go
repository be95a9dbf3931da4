package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"p2p-spread-alerts/internal/config"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	insertObservationSQL = `INSERT INTO observations (
        observed_at,
        fiat,
        method,
        buy_price,
        sell_price,
        spread_pct,
        threshold_pct,
        active,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	listRecentObservationsSQL = `SELECT
        id, observed_at, fiat, method, buy_price, sell_price,
        spread_pct, threshold_pct, active, status, error, created_at
    FROM observations
    ORDER BY observed_at DESC
    LIMIT $1;`

	listPairObservationsBetweenSQL = `SELECT
        id, observed_at, fiat, method, buy_price, sell_price,
        spread_pct, threshold_pct, active, status, error, created_at
    FROM observations
    WHERE fiat = $1
      AND method = $2
      AND observed_at >= $3
      AND observed_at < $4
    ORDER BY observed_at;`

	deleteObservationsBeforeSQL = `DELETE FROM observations WHERE observed_at < $1;`

	insertAlertSQL = `INSERT INTO alert_emissions (
        observed_at,
        fiat,
        method,
        message_type,
        spread_pct,
        buy_price,
        sell_price,
        signature
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    ) RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id, observed_at, fiat, method, message_type,
        spread_pct, buy_price, sell_price, signature, created_at
    FROM alert_emissions
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alert_emissions WHERE created_at < $1;`
)

// ObservationStore defines operations for observation persistence.
type ObservationStore interface {
	InsertObservation(ctx context.Context, obs Observation) error
	ListRecentObservations(ctx context.Context, limit int) ([]Observation, error)
	ListPairObservationsBetween(ctx context.Context, fiat, method string, from, to time.Time) ([]Observation, error)
	DeleteObservationsBefore(ctx context.Context, olderThan time.Time) error
}

// AlertStore defines operations for alert-emission auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertEmission) (AlertEmission, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertEmission, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// Store aggregates access to observations and alert emissions.
type Store struct {
	pool *pgxpool.Pool
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertObservation persists one pair evaluation.
func (s *Store) InsertObservation(ctx context.Context, obs Observation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if obs.Error != nil {
		errMsg = *obs.Error
	}

	_, execErr := pool.Exec(ctx, insertObservationSQL,
		obs.ObservedAt,
		obs.Fiat,
		obs.Method,
		obs.BuyPrice.String(),
		obs.SellPrice.String(),
		obs.SpreadPct.String(),
		obs.ThresholdPct.String(),
		obs.Active,
		obs.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("insert observation: %w", execErr)
	}
	return nil
}

// ListRecentObservations lists the most recent observations across all pairs.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows, limit)
}

// ListPairObservationsBetween lists one pair's observations within a window.
func (s *Store) ListPairObservationsBetween(ctx context.Context, fiat, method string, from, to time.Time) ([]Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPairObservationsBetweenSQL, fiat, method, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list pair observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows, 0)
}

// DeleteObservationsBefore prunes historical observations.
func (s *Store) DeleteObservationsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteObservationsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete observations before: %w", execErr)
	}
	return nil
}

// InsertAlert persists one dispatched notification.
func (s *Store) InsertAlert(ctx context.Context, alert AlertEmission) (AlertEmission, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertEmission{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ObservedAt,
		alert.Fiat,
		alert.Method,
		alert.MessageType,
		alert.SpreadPct.String(),
		alert.BuyPrice.String(),
		alert.SellPrice.String(),
		alert.Signature,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertEmission{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alert emissions.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertEmission, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertEmission, 0, limit)
	for rows.Next() {
		var (
			rec       AlertEmission
			spread    string
			buy       string
			sell      string
			convErr   error
			scanError = rows.Scan(
				&rec.ID,
				&rec.ObservedAt,
				&rec.Fiat,
				&rec.Method,
				&rec.MessageType,
				&spread,
				&buy,
				&sell,
				&rec.Signature,
				&rec.CreatedAt,
			)
		)
		if scanError != nil {
			return nil, scanError
		}
		if rec.SpreadPct, convErr = decimal.NewFromString(spread); convErr != nil {
			return nil, fmt.Errorf("parse spread pct: %w", convErr)
		}
		if rec.BuyPrice, convErr = decimal.NewFromString(buy); convErr != nil {
			return nil, fmt.Errorf("parse buy price: %w", convErr)
		}
		if rec.SellPrice, convErr = decimal.NewFromString(sell); convErr != nil {
			return nil, fmt.Errorf("parse sell price: %w", convErr)
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alert emissions.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func collectObservations(rows pgx.Rows, sizeHint int) ([]Observation, error) {
	observations := make([]Observation, 0, sizeHint)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanObservation(rows pgx.Rows) (Observation, error) {
	var (
		obs          Observation
		buyStr       string
		sellStr      string
		spreadStr    string
		thresholdStr string
		errMsg       sql.NullString
	)

	if err := rows.Scan(
		&obs.ID,
		&obs.ObservedAt,
		&obs.Fiat,
		&obs.Method,
		&buyStr,
		&sellStr,
		&spreadStr,
		&thresholdStr,
		&obs.Active,
		&obs.Status,
		&errMsg,
		&obs.CreatedAt,
	); err != nil {
		return Observation{}, err
	}

	var err error
	if obs.BuyPrice, err = decimal.NewFromString(buyStr); err != nil {
		return Observation{}, fmt.Errorf("parse buy price: %w", err)
	}
	if obs.SellPrice, err = decimal.NewFromString(sellStr); err != nil {
		return Observation{}, fmt.Errorf("parse sell price: %w", err)
	}
	if obs.SpreadPct, err = decimal.NewFromString(spreadStr); err != nil {
		return Observation{}, fmt.Errorf("parse spread pct: %w", err)
	}
	if obs.ThresholdPct, err = decimal.NewFromString(thresholdStr); err != nil {
		return Observation{}, fmt.Errorf("parse threshold pct: %w", err)
	}
	if errMsg.Valid {
		msg := errMsg.String
		obs.Error = &msg
	}

	return obs, nil
}
