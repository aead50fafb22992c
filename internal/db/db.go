package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/store"
)

const uniqueViolation = "23505"

var auctionColumns = []string{
	"id", "seller_id", "title", "category",
	"start_price", "reserve_price", "min_increment", "current_price",
	"start_time", "end_time", "status",
	"bid_count", "extensions", "version", "created_at", "closed_at",
}

var bidColumns = []string{"id", "auction_id", "sequence", "bidder_id", "amount", "submitted_at"}

// DB is a PostgreSQL implementation of store.Store
type DB struct {
	Pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

var _ store.Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{Pool: pool, sb: builder()}, nil
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// CreateAuction inserts a new auction
func (db *DB) CreateAuction(ctx context.Context, a *models.Auction) error {
	query, args, err := db.sb.Insert("auctions").
		Columns(auctionColumns...).
		Values(auctionValues(a)...).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

// GetAuction retrieves an auction by id
func (db *DB) GetAuction(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	query, args, err := db.sb.Select(auctionColumns...).
		From("auctions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	a, err := scanAuction(db.Pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

// ListAuctions retrieves auctions matching f ordered by end time
func (db *DB) ListAuctions(ctx context.Context, f store.Filter) ([]models.Auction, error) {
	query, args, err := db.listQuery(f).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	return db.queryAuctions(ctx, query, args...)
}

func (db *DB) listQuery(f store.Filter) sq.SelectBuilder {
	q := db.sb.Select(auctionColumns...).From("auctions")
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Category != "" {
		q = q.Where(sq.Eq{"category": f.Category})
	}
	if f.SellerID != "" {
		q = q.Where(sq.Eq{"seller_id": f.SellerID})
	}
	q = q.OrderBy("end_time ASC", "id ASC")
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	return q
}

// ListDue retrieves auctions whose start or end has passed
func (db *DB) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	q := db.sb.Select(auctionColumns...).
		From("auctions").
		Where(sq.Or{
			sq.And{sq.Eq{"status": string(models.StatusScheduled)}, sq.LtOrEq{"start_time": now}},
			sq.And{sq.Eq{"status": string(models.StatusActive)}, sq.LtOrEq{"end_time": now}},
		}).
		OrderBy("end_time ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	return db.queryAuctions(ctx, query, args...)
}

// UpdateAuction replaces the snapshot if the stored version still matches
func (db *DB) UpdateAuction(ctx context.Context, a *models.Auction, expectedVersion int64) error {
	tag, err := db.updateAuction(ctx, db.Pool, a, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.missOrConflict(ctx, db.Pool, a.ID)
	}
	a.Version = expectedVersion + 1
	return nil
}

// CommitBid updates the snapshot and inserts the bid in one transaction
func (db *DB) CommitBid(ctx context.Context, a *models.Auction, expectedVersion int64, bid models.Bid) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := db.updateAuction(ctx, tx, a, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.missOrConflict(ctx, tx, a.ID)
	}

	query, args, err := db.sb.Insert("bids").
		Columns(bidColumns...).
		Values(bid.ID, bid.AuctionID, bid.Sequence, bid.BidderID, bid.Amount, bid.SubmittedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrSequenceConflict
		}
		return fmt.Errorf("failed to insert bid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	a.Version = expectedVersion + 1
	return nil
}

// ListBids retrieves the ledger of an auction in sequence order
func (db *DB) ListBids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	if err := db.exists(ctx, db.Pool, auctionID); err != nil {
		return nil, err
	}
	query, args, err := db.sb.Select(bidColumns...).
		From("bids").
		Where(sq.Eq{"auction_id": auctionID}).
		OrderBy("sequence ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	defer rows.Close()

	bids := []models.Bid{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return bids, nil
}

// LatestBid retrieves the bid with the highest sequence, or nil
func (db *DB) LatestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	if err := db.exists(ctx, db.Pool, auctionID); err != nil {
		return nil, err
	}
	query, args, err := db.sb.Select(bidColumns...).
		From("bids").
		Where(sq.Eq{"auction_id": auctionID}).
		OrderBy("sequence DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select: %w", err)
	}
	b, err := scanBid(db.Pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest bid: %w", err)
	}
	return b, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (db *DB) updateAuction(ctx context.Context, q querier, a *models.Auction, expectedVersion int64) (pgconn.CommandTag, error) {
	query, args, err := db.sb.Update("auctions").SetMap(map[string]any{
		"title":         a.Title,
		"category":      a.Category,
		"start_price":   a.StartPrice,
		"reserve_price": nullDecimal(a.ReservePrice),
		"min_increment": a.MinIncrement,
		"current_price": a.CurrentPrice,
		"start_time":    a.StartTime,
		"end_time":      a.EndTime,
		"status":        string(a.Status),
		"bid_count":     a.BidCount,
		"extensions":    a.Extensions,
		"version":       expectedVersion + 1,
		"closed_at":     a.ClosedAt,
	}).
		Where(sq.Eq{"id": a.ID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return q.Exec(ctx, query, args...)
}

// missOrConflict tells an unknown id apart from a stale version after an
// update matched no rows
func (db *DB) missOrConflict(ctx context.Context, q querier, id uuid.UUID) error {
	if err := db.exists(ctx, q, id); err != nil {
		return err
	}
	return store.ErrVersionConflict
}

func (db *DB) exists(ctx context.Context, q querier, id uuid.UUID) error {
	var ok bool
	err := q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM auctions WHERE id = $1)", id).Scan(&ok)
	if err != nil {
		return fmt.Errorf("failed to check auction existence: %w", err)
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (db *DB) queryAuctions(ctx context.Context, query string, args ...any) ([]models.Auction, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	auctions := []models.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	return auctions, nil
}

func auctionValues(a *models.Auction) []any {
	return []any{
		a.ID, a.SellerID, a.Title, a.Category,
		a.StartPrice, nullDecimal(a.ReservePrice), a.MinIncrement, a.CurrentPrice,
		a.StartTime, a.EndTime, string(a.Status),
		a.BidCount, a.Extensions, a.Version, a.CreatedAt, a.ClosedAt,
	}
}

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var (
		a       models.Auction
		status  string
		reserve decimal.NullDecimal
	)
	err := row.Scan(
		&a.ID, &a.SellerID, &a.Title, &a.Category,
		&a.StartPrice, &reserve, &a.MinIncrement, &a.CurrentPrice,
		&a.StartTime, &a.EndTime, &status,
		&a.BidCount, &a.Extensions, &a.Version, &a.CreatedAt, &a.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = models.Status(status)
	if reserve.Valid {
		r := reserve.Decimal
		a.ReservePrice = &r
	}
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	if a.ClosedAt != nil {
		t := a.ClosedAt.UTC()
		a.ClosedAt = &t
	}
	return &a, nil
}

func scanBid(row pgx.Row) (*models.Bid, error) {
	var b models.Bid
	if err := row.Scan(&b.ID, &b.AuctionID, &b.Sequence, &b.BidderID, &b.Amount, &b.SubmittedAt); err != nil {
		return nil, err
	}
	b.SubmittedAt = b.SubmittedAt.UTC()
	return &b, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
