// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rafflehouse/raffle-engine/internal/app/domain/luckyrefund"
	"github.com/rafflehouse/raffle-engine/internal/app/domain/raffle"
	"github.com/rafflehouse/raffle-engine/internal/app/domain/randomness"
	"github.com/rafflehouse/raffle-engine/internal/app/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS raffles (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	status TEXT NOT NULL,
	needs_reroll BOOLEAN NOT NULL DEFAULT FALSE,
	tickets_sold BIGINT NOT NULL DEFAULT 0,
	body JSONB NOT NULL,
	skill_test_answer BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS raffles_status_idx ON raffles (status);
CREATE INDEX IF NOT EXISTS raffles_account_idx ON raffles (account_id);
CREATE INDEX IF NOT EXISTS raffles_reroll_idx ON raffles (needs_reroll) WHERE needs_reroll;

CREATE TABLE IF NOT EXISTS raffle_entries (
	raffle_id TEXT NOT NULL REFERENCES raffles (id),
	seq BIGSERIAL,
	buyer TEXT NOT NULL,
	cumulative BIGINT NOT NULL,
	PRIMARY KEY (raffle_id, seq)
);

CREATE TABLE IF NOT EXISTS raffle_participants (
	raffle_id TEXT NOT NULL REFERENCES raffles (id),
	address TEXT NOT NULL,
	ticket_count BIGINT NOT NULL DEFAULT 0,
	amount_paid BIGINT NOT NULL DEFAULT 0,
	is_winner BOOLEAN NOT NULL DEFAULT FALSE,
	skill_test_failed BOOLEAN NOT NULL DEFAULT FALSE,
	claimed_cash_alt BOOLEAN NOT NULL DEFAULT FALSE,
	claimed_refund BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (raffle_id, address)
);

CREATE TABLE IF NOT EXISTS lucky_refund_records (
	raffle_id TEXT PRIMARY KEY REFERENCES raffles (id),
	sampling_done BOOLEAN NOT NULL DEFAULT FALSE,
	body JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS lucky_refund_due_idx ON lucky_refund_records (sampling_done) WHERE NOT sampling_done;

CREATE TABLE IF NOT EXISTS randomness_requests (
	id TEXT PRIMARY KEY,
	raffle_id TEXT NOT NULL,
	status TEXT NOT NULL,
	value NUMERIC(20) NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	fulfilled_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS randomness_pending_idx ON randomness_requests (status, created_at);
`

// Store implements the storage interfaces backed by PostgreSQL. Raffle and
// lucky refund bodies are stored as JSONB with the queryable columns
// projected out, so schema churn stays confined to the domain structs.
type Store struct {
	db *sql.DB
}

var _ storage.RaffleStore = (*Store)(nil)
var _ storage.LuckyRefundStore = (*Store)(nil)
var _ storage.RandomnessStore = (*Store)(nil)
var _ storage.Transactional = (*Store)(nil)

// New creates a Store and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// querier is the subset of *sql.DB and *sql.Tx the store queries through.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// q resolves the querier for ctx: the transaction opened by an enclosing
// RunInTransaction, or the pool.
func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// RunInTransaction implements storage.Transactional. A nested call joins
// the transaction already bound to ctx.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// --- RaffleStore ------------------------------------------------------------

func (s *Store) CreateRaffle(ctx context.Context, r raffle.Raffle) (raffle.Raffle, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	body, err := json.Marshal(r)
	if err != nil {
		return raffle.Raffle{}, err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO raffles (id, account_id, status, needs_reroll, tickets_sold, body, skill_test_answer, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.AccountID, string(r.Status), r.NeedsReroll, r.TicketsSold, body, r.SkillTestAnswer, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return raffle.Raffle{}, err
	}
	return r, nil
}

func (s *Store) UpdateRaffle(ctx context.Context, r raffle.Raffle) (raffle.Raffle, error) {
	existing, err := s.GetRaffle(ctx, r.ID)
	if err != nil {
		return raffle.Raffle{}, err
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()

	body, err := json.Marshal(r)
	if err != nil {
		return raffle.Raffle{}, err
	}
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE raffles
		SET account_id = $2, status = $3, needs_reroll = $4, tickets_sold = $5, body = $6, skill_test_answer = $7, updated_at = $8
		WHERE id = $1
	`, r.ID, r.AccountID, string(r.Status), r.NeedsReroll, r.TicketsSold, body, r.SkillTestAnswer, r.UpdatedAt)
	if err != nil {
		return raffle.Raffle{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return raffle.Raffle{}, fmt.Errorf("raffle %s: %w", r.ID, storage.ErrNotFound)
	}
	return r, nil
}

func (s *Store) GetRaffle(ctx context.Context, id string) (raffle.Raffle, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT body, skill_test_answer, created_at, updated_at
		FROM raffles
		WHERE id = $1
	`, id)
	return scanRaffle(row, id)
}

func scanRaffle(row *sql.Row, id string) (raffle.Raffle, error) {
	var (
		body      []byte
		answer    int64
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&body, &answer, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return raffle.Raffle{}, fmt.Errorf("raffle %s: %w", id, storage.ErrNotFound)
		}
		return raffle.Raffle{}, err
	}
	return decodeRaffle(body, answer, createdAt, updatedAt)
}

// decodeRaffle restores the fields json.Marshal drops or that the columns
// are authoritative for.
func decodeRaffle(body []byte, answer int64, createdAt, updatedAt time.Time) (raffle.Raffle, error) {
	var r raffle.Raffle
	if err := json.Unmarshal(body, &r); err != nil {
		return raffle.Raffle{}, err
	}
	r.SkillTestAnswer = answer
	r.CreatedAt = createdAt
	r.UpdatedAt = updatedAt
	return r, nil
}

func (s *Store) ListRaffles(ctx context.Context, accountID string, limit int) ([]raffle.Raffle, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT body, skill_test_answer, created_at, updated_at
		FROM raffles
		ORDER BY created_at DESC
		LIMIT $1`
	args := []any{limit}
	if accountID != "" {
		query = `
		SELECT body, skill_test_answer, created_at, updated_at
		FROM raffles
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
		args = []any{accountID, limit}
	}
	return s.queryRaffles(ctx, query, args...)
}

func (s *Store) ListByStatus(ctx context.Context, status raffle.Status, limit int) ([]raffle.Raffle, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRaffles(ctx, `
		SELECT body, skill_test_answer, created_at, updated_at
		FROM raffles
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`, string(status), limit)
}

func (s *Store) ListNeedingReroll(ctx context.Context, limit int) ([]raffle.Raffle, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryRaffles(ctx, `
		SELECT body, skill_test_answer, created_at, updated_at
		FROM raffles
		WHERE needs_reroll
		ORDER BY created_at
		LIMIT $1
	`, limit)
}

func (s *Store) queryRaffles(ctx context.Context, query string, args ...any) ([]raffle.Raffle, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]raffle.Raffle, 0)
	for rows.Next() {
		var (
			body      []byte
			answer    int64
			createdAt time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&body, &answer, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r, err := decodeRaffle(body, answer, createdAt, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AppendEntry(ctx context.Context, raffleID string, e raffle.Entry) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO raffle_entries (raffle_id, buyer, cumulative)
		VALUES ($1, $2, $3)
	`, raffleID, e.Buyer, e.Cumulative)
	return err
}

func (s *Store) ListEntries(ctx context.Context, raffleID string) ([]raffle.Entry, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT buyer, cumulative
		FROM raffle_entries
		WHERE raffle_id = $1
		ORDER BY seq
	`, raffleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]raffle.Entry, 0)
	for rows.Next() {
		var e raffle.Entry
		if err := rows.Scan(&e.Buyer, &e.Cumulative); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) UpsertParticipant(ctx context.Context, p raffle.Participant) (raffle.Participant, error) {
	now := time.Now().UTC()
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO raffle_participants (raffle_id, address, ticket_count, amount_paid, is_winner, skill_test_failed, claimed_cash_alt, claimed_refund, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (raffle_id, address) DO UPDATE
		SET ticket_count = EXCLUDED.ticket_count,
		    amount_paid = EXCLUDED.amount_paid,
		    is_winner = EXCLUDED.is_winner,
		    skill_test_failed = EXCLUDED.skill_test_failed,
		    claimed_cash_alt = EXCLUDED.claimed_cash_alt,
		    claimed_refund = EXCLUDED.claimed_refund,
		    updated_at = EXCLUDED.updated_at
	`, p.RaffleID, p.Address, p.TicketCount, p.AmountPaid, p.IsWinner, p.SkillTestFailed, p.ClaimedCashAlt, p.ClaimedRefund, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return raffle.Participant{}, err
	}
	return p, nil
}

func (s *Store) GetParticipant(ctx context.Context, raffleID, address string) (raffle.Participant, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT raffle_id, address, ticket_count, amount_paid, is_winner, skill_test_failed, claimed_cash_alt, claimed_refund, created_at, updated_at
		FROM raffle_participants
		WHERE raffle_id = $1 AND address = $2
	`, raffleID, address)

	var p raffle.Participant
	err := row.Scan(&p.RaffleID, &p.Address, &p.TicketCount, &p.AmountPaid, &p.IsWinner, &p.SkillTestFailed, &p.ClaimedCashAlt, &p.ClaimedRefund, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.Participant{}, fmt.Errorf("participant %s in raffle %s: %w", address, raffleID, storage.ErrNotFound)
	}
	if err != nil {
		return raffle.Participant{}, err
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context, raffleID string) ([]raffle.Participant, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT raffle_id, address, ticket_count, amount_paid, is_winner, skill_test_failed, claimed_cash_alt, claimed_refund, created_at, updated_at
		FROM raffle_participants
		WHERE raffle_id = $1
		ORDER BY created_at, address
	`, raffleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]raffle.Participant, 0)
	for rows.Next() {
		var p raffle.Participant
		if err := rows.Scan(&p.RaffleID, &p.Address, &p.TicketCount, &p.AmountPaid, &p.IsWinner, &p.SkillTestFailed, &p.ClaimedCashAlt, &p.ClaimedRefund, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ParticipantCount(ctx context.Context, raffleID string) (int64, error) {
	var n int64
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM raffle_participants WHERE raffle_id = $1
	`, raffleID).Scan(&n)
	return n, err
}

func (s *Store) GetStats(ctx context.Context, accountID string) (raffle.Stats, error) {
	var stats raffle.Stats
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status NOT IN ('ended', 'auto_ended', 'canceled')),
		       COALESCE(SUM(tickets_sold), 0),
		       COALESCE(SUM((body->>'claimed_amount')::BIGINT), 0),
		       COALESCE(SUM((body->>'refunded_amount')::BIGINT), 0)
		FROM raffles
		WHERE $1 = '' OR account_id = $1
	`, accountID).Scan(&stats.TotalRaffles, &stats.OpenRaffles, &stats.TicketsSold, &stats.AmountSettled, &stats.AmountRefunded)
	return stats, err
}

// --- LuckyRefundStore -------------------------------------------------------

func (s *Store) CreateRecord(ctx context.Context, rec luckyrefund.Record) (luckyrefund.Record, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	body, err := json.Marshal(rec)
	if err != nil {
		return luckyrefund.Record{}, err
	}
	_, err = s.q(ctx).ExecContext(ctx, `
		INSERT INTO lucky_refund_records (raffle_id, sampling_done, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.RaffleID, rec.SamplingDone, body, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return luckyrefund.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateRecord(ctx context.Context, rec luckyrefund.Record) (luckyrefund.Record, error) {
	rec.UpdatedAt = time.Now().UTC()

	body, err := json.Marshal(rec)
	if err != nil {
		return luckyrefund.Record{}, err
	}
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE lucky_refund_records
		SET sampling_done = $2, body = $3, updated_at = $4
		WHERE raffle_id = $1
	`, rec.RaffleID, rec.SamplingDone, body, rec.UpdatedAt)
	if err != nil {
		return luckyrefund.Record{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return luckyrefund.Record{}, fmt.Errorf("lucky refund record for raffle %s: %w", rec.RaffleID, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) GetRecord(ctx context.Context, raffleID string) (luckyrefund.Record, error) {
	var (
		body      []byte
		createdAt time.Time
		updatedAt time.Time
	)
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT body, created_at, updated_at
		FROM lucky_refund_records
		WHERE raffle_id = $1
	`, raffleID).Scan(&body, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return luckyrefund.Record{}, fmt.Errorf("lucky refund record for raffle %s: %w", raffleID, storage.ErrNotFound)
	}
	if err != nil {
		return luckyrefund.Record{}, err
	}

	var rec luckyrefund.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return luckyrefund.Record{}, err
	}
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return rec, nil
}

func (s *Store) ListSamplingDue(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT raffle_id
		FROM lucky_refund_records
		WHERE NOT sampling_done
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- RandomnessStore --------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO randomness_requests (id, raffle_id, status, value, created_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, req.ID, req.RaffleID, string(req.Status), fmt.Sprintf("%d", req.Value), req.CreatedAt, nullableTime(req.FulfilledAt))
	if err != nil {
		return randomness.Request{}, err
	}
	return req, nil
}

func (s *Store) UpdateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error) {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE randomness_requests
		SET status = $2, value = $3, fulfilled_at = $4
		WHERE id = $1
	`, req.ID, string(req.Status), fmt.Sprintf("%d", req.Value), nullableTime(req.FulfilledAt))
	if err != nil {
		return randomness.Request{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return randomness.Request{}, fmt.Errorf("randomness request %s: %w", req.ID, storage.ErrNotFound)
	}
	return req, nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func (s *Store) GetRequest(ctx context.Context, id string) (randomness.Request, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, raffle_id, status, value::TEXT, created_at, fulfilled_at
		FROM randomness_requests
		WHERE id = $1
	`, id)
	return scanRequest(row, id)
}

func scanRequest(row *sql.Row, id string) (randomness.Request, error) {
	var (
		req       randomness.Request
		status    string
		value     string
		fulfilled sql.NullTime
	)
	err := row.Scan(&req.ID, &req.RaffleID, &status, &value, &req.CreatedAt, &fulfilled)
	if errors.Is(err, sql.ErrNoRows) {
		return randomness.Request{}, fmt.Errorf("randomness request %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return randomness.Request{}, err
	}
	req.Status = randomness.RequestStatus(status)
	if _, err := fmt.Sscan(value, &req.Value); err != nil {
		return randomness.Request{}, fmt.Errorf("decode randomness value: %w", err)
	}
	if fulfilled.Valid {
		req.FulfilledAt = fulfilled.Time
	}
	return req, nil
}

func (s *Store) ListPendingRequests(ctx context.Context, limit int) ([]randomness.Request, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, raffle_id, status, value::TEXT, created_at, fulfilled_at
		FROM randomness_requests
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]randomness.Request, 0)
	for rows.Next() {
		var (
			req       randomness.Request
			status    string
			value     string
			fulfilled sql.NullTime
		)
		if err := rows.Scan(&req.ID, &req.RaffleID, &status, &value, &req.CreatedAt, &fulfilled); err != nil {
			return nil, err
		}
		req.Status = randomness.RequestStatus(status)
		if _, err := fmt.Sscan(value, &req.Value); err != nil {
			return nil, fmt.Errorf("decode randomness value: %w", err)
		}
		if fulfilled.Valid {
			req.FulfilledAt = fulfilled.Time
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
