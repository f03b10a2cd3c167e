// Package postgres stores seats in the broadcast_seats table. The primary key
// (room, seat_index) and the unique (room, user_id) constraint do the
// adjudication; the Go side only interprets the outcome.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
)

//go:embed schema.sql
var schema string

const (
	seatColumns = "room, seat_index, user_id, username, avatar_url, role, metadata, assigned_at"

	selectSeatQuery = "SELECT " + seatColumns + " FROM broadcast_seats " +
		"WHERE room = $1 AND seat_index = $2 LIMIT 1"
	selectUserSeatQuery = "SELECT seat_index FROM broadcast_seats " +
		"WHERE room = $1 AND user_id = $2 LIMIT 1"
	insertSeatQuery = "INSERT INTO broadcast_seats (" + seatColumns + ") " +
		"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT DO NOTHING RETURNING " + seatColumns
	deleteSeatQuery = "DELETE FROM broadcast_seats WHERE room = $1 AND seat_index = $2"
	listSeatsQuery  = "SELECT " + seatColumns + " FROM broadcast_seats " +
		"WHERE room = $1 ORDER BY seat_index"
	clearSeatsQuery = "DELETE FROM broadcast_seats WHERE room = $1"
	upsertBanQuery  = "INSERT INTO broadcast_seat_bans (room, user_id, banned_until, created_by, created_at) " +
		"VALUES ($1, $2, $3, $4, $5) ON CONFLICT (room, user_id) " +
		"DO UPDATE SET banned_until = EXCLUDED.banned_until, created_by = EXCLUDED.created_by, created_at = EXCLUDED.created_at"
	selectBanQuery = "SELECT room, user_id, banned_until, created_by, created_at FROM broadcast_seat_bans " +
		"WHERE room = $1 AND user_id = $2 LIMIT 1"
	deleteBanQuery = "DELETE FROM broadcast_seat_bans WHERE room = $1 AND user_id = $2"
)

type Store struct {
	conn *sql.DB
	log  zerolog.Logger
}

func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{conn: db, log: log.With().Str("module", "adapters.store.postgres").Logger()}, nil
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSeat(row scanner) (*domain.Seat, error) {
	var (
		seat domain.Seat
		meta []byte
	)
	if err := row.Scan(
		&seat.Room,
		&seat.Index,
		&seat.UserID,
		&seat.Username,
		&seat.AvatarURL,
		&seat.Role,
		&meta,
		&seat.AssignedAt,
	); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &seat.Metadata); err != nil {
			return nil, fmt.Errorf("seat metadata: %w", err)
		}
	}
	return &seat, nil
}

func (s *Store) Claim(ctx context.Context, room domain.RoomName, req domain.ClaimRequest, at time.Time) (res domain.ClaimResult, err error) {
	if !req.Index.Valid() {
		return domain.ClaimResult{}, domain.ErrInvalidSeat
	}
	meta, err := json.Marshal(req.Occupant.Metadata)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("seat metadata: %w", err)
	}
	if req.Occupant.Metadata == nil {
		meta = []byte("{}")
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return domain.ClaimResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	userID := req.Occupant.UserID
	cur, err := scanSeat(tx.QueryRowContext(ctx, selectSeatQuery+" FOR UPDATE", room, req.Index))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.ClaimResult{}, err
	}
	if cur != nil {
		if cur.UserID == userID {
			return domain.ClaimResult{Seat: cur, IsOwner: true}, tx.Commit()
		}
		if !req.Override {
			return domain.ClaimResult{Seat: cur}, tx.Commit()
		}
	}

	var held domain.SeatIndex
	err = tx.QueryRowContext(ctx, selectUserSeatQuery, room, userID).Scan(&held)
	switch {
	case err == nil && held != req.Index:
		err = domain.ErrAlreadySeated
		return domain.ClaimResult{}, err
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return domain.ClaimResult{}, err
	}

	if cur != nil {
		if _, err = tx.ExecContext(ctx, deleteSeatQuery, room, req.Index); err != nil {
			return domain.ClaimResult{}, err
		}
	}

	seat, err := scanSeat(tx.QueryRowContext(ctx, insertSeatQuery,
		room,
		req.Index,
		userID,
		req.Occupant.Username,
		req.Occupant.AvatarURL,
		req.Occupant.Role,
		meta,
		at.UTC(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		// A concurrent claim won the seat or seated this user elsewhere.
		cur, err = scanSeat(tx.QueryRowContext(ctx, selectSeatQuery, room, req.Index))
		if errors.Is(err, sql.ErrNoRows) {
			err = domain.ErrAlreadySeated
			return domain.ClaimResult{}, err
		}
		if err != nil {
			return domain.ClaimResult{}, err
		}
		return domain.ClaimResult{Seat: cur, IsOwner: cur.UserID == userID}, tx.Commit()
	}
	if err != nil {
		return domain.ClaimResult{}, err
	}
	return domain.ClaimResult{Seat: seat, Created: true}, tx.Commit()
}

func (s *Store) Release(ctx context.Context, room domain.RoomName, index domain.SeatIndex, userID string, force bool) (seat *domain.Seat, err error) {
	if !index.Valid() {
		return nil, domain.ErrInvalidSeat
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	seat, err = scanSeat(tx.QueryRowContext(ctx, selectSeatQuery+" FOR UPDATE", room, index))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, err
	}
	if seat.UserID != userID && !force {
		err = domain.ErrNotSeatOwner
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, deleteSeatQuery, room, index); err != nil {
		return nil, err
	}
	return seat, tx.Commit()
}

func (s *Store) List(ctx context.Context, room domain.RoomName) ([]domain.Seat, error) {
	rows, err := s.conn.QueryContext(ctx, listSeatsQuery, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Seat, 0, domain.SeatCount)
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *seat)
	}
	return out, rows.Err()
}

func (s *Store) Clear(ctx context.Context, room domain.RoomName) (int, error) {
	res, err := s.conn.ExecContext(ctx, clearSeatsQuery, room)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) Ban(ctx context.Context, ban domain.SeatBan) error {
	var until sql.NullTime
	if ban.Until != nil {
		until = sql.NullTime{Time: ban.Until.UTC(), Valid: true}
	}
	_, err := s.conn.ExecContext(ctx, upsertBanQuery,
		ban.Room,
		ban.UserID,
		until,
		ban.CreatedBy,
		ban.CreatedAt.UTC(),
	)
	return err
}

func (s *Store) ActiveBan(ctx context.Context, room domain.RoomName, userID string, t time.Time) (*domain.SeatBan, error) {
	var (
		ban   domain.SeatBan
		until sql.NullTime
	)
	err := s.conn.QueryRowContext(ctx, selectBanQuery, room, userID).Scan(
		&ban.Room,
		&ban.UserID,
		&until,
		&ban.CreatedBy,
		&ban.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if until.Valid {
		ban.Until = &until.Time
	}
	if !ban.ActiveAt(t) {
		if _, err := s.conn.ExecContext(ctx, deleteBanQuery, room, userID); err != nil {
			s.log.Warn().Err(err).Str("room", string(room)).Str("user", userID).Msg("failed to drop expired seat ban")
		}
		return nil, nil
	}
	return &ban, nil
}

func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
