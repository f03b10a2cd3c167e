// Package redisstore keeps the seat table in Redis hashes so several server
// instances can adjudicate the same rooms. Claim and release run as Lua
// scripts, which makes them atomic per room.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/domain"
)

// KEYS[1] seats hash (index -> seat json), KEYS[2] users hash (user id -> index)
// ARGV[1] index, ARGV[2] user id, ARGV[3] seat json, ARGV[4] override flag
var claimScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local owner = cjson.decode(cur)['user_id']
  if owner == ARGV[2] then return {'owner', cur} end
  if ARGV[4] ~= '1' then return {'occupied', cur} end
end
local held = redis.call('HGET', KEYS[2], ARGV[2])
if held and held ~= ARGV[1] then return {'seated', held} end
if cur then redis.call('HDEL', KEYS[2], cjson.decode(cur)['user_id']) end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[1])
return {'created', ARGV[3]}
`)

// ARGV[1] index, ARGV[2] user id, ARGV[3] force flag
var releaseScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then return false end
local owner = cjson.decode(cur)['user_id']
if owner ~= ARGV[2] and ARGV[3] ~= '1' then return {'forbidden', cur} end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], owner)
return {'released', cur}
`)

type Store struct {
	client    *redis.Client
	keyPrefix string
}

// Connect opens a client and checks it with a ping.
func Connect(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func New(client *redis.Client, keyPrefix string) *Store {
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) seatsKey(room domain.RoomName) string { return s.keyPrefix + "seats:" + string(room) }
func (s *Store) usersKey(room domain.RoomName) string {
	return s.keyPrefix + "seats:" + string(room) + ":users"
}
func (s *Store) bansKey(room domain.RoomName) string { return s.keyPrefix + "seatbans:" + string(room) }

func (s *Store) Claim(ctx context.Context, room domain.RoomName, req domain.ClaimRequest, at time.Time) (domain.ClaimResult, error) {
	if !req.Index.Valid() {
		return domain.ClaimResult{}, domain.ErrInvalidSeat
	}
	seat := domain.Seat{
		Room:       room,
		Index:      req.Index,
		UserID:     req.Occupant.UserID,
		Username:   req.Occupant.Username,
		AvatarURL:  req.Occupant.AvatarURL,
		Role:       req.Occupant.Role,
		Metadata:   req.Occupant.Metadata,
		AssignedAt: at.UTC(),
	}
	data, err := json.Marshal(seat)
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("failed to marshal seat: %w", err)
	}
	override := "0"
	if req.Override {
		override = "1"
	}

	res, err := claimScript.Run(ctx, s.client,
		[]string{s.seatsKey(room), s.usersKey(room)},
		strconv.Itoa(int(req.Index)), seat.UserID, string(data), override,
	).StringSlice()
	if err != nil {
		return domain.ClaimResult{}, fmt.Errorf("claim script: %w", err)
	}
	if len(res) != 2 {
		return domain.ClaimResult{}, fmt.Errorf("claim script: unexpected reply %v", res)
	}

	switch res[0] {
	case "seated":
		return domain.ClaimResult{}, domain.ErrAlreadySeated
	case "owner", "occupied", "created":
		row, err := decodeSeat(res[1])
		if err != nil {
			return domain.ClaimResult{}, err
		}
		return domain.ClaimResult{Seat: row, Created: res[0] == "created", IsOwner: res[0] == "owner"}, nil
	default:
		return domain.ClaimResult{}, fmt.Errorf("claim script: unknown status %q", res[0])
	}
}

func (s *Store) Release(ctx context.Context, room domain.RoomName, index domain.SeatIndex, userID string, force bool) (*domain.Seat, error) {
	if !index.Valid() {
		return nil, domain.ErrInvalidSeat
	}
	flag := "0"
	if force {
		flag = "1"
	}
	res, err := releaseScript.Run(ctx, s.client,
		[]string{s.seatsKey(room), s.usersKey(room)},
		strconv.Itoa(int(index)), userID, flag,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("release script: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("release script: unexpected reply %v", res)
	}
	if res[0] == "forbidden" {
		return nil, domain.ErrNotSeatOwner
	}
	return decodeSeat(res[1])
}

func (s *Store) List(ctx context.Context, room domain.RoomName) ([]domain.Seat, error) {
	values, err := s.client.HGetAll(ctx, s.seatsKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list seats: %w", err)
	}
	out := make([]domain.Seat, 0, len(values))
	for _, raw := range values {
		seat, err := decodeSeat(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *seat)
	}
	slices.SortFunc(out, func(a, b domain.Seat) int { return int(a.Index - b.Index) })
	return out, nil
}

func (s *Store) Clear(ctx context.Context, room domain.RoomName) (int, error) {
	var n *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		n = p.HLen(ctx, s.seatsKey(room))
		p.Del(ctx, s.seatsKey(room), s.usersKey(room))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear seats: %w", err)
	}
	return int(n.Val()), nil
}

func (s *Store) Ban(ctx context.Context, ban domain.SeatBan) error {
	data, err := json.Marshal(ban)
	if err != nil {
		return fmt.Errorf("failed to marshal ban: %w", err)
	}
	if err := s.client.HSet(ctx, s.bansKey(ban.Room), ban.UserID, data).Err(); err != nil {
		return fmt.Errorf("failed to save ban: %w", err)
	}
	return nil
}

func (s *Store) ActiveBan(ctx context.Context, room domain.RoomName, userID string, t time.Time) (*domain.SeatBan, error) {
	data, err := s.client.HGet(ctx, s.bansKey(room), userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ban: %w", err)
	}
	var ban domain.SeatBan
	if err := json.Unmarshal(data, &ban); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ban: %w", err)
	}
	if !ban.ActiveAt(t) {
		s.client.HDel(ctx, s.bansKey(room), userID)
		return nil, nil
	}
	return &ban, nil
}

func (s *Store) Close() error { return s.client.Close() }

func decodeSeat(raw string) (*domain.Seat, error) {
	var seat domain.Seat
	if err := json.Unmarshal([]byte(raw), &seat); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seat: %w", err)
	}
	return &seat, nil
}
