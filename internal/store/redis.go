package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/network-monitor/internal/logger"
	"github.com/zsiec/network-monitor/internal/network"
)

// applyScript bumps the station count and pushes the event onto the
// capped history in one step.
var applyScript = redis.NewScript(`
	local counts_key = KEYS[1]
	local recent_key = KEYS[2]
	local station_id = ARGV[1]
	local delta = tonumber(ARGV[2])
	local event = ARGV[3]
	local keep = tonumber(ARGV[4])
	local count = redis.call('HINCRBY', counts_key, station_id, delta)
	redis.call('LPUSH', recent_key, event)
	redis.call('LTRIM', recent_key, 0, keep - 1)
	return count
`)

// RedisStore keeps counts in a hash and the recent history in a capped
// list, both under a key prefix.
type RedisStore struct {
	client      redis.UniversalClient
	logger      logger.Logger
	countsKey   string
	recentKey   string
	historySize int
}

// NewRedisStore creates a store on client. historySize caps the recent
// event list.
func NewRedisStore(client redis.UniversalClient, log logger.Logger, prefix string, historySize int) *RedisStore {
	if historySize <= 0 {
		historySize = 1000
	}
	return &RedisStore{
		client:      client,
		logger:      log,
		countsKey:   prefix + "passengers:counts",
		recentKey:   prefix + "passengers:recent",
		historySize: historySize,
	}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.countsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load passenger counts: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for station, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.logger.WithFields(map[string]interface{}{
				"station_id": station,
				"value":      value,
			}).Warn("Skipping corrupt passenger count")
			continue
		}
		counts[station] = n
	}
	return counts, nil
}

func (s *RedisStore) Apply(ctx context.Context, event network.PassengerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = applyScript.Run(ctx, s.client,
		[]string{s.countsKey, s.recentKey},
		event.StationID, delta(event.Type), data, s.historySize).Err()
	if err != nil {
		return fmt.Errorf("failed to persist passenger event: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, n int) ([]network.PassengerEvent, error) {
	if n <= 0 {
		return []network.PassengerEvent{}, nil
	}

	raw, err := s.client.LRange(ctx, s.recentKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}

	events := make([]network.PassengerEvent, 0, len(raw))
	for _, item := range raw {
		var ev network.PassengerEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			s.logger.WithError(err).Warn("Skipping corrupt recent event")
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.countsKey, s.recentKey).Err(); err != nil {
		return fmt.Errorf("failed to reset passenger store: %w", err)
	}
	s.logger.Info("Passenger store reset")
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
