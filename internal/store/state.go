package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smukkama/glucose-stats/internal/protocol"
	"github.com/smukkama/glucose-stats/internal/tracker"
)

const keyPrefix = "tracker_state:"

// ErrCorruptState is returned by Get when the stored record cannot be decoded.
// Retrying will not help; the state has to be rebuilt or deleted.
var ErrCorruptState = &StoreError{"stored tracker state is corrupt"}

// StoreError represents a state store error
type StoreError struct {
	msg string
}

func (e *StoreError) Error() string {
	return e.msg
}

// StateStore keeps one tracker state per subject in Redis
type StateStore struct {
	redis redis.Cmdable
	ttl   time.Duration
}

// NewStateStore creates a state store. A zero ttl keeps states forever.
func NewStateStore(redisClient redis.Cmdable, ttl time.Duration) *StateStore {
	return &StateStore{redis: redisClient, ttl: ttl}
}

// Key returns the Redis key holding a subject's state
func Key(subjectID string) string {
	return keyPrefix + subjectID
}

// SubjectFromKey is the inverse of Key
func SubjectFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, keyPrefix), true
}

// Get retrieves the tracker state for a subject. found is false when the
// subject has no stored state yet.
func (s *StateStore) Get(ctx context.Context, subjectID string) (state tracker.State, found bool, err error) {
	data, err := s.redis.Get(ctx, Key(subjectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return tracker.State{}, false, nil
	}
	if err != nil {
		return tracker.State{}, false, fmt.Errorf("failed to get state from Redis: %w", err)
	}

	state, err = protocol.DecodeState(data)
	if err != nil {
		return tracker.State{}, false, fmt.Errorf("%w (%s): %v", ErrCorruptState, subjectID, err)
	}

	return state, true, nil
}

// Set saves the tracker state for a subject
func (s *StateStore) Set(ctx context.Context, subjectID string, state tracker.State) error {
	data, err := protocol.EncodeState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.redis.Set(ctx, Key(subjectID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set state in Redis: %w", err)
	}

	return nil
}

// Delete removes the stored state of a subject
func (s *StateStore) Delete(ctx context.Context, subjectID string) error {
	return s.redis.Del(ctx, Key(subjectID)).Err()
}

// Subjects returns the IDs of all subjects with a stored state
func (s *StateStore) Subjects(ctx context.Context) ([]string, error) {
	var subjects []string

	iter := s.redis.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if id, ok := SubjectFromKey(iter.Val()); ok {
			subjects = append(subjects, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan states: %w", err)
	}

	return subjects, nil
}
