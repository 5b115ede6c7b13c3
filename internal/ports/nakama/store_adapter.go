package nakama

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"streambingo/internal/ports"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

const stateCollection = "bingo_state"

// StorageCRUD is the slice of the Nakama module API the state store needs.
// Narrowed for testability; runtime.NakamaModule satisfies it.
type StorageCRUD interface {
	StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error)
	StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error)
	StorageDelete(ctx context.Context, deletes []*runtime.StorageDelete) error
}

// storedValue is the envelope persisted per key. Nakama storage has no
// native expiry, so TTLs are carried in the envelope and enforced on read.
type storedValue struct {
	Value string `json:"value"`
	// ExpiresAt is a unix timestamp in seconds; zero means no expiry.
	ExpiresAt int64 `json:"expires_at,omitempty"`
	// SlidingSeconds, when set, restarts the expiry window on every read.
	SlidingSeconds int64 `json:"sliding_seconds,omitempty"`
}

// NakamaStateStore implements ports.KeyValueStore over Nakama's storage
// engine. All keys live in one system-owned collection hidden from clients.
type NakamaStateStore struct {
	storage StorageCRUD
	now     func() time.Time
}

// NewNakamaStateStore creates a state store over the given storage API.
func NewNakamaStateStore(storage StorageCRUD) *NakamaStateStore {
	return &NakamaStateStore{storage: storage, now: time.Now}
}

// Get returns the value for key. Expired entries are deleted on read and
// reported as absent; sliding entries get their window refreshed.
func (s *NakamaStateStore) Get(ctx context.Context, key string) (string, bool, error) {
	objects, err := s.storage.StorageRead(ctx, []*runtime.StorageRead{
		{Collection: stateCollection, Key: key},
	})
	if err != nil {
		return "", false, fmt.Errorf("storage read %s: %w", key, err)
	}
	if len(objects) == 0 {
		return "", false, nil
	}

	var stored storedValue
	if err := json.Unmarshal([]byte(objects[0].GetValue()), &stored); err != nil {
		return "", false, fmt.Errorf("corrupt stored value for %s: %w", key, err)
	}

	now := s.now().Unix()
	if stored.ExpiresAt != 0 && stored.ExpiresAt <= now {
		// Best-effort removal; a failed delete just means another read pays.
		_ = s.storage.StorageDelete(ctx, []*runtime.StorageDelete{
			{Collection: stateCollection, Key: key},
		})
		return "", false, nil
	}

	if stored.SlidingSeconds > 0 {
		stored.ExpiresAt = now + stored.SlidingSeconds
		if err := s.write(ctx, key, stored); err != nil {
			return "", false, err
		}
	}
	return stored.Value, true, nil
}

// Set stores a value with no expiry.
func (s *NakamaStateStore) Set(ctx context.Context, key, value string) error {
	return s.write(ctx, key, storedValue{Value: value})
}

// SetWithSlidingTTL stores a value whose expiry restarts on every read.
func (s *NakamaStateStore) SetWithSlidingTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	return s.write(ctx, key, storedValue{
		Value:          value,
		ExpiresAt:      s.now().Unix() + seconds,
		SlidingSeconds: seconds,
	})
}

// SetWithAbsoluteTTL stores a value that expires at a fixed point.
func (s *NakamaStateStore) SetWithAbsoluteTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.write(ctx, key, storedValue{
		Value:     value,
		ExpiresAt: s.now().Add(ttl).Unix(),
	})
}

// Delete removes a key. Absent keys are not an error.
func (s *NakamaStateStore) Delete(ctx context.Context, key string) error {
	if err := s.storage.StorageDelete(ctx, []*runtime.StorageDelete{
		{Collection: stateCollection, Key: key},
	}); err != nil {
		return fmt.Errorf("storage delete %s: %w", key, err)
	}
	return nil
}

func (s *NakamaStateStore) write(ctx context.Context, key string, stored storedValue) error {
	raw, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal stored value for %s: %w", key, err)
	}

	_, err = s.storage.StorageWrite(ctx, []*runtime.StorageWrite{
		{
			Collection:      stateCollection,
			Key:             key,
			Value:           string(raw),
			PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
		},
	})
	if err != nil {
		return fmt.Errorf("storage write %s: %w", key, err)
	}
	return nil
}

var _ ports.KeyValueStore = (*NakamaStateStore)(nil)
