package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"escalation/internal/config"
	"escalation/internal/domain"

	"github.com/nats-io/nats.go"
)

// NATSStore persists alert records in one JetStream KV bucket.
// Params: NATS connection, JetStream context, and KV bucket handle.
// Returns: KV-backed alert store implementation.
type NATSStore struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	alertKV nats.KeyValue
}

// NewNATSStore opens (or creates) the alert bucket and returns the backend.
// Params: NATS server URLs and state settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(urls []string, settings config.StateConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(urls, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	alertKV, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !settings.AllowCreateBuckets {
			nc.Close()
			return nil, fmt.Errorf("open alert bucket %q: %w", settings.Bucket, err)
		}
		alertKV, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: settings.Bucket,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create alert bucket %q: %w", settings.Bucket, err)
		}
	}

	return &NATSStore{
		nc:      nc,
		js:      js,
		alertKV: alertKV,
	}, nil
}

// Get reads one alert record and its KV revision.
// Params: alert ID key.
// Returns: alert record, revision, or ErrNotFound.
func (s *NATSStore) Get(_ context.Context, alertID string) (domain.Alert, uint64, error) {
	entry, err := s.alertKV.Get(alertID)
	if err != nil {
		if err == nats.ErrKeyNotFound {
			return domain.Alert{}, 0, ErrNotFound
		}
		return domain.Alert{}, 0, fmt.Errorf("get alert: %w", err)
	}

	var alert domain.Alert
	if err := json.Unmarshal(entry.Value(), &alert); err != nil {
		return domain.Alert{}, 0, fmt.Errorf("decode alert: %w", err)
	}
	return alert, entry.Revision(), nil
}

// Put writes one alert record unconditionally.
// Params: alert record keyed by its ID.
// Returns: new KV revision.
func (s *NATSStore) Put(_ context.Context, alert domain.Alert) (uint64, error) {
	if alert.ID == "" {
		return 0, errors.New("alert id is required")
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("encode alert: %w", err)
	}
	rev, err := s.alertKV.Put(alert.ID, body)
	if err != nil {
		return 0, fmt.Errorf("put alert: %w", err)
	}
	return rev, nil
}

// Update replaces one alert record using expected revision CAS.
// Params: expected revision and replacement record.
// Returns: new KV revision or ErrConflict.
func (s *NATSStore) Update(_ context.Context, expectedRevision uint64, alert domain.Alert) (uint64, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("encode alert: %w", err)
	}
	rev, err := s.alertKV.Update(alert.ID, body, expectedRevision)
	if err != nil {
		if classifyUpdateError(err) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("update alert: %w", err)
	}
	return rev, nil
}

// classifyUpdateError reports whether a KV update error is a CAS conflict.
// Params: KV update error.
// Returns: true for key-exists and wrong-last-sequence failures.
func classifyUpdateError(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "wrong last sequence")
}

// Delete removes one alert record.
// Params: alert ID key.
// Returns: delete error; a missing key is not an error.
func (s *NATSStore) Delete(_ context.Context, alertID string) error {
	if err := s.alertKV.Delete(alertID); err != nil && err != nats.ErrKeyNotFound {
		return fmt.Errorf("delete alert: %w", err)
	}
	return nil
}

// ListOpen lists alert records not yet in a terminal status.
// Params: none beyond context.
// Returns: open alerts in key order.
func (s *NATSStore) ListOpen(ctx context.Context) ([]domain.Alert, error) {
	keys, err := s.alertKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	sort.Strings(keys)
	open := make([]domain.Alert, 0, len(keys))
	for _, key := range keys {
		alert, _, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if alert.IsClosed() {
			continue
		}
		open = append(open, alert)
	}
	return open, nil
}

// Close closes the underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
