package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cardhaus/cartsync/cart/broadcast"
	"github.com/cardhaus/cartsync/cart/storage"
	"github.com/cardhaus/cartsync/internal/log"
	"github.com/cardhaus/cartsync/internal/otel"
	"github.com/cardhaus/cartsync/notification"
)

// snapshotStore owns the persisted cart record for one tab. Save is the only
// place version numbers are minted; every successful save is followed by a
// broadcast so the other tabs can reconcile.
type snapshotStore struct {
	backend       storage.Backend
	channel       broadcast.Channel
	notifications *notification.Center
	key           string
	expiry        time.Duration

	mu      sync.Mutex
	counter int64
}

func newSnapshotStore(
	backend storage.Backend,
	channel broadcast.Channel,
	notifications *notification.Center,
	key string,
	expiry time.Duration,
) *snapshotStore {
	return &snapshotStore{
		backend:       backend,
		channel:       channel,
		notifications: notifications,
		key:           key,
		expiry:        expiry,
	}
}

// Version is the highest version this tab has observed.
func (s *snapshotStore) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

func (s *snapshotStore) nextVersion() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter + 1
}

// adoptVersion raises the local counter to an observed remote version. It
// never lowers the counter.
func (s *snapshotStore) adoptVersion(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v > s.counter {
		s.counter = v
	}
}

// Load reads the persisted record. A record older than the expiry window is
// discarded wholesale and cleared, not merged.
func (s *snapshotStore) Load(c context.Context) (Snapshot, error) {
	c, span := otel.Tracer.Start(c, "snapshotStore Load")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "snapshotStore Load").
		Str(log.KEY_STORAGE_KEY, s.key).
		Logger()

	value, err := s.backend.Get(c, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Snapshot{}, nil
		}
		err = fmt.Errorf("failed loading cart record with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return Snapshot{}, err
	}

	rec := record{}
	if err := json.Unmarshal(value, &rec); err != nil {
		err = fmt.Errorf("failed unmarshaling cart record with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		_ = s.backend.Delete(c, s.key)
		return Snapshot{}, nil
	}

	age := time.Since(time.UnixMilli(rec.Timestamp))
	if age > s.expiry {
		logger.Info().
			Int64(log.KEY_VERSION, rec.Version).
			Dur("age", age).
			Msg("discarding expired cart record")
		_ = s.backend.Delete(c, s.key)
		return Snapshot{}, nil
	}

	s.adoptVersion(rec.Version)
	return Snapshot{Lines: rec.Cart, Version: rec.Version, Timestamp: rec.Timestamp}, nil
}

// persistedVersion reads only the version of the currently persisted record;
// 0 when no record exists or it cannot be read.
func (s *snapshotStore) persistedVersion(c context.Context) int64 {
	value, err := s.backend.Get(c, s.key)
	if err != nil {
		return 0
	}
	rec := record{}
	if err := json.Unmarshal(value, &rec); err != nil {
		return 0
	}
	return rec.Version
}

// Save mints the next version as max(counter+1, override), stamps the write
// timestamp, persists and broadcasts. A persistence failure is reported via
// the notification center and does not fail the save: the returned snapshot
// stays authoritative for this tab's session.
func (s *snapshotStore) Save(c context.Context, snap Snapshot, override int64) Snapshot {
	c, span := otel.Tracer.Start(c, "snapshotStore Save")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "snapshotStore Save").
		Str(log.KEY_STORAGE_KEY, s.key).
		Logger()

	s.mu.Lock()
	version := s.counter + 1
	if override > version {
		version = override
	}
	s.counter = version
	s.mu.Unlock()

	now := time.Now()
	snap.Version = version
	snap.Timestamp = now.UnixMilli()

	logger = logger.With().Int64(log.KEY_VERSION, version).Logger()

	rec := record{Cart: snap.Lines, Timestamp: snap.Timestamp, Version: version}
	payload, err := json.Marshal(rec)
	if err != nil {
		err = fmt.Errorf("failed marshaling cart record with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		s.notifications.Notify(c, notification.SeverityError,
			"your cart could not be saved; changes are kept for this session only")
		return snap
	}

	if err := s.backend.Set(c, s.key, payload); err != nil {
		err = fmt.Errorf("failed persisting cart record with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		s.notifications.Notify(c, notification.SeverityError,
			"your cart could not be saved; changes are kept for this session only")
		return snap
	}
	logger.Debug().Int(log.KEY_LINE_COUNT, len(snap.Lines)).Msg("persisted cart record")

	s.publish(c, snap)
	return snap
}

// Clear mints a version for the reset, removes the persisted record and
// broadcasts the now-empty cart.
func (s *snapshotStore) Clear(c context.Context) Snapshot {
	c, span := otel.Tracer.Start(c, "snapshotStore Clear")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "snapshotStore Clear").
		Str(log.KEY_STORAGE_KEY, s.key).
		Logger()

	s.mu.Lock()
	s.counter++
	version := s.counter
	s.mu.Unlock()

	snap := Snapshot{Lines: []Line{}, Version: version, Timestamp: time.Now().UnixMilli()}

	if err := s.backend.Delete(c, s.key); err != nil {
		err = fmt.Errorf("failed clearing cart record with error=%w", err)
		otel.RecordError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		s.notifications.Notify(c, notification.SeverityError,
			"your cart could not be saved; changes are kept for this session only")
		return snap
	}

	s.publish(c, snap)
	return snap
}

func (s *snapshotStore) publish(c context.Context, snap Snapshot) {
	logger := zerolog.Ctx(c).
		With().
		Str(log.KEY_TAG, "snapshotStore publish").
		Int64(log.KEY_VERSION, snap.Version).
		Logger()

	lines, err := json.Marshal(snap.Lines)
	if err != nil {
		err = fmt.Errorf("failed marshaling cart lines for broadcast with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	err = s.channel.Publish(c, broadcast.Message{
		Type:      broadcast.TypeCartUpdated,
		Cart:      lines,
		Version:   snap.Version,
		Timestamp: snap.Timestamp,
	})
	if err != nil {
		err = fmt.Errorf("failed broadcasting cart update with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
	}
}
