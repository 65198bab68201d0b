package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pushgate-labs/pushgate/internal/model"
	"github.com/pushgate-labs/pushgate/internal/storage"
	bolt "go.etcd.io/bbolt"
)

var _ storage.Store = (*Store)(nil)

var (
	bucketDevices       = []byte("devices")
	bucketPreferences   = []byte("preferences")
	bucketNotifications = []byte("notifications")
	bucketNotifIndex    = []byte("notification_idx") // id -> seq key
	bucketReadState     = []byte("read_state")
	errStop             = errors.New("stop iteration")
)

// Store is a BoltDB-backed Store implementation. Notifications are keyed by
// an insertion sequence so iteration order is creation order.
type Store struct {
	db *bolt.DB
}

// New initialises the Bolt store.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDevices, bucketPreferences, bucketNotifications, bucketNotifIndex, bucketReadState} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying Bolt DB.
func (s *Store) Close() error {
	return s.db.Close()
}

func ctxDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// UpsertDevice stores or updates a device record.
func (s *Store) UpsertDevice(ctx context.Context, device *model.Device) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	payload, err := json.Marshal(device)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).Put([]byte(device.ID), payload)
	})
}

// GetDevice fetches a device by id.
func (s *Store) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	var device *model.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDevices).Get([]byte(id))
		if raw == nil {
			return nil
		}
		device = new(model.Device)
		return json.Unmarshal(raw, device)
	})
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, storage.ErrNotFound
	}
	return device, nil
}

// GetDeviceByHardware fetches the device registered for one physical
// device on one platform.
func (s *Store) GetDeviceByHardware(ctx context.Context, platformDeviceID string, platform model.Platform) (*model.Device, error) {
	return s.findDevice(ctx, func(d *model.Device) bool {
		return d.PlatformDeviceID == platformDeviceID && d.Platform == platform
	})
}

// GetDeviceByToken fetches the device holding a push token.
func (s *Store) GetDeviceByToken(ctx context.Context, token string) (*model.Device, error) {
	return s.findDevice(ctx, func(d *model.Device) bool {
		return d.PushToken != "" && d.PushToken == token
	})
}

func (s *Store) findDevice(ctx context.Context, matcher func(*model.Device) bool) (*model.Device, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	var result *model.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(_, v []byte) error {
			var device model.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			if matcher(&device) {
				result = &device
				return errStop
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	if result == nil {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// DeleteDevice removes a device record.
func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).Delete([]byte(id))
	})
}

// ListDevices returns all devices.
func (s *Store) ListDevices(ctx context.Context) ([]*model.Device, error) {
	return s.listDevices(ctx, func(*model.Device) bool { return true })
}

// ListDevicesByOwner returns the devices owned by one recipient.
func (s *Store) ListDevicesByOwner(ctx context.Context, ownerID string) ([]*model.Device, error) {
	return s.listDevices(ctx, func(d *model.Device) bool {
		return d.OwnerID != "" && d.OwnerID == ownerID
	})
}

func (s *Store) listDevices(ctx context.Context, filter func(*model.Device) bool) ([]*model.Device, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	var devices []*model.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(_, v []byte) error {
			var device model.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			if filter(&device) {
				copied := device
				devices = append(devices, &copied)
			}
			return nil
		})
	})
	return devices, err
}

// PurgeExpiredDevices deletes devices whose expiry has passed.
func (s *Store) PurgeExpiredDevices(ctx context.Context, now time.Time) (int, error) {
	if err := ctxDone(ctx); err != nil {
		return 0, err
	}
	purged := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDevices)
		var stale [][]byte
		if err := bkt.ForEach(func(k, v []byte) error {
			var device model.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			if !device.Active(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	return purged, err
}

// GetPreference fetches a recipient's preference record.
func (s *Store) GetPreference(ctx context.Context, recipientID string) (*model.Preference, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	var pref *model.Preference
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPreferences).Get([]byte(recipientID))
		if raw == nil {
			return nil
		}
		pref = new(model.Preference)
		return json.Unmarshal(raw, pref)
	})
	if err != nil {
		return nil, err
	}
	if pref == nil {
		return nil, storage.ErrNotFound
	}
	return pref, nil
}

// PutPreference stores a preference record.
func (s *Store) PutPreference(ctx context.Context, pref *model.Preference) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	now := time.Now().UTC()
	if pref.CreatedAt.IsZero() {
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now
	payload, err := json.Marshal(pref)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPreferences).Put([]byte(pref.RecipientID), payload)
	})
}

// InsertNotification appends a notification in creation order.
func (s *Store) InsertNotification(ctx context.Context, n *model.Notification) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketNotifications)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		n.Seq = seq
		payload, err := json.Marshal(n)
		if err != nil {
			return err
		}
		key := seqKey(seq)
		if err := bkt.Put(key, payload); err != nil {
			return err
		}
		return tx.Bucket(bucketNotifIndex).Put([]byte(n.ID), key)
	})
}

// GetNotification fetches a notification by id.
func (s *Store) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	var n *model.Notification
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := lookupNotification(tx, id)
		if raw == nil {
			return nil
		}
		n = new(model.Notification)
		return json.Unmarshal(raw, n)
	})
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, storage.ErrNotFound
	}
	return n, nil
}

// DeleteNotification removes a notification and its index entry.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketNotifIndex)
		key := idx.Get([]byte(id))
		if key == nil {
			return storage.ErrNotFound
		}
		if err := tx.Bucket(bucketNotifications).Delete(key); err != nil {
			return err
		}
		return idx.Delete([]byte(id))
	})
}

// ListNotifications returns every notification in creation order.
func (s *Store) ListNotifications(ctx context.Context) ([]*model.Notification, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	var out []*model.Notification
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotifications).ForEach(func(_, v []byte) error {
			var n model.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			copied := n
			out = append(out, &copied)
			return nil
		})
	})
	return out, err
}

// ListDue returns pending records due at now in creation order, up to limit.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	var out []*model.Notification
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotifications).ForEach(func(_, v []byte) error {
			if limit > 0 && len(out) >= limit {
				return errStop
			}
			var n model.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.Due(now) {
				copied := n
				out = append(out, &copied)
			}
			return nil
		})
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return out, nil
}

// MarkSent transitions pending -> sent inside one transaction.
func (s *Store) MarkSent(ctx context.Context, id string, suppressed bool) (bool, error) {
	return s.transition(ctx, id, model.StatusSent, func(n *model.Notification) {
		now := time.Now().UTC()
		n.SentAt = &now
		n.Suppressed = suppressed
	})
}

// MarkFailed transitions pending -> failed inside one transaction.
func (s *Store) MarkFailed(ctx context.Context, id string) (bool, error) {
	return s.transition(ctx, id, model.StatusFailed, nil)
}

func (s *Store) transition(ctx context.Context, id string, to model.Status, mutate func(*model.Notification)) (bool, error) {
	if err := ctxDone(ctx); err != nil {
		return false, err
	}
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		raw := lookupNotification(tx, id)
		if raw == nil {
			return storage.ErrNotFound
		}
		var n model.Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		if n.Status != model.StatusPending {
			return nil
		}
		n.Status = to
		n.UpdatedAt = time.Now().UTC()
		if mutate != nil {
			mutate(&n)
		}
		payload, err := json.Marshal(&n)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketNotifications).Put(seqKey(n.Seq), payload); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// Requeue resets a record to pending so an operator can reprocess it.
func (s *Store) Requeue(ctx context.Context, id string) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		raw := lookupNotification(tx, id)
		if raw == nil {
			return storage.ErrNotFound
		}
		var n model.Notification
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		n.Status = model.StatusPending
		n.Suppressed = false
		n.SentAt = nil
		n.ScheduledAt = nil
		n.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&n)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNotifications).Put(seqKey(n.Seq), payload)
	})
}

// PurgeNotifications deletes terminal records created before olderThan.
func (s *Store) PurgeNotifications(ctx context.Context, olderThan time.Time) (int, error) {
	if err := ctxDone(ctx); err != nil {
		return 0, err
	}
	purged := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketNotifications)
		idx := tx.Bucket(bucketNotifIndex)
		type stale struct {
			key []byte
			id  string
		}
		var victims []stale
		if err := bkt.ForEach(func(k, v []byte) error {
			var n model.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.Status != model.StatusPending && n.CreatedAt.Before(olderThan) {
				victims = append(victims, stale{key: append([]byte(nil), k...), id: n.ID})
			}
			return nil
		}); err != nil {
			return err
		}
		for _, v := range victims {
			if err := bkt.Delete(v.key); err != nil {
				return err
			}
			if err := idx.Delete([]byte(v.id)); err != nil {
				return err
			}
			purged++
		}
		return nil
	})
	return purged, err
}

// GetReadState fetches one recipient/notification read marker.
func (s *Store) GetReadState(ctx context.Context, recipientID, notificationID string) (*model.ReadState, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	var state *model.ReadState
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketReadState).Get(readKey(recipientID, notificationID))
		if raw == nil {
			return nil
		}
		state = new(model.ReadState)
		return json.Unmarshal(raw, state)
	})
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, storage.ErrNotFound
	}
	return state, nil
}

// PutReadState stores a read marker.
func (s *Store) PutReadState(ctx context.Context, state *model.ReadState) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	if state.ReadAt.IsZero() {
		state.ReadAt = time.Now().UTC()
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReadState).Put(readKey(state.RecipientID, state.NotificationID), payload)
	})
}

// ListReadStates returns all read markers for one recipient.
func (s *Store) ListReadStates(ctx context.Context, recipientID string) ([]*model.ReadState, error) {
	if err := ctxDone(ctx); err != nil {
		return nil, err
	}
	prefix := readPrefix(recipientID)
	var out []*model.ReadState
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReadState).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var state model.ReadState
			if err := json.Unmarshal(v, &state); err != nil {
				return err
			}
			copied := state
			out = append(out, &copied)
		}
		return nil
	})
	return out, err
}

func lookupNotification(tx *bolt.Tx, id string) []byte {
	key := tx.Bucket(bucketNotifIndex).Get([]byte(id))
	if key == nil {
		return nil
	}
	return tx.Bucket(bucketNotifications).Get(key)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func readKey(recipientID, notificationID string) []byte {
	return append(readPrefix(recipientID), notificationID...)
}

// readPrefix escapes the recipient component so a "/" inside a recipient id
// cannot make one recipient's prefix scan match another's keys.
func readPrefix(recipientID string) []byte {
	return []byte(url.PathEscape(recipientID) + "/")
}
