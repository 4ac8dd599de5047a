// internal/database/boltstore_timeseries.go - state history and
// interval-indexed maintenance windows
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// timeKey builds an "ownerID:score:recordID" key whose zero-padded unix
// score sorts lexicographically, so cursor range scans double as
// sorted-range queries over time.
func timeKey(ownerID string, t time.Time, recordID string) []byte {
	return []byte(fmt.Sprintf("%s:%020d:%s", ownerID, t.Unix(), recordID))
}

// parseScore extracts the unix score from a timeKey under ownerID.
func parseScore(key []byte, ownerID string) (int64, bool) {
	rest := key[len(ownerID)+1:]
	if len(rest) < 20 {
		return 0, false
	}
	score, err := strconv.ParseInt(string(rest[:20]), 10, 64)
	if err != nil {
		return 0, false
	}
	return score, true
}

// rightIDsByScore collects record ids (index values) under ownerID in
// score order.
func rightIDsByScore(b *bbolt.Bucket, ownerID string) []string {
	prefix := []byte(ownerID + ":")
	var ids []string
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		ids = append(ids, string(v))
	}
	return ids
}

func maintBuckets(tx *bbolt.Tx, kind MaintenanceKind) (*bbolt.Bucket, *bbolt.Bucket) {
	if kind == ScheduledMaintenance {
		return tx.Bucket(SchedStartBucket), tx.Bucket(SchedEndBucket)
	}
	return tx.Bucket(UnschedStartBucket), tx.Bucket(UnschedEndBucket)
}

// --- States ---

func (s *BoltStore) GetState(ctx context.Context, id string) (*State, error) {
	var state State

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(StatesBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("state not found")
		}
		return json.Unmarshal(v, &state)
	})

	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) CreateState(ctx context.Context, state *State) error {
	if state.CheckID == "" {
		return &ValidationError{Field: "check_id", Message: "must not be empty"}
	}
	if _, err := ParseSeverity(string(state.Condition)); err != nil {
		return &ValidationError{Field: "condition", Message: err.Error()}
	}
	if state.ID == "" {
		state.ID = uuid.New().String()
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = state.CreatedAt
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(ChecksBucket).Get([]byte(state.CheckID)) == nil {
			return fmt.Errorf("check not found")
		}
		if err := putJSON(tx.Bucket(StatesBucket), state.ID, state); err != nil {
			return err
		}
		key := timeKey(state.CheckID, state.CreatedAt, state.ID)
		return tx.Bucket(CheckStatesBucket).Put(key, []byte(state.ID))
	})
}

// UpdateState refreshes a state in place. CreatedAt is the sort key and
// never moves; only the entry value (summary, details, UpdatedAt) may
// change.
func (s *BoltStore) UpdateState(ctx context.Context, state *State) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(StatesBucket)
		v := b.Get([]byte(state.ID))
		if v == nil {
			return fmt.Errorf("state not found")
		}
		var existing State
		if err := json.Unmarshal(v, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal state %s: %w", state.ID, err)
		}
		state.CheckID = existing.CheckID
		state.CreatedAt = existing.CreatedAt
		return putJSON(b, state.ID, state)
	})
}

func (s *BoltStore) LatestState(ctx context.Context, checkID string) (*State, error) {
	var state *State

	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := []byte(checkID + ":")
		c := tx.Bucket(CheckStatesBucket).Cursor()

		// ';' sorts just after ':', so seeking there lands on the first
		// key past the check's range; one step back is its newest state.
		k, v := c.Seek([]byte(checkID + ";"))
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return nil
		}

		data := tx.Bucket(StatesBucket).Get(v)
		if data == nil {
			return fmt.Errorf("state %s missing from records bucket", v)
		}
		state = &State{}
		return json.Unmarshal(data, state)
	})

	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *BoltStore) StatesForCheck(ctx context.Context, checkID string) ([]State, error) {
	var states []State

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(StatesBucket)
		prefix := []byte(checkID + ":")
		c := tx.Bucket(CheckStatesBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := b.Get(v)
			if data == nil {
				continue
			}
			var state State
			if err := json.Unmarshal(data, &state); err != nil {
				return fmt.Errorf("failed to unmarshal state %s: %w", v, err)
			}
			states = append(states, state)
		}
		return nil
	})

	return states, err
}

// --- Maintenance windows ---

func (s *BoltStore) CreateMaintenance(ctx context.Context, window *MaintenanceWindow) error {
	if err := validateMaintenance(window); err != nil {
		return err
	}
	if window.ID == "" {
		window.ID = uuid.New().String()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(ChecksBucket).Get([]byte(window.CheckID)) == nil {
			return fmt.Errorf("check not found")
		}
		if err := putJSON(tx.Bucket(MaintBucket), window.ID, window); err != nil {
			return err
		}
		start, end := maintBuckets(tx, window.Kind)
		if err := start.Put(timeKey(window.CheckID, window.StartTime, window.ID), []byte(window.ID)); err != nil {
			return err
		}
		return end.Put(timeKey(window.CheckID, window.EndTime, window.ID), []byte(window.ID))
	})
}

func (s *BoltStore) GetMaintenance(ctx context.Context, id string) (*MaintenanceWindow, error) {
	var window MaintenanceWindow

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(MaintBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("maintenance window not found")
		}
		return json.Unmarshal(v, &window)
	})

	if err != nil {
		return nil, err
	}
	return &window, nil
}

func (s *BoltStore) DeleteMaintenance(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MaintBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		var window MaintenanceWindow
		if err := json.Unmarshal(v, &window); err != nil {
			return fmt.Errorf("failed to unmarshal maintenance window %s: %w", id, err)
		}

		start, end := maintBuckets(tx, window.Kind)
		if err := start.Delete(timeKey(window.CheckID, window.StartTime, id)); err != nil {
			return err
		}
		if err := end.Delete(timeKey(window.CheckID, window.EndTime, id)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

// ReindexMaintenanceEnd moves a window's end time. The end index entry
// is removed before the record mutates and re-inserted after, so the
// window is never indexed under two end keys.
func (s *BoltStore) ReindexMaintenanceEnd(ctx context.Context, id string, endTime time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MaintBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("maintenance window not found")
		}
		var window MaintenanceWindow
		if err := json.Unmarshal(v, &window); err != nil {
			return fmt.Errorf("failed to unmarshal maintenance window %s: %w", id, err)
		}

		_, end := maintBuckets(tx, window.Kind)
		if err := end.Delete(timeKey(window.CheckID, window.EndTime, id)); err != nil {
			return err
		}
		window.EndTime = endTime
		if err := putJSON(b, id, &window); err != nil {
			return err
		}
		return end.Put(timeKey(window.CheckID, window.EndTime, id), []byte(id))
	})
}

func (s *BoltStore) MaintenanceWindows(ctx context.Context, kind MaintenanceKind, checkID string) ([]MaintenanceWindow, error) {
	var windows []MaintenanceWindow

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MaintBucket)
		start, _ := maintBuckets(tx, kind)
		for _, id := range rightIDsByScore(start, checkID) {
			v := b.Get([]byte(id))
			if v == nil {
				logrus.WithField("window_id", id).Warn("Maintenance index entry without record")
				continue
			}
			var window MaintenanceWindow
			if err := json.Unmarshal(v, &window); err != nil {
				return fmt.Errorf("failed to unmarshal maintenance window %s: %w", id, err)
			}
			windows = append(windows, window)
		}
		return nil
	})

	return windows, err
}

// MaintenanceIDsStartedBy returns ids of windows whose start time is at
// or before t, in start order.
func (s *BoltStore) MaintenanceIDsStartedBy(ctx context.Context, kind MaintenanceKind, checkID string, t time.Time) ([]string, error) {
	var ids []string

	err := s.db.View(func(tx *bbolt.Tx) error {
		start, _ := maintBuckets(tx, kind)
		prefix := []byte(checkID + ":")
		max := t.Unix()
		c := start.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			score, ok := parseScore(k, checkID)
			if !ok || score > max {
				break
			}
			ids = append(ids, string(v))
		}
		return nil
	})

	return ids, err
}

// MaintenanceIDsEndingAfter returns ids of windows whose end time is
// strictly after t, or at-or-after t when inclusive is set. The two
// bounds exist because scheduled and unscheduled windows use different
// boundary semantics.
func (s *BoltStore) MaintenanceIDsEndingAfter(ctx context.Context, kind MaintenanceKind, checkID string, t time.Time, inclusive bool) ([]string, error) {
	var ids []string

	err := s.db.View(func(tx *bbolt.Tx) error {
		_, end := maintBuckets(tx, kind)
		prefix := []byte(checkID + ":")
		min := t.Unix()
		if !inclusive {
			min++
		}
		c := end.Cursor()
		seek := []byte(fmt.Sprintf("%s:%020d:", checkID, min))
		for k, v := c.Seek(seek); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			ids = append(ids, string(v))
		}
		return nil
	})

	return ids, err
}
