// internal/database/boltstore.go - BoltDB implementation of the entity store
package database

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	ChecksBucket     = []byte("checks")
	CheckNamesBucket = []byte("check_names")
	TagsBucket       = []byte("tags")
	RulesBucket      = []byte("rules")
	RoutesBucket     = []byte("routes")
	ContactsBucket   = []byte("contacts")
	MediaBucket      = []byte("media")
	StatesBucket     = []byte("states")
	MaintBucket      = []byte("maintenances")

	// Many-to-many association buckets, composite "left:right" keys in
	// both directions so either side can be traversed with a prefix scan.
	CheckTagsBucket = []byte("check_tags")
	TagChecksBucket = []byte("tag_checks")
	RuleTagsBucket  = []byte("rule_tags")
	TagRulesBucket  = []byte("tag_rules")

	// Secondary indices for derived and owned records.
	CheckRoutesBucket  = []byte("check_routes")
	RuleRoutesBucket   = []byte("rule_routes")
	ContactRulesBucket = []byte("contact_rules")
	ContactMediaBucket = []byte("contact_media")
	CheckStatesBucket  = []byte("check_states")

	// Interval indices: each maintenance window is keyed under its check
	// by start time in one bucket and by end time in the other.
	SchedStartBucket   = []byte("sched_maint_by_start")
	SchedEndBucket     = []byte("sched_maint_by_end")
	UnschedStartBucket = []byte("unsched_maint_by_start")
	UnschedEndBucket   = []byte("unsched_maint_by_end")
)

var allBuckets = [][]byte{
	ChecksBucket, CheckNamesBucket, TagsBucket, RulesBucket, RoutesBucket,
	ContactsBucket, MediaBucket, StatesBucket, MaintBucket,
	CheckTagsBucket, TagChecksBucket, RuleTagsBucket, TagRulesBucket,
	CheckRoutesBucket, RuleRoutesBucket, ContactRulesBucket, ContactMediaBucket,
	CheckStatesBucket,
	SchedStartBucket, SchedEndBucket, UnschedStartBucket, UnschedEndBucket,
}

type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// assocKey joins two ids into a composite association key. Ids never
// contain ':' (uuids, and tag names exclude it by validation).
func assocKey(left, right string) []byte {
	return []byte(left + ":" + right)
}

// rightIDs collects the right-hand ids of every association under left.
func rightIDs(b *bbolt.Bucket, left string) []string {
	prefix := []byte(left + ":")
	var ids []string
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		ids = append(ids, string(k[len(prefix):]))
	}
	return ids
}

func deletePrefix(b *bbolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, copyBytes(k))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}

func putJSON(b *bbolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return b.Put([]byte(key), data)
}

// --- Checks ---

func (s *BoltStore) GetChecks(ctx context.Context, filters CheckFilters) ([]Check, error) {
	var checks []Check

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ChecksBucket)
		return b.ForEach(func(k, v []byte) error {
			var check Check
			if err := json.Unmarshal(v, &check); err != nil {
				return fmt.Errorf("failed to unmarshal check %s: %w", k, err)
			}

			if filters.Enabled != nil && check.Enabled != *filters.Enabled {
				return nil
			}
			if filters.Name != "" && check.Name != filters.Name {
				return nil
			}

			checks = append(checks, check)
			return nil
		})
	})

	return checks, err
}

func (s *BoltStore) GetCheck(ctx context.Context, id string) (*Check, error) {
	var check Check

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(ChecksBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("check not found")
		}
		return json.Unmarshal(v, &check)
	})

	if err != nil {
		return nil, err
	}
	return &check, nil
}

func (s *BoltStore) GetCheckByName(ctx context.Context, name string) (*Check, error) {
	var check Check

	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(CheckNamesBucket).Get([]byte(name))
		if id == nil {
			return fmt.Errorf("check not found")
		}
		v := tx.Bucket(ChecksBucket).Get(id)
		if v == nil {
			return fmt.Errorf("check not found")
		}
		return json.Unmarshal(v, &check)
	})

	if err != nil {
		return nil, err
	}
	return &check, nil
}

func (s *BoltStore) CreateCheck(ctx context.Context, check *Check) error {
	if err := validateCheck(check); err != nil {
		return err
	}
	if check.ID == "" {
		check.ID = uuid.New().String()
	}
	check.CreatedAt = time.Now()
	check.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(CheckNamesBucket)
		if names.Get([]byte(check.Name)) != nil {
			return &ValidationError{Field: "name", Message: "already taken"}
		}
		if err := putJSON(tx.Bucket(ChecksBucket), check.ID, check); err != nil {
			return err
		}
		return names.Put([]byte(check.Name), []byte(check.ID))
	})
}

func (s *BoltStore) UpdateCheck(ctx context.Context, check *Check) error {
	if err := validateCheck(check); err != nil {
		return err
	}
	check.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ChecksBucket)
		v := b.Get([]byte(check.ID))
		if v == nil {
			return fmt.Errorf("check not found")
		}
		var existing Check
		if err := json.Unmarshal(v, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal check %s: %w", check.ID, err)
		}

		// ack_hash is computed once and never altered by later saves.
		if existing.AckHash != "" {
			check.AckHash = existing.AckHash
		}
		check.CreatedAt = existing.CreatedAt

		names := tx.Bucket(CheckNamesBucket)
		if check.Name != existing.Name {
			if names.Get([]byte(check.Name)) != nil {
				return &ValidationError{Field: "name", Message: "already taken"}
			}
			if err := names.Delete([]byte(existing.Name)); err != nil {
				return err
			}
			if err := names.Put([]byte(check.Name), []byte(check.ID)); err != nil {
				return err
			}
		}

		return putJSON(b, check.ID, check)
	})
}

func (s *BoltStore) DeleteCheck(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ChecksBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		var check Check
		if err := json.Unmarshal(v, &check); err != nil {
			return fmt.Errorf("failed to unmarshal check %s: %w", id, err)
		}

		// Cascade: tag links, routes, states and maintenance windows all
		// belong to the check.
		for _, tagID := range rightIDs(tx.Bucket(CheckTagsBucket), id) {
			if err := tx.Bucket(TagChecksBucket).Delete(assocKey(tagID, id)); err != nil {
				return err
			}
		}
		if err := deletePrefix(tx.Bucket(CheckTagsBucket), []byte(id+":")); err != nil {
			return err
		}
		if err := deleteRoutesForCheckTx(tx, id); err != nil {
			return err
		}
		for _, stateID := range rightIDsByScore(tx.Bucket(CheckStatesBucket), id) {
			if err := tx.Bucket(StatesBucket).Delete([]byte(stateID)); err != nil {
				return err
			}
		}
		if err := deletePrefix(tx.Bucket(CheckStatesBucket), []byte(id+":")); err != nil {
			return err
		}
		for _, kind := range []MaintenanceKind{ScheduledMaintenance, UnscheduledMaintenance} {
			start, end := maintBuckets(tx, kind)
			for _, windowID := range rightIDsByScore(start, id) {
				if err := tx.Bucket(MaintBucket).Delete([]byte(windowID)); err != nil {
					return err
				}
			}
			if err := deletePrefix(start, []byte(id+":")); err != nil {
				return err
			}
			if err := deletePrefix(end, []byte(id+":")); err != nil {
				return err
			}
		}

		if err := tx.Bucket(CheckNamesBucket).Delete([]byte(check.Name)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) EnsureAckHash(ctx context.Context, id string) (string, error) {
	var hash string

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ChecksBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("check not found")
		}
		var check Check
		if err := json.Unmarshal(v, &check); err != nil {
			return fmt.Errorf("failed to unmarshal check %s: %w", id, err)
		}

		if check.AckHash == "" {
			sum := sha1.Sum([]byte(check.ID))
			check.AckHash = hex.EncodeToString(sum[:])[:8]
			if err := putJSON(b, check.ID, &check); err != nil {
				return err
			}
		}
		hash = check.AckHash
		return nil
	})

	return hash, err
}

// --- Tags ---

func (s *BoltStore) GetTags(ctx context.Context) ([]Tag, error) {
	var tags []Tag

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(TagsBucket).ForEach(func(k, v []byte) error {
			var tag Tag
			if err := json.Unmarshal(v, &tag); err != nil {
				return fmt.Errorf("failed to unmarshal tag %s: %w", k, err)
			}
			tags = append(tags, tag)
			return nil
		})
	})

	return tags, err
}

func (s *BoltStore) GetTag(ctx context.Context, id string) (*Tag, error) {
	var tag Tag

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(TagsBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("tag not found")
		}
		return json.Unmarshal(v, &tag)
	})

	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (s *BoltStore) CreateTag(ctx context.Context, tag *Tag) error {
	if err := validateTagName(tag.Name); err != nil {
		return err
	}
	// A tag's id is always its name.
	tag.ID = tag.Name
	tag.CreatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(TagsBucket)
		if b.Get([]byte(tag.ID)) != nil {
			return &ValidationError{Field: "name", Message: "already taken"}
		}
		return putJSON(b, tag.ID, tag)
	})
}

func (s *BoltStore) UpdateTag(ctx context.Context, tag *Tag) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(TagsBucket)
		v := b.Get([]byte(tag.ID))
		if v == nil {
			return fmt.Errorf("tag not found")
		}
		var existing Tag
		if err := json.Unmarshal(v, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal tag %s: %w", tag.ID, err)
		}
		if tag.Name != existing.Name {
			return &ValidationError{Field: "name", Message: "cannot be changed"}
		}
		tag.CreatedAt = existing.CreatedAt
		return putJSON(b, tag.ID, tag)
	})
}

func (s *BoltStore) DeleteTag(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, checkID := range rightIDs(tx.Bucket(TagChecksBucket), id) {
			if err := tx.Bucket(CheckTagsBucket).Delete(assocKey(checkID, id)); err != nil {
				return err
			}
		}
		for _, ruleID := range rightIDs(tx.Bucket(TagRulesBucket), id) {
			if err := tx.Bucket(RuleTagsBucket).Delete(assocKey(ruleID, id)); err != nil {
				return err
			}
		}
		if err := deletePrefix(tx.Bucket(TagChecksBucket), []byte(id+":")); err != nil {
			return err
		}
		if err := deletePrefix(tx.Bucket(TagRulesBucket), []byte(id+":")); err != nil {
			return err
		}
		return tx.Bucket(TagsBucket).Delete([]byte(id))
	})
}

// --- Tag associations ---

func (s *BoltStore) LinkCheckTag(ctx context.Context, checkID, tagID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(ChecksBucket).Get([]byte(checkID)) == nil {
			return fmt.Errorf("check not found")
		}
		if tx.Bucket(TagsBucket).Get([]byte(tagID)) == nil {
			return fmt.Errorf("tag not found")
		}
		if err := tx.Bucket(CheckTagsBucket).Put(assocKey(checkID, tagID), nil); err != nil {
			return err
		}
		return tx.Bucket(TagChecksBucket).Put(assocKey(tagID, checkID), nil)
	})
}

func (s *BoltStore) UnlinkCheckTag(ctx context.Context, checkID, tagID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(CheckTagsBucket).Delete(assocKey(checkID, tagID)); err != nil {
			return err
		}
		return tx.Bucket(TagChecksBucket).Delete(assocKey(tagID, checkID))
	})
}

func (s *BoltStore) LinkRuleTag(ctx context.Context, ruleID, tagID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(RulesBucket).Get([]byte(ruleID)) == nil {
			return fmt.Errorf("rule not found")
		}
		if tx.Bucket(TagsBucket).Get([]byte(tagID)) == nil {
			return fmt.Errorf("tag not found")
		}
		if err := tx.Bucket(RuleTagsBucket).Put(assocKey(ruleID, tagID), nil); err != nil {
			return err
		}
		return tx.Bucket(TagRulesBucket).Put(assocKey(tagID, ruleID), nil)
	})
}

func (s *BoltStore) UnlinkRuleTag(ctx context.Context, ruleID, tagID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(RuleTagsBucket).Delete(assocKey(ruleID, tagID)); err != nil {
			return err
		}
		return tx.Bucket(TagRulesBucket).Delete(assocKey(tagID, ruleID))
	})
}

func (s *BoltStore) TagIDsForCheck(ctx context.Context, checkID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids = rightIDs(tx.Bucket(CheckTagsBucket), checkID)
		return nil
	})
	return ids, err
}

func (s *BoltStore) CheckIDsForTag(ctx context.Context, tagID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids = rightIDs(tx.Bucket(TagChecksBucket), tagID)
		return nil
	})
	return ids, err
}

func (s *BoltStore) TagIDsForRule(ctx context.Context, ruleID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids = rightIDs(tx.Bucket(RuleTagsBucket), ruleID)
		return nil
	})
	return ids, err
}

func (s *BoltStore) RuleIDsForTag(ctx context.Context, tagID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids = rightIDs(tx.Bucket(TagRulesBucket), tagID)
		return nil
	})
	return ids, err
}

// --- Rules ---

func (s *BoltStore) GetRules(ctx context.Context) ([]Rule, error) {
	var rules []Rule

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(RulesBucket).ForEach(func(k, v []byte) error {
			var rule Rule
			if err := json.Unmarshal(v, &rule); err != nil {
				return fmt.Errorf("failed to unmarshal rule %s: %w", k, err)
			}
			rules = append(rules, rule)
			return nil
		})
	})

	return rules, err
}

func (s *BoltStore) GetRule(ctx context.Context, id string) (*Rule, error) {
	var rule Rule

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(RulesBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("rule not found")
		}
		return json.Unmarshal(v, &rule)
	})

	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *BoltStore) CreateRule(ctx context.Context, rule *Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx.Bucket(RulesBucket), rule.ID, rule); err != nil {
			return err
		}
		return tx.Bucket(ContactRulesBucket).Put(assocKey(rule.ContactID, rule.ID), nil)
	})
}

func (s *BoltStore) UpdateRule(ctx context.Context, rule *Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(RulesBucket)
		v := b.Get([]byte(rule.ID))
		if v == nil {
			return fmt.Errorf("rule not found")
		}
		var existing Rule
		if err := json.Unmarshal(v, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal rule %s: %w", rule.ID, err)
		}
		rule.CreatedAt = existing.CreatedAt

		if existing.ContactID != rule.ContactID {
			contacts := tx.Bucket(ContactRulesBucket)
			if err := contacts.Delete(assocKey(existing.ContactID, rule.ID)); err != nil {
				return err
			}
			if err := contacts.Put(assocKey(rule.ContactID, rule.ID), nil); err != nil {
				return err
			}
		}

		return putJSON(b, rule.ID, rule)
	})
}

func deleteRuleTx(tx *bbolt.Tx, id string) error {
	b := tx.Bucket(RulesBucket)
	v := b.Get([]byte(id))
	if v == nil {
		return nil
	}
	var rule Rule
	if err := json.Unmarshal(v, &rule); err != nil {
		return fmt.Errorf("failed to unmarshal rule %s: %w", id, err)
	}

	for _, tagID := range rightIDs(tx.Bucket(RuleTagsBucket), id) {
		if err := tx.Bucket(TagRulesBucket).Delete(assocKey(tagID, id)); err != nil {
			return err
		}
	}
	if err := deletePrefix(tx.Bucket(RuleTagsBucket), []byte(id+":")); err != nil {
		return err
	}

	// Derived routes referencing the rule go with it.
	for _, routeID := range rightIDs(tx.Bucket(RuleRoutesBucket), id) {
		rv := tx.Bucket(RoutesBucket).Get([]byte(routeID))
		if rv != nil {
			var route Route
			if err := json.Unmarshal(rv, &route); err == nil {
				tx.Bucket(CheckRoutesBucket).Delete(assocKey(route.CheckID, routeID))
			}
		}
		if err := tx.Bucket(RoutesBucket).Delete([]byte(routeID)); err != nil {
			return err
		}
	}
	if err := deletePrefix(tx.Bucket(RuleRoutesBucket), []byte(id+":")); err != nil {
		return err
	}

	if err := tx.Bucket(ContactRulesBucket).Delete(assocKey(rule.ContactID, id)); err != nil {
		return err
	}
	return b.Delete([]byte(id))
}

func (s *BoltStore) DeleteRule(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteRuleTx(tx, id)
	})
}

func (s *BoltStore) RuleIDsForContact(ctx context.Context, contactID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids = rightIDs(tx.Bucket(ContactRulesBucket), contactID)
		return nil
	})
	return ids, err
}

func (s *BoltStore) GenericRuleIDs(ctx context.Context) ([]string, error) {
	var ids []string

	err := s.db.View(func(tx *bbolt.Tx) error {
		ruleTags := tx.Bucket(RuleTagsBucket)
		return tx.Bucket(RulesBucket).ForEach(func(k, v []byte) error {
			prefix := []byte(string(k) + ":")
			c := ruleTags.Cursor()
			if first, _ := c.Seek(prefix); first != nil && bytes.HasPrefix(first, prefix) {
				return nil
			}
			ids = append(ids, string(k))
			return nil
		})
	})

	return ids, err
}

// --- Routes ---

func (s *BoltStore) GetRoute(ctx context.Context, id string) (*Route, error) {
	var route Route

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(RoutesBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("route not found")
		}
		return json.Unmarshal(v, &route)
	})

	if err != nil {
		return nil, err
	}
	return &route, nil
}

func (s *BoltStore) CreateRoute(ctx context.Context, route *Route) error {
	if route.ID == "" {
		route.ID = uuid.New().String()
	}
	route.CreatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putJSON(tx.Bucket(RoutesBucket), route.ID, route); err != nil {
			return err
		}
		if err := tx.Bucket(CheckRoutesBucket).Put(assocKey(route.CheckID, route.ID), nil); err != nil {
			return err
		}
		return tx.Bucket(RuleRoutesBucket).Put(assocKey(route.RuleID, route.ID), nil)
	})
}

func (s *BoltStore) UpdateRoute(ctx context.Context, route *Route) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(RoutesBucket)
		if b.Get([]byte(route.ID)) == nil {
			return fmt.Errorf("route not found")
		}
		return putJSON(b, route.ID, route)
	})
}

func (s *BoltStore) RoutesForCheck(ctx context.Context, checkID string) ([]Route, error) {
	var routes []Route

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(RoutesBucket)
		for _, id := range rightIDs(tx.Bucket(CheckRoutesBucket), checkID) {
			v := b.Get([]byte(id))
			if v == nil {
				continue
			}
			var route Route
			if err := json.Unmarshal(v, &route); err != nil {
				return fmt.Errorf("failed to unmarshal route %s: %w", id, err)
			}
			routes = append(routes, route)
		}
		return nil
	})

	return routes, err
}

func (s *BoltStore) RouteIDsForRule(ctx context.Context, ruleID string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		ids = rightIDs(tx.Bucket(RuleRoutesBucket), ruleID)
		return nil
	})
	return ids, err
}

func deleteRoutesForCheckTx(tx *bbolt.Tx, checkID string) error {
	routes := tx.Bucket(RoutesBucket)
	for _, routeID := range rightIDs(tx.Bucket(CheckRoutesBucket), checkID) {
		v := routes.Get([]byte(routeID))
		if v != nil {
			var route Route
			if err := json.Unmarshal(v, &route); err == nil {
				if err := tx.Bucket(RuleRoutesBucket).Delete(assocKey(route.RuleID, routeID)); err != nil {
					return err
				}
			}
		}
		if err := routes.Delete([]byte(routeID)); err != nil {
			return err
		}
	}
	return deletePrefix(tx.Bucket(CheckRoutesBucket), []byte(checkID+":"))
}

func (s *BoltStore) DeleteRoutesForCheck(ctx context.Context, checkID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteRoutesForCheckTx(tx, checkID)
	})
}

// --- Contacts and media ---

func (s *BoltStore) GetContacts(ctx context.Context) ([]Contact, error) {
	var contacts []Contact

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(ContactsBucket).ForEach(func(k, v []byte) error {
			var contact Contact
			if err := json.Unmarshal(v, &contact); err != nil {
				return fmt.Errorf("failed to unmarshal contact %s: %w", k, err)
			}
			contacts = append(contacts, contact)
			return nil
		})
	})

	return contacts, err
}

func (s *BoltStore) GetContact(ctx context.Context, id string) (*Contact, error) {
	var contact Contact

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(ContactsBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("contact not found")
		}
		return json.Unmarshal(v, &contact)
	})

	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *BoltStore) CreateContact(ctx context.Context, contact *Contact) error {
	if err := validateContact(contact); err != nil {
		return err
	}
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	contact.CreatedAt = time.Now()
	contact.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(ContactsBucket), contact.ID, contact)
	})
}

func (s *BoltStore) UpdateContact(ctx context.Context, contact *Contact) error {
	if err := validateContact(contact); err != nil {
		return err
	}
	contact.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ContactsBucket)
		if b.Get([]byte(contact.ID)) == nil {
			return fmt.Errorf("contact not found")
		}
		return putJSON(b, contact.ID, contact)
	})
}

func (s *BoltStore) DeleteContact(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		// Rules belong to the contact; cascading through deleteRuleTx
		// also drops their derived routes.
		for _, ruleID := range rightIDs(tx.Bucket(ContactRulesBucket), id) {
			if err := deleteRuleTx(tx, ruleID); err != nil {
				return err
			}
		}
		if err := deletePrefix(tx.Bucket(ContactRulesBucket), []byte(id+":")); err != nil {
			return err
		}
		for _, mediumID := range rightIDs(tx.Bucket(ContactMediaBucket), id) {
			if err := tx.Bucket(MediaBucket).Delete([]byte(mediumID)); err != nil {
				return err
			}
		}
		if err := deletePrefix(tx.Bucket(ContactMediaBucket), []byte(id+":")); err != nil {
			return err
		}
		return tx.Bucket(ContactsBucket).Delete([]byte(id))
	})
}

func (s *BoltStore) GetMedium(ctx context.Context, id string) (*Medium, error) {
	var medium Medium

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(MediaBucket).Get([]byte(id))
		if v == nil {
			return fmt.Errorf("medium not found")
		}
		return json.Unmarshal(v, &medium)
	})

	if err != nil {
		return nil, err
	}
	return &medium, nil
}

func (s *BoltStore) CreateMedium(ctx context.Context, medium *Medium) error {
	if err := validateMedium(medium); err != nil {
		return err
	}
	if medium.ID == "" {
		medium.ID = uuid.New().String()
	}
	medium.CreatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(ContactsBucket).Get([]byte(medium.ContactID)) == nil {
			return fmt.Errorf("contact not found")
		}
		if err := putJSON(tx.Bucket(MediaBucket), medium.ID, medium); err != nil {
			return err
		}
		return tx.Bucket(ContactMediaBucket).Put(assocKey(medium.ContactID, medium.ID), nil)
	})
}

func (s *BoltStore) UpdateMedium(ctx context.Context, medium *Medium) error {
	if err := validateMedium(medium); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MediaBucket)
		v := b.Get([]byte(medium.ID))
		if v == nil {
			return fmt.Errorf("medium not found")
		}
		var existing Medium
		if err := json.Unmarshal(v, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal medium %s: %w", medium.ID, err)
		}
		if existing.ContactID != medium.ContactID {
			return &ValidationError{Field: "contact_id", Message: "cannot be changed"}
		}
		medium.CreatedAt = existing.CreatedAt
		return putJSON(b, medium.ID, medium)
	})
}

func (s *BoltStore) DeleteMedium(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MediaBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		var medium Medium
		if err := json.Unmarshal(v, &medium); err != nil {
			return fmt.Errorf("failed to unmarshal medium %s: %w", id, err)
		}
		if err := tx.Bucket(ContactMediaBucket).Delete(assocKey(medium.ContactID, id)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) MediaForContact(ctx context.Context, contactID string) ([]Medium, error) {
	var media []Medium

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MediaBucket)
		for _, id := range rightIDs(tx.Bucket(ContactMediaBucket), contactID) {
			v := b.Get([]byte(id))
			if v == nil {
				continue
			}
			var medium Medium
			if err := json.Unmarshal(v, &medium); err != nil {
				return fmt.Errorf("failed to unmarshal medium %s: %w", id, err)
			}
			media = append(media, medium)
		}
		return nil
	})

	return media, err
}
