// Package store persists the cross-run decision state — alpha-investing
// wealth, respawn events, and kill timestamps — in a single BoltDB file.
//
// Bucket layout:
//
//	/meta     key "schema_version" -> "1"
//	/alpha    key "wealth"         -> JSON float64
//	/respawn  key identity_key + "/" + kill_ts -> JSON RespawnEvent
//	/kills    key fixed-width ts + "_" + seq -> "1"
//
// Single-process, single-writer; all writes are ACID transactions.
// Persistence failures degrade the callers to in-memory state only.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ptops/ptriage/decision"
	"github.com/ptops/ptriage/pterrors"
)

const schemaVersion = "1"

// killTSFormat is fixed-width so lexical key order matches time order.
const killTSFormat = "2006-01-02T15:04:05.000000000"

var (
	bucketMeta    = []byte("meta")
	bucketAlpha   = []byte("alpha")
	bucketRespawn = []byte("respawn")
	bucketKills   = []byte("kills")
)

// DB wraps a BoltDB instance with typed accessors for triage state.
type DB struct {
	db *bolt.DB
}

// Open opens (or creates) the state database.
func Open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, pterrors.Wrap(pterrors.KindIo, err, "open state db %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketAlpha, bucketRespawn, bucketKills} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put([]byte("schema_version"), []byte(schemaVersion))
	})
	if err != nil {
		db.Close()
		return nil, pterrors.Wrap(pterrors.KindIo, err, "init state db")
	}
	return &DB{db: db}, nil
}

// Close releases the database file.
func (d *DB) Close() error { return d.db.Close() }

// SaveWealth persists the alpha-investing wealth.
func (d *DB) SaveWealth(wealth float64) error {
	data, _ := json.Marshal(wealth)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlpha).Put([]byte("wealth"), data)
	})
}

// LoadWealth returns the persisted wealth, or (fallback, false) when unset.
func (d *DB) LoadWealth(fallback float64) (float64, bool) {
	wealth := fallback
	found := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAlpha).Get([]byte("wealth"))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &wealth); err == nil {
			found = true
		}
		return nil
	})
	return wealth, found
}

// AppendRespawnEvent persists one respawn event.
func (d *DB) AppendRespawnEvent(e decision.RespawnEvent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return pterrors.Wrap(pterrors.KindJson, err, "encode respawn event")
	}
	key := fmt.Sprintf("%s/%.3f", e.IdentityKey, e.KillTS)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRespawn).Put([]byte(key), data)
	})
}

// LoadRespawnEvents returns every persisted respawn event.
func (d *DB) LoadRespawnEvents() ([]decision.RespawnEvent, error) {
	var out []decision.RespawnEvent
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRespawn).ForEach(func(_, v []byte) error {
			var e decision.RespawnEvent
			if err := json.Unmarshal(v, &e); err == nil {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, pterrors.Wrap(pterrors.KindIo, err, "load respawn events")
	}
	return out, nil
}

// PruneRespawnEvents drops events with kill_ts older than cutoff epoch
// seconds, returning the count removed.
func (d *DB) PruneRespawnEvents(cutoff float64) (int, error) {
	removed := 0
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRespawn)
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var e decision.RespawnEvent
			if err := json.Unmarshal(v, &e); err == nil && e.KillTS < cutoff {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// AppendKill records one kill timestamp; implements decision.KillStore.
// The bucket sequence disambiguates kills sharing a timestamp.
func (d *DB) AppendKill(ts time.Time) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKills)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%s_%d", ts.UTC().Format(killTSFormat), seq)
		return b.Put([]byte(key), []byte("1"))
	})
}

// KillsSince counts recorded kills at or after ts; implements
// decision.KillStore.
func (d *DB) KillsSince(ts time.Time) (int, error) {
	count := 0
	min := []byte(ts.UTC().Format(killTSFormat))
	err := d.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketKills).Cursor()
		for k, _ := c.Seek(min); k != nil; k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// PruneKills drops kill timestamps older than cutoff, returning the count
// removed.
func (d *DB) PruneKills(cutoff time.Time) (int, error) {
	removed := 0
	max := []byte(cutoff.UTC().Format(killTSFormat))
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKills)
		c := b.Cursor()
		var stale [][]byte
		for k, _ := c.First(); k != nil && string(k) < string(max); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
