package boltstore

import (
	"fmt"
	"os"
	"strings"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	bbolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Store wraps a bbolt database and an in-memory cache for ACID persistence.
type Store struct {
	bolt  *bbolt.DB
	cache *gamedb.Database
}

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketObjects, bucketPlayers, bucketMessages, bucketMsgIDs, bucketMsgIndex} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keySchema); v != nil && keyToInt(v) > schemaVersion {
			return fmt.Errorf("schema version %d is newer than supported %d", keyToInt(v), schemaVersion)
		}
		return meta.Put(keySchema, intToKey(schemaVersion))
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}

	return &Store{
		bolt:  db,
		cache: gamedb.NewDatabase(),
	}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// DB returns the in-memory database cache.
func (s *Store) DB() *gamedb.Database {
	return s.cache
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// PutObject persists a single object to bbolt (write-through).
func (s *Store) PutObject(obj *gamedb.Object) error {
	return s.PutObjects(obj)
}

// PutObjects persists multiple objects and the next-ref counter in a single
// bbolt transaction.
func (s *Store) PutObjects(objs ...*gamedb.Object) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		players := tx.Bucket(bucketPlayers)
		for _, obj := range objs {
			if obj == nil {
				continue
			}
			data, err := encodeObject(obj)
			if err != nil {
				return fmt.Errorf("boltstore: encode object %s: %w", obj.DBRef, err)
			}
			if err := b.Put(refToKey(obj.DBRef), data); err != nil {
				return err
			}
			if obj.Type == gamedb.TypePlayer && !obj.IsGoing() {
				if err := players.Put([]byte(strings.ToLower(obj.Name)), refToKey(obj.DBRef)); err != nil {
					return err
				}
			}
		}
		return tx.Bucket(bucketMeta).Put(keyNextRef, intToKey(int(s.cache.NextRef)))
	})
}

// DeleteObject removes an object and its player index entry from bbolt.
func (s *Store) DeleteObject(obj *gamedb.Object) error {
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		if obj.Type == gamedb.TypePlayer {
			if err := tx.Bucket(bucketPlayers).Delete([]byte(strings.ToLower(obj.Name))); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketObjects).Delete(refToKey(obj.DBRef))
	})
	if err != nil {
		return fmt.Errorf("boltstore: delete object %s: %w", obj.DBRef, err)
	}
	return nil
}

// LookupPlayer resolves a player name through the secondary index. A read
// error is logged and reported as not found.
func (s *Store) LookupPlayer(name string) (gamedb.DBRef, bool) {
	ref := gamedb.Nothing
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketPlayers).Get([]byte(strings.ToLower(name))); v != nil {
			ref = keyToRef(v)
		}
		return nil
	})
	if err != nil {
		zap.L().Warn("boltstore: player index lookup failed", zap.String("name", name), zap.Error(err))
		return gamedb.Nothing, false
	}
	return ref, ref != gamedb.Nothing
}

// LoadAll reads every object from bbolt into the in-memory cache.
func (s *Store) LoadAll() error {
	count := 0
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyNextRef); v != nil {
			s.cache.NextRef = gamedb.DBRef(keyToInt(v))
		}
		return tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			obj, err := decodeObject(v)
			if err != nil {
				return fmt.Errorf("decode object %s: %w", keyToRef(k), err)
			}
			s.cache.Put(obj)
			count++
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("boltstore: load objects: %w", err)
	}

	zap.L().Info("boltstore: loaded objects", zap.Int("objects", count), zap.String("path", s.Path()))
	return nil
}

// HasData reports whether the bbolt database contains any objects.
func (s *Store) HasData() (bool, error) {
	hasData := false
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		hasData = tx.Bucket(bucketObjects).Stats().KeyN > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("boltstore: check for data: %w", err)
	}
	return hasData, nil
}

// Backup creates a hot snapshot of the bbolt database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		if _, err := tx.WriteTo(f); err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		zap.L().Info("boltstore: backup written", zap.String("path", path))
		return nil
	})
}
