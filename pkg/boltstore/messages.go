package boltstore

import (
	"bytes"
	"fmt"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/google/uuid"
	bbolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// CreateMessage persists a new message and indexes it under each receiver.
func (s *Store) CreateMessage(msg *gamedb.Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("boltstore: encode message %s: %w", msg.ID, err)
	}
	mk := msgKey(msg.Created, msg.ID)
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		ids := tx.Bucket(bucketMsgIDs)
		if ids.Get(msg.ID[:]) != nil {
			return fmt.Errorf("boltstore: message %s already exists", msg.ID)
		}
		if err := tx.Bucket(bucketMessages).Put(mk, data); err != nil {
			return err
		}
		if err := ids.Put(msg.ID[:], mk); err != nil {
			return err
		}
		idx := tx.Bucket(bucketMsgIndex)
		for _, r := range msg.Receivers {
			if err := idx.Put(receiverIndexKey(r, mk), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateMessage rewrites an existing message (tag changes from the report
// menu). Receivers are re-indexed in case they changed.
func (s *Store) UpdateMessage(msg *gamedb.Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("boltstore: encode message %s: %w", msg.ID, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		mk := tx.Bucket(bucketMsgIDs).Get(msg.ID[:])
		if mk == nil {
			return fmt.Errorf("boltstore: update %s: %w", msg.ID, gamedb.ErrMessageNotFound)
		}
		mk = bytes.Clone(mk)
		msgs := tx.Bucket(bucketMessages)
		old, err := decodeMessage(msgs.Get(mk))
		if err != nil {
			return fmt.Errorf("boltstore: decode message %s: %w", msg.ID, err)
		}
		idx := tx.Bucket(bucketMsgIndex)
		for _, r := range old.Receivers {
			if err := idx.Delete(receiverIndexKey(r, mk)); err != nil {
				return err
			}
		}
		for _, r := range msg.Receivers {
			if err := idx.Put(receiverIndexKey(r, mk), nil); err != nil {
				return err
			}
		}
		return msgs.Put(mk, data)
	})
}

// GetMessage loads a message by ID.
func (s *Store) GetMessage(id uuid.UUID) (*gamedb.Message, error) {
	var msg *gamedb.Message
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		mk := tx.Bucket(bucketMsgIDs).Get(id[:])
		if mk == nil {
			return gamedb.ErrMessageNotFound
		}
		var err error
		msg, err = decodeMessage(tx.Bucket(bucketMessages).Get(mk))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: get message %s: %w", id, err)
	}
	return msg, nil
}

// SearchMessages returns messages matching q, newest first. A receiver
// filter walks that receiver's index; otherwise every message is scanned.
func (s *Store) SearchMessages(q gamedb.MessageQuery) ([]*gamedb.Message, error) {
	var out []*gamedb.Message
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		if q.Receiver == gamedb.Nothing {
			return msgs.ForEach(func(k, v []byte) error {
				return collect(&out, q, k, v)
			})
		}
		prefix := refToKey(q.Receiver)
		c := tx.Bucket(bucketMsgIndex).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			mk := k[len(prefix):]
			if err := collect(&out, q, mk, msgs.Get(mk)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: search messages: %w", err)
	}
	return gamedb.SortNewestFirst(out, q.Limit), nil
}

func collect(out *[]*gamedb.Message, q gamedb.MessageQuery, k, v []byte) error {
	if v == nil {
		zap.L().Warn("boltstore: dangling message index entry", zap.Binary("key", k))
		return nil
	}
	msg, err := decodeMessage(v)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if q.Matches(msg) {
		*out = append(*out, msg)
	}
	return nil
}

// MessageCount returns the number of stored messages.
func (s *Store) MessageCount() (int, error) {
	n := 0
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketMessages).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("boltstore: count messages: %w", err)
	}
	return n, nil
}
