package boltstore

import (
	"encoding/binary"
	"time"

	"github.com/crystal-mush/mushcontrib/pkg/gamedb"
	"github.com/google/uuid"
)

// Bucket name constants for bbolt storage.
var (
	bucketMeta     = []byte("meta")
	bucketObjects  = []byte("objects")
	bucketPlayers  = []byte("players")
	bucketMessages = []byte("messages")
	bucketMsgIDs   = []byte("msgids")
	bucketMsgIndex = []byte("msgindex")
)

// Meta key constants.
var (
	keyNextRef = []byte("nextref")
	keySchema  = []byte("schema")
)

const schemaVersion = 1

// refToKey converts a DBRef to an 8-byte big-endian key.
// We offset by a large constant so negative DBRefs (Nothing=-1, etc.) sort correctly.
func refToKey(ref gamedb.DBRef) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(int64(ref)+1<<32))
	return buf
}

// keyToRef converts an 8-byte big-endian key back to a DBRef.
func keyToRef(b []byte) gamedb.DBRef {
	v := binary.BigEndian.Uint64(b)
	return gamedb.DBRef(int64(v) - 1<<32)
}

// intToKey converts an int to an 8-byte big-endian key.
func intToKey(n int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return buf
}

// keyToInt converts an 8-byte big-endian key back to an int.
func keyToInt(b []byte) int {
	return int(binary.BigEndian.Uint64(b))
}

// msgKey orders messages by creation time: 8-byte nanos followed by the ID.
func msgKey(created time.Time, id uuid.UUID) []byte {
	buf := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(buf, uint64(created.UnixNano()))
	return append(buf, id[:]...)
}

// receiverIndexKey is "receiver ref | message key", so a cursor seek on the
// receiver prefix walks that receiver's messages in time order.
func receiverIndexKey(receiver gamedb.DBRef, mk []byte) []byte {
	return append(refToKey(receiver), mk...)
}
