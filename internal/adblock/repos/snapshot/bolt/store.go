package bolt

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/repos/snapshot"
)

var (
	bucketBlobs = []byte("blobs")
	bucketMeta  = []byte("meta")
)

// metaSize is the encoded size of a meta value: version then updated unix
// seconds, both big-endian uint64.
const metaSize = 16

// boltStore implements snapshot.Store using bbolt.
type boltStore struct {
	db    *bbolt.DB
	clock clock.Clock
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
// A nil clk uses the real clock.
func New(path string, clk clock.Clock) (snapshot.Store, error) {
	if clk == nil {
		clk = clock.RealClock{}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlobs); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db, clock: clk}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// Save stores blob under name, bumping its version.
func (s *boltStore) Save(name string, blob []byte) (info snapshot.Info, err error) {
	defer func() { err = errors.Annotate(err, "saving snapshot %q: %w", name) }()

	if name == "" {
		return info, fmt.Errorf("empty snapshot name")
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		info = decodeMeta(name, meta.Get([]byte(name)))
		info.Version++
		info.Updated = s.clock.Now().Truncate(time.Second).UTC()
		info.Size = len(blob)

		if err := tx.Bucket(bucketBlobs).Put([]byte(name), blob); err != nil {
			return err
		}
		return meta.Put([]byte(name), encodeMeta(info))
	})
	return info, err
}

// Load returns a copy of the blob stored under name.
func (s *boltStore) Load(name string) (blob []byte, info snapshot.Info, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketBlobs).Get([]byte(name))
		if v == nil {
			return fmt.Errorf("%w: %q", snapshot.ErrNotFound, name)
		}
		// Values are only valid for the life of the transaction.
		blob = make([]byte, len(v))
		copy(blob, v)
		info = decodeMeta(name, tx.Bucket(bucketMeta).Get([]byte(name)))
		info.Size = len(blob)
		return nil
	})
	return blob, info, err
}

// Delete removes the snapshot stored under name.
func (s *boltStore) Delete(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		blobs := tx.Bucket(bucketBlobs)
		if blobs.Get([]byte(name)) == nil {
			return fmt.Errorf("%w: %q", snapshot.ErrNotFound, name)
		}
		if err := blobs.Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete([]byte(name))
	})
}

// List returns every stored snapshot in name order.
func (s *boltStore) List() ([]snapshot.Info, error) {
	var out []snapshot.Info
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		return tx.Bucket(bucketBlobs).ForEach(func(k, v []byte) error {
			info := decodeMeta(string(k), meta.Get(k))
			info.Size = len(v)
			out = append(out, info)
			return nil
		})
	})
	return out, err
}

func encodeMeta(info snapshot.Info) []byte {
	buf := make([]byte, metaSize)
	binary.BigEndian.PutUint64(buf[:8], info.Version)
	binary.BigEndian.PutUint64(buf[8:], uint64(info.Updated.Unix()))
	return buf
}

func decodeMeta(name string, v []byte) snapshot.Info {
	info := snapshot.Info{Name: name}
	if len(v) == metaSize {
		info.Version = binary.BigEndian.Uint64(v[:8])
		info.Updated = time.Unix(int64(binary.BigEndian.Uint64(v[8:])), 0).UTC()
	}
	return info
}
