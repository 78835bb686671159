package cache

import (
	"encoding/binary"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var cacheBucket = []byte("gam-cache")

// boltBackend persists cached regions to an on-disk bbolt database,
// selected via gam-executor's --cache-backend=bbolt when a purely in-memory cache
// is not durable enough across process restarts.
type boltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (creating if absent) a bbolt database at path
// and returns a Backend over it.
func NewBoltBackend(path string) (Backend, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: opening bbolt database %q", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "cache: creating bbolt bucket")
	}
	return &boltBackend{db: db}, nil
}

func key(addr uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, addr)
	return b
}

// encodeRegions frames a list of byte regions as: count(uint32) then,
// for each region, length(uint32) + bytes.
func encodeRegions(regions [][]byte) []byte {
	size := 4
	for _, r := range regions {
		size += 4 + len(r)
	}
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(regions)))
	off := 4
	for _, r := range regions {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(r)))
		off += 4
		copy(buf[off:], r)
		off += len(r)
	}
	return buf
}

func decodeRegions(buf []byte) ([][]byte, error) {
	if len(buf) < 4 {
		return nil, errors.New("cache: truncated region header")
	}
	n := binary.BigEndian.Uint32(buf[0:4])
	off := 4
	regions := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		if off+4 > len(buf) {
			return nil, errors.New("cache: truncated region length")
		}
		l := binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
		if off+int(l) > len(buf) {
			return nil, errors.New("cache: truncated region body")
		}
		region := make([]byte, l)
		copy(region, buf[off:off+int(l)])
		off += int(l)
		regions = append(regions, region)
	}
	return regions, nil
}

func (b *boltBackend) Put(addr uint64, regions [][]byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put(key(addr), encodeRegions(regions))
	})
}

func (b *boltBackend) Get(addr uint64) ([][]byte, bool, error) {
	var regions [][]byte
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cacheBucket).Get(key(addr))
		if v == nil {
			return nil
		}
		found = true
		r, err := decodeRegions(v)
		if err != nil {
			return err
		}
		regions = r
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return regions, found, nil
}

func (b *boltBackend) Has(addr uint64) bool {
	var found bool
	_ = b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(cacheBucket).Get(key(addr)) != nil
		return nil
	})
	return found
}

func (b *boltBackend) Close() error {
	return b.db.Close()
}
