// Package archive is the read-only history of the retired exchanges. It's
// stored to bbolt file where every exchange kind has its own bucket.
package archive

import (
	"encoding/json"
	"errors"

	"github.com/findy-network/findy-exchange/agent/psm"
	"github.com/golang/glog"
	"github.com/lainio/err2"
	"github.com/lainio/err2/try"
	bolt "go.etcd.io/bbolt"
)

// ErrNotExists is an error for key not exist in the archive.
var ErrNotExists = errors.New("exchange not exists")

var buckets = []psm.Kind{psm.Connection, psm.Credential, psm.Proof}

func bucketName(k psm.Kind) []byte {
	return []byte(k.String())
}

// DB is the bbolt archive of the exchanges. Party credentials aren't stored.
type DB struct {
	db *bolt.DB
}

// Open opens or creates the archive file.
func Open(filename string) (a *DB, err error) {
	defer err2.Handle(&err, "open archive %s", filename)

	db := try.To1(bolt.Open(filename, 0600, nil))

	try.To(db.Update(func(tx *bolt.Tx) (err error) {
		defer err2.Handle(&err, "create buckets")

		for _, k := range buckets {
			try.To1(tx.CreateBucketIfNotExists(bucketName(k)))
		}
		return nil
	}))
	glog.V(1).Infoln("exchange archive opened:", filename)
	return &DB{db: db}, nil
}

// Close closes the archive file.
func (a *DB) Close() (err error) {
	defer err2.Handle(&err, "close archive")

	try.To(a.db.Close())
	return nil
}

// Archive saves the exchange. A later save with the same correlation id
// overwrites the earlier one.
func (a *DB) Archive(ex psm.Exchange) (err error) {
	defer err2.Handle(&err, "archive %s", ex.CorrelationID)

	data := try.To1(json.Marshal(ex))
	try.To(a.db.Update(func(tx *bolt.Tx) (err error) {
		defer err2.Handle(&err)

		b := tx.Bucket(bucketName(ex.Kind))
		if b == nil {
			return ErrNotExists
		}
		try.To(b.Put([]byte(ex.CorrelationID), data))
		return nil
	}))
	return nil
}

// Get returns the archived exchange.
func (a *DB) Get(kind psm.Kind, corrID string) (ex psm.Exchange, err error) {
	defer err2.Handle(&err, "get %s", corrID)

	try.To(a.db.View(func(tx *bolt.Tx) (err error) {
		defer err2.Handle(&err)

		b := tx.Bucket(bucketName(kind))
		if b == nil {
			return ErrNotExists
		}
		d := b.Get([]byte(corrID))
		if d == nil {
			return ErrNotExists
		}
		try.To(json.Unmarshal(d, &ex))
		return nil
	}))
	return ex, nil
}

// ForEach calls f for every archived exchange of the kind until f returns
// false.
func (a *DB) ForEach(kind psm.Kind, f func(ex psm.Exchange) bool) (err error) {
	defer err2.Handle(&err, "iterate %s", kind)

	try.To(a.db.View(func(tx *bolt.Tx) (err error) {
		defer err2.Handle(&err)

		b := tx.Bucket(bucketName(kind))
		if b == nil {
			return ErrNotExists
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var ex psm.Exchange
			try.To(json.Unmarshal(v, &ex))
			if !f(ex) {
				break
			}
		}
		return nil
	}))
	return nil
}

// Count returns the count of the archived exchanges per kind.
func (a *DB) Count() (counts map[psm.Kind]int, err error) {
	defer err2.Handle(&err, "count")

	counts = make(map[psm.Kind]int, len(buckets))
	try.To(a.db.View(func(tx *bolt.Tx) error {
		for _, k := range buckets {
			if b := tx.Bucket(bucketName(k)); b != nil {
				counts[k] = b.Stats().KeyN
			}
		}
		return nil
	}))
	return counts, nil
}
