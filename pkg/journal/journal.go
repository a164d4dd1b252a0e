// Package journal keeps a persistent history of runs in a Pebble database.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"despair/pkg/dynarec"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Record describes one finished run.
type Record struct {
	ID      uuid.UUID       `cbor:"id" yaml:"id"`
	Image   string          `cbor:"image" yaml:"image"`
	Mode    string          `cbor:"mode" yaml:"mode"`
	Started time.Time       `cbor:"started" yaml:"started"`
	Elapsed time.Duration   `cbor:"elapsed" yaml:"elapsed"`
	Error   string          `cbor:"error,omitempty" yaml:"error,omitempty"`
	Cores   []dynarec.Stats `cbor:"cores" yaml:"cores"`
}

// Journal stores records under two key spaces:
//
//	run:<image>:<started, big-endian nanos><id> -> record
//	id:<id>                                     -> run key
type Journal struct {
	db  *pebble.DB
	enc cbor.EncMode
}

func Open(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", path, err)
	}
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, enc: enc}, nil
}

func runKey(r *Record) []byte {
	key := append([]byte("run:"+r.Image+":"), make([]byte, 8)...)
	binary.BigEndian.PutUint64(key[len(key)-8:], uint64(r.Started.UnixNano()))
	return append(key, r.ID[:]...)
}

func idKey(id uuid.UUID) []byte {
	return append([]byte("id:"), id[:]...)
}

// Put stores r, assigning an id when it has none, and returns the id.
func (j *Journal) Put(r *Record) (uuid.UUID, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	value, err := j.enc.Marshal(r)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to encode run %s: %w", r.ID, err)
	}
	key := runKey(r)

	batch := j.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(key, value, nil); err != nil {
		return uuid.Nil, err
	}
	if err := batch.Set(idKey(r.ID), key, nil); err != nil {
		return uuid.Nil, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit run %s: %w", r.ID, err)
	}
	return r.ID, nil
}

// Get returns the run with the given id.
func (j *Journal) Get(id uuid.UUID) (*Record, error) {
	key, closer, err := j.db.Get(idKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	key = append([]byte(nil), key...)
	closer.Close()

	value, closer, err := j.db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("run %s indexed but unreadable: %w", id, err)
	}
	defer closer.Close()
	return decode(value)
}

// List returns the runs of one image, or of every image when image is
// empty, oldest first within each image.
func (j *Journal) List(image string) ([]Record, error) {
	lower, upper := []byte("run:"), []byte("run;")
	if image != "" {
		lower, upper = []byte("run:"+image+":"), []byte("run:"+image+";")
	}
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		r, err := decode(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("record %q: %w", iter.Key(), err)
		}
		out = append(out, *r)
	}
	return out, nil
}

// Delete removes a run. Deleting an unknown id is not an error.
func (j *Journal) Delete(id uuid.UUID) error {
	key, closer, err := j.db.Get(idKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	key = append([]byte(nil), key...)
	closer.Close()

	batch := j.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(key, nil); err != nil {
		return err
	}
	if err := batch.Delete(idKey(id), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func decode(value []byte) (*Record, error) {
	var r Record
	if err := cbor.Unmarshal(value, &r); err != nil {
		return nil, fmt.Errorf("failed to decode run: %w", err)
	}
	return &r, nil
}
