// Package queue implements the persistent FIFO queue (C2): a durable,
// insertion-ordered set of pending build IDs, safe across processes.
package queue

import (
	"errors"
	"time"

	"github.com/gofrs/flock"

	"github.com/openwrt-builder/builder/internal/atomicfile"
	"github.com/openwrt-builder/builder/internal/model"
)

// Queue is the durable FIFO document plus its sidecar advisory lock.
type Queue struct {
	path string
	lock *flock.Flock
}

// New returns a Queue backed by the document at path, locked via a
// sidecar file at path+".lock" for the duration of every operation.
func New(path string) *Queue {
	return &Queue{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (q *Queue) withLock(fn func() error) error {
	if err := q.lock.Lock(); err != nil {
		return err
	}
	defer q.lock.Unlock()
	return fn()
}

// read loads the queue document, treating a missing or malformed file
// as empty (per SPEC_FULL.md §4.2's "malformed content is treated as
// empty and normalized on next write").
func (q *Queue) read() model.Queue {
	var doc model.Queue
	if err := atomicfile.ReadJSON(q.path, &doc); err != nil {
		return model.Queue{Items: []string{}}
	}
	if doc.Items == nil {
		doc.Items = []string{}
	}
	return doc
}

func (q *Queue) write(doc model.Queue) error {
	doc.UpdatedAt = time.Now().UTC()
	return atomicfile.WriteJSON(q.path, doc)
}

// List returns a snapshot copy of the queued build IDs, preserving order.
func (q *Queue) List() ([]string, error) {
	var out []string
	err := q.withLock(func() error {
		doc := q.read()
		out = append([]string(nil), doc.Items...)
		return nil
	})
	return out, err
}

// Enqueue appends buildID if it is not already present. It returns
// false (without error) if the ID was already queued.
func (q *Queue) Enqueue(buildID string) (bool, error) {
	var added bool
	err := q.withLock(func() error {
		doc := q.read()
		for _, id := range doc.Items {
			if id == buildID {
				added = false
				return nil
			}
		}
		doc.Items = append(doc.Items, buildID)
		added = true
		return q.write(doc)
	})
	return added, err
}

// ErrEmpty is returned by Dequeue when the queue has no items.
var ErrEmpty = errors.New("queue: empty")

// Dequeue removes and returns the head of the queue. It returns
// ("", ErrEmpty) when the queue is empty.
func (q *Queue) Dequeue() (string, error) {
	var head string
	err := q.withLock(func() error {
		doc := q.read()
		if len(doc.Items) == 0 {
			head = ""
			return ErrEmpty
		}
		head = doc.Items[0]
		doc.Items = doc.Items[1:]
		return q.write(doc)
	})
	if err == ErrEmpty {
		return "", ErrEmpty
	}
	return head, err
}

// Remove deletes every occurrence of buildID (expected to be at most
// one by construction). It returns true if anything was removed.
func (q *Queue) Remove(buildID string) (bool, error) {
	var removed bool
	err := q.withLock(func() error {
		doc := q.read()
		filtered := doc.Items[:0:0]
		for _, id := range doc.Items {
			if id == buildID {
				removed = true
				continue
			}
			filtered = append(filtered, id)
		}
		if !removed {
			return nil
		}
		doc.Items = filtered
		return q.write(doc)
	})
	return removed, err
}
