// Package store implements the durable, per-account message database
// (C1 MessageStore) over a cockroachdb/pebble ordered key-value engine.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"swarmstore/internal/keyed"
	"swarmstore/pkg/models"
)

// PageSize matches the persisted page size named in the external
// interfaces section: 4096 bytes.
const PageSize = 4096

// PageLimit is the default total-page capacity, ~3.5 GiB of pages.
const PageLimit = 917504

var (
	// ErrDuplicate is returned by Store when duplicate_policy is "fail"
	// and the hash already exists.
	ErrDuplicate = errors.New("duplicate")
	// ErrCapacityExceeded is returned when the page budget is exhausted.
	ErrCapacityExceeded = errors.New("capacity_exceeded")
	// ErrNotFound is returned by lookups that find nothing.
	ErrNotFound = errors.New("not_found")
)

// Store is the durable message database. A single instance is owned by
// the top-level service and shared by all request handlers.
type Store struct {
	db        *pebble.DB
	log       *zap.Logger
	pageLimit int64

	// msgCount is an in-memory running total kept in sync with every
	// insert/delete, avoiding a full-keyspace scan on every get_stats call.
	msgCount atomic.Int64

	// accountLocks serializes writes to a single account relative to each
	// other (§5): a store followed by a retrieve from the same client must
	// see that store, and concurrent deletes/expires on the same account
	// must not race each other's read-then-write sequences.
	accountLocks *keyed.Striped
}

// accountStripes is the fixed shard count for accountLocks.
const accountStripes = 256

// Options configures a Store.
type Options struct {
	PageLimit int64 // 0 uses the package default
}

// Open opens (or creates) a pebble database at path and primes the
// in-memory message counter by scanning the msg/ keyspace once.
func Open(path string, log *zap.Logger, opts Options) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("opening_pebble_db", zap.String("path", path))
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		log.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	limit := int64(PageLimit)
	if opts.PageLimit > 0 {
		limit = opts.PageLimit
	}

	s := &Store{db: db, log: log, pageLimit: limit, accountLocks: keyed.NewStriped(accountStripes)}
	count, err := s.countMessages()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: priming message count: %w", err)
	}
	s.msgCount.Store(count)
	log.Info("pebble_opened", zap.String("path", path), zap.Int64("message_count", count))
	return s, nil
}

// Close closes the underlying pebble handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return err
	}
	s.db = nil
	s.log.Info("pebble_closed")
	return nil
}

func (s *Store) countMessages() (int64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: msgPrefix,
		UpperBound: prefixUpperBound(msgPrefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	var n int64
	for iter.SeekGE(msgPrefix); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

// pageCount estimates the current on-disk page usage from pebble's disk
// space metrics, matching "query current page count" rather than a
// running counter that could drift across restarts.
func (s *Store) pageCount() int64 {
	m := s.db.Metrics()
	used := int64(m.DiskSpaceUsage())
	return (used + PageSize - 1) / PageSize
}

// Store inserts a message, enforcing hash uniqueness and page capacity.
// duplicate is reported via ErrDuplicate only when policy is DuplicateFail;
// with DuplicateIgnore, a colliding hash is a no-op success.
func (s *Store) Store(m models.Message, policy models.DuplicatePolicy) error {
	s.accountLocks.Lock(m.Account[:])
	defer s.accountLocks.Unlock(m.Account[:])

	if s.pageCount() >= s.pageLimit {
		return ErrCapacityExceeded
	}

	_, closer, err := s.db.Get(msgKey(m.Hash))
	if err == nil {
		closer.Close()
		if policy == models.DuplicateFail {
			return ErrDuplicate
		}
		return nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("store: get %s: %w", m.Hash, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := s.stage(batch, m); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("store: commit %s: %w", m.Hash, err)
	}
	s.msgCount.Add(1)
	return nil
}

func (s *Store) stage(batch *pebble.Batch, m models.Message) error {
	if err := batch.Set(msgKey(m.Hash), encodeRecord(m), nil); err != nil {
		return err
	}
	if err := batch.Set(idxKey(m.Account, m.Namespace, m.TimestampMs, m.Hash), nil, nil); err != nil {
		return err
	}
	if err := batch.Set(expKey(m.ExpiryMs, m.Hash), nil, nil); err != nil {
		return err
	}
	return nil
}

// BulkStore inserts every message transactionally: either all are applied
// (skipping any that already exist) or, on any real error, none are.
func (s *Store) BulkStore(messages []models.Message) (inserted int, err error) {
	if len(messages) == 0 {
		return 0, nil
	}
	if s.pageCount() >= s.pageLimit {
		return 0, ErrCapacityExceeded
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, m := range messages {
		_, closer, gerr := s.db.Get(msgKey(m.Hash))
		if gerr == nil {
			closer.Close()
			continue // duplicate, ignored per bulk_store semantics
		}
		if !errors.Is(gerr, pebble.ErrNotFound) {
			return 0, fmt.Errorf("store: bulk get %s: %w", m.Hash, gerr)
		}
		if err := s.stage(batch, m); err != nil {
			return 0, fmt.Errorf("store: bulk stage %s: %w", m.Hash, err)
		}
		inserted++
	}
	if inserted == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("store: bulk commit: %w", err)
	}
	s.msgCount.Add(int64(inserted))
	return inserted, nil
}

// DefaultRetrieveLimit and MaxRetrieveLimit bound the retrieve() page size.
const (
	DefaultRetrieveLimit = 256
	MaxRetrieveLimit     = 1000
)

// Retrieve returns messages for (account, namespace) with timestamp_ms
// strictly greater than that of sinceHash (or all, if sinceHash is nil),
// ordered by ascending timestamp_ms then ascending hash.
func (s *Store) Retrieve(account models.Account, ns models.Namespace, sinceHash *models.Hash, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultRetrieveLimit
	}
	if limit > MaxRetrieveLimit {
		limit = MaxRetrieveLimit
	}

	var sinceTs int64 = -1
	if sinceHash != nil {
		since, ok, err := s.RetrieveByHash(*sinceHash)
		if err != nil {
			return nil, err
		}
		if ok {
			sinceTs = since.TimestampMs
		}
	}

	prefix := idxPrefixFor(account, ns)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]models.Message, 0, limit)
	for iter.SeekGE(prefix); iter.Valid() && len(out) < limit; iter.Next() {
		key := iter.Key()
		if !bytes.HasPrefix(key, prefix) {
			break
		}
		var h models.Hash
		copy(h[:], key[len(key)-models.HashSize:])
		msg, ok, err := s.RetrieveByHash(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // raced with a concurrent delete/expiry
		}
		if sinceHash != nil && msg.TimestampMs <= sinceTs {
			continue
		}
		out = append(out, msg)
	}
	return out, iter.Error()
}

// RetrieveByHash looks up a single message by its primary key.
func (s *Store) RetrieveByHash(h models.Hash) (models.Message, bool, error) {
	val, closer, err := s.db.Get(msgKey(h))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("store: get %s: %w", h, err)
	}
	defer closer.Close()
	m, err := decodeRecord(h, val)
	if err != nil {
		return models.Message{}, false, err
	}
	return m, true, nil
}

// RetrieveRandom returns a uniformly sampled stored message, used by the
// peer liveness test. It seeks to a random point in the msg/ keyspace and
// wraps around once if that lands past the last key.
func (s *Store) RetrieveRandom() (models.Message, bool, error) {
	var probe [models.HashSize]byte
	if _, err := rand.Read(probe[:]); err != nil {
		return models.Message{}, false, fmt.Errorf("store: random probe: %w", err)
	}
	seek := append(append([]byte{}, msgPrefix...), probe[:]...)

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: msgPrefix,
		UpperBound: prefixUpperBound(msgPrefix),
	})
	if err != nil {
		return models.Message{}, false, err
	}
	defer iter.Close()

	iter.SeekGE(seek)
	if !iter.Valid() {
		iter.SeekGE(msgPrefix) // wrap around once
	}
	if !iter.Valid() {
		return models.Message{}, false, iter.Error()
	}

	var h models.Hash
	copy(h[:], iter.Key()[len(msgPrefix):])
	val := append([]byte{}, iter.Value()...)
	m, err := decodeRecord(h, val)
	if err != nil {
		return models.Message{}, false, err
	}
	return m, true, nil
}

// Stats holds the results of get_stats().
type Stats struct {
	MessageCount int64
	PageCount    int64
}

// GetStats returns the current message count and estimated page count.
func (s *Store) GetStats() Stats {
	return Stats{
		MessageCount: s.msgCount.Load(),
		PageCount:    s.pageCount(),
	}
}

// CleanExpired deletes every row with expiry_ms <= nowMs. It is safe to
// call concurrently with reads and is idempotent.
func (s *Store) CleanExpired(nowMs int64) (deleted int, err error) {
	upper := expKey(nowMs+1, models.Hash{})
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: expPrefix,
		UpperBound: upper,
	})
	if err != nil {
		return 0, err
	}

	type victim struct {
		hash models.Hash
	}
	var victims []victim
	for iter.SeekGE(expPrefix); iter.Valid(); iter.Next() {
		key := iter.Key()
		var h models.Hash
		copy(h[:], key[len(key)-models.HashSize:])
		victims = append(victims, victim{hash: h})
	}
	iterErr := iter.Error()
	iter.Close()
	if iterErr != nil {
		return 0, iterErr
	}
	if len(victims) == 0 {
		return 0, nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, v := range victims {
		msg, ok, err := s.RetrieveByHash(v.hash)
		if err != nil {
			return deleted, err
		}
		if !ok {
			continue
		}
		if err := batch.Delete(msgKey(v.hash), nil); err != nil {
			return deleted, err
		}
		if err := batch.Delete(idxKey(msg.Account, msg.Namespace, msg.TimestampMs, v.hash), nil); err != nil {
			return deleted, err
		}
		if err := batch.Delete(expKey(msg.ExpiryMs, v.hash), nil); err != nil {
			return deleted, err
		}
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("store: clean_expired commit: %w", err)
	}
	s.msgCount.Add(-int64(deleted))
	s.log.Debug("clean_expired", zap.Int("deleted", deleted))
	return deleted, nil
}

// Delete removes the given hashes if owned by account. Hashes not owned
// by account, or not found, are silently skipped.
func (s *Store) Delete(account models.Account, hashes []models.Hash) (deleted int, err error) {
	s.accountLocks.Lock(account[:])
	defer s.accountLocks.Unlock(account[:])

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, h := range hashes {
		msg, ok, err := s.RetrieveByHash(h)
		if err != nil {
			return deleted, err
		}
		if !ok || msg.Account != account {
			continue
		}
		if err := batch.Delete(msgKey(h), nil); err != nil {
			return deleted, err
		}
		if err := batch.Delete(idxKey(msg.Account, msg.Namespace, msg.TimestampMs, h), nil); err != nil {
			return deleted, err
		}
		if err := batch.Delete(expKey(msg.ExpiryMs, h), nil); err != nil {
			return deleted, err
		}
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return deleted, fmt.Errorf("store: delete commit: %w", err)
	}
	s.msgCount.Add(-int64(deleted))
	return deleted, nil
}

// DeleteAll removes all messages for account in the given namespaces with
// timestamp_ms < before.
func (s *Store) DeleteAll(account models.Account, namespaces []models.Namespace, before int64) (deleted int, err error) {
	s.accountLocks.Lock(account[:])
	defer s.accountLocks.Unlock(account[:])

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, ns := range namespaces {
		prefix := idxPrefixFor(account, ns)
		iter, err := s.db.NewIter(&pebble.IterOptions{
			LowerBound: prefix,
			UpperBound: prefixUpperBound(prefix),
		})
		if err != nil {
			return deleted, err
		}
		var hashes []models.Hash
		for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
			key := iter.Key()
			if !bytes.HasPrefix(key, prefix) {
				break
			}
			var h models.Hash
			copy(h[:], key[len(key)-models.HashSize:])
			hashes = append(hashes, h)
		}
		ierr := iter.Error()
		iter.Close()
		if ierr != nil {
			return deleted, ierr
		}
		for _, h := range hashes {
			msg, ok, err := s.RetrieveByHash(h)
			if err != nil {
				return deleted, err
			}
			if !ok || msg.TimestampMs >= before {
				continue
			}
			if err := batch.Delete(msgKey(h), nil); err != nil {
				return deleted, err
			}
			if err := batch.Delete(idxKey(msg.Account, msg.Namespace, msg.TimestampMs, h), nil); err != nil {
				return deleted, err
			}
			if err := batch.Delete(expKey(msg.ExpiryMs, h), nil); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return deleted, fmt.Errorf("store: delete_all commit: %w", err)
	}
	s.msgCount.Add(-int64(deleted))
	return deleted, nil
}

// Expire shortens or extends the expiry of listed hashes owned by account.
func (s *Store) Expire(account models.Account, extensions map[models.Hash]int64) (updated []models.Hash, err error) {
	s.accountLocks.Lock(account[:])
	defer s.accountLocks.Unlock(account[:])

	batch := s.db.NewBatch()
	defer batch.Close()
	for h, newExpiry := range extensions {
		msg, ok, err := s.RetrieveByHash(h)
		if err != nil {
			return updated, err
		}
		if !ok || msg.Account != account {
			continue
		}
		if err := batch.Delete(expKey(msg.ExpiryMs, h), nil); err != nil {
			return updated, err
		}
		msg.ExpiryMs = newExpiry
		if err := batch.Set(msgKey(h), encodeRecord(msg), nil); err != nil {
			return updated, err
		}
		if err := batch.Set(expKey(newExpiry, h), nil, nil); err != nil {
			return updated, err
		}
		updated = append(updated, h)
	}
	if len(updated) == 0 {
		return nil, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("store: expire commit: %w", err)
	}
	return updated, nil
}
