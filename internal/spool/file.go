package spool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"

	logx "notificationforwarder/pkg/logx"
)

// fileStore persists the spool as
//
//   - <prefix>.snapshot.json (compacted state, replaced atomically)
//   - <prefix>.journal.jsonl (append-only operations since the snapshot)
//
// Several processes may open the same spool (one per notification plus the
// daemon). Every operation holds <prefix>.store.lock and reloads the
// snapshot and journal first, so the in-memory copy is only a cache of the
// files. The journal is compacted into the snapshot under the same lock once
// it holds compactEvery records.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	fl *flock.Flock

	snapshotPath string
	journalPath  string
	journal      *os.File

	entries    []Entry
	dedup      map[string]int64 // unix milli
	journalLen int

	compactEvery int
}

type journalRecord struct {
	Op    string `json:"op"`
	Entry *Entry `json:"entry,omitempty"`
	ID    string `json:"id,omitempty"`
	Err   string `json:"err,omitempty"`
	At    int64  `json:"at,omitempty"`
	Key   string `json:"key,omitempty"`
	Until int64  `json:"until,omitempty"`
}

const (
	opPut     = "put"
	opDelete  = "del"
	opAttempt = "attempt"
	opDrop    = "drop"
	opDedup   = "dedup"
)

const storeLockTimeout = 30 * time.Second

var errStoreClosed = errors.New("spool store closed")

type snapshot struct {
	Entries []Entry          `json:"entries"`
	Dedup   map[string]int64 `json:"dedup"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		fl:           flock.New(prefix + ".store.lock"),
		snapshotPath: prefix + ".snapshot.json",
		journalPath:  prefix + ".journal.jsonl",
		dedup:        map[string]int64{},
		compactEvery: 500,
	}
	jf, err := os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	err = s.locked(context.Background(), func() error {
		if s.journalLen == 0 {
			return nil
		}
		if err := s.compact(); err != nil {
			log.Warn("spool compact failed", logx.Err(err))
		}
		return nil
	})
	if err != nil {
		_ = jf.Close()
		_ = s.fl.Close()
		return nil, err
	}
	return s, nil
}

// locked runs fn with the store lock held and the in-memory state freshly
// loaded from disk.
func (s *fileStore) locked(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errStoreClosed
	}
	lctx, cancel := context.WithTimeout(ctx, storeLockTimeout)
	defer cancel()
	ok, err := s.fl.TryLockContext(lctx, 10*time.Millisecond)
	if !ok {
		if err == nil {
			err = errors.New("not acquired")
		}
		return fmt.Errorf("spool store lock: %w", err)
	}
	defer func() {
		if err := s.fl.Unlock(); err != nil {
			s.log.Debug("spool store unlock failed", logx.Err(err))
		}
	}()
	if err := s.reload(); err != nil {
		return err
	}
	return fn()
}

func (s *fileStore) reload() error {
	s.entries = nil
	s.dedup = map[string]int64{}
	s.journalLen = 0
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("spool snapshot: %w", err)
	}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("spool journal: %w", err)
	}
	return nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	s.entries = snap.Entries
	for k, v := range snap.Dedup {
		s.dedup[k] = v
	}
	return nil
}

func (s *fileStore) replay() error {
	f, err := os.Open(s.journalPath)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		s.journalLen++
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn last line from a crash is skipped.
			continue
		}
		s.apply(r)
	}
	return sc.Err()
}

func (s *fileStore) apply(r journalRecord) {
	switch r.Op {
	case opPut:
		if r.Entry != nil && s.index(r.Entry.ID) < 0 {
			s.entries = append(s.entries, *r.Entry)
		}
	case opDelete:
		if i := s.index(r.ID); i >= 0 {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
		}
	case opAttempt:
		if i := s.index(r.ID); i >= 0 {
			s.entries[i].Attempts++
			s.entries[i].LastError = r.Err
			s.entries[i].LastAttempt = time.UnixMilli(r.At)
		}
	case opDrop:
		s.dropLocked(time.UnixMilli(r.At))
	case opDedup:
		if r.Key != "" {
			s.dedup[r.Key] = r.Until
		}
	}
}

func (s *fileStore) index(id string) int {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *fileStore) dropLocked(cutoff time.Time) int {
	kept := s.entries[:0]
	dropped := 0
	for _, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return dropped
}

// write appends r to the journal and applies it in memory. The store lock
// must be held.
func (s *fileStore) write(r journalRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	// One write per record keeps lines whole under O_APPEND.
	if _, err := s.journal.Write(append(b, '\n')); err != nil {
		return err
	}
	s.apply(r)
	s.journalLen++
	if s.journalLen >= s.compactEvery {
		if err := s.compact(); err != nil {
			s.log.Debug("spool compact failed", logx.Err(err))
		}
	}
	return nil
}

// compact replaces the snapshot with the current state and empties the
// journal. The store lock must be held.
func (s *fileStore) compact() error {
	now := time.Now().UnixMilli()
	for k, v := range s.dedup {
		if v < now {
			delete(s.dedup, k)
		}
	}
	entries := s.entries
	if entries == nil {
		entries = []Entry{}
	}
	b, err := json.Marshal(snapshot{Entries: entries, Dedup: s.dedup})
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.snapshotPath, b, 0o600); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	s.journalLen = 0
	return nil
}

func (s *fileStore) Close() error {
	err := s.locked(context.Background(), func() error {
		if s.journalLen == 0 {
			return nil
		}
		return s.compact()
	})
	if errors.Is(err, errStoreClosed) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	if cerr := s.fl.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *fileStore) Put(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("spool entry without id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return s.locked(ctx, func() error {
		if s.index(e.ID) >= 0 {
			return nil
		}
		return s.write(journalRecord{Op: opPut, Entry: &e})
	})
}

func (s *fileStore) Oldest(ctx context.Context, limit int) ([]Entry, error) {
	var out []Entry
	err := s.locked(ctx, func() error {
		n := len(s.entries)
		if limit > 0 && limit < n {
			n = limit
		}
		out = make([]Entry, n)
		copy(out, s.entries[:n])
		return nil
	})
	return out, err
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	return s.locked(ctx, func() error {
		if s.index(id) < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return s.write(journalRecord{Op: opDelete, ID: id})
	})
}

func (s *fileStore) MarkAttempt(ctx context.Context, id string, cause error) error {
	return s.locked(ctx, func() error {
		if s.index(id) < 0 {
			return nil
		}
		return s.write(journalRecord{Op: opAttempt, ID: id, Err: errText(cause), At: time.Now().UnixMilli()})
	})
}

func (s *fileStore) DropOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	// The journal stores milliseconds; replay must drop the same entries.
	cutoff = time.UnixMilli(cutoff.UnixMilli())
	n := 0
	err := s.locked(ctx, func() error {
		for _, e := range s.entries {
			if e.CreatedAt.Before(cutoff) {
				n++
			}
		}
		if n == 0 {
			return nil
		}
		return s.write(journalRecord{Op: opDrop, At: cutoff.UnixMilli()})
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *fileStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.locked(ctx, func() error {
		n = len(s.entries)
		return nil
	})
	return n, err
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	return s.locked(ctx, func() error {
		return s.write(journalRecord{Op: opDedup, Key: key, Until: until.UnixMilli()})
	})
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	var (
		ms int64
		ok bool
	)
	err := s.locked(ctx, func() error {
		ms, ok = s.dedup[key]
		return nil
	})
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
