package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"maps"
	"os"
	"sync"

	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/pkg/utils"
)

// CorpusStore is an append-only JSONL corpus. Each Put appends one line and
// fsyncs it; an incomplete trailing line left by a crash is dropped on open.
type CorpusStore struct {
	path string

	mu    sync.RWMutex
	file  *os.File
	size  int64 // bytes of complete, committed lines
	index map[string]*entity.CorpusRecord
	count int
}

// OpenCorpusStore opens or creates the corpus file at path.
func OpenCorpusStore(path string) (*CorpusStore, error) {
	if err := utils.EnsureDir(path); err != nil {
		return nil, fmt.Errorf("create corpus directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", path, err)
	}

	s := &CorpusStore{
		path:  path,
		file:  f,
		index: make(map[string]*entity.CorpusRecord),
	}
	if err := s.load(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *CorpusStore) load() error {
	info, err := s.file.Stat()
	if err != nil {
		return err
	}

	r := bufio.NewReader(s.file)
	var offset int64
	for {
		line, readErr := r.ReadBytes('\n')
		complete := len(line) > 0 && line[len(line)-1] == '\n'
		if complete {
			var rec entity.CorpusRecord
			if err := json.Unmarshal(bytes.TrimSpace(line), &rec); err != nil {
				if offset+int64(len(line)) < info.Size() {
					return fmt.Errorf("corpus %s: corrupt record at offset %d: %w", s.path, offset, err)
				}
				// A final line that does not decode was torn mid-write.
				break
			}
			if _, dup := s.index[rec.Fingerprint]; !dup {
				s.index[rec.Fingerprint] = &rec
				s.count++
			}
			offset += int64(len(line))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read corpus %s: %w", s.path, readErr)
		}
	}

	if offset < info.Size() {
		slog.Warn("Dropping incomplete trailing corpus record", "path", s.path, "bytes", info.Size()-offset)
		if err := s.file.Truncate(offset); err != nil {
			return fmt.Errorf("truncate corpus %s: %w", s.path, err)
		}
		if err := s.file.Sync(); err != nil {
			return err
		}
	}
	s.size = offset
	return nil
}

// Put appends rec unless its fingerprint is already stored.
func (s *CorpusStore) Put(ctx context.Context, rec *entity.CorpusRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if rec.Fingerprint == "" {
		return false, errors.New("corpus record without fingerprint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[rec.Fingerprint]; ok {
		return false, nil
	}

	stored := cloneRecord(rec)
	line, err := json.Marshal(stored)
	if err != nil {
		return false, fmt.Errorf("encode corpus record: %w", err)
	}
	line = append(line, '\n')

	if _, err := s.file.WriteAt(line, s.size); err != nil {
		s.rollback()
		return false, fmt.Errorf("append corpus record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		s.rollback()
		return false, fmt.Errorf("sync corpus: %w", err)
	}

	s.size += int64(len(line))
	s.index[stored.Fingerprint] = stored
	s.count++
	return true, nil
}

// rollback drops any bytes written past the last committed line.
func (s *CorpusStore) rollback() {
	if err := s.file.Truncate(s.size); err != nil {
		slog.Error("Failed to roll back partial corpus write", "path", s.path, "error", err)
	}
}

// All streams the records committed before the call, in insertion order.
func (s *CorpusStore) All(ctx context.Context) (iter.Seq2[*entity.CorpusRecord, error], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	limit := s.size
	s.mu.RUnlock()

	return func(yield func(*entity.CorpusRecord, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(nil, fmt.Errorf("open corpus %s: %w", s.path, err))
			return
		}
		defer f.Close()

		seen := make(map[string]struct{})
		r := bufio.NewReader(io.LimitReader(f, limit))
		for {
			line, readErr := r.ReadBytes('\n')
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				var rec entity.CorpusRecord
				if err := json.Unmarshal(trimmed, &rec); err != nil {
					yield(nil, fmt.Errorf("decode corpus record: %w", err))
					return
				}
				if _, dup := seen[rec.Fingerprint]; !dup {
					seen[rec.Fingerprint] = struct{}{}
					if !yield(&rec, nil) {
						return
					}
				}
			}
			if readErr == io.EOF {
				return
			}
			if readErr != nil {
				yield(nil, fmt.Errorf("read corpus %s: %w", s.path, readErr))
				return
			}
		}
	}, nil
}

func (s *CorpusStore) ByFingerprint(ctx context.Context, fingerprint string) (*entity.CorpusRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.index[fingerprint]
	if !ok {
		return nil, repository.ErrRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (s *CorpusStore) Len(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, nil
}

func (s *CorpusStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func cloneRecord(rec *entity.CorpusRecord) *entity.CorpusRecord {
	c := *rec
	c.Fields = maps.Clone(rec.Fields)
	return &c
}
