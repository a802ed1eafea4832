package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/pkg/utils"
)

// FetchTaskLog appends every task state change to a JSONL file. The latest
// line for a URL is its current state.
type FetchTaskLog struct {
	path string
	mu   sync.Mutex
}

func NewFetchTaskLog(path string) *FetchTaskLog {
	return &FetchTaskLog{path: path}
}

func (l *FetchTaskLog) Save(ctx context.Context, task *entity.FetchTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(task)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := utils.EnsureDir(l.path); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open fetch task log: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// FindFailed returns URLs whose latest state is failed, oldest first.
func (l *FetchTaskLog) FindFailed(ctx context.Context, limit int) ([]*entity.FetchTask, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	latest := make(map[string]*entity.FetchTask)
	var order []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var task entity.FetchTask
		if err := json.Unmarshal(scanner.Bytes(), &task); err != nil {
			// Skip a torn line; the log is advisory.
			continue
		}
		if _, ok := latest[task.URL]; !ok {
			order = append(order, task.URL)
		}
		latest[task.URL] = &task
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var failed []*entity.FetchTask
	for _, u := range order {
		if t := latest[u]; t.Status == entity.FetchFailed {
			failed = append(failed, t)
			if limit > 0 && len(failed) >= limit {
				break
			}
		}
	}
	return failed, nil
}
