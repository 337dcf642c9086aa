package divergence

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/kilianp07/arrivalcast/core/model"
)

// JSONLStore stores events in a JSONL file.
type JSONLStore struct {
	path string
	mu   sync.Mutex
}

func NewJSONLStore(path string) (*JSONLStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if cerr := f.Close(); cerr != nil {
		return nil, cerr
	}
	return &JSONLStore{path: path}, nil
}

func (s *JSONLStore) Append(ctx context.Context, ev model.DivergenceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return json.NewEncoder(f).Encode(ev)
}

func (s *JSONLStore) Query(ctx context.Context, q Query) ([]model.DivergenceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return scan(f, q, nil)
}

func (s *JSONLStore) Close() error { return nil }

// scan appends the events of r matching q to res. Lines that do not decode
// are skipped.
func scan(r io.Reader, q Query, res []model.DivergenceEvent) ([]model.DivergenceEvent, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if q.Limit > 0 && len(res) >= q.Limit {
			break
		}
		var ev model.DivergenceEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if q.Match(ev) {
			res = append(res, ev)
		}
	}
	return res, scanner.Err()
}
