package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/chris-regnier/callsite/internal/sarif"
)

// FileStore keeps each run in its own directory as sarif.json and
// verdict.json.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) resultDir(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *FileStore) WriteSARIF(ctx context.Context, doc *sarif.Log) (string, error) {
	_, span := storeTracer.Start(ctx, "write sarif")
	defer span.End()

	id := generateID()
	dir := s.resultDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fail(span, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fail(span, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sarif.json"), data, 0644); err != nil {
		return "", fail(span, err)
	}

	span.SetAttributes(
		attribute.String("callsite.store.id", id),
		attribute.Int("callsite.store.result_count", resultCount(doc)),
	)
	return id, nil
}

func (s *FileStore) WriteVerdict(ctx context.Context, sarifID string, verdict *Verdict) error {
	_, span := storeTracer.Start(ctx, "write verdict")
	defer span.End()

	dir := s.resultDir(sarifID)
	if _, err := os.Stat(dir); err != nil {
		return fail(span, fmt.Errorf("run %s: %w", sarifID, ErrNotFound))
	}
	data, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return fail(span, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "verdict.json"), data, 0644); err != nil {
		return fail(span, err)
	}

	span.SetAttributes(
		attribute.String("callsite.store.id", sarifID),
		attribute.String("callsite.decision", verdict.Decision),
	)
	return nil
}

func (s *FileStore) readJSON(id, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.resultDir(id), name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s for run %s: %w", name, id, ErrNotFound)
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *FileStore) ReadSARIF(ctx context.Context, id string) (*sarif.Log, error) {
	var log sarif.Log
	if err := s.readJSON(id, "sarif.json", &log); err != nil {
		return nil, err
	}
	return &log, nil
}

func (s *FileStore) ReadVerdict(ctx context.Context, sarifID string) (*Verdict, error) {
	var v Verdict
	if err := s.readJSON(sarifID, "verdict.json", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}
