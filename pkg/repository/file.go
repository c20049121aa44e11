package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/opscart/lambda-sizer/pkg/models"
)

// FileRepository keeps all models in one JSON object mapping identity to
// [t0, decayRate, tMin]. Saves are a read-modify-write of the whole file,
// serialized within the process and made visible with an atomic rename.
// Separate processes must not write the same file concurrently.
type FileRepository struct {
	path string
	mu   sync.Mutex
}

func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

func (r *FileRepository) Path() string {
	return r.path
}

func (r *FileRepository) Load(ctx context.Context, functionID string) (*models.ModelParams, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read()
	if err != nil {
		return nil, false, err
	}
	params, ok := entries[BaseIdentity(functionID)]
	if !ok {
		return nil, false, nil
	}
	return &params, true, nil
}

func (r *FileRepository) Save(ctx context.Context, functionID string, params models.ModelParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read()
	if err != nil {
		return err
	}
	entries[BaseIdentity(functionID)] = params

	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode model repository: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create repository directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write model repository: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write model repository: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write model repository: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace model repository: %w", err)
	}
	return nil
}

// read returns an empty map when the file does not exist yet.
func (r *FileRepository) read() (map[string]models.ModelParams, error) {
	entries := make(map[string]models.ModelParams)

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model repository: %w", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode model repository %s: %w", r.path, err)
	}
	return entries, nil
}
