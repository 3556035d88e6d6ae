// Package status provides runner health tracking and status persistence for sync jobs.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

//go:generate mockgen -destination=mocks/mock_status_persistence.go -package=mocks -source=persistence.go StatusPersistence

const (
	// StatusFileName is the name of the status file
	StatusFileName = "status.json"
)

// StatusPersistence defines the interface for sync status persistence
//
//nolint:revive // This name is fine
type StatusPersistence interface {
	// SaveStatus saves the status of a specific job
	SaveStatus(ctx context.Context, job string, status *SyncStatus) error

	// LoadStatus loads the status of a specific job.
	// Returns an empty SyncStatus if nothing was saved yet.
	LoadStatus(ctx context.Context, job string) (*SyncStatus, error)

	// LoadAllStatus loads the status of every job that has one
	LoadAllStatus(ctx context.Context) (map[string]*SyncStatus, error)
}

// fileStatusPersistence implements StatusPersistence using local filesystem
type fileStatusPersistence struct {
	basePath string
}

// NewFileStatusPersistence creates a new file-based status persistence.
// Each job gets its own directory under basePath.
func NewFileStatusPersistence(basePath string) StatusPersistence {
	return &fileStatusPersistence{
		basePath: basePath,
	}
}

// SaveStatus writes the status to a JSON file in the job's directory
func (f *fileStatusPersistence) SaveStatus(_ context.Context, job string, status *SyncStatus) error {
	if !filepath.IsLocal(job) {
		return fmt.Errorf("invalid job name '%s'", job)
	}

	jobDir := filepath.Join(f.basePath, job)
	if err := os.MkdirAll(jobDir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for job '%s': %w", job, err)
	}

	filePath := filepath.Join(jobDir, StatusFileName)

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status data for job '%s': %w", job, err)
	}

	// Write to temporary file first so readers never see a partial file
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file for job '%s': %w", job, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file for job '%s': %w", job, err)
	}

	return nil
}

// LoadStatus loads the status from the job's JSON file
func (f *fileStatusPersistence) LoadStatus(_ context.Context, job string) (*SyncStatus, error) {
	if !filepath.IsLocal(job) {
		return nil, fmt.Errorf("invalid job name '%s'", job)
	}

	filePath := filepath.Join(f.basePath, job, StatusFileName)

	// #nosec G304 -- filePath is basePath plus a local job name
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// first run
			return &SyncStatus{Job: job}, nil
		}
		return nil, fmt.Errorf("failed to read status file for job '%s': %w", job, err)
	}

	var status SyncStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status data for job '%s': %w", job, err)
	}

	return &status, nil
}

// LoadAllStatus loads the status of every job directory under the base path.
// Unreadable entries are skipped so one corrupt file does not hide the rest.
func (f *fileStatusPersistence) LoadAllStatus(ctx context.Context) (map[string]*SyncStatus, error) {
	result := make(map[string]*SyncStatus)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		job := entry.Name()
		status, err := f.LoadStatus(ctx, job)
		if err != nil {
			continue
		}

		result[job] = status
	}

	return result, nil
}
