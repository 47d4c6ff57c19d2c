// Package remote reconciles local artifacts against a remote file
// store. The store itself is a narrow collaborator interface; the
// shipped implementation talks to the Google Drive v3 REST API.
package remote

import (
	"context"
	"errors"
	"time"
)

var ErrRemoteUnreachable = errors.New("remote store unreachable")

// Entry mirrors a stored artifact on the remote side.
type Entry struct {
	ID      string
	Name    string
	ModTime time.Time
	Size    int64
}

// Stats summarizes a remote folder for reporting. It never feeds
// decisions.
type Stats struct {
	TotalFiles int
	CSVFiles   int
	TotalSize  int64
}

// Store is the remote storage collaborator. Authentication and token
// lifecycle are entirely the implementation's concern.
type Store interface {
	// FindByName searches a folder for an exact filename. Absence is
	// (nil, nil), not an error.
	FindByName(ctx context.Context, folderID, name string) (*Entry, error)
	// Create uploads a new file into the folder.
	Create(ctx context.Context, folderID, name string, data []byte) (*Entry, error)
	// Replace overwrites the content of an existing file, preserving
	// its id.
	Replace(ctx context.Context, id string, data []byte) (*Entry, error)
	// EnsureFolder finds or creates a child folder and returns its id.
	EnsureFolder(ctx context.Context, parentID, name string) (string, error)
	// FolderStats reports file counts and sizes for a folder.
	FolderStats(ctx context.Context, folderID string) (Stats, error)
}
