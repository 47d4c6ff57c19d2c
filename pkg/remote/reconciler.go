package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/boxsync/boxsync/internal/utils"
	"github.com/boxsync/boxsync/pkg/artifact"
)

// Decision is the outcome of comparing a local artifact against its
// remote entry.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionCreate
	DecisionUpdate
)

func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionUpdate:
		return "update"
	default:
		return "skip"
	}
}

// Reconciler maps canonical storage paths onto the remote folder tree
// and applies last-writer-wins sync decisions.
type Reconciler struct {
	Store Store
	// RootID is the remote folder all storage paths hang under.
	RootID string
}

func NewReconciler(store Store, rootID string) *Reconciler {
	return &Reconciler{Store: store, RootID: rootID}
}

// ResolveFolder walks the slash-separated directory path below the
// root, creating intermediate folders as needed, and returns the final
// folder id.
func (r *Reconciler) ResolveFolder(ctx context.Context, dir string) (string, error) {
	folderID := r.RootID
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if seg == "" {
			continue
		}
		id, err := r.Store.EnsureFolder(ctx, folderID, seg)
		if err != nil {
			return "", fmt.Errorf("resolving remote folder %q: %w", dir, err)
		}
		folderID = id
	}
	return folderID, nil
}

// Lookup resolves the folder implied by the storage path and searches
// it for the exact leaf filename. A missing entry returns (nil,
// folderID, nil): absence is a normal state, not an error.
func (r *Reconciler) Lookup(ctx context.Context, storagePath string) (*Entry, string, error) {
	dir, name := splitStoragePath(storagePath)
	folderID, err := r.ResolveFolder(ctx, dir)
	if err != nil {
		return nil, "", err
	}
	entry, err := r.Store.FindByName(ctx, folderID, name)
	if err != nil {
		return nil, folderID, err
	}
	return entry, folderID, nil
}

// Decide is the pure last-writer-wins policy. Both timestamps are
// normalized to UTC before comparison. A remote entry whose timestamp
// could not be parsed degrades to UPDATE: failing open toward freshness
// risks a redundant upload, never data loss.
func (r *Reconciler) Decide(local artifact.Artifact, remote *Entry) Decision {
	if remote == nil {
		return DecisionCreate
	}
	if remote.ModTime.IsZero() {
		utils.Log.Warnf("Cannot compare modification times for %s, will upload", remote.Name)
		return DecisionUpdate
	}
	if local.ModTime.UTC().After(remote.ModTime.UTC()) {
		return DecisionUpdate
	}
	return DecisionSkip
}

// Apply executes the decision. SKIP performs no network call and hands
// back the existing entry unchanged.
func (r *Reconciler) Apply(ctx context.Context, d Decision, local artifact.Artifact, folderID string, remote *Entry) (*Entry, error) {
	switch d {
	case DecisionSkip:
		return remote, nil
	case DecisionCreate:
		data, err := artifact.ReadContent(local)
		if err != nil {
			return nil, err
		}
		_, name := splitStoragePath(local.StoragePath)
		entry, err := r.Store.Create(ctx, folderID, name, data)
		if err != nil {
			return nil, fmt.Errorf("uploading %s: %w", local.StoragePath, err)
		}
		utils.Log.Infof("Uploaded %s (id %s)", local.StoragePath, entry.ID)
		return entry, nil
	case DecisionUpdate:
		data, err := artifact.ReadContent(local)
		if err != nil {
			return nil, err
		}
		entry, err := r.Store.Replace(ctx, remote.ID, data)
		if err != nil {
			return nil, fmt.Errorf("updating %s: %w", local.StoragePath, err)
		}
		utils.Log.Infof("Updated %s (id %s)", local.StoragePath, entry.ID)
		return entry, nil
	}
	return nil, fmt.Errorf("unknown sync decision %d", d)
}

// Stats reports folder statistics. Reporting only; never consulted for
// decisions.
func (r *Reconciler) Stats(ctx context.Context, folderID string) (Stats, error) {
	return r.Store.FolderStats(ctx, folderID)
}

func splitStoragePath(storagePath string) (dir, name string) {
	idx := strings.LastIndex(storagePath, "/")
	if idx < 0 {
		return "", storagePath
	}
	return storagePath[:idx], storagePath[idx+1:]
}
