package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/deveric/decksync/internal/store"
)

// Ingestor persists package media to blob storage and maintains the
// per-note filename -> URL manifest.
type Ingestor struct {
	blobs BlobStore
	store store.Store
}

// NewIngestor creates a media ingestor.
func NewIngestor(blobs BlobStore, st store.Store) *Ingestor {
	return &Ingestor{blobs: blobs, store: st}
}

// Ingest uploads every media file and upserts a MediaRecord for each note
// whose fields reference the filename. Ingestion is best-effort and runs
// outside the import transaction: a failed upload is logged and skipped,
// leaving that reference unresolved at render time. Returns the number of
// files stored. progress, when non-nil, is called once per file.
func (g *Ingestor) Ingest(ctx context.Context, workspaceID uuid.UUID, files map[string][]byte, notes []store.Note, progress func()) int {
	filenames := make([]string, 0, len(files))
	for name := range files {
		filenames = append(filenames, name)
	}
	sort.Strings(filenames)

	stored := 0
	for _, filename := range filenames {
		if progress != nil {
			progress()
		}

		data := files[filename]
		url, err := g.blobs.Put(ctx, blobKey(workspaceID, filename, data), bytes.NewReader(data))
		if err != nil {
			slog.Warn("media upload failed, skipping file",
				"filename", filename, "error", err)
			continue
		}
		stored++

		for _, note := range notes {
			if !strings.Contains(note.Fields, filename) {
				continue
			}
			rec := store.MediaRecord{NoteID: note.ID, Filename: filename, URL: url}
			if err := g.store.UpsertMedia(ctx, rec); err != nil {
				slog.Warn("media record upsert failed",
					"filename", filename, "note", note.ID, "error", err)
			}
		}
	}
	return stored
}

// blobKey derives a stable object key from the content hash, so re-uploads
// of identical bytes land on the same object.
func blobKey(workspaceID uuid.UUID, filename string, data []byte) string {
	sum := sha256.Sum256(data)
	return workspaceID.String() + "/" + hex.EncodeToString(sum[:])[:12] + "/" + filename
}

// Render resolves a note's stored text against its media manifest. It is
// read-only: the stored source text is never written back.
func Render(ctx context.Context, st store.Store, noteID uuid.UUID, text string) (string, error) {
	manifest, err := st.MediaManifest(ctx, noteID)
	if err != nil {
		return "", err
	}
	return Resolve(text, func(filename string) (string, bool) {
		url, ok := manifest[filename]
		return url, ok
	}), nil
}
