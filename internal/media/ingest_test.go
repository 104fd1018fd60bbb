package media

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/deveric/decksync/internal/store"
	"github.com/deveric/decksync/internal/store/storetest"
)

func TestFSStore_PutOpenRoundtrip(t *testing.T) {
	ctx := context.Background()
	blobs, err := NewFSStore(t.TempDir(), "https://blobs.test")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	url, err := blobs.Put(ctx, "ws/abc/cat.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "https://blobs.test/ws/abc/cat.png" {
		t.Errorf("url = %q", url)
	}

	rc, err := blobs.Open(ctx, url)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestFSStore_OpenForeignURL(t *testing.T) {
	blobs, err := NewFSStore(t.TempDir(), "https://blobs.test")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	if _, err := blobs.Open(context.Background(), "https://elsewhere/x.png"); err == nil {
		t.Error("expected error for foreign url")
	}
}

func seedNote(t *testing.T, st *storetest.Memory, workspaceID uuid.UUID, guid, fields string) store.Note {
	t.Helper()
	note := store.Note{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		GUID:        guid,
		ModelID:     uuid.New(),
		Fields:      fields,
	}
	err := st.WithTx(context.Background(), workspaceID, false, func(tx store.Tx) error {
		return tx.InsertNote(context.Background(), note)
	})
	if err != nil {
		t.Fatalf("seed note: %v", err)
	}
	return note
}

func TestIngest_AssociatesByReference(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	ws, _ := st.FindOrCreateWorkspace(ctx, "test")

	catNote := seedNote(t, st, ws.ID, "guid-cat", "cat\x1f<img src=\"cat.png\">")
	dogNote := seedNote(t, st, ws.ID, "guid-dog", "dog\x1fwoof")

	blobs, err := NewFSStore(t.TempDir(), "https://blobs.test")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	calls := 0
	stored := NewIngestor(blobs, st).Ingest(ctx, ws.ID,
		map[string][]byte{"cat.png": []byte("png")},
		[]store.Note{catNote, dogNote},
		func() { calls++ })

	if stored != 1 {
		t.Errorf("stored = %d, want 1", stored)
	}
	if calls != 1 {
		t.Errorf("progress calls = %d, want 1", calls)
	}

	manifest, err := st.MediaManifest(ctx, catNote.ID)
	if err != nil {
		t.Fatalf("MediaManifest: %v", err)
	}
	if _, ok := manifest["cat.png"]; !ok {
		t.Errorf("cat manifest missing entry: %v", manifest)
	}

	dogManifest, err := st.MediaManifest(ctx, dogNote.ID)
	if err != nil {
		t.Fatalf("MediaManifest: %v", err)
	}
	if len(dogManifest) != 0 {
		t.Errorf("dog manifest should be empty, got %v", dogManifest)
	}
}

// failingBlobs always rejects uploads.
type failingBlobs struct{}

func (failingBlobs) Put(context.Context, string, io.Reader) (string, error) {
	return "", errors.New("storage unavailable")
}

func (failingBlobs) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("storage unavailable")
}

func TestIngest_UploadFailureIsSkipped(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	ws, _ := st.FindOrCreateWorkspace(ctx, "test")
	note := seedNote(t, st, ws.ID, "guid-cat", "<img src=\"cat.png\">")

	stored := NewIngestor(failingBlobs{}, st).Ingest(ctx, ws.ID,
		map[string][]byte{"cat.png": []byte("png")},
		[]store.Note{note}, nil)

	if stored != 0 {
		t.Errorf("stored = %d, want 0", stored)
	}

	manifest, err := st.MediaManifest(ctx, note.ID)
	if err != nil {
		t.Fatalf("MediaManifest: %v", err)
	}
	if len(manifest) != 0 {
		t.Errorf("manifest should be empty after failed upload, got %v", manifest)
	}
}

func TestRender_DoesNotMutateStoredText(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	ws, _ := st.FindOrCreateWorkspace(ctx, "test")

	raw := "cat\x1f<img src=\"cat.png\">"
	note := seedNote(t, st, ws.ID, "guid-cat", raw)

	if err := st.UpsertMedia(ctx, store.MediaRecord{
		NoteID: note.ID, Filename: "cat.png", URL: "https://blobs.test/cat.png",
	}); err != nil {
		t.Fatalf("UpsertMedia: %v", err)
	}

	rendered, err := Render(ctx, st, note.ID, note.Fields)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "cat\x1f<img src=\"https://blobs.test/cat.png\">"
	if rendered != want {
		t.Errorf("rendered = %q, want %q", rendered, want)
	}

	// The stored source is untouched.
	stored, err := st.NoteByID(ctx, note.ID)
	if err != nil {
		t.Fatalf("NoteByID: %v", err)
	}
	if stored.Fields != raw {
		t.Errorf("stored fields mutated: %q", stored.Fields)
	}
}
