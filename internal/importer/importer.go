// Package importer merges flashcard packages into a workspace.
package importer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deveric/decksync/internal/apkg"
	"github.com/deveric/decksync/internal/media"
	"github.com/deveric/decksync/internal/store"
)

// Status summarizes how a batch landed.
type Status string

const (
	StatusImported Status = "IMPORTED"
	StatusUpdated  Status = "UPDATED"
	StatusSkipped  Status = "SKIPPED"
	StatusPartial  Status = "PARTIAL"
)

// Options control a single import run.
type Options struct {
	// Force updates notes whose guid already exists in the workspace
	// instead of skipping them.
	Force bool
	// Serialize takes a per-workspace advisory lock for the duration of
	// the transaction.
	Serialize bool
	// MediaProgress, when non-nil, is called once per media file.
	MediaProgress func()
}

// Result reports the outcome of one import.
type Result struct {
	ImportedNotes int
	UpdatedNotes  int
	SkippedNotes  int
	MediaFiles    int
	Status        Status
	Decks         []store.DeckStats
	Duration      time.Duration
}

// Importer drives package imports: parse, map, merge in one transaction,
// then ingest media.
type Importer struct {
	store store.Store
	media *media.Ingestor
}

// New creates an importer backed by st for rows and blobs for media bytes.
func New(st store.Store, blobs media.BlobStore) *Importer {
	return &Importer{store: st, media: media.NewIngestor(blobs, st)}
}

// Import merges the package bytes into the workspace. All row changes
// happen in a single transaction; a mapping or merge failure leaves the
// workspace untouched. Media ingestion runs after commit and is
// best-effort.
func (im *Importer) Import(ctx context.Context, workspaceID uuid.UUID, data []byte, opts Options) (*Result, error) {
	start := time.Now()

	pkg, err := apkg.Read(data)
	if err != nil {
		return nil, err
	}

	m := newMapper(workspaceID, pkg)
	if err := m.validate(); err != nil {
		return nil, err
	}

	var result Result
	var touched []store.Note
	err = im.store.WithTx(ctx, workspaceID, opts.Serialize, func(tx store.Tx) error {
		if err := m.resolveDecks(ctx, tx); err != nil {
			return err
		}
		if err := m.resolveModels(ctx, tx); err != nil {
			return err
		}

		for _, raw := range pkg.Notes {
			note, err := im.mergeNote(ctx, tx, m, raw, opts.Force, &result)
			if err != nil {
				return err
			}
			touched = append(touched, note)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.MediaFiles = im.media.Ingest(ctx, workspaceID, pkg.Media, touched, opts.MediaProgress)

	result.Decks, err = im.store.DeckStats(ctx, workspaceID, m.mappedDeckIDs())
	if err != nil {
		return nil, err
	}

	result.Status = statusOf(&result)
	result.Duration = time.Since(start)

	slog.Info("import finished",
		"workspace", workspaceID,
		"status", result.Status,
		"imported", result.ImportedNotes,
		"updated", result.UpdatedNotes,
		"skipped", result.SkippedNotes,
		"media", result.MediaFiles,
		"duration", result.Duration)
	return &result, nil
}

// mergeNote applies the guid merge policy to one raw note and returns the
// workspace record that ends up representing it.
func (im *Importer) mergeNote(ctx context.Context, tx store.Tx, m *mapper, raw apkg.RawNote, force bool, result *Result) (store.Note, error) {
	note, err := m.noteRecord(raw)
	if err != nil {
		return store.Note{}, err
	}

	existing, err := tx.FindNoteByGUID(ctx, m.workspaceID, note.GUID)
	if err != nil {
		return store.Note{}, err
	}

	switch {
	case existing == nil:
		note.ID = uuid.New()
		if err := tx.InsertNote(ctx, note); err != nil {
			return store.Note{}, err
		}
		for _, rawCard := range m.cardsByNote[raw.ID] {
			card, err := m.cardRecord(rawCard, note.ID)
			if err != nil {
				return store.Note{}, err
			}
			card.ID = uuid.New()
			if err := tx.InsertCard(ctx, card); err != nil {
				return store.Note{}, err
			}
		}
		result.ImportedNotes++
		return note, nil

	case !force:
		result.SkippedNotes++
		return *existing, nil

	default:
		// Content moves onto the existing row; identity and media
		// records stay put.
		note.ID = existing.ID
		if err := tx.UpdateNote(ctx, note); err != nil {
			return store.Note{}, err
		}
		if err := im.reconcileCards(ctx, tx, m, raw, existing.ID); err != nil {
			return store.Note{}, err
		}
		result.UpdatedNotes++
		return note, nil
	}
}

// reconcileCards matches incoming cards to existing ones by ordinal:
// matched ordinals update in place, new ordinals insert. Existing cards
// without an incoming counterpart are left alone.
func (im *Importer) reconcileCards(ctx context.Context, tx store.Tx, m *mapper, raw apkg.RawNote, noteID uuid.UUID) error {
	existing, err := tx.CardsByNote(ctx, noteID)
	if err != nil {
		return err
	}
	byOrdinal := make(map[int64]store.Card, len(existing))
	for _, c := range existing {
		byOrdinal[c.Ordinal] = c
	}

	for _, rawCard := range m.cardsByNote[raw.ID] {
		card, err := m.cardRecord(rawCard, noteID)
		if err != nil {
			return err
		}
		if prev, ok := byOrdinal[card.Ordinal]; ok {
			card.ID = prev.ID
			if err := tx.UpdateCard(ctx, card); err != nil {
				return err
			}
			continue
		}
		card.ID = uuid.New()
		if err := tx.InsertCard(ctx, card); err != nil {
			return err
		}
	}
	return nil
}

// statusOf reduces the per-note counters to a batch status. An empty
// batch reports IMPORTED.
func statusOf(r *Result) Status {
	switch {
	case r.UpdatedNotes == 0 && r.SkippedNotes == 0:
		return StatusImported
	case r.ImportedNotes == 0 && r.UpdatedNotes == 0:
		return StatusSkipped
	case r.ImportedNotes == 0 && r.SkippedNotes == 0:
		return StatusUpdated
	default:
		return StatusPartial
	}
}
