// Package exporter builds flashcard packages from workspace decks.
package exporter

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/deveric/decksync/internal/apkg"
	"github.com/deveric/decksync/internal/errs"
	"github.com/deveric/decksync/internal/media"
	"github.com/deveric/decksync/internal/store"
)

// Exporter assembles packages out of stored rows and blob media.
type Exporter struct {
	store store.Store
	blobs media.BlobStore
}

// New creates an exporter.
func New(st store.Store, blobs media.BlobStore) *Exporter {
	return &Exporter{store: st, blobs: blobs}
}

// Result reports what went into an exported package.
type Result struct {
	Package    []byte
	Decks      int
	Notes      int
	Cards      int
	MediaFiles int
	Duration   time.Duration
}

// Export builds a package containing the requested decks, every card in
// them, the notes and models those cards depend on, and the media files
// the notes reference. Requested ids that don't exist in the workspace
// are ignored; if nothing remains the export fails rather than producing
// an empty container.
func (e *Exporter) Export(ctx context.Context, workspaceID uuid.UUID, deckIDs []uuid.UUID) (*Result, error) {
	start := time.Now()

	decks, err := e.store.DecksByIDs(ctx, workspaceID, deckIDs)
	if err != nil {
		return nil, err
	}
	if len(decks) == 0 {
		return nil, errs.New(errs.KindEmptyExportSet, "no matching decks to export")
	}

	pkg := &apkg.Package{
		Decks:  make(map[int64]apkg.RawDeck),
		Models: make(map[int64]apkg.RawModel),
		Media:  make(map[string][]byte),
	}

	// Container row ids are assigned sequentially; workspace uuids never
	// leave the database.
	deckNums := make(map[uuid.UUID]int64, len(decks))
	for i, d := range decks {
		num := int64(i + 1)
		deckNums[d.ID] = num
		pkg.Decks[num] = apkg.RawDeck{ID: num, Name: d.Name}
	}

	var noteIDs []uuid.UUID
	seenNotes := make(map[uuid.UUID]bool)
	cardsByNote := make(map[uuid.UUID][]store.Card)
	for _, d := range decks {
		cards, err := e.store.CardsByDeck(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range cards {
			cardsByNote[c.NoteID] = append(cardsByNote[c.NoteID], c)
			if !seenNotes[c.NoteID] {
				seenNotes[c.NoteID] = true
				noteIDs = append(noteIDs, c.NoteID)
			}
		}
	}

	notes, err := e.store.NotesByIDs(ctx, noteIDs)
	if err != nil {
		return nil, err
	}

	var modelIDs []uuid.UUID
	seenModels := make(map[uuid.UUID]bool)
	for _, n := range notes {
		if !seenModels[n.ModelID] {
			seenModels[n.ModelID] = true
			modelIDs = append(modelIDs, n.ModelID)
		}
	}
	models, err := e.store.ModelsByIDs(ctx, modelIDs)
	if err != nil {
		return nil, err
	}

	modelNums := make(map[uuid.UUID]int64, len(models))
	for i, m := range models {
		num := int64(i + 1)
		modelNums[m.ID] = num
		raw := apkg.RawModel{ID: num, Name: m.Name, CSS: m.CSS}
		for _, f := range m.Fields {
			raw.Fields = append(raw.Fields, apkg.RawField{Name: f.Name, Ordinal: f.Ordinal})
		}
		for _, t := range m.Templates {
			raw.Templates = append(raw.Templates, apkg.RawTemplate{
				Name:           t.Name,
				QuestionFormat: t.QuestionFormat,
				AnswerFormat:   t.AnswerFormat,
				Ordinal:        t.Ordinal,
			})
		}
		pkg.Models[num] = raw
	}

	var cardNum int64
	for i, n := range notes {
		noteNum := int64(i + 1)
		pkg.Notes = append(pkg.Notes, apkg.RawNote{
			ID:       noteNum,
			GUID:     n.GUID,
			ModelID:  modelNums[n.ModelID],
			Mod:      n.Mod,
			USN:      n.USN,
			Tags:     n.Tags,
			Fields:   n.Fields,
			SortFld:  n.SortField,
			Checksum: n.Checksum,
			Flags:    n.Flags,
			Data:     n.Data,
		})

		for _, c := range cardsByNote[n.ID] {
			cardNum++
			pkg.Cards = append(pkg.Cards, apkg.RawCard{
				ID:             cardNum,
				NoteID:         noteNum,
				DeckID:         deckNums[c.DeckID],
				Ordinal:        c.Ordinal,
				Mod:            c.Mod,
				USN:            c.USN,
				Type:           c.Type,
				Queue:          c.Queue,
				Due:            c.Due,
				Interval:       c.Interval,
				EaseFactor:     c.EaseFactor,
				Reps:           c.Reps,
				Lapses:         c.Lapses,
				RemainingSteps: c.RemainingSteps,
				OriginalDue:    c.OriginalDue,
				OriginalDeckID: c.OriginalDeckID,
				Flags:          c.Flags,
				Data:           c.Data,
			})
		}

		if err := e.collectMedia(ctx, n.ID, pkg.Media); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := apkg.Write(&buf, pkg); err != nil {
		return nil, err
	}

	result := &Result{
		Package:    buf.Bytes(),
		Decks:      len(decks),
		Notes:      len(pkg.Notes),
		Cards:      len(pkg.Cards),
		MediaFiles: len(pkg.Media),
		Duration:   time.Since(start),
	}
	slog.Info("export finished",
		"workspace", workspaceID,
		"decks", result.Decks,
		"notes", result.Notes,
		"cards", result.Cards,
		"media", result.MediaFiles,
		"duration", result.Duration)
	return result, nil
}

// collectMedia pulls every blob a note references into the outgoing media
// map. A manifest entry whose blob is gone is logged and dropped from the
// package.
func (e *Exporter) collectMedia(ctx context.Context, noteID uuid.UUID, out map[string][]byte) error {
	manifest, err := e.store.MediaManifest(ctx, noteID)
	if err != nil {
		return err
	}
	for filename, url := range manifest {
		if _, ok := out[filename]; ok {
			continue
		}
		rc, err := e.blobs.Open(ctx, url)
		if err != nil {
			slog.Warn("media blob unavailable, dropping from export",
				"filename", filename, "url", url, "error", err)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			slog.Warn("media blob read failed, dropping from export",
				"filename", filename, "url", url, "error", err)
			continue
		}
		out[filename] = data
	}
	return nil
}
