package importer

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/deveric/decksync/internal/apkg"
	"github.com/deveric/decksync/internal/errs"
	"github.com/deveric/decksync/internal/store"
)

// mapper converts raw collection rows into workspace records. Decks and
// models are matched or created by name within the workspace; the numeric
// ids carried by the package are hints for wiring rows together, never
// trusted as final identities.
type mapper struct {
	workspaceID uuid.UUID
	pkg         *apkg.Package

	deckIDs     map[int64]uuid.UUID
	modelIDs    map[int64]uuid.UUID
	cardsByNote map[int64][]apkg.RawCard
}

func newMapper(workspaceID uuid.UUID, pkg *apkg.Package) *mapper {
	m := &mapper{
		workspaceID: workspaceID,
		pkg:         pkg,
		deckIDs:     make(map[int64]uuid.UUID),
		modelIDs:    make(map[int64]uuid.UUID),
		cardsByNote: make(map[int64][]apkg.RawCard),
	}
	for _, c := range pkg.Cards {
		m.cardsByNote[c.NoteID] = append(m.cardsByNote[c.NoteID], c)
	}
	return m
}

// validate checks referential integrity inside the package before any row
// is written: every card must point at a note the package carries.
func (m *mapper) validate() error {
	noteIDs := make(map[int64]bool, len(m.pkg.Notes))
	for _, n := range m.pkg.Notes {
		noteIDs[n.ID] = true
	}
	for _, c := range m.pkg.Cards {
		if !noteIDs[c.NoteID] {
			return errs.Newf(errs.KindDanglingReference,
				"card %d references note %d not present in package", c.ID, c.NoteID)
		}
	}
	return nil
}

// resolveDecks maps every raw deck to a workspace deck, creating decks
// that don't exist yet. Iteration is name-ordered so identity assignment
// is deterministic.
func (m *mapper) resolveDecks(ctx context.Context, tx store.Tx) error {
	decks := make([]apkg.RawDeck, 0, len(m.pkg.Decks))
	for _, d := range m.pkg.Decks {
		decks = append(decks, d)
	}
	sort.Slice(decks, func(i, j int) bool { return decks[i].Name < decks[j].Name })

	for _, raw := range decks {
		existing, err := tx.FindDeckByName(ctx, m.workspaceID, raw.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			m.deckIDs[raw.ID] = existing.ID
			continue
		}

		deck := store.Deck{ID: uuid.New(), WorkspaceID: m.workspaceID, Name: raw.Name}
		if err := tx.CreateDeck(ctx, deck); err != nil {
			return err
		}
		m.deckIDs[raw.ID] = deck.ID
	}
	return nil
}

// resolveModels maps every raw model to a workspace model by name.
func (m *mapper) resolveModels(ctx context.Context, tx store.Tx) error {
	models := make([]apkg.RawModel, 0, len(m.pkg.Models))
	for _, mo := range m.pkg.Models {
		models = append(models, mo)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	for _, raw := range models {
		existing, err := tx.FindModelByName(ctx, m.workspaceID, raw.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			m.modelIDs[raw.ID] = existing.ID
			continue
		}

		model := store.Model{
			ID:          uuid.New(),
			WorkspaceID: m.workspaceID,
			Name:        raw.Name,
			CSS:         raw.CSS,
		}
		for _, f := range raw.Fields {
			model.Fields = append(model.Fields, store.ModelField{Name: f.Name, Ordinal: f.Ordinal})
		}
		for _, t := range raw.Templates {
			model.Templates = append(model.Templates, store.ModelTemplate{
				Name:           t.Name,
				QuestionFormat: t.QuestionFormat,
				AnswerFormat:   t.AnswerFormat,
				Ordinal:        t.Ordinal,
			})
		}
		if err := tx.CreateModel(ctx, model); err != nil {
			return err
		}
		m.modelIDs[raw.ID] = model.ID
	}
	return nil
}

// noteRecord maps one raw note row; its id is assigned by the caller.
// All content and scheduling columns pass through unchanged.
func (m *mapper) noteRecord(raw apkg.RawNote) (store.Note, error) {
	modelID, ok := m.modelIDs[raw.ModelID]
	if !ok {
		return store.Note{}, errs.Newf(errs.KindDanglingModelReference,
			"note %q references model %d not present in package", raw.GUID, raw.ModelID)
	}

	return store.Note{
		WorkspaceID: m.workspaceID,
		GUID:        raw.GUID,
		ModelID:     modelID,
		Mod:         raw.Mod,
		USN:         raw.USN,
		Tags:        raw.Tags,
		Fields:      raw.Fields,
		SortField:   raw.SortFld,
		Checksum:    raw.Checksum,
		Flags:       raw.Flags,
		Data:        raw.Data,
	}, nil
}

// cardRecord maps one raw card row onto its mapped note and deck. The
// scheduling payload is copied verbatim.
func (m *mapper) cardRecord(raw apkg.RawCard, noteID uuid.UUID) (store.Card, error) {
	deckID, ok := m.deckIDs[raw.DeckID]
	if !ok {
		return store.Card{}, errs.Newf(errs.KindDanglingReference,
			"card %d references deck %d not present in package", raw.ID, raw.DeckID)
	}

	return store.Card{
		NoteID:         noteID,
		DeckID:         deckID,
		Ordinal:        raw.Ordinal,
		Mod:            raw.Mod,
		USN:            raw.USN,
		Type:           raw.Type,
		Queue:          raw.Queue,
		Due:            raw.Due,
		Interval:       raw.Interval,
		EaseFactor:     raw.EaseFactor,
		Reps:           raw.Reps,
		Lapses:         raw.Lapses,
		RemainingSteps: raw.RemainingSteps,
		OriginalDue:    raw.OriginalDue,
		OriginalDeckID: raw.OriginalDeckID,
		Flags:          raw.Flags,
		Data:           raw.Data,
	}, nil
}

// mappedDeckIDs returns the workspace ids of every deck in the package.
func (m *mapper) mappedDeckIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m.deckIDs))
	for _, id := range m.deckIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
