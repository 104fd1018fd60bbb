// Package storetest provides an in-memory store implementation for
// exercising the engine without a database.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deveric/decksync/internal/store"
)

// Memory implements store.Store on plain maps. WithTx snapshots state up
// front and restores it when fn fails, mirroring transactional rollback.
type Memory struct {
	mu         sync.Mutex
	workspaces map[uuid.UUID]store.Workspace
	decks      map[uuid.UUID]store.Deck
	models     map[uuid.UUID]store.Model
	notes      map[uuid.UUID]store.Note
	cards      map[uuid.UUID]store.Card
	media      map[mediaKey]store.MediaRecord
}

type mediaKey struct {
	noteID   uuid.UUID
	filename string
}

var _ store.Store = (*Memory)(nil)

// New creates an empty in-memory store.
func New() *Memory {
	return &Memory{
		workspaces: make(map[uuid.UUID]store.Workspace),
		decks:      make(map[uuid.UUID]store.Deck),
		models:     make(map[uuid.UUID]store.Model),
		notes:      make(map[uuid.UUID]store.Note),
		cards:      make(map[uuid.UUID]store.Card),
		media:      make(map[mediaKey]store.MediaRecord),
	}
}

func (m *Memory) Close() error { return nil }

// FindOrCreateWorkspace resolves a workspace name to its identity.
func (m *Memory) FindOrCreateWorkspace(_ context.Context, name string) (store.Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ws := range m.workspaces {
		if ws.Name == name {
			return ws, nil
		}
	}
	ws := store.Workspace{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
	m.workspaces[ws.ID] = ws
	return ws, nil
}

// WithTx runs fn under the store lock and rolls back on failure.
func (m *Memory) WithTx(_ context.Context, _ uuid.UUID, _ bool, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.copyState()
	if err := fn(&memTx{m: m}); err != nil {
		m.restoreState(snapshot)
		return err
	}
	return nil
}

type state struct {
	decks  map[uuid.UUID]store.Deck
	models map[uuid.UUID]store.Model
	notes  map[uuid.UUID]store.Note
	cards  map[uuid.UUID]store.Card
}

func (m *Memory) copyState() state {
	s := state{
		decks:  make(map[uuid.UUID]store.Deck, len(m.decks)),
		models: make(map[uuid.UUID]store.Model, len(m.models)),
		notes:  make(map[uuid.UUID]store.Note, len(m.notes)),
		cards:  make(map[uuid.UUID]store.Card, len(m.cards)),
	}
	for k, v := range m.decks {
		s.decks[k] = v
	}
	for k, v := range m.models {
		s.models[k] = v
	}
	for k, v := range m.notes {
		s.notes[k] = v
	}
	for k, v := range m.cards {
		s.cards[k] = v
	}
	return s
}

func (m *Memory) restoreState(s state) {
	m.decks = s.decks
	m.models = s.models
	m.notes = s.notes
	m.cards = s.cards
}

// memTx exposes the transactional slice; the surrounding WithTx holds the
// store lock, so these helpers touch state directly.
type memTx struct {
	m *Memory
}

var _ store.Tx = (*memTx)(nil)

func (t *memTx) FindDeckByName(_ context.Context, workspaceID uuid.UUID, name string) (*store.Deck, error) {
	for _, d := range t.m.decks {
		if d.WorkspaceID == workspaceID && d.Name == name {
			deck := d
			return &deck, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateDeck(_ context.Context, deck store.Deck) error {
	t.m.decks[deck.ID] = deck
	return nil
}

func (t *memTx) FindModelByName(_ context.Context, workspaceID uuid.UUID, name string) (*store.Model, error) {
	for _, mo := range t.m.models {
		if mo.WorkspaceID == workspaceID && mo.Name == name {
			model := mo
			return &model, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateModel(_ context.Context, model store.Model) error {
	t.m.models[model.ID] = model
	return nil
}

func (t *memTx) FindNoteByGUID(_ context.Context, workspaceID uuid.UUID, guid string) (*store.Note, error) {
	for _, n := range t.m.notes {
		if n.WorkspaceID == workspaceID && n.GUID == guid {
			note := n
			return &note, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertNote(_ context.Context, note store.Note) error {
	t.m.notes[note.ID] = note
	return nil
}

func (t *memTx) UpdateNote(_ context.Context, note store.Note) error {
	t.m.notes[note.ID] = note
	return nil
}

func (t *memTx) CardsByNote(_ context.Context, noteID uuid.UUID) ([]store.Card, error) {
	return t.m.cardsByNoteLocked(noteID), nil
}

func (t *memTx) InsertCard(_ context.Context, card store.Card) error {
	t.m.cards[card.ID] = card
	return nil
}

func (t *memTx) UpdateCard(_ context.Context, card store.Card) error {
	t.m.cards[card.ID] = card
	return nil
}

func (m *Memory) cardsByNoteLocked(noteID uuid.UUID) []store.Card {
	var cards []store.Card
	for _, c := range m.cards {
		if c.NoteID == noteID {
			cards = append(cards, c)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Ordinal < cards[j].Ordinal })
	return cards
}

// UpsertMedia records a (note, filename) -> URL mapping.
func (m *Memory) UpsertMedia(_ context.Context, rec store.MediaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.media[mediaKey{rec.NoteID, rec.Filename}] = rec
	return nil
}

// MediaManifest returns the filename -> URL map for one note.
func (m *Memory) MediaManifest(_ context.Context, noteID uuid.UUID) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifest := make(map[string]string)
	for k, rec := range m.media {
		if k.noteID == noteID {
			manifest[k.filename] = rec.URL
		}
	}
	return manifest, nil
}

func (m *Memory) NoteByID(_ context.Context, id uuid.UUID) (*store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n, ok := m.notes[id]; ok {
		note := n
		return &note, nil
	}
	return nil, store.ErrNotFound
}

func (m *Memory) NotesByIDs(_ context.Context, ids []uuid.UUID) ([]store.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var notes []store.Note
	for _, id := range ids {
		if n, ok := m.notes[id]; ok {
			notes = append(notes, n)
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].GUID < notes[j].GUID })
	return notes, nil
}

func (m *Memory) ModelsByIDs(_ context.Context, ids []uuid.UUID) ([]store.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var models []store.Model
	for _, id := range ids {
		if mo, ok := m.models[id]; ok {
			models = append(models, mo)
		}
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

func (m *Memory) DecksByIDs(_ context.Context, workspaceID uuid.UUID, ids []uuid.UUID) ([]store.Deck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var decks []store.Deck
	for _, id := range ids {
		if d, ok := m.decks[id]; ok && d.WorkspaceID == workspaceID {
			decks = append(decks, d)
		}
	}
	sort.Slice(decks, func(i, j int) bool { return decks[i].Name < decks[j].Name })
	return decks, nil
}

func (m *Memory) CardsByDeck(_ context.Context, deckID uuid.UUID) ([]store.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cards []store.Card
	for _, c := range m.cards {
		if c.DeckID == deckID {
			cards = append(cards, c)
		}
	}
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].NoteID != cards[j].NoteID {
			return cards[i].NoteID.String() < cards[j].NoteID.String()
		}
		return cards[i].Ordinal < cards[j].Ordinal
	})
	return cards, nil
}

func (m *Memory) DeckStats(_ context.Context, workspaceID uuid.UUID, deckIDs []uuid.UUID) ([]store.DeckStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats []store.DeckStats
	for _, id := range deckIDs {
		d, ok := m.decks[id]
		if !ok || d.WorkspaceID != workspaceID {
			continue
		}

		st := store.DeckStats{ID: d.ID, Name: d.Name}
		var lastMod int64
		for _, c := range m.cards {
			if c.DeckID != d.ID {
				continue
			}
			st.CardCount++
			switch c.Queue {
			case 0:
				st.NewCards++
			case 1, 3:
				st.LearningCards++
			case 2:
				st.ReviewCards++
			}
			if c.Mod > lastMod {
				lastMod = c.Mod
			}
		}
		st.TotalCards = st.CardCount
		st.DueCards = st.LearningCards + st.ReviewCards
		if lastMod > 0 {
			t := time.Unix(lastMod, 0)
			st.LastStudied = &t
		}
		stats = append(stats, st)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats, nil
}
