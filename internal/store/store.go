// Package store defines the workspace persistence port the engine operates
// against. Implementations: postgres (production) and storetest (in-memory).
package store

import (
	"context"

	"github.com/google/uuid"
)

// Tx is the transactional capability slice used by the merge engine. Every
// call inside one WithTx invocation commits or rolls back atomically.
// Find methods return (nil, nil) when no record matches.
type Tx interface {
	FindDeckByName(ctx context.Context, workspaceID uuid.UUID, name string) (*Deck, error)
	CreateDeck(ctx context.Context, deck Deck) error

	FindModelByName(ctx context.Context, workspaceID uuid.UUID, name string) (*Model, error)
	CreateModel(ctx context.Context, model Model) error

	FindNoteByGUID(ctx context.Context, workspaceID uuid.UUID, guid string) (*Note, error)
	InsertNote(ctx context.Context, note Note) error
	UpdateNote(ctx context.Context, note Note) error

	CardsByNote(ctx context.Context, noteID uuid.UUID) ([]Card, error)
	InsertCard(ctx context.Context, card Card) error
	UpdateCard(ctx context.Context, card Card) error
}

// Store is the workspace-scoped relational port.
type Store interface {
	// FindOrCreateWorkspace resolves a workspace name to its identity.
	FindOrCreateWorkspace(ctx context.Context, name string) (Workspace, error)

	// WithTx runs fn inside one all-or-nothing transaction. When serialize
	// is set, concurrent transactions for the same workspace are mutually
	// excluded for the duration.
	WithTx(ctx context.Context, workspaceID uuid.UUID, serialize bool, fn func(tx Tx) error) error

	// UpsertMedia records a (note, filename) -> URL mapping. Runs outside
	// the import transaction; an existing record is overwritten, never
	// duplicated.
	UpsertMedia(ctx context.Context, rec MediaRecord) error

	// MediaManifest returns the filename -> URL map for one note.
	MediaManifest(ctx context.Context, noteID uuid.UUID) (map[string]string, error)

	NoteByID(ctx context.Context, id uuid.UUID) (*Note, error)
	NotesByIDs(ctx context.Context, ids []uuid.UUID) ([]Note, error)
	ModelsByIDs(ctx context.Context, ids []uuid.UUID) ([]Model, error)

	// DecksByIDs returns the subset of ids that exist in the workspace.
	DecksByIDs(ctx context.Context, workspaceID uuid.UUID, ids []uuid.UUID) ([]Deck, error)
	CardsByDeck(ctx context.Context, deckID uuid.UUID) ([]Card, error)

	DeckStats(ctx context.Context, workspaceID uuid.UUID, deckIDs []uuid.UUID) ([]DeckStats, error)

	Close() error
}
