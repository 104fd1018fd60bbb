package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/deveric/decksync/internal/store"
)

// Tx implements the transactional capability slice on a pgx transaction.
type Tx struct {
	tx pgx.Tx
}

var _ store.Tx = (*Tx)(nil)

// FindDeckByName looks up a deck by name within a workspace.
func (t *Tx) FindDeckByName(ctx context.Context, workspaceID uuid.UUID, name string) (*store.Deck, error) {
	deck := &store.Deck{}
	err := t.tx.QueryRow(ctx, `
		SELECT id, workspace_id, name FROM decks
		WHERE workspace_id = $1 AND name = $2
	`, workspaceID, name).Scan(&deck.ID, &deck.WorkspaceID, &deck.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find deck %q: %w", name, err)
	}
	return deck, nil
}

// CreateDeck inserts a new deck.
func (t *Tx) CreateDeck(ctx context.Context, deck store.Deck) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO decks (id, workspace_id, name) VALUES ($1, $2, $3)
	`, deck.ID, deck.WorkspaceID, deck.Name)
	if err != nil {
		return fmt.Errorf("failed to create deck %q: %w", deck.Name, err)
	}
	return nil
}

// FindModelByName looks up a model by name within a workspace.
func (t *Tx) FindModelByName(ctx context.Context, workspaceID uuid.UUID, name string) (*store.Model, error) {
	model := &store.Model{}
	var fieldsJSON, templatesJSON []byte
	err := t.tx.QueryRow(ctx, `
		SELECT id, workspace_id, name, css, fields, templates FROM models
		WHERE workspace_id = $1 AND name = $2
	`, workspaceID, name).Scan(&model.ID, &model.WorkspaceID, &model.Name, &model.CSS, &fieldsJSON, &templatesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find model %q: %w", name, err)
	}
	if err := unmarshalModelColumns(model, fieldsJSON, templatesJSON); err != nil {
		return nil, err
	}
	return model, nil
}

// CreateModel inserts a new model with its fields and templates.
func (t *Tx) CreateModel(ctx context.Context, model store.Model) error {
	fieldsJSON, err := json.Marshal(model.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal model fields: %w", err)
	}
	templatesJSON, err := json.Marshal(model.Templates)
	if err != nil {
		return fmt.Errorf("failed to marshal model templates: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO models (id, workspace_id, name, css, fields, templates)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, model.ID, model.WorkspaceID, model.Name, model.CSS, fieldsJSON, templatesJSON)
	if err != nil {
		return fmt.Errorf("failed to create model %q: %w", model.Name, err)
	}
	return nil
}

// FindNoteByGUID looks up a note by its merge key within a workspace.
func (t *Tx) FindNoteByGUID(ctx context.Context, workspaceID uuid.UUID, guid string) (*store.Note, error) {
	note := &store.Note{}
	err := t.tx.QueryRow(ctx, `
		SELECT id, workspace_id, guid, model_id, mod, usn, tags, fields,
		       sort_field, checksum, flags, data
		FROM notes WHERE workspace_id = $1 AND guid = $2
	`, workspaceID, guid).Scan(
		&note.ID, &note.WorkspaceID, &note.GUID, &note.ModelID, &note.Mod,
		&note.USN, &note.Tags, &note.Fields, &note.SortField, &note.Checksum,
		&note.Flags, &note.Data,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find note by guid %q: %w", guid, err)
	}
	return note, nil
}

// InsertNote inserts a new note.
func (t *Tx) InsertNote(ctx context.Context, note store.Note) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO notes (id, workspace_id, guid, model_id, mod, usn, tags,
		                   fields, sort_field, checksum, flags, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, note.ID, note.WorkspaceID, note.GUID, note.ModelID, note.Mod, note.USN,
		note.Tags, note.Fields, note.SortField, note.Checksum, note.Flags, note.Data)
	if err != nil {
		return fmt.Errorf("failed to insert note %q: %w", note.GUID, err)
	}
	return nil
}

// UpdateNote overwrites a note's content in place, preserving its id.
func (t *Tx) UpdateNote(ctx context.Context, note store.Note) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE notes
		SET model_id = $2, mod = $3, usn = $4, tags = $5, fields = $6,
		    sort_field = $7, checksum = $8, flags = $9, data = $10
		WHERE id = $1
	`, note.ID, note.ModelID, note.Mod, note.USN, note.Tags, note.Fields,
		note.SortField, note.Checksum, note.Flags, note.Data)
	if err != nil {
		return fmt.Errorf("failed to update note %q: %w", note.GUID, err)
	}
	return nil
}

// CardsByNote returns all cards of a note ordered by ordinal.
func (t *Tx) CardsByNote(ctx context.Context, noteID uuid.UUID) ([]store.Card, error) {
	rows, err := t.tx.Query(ctx, cardSelect+` WHERE note_id = $1 ORDER BY ordinal`, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards for note: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// InsertCard inserts a new card.
func (t *Tx) InsertCard(ctx context.Context, card store.Card) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cards (id, note_id, deck_id, ordinal, mod, usn, card_type,
		                   queue, due, interval, ease_factor, reps, lapses,
		                   remaining_steps, original_due, original_deck_id, flags, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, card.ID, card.NoteID, card.DeckID, card.Ordinal, card.Mod, card.USN,
		card.Type, card.Queue, card.Due, card.Interval, card.EaseFactor,
		card.Reps, card.Lapses, card.RemainingSteps, card.OriginalDue,
		card.OriginalDeckID, card.Flags, card.Data)
	if err != nil {
		return fmt.Errorf("failed to insert card ordinal %d: %w", card.Ordinal, err)
	}
	return nil
}

// UpdateCard overwrites a card's scheduling payload in place.
func (t *Tx) UpdateCard(ctx context.Context, card store.Card) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE cards
		SET deck_id = $2, mod = $3, usn = $4, card_type = $5, queue = $6,
		    due = $7, interval = $8, ease_factor = $9, reps = $10,
		    lapses = $11, remaining_steps = $12, original_due = $13,
		    original_deck_id = $14, flags = $15, data = $16
		WHERE id = $1
	`, card.ID, card.DeckID, card.Mod, card.USN, card.Type, card.Queue,
		card.Due, card.Interval, card.EaseFactor, card.Reps, card.Lapses,
		card.RemainingSteps, card.OriginalDue, card.OriginalDeckID,
		card.Flags, card.Data)
	if err != nil {
		return fmt.Errorf("failed to update card ordinal %d: %w", card.Ordinal, err)
	}
	return nil
}

func unmarshalModelColumns(model *store.Model, fieldsJSON, templatesJSON []byte) error {
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &model.Fields); err != nil {
			return fmt.Errorf("failed to unmarshal model fields: %w", err)
		}
	}
	if len(templatesJSON) > 0 {
		if err := json.Unmarshal(templatesJSON, &model.Templates); err != nil {
			return fmt.Errorf("failed to unmarshal model templates: %w", err)
		}
	}
	return nil
}
