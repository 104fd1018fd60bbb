package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/deveric/decksync/internal/store"
)

const cardSelect = `
	SELECT id, note_id, deck_id, ordinal, mod, usn, card_type, queue, due,
	       interval, ease_factor, reps, lapses, remaining_steps,
	       original_due, original_deck_id, flags, data
	FROM cards`

func scanCards(rows pgx.Rows) ([]store.Card, error) {
	var cards []store.Card
	for rows.Next() {
		var c store.Card
		if err := rows.Scan(
			&c.ID, &c.NoteID, &c.DeckID, &c.Ordinal, &c.Mod, &c.USN,
			&c.Type, &c.Queue, &c.Due, &c.Interval, &c.EaseFactor,
			&c.Reps, &c.Lapses, &c.RemainingSteps, &c.OriginalDue,
			&c.OriginalDeckID, &c.Flags, &c.Data,
		); err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// UpsertMedia inserts or overwrites a (note, filename) -> URL record.
func (s *Store) UpsertMedia(ctx context.Context, rec store.MediaRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO media_records (note_id, filename, url)
		VALUES ($1, $2, $3)
		ON CONFLICT (note_id, filename) DO UPDATE SET url = EXCLUDED.url
	`, rec.NoteID, rec.Filename, rec.URL)
	if err != nil {
		return fmt.Errorf("failed to upsert media %q: %w", rec.Filename, err)
	}
	return nil
}

// MediaManifest returns the filename -> URL map for one note.
func (s *Store) MediaManifest(ctx context.Context, noteID uuid.UUID) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT filename, url FROM media_records WHERE note_id = $1
	`, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media records: %w", err)
	}
	defer rows.Close()

	manifest := make(map[string]string)
	for rows.Next() {
		var filename, url string
		if err := rows.Scan(&filename, &url); err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		manifest[filename] = url
	}
	return manifest, rows.Err()
}

// NoteByID retrieves a single note; ErrNotFound when absent.
func (s *Store) NoteByID(ctx context.Context, id uuid.UUID) (*store.Note, error) {
	note := &store.Note{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, workspace_id, guid, model_id, mod, usn, tags, fields,
		       sort_field, checksum, flags, data
		FROM notes WHERE id = $1
	`, id).Scan(
		&note.ID, &note.WorkspaceID, &note.GUID, &note.ModelID, &note.Mod,
		&note.USN, &note.Tags, &note.Fields, &note.SortField, &note.Checksum,
		&note.Flags, &note.Data,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return note, nil
}

// NotesByIDs retrieves the notes matching the given ids.
func (s *Store) NotesByIDs(ctx context.Context, ids []uuid.UUID) ([]store.Note, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, guid, model_id, mod, usn, tags, fields,
		       sort_field, checksum, flags, data
		FROM notes WHERE id = ANY($1) ORDER BY guid
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []store.Note
	for rows.Next() {
		var n store.Note
		if err := rows.Scan(
			&n.ID, &n.WorkspaceID, &n.GUID, &n.ModelID, &n.Mod, &n.USN,
			&n.Tags, &n.Fields, &n.SortField, &n.Checksum, &n.Flags, &n.Data,
		); err != nil {
			return nil, fmt.Errorf("failed to scan note row: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// ModelsByIDs retrieves the models matching the given ids.
func (s *Store) ModelsByIDs(ctx context.Context, ids []uuid.UUID) ([]store.Model, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, name, css, fields, templates
		FROM models WHERE id = ANY($1) ORDER BY name
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer rows.Close()

	var models []store.Model
	for rows.Next() {
		var m store.Model
		var fieldsJSON, templatesJSON []byte
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.Name, &m.CSS, &fieldsJSON, &templatesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan model row: %w", err)
		}
		if err := unmarshalModelColumns(&m, fieldsJSON, templatesJSON); err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// DecksByIDs returns the subset of the given deck ids that exist in the
// workspace. Ids belonging to other workspaces are silently dropped.
func (s *Store) DecksByIDs(ctx context.Context, workspaceID uuid.UUID, ids []uuid.UUID) ([]store.Deck, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, name FROM decks
		WHERE workspace_id = $1 AND id = ANY($2)
		ORDER BY name
	`, workspaceID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query decks: %w", err)
	}
	defer rows.Close()

	var decks []store.Deck
	for rows.Next() {
		var d store.Deck
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.Name); err != nil {
			return nil, fmt.Errorf("failed to scan deck row: %w", err)
		}
		decks = append(decks, d)
	}
	return decks, rows.Err()
}

// CardsByDeck returns all cards of a deck.
func (s *Store) CardsByDeck(ctx context.Context, deckID uuid.UUID) ([]store.Card, error) {
	rows, err := s.pool.Query(ctx, cardSelect+` WHERE deck_id = $1 ORDER BY note_id, ordinal`, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards for deck: %w", err)
	}
	defer rows.Close()
	return scanCards(rows)
}

// DeckStats aggregates per-deck card counts by queue. Due counts are
// derived from queue membership only; due units are opaque payload.
func (s *Store) DeckStats(ctx context.Context, workspaceID uuid.UUID, deckIDs []uuid.UUID) ([]store.DeckStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.name,
		       COUNT(c.id),
		       COUNT(c.id) FILTER (WHERE c.queue = 0),
		       COUNT(c.id) FILTER (WHERE c.queue IN (1, 3)),
		       COUNT(c.id) FILTER (WHERE c.queue = 2),
		       MAX(c.mod)
		FROM decks d
		LEFT JOIN cards c ON c.deck_id = d.id
		WHERE d.workspace_id = $1 AND d.id = ANY($2)
		GROUP BY d.id, d.name
		ORDER BY d.name
	`, workspaceID, deckIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query deck stats: %w", err)
	}
	defer rows.Close()

	var stats []store.DeckStats
	for rows.Next() {
		var st store.DeckStats
		var lastMod *int64
		if err := rows.Scan(&st.ID, &st.Name, &st.CardCount, &st.NewCards,
			&st.LearningCards, &st.ReviewCards, &lastMod); err != nil {
			return nil, fmt.Errorf("failed to scan deck stats row: %w", err)
		}
		st.TotalCards = st.CardCount
		st.DueCards = st.LearningCards + st.ReviewCards
		if lastMod != nil && *lastMod > 0 {
			t := time.Unix(*lastMod, 0)
			st.LastStudied = &t
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
