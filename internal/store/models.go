package store

import (
	"time"

	"github.com/google/uuid"
)

// Workspace scopes all flashcard data for one tenant.
type Workspace struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Deck is a named card container within a workspace.
type Deck struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Name        string
}

// ModelField is one field definition of a model, ordered by Ordinal.
type ModelField struct {
	Name    string `json:"name"`
	Ordinal int    `json:"ordinal"`
}

// ModelTemplate is one card template of a model.
type ModelTemplate struct {
	Name           string `json:"name"`
	QuestionFormat string `json:"question_format"`
	AnswerFormat   string `json:"answer_format"`
	Ordinal        int    `json:"ordinal"`
}

// Model is the field/template schema notes are structured after.
type Model struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Name        string
	CSS         string
	Fields      []ModelField
	Templates   []ModelTemplate
}

// Note is a content-bearing record. Fields holds the 0x1F-joined field
// values exactly as imported; GUID is the stable cross-upload merge key.
type Note struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	GUID        string
	ModelID     uuid.UUID
	Mod         int64
	USN         int64
	Tags        string
	Fields      string
	SortField   string
	Checksum    int64
	Flags       int64
	Data        string
}

// Card is one schedulable review item. All scheduling columns (Type
// through Data) are opaque payload passed through byte-for-byte; only
// NoteID, DeckID and Ordinal carry workspace meaning.
type Card struct {
	ID             uuid.UUID
	NoteID         uuid.UUID
	DeckID         uuid.UUID
	Ordinal        int64
	Mod            int64
	USN            int64
	Type           int64
	Queue          int64
	Due            int64
	Interval       int64
	EaseFactor     int64
	Reps           int64
	Lapses         int64
	RemainingSteps int64
	OriginalDue    int64
	OriginalDeckID int64
	Flags          int64
	Data           string
}

// MediaRecord maps a note-scoped original filename to its durable URL.
type MediaRecord struct {
	NoteID   uuid.UUID
	Filename string
	URL      string
}

// DeckStats summarizes one deck for import results.
type DeckStats struct {
	ID            uuid.UUID
	Name          string
	CardCount     int
	NewCards      int
	LearningCards int
	ReviewCards   int
	DueCards      int
	TotalCards    int
	LastStudied   *time.Time
}
