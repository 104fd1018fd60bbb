package apkg

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// FieldSeparator joins note field values inside the flds column.
const FieldSeparator = "\x1f"

// RawDeck is a deck entry from the collection's decks JSON column.
type RawDeck struct {
	ID   int64
	Name string
}

// RawField is one field definition of a model.
type RawField struct {
	Name    string
	Ordinal int
}

// RawTemplate is one card template of a model.
type RawTemplate struct {
	Name           string
	QuestionFormat string
	AnswerFormat   string
	Ordinal        int
}

// RawModel is a note type from the collection's models JSON column.
type RawModel struct {
	ID        int64
	Name      string
	CSS       string
	Fields    []RawField
	Templates []RawTemplate
}

// RawNote mirrors one row of the collection's notes table.
// Fields is the 0x1F-joined field values, exactly as stored.
type RawNote struct {
	ID       int64
	GUID     string
	ModelID  int64
	Mod      int64
	USN      int64
	Tags     string
	Fields   string
	SortFld  string
	Checksum int64
	Flags    int64
	Data     string
}

// RawCard mirrors one row of the collection's cards table.
// Scheduling columns are opaque payload and never reinterpreted.
type RawCard struct {
	ID             int64
	NoteID         int64
	DeckID         int64
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

// Package is the fully unpacked content of a flashcard container.
type Package struct {
	Decks  map[int64]RawDeck
	Models map[int64]RawModel
	Notes  []RawNote
	Cards  []RawCard
	Media  map[string][]byte
}

// deckJSON / modelJSON mirror the collection's JSON encoding, which keys
// objects by stringified numeric ids.
type deckJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type fieldJSON struct {
	Name    string `json:"name"`
	Ordinal int    `json:"ord"`
}

type templateJSON struct {
	Name           string `json:"name"`
	QuestionFormat string `json:"qfmt"`
	AnswerFormat   string `json:"afmt"`
	Ordinal        int    `json:"ord"`
}

type modelJSON struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	CSS       string         `json:"css"`
	Fields    []fieldJSON    `json:"flds"`
	Templates []templateJSON `json:"tmpls"`
}

// parseDecks decodes the decks JSON column into tagged records.
func parseDecks(raw []byte) (map[int64]RawDeck, error) {
	var byID map[string]deckJSON
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, fmt.Errorf("decoding decks json: %w", err)
	}

	decks := make(map[int64]RawDeck, len(byID))
	for key, d := range byID {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("deck key %q is not numeric: %w", key, err)
		}
		decks[id] = RawDeck{ID: id, Name: d.Name}
	}
	return decks, nil
}

// parseModels decodes the models JSON column into tagged records.
func parseModels(raw []byte) (map[int64]RawModel, error) {
	var byID map[string]modelJSON
	if err := json.Unmarshal(raw, &byID); err != nil {
		return nil, fmt.Errorf("decoding models json: %w", err)
	}

	models := make(map[int64]RawModel, len(byID))
	for key, m := range byID {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("model key %q is not numeric: %w", key, err)
		}

		model := RawModel{ID: id, Name: m.Name, CSS: m.CSS}
		for _, f := range m.Fields {
			model.Fields = append(model.Fields, RawField{Name: f.Name, Ordinal: f.Ordinal})
		}
		for _, t := range m.Templates {
			model.Templates = append(model.Templates, RawTemplate{
				Name:           t.Name,
				QuestionFormat: t.QuestionFormat,
				AnswerFormat:   t.AnswerFormat,
				Ordinal:        t.Ordinal,
			})
		}
		sort.Slice(model.Fields, func(i, j int) bool { return model.Fields[i].Ordinal < model.Fields[j].Ordinal })
		sort.Slice(model.Templates, func(i, j int) bool { return model.Templates[i].Ordinal < model.Templates[j].Ordinal })
		models[id] = model
	}
	return models, nil
}

// encodeDecks renders decks back into the collection's JSON shape.
func encodeDecks(decks map[int64]RawDeck) ([]byte, error) {
	byID := make(map[string]deckJSON, len(decks))
	for id, d := range decks {
		byID[strconv.FormatInt(id, 10)] = deckJSON{ID: id, Name: d.Name}
	}
	return json.Marshal(byID)
}

// encodeModels renders models back into the collection's JSON shape.
func encodeModels(models map[int64]RawModel) ([]byte, error) {
	byID := make(map[string]modelJSON, len(models))
	for id, m := range models {
		mj := modelJSON{
			ID:        id,
			Name:      m.Name,
			CSS:       m.CSS,
			Fields:    make([]fieldJSON, 0, len(m.Fields)),
			Templates: make([]templateJSON, 0, len(m.Templates)),
		}
		for _, f := range m.Fields {
			mj.Fields = append(mj.Fields, fieldJSON{Name: f.Name, Ordinal: f.Ordinal})
		}
		for _, t := range m.Templates {
			mj.Templates = append(mj.Templates, templateJSON{
				Name:           t.Name,
				QuestionFormat: t.QuestionFormat,
				AnswerFormat:   t.AnswerFormat,
				Ordinal:        t.Ordinal,
			})
		}
		byID[strconv.FormatInt(id, 10)] = mj
	}
	return json.Marshal(byID)
}
