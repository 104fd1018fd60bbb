package importer

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deveric/decksync/internal/apkg"
	"github.com/deveric/decksync/internal/errs"
	"github.com/deveric/decksync/internal/media"
	"github.com/deveric/decksync/internal/store"
	"github.com/deveric/decksync/internal/store/storetest"
)

func testPackage() *apkg.Package {
	return &apkg.Package{
		Decks: map[int64]apkg.RawDeck{
			1: {ID: 1, Name: "Animals"},
		},
		Models: map[int64]apkg.RawModel{
			10: {
				ID: 10, Name: "Basic",
				Fields: []apkg.RawField{
					{Name: "Front", Ordinal: 0},
					{Name: "Back", Ordinal: 1},
				},
				Templates: []apkg.RawTemplate{
					{Name: "Card 1", QuestionFormat: "{{Front}}", AnswerFormat: "{{Back}}", Ordinal: 0},
				},
			},
		},
		Notes: []apkg.RawNote{
			{ID: 100, GUID: "guid-cat", ModelID: 10, Mod: 100, Tags: "animals", Fields: "cat\x1f<img src=\"cat.png\">", SortFld: "cat", Checksum: 111},
			{ID: 101, GUID: "guid-dog", ModelID: 10, Mod: 100, Tags: "animals", Fields: "dog\x1fwoof", SortFld: "dog", Checksum: 222},
		},
		Cards: []apkg.RawCard{
			{ID: 200, NoteID: 100, DeckID: 1, Ordinal: 0, Mod: 100, Queue: 2, Interval: 10, EaseFactor: 2500},
			{ID: 201, NoteID: 101, DeckID: 1, Ordinal: 0, Mod: 100, Queue: 0},
		},
		Media: map[string][]byte{
			"cat.png": []byte("png-bytes"),
		},
	}
}

func packageBytes(t *testing.T, pkg *apkg.Package) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, apkg.Write(&buf, pkg))
	return buf.Bytes()
}

func newTestImporter(t *testing.T) (*Importer, *storetest.Memory, uuid.UUID) {
	t.Helper()
	st := storetest.New()
	blobs, err := media.NewFSStore(t.TempDir(), "https://blobs.test")
	require.NoError(t, err)

	ws, err := st.FindOrCreateWorkspace(context.Background(), "test")
	require.NoError(t, err)
	return New(st, blobs), st, ws.ID
}

func TestImport_FreshPackage(t *testing.T) {
	ctx := context.Background()
	im, st, ws := newTestImporter(t)

	result, err := im.Import(ctx, ws, packageBytes(t, testPackage()), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.ImportedNotes)
	assert.Equal(t, 0, result.UpdatedNotes)
	assert.Equal(t, 0, result.SkippedNotes)
	assert.Equal(t, StatusImported, result.Status)
	assert.Equal(t, 1, result.MediaFiles)

	require.Len(t, result.Decks, 1)
	deck := result.Decks[0]
	assert.Equal(t, "Animals", deck.Name)
	assert.Equal(t, 2, deck.TotalCards)
	assert.Equal(t, 1, deck.NewCards)
	assert.Equal(t, 1, deck.ReviewCards)
	assert.Equal(t, 1, deck.DueCards)
	require.NotNil(t, deck.LastStudied)

	// Media manifest lands on the note that references the file.
	var catNote *store.Note
	err = st.WithTx(ctx, ws, false, func(tx store.Tx) error {
		var err error
		catNote, err = tx.FindNoteByGUID(ctx, ws, "guid-cat")
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, catNote)

	manifest, err := st.MediaManifest(ctx, catNote.ID)
	require.NoError(t, err)
	assert.Contains(t, manifest, "cat.png")
}

func TestImport_RepeatWithoutForceSkips(t *testing.T) {
	ctx := context.Background()
	im, _, ws := newTestImporter(t)
	data := packageBytes(t, testPackage())

	_, err := im.Import(ctx, ws, data, Options{})
	require.NoError(t, err)

	result, err := im.Import(ctx, ws, data, Options{})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ImportedNotes)
	assert.Equal(t, 0, result.UpdatedNotes)
	assert.Equal(t, 2, result.SkippedNotes)
	assert.Equal(t, StatusSkipped, result.Status)
}

func TestImport_SkipEvenWhenContentDiffers(t *testing.T) {
	ctx := context.Background()
	im, _, ws := newTestImporter(t)

	_, err := im.Import(ctx, ws, packageBytes(t, testPackage()), Options{})
	require.NoError(t, err)

	changed := testPackage()
	changed.Notes[0].Fields = "CAT\x1fchanged"
	changed.Notes[0].Checksum = 999

	result, err := im.Import(ctx, ws, packageBytes(t, changed), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.SkippedNotes)
	assert.Equal(t, StatusSkipped, result.Status)
}

func TestImport_ForceUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	im, st, ws := newTestImporter(t)

	_, err := im.Import(ctx, ws, packageBytes(t, testPackage()), Options{})
	require.NoError(t, err)

	noteIDByGUID := func() map[string]uuid.UUID {
		ids := make(map[string]uuid.UUID)
		err := st.WithTx(ctx, ws, false, func(tx store.Tx) error {
			for _, guid := range []string{"guid-cat", "guid-dog"} {
				n, err := tx.FindNoteByGUID(ctx, ws, guid)
				if err != nil {
					return err
				}
				ids[guid] = n.ID
			}
			return nil
		})
		require.NoError(t, err)
		return ids
	}
	before := noteIDByGUID()

	changed := testPackage()
	changed.Notes[0].Fields = "CAT\x1fchanged"
	changed.Notes[0].Mod = 200
	changed.Cards[0].Interval = 20

	result, err := im.Import(ctx, ws, packageBytes(t, changed), Options{Force: true})
	require.NoError(t, err)

	assert.Equal(t, 0, result.ImportedNotes)
	assert.Equal(t, 2, result.UpdatedNotes)
	assert.Equal(t, 0, result.SkippedNotes)
	assert.Equal(t, StatusUpdated, result.Status)

	// Identity survives the overwrite.
	after := noteIDByGUID()
	assert.Equal(t, before, after)

	note, err := st.NoteByID(ctx, after["guid-cat"])
	require.NoError(t, err)
	assert.Equal(t, "CAT\x1fchanged", note.Fields)
	assert.Equal(t, int64(200), note.Mod)

	// Card reconciled by ordinal, not re-inserted.
	var cards []store.Card
	err = st.WithTx(ctx, ws, false, func(tx store.Tx) error {
		var err error
		cards, err = tx.CardsByNote(ctx, after["guid-cat"])
		return err
	})
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, int64(20), cards[0].Interval)
}

func TestImport_ForceInsertsNewOrdinals(t *testing.T) {
	ctx := context.Background()
	im, st, ws := newTestImporter(t)

	_, err := im.Import(ctx, ws, packageBytes(t, testPackage()), Options{})
	require.NoError(t, err)

	changed := testPackage()
	changed.Cards = append(changed.Cards, apkg.RawCard{
		ID: 202, NoteID: 100, DeckID: 1, Ordinal: 1, Mod: 200, Queue: 0,
	})

	result, err := im.Import(ctx, ws, packageBytes(t, changed), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.UpdatedNotes)

	var cat *store.Note
	var cards []store.Card
	err = st.WithTx(ctx, ws, false, func(tx store.Tx) error {
		var err error
		if cat, err = tx.FindNoteByGUID(ctx, ws, "guid-cat"); err != nil {
			return err
		}
		cards, err = tx.CardsByNote(ctx, cat.ID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, int64(0), cards[0].Ordinal)
	assert.Equal(t, int64(1), cards[1].Ordinal)
}

func TestImport_MixedBatchIsPartial(t *testing.T) {
	ctx := context.Background()
	im, _, ws := newTestImporter(t)

	_, err := im.Import(ctx, ws, packageBytes(t, testPackage()), Options{})
	require.NoError(t, err)

	// Same two notes plus a brand new one: two skips, one import.
	grown := testPackage()
	grown.Notes = append(grown.Notes, apkg.RawNote{
		ID: 102, GUID: "guid-fox", ModelID: 10, Mod: 100, Fields: "fox\x1fring", SortFld: "fox",
	})
	grown.Cards = append(grown.Cards, apkg.RawCard{
		ID: 202, NoteID: 102, DeckID: 1, Ordinal: 0, Mod: 100,
	})

	result, err := im.Import(ctx, ws, packageBytes(t, grown), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ImportedNotes)
	assert.Equal(t, 2, result.SkippedNotes)
	assert.Equal(t, StatusPartial, result.Status)
}

func TestImport_DanglingModelAbortsEverything(t *testing.T) {
	ctx := context.Background()
	im, st, ws := newTestImporter(t)

	broken := testPackage()
	broken.Notes[1].ModelID = 999

	_, err := im.Import(ctx, ws, packageBytes(t, broken), Options{})
	require.Error(t, err)
	assert.Equal(t, errs.KindDanglingModelReference, errs.KindOf(err))

	// The transaction rolled back: not even the first, valid note landed.
	err = st.WithTx(ctx, ws, false, func(tx store.Tx) error {
		n, err := tx.FindNoteByGUID(ctx, ws, "guid-cat")
		if err != nil {
			return err
		}
		assert.Nil(t, n)
		return nil
	})
	require.NoError(t, err)
}

func TestImport_DanglingDeckAborts(t *testing.T) {
	ctx := context.Background()
	im, _, ws := newTestImporter(t)

	broken := testPackage()
	broken.Cards[0].DeckID = 999

	_, err := im.Import(ctx, ws, packageBytes(t, broken), Options{})
	require.Error(t, err)
	assert.Equal(t, errs.KindDanglingReference, errs.KindOf(err))
}

func TestImport_CardWithoutNoteAborts(t *testing.T) {
	ctx := context.Background()
	im, _, ws := newTestImporter(t)

	broken := testPackage()
	broken.Cards[0].NoteID = 999

	_, err := im.Import(ctx, ws, packageBytes(t, broken), Options{})
	require.Error(t, err)
	assert.Equal(t, errs.KindDanglingReference, errs.KindOf(err))
}

func TestImport_MalformedBytes(t *testing.T) {
	ctx := context.Background()
	im, _, ws := newTestImporter(t)

	_, err := im.Import(ctx, ws, []byte("not a package"), Options{})
	require.Error(t, err)
	assert.Equal(t, errs.KindMalformedPackage, errs.KindOf(err))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name     string
		result   Result
		expected Status
	}{
		{"all imported", Result{ImportedNotes: 3}, StatusImported},
		{"all skipped", Result{SkippedNotes: 3}, StatusSkipped},
		{"all updated", Result{UpdatedNotes: 3}, StatusUpdated},
		{"import and skip", Result{ImportedNotes: 1, SkippedNotes: 2}, StatusPartial},
		{"update and skip", Result{UpdatedNotes: 1, SkippedNotes: 2}, StatusPartial},
		{"empty batch", Result{}, StatusImported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, statusOf(&tt.result))
		})
	}
}
