package apkg

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/deveric/decksync/internal/errs"
)

func samplePackage() *Package {
	return &Package{
		Decks: map[int64]RawDeck{
			1: {ID: 1, Name: "Japanese::Core"},
			2: {ID: 2, Name: "Kanji"},
		},
		Models: map[int64]RawModel{
			10: {
				ID:   10,
				Name: "Basic",
				CSS:  ".card { font-family: serif; }",
				Fields: []RawField{
					{Name: "Front", Ordinal: 0},
					{Name: "Back", Ordinal: 1},
				},
				Templates: []RawTemplate{
					{Name: "Card 1", QuestionFormat: "{{Front}}", AnswerFormat: "{{Back}}", Ordinal: 0},
				},
			},
		},
		Notes: []RawNote{
			{
				ID: 100, GUID: "guid-cat", ModelID: 10, Mod: 1700000000, USN: -1,
				Tags: " animals ", Fields: "cat\x1f<img src=\"cat.png\">",
				SortFld: "cat", Checksum: 12345, Flags: 0, Data: "",
			},
			{
				ID: 101, GUID: "guid-dog", ModelID: 10, Mod: 1700000100, USN: -1,
				Tags: "", Fields: "dog\x1fwoof",
				SortFld: "dog", Checksum: 67890, Flags: 0, Data: "",
			},
		},
		Cards: []RawCard{
			{ID: 200, NoteID: 100, DeckID: 1, Ordinal: 0, Mod: 1700000000, Queue: 2, Due: 55, Interval: 10, EaseFactor: 2500, Reps: 4},
			{ID: 201, NoteID: 101, DeckID: 2, Ordinal: 0, Mod: 1700000100, Queue: 0},
		},
		Media: map[string][]byte{
			"cat.png": []byte("png-bytes"),
		},
	}
}

func TestReadWriteRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, samplePackage()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(buf.Bytes())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(got.Decks) != 2 {
		t.Errorf("decks = %d, want 2", len(got.Decks))
	}
	if got.Decks[1].Name != "Japanese::Core" {
		t.Errorf("deck 1 name = %q", got.Decks[1].Name)
	}

	model, ok := got.Models[10]
	if !ok {
		t.Fatalf("model 10 missing, got %v", got.Models)
	}
	if model.Name != "Basic" || model.CSS != ".card { font-family: serif; }" {
		t.Errorf("model = %+v", model)
	}
	if len(model.Fields) != 2 || model.Fields[0].Name != "Front" || model.Fields[1].Ordinal != 1 {
		t.Errorf("model fields = %+v", model.Fields)
	}
	if len(model.Templates) != 1 || model.Templates[0].QuestionFormat != "{{Front}}" {
		t.Errorf("model templates = %+v", model.Templates)
	}

	if len(got.Notes) != 2 {
		t.Fatalf("notes = %d, want 2", len(got.Notes))
	}
	if got.Notes[0].GUID != "guid-cat" || got.Notes[0].Fields != "cat\x1f<img src=\"cat.png\">" {
		t.Errorf("note 0 = %+v", got.Notes[0])
	}
	if got.Notes[0].SortFld != "cat" || got.Notes[0].Checksum != 12345 {
		t.Errorf("note 0 sort/checksum = %q/%d", got.Notes[0].SortFld, got.Notes[0].Checksum)
	}

	if len(got.Cards) != 2 {
		t.Fatalf("cards = %d, want 2", len(got.Cards))
	}
	if got.Cards[0].NoteID != 100 || got.Cards[0].DeckID != 1 || got.Cards[0].EaseFactor != 2500 {
		t.Errorf("card 0 = %+v", got.Cards[0])
	}

	if string(got.Media["cat.png"]) != "png-bytes" {
		t.Errorf("media = %v", got.Media)
	}
}

func TestRead_NotAZip(t *testing.T) {
	_, err := Read([]byte("definitely not a zip archive"))
	if errs.KindOf(err) != errs.KindMalformedPackage {
		t.Errorf("kind = %v, want MalformedPackage", errs.KindOf(err))
	}
}

func TestRead_NoCollectionEntry(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("random.txt")
	w.Write([]byte("hello"))
	zw.Close()

	_, err := Read(buf.Bytes())
	if errs.KindOf(err) != errs.KindMissingCollectionSchema {
		t.Errorf("kind = %v, want MissingCollectionSchema", errs.KindOf(err))
	}
}

func TestRead_CollectionEntryNotADatabase(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("collection.anki21")
	w.Write([]byte("not sqlite"))
	zw.Close()

	_, err := Read(buf.Bytes())
	if errs.KindOf(err) != errs.KindMissingCollectionSchema {
		t.Errorf("kind = %v, want MissingCollectionSchema", errs.KindOf(err))
	}
}

func TestRead_LegacyCollectionName(t *testing.T) {
	// Write under the current name, then repack the same database entry
	// under the legacy name.
	var buf bytes.Buffer
	if err := Write(&buf, samplePackage()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	src, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	var repacked bytes.Buffer
	zw := zip.NewWriter(&repacked)
	for _, f := range src.File {
		name := f.Name
		if name == "collection.anki21" {
			name = "collection.anki2"
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := io.Copy(w, rc); err != nil {
			t.Fatalf("copy entry: %v", err)
		}
		rc.Close()
	}
	zw.Close()

	got, err := Read(repacked.Bytes())
	if err != nil {
		t.Fatalf("Read legacy: %v", err)
	}
	if len(got.Notes) != 2 || len(got.Cards) != 2 {
		t.Errorf("notes/cards = %d/%d, want 2/2", len(got.Notes), len(got.Cards))
	}
}

func TestRead_MediaManifestMapping(t *testing.T) {
	// Write produces numeric entry names plus a manifest; Read must map
	// them back to real filenames.
	pkg := samplePackage()
	pkg.Media = map[string][]byte{
		"cat.png":  []byte("cat"),
		"meow.mp3": []byte("meow"),
	}

	var buf bytes.Buffer
	if err := Write(&buf, pkg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if findEntry(zr, "cat.png") != nil {
		t.Error("media stored under real filename, expected numeric entry names")
	}
	if findEntry(zr, mediaManifestName) == nil {
		t.Error("media manifest entry missing")
	}

	got, err := Read(buf.Bytes())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got.Media["cat.png"]) != "cat" || string(got.Media["meow.mp3"]) != "meow" {
		t.Errorf("media = %v", got.Media)
	}
}
