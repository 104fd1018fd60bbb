package apkg

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	_ "modernc.org/sqlite" // registers the sqlite driver

	"github.com/deveric/decksync/internal/errs"
)

const (
	// collectionEntryName is the conventional collection entry in current containers.
	collectionEntryName = "collection.anki21"
	// legacyCollectionEntryName is the fallback for older containers.
	legacyCollectionEntryName = "collection.anki2"
	// mediaManifestName maps numeric media entry names to real filenames.
	mediaManifestName = "media"
)

// Read unpacks a container byte stream into raw collection rows and media
// bytes. The embedded database needs random access, so it is buffered to a
// temporary file before reading.
func Read(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedPackage, "not a readable zip archive", err)
	}

	var collection *zip.File
	for _, name := range []string{collectionEntryName, legacyCollectionEntryName} {
		if f := findEntry(zr, name); f != nil {
			collection = f
			break
		}
	}
	if collection == nil {
		return nil, errs.New(errs.KindMissingCollectionSchema, "no collection database entry in archive")
	}

	dbPath, cleanup, err := spillToTemp(collection)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedPackage, "extracting collection database", err)
	}
	defer cleanup()

	pkg, err := readCollection(dbPath)
	if err != nil {
		return nil, err
	}

	pkg.Media, err = readMedia(zr, collection.Name)
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedPackage, "reading media entries", err)
	}

	return pkg, nil
}

func findEntry(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// spillToTemp copies a zip entry to a temporary file and returns its path.
func spillToTemp(f *zip.File) (string, func(), error) {
	rc, err := f.Open()
	if err != nil {
		return "", nil, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "decksync-collection-*.db")
	if err != nil {
		return "", nil, err
	}

	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

// readCollection loads decks, models, notes and cards from the embedded
// database. Missing tables mean the entry is not a collection at all.
func readCollection(dbPath string) (*Package, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindMissingCollectionSchema, "opening collection database", err)
	}
	defer db.Close()

	for _, table := range []string{"col", "notes", "cards"} {
		if err := tableExists(db, table); err != nil {
			return nil, errs.Wrap(errs.KindMissingCollectionSchema, fmt.Sprintf("collection table %q missing", table), err)
		}
	}

	pkg := &Package{}

	var decksJSON, modelsJSON []byte
	row := db.QueryRow(`SELECT decks, models FROM col LIMIT 1`)
	if err := row.Scan(&decksJSON, &modelsJSON); err != nil {
		return nil, errs.Wrap(errs.KindMissingCollectionSchema, "reading col row", err)
	}

	if pkg.Decks, err = parseDecks(decksJSON); err != nil {
		return nil, errs.Wrap(errs.KindMissingCollectionSchema, "decks column", err)
	}
	if pkg.Models, err = parseModels(modelsJSON); err != nil {
		return nil, errs.Wrap(errs.KindMissingCollectionSchema, "models column", err)
	}

	if pkg.Notes, err = readNotes(db); err != nil {
		return nil, errs.Wrap(errs.KindMissingCollectionSchema, "reading notes", err)
	}
	if pkg.Cards, err = readCards(db); err != nil {
		return nil, errs.Wrap(errs.KindMissingCollectionSchema, "reading cards", err)
	}

	return pkg, nil
}

func tableExists(db *sql.DB, name string) error {
	var found string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&found)
	return err
}

func readNotes(db *sql.DB) ([]RawNote, error) {
	rows, err := db.Query(`
		SELECT id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data
		FROM notes ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []RawNote
	for rows.Next() {
		var n RawNote
		var sortFld any // the sort field column mixes TEXT and INTEGER affinity
		if err := rows.Scan(
			&n.ID, &n.GUID, &n.ModelID, &n.Mod, &n.USN,
			&n.Tags, &n.Fields, &sortFld, &n.Checksum, &n.Flags, &n.Data,
		); err != nil {
			return nil, err
		}
		n.SortFld = columnString(sortFld)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func readCards(db *sql.DB) ([]RawCard, error) {
	rows, err := db.Query(`
		SELECT id, nid, did, ord, mod, usn, type, queue, due,
		       ivl, factor, reps, lapses, left, odue, odid, flags, data
		FROM cards ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []RawCard
	for rows.Next() {
		var c RawCard
		if err := rows.Scan(
			&c.ID, &c.NoteID, &c.DeckID, &c.Ordinal, &c.Mod, &c.USN,
			&c.Type, &c.Queue, &c.Due, &c.Interval, &c.EaseFactor,
			&c.Reps, &c.Lapses, &c.RemainingSteps, &c.OriginalDue,
			&c.OriginalDeckID, &c.Flags, &c.Data,
		); err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// readMedia collects every non-collection entry, keyed by filename. When a
// media manifest entry is present its numeric-name mapping is honored;
// otherwise the zip entry name is the filename.
func readMedia(zr *zip.Reader, collectionName string) (map[string][]byte, error) {
	names := map[string]string{}
	if manifest := findEntry(zr, mediaManifestName); manifest != nil {
		raw, err := readAll(manifest)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &names); err != nil {
			slog.Warn("media manifest unreadable, falling back to entry names", "error", err)
			names = map[string]string{}
		}
	}

	media := make(map[string][]byte)
	for _, f := range zr.File {
		if f.Name == collectionName || f.Name == mediaManifestName {
			continue
		}
		if f.FileInfo().IsDir() {
			continue
		}

		filename := f.Name
		if mapped, ok := names[f.Name]; ok {
			filename = mapped
		}

		data, err := readAll(f)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", f.Name, err)
		}
		media[filename] = data
	}
	return media, nil
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// columnString renders a mixed-affinity column value as text.
func columnString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return fmt.Sprint(s)
	}
}
