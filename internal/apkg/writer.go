package apkg

import (
	"archive/zip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"
)

// collectionSchema is the minimal schema any compliant reader expects.
const collectionSchema = `
CREATE TABLE col (
    id     INTEGER PRIMARY KEY,
    crt    INTEGER NOT NULL,
    mod    INTEGER NOT NULL,
    scm    INTEGER NOT NULL,
    ver    INTEGER NOT NULL,
    dty    INTEGER NOT NULL,
    usn    INTEGER NOT NULL,
    ls     INTEGER NOT NULL,
    conf   TEXT NOT NULL,
    models TEXT NOT NULL,
    decks  TEXT NOT NULL,
    dconf  TEXT NOT NULL,
    tags   TEXT NOT NULL
);
CREATE TABLE notes (
    id    INTEGER PRIMARY KEY,
    guid  TEXT NOT NULL,
    mid   INTEGER NOT NULL,
    mod   INTEGER NOT NULL,
    usn   INTEGER NOT NULL,
    tags  TEXT NOT NULL,
    flds  TEXT NOT NULL,
    sfld  TEXT NOT NULL,
    csum  INTEGER NOT NULL,
    flags INTEGER NOT NULL,
    data  TEXT NOT NULL
);
CREATE TABLE cards (
    id     INTEGER PRIMARY KEY,
    nid    INTEGER NOT NULL,
    did    INTEGER NOT NULL,
    ord    INTEGER NOT NULL,
    mod    INTEGER NOT NULL,
    usn    INTEGER NOT NULL,
    type   INTEGER NOT NULL,
    queue  INTEGER NOT NULL,
    due    INTEGER NOT NULL,
    ivl    INTEGER NOT NULL,
    factor INTEGER NOT NULL,
    reps   INTEGER NOT NULL,
    lapses INTEGER NOT NULL,
    left   INTEGER NOT NULL,
    odue   INTEGER NOT NULL,
    odid   INTEGER NOT NULL,
    flags  INTEGER NOT NULL,
    data   TEXT NOT NULL
);
CREATE INDEX ix_notes_guid ON notes (guid);
CREATE INDEX ix_cards_nid ON cards (nid);
`

// Write assembles a package back into container bytes: a collection
// database under the fixed current entry name plus the media entries and
// their manifest.
func Write(w io.Writer, pkg *Package) error {
	dbPath, cleanup, err := buildCollection(pkg)
	if err != nil {
		return fmt.Errorf("building collection database: %w", err)
	}
	defer cleanup()

	zw := zip.NewWriter(w)

	entry, err := zw.Create(collectionEntryName)
	if err != nil {
		return err
	}
	dbFile, err := os.Open(dbPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(entry, dbFile); err != nil {
		dbFile.Close()
		return fmt.Errorf("writing collection entry: %w", err)
	}
	dbFile.Close()

	if err := writeMedia(zw, pkg.Media); err != nil {
		return err
	}

	return zw.Close()
}

// buildCollection writes the package rows into a fresh sqlite database on
// a temporary file and returns its path.
func buildCollection(pkg *Package) (string, func(), error) {
	tmp, err := os.CreateTemp("", "decksync-export-*.db")
	if err != nil {
		return "", nil, err
	}
	tmp.Close()
	cleanup := func() { os.Remove(tmp.Name()) }

	db, err := sql.Open("sqlite", tmp.Name())
	if err != nil {
		cleanup()
		return "", nil, err
	}
	defer db.Close()

	if _, err := db.Exec(collectionSchema); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("applying collection schema: %w", err)
	}

	decksJSON, err := encodeDecks(pkg.Decks)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	modelsJSON, err := encodeModels(pkg.Models)
	if err != nil {
		cleanup()
		return "", nil, err
	}

	now := time.Now().Unix()
	_, err = db.Exec(`
		INSERT INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		VALUES (1, ?, ?, ?, 11, 0, 0, 0, '{}', ?, ?, '{}', '{}')
	`, now, now, now, string(modelsJSON), string(decksJSON))
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("writing col row: %w", err)
	}

	for _, n := range pkg.Notes {
		_, err := db.Exec(`
			INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, n.ID, n.GUID, n.ModelID, n.Mod, n.USN, n.Tags, n.Fields, n.SortFld, n.Checksum, n.Flags, n.Data)
		if err != nil {
			cleanup()
			return "", nil, fmt.Errorf("writing note %d: %w", n.ID, err)
		}
	}

	for _, c := range pkg.Cards {
		_, err := db.Exec(`
			INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due,
			                   ivl, factor, reps, lapses, left, odue, odid, flags, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.NoteID, c.DeckID, c.Ordinal, c.Mod, c.USN, c.Type, c.Queue, c.Due,
			c.Interval, c.EaseFactor, c.Reps, c.Lapses, c.RemainingSteps,
			c.OriginalDue, c.OriginalDeckID, c.Flags, c.Data)
		if err != nil {
			cleanup()
			return "", nil, fmt.Errorf("writing card %d: %w", c.ID, err)
		}
	}

	return tmp.Name(), cleanup, nil
}

// writeMedia emits media files under numeric entry names with a manifest
// mapping them back to real filenames, the layout compliant readers expect.
func writeMedia(zw *zip.Writer, media map[string][]byte) error {
	if len(media) == 0 {
		return nil
	}

	filenames := make([]string, 0, len(media))
	for name := range media {
		filenames = append(filenames, name)
	}
	sort.Strings(filenames)

	manifest := make(map[string]string, len(filenames))
	for i, filename := range filenames {
		entryName := strconv.Itoa(i)
		manifest[entryName] = filename

		entry, err := zw.Create(entryName)
		if err != nil {
			return err
		}
		if _, err := entry.Write(media[filename]); err != nil {
			return fmt.Errorf("writing media %q: %w", filename, err)
		}
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	entry, err := zw.Create(mediaManifestName)
	if err != nil {
		return err
	}
	if _, err := entry.Write(manifestJSON); err != nil {
		return fmt.Errorf("writing media manifest: %w", err)
	}

	return nil
}
