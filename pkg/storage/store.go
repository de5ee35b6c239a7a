package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"subarchive/pkg/logger"
	"subarchive/pkg/reddit"
)

// Store handles the archive directory: post records and media files
type Store struct {
	dir        string
	loc        *time.Location
	slugLength int
	logger     logger.Logger
}

// NewStore opens dir as an archive, creating it when missing
func NewStore(dir string, loc *time.Location, slugLength int, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if loc == nil {
		loc = time.Local
	}

	return &Store{
		dir:        dir,
		loc:        loc,
		slugLength: slugLength,
		logger:     log,
	}, nil
}

// Dir returns the archive directory
func (s *Store) Dir() string {
	return s.dir
}

// Location returns the zone used for datestamps
func (s *Store) Location() *time.Location {
	return s.loc
}

// Path joins a file name onto the archive directory
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// RecordFiles lists every post record below the archive, sorted by path
func (s *Store) RecordFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan archive: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// ArchivedIDs returns the post ids present in the archive in file order.
// The last element is the most recently created post.
func (s *Store) ArchivedIDs() ([]string, error) {
	files, err := s.RecordFiles()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(files))
	for _, f := range files {
		id, ok := IDFromFilename(f)
		if !ok {
			s.logger.WarnWithFields("skipping record with unexpected name", map[string]interface{}{
				"file": f,
			})
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LoadAll reads every post record in file order. Records that fail to
// parse are logged and left out.
func (s *Store) LoadAll() ([]*reddit.PostRecord, error) {
	files, err := s.RecordFiles()
	if err != nil {
		return nil, err
	}

	records := make([]*reddit.PostRecord, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		rec, err := reddit.NewPostRecord(data)
		if err != nil {
			s.logger.WithError(err).WarnWithFields("skipping malformed post record", map[string]interface{}{
				"file": f,
			})
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Filename returns the archive name for rec
func (s *Store) Filename(rec *reddit.PostRecord) string {
	return RecordFilename(rec.Created(), rec.ID(), rec.Title(), s.loc, s.slugLength)
}

// Append writes rec verbatim under its archive name and returns that name
func (s *Store) Append(rec *reddit.PostRecord) (string, error) {
	name := s.Filename(rec)
	path := s.Path(name)

	tmp, err := os.CreateTemp(s.dir, ".record-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(rec.Raw)
	closeErr := tmp.Close()

	if err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write post record: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return name, nil
}

// Exists reports whether a file with this name is already in the archive
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Create opens a new media file for writing. It fails with fs.ErrExist
// rather than truncating a file that is already there.
func (s *Store) Create(name string) (*os.File, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		return nil, fmt.Errorf("media name %q must not contain a path separator", name)
	}
	return os.OpenFile(s.Path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
}

// Remove deletes a media file created during this run
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
