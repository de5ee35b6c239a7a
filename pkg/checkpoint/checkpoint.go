package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"subarchive/pkg/logger"
)

// Journal represents the state of one archive or replay run
type Journal struct {
	Subreddit  string    `json:"subreddit"`
	Mode       string    `json:"mode"`
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	AlreadyArchived int `json:"already_archived"`
	Discovered      int `json:"discovered"`
	ToArchive       int `json:"to_archive"`
	Archived        int `json:"archived"`

	MediaDownloaded int `json:"media_downloaded,omitempty"`
	MediaSkipped    int `json:"media_skipped,omitempty"`
	MediaFailed     int `json:"media_failed,omitempty"`
	MediaCancelled  int `json:"media_cancelled,omitempty"`

	// LastFile is the most recently written post record
	LastFile  string   `json:"last_file,omitempty"`
	FailedIDs []string `json:"failed_ids,omitempty"`
	Version   int      `json:"version"`
}

// Finished reports whether the run reached its end
func (j *Journal) Finished() bool {
	return !j.FinishedAt.IsZero()
}

// Manager handles journal operations
type Manager struct {
	path   string
	logger logger.Logger
}

// NewManager creates a journal manager. An empty path selects
// <data dir>/journal/<subreddit>.json.
func NewManager(path, subreddit string, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	if path == "" {
		dataDir, err := getDataDirectory()
		if err != nil {
			return nil, fmt.Errorf("failed to get data directory: %w", err)
		}
		path = filepath.Join(dataDir, "journal", fmt.Sprintf("%s.json", subreddit))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	return &Manager{path: path, logger: log}, nil
}

// Path returns the journal file location
func (m *Manager) Path() string {
	return m.path
}

// Start creates and saves a fresh journal for a run
func (m *Manager) Start(subreddit, mode string) (*Journal, error) {
	now := time.Now()
	j := &Journal{
		Subreddit: subreddit,
		Mode:      mode,
		RunID:     logger.RunID,
		StartedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	if err := m.Save(j); err != nil {
		return nil, fmt.Errorf("failed to save initial journal: %w", err)
	}

	m.logger.DebugWithFields("journal started", map[string]interface{}{
		"mode": mode,
		"path": m.path,
	})
	return j, nil
}

// Load reads the journal, returning nil when none exists
func (m *Manager) Load() (*Journal, error) {
	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	defer file.Close()

	var j Journal
	if err := json.NewDecoder(file).Decode(&j); err != nil {
		return nil, fmt.Errorf("failed to decode journal: %w", err)
	}
	return &j, nil
}

// Save writes the journal to disk atomically
func (m *Manager) Save(j *Journal) error {
	j.UpdatedAt = time.Now()

	tempPath := m.path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary journal file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(j); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode journal: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync journal file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close journal file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace journal file: %w", err)
	}
	return nil
}

// RecordArchived notes a saved post record
func (m *Manager) RecordArchived(j *Journal, filename string) error {
	j.Archived++
	j.LastFile = filename
	return m.Save(j)
}

// RecordFailed notes a post that could not be fetched
func (m *Manager) RecordFailed(j *Journal, postID string) error {
	j.FailedIDs = append(j.FailedIDs, postID)
	return m.Save(j)
}

// Finish stamps the end of the run and saves
func (m *Manager) Finish(j *Journal) error {
	j.FinishedAt = time.Now()
	return m.Save(j)
}

// Delete removes the journal file
func (m *Manager) Delete() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete journal: %w", err)
	}
	return nil
}

// Exists checks if a journal file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "subarchive")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "subarchive")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "subarchive")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "subarchive")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dataDir, nil
}
