package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/emirks/tercihify-chat/internal/domain/usage"
	"github.com/emirks/tercihify-chat/pkg/errors"
	"github.com/emirks/tercihify-chat/pkg/logger"
)

const (
	mappingFile = "session_mapping.json"
	summaryFile = "session_summary.json"
	turnPrefix  = "turn_"
)

// Compile-time check
var _ usage.SessionStore = (*Store)(nil)

// writeMu serializes every write in the process, across Store instances sharing a root
var writeMu sync.Mutex

// sessionMapping is the persisted sessionId -> folder index
type sessionMapping struct {
	Counter  int               `json:"counter"`
	Sessions map[string]string `json:"sessions"`
}

// Store is the file-backed usage store: one folder per session holding one JSON document per
// turn plus a cumulative session summary.
type Store struct {
	root string
	log  *logger.Logger
}

// New creates the root directory if needed
func New(root string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create usage dir %s", root)
	}
	return &Store{
		root: root,
		log:  log.With("component", "usage_filestore"),
	}, nil
}

// Root returns the directory the store writes to
func (s *Store) Root() string {
	return s.root
}

// Persist writes the turn document and refreshes the session summary. Writing the same turn
// again overwrites its document and yields the same summary.
func (s *Store) Persist(ctx context.Context, log *usage.Log) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if log == nil || log.SessionID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "usage log needs a session id")
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	folder, err := s.folderFor(log.SessionID, true)
	if err != nil {
		return err
	}
	dir := filepath.Join(s.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create session dir %s", dir)
	}

	turnPath := filepath.Join(dir, turnFileName(log))
	size, err := writeJSON(turnPath, log)
	if err != nil {
		return err
	}

	logs, err := readTurns(dir)
	if err != nil {
		return err
	}
	summary := usage.SummarizeSession(log.SessionID, logs)
	if _, err := writeJSON(filepath.Join(dir, summaryFile), summary); err != nil {
		return err
	}

	s.log.Debugw("Usage turn written to file store",
		"session_id", log.SessionID,
		"folder", folder,
		"size", humanize.Bytes(uint64(size)),
		"turns", summary.MessageCount,
	)
	return nil
}

// GetSessionAnalytics reads a session's turns in start order with its summary
func (s *Store) GetSessionAnalytics(ctx context.Context, sessionID string) (*usage.SessionAnalytics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	folder, err := s.folderFor(sessionID, false)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, folder)

	logs, err := readTurns(dir)
	if err != nil {
		return nil, err
	}

	var summary usage.SessionSummary
	if err := readJSON(filepath.Join(dir, summaryFile), &summary); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warnw("Unreadable session summary, recomputing", "session_id", sessionID, "error", err)
		}
		summary = *usage.SummarizeSession(sessionID, logs)
	}

	return &usage.SessionAnalytics{
		SessionID: sessionID,
		Logs:      logs,
		Summary:   &summary,
	}, nil
}

// FolderFor returns the folder assigned to a session, assigning the next one when it is new
func (s *Store) FolderFor(sessionID string) (string, error) {
	writeMu.Lock()
	defer writeMu.Unlock()
	return s.folderFor(sessionID, true)
}

func (s *Store) folderFor(sessionID string, assign bool) (string, error) {
	mappingPath := filepath.Join(s.root, mappingFile)

	mapping := sessionMapping{Sessions: map[string]string{}}
	if err := readJSON(mappingPath, &mapping); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if mapping.Sessions == nil {
		mapping.Sessions = map[string]string{}
	}

	if folder, ok := mapping.Sessions[sessionID]; ok {
		return folder, nil
	}
	if !assign {
		return "", errors.Wrapf(errors.ErrNotFound, "session %s", sessionID)
	}

	mapping.Counter++
	folder := fmt.Sprintf("session_%04d", mapping.Counter)
	mapping.Sessions[sessionID] = folder

	if _, err := writeJSON(mappingPath, mapping); err != nil {
		return "", err
	}
	return folder, nil
}

func turnFileName(log *usage.Log) string {
	return fmt.Sprintf("%s%d_%s.json", turnPrefix, log.StartedAt.UnixMilli(), safeName(log.MessageID))
}

// safeName keeps message ids usable as file name parts
func safeName(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}

func readTurns(dir string) ([]*usage.Log, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}

	logs := make([]*usage.Log, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, turnPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		var log usage.Log
		if err := readJSON(filepath.Join(dir, name), &log); err != nil {
			return nil, err
		}
		logs = append(logs, &log)
	}

	usage.SortLogsByStart(logs)
	return logs, nil
}

func readJSON(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrapf(err, "failed to decode %s", path)
	}
	return nil
}

// writeJSON replaces path atomically through a temp file in the same directory
func writeJSON(path string, value interface{}) (int, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return 0, errors.Wrapf(err, "failed to encode %s", filepath.Base(path))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return 0, errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return 0, errors.Wrapf(err, "failed to write %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return 0, errors.Wrapf(err, "failed to sync %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed to close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, errors.Wrapf(err, "failed to replace %s", path)
	}
	return len(data), nil
}
