package approvals

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"riskstream/internal/metrics"
	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
)

const backendFile = "file"

// FileStore keeps approvals in a JSON key-value document on disk, alongside whatever
// other keys the document holds
type FileStore struct {
	path string
	key  string
	mu   sync.Mutex
	log  *logger.Logger
}

// NewFileStore creates a store backed by the document at path
func NewFileStore(path string, log *logger.Logger) *FileStore {
	if log == nil {
		log = logger.Get()
	}
	return &FileStore{
		path: path,
		key:  StorageKey,
		log:  log.Component("approvals_file"),
	}
}

// Load returns the stored approvals, or an empty map when there are none or they cannot be read
func (s *FileStore) Load(_ context.Context) Records {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if err != nil {
		s.fail("load", err)
		return Records{}
	}

	raw, ok := doc[s.key]
	if !ok {
		metrics.RecordPersistence(backendFile, "load", nil)
		return Records{}
	}

	records := Records{}
	if err := json.Unmarshal(raw, &records); err != nil {
		s.fail("load", errors.Wrap(err, "failed to decode approvals"))
		return Records{}
	}
	if records == nil {
		records = Records{}
	}

	metrics.RecordPersistence(backendFile, "load", nil)
	return records
}

// Save replaces the stored approvals. The document is rewritten atomically.
func (s *FileStore) Save(_ context.Context, records Records) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(records); err != nil {
		s.fail("save", err)
		return
	}
	metrics.RecordPersistence(backendFile, "save", nil)
}

func (s *FileStore) save(records Records) error {
	doc, err := s.readDocument()
	if err != nil {
		// an unreadable document is replaced wholesale
		s.log.Warnf("Replacing unreadable approvals document %s: %v", s.path, err)
		doc = map[string]json.RawMessage{}
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return errors.Wrap(err, "failed to encode approvals")
	}
	doc[s.key] = raw

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode approvals document")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create approvals directory")
	}

	tmp, err := os.CreateTemp(dir, ".approvals-*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write approvals")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrap(err, "failed to replace approvals document")
	}
	return nil
}

// readDocument returns the whole key-value document; a missing file is an empty document
func (s *FileStore) readDocument() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read approvals document")
	}

	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode approvals document")
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (s *FileStore) fail(operation string, err error) {
	metrics.RecordPersistence(backendFile, operation, err)
	s.log.Warnw("Approval cache "+operation+" failed",
		"path", s.path,
		"error", errors.Wrap(errors.ErrPersistence, err.Error()),
	)
}
