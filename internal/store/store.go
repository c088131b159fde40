package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wogdump/wogdump/internal/config"
	logger "github.com/wogdump/wogdump/internal/logging"
)

// Store owns the cache document on disk. Every write goes through the
// read, mutate, write-temp, rename cycle, so a crash at any point leaves
// the previous document intact. Mutations are serialized by a mutex; the
// store is the single writer for all tool state.
type Store struct {
	path    string
	backups int
	log     logger.Logger

	mu sync.Mutex
}

// Open binds a store to the state file under cfg.BaseDir, creating the
// runtime directory if needed. Leftover temp files from interrupted
// writes are removed.
func Open(cfg config.Config, log logger.Logger) (*Store, error) {
	path := cfg.StateFile()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create runtime directory: %w", err)
	}
	s := &Store{path: path, backups: cfg.BackupCount, log: log}
	s.sweepTemps()
	return s, nil
}

// Path returns the location of the state file.
func (s *Store) Path() string { return s.path }

// Load returns a private snapshot of the current document. A missing
// file yields a fresh empty document. An unreadable file falls back to
// the newest valid backup; only when no backup validates does Load fail.
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

// Mutate applies fn to the current document and commits the result
// atomically. fn must only change the document in memory; it must not
// perform I/O of its own.
func (s *Store) Mutate(fn func(*Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	fn(doc)
	return s.commitLocked(doc)
}

// Replace commits doc wholesale without reading the current document.
// Migration uses this: it rebuilds state from scratch, so a corrupt
// existing document must not block it. The old file still rotates into
// the backups.
func (s *Store) Replace(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(doc)
}

func (s *Store) loadLocked() (*Document, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewDocument(time.Now().UTC()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache document: %w", err)
	}

	doc, parseErr := parseDocument(raw)
	if parseErr == nil {
		return doc, nil
	}

	s.log.Warnf("cache document unreadable: %v", parseErr)
	if recovered := s.recoverLocked(); recovered != nil {
		return recovered, nil
	}
	return nil, parseErr
}

// recoverLocked tries backups newest-first and returns the first one
// that validates.
func (s *Store) recoverLocked() *Document {
	for i := 1; i <= s.backups; i++ {
		raw, err := os.ReadFile(s.backupPath(i))
		if err != nil {
			continue
		}
		doc, err := parseDocument(raw)
		if err != nil {
			s.log.Debugf("backup %d unreadable: %v", i, err)
			continue
		}
		s.log.WarnfAlways("recovered cache document from backup %s", filepath.Base(s.backupPath(i)))
		return doc
	}
	return nil
}

func (s *Store) commitLocked(doc *Document) error {
	now := time.Now().UTC()
	doc.SchemaVersion = SchemaVersion
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	sum, err := doc.computeChecksum()
	if err != nil {
		return fmt.Errorf("failed to checksum cache document: %w", err)
	}
	doc.Checksum = sum

	payload, err := marshalDocument(doc)
	if err != nil {
		return fmt.Errorf("failed to encode cache document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, s.tempPattern())
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, writeErr := tmp.Write(payload)
	if writeErr == nil {
		writeErr = tmp.Sync()
	}
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmp.Name())
		if writeErr == nil {
			writeErr = closeErr
		}
		return fmt.Errorf("failed to write cache document: %w", writeErr)
	}

	if err := s.rotateLocked(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace cache document: %w", err)
	}
	return nil
}

// rotateLocked shifts data.json into the numbered backup chain, dropping
// the oldest. Newest backup is .bak.1.
func (s *Store) rotateLocked() error {
	if s.backups == 0 {
		return nil
	}
	if _, err := os.Stat(s.path); err != nil {
		return nil
	}

	os.Remove(s.backupPath(s.backups))
	for i := s.backups - 1; i >= 1; i-- {
		src := s.backupPath(i)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, s.backupPath(i+1)); err != nil {
			s.log.Warnf("failed to rotate backup %d: %v", i, err)
		}
	}
	if err := os.Rename(s.path, s.backupPath(1)); err != nil {
		return fmt.Errorf("failed to rotate cache document into backups: %w", err)
	}
	return nil
}

func (s *Store) backupPath(i int) string {
	return fmt.Sprintf("%s.bak.%d", s.path, i)
}

func (s *Store) tempPattern() string {
	return "." + filepath.Base(s.path) + ".tmp-*"
}

// sweepTemps removes temp files left behind by interrupted writes.
// Their presence is harmless; the rename never happened, so the real
// document is whatever data.json holds.
func (s *Store) sweepTemps() {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(s.path), s.tempPattern()))
	if err != nil {
		return
	}
	for _, m := range matches {
		s.log.Debugf("removing stale temp file %s", m)
		os.Remove(m)
	}
}
