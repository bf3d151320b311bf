// Package store persists the per-class device priority orders and hidden sets
// across restarts. State is keyed only by stable device uids, never by live
// handles, so it survives reconnects.
//
// Mutations are synchronous and write-then-commit: the backing file is written
// first and the in-memory value only updated when the write succeeded, so a
// persistence failure never leaves memory and disk disagreeing.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/mateusbadalotti/audio-priority/devices"
)

// ErrWriteFailed wraps a backing-store write failure. The in-memory state is
// unchanged when a mutation returns it.
var ErrWriteFailed = errors.New("store: write failed")

const (
	keyPriorityInput  = "priority.input"
	keyPriorityOutput = "priority.output"
	keyHiddenInput    = "hidden.input"
	keyHiddenOutput   = "hidden.output"
)

// Keys written by builds that tracked "headphone"/"speaker" instead of
// input/output. Merged once per load, skipping uids the current key already
// lists; never written back, never deleted.
var legacyKeys = map[string][]string{
	keyPriorityInput:  {"priority.headphone"},
	keyPriorityOutput: {"priority.speaker"},
	keyHiddenInput:    {"hidden.headphone"},
	keyHiddenOutput:   {"hidden.speaker"},
}

// Store holds the persisted priority orders and hidden sets for both classes.
// Safe for concurrent reads; mutations are expected to come from a single
// writer.
type Store struct {
	mu   sync.RWMutex
	v    *viper.Viper
	path string
	log  logrus.FieldLogger

	priority map[devices.Class][]string
	hidden   map[devices.Class]map[string]struct{}
}

// DefaultPath returns the state file location under the user config dir.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("store: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "audio-priority", "state.yaml"), nil
}

// Open loads the store from path, creating the parent directory if needed.
// An absent file is a valid empty store. An empty path selects DefaultPath.
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create state dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("store: read %s: %w", path, err)
		}
	}

	s := &Store{
		v:        v,
		path:     path,
		log:      log.WithField("component", "store"),
		priority: make(map[devices.Class][]string),
		hidden:   make(map[devices.Class]map[string]struct{}),
	}

	for _, class := range devices.Classes() {
		s.priority[class] = s.loadList(priorityKey(class))
		s.hidden[class] = toSet(s.loadList(hiddenKey(class)))
	}

	return s, nil
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Priority returns the persisted uid order for the class, highest first.
// Never set means an empty order.
func (s *Store) Priority(class devices.Class) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.priority[class]...)
}

// SetPriority overwrites the class's uid order and persists it immediately.
// The uids are not validated against connected devices; orders may reference
// devices that are long gone or never seen.
func (s *Store) SetPriority(class devices.Class, uids []string) error {
	next := append([]string(nil), uids...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(priorityKey(class), next); err != nil {
		return err
	}
	s.priority[class] = next
	return nil
}

// Hidden returns the persisted hidden uid set for the class.
func (s *Store) Hidden(class devices.Class) map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.hidden[class]))
	for uid := range s.hidden[class] {
		out[uid] = struct{}{}
	}
	return out
}

// Hide adds uid to the class's hidden set. Idempotent: hiding an already
// hidden uid is a no-op and touches neither memory nor disk.
func (s *Store) Hide(class devices.Class, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hidden[class][uid]; ok {
		return nil
	}

	next := make(map[string]struct{}, len(s.hidden[class])+1)
	for u := range s.hidden[class] {
		next[u] = struct{}{}
	}
	next[uid] = struct{}{}

	if err := s.persist(hiddenKey(class), toSortedList(next)); err != nil {
		return err
	}
	s.hidden[class] = next
	return nil
}

// Unhide removes uid from the class's hidden set. Unhiding a uid that was
// never hidden is a no-op.
func (s *Store) Unhide(class devices.Class, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hidden[class][uid]; !ok {
		return nil
	}

	next := make(map[string]struct{}, len(s.hidden[class]))
	for u := range s.hidden[class] {
		if u != uid {
			next[u] = struct{}{}
		}
	}

	if err := s.persist(hiddenKey(class), toSortedList(next)); err != nil {
		return err
	}
	s.hidden[class] = next
	return nil
}

// persist stages value under key and writes the config file. On failure the
// staged value is rolled back so a later write does not leak it.
func (s *Store) persist(key string, value []string) error {
	prev := s.v.Get(key)
	s.v.Set(key, value)
	if err := s.v.WriteConfig(); err != nil {
		s.v.Set(key, prev)
		s.log.WithFields(logrus.Fields{
			"key":  key,
			"path": s.path,
		}).WithError(err).Error("state write failed")
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// loadList reads key merged with its legacy variants. Current-key entries are
// kept verbatim, duplicates included; only legacy entries are deduplicated
// against what is already present, so the merge never rewrites a list the
// current build persisted.
func (s *Store) loadList(key string) []string {
	out := append([]string(nil), s.v.GetStringSlice(key)...)
	seen := toSet(out)
	for _, legacy := range legacyKeys[key] {
		entries := s.v.GetStringSlice(legacy)
		if len(entries) == 0 {
			continue
		}
		s.log.WithFields(logrus.Fields{
			"legacy":  legacy,
			"current": key,
			"entries": len(entries),
		}).Debug("merging legacy key")
		for _, uid := range entries {
			if _, ok := seen[uid]; ok {
				continue
			}
			seen[uid] = struct{}{}
			out = append(out, uid)
		}
	}
	return out
}

func priorityKey(class devices.Class) string {
	if class == devices.Input {
		return keyPriorityInput
	}
	return keyPriorityOutput
}

func hiddenKey(class devices.Class) string {
	if class == devices.Input {
		return keyHiddenInput
	}
	return keyHiddenOutput
}

func toSet(uids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		set[uid] = struct{}{}
	}
	return set
}

func toSortedList(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for uid := range set {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}
