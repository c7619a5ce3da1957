package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skyherd/internal/config"
	"skyherd/internal/types"
)

// Store reads and writes one agent's documents.
//
// Loads never fail hard: a missing document yields its default, and a
// document that cannot be read or decoded yields the default together with a
// *types.PersistenceError for the caller to log. Saves return a
// *types.PersistenceError; the caller's in-memory copy stays authoritative.
type Store struct {
	backend   Backend
	namespace string
	readOnly  bool
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// ReadOnly makes every save a no-op, including the re-persist after pruning.
func ReadOnly() Option { return func(s *Store) { s.readOnly = true } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l } }

// NewStore binds a backend to a namespace (the agent slug).
func NewStore(backend Backend, namespace string, opts ...Option) *Store {
	s := &Store{
		backend:   backend,
		namespace: namespace,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenBackend builds the backend selected by cfg.Storage.
func OpenBackend(cfg *config.Config) (Backend, error) {
	switch cfg.Storage.Backend {
	case "", "json":
		return NewFileBackend(cfg.DataDir)
	case "sqlite":
		return OpenSQLite(cfg.Storage.SQLiteDriver, cfg.SQLitePath())
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Namespace returns the agent namespace.
func (s *Store) Namespace() string { return s.namespace }

// Now returns the store's clock reading.
func (s *Store) Now() time.Time { return s.now() }

func (s *Store) fail(entity, op string, err error) error {
	return &types.PersistenceError{Namespace: s.namespace, Entity: entity, Op: op, Err: err}
}

func (s *Store) load(entity string, v any) (bool, error) {
	data, err := s.backend.Read(s.namespace, entity)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.fail(entity, "read", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, s.fail(entity, "decode", err)
	}
	return true, nil
}

func (s *Store) save(entity string, v any) error {
	if s.readOnly {
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.fail(entity, "encode", err)
	}
	if err := s.backend.Write(s.namespace, entity, data); err != nil {
		return s.fail(entity, "write", err)
	}
	return nil
}

// =============================================================================
// TYPED ACCESSORS
// =============================================================================

// LoadFollowedUsers loads follows and the blacklist.
func (s *Store) LoadFollowedUsers() (*FollowedUsers, error) {
	doc := NewFollowedUsers(s.now())
	if _, err := s.load(EntityFollowedUsers, doc); err != nil {
		return NewFollowedUsers(s.now()), err
	}
	return doc, nil
}

func (s *Store) SaveFollowedUsers(f *FollowedUsers) error {
	return s.save(EntityFollowedUsers, f)
}

// LoadEngagementStats loads the daily counters. Every known kind is present
// in the result.
func (s *Store) LoadEngagementStats() (*EngagementStats, error) {
	doc := &EngagementStats{}
	found, err := s.load(EntityEngagementStats, doc)
	if err != nil || !found {
		return NewEngagementStats(s.now()), err
	}
	if doc.Counts == nil {
		doc.Counts = make(map[types.ActionKind]int)
	}
	for _, k := range types.AllActions {
		if _, ok := doc.Counts[k]; !ok {
			doc.Counts[k] = 0
		}
	}
	return doc, nil
}

func (s *Store) SaveEngagementStats(st *EngagementStats) error {
	return s.save(EntityEngagementStats, st)
}

// LoadPostHistory loads post history, dropping expired records. If anything
// was dropped the pruned document is written back.
func (s *Store) LoadPostHistory() (*PostHistory, error) {
	doc := NewPostHistory()
	found, err := s.load(EntityPostHistory, doc)
	if err != nil || !found {
		return NewPostHistory(), err
	}
	if doc.Posts == nil {
		doc.Posts = make(map[string]PostRecord)
	}
	if n := doc.Prune(s.now()); n > 0 {
		s.logger.Debug("pruned post history", zap.Int("removed", n))
		if err := s.SavePostHistory(doc); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

func (s *Store) SavePostHistory(h *PostHistory) error {
	return s.save(EntityPostHistory, h)
}

// LoadFollowerStats loads the follower snapshot series.
func (s *Store) LoadFollowerStats() (*FollowerStats, error) {
	doc := &FollowerStats{}
	if _, err := s.load(EntityFollowerStats, doc); err != nil {
		return &FollowerStats{}, err
	}
	return doc, nil
}

func (s *Store) SaveFollowerStats(st *FollowerStats) error {
	return s.save(EntityFollowerStats, st)
}

// LoadEngagementHistory loads hour buckets, dropping expired ones. If anything
// was dropped the pruned document is written back.
func (s *Store) LoadEngagementHistory() (EngagementHistory, error) {
	doc := EngagementHistory{}
	found, err := s.load(EntityEngagementHistory, &doc)
	if err != nil || !found {
		return NewEngagementHistory(), err
	}
	for _, k := range types.AllActions {
		if doc[k] == nil {
			doc[k] = make(map[string]PeriodRecord)
		}
	}
	if n := doc.Prune(s.now()); n > 0 {
		s.logger.Debug("pruned engagement history", zap.Int("removed", n))
		if err := s.SaveEngagementHistory(doc); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

func (s *Store) SaveEngagementHistory(h EngagementHistory) error {
	return s.save(EntityEngagementHistory, h)
}

// LoadEngagementConfig returns the last rebalanced limits, or nil if no
// rebalance has been persisted.
func (s *Store) LoadEngagementConfig() (*EngagementConfig, error) {
	doc := &EngagementConfig{}
	found, err := s.load(EntityEngagementConfig, doc)
	if err != nil || !found {
		return nil, err
	}
	return doc, nil
}

func (s *Store) SaveEngagementConfig(c *EngagementConfig) error {
	return s.save(EntityEngagementConfig, c)
}
