package config

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"traffic-router/internal/common/errors"
	"traffic-router/internal/common/logging"
	"traffic-router/internal/pool"
	"traffic-router/internal/routing"
)

// Snapshot is one accepted routing document and its compiled form. A
// snapshot never changes once published.
type Snapshot struct {
	*Compiled `json:"-"`

	Version  uint64    `json:"version"`
	Source   string    `json:"source"`
	Checksum string    `json:"checksum"`
	LoadedAt time.Time `json:"loaded_at"`
	Document *Document `json:"document"`
}

// Store holds the active Snapshot. Apply replaces it atomically; a document
// that fails to compile leaves the previous snapshot active.
type Store struct {
	current atomic.Pointer[Snapshot]

	mu      sync.Mutex
	version uint64
	subs    []func(*Snapshot)
	source  routing.DrawSource
	logger  logging.Logger
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithDrawSource sets the random source shared by every compiled selector
func WithDrawSource(src routing.DrawSource) StoreOption {
	return func(s *Store) { s.source = src }
}

// WithStoreLogger sets the store's logger
func WithStoreLogger(l logging.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty store. Current returns nil until the first
// successful Apply.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.source == nil {
		s.source = routing.NewRandomSource()
	}
	if s.logger == nil {
		s.logger = logging.Component("config")
	}
	return s
}

// Current returns the active snapshot, or nil before the first Apply
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// ProbeSettings returns the active probe settings, or the defaults before
// the first Apply. It is handed to the pool tracker, which calls it every
// probe cycle.
func (s *Store) ProbeSettings() pool.ProbeSettings {
	if snap := s.Current(); snap != nil {
		return snap.Probe
	}
	return pool.DefaultProbeSettings()
}

// Subscribe registers fn to run after every accepted Apply, in order, with
// the new snapshot. Subscribers run on the applying goroutine.
func (s *Store) Subscribe(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Apply compiles doc and makes it the active snapshot. On failure the error
// is returned and the previous snapshot keeps serving. A document identical
// to the active one is accepted without bumping the version.
func (s *Store) Apply(doc *Document, source string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	compiled, err := Compile(doc, s.source)
	if err != nil {
		s.reject(source, err)
		return nil, err
	}

	sum, err := checksum(doc)
	if err != nil {
		s.reject(source, err)
		return nil, err
	}
	if prev := s.current.Load(); prev != nil && prev.Checksum == sum {
		s.logger.Debug("Routing document unchanged",
			logging.String("source", source),
			logging.Int64("version", int64(prev.Version)),
		)
		return prev, nil
	}

	s.version++
	snap := &Snapshot{
		Compiled: compiled,
		Version:  s.version,
		Source:   source,
		Checksum: sum,
		LoadedAt: time.Now(),
		Document: doc,
	}
	s.current.Store(snap)

	s.logger.Info("Routing configuration applied",
		logging.Int64("version", int64(snap.Version)),
		logging.String("source", source),
		logging.Int("rules", len(doc.Rules)),
		logging.Int("versions", len(doc.Versions)),
	)

	for _, fn := range s.subs {
		fn(snap)
	}
	return snap, nil
}

// ApplyBytes parses data and applies it
func (s *Store) ApplyBytes(data []byte, source string) (*Snapshot, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		s.reject(source, err)
		return nil, err
	}
	return s.Apply(doc, source)
}

func (s *Store) reject(source string, err error) {
	fields := []logging.Field{logging.String("source", source)}
	if prev := s.current.Load(); prev != nil {
		fields = append(fields, logging.Int64("active_version", int64(prev.Version)))
	}
	s.logger.Error("Routing configuration rejected", err, fields...)
}

func checksum(doc *Document) (string, error) {
	data, err := doc.Marshal()
	if err != nil {
		return "", errors.InternalError("failed to encode routing document", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
