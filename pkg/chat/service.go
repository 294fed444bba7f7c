package chat

import (
	"time"

	"convodb/pkg/live"
	"convodb/pkg/store/db"
	"convodb/pkg/timeutil"
)

const (
	DefaultEditWindow      = 10 * time.Minute
	DefaultOnlineThreshold = 60 * time.Second
)

// URLResolver turns an opaque blob handle into a fetchable URL.
type URLResolver interface {
	ResolveURL(handle string) string
}

type Options struct {
	EditWindow      time.Duration
	OnlineThreshold time.Duration
	Clock           timeutil.Clock
	Resolver        URLResolver
}

// Service is the conversation and message engine. Mutations run as
// optimistic transactions; reads are plain functions over a transaction so
// they can be served once or as live queries.
type Service struct {
	store *db.DB
	live  *live.Engine
	opts  Options
	clock timeutil.Clock
	urls  URLResolver
}

func New(store *db.DB, engine *live.Engine, opts Options) *Service {
	if opts.EditWindow <= 0 {
		opts.EditWindow = DefaultEditWindow
	}
	if opts.OnlineThreshold <= 0 {
		opts.OnlineThreshold = DefaultOnlineThreshold
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.System
	}
	return &Service{
		store: store,
		live:  engine,
		opts:  opts,
		clock: opts.Clock,
		urls:  opts.Resolver,
	}
}

func (s *Service) Store() *db.DB { return s.store }

func (s *Service) Live() *live.Engine { return s.live }

func (s *Service) now() int64 {
	return s.clock.Now().UnixNano()
}

func (s *Service) resolve(handle string) string {
	if handle == "" || s.urls == nil {
		return ""
	}
	return s.urls.ResolveURL(handle)
}

// view runs a read function once against a snapshot.
func view[T any](s *Service, fn func(txn *db.Txn) (T, error)) (T, error) {
	var out T
	err := s.store.View(func(txn *db.Txn) error {
		v, err := fn(txn)
		out = v
		return err
	})
	return out, err
}
