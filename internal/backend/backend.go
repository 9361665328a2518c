// Package backend opens a store.Backend from a DSN.
package backend

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-hub/internal/docstore"
	perrors "github.com/p-blackswan/project-hub/internal/errors"
	"github.com/p-blackswan/project-hub/internal/retry"
	"github.com/p-blackswan/project-hub/internal/store"
)

// Open builds the backend named by dsn:
//
//	sqlite:///var/lib/hub/hub.db   SQLite file (also a bare path)
//	mongodb://host:27017/hub       MongoDB (mongodb+srv too)
//	memory://                      in-process, not persisted
//
// Connection attempts to remote backends are retried with backoff.
func Open(ctx context.Context, dsn, operator string, cfg retry.Config, logger zerolog.Logger) (store.Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("empty store DSN")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid store DSN: %w", err)
	}

	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "", "file", "sqlite", "sqlite3":
		path, err := sqlitePath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		s, err := store.New(path, operator, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory", "mem":
		logger.Warn().Msg("using in-memory store, data will not survive a restart")
		return store.NewMemory(operator), nil
	case "mongodb", "mongodb+srv":
		var s *docstore.Store
		err := retry.Do(ctx, cfg, func(ctx context.Context) error {
			var err error
			s, err = docstore.New(ctx, dsn, operator, logger)
			if err != nil {
				logger.Warn().Err(err).Msg("mongo connect failed")
				return fmt.Errorf("%w: %v", perrors.ErrUnavailable, err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", scheme)
	}
}

func sqlitePath(u *url.URL, raw string) (string, error) {
	if u.Scheme == "" {
		return filepath.Clean(raw), nil
	}
	path := u.Path
	if u.Host != "" {
		// sqlite://relative/dir/hub.db
		path = u.Host + path
	}
	if u.Opaque != "" {
		path = u.Opaque
	}
	if path == "" {
		return "", fmt.Errorf("store DSN %q has no path", raw)
	}
	if path == ":memory:" {
		return path, nil
	}
	return filepath.Clean(path), nil
}
