package blocklist

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"netwarden/pkg/config"
	"netwarden/pkg/logging"
	"netwarden/pkg/storage"
)

// Store is the merged view of all downloaded blocklist sources. Reads go
// through an in-memory index; each sync rewrites one source's persisted
// set atomically (delete-then-insert).
type Store struct {
	cfg        *config.BlocklistConfig
	downloader *Downloader
	store      storage.Store
	logger     *logging.Logger

	mu         sync.RWMutex
	domains    map[string]struct{}
	categories map[string]string

	updateTicker *time.Ticker
	stopChan     chan struct{}
	wg           sync.WaitGroup
	started      atomic.Bool
}

// NewStore creates the blocklist store. The HTTP client is shared with the
// rest of the application.
func NewStore(cfg *config.BlocklistConfig, store storage.Store, logger *logging.Logger, httpClient *http.Client) *Store {
	return &Store{
		cfg:        cfg,
		downloader: NewDownloader(logger, httpClient),
		store:      store,
		logger:     logger,
		domains:    make(map[string]struct{}),
		categories: make(map[string]string),
		stopChan:   make(chan struct{}),
	}
}

// LoadFromStorage rebuilds the memory index from persisted blocked domains
func (s *Store) LoadFromStorage(ctx context.Context) error {
	persisted, err := s.store.LoadBlockedDomains(ctx)
	if err != nil {
		return err
	}

	domains := make(map[string]struct{}, len(persisted))
	categories := make(map[string]string, len(persisted))
	for _, d := range persisted {
		domains[d.Domain] = struct{}{}
		categories[d.Domain] = d.Category
	}

	s.mu.Lock()
	s.domains = domains
	s.categories = categories
	s.mu.Unlock()

	s.logger.Info("Blocklist index loaded from storage", "domains", len(domains))
	return nil
}

// Start runs an initial update and begins the periodic refresh loop
func (s *Store) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("Blocklist store already started")
		return nil
	}
	s.stopChan = make(chan struct{})

	s.logger.Info("Starting blocklist store",
		"sources", len(s.cfg.Sources),
		"interval", s.cfg.UpdateInterval)

	if err := s.Update(ctx); err != nil {
		s.logger.Error("Initial blocklist update failed", "error", err)
		// Keep whatever the storage load gave us and retry on the next tick
	}

	if s.cfg.UpdateInterval > 0 {
		s.updateTicker = time.NewTicker(s.cfg.UpdateInterval)
		s.wg.Add(1)
		go s.updateLoop(ctx)
	}
	return nil
}

// Stop halts the refresh loop
func (s *Store) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	close(s.stopChan)
	if s.updateTicker != nil {
		s.updateTicker.Stop()
	}
	s.wg.Wait()
	s.logger.Info("Blocklist store stopped")
}

func (s *Store) updateLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.updateTicker.C:
			if err := s.Update(ctx); err != nil {
				s.logger.Error("Scheduled blocklist update failed", "error", err)
			}
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Update downloads every configured source, persists each source's set,
// and rebuilds the merged memory index. One failing source does not abort
// the others.
func (s *Store) Update(ctx context.Context) error {
	if len(s.cfg.Sources) == 0 {
		s.logger.Debug("No blocklist sources configured")
		return nil
	}

	existing := make(map[string]*storage.Blocklist)
	if lists, err := s.store.ListBlocklists(ctx); err == nil {
		for _, l := range lists {
			existing[l.Name] = l
		}
	}

	var failed int
	for _, src := range s.cfg.Sources {
		etag := ""
		if prev, ok := existing[src.Name]; ok {
			etag = prev.ETag
		}

		domains, newETag, err := s.downloader.Download(ctx, src.URL, src.Format, etag)
		if errors.Is(err, ErrNotModified) {
			s.logger.Debug("Blocklist unchanged", "source", src.Name)
			continue
		}
		if err != nil {
			failed++
			s.logger.Error("Failed to update blocklist source",
				"source", src.Name, "url", src.URL, "error", err)
			continue
		}

		list := &storage.Blocklist{
			Name:        src.Name,
			URL:         src.URL,
			Format:      src.Format,
			Category:    src.Category,
			DomainCount: int64(len(domains)),
			IsEnabled:   true,
			LastUpdated: time.Now().UTC(),
			ETag:        newETag,
		}
		id, err := s.store.UpsertBlocklist(ctx, list)
		if err != nil {
			failed++
			s.logger.Error("Failed to persist blocklist source", "source", src.Name, "error", err)
			continue
		}

		rows := make([]storage.BlockedDomain, 0, len(domains))
		for _, d := range domains {
			rows = append(rows, storage.BlockedDomain{
				Domain:      d,
				BlocklistID: id,
				Category:    Categorize(d, src.Name, src.Category),
			})
		}
		if err := s.store.ReplaceBlockedDomains(ctx, id, rows); err != nil {
			failed++
			s.logger.Error("Failed to persist blocked domains", "source", src.Name, "error", err)
			continue
		}
	}

	if err := s.LoadFromStorage(ctx); err != nil {
		return err
	}

	if failed > 0 {
		s.logger.Warn("Blocklist update finished with failures",
			"failed", failed, "sources", len(s.cfg.Sources))
	}
	return nil
}

// IsBlocked reports whether fqdn or any parent domain is on a blocklist.
// The second return is the matched domain's category.
func (s *Store) IsBlocked(fqdn string) (bool, string) {
	name := Normalize(fqdn)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for name != "" {
		if _, ok := s.domains[name]; ok {
			return true, s.categories[name]
		}
		idx := strings.IndexByte(name, '.')
		if idx < 0 {
			break
		}
		name = name[idx+1:]
	}
	return false, ""
}

// Size returns the number of domains in the merged index
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.domains)
}
