// Package intel keeps the allow and deny lists consulted before scoring.
package intel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/raysh454/ztguard/internal/apperr"
	"github.com/raysh454/ztguard/internal/logging"
)

type List string

const (
	Blacklist List = "blacklist"
	Whitelist List = "whitelist"
)

func (l List) IsValid() bool { return l == Blacklist || l == Whitelist }

// Entry is one persisted list membership.
type Entry struct {
	Domain    string    `json:"domain"`
	List      List      `json:"list"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	IntelEntries(ctx context.Context) ([]Entry, error)
	// PutIntelEntry inserts or moves a domain to e.List.
	PutIntelEntry(ctx context.Context, e Entry) error
	// PutIntelEntries upserts a batch in one transaction.
	PutIntelEntries(ctx context.Context, es []Entry) error
	DeleteIntelEntry(ctx context.Context, list List, domain string) error
}

type Config struct {
	Blacklist []string `yaml:"blacklist"`
	Whitelist []string `yaml:"whitelist"`
	// FeedURL, when set, is a newline separated domain list merged into the
	// blacklist every FeedInterval.
	FeedURL      string        `yaml:"feed_url"`
	FeedInterval time.Duration `yaml:"feed_interval"`
}

func DefaultConfig() Config {
	return Config{FeedInterval: 24 * time.Hour}
}

// Match is the result of Check. List is empty when the domain is unlisted;
// Matched is the listed (possibly parent) domain.
type Match struct {
	Domain  string `json:"domain"`
	List    List   `json:"list,omitempty"`
	Matched string `json:"matched,omitempty"`
}

type Stats struct {
	BlacklistCount int        `json:"blacklist_count"`
	WhitelistCount int        `json:"whitelist_count"`
	LastUpdate     *time.Time `json:"last_update"`
}

type Lists struct {
	Blacklist []string `json:"blacklist"`
	Whitelist []string `json:"whitelist"`
}

type Service struct {
	cfg    Config
	store  Store
	clock  clockwork.Clock
	client *http.Client
	logger logging.Logger

	mu         sync.RWMutex
	black      map[string]struct{}
	white      map[string]struct{}
	lastUpdate *time.Time
}

func NewService(cfg Config, store Store, clock clockwork.Clock, logger logging.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Service{
		cfg:    cfg,
		store:  store,
		clock:  clock,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With(logging.Field{Key: "component", Value: "intel"}),
		black:  map[string]struct{}{},
		white:  map[string]struct{}{},
	}
	for _, d := range cfg.Blacklist {
		if d = Normalize(d); d != "" {
			s.black[d] = struct{}{}
		}
	}
	for _, d := range cfg.Whitelist {
		if d = Normalize(d); d != "" {
			s.white[d] = struct{}{}
		}
	}
	return s
}

// Load merges the persisted entries into the configured lists.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	entries, err := s.store.IntelEntries(ctx)
	if err != nil {
		return fmt.Errorf("load intel entries: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.setLocked(e.List, e.Domain)
	}
	s.logger.Info("intel lists loaded",
		logging.Field{Key: "blacklist", Value: len(s.black)},
		logging.Field{Key: "whitelist", Value: len(s.white)})
	return nil
}

// Normalize lowercases d and strips a scheme, path, port and trailing dot.
func Normalize(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil {
			d = u.Hostname()
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if strings.Count(d, ":") == 1 {
		d, _, _ = strings.Cut(d, ":")
	}
	return strings.TrimSuffix(d, ".")
}

// Check looks domain and its parent domains up, whitelist first.
func (s *Service) Check(domain string) Match {
	d := Normalize(domain)
	m := Match{Domain: d}
	if d == "" {
		return m
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := lookup(s.white, d); ok {
		m.List, m.Matched = Whitelist, p
		return m
	}
	if p, ok := lookup(s.black, d); ok {
		m.List, m.Matched = Blacklist, p
	}
	return m
}

func lookup(set map[string]struct{}, d string) (string, bool) {
	for {
		if _, ok := set[d]; ok {
			return d, true
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			return "", false
		}
		d = d[i+1:]
		// never match a bare TLD
		if !strings.Contains(d, ".") {
			return "", false
		}
	}
}

func (s *Service) AddBlacklist(ctx context.Context, domain string) error {
	return s.add(ctx, Blacklist, domain)
}

func (s *Service) AddWhitelist(ctx context.Context, domain string) error {
	return s.add(ctx, Whitelist, domain)
}

func (s *Service) RemoveBlacklist(ctx context.Context, domain string) error {
	return s.remove(ctx, Blacklist, domain)
}

func (s *Service) RemoveWhitelist(ctx context.Context, domain string) error {
	return s.remove(ctx, Whitelist, domain)
}

func (s *Service) add(ctx context.Context, list List, domain string) error {
	d := Normalize(domain)
	if d == "" {
		return apperr.New(apperr.Validation, "intel.add", "domain is required")
	}
	if s.store != nil {
		e := Entry{Domain: d, List: list, Source: "manual", CreatedAt: s.clock.Now().UTC()}
		if err := s.store.PutIntelEntry(ctx, e); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.setLocked(list, d)
	s.mu.Unlock()
	s.logger.Info("domain listed",
		logging.Field{Key: "list", Value: string(list)},
		logging.Field{Key: "domain", Value: d})
	return nil
}

// setLocked puts d on list and off the other one.
func (s *Service) setLocked(list List, d string) {
	switch list {
	case Blacklist:
		delete(s.white, d)
		s.black[d] = struct{}{}
	case Whitelist:
		delete(s.black, d)
		s.white[d] = struct{}{}
	}
}

func (s *Service) remove(ctx context.Context, list List, domain string) error {
	const op = "intel.remove"
	d := Normalize(domain)
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.black
	if list == Whitelist {
		set = s.white
	}
	if _, ok := set[d]; !ok {
		return apperr.New(apperr.NotFound, op, "%s is not on the %s", d, list)
	}
	if s.store != nil {
		if err := s.store.DeleteIntelEntry(ctx, list, d); err != nil && apperr.KindOf(err) != apperr.NotFound {
			return err
		}
	}
	delete(set, d)
	return nil
}

func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{BlacklistCount: len(s.black), WhitelistCount: len(s.white), LastUpdate: s.lastUpdate}
}

// Lists returns both lists sorted.
func (s *Service) Lists() Lists {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Lists{Blacklist: sortedKeys(s.black), Whitelist: sortedKeys(s.white)}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Refresh downloads the feed and merges it into the blacklist. It returns
// the number of domains read from the feed.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	if s.cfg.FeedURL == "" {
		return 0, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.FeedURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create feed request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch feed: status %d", resp.StatusCode)
	}
	domains, err := parseFeed(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read feed: %w", err)
	}

	now := s.clock.Now().UTC()
	if s.store != nil {
		entries := make([]Entry, 0, len(domains))
		for _, d := range domains {
			entries = append(entries, Entry{Domain: d, List: Blacklist, Source: "feed", CreatedAt: now})
		}
		if err := s.store.PutIntelEntries(ctx, entries); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	for _, d := range domains {
		s.setLocked(Blacklist, d)
	}
	s.lastUpdate = &now
	s.mu.Unlock()

	s.logger.Info("intel feed refreshed", logging.Field{Key: "domains", Value: len(domains)})
	return len(domains), nil
}

func parseFeed(r io.Reader) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d := Normalize(line)
		if _, dup := seen[d]; dup || d == "" {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out, sc.Err()
}

// Run refreshes the feed every FeedInterval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if s.cfg.FeedURL == "" || s.cfg.FeedInterval <= 0 {
		return
	}
	refresh := func() {
		if _, err := s.Refresh(ctx); err != nil {
			s.logger.Warn("intel feed refresh failed", logging.Field{Key: "error", Value: err})
		}
	}
	refresh()
	ticker := s.clock.NewTicker(s.cfg.FeedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			refresh()
		}
	}
}
