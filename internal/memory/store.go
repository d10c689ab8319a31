// Package memory persists user facts across conversations and session
// cookies across agent restarts, backed by Redis or an in-process map.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// FactStore holds long-lived user facts (preferences, profile details) keyed
// by user and fact name.
type FactStore interface {
	Save(ctx context.Context, userID, key, value string) error
	Get(ctx context.Context, userID, key string) (string, error)
	GetAll(ctx context.Context, userID string) (map[string]string, error)
}

// CookieStore persists the venue session cookies captured over the bridge
// side channel, and renders them back as an injection script so a restored
// session can skip the SSO flow.
type CookieStore interface {
	SaveCookies(ctx context.Context, cookies string) error
	LoadInjectionScript(ctx context.Context) (string, error)
}

// cookie strings never legitimately contain quotes; strip anything that
// would break out of the generated JS literal.
var cookieSanitizer = strings.NewReplacer(`\`, ``, `'`, ``, `"`, ``, "\n", "", "\r", "")

// InjectionScript renders raw "k=v; k2=v2" cookies as document.cookie
// assignments scoped to domain.
func InjectionScript(cookies, domain string) string {
	var sb strings.Builder
	sb.WriteString("(function() {\n")
	for _, pair := range strings.Split(cookies, ";") {
		pair = strings.TrimSpace(cookieSanitizer.Replace(pair))
		if pair == "" || !strings.Contains(pair, "=") {
			continue
		}
		fmt.Fprintf(&sb, "document.cookie = '%s; domain=%s; path=/; expires=Tue, 19 Jan 2038 03:14:07 GMT';\n", pair, domain)
	}
	sb.WriteString("})(); true;")
	return sb.String()
}

// InMemoryStore is the zero-dependency backend for tests and single-shot
// runs. Implements both FactStore and CookieStore.
type InMemoryStore struct {
	mu      sync.RWMutex
	facts   map[string]map[string]string
	cookies string
	domain  string
}

func NewInMemoryStore(cookieDomain string) *InMemoryStore {
	return &InMemoryStore{
		facts:  make(map[string]map[string]string),
		domain: cookieDomain,
	}
}

func (s *InMemoryStore) Save(_ context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.facts[userID] == nil {
		s.facts[userID] = make(map[string]string)
	}
	s.facts[userID][key] = value
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, userID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.facts[userID][key], nil
}

func (s *InMemoryStore) GetAll(_ context.Context, userID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.facts[userID]))
	for k, v := range s.facts[userID] {
		out[k] = v
	}
	return out, nil
}

func (s *InMemoryStore) SaveCookies(_ context.Context, cookies string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies = cookies
	return nil
}

func (s *InMemoryStore) LoadInjectionScript(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cookies == "" {
		return "", nil
	}
	return InjectionScript(s.cookies, s.domain), nil
}
