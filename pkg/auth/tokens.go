package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

const tokenPrefix = "jmcp_"

// Token is one stored API token.
type Token struct {
	Token       string `json:"token"`
	Description string `json:"description,omitempty"`
	Created     string `json:"created,omitempty"`
}

// Store is a file-backed token store mapping token ids to tokens.
type Store struct {
	path string

	m      sync.RWMutex
	tokens map[string]*Token
}

func NewStore(path string) *Store {
	return &Store{
		path:   path,
		tokens: make(map[string]*Token),
	}
}

// Load reads the token file. A missing file yields an empty store.
func (s *Store) Load() error {
	s.m.Lock()
	defer s.m.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.tokens = make(map[string]*Token)
			return nil
		}
		return err
	}
	tokens := make(map[string]*Token)
	if err := json.Unmarshal(b, &tokens); err != nil {
		return fmt.Errorf("token file %s is not valid JSON: %w", s.path, err)
	}
	s.tokens = tokens
	return nil
}

func (s *Store) save() error {
	b, err := json.MarshalIndent(s.tokens, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, b, 0o600)
}

// Generate creates and persists a new token under id.
func (s *Store) Generate(id, description string) (*Token, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.tokens[id]; ok {
		return nil, fmt.Errorf("token id %q already exists", id)
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	if description == "" {
		description = "Token for " + id
	}
	t := &Token{
		Token:       tokenPrefix + base64.RawURLEncoding.EncodeToString(raw),
		Description: description,
		Created:     time.Now().UTC().Format(time.RFC3339),
	}
	s.tokens[id] = t
	if err := s.save(); err != nil {
		delete(s.tokens, id)
		return nil, err
	}
	return t, nil
}

// Revoke deletes the token stored under id.
func (s *Store) Revoke(id string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.tokens[id]; !ok {
		return fmt.Errorf("token id %q not found", id)
	}
	delete(s.tokens, id)
	return s.save()
}

func (s *Store) Get(id string) (*Token, error) {
	s.m.RLock()
	defer s.m.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("token id %q not found", id)
	}
	return t, nil
}

// IDs returns the stored token ids, sorted.
func (s *Store) IDs() []string {
	s.m.RLock()
	defer s.m.RUnlock()
	ids := make([]string, 0, len(s.tokens))
	for id := range s.tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) Len() int {
	s.m.RLock()
	defer s.m.RUnlock()
	return len(s.tokens)
}

// Validate reports whether the given opaque token matches any stored token.
func (s *Store) Validate(token string) bool {
	s.m.RLock()
	defer s.m.RUnlock()
	for _, t := range s.tokens {
		if t.Token == token {
			return true
		}
	}
	return false
}
