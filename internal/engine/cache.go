package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CacheEntry is one cached segment translation.
type CacheEntry struct {
	Hash        string    `json:"hash"`
	Original    string    `json:"original"`
	Translation string    `json:"translation"`
	CreatedAt   time.Time `json:"created_at"`
}

// CacheFile is the on-disk layout of the cache.
type CacheFile struct {
	Version string       `json:"version"`
	Entries []CacheEntry `json:"entries"`
}

const cacheFileVersion = "1.0"

// CacheKey scopes a cached translation to a language pair and service.
type CacheKey struct {
	LangIn  string
	LangOut string
	Service string
	Text    string
}

// TranslationCache stores segment translations keyed by a sha256 of CacheKey.
// It is safe for concurrent use. An empty path keeps it memory-only.
type TranslationCache struct {
	cachePath string
	cache     map[string]CacheEntry
	mu        sync.RWMutex
	saveMu    sync.Mutex
}

func NewTranslationCache(cachePath string) *TranslationCache {
	return &TranslationCache{
		cachePath: cachePath,
		cache:     make(map[string]CacheEntry),
	}
}

// ComputeHash hashes every key field with separators so that
// ("a", "bc") and ("ab", "c") never collide.
func ComputeHash(key CacheKey) string {
	h := sha256.New()
	for _, part := range []string{key.LangIn, key.LangOut, key.Service, key.Text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *TranslationCache) Get(key CacheKey) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[ComputeHash(key)]
	if !ok {
		return "", false
	}
	return entry.Translation, true
}

func (c *TranslationCache) Set(key CacheKey, translation string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := ComputeHash(key)
	c.cache[hash] = CacheEntry{
		Hash:        hash,
		Original:    key.Text,
		Translation: translation,
		CreatedAt:   time.Now(),
	}
}

// Load replaces the in-memory entries with the cache file. A missing file
// leaves the cache empty.
func (c *TranslationCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachePath == "" {
		return nil
	}
	data, err := os.ReadFile(c.cachePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache file: %w", err)
	}

	var cacheFile CacheFile
	if err := json.Unmarshal(data, &cacheFile); err != nil {
		return fmt.Errorf("failed to parse cache file: %w", err)
	}
	c.cache = make(map[string]CacheEntry, len(cacheFile.Entries))
	for _, entry := range cacheFile.Entries {
		c.cache[entry.Hash] = entry
	}
	return nil
}

// Save writes all entries to the cache file.
func (c *TranslationCache) Save() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cachePath == "" {
		return nil
	}
	entries := make([]CacheEntry, 0, len(c.cache))
	for _, entry := range c.cache {
		entries = append(entries, entry)
	}
	data, err := json.MarshalIndent(CacheFile{Version: cacheFileVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	if dir := filepath.Dir(c.cachePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	tmp := c.cachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return os.Rename(tmp, c.cachePath)
}

func (c *TranslationCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *TranslationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]CacheEntry)
}
