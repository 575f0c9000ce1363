package speech

import (
	"strings"
	"sync"
)

// Voice is one synthetic voice offered by the platform
type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	URI     string `json:"voiceURI,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// VoiceCatalog holds the latest voice list reported by the platform.
// The list is replaced wholesale on every refresh and never edited in place.
type VoiceCatalog struct {
	mu     sync.RWMutex
	voices []Voice
}

// NewVoiceCatalog returns an empty catalog
func NewVoiceCatalog() *VoiceCatalog {
	return &VoiceCatalog{}
}

// Update replaces the catalog with a fresh platform snapshot
func (c *VoiceCatalog) Update(voices []Voice) {
	snapshot := make([]Voice, len(voices))
	copy(snapshot, voices)

	c.mu.Lock()
	c.voices = snapshot
	c.mu.Unlock()
}

// Voices returns the current snapshot
func (c *VoiceCatalog) Voices() []Voice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Voice, len(c.voices))
	copy(out, c.voices)
	return out
}

// Match returns the first voice whose locale tag equals locale exactly
func (c *VoiceCatalog) Match(locale string) (Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.voices {
		if v.Lang == locale {
			return v, true
		}
	}
	return Voice{}, false
}

// NormalizeTag rewrites platform tags like "en_us" or "EN-us" into "en-US"
func NormalizeTag(tag string) string {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	parts := strings.SplitN(tag, "-", 2)
	if len(parts) == 1 {
		return strings.ToLower(parts[0])
	}
	return strings.ToLower(parts[0]) + "-" + strings.ToUpper(parts[1])
}
