package dispatch

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Affinity remembers which version the weighted selector gave a session,
// so the session stays on that version for the TTL while a canary runs
type Affinity struct {
	cache *cache.Cache
}

// NewAffinity creates an affinity cache whose entries expire after ttl
func NewAffinity(ttl time.Duration) *Affinity {
	cleanup := ttl
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Affinity{cache: cache.New(ttl, cleanup)}
}

// Lookup returns the version pinned to session. A pinned version that is no
// longer in allowed is dropped and reported as absent.
func (a *Affinity) Lookup(session string, allowed func(string) bool) (string, bool) {
	v, ok := a.cache.Get(session)
	if !ok {
		return "", false
	}
	version, _ := v.(string)
	if version == "" || !allowed(version) {
		a.cache.Delete(session)
		return "", false
	}
	return version, true
}

// Pin records version for session with a TTL
func (a *Affinity) Pin(session, version string, ttl time.Duration) {
	a.cache.Set(session, version, ttl)
}

// Len returns the number of pinned sessions, expired ones included until
// the next cleanup
func (a *Affinity) Len() int {
	return a.cache.ItemCount()
}

// Flush drops every pin
func (a *Affinity) Flush() {
	a.cache.Flush()
}
