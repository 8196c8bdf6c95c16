// Package game defines the catalog of embeddable games and their
// validation limits. The catalog is the registry the session pipeline
// consults for per-game scoring ceilings; game physics live entirely in
// the embedded content and are not modeled here.
package game

import (
	"fmt"
	"sync"

	"game-session-server/internal/config"
)

// Info describes one known game and its limits. MaxScoreRate is the
// points-per-second ceiling used by the validator; different games have
// structurally different scoring speeds.
type Info struct {
	ID           string
	Name         string
	MaxScoreRate float64
}

// Catalog is a thread-safe registry of known games. Lookups for unknown
// game ids resolve to a conservative default entry rather than failing:
// an unknown game is playable but tightly rate-bounded.
type Catalog struct {
	mu          sync.RWMutex
	games       map[string]Info
	defaultRate float64
}

// NewCatalog creates a catalog with the given default score-rate ceiling
// for unknown games.
func NewCatalog(defaultRate float64) *Catalog {
	return &Catalog{
		games:       make(map[string]Info),
		defaultRate: defaultRate,
	}
}

// FromConfig builds a catalog from the games configuration section.
func FromConfig(cfg *config.GamesConfig) (*Catalog, error) {
	c := NewCatalog(cfg.DefaultMaxScoreRate)
	for id, g := range cfg.Catalog {
		rate := g.MaxScoreRate
		if rate <= 0 {
			rate = cfg.DefaultMaxScoreRate
		}
		if err := c.Register(Info{ID: id, Name: g.Name, MaxScoreRate: rate}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a game to the catalog. Re-registering an id replaces the
// previous entry.
func (c *Catalog) Register(info Info) error {
	if info.ID == "" {
		return fmt.Errorf("game id cannot be empty")
	}
	if info.MaxScoreRate <= 0 {
		return fmt.Errorf("game %q: max score rate must be positive", info.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.games[info.ID] = info
	return nil
}

// Get retrieves a game by id. Returns the entry and true if registered.
func (c *Catalog) Get(gameID string) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.games[gameID]
	return g, ok
}

// Limits resolves the validation limits for a game id, falling back to
// the conservative default entry for unrecognized games.
func (c *Catalog) Limits(gameID string) Info {
	if g, ok := c.Get(gameID); ok {
		return g
	}
	return Info{ID: gameID, Name: gameID, MaxScoreRate: c.defaultRate}
}

// IDs returns all registered game ids.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.games))
	for id := range c.games {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered games.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.games)
}
