package bot

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/speymell/crmbot/internal/model"
)

// ErrUnknownBot is returned when a webhook credential matches no active
// bot configuration.
var ErrUnknownBot = errors.New("bot: unknown bot token")

// TokenHash returns the one-way hash under which bot credentials are stored
// and looked up. The raw token never appears in a query predicate.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Registry maps raw bot credentials to tenant ids and caches one API client
// per credential. Client handles live for the process lifetime; the expected
// tenant cardinality is small enough that no eviction is needed.
type Registry struct {
	baseURL string

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates a registry whose clients talk to the given API base URL.
func NewRegistry(apiBaseURL string) *Registry {
	return &Registry{
		baseURL: apiBaseURL,
		clients: make(map[string]*Client),
	}
}

// BusinessIDForToken resolves a raw webhook credential to the owning
// business. Only active configurations resolve; anything else is
// ErrUnknownBot.
func (r *Registry) BusinessIDForToken(db *gorm.DB, token string) (uint, error) {
	var cfg model.BotConfig
	err := db.Where("bot_token_hash = ? AND is_active = ?", TokenHash(token), true).First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUnknownBot
		}
		return 0, err
	}
	return cfg.BusinessID, nil
}

// Client returns the cached API client for a credential, creating it on
// first use. The credential, not the tenant, keys the cache: one process may
// proxy many tenants' bots.
func (r *Registry) Client(token string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[token]; ok {
		return c
	}
	c := NewClient(r.baseURL, token)
	r.clients[token] = c
	return c
}
