package keyset

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
)

// DefaultHTTPTimeout bounds a single jwks_uri fetch
const DefaultHTTPTimeout = 10 * time.Second

// NewHTTPClient returns a pooled client with a request timeout, suitable for
// fetching remote key sets.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout
	return client
}

// RemoteKeySet verifies signatures against a JWK set published at a URL.
// Keys are fetched lazily and refreshed when a token names an unknown kid.
// A fetch failure is a verification failure; it is never retried.
type RemoteKeySet struct {
	url string
	ks  *oidc.RemoteKeySet
}

// NewRemoteKeySet creates a key set for jwksURL using client for fetches
func NewRemoteKeySet(jwksURL string, client *http.Client) *RemoteKeySet {
	if client == nil {
		client = NewHTTPClient(0)
	}
	ctx := oidc.ClientContext(context.Background(), client)
	return &RemoteKeySet{url: jwksURL, ks: oidc.NewRemoteKeySet(ctx, jwksURL)}
}

// URL returns the jwks_uri
func (r *RemoteKeySet) URL() string {
	return r.url
}

// VerifySignature verifies token; ctx bounds the wait for a key fetch.
func (r *RemoteKeySet) VerifySignature(ctx context.Context, token string) ([]byte, error) {
	return r.ks.VerifySignature(ctx, token)
}

// DefaultRemoteCacheSize is the number of jwks_uri key sets kept by RemoteCache
const DefaultRemoteCacheSize = 256

// RemoteCache shares RemoteKeySets by URL.
type RemoteCache struct {
	mu      sync.Mutex
	client  *http.Client
	maxSize int
	sets    map[string]*RemoteKeySet
	order   []string
}

// NewRemoteCache creates a cache; maxSize <= 0 selects DefaultRemoteCacheSize.
func NewRemoteCache(client *http.Client, maxSize int) *RemoteCache {
	if maxSize <= 0 {
		maxSize = DefaultRemoteCacheSize
	}
	return &RemoteCache{
		client:  client,
		maxSize: maxSize,
		sets:    make(map[string]*RemoteKeySet),
	}
}

// Get returns the key set for jwksURL, creating it on first use.
// The oldest entry is evicted once the cache is full.
func (c *RemoteCache) Get(jwksURL string) *RemoteKeySet {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ks, ok := c.sets[jwksURL]; ok {
		return ks
	}
	if len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.sets, oldest)
	}
	ks := NewRemoteKeySet(jwksURL, c.client)
	c.sets[jwksURL] = ks
	c.order = append(c.order, jwksURL)
	return ks
}

// Len returns the number of cached key sets
func (c *RemoteCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sets)
}
