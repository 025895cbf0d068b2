// internal/pkg/redis/client.go
package redis

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Client wraps a go-redis universal client and a registry of named Lua scripts.
// A single address yields a plain client; several yield a cluster client.
type Client struct {
	rdb     goredis.UniversalClient
	mu      sync.RWMutex
	scripts map[string]*goredis.Script
}

// NewClient dials addrs ("host:port[,host:port...]") and pings once.
func NewClient(ctx context.Context, addrs string) (*Client, error) {
	rdb := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs: strings.Split(addrs, ","),
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addrs)
	}
	return Wrap(rdb), nil
}

// Wrap adopts an existing client, mostly for tests against miniredis.
func Wrap(rdb goredis.UniversalClient) *Client {
	return &Client{rdb: rdb, scripts: make(map[string]*goredis.Script)}
}

func (c *Client) GetClient() goredis.UniversalClient { return c.rdb }

// LoadScriptFromContent registers a script under name. Loading the same name twice is a no-op.
func (c *Client) LoadScriptFromContent(name, src string) error {
	if strings.TrimSpace(src) == "" {
		return errors.Errorf("script %s is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.scripts[name]; !ok {
		c.scripts[name] = goredis.NewScript(src)
	}
	return nil
}

// RunScript runs a registered script with EVALSHA, falling back to EVAL when the server lacks it.
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...any) (any, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Errorf("script %s not loaded", name)
	}
	res, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, errors.Wrapf(err, "run script %s", name)
	}
	return res, nil
}

func (c *Client) Close() error { return c.rdb.Close() }
