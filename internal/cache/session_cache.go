package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"lototet/internal/model"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
)

// SessionCache persists the player's rejoin session. Load returns nil, nil
// when nothing fresh is stored.
type SessionCache interface {
	Save(ctx context.Context, session *model.Session) error
	Load(ctx context.Context) (*model.Session, error)
	Clear(ctx context.Context) error
}

var validate = validator.New()

// fresh drops stored sessions that are stale or malformed.
func fresh(s *model.Session, now time.Time) bool {
	if s == nil || validate.Struct(s) != nil {
		return false
	}
	return !s.Expired(now)
}

type sessionCache struct {
	client *redis.Client
	key    string
}

// NewSessionCache creates a redis-backed session store. namespace separates
// devices sharing one redis.
func NewSessionCache(client *redis.Client, namespace string) SessionCache {
	key := model.SessionKey
	if namespace != "" {
		key += ":" + namespace
	}
	return &sessionCache{client: client, key: key}
}

func (c *sessionCache) Save(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key, data, model.SessionTTL).Err()
}

func (c *sessionCache) Load(ctx context.Context) (*model.Session, error) {
	data, err := c.client.Get(ctx, c.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session model.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, nil
	}
	if !fresh(&session, time.Now()) {
		return nil, nil
	}
	return &session, nil
}

func (c *sessionCache) Clear(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

type fileSessionCache struct {
	path string
	now  func() time.Time
}

// NewFileSessionCache stores the session as JSON in dir.
func NewFileSessionCache(dir string) SessionCache {
	return &fileSessionCache{
		path: filepath.Join(dir, model.SessionKey+".json"),
		now:  time.Now,
	}
}

func (c *fileSessionCache) Save(_ context.Context, session *model.Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return os.Rename(tmp, c.path)
}

func (c *fileSessionCache) Load(_ context.Context) (*model.Session, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil || !fresh(&session, c.now()) {
		_ = os.Remove(c.path)
		return nil, nil
	}
	return &session, nil
}

func (c *fileSessionCache) Clear(_ context.Context) error {
	err := os.Remove(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
