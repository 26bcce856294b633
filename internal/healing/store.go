// Package healing implements the Self-Healing Selector Engine: when a
// selector fails to match, it deterministically proposes and probes
// replacement selectors, persisting whichever one works so the next
// failure for that selector heals instantly from history.
package healing

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Zeeeepa/browserqa/internal/config"
	"github.com/Zeeeepa/browserqa/internal/types"
)

// Store persists per-domain healing history. Implementations are
// best-effort: a write failure is logged by the caller and otherwise
// ignored, per §4.4 "Writes are best-effort".
type Store interface {
	Load(ctx context.Context, domain string) (*types.DomainHealingHistory, error)
	Save(ctx context.Context, history *types.DomainHealingHistory) error
}

// fileStore persists one JSON file per domain under HistoryDir.
type fileStore struct {
	dir string
	mu  sync.Mutex
}

func newFileStore(dir string) *fileStore {
	return &fileStore{dir: dir}
}

func (s *fileStore) path(domain string) string {
	return filepath.Join(s.dir, sanitizeDomain(domain)+".json")
}

func sanitizeDomain(domain string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_", "..", "_")
	return replacer.Replace(domain)
}

func (s *fileStore) Load(_ context.Context, domain string) (*types.DomainHealingHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(domain))
	if os.IsNotExist(err) {
		return newHistory(domain), nil
	}
	if err != nil {
		return nil, err
	}

	var history types.DomainHealingHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return newHistory(domain), nil
	}
	if history.Entries == nil {
		history.Entries = make(map[string]*types.DomainHealingEntry)
	}
	return &history, nil
}

func (s *fileStore) Save(_ context.Context, history *types.DomainHealingHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(history.Domain) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(history.Domain))
}

// redisStore persists history as a single JSON blob per domain key,
// for deployments that want shared history across multiple runner
// instances instead of a per-instance file.
type redisStore struct {
	client *redis.Client
}

func newRedisStore(addr string, db int) *redisStore {
	return &redisStore{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

func (s *redisStore) key(domain string) string {
	return "browserqa:healing:" + sanitizeDomain(domain)
}

func (s *redisStore) Load(ctx context.Context, domain string) (*types.DomainHealingHistory, error) {
	val, err := s.client.Get(ctx, s.key(domain)).Bytes()
	if err == redis.Nil {
		return newHistory(domain), nil
	}
	if err != nil {
		return nil, err
	}
	var history types.DomainHealingHistory
	if err := json.Unmarshal(val, &history); err != nil {
		return newHistory(domain), nil
	}
	if history.Entries == nil {
		history.Entries = make(map[string]*types.DomainHealingEntry)
	}
	return &history, nil
}

func (s *redisStore) Save(ctx context.Context, history *types.DomainHealingHistory) error {
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(history.Domain), data, 0).Err()
}

func newHistory(domain string) *types.DomainHealingHistory {
	return &types.DomainHealingHistory{
		Domain:      domain,
		Entries:     make(map[string]*types.DomainHealingEntry),
		LastUpdated: time.Now(),
	}
}

// newStore picks the file- or Redis-backed implementation per cfg.
func newStore(cfg config.HealingConfig) (Store, error) {
	if cfg.RedisAddr != "" {
		return newRedisStore(cfg.RedisAddr, cfg.RedisDB), nil
	}
	if cfg.HistoryDir == "" {
		return nil, fmt.Errorf("healing: history_dir must be set when redis_addr is empty")
	}
	return newFileStore(cfg.HistoryDir), nil
}
