package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// JettonWallet is the known on-chain role of a token-holding wallet account.
type JettonWallet struct {
	Address string `msgpack:"address" json:"address"`
	Owner   string `msgpack:"owner" json:"owner"`
	Jetton  string `msgpack:"jetton" json:"jetton"`
}

// PoolAsset is one side of a liquidity pool.
type PoolAsset struct {
	IsTon   bool   `msgpack:"is_ton" json:"is_ton"`
	Address string `msgpack:"address,omitempty" json:"address,omitempty"`
}

// DedustPool is the known role of a DeDust liquidity pool account.
type DedustPool struct {
	Address string      `msgpack:"address" json:"address"`
	Assets  []PoolAsset `msgpack:"assets" json:"assets"`
}

// Repository resolves an account id to its known on-chain interface role.
// A nil result with a nil error means the account has no known role.
type Repository interface {
	GetJettonWallet(ctx context.Context, account string) (*JettonWallet, error)
	GetDedustPool(ctx context.Context, account string) (*DedustPool, error)
}

const interfaceTTL = 30 * time.Minute

// RedisRepository is a read-through interface repository backed by Redis with
// a bounded in-process LRU in front. The worker populates it once per batch;
// concurrent re-population is harmless since derived actions are idempotent.
type RedisRepository struct {
	wallets   *cache[JettonWallet]
	pools     *cache[DedustPool]
	walletLRU *lru[string, *JettonWallet]
	poolLRU   *lru[string, *DedustPool]
}

func NewRedisRepository(client *redis.Client, lruSize int) *RedisRepository {
	return &RedisRepository{
		wallets:   newCache[JettonWallet](client, "jw"),
		pools:     newCache[DedustPool](client, "pool"),
		walletLRU: newLRU[string, *JettonWallet](lruSize),
		poolLRU:   newLRU[string, *DedustPool](lruSize),
	}
}

func (r *RedisRepository) GetJettonWallet(ctx context.Context, account string) (*JettonWallet, error) {
	account = strings.ToUpper(account)
	if w, ok := r.walletLRU.Get(account); ok {
		return w, nil
	}
	w, err := r.wallets.Get(ctx, account)
	if errors.Is(err, ErrNotFound) {
		r.walletLRU.Set(account, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.walletLRU.Set(account, &w)
	return &w, nil
}

func (r *RedisRepository) GetDedustPool(ctx context.Context, account string) (*DedustPool, error) {
	account = strings.ToUpper(account)
	if p, ok := r.poolLRU.Get(account); ok {
		return p, nil
	}
	p, err := r.pools.Get(ctx, account)
	if errors.Is(err, ErrNotFound) {
		r.poolLRU.Set(account, nil)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.poolLRU.Set(account, &p)
	return &p, nil
}

// PutJettonWallets publishes a batch of resolved wallets for rule evaluation.
func (r *RedisRepository) PutJettonWallets(ctx context.Context, wallets map[string]JettonWallet) error {
	items := make(map[string]JettonWallet, len(wallets))
	for k, v := range wallets {
		items[strings.ToUpper(k)] = v
	}
	return r.wallets.MSet(ctx, items, interfaceTTL)
}

// EmulatedRepository resolves interfaces from the key-value snapshot attached
// to an on-demand classification request instead of the durable cache. Keys
// are "jetton_wallet_<ACCOUNT>" and "dedust_pool_<ACCOUNT>" with msgpack
// values.
type EmulatedRepository struct {
	snapshot map[string]string
}

func NewEmulatedRepository(snapshot map[string]string) *EmulatedRepository {
	return &EmulatedRepository{snapshot: snapshot}
}

func (r *EmulatedRepository) GetJettonWallet(_ context.Context, account string) (*JettonWallet, error) {
	raw, ok := r.snapshot["jetton_wallet_"+strings.ToUpper(account)]
	if !ok {
		return nil, nil
	}
	var w JettonWallet
	if err := msgpack.Unmarshal([]byte(raw), &w); err != nil {
		return nil, errors.Join(ErrDecodeFailed, err)
	}
	return &w, nil
}

func (r *EmulatedRepository) GetDedustPool(_ context.Context, account string) (*DedustPool, error) {
	raw, ok := r.snapshot["dedust_pool_"+strings.ToUpper(account)]
	if !ok {
		return nil, nil
	}
	var p DedustPool
	if err := msgpack.Unmarshal([]byte(raw), &p); err != nil {
		return nil, errors.Join(ErrDecodeFailed, err)
	}
	return &p, nil
}

// PoolRegistry is an immutable snapshot of known liquidity pools constructed
// once at startup and handed to each worker.
type PoolRegistry struct {
	pools map[string]DedustPool
}

// NewPoolRegistry builds a registry from an in-memory pool list.
func NewPoolRegistry(pools []DedustPool) *PoolRegistry {
	reg := &PoolRegistry{pools: map[string]DedustPool{}}
	for _, p := range pools {
		reg.pools[strings.ToUpper(p.Address)] = p
	}
	return reg
}

// LoadPoolRegistry reads a JSON array of pools. An empty path yields an empty
// registry.
func LoadPoolRegistry(path string) (*PoolRegistry, error) {
	reg := &PoolRegistry{pools: map[string]DedustPool{}}
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pools []DedustPool
	if err := json.Unmarshal(data, &pools); err != nil {
		return nil, err
	}
	for _, p := range pools {
		reg.pools[strings.ToUpper(p.Address)] = p
	}
	return reg, nil
}

// Lookup returns the registered pool for an account, or nil.
func (r *PoolRegistry) Lookup(account string) *DedustPool {
	if r == nil {
		return nil
	}
	if p, ok := r.pools[strings.ToUpper(account)]; ok {
		return &p
	}
	return nil
}

// Len reports the number of registered pools.
func (r *PoolRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.pools)
}
