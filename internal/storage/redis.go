package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/L1nMay/vulnorch/internal/config"
	"github.com/L1nMay/vulnorch/internal/model"
)

const (
	redisOpTimeout   = 5 * time.Second
	redisTxAttempts  = 25
	redisScanPrefix  = "scan:"
	redisOwnerPrefix = "owner:"
	redisAssetPrefix = "assets:"
)

// RedisStore keeps the same layout as Storage in Redis: one JSON blob per
// scan, a sibling results blob, a sorted set of scan ids per owner scored by
// start time, and one hash of assets per organization.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func scanKey(id string) string    { return redisScanPrefix + id }
func resultsKey(id string) string { return redisScanPrefix + id + ":results" }
func ownerKey(id string) string   { return redisOwnerPrefix + id + ":scans" }

// watch runs an optimistic transaction, retrying when a watched key changed.
func (r *RedisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < redisTxAttempts; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: too much contention on %v", keys)
}

func (r *RedisStore) CreateScan(rec *model.ScanRecord) error {
	if rec.Results != nil {
		return errors.New("new scan cannot carry results")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	key := scanKey(rec.ID)
	return r.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("scan %s: %w", rec.ID, ErrExists)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, ownerKey(rec.OwnerID), &redis.Z{
				Score:  float64(rec.StartTime.UnixNano()),
				Member: rec.ID,
			})
			return nil
		})
		return err
	}, key)
}

func (r *RedisStore) GetScan(id string) (*model.ScanRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, scanKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("scan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decodeScan(v)
}

func (r *RedisStore) UpdateScan(id string, fn func(rec *model.ScanRecord) error) (*model.ScanRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	key := scanKey(id)
	var out *model.ScanRecord
	err := r.watch(ctx, func(tx *redis.Tx) error {
		v, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("scan %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		cur, err := decodeScan(v)
		if err != nil {
			return err
		}

		data, results, rec, err := applyUpdate(cur, fn)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if results != nil {
				pipe.Set(ctx, resultsKey(id), results, 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}, key)
	return out, err
}

func (r *RedisStore) GetResults(id string) (*model.Report, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	v, err := r.client.Get(ctx, resultsKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("results %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rep model.Report
	if err := json.Unmarshal(v, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *RedisStore) ListScansByOwner(ownerID string) ([]model.ScanRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	ids, err := r.client.ZRevRange(ctx, ownerKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := []model.ScanRecord{}
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = scanKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeScan([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}

	sortNewestFirst(out)
	return out, nil
}

func (r *RedisStore) PutAsset(a model.Asset) error {
	if a.ID == "" || a.OrgID == "" {
		return errors.New("asset id and org id are required")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	return r.client.HSet(ctx, redisAssetPrefix+a.OrgID, a.ID, data).Err()
}

func (r *RedisStore) ListAssets(orgID string) ([]model.Asset, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	vals, err := r.client.HVals(ctx, redisAssetPrefix+orgID).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Asset, 0, len(vals))
	for _, v := range vals {
		var a model.Asset
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
