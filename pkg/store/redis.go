package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
	"github.com/gomcpgo/replicate_image_edit/pkg/imageref"
)

const redisKeyPrefix = "edit:image:"

// RedisConfig holds the connection settings for RedisStore
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore keeps images in Redis; expiry is enforced by the server.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

type redisRecord struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

func NewRedisStore(cfg RedisConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, ttl: cfg.TTL, logger: logger}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Put(ctx context.Context, img *imageref.Image) (Handle, error) {
	if img == nil {
		return "", editerr.Validation("store_put", "image is required")
	}
	data, err := json.Marshal(redisRecord{MIMEType: img.MIMEType, Data: img.Data})
	if err != nil {
		return "", editerr.Fatal("store_put", "failed to encode image: %v", err)
	}
	h := NewHandle()
	if err := s.client.Set(ctx, redisKeyPrefix+string(h), data, s.ttl).Err(); err != nil {
		return "", &editerr.Error{Kind: editerr.KindTransient, Op: "store_put", Message: "redis set failed", Err: err}
	}
	return h, nil
}

func (s *RedisStore) Get(ctx context.Context, h Handle) (*imageref.Image, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+string(h)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, editerr.NotFound("store_get", "no image for handle %q", h)
		}
		return nil, &editerr.Error{Kind: editerr.KindTransient, Op: "store_get", Message: "redis get failed", Err: err}
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Error("failed to unmarshal stored image", zap.String("handle", string(h)), zap.Error(err))
		return nil, editerr.Fatal("store_get", "corrupt entry for handle %q", h)
	}
	return &imageref.Image{Data: rec.Data, MIMEType: rec.MIMEType, Source: imageref.SourceMemory}, nil
}

func (s *RedisStore) Delete(ctx context.Context, h Handle) error {
	if err := s.client.Del(ctx, redisKeyPrefix+string(h)).Err(); err != nil {
		return &editerr.Error{Kind: editerr.KindTransient, Op: "store_delete", Message: "redis del failed", Err: err}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
