package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/config"
)

// Client Redis 客户端封装
// 当前用于进度快照缓存与进度事件广播；后续可扩展分布式锁等场景
type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// NewClient 创建 Redis 连接并执行 Ping 健康检查
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.Info("Redis 连接成功", zap.String("addr", cfg.Addr))

	return &Client{rdb: rdb, logger: logger}, nil
}

// ── 进度快照缓存 ──

const (
	progressPrefix      = "scheduling:progress:"
	progressChannel     = "scheduling:progress"
	progressSnapshotTTL = 24 * time.Hour
)

// SetProgress 写入任务最新进度快照
// value 为序列化后的 ProgressUpdate；快照保留 24h，供多实例拉取与断线补偿
func (c *Client) SetProgress(ctx context.Context, jobID string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, progressPrefix+jobID, data, progressSnapshotTTL).Err()
}

// GetProgress 读取任务最新进度快照
// 快照不存在时返回 (nil, nil)
func (c *Client) GetProgress(ctx context.Context, jobID string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, progressPrefix+jobID).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DeleteProgress 删除任务进度快照（任务删除时调用）
func (c *Client) DeleteProgress(ctx context.Context, jobID string) error {
	return c.rdb.Del(ctx, progressPrefix+jobID).Err()
}

// ── 进度事件广播 ──

// PublishProgress 将进度事件发布到共享频道，供其他实例的推送通道转发
func (c *Client) PublishProgress(ctx context.Context, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, progressChannel, data).Err()
}

// SubscribeProgress 订阅进度事件频道
func (c *Client) SubscribeProgress(ctx context.Context) *goredis.PubSub {
	return c.rdb.Subscribe(ctx, progressChannel)
}

// ── 速率限制 ──

// CheckRateLimit 固定窗口计数限流
// 返回 true 表示放行；首次计数时设置窗口过期
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := c.rdb.Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
