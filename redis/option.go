package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultName 未指定名称时使用的客户端名称
const DefaultName = "default"

// Options Redis 客户端配置选项
type Options struct {
	Name         string        // 客户端名称
	Addr         string        // Redis 服务器地址 (host:port)
	Password     string        // 密码（可选）
	DB           int           // 数据库编号
	DialTimeout  time.Duration // 连接超时时间
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MaxRetries   int
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name string) *Options {
	if name == "" {
		name = DefaultName
	}
	return &Options{
		Name:         name,
		Addr:         "localhost:6379",
		DialTimeout:  2 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
		MaxRetries:   1,
	}
}

// Validate 验证配置
func (o *Options) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("redis client name is required")
	}
	if o.Addr == "" {
		return fmt.Errorf("redis '%s': address is required", o.Name)
	}
	if o.DB < 0 {
		return fmt.Errorf("redis '%s': database number must be non-negative", o.Name)
	}
	if o.DialTimeout <= 0 {
		return fmt.Errorf("redis '%s': dial timeout must be positive", o.Name)
	}
	return nil
}

// Open 创建客户端并 Ping 检查连接
func Open(ctx context.Context, opts *Options) (*redis.Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
		MaxRetries:   opts.MaxRetries,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis '%s': failed to connect to %s: %w", opts.Name, opts.Addr, err)
	}
	return client, nil
}
