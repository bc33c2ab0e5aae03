package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// DefaultName 未指定名称时使用的客户端名称
const DefaultName = "default"

// Options MongoDB 客户端配置选项
type Options struct {
	Name        string
	URI         string
	Username    string
	Password    string
	MaxPoolSize uint64
	MinPoolSize uint64
	Timeout     time.Duration
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name string) *Options {
	if name == "" {
		name = DefaultName
	}
	return &Options{
		Name:        name,
		URI:         "mongodb://localhost:27017",
		MaxPoolSize: 10,
		Timeout:     3 * time.Second,
	}
}

// Validate 验证配置
func (o *Options) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("mongo client name is required")
	}
	if o.URI == "" {
		return fmt.Errorf("mongo '%s': uri is required", o.Name)
	}
	if o.Timeout <= 0 {
		return fmt.Errorf("mongo '%s': timeout must be positive", o.Name)
	}
	if o.MinPoolSize > o.MaxPoolSize && o.MaxPoolSize > 0 {
		return fmt.Errorf("mongo '%s': min pool size %d exceeds max %d", o.Name, o.MinPoolSize, o.MaxPoolSize)
	}
	return nil
}

// ClientOptions 把配置转换为驱动的客户端选项
func (o *Options) ClientOptions() *options.ClientOptions {
	clientOpts := options.Client().ApplyURI(o.URI)
	if o.Username != "" || o.Password != "" {
		clientOpts.SetAuth(options.Credential{
			Username: o.Username,
			Password: o.Password,
		})
	}
	if o.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(o.MaxPoolSize)
	}
	if o.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(o.MinPoolSize)
	}
	clientOpts.SetConnectTimeout(o.Timeout)
	clientOpts.SetServerSelectionTimeout(o.Timeout)
	return clientOpts
}

// Open 连接并 Ping 主节点
func Open(ctx context.Context, opts *Options) (*mongo.Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	client, err := mongo.Connect(opts.ClientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client '%s': %w", opts.Name, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = Close(client)
		return nil, fmt.Errorf("mongo '%s': failed to connect: %w", opts.Name, err)
	}
	return client, nil
}

// Close 断开客户端
func Close(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.Disconnect(ctx)
}
