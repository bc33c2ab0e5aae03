package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultName 未指定名称时使用的客户端名称
const DefaultName = "default"

// Options etcd 客户端配置选项
type Options struct {
	Name        string        // 客户端名称
	Endpoints   []string      // etcd 服务器地址列表
	DialTimeout time.Duration // 连接超时时间
	Username    string        // 用户名（可选）
	Password    string        // 密码（可选）
}

// NewDefaultOptions 创建默认配置
func NewDefaultOptions(name string) *Options {
	if name == "" {
		name = DefaultName
	}
	return &Options{
		Name:        name,
		Endpoints:   []string{"localhost:2379"},
		DialTimeout: 2 * time.Second,
	}
}

// Validate 验证配置
func (o *Options) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("etcd client name is required")
	}
	if len(o.Endpoints) == 0 {
		return fmt.Errorf("etcd '%s': endpoints are required", o.Name)
	}
	if o.DialTimeout <= 0 {
		return fmt.Errorf("etcd '%s': dial timeout must be positive", o.Name)
	}
	return nil
}

// Config 转换为客户端配置
func (o *Options) Config() clientv3.Config {
	config := clientv3.Config{
		Endpoints:   o.Endpoints,
		DialTimeout: o.DialTimeout,
	}
	// 设置认证信息
	if o.Username != "" {
		config.Username = o.Username
		config.Password = o.Password
	}
	return config
}

// Open 创建客户端并检查第一个端点的状态
func Open(ctx context.Context, opts *Options) (*clientv3.Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	client, err := clientv3.New(opts.Config())
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client '%s': %w", opts.Name, err)
	}

	statusCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if _, err := client.Status(statusCtx, opts.Endpoints[0]); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("etcd '%s': failed to connect to %s: %w", opts.Name, opts.Endpoints[0], err)
	}
	return client, nil
}
