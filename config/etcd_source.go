package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"gopkg.in/yaml.v3"
)

// KV 是 etcd 客户端读取键值需要的部分，*clientv3.Client 满足该接口
type KV interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// EtcdSource 读取 etcd 中某个前缀下的键作为配置。
// 键路径中的 / 表示层级，值按 JSON、YAML、字符串的顺序解析。
type EtcdSource struct {
	Client  KV
	Prefix  string
	Timeout time.Duration
}

// AddEtcd 添加 etcd 配置源
func (b *ConfigurationBuilder) AddEtcd(client KV, prefix string) *ConfigurationBuilder {
	return b.Add(&EtcdSource{Client: client, Prefix: prefix, Timeout: 5 * time.Second})
}

func (s *EtcdSource) Name() string {
	return fmt.Sprintf("Etcd(%s)", s.Prefix)
}

func (s *EtcdSource) Load() (map[string]any, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	prefix := s.Prefix
	if prefix == "" {
		prefix = "/"
	}
	resp, err := s.Client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to get config from etcd: %w", err)
	}

	result := make(map[string]any)
	for _, kv := range resp.Kvs {
		key := strings.TrimPrefix(string(kv.Key), s.Prefix)
		key = strings.Trim(key, "/")
		if key == "" {
			continue
		}
		setNestedValue(result, strings.ReplaceAll(key, "/", ":"), decodeEtcdValue(kv.Value))
	}
	return result, nil
}

func decodeEtcdValue(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	if err := yaml.Unmarshal(raw, &v); err == nil && v != nil {
		if _, isString := v.(string); !isString {
			return v
		}
	}
	return string(raw)
}
