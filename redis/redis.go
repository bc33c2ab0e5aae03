// Package redis 为测试注入 go-redis 客户端。
//
//	type CacheSuite struct {
//		Cache *redis.Client `redis:"cache,db=1,flush,skip"`
//	}
//
// 地址依次取自注解、配置项 redis.<name>.addr、redis.addr，默认 localhost:6379。
// 带有 skip 选项时，服务不可用会跳过测试而不是失败。
package redis

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// ExtensionName 扩展名称
const ExtensionName = "redis"

// Client 标记注解：注入 *redis.Client（或它实现的接口，如 redis.Cmdable）
type Client struct {
	Name string
	Addr string
	DB   int `validate:"gte=0"`
	// Flush 打开后清空所选数据库
	Flush           bool
	SkipUnavailable bool
}

var clientType = meta.TypeOf[*redis.Client]()

// Extension Redis 注入扩展，导入本包时自动注册
var Extension = inject.NewExtension[Client](ExtensionName, resolver{})

func init() {
	meta.RegisterTag(ExtensionName, decodeTag)
	suite.Register(Extension)
}

// decodeTag 解析 `redis:"name,addr=host:port,db=1,flush,skip"`
func decodeTag(_ reflect.StructField, value string) (any, error) {
	opts := inject.ParseTag(value)
	ann := Client{
		Name:            opts.Name,
		Addr:            opts.Get("addr"),
		Flush:           opts.Has("flush"),
		SkipUnavailable: opts.Has("skip"),
	}
	if opts.Has("db") {
		db, err := strconv.Atoi(opts.Get("db"))
		if err != nil {
			return nil, fmt.Errorf("redis: db: %w", err)
		}
		ann.DB = db
	}
	return ann, nil
}

type resolver struct{}

func (resolver) Validate(t inject.Target, _ Client) error {
	return inject.RequireAssignable(t, clientType)
}

func (resolver) Resolve(ctx *suite.Context, t inject.Target, ann Client) (any, error) {
	opts := resolveOptions(ctx, ann)
	key := fmt.Sprintf("%s/%d", opts.Name, opts.DB)
	client, err := inject.Shared(ctx, ExtensionName, key, func() (*redis.Client, func() error, error) {
		client, err := Open(ctx.Context(), opts)
		if err != nil {
			return nil, nil, err
		}
		if ann.Flush {
			if err := client.FlushDB(ctx.Context()).Err(); err != nil {
				_ = client.Close()
				return nil, nil, fmt.Errorf("redis '%s': flush: %w", opts.Name, err)
			}
		}
		return client, client.Close, nil
	})
	if err != nil {
		return nil, inject.Unavailable(ctx, ann.SkipUnavailable, err)
	}
	return client, nil
}

func resolveOptions(ctx *suite.Context, ann Client) *Options {
	opts := NewDefaultOptions(ann.Name)
	if addr := inject.Setting(ctx, ExtensionName, opts.Name, "addr"); addr != "" {
		opts.Addr = addr
	}
	if pw := inject.Setting(ctx, ExtensionName, opts.Name, "password"); pw != "" {
		opts.Password = pw
	}
	if ann.Addr != "" {
		opts.Addr = ann.Addr
	}
	opts.DB = ann.DB
	return opts
}
