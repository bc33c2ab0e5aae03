// Package etcd 为测试注入 etcd 客户端，或读取某个前缀下的键作为配置。
//
//	type WatchSuite struct {
//		Client *clientv3.Client     `etcd:",prefix=/testkit/watch,clean,skip"`
//		Config config.Configuration `etcd:",prefix=/testkit/app"`
//	}
//
// 端点依次取自注解（多个端点用 ; 分隔）、配置项 etcd.<name>.endpoints、etcd.endpoints，
// 默认 localhost:2379。
package etcd

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/gocrud/testkit/config"
	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// ExtensionName 扩展名称
const ExtensionName = "etcd"

// Client 标记注解：注入 *clientv3.Client（或 clientv3.KV 等接口），
// 或把 Prefix 下的键读取为 config.Configuration
type Client struct {
	Name      string
	Endpoints []string
	Prefix    string
	// Clean 在测试（或类）结束时删除 Prefix 下的所有键
	Clean           bool
	SkipUnavailable bool
}

var (
	clientType = meta.TypeOf[*clientv3.Client]()
	configType = meta.TypeOf[config.Configuration]()
)

// Extension etcd 注入扩展，导入本包时自动注册
var Extension = inject.NewExtension[Client](ExtensionName, resolver{})

func init() {
	meta.RegisterTag(ExtensionName, decodeTag)
	suite.Register(Extension)
}

// decodeTag 解析 `etcd:"name,endpoints=a:2379;b:2379,prefix=/app,clean,skip"`
func decodeTag(_ reflect.StructField, value string) (any, error) {
	opts := inject.ParseTag(value)
	return Client{
		Name:            opts.Name,
		Endpoints:       splitEndpoints(opts.Get("endpoints")),
		Prefix:          opts.Get("prefix"),
		Clean:           opts.Has("clean"),
		SkipUnavailable: opts.Has("skip"),
	}, nil
}

func splitEndpoints(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == ' ' })
}

type resolver struct{}

func (resolver) Validate(t inject.Target, ann Client) error {
	if t.Type() == configType {
		if ann.Prefix == "" {
			return fmt.Errorf("configuration target requires a prefix")
		}
		return nil
	}
	if err := inject.RequireAssignable(t, clientType); err != nil {
		return err
	}
	if ann.Clean && ann.Prefix == "" {
		return fmt.Errorf("clean requires a prefix")
	}
	return nil
}

func (resolver) Resolve(ctx *suite.Context, t inject.Target, ann Client) (any, error) {
	opts := resolveOptions(ctx, ann)
	client, err := inject.Shared(ctx, ExtensionName, opts.Name, func() (*clientv3.Client, func() error, error) {
		client, err := Open(ctx.Context(), opts)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	})
	if err != nil {
		return nil, inject.Unavailable(ctx, ann.SkipUnavailable, err)
	}
	if ann.Clean {
		cleanPrefix(ctx, client, opts, ann.Prefix)
	}
	if t.Type() == configType {
		return config.NewConfigurationBuilder().AddEtcd(client, ann.Prefix).Build()
	}
	return client, nil
}

// cleanPrefix 注册删除前缀的清理函数，同一上下文中每个前缀只注册一次
func cleanPrefix(ctx *suite.Context, client *clientv3.Client, opts *Options, prefix string) {
	key := opts.Name + "/clean" + prefix
	_, _ = inject.Shared(ctx, ExtensionName, key, func() (string, func() error, error) {
		return prefix, func() error {
			delCtx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
			defer cancel()
			_, err := client.Delete(delCtx, prefix, clientv3.WithPrefix())
			return err
		}, nil
	})
}

func resolveOptions(ctx *suite.Context, ann Client) *Options {
	opts := NewDefaultOptions(ann.Name)
	if eps := splitEndpoints(inject.Setting(ctx, ExtensionName, opts.Name, "endpoints")); len(eps) > 0 {
		opts.Endpoints = eps
	}
	if user := inject.Setting(ctx, ExtensionName, opts.Name, "username"); user != "" {
		opts.Username = user
		opts.Password = inject.Setting(ctx, ExtensionName, opts.Name, "password")
	}
	if len(ann.Endpoints) > 0 {
		opts.Endpoints = ann.Endpoints
	}
	return opts
}
