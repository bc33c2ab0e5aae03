// Package mongodb 为测试注入 MongoDB 客户端或数据库。
//
//	type StoreSuite struct {
//		DB *mongo.Database `mongodb:"main,database=orders,drop,skip"`
//	}
//
// URI 依次取自注解、配置项 mongodb.<name>.uri、mongodb.uri，默认 mongodb://localhost:27017。
package mongodb

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// ExtensionName 扩展名称
const ExtensionName = "mongodb"

// DefaultDatabase 注入 *mongo.Database 时未指定数据库名使用的名称
const DefaultDatabase = "testkit"

// Client 标记注解：注入 *mongo.Client 或 *mongo.Database
type Client struct {
	Name     string
	URI      string
	Database string
	// Drop 在测试（或类）结束时删除数据库
	Drop            bool
	SkipUnavailable bool
}

var (
	clientType   = meta.TypeOf[*mongo.Client]()
	databaseType = meta.TypeOf[*mongo.Database]()
)

// Extension MongoDB 注入扩展，导入本包时自动注册
var Extension = inject.NewExtension[Client](ExtensionName, resolver{})

func init() {
	meta.RegisterTag(ExtensionName, decodeTag)
	suite.Register(Extension)
}

// decodeTag 解析 `mongodb:"name,uri=...,database=db,drop,skip"`
func decodeTag(_ reflect.StructField, value string) (any, error) {
	opts := inject.ParseTag(value)
	return Client{
		Name:            opts.Name,
		URI:             opts.Get("uri"),
		Database:        opts.Get("database"),
		Drop:            opts.Has("drop"),
		SkipUnavailable: opts.Has("skip"),
	}, nil
}

type resolver struct{}

func (resolver) Validate(t inject.Target, ann Client) error {
	if err := inject.RequireType(t, clientType, databaseType); err != nil {
		return err
	}
	if ann.Drop && t.Type() == clientType {
		return fmt.Errorf("drop requires a *mongo.Database target")
	}
	return nil
}

func (resolver) Resolve(ctx *suite.Context, t inject.Target, ann Client) (any, error) {
	opts := resolveOptions(ctx, ann)
	client, err := inject.Shared(ctx, ExtensionName, opts.Name, func() (*mongo.Client, func() error, error) {
		client, err := Open(ctx.Context(), opts)
		if err != nil {
			return nil, nil, err
		}
		return client, func() error { return Close(client) }, nil
	})
	if err != nil {
		return nil, inject.Unavailable(ctx, ann.SkipUnavailable, err)
	}
	if t.Type() == clientType {
		return client, nil
	}

	name := ann.Database
	if name == "" {
		name = DefaultDatabase
	}
	return inject.Shared(ctx, ExtensionName, opts.Name+"/"+name, func() (*mongo.Database, func() error, error) {
		db := client.Database(name)
		if !ann.Drop {
			return db, nil, nil
		}
		return db, func() error {
			dropCtx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
			defer cancel()
			return db.Drop(dropCtx)
		}, nil
	})
}

func resolveOptions(ctx *suite.Context, ann Client) *Options {
	opts := NewDefaultOptions(ann.Name)
	if uri := inject.Setting(ctx, ExtensionName, opts.Name, "uri"); uri != "" {
		opts.URI = uri
	}
	if timeout := inject.Setting(ctx, ExtensionName, opts.Name, "timeout"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			opts.Timeout = d
		}
	}
	if ann.URI != "" {
		opts.URI = ann.URI
	}
	return opts
}
