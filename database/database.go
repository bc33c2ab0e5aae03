// Package database 为测试注入 SQLite 上的 *gorm.DB。
//
//	type RepoSuite struct {
//		DB *gorm.DB `database:"main,seed=seedUsers"`
//	}
//
//	func (*RepoSuite) Annotate(d *meta.Declarations) {
//		d.Class(database.Migrate{Models: []any{&User{}}})
//	}
//
// 同名数据库在同一上下文中共享：类级别字段打开的数据库对该类的所有测试可见，
// 实例字段和参数打开的数据库在测试结束时关闭。默认是每次打开都独立的内存数据库。
package database

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"

	"gorm.io/gorm"

	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/lookup"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// ExtensionName 扩展名称
const ExtensionName = "database"

// DB 标记注解：注入 *gorm.DB 或 *sql.DB
type DB struct {
	Name         string
	DSN          string
	MaxOpenConns int `validate:"gte=0"`
	// Seed 打开后调用的方法引用，签名为 (*gorm.DB) 或 (*suite.Context, *gorm.DB)
	Seed  string
	Debug bool
}

// Migrate 作用域注解：打开数据库时自动迁移的模型。
// 最近作用域（字段或参数、方法、类、外层类）上的所有 Migrate 生效。
type Migrate struct {
	Models []any
}

var (
	gormDBType  = meta.TypeOf[*gorm.DB]()
	sqlDBType   = meta.TypeOf[*sql.DB]()
	contextType = meta.TypeOf[*suite.Context]()

	seedLookup = lookup.WithParameterTypes(gormDBType).
			OrParameterTypes(contextType, gormDBType)
)

// Extension 数据库注入扩展，导入本包时自动注册
var Extension = inject.NewExtension[DB](ExtensionName, resolver{})

func init() {
	meta.RegisterTag(ExtensionName, decodeTag)
	suite.Register(Extension)
}

// decodeTag 解析 `database:"name,dsn=...,seed=method,maxopen=1,debug"`
func decodeTag(_ reflect.StructField, value string) (any, error) {
	opts := inject.ParseTag(value)
	ann := DB{
		Name:  opts.Name,
		DSN:   opts.Get("dsn"),
		Seed:  opts.Get("seed"),
		Debug: opts.Has("debug"),
	}
	if opts.Has("maxopen") {
		n, err := strconv.Atoi(opts.Get("maxopen"))
		if err != nil {
			return nil, fmt.Errorf("database: maxopen: %w", err)
		}
		ann.MaxOpenConns = n
	}
	return ann, nil
}

type resolver struct{}

func (resolver) Validate(t inject.Target, _ DB) error {
	return inject.RequireType(t, gormDBType, sqlDBType)
}

func (resolver) Resolve(ctx *suite.Context, t inject.Target, ann DB) (any, error) {
	name := ann.Name
	if name == "" {
		name = DefaultName
	}
	db, err := inject.Shared(ctx, ExtensionName, name, func() (*gorm.DB, func() error, error) {
		return open(ctx, t, name, ann)
	})
	if err != nil {
		return nil, err
	}
	if ann.Debug {
		db = db.Debug()
	}
	if t.Type() == sqlDBType {
		return db.DB()
	}
	return db, nil
}

func open(ctx *suite.Context, t inject.Target, name string, ann DB) (*gorm.DB, func() error, error) {
	opts := NewDefaultOptions(name)
	if ann.DSN != "" {
		opts.DSN = ann.DSN
	}
	if ann.MaxOpenConns > 0 {
		opts.MaxOpenConns = ann.MaxOpenConns
	}
	for _, m := range inject.FindAll[Migrate](t, true) {
		opts.AutoMigrate = append(opts.AutoMigrate, m.Models...)
	}

	db, err := Open(opts)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return Close(db) }
	if ann.Seed != "" {
		if err := seed(ctx, t, ann.Seed, db); err != nil {
			_ = closeFn()
			return nil, nil, err
		}
	}
	return db, closeFn, nil
}

func seed(ctx *suite.Context, t inject.Target, ref string, db *gorm.DB) error {
	res, err := seedLookup.Find(ref, t.DeclaringClass())
	if err != nil {
		return t.CreateError("seed method", err)
	}
	args := []any{db}
	if res.Index == 1 {
		args = []any{ctx, db}
	}
	if _, err := inject.Invoke(ctx, res.Method, args...); err != nil {
		return fmt.Errorf("database: seed %s: %w", ref, err)
	}
	return nil
}
