package database

import (
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultName 未指定名称时使用的数据库名称
const DefaultName = "default"

var memorySeq atomic.Int64

// Options 数据库配置选项
type Options struct {
	Name         string
	DSN          string
	GormConfig   *gorm.Config
	MaxIdleConns int
	MaxOpenConns int
	MaxLifetime  time.Duration
	AutoMigrate  []any // 需要自动迁移的模型
}

// NewDefaultOptions 创建默认配置，DSN 指向一个独立的 SQLite 内存数据库
func NewDefaultOptions(name string) *Options {
	if name == "" {
		name = DefaultName
	}
	return &Options{
		Name:         name,
		DSN:          MemoryDSN(name),
		GormConfig:   &gorm.Config{Logger: logger.Discard},
		MaxIdleConns: 2,
		MaxOpenConns: 4,
		MaxLifetime:  time.Hour,
	}
}

// MemoryDSN 返回一个新的共享缓存内存数据库 DSN，每次调用都不同
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:testkit_%s_%d?mode=memory&cache=shared", name, memorySeq.Add(1))
}

// Validate 验证配置
func (o *Options) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if o.DSN == "" {
		return fmt.Errorf("database '%s': dsn is required", o.Name)
	}
	if o.MaxOpenConns < 0 || o.MaxIdleConns < 0 {
		return fmt.Errorf("database '%s': connection limits must not be negative", o.Name)
	}
	return nil
}

// Open 打开数据库、配置连接池并执行自动迁移
func Open(opts *Options) (*gorm.DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cfg := opts.GormConfig
	if cfg == nil {
		cfg = &gorm.Config{}
	}
	db, err := gorm.Open(sqlite.Open(opts.DSN), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database '%s': %w", opts.Name, err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB for '%s': %w", opts.Name, err)
	}
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(opts.MaxLifetime)

	if len(opts.AutoMigrate) > 0 {
		if err := db.AutoMigrate(opts.AutoMigrate...); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("auto migrate failed for '%s': %w", opts.Name, err)
		}
	}
	return db, nil
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
