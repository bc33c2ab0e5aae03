// Package hosting 在测试期间运行托管服务。
//
//	type WorkerSuite struct {
//		Services *hosting.Manager `hosting:""`
//	}
//
//	func (*WorkerSuite) Annotate(d *meta.Declarations) {
//		d.Class(hosting.Services{Items: []any{worker}})
//	}
//
// 注入 *Manager 时，最近作用域上 Services 列出的服务已在后台启动；
// 测试（或类）结束时逆序停止，启动或停止失败报告为测试错误。
package hosting

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/gocrud/testkit/di"
	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// ExtensionName 扩展名称
const ExtensionName = "hosting"

// DefaultStopTimeout 默认停止超时
const DefaultStopTimeout = 5 * time.Second

// Host 标记注解：注入已启动服务的 *Manager
type Host struct {
	Name        string
	StopTimeout time.Duration `validate:"gte=0"`
}

// Services 作用域注解：托管的服务，最近作用域生效。
//
// 元素可以是 HostedService 实例（其 di 字段从测试容器注入），
// 也可以是容器中已注册的服务类型（reflect.Type）。
type Services struct {
	Items []any
}

var managerType = meta.TypeOf[*Manager]()

// Extension 托管服务扩展，导入本包时自动注册
var Extension = inject.NewExtension[Host](ExtensionName, resolver{})

func init() {
	meta.RegisterTag(ExtensionName, func(_ reflect.StructField, value string) (any, error) {
		opts := inject.ParseTag(value)
		ann := Host{Name: opts.Name}
		if opts.Has("timeout") {
			d, err := time.ParseDuration(opts.Get("timeout"))
			if err != nil {
				return nil, fmt.Errorf("hosting: timeout: %w", err)
			}
			ann.StopTimeout = d
		}
		return ann, nil
	})
	suite.Register(Extension)
}

type resolver struct{}

func (resolver) Validate(t inject.Target, _ Host) error {
	return inject.RequireType(t, managerType)
}

func (resolver) Resolve(ctx *suite.Context, t inject.Target, ann Host) (any, error) {
	name := ann.Name
	if name == "" {
		name = "default"
	}
	timeout := ann.StopTimeout
	if timeout == 0 {
		timeout = DefaultStopTimeout
		if v := inject.Setting(ctx, ExtensionName, name, "timeout"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("hosting: timeout setting: %w", err)
			}
			timeout = d
		}
	}

	return inject.Shared(ctx, ExtensionName, name, func() (*Manager, func() error, error) {
		services, err := collect(ctx, t)
		if err != nil {
			return nil, nil, err
		}
		m := NewManager(ctx.Logger().WithCategory("hosting"))
		m.Add(services...)
		m.StartAll(ctx.Context())
		return m, func() error {
			stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return m.StopAll(stopCtx)
		}, nil
	})
}

func collect(ctx *suite.Context, t inject.Target) ([]HostedService, error) {
	var items []any
	for _, s := range inject.FindAll[Services](t, true) {
		items = append(items, s.Items...)
	}
	if len(items) == 0 {
		return nil, nil
	}
	c, err := di.ContainerFor(ctx, t)
	if err != nil {
		return nil, err
	}
	services := make([]HostedService, 0, len(items))
	for _, item := range items {
		if typ, ok := item.(reflect.Type); ok {
			v, err := c.Get(typ)
			if err != nil {
				return nil, fmt.Errorf("hosting: service %v: %w", typ, err)
			}
			item = v
		} else if hasStructPointer(item) {
			if err := c.InjectFields(item); err != nil {
				return nil, fmt.Errorf("hosting: service %T: %w", item, err)
			}
		}
		svc, ok := item.(HostedService)
		if !ok {
			return nil, fmt.Errorf("hosting: %T does not implement hosting.HostedService", item)
		}
		services = append(services, svc)
	}
	return services, nil
}

func hasStructPointer(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct
}
