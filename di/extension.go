package di

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// ExtensionName 扩展名称
const ExtensionName = "di"

// Inject 标记注解：从测试容器中解析字段或参数
type Inject struct {
	Name     string
	Optional bool
}

// Services 作用域注解：测试容器中注册的服务。
//
// 目标所在的每一层作用域（参数、方法、类、外层类）上的 Services 都会注册，
// 内层作用域注册的服务覆盖外层的同名服务。
type Services struct {
	Providers []any
}

// Provider 带注册选项的服务，用在 Services 中
type Provider struct {
	Target  any
	Options []Option
}

// Provide 创建 Provider
func Provide(target any, opts ...Option) Provider {
	return Provider{Target: target, Options: opts}
}

var (
	contextType = meta.TypeOf[*suite.Context]()
	tbType      = meta.TypeOf[testing.TB]()
)

// Extension 依赖注入扩展，导入本包时自动注册
var Extension = inject.NewExtension[Inject](ExtensionName, resolver{})

func init() {
	meta.RegisterTag(ExtensionName, func(_ reflect.StructField, value string) (any, error) {
		opts := inject.ParseTag(value)
		return Inject{Name: opts.Name, Optional: opts.Optional()}, nil
	})
	suite.Register(Extension)
}

type resolver struct{}

func (resolver) Validate(inject.Target, Inject) error { return nil }

func (resolver) Resolve(ctx *suite.Context, t inject.Target, ann Inject) (any, error) {
	c, err := ContainerFor(ctx, t)
	if err != nil {
		return nil, err
	}
	v, err := c.GetNamed(t.Type(), ann.Name)
	if err != nil {
		if ann.Optional && errors.Is(err, ErrNotFound) {
			return reflect.Zero(t.Type()).Interface(), nil
		}
		return nil, err
	}
	return v, nil
}

// ContainerFor 返回目标所在作用域的测试容器，不存在时创建并构建。
//
// 容器中总是注册了当前的 *suite.Context 和 testing.TB。类级别字段使用类级别的容器，
// 其余目标每个测试一个容器，测试结束时关闭。
func ContainerFor(ctx *suite.Context, t inject.Target) (*Container, error) {
	levels, key := collect(t.Element())
	if f, ok := inject.AsField(t); ok && f.IsStatic() {
		key = "static:" + key
	}
	return inject.Shared(ctx, ExtensionName, key, func() (*Container, func() error, error) {
		c, err := newTestContainer(ctx, levels)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	})
}

// collect 从内到外收集各层作用域的 Services，返回的键标识这些作用域
func collect(e meta.Element) ([][]any, string) {
	var levels [][]any
	var names []string
	for scope := range meta.Scopes(e) {
		services := meta.FindAnnotations[Services](scope)
		if len(services) == 0 {
			continue
		}
		var providers []any
		for _, s := range services {
			providers = append(providers, s.Providers...)
		}
		levels = append(levels, providers)
		names = append(names, scope.String())
	}
	return levels, strings.Join(names, "|")
}

func newTestContainer(ctx *suite.Context, levels [][]any) (*Container, error) {
	c := New()
	if err := c.Add(&ServiceDefinition{Type: contextType, Impl: ctx, IsValue: true}); err != nil {
		return nil, err
	}
	if err := c.Add(&ServiceDefinition{Type: tbType, Impl: ctx.T(), IsValue: true}); err != nil {
		return nil, err
	}

	for i, providers := range levels {
		// 内层已注册的服务不再由外层注册
		inner := make(map[ServiceKey]bool, len(c.definitions))
		if i > 0 {
			for key := range c.definitions {
				inner[key] = true
			}
		}
		for _, p := range providers {
			target, opts := p, []Option(nil)
			if pr, ok := p.(Provider); ok {
				target, opts = pr.Target, pr.Options
			}
			def, err := newDefinition(target, opts...)
			if err != nil {
				return nil, err
			}
			if inner[def.Key()] {
				continue
			}
			if err := c.Add(def); err != nil {
				return nil, err
			}
		}
	}
	if err := c.Build(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}
