// Package inject 实现基于注解的注入扩展。
//
// 具体扩展只需提供标记注解类型 A 和一个 Resolver[A]：
//
//	type Now struct{ Format string `validate:"required"` }
//
//	type nowResolver struct{}
//
//	func (nowResolver) Validate(t inject.Target, _ Now) error {
//		return inject.RequireType(t, meta.TypeOf[string]())
//	}
//
//	func (nowResolver) Resolve(_ *suite.Context, _ inject.Target, a Now) (any, error) {
//		return time.Now().Format(a.Format), nil
//	}
//
//	suite.Register(inject.NewExtension[Now]("now", nowResolver{}))
//
// 每个目标依次经过 发现 -> 校验 -> 解析 -> 应用 四个阶段。
package inject

import (
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"

	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// Resolver 由具体扩展实现
type Resolver[A any] interface {
	// Validate 检查目标类型和注解配置，返回的错误会通过 Target.CreateError 包装。
	// 不能有副作用：参数是否支持由它决定，可能被多次调用。
	Validate(target Target, ann A) error
	// Resolve 计算要注入的值，返回的错误原样传递
	Resolve(ctx *suite.Context, target Target, ann A) (any, error)
}

// ResolverFuncs 用函数实现 Resolver，ValidateFunc 可以为 nil
type ResolverFuncs[A any] struct {
	ValidateFunc func(target Target, ann A) error
	ResolveFunc  func(ctx *suite.Context, target Target, ann A) (any, error)
}

func (f ResolverFuncs[A]) Validate(target Target, ann A) error {
	if f.ValidateFunc == nil {
		return nil
	}
	return f.ValidateFunc(target, ann)
}

func (f ResolverFuncs[A]) Resolve(ctx *suite.Context, target Target, ann A) (any, error) {
	return f.ResolveFunc(ctx, target, ann)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Extension 以 A 为标记注解的注入扩展，同时实现
// suite.BeforeAllCallback、suite.BeforeEachCallback 和 suite.ParameterResolver
type Extension[A any] struct {
	name     string
	resolver Resolver[A]
	annType  reflect.Type
}

var (
	_ suite.BeforeAllCallback  = (*Extension[struct{}])(nil)
	_ suite.BeforeEachCallback = (*Extension[struct{}])(nil)
	_ suite.ParameterResolver  = (*Extension[struct{}])(nil)
)

// NewExtension 创建注入扩展
func NewExtension[A any](name string, resolver Resolver[A]) *Extension[A] {
	if resolver == nil {
		panic("inject: NewExtension requires a resolver")
	}
	return &Extension[A]{
		name:     name,
		resolver: resolver,
		annType:  meta.TypeOf[A](),
	}
}

// Name 扩展名称
func (e *Extension[A]) Name() string { return e.name }

// AnnotationType 标记注解的类型
func (e *Extension[A]) AnnotationType() reflect.Type { return e.annType }

// BeforeAll 注入当前类中带有标记注解的类级别字段
func (e *Extension[A]) BeforeAll(ctx *suite.Context) error {
	return e.injectFields(ctx, ctx.Class(), ctx.StaticInstance(), true)
}

// BeforeEach 注入每一层测试实例中带有标记注解的实例字段
func (e *Extension[A]) BeforeEach(ctx *suite.Context) error {
	instances := ctx.Instances()
	for i, class := range ctx.Levels() {
		if err := e.injectFields(ctx, class, instances[i], false); err != nil {
			return err
		}
	}
	return nil
}

// SupportsParameter 参数带有标记注解且校验通过
func (e *Extension[A]) SupportsParameter(pc *suite.ParameterContext, _ *suite.Context) bool {
	target := ParameterTarget(pc.Parameter())
	ann, ok := Find[A](target, false)
	if !ok {
		return false
	}
	return e.Validate(target, ann) == nil
}

// ResolveParameter 校验并解析参数值
func (e *Extension[A]) ResolveParameter(pc *suite.ParameterContext, ctx *suite.Context) (any, error) {
	target := ParameterTarget(pc.Parameter())
	ann, ok := Find[A](target, false)
	if !ok {
		return nil, target.CreateError(fmt.Sprintf("missing %v annotation", e.annType), nil)
	}
	if err := e.Validate(target, ann); err != nil {
		return nil, err
	}
	ctx.Logger().Debug("resolving parameter",
		logging.F("extension", e.name), logging.F("target", target.String()))
	return e.resolver.Resolve(ctx, target, ann)
}

// Validate 校验注解（validate 标签）和目标，失败时返回 target.CreateError 创建的错误
func (e *Extension[A]) Validate(target Target, ann A) error {
	if isStruct(ann) {
		if err := validate.Struct(ann); err != nil {
			return target.CreateError(fmt.Sprintf("invalid %v annotation", e.annType), err)
		}
	}
	if err := e.resolver.Validate(target, ann); err != nil {
		return target.CreateError(err.Error(), err)
	}
	return nil
}

func (e *Extension[A]) injectFields(ctx *suite.Context, class *meta.Class, instance reflect.Value, static bool) error {
	for _, f := range class.Fields() {
		if f.IsStatic() != static {
			continue
		}
		target := FieldTarget(f)
		ann, ok := Find[A](target, false)
		if !ok {
			continue
		}
		if err := e.injectField(ctx, target, f, ann, instance); err != nil {
			return err
		}
	}
	return nil
}

func (e *Extension[A]) injectField(ctx *suite.Context, target Target, f *meta.Field, ann A, instance reflect.Value) error {
	if err := e.Validate(target, ann); err != nil {
		return err
	}
	value, err := e.resolver.Resolve(ctx, target, ann)
	if err != nil {
		return err
	}
	if err := f.Set(instance, value); err != nil {
		return target.CreateError(fmt.Sprintf("cannot assign %T", value), err)
	}
	ctx.Logger().Debug("injected field",
		logging.F("extension", e.name), logging.F("target", target.String()))
	return nil
}

func isStruct(v any) bool {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}
