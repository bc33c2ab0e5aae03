// Package suite 运行基于结构体的测试套件，并在生命周期各阶段回调扩展。
//
//	type UserSuite struct {
//		Users   []User   `resource:"users.yaml"`
//		Admin   *AdminSuite `testkit:"nested"`
//	}
//
//	func (s *UserSuite) TestCount(t *testing.T) { ... }
//
//	func TestUsers(t *testing.T) { suite.Run(t, &UserSuite{}) }
//
// 传入的值是原型：类级别（testkit:"static"）字段在 BeforeAll 阶段注入到原型中，
// 每个测试在原型的浅拷贝上运行。以 Test 开头的方法作为子测试运行，
// 嵌套套件作为以字段名命名的子测试运行，每个测试都会重新创建外层和内层实例。
package suite

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/meta"
)

const (
	beforeAllMethod  = "BeforeAll"
	afterAllMethod   = "AfterAll"
	beforeEachMethod = "BeforeEach"
	afterEachMethod  = "AfterEach"
	testPrefix       = "Test"
)

var (
	testingT    = meta.TypeOf[*testing.T]()
	testingTB   = meta.TypeOf[testing.TB]()
	contextType = meta.TypeOf[*Context]()

	// ErrNoResolver 没有扩展支持该参数
	ErrNoResolver = errors.New("no ParameterResolver supports the parameter")
	// ErrCompetingResolvers 多个扩展同时支持该参数
	ErrCompetingResolvers = errors.New("competing ParameterResolvers")
)

// Option 运行选项
type Option func(r *runner)

// WithExtensions 为本次运行注册扩展
func WithExtensions(exts ...Extension) Option {
	return func(r *runner) {
		for _, ext := range exts {
			validateExtension(ext)
		}
		r.exts = r.exts.with(exts...)
	}
}

// WithLogger 使用指定的日志工厂，默认输出到 t.Log
func WithLogger(factory logging.LoggerFactory) Option {
	return func(r *runner) { r.factory = factory }
}

// WithSettings 使用指定的设置，默认读取 testkit.yaml 与 TESTKIT_ 环境变量
func WithSettings(s *Settings) Option {
	return func(r *runner) { r.settings = s }
}

type runner struct {
	exts     extensionList
	settings *Settings
	factory  logging.LoggerFactory
}

// Run 运行测试套件 s（结构体指针）
func Run(t *testing.T, s any, opts ...Option) {
	t.Helper()
	r, err := newRunner(opts...)
	if err != nil {
		t.Fatalf("suite: %v", err)
	}
	proto, class, err := prototype(s)
	if err != nil {
		t.Fatalf("suite: %v", err)
	}
	r.runClass(t, nil, nil, class, proto)
}

func newRunner(opts ...Option) (*runner, error) {
	r := &runner{exts: extensionList(nil).with(registered()...)}
	for _, opt := range opts {
		opt(r)
	}
	if r.settings == nil {
		s, err := loadOnce()
		if err != nil {
			return nil, err
		}
		r.settings = s
	}
	return r, nil
}

func prototype(s any) (reflect.Value, *meta.Class, error) {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, nil, fmt.Errorf("suite must be a non-nil struct pointer, got %T", s)
	}
	class, err := meta.ClassOf(v.Type())
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return v, class, nil
}

func (r *runner) loggerFor(t testing.TB) logging.Logger {
	if r.factory != nil {
		return r.factory.CreateLogger("suite")
	}
	return logging.NewLoggingBuilder().
		SetMinimumLevel(r.settings.LogLevel).
		AddTesting(t).
		Build().
		CreateLogger("suite")
}

// classContext 类级别上下文，via 是外层类中指向该嵌套类的字段
type classContext struct {
	*Context
	via *meta.Field
	up  *classContext
}

func (r *runner) newClassContext(t testing.TB, parent *classContext, via *meta.Field, class *meta.Class, proto reflect.Value) *classContext {
	ctx := &Context{
		t:      t,
		run:    r,
		exts:   r.exts,
		class:  class,
		static: proto,
		logger: r.loggerFor(t),
	}
	base := t.Context()
	if parent != nil {
		base = parent.Context.Context()
	}
	var cancel context.CancelFunc
	ctx.ctx, cancel = context.WithCancel(base)
	ctx.cleanups = &cleanupStack{cancel: cancel}
	if parent != nil {
		ctx.parent = parent.Context
		ctx.exts = parent.exts
		ctx.store = newStore(parent.store)
	} else {
		ctx.store = newStore(nil)
	}
	ctx.exts = ctx.exts.with(classExtensions(class)...)
	return &classContext{Context: ctx, via: via, up: parent}
}

func classExtensions(class *meta.Class) []Extension {
	var exts []Extension
	for _, ew := range meta.FindAnnotations[ExtendWith](class) {
		exts = append(exts, ew.Extensions...)
	}
	return exts
}

func (r *runner) runClass(t *testing.T, parent *classContext, via *meta.Field, class *meta.Class, proto reflect.Value) {
	t.Helper()
	cc := r.newClassContext(t, parent, via, class, proto)
	cc.logger.Debug("running class", logging.F("class", class.String()))

	defer cc.cleanups.run()
	defer func() {
		if err := r.afterAll(cc.Context); err != nil {
			t.Error(err)
		}
	}()
	if err := r.beforeAll(cc.Context); err != nil {
		t.Fatal(err)
	}

	for _, m := range testMethods(class) {
		t.Run(m.Name(), func(t *testing.T) {
			r.runTest(t, cc, m)
		})
	}

	fields, nested, err := class.Nested()
	if err != nil {
		t.Fatal(err)
	}
	for i, nc := range nested {
		nproto, err := nestedPrototype(fields[i], proto)
		if err != nil {
			t.Fatal(err)
		}
		t.Run(fields[i].Name(), func(t *testing.T) {
			r.runClass(t, cc, fields[i], nc, nproto)
		})
	}
}

// nestedPrototype 返回原型中嵌套字段的值，为 nil 时创建并写回
func nestedPrototype(f *meta.Field, proto reflect.Value) (reflect.Value, error) {
	current, err := f.Get(proto)
	if err != nil {
		return reflect.Value{}, err
	}
	v := reflect.ValueOf(current)
	if !v.IsNil() {
		return v, nil
	}
	v = reflect.New(f.Type().Elem())
	if err := f.Set(proto, v); err != nil {
		return reflect.Value{}, err
	}
	return v, nil
}

// testMethods 返回以 Test 开头的接收者方法，按名称排序
func testMethods(class *meta.Class) []*meta.Method {
	var tests []*meta.Method
	for _, m := range class.Methods() {
		if !m.IsStatic() && strings.HasPrefix(m.Name(), testPrefix) {
			tests = append(tests, m)
		}
	}
	slices.SortFunc(tests, func(a, b *meta.Method) int { return strings.Compare(a.Name(), b.Name()) })
	return tests
}

func lifecycleMethod(class *meta.Class, name string) *meta.Method {
	for _, m := range class.MethodsNamed(name) {
		if !m.IsStatic() {
			return m
		}
	}
	return nil
}

func (r *runner) beforeAll(ctx *Context) error {
	for _, ext := range ctx.exts {
		if cb, ok := ext.(BeforeAllCallback); ok {
			if err := cb.BeforeAll(ctx); err != nil {
				return fmt.Errorf("%s: BeforeAll: %w", ext.Name(), err)
			}
		}
	}
	if m := lifecycleMethod(ctx.class, beforeAllMethod); m != nil {
		return r.invoke(ctx, m, ctx.static)
	}
	return nil
}

func (r *runner) afterAll(ctx *Context) error {
	var errs []error
	if m := lifecycleMethod(ctx.class, afterAllMethod); m != nil {
		errs = append(errs, r.invoke(ctx, m, ctx.static))
	}
	// 扩展按注册的逆序调用
	for _, ext := range slices.Backward(ctx.exts) {
		if cb, ok := ext.(AfterAllCallback); ok {
			if err := cb.AfterAll(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: AfterAll: %w", ext.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *runner) runTest(t *testing.T, cc *classContext, m *meta.Method) {
	t.Helper()
	ctx := cc.child(t)
	ctx.exts = cc.exts
	ctx.method = m

	classes, instances, err := instantiate(cc)
	if err != nil {
		t.Fatal(err)
	}
	ctx.classes, ctx.instances = classes, instances

	defer func() {
		if err := r.afterEach(ctx); err != nil {
			t.Error(err)
		}
	}()
	if err := r.beforeEach(ctx); err != nil {
		t.Fatal(err)
	}

	ctx.logger.Debug("running test", logging.F("test", ctx.DisplayName()))
	if err := r.invoke(ctx, m, instances[len(instances)-1]); err != nil {
		t.Error(err)
	}
}

func (r *runner) beforeEach(ctx *Context) error {
	for _, ext := range ctx.exts {
		if cb, ok := ext.(BeforeEachCallback); ok {
			if err := cb.BeforeEach(ctx); err != nil {
				return fmt.Errorf("%s: BeforeEach: %w", ext.Name(), err)
			}
		}
	}
	// 外层套件的 BeforeEach 先执行
	for i, class := range ctx.classes {
		if m := lifecycleMethod(class, beforeEachMethod); m != nil {
			if err := r.invoke(ctx, m, ctx.instances[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *runner) afterEach(ctx *Context) error {
	var errs []error
	for i := len(ctx.classes) - 1; i >= 0; i-- {
		if m := lifecycleMethod(ctx.classes[i], afterEachMethod); m != nil {
			errs = append(errs, r.invoke(ctx, m, ctx.instances[i]))
		}
	}
	for _, ext := range slices.Backward(ctx.exts) {
		if cb, ok := ext.(AfterEachCallback); ok {
			if err := cb.AfterEach(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: AfterEach: %w", ext.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// instantiate 为一个测试创建从最外层到 cc 的实例链。
// 每一层都是该层原型的浅拷贝；嵌套字段指向下一层实例，testkit:"outer" 字段指向上一层实例。
func instantiate(cc *classContext) ([]*meta.Class, []reflect.Value, error) {
	var levels []*classContext
	for c := cc; c != nil; c = c.up {
		levels = append(levels, c)
	}
	slices.Reverse(levels)

	classes := make([]*meta.Class, len(levels))
	instances := make([]reflect.Value, len(levels))
	for i, level := range levels {
		inst := reflect.New(level.class.Type())
		inst.Elem().Set(level.static.Elem())

		for _, f := range level.class.Fields() {
			switch {
			case f.IsNested():
				if err := f.Set(inst, nil); err != nil {
					return nil, nil, err
				}
			case f.IsOuter() && i > 0:
				if err := f.Set(inst, instances[i-1]); err != nil {
					return nil, nil, fmt.Errorf("suite: outer field %s: %w", f, err)
				}
			}
		}
		if i > 0 && level.via != nil {
			if err := level.via.Set(instances[i-1], inst); err != nil {
				return nil, nil, err
			}
		}
		classes[i] = level.class
		instances[i] = inst
	}
	return classes, instances, nil
}

// invoke 解析参数并调用方法
func (r *runner) invoke(ctx *Context, m *meta.Method, receiver reflect.Value) error {
	args, err := resolveArgs(ctx, m)
	if err != nil {
		return err
	}
	if _, err := m.Call(receiver, args...); err != nil {
		return fmt.Errorf("%s: %w", m, err)
	}
	return nil
}

// resolveArgs 第一个参数可以是 *testing.T 或 testing.TB，*suite.Context 参数直接注入当前上下文，
// 其余参数必须恰好有一个 ParameterResolver 支持
func resolveArgs(ctx *Context, m *meta.Method) ([]any, error) {
	params := m.Parameters()
	args := make([]any, len(params))
	resolvers := ctx.exts.resolvers()

	for i, p := range params {
		if i == 0 && (p.Type() == testingT || p.Type() == testingTB) {
			args[i] = ctx.t
			continue
		}
		if p.Type() == contextType {
			args[i] = ctx
			continue
		}

		pc := NewParameterContext(p)
		var supporting []ParameterResolver
		for _, res := range resolvers {
			if res.SupportsParameter(pc, ctx) {
				supporting = append(supporting, res)
			}
		}
		switch len(supporting) {
		case 0:
			return nil, fmt.Errorf("suite: %s: %w", pc, ErrNoResolver)
		case 1:
		default:
			names := make([]string, len(supporting))
			for j, res := range supporting {
				names[j] = resolverName(res)
			}
			return nil, fmt.Errorf("suite: %s: %w: %s", pc, ErrCompetingResolvers, strings.Join(names, ", "))
		}

		v, err := supporting[0].ResolveParameter(pc, ctx)
		if err != nil {
			return nil, err
		}
		if _, err := meta.Assignable(reflect.ValueOf(v), p.Type()); err != nil {
			return nil, fmt.Errorf("suite: %s: %s returned %T: %w", pc, resolverName(supporting[0]), v, err)
		}
		args[i] = v
	}
	return args, nil
}

func resolverName(r ParameterResolver) string {
	if ext, ok := r.(Extension); ok {
		return ext.Name()
	}
	return fmt.Sprintf("%T", r)
}
