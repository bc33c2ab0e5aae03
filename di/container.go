// Package di 是测试用的依赖注入容器。
//
// 服务可以是构造/工厂函数、预先创建的实例或通过字段注入创建的结构体类型：
//
//	c := di.New()
//	c.MustProvide(NewUserRepo)                         // func(*sql.DB) (*UserRepo, error)
//	c.MustProvide(&Config{Env: "test"})                // 实例
//	c.MustProvide(reflect.TypeOf(UserService{}))       // 按 di 标签注入字段
//	c.MustProvide(NewMailer, di.As[Mailer](), di.WithName("smtp"))
//	if err := c.Build(); err != nil { ... }
//	svc, err := di.Resolve[UserService](c)
//
// 字段标签 `di:"name,?"`：name 为服务名称，? 或 optional 表示可选依赖。
// Build 检查循环依赖并按依赖顺序创建所有单例；Close 以创建的逆序关闭实现了 io.Closer 的单例。
package di

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

var (
	// ErrNotFound 容器中没有请求的服务
	ErrNotFound = errors.New("di: service not found")
	// ErrBuilt 容器构建后不能再注册服务
	ErrBuilt = errors.New("di: container already built")
	// ErrNotBuilt 容器尚未构建
	ErrNotBuilt = errors.New("di: container not built")

	errorType     = TypeOf[error]()
	containerType = TypeOf[*Container]()
)

// Container 依赖注入容器。构建后可以在多个 goroutine 中并发解析。
type Container struct {
	mu          sync.Mutex
	definitions map[ServiceKey]*ServiceDefinition
	built       atomic.Bool
	closers     []io.Closer
}

// New 创建空容器
func New() *Container {
	return &Container{definitions: make(map[ServiceKey]*ServiceDefinition)}
}

// Add 注册服务定义
func (c *Container) Add(def *ServiceDefinition) error {
	if c.built.Load() {
		return ErrBuilt
	}
	if err := checkDefinition(def); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := def.Key()
	if _, exists := c.definitions[key]; exists {
		return fmt.Errorf("di: service %v already registered", key)
	}
	c.definitions[key] = def
	return nil
}

// Has 是否注册了服务
func (c *Container) Has(typ reflect.Type, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.definitions[ServiceKey{Type: typ, Name: name}]
	return ok
}

// Provide 根据 target 推断服务类型并注册：
//
//  1. func(...) (Service, error?) 注册为工厂，服务类型是第一个返回值
//  2. *Struct 注册为实例，结构体带有 di 标签字段时先注入字段
//  3. reflect.Type 注册为结构体注入
func (c *Container) Provide(target any, opts ...Option) (reflect.Type, error) {
	def, err := newDefinition(target, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Add(def); err != nil {
		return nil, err
	}
	return def.Type, nil
}

func newDefinition(target any, opts ...Option) (*ServiceDefinition, error) {
	var def *ServiceDefinition

	if typ, ok := target.(reflect.Type); ok {
		def = &ServiceDefinition{Type: typ, ImplType: typ}
	} else {
		v := reflect.ValueOf(target)
		switch v.Kind() {
		case reflect.Func:
			if v.Type().NumOut() == 0 {
				return nil, fmt.Errorf("di: constructor %v must return at least one value", v.Type())
			}
			def = &ServiceDefinition{Type: v.Type().Out(0), Impl: target, IsFactory: true}
		case reflect.Pointer:
			if v.IsNil() {
				return nil, fmt.Errorf("di: cannot provide nil %T", target)
			}
			def = &ServiceDefinition{Type: v.Type(), Impl: target, IsValue: true}
			def.InjectFields = hasInjectTags(v.Type())
		default:
			return nil, fmt.Errorf("di: unsupported provide target %T", target)
		}
	}

	for _, opt := range opts {
		opt(def)
	}
	if def.IsValue {
		def.Scope = ScopeSingleton
	}
	return def, nil
}

// MustProvide 同 Provide，失败时 panic
func (c *Container) MustProvide(target any, opts ...Option) {
	if _, err := c.Provide(target, opts...); err != nil {
		panic(err)
	}
}

// Register 注册类型 T，实例通过结构体注入创建
func Register[T any](c *Container, opts ...Option) error {
	_, err := c.Provide(TypeOf[T](), opts...)
	return err
}

func hasInjectTags(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if _, ok := t.Field(i).Tag.Lookup("di"); ok {
			return true
		}
	}
	return false
}

// checkDefinition 检查实现能赋给服务类型
func checkDefinition(def *ServiceDefinition) error {
	if def.Type == nil {
		return errors.New("di: service type is required")
	}
	var produced reflect.Type
	switch {
	case def.IsValue:
		produced = reflect.TypeOf(def.Impl)
	case def.IsFactory:
		fn := reflect.TypeOf(def.Impl)
		if fn == nil || fn.Kind() != reflect.Func || fn.NumOut() == 0 {
			return fmt.Errorf("di: factory for %v must be a function returning a value", def.Type)
		}
		produced = fn.Out(0)
	default:
		produced = def.ImplType
		if produced == nil {
			return fmt.Errorf("di: no implementation for %v", def.Type)
		}
		if produced.Kind() == reflect.Interface {
			return fmt.Errorf("di: interface %v needs an implementation, use di.Use", def.Type)
		}
	}
	if !produced.AssignableTo(def.Type) {
		return fmt.Errorf("di: %v is not assignable to %v", produced, def.Type)
	}
	return nil
}

// Build 构建依赖图并按依赖顺序创建所有单例
func (c *Container) Build() error {
	c.mu.Lock()
	if c.built.Load() {
		c.mu.Unlock()
		return nil
	}
	graph := &graphBuilder{definitions: c.definitions}
	order, err := graph.buildOrder()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	// 此后定义不可变
	c.built.Store(true)
	c.mu.Unlock()

	for _, key := range order {
		if c.definitions[key].Scope != ScopeSingleton {
			continue
		}
		if _, err := c.GetNamed(key.Type, key.Name); err != nil {
			return fmt.Errorf("di: build singleton %v: %w", key, err)
		}
	}
	return nil
}

// Get 解析未命名的服务
func (c *Container) Get(typ reflect.Type) (any, error) {
	return c.GetNamed(typ, "")
}

// GetNamed 解析服务。*di.Container 总是解析为容器自身。
func (c *Container) GetNamed(typ reflect.Type, name string) (any, error) {
	if !c.built.Load() {
		return nil, ErrNotBuilt
	}
	if typ == containerType && name == "" {
		return c, nil
	}
	key := ServiceKey{Type: typ, Name: name}
	def, ok := c.definitions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, key)
	}

	if def.Scope == ScopeTransient {
		return c.create(def)
	}
	def.once.Do(func() {
		def.inst, def.err = c.create(def)
		if def.err == nil {
			c.track(def.inst)
		}
	})
	return def.inst, def.err
}

func (c *Container) track(inst any) {
	closer, ok := inst.(io.Closer)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer)
}

// Resolve 解析类型 T 的未命名服务
func Resolve[T any](c *Container) (T, error) {
	return ResolveNamed[T](c, "")
}

// ResolveNamed 解析类型 T 的命名服务
func ResolveNamed[T any](c *Container, name string) (T, error) {
	var zero T
	v, err := c.GetNamed(TypeOf[T](), name)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	result, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("di: resolved value is %T, expected %v", v, TypeOf[T]())
	}
	return result, nil
}

// ResolveToken 解析 Token 标识的服务
func ResolveToken[T any](c *Container, token *Token[T]) (T, error) {
	return ResolveNamed[T](c, token.Name())
}

// InjectFields 为已有的结构体指针注入带 di 标签的字段
func (c *Container) InjectFields(target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("di: InjectFields requires a non-nil struct pointer, got %T", target)
	}
	schema := &InjectionSchema{}
	if _, err := analyzeStruct(v.Type(), schema); err != nil {
		return fmt.Errorf("di: %w", err)
	}
	return c.injectFields(v.Elem(), schema)
}

// Close 以创建的逆序关闭实现了 io.Closer 的单例
func (c *Container) Close() error {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for _, closer := range slices.Backward(closers) {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("di: close %T: %w", closer, err))
		}
	}
	return errors.Join(errs...)
}

// create 创建 def 描述的服务的新实例
func (c *Container) create(def *ServiceDefinition) (any, error) {
	switch {
	case def.IsValue:
		if def.InjectFields {
			if err := c.injectFields(reflect.ValueOf(def.Impl).Elem(), def.Schema); err != nil {
				return nil, err
			}
		}
		return def.Impl, nil
	case def.IsFactory:
		return c.invoke(def.Impl, def.Schema)
	}
	return c.createStruct(def)
}

// invoke 解析参数并调用工厂函数，最后一个返回值是 error 时检查它
func (c *Container) invoke(fn any, schema *InjectionSchema) (any, error) {
	fnVal := reflect.ValueOf(fn)
	args := make([]reflect.Value, len(schema.Args))
	for i, argType := range schema.Args {
		arg, err := c.Get(argType)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = valueOf(arg, argType)
	}

	results := fnVal.Call(args)
	if len(results) > 1 {
		last := results[len(results)-1]
		if last.Type() == errorType && !last.IsNil() {
			return nil, fmt.Errorf("factory %v: %w", fnVal.Type(), last.Interface().(error))
		}
	}

	first := results[0]
	switch first.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if first.IsNil() {
			return nil, fmt.Errorf("factory %v returned nil", fnVal.Type())
		}
	}
	return first.Interface(), nil
}

// createStruct 实例化结构体并注入带 di 标签的字段
func (c *Container) createStruct(def *ServiceDefinition) (any, error) {
	implType := def.ImplType
	var val reflect.Value
	if implType.Kind() == reflect.Pointer {
		val = reflect.New(implType.Elem())
	} else {
		val = reflect.New(implType)
	}
	if val.Elem().Kind() == reflect.Struct {
		if err := c.injectFields(val.Elem(), def.Schema); err != nil {
			return nil, err
		}
	}
	if implType.Kind() == reflect.Pointer {
		return val.Interface(), nil
	}
	return val.Elem().Interface(), nil
}

func (c *Container) injectFields(structVal reflect.Value, schema *InjectionSchema) error {
	for _, fi := range schema.Fields {
		dep, err := c.GetNamed(fi.Key.Type, fi.Key.Name)
		if err != nil {
			if fi.Optional && errors.Is(err, ErrNotFound) {
				continue
			}
			return fmt.Errorf("field %s: %w", fi.Name, err)
		}
		structVal.Field(fi.Index).Set(valueOf(dep, fi.Key.Type))
	}
	return nil
}

// valueOf 返回可以赋给 typ 的值，nil 接口值转换为零值
func valueOf(v any, typ reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(typ)
	}
	return reflect.ValueOf(v)
}
