package di

import "reflect"

// Option 配置服务注册
type Option func(*ServiceDefinition)

// WithSingleton 每个容器只创建一个实例（默认）
func WithSingleton() Option {
	return func(s *ServiceDefinition) { s.Scope = ScopeSingleton }
}

// WithTransient 每次解析都创建新实例
func WithTransient() Option {
	return func(s *ServiceDefinition) { s.Scope = ScopeTransient }
}

// WithName 设置服务名称，用于命名注入
func WithName(name string) Option {
	return func(s *ServiceDefinition) { s.Name = name }
}

// WithToken 使用 Token 的名称注册服务
func WithToken[T any](token *Token[T]) Option {
	return func(s *ServiceDefinition) {
		s.Type = token.Type()
		s.Name = token.Name()
	}
}

// As 以接口类型 T 注册服务
func As[T any]() Option {
	return func(s *ServiceDefinition) { s.Type = TypeOf[T]() }
}

// Use 指定接口的实现类型，实现类型通过结构体注入创建
func Use[T any]() Option {
	return func(s *ServiceDefinition) {
		s.ImplType = TypeOf[T]()
		s.Impl = nil
		s.IsFactory = false
		s.IsValue = false
	}
}

// Token 带类型的服务名称，用于区分同一类型的多个服务
//
//	var Primary = di.NewToken[*sql.DB]("primary")
//	c.Provide(openPrimary, di.WithToken(Primary))
//	db, err := di.ResolveToken(c, Primary)
type Token[T any] struct {
	name string
}

// NewToken 创建 Token
func NewToken[T any](name string) *Token[T] {
	return &Token[T]{name: name}
}

// Name 返回 Token 的名称
func (t *Token[T]) Name() string { return t.name }

// Type 返回 Token 的类型
func (t *Token[T]) Type() reflect.Type { return TypeOf[T]() }

func (t *Token[T]) String() string {
	return "Token[" + t.Type().String() + "](" + t.name + ")"
}

// TypeOf 返回类型 T 的 reflect.Type
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
