package di

import (
	"reflect"
	"sync"
)

// ScopeType 服务的生命周期
type ScopeType int

const (
	// ScopeSingleton 每个容器创建一个实例
	ScopeSingleton ScopeType = iota
	// ScopeTransient 每次请求创建一个新实例
	ScopeTransient
)

func (s ScopeType) String() string {
	switch s {
	case ScopeSingleton:
		return "singleton"
	case ScopeTransient:
		return "transient"
	}
	return "unknown"
}

// ServiceKey 服务映射的唯一键
type ServiceKey struct {
	Type reflect.Type
	Name string
}

func (k ServiceKey) String() string {
	if k.Name == "" {
		return k.Type.String()
	}
	return k.Type.String() + "(name=" + k.Name + ")"
}

// FieldInjection 需要注入的结构体字段
type FieldInjection struct {
	Index    int
	Name     string
	Key      ServiceKey
	Optional bool
}

// InjectionSchema 预计算的注入元数据
type InjectionSchema struct {
	Fields []FieldInjection // 结构体注入
	Args   []reflect.Type   // 工厂函数参数
}

// ServiceDefinition 注册服务的元数据
type ServiceDefinition struct {
	Type         reflect.Type
	Name         string
	Scope        ScopeType
	ImplType     reflect.Type // 结构体注入时实例化的类型
	Impl         any          // 工厂函数或预先创建的实例
	IsFactory    bool
	IsValue      bool
	InjectFields bool // 对 IsValue 的实例执行字段注入

	Schema *InjectionSchema

	once sync.Once
	inst any
	err  error
}

// Key 返回定义的服务键
func (d *ServiceDefinition) Key() ServiceKey {
	return ServiceKey{Type: d.Type, Name: d.Name}
}
