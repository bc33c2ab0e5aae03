package suite

import (
	"fmt"
	"sync"
)

// Extension 测试扩展的基础接口。
// 扩展至少要实现下面的一个回调接口。
type Extension interface {
	// Name 返回扩展的名称，用于日志记录和去重
	Name() string
}

// BeforeAllCallback 在类的所有测试之前调用一次，ctx 是类级别上下文
type BeforeAllCallback interface {
	BeforeAll(ctx *Context) error
}

// BeforeEachCallback 在每个测试之前调用，测试实例已经创建
type BeforeEachCallback interface {
	BeforeEach(ctx *Context) error
}

// AfterEachCallback 在每个测试之后调用（测试失败时同样调用）
type AfterEachCallback interface {
	AfterEach(ctx *Context) error
}

// AfterAllCallback 在类的所有测试之后调用一次
type AfterAllCallback interface {
	AfterAll(ctx *Context) error
}

// ParameterResolver 为测试方法和生命周期方法的参数提供值。
//
// SupportsParameter 不能有副作用，框架可能多次探测同一个参数。
type ParameterResolver interface {
	SupportsParameter(pc *ParameterContext, ctx *Context) bool
	ResolveParameter(pc *ParameterContext, ctx *Context) (any, error)
}

// ExtendWith 类注解：为类及其嵌套类注册扩展
//
//	func (*UserSuite) Annotate(d *meta.Declarations) {
//		d.Class(suite.ExtendWith{Extensions: []suite.Extension{myExt}})
//	}
type ExtendWith struct {
	Extensions []Extension
}

// Use 创建 ExtendWith 注解
func Use(exts ...Extension) ExtendWith {
	for _, ext := range exts {
		validateExtension(ext)
	}
	return ExtendWith{Extensions: exts}
}

// validateExtension 验证扩展是否实现了支持的接口
// 如果未实现任何支持的接口，将 panic
func validateExtension(ext Extension) {
	switch ext.(type) {
	case BeforeAllCallback, BeforeEachCallback, AfterEachCallback, AfterAllCallback, ParameterResolver:
		return
	}
	panic(fmt.Sprintf("suite: Extension '%s' does not implement any supported interfaces "+
		"(BeforeAllCallback, BeforeEachCallback, AfterEachCallback, AfterAllCallback, ParameterResolver). \n"+
		"Check if your method signatures exactly match the interface definitions.", ext.Name()))
}

var registry struct {
	mu   sync.RWMutex
	exts []Extension
}

// Register 注册全局扩展，对所有套件生效。
// 扩展包通常在 init 中调用，导入包即启用其扩展。
func Register(ext Extension) {
	validateExtension(ext)
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for _, e := range registry.exts {
		if e.Name() == ext.Name() {
			panic(fmt.Sprintf("suite: Extension '%s' already registered", ext.Name()))
		}
	}
	registry.exts = append(registry.exts, ext)
}

func registered() []Extension {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	return append([]Extension(nil), registry.exts...)
}

// extensionList 按注册顺序保存扩展，同名扩展只保留第一个
type extensionList []Extension

func (l extensionList) with(exts ...Extension) extensionList {
	result := append(extensionList(nil), l...)
next:
	for _, ext := range exts {
		for _, e := range result {
			if e.Name() == ext.Name() {
				continue next
			}
		}
		result = append(result, ext)
	}
	return result
}

func (l extensionList) resolvers() []ParameterResolver {
	var result []ParameterResolver
	for _, ext := range l {
		if r, ok := ext.(ParameterResolver); ok {
			result = append(result, r)
		}
	}
	return result
}
