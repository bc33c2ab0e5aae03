package suite

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/meta"
)

// Context 扩展回调时的上下文。
//
// 类级别上下文（BeforeAll/AfterAll）没有 Method 和测试实例；
// 测试级别上下文的 Instances 从最外层套件到当前嵌套套件依次排列。
type Context struct {
	t         testing.TB
	parent    *Context
	run       *runner
	exts      extensionList
	class     *meta.Class
	method    *meta.Method
	static    reflect.Value
	classes   []*meta.Class
	instances []reflect.Value
	store     *Store
	logger    logging.Logger
	// 类级别上下文自己管理清理函数和 context，测试级别直接用 t
	ctx      context.Context
	cleanups *cleanupStack
}

type cleanupStack struct {
	mu     sync.Mutex
	fns    []func()
	cancel context.CancelFunc
}

func (s *cleanupStack) push(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
}

// run 先取消 context，再按注册的逆序执行清理函数，清理中注册的函数同样执行
func (s *cleanupStack) run() {
	s.cancel()
	for {
		s.mu.Lock()
		if len(s.fns) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.fns[len(s.fns)-1]
		s.fns = s.fns[:len(s.fns)-1]
		s.mu.Unlock()
		fn()
	}
}

func (c *Context) child(t testing.TB) *Context {
	return &Context{
		t:      t,
		parent: c,
		run:    c.run,
		exts:   c.exts,
		class:  c.class,
		static: c.static,
		store:  newStore(c.store),
		logger: c.run.loggerFor(t),
	}
}

// T 返回当前测试
func (c *Context) T() testing.TB { return c.t }

// Context 返回测试的 context.Context，测试结束（清理函数运行之前）时取消
func (c *Context) Context() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return c.t.Context()
}

// Parent 返回父上下文，顶层类上下文返回 nil
func (c *Context) Parent() *Context { return c.parent }

// Class 返回当前类
func (c *Context) Class() *meta.Class { return c.class }

// Method 返回当前测试方法，类级别上下文返回 nil
func (c *Context) Method() *meta.Method { return c.method }

// Instances 返回测试实例链（外层在前），类级别上下文返回 nil
func (c *Context) Instances() []reflect.Value { return c.instances }

// Instance 返回最内层的测试实例
func (c *Context) Instance() (reflect.Value, bool) {
	if len(c.instances) == 0 {
		return reflect.Value{}, false
	}
	return c.instances[len(c.instances)-1], true
}

// InstanceOf 返回实例链中属于 class 的实例
func (c *Context) InstanceOf(class *meta.Class) (reflect.Value, bool) {
	for i := len(c.classes) - 1; i >= 0; i-- {
		if c.classes[i] == class {
			return c.instances[i], true
		}
	}
	return reflect.Value{}, false
}

// Levels 返回实例链对应的类
func (c *Context) Levels() []*meta.Class { return c.classes }

// StaticInstance 返回当前类的原型实例，类级别字段保存在其中
func (c *Context) StaticInstance() reflect.Value { return c.static }

// Store 返回当前上下文的存储
func (c *Context) Store() *Store { return c.store }

// Logger 返回输出到当前测试的 Logger
func (c *Context) Logger() logging.Logger { return c.logger }

// Settings 返回运行设置
func (c *Context) Settings() *Settings { return c.run.settings }

// Extensions 返回当前类生效的扩展
func (c *Context) Extensions() []Extension { return c.exts }

// Cleanup 注册清理函数，在当前测试（或类）结束后按注册的逆序执行。
// 类级别的清理函数在 AfterAll 之后、Run 返回之前执行。
func (c *Context) Cleanup(fn func()) {
	if c.cleanups != nil {
		c.cleanups.push(fn)
		return
	}
	c.t.Cleanup(fn)
}

// DisplayName 返回上下文的显示名称
func (c *Context) DisplayName() string {
	if c.method != nil {
		return c.class.String() + "#" + c.method.Name()
	}
	return c.class.String()
}

// ParameterContext 描述正在解析的参数
type ParameterContext struct {
	param *meta.Parameter
}

// NewParameterContext 为参数创建 ParameterContext，供扩展在测试中直接调用解析器
func NewParameterContext(p *meta.Parameter) *ParameterContext {
	return &ParameterContext{param: p}
}

// Parameter 返回参数元数据
func (pc *ParameterContext) Parameter() *meta.Parameter { return pc.param }

// Index 返回参数位置（不含接收者）
func (pc *ParameterContext) Index() int { return pc.param.Index() }

// Method 返回参数所属的方法
func (pc *ParameterContext) Method() *meta.Method { return pc.param.Method() }

func (pc *ParameterContext) String() string {
	return fmt.Sprintf("parameter %d (%v) of %s", pc.param.Index(), pc.param.Type(), pc.param.Method())
}

// NewContext 创建独立的类级别上下文，原型是 class 的零值实例。
// 供扩展在单元测试中直接调用解析器，注册的清理函数在 t 结束时执行。
func NewContext(t testing.TB, class *meta.Class, opts ...Option) *Context {
	t.Helper()
	r, err := newRunner(opts...)
	if err != nil {
		t.Fatalf("suite: %v", err)
	}
	cc := r.newClassContext(t, nil, nil, class, reflect.New(class.Type()))
	t.Cleanup(cc.cleanups.run)
	return cc.Context
}
