// Package throwable 按错误类型分派断言。
//
//	throwable.Expect(t, func() (*Config, error) { return Load(path) }).
//		IsExactly(meta.TypeOf[*fs.PathError]()).
//		WithAssertions(func(err error) { ... }).
//		IsInstanceOf(meta.TypeOf[net.Error]()).
//		WithNoAssertions().
//		OrNothingThrown().
//		WithValueAssertions(func(c *Config) { ... }).
//		Execute()
//
// 代码返回的非 nil 错误和代码中的 panic 都视为“抛出”。
// 分派顺序：先按错误的动态类型查精确匹配，再沿 Unwrap 链（先序遍历，包括 errors.Join
// 的多个错误）逐层查实例匹配，同一层内按注册顺序；第一个匹配的断言被执行。
package throwable

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/stretchr/testify/require"

	"github.com/gocrud/testkit/meta"
)

var errorType = meta.TypeOf[error]()

// PanicError 代码以非 error 值 panic 时的包装
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

type registration struct {
	typ   reflect.Type
	block func(error)
}

// Asserter 单次使用的分阶段断言器，不能在多个 goroutine 间共享
type Asserter[T any] struct {
	t       require.TestingT
	code    func() (T, error)
	message func() string

	state    State
	exact    map[reflect.Type]*registration
	instance []*registration
	expected []reflect.Type
	pending  *registration

	nothingThrown bool
	noErrorBlock  func(T)
}

// Expect 创建断言器
func Expect[T any](t require.TestingT, code func() (T, error)) *Asserter[T] {
	if code == nil {
		panic(&ConfigurationError{Op: "Expect", Message: "code must not be nil"})
	}
	return &Asserter[T]{
		t:     t,
		code:  code,
		state: Initialized,
		exact: make(map[reflect.Type]*registration),
	}
}

// ExpectMessage 创建断言器，失败信息以 message 开头
func ExpectMessage[T any](t require.TestingT, code func() (T, error), message string) *Asserter[T] {
	a := Expect(t, code)
	a.message = func() string { return message }
	return a
}

// ExpectMessageFunc 创建断言器，失败时才调用 message 生成信息
func ExpectMessageFunc[T any](t require.TestingT, code func() (T, error), message func() string) *Asserter[T] {
	a := Expect(t, code)
	a.message = message
	return a
}

// ExpectCall 为只返回 error 的代码创建断言器
func ExpectCall(t require.TestingT, code func() error) *Asserter[struct{}] {
	if code == nil {
		panic(&ConfigurationError{Op: "ExpectCall", Message: "code must not be nil"})
	}
	return Expect(t, func() (struct{}, error) { return struct{}{}, code() })
}

// State 返回当前阶段
func (a *Asserter[T]) State() State { return a.state }

func (a *Asserter[T]) require(op string, allowed ...State) {
	for _, s := range allowed {
		if a.state == s {
			return
		}
	}
	panic(&ConfigurationError{Op: op, Expected: allowed, Actual: a.state})
}

func (a *Asserter[T]) checkErrorType(op string, typ reflect.Type) {
	if typ == nil {
		panic(&ConfigurationError{Op: op, Message: "error type must not be nil"})
	}
	if !typ.Implements(errorType) {
		panic(&ConfigurationError{Op: op, Message: fmt.Sprintf("%v does not implement error", typ)})
	}
}

func (a *Asserter[T]) addExpected(typ reflect.Type) {
	for _, t := range a.expected {
		if t == typ {
			return
		}
	}
	a.expected = append(a.expected, typ)
}

// IsExactly 期望抛出动态类型恰好为 typ 的错误
func (a *Asserter[T]) IsExactly(typ reflect.Type) *Asserter[T] {
	const op = "IsExactly"
	a.require(op, Initialized, Configured)
	a.checkErrorType(op, typ)
	if typ.Kind() == reflect.Interface {
		panic(&ConfigurationError{Op: op, Message: fmt.Sprintf("%v is an interface type, use IsInstanceOf", typ)})
	}
	if _, dup := a.exact[typ]; dup {
		panic(&ConfigurationError{Op: op, Message: fmt.Sprintf("%v is already registered", typ)})
	}

	reg := &registration{typ: typ}
	a.exact[typ] = reg
	a.addExpected(typ)
	a.pending = reg
	a.state = ConfiguringErrorType
	return a
}

// IsInstanceOf 期望抛出的错误（或其 Unwrap 链上的某个错误）是 typ 类型或实现了接口 typ
func (a *Asserter[T]) IsInstanceOf(typ reflect.Type) *Asserter[T] {
	const op = "IsInstanceOf"
	a.require(op, Initialized, Configured)
	a.checkErrorType(op, typ)
	for _, reg := range a.instance {
		if reg.typ == typ {
			panic(&ConfigurationError{Op: op, Message: fmt.Sprintf("%v is already registered", typ)})
		}
	}

	reg := &registration{typ: typ}
	a.instance = append(a.instance, reg)
	a.addExpected(typ)
	a.pending = reg
	a.state = ConfiguringErrorType
	return a
}

// Exactly 泛型版本的 IsExactly
func Exactly[E error, T any](a *Asserter[T]) *Asserter[T] {
	return a.IsExactly(meta.TypeOf[E]())
}

// InstanceOf 泛型版本的 IsInstanceOf
func InstanceOf[E error, T any](a *Asserter[T]) *Asserter[T] {
	return a.IsInstanceOf(meta.TypeOf[E]())
}

// WithAssertions 设置刚注册的错误类型的断言，参数是匹配到的错误
func (a *Asserter[T]) WithAssertions(block func(err error)) *Asserter[T] {
	const op = "WithAssertions"
	a.require(op, ConfiguringErrorType)
	if block == nil {
		panic(&ConfigurationError{Op: op, Message: "assertions must not be nil, use WithNoAssertions"})
	}
	a.pending.block = block
	a.pending = nil
	a.state = Configured
	return a
}

// WithNoAssertions 刚注册的错误类型（或不抛出错误的情况）不需要额外断言
func (a *Asserter[T]) WithNoAssertions() *Asserter[T] {
	a.require("WithNoAssertions", ConfiguringErrorType, ConfiguringNoError)
	if a.state == ConfiguringErrorType {
		a.pending.block = func(error) {}
		a.pending = nil
	} else {
		a.noErrorBlock = func(T) {}
	}
	a.state = Configured
	return a
}

// OrNothingThrown 允许代码正常完成，最多声明一次
func (a *Asserter[T]) OrNothingThrown() *Asserter[T] {
	const op = "OrNothingThrown"
	a.require(op, Initialized, Configured)
	if a.nothingThrown {
		panic(&ConfigurationError{Op: op, Message: "already declared"})
	}
	a.nothingThrown = true
	a.state = ConfiguringNoError
	return a
}

// WithValueAssertions 设置代码正常完成时对返回值的断言
func (a *Asserter[T]) WithValueAssertions(block func(value T)) *Asserter[T] {
	const op = "WithValueAssertions"
	a.require(op, ConfiguringNoError)
	if block == nil {
		panic(&ConfigurationError{Op: op, Message: "assertions must not be nil, use WithNoAssertions"})
	}
	a.noErrorBlock = block
	a.state = Configured
	return a
}

// Execute 运行代码并分派到匹配的断言，只能调用一次。
//
// 断言失败通过 require.Fail 报告（会调用 t.FailNow）。
// 未匹配的 runtime.Error 会原样重新 panic。
func (a *Asserter[T]) Execute() *Result[T] {
	const op = "Execute"
	a.require(op, Configured)
	if len(a.expected) == 0 {
		panic(&ConfigurationError{Op: op, Message: "no expected error type registered"})
	}
	a.state = Asserted

	value, err, recovered := a.run()
	if err == nil {
		if !a.nothingThrown {
			a.fail(fmt.Sprintf("expected one of %s to be thrown, but nothing was thrown", a.expectedNames()))
		} else {
			a.noErrorBlock(value)
		}
		return &Result[T]{value: value}
	}

	if reg, matched := a.dispatch(err); reg != nil {
		reg.block(matched)
		return &Result[T]{err: err}
	}

	if isUnrecoverable(err) {
		if recovered != nil {
			panic(recovered)
		}
		panic(err)
	}
	a.fail(fmt.Sprintf("unexpected error type %T thrown, expected one of %s\ncause: %+v",
		err, a.expectedNames(), err))
	return &Result[T]{err: err}
}

// run 调用代码，panic 转换为错误；runtime.Goexit（t.FailNow）不会被拦截
func (a *Asserter[T]) run() (value T, err error, recovered any) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		recovered = r
		if e, ok := r.(error); ok {
			err = e
			return
		}
		err = &PanicError{Value: r, Stack: debug.Stack()}
	}()
	value, err = a.code()
	return value, err, nil
}

// dispatch 返回匹配的注册项以及交给断言的错误
func (a *Asserter[T]) dispatch(err error) (*registration, error) {
	if reg, ok := a.exact[reflect.TypeOf(err)]; ok {
		return reg, err
	}
	var found *registration
	var matched error
	walkChain(err, func(e error) bool {
		et := reflect.TypeOf(e)
		for _, reg := range a.instance {
			if et == reg.typ || (reg.typ.Kind() == reflect.Interface && et.Implements(reg.typ)) {
				found, matched = reg, e
				return false
			}
		}
		return true
	})
	return found, matched
}

// walkChain 先序遍历错误链，visit 返回 false 时停止
func walkChain(err error, visit func(error) bool) bool {
	if err == nil {
		return true
	}
	if !visit(err) {
		return false
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return walkChain(u.Unwrap(), visit)
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if !walkChain(e, visit) {
				return false
			}
		}
	}
	return true
}

func isUnrecoverable(err error) bool {
	var re runtime.Error
	return errors.As(err, &re)
}

func (a *Asserter[T]) expectedNames() string {
	names := make([]string, len(a.expected))
	for i, t := range a.expected {
		names[i] = t.String()
	}
	return "[" + strings.Join(names, ", ") + "]"
}

func (a *Asserter[T]) fail(msg string) {
	if h, ok := a.t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if a.message != nil {
		require.Fail(a.t, msg, a.message())
		return
	}
	require.Fail(a.t, msg)
}
