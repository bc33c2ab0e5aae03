// Package lookup 根据文本形式的方法引用查找方法。
//
// 方法引用的语法为 [ClassName#]methodName[(Type1, Type2, ...)]，
// 省略类名时在上下文类中查找。
//
// MethodLookup 声明一组按优先级排列的候选参数签名：
//
//	l := lookup.WithParameterTypes(meta.TypeOf[[]byte]()).
//		OrParameterTypes(meta.TypeOf[string]()).
//		OrParameterTypes(meta.TypeOf[io.Reader]())
//	res, err := l.Find("parseUser", class)
//	switch res.Index { ... }
//
// 构建阶段（OrParameterTypes）不是并发安全的；构建完成后 Find 不再修改
// 任何状态，MethodLookup 可以在多个 goroutine 中共享。
package lookup

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gocrud/testkit/meta"
)

// MethodLookup 带有候选参数签名的方法查找器
type MethodLookup struct {
	candidates [][]reflect.Type
}

// Result 查找结果：找到的方法以及它匹配的候选签名位置
type Result struct {
	Method *meta.Method
	Index  int
}

// WithParameterTypes 以第一个候选签名创建查找器
func WithParameterTypes(types ...reflect.Type) *MethodLookup {
	return &MethodLookup{candidates: [][]reflect.Type{slices.Clone(types)}}
}

// OrParameterTypes 追加一个优先级更低的候选签名。
// 只能在构建阶段调用，不能与 Find 并发。
func (l *MethodLookup) OrParameterTypes(types ...reflect.Type) *MethodLookup {
	l.candidates = append(l.candidates, slices.Clone(types))
	return l
}

// Candidates 返回候选签名的副本
func (l *MethodLookup) Candidates() [][]reflect.Type {
	result := make([][]reflect.Type, len(l.candidates))
	for i, c := range l.candidates {
		result[i] = slices.Clone(c)
	}
	return result
}

// Find 按候选签名查找 reference 指向的方法。
//
// 引用未给出参数列表时，按候选签名的顺序逐个尝试，返回第一个存在的方法；
// 给出参数列表时，先精确解析该方法，再要求其签名是候选之一。
func (l *MethodLookup) Find(reference string, context *meta.Class) (Result, error) {
	ref, err := Parse(reference)
	if err != nil {
		return Result{}, err
	}
	owner, err := resolveOwner(ref, context)
	if err != nil {
		return Result{}, err
	}

	if !ref.HasParams {
		for i, sig := range l.candidates {
			if m, ok := owner.FindMethod(ref.Method, sig...); ok {
				return Result{Method: m, Index: i}, nil
			}
		}
		e := newError(reference, ErrNoSuchMethod, "no method matches any accepted signature")
		e.Tried = l.tried(owner, ref.Method)
		return Result{}, e
	}

	m, err := resolveExplicit(owner, ref)
	if err != nil {
		return Result{}, err
	}
	for i, sig := range l.candidates {
		if c, ok := owner.FindMethod(ref.Method, sig...); ok && c == m {
			return Result{Method: m, Index: i}, nil
		}
	}
	e := newError(reference, ErrUnsupportedSignature,
		fmt.Sprintf("%s is not one of the accepted signatures", m))
	e.Tried = l.tried(owner, ref.Method)
	return Result{}, e
}

func (l *MethodLookup) tried(owner *meta.Class, name string) []string {
	tried := make([]string, len(l.candidates))
	for i, sig := range l.candidates {
		tried[i] = owner.Name() + "#" + name + meta.FormatTypes(sig)
	}
	return tried
}

// FindMethod 不带候选签名地解析方法引用。
//
// 没有参数列表时，方法名必须唯一；有参数列表时按参数类型精确匹配。
func FindMethod(reference string, context *meta.Class) (*meta.Method, error) {
	ref, err := Parse(reference)
	if err != nil {
		return nil, err
	}
	owner, err := resolveOwner(ref, context)
	if err != nil {
		return nil, err
	}
	if ref.HasParams {
		return resolveExplicit(owner, ref)
	}

	methods := owner.MethodsNamed(ref.Method)
	switch len(methods) {
	case 0:
		return nil, newError(reference, ErrNoSuchMethod,
			fmt.Sprintf("%s has no method named %s", owner.Name(), ref.Method))
	case 1:
		return methods[0], nil
	default:
		e := newError(reference, ErrAmbiguousMethod, "add a parameter list to choose one")
		for _, m := range methods {
			e.Tried = append(e.Tried, m.String())
		}
		return nil, e
	}
}

func resolveOwner(ref Reference, context *meta.Class) (*meta.Class, error) {
	if ref.ClassName == "" {
		if context == nil {
			return nil, newError(ref.Raw, ErrClassNotFound, "no class name and no context class")
		}
		return context, nil
	}
	owner, err := meta.ClassByName(ref.ClassName, context)
	if err != nil {
		e := newError(ref.Raw, ErrClassNotFound, ref.ClassName)
		e.Cause = err
		return nil, e
	}
	return owner, nil
}

func resolveExplicit(owner *meta.Class, ref Reference) (*meta.Method, error) {
	types := make([]reflect.Type, len(ref.Params))
	for i, name := range ref.Params {
		t, err := meta.TypeByName(name, owner)
		if err != nil {
			e := newError(ref.Raw, ErrUnknownType, fmt.Sprintf("parameter %d", i))
			e.Cause = err
			return nil, e
		}
		types[i] = t
	}
	m, ok := owner.FindMethod(ref.Method, types...)
	if !ok {
		e := newError(ref.Raw, ErrNoSuchMethod,
			fmt.Sprintf("%s has no method %s%s", owner.Name(), ref.Method, meta.FormatTypes(types)))
		for _, candidate := range owner.MethodsNamed(ref.Method) {
			e.Tried = append(e.Tried, candidate.String())
		}
		return nil, e
	}
	return m, nil
}
