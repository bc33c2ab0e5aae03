package meta

import (
	"fmt"
	"iter"
	"reflect"
	"sync"
)

// Element 是可以携带注解的元素：类、字段、方法或参数。
//
// 注解可以是任意 Go 值，注解的类型即其动态类型。
type Element interface {
	// Annotations 返回直接声明在该元素上的注解（按声明顺序）
	Annotations() []any
	String() string
}

// TagDecoder 将结构体标签解析为注解值
//
// 返回 nil 注解表示忽略该标签。
type TagDecoder func(field reflect.StructField, value string) (any, error)

type tagEntry struct {
	key    string
	decode TagDecoder
}

var tagRegistry struct {
	mu      sync.RWMutex
	entries []tagEntry
}

// RegisterTag 注册结构体标签解码器。
// 构建类元数据时，带有该标签的字段会获得解码出的注解。
// 重复注册同一个 key 会 panic。
func RegisterTag(key string, decode TagDecoder) {
	if key == "" || decode == nil {
		panic("meta: RegisterTag requires a key and a decoder")
	}
	tagRegistry.mu.Lock()
	defer tagRegistry.mu.Unlock()
	for _, e := range tagRegistry.entries {
		if e.key == key {
			panic(fmt.Sprintf("meta: tag %q already registered", key))
		}
	}
	tagRegistry.entries = append(tagRegistry.entries, tagEntry{key: key, decode: decode})
}

func decodeTags(field reflect.StructField) ([]any, error) {
	tagRegistry.mu.RLock()
	entries := tagRegistry.entries
	tagRegistry.mu.RUnlock()

	var anns []any
	for _, e := range entries {
		value, ok := field.Tag.Lookup(e.key)
		if !ok {
			continue
		}
		ann, err := e.decode(field, value)
		if err != nil {
			return nil, fmt.Errorf("tag %s:%q: %w", e.key, value, err)
		}
		if ann != nil {
			anns = append(anns, ann)
		}
	}
	return anns, nil
}

// matches 判断注解是否属于给定的注解类型（接口类型按实现关系匹配）
func matches(ann any, annType reflect.Type) bool {
	if ann == nil {
		return false
	}
	t := reflect.TypeOf(ann)
	if t == annType {
		return true
	}
	return annType.Kind() == reflect.Interface && t.Implements(annType)
}

// Find 返回元素上第一个类型为 annType 的注解
func Find(e Element, annType reflect.Type) (any, bool) {
	for _, ann := range e.Annotations() {
		if matches(ann, annType) {
			return ann, true
		}
	}
	return nil, false
}

// FindAll 返回元素上所有类型为 annType 的注解（可重复注解）
func FindAll(e Element, annType reflect.Type) []any {
	var found []any
	for _, ann := range e.Annotations() {
		if matches(ann, annType) {
			found = append(found, ann)
		}
	}
	return found
}

// IsAnnotated 判断元素是否直接携带 annType 注解
func IsAnnotated(e Element, annType reflect.Type) bool {
	_, ok := Find(e, annType)
	return ok
}

// FindAnnotation 泛型版本的 Find
func FindAnnotation[A any](e Element) (A, bool) {
	var zero A
	ann, ok := Find(e, TypeOf[A]())
	if !ok {
		return zero, false
	}
	return ann.(A), true
}

// FindAnnotations 泛型版本的 FindAll
func FindAnnotations[A any](e Element) []A {
	anns := FindAll(e, TypeOf[A]())
	result := make([]A, 0, len(anns))
	for _, ann := range anns {
		result = append(result, ann.(A))
	}
	return result
}

// Scopes 返回元素的词法作用域链，从元素本身开始向外：
//
//	参数 -> 所属方法 -> 声明类 -> 外围类 -> ... -> 顶层类
//	字段 -> 声明类 -> 外围类 -> ... -> 顶层类
//	方法 -> 声明类 -> 外围类 -> ... -> 顶层类
func Scopes(e Element) iter.Seq[Element] {
	return func(yield func(Element) bool) {
		var class *Class
		switch v := e.(type) {
		case *Parameter:
			if !yield(v) || !yield(v.method) {
				return
			}
			class = v.method.class
		case *Method:
			if !yield(v) {
				return
			}
			class = v.class
		case *Field:
			if !yield(v) {
				return
			}
			class = v.class
		case *Class:
			class = v
		default:
			yield(e)
			return
		}
		for c := class; c != nil; c = c.enclosing {
			if !yield(c) {
				return
			}
		}
	}
}
