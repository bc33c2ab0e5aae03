package meta

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

var (
	// ErrUnknownType 类型名称无法解析
	ErrUnknownType = errors.New("unknown type")
	// ErrAmbiguousType 简单类型名称匹配到多个类型
	ErrAmbiguousType = errors.New("ambiguous type name")
	// ErrNotStruct 类元数据只能建立在结构体类型上
	ErrNotStruct = errors.New("not a struct type")
)

// TypeOf 获取类型 T 的 reflect.Type（接口类型同样适用）
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// builtinTypes 内置类型名称表，只在包初始化时构建，之后只读
var builtinTypes = map[string]reflect.Type{
	"bool":        TypeOf[bool](),
	"int":         TypeOf[int](),
	"int8":        TypeOf[int8](),
	"int16":       TypeOf[int16](),
	"int32":       TypeOf[int32](),
	"int64":       TypeOf[int64](),
	"uint":        TypeOf[uint](),
	"uint8":       TypeOf[uint8](),
	"uint16":      TypeOf[uint16](),
	"uint32":      TypeOf[uint32](),
	"uint64":      TypeOf[uint64](),
	"uintptr":     TypeOf[uintptr](),
	"float32":     TypeOf[float32](),
	"float64":     TypeOf[float64](),
	"complex64":   TypeOf[complex64](),
	"complex128":  TypeOf[complex128](),
	"string":      TypeOf[string](),
	"byte":        TypeOf[byte](),
	"rune":        TypeOf[rune](),
	"error":       TypeOf[error](),
	"any":         TypeOf[any](),
	"interface{}": TypeOf[any](),
}

// QualifiedName 返回命名类型的全限定名称：import/path.TypeName。
// 未命名类型返回 reflect 的字符串表示。
func QualifiedName(t reflect.Type) string {
	if t.Name() == "" || t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// typeIndex 记录所有已知的命名类型
type typeIndex struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type   // 全限定名称
	byPkg  map[string][]reflect.Type // 包名限定名称（reflect 字符串表示），不同导入路径可能同名
	simple map[string][]reflect.Type // 简单名称
}

var knownTypes = &typeIndex{
	byName: make(map[string]reflect.Type),
	byPkg:  make(map[string][]reflect.Type),
	simple: make(map[string][]reflect.Type),
}

// add 登记 t 以及它引用的命名类型
func (idx *typeIndex) add(t reflect.Type) {
	for t != nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Chan:
			t = t.Elem()
			continue
		case reflect.Map:
			idx.add(t.Key())
			t = t.Elem()
			continue
		}
		break
	}
	if t == nil || t.Name() == "" || t.PkgPath() == "" {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	qn := QualifiedName(t)
	if _, exists := idx.byName[qn]; exists {
		return
	}
	idx.byName[qn] = t
	idx.byPkg[t.String()] = append(idx.byPkg[t.String()], t)
	idx.simple[t.Name()] = append(idx.simple[t.Name()], t)
}

// Register 登记类型，使其可以通过名称解析（例如方法引用中的类名与参数类型）。
// 参数可以是任意值（取其动态类型）或 reflect.Type。
func Register(values ...any) {
	for _, v := range values {
		if t, ok := v.(reflect.Type); ok {
			knownTypes.add(t)
			continue
		}
		if v != nil {
			knownTypes.add(reflect.TypeOf(v))
		}
	}
}

// TypeByName 按名称解析类型。
//
// 支持内置类型名、全限定名（import/path.Name）、包名限定名（pkg.Name）、
// 在 context 所在包内的简单名称、全局唯一的简单名称，以及复合形式
// *T、[]T、[N]T、map[K]V。
func TypeByName(name string, context *Class) (reflect.Type, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty type name", ErrUnknownType)
	}

	switch {
	case strings.HasPrefix(name, "*"):
		elem, err := TypeByName(name[1:], context)
		if err != nil {
			return nil, err
		}
		return reflect.PointerTo(elem), nil
	case strings.HasPrefix(name, "[]"):
		elem, err := TypeByName(name[2:], context)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(elem), nil
	case strings.HasPrefix(name, "map["):
		end := matchingBracket(name, 3)
		if end < 0 {
			return nil, fmt.Errorf("%w: unbalanced brackets in %q", ErrUnknownType, name)
		}
		key, err := TypeByName(name[4:end], context)
		if err != nil {
			return nil, err
		}
		elem, err := TypeByName(name[end+1:], context)
		if err != nil {
			return nil, err
		}
		if !key.Comparable() {
			return nil, fmt.Errorf("%w: invalid map key type %s", ErrUnknownType, key)
		}
		return reflect.MapOf(key, elem), nil
	case strings.HasPrefix(name, "["):
		end := matchingBracket(name, 0)
		if end < 0 {
			return nil, fmt.Errorf("%w: unbalanced brackets in %q", ErrUnknownType, name)
		}
		n, err := strconv.Atoi(name[1:end])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: invalid array length in %q", ErrUnknownType, name)
		}
		elem, err := TypeByName(name[end+1:], context)
		if err != nil {
			return nil, err
		}
		return reflect.ArrayOf(n, elem), nil
	}

	if t, ok := builtinTypes[name]; ok {
		return t, nil
	}

	knownTypes.mu.RLock()
	defer knownTypes.mu.RUnlock()

	if t, ok := knownTypes.byName[name]; ok {
		return t, nil
	}
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}

	candidates := knownTypes.byPkg[name]
	if !strings.Contains(name, ".") {
		// 优先 context 所在包
		if context != nil {
			if t, ok := knownTypes.byName[context.typ.PkgPath()+"."+name]; ok {
				return t, nil
			}
		}
		candidates = knownTypes.simple[name]
	}
	return pick(name, candidates, context)
}

// pick 从同名候选中选出唯一的类型，有多个时优先 context 所在包
func pick(name string, candidates []reflect.Type, context *Class) (reflect.Type, error) {
	switch len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	case 1:
		return candidates[0], nil
	}
	if context != nil {
		for _, c := range candidates {
			if c.PkgPath() == context.typ.PkgPath() {
				return c, nil
			}
		}
	}
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, QualifiedName(c))
	}
	sort.Strings(names)
	return nil, fmt.Errorf("%w: %s matches %s", ErrAmbiguousType, name, strings.Join(names, ", "))
}

// matchingBracket 返回与 s[open] 处 '[' 配对的 ']' 的位置
func matchingBracket(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
