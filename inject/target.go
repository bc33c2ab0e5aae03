package inject

import (
	"reflect"

	"github.com/gocrud/testkit/meta"
)

// Target 注入目标：结构体字段或方法参数。
//
// 只有两种实现，分别由 FieldTarget 和 ParameterTarget 创建。
// Target 是可比较的值，同一个字段（或参数）创建的 Target 相等，可以作为 map 的键。
type Target interface {
	// DeclaringClass 字段所在的类，或声明参数所属方法的类
	DeclaringClass() *meta.Class
	// Type 声明类型
	Type() reflect.Type
	// Kind 类型的种类
	Kind() reflect.Kind
	// Name 字段名或参数名
	Name() string
	// Element 底层的元数据元素
	Element() meta.Element

	// IsAnnotated 判断是否存在 annType 注解
	IsAnnotated(annType reflect.Type, includeEnclosing bool) bool
	// FindAnnotation 查找 annType 注解。
	// includeEnclosing 为 true 且目标本身没有时，沿词法作用域向外查找，最近的声明优先：
	// 参数依次查找所属方法、声明类、外围类；字段依次查找声明类、外围类。
	FindAnnotation(annType reflect.Type, includeEnclosing bool) (any, bool)
	// FindRepeatableAnnotations 返回第一个带有 annType 注解的作用域上的全部该类注解
	FindRepeatableAnnotations(annType reflect.Type, includeEnclosing bool) []any

	// CreateError 创建与目标种类对应的错误：
	// 字段返回 *ConfigurationError，参数返回 *ParameterResolutionError
	CreateError(message string, cause error) error

	String() string

	target()
}

type fieldTarget struct {
	field *meta.Field
}

type parameterTarget struct {
	param *meta.Parameter
}

// FieldTarget 创建字段目标
func FieldTarget(f *meta.Field) Target { return fieldTarget{field: f} }

// ParameterTarget 创建参数目标
func ParameterTarget(p *meta.Parameter) Target { return parameterTarget{param: p} }

// AsField 返回字段目标背后的字段
func AsField(t Target) (*meta.Field, bool) {
	ft, ok := t.(fieldTarget)
	return ft.field, ok
}

// AsParameter 返回参数目标背后的参数
func AsParameter(t Target) (*meta.Parameter, bool) {
	pt, ok := t.(parameterTarget)
	return pt.param, ok
}

func (t fieldTarget) target()                     {}
func (t fieldTarget) DeclaringClass() *meta.Class { return t.field.Class() }
func (t fieldTarget) Type() reflect.Type          { return t.field.Type() }
func (t fieldTarget) Kind() reflect.Kind          { return t.field.Kind() }
func (t fieldTarget) Name() string                { return t.field.Name() }
func (t fieldTarget) Element() meta.Element       { return t.field }
func (t fieldTarget) String() string              { return "field " + t.field.String() }

func (t fieldTarget) IsAnnotated(annType reflect.Type, includeEnclosing bool) bool {
	_, ok := findAnnotation(t.field, annType, includeEnclosing)
	return ok
}

func (t fieldTarget) FindAnnotation(annType reflect.Type, includeEnclosing bool) (any, bool) {
	return findAnnotation(t.field, annType, includeEnclosing)
}

func (t fieldTarget) FindRepeatableAnnotations(annType reflect.Type, includeEnclosing bool) []any {
	return findRepeatable(t.field, annType, includeEnclosing)
}

func (t fieldTarget) CreateError(message string, cause error) error {
	return &ConfigurationError{Target: t.String(), Message: message, Cause: cause}
}

func (t parameterTarget) target()                     {}
func (t parameterTarget) DeclaringClass() *meta.Class { return t.param.Method().Class() }
func (t parameterTarget) Type() reflect.Type          { return t.param.Type() }
func (t parameterTarget) Kind() reflect.Kind          { return t.param.Kind() }
func (t parameterTarget) Name() string                { return t.param.Name() }
func (t parameterTarget) Element() meta.Element       { return t.param }
func (t parameterTarget) String() string              { return "parameter " + t.param.String() }

func (t parameterTarget) IsAnnotated(annType reflect.Type, includeEnclosing bool) bool {
	_, ok := findAnnotation(t.param, annType, includeEnclosing)
	return ok
}

func (t parameterTarget) FindAnnotation(annType reflect.Type, includeEnclosing bool) (any, bool) {
	return findAnnotation(t.param, annType, includeEnclosing)
}

func (t parameterTarget) FindRepeatableAnnotations(annType reflect.Type, includeEnclosing bool) []any {
	return findRepeatable(t.param, annType, includeEnclosing)
}

func (t parameterTarget) CreateError(message string, cause error) error {
	return &ParameterResolutionError{Target: t.String(), Message: message, Cause: cause}
}

func findAnnotation(e meta.Element, annType reflect.Type, includeEnclosing bool) (any, bool) {
	if !includeEnclosing {
		return meta.Find(e, annType)
	}
	for scope := range meta.Scopes(e) {
		if ann, ok := meta.Find(scope, annType); ok {
			return ann, true
		}
	}
	return nil, false
}

func findRepeatable(e meta.Element, annType reflect.Type, includeEnclosing bool) []any {
	if !includeEnclosing {
		return meta.FindAll(e, annType)
	}
	for scope := range meta.Scopes(e) {
		if anns := meta.FindAll(scope, annType); len(anns) > 0 {
			return anns
		}
	}
	return nil
}

// Find 泛型版本的 FindAnnotation
func Find[A any](t Target, includeEnclosing bool) (A, bool) {
	var zero A
	ann, ok := t.FindAnnotation(meta.TypeOf[A](), includeEnclosing)
	if !ok {
		return zero, false
	}
	return ann.(A), true
}

// FindAll 泛型版本的 FindRepeatableAnnotations
func FindAll[A any](t Target, includeEnclosing bool) []A {
	anns := t.FindRepeatableAnnotations(meta.TypeOf[A](), includeEnclosing)
	result := make([]A, 0, len(anns))
	for _, ann := range anns {
		result = append(result, ann.(A))
	}
	return result
}
