package meta

import (
	"fmt"
	"reflect"
	"strings"
)

var errorType = TypeOf[error]()

// Method 方法元数据。
//
// 接收者方法（static=false）的 fn 第一个参数是接收者；
// 通过 Declarations.Func 声明的函数（static=true）没有接收者，
// 同名函数可以有多个，构成重载集合。
type Method struct {
	class  *Class
	name   string
	fn     reflect.Value
	static bool
	params []*Parameter
	anns   []any
}

// Parameter 方法参数元数据，Index 不计接收者
type Parameter struct {
	method *Method
	index  int
	name   string
	typ    reflect.Type
	anns   []any
}

func newMethod(c *Class, name string, fn reflect.Value, static bool) *Method {
	m := &Method{class: c, name: name, fn: fn, static: static}
	ft := fn.Type()
	offset := 1
	if static {
		offset = 0
	}
	for i := offset; i < ft.NumIn(); i++ {
		m.params = append(m.params, &Parameter{
			method: m,
			index:  i - offset,
			name:   fmt.Sprintf("arg%d", i-offset),
			typ:    ft.In(i),
		})
	}
	return m
}

// Name 返回方法名
func (m *Method) Name() string { return m.name }

// Class 返回声明该方法的类
func (m *Method) Class() *Class { return m.class }

// IsStatic 是否为声明的函数（无接收者）
func (m *Method) IsStatic() bool { return m.static }

// Parameters 返回参数元数据
func (m *Method) Parameters() []*Parameter { return m.params }

// Parameter 返回第 i 个参数
func (m *Method) Parameter(i int) *Parameter { return m.params[i] }

// ParameterTypes 返回参数类型列表（不含接收者）
func (m *Method) ParameterTypes() []reflect.Type {
	types := make([]reflect.Type, len(m.params))
	for i, p := range m.params {
		types[i] = p.typ
	}
	return types
}

// Results 返回返回值类型列表
func (m *Method) Results() []reflect.Type {
	ft := m.fn.Type()
	types := make([]reflect.Type, ft.NumOut())
	for i := range types {
		types[i] = ft.Out(i)
	}
	return types
}

// ValueType 返回方法产生的值类型：第一个非 error 返回值，没有则为 nil
func (m *Method) ValueType() reflect.Type {
	results := m.Results()
	if len(results) == 0 || (len(results) == 1 && results[0] == errorType) {
		return nil
	}
	return results[0]
}

// Annotations 返回方法上的注解
func (m *Method) Annotations() []any { return m.anns }

// Signature 返回参数列表的文本形式，例如 (int, string)
func (m *Method) Signature() string {
	return FormatTypes(m.ParameterTypes())
}

func (m *Method) String() string {
	return m.class.Name() + "#" + m.name + m.Signature()
}

// Call 调用方法。receiver 对声明的函数无意义，可以传无效值。
//
// 若最后一个返回值是 error 且不为 nil，返回该错误；否则返回第一个返回值。
func (m *Method) Call(receiver reflect.Value, args ...any) (any, error) {
	in := make([]reflect.Value, 0, len(args)+1)
	if !m.static {
		recv, err := m.receiver(receiver)
		if err != nil {
			return nil, err
		}
		in = append(in, recv)
	}
	if len(args) != len(m.params) {
		return nil, fmt.Errorf("meta: %s: want %d arguments, got %d", m, len(m.params), len(args))
	}
	for i, arg := range args {
		av, ok := arg.(reflect.Value)
		if !ok {
			av = reflect.ValueOf(arg)
		}
		v, err := Assignable(av, m.params[i].typ)
		if err != nil {
			return nil, fmt.Errorf("meta: %s: argument %d: %w", m, i, err)
		}
		in = append(in, v)
	}

	var results []reflect.Value
	if m.fn.Type().IsVariadic() {
		results = m.fn.CallSlice(in)
	} else {
		results = m.fn.Call(in)
	}

	if len(results) == 0 {
		return nil, nil
	}
	last := results[len(results)-1]
	if last.Type() == errorType {
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
		if len(results) == 1 {
			return nil, nil
		}
	}
	return results[0].Interface(), nil
}

func (m *Method) receiver(v reflect.Value) (reflect.Value, error) {
	want := reflect.PointerTo(m.class.typ)
	if !v.IsValid() {
		return reflect.Value{}, fmt.Errorf("meta: %s: method requires a receiver", m)
	}
	if v.Kind() == reflect.Interface && !v.IsNil() {
		v = v.Elem()
	}
	if v.Type() == m.class.typ && v.CanAddr() {
		v = v.Addr()
	}
	if v.Type() != want {
		return reflect.Value{}, fmt.Errorf("meta: %s: receiver is %v, want %v", m, v.Type(), want)
	}
	return v, nil
}

// Index 参数位置（不含接收者）
func (p *Parameter) Index() int { return p.index }

// Name 参数名称，未声明时为 argN
func (p *Parameter) Name() string { return p.name }

// Type 参数类型
func (p *Parameter) Type() reflect.Type { return p.typ }

// Kind 参数类型的种类
func (p *Parameter) Kind() reflect.Kind { return p.typ.Kind() }

// Method 返回所属方法
func (p *Parameter) Method() *Method { return p.method }

// Annotations 返回参数上的注解
func (p *Parameter) Annotations() []any { return p.anns }

func (p *Parameter) String() string {
	return fmt.Sprintf("%s[%d %s]", p.method, p.index, p.name)
}

// FormatTypes 把类型列表格式化为 (T1, T2)
func FormatTypes(types []reflect.Type) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return "(" + strings.Join(names, ", ") + ")"
}
