package meta

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// TagKey 框架自身使用的结构体标签
//
//	testkit:"static"  类级别字段，在 BeforeAll 阶段注入，所有测试实例共享
//	testkit:"nested"  嵌套测试套件（字段类型必须是结构体指针）
//	testkit:"outer"   嵌套套件中指向外围套件实例的字段
const TagKey = "testkit"

// Class 是结构体类型的元数据，相当于带有外围作用域的“类”。
//
// 同一个结构体类型在不同外围类中会得到不同的 Class，
// 因此 Class 的身份由 (类型, 外围类) 共同决定。
type Class struct {
	typ       reflect.Type
	enclosing *Class
	anns      []any
	fields    []*Field
	methods   []*Method
	embedded  []*Class
}

type classKey struct {
	typ   reflect.Type
	outer *Class
}

// classes 已建好的类。构建过程不持有锁，并发构建同一个键时先发布的生效。
var classes sync.Map // classKey -> *Class

// ClassOf 返回顶层结构体类型的元数据。typ 可以是结构体或结构体指针。
func ClassOf(typ reflect.Type) (*Class, error) {
	return NestedClassOf(typ, nil)
}

// MustClassOf 与 ClassOf 相同，失败时 panic
func MustClassOf(typ reflect.Type) *Class {
	c, err := ClassOf(typ)
	if err != nil {
		panic(err)
	}
	return c
}

// NestedClassOf 返回声明在 outer 内部的结构体类型的元数据
func NestedClassOf(typ reflect.Type, outer *Class) (*Class, error) {
	if typ == nil {
		return nil, fmt.Errorf("meta: nil type")
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("meta: %v: %w", typ, ErrNotStruct)
	}

	return classOf(classKey{typ: typ, outer: outer}, nil)
}

// classOf 返回 key 对应的类。building 是当前调用链上正在构建的类，
// 通过指针嵌入形成的自引用直接得到未完成的类。
func classOf(key classKey, building map[classKey]*Class) (*Class, error) {
	if c, ok := classes.Load(key); ok {
		return c.(*Class), nil
	}
	if c, ok := building[key]; ok {
		return c, nil
	}
	if building == nil {
		building = make(map[classKey]*Class)
	}

	c := &Class{typ: key.typ, enclosing: key.outer}
	building[key] = c
	err := c.build(building)
	delete(building, key)
	if err != nil {
		return nil, err
	}
	actual, _ := classes.LoadOrStore(key, c)
	return actual.(*Class), nil
}

func (c *Class) build(building map[classKey]*Class) error {
	knownTypes.add(c.typ)

	for i := 0; i < c.typ.NumField(); i++ {
		sf := c.typ.Field(i)
		anns, err := decodeTags(sf)
		if err != nil {
			return fmt.Errorf("meta: %s.%s: %w", c.Name(), sf.Name, err)
		}
		f := &Field{class: c, sf: sf, anns: anns}
		f.parseModifiers()
		c.fields = append(c.fields, f)
		knownTypes.add(sf.Type)

		if sf.Anonymous {
			et := sf.Type
			if et.Kind() == reflect.Pointer {
				et = et.Elem()
			}
			if et.Kind() == reflect.Struct {
				parent, err := classOf(classKey{typ: et}, building)
				if err != nil {
					return err
				}
				c.embedded = append(c.embedded, parent)
			}
		}
	}

	pt := reflect.PointerTo(c.typ)
	for i := 0; i < pt.NumMethod(); i++ {
		rm := pt.Method(i)
		if rm.Name == annotateMethod {
			continue
		}
		c.methods = append(c.methods, newMethod(c, rm.Name, rm.Func, false))
	}

	if a, ok := reflect.New(c.typ).Interface().(Annotated); ok {
		d := &Declarations{class: c}
		a.Annotate(d)
		if err := d.err(); err != nil {
			return fmt.Errorf("meta: %s: %w", c.Name(), err)
		}
	}

	for _, m := range c.methods {
		for _, p := range m.params {
			knownTypes.add(p.typ)
		}
	}
	return nil
}

// Type 返回结构体类型
func (c *Class) Type() reflect.Type { return c.typ }

// Name 返回全限定名称
func (c *Class) Name() string { return QualifiedName(c.typ) }

// SimpleName 返回类型名称（不含包路径）
func (c *Class) SimpleName() string { return c.typ.Name() }

// Enclosing 返回外围类，顶层类返回 nil
func (c *Class) Enclosing() *Class { return c.enclosing }

// Annotations 返回类上声明的注解
func (c *Class) Annotations() []any { return c.anns }

// Fields 返回结构体直接声明的字段（按声明顺序）
func (c *Class) Fields() []*Field { return c.fields }

// Field 按名称查找字段
func (c *Class) Field(name string) (*Field, bool) {
	for _, f := range c.fields {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// Methods 返回类自身的方法：*T 的导出方法（包括嵌入提升的方法）和声明的函数
func (c *Class) Methods() []*Method { return c.methods }

// Hierarchy 返回类及其嵌入的结构体类（深度优先，去重）
func (c *Class) Hierarchy() []*Class {
	var result []*Class
	seen := make(map[*Class]bool)
	var walk func(*Class)
	walk = func(k *Class) {
		if seen[k] {
			return
		}
		seen[k] = true
		result = append(result, k)
		for _, e := range k.embedded {
			walk(e)
		}
	}
	walk(c)
	return result
}

// MethodsNamed 返回整个层次结构中名为 name 的方法。
// 嵌入类的接收者方法已经提升到 c 的方法集中，只额外收集嵌入类声明的函数。
func (c *Class) MethodsNamed(name string) []*Method {
	var result []*Method
	for i, k := range c.Hierarchy() {
		for _, m := range k.methods {
			if m.name != name {
				continue
			}
			if i > 0 && !m.static {
				continue
			}
			result = append(result, m)
		}
	}
	return result
}

// FindMethod 按名称和精确的参数类型列表查找方法
func (c *Class) FindMethod(name string, params ...reflect.Type) (*Method, bool) {
	for _, m := range c.MethodsNamed(name) {
		if sameTypes(m.ParameterTypes(), params) {
			return m, true
		}
	}
	return nil, false
}

// Nested 返回标记为 testkit:"nested" 的字段对应的嵌套类
func (c *Class) Nested() ([]*Field, []*Class, error) {
	var fields []*Field
	var nested []*Class
	for _, f := range c.fields {
		if !f.nested {
			continue
		}
		if f.Type().Kind() != reflect.Pointer || f.Type().Elem().Kind() != reflect.Struct {
			return nil, nil, fmt.Errorf("meta: nested field %s must be a struct pointer, got %v", f, f.Type())
		}
		nc, err := NestedClassOf(f.Type(), c)
		if err != nil {
			return nil, nil, err
		}
		fields = append(fields, f)
		nested = append(nested, nc)
	}
	return fields, nested, nil
}

// ClassByName 按名称解析类。
// 名称与 context 或其外围类的名称一致时，返回携带外围作用域的那个 Class。
func ClassByName(name string, context *Class) (*Class, error) {
	name = strings.TrimSpace(name)
	for k := context; k != nil; k = k.enclosing {
		if name == k.SimpleName() || name == k.Name() || name == k.typ.String() {
			return k, nil
		}
	}
	t, err := TypeByName(name, context)
	if err != nil {
		return nil, err
	}
	return ClassOf(t)
}

func (c *Class) String() string {
	if c.enclosing != nil {
		return c.enclosing.String() + "." + c.SimpleName()
	}
	return c.Name()
}

func sameTypes(a, b []reflect.Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
