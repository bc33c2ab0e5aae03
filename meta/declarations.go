package meta

import (
	"errors"
	"fmt"
	"reflect"
)

const annotateMethod = "Annotate"

// Annotated 由需要声明注解的结构体实现。
//
// Annotate 在构建类元数据时以零值接收者调用，只能通过 d 声明元数据，
// 不能依赖接收者状态。并发构建同一个类时可能调用不止一次。
// 其中可以调用 ClassOf 获取其他类。
//
//	func (*UserSuite) Annotate(d *meta.Declarations) {
//		d.Class(resource.Root{Dir: "testdata/users"})
//		d.Method("TestLoad").Param(1, resource.File{Path: "users.yaml"})
//		d.Func("parseUser", parseUser)
//	}
type Annotated interface {
	Annotate(d *Declarations)
}

// Declarations 收集一个类上声明的注解和函数
type Declarations struct {
	class *Class
	errs  []error
}

// MethodDecl 方法（或声明的函数）的声明句柄
type MethodDecl struct {
	d       *Declarations
	methods []*Method
}

// Class 为类添加注解
func (d *Declarations) Class(anns ...any) *Declarations {
	d.class.anns = append(d.class.anns, anns...)
	return d
}

// Field 为字段添加注解
func (d *Declarations) Field(name string, anns ...any) *Declarations {
	f, ok := d.class.Field(name)
	if !ok {
		d.errs = append(d.errs, fmt.Errorf("no field named %q", name))
		return d
	}
	f.anns = append(f.anns, anns...)
	return d
}

// Method 返回接收者方法 name 的声明句柄
func (d *Declarations) Method(name string) *MethodDecl {
	var found []*Method
	for _, m := range d.class.methods {
		if m.name == name && !m.static {
			found = append(found, m)
		}
	}
	if len(found) == 0 {
		d.errs = append(d.errs, fmt.Errorf("no method named %q", name))
	}
	return &MethodDecl{d: d, methods: found}
}

// Func 声明一个属于该类的函数（相当于静态方法）。
// 同名函数可以声明多次，只要参数列表不同。
func (d *Declarations) Func(name string, fn any, anns ...any) *MethodDecl {
	fv := reflect.ValueOf(fn)
	if name == "" || fv.Kind() != reflect.Func || fv.IsNil() {
		d.errs = append(d.errs, fmt.Errorf("func %q: want a non-nil function, got %T", name, fn))
		return &MethodDecl{d: d}
	}
	m := newMethod(d.class, name, fv, true)
	for _, existing := range d.class.methods {
		if existing.name == name && sameTypes(existing.ParameterTypes(), m.ParameterTypes()) {
			d.errs = append(d.errs, fmt.Errorf("func %s%s declared twice", name, m.Signature()))
			return &MethodDecl{d: d}
		}
	}
	m.anns = append(m.anns, anns...)
	d.class.methods = append(d.class.methods, m)
	return &MethodDecl{d: d, methods: []*Method{m}}
}

// Annotate 为方法添加注解
func (md *MethodDecl) Annotate(anns ...any) *MethodDecl {
	for _, m := range md.methods {
		m.anns = append(m.anns, anns...)
	}
	return md
}

// Param 为第 index 个参数（不含接收者）添加注解
func (md *MethodDecl) Param(index int, anns ...any) *MethodDecl {
	for _, m := range md.methods {
		if index < 0 || index >= len(m.params) {
			md.d.errs = append(md.d.errs, fmt.Errorf("%s: no parameter %d", m, index))
			continue
		}
		m.params[index].anns = append(m.params[index].anns, anns...)
	}
	return md
}

// Named 设置参数名称
func (md *MethodDecl) Named(names ...string) *MethodDecl {
	for _, m := range md.methods {
		for i, name := range names {
			if i < len(m.params) {
				m.params[i].name = name
			}
		}
	}
	return md
}

func (d *Declarations) err() error {
	return errors.Join(d.errs...)
}
