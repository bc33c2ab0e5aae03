package meta

import (
	"fmt"
	"reflect"
	"strings"
	"unsafe"
)

// Field 结构体字段的元数据
type Field struct {
	class  *Class
	sf     reflect.StructField
	anns   []any
	static bool
	nested bool
	outer  bool
}

func (f *Field) parseModifiers() {
	tag, ok := f.sf.Tag.Lookup(TagKey)
	if !ok {
		return
	}
	for _, part := range strings.Split(tag, ",") {
		switch strings.TrimSpace(part) {
		case "static":
			f.static = true
		case "nested":
			f.nested = true
		case "outer":
			f.outer = true
		}
	}
}

// Name 返回字段名
func (f *Field) Name() string { return f.sf.Name }

// Type 返回字段的声明类型
func (f *Field) Type() reflect.Type { return f.sf.Type }

// Kind 返回字段类型的种类
func (f *Field) Kind() reflect.Kind { return f.sf.Type.Kind() }

// Class 返回声明该字段的类
func (f *Field) Class() *Class { return f.class }

// StructField 返回底层的 reflect.StructField
func (f *Field) StructField() reflect.StructField { return f.sf }

// Annotations 返回字段上的注解（标签解码结果与声明的注解）
func (f *Field) Annotations() []any { return f.anns }

// IsStatic 是否为类级别字段（testkit:"static"）
func (f *Field) IsStatic() bool { return f.static }

// IsNested 是否为嵌套测试套件字段（testkit:"nested"）
func (f *Field) IsNested() bool { return f.nested }

// IsOuter 是否为指向外围实例的字段（testkit:"outer"）
func (f *Field) IsOuter() bool { return f.outer }

// IsExported 字段是否导出
func (f *Field) IsExported() bool { return f.sf.IsExported() }

func (f *Field) String() string {
	return f.class.String() + "." + f.sf.Name
}

// value 返回 instance 中该字段的可设置值，未导出字段会强制开放访问
func (f *Field) value(instance reflect.Value) (reflect.Value, error) {
	v := instance
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("meta: field %s: nil instance", f)
		}
		v = v.Elem()
	}
	if v.Type() != f.class.typ {
		return reflect.Value{}, fmt.Errorf("meta: field %s: instance is %v, want %v", f, v.Type(), f.class.typ)
	}
	if !v.CanAddr() {
		return reflect.Value{}, fmt.Errorf("meta: field %s: instance is not addressable", f)
	}

	fv := v.Field(f.sf.Index[0])
	if !fv.CanSet() {
		fv = reflect.NewAt(fv.Type(), unsafe.Pointer(fv.UnsafeAddr())).Elem()
	}
	return fv, nil
}

// Get 读取 instance 中的字段值
func (f *Field) Get(instance reflect.Value) (any, error) {
	fv, err := f.value(instance)
	if err != nil {
		return nil, err
	}
	return fv.Interface(), nil
}

// Set 将 value 写入 instance 的字段。
// nil 写入零值；类型可赋值时直接赋值，可转换时先转换。
func (f *Field) Set(instance reflect.Value, value any) error {
	fv, err := f.value(instance)
	if err != nil {
		return err
	}
	if value == nil {
		fv.SetZero()
		return nil
	}
	sv, ok := value.(reflect.Value)
	if !ok {
		sv = reflect.ValueOf(value)
	}
	converted, err := Assignable(sv, fv.Type())
	if err != nil {
		return fmt.Errorf("meta: field %s: %w", f, err)
	}
	fv.Set(converted)
	return nil
}

// Assignable 将 v 调整为可以赋值给 target 类型的值
func Assignable(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	if !v.IsValid() {
		return reflect.Zero(target), nil
	}
	if v.Type().AssignableTo(target) {
		return v, nil
	}
	if target.Kind() != reflect.Interface && v.Type().ConvertibleTo(target) && sameFamily(v.Type(), target) {
		return v.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot assign %v to %v", v.Type(), target)
}

// sameFamily 只允许同类之间的转换，避免 int -> string 这类意外转换
func sameFamily(a, b reflect.Type) bool {
	family := func(k reflect.Kind) int {
		switch k {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
			reflect.Float32, reflect.Float64:
			return 1
		case reflect.String:
			return 2
		default:
			return 3 + int(k)
		}
	}
	return family(a.Kind()) == family(b.Kind())
}
