package inject

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"unsafe"

	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// TagOptions 解析后的标签："name,flag,key=value"
type TagOptions struct {
	Name    string
	Options map[string]string
}

// ParseTag 解析扩展标签。第一段是名称，"?" 或 "optional" 表示可选，
// 其余各段是 flag 或 key=value 选项。
func ParseTag(tag string) TagOptions {
	parts := strings.Split(tag, ",")
	opts := TagOptions{
		Name:    strings.TrimSpace(parts[0]),
		Options: make(map[string]string),
	}
	if opts.Name == "?" || opts.Name == "optional" {
		opts.Name = ""
		opts.Options["optional"] = ""
	}
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "?" {
			part = "optional"
		}
		key, value, _ := strings.Cut(part, "=")
		opts.Options[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return opts
}

// Has 是否设置了选项
func (o TagOptions) Has(key string) bool {
	_, ok := o.Options[key]
	return ok
}

// Get 返回选项的值
func (o TagOptions) Get(key string) string { return o.Options[key] }

// Optional 是否带有可选标记
func (o TagOptions) Optional() bool { return o.Has("optional") }

type sharedKey struct {
	ext  string
	name string
}

// Shared 返回上下文中扩展 ext 名为 name 的共享资源，不存在时调用 open 打开。
//
// 资源保存在 ctx 的 Store 中：类级别上下文打开的资源对该类的所有测试可见，
// 测试级别打开的资源只属于该测试。close 在对应的测试（或类）结束时调用，
// 关闭失败会报告为测试错误。
func Shared[T any](ctx *suite.Context, ext, name string, open func() (T, func() error, error)) (T, error) {
	var zero T
	v, err := ctx.Store().GetOrCompute(sharedKey{ext, name}, func() (any, error) {
		res, closeFn, err := open()
		if err != nil {
			return nil, err
		}
		ctx.Logger().Debug("opened shared resource",
			logging.F("extension", ext), logging.F("name", name))
		if closeFn != nil {
			ctx.Cleanup(func() {
				if err := closeFn(); err != nil {
					ctx.T().Errorf("%s: close %q: %v", ext, name, err)
				}
			})
		}
		return res, nil
	})
	if err != nil {
		return zero, err
	}
	res, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s: shared resource %q is %T", ext, name, v)
	}
	return res, nil
}

// Invoke 调用扩展通过方法引用找到的方法。
// 接收者方法在当前测试实例链（类级别上下文中为原型）里寻找接收者，
// 包括嵌入的结构体。
func Invoke(ctx *suite.Context, m *meta.Method, args ...any) (any, error) {
	if m.IsStatic() {
		return m.Call(reflect.Value{}, args...)
	}
	want := reflect.PointerTo(m.Class().Type())
	candidates := append([]reflect.Value{}, ctx.Instances()...)
	slices.Reverse(candidates)
	if ctx.StaticInstance().IsValid() {
		candidates = append(candidates, ctx.StaticInstance())
	}
	for _, v := range candidates {
		if recv, ok := embedded(v, want); ok {
			return m.Call(recv, args...)
		}
	}
	return nil, fmt.Errorf("inject: no receiver of type %v for %s", want, m)
}

func embedded(v reflect.Value, want reflect.Type) (reflect.Value, bool) {
	if v.Type() == want {
		return v, true
	}
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	elem := v.Elem()
	for i := 0; i < elem.NumField(); i++ {
		if !elem.Type().Field(i).Anonymous {
			continue
		}
		f := elem.Field(i)
		// 未导出的嵌入字段
		if !f.CanInterface() {
			f = reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem()
		}
		if f.Kind() != reflect.Pointer {
			f = f.Addr()
		}
		if recv, ok := embedded(f, want); ok {
			return recv, true
		}
	}
	return reflect.Value{}, false
}

// Setting 读取扩展的配置项，先查 <ext>.<name>.<key>，再查 <ext>.<key>
func Setting(ctx *suite.Context, ext, name, key string) string {
	cfg := ctx.Settings().Config
	if cfg == nil {
		return ""
	}
	if name != "" {
		if v := cfg.Get(ext + "." + name + "." + key); v != "" {
			return v
		}
	}
	return cfg.Get(ext + "." + key)
}

// Unavailable 处理外部服务连接失败：skip 为 true 时跳过当前测试（或类），否则返回 err
func Unavailable(ctx *suite.Context, skip bool, err error) error {
	if skip {
		ctx.T().Skipf("%v", err)
	}
	return err
}
