// Package web 为测试注入运行在 httptest.Server 上的 gin 引擎。
//
//	type APISuite struct {
//		URL    string       `web:",routes=Routes"`
//		Client *http.Client `web:""`
//	}
//
//	func (*APISuite) Routes(r gin.IRouter) { r.GET("/ping", ...) }
//
// 同名服务器在同一上下文中共享，路由方法和控制器只在创建时注册一次。
package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"

	"github.com/gin-gonic/gin"

	"github.com/gocrud/testkit/di"
	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/lookup"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// ExtensionName 扩展名称
const ExtensionName = "web"

// Server 标记注解。可注入 *Host、*gin.Engine、*httptest.Server、
// *http.Client 以及 string（服务器地址）。
type Server struct {
	Name string
	// Routes 创建时调用的方法引用，签名为 (gin.IRouter) 或 (*suite.Context, gin.IRouter)
	Routes string
	Mode   string `validate:"omitempty,oneof=debug release test"`
}

// Controllers 作用域注解：创建服务器时注册的控制器，最近作用域生效。
//
// 元素可以是 Controller 实例（其 di 字段从测试容器注入），
// 也可以是容器中已注册的服务类型（reflect.Type）。
type Controllers struct {
	Items []any
}

var (
	hostType    = meta.TypeOf[*Host]()
	engineType  = meta.TypeOf[*gin.Engine]()
	serverType  = meta.TypeOf[*httptest.Server]()
	clientType  = meta.TypeOf[*http.Client]()
	stringType  = meta.TypeOf[string]()
	routerType  = meta.TypeOf[gin.IRouter]()
	contextType = meta.TypeOf[*suite.Context]()

	routesLookup = lookup.WithParameterTypes(routerType).
			OrParameterTypes(contextType, routerType)
)

// Extension Web 注入扩展，导入本包时自动注册
var Extension = inject.NewExtension[Server](ExtensionName, resolver{})

func init() {
	meta.RegisterTag(ExtensionName, decodeTag)
	suite.Register(Extension)
}

// decodeTag 解析 `web:"name,routes=method,mode=release"`
func decodeTag(_ reflect.StructField, value string) (any, error) {
	opts := inject.ParseTag(value)
	return Server{Name: opts.Name, Routes: opts.Get("routes"), Mode: opts.Get("mode")}, nil
}

type resolver struct{}

func (resolver) Validate(t inject.Target, _ Server) error {
	return inject.RequireType(t, hostType, engineType, serverType, clientType, stringType)
}

func (resolver) Resolve(ctx *suite.Context, t inject.Target, ann Server) (any, error) {
	name := ann.Name
	if name == "" {
		name = DefaultName
	}
	h, err := inject.Shared(ctx, ExtensionName, name, func() (*Host, func() error, error) {
		h, err := open(ctx, t, name, ann)
		if err != nil {
			return nil, nil, err
		}
		return h, h.Close, nil
	})
	if err != nil {
		return nil, err
	}

	switch t.Type() {
	case hostType:
		return h, nil
	case engineType:
		return h.Engine(), nil
	case serverType:
		return h.Server(), nil
	case clientType:
		return h.Client(), nil
	default:
		return h.URL(""), nil
	}
}

func open(ctx *suite.Context, t inject.Target, name string, ann Server) (*Host, error) {
	opts := NewDefaultOptions(name)
	opts.Logger = ctx.Logger().WithCategory("web")
	if mode := inject.Setting(ctx, ExtensionName, name, "mode"); mode != "" {
		opts.Mode = mode
	}
	if ann.Mode != "" {
		opts.Mode = ann.Mode
	}

	h, err := NewHost(opts)
	if err != nil {
		return nil, err
	}
	if ann.Routes != "" {
		res, err := routesLookup.Find(ann.Routes, t.DeclaringClass())
		if err != nil {
			return nil, t.CreateError("routes method", err)
		}
		args := []any{gin.IRouter(h.Engine())}
		if res.Index == 1 {
			args = []any{ctx, gin.IRouter(h.Engine())}
		}
		if _, err := inject.Invoke(ctx, res.Method, args...); err != nil {
			return nil, fmt.Errorf("web: routes %s: %w", ann.Routes, err)
		}
	}
	if err := mountControllers(ctx, t, h); err != nil {
		return nil, err
	}
	return h, nil
}

func mountControllers(ctx *suite.Context, t inject.Target, h *Host) error {
	var items []any
	for _, c := range inject.FindAll[Controllers](t, true) {
		items = append(items, c.Items...)
	}
	if len(items) == 0 {
		return nil
	}
	c, err := di.ContainerFor(ctx, t)
	if err != nil {
		return err
	}
	for _, item := range items {
		if typ, ok := item.(reflect.Type); ok {
			v, err := c.Get(typ)
			if err != nil {
				return fmt.Errorf("web: controller %v: %w", typ, err)
			}
			item = v
		} else if err := c.InjectFields(item); err != nil {
			return fmt.Errorf("web: controller %T: %w", item, err)
		}
		ctrl, ok := item.(Controller)
		if !ok {
			return fmt.Errorf("web: %T does not implement web.Controller", item)
		}
		h.Mount(ctrl)
	}
	return nil
}
