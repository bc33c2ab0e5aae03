package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gocrud/testkit/logging"
)

// Controller 控制器注册自己的路由
type Controller interface {
	MountRoutes(router gin.IRouter)
}

// Host 运行在 httptest.Server 上的 gin 引擎
type Host struct {
	name   string
	engine *gin.Engine
	server *httptest.Server
	logger logging.Logger
}

// NewHost 创建测试主机，Start 之前可以继续注册路由
func NewHost(opts *Options) (*Host, error) {
	engine, err := NewEngine(opts)
	if err != nil {
		return nil, err
	}
	return &Host{name: opts.Name, engine: engine, logger: opts.Logger}, nil
}

// Engine 获取 gin 引擎
func (h *Host) Engine() *gin.Engine { return h.engine }

// Mount 注册控制器的路由
func (h *Host) Mount(controllers ...Controller) {
	for _, c := range controllers {
		c.MountRoutes(h.engine)
		if h.logger != nil {
			h.logger.Debug("mounted controller routes", logging.F("controller", fmt.Sprintf("%T", c)))
		}
	}
}

// Start 在本地随机端口启动服务器，重复调用无效
func (h *Host) Start() *httptest.Server {
	if h.server == nil {
		h.server = httptest.NewServer(h.engine)
		if h.logger != nil {
			h.logger.Debug("web host started",
				logging.F("name", h.name), logging.F("url", h.server.URL))
		}
	}
	return h.server
}

// Server 返回已启动的服务器
func (h *Host) Server() *httptest.Server { return h.Start() }

// URL 返回服务器上 path 的完整地址
func (h *Host) URL(path string) string {
	base := h.Start().URL
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// Client 返回访问服务器的 HTTP 客户端
func (h *Host) Client() *http.Client { return h.Start().Client() }

// Get 发送 GET 请求
func (h *Host) Get(path string) (*http.Response, error) {
	return h.Client().Get(h.URL(path))
}

// PostJSON 以 JSON 编码 body 发送 POST 请求
func (h *Host) PostJSON(path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("web: encode body: %w", err)
	}
	return h.Client().Post(h.URL(path), "application/json", bytes.NewReader(data))
}

// Record 不经过网络直接处理请求
func (h *Host) Record(method, path string, body io.Reader) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, httptest.NewRequest(method, path, body))
	return w
}

// Close 关闭服务器
func (h *Host) Close() error {
	if h.server != nil {
		h.server.Close()
		h.server = nil
		if h.logger != nil {
			h.logger.Debug("web host stopped", logging.F("name", h.name))
		}
	}
	return nil
}

// DecodeJSON 读取并关闭响应体，解码到 v
func DecodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("web: decode %s: %w", resp.Request.URL.Path, err)
	}
	return nil
}
