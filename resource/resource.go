// Package resource 把测试资源文件的内容注入字段和参数。
//
//	type UserSuite struct {
//		Users  []User            `resource:"users.yaml"`
//		Names  []string          `resource:"names.txt"`
//		Props  map[string]string `resource:"app.properties"`
//		Schema string            `resource:"schema.sql"`
//	}
//
// 相对路径基于资源根目录：最近的 Root 注解，其次是设置 resource.root，默认 testdata。
// 格式由 format 选项指定，否则按目标类型和文件扩展名推断；
// parser 选项引用一个解析方法，签名为 ([]byte)、(string) 或 (io.Reader)，
// 返回值（可以附带 error）赋给目标。
package resource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gocrud/testkit/config"
	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/lookup"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// ExtensionName 扩展名称
const ExtensionName = "resource"

// 支持的格式
const (
	FormatText       = "text"
	FormatBytes      = "bytes"
	FormatLines      = "lines"
	FormatProperties = "properties"
	FormatYAML       = "yaml"
	FormatJSON       = "json"
)

// File 标记注解：注入资源文件的内容
type File struct {
	Path   string `validate:"required"`
	Format string `validate:"omitempty,oneof=text bytes lines properties yaml json"`
	Parser string
}

// Root 作用域注解：资源根目录
type Root struct {
	Dir string
}

// LineOptions 作用域注解：lines 格式的处理方式，最近的声明生效
type LineOptions struct {
	Trim      bool
	SkipBlank bool
	// Comment 以该前缀开头的行被忽略（在 Trim 之后判断）
	Comment string
}

var (
	stringType = meta.TypeOf[string]()
	bytesType  = meta.TypeOf[[]byte]()
	linesType  = meta.TypeOf[[]string]()
	propsType  = meta.TypeOf[map[string]string]()
	configType = meta.TypeOf[config.Configuration]()
	readerType = meta.TypeOf[io.Reader]()

	parserLookup = lookup.WithParameterTypes(bytesType).
			OrParameterTypes(stringType).
			OrParameterTypes(readerType)
)

// Extension 资源文件注入扩展，导入本包时自动注册
var Extension = inject.NewExtension[File](ExtensionName, resolver{})

func init() {
	meta.RegisterTag(ExtensionName, decodeTag)
	suite.Register(Extension)
}

// decodeTag 解析 `resource:"path,format=yaml,parser=Method"`
func decodeTag(_ reflect.StructField, value string) (any, error) {
	opts := inject.ParseTag(value)
	return File{Path: opts.Name, Format: opts.Get("format"), Parser: opts.Get("parser")}, nil
}

type resolver struct{}

func (resolver) Validate(t inject.Target, ann File) error {
	if ann.Parser != "" {
		res, err := parserLookup.Find(ann.Parser, t.DeclaringClass())
		if err != nil {
			return err
		}
		if vt := res.Method.ValueType(); vt == nil || !vt.AssignableTo(t.Type()) {
			return fmt.Errorf("parser %s does not return %v", res.Method, t.Type())
		}
		return nil
	}
	_, err := format(t.Type(), ann)
	return err
}

func (resolver) Resolve(ctx *suite.Context, t inject.Target, ann File) (any, error) {
	path := Path(ctx, t, ann.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}
	ctx.Logger().Debug("loaded resource",
		logging.F("path", path), logging.F("size", len(data)))

	if ann.Parser != "" {
		return parse(ctx, t, ann.Parser, data)
	}
	f, err := format(t.Type(), ann)
	if err != nil {
		return nil, err
	}
	return decode(t, f, path, data)
}

// Path 返回资源在目标作用域下的路径
func Path(ctx *suite.Context, t inject.Target, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	root := ctx.Settings().ResourceRoot
	if r, ok := inject.Find[Root](t, true); ok && r.Dir != "" {
		root = r.Dir
	}
	if root == "" {
		root = "testdata"
	}
	return filepath.Join(root, filepath.FromSlash(name))
}

// format 返回注解指定的格式，未指定时按目标类型和扩展名推断
func format(typ reflect.Type, ann File) (string, error) {
	ext := strings.ToLower(filepath.Ext(ann.Path))
	byExt := ""
	switch ext {
	case ".yaml", ".yml":
		byExt = FormatYAML
	case ".json":
		byExt = FormatJSON
	case ".properties":
		byExt = FormatProperties
	}

	f := ann.Format
	if f == "" {
		switch typ {
		case stringType:
			f = FormatText
		case bytesType:
			f = FormatBytes
		case linesType:
			f = FormatLines
		case propsType:
			f = FormatProperties
		default:
			f = byExt
		}
	}

	switch f {
	case FormatText:
		if typ != stringType {
			return "", fmt.Errorf("format text requires a string target")
		}
	case FormatBytes:
		if typ != bytesType {
			return "", fmt.Errorf("format bytes requires a []byte target")
		}
	case FormatLines:
		if typ != linesType {
			return "", fmt.Errorf("format lines requires a []string target")
		}
	case FormatProperties:
		if typ != propsType && typ != configType {
			return "", fmt.Errorf("format properties requires a map[string]string or config.Configuration target")
		}
	case FormatYAML, FormatJSON:
	case "":
		return "", fmt.Errorf("cannot infer the format of %s for %v", ann.Path, typ)
	default:
		return "", fmt.Errorf("unknown format %q", f)
	}
	return f, nil
}

func decode(t inject.Target, f, path string, data []byte) (any, error) {
	typ := t.Type()
	switch f {
	case FormatText:
		return string(data), nil
	case FormatBytes:
		return data, nil
	case FormatLines:
		opts, _ := inject.Find[LineOptions](t, true)
		return Lines(data, opts), nil
	}

	if typ == configType {
		b := config.NewConfigurationBuilder()
		switch f {
		case FormatProperties:
			b.AddPropertiesFile(path)
		case FormatJSON:
			b.AddJsonFile(path)
		default:
			b.AddYamlFile(path)
		}
		return b.Build()
	}

	if f == FormatProperties {
		props, err := config.ParseProperties(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", path, err)
		}
		return props, nil
	}

	v := reflect.New(typ)
	var err error
	if f == FormatJSON {
		err = json.Unmarshal(data, v.Interface())
	} else {
		err = yaml.Unmarshal(data, v.Interface())
	}
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", path, err)
	}
	return v.Elem().Interface(), nil
}

// Lines 按行拆分内容，去掉行尾的 \r，忽略末尾的空行
func Lines(data []byte, opts LineOptions) []string {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return []string{}
	}
	lines := make([]string, 0, strings.Count(text, "\n")+1)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if opts.Trim {
			line = strings.TrimSpace(line)
		}
		if opts.SkipBlank && strings.TrimSpace(line) == "" {
			continue
		}
		if opts.Comment != "" && strings.HasPrefix(line, opts.Comment) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func parse(ctx *suite.Context, t inject.Target, ref string, data []byte) (any, error) {
	res, err := parserLookup.Find(ref, t.DeclaringClass())
	if err != nil {
		return nil, t.CreateError("parser method", err)
	}
	var arg any
	switch res.Index {
	case 0:
		arg = data
	case 1:
		arg = string(data)
	default:
		arg = io.Reader(bytes.NewReader(data))
	}
	v, err := inject.Invoke(ctx, res.Method, arg)
	if err != nil {
		return nil, fmt.Errorf("resource: parser %s: %w", ref, err)
	}
	return v, nil
}
