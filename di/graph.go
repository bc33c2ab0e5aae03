package di

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/gocrud/testkit/inject"
)

// ErrCircularDependency 依赖图中存在环
var ErrCircularDependency = errors.New("di: circular dependency")

// graphBuilder 构建并验证依赖图
type graphBuilder struct {
	definitions map[ServiceKey]*ServiceDefinition
}

// buildOrder 返回单例的构建顺序（依赖在前），同时检测循环依赖
func (g *graphBuilder) buildOrder() ([]ServiceKey, error) {
	keys := make([]ServiceKey, 0, len(g.definitions))
	for key := range g.definitions {
		keys = append(keys, key)
	}
	// 固定遍历顺序，错误信息可复现
	slices.SortFunc(keys, func(a, b ServiceKey) int { return strings.Compare(a.String(), b.String()) })

	dependencies := make(map[ServiceKey][]ServiceKey, len(keys))
	for _, key := range keys {
		deps, err := inspect(g.definitions[key])
		if err != nil {
			return nil, fmt.Errorf("di: inspect %v: %w", key, err)
		}
		dependencies[key] = deps
	}

	// 拓扑排序 (基于 DFS)
	visited := make(map[ServiceKey]bool)
	onStack := make(map[ServiceKey]bool)
	var path []ServiceKey
	var order []ServiceKey

	var visit func(ServiceKey) error
	visit = func(u ServiceKey) error {
		visited[u] = true
		onStack[u] = true
		path = append(path, u)

		for _, v := range dependencies[u] {
			// 未注册的依赖留到解析时报告
			if _, exists := g.definitions[v]; !exists {
				continue
			}
			if onStack[v] {
				return fmt.Errorf("%w: %s", ErrCircularDependency, cycle(path, v))
			}
			if !visited[v] {
				if err := visit(v); err != nil {
					return err
				}
			}
		}

		onStack[u] = false
		path = path[:len(path)-1]
		order = append(order, u)
		return nil
	}

	for _, key := range keys {
		if !visited[key] {
			if err := visit(key); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

func cycle(path []ServiceKey, back ServiceKey) string {
	start := slices.Index(path, back)
	parts := make([]string, 0, len(path)-start+1)
	for _, k := range path[start:] {
		parts = append(parts, k.String())
	}
	parts = append(parts, back.String())
	return strings.Join(parts, " -> ")
}

// inspect 计算定义的依赖并填充 Schema
func inspect(def *ServiceDefinition) ([]ServiceKey, error) {
	def.Schema = &InjectionSchema{}

	switch {
	case def.IsValue && !def.InjectFields:
		return nil, nil
	case def.IsValue:
		return analyzeStruct(reflect.TypeOf(def.Impl), def.Schema)
	case def.IsFactory:
		return analyzeFunction(def.Impl, def.Schema)
	}
	return analyzeStruct(def.ImplType, def.Schema)
}

func analyzeFunction(fn any, schema *InjectionSchema) ([]ServiceKey, error) {
	fnType := reflect.TypeOf(fn)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return nil, fmt.Errorf("expected a function, got %v", fnType)
	}
	if fnType.IsVariadic() {
		return nil, fmt.Errorf("variadic factory %v is not supported", fnType)
	}

	deps := make([]ServiceKey, 0, fnType.NumIn())
	for i := 0; i < fnType.NumIn(); i++ {
		argType := fnType.In(i)
		deps = append(deps, ServiceKey{Type: argType})
		schema.Args = append(schema.Args, argType)
	}
	return deps, nil
}

func analyzeStruct(typ reflect.Type, schema *InjectionSchema) ([]ServiceKey, error) {
	if typ == nil {
		return nil, fmt.Errorf("no implementation type")
	}
	if typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, nil
	}

	var deps []ServiceKey
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		tag, ok := field.Tag.Lookup("di")
		if !ok {
			continue
		}
		if !field.IsExported() {
			return nil, fmt.Errorf("field %s.%s is not exported", typ, field.Name)
		}
		opts := inject.ParseTag(tag)
		fi := FieldInjection{
			Index:    i,
			Name:     field.Name,
			Key:      ServiceKey{Type: field.Type, Name: opts.Name},
			Optional: opts.Optional(),
		}
		schema.Fields = append(schema.Fields, fi)
		// 已注册的可选依赖同样参与循环检查
		deps = append(deps, fi.Key)
	}
	return deps, nil
}
