package lookup

import (
	"regexp"
	"strings"
)

// referencePattern 方法引用语法：[类名 '#'] 方法名 ['(' 类型 (',' 类型)* ')']
//
// 类名和方法名只做宽松匹配，语义校验全部放到解析阶段。
var referencePattern = regexp.MustCompile(`^(?:([^#()\s]+)#)?([\pL_$][\pL\pN_$]*)\s*(?:\((.*)\))?$`)

// Reference 解析后的方法引用
type Reference struct {
	Raw       string
	ClassName string // 为空表示使用上下文类
	Method    string
	Params    []string // HasParams 为 false 时忽略
	HasParams bool
}

// Parse 解析方法引用文本
func Parse(reference string) (Reference, error) {
	raw := strings.TrimSpace(reference)
	if raw == "" {
		return Reference{}, newError(reference, ErrBlankReference, "method reference must not be blank")
	}

	m := referencePattern.FindStringSubmatch(raw)
	if m == nil {
		return Reference{}, newError(reference, ErrMalformedReference,
			"expected [ClassName#]methodName[(Type, ...)]")
	}

	ref := Reference{
		Raw:       raw,
		ClassName: m[1],
		Method:    m[2],
	}
	if strings.HasSuffix(raw, ")") {
		ref.HasParams = true
		params, ok := splitParams(m[3])
		if !ok {
			return Reference{}, newError(reference, ErrMalformedReference, "unbalanced brackets in parameter list")
		}
		ref.Params = params
	}
	return ref, nil
}

// String 返回规范化后的引用文本
func (r Reference) String() string {
	var b strings.Builder
	if r.ClassName != "" {
		b.WriteString(r.ClassName)
		b.WriteByte('#')
	}
	b.WriteString(r.Method)
	if r.HasParams {
		b.WriteByte('(')
		b.WriteString(strings.Join(r.Params, ", "))
		b.WriteByte(')')
	}
	return b.String()
}

// splitParams 按顶层逗号拆分参数类型列表，忽略括号内部的逗号
func splitParams(list string) ([]string, bool) {
	list = strings.TrimSpace(list)
	if list == "" {
		return []string{}, true
	}

	var params []string
	depth, start := 0, 0
	for i := 0; i < len(list); i++ {
		switch list[i] {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
			if depth < 0 {
				return nil, false
			}
		case ',':
			if depth == 0 {
				params = append(params, strings.TrimSpace(list[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, false
	}
	return append(params, strings.TrimSpace(list[start:])), true
}
