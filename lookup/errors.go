package lookup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gocrud/testkit/meta"
)

var (
	// ErrBlankReference 方法引用为空
	ErrBlankReference = errors.New("blank method reference")
	// ErrMalformedReference 方法引用不符合语法
	ErrMalformedReference = errors.New("malformed method reference")
	// ErrClassNotFound 引用的类无法解析
	ErrClassNotFound = errors.New("class not found")
	// ErrUnknownType 参数类型名称无法解析
	ErrUnknownType = meta.ErrUnknownType
	// ErrNoSuchMethod 没有匹配的方法
	ErrNoSuchMethod = errors.New("no such method")
	// ErrAmbiguousMethod 方法名对应多个方法
	ErrAmbiguousMethod = errors.New("ambiguous method name")
	// ErrUnsupportedSignature 显式签名存在，但不是允许的候选签名之一
	ErrUnsupportedSignature = errors.New("unsupported method signature")
)

// Error 方法引用解析失败，记录尝试过的所有候选
type Error struct {
	Reference string
	Kind      error
	Detail    string
	Tried     []string
	Cause     error
}

func newError(reference string, kind error, detail string) *Error {
	return &Error{Reference: reference, Kind: kind, Detail: detail}
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "lookup: %v: %q", e.Kind, e.Reference)
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Tried) > 0 {
		b.WriteString("; tried: ")
		b.WriteString(strings.Join(e.Tried, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap 支持 errors.Is(err, lookup.ErrNoSuchMethod) 等判断
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}
