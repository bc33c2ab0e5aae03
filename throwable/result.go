package throwable

import (
	"errors"
	"fmt"

	"github.com/gocrud/testkit/meta"
)

var (
	// ErrTypeMismatch 结果不能转换为请求的类型
	ErrTypeMismatch = errors.New("throwable: type mismatch")
	// ErrAbsent 结果中没有请求的值（代码正常完成时没有错误，抛出错误时没有返回值）
	ErrAbsent = errors.New("throwable: absent")
)

// Result Execute 的结果：返回值和抛出的错误二者只有一个
type Result[T any] struct {
	value T
	err   error
}

// Value 代码正常完成时的返回值
func (r *Result[T]) Value() (T, bool) {
	return r.value, r.err == nil
}

// Err 抛出的错误（未经 Unwrap）
func (r *Result[T]) Err() (error, bool) {
	return r.err, r.err != nil
}

func (r *Result[T]) HasError() bool { return r.err != nil }

// ValueAs 把返回值转换为 V
func ValueAs[V, T any](r *Result[T]) (V, error) {
	var zero V
	if r.err != nil {
		return zero, fmt.Errorf("%w: no value, error thrown: %v", ErrAbsent, r.err)
	}
	v, ok := any(r.value).(V)
	if !ok {
		return zero, fmt.Errorf("%w: value %T is not %v", ErrTypeMismatch, r.value, meta.TypeOf[V]())
	}
	return v, nil
}

// ErrorAs 把抛出的错误转换为 E，只检查错误本身，不沿 Unwrap 链查找
func ErrorAs[E error, T any](r *Result[T]) (E, error) {
	var zero E
	if r.err == nil {
		return zero, fmt.Errorf("%w: nothing was thrown", ErrAbsent)
	}
	e, ok := r.err.(E)
	if !ok {
		return zero, fmt.Errorf("%w: error %T is not %s", ErrTypeMismatch, r.err, meta.TypeOf[E]())
	}
	return e, nil
}
