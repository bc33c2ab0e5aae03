package inject

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gocrud/testkit/meta"
)

// RequireType 目标类型必须是 types 之一
func RequireType(target Target, types ...reflect.Type) error {
	for _, t := range types {
		if target.Type() == t {
			return nil
		}
	}
	return fmt.Errorf("unsupported type %v, want one of %s", target.Type(), typeList(types))
}

// RequireAssignable types 中至少有一个类型的值可以赋给目标
func RequireAssignable(target Target, types ...reflect.Type) error {
	for _, t := range types {
		if t.AssignableTo(target.Type()) {
			return nil
		}
	}
	return fmt.Errorf("unsupported type %v, want a type assignable from one of %s", target.Type(), typeList(types))
}

// RequireKind 目标类型的种类必须是 kinds 之一
func RequireKind(target Target, kinds ...reflect.Kind) error {
	for _, k := range kinds {
		if target.Kind() == k {
			return nil
		}
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return fmt.Errorf("unsupported kind %v, want one of %s", target.Kind(), strings.Join(names, ", "))
}

func typeList(types []reflect.Type) string {
	return strings.Trim(meta.FormatTypes(types), "()")
}
