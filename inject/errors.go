package inject

import "fmt"

// ConfigurationError 字段注入的配置错误（字段类型或注解配置不合法）
type ConfigurationError struct {
	Target  string
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	return formatError("configuration error", e.Target, e.Message, e.Cause)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// ParameterResolutionError 参数解析错误
type ParameterResolutionError struct {
	Target  string
	Message string
	Cause   error
}

func (e *ParameterResolutionError) Error() string {
	return formatError("parameter resolution error", e.Target, e.Message, e.Cause)
}

func (e *ParameterResolutionError) Unwrap() error { return e.Cause }

func formatError(kind, target, message string, cause error) string {
	s := fmt.Sprintf("inject: %s: %s: %s", kind, target, message)
	if cause != nil && cause.Error() != message {
		s += ": " + cause.Error()
	}
	return s
}
