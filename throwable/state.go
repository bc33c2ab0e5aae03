package throwable

import (
	"fmt"
	"strings"
)

// State 断言器所处的阶段
type State int

const (
	// Initialized 刚创建，尚未注册任何期望
	Initialized State = iota
	// ConfiguringErrorType 已注册错误类型，等待该类型的断言
	ConfiguringErrorType
	// ConfiguringNoError 已声明允许不返回错误，等待对应的断言
	ConfiguringNoError
	// Configured 至少完成一项配置，可以继续配置或执行
	Configured
	// Asserted 已执行，终态
	Asserted
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "Initialized"
	case ConfiguringErrorType:
		return "ConfiguringErrorType"
	case ConfiguringNoError:
		return "ConfiguringNoError"
	case Configured:
		return "Configured"
	case Asserted:
		return "Asserted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ConfigurationError 断言器的使用错误（非法的状态转换、重复注册等），以 panic 抛出
type ConfigurationError struct {
	Op       string
	Expected []State
	Actual   State
	Message  string
}

func (e *ConfigurationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("throwable: %s: %s", e.Op, e.Message)
	}
	names := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		names[i] = s.String()
	}
	return fmt.Sprintf("throwable: %s: expected state %s but was %s",
		e.Op, strings.Join(names, " or "), e.Actual)
}
