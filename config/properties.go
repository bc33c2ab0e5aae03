package config

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ParseProperties 解析 properties 格式：
//
//	# 或 ! 开头的行是注释
//	key=value、key: value、key value 三种分隔形式
//	行尾的 \ 表示续行，续行的前导空白被忽略
//	支持 \t \n \r \f \\ 以及 \uXXXX 转义
//
// 重复的键以最后一次出现为准。
func ParseProperties(r io.Reader) (map[string]string, error) {
	props := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var logical strings.Builder
	lineNo := 0
	continuing := false
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if continuing {
			line = strings.TrimLeft(line, " \t\f")
		} else {
			trimmed := strings.TrimLeft(line, " \t\f")
			if trimmed == "" || trimmed[0] == '#' || trimmed[0] == '!' {
				continue
			}
			line = trimmed
		}

		if endsWithContinuation(line) {
			logical.WriteString(line[:len(line)-1])
			continuing = true
			continue
		}
		logical.WriteString(line)
		continuing = false

		key, value, err := splitProperty(logical.String())
		logical.Reset()
		if err != nil {
			return nil, fmt.Errorf("properties: line %d: %w", lineNo, err)
		}
		props[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("properties: %w", err)
	}
	if continuing {
		key, value, err := splitProperty(logical.String())
		if err != nil {
			return nil, fmt.Errorf("properties: line %d: %w", lineNo, err)
		}
		props[key] = value
	}
	return props, nil
}

// endsWithContinuation 行尾有奇数个反斜杠时表示续行
func endsWithContinuation(line string) bool {
	n := 0
	for i := len(line) - 1; i >= 0 && line[i] == '\\'; i-- {
		n++
	}
	return n%2 == 1
}

func splitProperty(line string) (string, string, error) {
	end := len(line)
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' {
			i++
			continue
		}
		if c == '=' || c == ':' || c == ' ' || c == '\t' || c == '\f' {
			end = i
			break
		}
	}

	rawKey := line[:end]
	rest := strings.TrimLeft(line[end:], " \t\f")
	if rest != "" && (rest[0] == '=' || rest[0] == ':') {
		rest = strings.TrimLeft(rest[1:], " \t\f")
	}

	key, err := unescape(rawKey)
	if err != nil {
		return "", "", err
	}
	value, err := unescape(rest)
	if err != nil {
		return "", "", err
	}
	return key, value, nil
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'f':
			b.WriteByte('\f')
		case 'u':
			if i+5 > len(s) {
				return "", fmt.Errorf("malformed \\u escape in %q", s)
			}
			code, err := strconv.ParseUint(s[i+1:i+5], 16, 32)
			if err != nil {
				return "", fmt.Errorf("malformed \\u escape in %q", s)
			}
			b.WriteRune(rune(code))
			i += 4
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

// PropertiesToMap 把扁平的 properties 转换为嵌套 map，键中的 . 表示层级。
// 同一个前缀既是值又是节时（a=1 与 a.b=2），保留节。
func PropertiesToMap(props map[string]string) map[string]any {
	result := make(map[string]any)
	// 先写短键，再写长键，节总能覆盖同名的值
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sortByDepth(keys)
	for _, k := range keys {
		path := strings.ReplaceAll(k, ".", ":")
		parts := strings.Split(path, ":")
		current := result
		for _, part := range parts[:len(parts)-1] {
			m, ok := current[part].(map[string]any)
			if !ok {
				m = make(map[string]any)
				current[part] = m
			}
			current = m
		}
		last := parts[len(parts)-1]
		if _, isSection := current[last].(map[string]any); isSection {
			continue
		}
		current[last] = props[k]
	}
	return result
}

func sortByDepth(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		di, dj := strings.Count(keys[i], "."), strings.Count(keys[j], ".")
		if di != dj {
			return di < dj
		}
		return keys[i] < keys[j]
	})
}
