package config

import (
	"strconv"
	"strings"
	"sync"
)

// keyCache 缓存配置键的拆分结果，键的集合在测试进程中基本固定
var keyCache sync.Map // string -> []string

// splitKey 拆分配置键。: 和 . 都是层级分隔符，[n] 表示列表下标：
// "web:default.mode" → web default mode，"users[1].name" → users 1 name
func splitKey(key string) []string {
	if v, ok := keyCache.Load(key); ok {
		return v.([]string)
	}
	parts := strings.FieldsFunc(key, func(r rune) bool {
		switch r {
		case ':', '.', '[', ']':
			return true
		}
		return false
	})
	keyCache.Store(key, parts)
	return parts
}

// lookup 沿拆分后的键在 map 和列表中逐级查找
func lookup(data map[string]any, parts []string) any {
	current := any(data)
	for _, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			current = node[part]
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			current = node[i]
		default:
			return nil
		}
	}
	return current
}
