package suite

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/gocrud/testkit/meta"
)

// Store 上下文级别的键值存储。
// 查找时先查自身，再依次查父上下文的 Store；写入只影响自身。
type Store struct {
	parent  *Store
	values  sync.Map
	mu      sync.Mutex
	pending map[any]*pending
}

// pending 正在计算中的键，done 关闭后 err 可读
type pending struct {
	done chan struct{}
	err  error
}

func newStore(parent *Store) *Store {
	return &Store{parent: parent, pending: make(map[any]*pending)}
}

// Get 查找 key 对应的值
func (s *Store) Get(key any) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.values.Load(key); ok {
			return v, true
		}
	}
	return nil, false
}

// Set 在当前存储中写入值
func (s *Store) Set(key, value any) {
	s.values.Store(key, value)
}

// GetOrCompute 查找 key，不存在时调用 compute 计算并写入当前存储。
// compute 返回错误时不写入。同一个键的并发调用只计算一次，
// compute 中可以计算其他键，但不能再请求同一个键。
func (s *Store) GetOrCompute(key any, compute func() (any, error)) (any, error) {
	for {
		if v, ok := s.Get(key); ok {
			return v, nil
		}
		s.mu.Lock()
		if v, ok := s.values.Load(key); ok {
			s.mu.Unlock()
			return v, nil
		}
		if p, ok := s.pending[key]; ok {
			s.mu.Unlock()
			<-p.done
			if p.err != nil {
				return nil, p.err
			}
			continue
		}
		p := &pending{done: make(chan struct{})}
		s.pending[key] = p
		s.mu.Unlock()

		v, err := s.compute(key, p, compute)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (s *Store) compute(key any, p *pending, compute func() (any, error)) (v any, err error) {
	// compute panic 时等待者收到该错误
	err = fmt.Errorf("suite: computing %v panicked", key)
	defer func() {
		s.mu.Lock()
		if err == nil {
			s.values.Store(key, v)
		}
		p.err = err
		delete(s.pending, key)
		s.mu.Unlock()
		close(p.done)
	}()
	return compute()
}

// typeKey 按类型存取的键
type typeKey struct{ t reflect.Type }

// Put 以类型 T 为键写入
func Put[T any](s *Store, value T) {
	s.Set(typeKey{meta.TypeOf[T]()}, value)
}

// Lookup 按类型 T 查找值
func Lookup[T any](s *Store) (T, bool) {
	var zero T
	v, ok := s.Get(typeKey{meta.TypeOf[T]()})
	if !ok {
		return zero, false
	}
	return v.(T), true
}
