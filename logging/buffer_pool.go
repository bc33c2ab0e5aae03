package logging

import (
	"bytes"
	"sync"
)

// maxPooledBuffer 超过该容量的 buffer 不再放回池中
const maxPooledBuffer = 64 << 10

// BufferPool 字节缓冲池，格式化日志时复用 buffer
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool 创建新的缓冲池
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any { return new(bytes.Buffer) },
		},
	}
}

// Get 获取一个空 buffer
func (p *BufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

// Put 归还 buffer
func (p *BufferPool) Put(b *bytes.Buffer) {
	if b.Cap() > maxPooledBuffer {
		return
	}
	b.Reset()
	p.pool.Put(b)
}

// GlobalBufferPool 全局缓冲池实例
var GlobalBufferPool = NewBufferPool()
