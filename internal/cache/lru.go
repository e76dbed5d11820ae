package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// 文档注释：进程内 LRU 缓存（带 TTL）
// 背景：未启用 Redis 时为上传结果提供单机缓存，重复上传同一影像不再重复推理。
// 约束：容量按条目数计；过期条目在读取时惰性清除；ttl <= 0 时不过期（与 Redis 一致）。
type LRU struct {
	mu   sync.Mutex
	cap  int
	ttl  time.Duration
	lst  *list.List
	dict map[string]*list.Element
	now  func() time.Time
}

type entry struct {
	k   string
	v   []byte
	exp time.Time
}

func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 256
	}
	return &LRU{cap: capacity, ttl: ttl, lst: list.New(), dict: make(map[string]*list.Element), now: time.Now}
}

func (c *LRU) Get(_ context.Context, k string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.dict[k]
	if !ok {
		return nil, false
	}
	it := e.Value.(entry)
	if !it.exp.IsZero() && c.now().After(it.exp) {
		c.lst.Remove(e)
		delete(c.dict, k)
		return nil, false
	}
	c.lst.MoveToFront(e)
	return it.v, true
}

func (c *LRU) Set(_ context.Context, k string, v []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := entry{k: k, v: v}
	if c.ttl > 0 {
		it.exp = c.now().Add(c.ttl)
	}
	if e, ok := c.dict[k]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return
	}
	c.dict[k] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.dict, back.Value.(entry).k)
		c.lst.Remove(back)
	}
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}
