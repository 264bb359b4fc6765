package execution

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// TupleLock 保证同一 (account, exchange, symbol) 同时只有一个下单在途。
//
// - 分片 map，按 key 的 fnv 哈希选 shard，没有全局锁
// - 每个 key 引用计数，最后一个持有/等待者离开时删除条目
// - 等待可被 ctx 取消
type TupleLock struct {
	shards []tupleShard
}

type tupleShard struct {
	mu sync.Mutex
	m  map[string]*tupleEntry
}

type tupleEntry struct {
	sem  chan struct{} // 容量 1：持有者写入，释放时读出
	refs int
}

// NewTupleLock 创建分片锁；shardCount <= 0 时取 64。
func NewTupleLock(shardCount int) *TupleLock {
	if shardCount <= 0 {
		shardCount = 64
	}
	shards := make([]tupleShard, shardCount)
	for i := range shards {
		shards[i].m = make(map[string]*tupleEntry)
	}
	return &TupleLock{shards: shards}
}

// TupleKey builds the lock key; symbol is case-folded.
func TupleKey(accountID, exchange, symbol string) string {
	return accountID + "|" + exchange + "|" + strings.ToUpper(symbol)
}

// Acquire blocks until key is free or ctx is done. The returned release is
// idempotent.
func (l *TupleLock) Acquire(ctx context.Context, key string) (func(), error) {
	sh := l.shard(key)
	sh.mu.Lock()
	e, ok := sh.m[key]
	if !ok {
		e = &tupleEntry{sem: make(chan struct{}, 1)}
		sh.m[key] = e
	}
	e.refs++
	sh.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		sh.drop(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			sh.drop(key, e)
		})
	}, nil
}

// Len reports how many keys are held or waited on.
func (l *TupleLock) Len() int {
	n := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

func (sh *tupleShard) drop(key string, e *tupleEntry) {
	sh.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
}

func (l *TupleLock) shard(key string) *tupleShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32() % uint32(len(l.shards)))
	return &l.shards[idx]
}
