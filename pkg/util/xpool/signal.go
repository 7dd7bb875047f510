package xpool

import (
	"context"
	"sync"
)

// signal 是绑定到外部互斥锁、支持 context 取消的广播条件变量。
// 通过关闭并丢弃当前 channel 实现广播。所有方法都必须在持有锁时调用。
type signal struct {
	ch      chan struct{}
	waiters int
}

// wait 释放 mu 并挂起，直到 broadcast 或 ctx 结束，返回前重新获取 mu。
// 与条件变量一样允许虚假唤醒，调用方必须在循环中重新检查条件。
func (s *signal) wait(ctx context.Context, mu *sync.Mutex) error {
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	ch := s.ch
	s.waiters++
	mu.Unlock()

	var err error
	select {
	case <-ch:
	case <-ctx.Done():
		err = ctx.Err()
	}

	mu.Lock()
	s.waiters--
	return err
}

// broadcast 唤醒所有等待者。没有等待者时不分配。
func (s *signal) broadcast() {
	if s.waiters == 0 || s.ch == nil {
		return
	}
	close(s.ch)
	s.ch = nil
}
