package xpool

// taskQueue 是基于环形缓冲区的 FIFO 队列，按需扩容，非并发安全。
type taskQueue struct {
	buf  []Task
	head int
	n    int
}

func (q *taskQueue) len() int { return q.n }

func (q *taskQueue) push(t Task) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = t
	q.n++
}

// pop 取出队首任务。调用方需保证队列非空。
func (q *taskQueue) pop() Task {
	t := q.buf[q.head]
	q.buf[q.head] = nil // 释放引用，避免闭包捕获的数据滞留
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	if q.n == 0 {
		q.head = 0
	}
	return t
}

func (q *taskQueue) grow() {
	size := len(q.buf) * 2
	if size == 0 {
		size = 16
	}
	buf := make([]Task, size)
	for i := range q.n {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}
