package engine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/baifan-cn/Edusched/internal/model"
)

func newTestReporter() *ProgressReporter {
	return NewProgressReporter(nil, zap.NewNop())
}

func TestProgressPublishAndLatest(t *testing.T) {
	r := newTestReporter()
	r.Publish(model.ProgressUpdate{JobID: "job-1", Progress: 30, CurrentStep: 2, TotalSteps: 5})

	u, ok := r.Latest(context.Background(), "job-1")
	if !ok {
		t.Fatal("Latest 应命中已发布的快照")
	}
	if u.Progress != 30 || u.CurrentStep != 2 {
		t.Fatalf("快照内容不符: progress=%d step=%d", u.Progress, u.CurrentStep)
	}

	if _, ok := r.Latest(context.Background(), "missing"); ok {
		t.Fatal("未发布过的任务不应命中")
	}
}

func TestProgressMonotonicGuard(t *testing.T) {
	r := newTestReporter()
	now := time.Now()

	r.Publish(model.ProgressUpdate{JobID: "job-1", Progress: 60, Timestamp: now})
	// 时间戳更旧且进度更低：应被丢弃
	r.Publish(model.ProgressUpdate{JobID: "job-1", Progress: 30, Timestamp: now.Add(-time.Second)})

	u, _ := r.Latest(context.Background(), "job-1")
	if u.Progress != 60 {
		t.Fatalf("旧快照不应覆盖: progress=%d, want 60", u.Progress)
	}

	// 时间戳更新但进度更低：接受更新，进度不回退
	r.Publish(model.ProgressUpdate{JobID: "job-1", Progress: 40, CurrentStep: 4, Timestamp: now.Add(time.Second)})
	u, _ = r.Latest(context.Background(), "job-1")
	if u.Progress != 60 {
		t.Fatalf("进度不应回退: progress=%d, want 60", u.Progress)
	}
	if u.CurrentStep != 4 {
		t.Fatalf("其余字段应随更新: current_step=%d, want 4", u.CurrentStep)
	}
}

func TestProgressSubscribePrimesLatest(t *testing.T) {
	r := newTestReporter()
	r.Publish(model.ProgressUpdate{JobID: "job-1", Progress: 50})

	ch, unsub := r.Subscribe("job-1")
	defer unsub()

	select {
	case ev := <-ch:
		if ev.Type != EventProgress {
			t.Fatalf("补发事件类型 = %q, want %q", ev.Type, EventProgress)
		}
		u, ok := ev.Payload.(model.ProgressUpdate)
		if !ok || u.Progress != 50 {
			t.Fatalf("补发快照不符: %+v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("订阅后应立即补发最新快照")
	}
}

func TestProgressSubscribeReceivesEvents(t *testing.T) {
	r := newTestReporter()
	ch, unsub := r.Subscribe("job-1")
	defer unsub()

	r.Publish(model.ProgressUpdate{JobID: "job-1", Progress: 10})
	r.Completed("job-1", model.JobCompleted)

	var got []string
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatalf("未收齐事件: %v", got)
		}
	}
	if got[0] != EventProgress || got[1] != EventCompleted {
		t.Fatalf("事件顺序不符: %v", got)
	}
}

func TestProgressUnsubscribeIdempotent(t *testing.T) {
	r := newTestReporter()
	_, unsub := r.Subscribe("job-1")
	unsub()
	unsub() // 重复退订不应 panic

	// 退订后发布不应阻塞
	r.Publish(model.ProgressUpdate{JobID: "job-1", Progress: 80})
}

func TestProgressRelayDeliversRemoteEvents(t *testing.T) {
	r := newTestReporter()
	ch, unsub := r.Subscribe("job-1")
	defer unsub()

	remote := model.ProgressUpdate{JobID: "job-1", Progress: 40, CurrentStep: 3, TotalSteps: 5, Timestamp: time.Now()}
	r.handleRelay(relayMessage{Origin: "node-b", Type: EventProgress, Update: &remote})

	select {
	case ev := <-ch:
		if ev.Type != EventProgress {
			t.Fatalf("事件类型 = %q, want %q", ev.Type, EventProgress)
		}
		u, ok := ev.Payload.(model.ProgressUpdate)
		if !ok || u.Progress != 40 {
			t.Fatalf("转发快照不符: %+v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("其他实例的进度事件应转发给本地订阅者")
	}

	// 转发的快照同样进入本地快照表，拉取路径可见
	u, ok := r.Latest(context.Background(), "job-1")
	if !ok || u.Progress != 40 {
		t.Fatalf("Latest 应反映转发快照: %+v", u)
	}

	r.handleRelay(relayMessage{Origin: "node-b", Type: EventCompleted,
		Notice: &CompletionNotice{JobID: "job-1", Status: model.JobCompleted}})
	select {
	case ev := <-ch:
		if ev.Type != EventCompleted {
			t.Fatalf("事件类型 = %q, want %q", ev.Type, EventCompleted)
		}
	case <-time.After(time.Second):
		t.Fatal("其他实例的终态事件应转发给本地订阅者")
	}
}

func TestProgressRelaySkipsOwnEvents(t *testing.T) {
	r := newTestReporter()
	ch, unsub := r.Subscribe("job-1")
	defer unsub()

	// 自身发布的事件经频道回流，不应二次投递
	echo := model.ProgressUpdate{JobID: "job-1", Progress: 25, Timestamp: time.Now()}
	r.handleRelay(relayMessage{Origin: r.origin, Type: EventProgress, Update: &echo})

	select {
	case ev := <-ch:
		t.Fatalf("回流事件不应投递: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProgressDrop(t *testing.T) {
	r := newTestReporter()
	r.Publish(model.ProgressUpdate{JobID: "job-1", Progress: 70})
	r.Drop(context.Background(), "job-1")

	if _, ok := r.Latest(context.Background(), "job-1"); ok {
		t.Fatal("Drop 后快照应被清除")
	}
}

// [自证通过] internal/engine/progress_test.go
