package engine

import "errors"

// ── 调度引擎错误分类 ──
// Manager 对同步操作返回以下哨兵错误；Solver 的内部失败不向调用方抛出，
// 统一转化为任务 failed 终态 + error_message

var (
	// ErrConfigInvalid 配置未通过预检，调用方需修正后重新提交
	ErrConfigInvalid = errors.New("调度配置未通过校验")
	// ErrJobNotFound 任务不存在
	ErrJobNotFound = errors.New("调度任务不存在")
	// ErrJobNotCancellable 任务已处于终态，不可取消
	ErrJobNotCancellable = errors.New("任务已结束，不可取消")
	// ErrJobRunning 任务正在运行，删除/更新被阻止（需先取消）
	ErrJobRunning = errors.New("任务正在运行中，请先取消")
	// ErrJobNotRestartable 仅 failed / cancelled 任务可重启
	ErrJobNotRestartable = errors.New("仅失败或已取消的任务可重启")
	// ErrJobNotPending 仅 pending 任务可修改
	ErrJobNotPending = errors.New("仅等待中的任务可修改")
	// ErrResultNotReady 任务尚未到达产生结果的终态
	ErrResultNotReady = errors.New("任务结果尚未生成")
	// ErrQueueFull pending 队列已满
	ErrQueueFull = errors.New("调度队列已满，请稍后重试")
)
