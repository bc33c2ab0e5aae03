// Package concurrent 在固定大小的 goroutine 池中并发运行测试任务。
//
// 同一批任务由启动闩同时放行，尽量让它们真正并发地竞争；
// 第一个失败的任务取消共享的 context，Run 返回该错误。
package concurrent

import (
	"context"
	"fmt"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/suite"
)

// Task 并发任务
type Task func(ctx context.Context) error

// Run 用 workers 个 goroutine 运行 tasks，等待全部结束。
// 前 workers 个任务同时开始，其余任务在有空闲 goroutine 时开始。
// 任务 panic 会转换为错误。
func Run(ctx context.Context, workers int, tasks ...Task) error {
	if workers < 1 {
		return fmt.Errorf("concurrent: workers must be positive, got %d", workers)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	start := make(chan struct{})
	released := false
	for i, task := range tasks {
		if i == workers {
			close(start)
			released = true
		}
		g.Go(func() error {
			<-start
			if err := gctx.Err(); err != nil {
				return err
			}
			return call(gctx, i, task)
		})
	}
	if !released {
		close(start)
	}
	return g.Wait()
}

func call(ctx context.Context, i int, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("concurrent: task %d panicked: %v\n%s", i, r, debug.Stack())
		}
	}()
	return task(ctx)
}

// Repeat 并发运行 fn n 次，i 为 0 到 n-1
func Repeat(ctx context.Context, workers, n int, fn func(ctx context.Context, i int) error) error {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error { return fn(ctx, i) }
	}
	return Run(ctx, workers, tasks...)
}

// Require 并发运行 fn n 次，任何失败都会终止测试
func Require(t testing.TB, workers, n int, fn func(ctx context.Context, i int) error) {
	t.Helper()
	require.NoError(t, Repeat(t.Context(), workers, n, fn))
}

// RequireWith 与 Require 相同，goroutine 数量取自设置 concurrency.workers
func RequireWith(ctx *suite.Context, n int, fn func(ctx context.Context, i int) error) {
	t := ctx.T()
	t.Helper()
	workers := ctx.Settings().Workers
	ctx.Logger().Debug("running concurrent tasks",
		logging.F("workers", workers), logging.F("tasks", n))
	require.NoError(t, Repeat(ctx.Context(), workers, n, fn))
}
