// Package cron 为测试注入 cron 表达式和调度器。
//
//	type JobSuite struct {
//		Nightly cron.Schedule `cron:"0 2 * * *;tz=Asia/Shanghai"`
//		Runner  *cron.Cron    `cron:"@every 1s;job=Tick"`
//	}
//
// 表达式在校验阶段解析，秒字段可选，默认时区为 UTC。
// *cron.Cron 注入时已经启动，在测试（或类）结束时停止；同名调度器在同一上下文中共享，
// job 引用的方法只在调度器创建时注册一次。
package cron

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/lookup"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// ExtensionName 扩展名称
const ExtensionName = "cron"

// Schedule 标记注解：注入 cron.Schedule 或已启动的 *cron.Cron
type Schedule struct {
	Spec string
	Name string
	// Job 调度器创建时注册的方法引用，签名为 () 或 (*suite.Context)，可以返回 error
	Job      string
	Location string
}

var (
	scheduleType = meta.TypeOf[cron.Schedule]()
	cronType     = meta.TypeOf[*cron.Cron]()
	contextType  = meta.TypeOf[*suite.Context]()

	jobLookup = lookup.WithParameterTypes().
			OrParameterTypes(contextType)
)

// Extension 定时任务注入扩展，导入本包时自动注册
var Extension = inject.NewExtension[Schedule](ExtensionName, resolver{})

func init() {
	meta.RegisterTag(ExtensionName, decodeTag)
	suite.Register(Extension)
}

// decodeTag 解析 `cron:"spec;name=x;job=Method;tz=Location"`。
// 表达式本身可能包含逗号，因此选项以分号分隔。
func decodeTag(_ reflect.StructField, value string) (any, error) {
	parts := strings.Split(value, ";")
	ann := Schedule{Spec: strings.TrimSpace(parts[0])}
	for _, part := range parts[1:] {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("cron: option %q is not key=value", part)
		}
		switch strings.TrimSpace(key) {
		case "name":
			ann.Name = strings.TrimSpace(val)
		case "job":
			ann.Job = strings.TrimSpace(val)
		case "tz":
			ann.Location = strings.TrimSpace(val)
		default:
			return nil, fmt.Errorf("cron: unknown option %q", key)
		}
	}
	return ann, nil
}

type resolver struct{}

func (resolver) Validate(t inject.Target, ann Schedule) error {
	if err := inject.RequireType(t, scheduleType, cronType); err != nil {
		return err
	}
	if t.Type() == scheduleType {
		if ann.Spec == "" {
			return fmt.Errorf("a schedule target requires a spec")
		}
		if ann.Job != "" {
			return fmt.Errorf("job requires a *cron.Cron target")
		}
	}
	if ann.Job != "" && ann.Spec == "" {
		return fmt.Errorf("job %s requires a spec", ann.Job)
	}
	if ann.Location != "" {
		if _, err := time.LoadLocation(ann.Location); err != nil {
			return err
		}
	}
	if ann.Spec != "" {
		if _, err := Parser.Parse(ann.Spec); err != nil {
			return fmt.Errorf("invalid spec %q: %w", ann.Spec, err)
		}
	}
	return nil
}

func (resolver) Resolve(ctx *suite.Context, t inject.Target, ann Schedule) (any, error) {
	opts := resolveOptions(ctx, ann)
	if t.Type() == scheduleType {
		return Parser.Parse(withLocation(ann.Spec, opts.Location))
	}
	return inject.Shared(ctx, ExtensionName, opts.Name, func() (*cron.Cron, func() error, error) {
		c, err := open(ctx, t, opts, ann)
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { return Stop(c, opts.StopTimeout) }, nil
	})
}

func resolveOptions(ctx *suite.Context, ann Schedule) *Options {
	opts := NewDefaultOptions(ann.Name)
	opts.Logger = ctx.Logger().WithCategory("cron")
	if loc := inject.Setting(ctx, ExtensionName, opts.Name, "location"); loc != "" {
		opts.Location = loc
	}
	if ann.Location != "" {
		opts.Location = ann.Location
	}
	opts.Verbose = inject.Setting(ctx, ExtensionName, opts.Name, "verbose") == "true"
	return opts
}

// withLocation 为没有时区前缀的表达式加上 CRON_TZ
func withLocation(spec, loc string) string {
	if strings.HasPrefix(spec, "TZ=") || strings.HasPrefix(spec, "CRON_TZ=") {
		return spec
	}
	return "CRON_TZ=" + loc + " " + spec
}

func open(ctx *suite.Context, t inject.Target, opts *Options, ann Schedule) (*cron.Cron, error) {
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	if ann.Job != "" {
		res, err := jobLookup.Find(ann.Job, t.DeclaringClass())
		if err != nil {
			return nil, t.CreateError("job method", err)
		}
		if _, err := c.AddFunc(ann.Spec, job(ctx, opts.Logger, ann.Job, res)); err != nil {
			return nil, fmt.Errorf("cron: add job %s: %w", ann.Job, err)
		}
	}
	c.Start()
	opts.Logger.Debug("scheduler started",
		logging.F("name", opts.Name), logging.F("entries", len(c.Entries())))
	return c, nil
}

func job(ctx *suite.Context, logger logging.Logger, ref string, res lookup.Result) func() {
	return func() {
		logger.Debug("cron job started", logging.F("job", ref))
		var args []any
		if res.Index == 1 {
			args = []any{ctx}
		}
		if _, err := inject.Invoke(ctx, res.Method, args...); err != nil {
			logger.Error("cron job failed", logging.F("job", ref), logging.F("error", err.Error()))
			ctx.T().Errorf("cron: job %s: %v", ref, err)
		}
	}
}
