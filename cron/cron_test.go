package cron

import (
	"reflect"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

func quiet() suite.Option {
	s := suite.DefaultSettings()
	s.LogLevel = logging.LogLevelNone
	return suite.WithSettings(s)
}

var base = time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)

type scheduleSuite struct {
	Hourly cron.Schedule `cron:"0 * * * *"`
	Zoned  cron.Schedule `cron:"30 8 * * *;tz=Asia/Shanghai"`
	Runner *cron.Cron    `cron:"0 0 1 1 *;job=Tick"`
	Empty  *cron.Cron    `cron:";name=empty"`

	ticks int
}

func (*scheduleSuite) Annotate(d *meta.Declarations) {
	d.Method("TestParameter").Param(1, Schedule{Spec: "@every 1m"})
}

func (s *scheduleSuite) Tick(ctx *suite.Context) {
	ctx.Logger().Debug("tick")
	s.ticks++
}

func (s *scheduleSuite) TestSchedule(t *testing.T) {
	assert.True(t, s.Hourly.Next(base).Equal(time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)))
	assert.True(t, s.Zoned.Next(base).Equal(time.Date(2024, 1, 2, 0, 30, 0, 0, time.UTC)),
		"08:30 in Shanghai is 00:30 UTC")
}

func (s *scheduleSuite) TestJob(t *testing.T) {
	entries := s.Runner.Entries()
	require.Len(t, entries, 1)
	entries[0].WrappedJob.Run()
	assert.Equal(t, 1, s.ticks, "job runs against the current test instance")
	assert.Equal(t, time.UTC, s.Runner.Location())
}

func (s *scheduleSuite) TestEmpty(t *testing.T) {
	assert.Empty(t, s.Empty.Entries())
	assert.NotSame(t, s.Runner, s.Empty)
	_, err := s.Empty.AddFunc("@hourly", func() {})
	assert.NoError(t, err)
}

func (s *scheduleSuite) TestParameter(t *testing.T, every cron.Schedule) {
	assert.Equal(t, base.Add(time.Minute), every.Next(base))
}

func TestScheduleSuite(t *testing.T) {
	suite.Run(t, &scheduleSuite{}, quiet())
}

func TestDecodeTag(t *testing.T) {
	ann, err := decodeTag(reflect.StructField{}, "0,30 * * * *; name=x; job=Run; tz=UTC")
	require.NoError(t, err)
	assert.Equal(t, Schedule{Spec: "0,30 * * * *", Name: "x", Job: "Run", Location: "UTC"}, ann)

	_, err = decodeTag(reflect.StructField{}, "@daily;loud")
	assert.ErrorContains(t, err, "not key=value")
	_, err = decodeTag(reflect.StructField{}, "@daily;color=red")
	assert.ErrorContains(t, err, "unknown option")
}

func TestWithLocation(t *testing.T) {
	assert.Equal(t, "CRON_TZ=UTC @daily", withLocation("@daily", "UTC"))
	assert.Equal(t, "TZ=Europe/Paris @daily", withLocation("TZ=Europe/Paris @daily", "UTC"))
}

type invalid struct {
	Count   int           `cron:"@daily"`
	NoSpec  cron.Schedule `cron:""`
	WithJob cron.Schedule `cron:"@daily;job=Tick"`
	BadSpec cron.Schedule `cron:"every day"`
	BadTZ   *cron.Cron    `cron:"@daily;tz=Mars/Base"`
	JobOnly *cron.Cron    `cron:";job=Tick"`
	Missing *cron.Cron    `cron:"@daily;job=Nothing"`
}

func TestResolveErrors(t *testing.T) {
	class := meta.MustClassOf(meta.TypeOf[invalid]())
	tests := []struct {
		field string
		want  string
	}{
		{"Count", "unsupported type int"},
		{"NoSpec", "requires a spec"},
		{"WithJob", "job requires a *cron.Cron target"},
		{"BadSpec", "invalid spec"},
		{"BadTZ", "Mars/Base"},
		{"JobOnly", "job Tick requires a spec"},
		{"Missing", "job method"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f, ok := class.Field(tt.field)
			require.True(t, ok)
			target := inject.FieldTarget(f)
			ann, ok := inject.Find[Schedule](target, false)
			require.True(t, ok)

			err := Extension.Validate(target, ann)
			if err == nil {
				_, err = resolver{}.Resolve(suite.NewContext(t, class, quiet()), target, ann)
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestOptions(t *testing.T) {
	opts := NewDefaultOptions("")
	assert.Equal(t, DefaultName, opts.Name)
	require.NoError(t, opts.Validate())

	opts.StopTimeout = 0
	assert.EqualError(t, opts.Validate(), "cron 'default': stop timeout must be positive")

	opts = NewDefaultOptions("tz")
	opts.Location = "Nowhere/City"
	_, err := New(opts)
	assert.Error(t, err)

	rec := logging.NewRecorder()
	opts = NewDefaultOptions("recover")
	opts.Logger = logging.NewLoggerFactory(logging.LogLevelTrace, rec).CreateLogger("cron")
	c, err := New(opts)
	require.NoError(t, err)
	_, err = c.AddFunc("@hourly", func() { panic("boom") })
	require.NoError(t, err)
	assert.NotPanics(t, func() { c.Entries()[0].WrappedJob.Run() })
	assert.True(t, rec.Contains("panic"))
	assert.NoError(t, Stop(c, time.Second))
}

func TestConvertToFields(t *testing.T) {
	fields := convertToFields([]any{"entry", 1, "now", "x", "dangling"})
	assert.Equal(t, []logging.Field{logging.F("entry", 1), logging.F("now", "x")}, fields)
}
