package hosting

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/testkit/di"
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

type greeting struct {
	Text string
}

type pinger struct {
	*BackgroundService
	Greeting *greeting
	started  atomic.Bool
}

func newPinger(g *greeting) *pinger {
	return &pinger{BackgroundService: NewBackgroundService("pinger", nil), Greeting: g}
}

func (p *pinger) Start(ctx context.Context) error {
	p.started.Store(true)
	return p.BackgroundService.Start(ctx)
}

type tickCounter struct {
	n atomic.Int32
}

type workerSuite struct {
	Manager *Manager     `hosting:""`
	Ticks   *Manager     `hosting:"ticks,timeout=1s"`
	Pinger  *pinger      `di:""`
	Counter *tickCounter `di:""`
}

func (*workerSuite) Annotate(d *meta.Declarations) {
	d.Class(
		di.Services{Providers: []any{
			&greeting{Text: "hi"},
			newPinger,
			func() *tickCounter { return &tickCounter{} },
			func(c *tickCounter) *TimedService {
				return NewTimedService("ticks", 5*time.Millisecond, func(context.Context) error {
					c.n.Add(1)
					return nil
				}, nil)
			},
		}},
		Services{Items: []any{meta.TypeOf[*pinger]()}},
	)
	d.Field("Ticks", Services{Items: []any{meta.TypeOf[*TimedService]()}})
}

func (s *workerSuite) TestA_Started(t *testing.T) {
	assert.Equal(t, 1, s.Manager.Len())
	assert.Eventually(t, s.Pinger.started.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hi", s.Pinger.Greeting.Text, "services come from the test container")
}

func (s *workerSuite) TestB_FreshServices(t *testing.T) {
	assert.Eventually(t, s.Pinger.started.Load, time.Second, 5*time.Millisecond,
		"each test starts new service instances")
	assert.NoError(t, s.Manager.Err())
}

func (s *workerSuite) TestTimed(t *testing.T) {
	assert.NotSame(t, s.Manager, s.Ticks)
	assert.Eventually(t, func() bool { return s.Counter.n.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestHostingSuite(t *testing.T) {
	suite.Run(t, &workerSuite{}, quiet())
}

type failing struct {
	err error
}

func (f failing) Start(context.Context) error { return f.err }
func (f failing) Stop(context.Context) error  { return nil }

type stubborn struct {
	release chan struct{}
}

func (s stubborn) Start(context.Context) error {
	<-s.release
	return nil
}

func (s stubborn) Stop(context.Context) error { return errors.New("refused") }

func TestManagerErrors(t *testing.T) {
	boom := errors.New("boom")
	m := NewManager(nil)
	m.Add(failing{boom}, failing{context.Canceled})
	m.StartAll(t.Context())

	err := m.StopAll(t.Context())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, m.Err(), boom)
	assert.NotErrorIs(t, err, context.Canceled, "cancellation is not a failure")
}

func TestManagerStopTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	m := NewManager(nil)
	m.Add(stubborn{release})
	m.StartAll(t.Context())

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := m.StopAll(ctx)
	assert.ErrorContains(t, err, "refused")
	assert.ErrorContains(t, err, "services still running")
}

func TestBackgroundService(t *testing.T) {
	s := NewBackgroundService("bg", nil)
	done := make(chan error, 1)
	go func() { done <- s.Start(t.Context()) }()

	require.NoError(t, s.Stop(t.Context()))
	assert.NoError(t, <-done)
	assert.NoError(t, s.Stop(t.Context()), "stop is idempotent")

	select {
	case <-s.StopChan():
	default:
		t.Fatal("stop channel should be closed")
	}
}

type invalid struct {
	Wrong  string   `hosting:""`
	NotSvc *Manager `hosting:"bad"`
}

func (*invalid) Annotate(d *meta.Declarations) {
	d.Field("NotSvc", Services{Items: []any{&greeting{}}})
}

func TestResolveErrors(t *testing.T) {
	class := meta.MustClassOf(meta.TypeOf[invalid]())
	tests := []struct {
		field string
		want  string
	}{
		{"Wrong", "unsupported type string"},
		{"NotSvc", "does not implement hosting.HostedService"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f, _ := class.Field(tt.field)
			target := inject.FieldTarget(f)
			ann, ok := inject.Find[Host](target, false)
			require.True(t, ok)

			err := Extension.Validate(target, ann)
			if err == nil {
				_, err = resolver{}.Resolve(suite.NewContext(t, class, quiet()), target, ann)
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
