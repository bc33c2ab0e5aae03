package redis

import (
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/testkit/config"
	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

const unreachable = "127.0.0.1:1"

func settings(data map[string]any) suite.Option {
	s := suite.DefaultSettings()
	s.LogLevel = logging.LogLevelNone
	s.Config = config.New(data)
	return suite.WithSettings(s)
}

type fields struct {
	Client *redis.Client   `redis:"cache,db=2"`
	Cmd    redis.Cmdable   `redis:""`
	Text   string          `redis:""`
	Any    redis.Pipeliner `redis:""`
}

func target(t *testing.T, name string) inject.Target {
	t.Helper()
	f, ok := meta.MustClassOf(meta.TypeOf[fields]()).Field(name)
	require.True(t, ok)
	return inject.FieldTarget(f)
}

func TestDecodeTag(t *testing.T) {
	ann, err := decodeTag(reflect.StructField{}, "cache,addr=10.0.0.1:6380,db=3,flush,skip")
	require.NoError(t, err)
	assert.Equal(t, Client{Name: "cache", Addr: "10.0.0.1:6380", DB: 3, Flush: true, SkipUnavailable: true}, ann)

	_, err = decodeTag(reflect.StructField{}, "x,db=one")
	assert.ErrorContains(t, err, "redis: db")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Extension.Validate(target(t, "Client"), Client{}))
	assert.NoError(t, Extension.Validate(target(t, "Cmd"), Client{}), "interfaces implemented by the client are accepted")

	err := Extension.Validate(target(t, "Text"), Client{})
	var ce *inject.ConfigurationError
	require.ErrorAs(t, err, &ce)

	assert.Error(t, Extension.Validate(target(t, "Any"), Client{}))
	assert.Error(t, Extension.Validate(target(t, "Client"), Client{DB: -1}))
}

func TestOptions(t *testing.T) {
	opts := NewDefaultOptions("")
	assert.Equal(t, DefaultName, opts.Name)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.NoError(t, opts.Validate())

	tests := []struct {
		name   string
		modify func(o *Options)
		want   string
	}{
		{"addr", func(o *Options) { o.Addr = "" }, "redis 'default': address is required"},
		{"db", func(o *Options) { o.DB = -1 }, "redis 'default': database number must be non-negative"},
		{"timeout", func(o *Options) { o.DialTimeout = 0 }, "redis 'default': dial timeout must be positive"},
		{"name", func(o *Options) { o.Name = "" }, "redis client name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewDefaultOptions("")
			tt.modify(o)
			assert.EqualError(t, o.Validate(), tt.want)
		})
	}
}

func TestOptionsFromSettings(t *testing.T) {
	class := meta.MustClassOf(meta.TypeOf[fields]())
	ctx := suite.NewContext(t, class, settings(map[string]any{
		"redis": map[string]any{
			"addr":  "shared:6379",
			"cache": map[string]any{"addr": "cache:6379", "password": "secret"},
		},
	}))

	opts := resolveOptions(ctx, Client{Name: "cache", DB: 2})
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	assert.Equal(t, "shared:6379", resolveOptions(ctx, Client{}).Addr)
	assert.Equal(t, "x:1", resolveOptions(ctx, Client{Name: "cache", Addr: "x:1"}).Addr, "annotation wins")
}

func TestUnavailable(t *testing.T) {
	class := meta.MustClassOf(meta.TypeOf[fields]())

	ctx := suite.NewContext(t, class, settings(nil))
	start := time.Now()
	_, err := resolver{}.Resolve(ctx, target(t, "Client"), Client{Addr: unreachable})
	assert.ErrorContains(t, err, "failed to connect to "+unreachable)
	assert.Less(t, time.Since(start), 10*time.Second)

	var sub *testing.T
	t.Run("skip", func(t *testing.T) {
		sub = t
		ctx := suite.NewContext(t, class, settings(nil))
		_, _ = resolver{}.Resolve(ctx, target(t, "Client"), Client{Addr: unreachable, SkipUnavailable: true})
		t.Error("not reached")
	})
	assert.True(t, sub.Skipped())
}

type liveSuite struct {
	Client *redis.Client `redis:"live,db=15,flush"`
	Same   redis.Cmdable `redis:"live,db=15"`
}

func (s *liveSuite) TestRoundTrip(t *testing.T) {
	ctx := t.Context()
	require.NoError(t, s.Client.Set(ctx, "k", "v", time.Minute).Err())
	got, err := s.Same.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.Same(t, s.Client, s.Same)
}

func TestLiveServer(t *testing.T) {
	addr := os.Getenv("TESTKIT_REDIS_ADDR")
	if addr == "" {
		t.Skip("TESTKIT_REDIS_ADDR not set")
	}
	suite.Run(t, &liveSuite{}, settings(map[string]any{"redis": map[string]any{"addr": addr}}))
}
