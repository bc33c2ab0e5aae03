package mongodb

import (
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/gocrud/testkit/config"
	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

func settings(data map[string]any) suite.Option {
	s := suite.DefaultSettings()
	s.LogLevel = logging.LogLevelNone
	s.Config = config.New(data)
	return suite.WithSettings(s)
}

type fields struct {
	Client *mongo.Client   `mongodb:""`
	DB     *mongo.Database `mongodb:",database=orders,drop"`
	Coll   *mongo.Collection
}

func target(t *testing.T, name string) inject.Target {
	t.Helper()
	f, ok := meta.MustClassOf(meta.TypeOf[fields]()).Field(name)
	require.True(t, ok)
	return inject.FieldTarget(f)
}

func TestDecodeTag(t *testing.T) {
	ann, err := decodeTag(reflect.StructField{}, "main,uri=mongodb://db:27017,database=orders,drop,skip")
	require.NoError(t, err)
	assert.Equal(t, Client{
		Name: "main", URI: "mongodb://db:27017", Database: "orders", Drop: true, SkipUnavailable: true,
	}, ann)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Extension.Validate(target(t, "Client"), Client{}))
	assert.NoError(t, Extension.Validate(target(t, "DB"), Client{Drop: true}))
	assert.ErrorContains(t, Extension.Validate(target(t, "Client"), Client{Drop: true}), "drop requires a *mongo.Database target")
	assert.ErrorContains(t, Extension.Validate(target(t, "Coll"), Client{}), "unsupported type *mongo.Collection")
}

func TestOptions(t *testing.T) {
	opts := NewDefaultOptions("")
	assert.Equal(t, DefaultName, opts.Name)
	require.NoError(t, opts.Validate())
	assert.NotNil(t, opts.ClientOptions())

	opts.MinPoolSize = 20
	assert.EqualError(t, opts.Validate(), "mongo 'default': min pool size 20 exceeds max 10")
	opts = NewDefaultOptions("x")
	opts.URI = ""
	assert.EqualError(t, opts.Validate(), "mongo 'x': uri is required")

	ctx := suite.NewContext(t, meta.MustClassOf(meta.TypeOf[fields]()), settings(map[string]any{
		"mongodb": map[string]any{"uri": "mongodb://a:1", "timeout": "250ms"},
	}))
	opts = resolveOptions(ctx, Client{Name: "main"})
	assert.Equal(t, "mongodb://a:1", opts.URI)
	assert.Equal(t, 250*time.Millisecond, opts.Timeout)
	assert.Equal(t, "mongodb://b:2", resolveOptions(ctx, Client{URI: "mongodb://b:2"}).URI)
}

func TestUnavailable(t *testing.T) {
	class := meta.MustClassOf(meta.TypeOf[fields]())
	unreachable := settings(map[string]any{
		"mongodb": map[string]any{"uri": "mongodb://127.0.0.1:1", "timeout": "200ms"},
	})

	ctx := suite.NewContext(t, class, unreachable)
	_, err := resolver{}.Resolve(ctx, target(t, "Client"), Client{})
	assert.ErrorContains(t, err, "failed to connect")

	var sub *testing.T
	t.Run("skip", func(t *testing.T) {
		sub = t
		ctx := suite.NewContext(t, class, unreachable)
		_, _ = resolver{}.Resolve(ctx, target(t, "DB"), Client{SkipUnavailable: true})
		t.Error("not reached")
	})
	assert.True(t, sub.Skipped())
}

type liveSuite struct {
	Client *mongo.Client   `mongodb:"" testkit:"static"`
	DB     *mongo.Database `mongodb:",database=testkit_live,drop"`
}

func (s *liveSuite) TestInsert(t *testing.T) {
	ctx := t.Context()
	_, err := s.DB.Collection("users").InsertOne(ctx, bson.M{"name": "alice"})
	require.NoError(t, err)
	n, err := s.DB.Collection("users").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Same(t, s.Client, s.DB.Client(), "database comes from the class level client")
}

func TestLiveServer(t *testing.T) {
	uri := os.Getenv("TESTKIT_MONGODB_URI")
	if uri == "" {
		t.Skip("TESTKIT_MONGODB_URI not set")
	}
	suite.Run(t, &liveSuite{}, settings(map[string]any{"mongodb": map[string]any{"uri": uri}}))
}
