package database

import (
	"database/sql"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gocrud/testkit/inject"
	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

type User struct {
	ID   uint
	Name string
}

type Order struct {
	ID     uint
	UserID uint
}

func quiet() suite.Option {
	s := suite.DefaultSettings()
	s.LogLevel = logging.LogLevelNone
	return suite.WithSettings(s)
}

func count(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

type repoSuite struct {
	Shared *gorm.DB `database:"shared" testkit:"static"`
	DB     *gorm.DB `database:",seed=seedUsers"`
	Raw    *sql.DB  `database:""`
	Orders *gorm.DB `database:"orders,seed=SeedOrders"`
}

func (*repoSuite) Annotate(d *meta.Declarations) {
	d.Class(Migrate{Models: []any{&User{}}})
	d.Field("Orders", Migrate{Models: []any{&Order{}}})
	d.Func("seedUsers", func(db *gorm.DB) error {
		return db.Create(&User{Name: "alice"}).Error
	})
	d.Method("TestParameter").Param(1, DB{Name: "param"})
}

func (s *repoSuite) SeedOrders(ctx *suite.Context, db *gorm.DB) error {
	ctx.Logger().Debug("seeding orders")
	return db.Create(&Order{UserID: 1}).Error
}

func (s *repoSuite) TestA_Write(t *testing.T) {
	require.NoError(t, s.DB.Create(&User{Name: "bob"}).Error)
	assert.EqualValues(t, 2, count(t, s.DB, &User{}))
	require.NoError(t, s.Shared.Create(&User{Name: "carol"}).Error)
}

func (s *repoSuite) TestB_Isolated(t *testing.T) {
	assert.EqualValues(t, 1, count(t, s.DB, &User{}), "each test gets a fresh seeded database")
	assert.EqualValues(t, 1, count(t, s.Shared, &User{}), "class level database survives between tests")
}

func (s *repoSuite) TestSameName(t *testing.T) {
	var n int
	require.NoError(t, s.Raw.QueryRow("SELECT count(*) FROM users").Scan(&n))
	assert.Equal(t, 1, n, "fields with the same name share one database")
}

func (s *repoSuite) TestNearestMigrate(t *testing.T) {
	assert.EqualValues(t, 1, count(t, s.Orders, &Order{}))
	assert.False(t, s.Orders.Migrator().HasTable(&User{}), "field scope overrides the class")
}

func (s *repoSuite) TestParameter(t *testing.T, db *gorm.DB) {
	assert.NotSame(t, s.DB, db)
	assert.True(t, db.Migrator().HasTable(&User{}), "class migrations apply to parameters")
	assert.EqualValues(t, 0, count(t, db, &User{}))
}

func TestDatabaseSuite(t *testing.T) {
	suite.Run(t, &repoSuite{}, quiet())
}

func TestDecodeTag(t *testing.T) {
	ann, err := decodeTag(reflect.StructField{}, "main,dsn=file:x.db,seed=fill,maxopen=2,debug")
	require.NoError(t, err)
	assert.Equal(t, DB{Name: "main", DSN: "file:x.db", Seed: "fill", MaxOpenConns: 2, Debug: true}, ann)

	ann, err = decodeTag(reflect.StructField{}, "")
	require.NoError(t, err)
	assert.Equal(t, DB{}, ann)

	_, err = decodeTag(reflect.StructField{}, "x,maxopen=many")
	assert.ErrorContains(t, err, "maxopen")
}

func TestOptions(t *testing.T) {
	opts := NewDefaultOptions("")
	assert.Equal(t, DefaultName, opts.Name)
	assert.NoError(t, opts.Validate())
	assert.NotEqual(t, opts.DSN, NewDefaultOptions("").DSN, "each default database is distinct")

	opts.DSN = ""
	assert.EqualError(t, opts.Validate(), "database 'default': dsn is required")

	opts = NewDefaultOptions("x")
	opts.MaxOpenConns = -1
	assert.Error(t, opts.Validate())

	opts = NewDefaultOptions("m")
	opts.AutoMigrate = []any{&User{}}
	db, err := Open(opts)
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable(&User{}))
	require.NoError(t, Close(db))
}

type failingSeed struct {
	DB *gorm.DB `database:",seed=fill"`
}

var errSeed = errors.New("seed failed")

func (*failingSeed) Annotate(d *meta.Declarations) {
	d.Func("fill", func(*gorm.DB) error { return errSeed })
}

type missingSeed struct {
	DB *gorm.DB `database:",seed=nothing"`
}

type wrongType struct {
	DB *gorm.DB `database:""`
	N  int      `database:""`
}

func runField(t *testing.T, class *meta.Class, f *meta.Field) error {
	ctx := suite.NewContext(t, class, quiet())
	target := inject.FieldTarget(f)
	ann, ok := inject.Find[DB](target, false)
	require.True(t, ok)
	if err := Extension.Validate(target, ann); err != nil {
		return err
	}
	_, err := resolver{}.Resolve(ctx, target, ann)
	return err
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name  string
		class *meta.Class
		field string
		check func(t *testing.T, err error)
	}{
		{"seed error", meta.MustClassOf(meta.TypeOf[failingSeed]()), "DB", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, errSeed)
		}},
		{"seed not found", meta.MustClassOf(meta.TypeOf[missingSeed]()), "DB", func(t *testing.T, err error) {
			assert.ErrorContains(t, err, "seed method")
		}},
		{"unsupported field type", meta.MustClassOf(meta.TypeOf[wrongType]()), "N", func(t *testing.T, err error) {
			assert.ErrorContains(t, err, "unsupported type int")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := tt.class.Field(tt.field)
			require.True(t, ok)
			err := runField(t, tt.class, f)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}
