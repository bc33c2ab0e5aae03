package resource

import (
	"encoding/csv"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/testkit/config"
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

type user struct {
	Name string `yaml:"name" json:"name"`
	Age  int    `yaml:"age" json:"age"`
}

type fileSuite struct {
	Users   []user               `resource:"users.yaml"`
	JSON    []user               `resource:"users.json"`
	Names   []string             `resource:"names.txt"`
	Raw     []byte               `resource:"names.txt"`
	Text    string               `resource:"names.txt"`
	Props   map[string]string    `resource:"app.properties"`
	Config  config.Configuration `resource:"app.yaml"`
	PropCfg config.Configuration `resource:"app.properties"`
	CSV     [][]string           `resource:"users.csv,parser=ParseCSV"`
	Count   int                  `resource:"names.txt,parser=countLines"`
	Alt     *altSuite            `testkit:"nested"`
}

func (*fileSuite) Annotate(d *meta.Declarations) {
	d.Field("Names", LineOptions{Trim: true, SkipBlank: true, Comment: "#"})
	d.Func("countLines", func(s string) int { return strings.Count(s, "\n") })
	d.Method("TestLinesDefault").Param(1, File{Path: "names.txt"})
}

func (*fileSuite) ParseCSV(r io.Reader) ([][]string, error) {
	return csv.NewReader(r).ReadAll()
}

func (s *fileSuite) TestStructured(t *testing.T) {
	assert.Equal(t, []user{{"alice", 30}, {"bob", 25}}, s.Users)
	assert.Equal(t, []user{{"carol", 41}}, s.JSON)
}

func (s *fileSuite) TestText(t *testing.T) {
	assert.Equal(t, []string{"alice", "bob", "carol"}, s.Names)
	assert.Equal(t, string(s.Raw), s.Text)
	assert.True(t, strings.HasPrefix(s.Text, "# users\n"))
}

func (s *fileSuite) TestProperties(t *testing.T) {
	assert.Equal(t, map[string]string{
		"app.name": "demo",
		"app.port": "8080",
		"db.url":   "jdbc:sqlite:memory",
	}, s.Props)

	assert.Equal(t, "demo", s.Config.Get("app.name"))
	port, err := s.PropCfg.GetInt("app.port")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)
}

func (s *fileSuite) TestParsers(t *testing.T) {
	require.Len(t, s.CSV, 3)
	assert.Equal(t, []string{"1", "alice"}, s.CSV[1])
	assert.Equal(t, 5, s.Count)
}

func (s *fileSuite) TestLinesDefault(t *testing.T, lines []string) {
	assert.Equal(t, []string{"# users", "alice", "", "  bob  ", "carol"}, lines)
}

type altSuite struct {
	Greeting string `resource:"greeting.txt"`
}

func (*altSuite) Annotate(d *meta.Declarations) {
	d.Class(Root{Dir: filepath.Join("testdata", "alt")})
}

func (s *altSuite) TestRoot(t *testing.T) {
	assert.Equal(t, "hello from alt\n", s.Greeting)
}

func TestResourceSuite(t *testing.T) {
	suite.Run(t, &fileSuite{}, quiet())
}

func TestDecodeTag(t *testing.T) {
	ann, err := decodeTag(reflect.StructField{}, "data/users.bin,format=bytes,parser=Load")
	require.NoError(t, err)
	assert.Equal(t, File{Path: "data/users.bin", Format: "bytes", Parser: "Load"}, ann)
}

func TestLines(t *testing.T) {
	tests := []struct {
		name string
		data string
		opts LineOptions
		want []string
	}{
		{"empty", "", LineOptions{}, []string{}},
		{"trailing newline", "a\nb\n", LineOptions{}, []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", LineOptions{}, []string{"a", "b"}},
		{"keeps blank", "a\n\nb", LineOptions{}, []string{"a", "", "b"}},
		{"skip blank", "a\n  \nb", LineOptions{SkipBlank: true}, []string{"a", "b"}},
		{"trim", " a \n\tb", LineOptions{Trim: true}, []string{"a", "b"}},
		{"comment after trim", "  // x\ny", LineOptions{Trim: true, Comment: "//"}, []string{"y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Lines([]byte(tt.data), tt.opts))
		})
	}
}

type pathSuite struct {
	Field string
}

func TestPath(t *testing.T) {
	class := meta.MustClassOf(meta.TypeOf[pathSuite]())
	f, _ := class.Field("Field")
	target := inject.FieldTarget(f)

	ctx := suite.NewContext(t, class, quiet())
	assert.Equal(t, filepath.Join("testdata", "a", "b.txt"), Path(ctx, target, "a/b.txt"))

	abs, err := filepath.Abs("x.txt")
	require.NoError(t, err)
	assert.Equal(t, abs, Path(ctx, target, abs))

	s := suite.DefaultSettings()
	s.LogLevel = logging.LogLevelNone
	s.ResourceRoot = "fixtures"
	ctx = suite.NewContext(t, class, suite.WithSettings(s))
	assert.Equal(t, filepath.Join("fixtures", "x.txt"), Path(ctx, target, "x.txt"))
}

type invalid struct {
	Infer       int       `resource:"names.txt"`
	WrongFormat []byte    `resource:"names.txt,format=text"`
	Unknown     string    `resource:"names.txt,format=xml"`
	Empty       string    `resource:""`
	WrongParser string    `resource:"users.csv,parser=ParseCSV"`
	NoParser    string    `resource:"users.csv,parser=nothing"`
	Props       []string  `resource:"app.properties,format=properties"`
	Missing     string    `resource:"missing.txt"`
	BadYAML     []user    `resource:"bad.yaml"`
	Reader      io.Reader `resource:"names.txt"`
}

func (*invalid) ParseCSV(r io.Reader) ([][]string, error) {
	return csv.NewReader(r).ReadAll()
}

func TestResolveErrors(t *testing.T) {
	class := meta.MustClassOf(meta.TypeOf[invalid]())
	tests := []struct {
		field string
		want  string
	}{
		{"Infer", "cannot infer the format of names.txt for int"},
		{"WrongFormat", "format text requires a string target"},
		{"Unknown", "invalid"},
		{"Empty", "invalid"},
		{"WrongParser", "does not return string"},
		{"NoParser", "nothing"},
		{"Props", "format properties requires"},
		{"Missing", "missing.txt"},
		{"BadYAML", "bad.yaml"},
		{"Reader", "cannot infer the format"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f, ok := class.Field(tt.field)
			require.True(t, ok)
			target := inject.FieldTarget(f)
			ann, ok := inject.Find[File](target, false)
			require.True(t, ok)

			err := Extension.Validate(target, ann)
			if err == nil {
				_, err = resolver{}.Resolve(suite.NewContext(t, class, quiet()), target, ann)
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
