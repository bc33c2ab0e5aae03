package inject

import (
	"errors"
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocrud/testkit/logging"
	"github.com/gocrud/testkit/meta"
	"github.com/gocrud/testkit/suite"
)

// Greeting 标记注解
type Greeting struct {
	Text string `validate:"required"`
}

// Punct 作用域级别的配置注解，最近的声明生效
type Punct struct {
	Mark string
}

type Tagged struct{ Name string }

var errResolve = errors.New("resolve failed")

func init() {
	meta.RegisterTag("greet", func(_ reflect.StructField, value string) (any, error) {
		return Greeting{Text: value}, nil
	})
}

var greetings = NewExtension[Greeting]("greeting", ResolverFuncs[Greeting]{
	ValidateFunc: func(t Target, _ Greeting) error {
		return RequireType(t, meta.TypeOf[string]())
	},
	ResolveFunc: func(_ *suite.Context, t Target, g Greeting) (any, error) {
		if g.Text == "fail" {
			return nil, errResolve
		}
		p, _ := Find[Punct](t, true)
		return g.Text + p.Mark, nil
	},
})

type greetSuite struct {
	Static string `greet:"static" testkit:"static"`
	Hello  string `greet:"hello"`
	Plain  string
	Inner  *greetInner `testkit:"nested"`
}

func (*greetSuite) Annotate(d *meta.Declarations) {
	d.Class(Punct{Mark: "!"}, suite.Use(greetings))
	d.Method("TestParameter").
		Annotate(Punct{Mark: "?"}).
		Param(1, Greeting{Text: "param"})
}

func (s *greetSuite) TestFields(t *testing.T) {
	assert.Equal(t, "static!", s.Static)
	assert.Equal(t, "hello!", s.Hello)
	assert.Empty(t, s.Plain)
}

func (s *greetSuite) TestParameter(t *testing.T, word string) {
	assert.Equal(t, "param?", word, "method scope is nearer than the class")
}

type greetInner struct {
	Word  string          `greet:"inner"`
	Outer *greetSuite     `testkit:"outer"`
	Deep  *greetInnermost `testkit:"nested"`
}

func (s *greetInner) TestEnclosing(t *testing.T) {
	assert.Equal(t, "inner!", s.Word, "falls back to the enclosing class")
	assert.Equal(t, "hello!", s.Outer.Hello, "outer instance injected as well")
}

type greetInnermost struct {
	Word string `greet:"deep"`
}

func (*greetInnermost) Annotate(d *meta.Declarations) {
	d.Class(Punct{Mark: "."})
}

func (s *greetInnermost) TestNearest(t *testing.T) {
	assert.Equal(t, "deep.", s.Word)
}

func quiet() suite.Option {
	s := suite.DefaultSettings()
	s.LogLevel = logging.LogLevelNone
	return suite.WithSettings(s)
}

func TestPipeline(t *testing.T) {
	proto := &greetSuite{}
	suite.Run(t, proto, quiet())
	assert.Equal(t, "static!", proto.Static, "class level fields live on the prototype")
	assert.Empty(t, proto.Hello)
}

type scoped struct {
	Field string
	Inner *scopedInner `testkit:"nested"`
}

func (*scoped) Annotate(d *meta.Declarations) {
	d.Class(Punct{Mark: "class"}, Tagged{Name: "a"}, Tagged{Name: "b"})
	d.Method("Run").Annotate(Punct{Mark: "method"}).Param(0, Punct{Mark: "param"})
	d.Method("Other").Annotate(Tagged{Name: "m"})
}

func (*scoped) Run(s string, n int) {}
func (*scoped) Other(s string)      {}

type scopedInner struct {
	Field string
}

func (*scopedInner) Annotate(d *meta.Declarations) {
	d.Field("Field", Tagged{Name: "f"})
	d.Method("Marked").Annotate(Punct{Mark: "inner method"})
}

func (*scopedInner) Plain(s string)  {}
func (*scopedInner) Marked(s string) {}

func scopedTargets(t *testing.T) (field, nestedField, p0, p1, other Target) {
	t.Helper()
	class := meta.MustClassOf(meta.TypeOf[scoped]())
	f, _ := class.Field("Field")
	_, nested, err := class.Nested()
	require.NoError(t, err)
	nf, _ := nested[0].Field("Field")
	run := class.MethodsNamed("Run")[0]
	o := class.MethodsNamed("Other")[0]
	return FieldTarget(f), FieldTarget(nf), ParameterTarget(run.Parameter(0)),
		ParameterTarget(run.Parameter(1)), ParameterTarget(o.Parameter(0))
}

func TestFindAnnotationLexicalScope(t *testing.T) {
	field, nestedField, p0, p1, _ := scopedTargets(t)

	tests := []struct {
		name   string
		target Target
		want   string
	}{
		{"parameter itself", p0, "param"},
		{"parameter falls back to method", p1, "method"},
		{"field falls back to class", field, "class"},
		{"nested field falls back to enclosing class", nestedField, "class"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := Find[Punct](tt.target, true)
			require.True(t, ok)
			assert.Equal(t, tt.want, p.Mark)
			assert.True(t, tt.target.IsAnnotated(meta.TypeOf[Punct](), true))
		})
	}

	_, ok := Find[Punct](p1, false)
	assert.False(t, ok, "without enclosing scopes only the target is searched")
	assert.False(t, field.IsAnnotated(meta.TypeOf[Punct](), false))
	p, ok := Find[Punct](p0, false)
	require.True(t, ok)
	assert.Equal(t, "param", p.Mark)
}

func TestFindAnnotationNestedClassMethod(t *testing.T) {
	class := meta.MustClassOf(meta.TypeOf[scoped]())
	_, nested, err := class.Nested()
	require.NoError(t, err)
	inner := nested[0]
	plain := ParameterTarget(inner.MethodsNamed("Plain")[0].Parameter(0))
	marked := ParameterTarget(inner.MethodsNamed("Marked")[0].Parameter(0))

	p, ok := Find[Punct](plain, true)
	require.True(t, ok)
	assert.Equal(t, "class", p.Mark, "resolves through the nested class to the enclosing class")

	p, ok = Find[Punct](marked, true)
	require.True(t, ok)
	assert.Equal(t, "inner method", p.Mark, "the method is nearer than the enclosing class")

	_, ok = Find[Punct](plain, false)
	assert.False(t, ok)
	_, ok = Find[Punct](marked, false)
	assert.False(t, ok, "method annotations are enclosing scopes of the parameter")
	assert.Same(t, inner, plain.DeclaringClass())
}

func TestFindRepeatableNearestScope(t *testing.T) {
	field, nestedField, _, _, other := scopedTargets(t)

	names := func(tags []Tagged) []string {
		var out []string
		for _, tg := range tags {
			out = append(out, tg.Name)
		}
		return out
	}
	assert.Equal(t, []string{"a", "b"}, names(FindAll[Tagged](field, true)))
	assert.Equal(t, []string{"f"}, names(FindAll[Tagged](nestedField, true)), "nearest scope only")
	assert.Equal(t, []string{"m"}, names(FindAll[Tagged](other, true)))
	assert.Empty(t, FindAll[Tagged](field, false))
	assert.Empty(t, FindAll[Greeting](other, true))
}

func TestTargetIdentity(t *testing.T) {
	field, _, p0, _, _ := scopedTargets(t)
	class := meta.MustClassOf(meta.TypeOf[scoped]())
	f, _ := class.Field("Field")
	run := class.MethodsNamed("Run")[0]

	assert.Equal(t, field, FieldTarget(f))
	assert.True(t, field == FieldTarget(f))
	assert.True(t, p0 == ParameterTarget(run.Parameter(0)))
	assert.False(t, p0 == ParameterTarget(run.Parameter(1)))

	seen := map[Target]int{field: 1, p0: 2}
	assert.Equal(t, 1, seen[FieldTarget(f)])
	assert.Equal(t, 2, seen[ParameterTarget(run.Parameter(0))])

	got, ok := AsField(field)
	require.True(t, ok)
	assert.Same(t, f, got)
	_, ok = AsParameter(field)
	assert.False(t, ok)
	param, ok := AsParameter(p0)
	require.True(t, ok)
	assert.Equal(t, 0, param.Index())

	assert.Same(t, class, field.DeclaringClass())
	assert.Same(t, class, p0.DeclaringClass())
	assert.Equal(t, "Field", field.Name())
	assert.Equal(t, "arg0", p0.Name())
	assert.Equal(t, reflect.String, p0.Kind())
}

func TestCreateErrorKinds(t *testing.T) {
	field, _, p0, _, _ := scopedTargets(t)
	cause := errors.New("cause")

	err := field.CreateError("bad field", cause)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "inject: configuration error: field github.com/gocrud/testkit/inject.scoped.Field: bad field: cause", err.Error())

	err = p0.CreateError("bad param", nil)
	var pe *ParameterResolutionError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, err.Error(), "inject: parameter resolution error: parameter ")
	assert.NotErrorIs(t, err, cause)
}

type badFields struct {
	Count int    `greet:"count"`
	Empty string `greet:""`
	Fail  string `greet:"fail"`
}

func TestValidateAndResolveErrors(t *testing.T) {
	class := meta.MustClassOf(meta.TypeOf[badFields]())
	count, _ := class.Field("Count")
	empty, _ := class.Field("Empty")
	fail, _ := class.Field("Fail")
	inst := reflect.ValueOf(&badFields{})

	err := greetings.injectField(nil, FieldTarget(count), count, Greeting{Text: "count"}, inst)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Message, "unsupported type int")

	err = greetings.injectField(nil, FieldTarget(empty), empty, Greeting{}, inst)
	require.ErrorAs(t, err, &ce)
	var verrs validator.ValidationErrors
	assert.ErrorAs(t, err, &verrs, "validator errors are kept as the cause")

	err = greetings.injectField(nil, FieldTarget(fail), fail, Greeting{Text: "fail"}, inst)
	assert.Same(t, errResolve, err, "resolver errors are not wrapped")
}

func TestSupportsParameter(t *testing.T) {
	class := meta.MustClassOf(meta.TypeOf[greetSuite]())
	m := class.MethodsNamed("TestParameter")[0]

	pc := suite.NewParameterContext(m.Parameter(1))
	assert.True(t, greetings.SupportsParameter(pc, nil))
	pc = suite.NewParameterContext(m.Parameter(0))
	assert.False(t, greetings.SupportsParameter(pc, nil), "no marker annotation")

	assert.Equal(t, "greeting", greetings.Name())
	assert.Equal(t, meta.TypeOf[Greeting](), greetings.AnnotationType())
}

func TestNewExtensionRequiresResolver(t *testing.T) {
	assert.Panics(t, func() { NewExtension[Greeting]("nil", nil) })
}

func TestRequireHelpers(t *testing.T) {
	_, _, p0, p1, _ := scopedTargets(t)

	assert.NoError(t, RequireType(p0, meta.TypeOf[int](), meta.TypeOf[string]()))
	assert.EqualError(t, RequireType(p1, meta.TypeOf[string]()), "unsupported type int, want one of string")

	assert.NoError(t, RequireAssignable(p0, meta.TypeOf[string]()))
	assert.Error(t, RequireAssignable(p1, meta.TypeOf[string]()))

	assert.NoError(t, RequireKind(p1, reflect.Int, reflect.Int64))
	assert.EqualError(t, RequireKind(p0, reflect.Int, reflect.Int64), "unsupported kind string, want one of int, int64")
}
