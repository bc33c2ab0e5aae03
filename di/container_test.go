package di_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/gocrud/testkit/di"
)

type Logger interface {
	Log(msg string)
}

type ConsoleLogger struct {
	Prefix string
	lines  []string
}

func (l *ConsoleLogger) Log(msg string) { l.lines = append(l.lines, l.Prefix+msg) }

type Cache interface {
	Get(key string) string
}

type Repo struct {
	DSN string
}

func NewRepo(cfg *Config) (*Repo, error) {
	if cfg.DSN == "" {
		return nil, errors.New("empty dsn")
	}
	return &Repo{DSN: cfg.DSN}, nil
}

type Config struct {
	DSN string
}

type UserService struct {
	Repo   *Repo  `di:""`
	Logger Logger `di:"audit"`
	Cache  Cache  `di:"?"`
}

type closer struct {
	name   string
	closed *[]string
}

func (c *closer) Close() error {
	*c.closed = append(*c.closed, c.name)
	return nil
}

func newContainer(t *testing.T) *di.Container {
	t.Helper()
	c := di.New()
	c.MustProvide(&Config{DSN: "sqlite://"})
	c.MustProvide(NewRepo)
	c.MustProvide(&ConsoleLogger{Prefix: "audit: "}, di.As[Logger](), di.WithName("audit"))
	if err := di.Register[UserService](c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return c
}

// 测试构造函数、实例、结构体注入与可选字段
func TestResolve(t *testing.T) {
	c := newContainer(t)
	if err := c.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	svc, err := di.Resolve[UserService](c)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if svc.Repo == nil || svc.Repo.DSN != "sqlite://" {
		t.Errorf("Repo not injected: %+v", svc.Repo)
	}
	if svc.Logger == nil {
		t.Fatal("Expected named Logger to be injected")
	}
	svc.Logger.Log("hi")
	if svc.Cache != nil {
		t.Error("Expected Cache to be nil (optional and not registered)")
	}

	again, _ := di.Resolve[*Repo](c)
	if again != svc.Repo {
		t.Error("singleton resolved twice")
	}
	self, _ := di.Resolve[*di.Container](c)
	if self != c {
		t.Error("container should resolve to itself")
	}
}

func TestTransient(t *testing.T) {
	c := di.New()
	n := 0
	c.MustProvide(func() *Repo { n++; return &Repo{} }, di.WithTransient())
	if err := c.Build(); err != nil {
		t.Fatal(err)
	}
	a, _ := di.Resolve[*Repo](c)
	b, _ := di.Resolve[*Repo](c)
	if a == b || n != 2 {
		t.Errorf("transient service created %d times", n)
	}
}

func TestToken(t *testing.T) {
	primary := di.NewToken[*Config]("primary")
	c := di.New()
	c.MustProvide(&Config{DSN: "a"}, di.WithToken(primary))
	c.MustProvide(&Config{DSN: "b"})
	if err := c.Build(); err != nil {
		t.Fatal(err)
	}
	cfg, err := di.ResolveToken(c, primary)
	if err != nil || cfg.DSN != "a" {
		t.Errorf("ResolveToken = %v, %v", cfg, err)
	}
	if got := primary.String(); got != "Token[*di_test.Config](primary)" {
		t.Errorf("String() = %q", got)
	}
}

type cycleA struct {
	B *cycleB `di:""`
}

type cycleB struct {
	A *cycleA `di:"?"`
}

func TestCircularDependency(t *testing.T) {
	c := di.New()
	_ = di.Register[*cycleA](c)
	_ = di.Register[*cycleB](c)
	err := c.Build()
	if !errors.Is(err, di.ErrCircularDependency) {
		t.Fatalf("expected circular dependency, got %v", err)
	}
	if !strings.Contains(err.Error(), "*di_test.cycleA -> *di_test.cycleB -> *di_test.cycleA") {
		t.Errorf("unexpected cycle description: %v", err)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *di.Container) error
		want string
	}{
		{"duplicate", func(c *di.Container) error {
			c.MustProvide(&Config{})
			_, err := c.Provide(&Config{})
			return err
		}, "already registered"},
		{"unsupported target", func(c *di.Container) error {
			_, err := c.Provide(42)
			return err
		}, "unsupported provide target int"},
		{"nil pointer", func(c *di.Container) error {
			_, err := c.Provide((*Config)(nil))
			return err
		}, "cannot provide nil"},
		{"not assignable", func(c *di.Container) error {
			_, err := c.Provide(&Config{}, di.As[Logger]())
			return err
		}, "is not assignable to"},
		{"interface without implementation", func(c *di.Container) error {
			return di.Register[Logger](c)
		}, "use di.Use"},
		{"factory error", func(c *di.Container) error {
			c.MustProvide(&Config{})
			c.MustProvide(NewRepo)
			return c.Build()
		}, "empty dsn"},
		{"missing dependency", func(c *di.Container) error {
			c.MustProvide(NewRepo)
			return c.Build()
		}, "service not found"},
		{"nil factory result", func(c *di.Container) error {
			c.MustProvide(func() *Repo { return nil })
			return c.Build()
		}, "returned nil"},
		{"not built", func(c *di.Container) error {
			_, err := c.Get(reflect.TypeOf(&Config{}))
			return err
		}, "not built"},
		{"add after build", func(c *di.Container) error {
			_ = c.Build()
			_, err := c.Provide(&Config{})
			return err
		}, "already built"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(di.New())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestUseImplementation(t *testing.T) {
	c := di.New()
	if err := di.Register[Logger](c, di.Use[*ConsoleLogger]()); err != nil {
		t.Fatal(err)
	}
	if err := c.Build(); err != nil {
		t.Fatal(err)
	}
	l, err := di.Resolve[Logger](c)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := l.(*ConsoleLogger); !ok {
		t.Errorf("expected *ConsoleLogger, got %T", l)
	}
}

func TestInjectFieldsAndClose(t *testing.T) {
	var closed []string
	c := di.New()
	c.MustProvide(func() *closer { return &closer{name: "first", closed: &closed} })
	c.MustProvide(func(first *closer) *Config { return &Config{DSN: first.name} })
	c.MustProvide(&closer{name: "second", closed: &closed}, di.WithName("second"))
	if err := c.Build(); err != nil {
		t.Fatal(err)
	}

	var target struct {
		Config *Config `di:""`
		Second *closer `di:"second"`
	}
	if err := c.InjectFields(&target); err != nil {
		t.Fatal(err)
	}
	if target.Config.DSN != "first" || target.Second.name != "second" {
		t.Errorf("unexpected injection: %+v", target)
	}
	if err := c.InjectFields(target); err == nil {
		t.Error("expected error for non-pointer target")
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if len(closed) != 2 || closed[0] == closed[1] {
		t.Errorf("closers = %v", closed)
	}
}
