package wrapper

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/Harsh-BH/gauntlet/internal/domain"
)

func upper(code string) (string, error) { return strings.ToUpper(code), nil }

func TestRegistry_RegisterAndWrap(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register([]string{"Python", "py"}, upper, Metadata{Name: "upper"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := reg.WrapCode("PY", "print(1)")
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if out != "PRINT(1)" {
		t.Errorf("unexpected output %q", out)
	}
	if !reg.HasWrapper("python") || !reg.HasWrapper(" py ") {
		t.Error("HasWrapper should match case- and space-insensitively")
	}
	if reg.HasWrapper("ruby") {
		t.Error("HasWrapper(ruby) should be false")
	}
	if got, want := reg.RegisteredLanguages(), []string{"py", "python"}; !reflect.DeepEqual(got, want) {
		t.Errorf("RegisteredLanguages() = %v, want %v", got, want)
	}
	if meta, ok := reg.Metadata("python"); !ok || meta.Name != "upper" {
		t.Errorf("unexpected metadata %+v %v", meta, ok)
	}
}

func TestRegistry_RejectsMalformedRegistrations(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name      string
		languages []string
		fn        WrapFunc
	}{
		{"nil function", []string{"python"}, nil},
		{"no languages", nil, upper},
		{"blank language", []string{" "}, upper},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := reg.Register(tt.languages, tt.fn, Metadata{}); err == nil {
				t.Error("expected an error")
			}
		})
	}
	if len(reg.RegisteredLanguages()) != 0 {
		t.Error("failed registrations must not leave entries behind")
	}
}

func TestRegistry_DuplicateLanguage(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register([]string{"python"}, upper, Metadata{Name: "first"})

	if err := reg.Register([]string{"ruby", "python"}, upper, Metadata{Name: "second"}); err == nil {
		t.Fatal("expected a duplicate language to be rejected")
	}
	if reg.HasWrapper("ruby") {
		t.Error("a rejected registration must be all-or-nothing")
	}
}

func TestRegistry_Sealed(t *testing.T) {
	reg := NewRegistry()
	reg.Seal()

	err := reg.Register([]string{"python"}, upper, Metadata{})
	if !errors.Is(err, domain.ErrRegistrySealed) {
		t.Errorf("expected ErrRegistrySealed, got %v", err)
	}
}

func TestRegistry_WrapUnregisteredNamesAvailableSet(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register([]string{"python", "cpp"}, upper, Metadata{})

	_, err := reg.WrapCode("ruby", "puts 1")
	if !errors.Is(err, domain.ErrNoWrapper) {
		t.Fatalf("expected ErrNoWrapper, got %v", err)
	}
	if !strings.Contains(err.Error(), "cpp, python") {
		t.Errorf("error should name the available languages: %v", err)
	}
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	reg := Load(NewRegistry(), Builtin(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.HasWrapper("python")
			_, _ = reg.WrapCode("python", "def f(x):\n    return x\n")
			_ = reg.RegisteredLanguages()
		}()
	}
	wg.Wait()
}

func TestLoad_SkipsMalformedAdaptersAndSeals(t *testing.T) {
	m := Manifest{
		{Metadata: Metadata{Name: "broken"}, Languages: []string{"ruby"}},
		{Metadata: Metadata{Name: "nameless"}, Wrap: upper},
		{Metadata: Metadata{Name: "ok"}, Languages: []string{"lua"}, Wrap: upper},
	}
	reg := Load(NewRegistry(), m, zap.NewNop())

	if got := reg.RegisteredLanguages(); !reflect.DeepEqual(got, []string{"lua"}) {
		t.Errorf("expected only lua to be registered, got %v", got)
	}
	if err := reg.Register([]string{"tcl"}, upper, Metadata{}); !errors.Is(err, domain.ErrRegistrySealed) {
		t.Errorf("expected Load to seal the registry, got %v", err)
	}
}

func TestBuiltin_CoversCoreLanguages(t *testing.T) {
	reg := Load(NewRegistry(), Builtin(), zap.NewNop())
	for _, lang := range []string{"python", "javascript", "cpp"} {
		if !reg.HasWrapper(lang) {
			t.Errorf("expected a builtin wrapper for %s", lang)
		}
	}
}
