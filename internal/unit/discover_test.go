package unit

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/seantiz/flux/internal/isolate"
)

func buildContext(t testing.TB, dir string) *isolate.Context {
	t.Helper()
	ctx, err := Build(dir, BuildOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Release() })
	return ctx
}

func TestDiscoverBothKindsFromSameClass(t *testing.T) {
	ctx := buildContext(t, ordersUnit(t))
	md, err := ReadMetadata(ctx)
	require.NoError(t, err)

	tasks, err := Discover(ctx, md, isolate.TagTask)
	require.NoError(t, err)
	workflows, err := Discover(ctx, md, isolate.TagWorkflow)
	require.NoError(t, err)

	assert.Len(t, tasks, 3)
	assert.Len(t, workflows, 1)
	assert.Equal(t, isolate.TagWorkflow, workflows["com.example.Orders_summary"].Kind)
}

func TestDiscoverEmptyClassList(t *testing.T) {
	dir := writeUnit(t, t.TempDir(), "empty", map[string]string{
		"main/a.js":       `var unused = 1;`,
		"flux_config.yml": "other: value\n",
	})
	ctx := buildContext(t, dir)
	md, err := ReadMetadata(ctx)
	require.NoError(t, err)

	tasks, err := Discover(ctx, md, isolate.TagTask)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDiscoverReleasedContext(t *testing.T) {
	ctx := buildContext(t, ordersUnit(t))
	md, err := ReadMetadata(ctx)
	require.NoError(t, err)
	require.NoError(t, ctx.Release())

	_, err = Discover(ctx, md, isolate.TagTask)
	assert.ErrorIs(t, err, isolate.ErrContextReleased)
}

func TestDiscoverShadowedTagDefinition(t *testing.T) {
	dir := writeUnit(t, t.TempDir(), "shadow", map[string]string{
		"main/a.js":       `flux.Task = undefined;`,
		"flux_config.yml": "workflowClasses: []\n",
	})
	ctx := buildContext(t, dir)

	_, err := Discover(ctx, Metadata{}, isolate.TagTask)
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestDiscoverIsContextScoped(t *testing.T) {
	base := t.TempDir()
	files := map[string]string{
		"main/orders.js":  ordersSource,
		"lib/helpers.js":  `var helpers = { who: function () { return "lib"; } };`,
		"flux_config.yml": ordersConfig,
	}
	ctxA := buildContext(t, writeUnit(t, base, "a", files))
	ctxB := buildContext(t, writeUnit(t, base, "b", files))

	tagB, err := ctxB.ResolveTag(isolate.TagTask)
	require.NoError(t, err)
	tagA, err := ctxA.ResolveTag(isolate.TagTask)
	require.NoError(t, err)

	cl, err := ctxA.ResolveClass("com.example.Orders")
	require.NoError(t, err)
	for _, m := range cl.Members {
		assert.False(t, m.HasTag(tagB), "member %s matched a tag from another context", m.Name)
	}

	var tagged int
	for _, m := range cl.Members {
		if m.HasTag(tagA) {
			tagged++
		}
	}
	assert.Equal(t, 2, tagged)
}

func TestDiscoverInheritedMemberOnce(t *testing.T) {
	src := `
class Base {
  run(x) { return "base " + x; }
  static build(x) { return x; }
}
flux.task(Base.prototype.run, { version: 1 });
flux.task(Base.build, { version: 1 });
class Child extends Base {}
class Override extends Base { run(x) { return "override " + x; } }
flux.task(Override.prototype.run, { version: 1 });
flux.define("com.example.Base", Base);
flux.define("com.example.Child", Child);
flux.define("com.example.Override", Override);
`
	tests := []struct {
		name    string
		classes string
		want    []string
	}{
		{
			name:    "declaring class listed last",
			classes: "[com.example.Child, com.example.Base]",
			want:    []string{"com.example.Base_build", "com.example.Base_run"},
		},
		{
			name:    "declaring class listed first",
			classes: "[com.example.Base, com.example.Child, com.example.Child]",
			want:    []string{"com.example.Base_build", "com.example.Base_run"},
		},
		{
			name:    "declaring class not listed",
			classes: "[com.example.Child]",
			want:    []string{"com.example.Child_build", "com.example.Child_run"},
		},
		{
			name:    "overridden member is distinct",
			classes: "[com.example.Override, com.example.Child]",
			want:    []string{"com.example.Child_run", "com.example.Override_build", "com.example.Override_run"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeUnit(t, t.TempDir(), "inherit", map[string]string{
				"main/a.js":       src,
				"flux_config.yml": "workflowClasses: " + tt.classes + "\n",
			})
			ctx := buildContext(t, dir)
			md, err := ReadMetadata(ctx)
			require.NoError(t, err)

			got, err := Discover(ctx, md, isolate.TagTask)
			require.NoError(t, err)
			assert.Equal(t, tt.want, slices.Sorted(maps.Keys(got)))
		})
	}
}

func TestLoadWithAccessorMembers(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"throwing static getter", `static get broken() { throw new Error("boom"); }`},
		{"looping static getter", `static get slow() { while (true) {} }`},
		{"looping instance getter", `get slow() { while (true) {} }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeUnit(t, t.TempDir(), "accessor", map[string]string{
				"main/a.js": `
class Jobs {
  ` + tt.src + `
  run(x) { return x; }
}
flux.task(Jobs.prototype.run, { version: 1 });
flux.define("com.example.Jobs", Jobs);
`,
				"flux_config.yml": "workflowClasses: [com.example.Jobs]\n",
			})

			done := make(chan struct{})
			var u *DeploymentUnit
			var err error
			go func() {
				defer close(done)
				u, err = Load("accessor", 1, dir, BuildOptions{EvalTimeout: 200 * time.Millisecond})
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("load did not return")
			}

			require.NoError(t, err)
			defer u.Release()
			assert.Equal(t, []string{"com.example.Jobs_run"}, u.TaskIDs())
		})
	}
}

func TestLoadFailsOnRunawayProxyClass(t *testing.T) {
	dir := writeUnit(t, t.TempDir(), "proxy", map[string]string{
		"main/a.js":       `flux.define("com.example.P", new Proxy({}, { ownKeys() { while (true) {} } }));`,
		"flux_config.yml": "workflowClasses: [com.example.P]\n",
	})

	u, err := Load("proxy", 1, dir, BuildOptions{EvalTimeout: 100 * time.Millisecond})
	assert.Nil(t, u)
	assert.ErrorIs(t, err, ErrInvalidArtifact)
	assert.ErrorIs(t, err, isolate.ErrEvaluation)
}

// TestDiscoverOrderIndependent checks that discovery returns exactly the
// tagged members, each once and named after its declaring class, no matter
// how the class list is ordered or repeated or how the classes inherit.
func TestDiscoverOrderIndependent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		classCount := rapid.IntRange(1, 5).Draw(rt, "classes")

		var src strings.Builder
		var classes []string
		want := make(map[string]bool)
		for c := range classCount {
			class := fmt.Sprintf("gen.pkg%d.C%d", c, c)
			classes = append(classes, class)

			methods := rapid.IntRange(0, 6).Draw(rt, fmt.Sprintf("methods%d", c))
			if c > 0 && rapid.Bool().Draw(rt, fmt.Sprintf("extends%d", c)) {
				parent := rapid.IntRange(0, c-1).Draw(rt, fmt.Sprintf("parent%d", c))
				fmt.Fprintf(&src, "class C%d extends C%d {\n", c, parent)
			} else {
				fmt.Fprintf(&src, "class C%d {\n", c)
			}
			for m := range methods {
				fmt.Fprintf(&src, "  m%d(a) { return a; }\n", m)
			}
			src.WriteString("}\n")
			for m := range methods {
				if rapid.Bool().Draw(rt, fmt.Sprintf("tag%d_%d", c, m)) {
					fmt.Fprintf(&src, "flux.task(C%d.prototype.m%d, { version: 1 });\n", c, m)
					want[TaskID(class, fmt.Sprintf("m%d", m))] = true
				}
			}
			fmt.Fprintf(&src, "flux.define(%q, C%d);\n", class, c)
		}

		order := rapid.Permutation(classes).Draw(rt, "order")
		repeats := rapid.SliceOfN(rapid.SampledFrom(classes), 0, 3).Draw(rt, "repeats")
		listed := append(order, repeats...)

		base, err := os.MkdirTemp("", "flux-rapid-")
		if err != nil {
			rt.Fatalf("temp dir: %v", err)
		}
		defer os.RemoveAll(base)

		config := "workflowClasses:\n"
		for _, c := range listed {
			config += "  - " + c + "\n"
		}
		dir := writeUnit(rt, base, "gen", map[string]string{
			"main/gen.js":     src.String(),
			"flux_config.yml": config,
		})

		ctx, err := Build(dir, BuildOptions{})
		if err != nil {
			rt.Fatalf("build: %v", err)
		}
		defer ctx.Release()

		md, err := ReadMetadata(ctx)
		if err != nil {
			rt.Fatalf("metadata: %v", err)
		}
		got, err := Discover(ctx, md, isolate.TagTask)
		if err != nil {
			rt.Fatalf("discover: %v", err)
		}

		gotIDs := slices.Sorted(maps.Keys(got))
		wantIDs := slices.Sorted(maps.Keys(want))
		if !slices.Equal(gotIDs, wantIDs) {
			rt.Fatalf("discovered %v, want %v", gotIDs, wantIDs)
		}
	})
}
