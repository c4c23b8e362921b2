package virtual

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Norgate-AV/pbuild/internal/scanner"
)

var exportKeyRe = regexp.MustCompile(`(?m)^("(?:[^"\\]|\\.)*"):p\d+,$`)

// exportedKeys extracts the keys of the default export object
func exportedKeys(t require.TestingT, code string) []string {
	var keys []string
	for _, m := range exportKeyRe.FindAllStringSubmatch(code, -1) {
		var key string
		require.NoError(t, json.Unmarshal([]byte(m[1]), &key))
		keys = append(keys, key)
	}

	return keys
}

func TestNatives_TwoRoots(t *testing.T) {
	fsys := fstest.MapFS{
		"plugins/alpha/index.ts":           {Data: []byte(`name: "Alpha"`)},
		"plugins/alpha/native.ts":          {Data: []byte("")},
		"userplugins/beta/index.ts":        {Data: []byte(`name: "Beta"`)},
		"userplugins/beta/native/index.ts": {Data: []byte("")},
		"userplugins/gamma/index.ts":       {Data: []byte(`name: "Gamma"`)},
	}

	mods, err := scanner.New(fsys, []string{"plugins", "userplugins"}).Natives()
	require.NoError(t, err)

	code, err := Natives(mods, ".")
	require.NoError(t, err)

	expected := `import * as p0 from "./plugins/alpha/native";
import * as p1 from "./userplugins/beta/native/index";
export default {
"Alpha":p0,
"Beta":p1,
};
`
	assert.Equal(t, expected, code)
	assert.Equal(t, []string{"Alpha", "Beta"}, exportedKeys(t, code))
}

func TestNatives_ImportBase(t *testing.T) {
	mods := []scanner.NativeModule{
		{DisplayName: "A", ModulePath: "plugins/a/native", File: "plugins/a/native.ts"},
	}

	code, err := Natives(mods, "../../src")
	require.NoError(t, err)
	assert.Contains(t, code, `import * as p0 from "../../src/plugins/a/native";`)
}

func TestNatives_Empty(t *testing.T) {
	code, err := Natives(nil, ".")
	require.NoError(t, err)
	assert.Equal(t, "export default {\n};\n", code)
}

func TestNatives_DuplicateName(t *testing.T) {
	mods := []scanner.NativeModule{
		{DisplayName: "Same", ModulePath: "plugins/same/native", File: "plugins/same/native.ts"},
		{DisplayName: "Same", ModulePath: "userplugins/same/native/index", File: "userplugins/same/native/index.ts"},
	}

	// Fails the same way every time
	for range 2 {
		_, err := Natives(mods, ".")
		require.Error(t, err)

		var dup *DuplicateNameError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, "Same", dup.Name)
		assert.Contains(t, err.Error(), "plugins/same/native.ts")
		assert.Contains(t, err.Error(), "userplugins/same/native/index.ts")
	}
}

func TestNatives_KeySetProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOfNDistinct(rapid.StringMatching(`[A-Za-z][A-Za-z0-9 "'\\]{0,12}`), 0, 20, rapid.ID[string]).Draw(t, "names")

		mods := make([]scanner.NativeModule, 0, len(names))
		for i, name := range names {
			mods = append(mods, scanner.NativeModule{
				DisplayName: name,
				ModulePath:  fmt.Sprintf("plugins/p%d/native", i),
				File:        fmt.Sprintf("plugins/p%d/native.ts", i),
			})
		}

		code, err := Natives(mods, ".")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		keys := exportedKeys(t, code)
		if len(keys) != len(names) {
			t.Fatalf("got %d keys, want %d", len(keys), len(names))
		}

		for i := range names {
			if keys[i] != names[i] {
				t.Fatalf("key %d = %q, want %q", i, keys[i], names[i])
			}
		}

		if got := strings.Count(code, "import * as "); got != len(names) {
			t.Fatalf("got %d imports, want %d", got, len(names))
		}
	})
}

func TestFilter_Excluded(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		target string
		want   bool
	}{
		{"no suffix", Filter{Kind: KindWeb}, "", false},
		{"dev outside dev mode", Filter{Kind: KindDiscordDesktop}, "dev", true},
		{"dev in dev mode", Filter{Kind: KindDiscordDesktop, Dev: true}, "dev", false},
		{"web on desktop", Filter{Kind: KindDiscordDesktop}, "web", true},
		{"web on web", Filter{Kind: KindWeb}, "web", false},
		{"web on equibop", Filter{Kind: KindEquibop}, "web", false},
		{"vesktop on equibop", Filter{Kind: KindEquibop}, "vesktop", false},
		{"vesktop on web", Filter{Kind: KindWeb}, "vesktop", true},
		{"desktop on web", Filter{Kind: KindWeb}, "desktop", true},
		{"desktop on equibop", Filter{Kind: KindEquibop}, "desktop", false},
		{"discordDesktop on equibop", Filter{Kind: KindEquibop}, "discordDesktop", true},
		{"equibop on equibop", Filter{Kind: KindEquibop}, "equibop", false},
		{"equibop on discordDesktop", Filter{Kind: KindDiscordDesktop}, "equibop", true},
		{"reporter keeps everything", Filter{Kind: KindWeb, Reporter: true}, "desktop", false},
		{"unknown suffix kept", Filter{Kind: KindWeb}, "whatever", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Excluded(tt.target))
		})
	}
}

func TestPlugins(t *testing.T) {
	fsys := fstest.MapFS{
		"plugins/_core/index.ts":       {Data: []byte("")},
		"plugins/index.ts":             {Data: []byte("")},
		"plugins/alpha/index.ts":       {Data: []byte(`name: "Alpha"`)},
		"plugins/webOnly.web/index.ts": {Data: []byte(`name: "WebOnly"`)},
		"plugins/solo.desktop.tsx":     {Data: []byte(`name: "Solo"`)},
		"plugins/README.md":            {Data: []byte("")},
		"userplugins/mine/index.ts":    {Data: []byte(`name: "Mine"`)},
	}

	s := scanner.New(fsys, []string{"plugins", "userplugins"})

	var entries []scanner.Entry
	for entry, err := range s.Entries() {
		require.NoError(t, err)
		entries = append(entries, entry)
	}

	code, err := Plugins(entries, s, Filter{Kind: KindDiscordDesktop, UserRoots: []string{"userplugins"}}, ".")
	require.NoError(t, err)

	assert.Contains(t, code, `import p0 from "./plugins/alpha";`)
	assert.Contains(t, code, `import p1 from "./plugins/solo.desktop";`)
	assert.Contains(t, code, `import p2 from "./userplugins/mine";`)
	assert.NotContains(t, code, "_core")
	assert.NotContains(t, code, "README")
	assert.Contains(t, code, `[p2.name]:{"folderName":"userplugins/mine","userPlugin":true},`)
	assert.Contains(t, code, `[p0.name]:{"folderName":"alpha","userPlugin":false},`)
	assert.Contains(t, code, "export const ExcludedPlugins = {\n\"WebOnly\":\"web\",\n};")
}
