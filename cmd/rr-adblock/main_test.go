package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testList = `[Adblock Plus 2.0]
! Title: test list
||ads.example.com^$third-party
-ad-icon.
@@good-ad
||pixel.example.com/p$redirect=1x1.gif
-sponsored-$tag=sponsors
example.com##.banner
0.0.0.0 tracker.example.net
`

// runCmd runs the CLI with quiet logging and captures its output.
func runCmd(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	t.Setenv("ADBLOCK_LOG_LEVEL", "error")
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeList(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(path, []byte(testList), 0o600))
	return path
}

func TestRun_CompileMatchInspect(t *testing.T) {
	dir := t.TempDir()
	list := writeList(t, dir)
	dat := filepath.Join(dir, "out.dat")

	code, out, errOut := runCmd(t, "compile", "-o", dat, list)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "rules=6")

	code, out, errOut = runCmd(t, "match", "-dat", dat, "http://ads.example.com/x.js", "http://news.example.org/", "script")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "matched=true exception=false important=false bits=1")
	assert.Contains(t, out, "filter=||ads.example.com^$third-party")

	code, out, _ = runCmd(t, "match", "-dat", dat, "http://example.com/good-ad/-ad-icon.png", "http://example.com/", "image")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "matched=false exception=true")

	code, out, _ = runCmd(t, "match", "-dat", dat, "http://tracker.example.net/collect")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "matched=true")

	code, out, errOut = runCmd(t, "inspect", dat)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "version=1")
	assert.Contains(t, out, "rules=6")
	assert.Contains(t, out, "bloom:")
}

func TestRun_MatchRulesTagsAndResources(t *testing.T) {
	dir := t.TempDir()
	list := writeList(t, dir)
	resDir := filepath.Join(dir, "resources")
	require.NoError(t, os.Mkdir(resDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(resDir, "images.yaml"), []byte(
		"resources:\n  - name: 1x1.gif\n    mime: image/gif\n    content: R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7\n"), 0o600))

	code, out, _ := runCmd(t, "match", "-rules", list, "http://cdn.net/-sponsored-.js", "http://example.com/", "script")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "matched=false")

	code, out, _ = runCmd(t, "match", "-rules", list, "-tag", "sponsors", "http://cdn.net/-sponsored-.js", "http://example.com/", "script")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "matched=true")

	code, out, errOut := runCmd(t, "match", "-rules", list, "-resources", resDir, "http://pixel.example.com/p", "http://example.com/", "image")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "redirect=data:image/gif;base64,")

	code, out, _ = runCmd(t, "match", "-rules", list, "-third-party=false", "http://ads.example.com/x.js", "http://news.example.org/", "script")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "matched=false")
}

func TestRun_Store(t *testing.T) {
	dir := t.TempDir()
	list := writeList(t, dir)
	db := filepath.Join(dir, "snapshots.db")

	code, _, errOut := runCmd(t, "compile", "-store", db, "-name", "easylist", list)
	require.Equal(t, 0, code, errOut)
	code, _, errOut = runCmd(t, "compile", "-store", db, "-name", "easylist", list)
	require.Equal(t, 0, code, errOut)

	code, out, errOut := runCmd(t, "match", "-store", db, "-name", "easylist", "http://ads.example.com/x.js", "http://news.example.org/", "script")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "matched=true")

	code, out, errOut = runCmd(t, "inspect", "-store", db)
	require.Equal(t, 0, code, errOut)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "easylist"))
	assert.Contains(t, lines[1], " 2 ")

	code, _, errOut = runCmd(t, "match", "-store", db, "-name", "missing", "http://ads.example.com/")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "missing")
}

func TestRun_CompileFromConfiguredLists(t *testing.T) {
	dir := t.TempDir()
	list := writeList(t, dir)
	dat := filepath.Join(dir, "out.dat")
	t.Setenv("ADBLOCK_FILTERS_LISTS", list)

	code, out, errOut := runCmd(t, "compile", "-o", dat)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "rules=6")
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	list := writeList(t, dir)
	garbage := filepath.Join(dir, "garbage.dat")
	require.NoError(t, os.WriteFile(garbage, []byte("not a blob"), 0o600))

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no args", nil, 2},
		{"unknown command", []string{"frobnicate"}, 2},
		{"compile without lists", []string{"compile", "-o", filepath.Join(dir, "x.dat")}, 2},
		{"compile without output", []string{"compile", list}, 2},
		{"compile missing list", []string{"compile", "-o", filepath.Join(dir, "x.dat"), filepath.Join(dir, "nope.txt")}, 1},
		{"compile bad flag", []string{"compile", "-bogus"}, 2},
		{"match without source", []string{"match", "http://a.com/"}, 2},
		{"match two sources", []string{"match", "-dat", "a", "-rules", "b", "http://a.com/"}, 2},
		{"match without url", []string{"match", "-rules", list}, 2},
		{"match missing dat", []string{"match", "-dat", "nonexistent-file.dat", "http://a.com/"}, 1},
		{"match corrupt dat", []string{"match", "-dat", garbage, "http://a.com/"}, 1},
		{"match bad party", []string{"match", "-rules", list, "-third-party=maybe", "http://a.com/"}, 2},
		{"inspect nothing", []string{"inspect"}, 2},
		{"inspect garbage", []string{"inspect", garbage}, 1},
		{"help", []string{"help"}, 0},
		{"compile help", []string{"compile", "-h"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCmd(t, tt.args...)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCmd(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, appName+" "+version+"\n", out)
}

func TestRun_ConfigError(t *testing.T) {
	t.Setenv("ADBLOCK_ENV", "staging")
	var out, errOut bytes.Buffer
	code := run([]string{"version"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "Configuration error")
}
