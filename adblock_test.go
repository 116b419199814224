package adblock_test

import (
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adblock "github.com/haukened/rr-adblock"
	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/config"
)

var quiet = adblock.WithLogger(log.NewNoopLogger())

func flags(r adblock.MatchResult) [3]bool {
	return [3]bool{r.Matched, r.Exception, r.Important}
}

func TestCreateEngine_NeverFails(t *testing.T) {
	inputs := []string{
		"",
		"\n\n\n",
		"\x00\xff\xfe garbage ☃",
		"$$$$",
		"@@",
		"||",
		"/[unclosed/",
		"$domain=",
		"##.ad-banner",
		"-ad-icon.$nonsense-option",
		strings.Repeat("*", 10000),
		strings.Repeat("|", 3) + "^^^$third-party,~third-party",
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		b := make([]byte, rng.Intn(512))
		rng.Read(b)
		inputs = append(inputs, string(b))
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() {
			e := adblock.CreateEngine(in, quiet)
			require.NotNil(t, e)
			_, err := e.Match("http://example.com/a", "http://example.com/", "image")
			assert.NoError(t, err)
			e.Destroy()
		})
	}
}

func TestEngine_ExceptionPrecedence(t *testing.T) {
	e := adblock.CreateEngine("-ad-icon.\n@@good-ad", quiet)
	defer e.Destroy()

	r, err := e.Match("http://example.com/good-ad/-ad-icon.png", "http://example.com/", "image")
	require.NoError(t, err)
	assert.False(t, r.Matched)

	r, err = e.Match("http://example.com/-ad-icon.png", "http://example.com/", "image")
	require.NoError(t, err)
	assert.True(t, r.Matched)
	assert.False(t, r.Exception)
}

func TestEngine_AdvertisementSet(t *testing.T) {
	e := adblock.CreateEngine(strings.Join([]string{
		"-advertisement-icon.",
		"-advertisement-management",
		"-advertisement.",
		"-advertisement/script.",
		"@@good-advertisement",
	}, "\n"), quiet)
	defer e.Destroy()

	r, err := e.Match("http://example.com/-advertisement-icon.", "http://example.com/helloworld", "image")
	require.NoError(t, err)
	assert.Equal(t, [3]bool{true, false, false}, flags(r))

	r, err = e.Match("http://example.com/-jiberish.gif", "http://example.com/helloworld", "image")
	require.NoError(t, err)
	assert.Equal(t, [3]bool{false, false, false}, flags(r))
}

func TestEngine_MatchAfterDestroy(t *testing.T) {
	e := adblock.CreateEngine("-ad-icon.", quiet)
	e.Destroy()

	for i := 0; i < 5; i++ {
		_, err := e.Match("http://example.com/-ad-icon.png", "http://example.com/", "image")
		require.Error(t, err)
		assert.ErrorIs(t, err, adblock.ErrEngineDestroyed)

		var usage *adblock.UsageError
		assert.True(t, errors.As(err, &usage))
	}
}

func TestEngine_ZeroValue(t *testing.T) {
	var zero adblock.Engine
	var nilEngine *adblock.Engine

	for name, e := range map[string]*adblock.Engine{"zero": &zero, "nil": nilEngine} {
		t.Run(name, func(t *testing.T) {
			gif, err := adblock.NewResource("1x1.gif", "image/gif", "R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")
			require.NoError(t, err)

			calls := map[string]func() error{
				"Match": func() error {
					_, err := e.Match("http://example.com/-ad-icon.png", "", "image")
					return err
				},
				"MatchWithHistory": func() error {
					_, err := e.MatchWithHistory("http://example.com/", "", "", nil, adblock.MatchResult{})
					return err
				},
				"Deserialize": func() error {
					_, err := e.Deserialize([]byte("x"))
					return err
				},
				"DeserializeReader": func() error {
					_, err := e.DeserializeReader(strings.NewReader("x"))
					return err
				},
				"DeserializeFile": func() error {
					_, err := e.DeserializeFile("nonexistent-file.dat")
					return err
				},
				"Serialize": func() error {
					_, err := e.Serialize()
					return err
				},
				"SerializeFile": func() error {
					return e.SerializeFile(filepath.Join(t.TempDir(), "x.dat"))
				},
				"EnableTag":  func() error { return e.EnableTag("a") },
				"DisableTag": func() error { return e.DisableTag("a") },
				"HasTag": func() error {
					_, err := e.HasTag("a")
					return err
				},
				"AddResource": func() error {
					_, err := e.AddResource(gif)
					return err
				},
				"AddResourcesFromJSON": func() error { return e.AddResourcesFromJSON([]byte("[]")) },
				"LoadResourceDir":      func() error { return e.LoadResourceDir(t.TempDir()) },
				"Stats": func() error {
					_, err := e.Stats()
					return err
				},
			}
			for op, call := range calls {
				var err error
				require.NotPanics(t, func() { err = call() }, op)
				require.Error(t, err, op)
				assert.ErrorIs(t, err, adblock.ErrEngineUninitialized, op)

				var usage *adblock.UsageError
				assert.True(t, errors.As(err, &usage), op)
			}
			assert.NotPanics(t, e.Destroy)
		})
	}
}

func TestCreateEngine_RuleAfterOversizedLine(t *testing.T) {
	rules := "-ad-icon.\n" + strings.Repeat("x", 300*1024) + "\n||tracker.example.net^"
	e := adblock.CreateEngine(rules, quiet)
	defer e.Destroy()

	r, err := e.Match("http://tracker.example.net/collect", "http://example.com/", "xhr")
	require.NoError(t, err)
	assert.True(t, r.Matched)

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Index.Rules)
}

func TestEngine_DeserializeMissingFile(t *testing.T) {
	e := adblock.CreateDefaultEngine(quiet)
	defer e.Destroy()

	ok, err := e.DeserializeFile("nonexistent-file.dat")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestEngine_RegionalBlob(t *testing.T) {
	src := adblock.CreateEngine("||werbung.beispiel.de^\n-anzeige-banner-", quiet)
	blob, err := src.Serialize()
	require.NoError(t, err)
	src.Destroy()

	e := adblock.CreateDefaultEngine(quiet)
	defer e.Destroy()
	ok, err := e.Deserialize(blob)
	require.NoError(t, err)
	assert.True(t, ok)

	r, err := e.Match("http://cdn.unrelated.example/pixel.gif", "http://news.example.com/", "image")
	require.NoError(t, err)
	assert.False(t, r.Matched)

	r, err = e.Match("http://werbung.beispiel.de/x.js", "http://news.example.com/", "script")
	require.NoError(t, err)
	assert.True(t, r.Matched)
}

func TestEngine_RoundTripEquivalence(t *testing.T) {
	rules := strings.Join([]string{
		"||ads.example.com^$third-party",
		"||tracker.net^$important",
		"@@||tracker.net/ok^$important",
		"-ad-icon.",
		"@@good-ad",
		`/banner\d+\.gif/`,
		"|http://exact.example/ad|",
		"-sponsor-$script,domain=news.example.org|~sports.news.example.org",
	}, "\n")
	src := adblock.CreateEngine(rules, quiet)
	defer src.Destroy()

	path := filepath.Join(t.TempDir(), "rules.dat")
	require.NoError(t, src.SerializeFile(path))

	dst := adblock.CreateDefaultEngine(quiet)
	defer dst.Destroy()
	ok, err := dst.DeserializeFile(path)
	require.NoError(t, err)
	require.True(t, ok)

	triples := [][3]string{
		{"http://ads.example.com/a.png", "http://news.example.org/", "image"},
		{"http://ads.example.com/a.png", "http://ads.example.com/", "image"},
		{"http://tracker.net/ok/1", "http://example.com/", "xhr"},
		{"http://tracker.net/p", "http://example.com/", "xhr"},
		{"http://x.com/good-ad/-ad-icon.png", "http://x.com/", "image"},
		{"http://x.com/-ad-icon.png", "http://x.com/", "image"},
		{"http://x.com/banner7.gif", "", "image"},
		{"http://exact.example/ad", "", ""},
		{"http://cdn.com/-sponsor-.js", "http://news.example.org/", "script"},
		{"http://cdn.com/-sponsor-.js", "http://sports.news.example.org/", "script"},
		{"", "", ""},
	}
	for _, tr := range triples {
		a, err := src.Match(tr[0], tr[1], tr[2])
		require.NoError(t, err)
		b, err := dst.Match(tr[0], tr[1], tr[2])
		require.NoError(t, err)
		assert.Equal(t, a, b, tr[0])
	}
}

func TestEngine_CorruptBlobKeepsRules(t *testing.T) {
	e := adblock.CreateEngine("-ad-icon.", quiet)
	defer e.Destroy()

	ok, err := e.Deserialize([]byte("definitely not a blob"))
	require.NoError(t, err)
	assert.False(t, ok)

	r, err := e.Match("http://x.com/-ad-icon.png", "", "image")
	require.NoError(t, err)
	assert.True(t, r.Matched)
}

func TestEngine_MatchWithHistory(t *testing.T) {
	e := adblock.CreateEngine("||tracker.net^$third-party\n@@||tracker.net/ok^", quiet)
	defer e.Destroy()

	third, first := true, false
	r, err := e.MatchWithHistory("http://tracker.net/p", "", "script", &third, adblock.MatchResult{})
	require.NoError(t, err)
	assert.True(t, r.Matched)

	r, err = e.MatchWithHistory("http://tracker.net/p", "http://example.com/", "script", &first, adblock.MatchResult{})
	require.NoError(t, err)
	assert.False(t, r.Matched)

	r, err = e.MatchWithHistory("http://tracker.net/ok/1", "http://example.com/", "script", nil, adblock.MatchResult{Matched: true})
	require.NoError(t, err)
	assert.Equal(t, [3]bool{false, true, false}, flags(r))
}

func TestEngine_TagsAndRedirects(t *testing.T) {
	e := adblock.CreateEngine("||ads.example.com/pixel$redirect=1x1.gif,tag=pixels", quiet, adblock.WithCacheSize(0))
	defer e.Destroy()

	r, err := e.Match("http://ads.example.com/pixel", "http://example.com/", "image")
	require.NoError(t, err)
	assert.False(t, r.Matched)

	require.NoError(t, e.EnableTag("pixels"))
	has, err := e.HasTag("pixels")
	require.NoError(t, err)
	assert.True(t, has)

	gif, err := adblock.NewResource("1x1.gif", "image/gif", "R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7")
	require.NoError(t, err)
	ok, err := e.AddResource(gif)
	require.NoError(t, err)
	require.True(t, ok)

	r, err = e.Match("http://ads.example.com/pixel", "http://example.com/", "image")
	require.NoError(t, err)
	assert.True(t, r.Matched)
	assert.Equal(t, gif.DataURL(), r.Redirect)

	require.NoError(t, e.DisableTag("pixels"))
	r, err = e.Match("http://ads.example.com/pixel", "http://example.com/", "image")
	require.NoError(t, err)
	assert.False(t, r.Matched)
}

func TestResultBits(t *testing.T) {
	for b := int8(0); b < 8; b++ {
		assert.Equal(t, b, adblock.ResultFromBits(b).Bits())
	}
	assert.Equal(t, int8(3), adblock.MatchResult{Matched: true, Important: true}.Bits())
	assert.Equal(t, int8(4), adblock.MatchResult{Exception: true}.Bits())
}

func TestWithConfig(t *testing.T) {
	cfg := config.DEFAULT_APP_CONFIG
	cfg.Engine.Cache.Size = 0
	cfg.Engine.MaxBlob = "16B"

	src := adblock.CreateEngine("||ads.example.com^\n-ad-icon.", quiet)
	blob, err := src.Serialize()
	require.NoError(t, err)
	src.Destroy()

	e := adblock.CreateDefaultEngine(quiet, adblock.WithConfig(&cfg), adblock.WithConfig(nil))
	defer e.Destroy()

	ok, err := e.Deserialize(blob)
	require.NoError(t, err)
	assert.False(t, ok, "blob exceeds configured limit")

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.CacheMisses, "cache disabled")
}

func BenchmarkEngine_Match(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 2000; i++ {
		sb.WriteString("||ads")
		sb.WriteString(strings.Repeat("x", i%7))
		sb.WriteString(".example.com^\n")
	}
	e := adblock.CreateEngine(sb.String(), quiet)
	defer e.Destroy()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Match("http://www.example.org/static/app.js", "http://www.example.org/", "script")
	}
}
