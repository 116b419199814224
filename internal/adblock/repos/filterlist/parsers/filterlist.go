package parsers

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/c2h5oh/datasize"

	logpkg "github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// maxLineSize bounds a single filter line. Longer lines are drained and
// reported as skipped instead of exhausting memory.
const maxLineSize = 256 * datasize.KB

// SkippedLine records a line that could not be turned into a rule.
type SkippedLine struct {
	Line   int
	Text   string
	Reason string
}

// ParseResult is what a lenient parse produced.
type ParseResult struct {
	Rules    []domain.Rule
	Skipped  []SkippedLine
	Cosmetic int // cosmetic rules recognised and ignored
}

// ParseFilterListString is ParseFilterList over an in-memory list.
func ParseFilterListString(text, source string, logger logpkg.Logger) ParseResult {
	return ParseFilterList(strings.NewReader(text), source, logger)
}

// ParseFilterList parses Adblock Plus / uBlock style filter lists into network
// rules. It never fails: malformed lines are skipped and reported.
//
// Behavior:
// - Skips blank lines, "!" comments, "[Adblock ...]" headers and "# " comments
// - Counts and skips cosmetic rules ("##", "#@#", "#?#", "#$#", "#%#", ...)
// - Converts hosts-file lines ("0.0.0.0 ads.example.com") into "||host^" rules
// - De-duplicates identical rule text, preserving first-seen order
// - Skips lines longer than maxLineSize without buffering them
// - A read error ends the parse and becomes the final SkippedLine
func ParseFilterList(r io.Reader, source string, logger logpkg.Logger) ParseResult {
	if logger == nil {
		logger = logpkg.NewNoopLogger()
	}
	br := bufio.NewReaderSize(r, 64*1024)
	limit := int(maxLineSize.Bytes())

	seen := make(map[string]struct{})
	res := ParseResult{Rules: make([]domain.Rule, 0, 256)}

	skip := func(lineNum int, text, reason string) {
		res.Skipped = append(res.Skipped, SkippedLine{Line: lineNum, Text: text, Reason: reason})
		logger.Debug(map[string]any{"source": source, "line": lineNum, "reason": reason}, "filter_skip_malformed")
	}
	emit := func(lineNum int, rule domain.Rule) {
		if _, ok := seen[rule.Text]; ok {
			logger.Debug(map[string]any{"source": source, "line": lineNum}, "filter_skip_duplicate")
			return
		}
		seen[rule.Text] = struct{}{}
		res.Rules = append(res.Rules, rule)
	}

	logger.Debug(map[string]any{"source": source}, "parse_filter_list_start")

	handle := func(lineNum int, line string) {
		line = stripLineBOM(line)
		if line == "" || isComment(line) {
			return
		}
		if isCosmetic(line) {
			res.Cosmetic++
			return
		}

		if isHostsLine(line) {
			rules, rejected := hostsRules(line)
			for _, tok := range rejected {
				skip(lineNum, line, fmt.Sprintf("invalid hostname %q", tok))
			}
			for _, rule := range rules {
				emit(lineNum, rule)
			}
			return
		}

		rule, err := ParseRule(line)
		if err != nil {
			skip(lineNum, line, err.Error())
			return
		}
		emit(lineNum, rule)
	}

	lineNum := 0
	for {
		line, tooLong, err := readLine(br, limit)
		if line != "" || tooLong {
			lineNum++
			if tooLong {
				skip(lineNum, "", "line too long")
			} else {
				handle(lineNum, line)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			skip(lineNum+1, "", "read error: "+err.Error())
			break
		}
	}

	logger.Debug(map[string]any{
		"source":   source,
		"rules":    len(res.Rules),
		"skipped":  len(res.Skipped),
		"cosmetic": res.Cosmetic,
	}, "parse_filter_list_done")
	return res
}

// ParseRule parses a single trimmed network rule line.
func ParseRule(line string) (domain.Rule, error) {
	rule := domain.Rule{Text: line}
	s := line

	if strings.HasPrefix(s, "@@") {
		rule.Exception = true
		s = s[2:]
		if s == "" {
			return domain.Rule{}, fmt.Errorf("exception marker without pattern")
		}
	}
	if strings.ContainsAny(s, " \t") {
		return domain.Rule{}, fmt.Errorf("whitespace in pattern")
	}

	pattern, optText, hasOpts := splitOptions(s)
	if hasOpts {
		opts, err := parseOptions(optText)
		if err != nil {
			return domain.Rule{}, err
		}
		rule.Options = opts
	}

	if isRegexPattern(pattern) {
		rule.Regex = true
		rule.Pattern = pattern[1 : len(pattern)-1]
		if err := compileCheck(rule.Pattern, rule.Options.MatchCase); err != nil {
			return domain.Rule{}, err
		}
	} else {
		switch {
		case strings.HasPrefix(pattern, "||"):
			rule.AnchorHost = true
			pattern = pattern[2:]
		case strings.HasPrefix(pattern, "|"):
			rule.AnchorStart = true
			pattern = pattern[1:]
		}
		if len(pattern) > 0 && strings.HasSuffix(pattern, "|") {
			rule.AnchorEnd = true
			pattern = pattern[:len(pattern)-1]
		}
		if strings.Contains(pattern, "|") {
			return domain.Rule{}, fmt.Errorf("anchor inside pattern")
		}
		if isWildcardOnly(pattern) {
			pattern = ""
		}
		if !rule.Options.MatchCase {
			pattern = strings.ToLower(pattern)
		}
		rule.Pattern = pattern
	}

	if err := rule.Validate(); err != nil {
		return domain.Rule{}, err
	}
	if rule.Exception && rule.Options.Important && rule.Pattern == "" && !rule.Regex &&
		len(rule.Options.PermittedDomains) == 0 {
		// "@@*$important" would disable filtering everywhere.
		return domain.Rule{}, fmt.Errorf("unrestricted important exception")
	}
	return rule, nil
}

// splitOptions splits "pattern$options" at the last "$". A "/regex/" only
// takes options after its closing slash, so "$" inside its body is kept.
func splitOptions(s string) (pattern, opts string, ok bool) {
	if strings.HasPrefix(s, "/") {
		// Regex rules only take options after their closing slash.
		if end := strings.LastIndex(s, "/$"); end > 0 {
			return s[:end+1], s[end+2:], true
		}
		if isRegexPattern(s) {
			return s, "", false
		}
	}
	idx := strings.LastIndexByte(s, '$')
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

// isRegexPattern reports whether a pattern is a "/regex/" literal.
func isRegexPattern(p string) bool {
	return len(p) > 2 && p[0] == '/' && p[len(p)-1] == '/'
}

// compileCheck reports whether a regex rule body compiles.
func compileCheck(expr string, matchCase bool) error {
	if !matchCase {
		expr = "(?i)" + expr
	}
	if _, err := regexp.Compile(expr); err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}

// readLine returns the next line including its terminator. A line longer
// than limit is consumed up to its newline and reported as tooLong with an
// empty line, so memory stays bounded by limit plus the reader's buffer.
func readLine(br *bufio.Reader, limit int) (line string, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, rerr := br.ReadSlice('\n')
		if !tooLong {
			n := len(buf) + len(chunk)
			if rerr == nil {
				n--
			}
			if n > limit {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		if rerr == bufio.ErrBufferFull {
			continue
		}
		return string(buf), tooLong, rerr
	}
}
