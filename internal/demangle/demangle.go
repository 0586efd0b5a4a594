// Package demangle canonicalizes compiler-mangled C++ symbols into the
// signature form used by coverage map keys. Both the coverage recorder and
// the AST indexer must produce byte-identical signatures for the same
// function, so all signature strings pass through Normalize here.
package demangle

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/zjy-dev/covgate/internal/exec"
)

// DemangleError reports a symbol the demangler could not translate.
type DemangleError struct {
	Symbol string
	Reason string
}

func (e *DemangleError) Error() string {
	return fmt.Sprintf("cannot demangle %q: %s", e.Symbol, e.Reason)
}

// Demangler turns a compiler-mangled symbol into a canonical,
// language-level signature.
type Demangler interface {
	Demangle(mangled string) (string, error)
}

// CxxFilt is a Demangler backed by the system c++filt binary. Results are
// cached; c++filt is invoked once per distinct symbol.
type CxxFilt struct {
	executor exec.Executor
	binary   string

	mu    sync.Mutex
	cache map[string]string
}

// NewCxxFilt creates a c++filt-backed demangler. An empty binary defaults
// to "c++filt".
func NewCxxFilt(executor exec.Executor, binary string) *CxxFilt {
	if binary == "" {
		binary = "c++filt"
	}
	return &CxxFilt{
		executor: executor,
		binary:   binary,
		cache:    make(map[string]string),
	}
}

// Demangle returns the canonical signature for a mangled symbol.
// Non-Itanium symbols (plain C functions) are returned as-is: they are
// already canonical. An Itanium-mangled symbol ("_Z" prefix) that c++filt
// echoes back unchanged is an invalid mangling and yields a DemangleError.
func (d *CxxFilt) Demangle(mangled string) (string, error) {
	if mangled == "" {
		return "", &DemangleError{Symbol: mangled, Reason: "empty symbol"}
	}

	d.mu.Lock()
	cached, ok := d.cache[mangled]
	d.mu.Unlock()
	if ok {
		return cached, nil
	}

	if !strings.HasPrefix(mangled, "_Z") {
		d.store(mangled, mangled)
		return mangled, nil
	}

	result, err := d.executor.Run(d.binary, mangled)
	if err != nil {
		return "", fmt.Errorf("running %s: %w", d.binary, err)
	}
	if result.ExitCode != 0 {
		return "", &DemangleError{Symbol: mangled, Reason: strings.TrimSpace(result.Stderr)}
	}

	demangled := strings.TrimSpace(result.Stdout)
	if demangled == "" || demangled == mangled {
		return "", &DemangleError{Symbol: mangled, Reason: "not a valid mangled name"}
	}

	d.store(mangled, demangled)
	return demangled, nil
}

func (d *CxxFilt) store(mangled, demangled string) {
	d.mu.Lock()
	d.cache[mangled] = demangled
	d.mu.Unlock()
}

var (
	spaceBeforeRefRe = regexp.MustCompile(`\s+([&*])`)
	commaSpaceRe     = regexp.MustCompile(`,\s*`)
	whitespaceRe     = regexp.MustCompile(`\s+`)
	vectorDefaultRe  = regexp.MustCompile(`std::vector<([^,<>]+)>`)
)

// Normalize rewrites a demangled signature into the single spelling both
// pipelines agree on: collapsed whitespace, one space after commas, no
// space before '&' or '*', trailing-const parameter spelling, and STL
// default template arguments expanded the way gcov reports them
// (std::vector<T> becomes std::vector<T, std::allocator<T> >).
func Normalize(signature string) string {
	s := normalizeParams(signature)
	s = spaceBeforeRefRe.ReplaceAllString(s, "$1")
	s = commaSpaceRe.ReplaceAllString(s, ", ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = vectorDefaultRe.ReplaceAllString(s, "std::vector<$1, std::allocator<$1> >")
	return s
}

// normalizeParams standardizes const placement inside the parameter list:
// "const T&" becomes "T const&". The parameter list is the region between
// the first '(' and its matching ')'.
func normalizeParams(signature string) string {
	open := strings.Index(signature, "(")
	if open < 0 {
		return signature
	}
	end := strings.LastIndex(signature, ")")
	if end <= open {
		return signature
	}

	prefix := signature[:open+1]
	suffix := signature[end:]
	params := splitParams(signature[open+1 : end])

	for i, p := range params {
		params[i] = normalizeParam(p)
	}

	return prefix + strings.Join(params, ", ") + suffix
}

// splitParams splits a parameter list on commas, respecting template
// angle-bracket depth.
func splitParams(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}

	var params []string
	var buf strings.Builder
	depth := 0
	for _, ch := range list {
		switch ch {
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		}
		if ch == ',' && depth == 0 {
			params = append(params, strings.TrimSpace(buf.String()))
			buf.Reset()
			continue
		}
		buf.WriteRune(ch)
	}
	if buf.Len() > 0 {
		params = append(params, strings.TrimSpace(buf.String()))
	}
	return params
}

var trailingRefRe = regexp.MustCompile(`^(.*?)(\s*[&*]+)$`)

func normalizeParam(p string) string {
	p = whitespaceRe.ReplaceAllString(strings.TrimSpace(p), " ")

	hasLeadingConst := strings.HasPrefix(p, "const ")
	if hasLeadingConst {
		p = strings.TrimSpace(strings.TrimPrefix(p, "const "))
	}

	base := p
	syms := ""
	if m := trailingRefRe.FindStringSubmatch(p); m != nil {
		base = strings.TrimSpace(m[1])
		syms = strings.ReplaceAll(m[2], " ", "")
	}

	if hasLeadingConst {
		p = base + " const" + syms
	} else {
		p = base + syms
	}
	return spaceBeforeRefRe.ReplaceAllString(p, "$1")
}
