// Package astindex enumerates function definitions in C++ sources by
// driving a clang syntax-only parse and walking its JSON AST dump. Each
// definition is reported with its qualified name, parameter types and
// body span, which is everything change selection needs.
package astindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zjy-dev/covgate/internal/compiledb"
	"github.com/zjy-dev/covgate/internal/demangle"
	"github.com/zjy-dev/covgate/internal/exec"
	"github.com/zjy-dev/covgate/internal/identity"
	"github.com/zjy-dev/covgate/internal/logger"
)

// FunctionRecord is one function definition found in a source file.
// Signature is already normalized: when the node carried a mangled name
// it is the demangled form, which is byte-identical to what the coverage
// recorder derives for the same function; otherwise it is rendered from
// the AST's qualified name and parameter types.
type FunctionRecord struct {
	Path           string
	QualifiedName  string
	Signature      string
	ParameterTypes []string
	IsConstMethod  bool
	MangledName    string
	SpanStart      int // first line of the definition
	SpanEnd        int // last line of the body
}

// Identity returns the record's coverage map identity.
func (r FunctionRecord) Identity() identity.Identity {
	return identity.Identity{Path: r.Path, Signature: r.Signature, StartLine: r.SpanStart}
}

// Contains reports whether the given line falls inside the definition.
func (r FunctionRecord) Contains(line int) bool {
	return line >= r.SpanStart && line <= r.SpanEnd
}

// SpanSize returns the definition's length in lines.
func (r FunctionRecord) SpanSize() int { return r.SpanEnd - r.SpanStart }

// Indexer runs clang over project sources.
type Indexer struct {
	executor    exec.Executor
	db          *compiledb.Database
	demangler   demangle.Demangler
	clangBinary string
}

// NewIndexer creates an indexer using the given compilation database for
// per-file frontend arguments. The demangler recovers class qualifiers
// for out-of-line method definitions, whose AST names are unqualified.
func NewIndexer(executor exec.Executor, db *compiledb.Database, demangler demangle.Demangler, clangBinary string) *Indexer {
	if clangBinary == "" {
		clangBinary = "clang++"
	}
	return &Indexer{executor: executor, db: db, demangler: demangler, clangBinary: clangBinary}
}

// IndexFile parses the file on disk and returns its function definitions.
func (ix *Indexer) IndexFile(ctx context.Context, path string) ([]FunctionRecord, error) {
	return ix.index(ctx, path, path)
}

// IndexSource parses source text that is not on disk, such as a blob
// read from a git revision. Records carry logicalPath, not the scratch
// location the text was parsed from.
func (ix *Indexer) IndexSource(ctx context.Context, logicalPath, content string) ([]FunctionRecord, error) {
	scratch, err := os.CreateTemp("", "astindex-*"+filepath.Ext(logicalPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	defer os.Remove(scratch.Name())
	if _, err := scratch.WriteString(content); err != nil {
		scratch.Close()
		return nil, fmt.Errorf("failed to write scratch file: %w", err)
	}
	if err := scratch.Close(); err != nil {
		return nil, err
	}
	return ix.index(ctx, logicalPath, scratch.Name())
}

func (ix *Indexer) index(ctx context.Context, logicalPath, parsePath string) ([]FunctionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args, found := ix.db.ArgsFor(logicalPath)
	if !found {
		logger.Debugf("no compilation entry for %s, using fallback arguments", logicalPath)
	}

	cmdArgs := append([]string{"-fsyntax-only", "-Xclang", "-ast-dump=json"}, args...)
	cmdArgs = append(cmdArgs, parsePath)

	result, err := ix.executor.Run(ix.clangBinary, cmdArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s on %s: %w", ix.clangBinary, logicalPath, err)
	}
	// clang still emits the dump for recoverable diagnostics; only an
	// empty dump is fatal.
	if strings.TrimSpace(result.Stdout) == "" {
		return nil, fmt.Errorf("%s produced no AST for %s (exit %d): %s",
			ix.clangBinary, logicalPath, result.ExitCode, firstLine(result.Stderr))
	}
	if result.ExitCode != 0 {
		logger.Debugf("clang exited %d on %s, using partial AST", result.ExitCode, logicalPath)
	}

	records, err := ParseASTDump(logicalPath, filepath.Base(parsePath), []byte(result.Stdout))
	if err != nil {
		return nil, err
	}
	ix.refineSignatures(records)
	return records, nil
}

// refineSignatures replaces textual signatures with demangled ones where
// a mangled name is available. c++filt output carries the full class
// qualification that lexical AST walking loses on out-of-line methods.
func (ix *Indexer) refineSignatures(records []FunctionRecord) {
	if ix.demangler == nil {
		return
	}
	for i := range records {
		r := &records[i]
		if !strings.HasPrefix(r.MangledName, "_Z") {
			continue
		}
		demangled, err := ix.demangler.Demangle(r.MangledName)
		if err != nil {
			logger.Debugf("keeping textual signature for %s: %v", r.QualifiedName, err)
			continue
		}
		r.Signature = demangle.Normalize(demangled)
		if i := strings.IndexByte(r.Signature, '('); i > 0 {
			r.QualifiedName = r.Signature[:i]
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// astNode is the slice of clang's JSON dump this walk consumes.
type astNode struct {
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	MangledName string    `json:"mangledName"`
	IsImplicit  bool      `json:"isImplicit"`
	Loc         *astLoc   `json:"loc"`
	Range       *astRange `json:"range"`
	Type        *astType  `json:"type"`
	Inner       []astNode `json:"inner"`
}

type astType struct {
	QualType string `json:"qualType"`
}

// astLoc: clang omits the file when it matches the previous location, so
// the walker threads the current file through in document order.
type astLoc struct {
	Line         int     `json:"line"`
	File         string  `json:"file"`
	ExpansionLoc *astLoc `json:"expansionLoc"`
}

func (l *astLoc) line() int {
	if l == nil {
		return 0
	}
	if l.Line > 0 {
		return l.Line
	}
	if l.ExpansionLoc != nil {
		return l.ExpansionLoc.Line
	}
	return 0
}

func (l *astLoc) file() string {
	if l == nil {
		return ""
	}
	if l.File != "" {
		return l.File
	}
	if l.ExpansionLoc != nil {
		return l.ExpansionLoc.File
	}
	return ""
}

type astRange struct {
	Begin astLoc `json:"begin"`
	End   astLoc `json:"end"`
}

var definitionKinds = map[string]bool{
	"FunctionDecl":       true,
	"CXXMethodDecl":      true,
	"CXXConstructorDecl": true,
	"CXXDestructorDecl":  true,
	"CXXConversionDecl":  true,
}

var scopeKinds = map[string]bool{
	"NamespaceDecl": true,
	"CXXRecordDecl": true,
}

// ParseASTDump extracts function definitions from a clang JSON AST dump.
// targetBase is the basename of the parsed file: declarations pulled in
// from headers belong to other files' indexes and are dropped.
func ParseASTDump(logicalPath, targetBase string, data []byte) ([]FunctionRecord, error) {
	var root astNode
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse AST dump for %s: %w", logicalPath, err)
	}

	w := &walker{logicalPath: logicalPath, targetBase: targetBase}
	w.walk(&root, nil)
	return w.records, nil
}

type walker struct {
	logicalPath string
	targetBase  string
	currentFile string
	records     []FunctionRecord
}

func (w *walker) walk(n *astNode, scope []string) {
	if f := n.Loc.file(); f != "" {
		w.currentFile = f
	}

	if definitionKinds[n.Kind] && !n.IsImplicit {
		if rec, ok := w.functionRecord(n, scope); ok {
			w.records = append(w.records, rec)
		}
		// keep walking the body: lambdas and local classes define
		// functions of their own, and innermost-span selection needs
		// them as separate records
	}

	if scopeKinds[n.Kind] && n.Name != "" {
		scope = append(scope, n.Name)
	}
	for i := range n.Inner {
		w.walk(&n.Inner[i], scope)
	}
}

// functionRecord builds a record for a definition node, or reports false
// for bare declarations and out-of-target-file definitions.
func (w *walker) functionRecord(n *astNode, scope []string) (FunctionRecord, bool) {
	if !w.inTargetFile() {
		return FunctionRecord{}, false
	}
	if n.Name == "" || n.Range == nil {
		return FunctionRecord{}, false
	}

	var params []string
	hasBody := false
	for i := range n.Inner {
		child := &n.Inner[i]
		switch child.Kind {
		case "ParmVarDecl":
			if child.Type != nil {
				params = append(params, child.Type.QualType)
			}
		case "CompoundStmt", "CXXTryStmt":
			hasBody = true
		}
	}
	if !hasBody {
		return FunctionRecord{}, false
	}

	start := n.Range.Begin.line()
	end := n.Range.End.line()
	if start == 0 || end < start {
		return FunctionRecord{}, false
	}

	rec := FunctionRecord{
		Path:           w.logicalPath,
		QualifiedName:  qualifiedName(n, scope),
		ParameterTypes: params,
		IsConstMethod:  isConstMethod(n),
		MangledName:    n.MangledName,
		SpanStart:      start,
		SpanEnd:        end,
	}
	sig := rec.QualifiedName + "(" + strings.Join(params, ", ") + ")"
	if rec.IsConstMethod {
		sig += " const"
	}
	rec.Signature = demangle.Normalize(sig)
	return rec, true
}

func (w *walker) inTargetFile() bool {
	return w.currentFile == "" || filepath.Base(w.currentFile) == w.targetBase
}

func qualifiedName(n *astNode, scope []string) string {
	// Methods defined out of line already carry their class qualifier in
	// the name; lexical scope covers the in-line case.
	if strings.Contains(n.Name, "::") {
		return n.Name
	}
	if len(scope) == 0 {
		return n.Name
	}
	return strings.Join(scope, "::") + "::" + n.Name
}

// isConstMethod inspects the function type: a const member function's
// qualType reads like "void (int) const".
func isConstMethod(n *astNode) bool {
	if n.Type == nil {
		return false
	}
	qt := n.Type.QualType
	if i := strings.LastIndexByte(qt, ')'); i >= 0 {
		return strings.Contains(qt[i:], "const")
	}
	return false
}
