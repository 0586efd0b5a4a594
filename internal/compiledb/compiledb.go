// Package compiledb reads a CMake compile_commands.json and turns its
// entries into clang frontend arguments for syntax-only parsing.
package compiledb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zjy-dev/covgate/internal/logger"
)

// Entry is one compilation database record. CMake emits either a single
// command string or an arguments array depending on generator.
type Entry struct {
	Directory string   `json:"directory"`
	Command   string   `json:"command,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
	File      string   `json:"file"`
}

// FallbackOptions shape the argument list used when a file has no
// database entry, typical for headers and freshly added sources.
type FallbackOptions struct {
	Standard    string   // defaults to c++17
	IncludeDirs []string // -I entries
	SystemDirs  []string // -isystem entries
	Defines     []string // -D entries, no leading -D
}

// Database indexes compile commands by source file basename and suffix.
type Database struct {
	entries  []Entry
	byFile   map[string]int // absolute cleaned path -> entry index
	fallback FallbackOptions
}

// Load parses a compile_commands.json file.
func Load(path string, fallback FallbackOptions) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compilation database: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse compilation database %s: %w", path, err)
	}

	db := &Database{entries: entries, byFile: make(map[string]int, len(entries)), fallback: fallback}
	for i, e := range entries {
		abs := e.File
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(e.Directory, abs)
		}
		db.byFile[filepath.Clean(abs)] = i
	}
	logger.Debugf("compilation database %s: %d entries", path, len(entries))
	return db, nil
}

// Len returns the number of database entries.
func (db *Database) Len() int { return len(db.entries) }

// ArgsFor returns the frontend arguments for the given source path. The
// compiler name, -c, -o and the source operand are stripped so the
// remainder can be handed to clang for a syntax-only parse. found is
// false when the file has no entry and the fallback was used instead.
func (db *Database) ArgsFor(sourcePath string) (args []string, found bool) {
	idx, ok := db.lookup(sourcePath)
	if !ok {
		return db.FallbackArgs(), false
	}

	e := db.entries[idx]
	argv := e.Arguments
	if len(argv) == 0 {
		argv = splitCommand(e.Command)
	}
	if len(argv) == 0 {
		return db.FallbackArgs(), false
	}

	base := filepath.Base(e.File)
	for i := 1; i < len(argv); i++ { // argv[0] is the compiler
		a := argv[i]
		switch {
		case a == "-c":
		case a == "-o":
			i++ // skip the output operand
		case strings.HasPrefix(a, "-o") && len(a) > 2:
		case a == e.File || filepath.Base(a) == base && strings.HasSuffix(a, base) && !strings.HasPrefix(a, "-"):
		default:
			args = append(args, a)
		}
	}
	return args, true
}

// FallbackArgs builds a generic argument list that parses most project
// headers: forced C++ mode plus the configured include and define set.
func (db *Database) FallbackArgs() []string {
	std := db.fallback.Standard
	if std == "" {
		std = "c++17"
	}
	args := []string{"-x", "c++", "-std=" + std}
	for _, dir := range db.fallback.IncludeDirs {
		args = append(args, "-I"+dir)
	}
	for _, dir := range db.fallback.SystemDirs {
		args = append(args, "-isystem", dir)
	}
	for _, def := range db.fallback.Defines {
		args = append(args, "-D"+def)
	}
	args = append(args,
		"-fno-operator-names",
		"-Wno-unknown-pragmas",
		"-Wno-deprecated-declarations",
	)
	return args
}

// lookup resolves a possibly repository-relative path against the
// database. Exact absolute match first, then unique suffix match.
func (db *Database) lookup(sourcePath string) (int, bool) {
	clean := filepath.Clean(sourcePath)
	if idx, ok := db.byFile[clean]; ok {
		return idx, true
	}

	match, count := -1, 0
	suffix := "/" + clean
	for abs, idx := range db.byFile {
		if strings.HasSuffix(abs, suffix) {
			match = idx
			count++
		}
	}
	if count == 1 {
		return match, true
	}
	if count > 1 {
		logger.Debugf("ambiguous compilation database suffix %q (%d matches)", sourcePath, count)
	}
	return 0, false
}

// splitCommand breaks a shell command string into argv, honoring single
// and double quotes the way CMake quotes its emitted commands.
func splitCommand(command string) []string {
	var argv []string
	var cur strings.Builder
	inWord := false
	var quote byte

	flush := func() {
		if inWord {
			argv = append(argv, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == '\\' && i+1 < len(command):
			i++
			cur.WriteByte(command[i])
			inWord = true
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	flush()
	return argv
}
