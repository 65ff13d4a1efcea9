// SPDX-License-Identifier: Apache-2.0

// Package sqlrewrite rewrites MySQL dump syntax into PostgreSQL syntax. It is
// a line-oriented, best-effort dialect translator for mysqldump output, not a
// general SQL parser: the rules cover the constructs mysqldump actually emits
// for a Nextcloud schema.
package sqlrewrite

import (
	"regexp"
	"strings"
)

// Rule transforms one line of a dump. Returning keep=false drops the line.
type Rule interface {
	Name() string
	Apply(line string) (out string, keep bool)
}

// Rewriter applies ordered rule pipelines to a dump. Drop rules see every
// line; schema rules are scoped to CREATE TABLE statements so that type
// names or backticks inside INSERT row data are never touched.
type Rewriter struct {
	drop   []Rule
	schema []Rule
}

// New returns a Rewriter with the default MySQL to PostgreSQL rule set.
func New() *Rewriter {
	return &Rewriter{
		drop: []Rule{
			dropRule{name: "conditional-comments", re: conditionalCommentRe},
			dropRule{name: "lock-tables", re: lockTablesRe},
		},
		schema: []Rule{
			&regexRule{name: "table-options", re: tableOptionsRe, repl: ");"},
			&regexRule{name: "backticks", re: backtickRe, repl: `"$1"`},
			&autoIncrementRule{},
			&typeMapRule{},
			&regexRule{name: "unsigned", re: unsignedRe, repl: ""},
			&keyLineRule{},
		},
	}
}

// Rewrite translates a full dump and reports how many CREATE TABLE
// statements it saw, so callers can reject empty dumps.
func (r *Rewriter) Rewrite(dump string) (string, int) {
	lines := strings.Split(dump, "\n")
	out := make([]string, 0, len(lines))
	tables := 0
	inCreate := false

	for _, line := range lines {
		line, keep := applyRules(r.drop, line)
		if !keep {
			continue
		}

		switch {
		case createTableRe.MatchString(line):
			tables++
			inCreate = true
			line, keep = applyRules(r.schema, line)
		case inCreate:
			line, keep = applyRules(r.schema, line)
		default:
			line = rewriteInsertHead(line)
		}
		// Column lines end with a comma; only the statement terminator
		// closes the CREATE TABLE scope (the table-options rule already
		// reduced any trailing ENGINE clause to ");").
		if inCreate && keep && strings.HasSuffix(strings.TrimSpace(line), ";") {
			inCreate = false
		}
		if keep {
			out = append(out, line)
		}
	}

	return fixDanglingCommas(strings.Join(out, "\n")), tables
}

func applyRules(rules []Rule, line string) (string, bool) {
	keep := true
	for _, rule := range rules {
		line, keep = rule.Apply(line)
		if !keep {
			return line, false
		}
	}
	return line, true
}

// rewriteInsertHead converts the backticked identifiers of an INSERT
// statement, which all sit before the VALUES keyword. The row data behind it
// stays byte-identical.
func rewriteInsertHead(line string) string {
	if !insertRe.MatchString(line) {
		return line
	}
	loc := valuesRe.FindStringIndex(line)
	if loc == nil {
		return line
	}
	return backtickRe.ReplaceAllString(line[:loc[0]], `"$1"`) + line[loc[0]:]
}

var (
	createTableRe = regexp.MustCompile(`(?i)^\s*CREATE\s+TABLE\s`)

	insertRe = regexp.MustCompile(`(?i)^\s*INSERT\s+INTO\s`)
	valuesRe = regexp.MustCompile(`(?i)\bVALUES\b`)

	// mysqldump wraps MySQL-only statements in /*!40101 ... */ comments.
	conditionalCommentRe = regexp.MustCompile(`^\s*/\*![0-9]+.*\*/;?\s*$`)

	lockTablesRe = regexp.MustCompile(`(?i)^\s*(LOCK\s+TABLES|UNLOCK\s+TABLES)`)

	// Engine and charset clauses trail the closing paren of CREATE TABLE.
	tableOptionsRe = regexp.MustCompile(`(?i)\)\s*ENGINE\s*=.*;`)

	backtickRe = regexp.MustCompile("`([^`]*)`")

	unsignedRe = regexp.MustCompile(`(?i)\s+unsigned`)
)

type dropRule struct {
	name string
	re   *regexp.Regexp
}

func (r dropRule) Name() string { return r.name }

func (r dropRule) Apply(line string) (string, bool) {
	if r.re.MatchString(line) {
		return "", false
	}
	return line, true
}

type regexRule struct {
	name string
	re   *regexp.Regexp
	repl string
}

func (r *regexRule) Name() string { return r.name }

func (r *regexRule) Apply(line string) (string, bool) {
	return r.re.ReplaceAllString(line, r.repl), true
}

var (
	autoIncBigRe = regexp.MustCompile(`(?i)\bbigint(\([0-9]+\))?\s+(unsigned\s+)?(NOT\s+NULL\s+)?AUTO_INCREMENT`)
	autoIncIntRe = regexp.MustCompile(`(?i)\b(tiny|small|medium)?int(\([0-9]+\))?\s+(unsigned\s+)?(NOT\s+NULL\s+)?AUTO_INCREMENT`)
)

// autoIncrementRule maps AUTO_INCREMENT columns to serial types, which carry
// their own sequence and NOT NULL.
type autoIncrementRule struct{}

func (r *autoIncrementRule) Name() string { return "auto-increment" }

func (r *autoIncrementRule) Apply(line string) (string, bool) {
	switch {
	case autoIncBigRe.MatchString(line):
		return autoIncBigRe.ReplaceAllString(line, "bigserial"), true
	case autoIncIntRe.MatchString(line):
		return autoIncIntRe.ReplaceAllString(line, "serial"), true
	}
	return line, true
}

// typeMap covers the column types mysqldump emits for a Nextcloud schema.
var typeMap = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\btinyint\(1\)`), "boolean"},
	{regexp.MustCompile(`(?i)\b(tinyint|smallint|mediumint)(\([0-9]+\))?`), "smallint"},
	{regexp.MustCompile(`(?i)\bbigint\(([0-9]+)\)`), "bigint"},
	{regexp.MustCompile(`(?i)\bint\(([0-9]+)\)`), "integer"},
	{regexp.MustCompile(`(?i)\b(longtext|mediumtext|tinytext)\b`), "text"},
	{regexp.MustCompile(`(?i)\b(longblob|mediumblob|tinyblob|blob|varbinary(\([0-9]+\))?|binary(\([0-9]+\))?)`), "bytea"},
	{regexp.MustCompile(`(?i)\bdatetime\b`), "timestamp"},
	{regexp.MustCompile(`(?i)\bdouble(\([0-9]+,[0-9]+\))?\b`), "double precision"},
}

type typeMapRule struct{}

func (r *typeMapRule) Name() string { return "type-map" }

func (r *typeMapRule) Apply(line string) (string, bool) {
	for _, m := range typeMap {
		line = m.re.ReplaceAllString(line, m.repl)
	}
	return line, true
}

var (
	// Secondary index lines inside CREATE TABLE. PRIMARY KEY is kept,
	// everything else mysqldump emits as KEY/UNIQUE KEY is dropped; indexes
	// are recreated by the application's repair step.
	keyLineRe     = regexp.MustCompile(`(?i)^\s*(UNIQUE\s+KEY|FULLTEXT\s+KEY|KEY)\s`)
	primaryKeyRe  = regexp.MustCompile(`(?i)^\s*PRIMARY\s+KEY\s`)
	danglingComma = regexp.MustCompile(`,(\s*\n\s*\))`)
)

type keyLineRule struct{}

func (r *keyLineRule) Name() string { return "key-lines" }

func (r *keyLineRule) Apply(line string) (string, bool) {
	if primaryKeyRe.MatchString(line) {
		return line, true
	}
	if keyLineRe.MatchString(line) {
		return "", false
	}
	return line, true
}

// Dropping the final KEY line of a CREATE TABLE leaves the previous column
// definition with a trailing comma before the closing paren.
func fixDanglingCommas(dump string) string {
	return danglingComma.ReplaceAllString(dump, "$1")
}
