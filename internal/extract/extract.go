// Package extract implements spec.md §9's SymbolExtractor interface:
// one implementation per language behind a single trait, pluggable
// without touching the indexer, and robust — a parse failure yields a
// partial result, never a panic across the indexer boundary.
package extract

import (
	"bytes"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/sari-dev/sari/internal/lang"
	"github.com/sari-dev/sari/internal/parser"
)

// Symbol is a parsed symbol, pre-persistence (internal/store.Symbol is
// the storage-shaped sibling; the indexer maps between the two).
type Symbol struct {
	Name       string
	Kind       string
	Line       int // 1-based
	EndLine    int
	Content    string
	ParentName string
	Docstring  string
	Metadata   map[string]any
}

// Relation is a parsed calls/implements/extends edge originating in the
// file being extracted.
type Relation struct {
	FromSymbol string
	ToSymbol   string
	RelType    string // "calls" | "implements" | "extends"
	Line       int
}

// Result is one file's extraction output.
type Result struct {
	Symbols   []Symbol
	Relations []Relation
}

// SymbolExtractor extracts symbols and relations from one file's
// content. Implementations must never panic; on a parse error they
// return the best partial result they can.
type SymbolExtractor interface {
	Extract(relPath string, content []byte) Result
}

// ForPath returns the SymbolExtractor for a file's extension: a
// tree-sitter-backed extractor for the eight languages internal/lang
// registers, or the generic heuristic extractor for anything else.
func ForPath(relPath string) SymbolExtractor {
	ext := filepath.Ext(relPath)
	spec := lang.ForExtension(ext)
	if spec == nil {
		return genericExtractor{}
	}
	if _, err := parser.GetLanguage(spec.Language); err != nil {
		return genericExtractor{}
	}
	return treeSitterExtractor{spec: spec}
}

type treeSitterExtractor struct {
	spec *lang.LanguageSpec
}

func (e treeSitterExtractor) Extract(relPath string, content []byte) Result {
	tree, err := parser.Parse(e.spec.Language, content)
	if err != nil || tree == nil {
		return genericExtractor{}.Extract(relPath, content)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return Result{}
	}

	isFunc := toSet(e.spec.FunctionNodeTypes)
	isClass := toSet(e.spec.ClassNodeTypes)
	isCall := toSet(e.spec.CallNodeTypes)
	isDecorator := toSet(e.spec.DecoratorNodeTypes)

	var result Result
	var walk func(node *tree_sitter.Node, parentName string)
	walk = func(node *tree_sitter.Node, parentName string) {
		if node == nil {
			return
		}
		nodeType := node.Kind()

		switch {
		case isClass[nodeType]:
			name := firstIdentifier(node, content)
			if name != "" {
				sym := symbolFromNode(node, content, name, "class", parentName, e.spec.Language, isDecorator)
				result.Symbols = append(result.Symbols, sym)
				collectInheritance(node, content, e.spec.Language, name, &result.Relations)
				parentName = name
			}
		case isFunc[nodeType]:
			name := firstIdentifier(node, content)
			if name != "" {
				kind := "function"
				if parentName != "" {
					kind = "method"
				}
				sym := symbolFromNode(node, content, name, kind, parentName, e.spec.Language, isDecorator)
				result.Symbols = append(result.Symbols, sym)
				collectCalls(node, content, isCall, name, &result.Relations)
			}
		}

		for i := uint(0); i < node.ChildCount(); i++ {
			walk(node.Child(i), parentName)
		}
	}
	walk(root, "")
	return result
}

func symbolFromNode(node *tree_sitter.Node, content []byte, name, kind, parentName string, language lang.Language, isDecorator map[string]bool) Symbol {
	start := node.StartPosition()
	end := node.EndPosition()
	decorators := collectDecorators(node, content, isDecorator)
	return Symbol{
		Name:       name,
		Kind:       kind,
		Line:       int(start.Row) + 1,
		EndLine:    int(end.Row) + 1,
		Content:    parser.NodeText(node, content),
		ParentName: parentName,
		Docstring:  extractDocstring(node, content, language),
		Metadata:   buildMetadata(decorators),
	}
}

// firstIdentifier returns the text of the first identifier-shaped child
// of node — a heuristic that works across the trimmed language set's
// function/class node shapes without per-language field lookups.
func firstIdentifier(node *tree_sitter.Node, content []byte) string {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		switch child.Kind() {
		case "identifier", "field_identifier", "type_identifier", "property_identifier", "name":
			return parser.NodeText(child, content)
		}
	}
	return ""
}

// collectCalls walks fnNode's subtree for call-shaped nodes and records
// a "calls" relation per unique callee identifier found.
func collectCalls(fnNode *tree_sitter.Node, content []byte, isCall map[string]bool, fromName string, out *[]Relation) {
	seen := map[string]bool{}
	var walk func(n *tree_sitter.Node)
	walk = func(n *tree_sitter.Node) {
		if n == nil {
			return
		}
		if isCall[n.Kind()] {
			callee := firstIdentifier(n, content)
			if callee != "" && callee != fromName && !seen[callee] {
				seen[callee] = true
				*out = append(*out, Relation{
					FromSymbol: fromName,
					ToSymbol:   callee,
					RelType:    "calls",
					Line:       int(n.StartPosition().Row) + 1,
				})
			}
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			walk(n.Child(i))
		}
	}
	for i := uint(0); i < fnNode.ChildCount(); i++ {
		walk(fnNode.Child(i))
	}
}

// collectInheritance records "extends"/"implements" relations from a
// class-shaped node's superclass/interface clauses. Grounded per
// language in how each tree-sitter grammar exposes its heritage: a
// "superclasses"/"superclass"/"interfaces" field for Python/Java, a
// class_heritage child wrapping extends_clause/implements_clause for
// JS/TS, and a base_class_clause child for C++. Go structural interface
// satisfaction and Rust trait impls have no equivalent syntactic clause
// on the class node itself, so they produce no relations here.
func collectInheritance(node *tree_sitter.Node, content []byte, language lang.Language, className string, out *[]Relation) {
	line := int(node.StartPosition().Row) + 1
	emit := func(to, relType string) {
		if to == "" {
			return
		}
		*out = append(*out, Relation{FromSymbol: className, ToSymbol: to, RelType: relType, Line: line})
	}

	switch language {
	case lang.Python:
		for _, base := range pythonSuperclasses(node, content) {
			emit(base, "extends")
		}
	case lang.Java:
		if superNode := node.ChildByFieldName("superclass"); superNode != nil {
			emit(cleanTypeName(parser.NodeText(superNode, content)), "extends")
		}
		if implNode := node.ChildByFieldName("interfaces"); implNode != nil {
			for i := uint(0); i < implNode.NamedChildCount(); i++ {
				child := implNode.NamedChild(i)
				if child == nil {
					continue
				}
				emit(cleanTypeName(parser.NodeText(child, content)), "implements")
			}
		}
	case lang.JavaScript, lang.TypeScript:
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child == nil || child.Kind() != "class_heritage" {
				continue
			}
			collectHeritageClause(child, content, emit)
		}
	case lang.CPP:
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child == nil || child.Kind() != "base_class_clause" {
				continue
			}
			for j := uint(0); j < child.NamedChildCount(); j++ {
				base := child.NamedChild(j)
				if base != nil && base.Kind() == "type_identifier" {
					emit(parser.NodeText(base, content), "extends")
				}
			}
		}
	}
}

func pythonSuperclasses(node *tree_sitter.Node, content []byte) []string {
	superNode := node.ChildByFieldName("superclasses")
	if superNode == nil {
		return nil
	}
	var bases []string
	for i := uint(0); i < superNode.NamedChildCount(); i++ {
		child := superNode.NamedChild(i)
		if child == nil || child.Kind() == "keyword_argument" {
			continue
		}
		if name := parser.NodeText(child, content); name != "" {
			bases = append(bases, name)
		}
	}
	return bases
}

func collectHeritageClause(heritage *tree_sitter.Node, content []byte, emit func(to, relType string)) {
	for j := uint(0); j < heritage.ChildCount(); j++ {
		hChild := heritage.Child(j)
		if hChild == nil {
			continue
		}
		switch hChild.Kind() {
		case "extends_clause":
			for _, name := range heritageNames(hChild, content) {
				emit(name, "extends")
			}
		case "implements_clause":
			for i := uint(0); i < hChild.NamedChildCount(); i++ {
				child := hChild.NamedChild(i)
				if child == nil {
					continue
				}
				emit(parser.NodeText(child, content), "implements")
			}
		}
	}
}

func heritageNames(clause *tree_sitter.Node, content []byte) []string {
	if valNode := clause.ChildByFieldName("value"); valNode != nil {
		if name := parser.NodeText(valNode, content); name != "" {
			return []string{name}
		}
		return nil
	}
	var names []string
	for k := uint(0); k < clause.NamedChildCount(); k++ {
		ident := clause.NamedChild(k)
		if ident != nil && (ident.Kind() == "identifier" || ident.Kind() == "member_expression") {
			if name := parser.NodeText(ident, content); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

// cleanTypeName strips pointer/reference/generic decoration from a
// type reference so "Foo<Bar>" and "*Foo" both resolve to "Foo".
func cleanTypeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "*")
	s = strings.TrimPrefix(s, "&")
	s = strings.TrimPrefix(s, "[]")
	s = strings.TrimPrefix(s, "...")
	if idx := strings.Index(s, "<"); idx > 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, "["); idx > 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// collectDecorators gathers the raw text of every decorator/annotation
// attached to node, regardless of where the grammar anchors them: as
// direct children (JS/TS), inside a "modifiers" field (Java), or as
// preceding siblings under a decorated_definition wrapper (Python).
func collectDecorators(node *tree_sitter.Node, content []byte, isDecorator map[string]bool) []string {
	if len(isDecorator) == 0 {
		return nil
	}
	var out []string
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && isDecorator[child.Kind()] {
			out = append(out, parser.NodeText(child, content))
		}
	}
	if mods := node.ChildByFieldName("modifiers"); mods != nil {
		for i := uint(0); i < mods.ChildCount(); i++ {
			child := mods.Child(i)
			if child != nil && isDecorator[child.Kind()] {
				out = append(out, parser.NodeText(child, content))
			}
		}
	}
	if parent := node.Parent(); parent != nil && parent.Kind() == "decorated_definition" {
		for i := uint(0); i < parent.ChildCount(); i++ {
			child := parent.Child(i)
			if child != nil && isDecorator[child.Kind()] {
				out = append(out, parser.NodeText(child, content))
			}
		}
	}
	return out
}

// buildMetadata turns a symbol's collected decorators into the
// metadata_json shape: the raw annotation list, plus an http_path when
// one of them looks like a route registration.
func buildMetadata(decorators []string) map[string]any {
	if len(decorators) == 0 {
		return nil
	}
	meta := map[string]any{"annotations": decorators}
	if path := httpPathFromDecorators(decorators); path != "" {
		meta["http_path"] = path
	}
	return meta
}

// routeDecoratorPrefixes are decorator/annotation prefixes that register
// a framework route; the first quoted string literal in a match is the
// route path.
var routeDecoratorPrefixes = []string{
	"@app.get", "@app.post", "@app.put", "@app.delete", "@app.patch",
	"@app.route", "@app.websocket",
	"@router.get", "@router.post", "@router.put", "@router.delete", "@router.patch",
	"@router.route", "@router.websocket",
	"@blueprint.", "@api.", "@ns.",
	"@GetMapping", "@PostMapping", "@PutMapping", "@PatchMapping", "@DeleteMapping",
	"@RequestMapping",
}

func httpPathFromDecorators(decorators []string) string {
	for _, dec := range decorators {
		for _, prefix := range routeDecoratorPrefixes {
			if strings.HasPrefix(dec, prefix) {
				if path := firstQuotedString(dec); path != "" {
					return path
				}
			}
		}
	}
	return ""
}

// firstQuotedString returns the text between the first matching pair of
// single or double quotes in s, whichever quote char appears first.
func firstQuotedString(s string) string {
	dq := strings.IndexByte(s, '"')
	sq := strings.IndexByte(s, '\'')
	q := byte('"')
	start := dq
	if dq == -1 || (sq != -1 && sq < dq) {
		q = '\''
		start = sq
	}
	if start == -1 {
		return ""
	}
	end := strings.IndexByte(s[start+1:], q)
	if end == -1 {
		return ""
	}
	return s[start+1 : start+1+end]
}

// extractDocstring extracts the documentation comment for a
// function/class node. Python: the first string-statement in the body
// (PEP 257). Others: a backward scan from the node's start line for a
// contiguous block of doc-comment lines.
func extractDocstring(node *tree_sitter.Node, content []byte, language lang.Language) string {
	if language == lang.Python {
		return extractPythonDocstring(node, content)
	}
	return extractCommentDocstring(content, int(node.StartPosition().Row), language)
}

func extractPythonDocstring(node *tree_sitter.Node, content []byte) string {
	body := node.ChildByFieldName("body")
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first == nil || first.Kind() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	strNode := first.NamedChild(0)
	if strNode == nil || strNode.Kind() != "string" {
		return ""
	}
	return cleanPythonDocstring(parser.NodeText(strNode, content))
}

func cleanPythonDocstring(s string) string {
	for _, delim := range []string{`"""`, `'''`} {
		if strings.HasPrefix(s, delim) && strings.HasSuffix(s, delim) && len(s) >= 6 {
			s = s[3 : len(s)-3]
			break
		}
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= 1 {
		return strings.TrimSpace(s)
	}
	minIndent := -1
	for _, line := range lines[1:] {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if minIndent < 0 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent > 0 {
		for i := 1; i < len(lines); i++ {
			if len(lines[i]) >= minIndent {
				lines[i] = lines[i][minIndent:]
			}
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractCommentDocstring(content []byte, startLine int, language lang.Language) string {
	lines := bytes.Split(content, []byte("\n"))
	if startLine <= 0 || startLine > len(lines) {
		return ""
	}

	lineIdx := startLine - 1
	trimmed := strings.TrimSpace(string(lines[lineIdx]))
	if trimmed == "" {
		return ""
	}

	if strings.HasSuffix(trimmed, "*/") {
		return extractBlockComment(lines, lineIdx)
	}

	prefix := docLinePrefix(language)
	if prefix != "" && strings.HasPrefix(trimmed, prefix) {
		return extractLineComments(lines, lineIdx, prefix)
	}

	return ""
}

// docLinePrefix returns the conventional doc-comment line prefix for a
// language.
func docLinePrefix(language lang.Language) string {
	switch language {
	case lang.Rust:
		return "///"
	case lang.Go, lang.C, lang.CPP, lang.JavaScript, lang.TypeScript, lang.Java:
		return "//"
	default:
		return ""
	}
}

func extractBlockComment(lines [][]byte, endLineIdx int) string {
	startIdx := endLineIdx
	for startIdx >= 0 {
		line := strings.TrimSpace(string(lines[startIdx]))
		if strings.HasPrefix(line, "/*") {
			break
		}
		startIdx--
	}
	if startIdx < 0 {
		return ""
	}

	var result []string
	for i := startIdx; i <= endLineIdx; i++ {
		result = append(result, string(lines[i]))
	}
	return cleanBlockComment(strings.Join(result, "\n"))
}

func cleanBlockComment(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "/**") {
		s = s[3:]
	} else if strings.HasPrefix(s, "/*") {
		s = s[2:]
	}
	s = strings.TrimSuffix(s, "*/")

	lines := strings.Split(s, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "* ")
		line = strings.TrimPrefix(line, "*")
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}

func extractLineComments(lines [][]byte, startIdx int, prefix string) string {
	var commentLines []string
	idx := startIdx
	for idx >= 0 {
		trimmed := strings.TrimSpace(string(lines[idx]))
		if !strings.HasPrefix(trimmed, prefix) {
			break
		}
		line := strings.TrimPrefix(trimmed, prefix)
		line = strings.TrimPrefix(line, " ")
		commentLines = append(commentLines, line)
		idx--
	}
	for i, j := 0, len(commentLines)-1; i < j; i, j = i+1, j-1 {
		commentLines[i], commentLines[j] = commentLines[j], commentLines[i]
	}
	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}

// genericExtractor is the fallback for any extension outside the
// trimmed tree-sitter set: a regex/heuristic line scanner that never
// fails, satisfying spec.md §9's "robust, partial result on failure"
// requirement for the long tail of file types.
type genericExtractor struct{}

func (genericExtractor) Extract(relPath string, content []byte) Result {
	var result Result
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		name, kind, ok := heuristicMatch(trimmed)
		if !ok {
			continue
		}
		result.Symbols = append(result.Symbols, Symbol{
			Name: name, Kind: kind, Line: i + 1, EndLine: i + 11, Content: line,
		})
	}
	return result
}

func heuristicMatch(line string) (name, kind string, ok bool) {
	patterns := []struct {
		prefix string
		kind   string
	}{
		{"def ", "function"},
		{"function ", "function"},
		{"class ", "class"},
		{"struct ", "struct"},
		{"interface ", "interface"},
		{"fn ", "function"},
	}
	for _, p := range patterns {
		if strings.HasPrefix(line, p.prefix) {
			rest := strings.TrimPrefix(line, p.prefix)
			name = firstToken(rest)
			if name != "" {
				return name, p.kind, true
			}
		}
	}
	return "", "", false
}

func firstToken(s string) string {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return s[:i]
		}
	}
	return s
}
