// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package integrity

import (
	"context"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// TreeSitterExtractor extracts top-level declarations from a tree-sitter
// parse of JavaScript or TypeScript.
//
// # Description
//
// Only direct children of the program (and declarations wrapped in
// export statements) are reported, so helpers nested inside functions
// do not count as top-level symbols. Signatures are sliced from the
// source and whitespace-normalized, producing the same text the regex
// heuristic produces for the same declaration. Sources that fail to
// parse cleanly fall back to the regex extractor.
//
// # Thread Safety
//
// Safe for concurrent use. A parser is created per call.
type TreeSitterExtractor struct {
	lang     *sitter.Language
	fallback SymbolExtractor
}

// NewTreeSitterExtractor returns a JavaScript extractor.
func NewTreeSitterExtractor() *TreeSitterExtractor {
	return &TreeSitterExtractor{
		lang:     javascript.GetLanguage(),
		fallback: NewRegexExtractor(),
	}
}

// ForPath returns an extractor using the grammar matching path's extension.
// Unknown extensions keep the JavaScript grammar.
func (e *TreeSitterExtractor) ForPath(path string) SymbolExtractor {
	lang := e.lang
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		lang = typescript.GetLanguage()
	case ".tsx":
		lang = tsx.GetLanguage()
	case ".js", ".cjs", ".mjs", ".jsx":
		lang = javascript.GetLanguage()
	}
	return &TreeSitterExtractor{lang: lang, fallback: e.fallback}
}

// Extract implements SymbolExtractor.
func (e *TreeSitterExtractor) Extract(source string) []string {
	src := []byte(source)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(e.lang)

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil || tree == nil {
		return e.fallback.Extract(source)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		return e.fallback.Extract(source)
	}

	var raw []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		raw = append(raw, declarationSignatures(root.NamedChild(i), src)...)
	}
	return dedupe(raw)
}

// declarationSignatures returns the signatures declared by one top-level node.
func declarationSignatures(node *sitter.Node, src []byte) []string {
	if node == nil {
		return nil
	}

	switch node.Type() {
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			return declarationSignatures(decl, src)
		}
		return nil

	case "function_declaration", "generator_function_declaration":
		params := node.ChildByFieldName("parameters")
		if params == nil {
			return nil
		}
		return []string{slice(src, node.StartByte(), params.EndByte())}

	case "class_declaration", "abstract_class_declaration":
		name := node.ChildByFieldName("name")
		if name == nil {
			return nil
		}
		return []string{"class " + name.Content(src)}

	case "lexical_declaration", "variable_declaration":
		return bindingSignatures(node, src)
	}
	return nil
}

// bindingSignatures handles `const|let|var name = (...) =>` and
// `const|let|var name = function (...)` declarators.
func bindingSignatures(node *sitter.Node, src []byte) []string {
	if node.ChildCount() == 0 {
		return nil
	}
	keyword := node.Child(0).Content(src)

	var out []string
	for i := 0; i < int(node.NamedChildCount()); i++ {
		declarator := node.NamedChild(i)
		if declarator == nil || declarator.Type() != "variable_declarator" {
			continue
		}
		value := declarator.ChildByFieldName("value")
		if value == nil {
			continue
		}

		switch value.Type() {
		case "arrow_function":
			body := value.ChildByFieldName("body")
			if body == nil {
				continue
			}
			out = append(out, keyword+" "+slice(src, declarator.StartByte(), body.StartByte()))
		case "function", "function_expression", "generator_function":
			params := value.ChildByFieldName("parameters")
			if params == nil {
				continue
			}
			out = append(out, keyword+" "+slice(src, declarator.StartByte(), params.EndByte()))
		}
	}
	return out
}

func slice(src []byte, start, end uint32) string {
	if int(end) > len(src) || start > end {
		return ""
	}
	return string(src[start:end])
}
