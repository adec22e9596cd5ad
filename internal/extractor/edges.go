package extractor

import (
	"go/ast"
	"strings"

	"codegraph/pkg/types"
)

// extractBodyEdges walks a function body and emits the relationship edges
// a text chunker would lose: CALLS from this method to its callees, USES
// from the enclosing type to every named type referenced anywhere in the
// body (a field used only hundreds of lines below its declaration still
// links the enclosing type to the used type), and THROWS to named error
// types the method produces.
func (fe *fileExtractor) extractBodyEdges(methodID, ownerID string, fn *ast.FuncDecl) {
	if fn.Body == nil {
		return
	}

	returnsError := signatureReturnsError(fn.Type)

	ast.Inspect(fn.Body, func(n ast.Node) bool {
		switch expr := n.(type) {
		case *ast.CallExpr:
			fe.extractCall(methodID, expr)
		case *ast.CompositeLit:
			name := typeRefName(expr.Type)
			fe.addEdge(ownerID, fe.typeNodeID(name), types.EdgeUses)
			if returnsError && isErrorTypeName(name) {
				fe.addEdge(methodID, fe.typeNodeID(name), types.EdgeThrows)
			}
		case *ast.ValueSpec:
			fe.addEdge(ownerID, fe.typeNodeID(typeRefName(expr.Type)), types.EdgeUses)
		case *ast.TypeAssertExpr:
			fe.addEdge(ownerID, fe.typeNodeID(typeRefName(expr.Type)), types.EdgeUses)
		}
		return true
	})
}

// extractCall resolves a call expression to a callee node, best-effort.
// Bare identifiers resolve to functions in the current package; selector
// calls resolve to the qualifier, which may be an imported package or a
// declared type (static call spelling). Calls through variables of
// unknown type are skipped rather than guessed.
func (fe *fileExtractor) extractCall(methodID string, call *ast.CallExpr) {
	switch callee := call.Fun.(type) {
	case *ast.Ident:
		if isBuiltinFunc(callee.Name) {
			return
		}
		fqn := fe.qualify(callee.Name)
		fe.addCallEdge(methodID, fqn, callee.Name)
	case *ast.SelectorExpr:
		qual, ok := callee.X.(*ast.Ident)
		if !ok {
			return
		}
		if fe.declared[qual.Name] {
			// Method on a type declared in this file.
			fqn := fe.qualify(qual.Name + "." + callee.Sel.Name)
			fe.addCallEdge(methodID, fqn, callee.Sel.Name)
			return
		}
		if isLowerIdent(qual.Name) && !fe.declared[qual.Name] {
			// Could be a package qualifier or a local variable. Package
			// qualifiers produce cross-package call edges; variables are
			// unresolvable without type information, so only emit when the
			// qualifier looks like an import name (no shadowing check —
			// best-effort by contract).
			fqn := qual.Name + "." + callee.Sel.Name
			fe.addCallEdge(methodID, fqn, callee.Sel.Name)
		}
	}
}

// addCallEdge emits a CALLS edge to a method node, creating a
// placeholder target when the callee is not declared in this file.
func (fe *fileExtractor) addCallEdge(methodID, calleeFQN, calleeName string) {
	id := types.NodeID(types.KindMethod, calleeFQN)
	if _, ok := fe.external[id]; !ok && !fe.declaresMethodFQN(calleeFQN) {
		fe.external[id] = types.Node{
			ID:                 id,
			Kind:               types.KindMethod,
			Name:               calleeName,
			FullyQualifiedName: calleeFQN,
			RepositoryID:       fe.repoID,
		}
	}
	fe.addEdge(methodID, id, types.EdgeCalls)
}

func (fe *fileExtractor) declaresMethodFQN(fqn string) bool {
	id := types.NodeID(types.KindMethod, fqn)
	for i := range fe.nodes {
		if fe.nodes[i].ID == id {
			return true
		}
	}
	return false
}

// signatureReturnsError reports whether any result is the error type.
func signatureReturnsError(ft *ast.FuncType) bool {
	if ft == nil || ft.Results == nil {
		return false
	}
	for _, r := range ft.Results.List {
		if ident, ok := r.Type.(*ast.Ident); ok && ident.Name == "error" {
			return true
		}
	}
	return false
}

// isErrorTypeName reports whether a type name follows the error naming
// convention.
func isErrorTypeName(name string) bool {
	return strings.HasSuffix(name, "Error") || strings.HasSuffix(name, "Err")
}

func isLowerIdent(name string) bool {
	return name != "" && name[0] >= 'a' && name[0] <= 'z'
}

var builtinFuncs = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true,
	"complex": true, "copy": true, "delete": true, "imag": true,
	"len": true, "make": true, "max": true, "min": true, "new": true,
	"panic": true, "print": true, "println": true, "real": true,
	"recover": true,
}

func isBuiltinFunc(name string) bool {
	return builtinFuncs[name]
}
