package extractor

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"codegraph/pkg/types"
)

// Extractor parses one source file into typed graph nodes and edges.
// It is stateless and safe for concurrent use; each call builds its own
// file set.
type Extractor struct{}

// New creates a new Extractor instance.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses src and returns the nodes declared in it together with
// the edges they participate in. Parse failures never abort the caller's
// batch: they are recorded on the Extraction and whatever partial AST the
// parser produced is still mined.
func (x *Extractor) Extract(src []byte, filePath, repositoryID string) (*types.Extraction, error) {
	ext := &types.Extraction{}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, src, parser.ParseComments)
	if err != nil {
		// Syntax errors are non-fatal; the parser may return a partial AST.
		ext.AddFailure(filePath, fmt.Sprintf("syntax error: %v", err))
	}
	if file == nil {
		return ext, nil
	}

	if file.Name != nil {
		ext.PackageName = file.Name.Name
	}

	fe := &fileExtractor{
		fset:        fset,
		src:         src,
		filePath:    filePath,
		pkgName:     ext.PackageName,
		repoID:      repositoryID,
		declared:    make(map[string]bool),
		interfaces:  make(map[string][]string),
		methodSets:  make(map[string][]string),
		annotations: make(map[string]bool),
		seenEdges:   make(map[string]bool),
		external:    make(map[string]types.Node),
	}

	// First pass: record which type names this file declares, and the
	// method name sets of declared interfaces. Both feed edge resolution.
	fe.collectDeclarations(file)

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			fe.extractGenDecl(d)
		case *ast.FuncDecl:
			fe.extractFunc(d)
		}
	}

	// IMPLEMENTS edges need the full method sets, so they come last.
	fe.linkImplementations()

	ext.Nodes = fe.nodes
	ext.Edges = fe.edges
	for _, n := range fe.external {
		ext.Placeholders = append(ext.Placeholders, n)
	}
	return ext, nil
}

// fileExtractor carries the per-file extraction state.
type fileExtractor struct {
	fset     *token.FileSet
	src      []byte
	filePath string
	pkgName  string
	repoID   string

	declared    map[string]bool     // type names declared in this file
	interfaces  map[string][]string // interface name -> method names
	methodSets  map[string][]string // receiver type name -> method names
	annotations map[string]bool     // annotation node IDs already emitted
	seenEdges   map[string]bool     // dedup key -> emitted
	external    map[string]types.Node

	nodes []types.Node
	edges []types.Edge
}

// collectDeclarations records declared type names and interface method
// sets before any nodes are emitted.
func (fe *fileExtractor) collectDeclarations(file *ast.File) {
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			fe.declared[ts.Name.Name] = true
			if iface, ok := ts.Type.(*ast.InterfaceType); ok && iface.Methods != nil {
				var methods []string
				for _, m := range iface.Methods.List {
					for _, name := range m.Names {
						methods = append(methods, name.Name)
					}
				}
				fe.interfaces[ts.Name.Name] = methods
			}
		}
	}
}

func (fe *fileExtractor) qualify(name string) string {
	if fe.pkgName == "" {
		return name
	}
	return fe.pkgName + "." + name
}

// sourceAt slices the raw source text for an AST node.
func (fe *fileExtractor) sourceAt(node ast.Node) string {
	start := fe.fset.Position(node.Pos()).Offset
	end := fe.fset.Position(node.End()).Offset
	if start < 0 || end > len(fe.src) || start >= end {
		return ""
	}
	return string(fe.src[start:end])
}

func (fe *fileExtractor) addNode(n types.Node) {
	fe.nodes = append(fe.nodes, n)
}

func (fe *fileExtractor) addEdge(fromID, toID string, typ types.EdgeType) {
	if fromID == "" || toID == "" || fromID == toID {
		return
	}
	key := fromID + "|" + toID + "|" + string(typ)
	if fe.seenEdges[key] {
		return
	}
	fe.seenEdges[key] = true
	fe.edges = append(fe.edges, types.Edge{
		FromID:       fromID,
		ToID:         toID,
		Type:         typ,
		RepositoryID: fe.repoID,
	})
}

// typeNodeID resolves a type name to a node ID, emitting a placeholder
// node when the type is not declared in this file. Selector references
// keep their package qualifier; bare identifiers are assumed to live in
// the current package.
func (fe *fileExtractor) typeNodeID(name string) string {
	if name == "" || isBuiltinType(name) {
		return ""
	}

	fqn := name
	if !strings.Contains(name, ".") {
		fqn = fe.qualify(name)
	}
	id := types.NodeID(types.KindType, fqn)

	if !fe.declared[strings.TrimPrefix(name, fe.pkgName+".")] {
		if _, ok := fe.external[id]; !ok {
			short := name
			if i := strings.LastIndex(name, "."); i >= 0 {
				short = name[i+1:]
			}
			fe.external[id] = types.Node{
				ID:                 id,
				Kind:               types.KindType,
				Name:               short,
				FullyQualifiedName: fqn,
				RepositoryID:       fe.repoID,
			}
		}
	}
	return id
}

// extractGenDecl extracts type declarations. Const and var blocks do not
// become nodes; only the four entity kinds do.
func (fe *fileExtractor) extractGenDecl(gen *ast.GenDecl) {
	if gen.Tok != token.TYPE {
		return
	}
	for _, spec := range gen.Specs {
		ts, ok := spec.(*ast.TypeSpec)
		if !ok {
			continue
		}
		doc := gen.Doc
		if ts.Doc != nil {
			doc = ts.Doc
		}
		fe.extractTypeSpec(ts, doc)
	}
}

func (fe *fileExtractor) extractTypeSpec(ts *ast.TypeSpec, doc *ast.CommentGroup) {
	fqn := fe.qualify(ts.Name.Name)
	node := types.Node{
		ID:                 types.NodeID(types.KindType, fqn),
		Kind:               types.KindType,
		Name:               ts.Name.Name,
		FullyQualifiedName: fqn,
		PackageName:        fe.pkgName,
		RepositoryID:       fe.repoID,
		FilePath:           fe.filePath,
		SourceCode:         fe.sourceAt(ts),
		Description:        docText(doc),
		Role:               detectRole(ts.Name.Name, docText(doc)),
		Domain:             detectDomain(fe.filePath),
		BusinessCapability: detectCapability(ts.Name.Name),
	}
	fe.addNode(node)
	fe.extractAnnotations(node.ID, doc)

	switch t := ts.Type.(type) {
	case *ast.StructType:
		fe.extractStructMembers(node.ID, ts.Name.Name, t)
	case *ast.InterfaceType:
		fe.extractInterfaceEmbeds(node.ID, t)
	}
}

// extractStructMembers emits field nodes plus HAS_FIELD, EXTENDS (for
// embedded types) and USES (for field types) edges.
func (fe *fileExtractor) extractStructMembers(typeID, typeName string, st *ast.StructType) {
	if st.Fields == nil {
		return
	}
	for _, field := range st.Fields.List {
		refName := typeRefName(field.Type)

		if len(field.Names) == 0 {
			// Embedded type: Go's supertype mechanism.
			fe.addEdge(typeID, fe.typeNodeID(refName), types.EdgeExtends)
			continue
		}

		for _, name := range field.Names {
			fqn := fe.qualify(typeName + "." + name.Name)
			fieldNode := types.Node{
				ID:                 types.NodeID(types.KindField, fqn),
				Kind:               types.KindField,
				Name:               name.Name,
				FullyQualifiedName: fqn,
				PackageName:        fe.pkgName,
				RepositoryID:       fe.repoID,
				FilePath:           fe.filePath,
				SourceCode:         fe.sourceAt(field),
			}
			fe.addNode(fieldNode)
			fe.addEdge(typeID, fieldNode.ID, types.EdgeHasField)
			fe.addEdge(typeID, fe.typeNodeID(refName), types.EdgeUses)
		}
	}
}

// extractInterfaceEmbeds emits EXTENDS edges for embedded interfaces.
func (fe *fileExtractor) extractInterfaceEmbeds(typeID string, iface *ast.InterfaceType) {
	if iface.Methods == nil {
		return
	}
	for _, m := range iface.Methods.List {
		if len(m.Names) > 0 {
			continue // declared method, not an embed
		}
		fe.addEdge(typeID, fe.typeNodeID(typeRefName(m.Type)), types.EdgeExtends)
	}
}

func (fe *fileExtractor) extractFunc(fn *ast.FuncDecl) {
	recv := receiverTypeName(fn)

	var fqn string
	if recv != "" {
		fqn = fe.qualify(recv + "." + fn.Name.Name)
		fe.methodSets[recv] = append(fe.methodSets[recv], fn.Name.Name)
	} else {
		fqn = fe.qualify(fn.Name.Name)
	}

	node := types.Node{
		ID:                 types.NodeID(types.KindMethod, fqn),
		Kind:               types.KindMethod,
		Name:               fn.Name.Name,
		FullyQualifiedName: fqn,
		PackageName:        fe.pkgName,
		RepositoryID:       fe.repoID,
		FilePath:           fe.filePath,
		SourceCode:         fe.sourceAt(fn),
		Description:        docText(fn.Doc),
		Role:               detectRole(fn.Name.Name, docText(fn.Doc)),
	}
	fe.addNode(node)
	fe.extractAnnotations(node.ID, fn.Doc)

	var ownerID string
	if recv != "" {
		ownerID = types.NodeID(types.KindType, fe.qualify(recv))
		fe.addEdge(ownerID, node.ID, types.EdgeHasMethod)
	}

	fe.extractSignatureUses(ownerID, fn.Type)
	fe.extractBodyEdges(node.ID, ownerID, fn)
}

// extractSignatureUses emits USES edges from the owning type for every
// named type appearing in a method's parameters and results.
func (fe *fileExtractor) extractSignatureUses(ownerID string, ft *ast.FuncType) {
	if ownerID == "" || ft == nil {
		return
	}
	each := func(fl *ast.FieldList) {
		if fl == nil {
			return
		}
		for _, f := range fl.List {
			fe.addEdge(ownerID, fe.typeNodeID(typeRefName(f.Type)), types.EdgeUses)
		}
	}
	each(ft.Params)
	each(ft.Results)
}

// extractAnnotations turns directive comments (//go:..., //codegraph:...)
// into annotation nodes with ANNOTATED_BY edges from the owner.
func (fe *fileExtractor) extractAnnotations(ownerID string, doc *ast.CommentGroup) {
	if doc == nil {
		return
	}
	for _, c := range doc.List {
		text := strings.TrimPrefix(c.Text, "//")
		if !isDirective(text) {
			continue
		}
		name := strings.TrimSpace(text)
		fqn := fe.qualify("@" + name)
		id := types.NodeID(types.KindAnnotation, fqn)
		if !fe.annotations[id] {
			fe.annotations[id] = true
			fe.addNode(types.Node{
				ID:                 id,
				Kind:               types.KindAnnotation,
				Name:               name,
				FullyQualifiedName: fqn,
				PackageName:        fe.pkgName,
				RepositoryID:       fe.repoID,
				FilePath:           fe.filePath,
			})
		}
		fe.addEdge(ownerID, id, types.EdgeAnnotatedBy)
	}
}

// linkImplementations emits IMPLEMENTS edges: a declared struct
// implements a declared interface when the interface's method names are a
// subset of the struct's method set. File-local and name-based, so
// best-effort by design.
func (fe *fileExtractor) linkImplementations() {
	for recv, methods := range fe.methodSets {
		if !fe.declared[recv] {
			continue
		}
		have := make(map[string]bool, len(methods))
		for _, m := range methods {
			have[m] = true
		}
		for ifaceName, wanted := range fe.interfaces {
			if ifaceName == recv || len(wanted) == 0 {
				continue
			}
			satisfied := true
			for _, w := range wanted {
				if !have[w] {
					satisfied = false
					break
				}
			}
			if satisfied {
				fe.addEdge(
					types.NodeID(types.KindType, fe.qualify(recv)),
					types.NodeID(types.KindType, fe.qualify(ifaceName)),
					types.EdgeImplements,
				)
			}
		}
	}
}

// receiverTypeName returns the receiver type name for a method, or ""
// for a plain function.
func receiverTypeName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	return typeRefName(fn.Recv.List[0].Type)
}

// typeRefName unwraps an expression down to the named type it references.
// Pointers, slices, arrays, maps (value side) and generic instantiations
// are unwrapped; anonymous types yield "".
func typeRefName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return typeRefName(t.X)
	case *ast.ArrayType:
		return typeRefName(t.Elt)
	case *ast.MapType:
		return typeRefName(t.Value)
	case *ast.ChanType:
		return typeRefName(t.Value)
	case *ast.SelectorExpr:
		if pkg, ok := t.X.(*ast.Ident); ok {
			return pkg.Name + "." + t.Sel.Name
		}
		return ""
	case *ast.IndexExpr:
		return typeRefName(t.X)
	case *ast.IndexListExpr:
		return typeRefName(t.X)
	case *ast.Ellipsis:
		return typeRefName(t.Elt)
	default:
		return ""
	}
}

func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

// isDirective reports whether a comment line is a machine directive of
// the form "tool:directive ...".
func isDirective(text string) bool {
	if strings.HasPrefix(text, " ") {
		return false
	}
	colon := strings.Index(text, ":")
	if colon <= 0 {
		return false
	}
	for _, r := range text[:colon] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

var builtinTypes = map[string]bool{
	"bool": true, "string": true, "error": true, "any": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"uintptr": true, "byte": true, "rune": true,
	"float32": true, "float64": true, "complex64": true, "complex128": true,
}

func isBuiltinType(name string) bool {
	return builtinTypes[name]
}
