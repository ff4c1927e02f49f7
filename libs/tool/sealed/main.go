// Command sealed generates the marker methods for a sealed interface.
//
// The target file must declare exactly one interface whose method set
// is a single unexported niladic method. Every exported struct type
// declared in the same file gets the marker method plus a compile-time
// implementation assertion, written to <file>_gen.go.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/packages"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sealed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fileFlag := flag.String("file", "", "go file containing //go:generate sealed")
	flag.Parse()

	fileName := strings.TrimSpace(*fileFlag)
	if fileName == "" && flag.NArg() > 0 {
		fileName = strings.TrimSpace(flag.Arg(0))
	}
	if fileName == "" {
		fileName = strings.TrimSpace(os.Getenv("GOFILE"))
	}
	if fileName == "" {
		return errors.New("missing source file; set GOFILE or pass -file")
	}
	fileName = filepath.Base(fileName)
	if filepath.Ext(fileName) != ".go" {
		return fmt.Errorf("source file must be a .go file: %s", fileName)
	}

	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	cfg := &packages.Config{
		Mode: packages.NeedName |
			packages.NeedSyntax |
			packages.NeedFiles |
			packages.NeedCompiledGoFiles,
		Dir: dir,
		ParseFile: func(fset *token.FileSet, filename string, src []byte) (*ast.File, error) {
			return parser.ParseFile(fset, filename, src, parser.ParseComments)
		},
	}
	pkgs, err := packages.Load(cfg, ".")
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		return errors.New("no packages found")
	}
	pkg := pkgs[0]
	if len(pkg.Syntax) == 0 {
		return errors.New("no go files found in package")
	}

	var targetFile *ast.File
	for i, file := range pkg.Syntax {
		var name string
		if i < len(pkg.CompiledGoFiles) {
			name = pkg.CompiledGoFiles[i]
		} else if i < len(pkg.GoFiles) {
			name = pkg.GoFiles[i]
		}
		if filepath.Base(name) == fileName {
			targetFile = file
			break
		}
	}
	if targetFile == nil {
		return fmt.Errorf("file %s not found in package", fileName)
	}

	ifaceName, marker, err := findSealedInterface(targetFile)
	if err != nil {
		return fmt.Errorf("%s: %w", fileName, err)
	}
	structNames := collectExportedStructs(targetFile)
	if len(structNames) == 0 {
		return fmt.Errorf("no exported structs found in %s", fileName)
	}

	out, err := render(pkg.Name, ifaceName, marker, structNames)
	if err != nil {
		return err
	}

	base := strings.TrimSuffix(fileName, ".go")
	outPath := filepath.Join(dir, base+"_gen.go")
	return os.WriteFile(outPath, out, 0o644)
}

// findSealedInterface returns the single sealed interface declared in
// the file: one explicit method, unexported, no parameters or results.
func findSealedInterface(file *ast.File) (ifaceName, marker string, err error) {
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			iface, ok := typeSpec.Type.(*ast.InterfaceType)
			if !ok {
				continue
			}
			method, ok := sealedMarker(iface)
			if !ok {
				continue
			}
			if ifaceName != "" {
				return "", "", errors.New("multiple sealed interfaces in file")
			}
			ifaceName = typeSpec.Name.Name
			marker = method
		}
	}
	if ifaceName == "" {
		return "", "", errors.New("no sealed interface found")
	}
	return ifaceName, marker, nil
}

func sealedMarker(iface *ast.InterfaceType) (string, bool) {
	if iface.Methods == nil || len(iface.Methods.List) != 1 {
		return "", false
	}
	field := iface.Methods.List[0]
	if len(field.Names) != 1 {
		return "", false
	}
	name := field.Names[0].Name
	if ast.IsExported(name) {
		return "", false
	}
	sig, ok := field.Type.(*ast.FuncType)
	if !ok {
		return "", false
	}
	if sig.Params != nil && len(sig.Params.List) > 0 {
		return "", false
	}
	if sig.Results != nil && len(sig.Results.List) > 0 {
		return "", false
	}
	return name, true
}

func collectExportedStructs(file *ast.File) []string {
	var names []string
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.TYPE {
			continue
		}
		for _, spec := range gen.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			if _, ok := typeSpec.Type.(*ast.StructType); !ok {
				continue
			}
			if !ast.IsExported(typeSpec.Name.Name) {
				continue
			}
			names = append(names, typeSpec.Name.Name)
		}
	}
	return names
}

func render(pkgName, ifaceName, marker string, structNames []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("// Code generated by sealed; DO NOT EDIT.\n\n")
	fmt.Fprintf(&buf, "package %s\n\n", pkgName)

	for _, name := range structNames {
		fmt.Fprintf(&buf, "func (%s) %s() {}\n", name, marker)
	}
	buf.WriteString("\nvar (\n")
	for _, name := range structNames {
		fmt.Fprintf(&buf, "\t_ %s = %s{}\n", ifaceName, name)
	}
	buf.WriteString(")\n")

	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return out, nil
}
