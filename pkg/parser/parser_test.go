package parser

import (
	"testing"

	"github.com/kristofer/smogvm/pkg/ast"
)

func parseOK(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := New(src)
	prog, err := p.Parse()
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", src, err)
	}
	return prog
}

func TestParseNumberLiteral(t *testing.T) {
	prog := parseOK(t, "42")
	stmt := prog.Statements[0].(*ast.ExprStmt)
	lit, ok := stmt.Expr.(*ast.NumberLit)
	if !ok {
		t.Fatalf("expected NumberLit, got %T", stmt.Expr)
	}
	if lit.Value != 42 {
		t.Errorf("value = %v, want 42", lit.Value)
	}
}

func TestParseArithmeticPrecedence(t *testing.T) {
	prog := parseOK(t, "1 + 2 * 3")
	stmt := prog.Statements[0].(*ast.ExprStmt)
	bin, ok := stmt.Expr.(*ast.BinaryExpr)
	if !ok || bin.Op != ast.BinAdd {
		t.Fatalf("expected top-level +, got %#v", stmt.Expr)
	}
	rhs, ok := bin.Right.(*ast.BinaryExpr)
	if !ok || rhs.Op != ast.BinMul {
		t.Fatalf("expected * nested on the right, got %#v", bin.Right)
	}
}

func TestParsePowerRightAssociative(t *testing.T) {
	prog := parseOK(t, "2 ** 3 ** 2")
	stmt := prog.Statements[0].(*ast.ExprStmt)
	bin := stmt.Expr.(*ast.BinaryExpr)
	if bin.Op != ast.BinPow {
		t.Fatal("expected top-level **")
	}
	if _, ok := bin.Right.(*ast.BinaryExpr); !ok {
		t.Fatalf("expected ** to be right-associative, got %#v", bin.Right)
	}
	if _, ok := bin.Left.(*ast.NumberLit); !ok {
		t.Fatalf("expected left operand to be the literal 2, got %#v", bin.Left)
	}
}

func TestParseVarDecl(t *testing.T) {
	prog := parseOK(t, "var x = 5")
	decl, ok := prog.Statements[0].(*ast.VarDecl)
	if !ok {
		t.Fatalf("expected VarDecl, got %T", prog.Statements[0])
	}
	if decl.Name != "x" {
		t.Errorf("name = %q, want x", decl.Name)
	}
}

func TestParseIfElse(t *testing.T) {
	prog := parseOK(t, `
if x < 5 do
  return 1
else
  return 2
end`)
	ifs, ok := prog.Statements[0].(*ast.IfStmt)
	if !ok {
		t.Fatalf("expected IfStmt, got %T", prog.Statements[0])
	}
	if ifs.Else == nil {
		t.Fatal("expected an else block")
	}
}

func TestParseWhileLoop(t *testing.T) {
	prog := parseOK(t, `
while x < 10 do
  x = x + 1
end`)
	if _, ok := prog.Statements[0].(*ast.WhileStmt); !ok {
		t.Fatalf("expected WhileStmt, got %T", prog.Statements[0])
	}
}

func TestParseForEach(t *testing.T) {
	prog := parseOK(t, `
foreach item in items do
  print(item)
end`)
	fe, ok := prog.Statements[0].(*ast.ForEachStmt)
	if !ok {
		t.Fatalf("expected ForEachStmt, got %T", prog.Statements[0])
	}
	if fe.VarName != "item" {
		t.Errorf("var name = %q, want item", fe.VarName)
	}
}

func TestParseClassDecl(t *testing.T) {
	prog := parseOK(t, `
class Point is Object
  var x
  var y

  fun Point(x, y)
    this.x = x
    this.y = y
  end

  fun length()
    return this.x
  end
end`)
	cd, ok := prog.Statements[0].(*ast.ClassDecl)
	if !ok {
		t.Fatalf("expected ClassDecl, got %T", prog.Statements[0])
	}
	if cd.Super != "Object" {
		t.Errorf("super = %q, want Object", cd.Super)
	}
	if len(cd.Fields) != 2 {
		t.Errorf("fields = %d, want 2", len(cd.Fields))
	}
	if len(cd.Methods) != 2 {
		t.Fatalf("methods = %d, want 2", len(cd.Methods))
	}
	if !cd.Methods[0].IsCtor {
		t.Error("expected first method to be recognized as constructor")
	}
}

func TestParseTryExceptEnsure(t *testing.T) {
	prog := parseOK(t, `
try
  raise TypeException
except TypeException as e do
  print(e)
ensure
  cleanup()
end`)
	ts, ok := prog.Statements[0].(*ast.TryStmt)
	if !ok {
		t.Fatalf("expected TryStmt, got %T", prog.Statements[0])
	}
	if len(ts.Excepts) != 1 || ts.Excepts[0].ClassName != "TypeException" {
		t.Fatalf("excepts = %#v", ts.Excepts)
	}
	if ts.Ensure == nil {
		t.Fatal("expected an ensure block")
	}
}

func TestParseListAndTableLiterals(t *testing.T) {
	prog := parseOK(t, `var x = [1, 2, 3]`)
	decl := prog.Statements[0].(*ast.VarDecl)
	list, ok := decl.Init.(*ast.ListLit)
	if !ok || len(list.Elements) != 3 {
		t.Fatalf("expected 3-element ListLit, got %#v", decl.Init)
	}

	prog2 := parseOK(t, `var t = {"a": 1, "b": 2}`)
	decl2 := prog2.Statements[0].(*ast.VarDecl)
	tbl, ok := decl2.Init.(*ast.TableLit)
	if !ok || len(tbl.Entries) != 2 {
		t.Fatalf("expected 2-entry TableLit, got %#v", decl2.Init)
	}
}

func TestParseTupleLiteral(t *testing.T) {
	prog := parseOK(t, `var t = (1, 2)`)
	decl := prog.Statements[0].(*ast.VarDecl)
	tup, ok := decl.Init.(*ast.TupleLit)
	if !ok || len(tup.Elements) != 2 {
		t.Fatalf("expected 2-element TupleLit, got %#v", decl.Init)
	}
}

func TestParseUnpackAssign(t *testing.T) {
	prog := parseOK(t, `(a, b) = pair`)
	ua, ok := prog.Statements[0].(*ast.ExprStmt).Expr.(*ast.UnpackAssignExpr)
	if !ok {
		t.Fatalf("expected UnpackAssignExpr, got %T", prog.Statements[0].(*ast.ExprStmt).Expr)
	}
	if len(ua.Targets) != 2 || ua.Targets[0].Name != "a" || ua.Targets[1].Name != "b" {
		t.Fatalf("targets = %#v", ua.Targets)
	}
}

func TestParseMethodInvocation(t *testing.T) {
	prog := parseOK(t, `obj.method(1, 2)`)
	inv, ok := prog.Statements[0].(*ast.ExprStmt).Expr.(*ast.InvokeExpr)
	if !ok {
		t.Fatalf("expected InvokeExpr, got %T", prog.Statements[0].(*ast.ExprStmt).Expr)
	}
	if inv.Name != "method" || len(inv.Args) != 2 {
		t.Fatalf("invoke = %#v", inv)
	}
}

func TestParseFunctionLiteralAndCall(t *testing.T) {
	prog := parseOK(t, `var f = fun(x) return x end; f(5)`)
	decl := prog.Statements[0].(*ast.VarDecl)
	if _, ok := decl.Init.(*ast.FunctionLit); !ok {
		t.Fatalf("expected FunctionLit, got %T", decl.Init)
	}
	call, ok := prog.Statements[1].(*ast.ExprStmt).Expr.(*ast.CallExpr)
	if !ok || len(call.Args) != 1 {
		t.Fatalf("expected 1-arg CallExpr, got %#v", prog.Statements[1])
	}
}

func TestParseForeachAndWith(t *testing.T) {
	prog := parseOK(t, `
with openFile("x") as f do
  print(f)
end`)
	ws, ok := prog.Statements[0].(*ast.WithStmt)
	if !ok {
		t.Fatalf("expected WithStmt, got %T", prog.Statements[0])
	}
	if ws.Binding != "f" {
		t.Errorf("binding = %q, want f", ws.Binding)
	}
}

func TestParseImportForms(t *testing.T) {
	prog := parseOK(t, "import math\nimport json as j\nimport sin, cos from math")
	if prog.Statements[0].(*ast.ImportStmt).Module != "math" {
		t.Fatal("plain import failed")
	}
	if prog.Statements[1].(*ast.ImportStmt).Alias != "j" {
		t.Fatal("aliased import failed")
	}
	names := prog.Statements[2].(*ast.ImportStmt).Names
	if len(names) != 2 || names[0] != "sin" || names[1] != "cos" {
		t.Fatalf("from-import names = %#v", names)
	}
}

func TestParseErrorAccumulation(t *testing.T) {
	p := New("var = ; @")
	_, err := p.Parse()
	if err == nil {
		t.Fatal("expected parse errors")
	}
	if len(p.Errors()) == 0 {
		t.Fatal("expected accumulated errors")
	}
}
