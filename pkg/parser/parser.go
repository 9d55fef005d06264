// Package parser implements a recursive-descent parser.
//
// The parser maintains a two-token lookahead window (curTok, peekTok)
// and accumulates errors rather than stopping at the first one, so a
// single pass can report every syntax problem in a source file.
//
// Expression parsing is precedence-climbing: each precedence level is
// its own method, calling down to the next-tighter level for its
// operands, bottoming out at parsePrimary for literals, identifiers,
// parenthesized expressions, and the call/field/subscript postfix
// chain.
package parser

import (
	"fmt"
	"strconv"

	"github.com/kristofer/smogvm/pkg/ast"
	"github.com/kristofer/smogvm/pkg/lexer"
)

// Parser converts a token stream into an *ast.Program.
type Parser struct {
	l       *lexer.Lexer
	curTok  lexer.Token
	peekTok lexer.Token
	errors  []string
}

// New creates a parser over the given source.
func New(input string) *Parser {
	p := &Parser{l: lexer.New(input)}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curTok = p.peekTok
	p.peekTok = p.l.NextToken()
}

func (p *Parser) addError(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf("line %d: %s", p.curTok.Line, fmt.Sprintf(format, args...)))
}

// Errors returns every syntax error accumulated during Parse.
func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) curIs(tt lexer.TokenType) bool  { return p.curTok.Type == tt }
func (p *Parser) peekIs(tt lexer.TokenType) bool { return p.peekTok.Type == tt }

// expect advances past curTok if it matches tt. On a mismatch it
// records an error and still advances past the unexpected token, so a
// missing/garbled token can never stall the main parse loop.
func (p *Parser) expect(tt lexer.TokenType) bool {
	if p.curIs(tt) {
		p.nextToken()
		return true
	}
	p.addError("expected %s, got %s (%q)", tt, p.curTok.Type, p.curTok.Literal)
	p.nextToken()
	return false
}

// Parse parses the whole program and returns the accumulated errors,
// if any, alongside the (possibly partial) AST.
func (p *Parser) Parse() (*ast.Program, error) {
	program := &ast.Program{}
	for !p.curIs(lexer.TokenEOF) {
		stmt := p.parseStatement()
		if stmt != nil {
			program.Statements = append(program.Statements, stmt)
		}
	}
	if len(p.errors) > 0 {
		return program, fmt.Errorf("parser errors: %v", p.errors)
	}
	return program, nil
}

// ---- statements ----

func (p *Parser) parseStatement() ast.Statement {
	switch p.curTok.Type {
	case lexer.TokenVar:
		return p.parseVarDecl(false)
	case lexer.TokenStatic:
		p.nextToken()
		if !p.expect(lexer.TokenVar) {
			return nil
		}
		return p.parseVarDeclBody(true)
	case lexer.TokenFun:
		return p.parseFunDecl()
	case lexer.TokenClass:
		return p.parseClassDecl()
	case lexer.TokenIf:
		return p.parseIfStmt()
	case lexer.TokenWhile:
		return p.parseWhileStmt()
	case lexer.TokenFor:
		return p.parseForStmt()
	case lexer.TokenForeach:
		return p.parseForEachStmt()
	case lexer.TokenTry:
		return p.parseTryStmt()
	case lexer.TokenWith:
		return p.parseWithStmt()
	case lexer.TokenImport:
		return p.parseImportStmt()
	case lexer.TokenRaise:
		return p.parseRaiseStmt()
	case lexer.TokenBreak:
		line := p.curTok.Line
		p.nextToken()
		return &ast.BreakStmt{Line: line}
	case lexer.TokenContinue:
		line := p.curTok.Line
		p.nextToken()
		return &ast.ContinueStmt{Line: line}
	case lexer.TokenReturn:
		return p.parseReturnStmt()
	case lexer.TokenSemicolon:
		p.nextToken()
		return nil
	default:
		line := p.curTok.Line
		expr := p.parseExpression()
		if expr == nil {
			p.nextToken()
			return nil
		}
		if p.curIs(lexer.TokenSemicolon) {
			p.nextToken()
		}
		return &ast.ExprStmt{Line: line, Expr: expr}
	}
}

func (p *Parser) parseVarDecl(static bool) ast.Statement {
	p.nextToken() // consume 'var'
	return p.parseVarDeclBody(static)
}

func (p *Parser) parseVarDeclBody(static bool) ast.Statement {
	line := p.curTok.Line
	if !p.curIs(lexer.TokenIdentifier) {
		p.addError("expected identifier after var")
		p.nextToken()
		return nil
	}
	name := p.curTok.Literal
	p.nextToken()
	var init ast.Expression
	if p.curIs(lexer.TokenEq) {
		p.nextToken()
		init = p.parseExpression()
	}
	if p.curIs(lexer.TokenSemicolon) {
		p.nextToken()
	}
	return &ast.VarDecl{Line: line, Name: name, Init: init, Static: static}
}

// parseBlock parses statements until it sees one of the given
// terminator keywords (not consumed), used for if/while/for/try bodies
// that are closed by `end`, `else`, `except`, or `ensure`.
func (p *Parser) parseBlock(terminators ...lexer.TokenType) *ast.BlockStmt {
	line := p.curTok.Line
	block := &ast.BlockStmt{Line: line}
	for !p.curIs(lexer.TokenEOF) && !p.atAny(terminators...) {
		stmt := p.parseStatement()
		if stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
	}
	return block
}

func (p *Parser) atAny(tts ...lexer.TokenType) bool {
	for _, tt := range tts {
		if p.curIs(tt) {
			return true
		}
	}
	return false
}

func (p *Parser) parseIfStmt() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	cond := p.parseExpression()
	if !p.expect(lexer.TokenDo) {
		return nil
	}
	then := p.parseBlock(lexer.TokenElse, lexer.TokenEnd)
	var elseBlock *ast.BlockStmt
	if p.curIs(lexer.TokenElse) {
		p.nextToken()
		if p.curIs(lexer.TokenIf) {
			nested := p.parseIfStmt()
			elseBlock = &ast.BlockStmt{Statements: []ast.Statement{nested}}
			return &ast.IfStmt{Line: line, Cond: cond, Then: then, Else: elseBlock}
		}
		elseBlock = p.parseBlock(lexer.TokenEnd)
	}
	p.expect(lexer.TokenEnd)
	return &ast.IfStmt{Line: line, Cond: cond, Then: then, Else: elseBlock}
}

func (p *Parser) parseWhileStmt() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	cond := p.parseExpression()
	if !p.expect(lexer.TokenDo) {
		return nil
	}
	body := p.parseBlock(lexer.TokenEnd)
	p.expect(lexer.TokenEnd)
	return &ast.WhileStmt{Line: line, Cond: cond, Body: body}
}

func (p *Parser) parseForStmt() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	var init ast.Statement
	if !p.curIs(lexer.TokenSemicolon) {
		init = p.parseStatement()
	} else {
		p.nextToken()
	}
	var cond ast.Expression
	if !p.curIs(lexer.TokenSemicolon) {
		cond = p.parseExpression()
	}
	p.expect(lexer.TokenSemicolon)
	var post ast.Statement
	if !p.curIs(lexer.TokenDo) {
		line2 := p.curTok.Line
		expr := p.parseExpression()
		post = &ast.ExprStmt{Line: line2, Expr: expr}
	}
	if !p.expect(lexer.TokenDo) {
		return nil
	}
	body := p.parseBlock(lexer.TokenEnd)
	p.expect(lexer.TokenEnd)
	return &ast.ForStmt{Line: line, Init: init, Cond: cond, Post: post, Body: body}
}

func (p *Parser) parseForEachStmt() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	if !p.curIs(lexer.TokenIdentifier) {
		p.addError("expected loop variable name after foreach")
		p.nextToken()
		return nil
	}
	name := p.curTok.Literal
	p.nextToken()
	if !p.expect(lexer.TokenIn) {
		return nil
	}
	iterable := p.parseExpression()
	if !p.expect(lexer.TokenDo) {
		return nil
	}
	body := p.parseBlock(lexer.TokenEnd)
	p.expect(lexer.TokenEnd)
	return &ast.ForEachStmt{Line: line, VarName: name, Iterable: iterable, Body: body}
}

func (p *Parser) parseTryStmt() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	body := p.parseBlock(lexer.TokenExcept, lexer.TokenEnsure, lexer.TokenEnd)
	var excepts []ast.ExceptClause
	for p.curIs(lexer.TokenExcept) {
		p.nextToken()
		var className, binding string
		if p.curIs(lexer.TokenIdentifier) {
			className = p.curTok.Literal
			p.nextToken()
		}
		if p.curIs(lexer.TokenAs) {
			p.nextToken()
			if p.curIs(lexer.TokenIdentifier) {
				binding = p.curTok.Literal
				p.nextToken()
			}
		}
		if !p.expect(lexer.TokenDo) {
			return nil
		}
		clauseBody := p.parseBlock(lexer.TokenExcept, lexer.TokenEnsure, lexer.TokenEnd)
		excepts = append(excepts, ast.ExceptClause{ClassName: className, Binding: binding, Body: clauseBody})
	}
	var ensure *ast.BlockStmt
	if p.curIs(lexer.TokenEnsure) {
		p.nextToken()
		ensure = p.parseBlock(lexer.TokenEnd)
	}
	p.expect(lexer.TokenEnd)
	return &ast.TryStmt{Line: line, Body: body, Excepts: excepts, Ensure: ensure}
}

func (p *Parser) parseWithStmt() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	resource := p.parseExpression()
	var binding string
	if p.curIs(lexer.TokenAs) {
		p.nextToken()
		if p.curIs(lexer.TokenIdentifier) {
			binding = p.curTok.Literal
			p.nextToken()
		}
	}
	if !p.expect(lexer.TokenDo) {
		return nil
	}
	body := p.parseBlock(lexer.TokenEnd)
	p.expect(lexer.TokenEnd)
	return &ast.WithStmt{Line: line, Resource: resource, Binding: binding, Body: body}
}

func (p *Parser) parseImportStmt() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	if !p.curIs(lexer.TokenIdentifier) {
		p.addError("expected module or name after import")
		p.nextToken()
		return nil
	}
	first := p.curTok.Literal
	p.nextToken()

	if p.curIs(lexer.TokenAs) {
		p.nextToken()
		alias := p.curTok.Literal
		p.expect(lexer.TokenIdentifier)
		return &ast.ImportStmt{Line: line, Module: first, Alias: alias}
	}

	if p.curIs(lexer.TokenComma) || p.curIs(lexer.TokenFrom) {
		names := []string{first}
		for p.curIs(lexer.TokenComma) {
			p.nextToken()
			if p.curIs(lexer.TokenIdentifier) {
				names = append(names, p.curTok.Literal)
				p.nextToken()
			}
		}
		if !p.expect(lexer.TokenFrom) {
			return nil
		}
		mod := p.curTok.Literal
		p.expect(lexer.TokenIdentifier)
		return &ast.ImportStmt{Line: line, Module: mod, Names: names}
	}

	return &ast.ImportStmt{Line: line, Module: first}
}

func (p *Parser) parseRaiseStmt() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	var value ast.Expression
	if !p.curIs(lexer.TokenSemicolon) && !p.curIs(lexer.TokenEnd) && !p.curIs(lexer.TokenEOF) {
		value = p.parseExpression()
	}
	return &ast.RaiseStmt{Line: line, Value: value}
}

func (p *Parser) parseReturnStmt() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	var value ast.Expression
	if !p.curIs(lexer.TokenSemicolon) && !p.curIs(lexer.TokenEnd) && !p.curIs(lexer.TokenEOF) {
		value = p.parseExpression()
	}
	return &ast.ReturnStmt{Line: line, Value: value}
}

func (p *Parser) parseFunDecl() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	name := p.curTok.Literal
	p.expect(lexer.TokenIdentifier)
	fn := p.parseFunctionTail()
	return &ast.FunDecl{Line: line, Name: name, Fn: fn}
}

// parseFunctionTail parses the `(params) ... end` portion shared by
// `fun name(...)` declarations and bare `fun(...) ... end` literals,
// curTok already positioned at the opening paren.
func (p *Parser) parseFunctionTail() *ast.FunctionLit {
	line := p.curTok.Line
	params, vararg, defaults := p.parseParamList()
	body := p.parseBlock(lexer.TokenEnd).Statements
	p.expect(lexer.TokenEnd)
	return &ast.FunctionLit{Line: line, Params: params, Vararg: vararg, Defaults: defaults, Body: body}
}

func (p *Parser) parseParamList() ([]string, bool, []ast.Expression) {
	if !p.expect(lexer.TokenLParen) {
		return nil, false, nil
	}
	var params []string
	var defaults []ast.Expression
	vararg := false
	for !p.curIs(lexer.TokenRParen) && !p.curIs(lexer.TokenEOF) {
		if p.curIs(lexer.TokenStar) {
			p.nextToken()
			vararg = true
		}
		if p.curIs(lexer.TokenIdentifier) {
			params = append(params, p.curTok.Literal)
			p.nextToken()
			if p.curIs(lexer.TokenEq) {
				p.nextToken()
				defaults = append(defaults, p.parseTernary())
			} else {
				defaults = append(defaults, nil)
			}
		}
		if p.curIs(lexer.TokenComma) {
			p.nextToken()
		}
	}
	p.expect(lexer.TokenRParen)
	return params, vararg, defaults
}

func (p *Parser) parseClassDecl() ast.Statement {
	line := p.curTok.Line
	p.nextToken()
	name := p.curTok.Literal
	p.expect(lexer.TokenIdentifier)
	super := ""
	if p.curIs(lexer.TokenIs) {
		p.nextToken()
		super = p.curTok.Literal
		p.expect(lexer.TokenIdentifier)
	}

	var fields []string
	var methods []*ast.MethodDecl
	for !p.curIs(lexer.TokenEnd) && !p.curIs(lexer.TokenEOF) {
		switch p.curTok.Type {
		case lexer.TokenVar:
			p.nextToken()
			if p.curIs(lexer.TokenIdentifier) {
				fields = append(fields, p.curTok.Literal)
				p.nextToken()
			}
			if p.curIs(lexer.TokenSemicolon) {
				p.nextToken()
			}
		case lexer.TokenStatic:
			p.nextToken()
			isCtor := false
			mname := p.curTok.Literal
			p.expect(lexer.TokenIdentifier)
			fn := p.parseFunctionTail()
			methods = append(methods, &ast.MethodDecl{Line: line, Name: mname, Fn: fn, IsCtor: isCtor, IsStatic: true})
		case lexer.TokenFun:
			p.nextToken()
			mname := p.curTok.Literal
			isCtor := mname == name
			p.expect(lexer.TokenIdentifier)
			fn := p.parseFunctionTail()
			methods = append(methods, &ast.MethodDecl{Line: line, Name: mname, Fn: fn, IsCtor: isCtor})
		default:
			p.addError("unexpected token %s in class body", p.curTok.Type)
			p.nextToken()
		}
	}
	p.expect(lexer.TokenEnd)
	return &ast.ClassDecl{Line: line, Name: name, Super: super, Fields: fields, Methods: methods}
}

// ---- expressions: precedence climbing ----
//
// Precedence, loosest to tightest:
//   assignment  (=, += -= *= /= %=, tuple/list unpack)
//   or
//   and
//   equality    (== != is)
//   comparison  (< <= > >=)
//   additive    (+ -)
//   multiplicative (* / %)
//   power       (**), right-associative
//   unary       (- not # ##)
//   call/postfix (() [] . )
//   primary

func (p *Parser) parseExpression() ast.Expression {
	return p.parseAssignment()
}

func (p *Parser) parseAssignment() ast.Expression {
	if p.curIs(lexer.TokenLParen) && p.looksLikeUnpackTarget() {
		return p.parseUnpackAssign()
	}

	left := p.parseOr()

	switch p.curTok.Type {
	case lexer.TokenEq:
		line := p.curTok.Line
		p.nextToken()
		value := p.parseAssignment()
		return &ast.AssignExpr{Line: line, Target: left, Value: value}
	case lexer.TokenPlusEq, lexer.TokenMinusEq, lexer.TokenStarEq, lexer.TokenSlashEq, lexer.TokenPercentEq:
		op := compoundOp(p.curTok.Type)
		line := p.curTok.Line
		p.nextToken()
		value := p.parseAssignment()
		return &ast.CompoundAssignExpr{Line: line, Op: op, Target: left, Value: value}
	}
	return left
}

func compoundOp(tt lexer.TokenType) ast.BinaryOp {
	switch tt {
	case lexer.TokenPlusEq:
		return ast.BinAdd
	case lexer.TokenMinusEq:
		return ast.BinSub
	case lexer.TokenStarEq:
		return ast.BinMul
	case lexer.TokenSlashEq:
		return ast.BinDiv
	default:
		return ast.BinMod
	}
}

// looksLikeUnpackTarget distinguishes `(a, b) = expr` from a
// parenthesized expression by scanning ahead, on a cloned Lexer so the
// real parser's position is untouched, to the matching `)` and checking
// whether `=` follows it. Lexer is a small value type (no pointers
// beyond the shared, immutable input string), so copying it is cheap
// and safe.
func (p *Parser) looksLikeUnpackTarget() bool {
	if !p.curIs(lexer.TokenLParen) {
		return false
	}
	cl := *p.l
	tok := p.peekTok
	depth := 1
	for depth > 0 {
		switch tok.Type {
		case lexer.TokenLParen:
			depth++
		case lexer.TokenRParen:
			depth--
		case lexer.TokenEOF:
			return false
		}
		if depth == 0 {
			break
		}
		tok = cl.NextToken()
	}
	return cl.NextToken().Type == lexer.TokenEq
}

func (p *Parser) parseUnpackAssign() ast.Expression {
	line := p.curTok.Line
	p.nextToken()
	var targets []ast.UnpackTarget
	for !p.curIs(lexer.TokenRParen) && !p.curIs(lexer.TokenEOF) {
		rest := false
		if p.curIs(lexer.TokenStar) {
			p.nextToken()
			rest = true
		}
		name := p.curTok.Literal
		p.expect(lexer.TokenIdentifier)
		targets = append(targets, ast.UnpackTarget{Name: name, Rest: rest})
		if p.curIs(lexer.TokenComma) {
			p.nextToken()
		}
	}
	p.expect(lexer.TokenRParen)
	p.expect(lexer.TokenEq)
	value := p.parseExpression()
	return &ast.UnpackAssignExpr{Line: line, Targets: targets, Value: value}
}

func (p *Parser) parseOr() ast.Expression {
	left := p.parseAnd()
	for p.curIs(lexer.TokenOr) {
		line := p.curTok.Line
		p.nextToken()
		right := p.parseAnd()
		left = &ast.BinaryExpr{Line: line, Op: ast.BinOr, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() ast.Expression {
	left := p.parseEquality()
	for p.curIs(lexer.TokenAnd) {
		line := p.curTok.Line
		p.nextToken()
		right := p.parseEquality()
		left = &ast.BinaryExpr{Line: line, Op: ast.BinAnd, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseEquality() ast.Expression {
	left := p.parseComparison()
	for p.curIs(lexer.TokenEqEq) || p.curIs(lexer.TokenNotEq) || p.curIs(lexer.TokenIs) {
		op := ast.BinEq
		switch p.curTok.Type {
		case lexer.TokenNotEq:
			op = ast.BinNeq
		case lexer.TokenIs:
			op = ast.BinIs
		}
		line := p.curTok.Line
		p.nextToken()
		right := p.parseComparison()
		left = &ast.BinaryExpr{Line: line, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseComparison() ast.Expression {
	left := p.parseAdditive()
	for p.atAny(lexer.TokenLt, lexer.TokenLe, lexer.TokenGt, lexer.TokenGe) {
		op := map[lexer.TokenType]ast.BinaryOp{
			lexer.TokenLt: ast.BinLt, lexer.TokenLe: ast.BinLe,
			lexer.TokenGt: ast.BinGt, lexer.TokenGe: ast.BinGe,
		}[p.curTok.Type]
		line := p.curTok.Line
		p.nextToken()
		right := p.parseAdditive()
		left = &ast.BinaryExpr{Line: line, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAdditive() ast.Expression {
	left := p.parseMultiplicative()
	for p.curIs(lexer.TokenPlus) || p.curIs(lexer.TokenMinus) {
		op := ast.BinAdd
		if p.curIs(lexer.TokenMinus) {
			op = ast.BinSub
		}
		line := p.curTok.Line
		p.nextToken()
		right := p.parseMultiplicative()
		left = &ast.BinaryExpr{Line: line, Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseMultiplicative() ast.Expression {
	left := p.parsePower()
	for p.atAny(lexer.TokenStar, lexer.TokenSlash, lexer.TokenPercent) {
		op := map[lexer.TokenType]ast.BinaryOp{
			lexer.TokenStar: ast.BinMul, lexer.TokenSlash: ast.BinDiv, lexer.TokenPercent: ast.BinMod,
		}[p.curTok.Type]
		line := p.curTok.Line
		p.nextToken()
		right := p.parsePower()
		left = &ast.BinaryExpr{Line: line, Op: op, Left: left, Right: right}
	}
	return left
}

// parsePower is right-associative: `2 ** 3 ** 2 == 2 ** (3 ** 2)`.
func (p *Parser) parsePower() ast.Expression {
	left := p.parseUnary()
	if p.curIs(lexer.TokenStarStar) {
		line := p.curTok.Line
		p.nextToken()
		right := p.parsePower()
		return &ast.BinaryExpr{Line: line, Op: ast.BinPow, Left: left, Right: right}
	}
	return left
}

// parseTernary is an alias used by default-value parsing; the language
// has no distinct ternary operator, defaults are just expressions.
func (p *Parser) parseTernary() ast.Expression {
	return p.parseExpression()
}

func (p *Parser) parseUnary() ast.Expression {
	switch p.curTok.Type {
	case lexer.TokenMinus:
		line := p.curTok.Line
		p.nextToken()
		return &ast.UnaryExpr{Line: line, Op: ast.UnaryNeg, Operand: p.parseUnary()}
	case lexer.TokenNot:
		line := p.curTok.Line
		p.nextToken()
		return &ast.UnaryExpr{Line: line, Op: ast.UnaryNot, Operand: p.parseUnary()}
	case lexer.TokenHash:
		line := p.curTok.Line
		p.nextToken()
		return &ast.UnaryExpr{Line: line, Op: ast.UnaryLen, Operand: p.parseUnary()}
	case lexer.TokenHashHash:
		line := p.curTok.Line
		p.nextToken()
		return &ast.UnaryExpr{Line: line, Op: ast.UnaryHash, Operand: p.parseUnary()}
	}
	return p.parsePostfix()
}

// parsePostfix handles the call/field/subscript chain after a primary
// expression: `a.b(c)[d].e`.
func (p *Parser) parsePostfix() ast.Expression {
	expr := p.parsePrimary()
	for {
		switch p.curTok.Type {
		case lexer.TokenDot:
			line := p.curTok.Line
			p.nextToken()
			name := p.curTok.Literal
			p.expect(lexer.TokenIdentifier)
			if p.curIs(lexer.TokenLParen) {
				args, spread := p.parseArgs()
				expr = &ast.InvokeExpr{Line: line, Receiver: expr, Name: name, Args: args, Spread: spread}
			} else {
				expr = &ast.FieldAccess{Line: line, Receiver: expr, Name: name}
			}
		case lexer.TokenLBracket:
			line := p.curTok.Line
			p.nextToken()
			index := p.parseExpression()
			p.expect(lexer.TokenRBracket)
			expr = &ast.SubscriptExpr{Line: line, Receiver: expr, Index: index}
		case lexer.TokenLParen:
			line := p.curTok.Line
			args, spread := p.parseArgs()
			expr = &ast.CallExpr{Line: line, Callee: expr, Args: args, Spread: spread}
		default:
			return expr
		}
	}
}

// parseArgs parses a `(...)` call-argument list, curTok at the opening
// paren. Spread reports whether the final argument was prefixed with
// `*`, marking it for runtime unpacking (OP_CALL_UNPACK / OP_INVOKE_UNPACK).
func (p *Parser) parseArgs() ([]ast.Expression, bool) {
	p.nextToken() // consume '('
	var args []ast.Expression
	spread := false
	for !p.curIs(lexer.TokenRParen) && !p.curIs(lexer.TokenEOF) {
		if p.curIs(lexer.TokenStar) {
			p.nextToken()
			spread = true
		}
		args = append(args, p.parseExpression())
		if p.curIs(lexer.TokenComma) {
			p.nextToken()
		}
	}
	p.expect(lexer.TokenRParen)
	return args, spread
}

func (p *Parser) parsePrimary() ast.Expression {
	switch p.curTok.Type {
	case lexer.TokenNumber:
		return p.parseNumberLit()
	case lexer.TokenString:
		lit := &ast.StringLit{Line: p.curTok.Line, Value: p.curTok.Literal}
		p.nextToken()
		return lit
	case lexer.TokenTrue:
		lit := &ast.BoolLit{Line: p.curTok.Line, Value: true}
		p.nextToken()
		return lit
	case lexer.TokenFalse:
		lit := &ast.BoolLit{Line: p.curTok.Line, Value: false}
		p.nextToken()
		return lit
	case lexer.TokenNull:
		lit := &ast.NullLit{Line: p.curTok.Line}
		p.nextToken()
		return lit
	case lexer.TokenThis:
		lit := &ast.ThisExpr{Line: p.curTok.Line}
		p.nextToken()
		return lit
	case lexer.TokenSuper:
		return p.parseSuperExpr()
	case lexer.TokenIdentifier:
		lit := &ast.Identifier{Line: p.curTok.Line, Name: p.curTok.Literal}
		p.nextToken()
		return lit
	case lexer.TokenFun:
		line := p.curTok.Line
		p.nextToken()
		fn := p.parseFunctionTail()
		fn.Line = line
		return fn
	case lexer.TokenLParen:
		return p.parseParenOrTuple()
	case lexer.TokenLBracket:
		return p.parseListLit()
	case lexer.TokenLBrace:
		return p.parseTableLit()
	default:
		p.addError("unexpected token %s (%q) in expression", p.curTok.Type, p.curTok.Literal)
		tok := p.curTok
		p.nextToken()
		return &ast.Identifier{Line: tok.Line, Name: tok.Literal}
	}
}

func (p *Parser) parseNumberLit() ast.Expression {
	line, text := p.curTok.Line, p.curTok.Literal
	p.nextToken()
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		p.addError("invalid number literal %q", text)
		v = 0
	}
	return &ast.NumberLit{Line: line, Value: v}
}

func (p *Parser) parseSuperExpr() ast.Expression {
	line := p.curTok.Line
	p.nextToken()
	if p.curIs(lexer.TokenDot) {
		p.nextToken()
		name := p.curTok.Literal
		p.expect(lexer.TokenIdentifier)
		if p.curIs(lexer.TokenLParen) {
			args, spread := p.parseArgs()
			return &ast.SuperCallExpr{Line: line, Name: name, Args: args, Spread: spread}
		}
		return &ast.FieldAccess{Line: line, Receiver: &ast.SuperExpr{Line: line}, Name: name}
	}
	return &ast.SuperExpr{Line: line}
}

// parseParenOrTuple disambiguates `(expr)` grouping from a tuple
// literal: a trailing comma before `)` (including the empty `()` and
// single-element `(x,)` forms) makes it a TupleLit.
func (p *Parser) parseParenOrTuple() ast.Expression {
	line := p.curTok.Line
	p.nextToken()
	if p.curIs(lexer.TokenRParen) {
		p.nextToken()
		return &ast.TupleLit{Line: line}
	}
	first := p.parseExpression()
	if p.curIs(lexer.TokenComma) {
		elems := []ast.Expression{first}
		for p.curIs(lexer.TokenComma) {
			p.nextToken()
			if p.curIs(lexer.TokenRParen) {
				break
			}
			elems = append(elems, p.parseExpression())
		}
		p.expect(lexer.TokenRParen)
		return &ast.TupleLit{Line: line, Elements: elems}
	}
	p.expect(lexer.TokenRParen)
	return first
}

func (p *Parser) parseListLit() ast.Expression {
	line := p.curTok.Line
	p.nextToken()
	var elems []ast.Expression
	for !p.curIs(lexer.TokenRBracket) && !p.curIs(lexer.TokenEOF) {
		elems = append(elems, p.parseExpression())
		if p.curIs(lexer.TokenComma) {
			p.nextToken()
		}
	}
	p.expect(lexer.TokenRBracket)
	return &ast.ListLit{Line: line, Elements: elems}
}

func (p *Parser) parseTableLit() ast.Expression {
	line := p.curTok.Line
	p.nextToken()
	var entries []ast.TableEntry
	for !p.curIs(lexer.TokenRBrace) && !p.curIs(lexer.TokenEOF) {
		key := p.parseExpression()
		p.expect(lexer.TokenColon)
		value := p.parseExpression()
		entries = append(entries, ast.TableEntry{Key: key, Value: value})
		if p.curIs(lexer.TokenComma) {
			p.nextToken()
		}
	}
	p.expect(lexer.TokenRBrace)
	return &ast.TableLit{Line: line, Entries: entries}
}
