package lexer

import "testing"

func tokenTypes(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func assertTypes(t *testing.T, got []TokenType, want ...TokenType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("token count = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestKeywordsAndIdentifiers(t *testing.T) {
	toks, err := New("var x class is end fun foo").Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokenTypes(toks),
		TokenVar, TokenIdentifier, TokenClass, TokenIs, TokenEnd, TokenFun, TokenIdentifier, TokenEOF)
}

func TestOperators(t *testing.T) {
	toks, err := New("+= -= ** == != <= >=").Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokenTypes(toks),
		TokenPlusEq, TokenMinusEq, TokenStarStar, TokenEqEq, TokenNotEq, TokenLe, TokenGe, TokenEOF)
}

func TestStringEscapes(t *testing.T) {
	toks, err := New(`"a\nb\"c"`).Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	if toks[0].Type != TokenString || toks[0].Literal != "a\nb\"c" {
		t.Fatalf("got %q", toks[0].Literal)
	}
}

func TestLineComment(t *testing.T) {
	toks, err := New("var x // trailing comment\nvar y").Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokenTypes(toks),
		TokenVar, TokenIdentifier, TokenVar, TokenIdentifier, TokenEOF)
}

func TestNumberWithExponent(t *testing.T) {
	toks, err := New("1.5e10 2E-3 3").Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"1.5e10", "2E-3", "3"}
	for i, w := range want {
		if toks[i].Literal != w {
			t.Errorf("token %d = %q, want %q", i, toks[i].Literal, w)
		}
	}
}

func TestIllegalToken(t *testing.T) {
	_, err := New("@").Tokenize()
	if err == nil {
		t.Fatal("expected error for illegal token")
	}
}

func TestHashOperators(t *testing.T) {
	toks, err := New("#x ##x").Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokenTypes(toks),
		TokenHash, TokenIdentifier, TokenHashHash, TokenIdentifier, TokenEOF)
}

func TestLineTracking(t *testing.T) {
	l := New("x\ny\nz")
	if tok := l.NextToken(); tok.Line != 1 {
		t.Errorf("line = %d, want 1", tok.Line)
	}
	if tok := l.NextToken(); tok.Line != 2 {
		t.Errorf("line = %d, want 2", tok.Line)
	}
	if tok := l.NextToken(); tok.Line != 3 {
		t.Errorf("line = %d, want 3", tok.Line)
	}
}

func TestClassDeclarationTokens(t *testing.T) {
	toks, err := New("class Shape is Object\n  var name\nend").Tokenize()
	if err != nil {
		t.Fatal(err)
	}
	assertTypes(t, tokenTypes(toks),
		TokenClass, TokenIdentifier, TokenIs, TokenIdentifier,
		TokenVar, TokenIdentifier, TokenEnd, TokenEOF)
}
