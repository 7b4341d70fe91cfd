package formula

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is one node of a parsed formula. the concrete types are the *Node
// structs in this file. every node keeps the whitespace that preceded its
// first token so the formula renders back exactly as it was typed.
type Node interface {
	node()
}

// NumberNode keeps the literal as written so "1.50" renders unchanged.
type NumberNode struct {
	Space string
	Text  string
	Value float64
}

type StringNode struct {
	Space string
	Value string
}

type BooleanNode struct {
	Space string
	Value bool
}

// ErrorNode is an error literal such as #N/A typed into a formula.
type ErrorNode struct {
	Space string
	Code  ErrorCode
}

type RefNode struct {
	Space string
	Ref   Reference
}

// RefErrorNode replaces a reference that no longer points anywhere, for
// example after the rows it named were deleted. Sheet is kept when the
// reference was sheet-qualified.
type RefErrorNode struct {
	Space string
	Sheet SheetID
}

// NameNode is a defined name used as an operand.
type NameNode struct {
	Space string
	Name  string
}

// UnaryNode is a prefix sign or a postfix percent. for a sign, Space
// precedes the operator; for percent, Space sits between the operand and
// the '%'.
type UnaryNode struct {
	Space   string
	Op      UnaryOp
	Operand Node
}

type BinaryNode struct {
	Op      BinaryOp
	OpSpace string
	Left    Node
	Right   Node
}

type ParenNode struct {
	Space      string
	Inner      Node
	CloseSpace string
}

// FunctionNode is a call by name. the name is kept as typed; lookup is
// case-insensitive and happens at evaluation time, so unknown names parse.
type FunctionNode struct {
	Space      string
	Name       string
	Args       []Node
	CommaSpace []string // whitespace before each ','
	CloseSpace string   // whitespace before ')'
}

// MissingArgNode stands for an omitted argument, as in IF(A1,,1).
type MissingArgNode struct{}

func (*NumberNode) node()     {}
func (*StringNode) node()     {}
func (*BooleanNode) node()    {}
func (*ErrorNode) node()      {}
func (*RefNode) node()        {}
func (*RefErrorNode) node()   {}
func (*NameNode) node()       {}
func (*UnaryNode) node()      {}
func (*BinaryNode) node()     {}
func (*ParenNode) node()      {}
func (*FunctionNode) node()   {}
func (*MissingArgNode) node() {}

// ParseContext carries what the parser needs to resolve references.
type ParseContext struct {
	// Sheets resolves sheet names in qualified references. if it also
	// implements SheetInterner, unknown sheet names get a placeholder id.
	Sheets SheetResolver
	// Cell is where the formula lives. unqualified references are on
	// Cell.Sheet.
	Cell CellAddress
	// Functions, when set, is used to check argument counts of known
	// functions.
	Functions *FunctionRegistry
	Limits    GridLimits
}

// Parser turns tokens into a Node tree by recursive descent.
type Parser struct {
	tokens []Token
	pos    int
	ctx    ParseContext
}

var comparisonOps = map[string]BinaryOp{
	"=":  BinOpEqual,
	"<>": BinOpNotEqual,
	"<":  BinOpLess,
	"<=": BinOpLessEqual,
	">":  BinOpGreater,
	">=": BinOpGreaterEqual,
}

var (
	concatOps         = map[string]BinaryOp{"&": BinOpConcat}
	additiveOps       = map[string]BinaryOp{"+": BinOpAdd, "-": BinOpSubtract}
	multiplicativeOps = map[string]BinaryOp{"*": BinOpMultiply, "/": BinOpDivide}
	powerOps          = map[string]BinaryOp{"^": BinOpPower}
)

// Parse parses formula text, with or without a leading '='. whitespace at
// the very end of the text is dropped.
func Parse(text string, ctx ParseContext) (Node, error) {
	tokens, err := NewLexer(text).Tokenize()
	if err != nil {
		return nil, err
	}
	ctx.Limits = ctx.Limits.orDefault()
	p := &Parser{tokens: tokens, ctx: ctx}
	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Type != TokenEOF {
		return nil, p.errorf(tok, "unexpected token: %s", tok.Value)
	}
	return node, nil
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) errorf(tok Token, format string, args ...any) error {
	return &ParseError{Pos: tok.Pos, Msg: fmt.Sprintf(format, args...)}
}

// parseBinaryLevel parses one left-associative precedence level.
func (p *Parser) parseBinaryLevel(ops map[string]BinaryOp, next func() (Node, error)) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Type != TokenBinaryOp {
			return left, nil
		}
		op, ok := ops[tok.Value]
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryNode{Op: op, OpSpace: tok.Space, Left: left, Right: right}
	}
}

func (p *Parser) parseComparison() (Node, error) {
	return p.parseBinaryLevel(comparisonOps, p.parseConcatenation)
}

func (p *Parser) parseConcatenation() (Node, error) {
	return p.parseBinaryLevel(concatOps, p.parseAddition)
}

func (p *Parser) parseAddition() (Node, error) {
	return p.parseBinaryLevel(additiveOps, p.parseMultiplication)
}

func (p *Parser) parseMultiplication() (Node, error) {
	return p.parseBinaryLevel(multiplicativeOps, p.parsePower)
}

// parsePower is left-associative: 2^3^2 is 64, as in Excel.
func (p *Parser) parsePower() (Node, error) {
	return p.parseBinaryLevel(powerOps, p.parsePostfix)
}

func (p *Parser) parsePostfix() (Node, error) {
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == TokenUnaryPostfixOp {
		tok := p.advance()
		operand = &UnaryNode{Space: tok.Space, Op: UnaryOpPercent, Operand: operand}
	}
	return operand, nil
}

func (p *Parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.Type != TokenUnaryPrefixOp {
		return p.parsePrimary()
	}
	p.advance()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op := UnaryOpPlus
	if tok.Value == "-" {
		op = UnaryOpMinus
	}
	return &UnaryNode{Space: tok.Space, Op: op, Operand: operand}, nil
}

func (p *Parser) parsePrimary() (Node, error) {
	tok := p.advance()
	switch tok.Type {
	case TokenNumber:
		value, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, p.errorf(tok, "invalid number: %s", tok.Value)
		}
		return &NumberNode{Space: tok.Space, Text: tok.Value, Value: value}, nil
	case TokenString:
		return &StringNode{Space: tok.Space, Value: tok.Value}, nil
	case TokenBoolean:
		return &BooleanNode{Space: tok.Space, Value: strings.EqualFold(tok.Value, "TRUE")}, nil
	case TokenErrorLiteral:
		code, ok := ErrorCodeFromText(tok.Value)
		if !ok {
			return nil, p.errorf(tok, "unknown error literal: %s", tok.Value)
		}
		return &ErrorNode{Space: tok.Space, Code: code}, nil
	case TokenReference:
		return p.parseReference(tok)
	case TokenName:
		return &NameNode{Space: tok.Space, Name: tok.Value}, nil
	case TokenFunction:
		return p.parseFunctionCall(tok)
	case TokenLeftParen:
		if p.peek().Type == TokenRightParen {
			return nil, p.errorf(p.peek(), "empty parentheses")
		}
		inner, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		closing := p.advance()
		if closing.Type != TokenRightParen {
			return nil, p.errorf(closing, "expected ')'")
		}
		return &ParenNode{Space: tok.Space, Inner: inner, CloseSpace: closing.Space}, nil
	case TokenEOF:
		return nil, p.errorf(tok, "unexpected end of formula")
	}
	return nil, p.errorf(tok, "unexpected token: %s", tok.Value)
}

func (p *Parser) parseFunctionCall(name Token) (Node, error) {
	if open := p.advance(); open.Type != TokenLeftParen {
		return nil, p.errorf(open, "expected '(' after %s", name.Value)
	}
	fn := &FunctionNode{Space: name.Space, Name: name.Value}
	if p.peek().Type == TokenRightParen {
		fn.CloseSpace = p.advance().Space
		return fn, p.checkArity(name, fn)
	}
	for {
		var arg Node
		if t := p.peek(); t.Type == TokenComma || t.Type == TokenRightParen {
			arg = &MissingArgNode{}
		} else {
			var err error
			if arg, err = p.parseComparison(); err != nil {
				return nil, err
			}
		}
		fn.Args = append(fn.Args, arg)

		tok := p.advance()
		switch tok.Type {
		case TokenComma:
			fn.CommaSpace = append(fn.CommaSpace, tok.Space)
		case TokenRightParen:
			fn.CloseSpace = tok.Space
			return fn, p.checkArity(name, fn)
		default:
			return nil, p.errorf(tok, "expected ',' or ')' in call to %s", name.Value)
		}
	}
}

func (p *Parser) checkArity(name Token, fn *FunctionNode) error {
	if p.ctx.Functions == nil {
		return nil
	}
	def, ok := p.ctx.Functions.Lookup(fn.Name)
	if !ok {
		return nil
	}
	n := len(fn.Args)
	if n < def.MinArgs {
		return p.errorf(name, "too few arguments to function %s: expected at least %d, got %d", fn.Name, def.MinArgs, n)
	}
	if def.MaxArgs >= 0 && n > def.MaxArgs {
		return p.errorf(name, "too many arguments to function %s: expected at most %d, got %d", fn.Name, def.MaxArgs, n)
	}
	return nil
}

// splitRefText separates "prefix!body". the prefix may be quoted.
func splitRefText(raw string) (prefix, body string, hasPrefix bool) {
	if strings.HasPrefix(raw, "'") {
		for i := 1; i < len(raw); i++ {
			if raw[i] != '\'' {
				continue
			}
			if i+1 < len(raw) && raw[i+1] == '\'' {
				i++
				continue
			}
			if i+1 < len(raw) && raw[i+1] == '!' {
				return raw[:i+1], raw[i+2:], true
			}
			break
		}
		return "", raw, false
	}
	prefix, body, hasPrefix = strings.Cut(raw, "!")
	if !hasPrefix {
		return "", raw, false
	}
	return prefix, body, true
}

func (p *Parser) parseReference(tok Token) (Node, error) {
	limits := p.ctx.Limits
	prefix, body, hasPrefix := splitRefText(tok.Value)
	if !hasPrefix {
		ref, ok := parseRefBody(body, limits)
		if !ok {
			return nil, p.errorf(tok, "invalid reference: %s", tok.Value)
		}
		return &RefNode{Space: tok.Space, Ref: ref}, nil
	}

	book, first, last, err := splitSheetPrefix(prefix)
	if err != nil {
		return nil, p.errorf(tok, "%v", err)
	}
	if strings.EqualFold(last, first) {
		last = ""
	}

	if strings.EqualFold(body, "#REF!") {
		if book != "" || last != "" {
			return nil, p.errorf(tok, "unsupported reference: %s", tok.Value)
		}
		sheet, err := p.resolveSheet(tok, first)
		if err != nil {
			return nil, err
		}
		return &RefErrorNode{Space: tok.Space, Sheet: sheet}, nil
	}

	inner, isRef := parseRefBody(body, limits)
	if book != "" {
		if !isRef {
			if first != "" {
				return nil, p.errorf(tok, "sheet-scoped external names are not supported: %s", tok.Value)
			}
			inner = NameRef{Name: body}
		} else if first == "" {
			return nil, p.errorf(tok, "external reference needs a sheet name: %s", tok.Value)
		}
		return &RefNode{Space: tok.Space, Ref: ExternalRef{Workbook: book, FirstSheet: first, LastSheet: last, Inner: inner}}, nil
	}
	if !isRef {
		return nil, p.errorf(tok, "sheet-scoped names are not supported: %s", tok.Value)
	}

	firstID, err := p.resolveSheet(tok, first)
	if err != nil {
		return nil, err
	}
	if last != "" {
		lastID, err := p.resolveSheet(tok, last)
		if err != nil {
			return nil, err
		}
		return &RefNode{Space: tok.Space, Ref: Range3DRef{FirstSheet: firstID, LastSheet: lastID, Inner: inner}}, nil
	}
	switch r := inner.(type) {
	case CellRef:
		r.Sheet = firstID
		inner = r
	case AreaRef:
		r.Sheet = firstID
		inner = r
	}
	return &RefNode{Space: tok.Space, Ref: inner}, nil
}

func (p *Parser) resolveSheet(tok Token, name string) (SheetID, error) {
	if p.ctx.Sheets == nil {
		return 0, p.errorf(tok, "no sheets to resolve %q against", name)
	}
	if id, ok := p.ctx.Sheets.SheetID(name); ok {
		return id, nil
	}
	if interner, ok := p.ctx.Sheets.(SheetInterner); ok {
		return interner.InternSheet(name), nil
	}
	return 0, p.errorf(tok, "unknown sheet: %s", name)
}
