package formula

import (
	"strings"
	"unicode"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenBoolean
	TokenErrorLiteral
	TokenReference
	TokenName
	TokenFunction
	TokenUnaryPrefixOp
	TokenUnaryPostfixOp
	TokenBinaryOp
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenError
)

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

var binaryOpText = map[BinaryOp]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

func (op BinaryOp) String() string { return binaryOpText[op] }

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

func (op UnaryOp) String() string {
	switch op {
	case UnaryOpPlus:
		return "+"
	case UnaryOpMinus:
		return "-"
	}
	return "%"
}

// character classification constants. slightly easier to read.
const (
	charTab        = '\t'
	charNewline    = '\n'
	charReturn     = '\r'
	charSpace      = ' '
	charQuote      = '"'
	charApostrophe = '\''
	charPercent    = '%'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
	charExclaim    = '!'
	charDollar     = '$'
	charHash       = '#'
	charLBracket   = '['
	charRBracket   = ']'
	charBackslash  = '\\'
)

// Token represents a lexical token with position information. Space holds
// the whitespace that preceded the token so it can be written back out.
type Token struct {
	Type  TokenType
	Value string
	Pos   int // rune position in input
	Space string
}

// TokenState represents the lexer state for validation
type TokenState int

const (
	StateStart TokenState = iota
	StateAfterValue
	StateAfterOperator
	StateAfterLeftParen
	StateAfterRightParen
	StateAfterComma
	StateAfterFunction
)

var valueTokens = map[TokenType]bool{
	TokenNumber:        true,
	TokenString:        true,
	TokenBoolean:       true,
	TokenErrorLiteral:  true,
	TokenReference:     true,
	TokenName:          true,
	TokenFunction:      true,
	TokenLeftParen:     true,
	TokenUnaryPrefixOp: true,
}

// tokenTransitions maps the current state to valid next token types
var tokenTransitions = map[TokenState]map[TokenType]bool{
	StateStart:         valueTokens,
	StateAfterOperator: valueTokens,
	StateAfterValue: {
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true,
		TokenRightParen:     true,
		TokenComma:          true,
		TokenEOF:            true,
	},
	StateAfterRightParen: {
		TokenBinaryOp:       true,
		TokenUnaryPostfixOp: true,
		TokenRightParen:     true,
		TokenComma:          true,
		TokenEOF:            true,
	},
	StateAfterFunction: {
		TokenLeftParen: true,
	},
	// empty arguments are allowed, so a comma or closing paren may follow
	// an opening paren or a comma directly
	StateAfterLeftParen: withTokens(valueTokens, TokenRightParen, TokenComma),
	StateAfterComma:     withTokens(valueTokens, TokenRightParen, TokenComma),
}

func withTokens(base map[TokenType]bool, extra ...TokenType) map[TokenType]bool {
	out := make(map[TokenType]bool, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for _, t := range extra {
		out[t] = true
	}
	return out
}

// Lexer tokenizes spreadsheet formula expressions
type Lexer struct {
	runes      []rune // UTF-8 aware representation
	pos        int
	state      TokenState
	parenDepth int
	tokens     []Token
}

// NewLexer creates a new lexer for the given formula input. a leading '='
// is skipped.
func NewLexer(input string) *Lexer {
	runes := []rune(input)
	pos := 0
	if len(runes) > 0 && runes[0] == charEqual {
		pos = 1
	}
	return &Lexer{
		runes: runes,
		pos:   pos,
		state: StateStart,
	}
}

// Tokenize tokenizes the entire input. the last token is always TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	for {
		space := l.scanWhitespace()
		tok := l.nextToken()
		tok.Space = space
		if tok.Type == TokenError {
			return nil, &ParseError{Pos: tok.Pos, Msg: tok.Value}
		}
		if !l.validateTransition(tok.Type) {
			if tok.Type == TokenEOF {
				return nil, &ParseError{Pos: tok.Pos, Msg: "unexpected end of formula"}
			}
			return nil, &ParseError{Pos: tok.Pos, Msg: "unexpected token: " + tok.Value}
		}
		l.tokens = append(l.tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
		l.updateState(tok.Type)
	}

	if l.parenDepth > 0 {
		return nil, &ParseError{Pos: l.pos, Msg: "unbalanced parentheses: missing closing parenthesis"}
	}
	return l.tokens, nil
}

// validateTransition checks if the token type is valid in current state
func (l *Lexer) validateTransition(tokenType TokenType) bool {
	return tokenTransitions[l.state][tokenType]
}

// updateState updates the lexer state based on the token type
func (l *Lexer) updateState(tokenType TokenType) {
	switch tokenType {
	case TokenNumber, TokenString, TokenBoolean, TokenErrorLiteral, TokenReference, TokenName:
		l.state = StateAfterValue
	case TokenUnaryPrefixOp, TokenBinaryOp:
		l.state = StateAfterOperator
	case TokenUnaryPostfixOp:
		// postfix operators don't change state
	case TokenLeftParen:
		l.state = StateAfterLeftParen
	case TokenRightParen:
		l.state = StateAfterRightParen
	case TokenComma:
		l.state = StateAfterComma
	case TokenFunction:
		l.state = StateAfterFunction
	}
}

// scanWhitespace consumes and returns the whitespace run at the cursor.
func (l *Lexer) scanWhitespace() string {
	start := l.pos
	for l.pos < len(l.runes) {
		switch l.runes[l.pos] {
		case charSpace, charTab, charNewline, charReturn:
			l.pos++
			continue
		}
		break
	}
	return string(l.runes[start:l.pos])
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() Token {
	if l.pos >= len(l.runes) {
		return Token{Type: TokenEOF, Pos: l.pos}
	}

	startPos := l.pos
	ch := l.current()

	switch ch {
	case charQuote:
		return l.scanString()
	case charHash:
		return l.scanErrorLiteral()
	case charLParen:
		l.pos++
		l.parenDepth++
		return Token{Type: TokenLeftParen, Value: "(", Pos: startPos}
	case charRParen:
		l.pos++
		l.parenDepth--
		if l.parenDepth < 0 {
			return Token{Type: TokenError, Value: "unexpected closing parenthesis", Pos: startPos}
		}
		return Token{Type: TokenRightParen, Value: ")", Pos: startPos}
	case charComma:
		l.pos++
		return Token{Type: TokenComma, Value: ",", Pos: startPos}
	case charPlus, charMinus:
		l.pos++
		if l.isUnaryContext() {
			return Token{Type: TokenUnaryPrefixOp, Value: string(ch), Pos: startPos}
		}
		return Token{Type: TokenBinaryOp, Value: string(ch), Pos: startPos}
	case charAsterisk, charSlash, charCaret, charAmpersand, charEqual, charLess, charGreater:
		return l.scanBinaryOp()
	case charPercent:
		l.pos++
		return Token{Type: TokenUnaryPostfixOp, Value: "%", Pos: startPos}
	}

	// references with a sheet or workbook prefix, and row spans like 1:3
	if tok, ok := l.scanReference(); ok {
		return tok
	}

	if l.isDigit(ch) || (ch == charPeriod && l.isDigit(l.peek(1))) {
		return l.scanNumber()
	}

	if l.isNameStart(ch) || ch == charDollar {
		return l.scanIdentifier()
	}

	l.pos++
	return Token{Type: TokenError, Value: "unexpected character: " + string(ch), Pos: startPos}
}

// helper methods for character navigation and classification

func (l *Lexer) current() rune {
	return l.peek(0)
}

func (l *Lexer) peek(offset int) rune {
	if l.pos+offset >= len(l.runes) || l.pos+offset < 0 {
		return 0
	}
	return l.runes[l.pos+offset]
}

func (l *Lexer) isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func (l *Lexer) isNameStart(ch rune) bool {
	return unicode.IsLetter(ch) || ch == charUnderscore || ch == charBackslash
}

func (l *Lexer) isNameChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == charUnderscore || ch == charPeriod || ch == charBackslash
}

// isUnaryContext reports whether +/- at the cursor is a sign rather than a
// binary operator.
func (l *Lexer) isUnaryContext() bool {
	switch l.state {
	case StateAfterValue, StateAfterRightParen:
		return false
	}
	return true
}

func (l *Lexer) scanNumber() Token {
	start := l.pos
	for l.isDigit(l.current()) {
		l.pos++
	}
	if l.current() == charPeriod {
		l.pos++
		for l.isDigit(l.current()) {
			l.pos++
		}
	}
	if c := l.current(); c == 'e' || c == 'E' {
		save := l.pos
		l.pos++
		if c := l.current(); c == charPlus || c == charMinus {
			l.pos++
		}
		if !l.isDigit(l.current()) {
			l.pos = save
			return Token{Type: TokenError, Value: "malformed number exponent", Pos: start}
		}
		for l.isDigit(l.current()) {
			l.pos++
		}
	}
	if l.isNameChar(l.current()) {
		return Token{Type: TokenError, Value: "unexpected character after number: " + string(l.current()), Pos: l.pos}
	}
	return Token{Type: TokenNumber, Value: string(l.runes[start:l.pos]), Pos: start}
}

// scanString reads a double-quoted literal. a doubled quote is an escaped
// quote; newlines and tabs are kept as they are.
func (l *Lexer) scanString() Token {
	start := l.pos
	l.pos++ // skip opening quote
	var sb strings.Builder
	for l.pos < len(l.runes) {
		ch := l.runes[l.pos]
		if ch == charQuote {
			if l.peek(1) == charQuote {
				sb.WriteRune(charQuote)
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: TokenString, Value: sb.String(), Pos: start}
		}
		sb.WriteRune(ch)
		l.pos++
	}
	return Token{Type: TokenError, Value: "unclosed string literal", Pos: start}
}

func (l *Lexer) scanErrorLiteral() Token {
	start := l.pos
	rest := string(l.runes[l.pos:])
	for code, text := range ErrorMapper {
		if code == ErrorCodeCircular || len(rest) < len(text) {
			continue
		}
		if strings.EqualFold(rest[:len(text)], text) {
			l.pos += len([]rune(text))
			return Token{Type: TokenErrorLiteral, Value: text, Pos: start}
		}
	}
	l.pos++
	return Token{Type: TokenError, Value: "unknown error literal", Pos: start}
}

func (l *Lexer) scanBinaryOp() Token {
	start := l.pos
	ch := l.current()
	l.pos++
	switch ch {
	case charLess:
		if l.current() == charEqual || l.current() == charGreater {
			l.pos++
		}
	case charGreater:
		if l.current() == charEqual {
			l.pos++
		}
	}
	return Token{Type: TokenBinaryOp, Value: string(l.runes[start:l.pos]), Pos: start}
}

// scanIdentifier reads a function name, boolean or defined name. cell
// references without a prefix are also recognized here.
func (l *Lexer) scanIdentifier() Token {
	start := l.pos
	for l.isNameChar(l.current()) || l.current() == charDollar {
		l.pos++
	}
	word := string(l.runes[start:l.pos])

	if l.current() == charLParen && !strings.Contains(word, "$") {
		return Token{Type: TokenFunction, Value: word, Pos: start}
	}

	// a cell, or the first half of an area such as A1:B2 or A:C
	if end, ok := l.matchRefBody(start); ok {
		l.pos = end
		return Token{Type: TokenReference, Value: string(l.runes[start:end]), Pos: start}
	}

	if strings.Contains(word, "$") {
		return Token{Type: TokenError, Value: "invalid reference: " + word, Pos: start}
	}
	switch strings.ToUpper(word) {
	case "TRUE", "FALSE":
		return Token{Type: TokenBoolean, Value: word, Pos: start}
	}
	return Token{Type: TokenName, Value: word, Pos: start}
}

// scanReference recognizes a reference that starts with a sheet or workbook
// prefix ("Sheet1!A1", "'My Sheet'!A1", "[1]Data!B2", "S1:S3!A1") or a row
// span starting with a digit ("1:3"). the cursor is left untouched when
// nothing matches.
func (l *Lexer) scanReference() (Token, bool) {
	start := l.pos
	prefixEnd, ok := l.matchSheetPrefix(start)
	if !ok {
		if l.isDigit(l.current()) || (l.current() == charDollar && l.isDigit(l.peek(1))) {
			if end, ok := l.matchRefBody(start); ok {
				l.pos = end
				return Token{Type: TokenReference, Value: string(l.runes[start:end]), Pos: start}, true
			}
		}
		return Token{}, false
	}

	bodyStart := prefixEnd
	if end, ok := l.matchRefBody(bodyStart); ok {
		l.pos = end
		return Token{Type: TokenReference, Value: string(l.runes[start:end]), Pos: start}, true
	}
	// Sheet1!#REF! keeps its sheet after the reference was invalidated
	if strings.HasPrefix(strings.ToUpper(string(l.runes[bodyStart:])), "#REF!") {
		l.pos = bodyStart + len("#REF!")
		return Token{Type: TokenReference, Value: string(l.runes[start:l.pos]), Pos: start}, true
	}
	// [1]!Name
	end := bodyStart
	for end < len(l.runes) && l.isNameChar(l.runes[end]) {
		end++
	}
	if end > bodyStart {
		l.pos = end
		return Token{Type: TokenReference, Value: string(l.runes[start:end]), Pos: start}, true
	}
	if l.runes[start] == charApostrophe || l.runes[start] == charLBracket {
		l.pos = bodyStart
		return Token{Type: TokenError, Value: "expected reference after sheet name", Pos: bodyStart}, true
	}
	return Token{}, false
}

// matchSheetPrefix returns the position just after the '!' that ends a
// sheet prefix starting at start.
func (l *Lexer) matchSheetPrefix(start int) (int, bool) {
	i := start
	n := len(l.runes)
	if i >= n {
		return 0, false
	}
	if l.runes[i] == charApostrophe {
		i++
		for i < n {
			if l.runes[i] == charApostrophe {
				if i+1 < n && l.runes[i+1] == charApostrophe {
					i += 2
					continue
				}
				break
			}
			i++
		}
		if i >= n {
			return 0, false
		}
		i++ // closing quote
		if i < n && l.runes[i] == charExclaim {
			return i + 1, true
		}
		return 0, false
	}
	if l.runes[i] == charLBracket {
		for i < n && l.runes[i] != charRBracket {
			i++
		}
		if i >= n {
			return 0, false
		}
		i++
	}
	for part := 0; part < 2; part++ {
		for i < n && l.isNameChar(l.runes[i]) {
			i++
		}
		if part == 0 && i < n && l.runes[i] == charColon {
			i++
			continue
		}
		break
	}
	if i < n && l.runes[i] == charExclaim && i > start {
		return i + 1, true
	}
	return 0, false
}

// matchRefBody matches a cell, area, column span or row span starting at
// start and returns where it ends. a match that runs into further name
// characters or an opening paren is rejected.
func (l *Lexer) matchRefBody(start int) (int, bool) {
	best := -1
	n := len(l.runes)
	end := start
	for end < n && (l.isRefChar(l.runes[end]) || l.runes[end] == charColon) {
		end++
	}
	// try the longest candidate first, then fall back to a single cell
	candidate := string(l.runes[start:end])
	for len(candidate) > 0 {
		if _, ok := parseRefBody(candidate, Excel2007); ok {
			best = start + len([]rune(candidate))
			break
		}
		cut := strings.LastIndexByte(candidate, charColon)
		if cut < 0 {
			break
		}
		candidate = candidate[:cut]
	}
	if best < 0 {
		return 0, false
	}
	if best < n {
		next := l.runes[best]
		if l.isNameChar(next) || next == charLParen || next == charDollar || next == charExclaim {
			return 0, false
		}
	}
	return best, true
}

func (l *Lexer) isRefChar(ch rune) bool {
	return ch == charDollar || (ch < unicode.MaxASCII && (l.isDigit(ch) || isLetterByte(byte(ch))))
}
