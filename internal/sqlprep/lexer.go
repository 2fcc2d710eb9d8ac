package sqlprep

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType is the lexical category of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError
	TokenIdent
	TokenQuotedIdent
	TokenKeyword
	TokenNumber
	TokenString
	TokenOperator
	TokenComma
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenDot
	TokenSemicolon
	TokenLBrace
	TokenRBrace
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenError:
		return "ERROR"
	case TokenIdent:
		return "IDENT"
	case TokenQuotedIdent:
		return "QUOTED_IDENT"
	case TokenKeyword:
		return "KEYWORD"
	case TokenNumber:
		return "NUMBER"
	case TokenString:
		return "STRING"
	case TokenOperator:
		return "OPERATOR"
	case TokenComma:
		return ","
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	case TokenLBracket:
		return "["
	case TokenRBracket:
		return "]"
	case TokenDot:
		return "."
	case TokenSemicolon:
		return ";"
	case TokenLBrace:
		return "{"
	case TokenRBrace:
		return "}"
	default:
		return "UNKNOWN"
	}
}

// Token is a lexical token. Literal holds the source text, except for
// keywords which are upper-cased.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int

	// source is the keyword as written.
	source string
}

func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d}", t.Type, t.Literal, t.Pos)
}

func (t Token) is(keyword string) bool {
	return t.Type == TokenKeyword && t.Literal == keyword
}

// keywords are rendered upper-case. Function names such as count or
// read_parquet stay identifiers and keep their spelling.
var keywords = map[string]struct{}{
	"ALL": {}, "ALTER": {}, "AND": {}, "ANTI": {}, "AS": {}, "ASC": {}, "ATTACH": {},
	"BEGIN": {}, "BETWEEN": {}, "BY": {}, "CALL": {}, "CASE": {}, "CAST": {},
	"CHECKPOINT": {}, "COMMIT": {}, "COPY": {}, "CREATE": {}, "CROSS": {},
	"DELETE": {}, "DESC": {}, "DESCRIBE": {}, "DETACH": {}, "DISTINCT": {},
	"DROP": {}, "ELSE": {}, "END": {}, "EXCEPT": {}, "EXISTS": {}, "EXPLAIN": {},
	"EXPORT": {}, "FALSE": {}, "FETCH": {}, "FILTER": {}, "FIRST": {}, "FROM": {},
	"FULL": {}, "GLOB": {}, "GRANT": {}, "GROUP": {}, "HAVING": {}, "ILIKE": {}, "IMPORT": {},
	"IN": {}, "INNER": {}, "INSERT": {}, "INSTALL": {}, "INTERSECT": {},
	"INTERVAL": {}, "INTO": {}, "IS": {}, "JOIN": {}, "LAST": {}, "LATERAL": {},
	"LEFT": {}, "LIKE": {}, "LIMIT": {}, "LOAD": {}, "MATERIALIZED": {},
	"MERGE": {}, "NATURAL": {}, "NEXT": {}, "NOT": {}, "NULL": {}, "NULLS": {},
	"OFFSET": {}, "ON": {}, "ONLY": {}, "OR": {}, "ORDER": {}, "OUTER": {},
	"OVER": {}, "PARTITION": {}, "PRAGMA": {}, "QUALIFY": {}, "RANGE": {},
	"RECURSIVE": {}, "REPLACE": {}, "REVOKE": {}, "RIGHT": {}, "ROLLBACK": {},
	"ROW": {}, "ROWS": {}, "SELECT": {}, "SEMI": {}, "SET": {}, "SHOW": {},
	"SIMILAR": {}, "THEN": {}, "TRUE": {}, "TRUNCATE": {}, "TRY_CAST": {},
	"UNION": {}, "UNNEST": {}, "UPDATE": {}, "USE": {}, "USING": {}, "VACUUM": {},
	"VALUES": {}, "WHEN": {}, "WHERE": {}, "WINDOW": {}, "WITH": {},
}

// Lexer tokenizes SQL input. Comments are skipped.
type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// peekAt returns the byte offset bytes after the current one.
func (l *Lexer) peekAt(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) atEnd() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEnd() {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for !l.atEnd() && l.ch != '\n' {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for !l.atEnd() && !(l.ch == '*' && l.peekChar() == '/') {
				l.readChar()
			}
			if !l.atEnd() {
				l.readChar()
				l.readChar()
			}
		default:
			return
		}
	}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	start := l.pos
	if l.atEnd() {
		return Token{Type: TokenEOF, Pos: start}
	}

	switch l.ch {
	case '\'':
		return l.readQuoted('\'', TokenString)
	case '"':
		return l.readQuoted('"', TokenQuotedIdent)
	case '`':
		return l.readQuoted('`', TokenQuotedIdent)
	case ',':
		return l.single(TokenComma)
	case '(':
		return l.single(TokenLParen)
	case ')':
		return l.single(TokenRParen)
	case '[':
		return l.single(TokenLBracket)
	case ']':
		return l.single(TokenRBracket)
	case '{':
		return l.single(TokenLBrace)
	case '}':
		return l.single(TokenRBrace)
	case ';':
		return l.single(TokenSemicolon)
	case '.':
		if isDigit(l.peekChar()) {
			return l.readNumber()
		}
		return l.single(TokenDot)
	case '<':
		if next := l.peekChar(); next == '=' || next == '>' || next == '<' || next == '@' {
			return l.double(TokenOperator)
		}
		return l.single(TokenOperator)
	case '>':
		if next := l.peekChar(); next == '=' || next == '>' {
			return l.double(TokenOperator)
		}
		return l.single(TokenOperator)
	case '-':
		if l.peekChar() == '>' {
			if l.peekAt(2) == '>' {
				return l.operator(3)
			}
			return l.double(TokenOperator)
		}
		return l.single(TokenOperator)
	case '!':
		if l.peekChar() == '=' {
			return l.double(TokenOperator)
		}
		if l.peekChar() == '~' && l.peekAt(2) == '~' {
			return l.operator(3)
		}
		return l.single(TokenError)
	case '|':
		if l.peekChar() == '|' {
			return l.double(TokenOperator)
		}
		return l.single(TokenOperator)
	case '&':
		if l.peekChar() == '&' {
			return l.double(TokenOperator)
		}
		return l.single(TokenOperator)
	case '@':
		if l.peekChar() == '>' {
			return l.double(TokenOperator)
		}
		return l.single(TokenOperator)
	case '~':
		if l.peekChar() == '~' {
			return l.double(TokenOperator)
		}
		return l.single(TokenOperator)
	case ':':
		if next := l.peekChar(); next == ':' || next == '=' {
			return l.double(TokenOperator)
		}
		return l.single(TokenOperator)
	case '=':
		if next := l.peekChar(); next == '=' || next == '>' {
			return l.double(TokenOperator)
		}
		return l.single(TokenOperator)
	case '/':
		if l.peekChar() == '/' {
			return l.double(TokenOperator)
		}
		return l.single(TokenOperator)
	case '+', '*', '%', '^':
		return l.single(TokenOperator)
	}

	if isLetter(l.ch) || l.ch == '_' {
		return l.readIdentifier()
	}
	if isDigit(l.ch) {
		return l.readNumber()
	}
	return l.single(TokenError)
}

func (l *Lexer) single(t TokenType) Token {
	tok := Token{Type: t, Literal: string(l.ch), Pos: l.pos}
	l.readChar()
	return tok
}

func (l *Lexer) double(t TokenType) Token {
	start := l.pos
	l.readChar()
	l.readChar()
	return Token{Type: t, Literal: l.input[start:l.pos], Pos: start}
}

func (l *Lexer) operator(width int) Token {
	start := l.pos
	for i := 0; i < width; i++ {
		l.readChar()
	}
	return Token{Type: TokenOperator, Literal: l.input[start:l.pos], Pos: start}
}

func (l *Lexer) readIdentifier() Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
		l.readChar()
	}
	literal := l.input[start:l.pos]
	upper := strings.ToUpper(literal)
	if _, ok := keywords[upper]; ok {
		return Token{Type: TokenKeyword, Literal: upper, Pos: start, source: literal}
	}
	return Token{Type: TokenIdent, Literal: literal, Pos: start}
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	seenDot := false
	for isDigit(l.ch) || (l.ch == '.' && !seenDot) {
		if l.ch == '.' {
			seenDot = true
		}
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			for isDigit(l.ch) {
				l.readChar()
			}
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start}
}

// readQuoted reads a quoted literal including its delimiters. A doubled
// delimiter inside the literal is an escaped quote.
func (l *Lexer) readQuoted(quote byte, t TokenType) Token {
	start := l.pos
	l.readChar()
	for {
		if l.atEnd() {
			return Token{Type: TokenError, Literal: "unterminated quoted literal", Pos: start}
		}
		if l.ch == quote {
			if l.peekChar() == quote {
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar()
			break
		}
		l.readChar()
	}
	return Token{Type: t, Literal: l.input[start:l.pos], Pos: start}
}

// Tokenize returns all tokens up to and including EOF, or stops at the first
// error token.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}

func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
