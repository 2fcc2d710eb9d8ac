package sqlprep

import (
	"fmt"
	"strings"

	"github.com/lakequery/lakequery/internal/failure"
)

// statementKeywords open statements that are valid SQL but never queries.
var statementKeywords = map[string]struct{}{
	"ALTER": {}, "ATTACH": {}, "BEGIN": {}, "CALL": {}, "CHECKPOINT": {}, "COMMIT": {},
	"COPY": {}, "CREATE": {}, "DELETE": {}, "DESCRIBE": {}, "DETACH": {}, "DROP": {},
	"EXPLAIN": {}, "EXPORT": {}, "GRANT": {}, "IMPORT": {}, "INSERT": {}, "INSTALL": {},
	"LOAD": {}, "MERGE": {}, "PRAGMA": {}, "REPLACE": {}, "REVOKE": {}, "ROLLBACK": {},
	"SET": {}, "SHOW": {}, "TRUNCATE": {}, "UPDATE": {}, "USE": {}, "VACUUM": {},
}

// reservedKeywords cannot be used as names. Other keywords can, and are
// rendered as written when they are.
var reservedKeywords = map[string]struct{}{
	"ALL": {}, "AND": {}, "ANTI": {}, "AS": {}, "ASC": {}, "BETWEEN": {}, "BY": {},
	"CASE": {}, "CAST": {}, "CROSS": {}, "DESC": {}, "DISTINCT": {}, "ELSE": {},
	"END": {}, "EXCEPT": {}, "EXISTS": {}, "FALSE": {}, "FETCH": {}, "FILTER": {},
	"FROM": {}, "FULL": {}, "GLOB": {}, "GROUP": {}, "HAVING": {}, "ILIKE": {},
	"IN": {}, "INNER": {}, "INTERSECT": {}, "INTERVAL": {}, "INTO": {}, "IS": {},
	"JOIN": {}, "LATERAL": {}, "LEFT": {}, "LIKE": {}, "LIMIT": {}, "NATURAL": {},
	"NOT": {}, "NULL": {}, "OFFSET": {}, "ON": {}, "OR": {}, "ORDER": {}, "OUTER": {},
	"OVER": {}, "QUALIFY": {}, "RIGHT": {}, "SELECT": {}, "SEMI": {}, "SIMILAR": {},
	"THEN": {}, "TRUE": {}, "TRY_CAST": {}, "UNION": {}, "UNNEST": {}, "USING": {},
	"VALUES": {}, "WHEN": {}, "WHERE": {}, "WINDOW": {}, "WITH": {},
}

// callableKeywords are reserved but also name functions.
var callableKeywords = map[string]struct{}{
	"LEFT": {}, "RIGHT": {}, "UNNEST": {},
}

// lenientFunctions take keyword separated arguments; only their brackets
// are checked.
var lenientFunctions = map[string]struct{}{
	"extract": {}, "substring": {}, "trim": {}, "position": {}, "overlay": {},
}

var typedLiteralNames = map[string]struct{}{
	"date": {}, "time": {}, "timestamp": {}, "timestamptz": {},
}

var intervalUnits = map[string]struct{}{
	"year": {}, "years": {}, "month": {}, "months": {}, "week": {}, "weeks": {},
	"day": {}, "days": {}, "hour": {}, "hours": {}, "minute": {}, "minutes": {},
	"second": {}, "seconds": {}, "millisecond": {}, "milliseconds": {},
	"microsecond": {}, "microseconds": {}, "quarter": {}, "quarters": {},
	"decade": {}, "decades": {}, "century": {}, "centuries": {},
}

// statement is the first statement of the input with the facts the
// preparer needs about its shape.
type statement struct {
	tokens []Token

	tableRef  string
	tableErr  string
	seenFrom  bool
	setOp     bool
	hasLimit  bool
	hasOffset bool
	// limitAt is the token index a LIMIT clause is inserted at.
	limitAt int
}

// parser reads one token slice. Nested groups are read by child parsers
// over sub-slices of the same tokens.
type parser struct {
	tokens []Token
	pos    int
	end    int
}

// parseStatement lexes input, keeps the tokens of the first statement and
// parses it.
func parseStatement(input string) (*statement, error) {
	tokens := NewLexer(input).Tokenize()
	last := tokens[len(tokens)-1]
	if last.Type == TokenError {
		return nil, parseErr(fmt.Sprintf("%s at position %d", last.Literal, last.Pos))
	}

	first, err := firstStatement(tokens[:len(tokens)-1])
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, failure.Semantic(failure.CodeUnsupportedQueryType, "query contains no statement", nil)
	}

	st := &statement{tokens: first, limitAt: len(first)}
	p := &parser{tokens: first, end: last.Pos}
	if err := p.parseQuery(st); err != nil {
		return nil, err
	}
	return st, nil
}

// firstStatement returns the tokens before the first top-level semicolon and
// checks that brackets balance within them.
func firstStatement(tokens []Token) ([]Token, error) {
	var open []Token
	for i, tok := range tokens {
		switch tok.Type {
		case TokenLParen, TokenLBracket, TokenLBrace:
			open = append(open, tok)
		case TokenRParen, TokenRBracket, TokenRBrace:
			if len(open) == 0 || closerOf(open[len(open)-1].Type) != tok.Type {
				return nil, parseErr(fmt.Sprintf("unexpected %s at position %d", tok.Literal, tok.Pos))
			}
			open = open[:len(open)-1]
		case TokenSemicolon:
			if len(open) == 0 {
				return tokens[:i], nil
			}
		}
	}
	if len(open) != 0 {
		return nil, parseErr(fmt.Sprintf("unclosed %s at position %d", open[0].Literal, open[0].Pos))
	}
	return tokens, nil
}

func closerOf(t TokenType) TokenType {
	switch t {
	case TokenLParen:
		return TokenRParen
	case TokenLBracket:
		return TokenRBracket
	default:
		return TokenRBrace
	}
}

func (p *parser) cur() Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return Token{Type: TokenEOF, Pos: p.end}
}

func (p *parser) peek() Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return Token{Type: TokenEOF, Pos: p.end}
}

func (p *parser) next() {
	if p.pos < len(p.tokens) {
		p.pos++
	}
}

func (p *parser) atEOF() bool {
	return p.pos >= len(p.tokens)
}

func (p *parser) expectKeyword(keyword string) error {
	if !p.cur().is(keyword) {
		return p.unexpected(keyword)
	}
	p.next()
	return nil
}

func (p *parser) expectEOF(what string) error {
	if !p.atEOF() {
		return p.unexpected(what)
	}
	return nil
}

func (p *parser) unexpected(expected string) error {
	tok := p.cur()
	found := tok.Literal
	if tok.Type == TokenEOF {
		found = "EOF"
	}
	return parseErr(fmt.Sprintf("expected %s, found %s at position %d", expected, found, tok.Pos))
}

// group consumes the bracketed group at the current position and returns a
// parser over its inner tokens.
func (p *parser) group() *parser {
	open := p.cur()
	depth := 0
	start := p.pos + 1
	for p.pos < len(p.tokens) {
		switch p.tokens[p.pos].Type {
		case TokenLParen, TokenLBracket, TokenLBrace:
			depth++
		case TokenRParen, TokenRBracket, TokenRBrace:
			depth--
			if depth == 0 {
				inner := &parser{tokens: p.tokens[start:p.pos], end: p.tokens[p.pos].Pos}
				p.pos++
				return inner
			}
		}
		p.pos++
	}
	// Brackets balance by the time a statement is parsed.
	return &parser{tokens: p.tokens[start:], end: open.Pos}
}

// takeName consumes an identifier. A non-reserved keyword used as a name is
// turned into an identifier spelled as written.
func (p *parser) takeName() (Token, bool) {
	tok := p.cur()
	switch {
	case tok.Type == TokenIdent || tok.Type == TokenQuotedIdent:
	case tok.Type == TokenKeyword && !isReserved(tok):
		tok = Token{Type: TokenIdent, Literal: tok.source, Pos: tok.Pos}
		p.tokens[p.pos] = tok
	default:
		return tok, false
	}
	p.next()
	return tok, true
}

func (p *parser) parseQuery(st *statement) error {
	tok := p.cur()
	switch {
	case tok.is("SELECT"):
		return p.parseSelect(st)
	case tok.is("WITH"):
		if err := p.parseCommonTableExpressions(); err != nil {
			return err
		}
		return p.parseQueryBody(st)
	case tok.is("VALUES"), tok.Type == TokenLParen:
		return failure.Semantic(failure.CodeSelectQueryNotFound, "query body is not a plain SELECT", nil)
	case isStatementKeyword(tok):
		return failure.Semantic(failure.CodeUnsupportedQueryType, fmt.Sprintf("%s statements are not allowed", tok.Literal), nil)
	default:
		return p.unexpected("an SQL statement")
	}
}

func (p *parser) parseQueryBody(st *statement) error {
	tok := p.cur()
	switch {
	case tok.is("SELECT"):
		return p.parseSelect(st)
	case tok.is("VALUES"), tok.Type == TokenLParen:
		return failure.Semantic(failure.CodeSelectQueryNotFound, "query body is not a plain SELECT", nil)
	case isStatementKeyword(tok):
		return failure.Semantic(failure.CodeUnsupportedQueryType, fmt.Sprintf("%s statements are not allowed", tok.Literal), nil)
	default:
		return p.unexpected("SELECT")
	}
}

// parseSubquery parses a query nested in parentheses. Its table reference
// and limit are not recorded.
func (p *parser) parseSubquery() error {
	st := &statement{}
	switch tok := p.cur(); {
	case tok.is("WITH"):
		if err := p.parseCommonTableExpressions(); err != nil {
			return err
		}
		if !p.cur().is("SELECT") && !p.cur().is("VALUES") {
			return p.unexpected("SELECT")
		}
		return p.parseSubquery()
	case tok.is("SELECT"):
		return p.parseSelect(st)
	case tok.is("VALUES"):
		return p.parseValues(st)
	case tok.Type == TokenLParen:
		if err := p.group().parseNestedQuery(); err != nil {
			return err
		}
		return p.parseSetOperation(st)
	default:
		return p.unexpected("SELECT")
	}
}

func (p *parser) parseNestedQuery() error {
	if err := p.parseSubquery(); err != nil {
		return err
	}
	return p.expectEOF(")")
}

func startsQuery(tok Token) bool {
	return tok.is("SELECT") || tok.is("WITH") || tok.is("VALUES")
}

func (p *parser) parseValues(st *statement) error {
	p.next()
	for {
		if p.cur().Type != TokenLParen {
			return p.unexpected("(")
		}
		row := p.group()
		if err := row.parseExpressionList(); err != nil {
			return err
		}
		if err := row.expectEOF(")"); err != nil {
			return err
		}
		if p.cur().Type != TokenComma {
			break
		}
		p.next()
	}
	return p.parseTail(st)
}

func (p *parser) parseCommonTableExpressions() error {
	p.next()
	if p.cur().is("RECURSIVE") {
		p.next()
	}
	for {
		if _, ok := p.takeName(); !ok {
			return p.unexpected("common table expression name")
		}
		if p.cur().Type == TokenLParen {
			if err := p.group().parseNameList(); err != nil {
				return err
			}
		}
		if err := p.expectKeyword("AS"); err != nil {
			return err
		}
		if p.cur().is("NOT") {
			p.next()
		}
		if p.cur().is("MATERIALIZED") {
			p.next()
		}
		if p.cur().Type != TokenLParen {
			return p.unexpected("(")
		}
		if err := p.group().parseNestedQuery(); err != nil {
			return err
		}
		if p.cur().Type != TokenComma {
			return nil
		}
		p.next()
	}
}

func (p *parser) parseSelect(st *statement) error {
	p.next()
	switch {
	case p.cur().is("DISTINCT"):
		p.next()
		if p.cur().is("ON") {
			p.next()
			if p.cur().Type != TokenLParen {
				return p.unexpected("(")
			}
			on := p.group()
			if err := on.parseExpressionList(); err != nil {
				return err
			}
			if err := on.expectEOF(")"); err != nil {
				return err
			}
		}
	case p.cur().is("ALL"):
		p.next()
	}

	if err := p.parseSelectList(); err != nil {
		return err
	}

	if p.cur().is("FROM") {
		p.next()
		if err := p.parseFrom(st); err != nil {
			return err
		}
	}
	if p.cur().is("WHERE") {
		p.next()
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	if p.cur().is("GROUP") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		if p.cur().is("ALL") {
			p.next()
		} else if err := p.parseExpressionList(); err != nil {
			return err
		}
	}
	if p.cur().is("HAVING") {
		p.next()
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	if p.cur().is("WINDOW") {
		p.next()
		if err := p.parseWindowDefinitions(); err != nil {
			return err
		}
	}
	if p.cur().is("QUALIFY") {
		p.next()
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	return p.parseSetOperation(st)
}

// parseSetOperation continues a query with UNION, INTERSECT or EXCEPT or
// ends it with its ORDER BY and limit clauses.
func (p *parser) parseSetOperation(st *statement) error {
	tok := p.cur()
	if !tok.is("UNION") && !tok.is("INTERSECT") && !tok.is("EXCEPT") {
		return p.parseTail(st)
	}
	st.setOp = true
	p.next()
	if p.cur().is("ALL") || p.cur().is("DISTINCT") {
		p.next()
	}
	if p.cur().is("BY") {
		p.next()
		if !p.cur().isWord("name") {
			return p.unexpected("NAME")
		}
		p.next()
	}
	switch {
	case p.cur().is("SELECT"):
		return p.parseSelect(st)
	case p.cur().is("VALUES"):
		return p.parseValues(st)
	case p.cur().Type == TokenLParen:
		if err := p.group().parseNestedQuery(); err != nil {
			return err
		}
		return p.parseSetOperation(st)
	default:
		return p.unexpected("SELECT")
	}
}

// parseTail handles ORDER BY, LIMIT, OFFSET and FETCH and requires the
// statement to end afterwards.
func (p *parser) parseTail(st *statement) error {
	if p.cur().is("ORDER") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		if err := p.parseOrderList(); err != nil {
			return err
		}
	}
	for {
		tok := p.cur()
		switch {
		case tok.is("LIMIT"):
			if st.hasLimit {
				return p.unexpected("end of statement")
			}
			st.hasLimit = true
			p.next()
			if p.cur().is("ALL") {
				p.next()
			} else if err := p.parseExpr(); err != nil {
				return err
			}
		case tok.is("OFFSET"):
			if st.hasOffset {
				return p.unexpected("end of statement")
			}
			st.hasOffset = true
			if !st.hasLimit {
				st.limitAt = p.pos
			}
			p.next()
			if err := p.parseExpr(); err != nil {
				return err
			}
			if p.cur().is("ROW") || p.cur().is("ROWS") {
				p.next()
			}
		case tok.is("FETCH"):
			if st.hasLimit {
				return p.unexpected("end of statement")
			}
			st.hasLimit = true
			if err := p.parseFetch(); err != nil {
				return err
			}
		case tok.Type == TokenEOF:
			return nil
		default:
			return p.unexpected("end of statement")
		}
	}
}

// parseFetch reads FETCH {FIRST|NEXT} [count] {ROW|ROWS} ONLY.
func (p *parser) parseFetch() error {
	p.next()
	if !p.cur().is("FIRST") && !p.cur().is("NEXT") {
		return p.unexpected("FIRST or NEXT")
	}
	p.next()
	if !p.cur().is("ROW") && !p.cur().is("ROWS") {
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	if !p.cur().is("ROW") && !p.cur().is("ROWS") {
		return p.unexpected("ROWS")
	}
	p.next()
	return p.expectKeyword("ONLY")
}

func (p *parser) parseOrderList() error {
	if p.cur().is("ALL") {
		p.next()
		return p.parseOrderDirection()
	}
	for {
		if err := p.parseExpr(); err != nil {
			return err
		}
		if err := p.parseOrderDirection(); err != nil {
			return err
		}
		if p.cur().Type != TokenComma {
			return nil
		}
		p.next()
	}
}

func (p *parser) parseOrderDirection() error {
	if p.cur().is("ASC") || p.cur().is("DESC") {
		p.next()
	}
	if p.cur().is("NULLS") {
		p.next()
		if !p.cur().is("FIRST") && !p.cur().is("LAST") {
			return p.unexpected("FIRST or LAST")
		}
		p.next()
	}
	return nil
}

func (p *parser) parseSelectList() error {
	for {
		if err := p.parseSelectItem(); err != nil {
			return err
		}
		if p.cur().Type != TokenComma {
			return nil
		}
		p.next()
	}
}

func (p *parser) parseSelectItem() error {
	if p.starAhead() {
		return p.parseStar()
	}
	if err := p.parseExpr(); err != nil {
		return err
	}
	return p.parseColumnAlias()
}

// starAhead reports whether the current item is * or a qualified name
// ending in .*.
func (p *parser) starAhead() bool {
	i := p.pos
	for i < len(p.tokens) {
		tok := p.tokens[i]
		if tok.Type == TokenOperator && tok.Literal == "*" {
			return true
		}
		if !isNameToken(tok) || i+1 >= len(p.tokens) || p.tokens[i+1].Type != TokenDot {
			return false
		}
		i += 2
	}
	return false
}

// parseStar reads [qualifier.]* with its EXCLUDE, REPLACE and RENAME
// modifiers.
func (p *parser) parseStar() error {
	for !(p.cur().Type == TokenOperator && p.cur().Literal == "*") {
		p.takeName()
		p.next()
	}
	p.next()
	for p.cur().isWord("exclude") || p.cur().is("REPLACE") || p.cur().isWord("rename") {
		p.next()
		if p.cur().Type != TokenLParen {
			return p.unexpected("(")
		}
		if err := p.group().parseStarModifierList(); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseStarModifierList() error {
	for {
		if err := p.parseExpr(); err != nil {
			return err
		}
		if err := p.parseColumnAlias(); err != nil {
			return err
		}
		if p.cur().Type != TokenComma {
			return p.expectEOF(")")
		}
		p.next()
	}
}

// parseColumnAlias reads AS name or a bare identifier alias.
func (p *parser) parseColumnAlias() error {
	if p.cur().is("AS") {
		p.next()
		if _, ok := p.takeName(); !ok {
			return p.unexpected("alias")
		}
		return nil
	}
	if tok := p.cur(); tok.Type == TokenIdent || tok.Type == TokenQuotedIdent {
		p.next()
	}
	return nil
}

// parseFrom records the first table factor of the statement and parses the
// joins and further tables after it.
func (p *parser) parseFrom(st *statement) error {
	first := st
	if st.seenFrom {
		first = nil
	}
	st.seenFrom = true
	if err := p.parseTableFactor(first); err != nil {
		return err
	}
	for {
		switch {
		case p.cur().Type == TokenComma:
			p.next()
			if err := p.parseTableFactor(nil); err != nil {
				return err
			}
		case p.joinAhead():
			if err := p.parseJoin(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// parseTableFactor reads one table, table function, subquery or literal
// with its alias. st, when set, receives the reference.
func (p *parser) parseTableFactor(st *statement) error {
	reject := func(reason string) {
		if st != nil {
			st.tableErr = reason
		}
	}

	tok := p.cur()
	switch {
	case tok.Type == TokenString:
		if st != nil {
			st.tableRef = tok.Literal
		}
		p.next()
	case tok.is("LATERAL"):
		reject("LATERAL is not supported as the first table")
		p.next()
		return p.parseTableFactor(nil)
	case tok.is("UNNEST"):
		reject("UNNEST is not supported as the first table")
		p.next()
		if err := p.parseCallArguments(""); err != nil {
			return err
		}
	case tok.Type == TokenLParen:
		reject("derived tables are not supported as the first table")
		inner := p.group()
		if startsQuery(inner.cur()) || inner.cur().Type == TokenLParen {
			if err := inner.parseNestedQuery(); err != nil {
				return err
			}
		} else {
			if err := inner.parseFrom(&statement{}); err != nil {
				return err
			}
			if err := inner.expectEOF(")"); err != nil {
				return err
			}
		}
	default:
		name, ok := p.takeName()
		if !ok {
			return p.unexpected("table name")
		}
		parts := []string{name.Literal}
		for p.cur().Type == TokenDot {
			p.next()
			part, ok := p.takeName()
			if !ok {
				return p.unexpected("identifier")
			}
			parts = append(parts, part.Literal)
		}
		if p.cur().Type == TokenLParen {
			reject("table functions are not supported as the first table")
			if err := p.parseCallArguments(parts[len(parts)-1]); err != nil {
				return err
			}
		} else if st != nil {
			st.tableRef = strings.Join(parts, ".")
		}
	}
	return p.parseTableAlias()
}

// parseTableAlias consumes an optional [AS] alias [(columns)] after a table.
func (p *parser) parseTableAlias() error {
	if p.cur().is("AS") {
		p.next()
		if _, ok := p.takeName(); !ok {
			return p.unexpected("alias")
		}
	} else if tok := p.cur(); tok.Type == TokenIdent || tok.Type == TokenQuotedIdent {
		if p.joinAhead() {
			return nil
		}
		p.next()
	} else {
		return nil
	}
	if p.cur().Type == TokenLParen {
		return p.group().parseNameList()
	}
	return nil
}

func (p *parser) joinAhead() bool {
	tok := p.cur()
	switch {
	case tok.is("JOIN"), tok.is("INNER"), tok.is("LEFT"), tok.is("RIGHT"), tok.is("FULL"),
		tok.is("CROSS"), tok.is("NATURAL"), tok.is("SEMI"), tok.is("ANTI"):
		return true
	case tok.isWord("asof"), tok.isWord("positional"):
		next := p.peek()
		return next.is("JOIN") || next.is("LEFT") || next.is("INNER")
	}
	return false
}

// parseJoin reads [NATURAL] [ASOF] [join type] JOIN table [ON cond | USING
// (columns)].
func (p *parser) parseJoin() error {
	needsCondition := true
	if p.cur().is("NATURAL") {
		needsCondition = false
		p.next()
	}
	if p.cur().isWord("asof") {
		p.next()
	}
	switch tok := p.cur(); {
	case tok.is("CROSS"), tok.isWord("positional"):
		needsCondition = false
		p.next()
	case tok.is("INNER"), tok.is("SEMI"), tok.is("ANTI"):
		p.next()
	case tok.is("LEFT"), tok.is("RIGHT"), tok.is("FULL"):
		p.next()
		if p.cur().is("OUTER") {
			p.next()
		}
	}
	if err := p.expectKeyword("JOIN"); err != nil {
		return err
	}
	if err := p.parseTableFactor(nil); err != nil {
		return err
	}

	switch {
	case p.cur().is("ON"):
		p.next()
		return p.parseExpr()
	case p.cur().is("USING"):
		p.next()
		if p.cur().Type != TokenLParen {
			return p.unexpected("(")
		}
		return p.group().parseNameList()
	case needsCondition:
		return p.unexpected("ON or USING")
	default:
		return nil
	}
}

func (p *parser) parseNameList() error {
	for {
		if _, ok := p.takeName(); !ok {
			return p.unexpected("column name")
		}
		if p.cur().Type != TokenComma {
			return p.expectEOF(")")
		}
		p.next()
	}
}

func (p *parser) parseWindowDefinitions() error {
	for {
		if _, ok := p.takeName(); !ok {
			return p.unexpected("window name")
		}
		if err := p.expectKeyword("AS"); err != nil {
			return err
		}
		if p.cur().Type != TokenLParen {
			return p.unexpected("(")
		}
		if err := p.group().parseWindowSpec(); err != nil {
			return err
		}
		if p.cur().Type != TokenComma {
			return nil
		}
		p.next()
	}
}

// parseWindowSpec reads [base] [PARTITION BY ...] [ORDER BY ...] [frame].
func (p *parser) parseWindowSpec() error {
	if tok := p.cur(); tok.Type == TokenIdent || tok.Type == TokenQuotedIdent {
		p.next()
	}
	if p.cur().is("PARTITION") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		if err := p.parseExpressionList(); err != nil {
			return err
		}
	}
	if p.cur().is("ORDER") {
		p.next()
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		if err := p.parseOrderList(); err != nil {
			return err
		}
	}
	if p.cur().is("ROWS") || p.cur().is("RANGE") || p.cur().isWord("groups") {
		p.next()
		if p.cur().is("BETWEEN") {
			p.next()
			if err := p.parseFrameBound(); err != nil {
				return err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return err
			}
		}
		if err := p.parseFrameBound(); err != nil {
			return err
		}
	}
	return p.expectEOF(")")
}

// parseFrameBound reads UNBOUNDED {PRECEDING|FOLLOWING}, CURRENT ROW or
// expr {PRECEDING|FOLLOWING}.
func (p *parser) parseFrameBound() error {
	switch {
	case p.cur().isWord("current"):
		p.next()
		return p.expectKeyword("ROW")
	case p.cur().isWord("unbounded"):
		p.next()
	default:
		if err := p.parseBinary(true); err != nil {
			return err
		}
	}
	if !p.cur().isWord("preceding") && !p.cur().isWord("following") {
		return p.unexpected("PRECEDING or FOLLOWING")
	}
	p.next()
	return nil
}

func (p *parser) parseExpressionList() error {
	for {
		if err := p.parseExpr(); err != nil {
			return err
		}
		if p.cur().Type != TokenComma {
			return nil
		}
		p.next()
	}
}

func (p *parser) parseExpr() error {
	return p.parseBinary(false)
}

// parseBinary reads operands joined by binary operators and predicates.
// Inside BETWEEN bounds AND ends the expression.
func (p *parser) parseBinary(stopAtAnd bool) error {
	if err := p.parseUnary(); err != nil {
		return err
	}
	for {
		tok := p.cur()
		switch {
		case tok.Type == TokenOperator && isBinaryOperator(tok.Literal):
			p.next()
		case tok.is("AND"):
			if stopAtAnd {
				return nil
			}
			p.next()
		case tok.is("OR"), tok.is("LIKE"), tok.is("ILIKE"), tok.is("GLOB"):
			p.next()
		case tok.is("SIMILAR"):
			p.next()
			if !p.cur().isWord("to") {
				return p.unexpected("TO")
			}
			p.next()
		case tok.is("NOT"):
			next := p.peek()
			if !next.is("LIKE") && !next.is("ILIKE") && !next.is("GLOB") && !next.is("IN") &&
				!next.is("BETWEEN") && !next.is("SIMILAR") {
				return p.unexpected("LIKE, IN or BETWEEN after NOT")
			}
			p.next()
			continue
		case tok.is("IN"):
			p.next()
			if err := p.parseInList(); err != nil {
				return err
			}
			continue
		case tok.is("BETWEEN"):
			p.next()
			if err := p.parseBinary(true); err != nil {
				return err
			}
			if err := p.expectKeyword("AND"); err != nil {
				return err
			}
			if err := p.parseBinary(true); err != nil {
				return err
			}
			continue
		case tok.is("IS"):
			p.next()
			if err := p.parseIsPredicate(); err != nil {
				return err
			}
			continue
		default:
			return nil
		}
		if err := p.parseUnary(); err != nil {
			return err
		}
	}
}

func (p *parser) parseInList() error {
	if p.cur().Type != TokenLParen {
		// IN over a list valued expression.
		return p.parseUnary()
	}
	inner := p.group()
	if startsQuery(inner.cur()) {
		return inner.parseNestedQuery()
	}
	if err := inner.parseExpressionList(); err != nil {
		return err
	}
	return inner.expectEOF(")")
}

// parseIsPredicate reads the rest of IS [NOT] {NULL|TRUE|FALSE|DISTINCT FROM
// expr}.
func (p *parser) parseIsPredicate() error {
	if p.cur().is("NOT") {
		p.next()
	}
	switch tok := p.cur(); {
	case tok.is("NULL"), tok.is("TRUE"), tok.is("FALSE"):
		p.next()
		return nil
	case tok.is("DISTINCT"):
		p.next()
		if err := p.expectKeyword("FROM"); err != nil {
			return err
		}
		return p.parseUnary()
	default:
		return p.unexpected("NULL, TRUE, FALSE or DISTINCT FROM")
	}
}

func (p *parser) parseUnary() error {
	for {
		tok := p.cur()
		isSign := tok.Type == TokenOperator && (tok.Literal == "-" || tok.Literal == "+" || tok.Literal == "~")
		if !isSign && !tok.is("NOT") {
			break
		}
		p.next()
	}
	if err := p.parsePrimary(); err != nil {
		return err
	}
	return p.parsePostfix()
}

// parsePostfix reads casts, subscripts and field access after an operand.
func (p *parser) parsePostfix() error {
	for {
		switch tok := p.cur(); {
		case tok.Type == TokenOperator && tok.Literal == "::":
			p.next()
			if err := p.parseTypeName(); err != nil {
				return err
			}
		case tok.Type == TokenLBracket:
			if err := p.group().parseSubscript(); err != nil {
				return err
			}
		case tok.Type == TokenDot:
			p.next()
			if _, ok := p.takeName(); !ok {
				return p.unexpected("field name")
			}
			if p.cur().Type == TokenLParen {
				if err := p.parseCall(""); err != nil {
					return err
				}
			}
		default:
			return nil
		}
	}
}

func (p *parser) parsePrimary() error {
	tok := p.cur()
	switch {
	case tok.Type == TokenNumber, tok.Type == TokenString:
		p.next()
		return nil
	case tok.is("NULL"), tok.is("TRUE"), tok.is("FALSE"):
		p.next()
		return nil
	case tok.is("INTERVAL"):
		return p.parseInterval()
	case tok.is("CASE"):
		return p.parseCase()
	case tok.is("CAST"), tok.is("TRY_CAST"):
		p.next()
		if p.cur().Type != TokenLParen {
			return p.unexpected("(")
		}
		return p.group().parseCastBody()
	case tok.is("EXISTS"):
		p.next()
		if p.cur().Type != TokenLParen {
			return p.unexpected("(")
		}
		return p.group().parseNestedQuery()
	case tok.Type == TokenLParen:
		inner := p.group()
		if startsQuery(inner.cur()) {
			return inner.parseNestedQuery()
		}
		if err := inner.parseExpressionList(); err != nil {
			return err
		}
		return inner.expectEOF(")")
	case tok.Type == TokenLBracket:
		return p.group().parseSubscript()
	case tok.Type == TokenLBrace:
		return p.group().parseStructLiteral()
	case tok.Type == TokenKeyword && isCallableKeyword(tok) && p.peek().Type == TokenLParen:
		p.next()
		return p.parseCall(strings.ToLower(tok.Literal))
	}

	name, ok := p.takeName()
	if !ok {
		return p.unexpected("expression")
	}
	if p.cur().Type == TokenString && name.Type == TokenIdent {
		if _, typed := typedLiteralNames[strings.ToLower(name.Literal)]; typed {
			p.next()
			return nil
		}
	}
	last := name
	for p.cur().Type == TokenDot {
		if p.peek().Type == TokenOperator && p.peek().Literal == "*" {
			return p.unexpected("expression")
		}
		p.next()
		part, ok := p.takeName()
		if !ok {
			return p.unexpected("identifier")
		}
		last = part
	}
	if p.cur().Type == TokenLParen {
		return p.parseCall(strings.ToLower(last.Literal))
	}
	return nil
}

// parseCall reads the argument list of a function call and any FILTER and
// OVER clause after it.
func (p *parser) parseCall(function string) error {
	if err := p.parseCallArguments(function); err != nil {
		return err
	}
	if p.cur().is("FILTER") {
		p.next()
		if p.cur().Type != TokenLParen {
			return p.unexpected("(")
		}
		filter := p.group()
		if err := filter.expectKeyword("WHERE"); err != nil {
			return err
		}
		if err := filter.parseExpr(); err != nil {
			return err
		}
		if err := filter.expectEOF(")"); err != nil {
			return err
		}
	}
	if p.cur().is("OVER") {
		p.next()
		if p.cur().Type == TokenLParen {
			return p.group().parseWindowSpec()
		}
		if _, ok := p.takeName(); !ok {
			return p.unexpected("window")
		}
	}
	return nil
}

func (p *parser) parseCallArguments(function string) error {
	if p.cur().Type != TokenLParen {
		return p.unexpected("(")
	}
	args := p.group()
	if _, lenient := lenientFunctions[function]; lenient {
		return nil
	}
	if args.atEOF() {
		return nil
	}
	if tok := args.cur(); tok.Type == TokenOperator && tok.Literal == "*" {
		args.next()
		return args.expectEOF(")")
	}
	if startsQuery(args.cur()) {
		return args.parseNestedQuery()
	}
	if args.cur().is("DISTINCT") || args.cur().is("ALL") {
		args.next()
	}
	if err := args.parseExpressionList(); err != nil {
		return err
	}
	if args.cur().is("ORDER") {
		args.next()
		if err := args.expectKeyword("BY"); err != nil {
			return err
		}
		if err := args.parseOrderList(); err != nil {
			return err
		}
	}
	if (args.cur().isWord("ignore") || args.cur().isWord("respect")) && args.peek().is("NULLS") {
		args.next()
		args.next()
	}
	return args.expectEOF(")")
}

func (p *parser) parseCastBody() error {
	if err := p.parseExpr(); err != nil {
		return err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return err
	}
	if err := p.parseTypeName(); err != nil {
		return err
	}
	return p.expectEOF(")")
}

// parseTypeName reads a type such as INTEGER, DECIMAL(18, 3), VARCHAR[] or
// STRUCT(a INTEGER).
func (p *parser) parseTypeName() error {
	if p.cur().is("INTERVAL") {
		p.next()
	} else if _, ok := p.takeName(); !ok {
		return p.unexpected("type name")
	}
	if p.cur().isWord("precision") {
		p.next()
	}
	if p.cur().Type == TokenLParen {
		p.group()
	}
	for p.cur().Type == TokenLBracket {
		dims := p.group()
		if !dims.atEOF() {
			if dims.cur().Type != TokenNumber {
				return dims.unexpected("array size")
			}
			dims.next()
			if err := dims.expectEOF("]"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) parseInterval() error {
	p.next()
	switch tok := p.cur(); {
	case tok.Type == TokenString, tok.Type == TokenNumber:
		p.next()
	case tok.Type == TokenLParen:
		inner := p.group()
		if err := inner.parseExpr(); err != nil {
			return err
		}
		if err := inner.expectEOF(")"); err != nil {
			return err
		}
	default:
		return p.unexpected("interval value")
	}
	if tok := p.cur(); tok.Type == TokenIdent {
		if _, ok := intervalUnits[strings.ToLower(tok.Literal)]; ok {
			p.next()
		}
	}
	return nil
}

func (p *parser) parseCase() error {
	p.next()
	if !p.cur().is("WHEN") {
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	if !p.cur().is("WHEN") {
		return p.unexpected("WHEN")
	}
	for p.cur().is("WHEN") {
		p.next()
		if err := p.parseExpr(); err != nil {
			return err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return err
		}
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	if p.cur().is("ELSE") {
		p.next()
		if err := p.parseExpr(); err != nil {
			return err
		}
	}
	return p.expectKeyword("END")
}

// parseSubscript reads a list literal or an index or slice: expressions
// separated by commas or colons, any of which may be omitted in a slice.
func (p *parser) parseSubscript() error {
	for !p.atEOF() {
		tok := p.cur()
		if tok.Type == TokenOperator && tok.Literal == ":" {
			p.next()
			continue
		}
		if err := p.parseExpr(); err != nil {
			return err
		}
		switch tok := p.cur(); {
		case tok.Type == TokenComma:
			p.next()
			if p.atEOF() {
				return p.unexpected("expression")
			}
		case tok.Type == TokenOperator && tok.Literal == ":":
		default:
			return p.expectEOF("]")
		}
	}
	return nil
}

// parseStructLiteral reads {key: value, ...}.
func (p *parser) parseStructLiteral() error {
	for !p.atEOF() {
		if tok := p.cur(); tok.Type == TokenString {
			p.next()
		} else if _, ok := p.takeName(); !ok {
			return p.unexpected("struct key")
		}
		if tok := p.cur(); tok.Type != TokenOperator || tok.Literal != ":" {
			return p.unexpected(":")
		}
		p.next()
		if err := p.parseExpr(); err != nil {
			return err
		}
		if p.cur().Type != TokenComma {
			return p.expectEOF("}")
		}
		p.next()
	}
	return nil
}

// isBinaryOperator excludes the cast and slice operators, which are never
// written between two operands.
func isBinaryOperator(op string) bool {
	return op != "::" && op != ":"
}

func (t Token) isWord(word string) bool {
	return t.Type == TokenIdent && strings.EqualFold(t.Literal, word)
}

func isReserved(tok Token) bool {
	_, ok := reservedKeywords[tok.Literal]
	return ok
}

func isCallableKeyword(tok Token) bool {
	_, ok := callableKeywords[tok.Literal]
	return ok
}

func isNameToken(tok Token) bool {
	switch tok.Type {
	case TokenIdent, TokenQuotedIdent:
		return true
	case TokenKeyword:
		return !isReserved(tok)
	}
	return false
}

func isStatementKeyword(tok Token) bool {
	if tok.Type != TokenKeyword {
		return false
	}
	_, ok := statementKeywords[tok.Literal]
	return ok
}

func parseErr(message string) error {
	return failure.Parse(failure.CodeSQLParse, message, nil)
}
