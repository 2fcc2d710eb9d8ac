// Package sqlprep validates ad-hoc SQL before it is dispatched: only a plain
// SELECT over a single leading table reference is accepted, a row cap is
// injected when the query has no LIMIT and object-store URI literals can be
// swapped for the logical table name the executor registers.
package sqlprep

import (
	"strconv"
	"strings"

	"github.com/lakequery/lakequery/internal/failure"
)

const DefaultMaxRows = 1000

// PreparedQuery is the canonical query text and the first table reference
// exactly as written, quotes included.
type PreparedQuery struct {
	Query     string `json:"query"`
	TableName string `json:"table_name"`
}

// TableLiteral returns the unquoted object-store URI when the table
// reference is a quoted s3:// literal.
func (q PreparedQuery) TableLiteral() (string, bool) {
	ref := q.TableName
	if len(ref) < 2 {
		return "", false
	}
	quote := ref[0]
	if (quote != '\'' && quote != '"') || ref[len(ref)-1] != quote {
		return "", false
	}
	inner := ref[1 : len(ref)-1]
	if !strings.HasPrefix(strings.ToLower(inner), SchemePrefix) {
		return "", false
	}
	return inner, true
}

type Preparer struct {
	MaxRows int
}

func NewPreparer(maxRows int) Preparer {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return Preparer{MaxRows: maxRows}
}

// Prepare parses the first statement of raw, rejects anything that is not a
// SELECT with a plain leading table reference and appends LIMIT MaxRows when
// the query has no LIMIT of its own. An existing LIMIT is kept as written.
func (p Preparer) Prepare(raw string) (PreparedQuery, error) {
	st, err := parseStatement(raw)
	if err != nil {
		return PreparedQuery{}, err
	}
	if st.setOp {
		return PreparedQuery{}, failure.Semantic(failure.CodeSelectQueryNotFound, "set operations are not supported", nil)
	}
	if st.tableErr != "" {
		return PreparedQuery{}, failure.Semantic(failure.CodeInvalidTableName, st.tableErr, nil)
	}
	if st.tableRef == "" {
		return PreparedQuery{}, failure.Semantic(failure.CodeInvalidTableName, "query does not reference a table", nil)
	}

	tokens := st.tokens
	if !st.hasLimit {
		maxRows := p.MaxRows
		if maxRows <= 0 {
			maxRows = DefaultMaxRows
		}
		limit := []Token{
			{Type: TokenKeyword, Literal: "LIMIT"},
			{Type: TokenNumber, Literal: strconv.Itoa(maxRows)},
		}
		tokens = make([]Token, 0, len(st.tokens)+len(limit))
		tokens = append(tokens, st.tokens[:st.limitAt]...)
		tokens = append(tokens, limit...)
		tokens = append(tokens, st.tokens[st.limitAt:]...)
	}

	return PreparedQuery{Query: render(tokens), TableName: st.tableRef}, nil
}

// callKeywords are keywords written directly before an opening parenthesis.
var callKeywords = map[string]struct{}{
	"CAST": {}, "TRY_CAST": {}, "REPLACE": {}, "LEFT": {}, "RIGHT": {},
}

// render joins tokens with single spaces, except around dots, casts,
// brackets and function call parentheses.
func render(tokens []Token) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 && spaceBetween(tokens, i) {
			b.WriteByte(' ')
		}
		b.WriteString(tok.Literal)
	}
	return b.String()
}

func spaceBetween(tokens []Token, i int) bool {
	prev, cur := tokens[i-1], tokens[i]
	switch cur.Type {
	case TokenComma, TokenRParen, TokenRBracket, TokenDot, TokenSemicolon:
		return false
	case TokenLParen:
		if prev.Type == TokenIdent || prev.Type == TokenQuotedIdent {
			return false
		}
		if _, ok := callKeywords[prev.Literal]; ok && prev.Type == TokenKeyword {
			return false
		}
	case TokenLBracket:
		if prev.Type == TokenIdent || prev.Type == TokenQuotedIdent || prev.Type == TokenRParen || prev.Type == TokenRBracket {
			return false
		}
	case TokenOperator:
		if cur.Literal == "::" {
			return false
		}
	}
	switch prev.Type {
	case TokenLParen, TokenLBracket, TokenDot:
		return false
	case TokenOperator:
		if prev.Literal == "::" {
			return false
		}
		if isUnary(tokens, i-1) {
			return false
		}
	}
	return true
}

// isUnary reports whether the sign at index i applies to the operand after
// it rather than joining two operands.
func isUnary(tokens []Token, i int) bool {
	tok := tokens[i]
	if tok.Type != TokenOperator || (tok.Literal != "-" && tok.Literal != "+") {
		return false
	}
	if i == 0 {
		return true
	}
	prev := tokens[i-1]
	switch prev.Type {
	case TokenOperator, TokenLParen, TokenLBracket, TokenComma:
		return true
	case TokenKeyword:
		switch prev.Literal {
		case "END", "NULL", "TRUE", "FALSE":
			return false
		}
		return true
	}
	return false
}
