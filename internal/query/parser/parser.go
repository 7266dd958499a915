package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
	// Unsupported is set when the statement kind itself is not recognised.
	Unsupported bool
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %s)", e.Position, e.Message, describe(e.Token))
}

func describe(tok Token) string {
	if tok.Type == TokenEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", tok.Literal)
}

// Parser parses SQL statements into AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses the input and returns a Statement.
func Parse(input string) (Statement, error) {
	p := NewParser(input)
	return p.ParseStatement()
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// peekTokenIs checks if the peek token is of the given type.
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expectPeek advances if the peek token matches, otherwise returns an error.
func (p *Parser) expectPeek(t TokenType) error {
	if p.peekTokenIs(t) {
		p.nextToken()
		return nil
	}
	return p.errorAt(p.peekToken, fmt.Sprintf("expected %s", t.String()))
}

// expect consumes the current token if it matches.
func (p *Parser) expect(t TokenType) error {
	if !p.curTokenIs(t) {
		return p.errorAt(p.curToken, fmt.Sprintf("expected %s", t.String()))
	}
	p.nextToken()
	return nil
}

func (p *Parser) errorAt(tok Token, msg string) *ParseError {
	if tok.Type == TokenError {
		msg = "unexpected character"
		if tok.Literal == "unterminated string" {
			msg = "unterminated string literal"
		}
	}
	return &ParseError{Message: msg, Position: tok.Pos, Token: tok}
}

// ParseStatement parses a single SQL statement. A trailing semicolon is
// allowed; anything after it is an error.
func (p *Parser) ParseStatement() (Statement, error) {
	var (
		stmt Statement
		err  error
	)

	switch p.curToken.Type {
	case TokenSelect:
		stmt, err = p.parseSelectStatement()
	case TokenCreate:
		stmt, err = p.parseCreateStatement()
	case TokenDrop:
		stmt, err = p.parseDropStatement()
	case TokenUse:
		stmt, err = p.parseUseStatement()
	case TokenInsert:
		stmt, err = p.parseInsertStatement()
	case TokenDelete:
		stmt, err = p.parseDeleteStatement()
	case TokenEOF:
		return nil, p.errorAt(p.curToken, "empty statement")
	default:
		perr := p.errorAt(p.curToken, "unsupported statement")
		perr.Unsupported = p.curToken.Type != TokenError
		return nil, perr
	}
	if err != nil {
		return nil, err
	}

	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	if !p.curTokenIs(TokenEOF) {
		return nil, p.errorAt(p.curToken, "unexpected token after statement")
	}
	return stmt, nil
}

// parseName reads an identifier. Soft keywords are accepted as names.
func (p *Parser) parseName(what string) (string, error) {
	if p.curTokenIs(TokenIdent) || softKeywords[p.curToken.Type] {
		name := p.curToken.Literal
		if p.curToken.Type != TokenIdent {
			name = p.lexer.input[p.curToken.Pos : p.curToken.Pos+len(name)]
		}
		p.nextToken()
		return name, nil
	}
	return "", p.errorAt(p.curToken, "expected "+what)
}

// parseNameList reads ( name, name, ... ).
func (p *Parser) parseNameList(what string) ([]string, error) {
	if err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	var names []string
	for {
		name, err := p.parseName(what)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return names, nil
}

func (p *Parser) parseCreateStatement() (Statement, error) {
	p.nextToken() // Skip CREATE

	switch p.curToken.Type {
	case TokenDatabase:
		p.nextToken()
		name, err := p.parseName("database name")
		if err != nil {
			return nil, err
		}
		return &CreateDatabaseStatement{Name: name}, nil
	case TokenTable:
		p.nextToken()
		return p.parseCreateTable()
	case TokenIndex:
		p.nextToken()
		return p.parseCreateIndex()
	default:
		perr := p.errorAt(p.curToken, "expected DATABASE, TABLE or INDEX after CREATE")
		perr.Unsupported = true
		return nil, perr
	}
}

func (p *Parser) parseDropStatement() (Statement, error) {
	p.nextToken() // Skip DROP

	switch p.curToken.Type {
	case TokenDatabase:
		p.nextToken()
		name, err := p.parseName("database name")
		if err != nil {
			return nil, err
		}
		return &DropDatabaseStatement{Name: name}, nil
	case TokenTable:
		p.nextToken()
		name, err := p.parseName("table name")
		if err != nil {
			return nil, err
		}
		return &DropTableStatement{Name: name}, nil
	default:
		perr := p.errorAt(p.curToken, "expected DATABASE or TABLE after DROP")
		perr.Unsupported = true
		return nil, perr
	}
}

func (p *Parser) parseUseStatement() (Statement, error) {
	p.nextToken() // Skip USE
	name, err := p.parseName("database name")
	if err != nil {
		return nil, err
	}
	return &UseDatabaseStatement{Name: name}, nil
}

// parseCreateTable parses the remainder of CREATE TABLE name ( items ).
func (p *Parser) parseCreateTable() (*CreateTableStatement, error) {
	name, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	stmt := &CreateTableStatement{Name: name}

	if err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	for {
		if p.curTokenIs(TokenPrimary) {
			if err := p.expectPeek(TokenKey); err != nil {
				return nil, err
			}
			p.nextToken()
			cols, err := p.parseNameList("primary key column")
			if err != nil {
				return nil, err
			}
			stmt.PrimaryKey = append(stmt.PrimaryKey, cols...)
		} else {
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
		}

		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		break
	}

	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	name, err := p.parseName("column name")
	if err != nil {
		return ColumnDef{}, err
	}
	col := ColumnDef{Name: name}

	if !p.curTokenIs(TokenIdent) {
		return ColumnDef{}, p.errorAt(p.curToken, fmt.Sprintf("expected type for column %s", name))
	}
	col.Type.Name = strings.ToUpper(p.curToken.Literal)
	p.nextToken()

	if p.curTokenIs(TokenLParen) {
		p.nextToken()
		if !p.curTokenIs(TokenNumber) {
			return ColumnDef{}, p.errorAt(p.curToken, "expected type length")
		}
		n, err := strconv.Atoi(p.curToken.Literal)
		if err != nil || n <= 0 {
			return ColumnDef{}, p.errorAt(p.curToken, "invalid type length")
		}
		col.Type.Length = n
		p.nextToken()
		if err := p.expect(TokenRParen); err != nil {
			return ColumnDef{}, err
		}
	}

	// Column constraints
	for {
		switch p.curToken.Type {
		case TokenPrimary:
			if err := p.expectPeek(TokenKey); err != nil {
				return ColumnDef{}, err
			}
			p.nextToken()
			col.PrimaryKey = true
		case TokenUnique:
			p.nextToken()
			col.Unique = true
		case TokenReferences:
			p.nextToken()
			table, err := p.parseName("referenced table")
			if err != nil {
				return ColumnDef{}, err
			}
			cols, err := p.parseNameList("referenced column")
			if err != nil {
				return ColumnDef{}, err
			}
			if len(cols) != 1 {
				return ColumnDef{}, p.errorAt(p.curToken, "REFERENCES takes exactly one column")
			}
			col.References = &ForeignKeyRef{Table: table, Column: cols[0]}
		default:
			return col, nil
		}
	}
}

func (p *Parser) parseCreateIndex() (*CreateIndexStatement, error) {
	name, err := p.parseName("index name")
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokenOn); err != nil {
		return nil, err
	}
	table, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	cols, err := p.parseNameList("index column")
	if err != nil {
		return nil, err
	}
	return &CreateIndexStatement{Name: name, Table: table, Columns: cols}, nil
}

func (p *Parser) parseInsertStatement() (*InsertStatement, error) {
	if err := p.expectPeek(TokenInto); err != nil {
		return nil, err
	}
	p.nextToken()

	table, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	stmt := &InsertStatement{Table: table}

	if p.curTokenIs(TokenLParen) {
		cols, err := p.parseNameList("column name")
		if err != nil {
			return nil, err
		}
		stmt.Columns = cols
	}

	if err := p.expect(TokenValues); err != nil {
		return nil, err
	}
	if err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	for {
		lit, err := p.parseValue(TokenComma, TokenRParen)
		if err != nil {
			return nil, err
		}
		stmt.Values = append(stmt.Values, lit)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		break
	}

	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseValue reads a literal. Quoted strings and NULL are single tokens; any
// other value is the raw input text up to the next terminator token, so that
// numbers, booleans and unquoted dates survive as written.
func (p *Parser) parseValue(terminators ...TokenType) (Literal, error) {
	isTerminator := func(t TokenType) bool {
		if t == TokenEOF || t == TokenSemicolon {
			return true
		}
		for _, term := range terminators {
			if t == term {
				return true
			}
		}
		return false
	}

	switch p.curToken.Type {
	case TokenString:
		lit := Literal{Value: p.curToken.Literal, Quoted: true}
		p.nextToken()
		return lit, nil
	case TokenNull:
		p.nextToken()
		return Literal{Null: true}, nil
	case TokenError:
		return Literal{}, p.errorAt(p.curToken, "")
	}

	if isTerminator(p.curToken.Type) {
		return Literal{}, p.errorAt(p.curToken, "expected value")
	}

	start := p.curToken.Pos
	for !isTerminator(p.curToken.Type) {
		switch p.curToken.Type {
		case TokenError:
			return Literal{}, p.errorAt(p.curToken, "")
		case TokenString, TokenLParen:
			return Literal{}, p.errorAt(p.curToken, "malformed value")
		}
		p.nextToken()
	}
	raw := strings.TrimSpace(p.lexer.input[start:p.curToken.Pos])
	return Literal{Value: raw}, nil
}

func (p *Parser) parseDeleteStatement() (*DeleteStatement, error) {
	if err := p.expectPeek(TokenFrom); err != nil {
		return nil, err
	}
	p.nextToken()

	table, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{Table: table}

	if !p.curTokenIs(TokenWhere) {
		return nil, p.errorAt(p.curToken, "DELETE requires a WHERE clause")
	}
	p.nextToken()

	conds, err := p.parseConditions()
	if err != nil {
		return nil, err
	}
	stmt.Where = conds
	return stmt, nil
}

// parseSelectStatement parses a SELECT statement.
func (p *Parser) parseSelectStatement() (*SelectStatement, error) {
	stmt := &SelectStatement{}

	// Skip SELECT
	p.nextToken()

	// Check for DISTINCT
	if p.curTokenIs(TokenDistinct) {
		stmt.Distinct = true
		p.nextToken()
	}

	items, err := p.parseSelectItems()
	if err != nil {
		return nil, err
	}
	stmt.Items = items

	if err := p.expect(TokenFrom); err != nil {
		return nil, err
	}
	from, err := p.parseName("table name")
	if err != nil {
		return nil, err
	}
	stmt.From = from

	// Parse JOIN clauses
	for p.curTokenIs(TokenJoin) || p.curTokenIs(TokenInner) {
		join, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		stmt.Joins = append(stmt.Joins, join)
	}

	// Parse WHERE clause
	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		conds, err := p.parseConditions()
		if err != nil {
			return nil, err
		}
		stmt.Where = conds
	}

	// Parse GROUP BY clause
	if p.curTokenIs(TokenGroupBy) {
		if err := p.expectPeek(TokenBy); err != nil {
			return nil, err
		}
		p.nextToken()
		for {
			ref, err := p.parseColumnRef()
			if err != nil {
				return nil, err
			}
			stmt.GroupBy = append(stmt.GroupBy, ref)
			if p.curTokenIs(TokenComma) {
				p.nextToken()
				continue
			}
			break
		}
	}

	// Parse ORDER BY clause
	if p.curTokenIs(TokenOrderBy) {
		if err := p.expectPeek(TokenBy); err != nil {
			return nil, err
		}
		p.nextToken()
		orderBy, err := p.parseOrderBy()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = orderBy
	}

	return stmt, nil
}

func (p *Parser) parseSelectItems() ([]SelectItem, error) {
	var items []SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.curTokenIs(TokenStar) {
		p.nextToken()
		return SelectItem{Star: true}, nil
	}
	if isAggregateToken(p.curToken.Type) && p.peekTokenIs(TokenLParen) {
		agg, err := p.parseAggregate()
		if err != nil {
			return SelectItem{}, err
		}
		return SelectItem{Aggregate: &agg}, nil
	}
	ref, err := p.parseColumnRef()
	if err != nil {
		return SelectItem{}, err
	}
	return SelectItem{Column: &ref}, nil
}

func isAggregateToken(t TokenType) bool {
	switch t {
	case TokenCount, TokenSum, TokenAvg, TokenMin, TokenMax:
		return true
	}
	return false
}

// parseAggregate parses FUNC(col) or FUNC(*).
func (p *Parser) parseAggregate() (AggregateExpr, error) {
	agg := AggregateExpr{Function: p.curToken.Literal}
	p.nextToken() // function name
	p.nextToken() // (

	if p.curTokenIs(TokenStar) {
		p.nextToken()
	} else {
		ref, err := p.parseColumnRef()
		if err != nil {
			return AggregateExpr{}, err
		}
		agg.Arg = &ref
	}

	if err := p.expect(TokenRParen); err != nil {
		return AggregateExpr{}, err
	}
	return agg, nil
}

// parseColumnRef parses col or table.col.
func (p *Parser) parseColumnRef() (ColumnRef, error) {
	first, err := p.parseName("column name")
	if err != nil {
		return ColumnRef{}, err
	}
	if !p.curTokenIs(TokenDot) {
		return ColumnRef{Column: first}, nil
	}
	p.nextToken()
	second, err := p.parseName("column name")
	if err != nil {
		return ColumnRef{}, err
	}
	return ColumnRef{Table: first, Column: second}, nil
}

func (p *Parser) parseJoin() (JoinClause, error) {
	if p.curTokenIs(TokenInner) {
		if err := p.expectPeek(TokenJoin); err != nil {
			return JoinClause{}, err
		}
	}
	p.nextToken() // Skip JOIN

	table, err := p.parseName("table name")
	if err != nil {
		return JoinClause{}, err
	}
	if err := p.expect(TokenOn); err != nil {
		return JoinClause{}, err
	}
	left, err := p.parseColumnRef()
	if err != nil {
		return JoinClause{}, err
	}
	if err := p.expect(TokenEq); err != nil {
		return JoinClause{}, err
	}
	right, err := p.parseColumnRef()
	if err != nil {
		return JoinClause{}, err
	}
	return JoinClause{Table: table, Left: left, Right: right}, nil
}

// parseConditions parses cond [AND cond]*.
func (p *Parser) parseConditions() ([]Condition, error) {
	var conds []Condition
	for {
		if p.curTokenIs(TokenLParen) {
			return nil, p.errorAt(p.curToken, "parenthesized conditions are not supported")
		}
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)

		if p.curTokenIs(TokenAnd) {
			p.nextToken()
			continue
		}
		if p.curTokenIs(TokenOr) {
			return nil, p.errorAt(p.curToken, "OR is not supported")
		}
		break
	}
	return conds, nil
}

func (p *Parser) parseCondition() (Condition, error) {
	left, err := p.parseColumnRef()
	if err != nil {
		return Condition{}, err
	}

	var op Operator
	switch p.curToken.Type {
	case TokenEq:
		op = OpEq
	case TokenGt:
		op = OpGt
	case TokenLt:
		op = OpLt
	case TokenGe:
		op = OpGe
	case TokenLe:
		op = OpLe
	default:
		return Condition{}, p.errorAt(p.curToken, "expected comparison operator")
	}
	p.nextToken()

	right, err := p.parseOperand()
	if err != nil {
		return Condition{}, err
	}
	return Condition{Left: left, Op: op, Right: right}, nil
}

// parseOperand reads the right-hand side of a condition. A qualified name
// (t.c) is a column reference; everything else is a literal.
func (p *Parser) parseOperand() (Operand, error) {
	if (p.curTokenIs(TokenIdent) || softKeywords[p.curToken.Type]) && p.peekTokenIs(TokenDot) {
		ref, err := p.parseColumnRef()
		if err != nil {
			return Operand{}, err
		}
		return Operand{Column: &ref}, nil
	}
	lit, err := p.parseValue(TokenAnd, TokenOr, TokenGroupBy, TokenOrderBy, TokenRParen)
	if err != nil {
		return Operand{}, err
	}
	return Operand{Literal: &lit}, nil
}

func (p *Parser) parseOrderBy() ([]OrderByClause, error) {
	var clauses []OrderByClause
	for {
		var clause OrderByClause
		if isAggregateToken(p.curToken.Type) && p.peekTokenIs(TokenLParen) {
			agg, err := p.parseAggregate()
			if err != nil {
				return nil, err
			}
			clause.Aggregate = &agg
		} else {
			ref, err := p.parseColumnRef()
			if err != nil {
				return nil, err
			}
			clause.Column = &ref
		}

		if p.curTokenIs(TokenAsc) {
			p.nextToken()
		} else if p.curTokenIs(TokenDesc) {
			clause.Desc = true
			p.nextToken()
		}

		clauses = append(clauses, clause)
		if p.curTokenIs(TokenComma) {
			p.nextToken()
			continue
		}
		break
	}
	return clauses, nil
}
