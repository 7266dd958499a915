// Package parser turns docsql statement text into a typed AST.
package parser

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenIdent
	TokenNumber
	TokenString

	// Keywords
	TokenSelect
	TokenFrom
	TokenWhere
	TokenGroupBy
	TokenOrderBy
	TokenBy
	TokenAnd
	TokenOr
	TokenNot
	TokenAsc
	TokenDesc
	TokenNull
	TokenDistinct
	TokenCreate
	TokenDrop
	TokenDatabase
	TokenTable
	TokenIndex
	TokenOn
	TokenUse
	TokenInsert
	TokenInto
	TokenValues
	TokenDelete
	TokenPrimary
	TokenKey
	TokenUnique
	TokenReferences
	TokenJoin
	TokenInner

	// Aggregate functions
	TokenCount
	TokenSum
	TokenAvg
	TokenMin
	TokenMax

	// Operators
	TokenEq        // =
	TokenNe        // <> or !=
	TokenLt        // <
	TokenGt        // >
	TokenLe        // <=
	TokenGe        // >=
	TokenPlus      // +
	TokenMinus     // -
	TokenStar      // *
	TokenComma     // ,
	TokenLParen    // (
	TokenRParen    // )
	TokenDot       // .
	TokenSemicolon // ;
)

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int // Position in input
}

// String returns a string representation of the token.
func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d}", t.Type.String(), t.Literal, t.Pos)
}

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenIdent:      "IDENT",
	TokenNumber:     "NUMBER",
	TokenString:     "STRING",
	TokenSelect:     "SELECT",
	TokenFrom:       "FROM",
	TokenWhere:      "WHERE",
	TokenGroupBy:    "GROUP",
	TokenOrderBy:    "ORDER",
	TokenBy:         "BY",
	TokenAnd:        "AND",
	TokenOr:         "OR",
	TokenNot:        "NOT",
	TokenAsc:        "ASC",
	TokenDesc:       "DESC",
	TokenNull:       "NULL",
	TokenDistinct:   "DISTINCT",
	TokenCreate:     "CREATE",
	TokenDrop:       "DROP",
	TokenDatabase:   "DATABASE",
	TokenTable:      "TABLE",
	TokenIndex:      "INDEX",
	TokenOn:         "ON",
	TokenUse:        "USE",
	TokenInsert:     "INSERT",
	TokenInto:       "INTO",
	TokenValues:     "VALUES",
	TokenDelete:     "DELETE",
	TokenPrimary:    "PRIMARY",
	TokenKey:        "KEY",
	TokenUnique:     "UNIQUE",
	TokenReferences: "REFERENCES",
	TokenJoin:       "JOIN",
	TokenInner:      "INNER",
	TokenCount:      "COUNT",
	TokenSum:        "SUM",
	TokenAvg:        "AVG",
	TokenMin:        "MIN",
	TokenMax:        "MAX",
	TokenEq:         "=",
	TokenNe:         "<>",
	TokenLt:         "<",
	TokenGt:         ">",
	TokenLe:         "<=",
	TokenGe:         ">=",
	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenComma:      ",",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenDot:        ".",
	TokenSemicolon:  ";",
}

// String returns the string representation of a TokenType.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// keywords maps SQL keywords to their token types.
var keywords = map[string]TokenType{
	"SELECT":     TokenSelect,
	"FROM":       TokenFrom,
	"WHERE":      TokenWhere,
	"GROUP":      TokenGroupBy, // Will be combined with BY
	"ORDER":      TokenOrderBy, // Will be combined with BY
	"BY":         TokenBy,
	"AND":        TokenAnd,
	"OR":         TokenOr,
	"NOT":        TokenNot,
	"ASC":        TokenAsc,
	"DESC":       TokenDesc,
	"NULL":       TokenNull,
	"DISTINCT":   TokenDistinct,
	"CREATE":     TokenCreate,
	"DROP":       TokenDrop,
	"DATABASE":   TokenDatabase,
	"TABLE":      TokenTable,
	"INDEX":      TokenIndex,
	"ON":         TokenOn,
	"USE":        TokenUse,
	"INSERT":     TokenInsert,
	"INTO":       TokenInto,
	"VALUES":     TokenValues,
	"DELETE":     TokenDelete,
	"PRIMARY":    TokenPrimary,
	"KEY":        TokenKey,
	"UNIQUE":     TokenUnique,
	"REFERENCES": TokenReferences,
	"JOIN":       TokenJoin,
	"INNER":      TokenInner,
	"COUNT":      TokenCount,
	"SUM":        TokenSum,
	"AVG":        TokenAvg,
	"MIN":        TokenMin,
	"MAX":        TokenMax,
}

// softKeywords may also be used as table, column or index names.
var softKeywords = map[TokenType]bool{
	TokenCount:    true,
	TokenSum:      true,
	TokenAvg:      true,
	TokenMin:      true,
	TokenMax:      true,
	TokenKey:      true,
	TokenDatabase: true,
	TokenIndex:    true,
	TokenValues:   true,
}

// Lexer tokenizes SQL input.
type Lexer struct {
	input   string
	pos     int  // Current position in input
	readPos int  // Reading position (after current char)
	ch      byte // Current character
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	if l.pos > len(l.input) {
		l.pos = len(l.input)
	}
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	startPos := l.pos
	var tok Token

	switch l.ch {
	case '=':
		tok = Token{Type: TokenEq, Literal: "=", Pos: startPos}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenLe, Literal: "<=", Pos: startPos}
		} else if l.peekChar() == '>' {
			l.readChar()
			tok = Token{Type: TokenNe, Literal: "<>", Pos: startPos}
		} else {
			tok = Token{Type: TokenLt, Literal: "<", Pos: startPos}
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenGe, Literal: ">=", Pos: startPos}
		} else {
			tok = Token{Type: TokenGt, Literal: ">", Pos: startPos}
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok = Token{Type: TokenNe, Literal: "!=", Pos: startPos}
		} else {
			tok = Token{Type: TokenError, Literal: string(l.ch), Pos: startPos}
		}
	case '+':
		tok = Token{Type: TokenPlus, Literal: "+", Pos: startPos}
	case '-':
		tok = Token{Type: TokenMinus, Literal: "-", Pos: startPos}
	case '*':
		tok = Token{Type: TokenStar, Literal: "*", Pos: startPos}
	case ',':
		tok = Token{Type: TokenComma, Literal: ",", Pos: startPos}
	case '(':
		tok = Token{Type: TokenLParen, Literal: "(", Pos: startPos}
	case ')':
		tok = Token{Type: TokenRParen, Literal: ")", Pos: startPos}
	case '.':
		tok = Token{Type: TokenDot, Literal: ".", Pos: startPos}
	case ';':
		tok = Token{Type: TokenSemicolon, Literal: ";", Pos: startPos}
	case '\'', '"':
		return l.readString(l.ch)
	case 0:
		return Token{Type: TokenEOF, Literal: "", Pos: len(l.input)}
	default:
		if isLetter(l.ch) || l.ch == '_' {
			return l.readIdentifier()
		} else if isDigit(l.ch) {
			return l.readNumber()
		}
		tok = Token{Type: TokenError, Literal: string(l.ch), Pos: startPos}
	}

	l.readChar()
	return tok
}

func (l *Lexer) readIdentifier() Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	literal := l.input[start:l.pos]
	upper := strings.ToUpper(literal)

	if tokType, ok := keywords[upper]; ok {
		return Token{Type: tokType, Literal: upper, Pos: start}
	}

	return Token{Type: TokenIdent, Literal: literal, Pos: start}
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	hasDecimal := false

	for isDigit(l.ch) || (l.ch == '.' && !hasDecimal && isDigit(l.peekChar())) {
		if l.ch == '.' {
			hasDecimal = true
		}
		l.readChar()
	}

	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start}
}

// readString reads a string literal enclosed in quote. A doubled quote
// inside the literal stands for one quote character.
func (l *Lexer) readString(quote byte) Token {
	startPos := l.pos
	l.readChar() // Skip opening quote

	var sb strings.Builder
	for {
		if l.ch == 0 && l.pos >= len(l.input) {
			return Token{Type: TokenError, Literal: "unterminated string", Pos: startPos}
		}
		if l.ch == quote {
			if l.peekChar() == quote {
				sb.WriteByte(quote)
				l.readChar()
				l.readChar()
				continue
			}
			break
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}

	l.readChar() // Skip closing quote
	return Token{Type: TokenString, Literal: sb.String(), Pos: startPos}
}

// Tokenize returns all tokens from the input.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}

func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
