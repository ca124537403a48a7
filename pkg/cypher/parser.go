package cypher

import "strings"

// Parse parses Cypher text into a clause AST.
//
// The supported subset is the read-only compile surface:
//
//	MATCH (a:User)-[:FOLLOWS]->(b:User) WHERE a.age > 21
//	WITH a, count(b) AS followers ORDER BY followers DESC LIMIT 10
//	RETURN a.name, followers
//
// Anything outside the subset fails with a *SyntaxError carrying the
// offending token and position.
func Parse(src string) (*Query, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, tokens: tokens}
	return p.parseQuery()
}

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) cur() token  { return p.tokens[p.pos] }
func (p *parser) next() token { t := p.tokens[p.pos]; p.pos++; return t }

func (p *parser) peekKw(kw string) bool {
	t := p.cur()
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (p *parser) acceptKw(kw string) bool {
	if p.peekKw(kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKw(kw string) error {
	if !p.acceptKw(kw) {
		t := p.cur()
		return syntaxErr(t.pos, t.text, "expected %s", kw)
	}
	return nil
}

func (p *parser) accept(kind tokenKind) bool {
	if p.cur().kind == kind {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.cur()
	if t.kind != kind {
		return t, syntaxErr(t.pos, t.text, "expected %s", what)
	}
	p.pos++
	return t, nil
}

func (p *parser) parseQuery() (*Query, error) {
	q := &Query{}
	sawReturn := false

	for p.cur().kind != tokEOF {
		if sawReturn {
			t := p.cur()
			return nil, syntaxErr(t.pos, t.text, "unexpected input after RETURN")
		}
		switch {
		case p.peekKw("MATCH"):
			p.pos++
			c, err := p.parseMatch(false)
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)

		case p.peekKw("OPTIONAL"):
			p.pos++
			if err := p.expectKw("MATCH"); err != nil {
				return nil, err
			}
			c, err := p.parseMatch(true)
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)

		case p.peekKw("WITH"):
			p.pos++
			c, err := p.parseWith()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)

		case p.peekKw("RETURN"):
			p.pos++
			c, err := p.parseReturn()
			if err != nil {
				return nil, err
			}
			q.Clauses = append(q.Clauses, c)
			sawReturn = true

		default:
			t := p.cur()
			return nil, syntaxErr(t.pos, t.text, "expected MATCH, OPTIONAL MATCH, WITH, or RETURN")
		}
	}

	if len(q.Clauses) == 0 {
		return nil, syntaxErr(Pos{Line: 1, Column: 1}, "", "empty query")
	}
	if !sawReturn {
		t := p.cur()
		return nil, syntaxErr(t.pos, t.text, "query must end with RETURN")
	}
	return q, nil
}

func (p *parser) parseMatch(optional bool) (*MatchClause, error) {
	c := &MatchClause{Optional: optional}
	for {
		part, err := p.parsePatternPart()
		if err != nil {
			return nil, err
		}
		c.Parts = append(c.Parts, part)
		if !p.accept(tokComma) {
			break
		}
	}
	if p.acceptKw("WHERE") {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Where = expr
	}
	return c, nil
}

func (p *parser) parsePatternPart() (PatternPart, error) {
	var part PatternPart
	node, err := p.parseNodePattern()
	if err != nil {
		return part, err
	}
	part.Nodes = append(part.Nodes, node)

	for {
		t := p.cur()
		if t.kind != tokMinus && t.kind != tokArrowLeft {
			break
		}
		rel, err := p.parseRelPattern()
		if err != nil {
			return part, err
		}
		next, err := p.parseNodePattern()
		if err != nil {
			return part, err
		}
		part.Rels = append(part.Rels, rel)
		part.Nodes = append(part.Nodes, next)
	}
	return part, nil
}

func (p *parser) parseNodePattern() (NodePattern, error) {
	var n NodePattern
	if _, err := p.expect(tokLParen, "'(' to start node pattern"); err != nil {
		return n, err
	}
	if p.cur().kind == tokIdent {
		n.Alias = p.next().text
	}
	for p.accept(tokColon) {
		t, err := p.expect(tokIdent, "label name")
		if err != nil {
			return n, err
		}
		n.Labels = append(n.Labels, t.text)
	}
	if p.cur().kind == tokLBrace {
		props, err := p.parsePropertyMap()
		if err != nil {
			return n, err
		}
		n.Properties = props
	}
	if _, err := p.expect(tokRParen, "')' to close node pattern"); err != nil {
		return n, err
	}
	return n, nil
}

func (p *parser) parseRelPattern() (RelPattern, error) {
	rel := RelPattern{Direction: DirEither, MinHops: 1, MaxHops: 1}

	leftArrow := false
	switch p.cur().kind {
	case tokArrowLeft:
		leftArrow = true
		p.pos++
	case tokMinus:
		p.pos++
	}

	if p.accept(tokLBracket) {
		if p.cur().kind == tokIdent {
			rel.Alias = p.next().text
		}
		if p.accept(tokColon) {
			for {
				t, err := p.expect(tokIdent, "relationship type")
				if err != nil {
					return rel, err
				}
				rel.Types = append(rel.Types, t.text)
				if !p.accept(tokPipe) {
					break
				}
				// Tolerate the `:A|:B` spelling.
				p.accept(tokColon)
			}
		}
		if p.accept(tokStar) {
			if err := p.parseHopRange(&rel); err != nil {
				return rel, err
			}
		}
		if p.cur().kind == tokLBrace {
			props, err := p.parsePropertyMap()
			if err != nil {
				return rel, err
			}
			rel.Properties = props
		}
		if _, err := p.expect(tokRBracket, "']' to close relationship pattern"); err != nil {
			return rel, err
		}
	}

	t := p.cur()
	switch {
	case leftArrow && t.kind == tokMinus:
		rel.Direction = DirBackward
		p.pos++
	case !leftArrow && t.kind == tokArrowRight:
		rel.Direction = DirForward
		p.pos++
	case !leftArrow && t.kind == tokMinus:
		rel.Direction = DirEither
		p.pos++
	default:
		return rel, syntaxErr(t.pos, t.text, "expected '-' or '->' to close relationship pattern")
	}
	return rel, nil
}

// parseHopRange parses the tail of a variable-length marker after '*'.
// Accepted forms: `*`, `*n`, `*n..`, `*..m`, `*n..m`.
func (p *parser) parseHopRange(rel *RelPattern) error {
	rel.VarLength = true
	rel.MinHops = 1
	rel.MaxHops = -1

	if p.cur().kind == tokInt {
		t := p.next()
		n, err := parseIntLiteral(t)
		if err != nil {
			return err
		}
		rel.MinHops = int(n)
		rel.MaxHops = int(n)
		if p.accept(tokDotDot) {
			rel.MaxHops = -1
			if p.cur().kind == tokInt {
				t := p.next()
				m, err := parseIntLiteral(t)
				if err != nil {
					return err
				}
				rel.MaxHops = int(m)
			}
		}
		return nil
	}
	if p.accept(tokDotDot) {
		if p.cur().kind == tokInt {
			t := p.next()
			m, err := parseIntLiteral(t)
			if err != nil {
				return err
			}
			rel.MaxHops = int(m)
		}
	}
	return nil
}

func (p *parser) parsePropertyMap() ([]PropertyValue, error) {
	if _, err := p.expect(tokLBrace, "'{'"); err != nil {
		return nil, err
	}
	var props []PropertyValue
	if p.accept(tokRBrace) {
		return props, nil
	}
	for {
		key, err := p.expect(tokIdent, "property name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokColon, "':' after property name"); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		props = append(props, PropertyValue{Key: key.text, Value: value})
		if !p.accept(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRBrace, "'}' to close property map"); err != nil {
		return nil, err
	}
	return props, nil
}

func (p *parser) parseWith() (*WithClause, error) {
	c := &WithClause{}
	if p.acceptKw("DISTINCT") {
		c.Distinct = true
	}
	items, err := p.parseReturnItems()
	if err != nil {
		return nil, err
	}
	c.Items = items

	c.OrderBy, c.Skip, c.Limit, err = p.parseModifiers()
	if err != nil {
		return nil, err
	}
	if p.acceptKw("WHERE") {
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Where = expr
	}
	return c, nil
}

func (p *parser) parseReturn() (*ReturnClause, error) {
	c := &ReturnClause{}
	if p.acceptKw("DISTINCT") {
		c.Distinct = true
	}
	items, err := p.parseReturnItems()
	if err != nil {
		return nil, err
	}
	c.Items = items

	c.OrderBy, c.Skip, c.Limit, err = p.parseModifiers()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseModifiers() (orderBy []OrderItem, skip, limit *int64, err error) {
	if p.peekKw("ORDER") {
		p.pos++
		if err = p.expectKw("BY"); err != nil {
			return nil, nil, nil, err
		}
		for {
			expr, e := p.parseExpr()
			if e != nil {
				return nil, nil, nil, e
			}
			item := OrderItem{Expr: expr}
			if p.acceptKw("DESC") || p.acceptKw("DESCENDING") {
				item.Descending = true
			} else {
				p.acceptKw("ASC")
				p.acceptKw("ASCENDING")
			}
			orderBy = append(orderBy, item)
			if !p.accept(tokComma) {
				break
			}
		}
	}
	if p.acceptKw("SKIP") {
		t, e := p.expect(tokInt, "integer after SKIP")
		if e != nil {
			return nil, nil, nil, e
		}
		n, e := parseIntLiteral(t)
		if e != nil {
			return nil, nil, nil, e
		}
		skip = &n
	}
	if p.acceptKw("LIMIT") {
		t, e := p.expect(tokInt, "integer after LIMIT")
		if e != nil {
			return nil, nil, nil, e
		}
		n, e := parseIntLiteral(t)
		if e != nil {
			return nil, nil, nil, e
		}
		limit = &n
	}
	return orderBy, skip, limit, nil
}

func (p *parser) parseReturnItems() ([]ReturnItem, error) {
	var items []ReturnItem
	for {
		start := p.cur().offset
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		end := p.tokens[p.pos-1].end
		item := ReturnItem{Expr: expr, Text: strings.TrimSpace(p.src[start:end])}
		if p.acceptKw("AS") {
			t, err := p.expect(tokIdent, "alias after AS")
			if err != nil {
				return nil, err
			}
			item.Alias = t.text
		}
		items = append(items, item)
		if !p.accept(tokComma) {
			break
		}
	}
	return items, nil
}

// Expression parsing, loosest binding first.

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKw("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKw("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.acceptKw("NOT") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	var op string
	switch t := p.cur(); {
	case t.kind == tokEq:
		op = "="
	case t.kind == tokNeq:
		op = "<>"
	case t.kind == tokLt:
		op = "<"
	case t.kind == tokLte:
		op = "<="
	case t.kind == tokGt:
		op = ">"
	case t.kind == tokGte:
		op = ">="
	case p.peekKw("IN"):
		op = "IN"
	case p.peekKw("CONTAINS"):
		op = "CONTAINS"
	case p.peekKw("STARTS"):
		p.pos++
		if err := p.expectKw("WITH"); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "STARTS WITH", Left: left, Right: right}, nil
	case p.peekKw("ENDS"):
		p.pos++
		if err := p.expectKw("WITH"); err != nil {
			return nil, err
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: "ENDS WITH", Left: left, Right: right}, nil
	case p.peekKw("IS"):
		p.pos++
		negated := p.acceptKw("NOT")
		if err := p.expectKw("NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{Operand: left, Negated: negated}, nil
	default:
		return left, nil
	}
	p.pos++
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.cur().kind {
		case tokPlus:
			op = "+"
		case tokMinus:
			op = "-"
		default:
			return left, nil
		}
		p.pos++
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.cur().kind {
		case tokStar:
			op = "*"
		case tokSlash:
			op = "/"
		case tokPercent:
			op = "%"
		default:
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if p.accept(tokMinus) {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.kind {
	case tokInt:
		p.pos++
		n, err := parseIntLiteral(t)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: n}, nil

	case tokFloat:
		p.pos++
		f, err := parseFloatLiteral(t)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: f}, nil

	case tokString:
		p.pos++
		return &Literal{Value: t.text}, nil

	case tokParam:
		p.pos++
		return &Parameter{Name: t.text}, nil

	case tokLBracket:
		p.pos++
		list := &ListExpr{}
		if p.accept(tokRBracket) {
			return list, nil
		}
		for {
			item, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			list.Items = append(list.Items, item)
			if !p.accept(tokComma) {
				break
			}
		}
		if _, err := p.expect(tokRBracket, "']' to close list"); err != nil {
			return nil, err
		}
		return list, nil

	case tokLParen:
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil

	case tokIdent:
		switch {
		case strings.EqualFold(t.text, "true"):
			p.pos++
			return &Literal{Value: true}, nil
		case strings.EqualFold(t.text, "false"):
			p.pos++
			return &Literal{Value: false}, nil
		case strings.EqualFold(t.text, "null"):
			p.pos++
			return &Literal{Value: nil}, nil
		}
		p.pos++
		if p.accept(tokLParen) {
			return p.parseFuncCall(t.text)
		}
		if p.accept(tokDot) {
			prop, err := p.expect(tokIdent, "property name after '.'")
			if err != nil {
				return nil, err
			}
			return &PropertyRef{Alias: t.text, Property: prop.text}, nil
		}
		return &AliasRef{Name: t.text}, nil
	}

	return nil, syntaxErr(t.pos, t.text, "expected expression")
}

func (p *parser) parseFuncCall(name string) (Expr, error) {
	call := &FuncCall{Name: strings.ToLower(name)}
	if p.accept(tokStar) {
		call.Star = true
		if _, err := p.expect(tokRParen, "')' after '*'"); err != nil {
			return nil, err
		}
		return call, nil
	}
	if p.accept(tokRParen) {
		return call, nil
	}
	if p.acceptKw("DISTINCT") {
		call.Distinct = true
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		if !p.accept(tokComma) {
			break
		}
	}
	if _, err := p.expect(tokRParen, "')' to close argument list"); err != nil {
		return nil, err
	}
	return call, nil
}
