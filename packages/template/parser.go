package template

import "fmt"

// parser builds an expression tree from a single template expression.
// Grammar, loosest binding first:
//
//	expression := or [ "if" or "else" expression ]
//	or         := and { "or" and }
//	and        := not { "and" not }
//	not        := "not" not | comparison
//	comparison := additive { ("=="|"!="|"<"|"<="|">"|">="|"in"|"not in") additive }
//	additive   := term { ("+"|"-") term }
//	term       := unary { ("*"|"/"|"%") unary }
//	unary      := "-" unary | postfix
//	postfix    := primary { "[" expression "]" | "." ident }
type parser struct {
	lex  *lexer
	cur  token
	peek token
}

type parseError struct {
	pos int
	msg string
}

func (e *parseError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.pos, e.msg)
}

func newParser(input string) *parser {
	p := &parser{lex: newLexer(input)}
	p.advance()
	p.advance()
	return p
}

func parseExpression(input string) (node, error) {
	p := newParser(input)
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.cur.typ != tokenEOF {
		return nil, &parseError{pos: p.cur.pos, msg: fmt.Sprintf("unexpected %q", p.cur.value)}
	}
	return n, nil
}

func (p *parser) advance() {
	p.cur = p.peek
	p.peek = p.lex.nextToken()
}

func (p *parser) expect(typ tokenType, what string) (token, error) {
	if p.cur.typ != typ {
		return token{}, &parseError{pos: p.cur.pos, msg: fmt.Sprintf("expected %s, got %q", what, p.cur.value)}
	}
	tok := p.cur
	p.advance()
	return tok, nil
}

func (p *parser) curIsKeyword(kw string) bool {
	return p.cur.typ == tokenKeyword && p.cur.value == kw
}

func (p *parser) curIsOperator(ops ...string) bool {
	if p.cur.typ != tokenOperator {
		return false
	}
	for _, op := range ops {
		if p.cur.value == op {
			return true
		}
	}
	return false
}

func (p *parser) parseExpr() (node, error) {
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.curIsKeyword("if") {
		return then, nil
	}
	pos := p.cur.pos
	p.advance()

	test, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.curIsKeyword("else") {
		return nil, &parseError{pos: p.cur.pos, msg: "conditional expression is missing else"}
	}
	p.advance()

	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &condNode{pos: pos, then: then, test: test, els: els}, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.curIsKeyword("or") {
		pos := p.cur.pos
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{pos: pos, op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.curIsKeyword("and") {
		pos := p.cur.pos
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{pos: pos, op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.curIsKeyword("not") {
		pos := p.cur.pos
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryNode{pos: pos, op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.curIsOperator("==", "!=", "<", "<=", ">", ">="):
			op = p.cur.value
			p.advance()
		case p.curIsKeyword("in"):
			op = "in"
			p.advance()
		case p.curIsKeyword("not") && p.peek.typ == tokenKeyword && p.peek.value == "in":
			op = "not in"
			p.advance()
			p.advance()
		default:
			return left, nil
		}

		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{pos: left.position(), op: op, left: left, right: right}
	}
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.curIsOperator("+", "-") {
		op := p.cur.value
		pos := p.cur.pos
		p.advance()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{pos: pos, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.curIsOperator("*", "/", "%") {
		op := p.cur.value
		pos := p.cur.pos
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{pos: pos, op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.curIsOperator("-") {
		pos := p.cur.pos
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{pos: pos, op: "-", operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	target, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur.typ {
		case tokenLeftBracket:
			pos := p.cur.pos
			p.advance()
			key, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokenRightBracket, "]"); err != nil {
				return nil, err
			}
			target = &indexNode{pos: pos, target: target, key: key}
		case tokenDot:
			pos := p.cur.pos
			p.advance()
			nameTok, err := p.expect(tokenIdent, "attribute name")
			if err != nil {
				return nil, err
			}
			target = &attrNode{pos: pos, target: target, name: nameTok.value}
		default:
			return target, nil
		}
	}
}

func (p *parser) parsePrimary() (node, error) {
	switch p.cur.typ {
	case tokenNumber, tokenString:
		n := &literalNode{pos: p.cur.pos, value: p.cur.literal}
		p.advance()
		return n, nil
	case tokenKeyword:
		return p.parseKeywordLiteral()
	case tokenIdent:
		return p.parseNameOrCall()
	case tokenLeftParen:
		p.advance()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRightParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokenLeftBracket:
		return p.parseListOrComprehension()
	case tokenLeftBrace:
		return p.parseBraceLiteral()
	default:
		return nil, &parseError{pos: p.cur.pos, msg: fmt.Sprintf("unexpected %q", p.cur.value)}
	}
}

func (p *parser) parseKeywordLiteral() (node, error) {
	pos := p.cur.pos
	var value any
	switch p.cur.value {
	case "true", "True":
		value = true
	case "false", "False":
		value = false
	case "null", "None":
		value = nil
	default:
		return nil, &parseError{pos: pos, msg: fmt.Sprintf("unexpected keyword %q", p.cur.value)}
	}
	p.advance()
	return &literalNode{pos: pos, value: value}, nil
}

func (p *parser) parseNameOrCall() (node, error) {
	name := p.cur.value
	pos := p.cur.pos
	p.advance()

	if p.cur.typ != tokenLeftParen {
		return &nameNode{pos: pos, ident: name}, nil
	}
	p.advance()

	var args []node
	for p.cur.typ != tokenRightParen {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur.typ == tokenComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(tokenRightParen, ")"); err != nil {
		return nil, err
	}
	return &callNode{pos: pos, fn: name, args: args}, nil
}

func (p *parser) parseListOrComprehension() (node, error) {
	pos := p.cur.pos
	p.advance()

	if p.cur.typ == tokenRightBracket {
		p.advance()
		return &listNode{pos: pos}, nil
	}

	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if p.curIsKeyword("for") {
		comp, err := p.parseComprehensionTail(pos, listComprehension, nil, first)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRightBracket, "]"); err != nil {
			return nil, err
		}
		return comp, nil
	}

	items := []node{first}
	for p.cur.typ == tokenComma {
		p.advance()
		if p.cur.typ == tokenRightBracket {
			break
		}
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if _, err := p.expect(tokenRightBracket, "]"); err != nil {
		return nil, err
	}
	return &listNode{pos: pos, items: items}, nil
}

// parseBraceLiteral handles dict literals, set literals and both
// comprehension forms: the shape is decided by the first ":" or "for".
func (p *parser) parseBraceLiteral() (node, error) {
	pos := p.cur.pos
	p.advance()

	if p.cur.typ == tokenRightBrace {
		p.advance()
		return &mapNode{pos: pos}, nil
	}

	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if p.cur.typ == tokenColon {
		p.advance()
		firstValue, err := p.parseExpr()
		if err != nil {
			return nil, err
		}

		if p.curIsKeyword("for") {
			comp, err := p.parseComprehensionTail(pos, dictComprehension, first, firstValue)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokenRightBrace, "}"); err != nil {
				return nil, err
			}
			return comp, nil
		}

		keys := []node{first}
		values := []node{firstValue}
		for p.cur.typ == tokenComma {
			p.advance()
			if p.cur.typ == tokenRightBrace {
				break
			}
			k, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokenColon, ":"); err != nil {
				return nil, err
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			values = append(values, v)
		}
		if _, err := p.expect(tokenRightBrace, "}"); err != nil {
			return nil, err
		}
		return &mapNode{pos: pos, keys: keys, values: values}, nil
	}

	if p.curIsKeyword("for") {
		comp, err := p.parseComprehensionTail(pos, setComprehension, nil, first)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRightBrace, "}"); err != nil {
			return nil, err
		}
		return comp, nil
	}

	items := []node{first}
	for p.cur.typ == tokenComma {
		p.advance()
		if p.cur.typ == tokenRightBrace {
			break
		}
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if _, err := p.expect(tokenRightBrace, "}"); err != nil {
		return nil, err
	}
	return &setNode{pos: pos, items: items}, nil
}

func (p *parser) parseComprehensionTail(pos int, kind comprehensionKind, keyExpr, expr node) (node, error) {
	// consume "for"
	p.advance()

	var names []string
	for {
		nameTok, err := p.expect(tokenIdent, "loop variable")
		if err != nil {
			return nil, err
		}
		names = append(names, nameTok.value)
		if p.cur.typ == tokenComma {
			p.advance()
			continue
		}
		break
	}

	if !p.curIsKeyword("in") {
		return nil, &parseError{pos: p.cur.pos, msg: "comprehension is missing in"}
	}
	p.advance()

	iter, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	var filter node
	if p.curIsKeyword("if") {
		p.advance()
		filter, err = p.parseOr()
		if err != nil {
			return nil, err
		}
	}

	return &comprehensionNode{
		pos:     pos,
		kind:    kind,
		keyExpr: keyExpr,
		expr:    expr,
		names:   names,
		iter:    iter,
		filter:  filter,
	}, nil
}
