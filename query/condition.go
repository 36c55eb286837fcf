// Package query evaluates structured conditions against stored values and
// provides multi-key sorting and field projection over the results.
//
// A condition is parsed once into a tree of Literal, Operators and Fields
// nodes. Parsing is the only step that can fail: unknown operator tokens and
// malformed patterns are rejected there, and matching a parsed condition is
// total for every candidate value.
package query

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidCondition is returned when a condition can't be parsed.
	ErrInvalidCondition = errors.New("invalid condition")
	// ErrUnknownOperator is returned for a $-prefixed key that is not an operator.
	ErrUnknownOperator = errors.New("unknown operator")
)

// Op is an operator token.
type Op string

const (
	Eq     Op = "$eq"
	Ne     Op = "$ne"
	Gt     Op = "$gt"
	Gte    Op = "$gte"
	Lt     Op = "$lt"
	Lte    Op = "$lte"
	In     Op = "$in"
	Nin    Op = "$nin"
	Regex  Op = "$regex"
	Exists Op = "$exists"
	Type   Op = "$type"
	And    Op = "$and"
	Or     Op = "$or"
	Not    Op = "$not"
)

// OpPrefix marks a key as an operator token.
const OpPrefix = "$"

var operators = map[Op]bool{
	Eq: true, Ne: true, Gt: true, Gte: true, Lt: true, Lte: true,
	In: true, Nin: true, Regex: true, Exists: true, Type: true,
	And: true, Or: true, Not: true,
}

// IsOperator reports whether key is written as an operator token.
func IsOperator(key string) bool {
	return strings.HasPrefix(key, OpPrefix)
}

// Condition is a parsed condition node: Literal, Operators or Fields.
type Condition interface {
	condition()
}

// Literal matches by deep equality.
type Literal struct {
	Value interface{}
}

// Operator is one operator applied to the candidate.
type Operator struct {
	Op Op
	// Operand of comparison, $exists and $type operators
	Operand interface{}
	// Members of $in / $nin
	Set []interface{}
	// Compiled $regex
	Pattern *regexp.Regexp
	// Sub conditions of $and / $or
	Conditions []Condition
	// Sub condition of $not
	Negated Condition
}

// Operators is a map whose keys are all operator tokens. Every operator must hold.
type Operators []Operator

// Field applies a condition to the value at a dotted path.
type Field struct {
	Path      string
	Condition Condition
}

// Fields is a field map, optionally with object level operators next to the paths.
type Fields struct {
	Ops   Operators
	Paths []Field
}

func (Literal) condition()   {}
func (Operators) condition() {}
func (Fields) condition()    {}

// Parse builds a condition from a decoded value: maps become operator or
// field maps, anything else is a literal.
func Parse(v interface{}) (Condition, error) {
	if c, ok := v.(Condition); ok {
		return c, nil
	}

	obj, ok := asObject(v)
	if !ok {
		return Literal{Value: v}, nil
	}

	keys := make([]string, 0, len(obj))
	allOps := len(obj) > 0
	for k := range obj {
		keys = append(keys, k)
		if !IsOperator(k) {
			allOps = false
		}
	}
	sort.Strings(keys)

	if allOps {
		ops := make(Operators, 0, len(keys))
		for _, k := range keys {
			op, err := parseOperator(k, obj[k])
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
		}
		return ops, nil
	}

	var f Fields
	for _, k := range keys {
		if IsOperator(k) {
			op, err := parseOperator(k, obj[k])
			if err != nil {
				return nil, err
			}
			f.Ops = append(f.Ops, op)
			continue
		}
		sub, err := Parse(obj[k])
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", k)
		}
		f.Paths = append(f.Paths, Field{Path: k, Condition: sub})
	}
	return f, nil
}

// MustParse is like Parse but panics on error.
func MustParse(v interface{}) Condition {
	c, err := Parse(v)
	if err != nil {
		panic(err)
	}
	return c
}

func parseOperator(key string, operand interface{}) (Operator, error) {
	op := Op(key)
	if !operators[op] {
		return Operator{}, errors.Wrap(ErrUnknownOperator, key)
	}

	o := Operator{Op: op}
	switch op {
	case Eq, Ne, Gt, Gte, Lt, Lte:
		o.Operand = operand
	case In, Nin:
		if items, ok := asSlice(operand); ok {
			o.Set = items
		} else {
			o.Set = []interface{}{operand}
		}
	case Regex:
		re, err := compilePattern(operand)
		if err != nil {
			return Operator{}, err
		}
		o.Pattern = re
	case Exists:
		o.Operand = truthy(operand)
	case Type:
		tag, ok := operand.(string)
		if !ok {
			return Operator{}, errors.Wrapf(ErrInvalidCondition, "%s operand must be a string, got %T", key, operand)
		}
		o.Operand = tag
	case And, Or:
		items, ok := asSlice(operand)
		if !ok {
			return Operator{}, errors.Wrapf(ErrInvalidCondition, "%s operand must be a list, got %T", key, operand)
		}
		for _, item := range items {
			c, err := Parse(item)
			if err != nil {
				return Operator{}, err
			}
			o.Conditions = append(o.Conditions, c)
		}
	case Not:
		c, err := Parse(operand)
		if err != nil {
			return Operator{}, err
		}
		o.Negated = c
	}
	return o, nil
}

func compilePattern(operand interface{}) (*regexp.Regexp, error) {
	switch p := operand.(type) {
	case *regexp.Regexp:
		if p == nil {
			break
		}
		return p, nil
	case string:
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidCondition, "$regex: %v", err)
		}
		return re, nil
	}
	return nil, errors.Wrapf(ErrInvalidCondition, "$regex operand must be a pattern, got %T", operand)
}
