package query

// Matches parses the condition and matches v against it.
func Matches(v interface{}, condition interface{}) (bool, error) {
	c, err := Parse(condition)
	if err != nil {
		return false, err
	}
	return Match(v, c), nil
}

// Match reports whether v satisfies the condition. A nil condition matches
// everything.
func Match(v interface{}, c Condition) bool {
	if absent(v) {
		return matchAbsent(v, c)
	}

	switch c := c.(type) {
	case nil:
		return true
	case Literal:
		return Equal(v, c.Value)
	case Operators:
		return c.match(v)
	case Fields:
		if !c.Ops.match(v) {
			return false
		}
		for _, f := range c.Paths {
			if !Match(Get(v, f.Path), f.Condition) {
				return false
			}
		}
		return true
	}
	return false
}

// matchAbsent handles null and undefined candidates: only absent literals and
// operator maps checking existence or equality can match them.
func matchAbsent(v interface{}, c Condition) bool {
	switch c := c.(type) {
	case nil:
		return true
	case Literal:
		return Equal(v, c.Value)
	case Operators:
		if c.nullAware() {
			return c.match(v)
		}
	case Fields:
		if len(c.Paths) == 0 && c.Ops.nullAware() {
			return c.Ops.match(v)
		}
	}
	return false
}

func (ops Operators) nullAware() bool {
	for _, o := range ops {
		switch o.Op {
		case Exists, Eq, Ne:
			return true
		}
	}
	return false
}

func (ops Operators) match(v interface{}) bool {
	for _, o := range ops {
		if !o.match(v) {
			return false
		}
	}
	return true
}

func (o Operator) match(v interface{}) bool {
	switch o.Op {
	case Eq:
		return Equal(v, o.Operand)
	case Ne:
		return !Equal(v, o.Operand)
	case Gt:
		return Compare(v, o.Operand) > 0
	case Gte:
		return Compare(v, o.Operand) >= 0
	case Lt:
		return Compare(v, o.Operand) < 0
	case Lte:
		return Compare(v, o.Operand) <= 0
	case In:
		if items, ok := asSlice(v); ok {
			for _, member := range o.Set {
				for _, item := range items {
					if Equal(member, item) {
						return true
					}
				}
			}
			return false
		}
		return contains(o.Set, v)
	case Nin:
		// collections are compared whole, unlike $in
		return !contains(o.Set, v)
	case Regex:
		s, ok := v.(string)
		return ok && o.Pattern.MatchString(s)
	case Exists:
		want, _ := o.Operand.(bool)
		return !IsUndefined(v) == want
	case Type:
		tag, _ := o.Operand.(string)
		return TypeOf(v) == tag
	case And:
		for _, c := range o.Conditions {
			if !Match(v, c) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range o.Conditions {
			if Match(v, c) {
				return true
			}
		}
		return false
	case Not:
		return !Match(v, o.Negated)
	}
	return false
}

func contains(set []interface{}, v interface{}) bool {
	for _, member := range set {
		if Equal(v, member) {
			return true
		}
	}
	return false
}

// Filter returns the items whose value satisfies the condition, keeping their order.
func Filter[T any](items []T, valueOf func(T) interface{}, c Condition) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if Match(valueOf(item), c) {
			out = append(out, item)
		}
	}
	return out
}
