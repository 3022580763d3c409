// Package expr defines the expression tree emitted by the metric query
// builder and consumed by the external columnar analytics engine. A node is
// a function name plus an ordered argument list and an optional alias; the
// engine's transport format is out of scope here.
package expr

import (
	"fmt"
	"strings"
)

// Expression is a node in the query expression tree.
type Expression interface {
	exprNode()
	String() string
}

// Function represents a function invocation, the only composite node kind.
type Function struct {
	Name  string
	Args  []Expression
	Alias string
}

func (f *Function) exprNode() {}

// String returns the rendered form of the function call.
func (f *Function) String() string {
	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		args[i] = arg.String()
	}
	rendered := fmt.Sprintf("%s(%s)", f.Name, strings.Join(args, ", "))
	if f.Alias != "" {
		return fmt.Sprintf("%s AS %s", rendered, f.Alias)
	}
	return rendered
}

// NewFunction creates a function node without an alias.
func NewFunction(name string, args ...Expression) *Function {
	return &Function{Name: name, Args: args}
}

// NewAliasedFunction creates a function node carrying a result alias.
func NewAliasedFunction(name string, alias string, args ...Expression) *Function {
	return &Function{Name: name, Args: args, Alias: alias}
}

// Column references a backend column by name.
type Column struct {
	Name string
}

func (c *Column) exprNode() {}

// String returns the column name.
func (c *Column) String() string {
	return c.Name
}

// NewColumn creates a column reference.
func NewColumn(name string) *Column {
	return &Column{Name: name}
}

// Literal is a scalar constant: string, int64, uint64, float64, or bool.
type Literal struct {
	Value interface{}
}

func (l *Literal) exprNode() {}

// String returns the rendered literal.
func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case string:
		escaped := strings.ReplaceAll(v, "'", "''")
		return fmt.Sprintf("'%s'", escaped)
	case nil:
		return "NULL"
	case int64:
		return fmt.Sprintf("%d", v)
	case uint64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%g", v)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Str creates a string literal.
func Str(v string) *Literal {
	return &Literal{Value: v}
}

// Int creates an integer literal.
func Int(v int64) *Literal {
	return &Literal{Value: v}
}

// Float creates a float literal.
func Float(v float64) *Literal {
	return &Literal{Value: v}
}

// Value wraps an arbitrary scalar produced by tag resolution. Resolved tag
// values are strings or integers depending on the backend's value mode.
func Value(v interface{}) *Literal {
	return &Literal{Value: v}
}

// Tuple is a fixed-arity ordered grouping, rendered as (a, b).
// The threshold cascade uses (metric, threshold) pairs and
// (project_id, transaction) compound keys.
type Tuple struct {
	Items []Expression
}

func (t *Tuple) exprNode() {}

// String returns the rendered tuple.
func (t *Tuple) String() string {
	items := make([]string, len(t.Items))
	for i, item := range t.Items {
		items[i] = item.String()
	}
	return fmt.Sprintf("(%s)", strings.Join(items, ", "))
}

// NewTuple creates a tuple node.
func NewTuple(items ...Expression) *Tuple {
	return &Tuple{Items: items}
}

// List is a variable-length array argument, rendered as [a, b, c].
// The threshold cascade uses parallel key and value arrays; metric-id
// filters use integer lists.
type List struct {
	Items []Expression
}

func (l *List) exprNode() {}

// String returns the rendered list.
func (l *List) String() string {
	items := make([]string, len(l.Items))
	for i, item := range l.Items {
		items[i] = item.String()
	}
	return fmt.Sprintf("[%s]", strings.Join(items, ", "))
}

// NewList creates a list node.
func NewList(items ...Expression) *List {
	return &List{Items: items}
}

// IntList creates a list of integer literals, preserving input order.
func IntList(values []int64) *List {
	items := make([]Expression, len(values))
	for i, v := range values {
		items[i] = Int(v)
	}
	return &List{Items: items}
}

// ValueList creates a list from resolved tag values, preserving input order.
func ValueList(values []interface{}) *List {
	items := make([]Expression, len(values))
	for i, v := range values {
		items[i] = Value(v)
	}
	return &List{Items: items}
}
