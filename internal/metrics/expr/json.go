package expr

import "encoding/json"

// JSON encoding of expression trees for API responses. Every node carries a
// "kind" discriminator so clients can rebuild the tree without reflection
// on shape.

// MarshalJSON encodes the function node.
func (f *Function) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string       `json:"kind"`
		Name  string       `json:"name"`
		Args  []Expression `json:"args"`
		Alias string       `json:"alias,omitempty"`
	}{Kind: "function", Name: f.Name, Args: f.Args, Alias: f.Alias})
}

// MarshalJSON encodes the column reference.
func (c *Column) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string `json:"kind"`
		Name string `json:"name"`
	}{Kind: "column", Name: c.Name})
}

// MarshalJSON encodes the literal value.
func (l *Literal) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string      `json:"kind"`
		Value interface{} `json:"value"`
	}{Kind: "literal", Value: l.Value})
}

// MarshalJSON encodes the tuple node.
func (t *Tuple) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string       `json:"kind"`
		Items []Expression `json:"items"`
	}{Kind: "tuple", Items: t.Items})
}

// MarshalJSON encodes the list node.
func (l *List) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind  string       `json:"kind"`
		Items []Expression `json:"items"`
	}{Kind: "list", Items: l.Items})
}
