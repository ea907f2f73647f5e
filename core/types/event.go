package types

// Event is a structured state-change notification produced while applying a
// block. Events are advisory for indexers and RPC subscribers; they carry no
// consensus weight.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
