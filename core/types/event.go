package types

// Event is a structured record describing a state change in the settlement
// engine. Attributes hold string-encoded fields so the payload can cross the
// RPC boundary without further conversion.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
