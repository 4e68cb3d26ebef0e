package model

import "encoding/json"

// CanonicalContext serializes a SecurityContext for hashing. Struct field
// order is fixed at compile time, so the output is byte-stable for
// identical inputs.
func CanonicalContext(ctx *SecurityContext) []byte {
	data, err := json.Marshal(ctx)
	if err != nil {
		// SecurityContext contains only marshalable fields; an error here
		// means a programming bug, not bad input.
		panic("model: marshaling SecurityContext: " + err.Error())
	}
	return data
}

// CanonicalResults serializes a gate-result list for hashing, preserving
// the captured execution order.
func CanonicalResults(results []GateResult) []byte {
	if results == nil {
		results = []GateResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		panic("model: marshaling gate results: " + err.Error())
	}
	return data
}
