package store

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// PartialDoc is a flat set of dotted-path -> value assignments, e.g.
// {"access_token.invalidated": true}. Both backends decode it the same way
// and apply each assignment as its own nested JSON-path set, so a partial
// update never needs to round-trip the whole document through Go.
type PartialDoc map[string]any

// Encode marshals p to the []byte form ConditionalUpdate/BulkUpdate accept.
func (p PartialDoc) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// pathAssignment is one decoded dotted-path -> JSON-encoded-value pair,
// in a stable order so generated SQL is deterministic.
type pathAssignment struct {
	path  []string
	value []byte
}

// decodePartial parses the wire form back into ordered path assignments.
func decodePartial(raw []byte) ([]pathAssignment, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]pathAssignment, 0, len(keys))
	for _, k := range keys {
		valBytes, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		out = append(out, pathAssignment{path: strings.Split(k, "."), value: valBytes})
	}
	return out, nil
}

// assignmentsAlreadyApplied reports whether every assignment in
// assignments already holds inside the decoded document source, i.e.
// applying the partial again would change nothing. Backends call this
// before writing so that re-invalidating an already-invalidated document
// reports NoOp rather than bumping seq_no for a no-change write.
func assignmentsAlreadyApplied(source []byte, assignments []pathAssignment) bool {
	var doc map[string]any
	if err := json.Unmarshal(source, &doc); err != nil {
		return false
	}
	for _, a := range assignments {
		current, ok := navigateJSON(doc, a.path)
		if !ok {
			return false
		}
		currentBytes, err := json.Marshal(current)
		if err != nil || !bytes.Equal(currentBytes, a.value) {
			return false
		}
	}
	return true
}

// navigateJSON walks path through doc's decoded map-of-maps shape,
// returning the leaf value if every segment resolves.
func navigateJSON(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
