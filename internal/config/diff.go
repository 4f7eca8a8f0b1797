package config

import (
	"encoding/json"
	"reflect"
	"sort"
)

// DiffPaths returns the dotted paths whose values differ between two raw
// config documents. Nested objects are descended; arrays and scalars are
// compared wholesale at their own path. The result is sorted.
func DiffPaths(prevRaw, nextRaw []byte) []string {
	var prev, next map[string]interface{}
	if len(prevRaw) > 0 {
		_ = json.Unmarshal(prevRaw, &prev)
	}
	if len(nextRaw) > 0 {
		_ = json.Unmarshal(nextRaw, &next)
	}

	seen := map[string]struct{}{}
	diffInto("", prev, next, seen)

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func diffInto(prefix string, prev, next map[string]interface{}, out map[string]struct{}) {
	keys := map[string]struct{}{}
	for k := range prev {
		keys[k] = struct{}{}
	}
	for k := range next {
		keys[k] = struct{}{}
	}

	for k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		pv, pOK := prev[k]
		nv, nOK := next[k]
		if !pOK || !nOK {
			out[path] = struct{}{}
			continue
		}

		pm, pIsMap := pv.(map[string]interface{})
		nm, nIsMap := nv.(map[string]interface{})
		if pIsMap && nIsMap {
			diffInto(path, pm, nm, out)
			continue
		}

		if !reflect.DeepEqual(pv, nv) {
			out[path] = struct{}{}
		}
	}
}
