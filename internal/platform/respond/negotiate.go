package respond

import (
	"strconv"
	"strings"
)

type acceptRange struct {
	typ     string
	subtype string
	q       float64
}

// parseAccept splits an Accept header into media ranges. Media types are
// lowercased, a bare type means type/*, and a missing or malformed q is 1.
func parseAccept(header string) []acceptRange {
	var ranges []acceptRange
	for part := range strings.SplitSeq(header, ",") {
		params := strings.Split(part, ";")
		mediaType := strings.ToLower(strings.TrimSpace(params[0]))
		if mediaType == "" {
			continue
		}

		ar := acceptRange{q: 1.0}
		if typ, sub, ok := strings.Cut(mediaType, "/"); ok {
			ar.typ, ar.subtype = strings.TrimSpace(typ), strings.TrimSpace(sub)
		} else {
			ar.typ, ar.subtype = mediaType, "*"
		}

		for _, p := range params[1:] {
			key, val, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
				continue
			}
			q, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil || q < 0 || q > 1 {
				q = 1.0
			}
			ar.q = q
		}
		ranges = append(ranges, ar)
	}
	return ranges
}

// Specificity of a range for one format. Higher wins when q values tie.
const (
	specNone = iota - 1
	specAny
	specApplicationAny
	specSuffix
	specExact
	specProblem
)

// matchFormats reports how specifically ar names JSON and CBOR.
func matchFormats(ar acceptRange) (jsonSpec, cborSpec int) {
	switch {
	case ar.typ == "*" && ar.subtype == "*":
		return specAny, specAny
	case ar.typ != "application":
		return specNone, specNone
	}
	switch ar.subtype {
	case "*":
		return specApplicationAny, specApplicationAny
	case "*+json":
		return specSuffix, specNone
	case "*+cbor":
		return specNone, specSuffix
	case "json":
		return specExact, specNone
	case "cbor":
		return specNone, specExact
	case "problem+json":
		return specProblem, specNone
	case "problem+cbor":
		return specNone, specProblem
	}
	return specNone, specNone
}

type preference struct {
	q    float64
	spec int
}

func (p preference) better(o preference) bool {
	return p.q > o.q || (p.q == o.q && p.spec > o.spec)
}

// selectFormat reports whether CBOR should be used for the given Accept
// header. The q value ranks first and specificity breaks ties. JSON wins any
// remaining tie and is the fallback when neither format is acceptable.
func selectFormat(accept string) bool {
	bestJSON := preference{spec: specNone}
	bestCBOR := preference{spec: specNone}
	for _, ar := range parseAccept(accept) {
		if ar.q == 0 {
			continue
		}
		jsonSpec, cborSpec := matchFormats(ar)
		if jsonSpec != specNone {
			if p := (preference{ar.q, jsonSpec}); p.better(bestJSON) {
				bestJSON = p
			}
		}
		if cborSpec != specNone {
			if p := (preference{ar.q, cborSpec}); p.better(bestCBOR) {
				bestCBOR = p
			}
		}
	}
	if bestCBOR.spec == specNone {
		return false
	}
	return bestCBOR.better(bestJSON)
}
