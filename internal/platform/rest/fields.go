package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/priceoracle/internal/domain"
)

// decode parses an upstream body. Some venues wrap their JSON in text
// (JSONP callbacks, HTML error pages with an embedded object); if the body
// is not valid JSON the first {...} block is tried instead.
func decode(body []byte) (any, error) {
	v, err := decodeStrict(body)
	if err == nil {
		return v, nil
	}
	start := bytes.IndexByte(body, '{')
	end := bytes.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("rest: decode body: %w", err)
	}
	v, err2 := decodeStrict(body[start : end+1])
	if err2 != nil {
		return nil, fmt.Errorf("rest: decode body: %w", err)
	}
	return v, nil
}

func decodeStrict(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// lookup walks a dotted path through decoded JSON. Numeric segments index
// into arrays, so "data.0.bid" reads the bid of the first element.
func lookup(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// first returns the value at the first candidate path that is present.
func first(doc any, attribute string, candidates []string) (any, error) {
	for _, path := range candidates {
		if v, ok := lookup(doc, path); ok {
			return v, nil
		}
	}
	return nil, &domain.FieldMissingError{Attribute: attribute, Candidates: candidates}
}

// number converts a JSON number or numeric string. Parsing goes through
// decimal so venue strings like "0.07510000" are read exactly.
func number(v any) (float64, error) {
	var d decimal.Decimal
	var err error
	switch n := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(n.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(n))
	case float64:
		d = decimal.NewFromFloat(n)
	default:
		return 0, fmt.Errorf("rest: expected number, got %T", v)
	}
	if err != nil {
		return 0, fmt.Errorf("rest: parse number %v: %w", v, err)
	}
	return d.InexactFloat64(), nil
}

func firstNumber(doc any, attribute string, candidates []string) (float64, error) {
	v, err := first(doc, attribute, candidates)
	if err != nil {
		return 0, err
	}
	f, err := number(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", attribute, err)
	}
	return f, nil
}

// levels reads a book side. Entries may be [price, size, ...] arrays or
// objects with price/size keys, and values may be numbers or strings.
func levels(v any) ([]domain.PriceLevel, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("rest: book side is %T, not an array", v)
	}
	out := make([]domain.PriceLevel, 0, len(arr))
	for i, entry := range arr {
		var rawPrice, rawSize any
		switch e := entry.(type) {
		case []any:
			if len(e) < 2 {
				return nil, fmt.Errorf("rest: level %d has %d elements", i, len(e))
			}
			rawPrice, rawSize = e[0], e[1]
		case map[string]any:
			rawPrice, ok = pick(e, "price", "p", "px")
			if !ok {
				return nil, fmt.Errorf("rest: level %d has no price", i)
			}
			rawSize, ok = pick(e, "size", "quantity", "qty", "amount", "q")
			if !ok {
				return nil, fmt.Errorf("rest: level %d has no size", i)
			}
		default:
			return nil, fmt.Errorf("rest: level %d is %T", i, entry)
		}
		price, err := number(rawPrice)
		if err != nil {
			return nil, fmt.Errorf("rest: level %d price: %w", i, err)
		}
		size, err := number(rawSize)
		if err != nil {
			return nil, fmt.Errorf("rest: level %d size: %w", i, err)
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

func pick(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}
