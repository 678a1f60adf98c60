// Package attribute validates loosely-typed attribute values against the
// attribute definitions of a product class.
package attribute

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"marketplace-catalog-service/internal/domain"
)

// ErrInvalidValue marks a raw value that cannot be coerced to the
// attribute's declared type, or an option outside the enumerated set.
var ErrInvalidValue = errors.New("attribute: invalid value")

// Validate coerces raw (as decoded from JSON: string, float64, bool or
// []interface{}) into the canonical string form for def's type.
// It is side-effect-free.
func Validate(def domain.ProductAttribute, raw interface{}) (string, error) {
	switch def.Type {
	case domain.AttributeText:
		s, ok := raw.(string)
		if !ok {
			return "", typeErr(def, "expected a string")
		}
		return s, nil

	case domain.AttributeInteger:
		return validateInteger(def, raw)

	case domain.AttributeFloat:
		return validateFloat(def, raw)

	case domain.AttributeBoolean:
		switch v := raw.(type) {
		case bool:
			return strconv.FormatBool(v), nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return "", typeErr(def, "expected a boolean")
			}
			return strconv.FormatBool(b), nil
		}
		return "", typeErr(def, "expected a boolean")

	case domain.AttributeOption:
		s, ok := raw.(string)
		if !ok {
			return "", typeErr(def, "expected an option name")
		}
		if !hasOption(def, s) {
			return "", typeErr(def, fmt.Sprintf("%q is not among the allowed options", s))
		}
		return s, nil

	case domain.AttributeMultiOption:
		return validateMultiOption(def, raw)
	}
	return "", typeErr(def, fmt.Sprintf("unknown attribute type %q", def.Type))
}

func validateInteger(def domain.ProductAttribute, raw interface{}) (string, error) {
	switch v := raw.(type) {
	case float64:
		// math.MaxInt64 rounds up to 2^63 as a float64, so >= keeps the
		// conversion below inside int64 range.
		if v != math.Trunc(v) || v < math.MinInt64 || v >= math.MaxInt64 {
			return "", typeErr(def, "expected an integer")
		}
		return strconv.FormatInt(int64(v), 10), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return "", typeErr(def, "expected an integer")
		}
		return strconv.FormatInt(n, 10), nil
	}
	return "", typeErr(def, "expected an integer")
}

func validateFloat(def domain.ProductAttribute, raw interface{}) (string, error) {
	switch v := raw.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return "", typeErr(def, "expected a number")
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return "", typeErr(def, "expected a number")
}

func validateMultiOption(def domain.ProductAttribute, raw interface{}) (string, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return "", typeErr(def, "expected a list of option names")
	}
	selected := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return "", typeErr(def, "expected a list of option names")
		}
		if !hasOption(def, s) {
			return "", typeErr(def, fmt.Sprintf("%q is not among the allowed options", s))
		}
		selected = append(selected, s)
	}
	// Canonical form is a JSON array so multi-valued attributes stay
	// machine-readable in a single column.
	encoded, err := json.Marshal(selected)
	if err != nil {
		return "", typeErr(def, "could not encode options")
	}
	return string(encoded), nil
}

func hasOption(def domain.ProductAttribute, s string) bool {
	for _, opt := range def.Options {
		if opt == s {
			return true
		}
	}
	return false
}

func typeErr(def domain.ProductAttribute, reason string) error {
	return fmt.Errorf("%w: attribute %q: %s", ErrInvalidValue, def.Code, reason)
}
