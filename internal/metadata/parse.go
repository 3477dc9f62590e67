package metadata

import (
	"encoding/json"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/revealrank/revealrank/internal/domain"
	domainerrors "github.com/revealrank/revealrank/internal/errors"
)

// Options controls attribute extraction.
type Options struct {
	// IncludeNumeric scores non-string attribute values as their string form.
	IncludeNumeric bool
}

// Document is the parsed form of one item metadata payload.
type Document struct {
	Name  string
	Image string
	Price *float64

	// Attributes are the scored traits, one per trait type.
	Attributes []domain.Attribute
	// Special traits carry a display_type and are never scored.
	Special []domain.Attribute
	// Excluded holds numeric traits dropped because IncludeNumeric is off.
	Excluded []domain.Attribute
}

var folder = cases.Fold()

// Parse extracts a Document from a decoded JSON payload. It fails only when the
// payload is structurally unusable; use Validate before ingesting.
func Parse(payload any, opts Options) (*Document, error) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, domainerrors.MalformedPayloadf("metadata: payload is %T, want object", payload)
	}

	doc := &Document{
		Name:  stringField(obj, "name"),
		Image: firstString(obj, "image", "image_url", "imageUrl"),
		Price: numberField(obj, "price"),
	}

	raw, present := obj["attributes"]
	if !present {
		raw = obj["traits"]
	}
	if raw == nil {
		return doc, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, domainerrors.MalformedPayloadf("metadata: attributes is %T, want array", raw)
	}

	seen := make(map[string]bool, len(list))
	for _, entry := range list {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		traitType := CanonicalTraitType(stringField(fields, "trait_type"))
		if traitType == "" {
			continue
		}

		value, numeric := attributeValue(fields["value"])
		attr := domain.Attribute{
			TraitType:   traitType,
			Value:       value,
			Numeric:     numeric,
			DisplayType: stringField(fields, "display_type"),
		}

		switch {
		case attr.DisplayType != "":
			doc.Special = append(doc.Special, attr)
		case numeric && !opts.IncludeNumeric:
			doc.Excluded = append(doc.Excluded, attr)
		case seen[traitType]:
			// One value per trait type; the first occurrence wins.
		default:
			seen[traitType] = true
			doc.Attributes = append(doc.Attributes, attr)
		}
	}
	return doc, nil
}

// Validate rejects documents that cannot be ingested for scoring.
func (d *Document) Validate() error {
	if len(d.Attributes) == 0 {
		return domainerrors.MalformedPayload("metadata: no attributes")
	}
	if d.Image == "" {
		return domainerrors.MalformedPayload("metadata: no image")
	}
	return nil
}

// TraitCount returns the number of real (non-none) scored attributes.
func (d *Document) TraitCount() int {
	n := 0
	for _, a := range d.Attributes {
		if !a.IsNone() {
			n++
		}
	}
	return n
}

// ApplyTo copies the document's content onto item.
func (d *Document) ApplyTo(item *domain.Item) {
	item.Name = d.Name
	item.Image = d.Image
	item.Price = d.Price
	item.Attributes = append([]domain.Attribute(nil), d.Attributes...)
	item.SpecialAttributes = append([]domain.Attribute(nil), d.Special...)
	item.TraitCount = d.TraitCount()
}

// CanonicalValue maps "none"/"nothing" in any case or width to domain.NoneValue.
func CanonicalValue(v string) string {
	v = strings.TrimSpace(norm.NFKC.String(v))
	switch folder.String(v) {
	case "none", "nothing":
		return domain.NoneValue
	}
	return v
}

// CanonicalTraitType trims and NFKC-normalizes a trait type name.
func CanonicalTraitType(t string) string {
	return strings.TrimSpace(norm.NFKC.String(t))
}

func attributeValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return domain.NoneValue, false
	case string:
		if strings.TrimSpace(val) == "" {
			return domain.NoneValue, false
		}
		return CanonicalValue(val), false
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return domain.NoneValue, true
		}
		return string(b), true
	}
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(obj, k); s != "" {
			return s
		}
	}
	return ""
}

func numberField(obj map[string]any, key string) *float64 {
	var f float64
	switch v := obj[key].(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}
