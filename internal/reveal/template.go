package reveal

import (
	"fmt"
	"strconv"
	"strings"

	domainerrors "github.com/revealrank/revealrank/internal/errors"
	"github.com/revealrank/revealrank/internal/validation"
)

// ErrTemplateDerivation reports a revealed URI that does not contain its item ID.
var ErrTemplateDerivation = domainerrors.Configuration("reveal: item id not found in uri")

// DeriveTemplate replaces the right-most occurrence of id in uri, bounded by
// non-digits, with the {id} placeholder.
func DeriveTemplate(uri string, id int) (string, error) {
	needle := strconv.Itoa(id)
	end := len(uri)
	for end > 0 {
		idx := strings.LastIndex(uri[:end], needle)
		if idx < 0 {
			break
		}
		after := idx + len(needle)
		if !isDigitAt(uri, idx-1) && !isDigitAt(uri, after) {
			return uri[:idx] + validation.IDPlaceholder + uri[after:], nil
		}
		end = idx + len(needle) - 1
	}
	return "", fmt.Errorf("%w: id %d in %q", ErrTemplateDerivation, id, uri)
}

// ExpandTemplate substitutes id into a template produced by DeriveTemplate.
func ExpandTemplate(template string, id int) string {
	return strings.Replace(template, validation.IDPlaceholder, strconv.Itoa(id), 1)
}

func isDigitAt(s string, i int) bool {
	return i >= 0 && i < len(s) && s[i] >= '0' && s[i] <= '9'
}
