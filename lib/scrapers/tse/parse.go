package tse

import (
	"errors"
	"fmt"
	"strings"

	"cedulacheck/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

var ErrStatusNotFound = errors.New("could not find deceased status on the details page")

// UnrecognizedStatusError is returned when the status element renders
// something other than the two known values.
type UnrecognizedStatusError struct {
	Value string
}

func (e *UnrecognizedStatusError) Error() string {
	return fmt.Sprintf("unrecognized deceased status value: %q", e.Value)
}

// ParseDeceased reads the deceased flag from the details page. The
// registry renders exactly "SI" or "NO" in span#lblfallecido; anything
// else is surfaced rather than guessed at.
func ParseDeceased(doc *goquery.Document) (bool, error) {
	sel := doc.Find("span#lblfallecido")
	if len(sel.Nodes) == 0 {
		return false, ErrStatusNotFound
	}

	value := strings.ToUpper(htmlutil.NormalizeSpace(sel.First().Text()))
	switch value {
	case "SI":
		return true, nil
	case "NO":
		return false, nil
	}
	return false, &UnrecognizedStatusError{Value: value}
}

// ParseDetails collects the label/value pairs from the details page:
// each td.label cell is paired with the text of the nearest td that
// follows it. Labels without a following cell are skipped.
func ParseDetails(doc *goquery.Document) map[string]string {
	details := map[string]string{}
	doc.Find("td.label").Each(func(_ int, label *goquery.Selection) {
		key := htmlutil.NormalizeSpace(label.Text())
		if key == "" {
			return
		}
		value := label.NextAllFiltered("td").First()
		if len(value.Nodes) == 0 {
			return
		}
		details[key] = htmlutil.NormalizeSpace(value.Text())
	})
	return details
}
