package tse

import (
	"github.com/PuerkitoBio/goquery"
)

// StateTokens is the continuation state an ASP.NET WebForms page
// embeds in hidden inputs. Every rendered page issues a fresh set and
// the next postback must echo it back verbatim, or the server rejects
// or misinterprets the request.
type StateTokens struct {
	ViewState          string
	ViewStateGenerator string
	EventValidation    string
}

func (t StateTokens) IsEmpty() bool {
	return t == StateTokens{}
}

// FormData renders the token set as the hidden fields the next
// postback must carry. The returned map is fresh on every call so a
// caller can add its own fields without touching the tokens.
func (t StateTokens) FormData() map[string]string {
	return map[string]string{
		"__VIEWSTATE":          t.ViewState,
		"__VIEWSTATEGENERATOR": t.ViewStateGenerator,
		"__EVENTVALIDATION":    t.EventValidation,
	}
}

// TokenExtractor pulls the continuation state out of a rendered page.
// The registry's page-shape assumptions live behind this interface so
// a markup change on their side only touches one component.
type TokenExtractor interface {
	Extract(doc *goquery.Document) StateTokens
}

type aspnetExtractor struct{}

// missing inputs become empty strings rather than errors. callers
// treat an all-empty set as an unexpected page (an error or redirect
// page) and abort instead of replaying empty state.
func (aspnetExtractor) Extract(doc *goquery.Document) StateTokens {
	return StateTokens{
		ViewState:          doc.Find(`input[name='__VIEWSTATE']`).AttrOr("value", ""),
		ViewStateGenerator: doc.Find(`input[name='__VIEWSTATEGENERATOR']`).AttrOr("value", ""),
		EventValidation:    doc.Find(`input[name='__EVENTVALIDATION']`).AttrOr("value", ""),
	}
}
