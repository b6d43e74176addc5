package whatsapp

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Cloud API limits for interactive messages, in characters.
const (
	MaxTextBody        = 4096
	MaxInteractiveBody = 1024
	MaxButtons         = 3
	MaxButtonTitle     = 20
	MaxButtonID        = 256
	MaxListHeader      = 60
	MaxSectionTitle    = 24
	MaxRowTitle        = 24
	MaxRowDescription  = 72
	MaxRowID           = 200
	MaxRowsPerSection  = 10
	MaxSections        = 10
)

// Defaults shown to the user. ListDescription stands in for an empty prompt.
const (
	ListButtonLabel  = "Ver opções"
	ListSectionTitle = "Opções"
	ListDescription  = "Selecione uma opção"
)

// Option is one choice of a select prompt.
type Option struct {
	Text        string
	Value       string // optional row id; defaults to Text
	Description string
}

// NewText builds a plain text message, clipped to MaxTextBody.
func NewText(to, body string) OutboundMessage {
	return OutboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &TextContent{Body: Clip(body, MaxTextBody)},
	}
}

// NewSelect renders a select prompt. Up to MaxButtons options become a button
// message; more become a list message split into sections of at most
// MaxRowsPerSection rows. Options beyond MaxSections*MaxRowsPerSection are
// dropped. An empty option set renders as plain text.
func NewSelect(to, text string, options []Option) OutboundMessage {
	if len(options) == 0 {
		return NewText(to, text)
	}
	msg := OutboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
	}
	if strings.TrimSpace(text) == "" {
		text = ListDescription
	}
	if len(options) <= MaxButtons {
		msg.Interactive = buttons(text, options)
	} else {
		msg.Interactive = list(text, options)
	}
	return msg
}

func buttons(text string, options []Option) *Interactive {
	seen := make(map[string]bool, len(options))
	out := make([]ReplyButton, 0, len(options))
	for _, o := range options {
		base := o.Text
		if Slug(base, MaxButtonID) == "" {
			base = "option"
		}
		id := uniqueID(seen, base, MaxButtonID, Slug)
		out = append(out, ReplyButton{
			Type:  "reply",
			Reply: ReplyChoice{ID: id, Title: Clip(o.Text, MaxButtonTitle)},
		})
	}
	return &Interactive{
		Type:   "button",
		Body:   InteractiveBody{Text: Clip(text, MaxInteractiveBody)},
		Action: InteractiveAction{Buttons: out},
	}
}

func list(text string, options []Option) *Interactive {
	limit := MaxSections * MaxRowsPerSection
	if len(options) > limit {
		options = options[:limit]
	}
	var sections []ListSection
	seen := make(map[string]bool, len(options))
	for i := 0; i < len(options); i += MaxRowsPerSection {
		end := min(i+MaxRowsPerSection, len(options))
		title := ListSectionTitle
		if i > 0 {
			title = ListSectionTitle + " " + strconv.Itoa(i/MaxRowsPerSection+1)
		}
		rows := make([]ReplyChoice, 0, end-i)
		for _, o := range options[i:end] {
			id := o.Value
			if id == "" {
				id = o.Text
			}
			rows = append(rows, ReplyChoice{
				ID:          uniqueID(seen, id, MaxRowID, Clip),
				Title:       Clip(o.Text, MaxRowTitle),
				Description: Clip(o.Description, MaxRowDescription),
			})
		}
		sections = append(sections, ListSection{Title: Clip(title, MaxSectionTitle), Rows: rows})
	}
	return &Interactive{
		Type:   "list",
		Header: &InteractiveHeader{Type: "text", Text: Clip(firstLine(text), MaxListHeader)},
		Body:   InteractiveBody{Text: Clip(text, MaxInteractiveBody)},
		Action: InteractiveAction{Button: ListButtonLabel, Sections: sections},
	}
}

// uniqueID fits id into max with fit and, when that collides with an id
// already in seen, appends _2, _3, ... while keeping the result within max.
func uniqueID(seen map[string]bool, id string, max int, fit func(string, int) string) string {
	cand := fit(id, max)
	for n := 2; seen[cand]; n++ {
		suffix := "_" + strconv.Itoa(n)
		cand = fit(id, max-len(suffix)) + suffix
	}
	seen[cand] = true
	return cand
}

// Clip shortens s to at most max runes, replacing the tail with "..." when it
// had to cut.
func Clip(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug lowercases s, strips diacritics and replaces every character outside
// [a-z0-9] with '_', then cuts to max bytes.
func Slug(s string, max int) string {
	folded, _, err := transform.String(foldMarks, s)
	if err != nil {
		folded = s
	}
	folded = cases.Lower(language.Und).String(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
