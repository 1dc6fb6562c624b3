package mailer

import (
	"strings"

	"golang.org/x/net/html"
)

// Elements that start a new line in the plain text rendition.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "ul": true, "ol": true, "blockquote": true, "hr": true,
}

var spaces = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")

// htmlToText strips markup from an HTML body for the text/plain part.
func htmlToText(body string) string {
	var (
		z    = html.NewTokenizer(strings.NewReader(body))
		out  strings.Builder
		skip int
		href string
	)

	newline := func() {
		s := out.String()
		if s != "" && !strings.HasSuffix(s, "\n") {
			out.WriteString("\n")
		}
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			return tidy(out.String())

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "script", "style", "head", "title":
				if tok.Type == html.StartTagToken {
					skip++
				}
			case "a":
				href = ""
				for _, a := range tok.Attr {
					if a.Key == "href" && strings.HasPrefix(a.Val, "http") {
						href = a.Val
					}
				}
			default:
				if blockTags[tok.Data] {
					newline()
				}
			}

		case html.EndTagToken:
			tok := z.Token()
			switch tok.Data {
			case "script", "style", "head", "title":
				if skip > 0 {
					skip--
				}
			case "a":
				if href != "" {
					out.WriteString(" (" + href + ")")
					href = ""
				}
			default:
				if blockTags[tok.Data] {
					newline()
				}
			}

		case html.TextToken:
			if skip > 0 {
				continue
			}
			out.WriteString(spaces.Replace(string(z.Text())))
		}
	}
}

// tidy collapses the whitespace in every line and drops blank ones.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}

	return strings.Join(out, "\n")
}
