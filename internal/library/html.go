package library

import (
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/example/seat-scheduler/internal/domain/history"
	"github.com/example/seat-scheduler/internal/domain/reservation"
)

func parse(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	v, _ := attr(n, "class")
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}

func isElement(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && (tag == "" || n.Data == tag)
}

// findAll returns every descendant of n (n excluded) matching pred, in
// document order.
func findAll(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if pred(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if all := findAll(n, pred); len(all) > 0 {
		return all[0]
	}
	return nil
}

func byID(id string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		v, ok := attr(n, "id")
		return n.Type == html.ElementNode && ok && v == id
	}
}

func byClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Type == html.ElementNode && hasClass(n, class) }
}

func byTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return isElement(n, tag) }
}

// text is n's text content with runs of whitespace collapsed.
func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		if p.Type == html.TextNode {
			b.WriteString(p.Data)
			b.WriteByte(' ')
		}
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// timeOptions reads the "#<id> ul li a[time]" links of a time picker.
func timeOptions(doc *html.Node, id string) ([]reservation.SlotOption, bool) {
	picker := findFirst(doc, byID(id))
	if picker == nil {
		return nil, false
	}
	var out []reservation.SlotOption
	for _, li := range findAll(picker, byTag("li")) {
		for _, a := range findAll(li, byTag("a")) {
			v, ok := attr(a, "time")
			if !ok {
				continue
			}
			out = append(out, reservation.SlotOption{Value: v, Label: text(a)})
		}
	}
	return out, true
}

// historyEntries reads ".myReserveList dl" items: the dt carries the date and
// time label, the links carry the status labels.
func historyEntries(doc *html.Node) []history.Entry {
	list := findFirst(doc, byClass("myReserveList"))
	if list == nil {
		return nil
	}
	var out []history.Entry
	for _, dl := range findAll(list, byTag("dl")) {
		dt := findFirst(dl, byTag("dt"))
		if dt == nil {
			continue
		}
		e := history.Entry{Text: text(dt)}
		for _, a := range findAll(dl, byTag("a")) {
			if t := text(a); t != "" {
				e.Labels = append(e.Labels, t)
			}
		}
		out = append(out, e)
	}
	return out
}

func hasMore(doc *html.Node) bool {
	return findFirst(doc, byID("moreBtn")) != nil
}
