package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extract evaluates a compiled rule tree against a parsed document and
// returns a JSON-marshalable value tree. Evaluation never fails: scraped
// pages are irregular by nature, so absent matches degrade to null, empty
// string, or an empty list depending on the rule.
func Extract(doc *goquery.Document, rules Rules) map[string]any {
	return extract(doc.Selection, rules)
}

func extract(scope *goquery.Selection, rules Rules) map[string]any {
	out := make(map[string]any, len(rules))
	for key, rule := range rules {
		matches := scope.Find(rule.Selector)
		if rule.Cardinality == CardinalityList {
			list := make([]any, 0, matches.Length())
			matches.Each(func(_ int, match *goquery.Selection) {
				list = append(list, resolve(match, rule))
			})
			out[key] = list
			continue
		}
		out[key] = resolve(matches.First(), rule)
	}
	return out
}

// resolve turns a single matched element (possibly an empty selection) into
// the rule's output value.
func resolve(match *goquery.Selection, rule Rule) any {
	switch rule.Output.Kind {
	case OutputText:
		text := match.Text()
		if rule.Clean {
			trimmed := strings.TrimSpace(text)
			if trimmed == "" {
				return nil
			}
			return trimmed
		}
		return text

	case OutputHTML:
		return outerHTML(match)

	case OutputAttribute:
		return match.AttrOr(rule.Output.Attribute, "")

	case OutputTableJSON:
		records, _ := scrapeTable(match)
		return records

	case OutputTableArray:
		_, rows := scrapeTable(match)
		return rows

	case OutputNested:
		// Re-parse the matched element so nested selectors can match the
		// element itself, not only its descendants. This mirrors selecting
		// "a" at one level and referring to the same "a" one level below.
		return extract(rescope(match), rule.Output.Nested)
	}
	return nil
}

// outerHTML serializes the matched node itself, not just its inner content.
func outerHTML(match *goquery.Selection) string {
	if match.Length() == 0 {
		return ""
	}
	h, err := goquery.OuterHtml(match)
	if err != nil {
		return ""
	}
	return h
}

// rescope wraps the matched element in a throwaway document that becomes the
// evaluation scope for nested rules.
func rescope(match *goquery.Selection) *goquery.Selection {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(outerHTML(match)))
	if err != nil {
		// Unreachable in practice: the input is serialized from a parsed
		// tree. Fall back to an empty scope so extraction degrades to nulls.
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	return doc.Selection
}

// scrapeTable treats the match as a <table>-like element. Header cells from
// the first row containing <th> define the column keys; every row containing
// <td> becomes one record. A table with no header row yields empty results.
func scrapeTable(match *goquery.Selection) ([]map[string]string, [][]string) {
	records := []map[string]string{}
	rows := [][]string{}

	var headings []string
	match.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		ths := tr.Find("th")
		if ths.Length() == 0 {
			return true
		}
		ths.Each(func(_ int, th *goquery.Selection) {
			headings = append(headings, strings.TrimSpace(th.Text()))
		})
		return false
	})
	if len(headings) == 0 {
		return records, rows
	}

	match.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		record := make(map[string]string, len(headings))
		row := make([]string, len(headings))
		for i, heading := range headings {
			val := strings.TrimSpace(cells.Eq(i).Text())
			record[heading] = val
			row[i] = val
		}
		records = append(records, record)
		rows = append(rows, row)
	})
	return records, rows
}
