// Package extract turns one tender detail page into a sparse TenderRecord.
//
// Every field is derived independently: a missing or malformed section yields
// an absent field, never an error, so structural drift in one part of the
// page cannot block the rest of the record.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/akarpov/tender-harvester/internal/crawler"
)

const (
	titlePrefix         = "Тендер: "
	registrationMarker  = "Доступно после регистрации"
	registrationPhrase  = "доступно после"
	requirementsPrefix  = "Ограничения и запреты: "
	bodySelector        = "div.tender-body"
	blockClass          = "tender-body__block"
	fieldClass          = "tender-body__field"
	labelPrice          = "Начальная цена"
	labelPlace          = "Место поставки"
	labelOrganizer      = "Организатор закупки"
	labelDeadline       = "Окончание (МСК)"
	labelPlacementPart  = "способ размещения"
	labelRestrictions   = "Ограничения и запреты"
	labelSectorPart     = "Отрасль"
	labelSourceLinkPart = "Ссылки на источники"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Extractor parses detail pages.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor.
func New(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract produces a TenderRecord from the page content. It never panics
// past this boundary: any internal fault is logged and whatever fields were
// already built (possibly none) are returned.
func (e *Extractor) Extract(content []byte, pageURL string) (rec crawler.TenderRecord) {
	rec = crawler.TenderRecord{}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extraction fault",
				zap.String("url", pageURL),
				zap.Any("fault", r),
			)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(content)))
	if err != nil {
		e.logger.Error("parse detail page failed", zap.String("url", pageURL), zap.Error(err))
		return rec
	}

	rec[crawler.FieldTitle] = extractTitle(doc, pageURL)
	rec[crawler.FieldSourceURL] = pageURL

	body := doc.Find(bodySelector).First()
	if body.Length() == 0 {
		return rec
	}

	if price, ok := extractPrice(body); ok {
		rec[crawler.FieldPrice] = price
	}
	if place, ok := extractPlace(body); ok {
		rec[crawler.FieldPlace] = place
	}
	if organizer, ok := extractOrganizer(body); ok {
		rec[crawler.FieldOrganizer] = organizer
	}
	if deadline, ok := extractDeadline(body); ok {
		rec[crawler.FieldDeadline] = deadline
	}
	if placement, ok := extractPlacement(body); ok {
		rec[crawler.FieldPlacement] = placement
	}
	if requirements, ok := extractRequirements(body); ok {
		rec[crawler.FieldRequirements] = requirements
	}
	if sector, ok := extractSector(body); ok {
		rec[crawler.FieldSector] = sector
	}
	if sources, ok := extractSourceLinks(body); ok {
		rec[crawler.FieldSourceLinks] = sources
	}
	return rec
}

// extractTitle takes the primary heading, stripping the site's label prefix,
// and falls back to the final URL path segment when no heading exists.
func extractTitle(doc *goquery.Document, pageURL string) string {
	title := strings.TrimSpace(doc.Find("h1").First().Text())
	if title == "" {
		parts := strings.Split(pageURL, "/")
		title = parts[len(parts)-1]
	}
	return strings.TrimPrefix(title, titlePrefix)
}

// extractPrice parses the integer price from the text after the price label.
// Text with no digits at all ("по запросу") yields an absent field.
func extractPrice(body *goquery.Selection) (int, bool) {
	text, ok := textAfterLabel(body, labelPrice)
	if !ok {
		return 0, false
	}
	var digits strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	price, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, false
	}
	return price, true
}

// extractPlace joins the info-text parts with a comma and appends the
// trailing link text, when present, after a literal " , " separator.
func extractPlace(body *goquery.Selection) (string, bool) {
	field, ok := fieldAfterLabel(body, labelPlace)
	if !ok {
		return "", false
	}
	var parts []string
	field.Find("span.tender-info__text").Each(func(_ int, sel *goquery.Selection) {
		parts = append(parts, strings.TrimSpace(sel.Text()))
	})
	linkText := ""
	if a := field.Find("a.tender-body__text").First(); a.Length() > 0 {
		linkText = " , " + strings.TrimSpace(a.Text())
	}
	place := strings.Join(parts, ", ") + linkText
	return place, place != ""
}

// extractOrganizer normalizes hidden organizers to the registration marker.
func extractOrganizer(body *goquery.Selection) (string, bool) {
	text, ok := textAfterLabel(body, labelOrganizer)
	if !ok {
		return "", false
	}
	if strings.Contains(strings.ToLower(text), registrationPhrase) {
		return registrationMarker, true
	}
	return text, true
}

// extractDeadline combines the date and countdown sub-elements.
func extractDeadline(body *goquery.Selection) (string, bool) {
	field, ok := fieldAfterLabel(body, labelDeadline)
	if !ok {
		return "", false
	}
	date := field.Find("span.black").First()
	countdown := field.Find("span.tender__countdown-container").First()
	switch {
	case date.Length() > 0 && countdown.Length() > 0:
		return fmt.Sprintf("%s %s", strings.TrimSpace(date.Text()), strings.TrimSpace(countdown.Text())), true
	case date.Length() > 0:
		return strings.TrimSpace(date.Text()), true
	default:
		return "", false
	}
}

// extractPlacement joins every non-empty child text node under the field
// following the placement label (matched case-insensitively by substring).
func extractPlacement(body *goquery.Selection) (string, bool) {
	label := findLabel(body, func(text string) bool {
		return strings.Contains(strings.ToLower(text), labelPlacementPart)
	})
	if label == nil {
		return "", false
	}
	field := label.NextAllFiltered("span").First()
	if field.Length() == 0 {
		return "", false
	}
	var texts []string
	field.Contents().Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			texts = append(texts, t)
		}
	})
	if len(texts) == 0 {
		return "", false
	}
	return strings.Join(texts, ", "), true
}

// extractRequirements renders list items as a 1-indexed numbered
// concatenation, or flattened text when there is no list.
func extractRequirements(body *goquery.Selection) (string, bool) {
	field, ok := fieldAfterLabel(body, labelRestrictions)
	if !ok {
		return "", false
	}
	var restrictions string
	items := field.Find("li")
	if items.Length() > 0 {
		var parts []string
		items.Each(func(i int, sel *goquery.Selection) {
			parts = append(parts, fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(sel.Text())))
		})
		restrictions = strings.Join(parts, " ")
	} else {
		restrictions = spacedText(field)
	}
	if restrictions == "" {
		return "", false
	}
	return requirementsPrefix + restrictions, true
}

// extractSector reads the list in the sibling block one step after the block
// holding the sector label; each item's link text is numbered and joined.
func extractSector(body *goquery.Selection) (string, bool) {
	label := findLabel(body, func(text string) bool {
		return strings.Contains(text, labelSectorPart)
	})
	if label == nil {
		return "", false
	}
	block := label.Closest("." + blockClass)
	if block.Length() == 0 {
		return "", false
	}
	next := block.NextAllFiltered("." + blockClass).First()
	if next.Length() == 0 {
		return "", false
	}
	field := next.Find("span." + fieldClass).First()
	if field.Length() == 0 {
		return "", false
	}
	// Numbering follows the list position, so an item without a link leaves
	// a gap instead of renumbering the rest.
	var sectors []string
	field.Find("li").Each(func(i int, li *goquery.Selection) {
		a := li.Find("a").First()
		if a.Length() == 0 {
			return
		}
		txt := whitespaceRe.ReplaceAllString(strings.TrimSpace(a.Text()), " ")
		sectors = append(sectors, fmt.Sprintf("%d. %s", i+1, txt))
	})
	if len(sectors) == 0 {
		return "", false
	}
	return strings.Join(sectors, ", "), true
}

// extractSourceLinks reads the field text inside the source-links block.
func extractSourceLinks(body *goquery.Selection) (string, bool) {
	label := findLabel(body, func(text string) bool {
		return strings.Contains(text, labelSourceLinkPart)
	})
	if label == nil {
		return "", false
	}
	block := label.Closest("div." + blockClass)
	if block.Length() == 0 {
		return "", false
	}
	field := block.Find("span." + fieldClass).First()
	if field.Length() == 0 {
		return "", false
	}
	return spacedText(field), true
}

// findLabel returns the first span in the body whose text satisfies match,
// or nil when there is none.
func findLabel(body *goquery.Selection, match func(string) bool) *goquery.Selection {
	var found *goquery.Selection
	body.Find("span").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if match(strings.TrimSpace(sel.Text())) {
			found = sel
			return false
		}
		return true
	})
	return found
}

// fieldAfterLabel locates the exact-text label span and returns its first
// following span sibling, which carries the field value on this site.
func fieldAfterLabel(body *goquery.Selection, label string) (*goquery.Selection, bool) {
	labelSel := findLabel(body, func(text string) bool { return text == label })
	if labelSel == nil {
		return nil, false
	}
	field := labelSel.NextAllFiltered("span").First()
	if field.Length() == 0 {
		return nil, false
	}
	return field, true
}

// textAfterLabel is fieldAfterLabel flattened to space-joined text.
func textAfterLabel(body *goquery.Selection, label string) (string, bool) {
	field, ok := fieldAfterLabel(body, label)
	if !ok {
		return "", false
	}
	return spacedText(field), true
}

// spacedText flattens a selection to its text nodes, trimmed and joined by
// single spaces, mirroring how the listing renders multi-line values.
func spacedText(sel *goquery.Selection) string {
	var parts []string
	for _, node := range sel.Nodes {
		collectText(node, &parts)
	}
	return strings.Join(parts, " ")
}

func collectText(node *html.Node, parts *[]string) {
	if node.Type == html.TextNode {
		if t := strings.TrimSpace(node.Data); t != "" {
			*parts = append(*parts, whitespaceRe.ReplaceAllString(t, " "))
		}
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, parts)
	}
}
