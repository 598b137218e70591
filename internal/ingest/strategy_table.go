package ingest

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/david/bid-tracker/internal/models"
)

var ErrNoRows = eris.New("no row strategy matched")

// rowStrategy is one way of finding listing rows and their cells on a portal page.
type rowStrategy struct {
	Name string
	Row  string
	Cell string
}

// fallbackStrategies are tried in order when the configured selector finds nothing usable.
var fallbackStrategies = []rowStrategy{
	{Name: "standard_table", Row: "table tbody tr", Cell: "td"},
	{Name: "table_with_class", Row: "table.tabHome tbody tr", Cell: "td"},
	{Name: "bonfire_table", Row: "tbody tr", Cell: "td"},
	{Name: "div_opportunity_item", Row: ".opportunity-item", Cell: "div, .opportunity-cell"},
	{Name: "div_opportunity_row", Row: ".opportunity-row", Cell: "div"},
	{Name: "generic_rows", Row: "tr", Cell: "td"},
	{Name: "div_rows", Row: "div.row, .item", Cell: "div"},
}

// minStrategyCells is the cell count the first row needs for a strategy to be accepted.
const minStrategyCells = 3

// TableAdapter reads listing tables where each row is title (with link), number, due date and
// an optional status.
type TableAdapter struct {
	Fetcher Fetcher
}

func (a *TableAdapter) Collect(ctx context.Context, src SourceConfig) (Collection, error) {
	if src.URL == "" {
		return Collection{}, eris.Errorf("source %q has no url", src.ID)
	}

	fetcher := a.Fetcher
	if cf, ok := fetcher.(*CollyFetcher); ok && !src.Fetch.IsZero() {
		fetcher = cf.WithOverrides(src.Fetch)
	}

	fetched, err := fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return Collection{}, err
	}
	defer fetched.Body.Close()

	doc, err := goquery.NewDocumentFromReader(fetched.Body)
	if err != nil {
		return Collection{}, eris.Wrapf(err, "parse %s", src.URL)
	}

	base, err := url.Parse(fetched.URL)
	if err != nil || fetched.URL == "" {
		base, _ = url.Parse(src.URL)
	}
	return ExtractTable(doc, base, src)
}

// strategiesFor puts the configured row selector first. A selector that matches a known
// strategy reuses that strategy's name and cell selector.
func strategiesFor(src SourceConfig) []rowStrategy {
	sel := strings.TrimSpace(src.Table.RowSelector)
	if sel == "" {
		return fallbackStrategies
	}
	out := make([]rowStrategy, 0, len(fallbackStrategies)+1)
	first := rowStrategy{Name: "configured", Row: sel, Cell: "td"}
	for _, s := range fallbackStrategies {
		if s.Row == sel {
			first = s
			continue
		}
		out = append(out, s)
	}
	return append([]rowStrategy{first}, out...)
}

// rowCells finds a row's cells, falling back to td and then div children.
func rowCells(row *goquery.Selection, cellSel string) *goquery.Selection {
	for _, sel := range []string{cellSel, "td", "div"} {
		if cells := row.Find(sel); cells.Length() > 0 {
			return cells
		}
	}
	return row.Find(cellSel)
}

// firstRowCells counts the cells of the first row that has any. Header rows made of th cells are
// skipped that way.
func firstRowCells(rows *goquery.Selection, cellSel string) int {
	n := 0
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		n = rowCells(row, cellSel).Length()
		return n == 0
	})
	return n
}

// ExtractTable picks the first strategy whose first data row has enough cells and maps its
// rows to candidates.
func ExtractTable(doc *goquery.Document, base *url.URL, src SourceConfig) (Collection, error) {
	for _, s := range strategiesFor(src) {
		rows := doc.Find(s.Row)
		if rows.Length() == 0 {
			continue
		}
		if n := firstRowCells(rows, s.Cell); n < minStrategyCells {
			zap.L().Debug("row strategy rejected",
				zap.String("source", src.ID),
				zap.String("strategy", s.Name),
				zap.Int("cells", n))
			continue
		}

		var out []models.Candidate
		rows.Each(func(_ int, row *goquery.Selection) {
			if c, ok := candidateFromRow(row, s.Cell, base, src); ok {
				out = append(out, c)
			}
		})
		zap.L().Info("row strategy matched",
			zap.String("source", src.ID),
			zap.String("strategy", s.Name),
			zap.Int("rows", rows.Length()),
			zap.Int("candidates", len(out)))
		return Collection{Candidates: out, Strategy: s.Name}, nil
	}
	return Collection{}, eris.Wrapf(ErrNoRows, "source %q", src.ID)
}

func candidateFromRow(row *goquery.Selection, cellSel string, base *url.URL, src SourceConfig) (models.Candidate, bool) {
	cells := rowCells(row, cellSel)
	minCells := src.Table.MinCells
	if minCells <= 0 {
		minCells = minStrategyCells
	}
	if cells.Length() < minCells || cells.Length() < minStrategyCells {
		return models.Candidate{}, false
	}

	status := "Open"
	if cells.Length() > 3 {
		status = strings.TrimSpace(cells.Eq(3).Text())
	}
	if src.Table.OpenOnly && !strings.EqualFold(status, "open") {
		return models.Candidate{}, false
	}

	titleCell := cells.Eq(0)
	title := titleCell.Text()
	link := ""
	if a := titleCell.Find("a[href]").First(); a.Length() > 0 {
		title = a.Text()
		href, _ := a.Attr("href")
		link = resolveLink(base, href)
	}

	return models.Candidate{
		Organization:      src.Organization,
		OpportunityNumber: strings.TrimSpace(cells.Eq(1).Text()),
		Title:             strings.TrimSpace(title),
		DueDate:           strings.TrimSpace(cells.Eq(2).Text()),
		Link:              link,
		Provenance:        models.ProvenanceScraped,
	}, true
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
