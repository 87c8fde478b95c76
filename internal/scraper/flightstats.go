package scraper

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"flightetl/internal/blobpath"
)

// BoardEntry is one row of a flightstats departure/arrival board.
type BoardEntry struct {
	Airline   string
	Flight    string
	Airport   string // counterpart IATA code
	Scheduled string // local "HH:MM"
	Status    string
	Gate      string
}

// Board is a parsed flightstats HTML page.
type Board struct {
	Airport   string
	Direction blobpath.Direction
	Entries   []BoardEntry
}

var boardAirportRE = regexp.MustCompile(`-([A-Z]{3,4})$`)

// ParseBoard extracts the flight rows from a flightstats board page.
// The page URL carries the airport code and the direction
// (".../partidas-REL" is departures, ".../arribos-REL" arrivals).
func ParseBoard(r io.Reader, pageURL string) (Board, error) {
	var b Board

	m := boardAirportRE.FindStringSubmatch(pageURL)
	if m == nil {
		return b, fmt.Errorf("no airport code in board url %q", pageURL)
	}
	b.Airport = m[1]

	switch {
	case strings.Contains(pageURL, "arribos"):
		b.Direction = blobpath.DirectionArrival
	case strings.Contains(pageURL, "partidas"):
		b.Direction = blobpath.DirectionDeparture
	default:
		return b, fmt.Errorf("board url %q names neither arrivals nor departures", pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return b, fmt.Errorf("parse board html: %w", err)
	}

	doc.Find("li.dl").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 6 {
			return
		}
		b.Entries = append(b.Entries, BoardEntry{
			Airline:   cellText(cells, 0),
			Flight:    cellText(cells, 1),
			Airport:   cellText(cells, 2),
			Scheduled: cellText(cells, 3),
			Status:    cellText(cells, 4),
			Gate:      cellText(cells, 5),
		})
	})

	return b, nil
}

func cellText(cells *goquery.Selection, i int) string {
	return strings.TrimSpace(cells.Eq(i).Text())
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldStatus lower-cases a board status and strips accents so the same
// state compares equal however the airport spells it ("Despegó",
// "DESPEGO", "despego").
func FoldStatus(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// IsCancelled reports whether a board status marks a cancelled flight.
func IsCancelled(status string) bool {
	return strings.Contains(FoldStatus(status), "cancelado")
}
