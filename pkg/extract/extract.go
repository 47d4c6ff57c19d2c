// Package extract pulls box-score rows out of NCAA scoreboard and game
// pages through a live browser session. It owns the page structure
// knowledge (selectors, error pages, table shape) and nothing else: the
// session lifecycle belongs to the caller.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/boxsync/boxsync/internal/utils"
	"github.com/boxsync/boxsync/pkg/session"
	"github.com/boxsync/boxsync/pkg/target"
)

var ErrExtractionFailed = errors.New("extraction failed")

const (
	gamePodSelector      = ".gamePod-link"
	teamSelectorSelector = ".boxscore-team-selector"
	boxScoreSelector     = ".gamecenter-tab-boxscore"
	boxScoreTableSel     = ".gamecenter-tab-boxscore table"
	secondTeamSelector   = ".boxscore-team-selector div:nth-of-type(2)"

	// Metadata columns appended to every stat line, in this order.
	colTeam     = "TEAM"
	colOpponent = "OPP"
	colGameID   = "GAMEID"
	colGameLink = "GAMELINK"
)

// Rows is the result of extracting one target: a shared column set and
// one record per player line. Zero records is a valid outcome (no games
// that day).
type Rows struct {
	Columns []string
	Records [][]string
}

func (r Rows) Len() int { return len(r.Records) }

// Extractor turns an active browser session and a target into rows.
// Implementations must not manage the session lifecycle.
type Extractor interface {
	Extract(ctx context.Context, b session.Browser, t target.Target) (Rows, error)
}

// NCAA scrapes ncaa.com scoreboard pages. One value is shared across a
// batch run so game links seen under one target are not re-scraped when
// another target's scoreboard lists the same game.
type NCAA struct {
	// WaitTimeout bounds each wait for a page element.
	WaitTimeout time.Duration
	// TeamSwitchDelay is the pause after clicking the second team's tab,
	// giving the page time to swap the table in place.
	TeamSwitchDelay time.Duration

	mu      sync.Mutex
	visited map[string]bool
}

func NewNCAA() *NCAA {
	return &NCAA{
		WaitTimeout:     15 * time.Second,
		TeamSwitchDelay: 2 * time.Second,
		visited:         make(map[string]bool),
	}
}

func (e *NCAA) Extract(ctx context.Context, b session.Browser, t target.Target) (Rows, error) {
	url := t.ScoreboardURL()
	utils.Log.Infof("Loading scoreboard page: %s", url)

	if err := b.Navigate(ctx, url); err != nil {
		return Rows{}, fmt.Errorf("%w: loading scoreboard %s: %v", ErrExtractionFailed, url, err)
	}

	if err := b.WaitVisible(ctx, gamePodSelector, e.WaitTimeout); err != nil {
		// No game pods can mean an error page, or just a day with no
		// games. Inspect the page before deciding.
		reason, fatal := e.classifyEmptyScoreboard(ctx, b, url)
		if fatal {
			return Rows{}, fmt.Errorf("%w: %s (%s)", ErrExtractionFailed, reason, url)
		}
		utils.Log.Warnf("%s: %s", reason, url)
		return Rows{}, nil
	}

	links, err := e.gameLinks(ctx, b)
	if err != nil {
		return Rows{}, fmt.Errorf("%w: collecting game links from %s: %v", ErrExtractionFailed, url, err)
	}
	if len(links) == 0 {
		utils.Log.Warnf("No valid game links found for %s", url)
		return Rows{}, nil
	}

	fresh := e.claimUnvisited(links)
	if skipped := len(links) - len(fresh); skipped > 0 {
		utils.Log.Infof("Found %d total games, %d already visited, %d new games to scrape", len(links), skipped, len(fresh))
	} else {
		utils.Log.Infof("Found %d games to scrape", len(links))
	}

	var rows Rows
	for _, link := range fresh {
		game, err := e.scrapeGame(ctx, b, link)
		if err != nil {
			// One broken game page must not sink the target.
			utils.Log.Errorf("Error scraping game %s: %v", link, err)
			e.unclaim(link)
			continue
		}
		appendRows(&rows, game)
	}

	return rows, nil
}

// classifyEmptyScoreboard decides whether a scoreboard without game pods
// is an error page (fatal for the target) or an empty day (not an error).
func (e *NCAA) classifyEmptyScoreboard(ctx context.Context, b session.Browser, url string) (reason string, fatal bool) {
	source, err := b.OuterHTML(ctx, "html")
	if err != nil {
		return fmt.Sprintf("timed out waiting for game pods and could not read page: %v", err), true
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return "timed out waiting for game pods on an unparseable page", true
	}

	if doc.Find(".error-404").Length() > 0 {
		return "page not found (404) - 'That's a foul on us...'", true
	}

	title := strings.ToLower(htmlTitle(source))
	switch {
	case strings.Contains(title, "404"), strings.Contains(title, "not found"):
		return "page not found (404)", true
	case strings.Contains(title, "error"):
		return "error page detected", true
	case strings.Contains(strings.ToLower(source), "unavailable"):
		return "content unavailable", true
	}

	return "no games found on scoreboard page", false
}

func (e *NCAA) gameLinks(ctx context.Context, b session.Browser) ([]string, error) {
	source, err := b.OuterHTML(ctx, "html")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(source))
	if err != nil {
		return nil, err
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find(gamePodSelector).Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		if strings.HasPrefix(href, "/") {
			href = "https://www.ncaa.com" + href
		}
		if !seen[href] {
			seen[href] = true
			links = append(links, href)
		}
	})
	return links, nil
}

// claimUnvisited marks links as visited and returns the ones that were
// not already claimed by an earlier target this run.
func (e *NCAA) claimUnvisited(links []string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var fresh []string
	for _, l := range links {
		if !e.visited[l] {
			e.visited[l] = true
			fresh = append(fresh, l)
		}
	}
	return fresh
}

func (e *NCAA) unclaim(link string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.visited, link)
}

// gameRows is one game's parsed output before merging into the target's
// row set.
type gameRows struct {
	columns []string
	records [][]string
}

func (e *NCAA) scrapeGame(ctx context.Context, b session.Browser, link string) (gameRows, error) {
	gameID := gameIDFromLink(link)
	utils.Log.Infof("Scraping: %s", link)

	if err := b.Navigate(ctx, link); err != nil {
		return gameRows{}, fmt.Errorf("navigating to game page: %w", err)
	}
	if err := b.WaitVisible(ctx, teamSelectorSelector, e.WaitTimeout); err != nil {
		return gameRows{}, fmt.Errorf("box score page not available: %w", err)
	}

	teams, err := e.teamNames(ctx, b)
	if err != nil {
		return gameRows{}, err
	}
	if len(teams) < 2 {
		return gameRows{}, fmt.Errorf("not enough team names found (%d)", len(teams))
	}

	first, err := e.teamTable(ctx, b, teams[0], teams[1], gameID, link)
	if err != nil {
		return gameRows{}, fmt.Errorf("first team: %w", err)
	}

	if err := b.Click(ctx, secondTeamSelector); err != nil {
		return gameRows{}, fmt.Errorf("switching to second team: %w", err)
	}
	select {
	case <-time.After(e.TeamSwitchDelay):
	case <-ctx.Done():
		return gameRows{}, ctx.Err()
	}

	second, err := e.teamTable(ctx, b, teams[1], teams[0], gameID, link)
	if err != nil {
		return gameRows{}, fmt.Errorf("second team: %w", err)
	}

	game := first
	game.records = append(game.records, alignRecords(first.columns, second)...)
	return game, nil
}

func (e *NCAA) teamNames(ctx context.Context, b session.Browser) ([]string, error) {
	html, err := b.OuterHTML(ctx, teamSelectorSelector)
	if err != nil {
		return nil, fmt.Errorf("reading team selector: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var names []string
	doc.Find("div").Each(func(i int, s *goquery.Selection) {
		// Only leaf divs carry the team name text.
		if s.Children().Length() > 0 {
			return
		}
		if name := strings.TrimSpace(s.Text()); name != "" {
			names = append(names, name)
		}
	})
	return names, nil
}

func (e *NCAA) teamTable(ctx context.Context, b session.Browser, team, opponent, gameID, link string) (gameRows, error) {
	if err := b.WaitVisible(ctx, boxScoreSelector, e.WaitTimeout); err != nil {
		return gameRows{}, fmt.Errorf("box score table not found: %w", err)
	}
	html, err := b.OuterHTML(ctx, boxScoreTableSel)
	if err != nil {
		return gameRows{}, fmt.Errorf("reading box score table: %w", err)
	}

	columns, records, err := parseStatTable(html)
	if err != nil {
		return gameRows{}, err
	}
	// The last two rows are team totals, not player lines. A table with
	// nothing left after dropping them carries no player data.
	if len(records) <= 2 {
		return gameRows{}, fmt.Errorf("no player rows in box score for team %s", team)
	}
	records = records[:len(records)-2]

	g := gameRows{columns: append(columns, colTeam, colOpponent, colGameID, colGameLink)}
	for _, rec := range records {
		g.records = append(g.records, append(rec, team, opponent, gameID, link))
	}
	return g, nil
}

// parseStatTable flattens an HTML stat table into a header and records.
func parseStatTable(html string) (columns []string, records [][]string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("parsing box score table: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		// The selector may already have handed us the bare table.
		table = doc.Selection
	}

	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if ths := row.Find("th"); ths.Length() > 0 && columns == nil {
			ths.Each(func(j int, cell *goquery.Selection) {
				columns = append(columns, strings.TrimSpace(cell.Text()))
			})
			return
		}
		var rec []string
		row.Find("td").Each(func(j int, cell *goquery.Selection) {
			rec = append(rec, strings.TrimSpace(cell.Text()))
		})
		if len(rec) > 0 {
			records = append(records, rec)
		}
	})

	if columns == nil {
		return nil, nil, errors.New("box score table has no header row")
	}
	for i, rec := range records {
		records[i] = padRecord(rec, len(columns))
	}
	return columns, records, nil
}

// alignRecords maps a game's second-team records onto the first team's
// column order, padding columns the second table lacks.
func alignRecords(columns []string, g gameRows) [][]string {
	if equalColumns(columns, g.columns) {
		return g.records
	}

	index := make(map[string]int, len(g.columns))
	for i, c := range g.columns {
		index[c] = i
	}

	aligned := make([][]string, 0, len(g.records))
	for _, rec := range g.records {
		out := make([]string, len(columns))
		for i, c := range columns {
			if j, ok := index[c]; ok && j < len(rec) {
				out[i] = rec[j]
			}
		}
		aligned = append(aligned, out)
	}
	return aligned
}

// appendRows merges one game into the target's accumulated rows. The
// first game fixes the column order; later games are aligned by name.
func appendRows(rows *Rows, g gameRows) {
	if rows.Columns == nil {
		rows.Columns = g.columns
		rows.Records = append(rows.Records, g.records...)
		return
	}
	rows.Records = append(rows.Records, alignRecords(rows.Columns, g)...)
}

func equalColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func padRecord(rec []string, n int) []string {
	for len(rec) < n {
		rec = append(rec, "")
	}
	return rec[:n]
}

func gameIDFromLink(link string) string {
	parts := strings.Split(strings.TrimRight(link, "/"), "/")
	return parts[len(parts)-1]
}
