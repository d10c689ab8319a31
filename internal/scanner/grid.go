package scanner

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/campuslife/bookingagent/internal/config"
)

// Closed error vocabulary the orchestrator switches on.
const (
	ErrLibraryClosed = "LIBRARY_CLOSED"
	ErrGridNotFound  = "BOOKING_GRID_NOT_FOUND"
)

// CellFacts is the raw digest of one table cell as extracted in the page.
type CellFacts struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Text  string `json:"text"`
	Title string `json:"title"`
	Alt   string `json:"alt"`
	Href  string `json:"href"`
	HTML  string `json:"html"`
}

// TableFacts is the raw digest of one table. Interpretation is entirely
// host side so the scoring can be tested deterministically.
type TableFacts struct {
	RowCount int         `json:"rowCount"`
	ColCount int         `json:"colCount"`
	Text     string      `json:"text"`
	Cells    []CellFacts `json:"cells"`
}

// PageFacts is the full payload of one scan pass.
type PageFacts struct {
	PageText  string       `json:"pageText"`
	IframeSrc string       `json:"iframeSrc"`
	URL       string       `json:"url"`
	Tables    []TableFacts `json:"tables"`
}

// Slot is one bookable cell of the grid.
type Slot struct {
	Time       string `json:"time"`
	RoomName   string `json:"room_name"`
	RoomID     string `json:"room_id"`
	Available  bool   `json:"available"`
	BookingURL string `json:"booking_url,omitempty"`
}

// ScanResult is what the orchestrator acts on.
type ScanResult struct {
	Date      string   `json:"date,omitempty"`
	Rooms     []string `json:"rooms,omitempty"`
	Slots     []Slot   `json:"slots,omitempty"`
	Error     string   `json:"error,omitempty"`
	Diag      string   `json:"diag,omitempty"`
	FollowURL string   `json:"follow_url,omitempty"`
}

var (
	timePattern   = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)
	roomIDPattern = regexp.MustCompile(`room=(\d+)`)
	datePattern   = regexp.MustCompile(`\b(20\d{2})[-/](\d{1,2})[-/](\d{1,2})\b`)
)

var closureKeywords = []string{
	"library is closed", "closed today", "closed on", "public holiday",
	"no booking available", "闭馆", "休馆", "閉館", "不开放", "不開放",
}

var roomVocab = []string{"gsr", "isr", "room", "study", "讨论室", "研讨室", "自修室"}

var weekdayVocab = []string{
	"sun", "mon", "tue", "wed", "thu", "fri", "sat",
	"日", "一", "二", "三", "四", "五", "六",
}

var availableVocab = []string{"available", "可预约", "可預約", "空闲", "空閒"}

var reservedVocab = []string{"reserved", "booked", "unavailable", "已预约", "已預約", "不可用"}

// Scanner interprets page facts with configured weights and venue markers.
type Scanner struct {
	cfg    config.ScannerConfig
	venue  config.VenueConfig
	logger *zap.Logger
}

func New(cfg config.ScannerConfig, venue config.VenueConfig, logger *zap.Logger) *Scanner {
	return &Scanner{cfg: cfg, venue: venue, logger: logger.Named("scanner")}
}

// ScoreTable assigns a likelihood score that facts describe the booking grid
// rather than a calendar, navigation or layout table. Pure and deterministic.
func (s *Scanner) ScoreTable(facts TableFacts) int {
	score := 0
	lower := strings.ToLower(facts.Text)

	if facts.RowCount > 10 {
		score += s.cfg.ManyRowsWeight
	}
	if facts.ColCount > 2 {
		score += s.cfg.ManyColsWeight
	}
	if containsAny(lower, availableVocab) {
		score += s.cfg.AvailableWeight
	}
	if containsAny(lower, reservedVocab) {
		score += s.cfg.ReservedWeight
	}
	if timePattern.MatchString(facts.Text) {
		score += s.cfg.TimePatternWeight
	}
	if containsAny(lower, roomVocab) {
		score += s.cfg.RoomVocabWeight
	}

	// A month calendar is 7 columns and at most 8 rows. Penalize it hard so
	// a date picker sitting next to the grid never wins.
	if facts.ColCount == 7 && facts.RowCount <= 8 {
		score += s.cfg.CalendarPenalty
	}
	if s.hasWeekdayHeader(facts) {
		score += s.cfg.WeekdayPenalty
	}
	return score
}

// hasWeekdayHeader reports whether the first row reads like Sun..Sat.
func (s *Scanner) hasWeekdayHeader(facts TableFacts) bool {
	hits := 0
	for _, cell := range facts.Cells {
		if cell.Row != 0 {
			continue
		}
		t := strings.ToLower(strings.TrimSpace(cell.Text))
		if t == "" || len([]rune(t)) > 4 {
			continue
		}
		for _, wd := range weekdayVocab {
			if strings.HasPrefix(t, wd) || t == wd {
				hits++
				break
			}
		}
	}
	return hits >= 5
}

// Analyze turns one scan pass into a result: closure short-circuit, table
// selection against the thresholds, iframe leap, then slot parsing.
func (s *Scanner) Analyze(facts PageFacts) ScanResult {
	if containsAny(strings.ToLower(facts.PageText), closureKeywords) {
		return ScanResult{Error: ErrLibraryClosed}
	}

	best := -1
	bestScore := 0
	scores := make([]int, len(facts.Tables))
	for i, t := range facts.Tables {
		scores[i] = s.ScoreTable(t)
		if best == -1 || scores[i] > bestScore {
			best = i
			bestScore = scores[i]
		}
	}

	if best == -1 || bestScore < s.cfg.FloorThreshold {
		// No plausible grid on this document. If a booking frame is embedded,
		// tell the orchestrator to leap into it and rescan there.
		if facts.IframeSrc != "" && strings.Contains(facts.IframeSrc, s.venue.IframeMarker) {
			return ScanResult{FollowURL: facts.IframeSrc}
		}
		return ScanResult{Error: ErrGridNotFound, Diag: s.diagnose(facts, scores)}
	}

	result := s.parseGrid(facts.Tables[best])
	if bestScore < s.cfg.AcceptThreshold {
		result.Diag = fmt.Sprintf("grid accepted below confidence threshold (score %d)", bestScore)
	}
	if m := datePattern.FindString(facts.PageText); m != "" {
		result.Date = m
	}
	s.logger.Debug("Grid selected",
		zap.Int("table", best),
		zap.Int("score", bestScore),
		zap.Int("slots", len(result.Slots)))
	return result
}

// parseGrid extracts slots from the chosen table. Column headers name the
// rooms; the leading cell of each following row is the time label.
func (s *Scanner) parseGrid(facts TableFacts) ScanResult {
	rows := make(map[int][]CellFacts)
	for _, c := range facts.Cells {
		rows[c.Row] = append(rows[c.Row], c)
	}
	for _, cells := range rows {
		sort.Slice(cells, func(i, j int) bool { return cells[i].Col < cells[j].Col })
	}

	headerRow, roomsByCol := s.findRoomHeader(rows, facts.RowCount)

	var result ScanResult
	seen := map[string]bool{}
	for col := 0; col < facts.ColCount; col++ {
		if name, ok := roomsByCol[col]; ok && !seen[name] {
			result.Rooms = append(result.Rooms, name)
			seen[name] = true
		}
	}

	for r := headerRow + 1; r < facts.RowCount; r++ {
		cells := rows[r]
		if len(cells) == 0 {
			continue
		}
		timeLabel := timePattern.FindString(cells[0].Text)
		if timeLabel == "" {
			continue
		}
		for _, cell := range cells[1:] {
			status, ok := cellStatus(cell)
			if !ok {
				continue
			}
			slot := Slot{
				Time:      timeLabel,
				Available: status,
			}
			if name, ok := roomsByCol[cell.Col]; ok {
				slot.RoomName = name
			} else {
				// Position-only fallback when headers were not recognized.
				slot.RoomName = fmt.Sprintf("Room (column %d)", cell.Col)
			}
			if cell.Href != "" {
				slot.BookingURL = cell.Href
				if m := roomIDPattern.FindStringSubmatch(cell.Href); m != nil {
					slot.RoomID = m[1]
				}
			}
			result.Slots = append(result.Slots, slot)
		}
	}

	if len(result.Slots) == 0 {
		result.Error = ErrGridNotFound
		result.Diag = fmt.Sprintf("grid table had no parsable slots (%d rows, %d cols)", facts.RowCount, facts.ColCount)
	}
	return result
}

// findRoomHeader locates the row naming the rooms. A row qualifies when at
// least two of its cells carry room vocabulary.
func (s *Scanner) findRoomHeader(rows map[int][]CellFacts, rowCount int) (int, map[int]string) {
	for r := 0; r < rowCount && r < 3; r++ {
		byCol := map[int]string{}
		for _, cell := range rows[r] {
			t := strings.TrimSpace(cell.Text)
			if t == "" || timePattern.MatchString(t) {
				continue
			}
			if containsAny(strings.ToLower(t), roomVocab) {
				byCol[cell.Col] = t
			}
		}
		if len(byCol) >= 2 {
			return r, byCol
		}
	}
	return 0, map[int]string{}
}

// cellStatus classifies one grid cell. Text, title attribute, image alt and
// the html digest are checked in that order; cells matching neither
// vocabulary are decoration and are skipped.
func cellStatus(cell CellFacts) (available bool, ok bool) {
	probe := strings.ToLower(cell.Text + " " + cell.Title + " " + cell.Alt + " " + cell.HTML)
	if containsAny(probe, availableVocab) {
		return true, true
	}
	if containsAny(probe, reservedVocab) {
		return false, true
	}
	// An anchored cell with no status text is a bookable link.
	if cell.Href != "" {
		return true, true
	}
	return false, false
}

// diagnose summarizes why no table qualified, for the failure report.
func (s *Scanner) diagnose(facts PageFacts, scores []int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "no table reached the floor threshold %d; ", s.cfg.FloorThreshold)
	fmt.Fprintf(&sb, "%d tables scored ", len(scores))
	for i, sc := range scores {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", sc)
	}
	text := strings.TrimSpace(facts.PageText)
	if r := []rune(text); len(r) > 500 {
		text = string(r[:500])
	}
	fmt.Fprintf(&sb, "; page text: %s", text)
	return sb.String()
}
