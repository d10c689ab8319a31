package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campuslife/bookingagent/internal/browser"
	"github.com/campuslife/bookingagent/internal/config"
	"github.com/campuslife/bookingagent/internal/llm"
	"github.com/campuslife/bookingagent/internal/scanner"
)

// PageDriver is the set of page primitives the orchestrator sequences.
// Satisfied by browser.Actions and by scripted fakes in tests.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	ReadPage(ctx context.Context) (string, error)
	Click(ctx context.Context, target string) (string, error)
	TapAt(ctx context.Context, x, y int) (string, error)
	CaptureSnapshot(ctx context.Context) (*browser.Snapshot, error)
	Scan(ctx context.Context) (scanner.PageFacts, error)
	ClickSlot(ctx context.Context, timeLabel, roomID string) (string, error)
	SubmitForm(ctx context.Context, durationLabel, numUsers string) error
	ClickDate(ctx context.Context, day, monthOffset int) error
	IsLoggedIn(ctx context.Context) (bool, error)
	SyncCookies() error
	InjectScript(script string) error
}

// Notifier delivers progress messages to the user while a booking runs.
type Notifier interface {
	Notify(message string)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(message string)

func (f NotifierFunc) Notify(message string) { f(message) }

// visionPoint is the vision tier's answer to "where is this on screen".
type visionPoint struct {
	X     int  `json:"x"`
	Y     int  `json:"y"`
	Found bool `json:"found"`
}

// Orchestrator walks the booking state machine against the live page.
type Orchestrator struct {
	page     PageDriver
	scanner  *scanner.Scanner
	vision   llm.Client
	cfg      *config.Config
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(page PageDriver, sc *scanner.Scanner, vision llm.Client, cfg *config.Config, notifier Notifier, logger *zap.Logger) *Orchestrator {
	if notifier == nil {
		notifier = NotifierFunc(func(string) {})
	}
	return &Orchestrator{
		page:     page,
		scanner:  sc,
		vision:   vision,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
	}
}

// BookingURL builds the venue's direct booking URL. Duration units are half
// hours: a 2-hour booking carries du=4.
func BookingURL(base, roomID, yyyymmdd string, hour, durationUnits int) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return fmt.Sprintf("%sbook?room=%s&date=%s&stime=%d&du=%d", base, roomID, yyyymmdd, hour, durationUnits)
}

// sleep waits for d or until ctx is done.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunBooking drives the whole flow for a resolved booking request. The
// returned outcome always carries a user-facing message; errors surface as
// failed outcomes, never as panics.
func (o *Orchestrator) RunBooking(ctx context.Context, req BookingRequest) BookingOutcome {
	dateInfo := ExtractDateInfo(req.Date, o.now(), o.cfg.Venue.Location())
	if dateInfo == nil {
		return BookingOutcome{State: StateFailed, Message: fmt.Sprintf("无法识别日期「%s」，请换一种说法，例如“明天”或“9月15日”。", req.Date)}
	}
	hour := ExtractHour(req.Time)
	if hour < 0 {
		return BookingOutcome{State: StateFailed, Message: fmt.Sprintf("无法识别时间「%s」，请提供开始时间，例如“10:00”。", req.Time)}
	}

	if outcome, ok := o.awaitLogin(ctx, dateInfo); !ok {
		return outcome
	}

	// Session is live; capture cookies so a restart can skip the SSO flow.
	if err := o.page.SyncCookies(); err != nil {
		o.logger.Debug("Cookie sync request failed", zap.Error(err))
	}

	scan, outcome, ok := o.scanForDate(ctx, dateInfo)
	if !ok {
		return outcome
	}

	roomID := o.resolveRoomID(req, scan)
	if roomID == "" {
		return BookingOutcome{
			State:   StateFailed,
			Message: fmt.Sprintf("找不到房间「%s」。可用房间：%s", req.RoomName, strings.Join(scan.Rooms, "、")),
		}
	}

	if outcome, ok := o.selectSlot(ctx, req, scan, roomID, dateInfo, hour); !ok {
		return outcome
	}

	if outcome, ok := o.fillAndSubmit(ctx, req); !ok {
		return outcome
	}

	return o.awaitConfirmation(ctx)
}

// CheckAvailability scans a date without booking and renders the free slots.
func (o *Orchestrator) CheckAvailability(ctx context.Context, dateExpr string) (string, []string) {
	dateInfo := ExtractDateInfo(dateExpr, o.now(), o.cfg.Venue.Location())
	if dateInfo == nil {
		return fmt.Sprintf("无法识别日期「%s」。", dateExpr), nil
	}

	if outcome, ok := o.awaitLogin(ctx, dateInfo); !ok {
		return outcome.Message, nil
	}
	scan, outcome, ok := o.scanForDate(ctx, dateInfo)
	if !ok {
		return outcome.Message, nil
	}

	available := 0
	for _, s := range scan.Slots {
		if s.Available {
			available++
		}
	}
	if available == 0 {
		return fmt.Sprintf("%s 没有可预约的时段。", dateInfo.FormattedDate), nil
	}
	quick := GroupSlotsByTime(scan.Slots, o.cfg.Agent.QuickReplyMax)
	return fmt.Sprintf("%s 共有 %d 个可预约时段，房间：%s。可选时间：%s",
		dateInfo.FormattedDate, available, strings.Join(scan.Rooms, "、"), strings.Join(quick, " / ")), quick
}

// awaitLogin navigates to the date-qualified entry URL and polls until the
// user finishes logging in by hand. MFA can take a while; the cap is minutes.
func (o *Orchestrator) awaitLogin(ctx context.Context, dateInfo *DateInfo) (BookingOutcome, bool) {
	entry := o.entryURL(dateInfo)
	if err := o.page.Navigate(ctx, entry); err != nil {
		return BookingOutcome{State: StateFailed, Message: "无法打开图书馆预约页面，请稍后再试。", Diag: err.Error()}, false
	}

	text, err := o.page.ReadPage(ctx)
	if err == nil && !scanner.IsLoginPage(text) {
		return BookingOutcome{}, true
	}

	o.notifier.Notify("请在打开的页面中完成图书馆账号登录（含多因素验证），登录完成后我会自动继续。")

	for i := 0; i < o.cfg.Agent.LoginPollMax; i++ {
		if err := o.sleep(ctx, o.cfg.Agent.LoginPollInterval); err != nil {
			return BookingOutcome{State: StateFailed, Message: "预约已取消。"}, false
		}
		text, err := o.page.ReadPage(ctx)
		if err != nil {
			continue
		}
		if !scanner.IsLoginPage(text) {
			o.logger.Info("Manual login detected", zap.Int("polls", i+1))
			return BookingOutcome{}, true
		}
	}
	return BookingOutcome{State: StateAwaitingLogin, Message: "等待登录超时，请重新发起预约。"}, false
}

// scanForDate runs bounded scan attempts, following at most one iframe leap
// per attempt. When the grid renders a different date than requested, the
// date picker gets one chance to page there before the result is accepted.
func (o *Orchestrator) scanForDate(ctx context.Context, dateInfo *DateInfo) (scanner.ScanResult, BookingOutcome, bool) {
	var last scanner.ScanResult
	pickerTried := false
	for attempt := 0; attempt < o.cfg.Agent.ScanAttempts; attempt++ {
		if attempt > 0 {
			if err := o.sleep(ctx, o.cfg.Agent.ScanRetryWait); err != nil {
				return last, BookingOutcome{State: StateFailed, Message: "预约已取消。"}, false
			}
		}

		facts, err := o.page.Scan(ctx)
		if err != nil {
			o.logger.Warn("Scan attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		result := o.scanner.Analyze(facts)
		last = result

		switch {
		case result.Error == scanner.ErrLibraryClosed:
			return result, BookingOutcome{State: StateFailed, Message: "图书馆当天闭馆，无法预约。"}, false
		case result.FollowURL != "":
			o.logger.Info("Leaping into booking frame", zap.String("url", result.FollowURL))
			if err := o.page.Navigate(ctx, result.FollowURL); err != nil {
				o.logger.Warn("Frame navigation failed", zap.Error(err))
			}
			continue
		case len(result.Slots) > 0:
			if !pickerTried && result.Date != "" && !SameBookingDate(result.Date, dateInfo.FormattedDate) {
				pickerTried = true
				o.logger.Info("Grid shows a different date, paging the date picker",
					zap.String("shown", result.Date),
					zap.String("wanted", dateInfo.FormattedDate))
				if err := o.page.ClickDate(ctx, dateInfo.Day, dateInfo.MonthOffset); err != nil {
					o.logger.Warn("Date picker fallback failed", zap.Error(err))
				}
				continue
			}
			return result, BookingOutcome{}, true
		}
	}

	if last.Error != "" {
		return last, BookingOutcome{State: StateFailed, Message: "没有在页面上找到预约时段表。", Diag: last.Diag}, false
	}
	return last, BookingOutcome{State: StateFailed, Message: "当天没有可预约的时段。"}, false
}

// resolveRoomID maps the requested room to the venue's numeric id: explicit
// id first, then the configured name mapping, then ids captured from the
// scanned grid's booking links.
func (o *Orchestrator) resolveRoomID(req BookingRequest, scan scanner.ScanResult) string {
	if req.RoomID != "" {
		return req.RoomID
	}
	if id, ok := o.cfg.Venue.RoomIDs[req.RoomName]; ok {
		return id
	}
	for name, id := range o.cfg.Venue.RoomIDs {
		if strings.EqualFold(name, req.RoomName) {
			return id
		}
	}
	for _, slot := range scan.Slots {
		if slot.RoomID != "" && strings.EqualFold(slot.RoomName, req.RoomName) {
			return slot.RoomID
		}
	}
	return ""
}

// selectSlot reaches the reservation form: direct URL first, grid click
// second, one retry third.
func (o *Orchestrator) selectSlot(ctx context.Context, req BookingRequest, scan scanner.ScanResult, roomID string, dateInfo *DateInfo, hour int) (BookingOutcome, bool) {
	units := DurationUnits(o.durationOf(req))
	direct := BookingURL(o.cfg.Venue.DefaultURL, roomID, dateInfo.FormattedDate, hour, units)

	if err := o.page.Navigate(ctx, direct); err == nil {
		if o.pollFormPage(ctx) {
			return BookingOutcome{}, true
		}
	}

	// The direct URL did not land on the form; click the grid cell instead,
	// preferring the hyperlink the cell carried.
	timeLabel := fmt.Sprintf("%02d:", hour)
	for attempt := 0; attempt < 2; attempt++ {
		href, err := o.page.ClickSlot(ctx, timeLabel, roomID)
		if err != nil {
			o.logger.Warn("Grid cell click failed", zap.Int("attempt", attempt+1), zap.Error(err))
			if attempt == 0 && o.visionAssist(ctx, fmt.Sprintf("the bookable %s time slot for room %s", timeLabel, req.RoomName)) {
				continue
			}
			break
		}
		if href != "" && !o.pollFormPage(ctx) {
			// The click itself did not leave the grid; load the captured link.
			if err := o.page.Navigate(ctx, href); err != nil {
				o.logger.Warn("Captured booking link navigation failed", zap.Error(err))
			}
		}
		if o.pollFormPage(ctx) {
			return BookingOutcome{}, true
		}
	}
	return BookingOutcome{State: StateSlotSelected, Message: "未能进入预约表单页面，请稍后再试。"}, false
}

// pollFormPage waits for form-page vocabulary to appear.
func (o *Orchestrator) pollFormPage(ctx context.Context) bool {
	for i := 0; i < o.cfg.Agent.FormPollMax; i++ {
		text, err := o.page.ReadPage(ctx)
		if err == nil && scanner.IsFormPage(text) {
			return true
		}
		if err := o.sleep(ctx, o.cfg.Agent.FormPollInterval); err != nil {
			return false
		}
	}
	return false
}

func (o *Orchestrator) durationOf(req BookingRequest) string {
	if req.Duration != "" {
		return req.Duration
	}
	return o.cfg.Agent.DefaultDuration
}

// fillAndSubmit completes the reservation form. The injected script already
// dismisses overlays before touching the form controls.
func (o *Orchestrator) fillAndSubmit(ctx context.Context, req BookingRequest) (BookingOutcome, bool) {
	duration := DurationLabel(DurationHours(o.durationOf(req)))
	numUsers := req.NumUsers
	if numUsers == "" {
		numUsers = o.cfg.Agent.DefaultNumUsers
	}

	err := o.page.SubmitForm(ctx, duration, numUsers)
	if err == nil {
		return BookingOutcome{}, true
	}
	o.logger.Warn("Structural submit failed, trying vision fallback", zap.Error(err))

	if o.visionAssist(ctx, "the submit or confirm button of the reservation form") {
		if err := o.page.SubmitForm(ctx, duration, numUsers); err == nil {
			return BookingOutcome{}, true
		}
	}
	return BookingOutcome{State: StateFormPage, Message: "提交预约表单失败，请稍后再试。", Diag: err.Error()}, false
}

// awaitConfirmation polls the post-submit page, skipping transient read
// failures, until a conclusive outcome or the poll budget runs out.
func (o *Orchestrator) awaitConfirmation(ctx context.Context) BookingOutcome {
	var lastText string
	for i := 0; i < o.cfg.Agent.ConfirmPollMax; i++ {
		text, err := o.page.ReadPage(ctx)
		if err != nil {
			o.logger.Debug("Transient read failure during confirmation poll", zap.Error(err))
		} else {
			lastText = text
			if outcome, conclusive := scanner.ConfirmOutcome(text); conclusive {
				if outcome == "success" {
					if err := o.page.SyncCookies(); err != nil {
						o.logger.Debug("Cookie sync after booking failed", zap.Error(err))
					}
					return BookingOutcome{State: StateConfirmed, Message: "预约成功！已为您确认房间。"}
				}
				return BookingOutcome{State: StateFailed, Message: "网站拒绝了这次预约：" + firstRunes(text, 200)}
			}
		}
		if err := o.sleep(ctx, o.cfg.Agent.ConfirmPollInterval); err != nil {
			break
		}
	}
	return BookingOutcome{
		State:   StateFailed,
		Message: "等待预约确认超时，请在页面上确认预约是否成功。",
		Diag:    firstRunes(lastText, 500),
	}
}

// visionAssist is the single-shot coordinate fallback: snapshot the page,
// ask the vision tier where the target is, tap there. Returns true when a
// tap was performed.
func (o *Orchestrator) visionAssist(ctx context.Context, target string) bool {
	if o.vision == nil {
		return false
	}
	snap, err := o.page.CaptureSnapshot(ctx)
	if err != nil || len(snap.Elements) == 0 {
		return false
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Page: %s\nVisible elements with center coordinates:\n", snap.URL)
	for _, el := range snap.Elements {
		fmt.Fprintf(&sb, "- <%s> %q at (%d,%d)\n", el.Tag, el.Text, el.X, el.Y)
	}
	fmt.Fprintf(&sb, "\nTarget: %s\nAnswer with exactly one JSON object {\"x\":int,\"y\":int,\"found\":bool}. Set found=false if the target is not in the list.", target)

	raw, err := o.vision.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: sb.String()}})
	if err != nil {
		o.logger.Warn("Vision fallback model call failed", zap.Error(err))
		return false
	}
	point, err := llm.ExtractJSON[visionPoint](raw)
	if err != nil || !point.Found {
		return false
	}
	if _, err := o.page.TapAt(ctx, point.X, point.Y); err != nil {
		o.logger.Warn("Vision fallback tap failed", zap.Error(err))
		return false
	}
	return true
}

func (o *Orchestrator) entryURL(dateInfo *DateInfo) string {
	base := o.cfg.Venue.DefaultURL
	if dateInfo == nil {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "date=" + dateInfo.FormattedDate
}

// GroupSlotsByTime renders available slots as quick-reply options: unique
// start times, each with the count of free rooms.
func GroupSlotsByTime(slots []scanner.Slot, max int) []string {
	counts := map[string]int{}
	for _, s := range slots {
		if s.Available {
			counts[s.Time]++
		}
	}
	times := make([]string, 0, len(counts))
	for t := range counts {
		times = append(times, t)
	}
	sort.Strings(times)
	if max > 0 && len(times) > max {
		times = times[:max]
	}
	out := make([]string, len(times))
	for i, t := range times {
		out[i] = fmt.Sprintf("%s (%d)", t, counts[t])
	}
	return out
}

func firstRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
