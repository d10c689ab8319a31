package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/campuslife/bookingagent/internal/browser"
	"github.com/campuslife/bookingagent/internal/config"
	"github.com/campuslife/bookingagent/internal/llm"
	"github.com/campuslife/bookingagent/internal/scanner"
)

// fakePage scripts the embedded surface for orchestrator tests.
type fakePage struct {
	navigations []string
	pages       []string // consumed by ReadPage; last entry repeats
	scans       []scanner.PageFacts
	slotHref    string
	slotErr     error
	submitErrs  []error // consumed by SubmitForm; nil once exhausted
	snapshot    *browser.Snapshot
	taps        [][2]int
	dateClicks  [][2]int
	submits     int
	cookieSyncs int
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	f.navigations = append(f.navigations, url)
	return nil
}

func (f *fakePage) ReadPage(context.Context) (string, error) {
	if len(f.pages) == 0 {
		return "", fmt.Errorf("no page scripted")
	}
	page := f.pages[0]
	if len(f.pages) > 1 {
		f.pages = f.pages[1:]
	}
	return page, nil
}

func (f *fakePage) Click(context.Context, string) (string, error) { return "Clicked.", nil }

func (f *fakePage) TapAt(_ context.Context, x, y int) (string, error) {
	f.taps = append(f.taps, [2]int{x, y})
	return "Tapped.", nil
}

func (f *fakePage) CaptureSnapshot(context.Context) (*browser.Snapshot, error) {
	if f.snapshot == nil {
		return &browser.Snapshot{}, nil
	}
	return f.snapshot, nil
}

func (f *fakePage) Scan(context.Context) (scanner.PageFacts, error) {
	if len(f.scans) == 0 {
		return scanner.PageFacts{}, fmt.Errorf("no scan scripted")
	}
	facts := f.scans[0]
	if len(f.scans) > 1 {
		f.scans = f.scans[1:]
	}
	return facts, nil
}

func (f *fakePage) ClickSlot(context.Context, string, string) (string, error) {
	return f.slotHref, f.slotErr
}

func (f *fakePage) SubmitForm(context.Context, string, string) error {
	f.submits++
	if len(f.submitErrs) == 0 {
		return nil
	}
	err := f.submitErrs[0]
	f.submitErrs = f.submitErrs[1:]
	return err
}

func (f *fakePage) ClickDate(_ context.Context, day, monthOffset int) error {
	f.dateClicks = append(f.dateClicks, [2]int{day, monthOffset})
	return nil
}
func (f *fakePage) IsLoggedIn(context.Context) (bool, error)  { return true, nil }
func (f *fakePage) SyncCookies() error                        { f.cookieSyncs++; return nil }
func (f *fakePage) InjectScript(string) error                 { return nil }

func fastConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Agent.LoginPollInterval = 0
	cfg.Agent.LoginPollMax = 3
	cfg.Agent.ScanRetryWait = 0
	cfg.Agent.ScanAttempts = 3
	cfg.Agent.FormPollInterval = 0
	cfg.Agent.FormPollMax = 3
	cfg.Agent.ConfirmPollInterval = 0
	cfg.Agent.ConfirmPollMax = 5
	return cfg
}

func newTestOrchestrator(t *testing.T, page *fakePage, cfg *config.Config, vision *queuedModel) *Orchestrator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	sc := scanner.New(cfg.Scanner, cfg.Venue, logger)
	var visionClient llm.Client
	if vision != nil {
		visionClient = vision
	}
	o := NewOrchestrator(page, sc, visionClient, cfg, nil, logger)
	o.now = func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, cfg.Venue.Location()) }
	return o
}

// bookableFacts is a grid page whose facts parse into available slots.
func bookableFacts() scanner.PageFacts {
	facts := scanner.TableFacts{RowCount: 13, ColCount: 3}
	facts.Cells = append(facts.Cells,
		scanner.CellFacts{Row: 0, Col: 0, Text: "Time"},
		scanner.CellFacts{Row: 0, Col: 1, Text: "GSR Room 1"},
		scanner.CellFacts{Row: 0, Col: 2, Text: "GSR Room 2"},
	)
	for r := 1; r < 13; r++ {
		hour := 8 + r
		facts.Cells = append(facts.Cells,
			scanner.CellFacts{Row: r, Col: 0, Text: fmt.Sprintf("%02d:00", hour)},
			scanner.CellFacts{Row: r, Col: 1, Text: "Available", Href: fmt.Sprintf("book?room=6&stime=%d", hour)},
			scanner.CellFacts{Row: r, Col: 2, Text: "Reserved"},
		)
		facts.Text += fmt.Sprintf("%02d:00 Available Reserved ", hour)
	}
	return scanner.PageFacts{PageText: "Room Booking " + facts.Text, Tables: []scanner.TableFacts{facts}}
}

const (
	gridText    = "Room booking 09:00 Available 10:00 Reserved"
	formText    = "Duration: Number of Users: I agree to the terms and conditions"
	successText = "Your booking has been made successfully. Reference no: 12345"
)

func TestBookingURL(t *testing.T) {
	url := BookingURL("https://lib.example.edu/room_bookings/1/", "6", "20260902", 10, DurationUnits("2 Hours"))
	assert.Equal(t, "https://lib.example.edu/room_bookings/1/book?room=6&date=20260902&stime=10&du=4", url)

	url = BookingURL("https://lib.example.edu/room_bookings/1", "18", "20260902", 15, DurationUnits("1 Hour"))
	assert.Equal(t, "https://lib.example.edu/room_bookings/1/book?room=18&date=20260902&stime=15&du=2", url)
}

func TestRunBooking_HappyPathDirectURL(t *testing.T) {
	page := &fakePage{
		pages: []string{gridText, formText, successText},
		scans: []scanner.PageFacts{bookableFacts()},
	}
	o := newTestOrchestrator(t, page, fastConfig(), nil)

	outcome := o.RunBooking(context.Background(), BookingRequest{
		RoomName: "GSR Room 1",
		Date:     "明天",
		Time:     "10:00",
		Duration: "2 Hours",
	})

	assert.Equal(t, StateConfirmed, outcome.State, outcome.Message)
	assert.Contains(t, outcome.Message, "预约成功")

	// Entry navigation carries the resolved date; the booking jump carries
	// room, date, hour and duration units.
	require.GreaterOrEqual(t, len(page.navigations), 2)
	assert.Contains(t, page.navigations[0], "date=20260902")
	assert.Contains(t, page.navigations[1], "room=6")
	assert.Contains(t, page.navigations[1], "stime=10")
	assert.Contains(t, page.navigations[1], "du=4")
	assert.Equal(t, 1, page.submits)
	assert.GreaterOrEqual(t, page.cookieSyncs, 1, "cookies captured after login")
}

func TestRunBooking_LibraryClosedShortCircuits(t *testing.T) {
	page := &fakePage{
		pages: []string{gridText},
		scans: []scanner.PageFacts{{PageText: "The library is closed today due to a public holiday."}},
	}
	o := newTestOrchestrator(t, page, fastConfig(), nil)

	outcome := o.RunBooking(context.Background(), BookingRequest{Date: "今天", Time: "10:00", RoomName: "GSR Room 1"})

	assert.Equal(t, StateFailed, outcome.State)
	assert.Contains(t, outcome.Message, "闭馆")
	assert.Equal(t, 0, page.submits, "no slot selection after a closure result")
	assert.Len(t, page.navigations, 1, "only the entry navigation happened")
}

func TestRunBooking_UnknownRoomListsAlternatives(t *testing.T) {
	page := &fakePage{
		pages: []string{gridText},
		scans: []scanner.PageFacts{bookableFacts()},
	}
	cfg := fastConfig()
	cfg.Venue.RoomIDs = map[string]string{}
	o := newTestOrchestrator(t, page, cfg, nil)

	outcome := o.RunBooking(context.Background(), BookingRequest{RoomName: "Secret Lair", Date: "明天", Time: "10:00"})

	assert.Equal(t, StateFailed, outcome.State)
	assert.Contains(t, outcome.Message, "Secret Lair")
	assert.Contains(t, outcome.Message, "GSR Room 1")
}

func TestRunBooking_UnparsableDateOrTime(t *testing.T) {
	o := newTestOrchestrator(t, &fakePage{}, fastConfig(), nil)

	outcome := o.RunBooking(context.Background(), BookingRequest{Date: "someday", Time: "10:00"})
	assert.Equal(t, StateFailed, outcome.State)
	assert.Contains(t, outcome.Message, "无法识别日期")

	outcome = o.RunBooking(context.Background(), BookingRequest{Date: "明天", Time: "whenever"})
	assert.Equal(t, StateFailed, outcome.State)
	assert.Contains(t, outcome.Message, "无法识别时间")
}

func TestRunBooking_IframeLeapThenSuccess(t *testing.T) {
	page := &fakePage{
		pages: []string{gridText, formText, successText},
		scans: []scanner.PageFacts{
			{PageText: "Loading...", IframeSrc: "https://sys01.lib.hkbu.edu.hk/room_bookings/1/index.php"},
			bookableFacts(),
		},
	}
	o := newTestOrchestrator(t, page, fastConfig(), nil)

	outcome := o.RunBooking(context.Background(), BookingRequest{RoomName: "GSR Room 1", Date: "明天", Time: "10:00"})

	assert.Equal(t, StateConfirmed, outcome.State, outcome.Message)
	// entry → iframe leap → direct booking URL
	require.GreaterOrEqual(t, len(page.navigations), 3)
	assert.Contains(t, page.navigations[1], "room_bookings")
}

func TestRunBooking_DatePickerFallbackOnGridDateMismatch(t *testing.T) {
	stale := bookableFacts()
	stale.PageText = "2026-09-01 " + stale.PageText
	fresh := bookableFacts()
	fresh.PageText = "2026-09-02 " + fresh.PageText
	page := &fakePage{
		pages: []string{gridText, formText, successText},
		scans: []scanner.PageFacts{stale, fresh},
	}
	o := newTestOrchestrator(t, page, fastConfig(), nil)

	outcome := o.RunBooking(context.Background(), BookingRequest{
		RoomName: "GSR Room 1",
		Date:     "明天",
		Time:     "10:00",
	})

	assert.Equal(t, StateConfirmed, outcome.State, outcome.Message)
	require.Len(t, page.dateClicks, 1, "picker paged exactly once")
	assert.Equal(t, [2]int{2, 0}, page.dateClicks[0], "day 2 of the current picker month")
}

func TestSameBookingDate(t *testing.T) {
	assert.True(t, SameBookingDate("2026-09-02", "20260902"))
	assert.True(t, SameBookingDate("Bookings for 2026/9/2 (Wed)", "20260902"))
	assert.False(t, SameBookingDate("2026-09-01", "20260902"))
	assert.False(t, SameBookingDate("no date here", "20260902"))
}

func TestRunBooking_VisionFallbackOnSubmitFailure(t *testing.T) {
	page := &fakePage{
		pages:      []string{gridText, formText, successText},
		scans:      []scanner.PageFacts{bookableFacts()},
		submitErrs: []error{fmt.Errorf("no submit control was found on the form")},
		snapshot: &browser.Snapshot{
			URL: "https://lib.example.edu/form",
			Elements: []browser.SnapshotElement{
				{Tag: "button", Text: "Confirm Booking", X: 150, Y: 480},
			},
		},
	}
	vision := &queuedModel{replies: []string{`{"x":150,"y":480,"found":true}`}}
	o := newTestOrchestrator(t, page, fastConfig(), vision)

	outcome := o.RunBooking(context.Background(), BookingRequest{RoomName: "GSR Room 1", Date: "明天", Time: "10:00"})

	assert.Equal(t, StateConfirmed, outcome.State, outcome.Message)
	require.Len(t, page.taps, 1, "exactly one coordinate tap")
	assert.Equal(t, [2]int{150, 480}, page.taps[0])
	assert.Equal(t, 2, page.submits, "submit retried exactly once after the tap")
}

func TestRunBooking_ConfirmationTimeoutDumpsDiagnostics(t *testing.T) {
	page := &fakePage{
		pages: []string{gridText, formText, "Processing your request, please wait..."},
		scans: []scanner.PageFacts{bookableFacts()},
	}
	o := newTestOrchestrator(t, page, fastConfig(), nil)

	outcome := o.RunBooking(context.Background(), BookingRequest{RoomName: "GSR Room 1", Date: "明天", Time: "10:00"})

	assert.Equal(t, StateFailed, outcome.State)
	assert.Contains(t, outcome.Message, "超时")
	assert.Contains(t, outcome.Diag, "Processing your request")
}

func TestCheckAvailability_GroupsQuickReplies(t *testing.T) {
	page := &fakePage{
		pages: []string{gridText},
		scans: []scanner.PageFacts{bookableFacts()},
	}
	o := newTestOrchestrator(t, page, fastConfig(), nil)

	msg, quick := o.CheckAvailability(context.Background(), "明天")
	assert.Contains(t, msg, "20260902")
	assert.Contains(t, msg, "GSR Room 1")
	require.NotEmpty(t, quick)
	assert.Equal(t, "09:00 (1)", quick[0])
	assert.LessOrEqual(t, len(quick), fastConfig().Agent.QuickReplyMax)
}

func TestGroupSlotsByTime(t *testing.T) {
	slots := []scanner.Slot{
		{Time: "10:00", Available: true},
		{Time: "10:00", Available: true},
		{Time: "09:00", Available: true},
		{Time: "11:00", Available: false},
	}
	got := GroupSlotsByTime(slots, 8)
	assert.Equal(t, []string{"09:00 (1)", "10:00 (2)"}, got)
}
