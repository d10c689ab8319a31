package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campuslife/bookingagent/internal/bridge"
	"github.com/campuslife/bookingagent/internal/config"
	"github.com/campuslife/bookingagent/internal/scanner"
)

// Actions exposes the page primitives the agent composes its behavior from.
// Every method injects a script through the bridge, waits for the matching
// envelope and renders the payload as a plain observation string the
// reasoning loop can consume directly.
type Actions struct {
	bridge *bridge.Bridge
	cfg    *config.Config
	logger *zap.Logger
}

func NewActions(b *bridge.Bridge, cfg *config.Config, logger *zap.Logger) *Actions {
	return &Actions{
		bridge: b,
		cfg:    cfg,
		logger: logger.Named("browser"),
	}
}

func (a *Actions) timeout() time.Duration {
	return a.cfg.Bridge.DefaultTimeout
}

// settle blocks for the configured delay so the page can react to an
// action before the next observation. Honors ctx cancellation.
func (a *Actions) settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// Navigate points the surface at url. The page context is torn down by the
// navigation, so there is no acknowledgment; callers observe the next page.
func (a *Actions) Navigate(ctx context.Context, url string) error {
	a.logger.Info("Navigating", zap.String("url", url))
	if err := a.bridge.Inject(Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	a.settle(ctx, a.cfg.Browser.NavigateDelay)
	return ctx.Err()
}

// ReadPage returns the visible text of the current page.
func (a *Actions) ReadPage(ctx context.Context) (string, error) {
	payload, err := a.bridge.InjectAndObserve(ctx, ReadPage(), bridge.TypePageText, a.timeout())
	if err != nil {
		return "", err
	}
	var body struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := unmarshal(payload, &body); err != nil {
		return "", err
	}
	if body.Error != "" {
		return "", fmt.Errorf("read page: %s", body.Error)
	}
	return body.Text, nil
}

// PageURL reports the current location without disturbing the page.
func (a *Actions) PageURL(ctx context.Context) (string, error) {
	payload, err := a.bridge.InjectAndObserve(ctx, ReadPage(), bridge.TypePageText, a.timeout())
	if err != nil {
		return "", err
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := unmarshal(payload, &body); err != nil {
		return "", err
	}
	return body.URL, nil
}

// PageElement is one entry of the interactive-element inventory.
type PageElement struct {
	Tag         string `json:"tag"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Placeholder string `json:"placeholder"`
	Text        string `json:"text"`
	Href        string `json:"href"`
}

// GetInteractiveElements renders the clickable/fillable elements of the page
// as a numbered observation list.
func (a *Actions) GetInteractiveElements(ctx context.Context) (string, error) {
	payload, err := a.bridge.InjectAndObserve(ctx, GetElements(), bridge.TypePageElements, a.timeout())
	if err != nil {
		return "", err
	}
	var body struct {
		Elements []PageElement `json:"elements"`
		Error    string        `json:"error"`
	}
	if err := unmarshal(payload, &body); err != nil {
		return "", err
	}
	if body.Error != "" {
		return "", fmt.Errorf("get elements: %s", body.Error)
	}
	if len(body.Elements) == 0 {
		return "No interactive elements are visible on this page.", nil
	}
	var sb strings.Builder
	sb.WriteString("Interactive elements on this page:\n")
	for i, el := range body.Elements {
		label := el.Text
		if label == "" {
			label = el.Placeholder
		}
		fmt.Fprintf(&sb, "%d. <%s", i+1, el.Tag)
		if el.ID != "" {
			fmt.Fprintf(&sb, " id=%q", el.ID)
		}
		if el.Name != "" {
			fmt.Fprintf(&sb, " name=%q", el.Name)
		}
		sb.WriteString(">")
		if label != "" {
			fmt.Fprintf(&sb, " %q", label)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

type actionResult struct {
	Success bool   `json:"success"`
	Matched string `json:"matched"`
	Error   string `json:"error"`
}

// Click clicks the element identified by target and reports the outcome.
// The wait is correlated so a stray result from an earlier click cannot be
// mistaken for this one.
func (a *Actions) Click(ctx context.Context, target string) (string, error) {
	payload, err := a.bridge.InjectAndObserveCorrelated(ctx, func(cid string) string {
		return Click(target, cid)
	}, bridge.TypeClickResult, a.timeout())
	if err != nil {
		return "", err
	}
	var res actionResult
	if err := unmarshal(payload, &res); err != nil {
		return "", err
	}
	if !res.Success {
		return fmt.Sprintf("Click failed: %s", res.Error), nil
	}
	a.settle(ctx, a.cfg.Browser.SettleDelay)
	return fmt.Sprintf("Clicked %s.", res.Matched), nil
}

// Type fills a text field.
func (a *Actions) Type(ctx context.Context, target, text string) (string, error) {
	payload, err := a.bridge.InjectAndObserveCorrelated(ctx, func(cid string) string {
		return Type(target, text, cid)
	}, bridge.TypeTypeResult, a.timeout())
	if err != nil {
		return "", err
	}
	var res actionResult
	if err := unmarshal(payload, &res); err != nil {
		return "", err
	}
	if !res.Success {
		return fmt.Sprintf("Typing failed: %s", res.Error), nil
	}
	return fmt.Sprintf("Typed %q into %s.", text, target), nil
}

// SelectOption picks a dropdown option by value or visible text.
func (a *Actions) SelectOption(ctx context.Context, target, option string) (string, error) {
	payload, err := a.bridge.InjectAndObserveCorrelated(ctx, func(cid string) string {
		return Select(target, option, cid)
	}, bridge.TypeSelectResult, a.timeout())
	if err != nil {
		return "", err
	}
	var res struct {
		Success bool   `json:"success"`
		Value   string `json:"value"`
		Error   string `json:"error"`
	}
	if err := unmarshal(payload, &res); err != nil {
		return "", err
	}
	if !res.Success {
		return fmt.Sprintf("Select failed: %s", res.Error), nil
	}
	return fmt.Sprintf("Selected %q in %s.", option, target), nil
}

// TapAt dispatches a pointer sequence at viewport coordinates.
func (a *Actions) TapAt(ctx context.Context, x, y int) (string, error) {
	payload, err := a.bridge.InjectAndObserveCorrelated(ctx, func(cid string) string {
		return TapAt(x, y, cid)
	}, bridge.TypeTapResult, a.timeout())
	if err != nil {
		return "", err
	}
	var res actionResult
	if err := unmarshal(payload, &res); err != nil {
		return "", err
	}
	if !res.Success {
		return fmt.Sprintf("Tap at (%d,%d) failed: %s", x, y, res.Error), nil
	}
	a.settle(ctx, a.cfg.Browser.SettleDelay)
	return fmt.Sprintf("Tapped %s at (%d,%d).", res.Matched, x, y), nil
}

// SnapshotElement is one visible element with its center coordinates.
type SnapshotElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

// Snapshot is the structural page capture the vision fallback reasons over.
type Snapshot struct {
	URL      string            `json:"url"`
	Elements []SnapshotElement `json:"elements"`
}

// CaptureSnapshot collects the visible interactive elements with their
// positions.
func (a *Actions) CaptureSnapshot(ctx context.Context) (*Snapshot, error) {
	payload, err := a.bridge.InjectAndObserve(ctx, CaptureSnapshot(), bridge.TypeScreenshotResult, a.timeout())
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := unmarshal(payload, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// IsLoggedIn probes the page for an authenticated session.
func (a *Actions) IsLoggedIn(ctx context.Context) (bool, error) {
	payload, err := a.bridge.InjectAndObserve(ctx, AuthStatus(), bridge.TypeAuthStatus, a.timeout())
	if err != nil {
		return false, err
	}
	var body struct {
		LoggedIn bool `json:"loggedIn"`
	}
	if err := unmarshal(payload, &body); err != nil {
		return false, err
	}
	return body.LoggedIn, nil
}

// Scan extracts the raw table facts of the current page for grid analysis.
func (a *Actions) Scan(ctx context.Context) (scanner.PageFacts, error) {
	payload, err := a.bridge.InjectAndObserve(ctx, ScanTables(), bridge.TypeBookingSlots, a.timeout())
	if err != nil {
		return scanner.PageFacts{}, err
	}
	var facts scanner.PageFacts
	if err := unmarshal(payload, &facts); err != nil {
		return scanner.PageFacts{}, err
	}
	return facts, nil
}

// ClickSlot clicks the grid cell for the given room at the given time and
// returns the booking hyperlink the cell carried, when any.
func (a *Actions) ClickSlot(ctx context.Context, timeLabel, roomID string) (href string, err error) {
	payload, err := a.bridge.InjectAndObserveCorrelated(ctx, func(cid string) string {
		return ClickSlot(timeLabel, roomID, cid)
	}, bridge.TypeClickSlotResult, a.timeout())
	if err != nil {
		return "", err
	}
	var res struct {
		Success bool   `json:"success"`
		Href    string `json:"href"`
		Error   string `json:"error"`
	}
	if err := unmarshal(payload, &res); err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("click slot: %s", res.Error)
	}
	a.settle(ctx, a.cfg.Browser.SettleDelay)
	return res.Href, nil
}

// SubmitForm fills the reservation form and triggers submission.
func (a *Actions) SubmitForm(ctx context.Context, durationLabel, numUsers string) error {
	payload, err := a.bridge.InjectAndObserveCorrelated(ctx, func(cid string) string {
		return SubmitBooking(durationLabel, numUsers, cid)
	}, bridge.TypeSubmitTriggered, a.timeout())
	if err != nil {
		return err
	}
	var res struct {
		Success bool `json:"success"`
	}
	if err := unmarshal(payload, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("no submit control was found on the form")
	}
	a.settle(ctx, a.cfg.Browser.SettleDelay)
	return nil
}

// ClickDate pages the date picker forward and clicks a day number.
func (a *Actions) ClickDate(ctx context.Context, day, monthOffset int) error {
	payload, err := a.bridge.InjectAndObserveCorrelated(ctx, func(cid string) string {
		return ClickDate(day, monthOffset, cid)
	}, bridge.TypeDateClick, a.timeout())
	if err != nil {
		return err
	}
	var res struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := unmarshal(payload, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("click date: %s", res.Error)
	}
	a.settle(ctx, a.cfg.Browser.SettleDelay)
	return nil
}

// SyncCookies asks the surface to post its cookies to the side channel. The
// bridge persists them; there is no reply to wait for.
func (a *Actions) SyncCookies() error {
	return a.bridge.Inject(CookieSync())
}

// InjectScript runs an arbitrary prepared script with no reply, such as the
// stored cookie restoration script.
func (a *Actions) InjectScript(script string) error {
	return a.bridge.Inject(script)
}

func unmarshal(payload []byte, v any) error {
	if err := bridge.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode observation payload: %w", err)
	}
	return nil
}
