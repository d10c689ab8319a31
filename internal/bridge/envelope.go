package bridge

import "encoding/json"

// Envelope is the only unit ever delivered from the embedded page back to the
// host. Type is drawn from the fixed vocabulary below; Payload is left opaque
// for the caller that requested it.
type Envelope struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"cid,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Envelope types understood by the bridge. Scripts built by the browser
// package post exactly these.
const (
	TypeLibraryScanResult = "LIBRARY_SCAN_RESULT"
	TypeAuthStatus        = "AUTH_STATUS"
	TypePageText          = "PAGE_TEXT"
	TypePageElements      = "PAGE_ELEMENTS"
	TypeClickResult       = "CLICK_RESULT"
	TypeTypeResult        = "TYPE_RESULT"
	TypeSelectResult      = "SELECT_RESULT"
	TypeTapResult         = "TAP_RESULT"
	TypeScreenshotResult  = "SCREENSHOT_RESULT"
	TypeBookingSlots      = "BOOKING_SLOTS"
	TypeClickSlotResult   = "CLICK_SLOT_RESULT"
	TypeSubmitTriggered   = "SUBMIT_TRIGGERED"
	TypeDateClick         = "DATE_CLICK"

	// TypeSyncCookies is a side channel: it bypasses all pending waits and is
	// persisted straight to the cookie store.
	TypeSyncCookies = "SYNC_COOKIES"
)
