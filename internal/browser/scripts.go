package browser

import (
	"fmt"
	"strings"
	"time"
)

// jsEscape makes a Go string safe to embed inside a single-quoted JS literal.
// Closing script tags are split so the payload survives inline embedding.
func jsEscape(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`"`, `\"`,
		"\n", `\n`,
		"\r", `\r`,
		"\t", `\t`,
		"</", `<\/`,
	)
	return r.Replace(s)
}

// jsStr renders s as a quoted JS string literal.
func jsStr(s string) string {
	return "'" + jsEscape(s) + "'"
}

// postPrelude resolves the host channel once per script. The embedded surface
// exposes exactly one of these: a webview message port, a CDP binding, or the
// relay socket installed by the bootstrap script.
const postPrelude = `
var __post = function(o) {
  var s = JSON.stringify(o);
  if (window.ReactNativeWebView && window.ReactNativeWebView.postMessage) { window.ReactNativeWebView.postMessage(s); return; }
  if (typeof window.__hostPostMessage === 'function') { window.__hostPostMessage(s); return; }
  if (window.__hostSocket && window.__hostSocket.readyState === 1) { window.__hostSocket.send(s); return; }
};
var __send = function(type, cid, payload) {
  var env = { type: type, payload: payload };
  if (cid) { env.cid = cid; }
  __post(env);
};
var __visible = function(el) {
  return !!(el && el.offsetParent !== null);
};
`

// wrap closes the script over the prelude and guards it so a DOM exception
// still produces an envelope of the expected type.
func wrap(envType, cid, body string) string {
	return fmt.Sprintf(`(function() {
%s
try {
%s
} catch (e) {
  __send(%s, %s, { error: String(e && e.message || e) });
}
})(); true;`, postPrelude, body, jsStr(envType), jsStr(cid))
}

// Navigate points the surface at url. Navigation tears down the page context,
// so no envelope comes back; callers poll the next page instead.
func Navigate(url string) string {
	return fmt.Sprintf(`(function() { window.location.href = %s; })(); true;`, jsStr(url))
}

// ReadPage posts the visible text of the page.
func ReadPage() string {
	return wrap("PAGE_TEXT", "", `
var text = (document.body && document.body.innerText) || '';
__send('PAGE_TEXT', '', { text: text.substring(0, 20000), url: window.location.href, title: document.title });
`)
}

// GetElements posts a compact inventory of interactive elements.
func GetElements() string {
	return wrap("PAGE_ELEMENTS", "", `
var nodes = document.querySelectorAll('a, button, input, select, textarea, [role="button"], [onclick]');
var out = [];
for (var i = 0; i < nodes.length && out.length < 40; i++) {
  var el = nodes[i];
  if (!__visible(el)) { continue; }
  out.push({
    tag: el.tagName.toLowerCase(),
    id: el.id || '',
    name: el.getAttribute('name') || '',
    type: el.getAttribute('type') || '',
    placeholder: el.getAttribute('placeholder') || '',
    text: (el.innerText || el.value || '').trim().substring(0, 80),
    href: el.getAttribute('href') || ''
  });
}
__send('PAGE_ELEMENTS', '', { elements: out, url: window.location.href });
`)
}

// findTarget is shared by Click, Type and Select. Match precedence: element
// ID, then name attribute or CSS selector, then placeholder, then associated
// label text, then visible text. Hidden elements never match.
const findTargetJS = `
var __find = function(target) {
  var el = document.getElementById(target);
  if (__visible(el)) { return el; }
  var els = document.getElementsByName(target);
  for (var i = 0; i < els.length; i++) { if (__visible(els[i])) { return els[i]; } }
  try { el = document.querySelector(target); if (__visible(el)) { return el; } } catch (e) {}
  var inputs = document.querySelectorAll('input, textarea, select');
  for (var i = 0; i < inputs.length; i++) {
    if (__visible(inputs[i]) && inputs[i].getAttribute('placeholder') === target) { return inputs[i]; }
  }
  var labels = document.querySelectorAll('label');
  for (var i = 0; i < labels.length; i++) {
    if (labels[i].innerText.trim() === target && labels[i].htmlFor) {
      el = document.getElementById(labels[i].htmlFor);
      if (__visible(el)) { return el; }
    }
  }
  var all = document.querySelectorAll('a, button, input[type="submit"], input[type="button"], [role="button"], [onclick]');
  var lower = target.toLowerCase();
  for (var i = 0; i < all.length; i++) {
    var t = (all[i].innerText || all[i].value || '').trim().toLowerCase();
    if (__visible(all[i]) && t && (t === lower || t.indexOf(lower) !== -1)) { return all[i]; }
  }
  return null;
};
`

// Click clicks the element identified by target and reports the outcome
// under the given correlation ID.
func Click(target, cid string) string {
	body := findTargetJS + fmt.Sprintf(`
var el = __find(%s);
if (!el) {
  __send('CLICK_RESULT', %s, { success: false, error: 'element not found: ' + %s });
} else {
  el.click();
  __send('CLICK_RESULT', %s, { success: true, matched: el.tagName.toLowerCase() + (el.id ? '#' + el.id : '') });
}
`, jsStr(target), jsStr(cid), jsStr(target), jsStr(cid))
	return wrap("CLICK_RESULT", cid, body)
}

// Type sets the value of a text field and fires the framework events most
// form handlers listen for.
func Type(target, text, cid string) string {
	body := findTargetJS + fmt.Sprintf(`
var el = __find(%s);
if (!el) {
  __send('TYPE_RESULT', %s, { success: false, error: 'element not found: ' + %s });
} else {
  el.focus();
  el.value = %s;
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  __send('TYPE_RESULT', %s, { success: true });
}
`, jsStr(target), jsStr(cid), jsStr(target), jsStr(text), jsStr(cid))
	return wrap("TYPE_RESULT", cid, body)
}

// Select picks a dropdown option by value or visible text.
func Select(target, option, cid string) string {
	body := findTargetJS + fmt.Sprintf(`
var el = __find(%s);
if (!el || el.tagName.toLowerCase() !== 'select') {
  __send('SELECT_RESULT', %s, { success: false, error: 'select not found: ' + %s });
} else {
  var want = %s;
  var hit = false;
  for (var i = 0; i < el.options.length; i++) {
    var opt = el.options[i];
    if (opt.value === want || opt.text.trim() === want) {
      el.selectedIndex = i;
      hit = true;
      break;
    }
  }
  if (hit) {
    el.dispatchEvent(new Event('change', { bubbles: true }));
    __send('SELECT_RESULT', %s, { success: true, value: el.value });
  } else {
    __send('SELECT_RESULT', %s, { success: false, error: 'option not found: ' + want });
  }
}
`, jsStr(target), jsStr(cid), jsStr(target), jsStr(option), jsStr(cid), jsStr(cid))
	return wrap("SELECT_RESULT", cid, body)
}

// TapAt synthesizes a full pointer sequence at viewport coordinates. Used by
// the vision fallback when no element handle is resolvable.
func TapAt(x, y int, cid string) string {
	body := fmt.Sprintf(`
var x = %d, y = %d;
var el = document.elementFromPoint(x, y);
if (!el) {
  __send('TAP_RESULT', %s, { success: false, error: 'no element at ' + x + ',' + y });
} else {
  var opts = { bubbles: true, cancelable: true, clientX: x, clientY: y, view: window };
  el.dispatchEvent(new MouseEvent('mousedown', opts));
  el.dispatchEvent(new MouseEvent('mouseup', opts));
  el.dispatchEvent(new MouseEvent('click', opts));
  __send('TAP_RESULT', %s, { success: true, matched: el.tagName.toLowerCase() });
}
`, x, y, jsStr(cid), jsStr(cid))
	return wrap("TAP_RESULT", cid, body)
}

// CaptureSnapshot posts a structural snapshot: up to 20 visible interactive
// elements with their center coordinates, for the vision model to pick from.
func CaptureSnapshot() string {
	return wrap("SCREENSHOT_RESULT", "", `
var nodes = document.querySelectorAll('a, button, input, select, [role="button"], [onclick], td, th');
var out = [];
for (var i = 0; i < nodes.length && out.length < 20; i++) {
  var el = nodes[i];
  if (!__visible(el)) { continue; }
  var text = (el.innerText || el.value || '').trim();
  if (!text) { continue; }
  var r = el.getBoundingClientRect();
  if (r.width === 0 || r.height === 0) { continue; }
  out.push({
    tag: el.tagName.toLowerCase(),
    text: text.substring(0, 60),
    x: Math.round(r.left + r.width / 2),
    y: Math.round(r.top + r.height / 2)
  });
}
__send('SCREENSHOT_RESULT', '', { elements: out, url: window.location.href });
`)
}

// dismissOverlaysJS clears cookie-consent banners and full-page shields that
// sit between the agent and the booking grid.
const dismissOverlaysJS = `
var crushCookieBanners = function() {
  var words = ['accept', 'agree', 'got it', 'ok', '同意', '接受', '知道了'];
  var btns = document.querySelectorAll('button, a, [role="button"]');
  for (var i = 0; i < btns.length; i++) {
    var t = (btns[i].innerText || '').trim().toLowerCase();
    for (var j = 0; j < words.length; j++) {
      if (t === words[j]) { try { btns[i].click(); } catch (e) {} }
    }
  }
};
var dropShields = function() {
  var all = document.querySelectorAll('div, section');
  for (var i = 0; i < all.length; i++) {
    var st = window.getComputedStyle(all[i]);
    if (st.position === 'fixed' && parseInt(st.zIndex, 10) > 900 &&
        all[i].offsetWidth >= window.innerWidth * 0.9 &&
        all[i].offsetHeight >= window.innerHeight * 0.9) {
      all[i].style.display = 'none';
    }
  }
};
crushCookieBanners();
dropShields();
`

// ScanTables posts the raw facts of every table on the page plus the src of
// any embedded booking frame. All interpretation happens host side.
func ScanTables() string {
	return wrap("BOOKING_SLOTS", "", dismissOverlaysJS+`
var iframeSrc = '';
var frames = document.querySelectorAll('iframe');
for (var i = 0; i < frames.length; i++) {
  var src = frames[i].getAttribute('src') || '';
  if (src) { iframeSrc = src; break; }
}
var tables = document.querySelectorAll('table');
var facts = [];
for (var t = 0; t < tables.length && facts.length < 12; t++) {
  var rows = tables[t].rows;
  var maxCols = 0;
  var cells = [];
  for (var r = 0; r < rows.length; r++) {
    if (rows[r].cells.length > maxCols) { maxCols = rows[r].cells.length; }
    for (var c = 0; c < rows[r].cells.length && cells.length < 600; c++) {
      var cell = rows[r].cells[c];
      var link = cell.querySelector('a');
      cells.push({
        row: r,
        col: c,
        text: (cell.innerText || '').trim().substring(0, 60),
        title: cell.getAttribute('title') || '',
        alt: (cell.querySelector('img') ? cell.querySelector('img').getAttribute('alt') || '' : ''),
        href: (link ? link.getAttribute('href') || '' : ''),
        html: cell.innerHTML.substring(0, 120)
      });
    }
  }
  facts.push({ rowCount: rows.length, colCount: maxCols, text: (tables[t].innerText || '').substring(0, 2000), cells: cells });
}
var pageText = (document.body && document.body.innerText || '').substring(0, 8000);
__send('BOOKING_SLOTS', '', { pageText: pageText, iframeSrc: iframeSrc, tables: facts, url: window.location.href });
`)
}

// ClickSlot clicks the grid cell anchor whose href carries the given room
// and whose row starts with the given time label.
func ClickSlot(timeLabel string, roomID, cid string) string {
	body := fmt.Sprintf(`
var timeLabel = %s, roomId = %s;
var links = document.querySelectorAll('table a');
var hit = null;
for (var i = 0; i < links.length; i++) {
  var href = links[i].getAttribute('href') || '';
  if (href.indexOf('room=' + roomId) === -1) { continue; }
  var row = links[i].closest('tr');
  var rowText = row ? (row.cells[0] ? row.cells[0].innerText.trim() : '') : '';
  if (rowText.indexOf(timeLabel) === 0) { hit = links[i]; break; }
}
if (!hit) {
  __send('CLICK_SLOT_RESULT', %s, { success: false, error: 'slot not found: room ' + roomId + ' at ' + timeLabel });
} else {
  var href = hit.getAttribute('href') || '';
  hit.click();
  __send('CLICK_SLOT_RESULT', %s, { success: true, href: href });
}
`, jsStr(timeLabel), jsStr(roomID), jsStr(cid), jsStr(cid))
	return wrap("CLICK_SLOT_RESULT", cid, body)
}

// SubmitBooking fills the reservation form: overlays cleared first, then
// duration, party size, any terms checkboxes, then the submit control.
// Keyword sets cover both site locales.
func SubmitBooking(durationLabel, numUsers, cid string) string {
	body := dismissOverlaysJS + fmt.Sprintf(`
var duration = %s, nop = %s;
var pick = function(sel, want) {
  if (!sel) { return false; }
  for (var i = 0; i < sel.options.length; i++) {
    if (sel.options[i].text.trim() === want || sel.options[i].value === want) {
      sel.selectedIndex = i;
      sel.dispatchEvent(new Event('change', { bubbles: true }));
      return true;
    }
  }
  return false;
};
var duOK = pick(document.querySelector('select[name="du"]'), duration);
var nopOK = pick(document.querySelector('select[name="nop"]'), nop);
var boxes = document.querySelectorAll('input[type="checkbox"]');
for (var i = 0; i < boxes.length; i++) {
  if (!boxes[i].checked) {
    boxes[i].checked = true;
    boxes[i].dispatchEvent(new Event('change', { bubbles: true }));
  }
}
var words = ['submit', 'book', 'confirm', '预约', '提交', '确认'];
var btns = document.querySelectorAll('button, input[type="submit"], input[type="button"], a');
var clicked = false;
for (var i = 0; i < btns.length && !clicked; i++) {
  var t = (btns[i].innerText || btns[i].value || '').trim().toLowerCase();
  for (var j = 0; j < words.length; j++) {
    if (t.indexOf(words[j]) !== -1) {
      btns[i].click();
      clicked = true;
      break;
    }
  }
}
if (!clicked && document.forms.length > 0) {
  document.forms[0].submit();
  clicked = true;
}
__send('SUBMIT_TRIGGERED', %s, { success: clicked, durationSet: duOK, partySet: nopOK });
`, jsStr(durationLabel), jsStr(numUsers), jsStr(cid))
	return wrap("SUBMIT_TRIGGERED", cid, body)
}

// ClickDate advances the date picker monthOffset months forward and clicks
// the given day number.
func ClickDate(day, monthOffset int, cid string) string {
	body := fmt.Sprintf(`
var day = %d, offset = %d;
var nextWords = ['next', '下月', '下个月', '>', '»'];
for (var m = 0; m < offset; m++) {
  var btns = document.querySelectorAll('a, button, span, th');
  for (var i = 0; i < btns.length; i++) {
    var t = (btns[i].innerText || '').trim().toLowerCase();
    for (var j = 0; j < nextWords.length; j++) {
      if (t === nextWords[j]) { btns[i].click(); j = nextWords.length; i = btns.length; }
    }
  }
}
var cells = document.querySelectorAll('td a, td');
var hit = null;
for (var i = 0; i < cells.length; i++) {
  if (cells[i].innerText.trim() === String(day)) { hit = cells[i]; break; }
}
if (!hit) {
  __send('DATE_CLICK', %s, { success: false, error: 'day not found: ' + day });
} else {
  hit.click();
  __send('DATE_CLICK', %s, { success: true });
}
`, day, monthOffset, jsStr(cid), jsStr(cid))
	return wrap("DATE_CLICK", cid, body)
}

// AuthStatus probes whether the surface currently holds an authenticated
// session, without navigating.
func AuthStatus() string {
	return wrap("AUTH_STATUS", "", `
var hasLoginForm = !!document.querySelector('input[type="password"]');
var text = ((document.body && document.body.innerText) || '').toLowerCase();
var hasLogout = text.indexOf('logout') !== -1 || text.indexOf('sign out') !== -1 || text.indexOf('退出') !== -1 || text.indexOf('登出') !== -1;
__send('AUTH_STATUS', '', { loggedIn: hasLogout && !hasLoginForm, url: window.location.href, title: document.title });
`)
}

// CookieSync posts the document cookies to the host side channel. The agent
// schedules this after login and before long idle stretches so a restored
// session can skip the SSO dance.
func CookieSync() string {
	return wrap("SYNC_COOKIES", "", `
__send('SYNC_COOKIES', '', { cookies: document.cookie, url: window.location.href });
`)
}

// CookieKeepAlive installs a repeating cookie sync on the page. Installing
// twice is a no-op; the interval survives until the page navigates away.
func CookieKeepAlive(interval time.Duration) string {
	seconds := int(interval / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return wrap("SYNC_COOKIES", "", fmt.Sprintf(`
if (!window.__cookieKeepAlive) {
  window.__cookieKeepAlive = setInterval(function () {
    __send('SYNC_COOKIES', '', { cookies: document.cookie, url: window.location.href });
  }, %d * 1000);
}
__send('SYNC_COOKIES', '', { cookies: document.cookie, url: window.location.href });
`, seconds))
}
