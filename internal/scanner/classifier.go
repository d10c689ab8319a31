// Package scanner recognizes booking-site pages from their visible text and
// extracts availability from raw table facts posted by the embedded surface.
package scanner

import "strings"

// Keyword sets cover both site locales. Classification is best effort; the
// orchestrator treats a miss as "keep polling", never as a hard failure.
var (
	loginKeywords = []string{
		"login", "log in", "sign in", "username", "password",
		"central authentication", "sso",
		"登录", "登入", "用户名", "密码", "學生號", "学号",
	}

	gridKeywords = []string{
		"available", "reserved", "booking", "time slot",
		"可预约", "已预约", "可預約", "已預約", "预订", "時段", "时段",
	}

	formKeywords = []string{
		"duration", "number of users", "terms", "conditions",
		"时长", "使用人数", "條款", "条款", "同意",
	}

	confirmSuccessKeywords = []string{
		"successfully", "success", "booking confirmed", "reservation confirmed",
		"预约成功", "預約成功", "成功",
	}

	confirmFailureKeywords = []string{
		"failed", "error", "unable", "exceed", "quota", "already booked",
		"预约失败", "預約失敗", "失败", "超出", "已被预约",
	}
)

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsLoginPage reports whether the text looks like an authentication page.
func IsLoginPage(text string) bool {
	return containsAny(text, loginKeywords)
}

// IsGridPage reports whether the text looks like the availability grid.
func IsGridPage(text string) bool {
	return containsAny(text, gridKeywords)
}

// IsFormPage reports whether the text looks like the reservation form.
func IsFormPage(text string) bool {
	return containsAny(text, formKeywords)
}

// ConfirmOutcome classifies a post-submit page. Returns ("success", true),
// ("failure", true), or ("", false) when the page is not conclusive yet.
func ConfirmOutcome(text string) (string, bool) {
	if containsAny(text, confirmSuccessKeywords) {
		return "success", true
	}
	if containsAny(text, confirmFailureKeywords) {
		return "failure", true
	}
	return "", false
}
