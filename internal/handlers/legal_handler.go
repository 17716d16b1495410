package handlers

import (
	"context"
	"html"

	"github.com/gofiber/fiber/v2"
)

// TextSource resolves admin-editable texts with a fallback.
type TextSource interface {
	Text(ctx context.Context, key, fallback string) string
}

type LegalHandler struct {
	texts TextSource
}

func NewLegalHandler(texts TextSource) *LegalHandler {
	return &LegalHandler{texts: texts}
}

const legalStyle = `<meta name="viewport" content="width=device-width, initial-scale=1">
<style>body{font-family:-apple-system,BlinkMacSystemFont,sans-serif;max-width:800px;margin:0 auto;padding:20px;color:#333}h1{color:#1a1a1a}h2{color:#444;margin-top:30px}</style>`

func (h *LegalHandler) appName(c *fiber.Ctx) string {
	return html.EscapeString(h.texts.Text(c.UserContext(), "app_name", "화장실 지도"))
}

func (h *LegalHandler) contact(c *fiber.Ctx) string {
	return html.EscapeString(h.texts.Text(c.UserContext(), "support_email", "support@restroom.app"))
}

func (h *LegalHandler) PrivacyPolicy(c *fiber.Ctx) error {
	appName := h.appName(c)
	return c.Type("html").SendString(`<!DOCTYPE html>
<html><head><title>Privacy Policy - ` + appName + `</title>
` + legalStyle + `
</head><body>
<h1>Privacy Policy</h1>
<p>Last updated: October 2026</p>
<h2>Information We Collect</h2>
<p>We collect your email address, nickname, the restrooms, reviews and reports you submit, and your credit history.</p>
<h2>Location</h2>
<p>When you enable smart reminders, the app reports your approximate position in the background. We keep only the last known position of each device, used to decide whether to remind you and to find restrooms added near you. Reminders fall back to a fixed weekly schedule when location access is not granted.</p>
<h2>Door Codes</h2>
<p>Door codes you register are only shown to people who unlock them with credits or a rewarded ad, for a limited time.</p>
<h2>Account Deletion</h2>
<p>You can withdraw at any time from the app settings. Your credit history is retained for audit purposes.</p>
<h2>Contact</h2>
<p>For questions about this policy, contact us at ` + h.contact(c) + `</p>
</body></html>`)
}

func (h *LegalHandler) TermsOfService(c *fiber.Ctx) error {
	appName := h.appName(c)
	return c.Type("html").SendString(`<!DOCTYPE html>
<html><head><title>Terms of Service - ` + appName + `</title>
` + legalStyle + `
</head><body>
<h1>Terms of Service</h1>
<p>Last updated: October 2026</p>
<h2>Acceptance</h2>
<p>By using ` + appName + `, you agree to these terms.</p>
<h2>User Conduct</h2>
<p>Reviews and reports must be written by you and describe a real visit. Spam, pasted text and repeated submissions are rejected. Restrooms at addresses that were removed at the owner's request cannot be registered again.</p>
<h2>Credits</h2>
<p>Credits are earned by contributing and spent to unlock door codes. They have no cash value. Credits earned by content that is later deleted may be reclaimed.</p>
<h2>Termination</h2>
<p>We may suspend or terminate accounts that violate these terms.</p>
<h2>Contact</h2>
<p>For questions, contact us at ` + h.contact(c) + `</p>
</body></html>`)
}
