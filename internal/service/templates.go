package service

import (
	"fmt"

	"github.com/indiko7777/callsanta/internal/domain"
)

type EmailType string

const (
	EmailCallConfirmation       EmailType = "live_call_confirmation"
	EmailVideoOrderConfirmation EmailType = "video_order_confirmation"
	EmailBundleConfirmation     EmailType = "bundle_call_confirmation"
	EmailVideoDelivery          EmailType = "video_delivery"
	EmailBundlePostCall         EmailType = "bundle_post_call"
	EmailRecordingUpgrade       EmailType = "recording_upgrade_confirmation"
	EmailBundleUpgrade          EmailType = "bundle_upgrade_confirmation"
	EmailReturnCallUpgrade      EmailType = "return_call_upgrade_confirmation"
	EmailMagicLink              EmailType = "magic_link"
)

type emailContent struct {
	Subject string
	HTML    string
	Text    string
}

const emailButton = `display:inline-block;background-color:#D42426;color:white;padding:15px 25px;text-decoration:none;border-radius:5px;font-weight:bold;margin:20px 0;`

func wrapEmail(title, inner string) string {
	return fmt.Sprintf(`<div style="font-family:sans-serif;text-align:center;color:#333;max-width:600px;margin:0 auto;">
<h1 style="color:#D42426;">%s</h1>
%s
<p>Merry Christmas!</p>
</div>`, title, inner)
}

// BuildEmail renders the template for an order. A returned nil means
// no email is defined for the combination, which callers treat as "skip".
func BuildEmail(t EmailType, order *domain.Order, extra map[string]string) *emailContent {
	child := order.FirstParticipantName()
	switch t {
	case EmailCallConfirmation, EmailBundleConfirmation:
		code := ""
		if order.AccessCode != nil {
			code = *order.AccessCode
		}
		number := extra["call_number"]
		return &emailContent{
			Subject: fmt.Sprintf("🎅 Your Santa Access Code (Order #%s)", order.PublicID),
			HTML: wrapEmail("Santa Is Ready For Your Call!", fmt.Sprintf(
				`<p>Thank you for your order for <strong>%s</strong>.</p>
<div style="background-color:#f8f9fa;padding:20px;border-radius:10px;margin:20px 0;">
<p style="margin:0;color:#555;">Call <strong>%s</strong> and enter your access code:</p>
<p style="font-size:32px;letter-spacing:8px;font-weight:bold;margin:10px 0;">%s</p>
</div>
<p>The code works exactly once, so gather everyone before you dial.</p>`, child, number, code)),
			Text: fmt.Sprintf("Ho ho ho! Call %s and enter access code %s to reach Santa. The code works once.", number, code),
		}
	case EmailVideoOrderConfirmation:
		return &emailContent{
			Subject: fmt.Sprintf("🎥 Order Confirmed: Santa is making %s's video!", child),
			HTML: wrapEmail("Order Confirmed! 🎅", fmt.Sprintf(
				`<p>We have received your request for a personalized video for <strong>%s</strong>.</p>
<div style="background-color:#f8f9fa;padding:20px;border-radius:10px;margin:20px 0;">
<p style="margin:0;color:#555;"><strong>What happens next?</strong></p>
<p>Santa's elves are crafting your video with care. You will receive another email with the link as soon as it is ready.</p>
</div>`, child)),
			Text: fmt.Sprintf("We received your order. Santa's elves are working on %s's personalized video. It will be emailed to you shortly.", child),
		}
	case EmailVideoDelivery:
		return &emailContent{
			Subject: fmt.Sprintf("🎁 Special Delivery: %s's Video from Santa!", child),
			HTML: wrapEmail("Santa's Video is Ready! 🎅", fmt.Sprintf(
				`<p>Ho ho ho! I've made a special video message just for <strong>%s</strong>.</p>
<a href="%s" style="%s">Watch Video</a>
<p>Or copy this link: <a href="%s">%s</a></p>`,
				child, order.VideoURL, emailButton, order.VideoURL, order.VideoURL)),
			Text: fmt.Sprintf("Santa has recorded a special video just for %s. Watch it here: %s", child, order.VideoURL),
		}
	case EmailBundlePostCall:
		return &emailContent{
			Subject: fmt.Sprintf("🎙️ %s's Call Recording + A Message from Santa", child),
			HTML: wrapEmail("Your Call With Santa", fmt.Sprintf(
				`<p>What a wonderful call with <strong>%s</strong>!</p>
<a href="%s" style="%s">Listen to the Recording</a>`, child, extra["media_url"], emailButton)),
			Text: fmt.Sprintf("The recording of %s's call with Santa is ready: %s", child, extra["media_url"]),
		}
	case EmailRecordingUpgrade:
		return &emailContent{
			Subject: "🎙️ Recording Unlocked for Your Santa Call",
			HTML:    wrapEmail("Recording Unlocked!", `<p>Your call recording upgrade is confirmed. The recording link will arrive after the call ends.</p>`),
			Text:    "Your call recording upgrade is confirmed.",
		}
	case EmailBundleUpgrade, EmailReturnCallUpgrade:
		return &emailContent{
			Subject: "🎅 Your Return Call With Santa Is Booked",
			HTML: wrapEmail("Return Call Booked!", fmt.Sprintf(
				`<p>Santa can't wait to talk again.</p>
<div style="background-color:#f8f9fa;padding:20px;border-radius:10px;margin:20px 0;">
<p style="margin:0;color:#555;">Call <strong>%s</strong> and enter your new code:</p>
<p style="font-size:32px;letter-spacing:8px;font-weight:bold;margin:10px 0;">%s</p>
</div>`, extra["call_number"], extra["return_code"])),
			Text: fmt.Sprintf("Your return call is booked. Call %s and enter code %s.", extra["call_number"], extra["return_code"]),
		}
	case EmailMagicLink:
		link := extra["link"]
		return &emailContent{
			Subject: "Finish Your Santa Call Personalization",
			HTML: wrapEmail("Ho Ho Ho! 🎅", fmt.Sprintf(
				`<p>You're almost there! Santa is waiting to hear about your little ones.</p>
<a href="%s" style="%s">Finish Personalization</a>
<p>Or copy this link: <a href="%s">%s</a></p>`, link, emailButton, link, link)),
			Text: "Finish personalizing your Santa call: " + link,
		}
	}
	return nil
}

// ConfirmationEmailFor picks the confirmation template a freshly paid order
// should trigger.
func ConfirmationEmailFor(product domain.ProductType) EmailType {
	switch product {
	case domain.ProductCall:
		return EmailCallConfirmation
	case domain.ProductVideo:
		return EmailVideoOrderConfirmation
	case domain.ProductBundle:
		return EmailBundleConfirmation
	case domain.ProductUpgradeRecording:
		return EmailRecordingUpgrade
	case domain.ProductUpgradeBundle:
		return EmailBundleUpgrade
	case domain.ProductUpgradeReturnCall:
		return EmailReturnCallUpgrade
	}
	return ""
}
