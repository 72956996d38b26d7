package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/modfin/henry/compare"
	"github.com/modfin/utskick"
	"github.com/modfin/utskick/internal/profile"
	"github.com/modfin/utskick/tmpl"
	"github.com/modfin/utskick/track"
	"gopkg.in/gomail.v2"
)

// buildMessage renders the campaign templates for one recipient, injects
// tracking into the html part and assembles the mime message. Campaign
// templates win over the profile defaults.
func (e *Engine) buildMessage(prof profile.Profile, campaign utskick.Campaign,
	to, messageId string, vars map[string]string) (io.WriterTo, error) {

	html := compare.Coalesce(campaign.HTML, prof.HTMLTemplate)
	text := compare.Coalesce(campaign.Text, prof.TextTemplate)
	if len(html) == 0 && len(text) == 0 {
		return nil, errors.New("content of the email must be provided")
	}

	html = tmpl.Render(html, vars)
	text = tmpl.Render(text, vars)

	trackingBase := compare.Coalesce(prof.TrackingBaseURL, e.cfg.TrackingBaseURL)
	if len(html) > 0 && len(trackingBase) > 0 {
		html = track.Inject(html, to, trackingBase)
	}

	m := gomail.NewMessage()
	m.SetHeader("Message-ID", fmt.Sprintf("<%s>", messageId))
	m.SetHeader("From", campaign.From.String())
	m.SetHeader("To", to)
	m.SetHeader("Subject", tmpl.Render(campaign.Subject, vars))

	replyTo := compare.Coalesce(campaign.ReplyTo, prof.ReplyTo)
	if len(replyTo) > 0 {
		m.SetHeader("Reply-To", replyTo)
	}

	if len(text) > 0 {
		m.SetBody("text/plain", text)
	}
	if len(html) > 0 {
		if len(text) > 0 {
			m.AddAlternative("text/html", html)
		} else {
			m.SetBody("text/html", html)
		}
	}
	return m, nil
}
