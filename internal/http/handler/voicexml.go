package handler

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// voiceDoc accumulates telephony instruction verbs and renders the XML
// document the provider executes top to bottom.
type voiceDoc struct {
	b strings.Builder
}

func newVoiceDoc() *voiceDoc {
	d := &voiceDoc{}
	d.b.WriteString(xml.Header)
	d.b.WriteString("<Response>")
	return d
}

func (d *voiceDoc) String() string {
	return d.b.String() + "</Response>"
}

func (d *voiceDoc) Say(text string) *voiceDoc {
	fmt.Fprintf(&d.b, "<Say>%s</Say>", xmlEscape(text))
	return d
}

func (d *voiceDoc) Play(audioURL string) *voiceDoc {
	fmt.Fprintf(&d.b, "<Play>%s</Play>", xmlEscape(audioURL))
	return d
}

func (d *voiceDoc) Hangup() *voiceDoc {
	d.b.WriteString("<Hangup/>")
	return d
}

// GatherPlay prompts with audio and posts collected digits back to action.
func (d *voiceDoc) GatherPlay(action string, numDigits, timeoutSec int, audioURL string) *voiceDoc {
	fmt.Fprintf(&d.b, `<Gather action="%s" numDigits="%d" timeout="%d"><Play>%s</Play></Gather>`,
		xmlEscape(action), numDigits, timeoutSec, xmlEscape(audioURL))
	return d
}

// ConnectStream bridges the call to the agent's websocket.
func (d *voiceDoc) ConnectStream(streamURL string, maxDurationSec int) *voiceDoc {
	fmt.Fprintf(&d.b, `<Connect><Stream url="%s" maxDuration="%d"/></Connect>`,
		xmlEscape(streamURL), maxDurationSec)
	return d
}

// DialSIP bridges the call to a SIP endpoint, passing order context in the
// URI's X- headers.
func (d *voiceDoc) DialSIP(callerID, sipURI string) *voiceDoc {
	fmt.Fprintf(&d.b, `<Dial callerId="%s"><Sip>%s</Sip></Dial>`,
		xmlEscape(callerID), xmlEscape(sipURI))
	return d
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
