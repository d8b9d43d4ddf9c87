package provider

import (
	"strings"
	"time"

	"SendWave/internal/models"
)

// Payload is the wire shape of one outbound message.
type Payload struct {
	Type         string          `json:"type"`
	Recipient    string          `json:"recipient"`
	Text         string          `json:"text,omitempty"`
	MediaURL     string          `json:"media_url,omitempty"`
	Caption      string          `json:"caption,omitempty"`
	Buttons      []models.Button `json:"buttons,omitempty"`
	QuickReplies []models.Button `json:"quick_replies,omitempty"`
}

// Builder turns a job's message configuration into provider payloads for
// one recipient. Fallback returns the decomposed simpler form attempted
// when the provider rejects the combined template, or nil when the type
// has no decomposition.
type Builder interface {
	Build(job *models.Job, rcpt models.Recipient, now time.Time) Payload
	Fallback(job *models.Job, rcpt models.Recipient, now time.Time) []Payload
}

var builders = map[models.MessageType]Builder{
	models.MessageText:         textBuilder{},
	models.MessageImage:        mediaBuilder{kind: "image"},
	models.MessageVideo:        mediaBuilder{kind: "video"},
	models.MessageButtons:      buttonsBuilder{},
	models.MessageQuickReplies: quickRepliesBuilder{},
}

// BuilderFor returns the payload builder for a message type. Adding a
// message type means adding a builder here, not touching the orchestrator.
func BuilderFor(t models.MessageType) (Builder, bool) {
	b, ok := builders[t]
	return b, ok
}

// Personalize substitutes recipient and clock tokens in message text.
func Personalize(text string, rcpt models.Recipient, now time.Time) string {
	name := rcpt.Name
	if name == "" {
		name = rcpt.ID
	}
	text = strings.ReplaceAll(text, "{name}", name)
	text = strings.ReplaceAll(text, "{date}", now.Format("2006-01-02"))
	text = strings.ReplaceAll(text, "{time}", now.Format("15:04"))
	return text
}

func messageText(job *models.Job, rcpt models.Recipient, now time.Time) string {
	if job.Personalize {
		return Personalize(job.Message, rcpt, now)
	}
	return job.Message
}

type textBuilder struct{}

func (textBuilder) Build(job *models.Job, rcpt models.Recipient, now time.Time) Payload {
	return Payload{
		Type:      "text",
		Recipient: rcpt.ID,
		Text:      messageText(job, rcpt, now),
	}
}

func (textBuilder) Fallback(*models.Job, models.Recipient, time.Time) []Payload { return nil }

type mediaBuilder struct {
	kind string
}

func (b mediaBuilder) Build(job *models.Job, rcpt models.Recipient, now time.Time) Payload {
	caption := job.Caption
	if job.Personalize && caption != "" {
		caption = Personalize(caption, rcpt, now)
	}
	return Payload{
		Type:      b.kind,
		Recipient: rcpt.ID,
		MediaURL:  job.MediaURL,
		Caption:   caption,
	}
}

// Fallback decomposes media-with-caption into a bare media send followed
// by the caption as text.
func (b mediaBuilder) Fallback(job *models.Job, rcpt models.Recipient, now time.Time) []Payload {
	if job.Caption == "" {
		return nil
	}
	caption := job.Caption
	if job.Personalize {
		caption = Personalize(caption, rcpt, now)
	}
	return []Payload{
		{Type: b.kind, Recipient: rcpt.ID, MediaURL: job.MediaURL},
		{Type: "text", Recipient: rcpt.ID, Text: caption},
	}
}

type buttonsBuilder struct{}

// Build prefers the rich template: body text, buttons and an optional
// header image in a single payload.
func (buttonsBuilder) Build(job *models.Job, rcpt models.Recipient, now time.Time) Payload {
	return Payload{
		Type:      "buttons",
		Recipient: rcpt.ID,
		Text:      messageText(job, rcpt, now),
		MediaURL:  job.MediaURL,
		Buttons:   job.Buttons,
	}
}

// Fallback splits a rejected rich template: header image first, then the
// buttons without media.
func (buttonsBuilder) Fallback(job *models.Job, rcpt models.Recipient, now time.Time) []Payload {
	if job.MediaURL == "" {
		return nil
	}
	return []Payload{
		{Type: "image", Recipient: rcpt.ID, MediaURL: job.MediaURL},
		{Type: "buttons", Recipient: rcpt.ID, Text: messageText(job, rcpt, now), Buttons: job.Buttons},
	}
}

type quickRepliesBuilder struct{}

func (quickRepliesBuilder) Build(job *models.Job, rcpt models.Recipient, now time.Time) Payload {
	return Payload{
		Type:         "quick_replies",
		Recipient:    rcpt.ID,
		Text:         messageText(job, rcpt, now),
		QuickReplies: job.Buttons,
	}
}

func (quickRepliesBuilder) Fallback(*models.Job, models.Recipient, time.Time) []Payload { return nil }
