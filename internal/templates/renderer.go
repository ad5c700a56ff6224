// Package templates renders notification content per event type and
// channel with Liquid templates.
package templates

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/osteele/liquid"
)

// SMSMaxLength is the body length SMS content is cut to.
const SMSMaxLength = 160

const (
	fallbackSubject = `{{ event_name }}`
	fallbackBody    = `{{ message | default: "You have a new notification." }}`
)

// Definition is the subject and body template of one event on one channel.
type Definition struct {
	EventType string         `yaml:"event_type" json:"event_type"`
	Channel   domain.Channel `yaml:"channel" json:"channel"`
	Subject   string         `yaml:"subject" json:"subject"`
	Body      string         `yaml:"body" json:"body"`
}

// Content is rendered, channel-ready text.
type Content struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

// Renderer renders notifications. Parsed templates are cached, so it is
// safe and cheap to call concurrently.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
	defs   map[string]Definition
}

// NewRenderer parses every definition up front and rejects the set if any
// template fails to parse.
func NewRenderer(defs []Definition) (*Renderer, error) {
	r := &Renderer{
		engine: liquid.NewEngine(),
		defs:   make(map[string]Definition, len(defs)),
	}
	r.registerFilters()

	for _, d := range defs {
		k := key(d.EventType, d.Channel)
		if _, err := r.parse(k+":subject", d.Subject); err != nil {
			return nil, fmt.Errorf("template %s subject: %w", k, err)
		}
		if _, err := r.parse(k+":body", d.Body); err != nil {
			return nil, fmt.Errorf("template %s body: %w", k, err)
		}
		r.defs[k] = d
	}
	return r, nil
}

func key(eventType string, ch domain.Channel) string {
	return eventType + ":" + string(ch)
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ account_number | mask }} -> ****6789
	r.engine.RegisterFilter("mask", func(s string) string {
		n := utf8.RuneCountInString(s)
		if n <= 4 {
			return strings.Repeat("*", n)
		}
		runes := []rune(s)
		return strings.Repeat("*", n-4) + string(runes[n-4:])
	})
}

func (r *Renderer) parse(cacheKey, src string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(cacheKey); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	r.cache.Store(cacheKey, tpl)
	return tpl, nil
}

// Has reports whether a template is configured for eventType on ch.
func (r *Renderer) Has(eventType string, ch domain.Channel) bool {
	_, ok := r.defs[key(eventType, ch)]
	return ok
}

// Render produces the content of n for ch. Events without a template for
// ch get a generic subject and body. SMS bodies are cut to SMSMaxLength.
func (r *Renderer) Render(n domain.Notification, ch domain.Channel) (Content, error) {
	k := key(n.EventType, ch)
	subjectSrc, bodySrc := fallbackSubject, fallbackBody
	subjectKey, bodyKey := "fallback:subject", "fallback:body"
	if d, ok := r.defs[k]; ok {
		subjectSrc, bodySrc = d.Subject, d.Body
		subjectKey, bodyKey = k+":subject", k+":body"
	}

	bindings := Bindings(n)

	var out Content
	if ch == domain.ChannelEmail || ch == domain.ChannelPush {
		tpl, err := r.parse(subjectKey, subjectSrc)
		if err != nil {
			return Content{}, fmt.Errorf("parse %s: %w", subjectKey, err)
		}
		s, err := tpl.RenderString(bindings)
		if err != nil {
			return Content{}, fmt.Errorf("render %s: %w", subjectKey, err)
		}
		out.Subject = strings.TrimSpace(s)
	}

	tpl, err := r.parse(bodyKey, bodySrc)
	if err != nil {
		return Content{}, fmt.Errorf("parse %s: %w", bodyKey, err)
	}
	body, err := tpl.RenderString(bindings)
	if err != nil {
		return Content{}, fmt.Errorf("render %s: %w", bodyKey, err)
	}
	out.Body = strings.TrimSpace(body)

	if ch == domain.ChannelSMS && utf8.RuneCountInString(out.Body) > SMSMaxLength {
		out.Body = string([]rune(out.Body)[:SMSMaxLength-3]) + "..."
	}
	return out, nil
}

// Bindings returns the variables available to templates: the notification
// data at top level plus event_type, event_name, notification_id and
// recipient.
func Bindings(n domain.Notification) map[string]interface{} {
	b := make(map[string]interface{}, len(n.Data)+4)
	for k, v := range n.Data {
		b[k] = v
	}
	b["event_type"] = n.EventType
	b["event_name"] = humanize(n.EventType)
	b["notification_id"] = n.ID
	b["recipient"] = map[string]interface{}{
		"user_id": n.Recipient.UserID,
		"locale":  n.Recipient.Locale,
	}
	return b
}

// humanize turns "kyc_approved" into "Kyc approved".
func humanize(eventType string) string {
	s := strings.ReplaceAll(eventType, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
