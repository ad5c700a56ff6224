package templates

import (
	"strings"
	"testing"

	"github.com/ignite/marketplace-ops/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefs() []Definition {
	return []Definition{
		{EventType: "otp_send", Channel: domain.ChannelSMS, Body: "Your code is {{ code }}. It expires in {{ ttl_minutes | default: \"5\" }} minutes."},
		{EventType: "otp_send", Channel: domain.ChannelEmail, Subject: "Your login code", Body: "Hi {{ first_name | default: \"there\" }}, your code is {{ code }}."},
		{EventType: "withdrawal_processed", Channel: domain.ChannelSMS, Body: "Withdrawal of {{ amount }} to {{ account | mask }} sent."},
	}
}

func TestRender(t *testing.T) {
	r, err := NewRenderer(testDefs())
	require.NoError(t, err)

	n := domain.Notification{ID: "n1", EventType: "otp_send", Data: map[string]any{"code": "482913"}}

	sms, err := r.Render(n, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, "Your code is 482913. It expires in 5 minutes.", sms.Body)
	assert.Empty(t, sms.Subject)

	email, err := r.Render(n, domain.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, "Your login code", email.Subject)
	assert.Equal(t, "Hi there, your code is 482913.", email.Body)
}

func TestRender_MaskFilter(t *testing.T) {
	r, err := NewRenderer(testDefs())
	require.NoError(t, err)

	n := domain.Notification{EventType: "withdrawal_processed", Data: map[string]any{"amount": "KES 1,200", "account": "0712345678"}}
	c, err := r.Render(n, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, "Withdrawal of KES 1,200 to ******5678 sent.", c.Body)
}

func TestRender_Fallback(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)

	c, err := r.Render(domain.Notification{EventType: "kyc_approved"}, domain.ChannelPush)
	require.NoError(t, err)
	assert.Equal(t, "Kyc approved", c.Subject)
	assert.Equal(t, "You have a new notification.", c.Body)
	assert.False(t, r.Has("kyc_approved", domain.ChannelPush))

	c, err = r.Render(domain.Notification{EventType: "kyc_approved", Data: map[string]any{"message": "You're verified"}}, domain.ChannelInApp)
	require.NoError(t, err)
	assert.Equal(t, "You're verified", c.Body)
}

func TestRender_SMSTruncated(t *testing.T) {
	r, err := NewRenderer([]Definition{{EventType: "long", Channel: domain.ChannelSMS, Body: "{{ text }}"}})
	require.NoError(t, err)

	c, err := r.Render(domain.Notification{EventType: "long", Data: map[string]any{"text": strings.Repeat("a", 400)}}, domain.ChannelSMS)
	require.NoError(t, err)
	assert.Len(t, []rune(c.Body), SMSMaxLength)
	assert.True(t, strings.HasSuffix(c.Body, "..."))
}

func TestNewRenderer_RejectsBadTemplate(t *testing.T) {
	_, err := NewRenderer([]Definition{{EventType: "x", Channel: domain.ChannelEmail, Subject: "ok", Body: "{% if code %}unterminated"}})
	assert.Error(t, err)
}
