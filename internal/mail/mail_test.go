package mail

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func TestNotifier_Templates(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier(rec, "https://console.example.com/")
	ctx := context.Background()

	require.NoError(t, n.SendVerificationCode(ctx, "a@b.c", "abcd1234"))
	require.NoError(t, n.SendPasswordReset(ctx, "a@b.c", "rawtoken"))
	require.NoError(t, n.SendCredentialsRemoved(ctx, "a@b.c"))
	require.NoError(t, n.SendAccountDeleted(ctx, "a@b.c"))

	require.Len(t, rec.msgs, 4)
	assert.Equal(t, "Verify Your Email", rec.msgs[0].Subject)
	assert.Contains(t, rec.msgs[0].HTML, "abcd1234")
	assert.Contains(t, rec.msgs[1].HTML, "https://console.example.com/reset-password/rawtoken")
	assert.Contains(t, rec.msgs[2].Subject, "AWS Keys Have Been Deleted")
	assert.Contains(t, rec.msgs[3].HTML, "a@b.c")
	for _, m := range rec.msgs {
		assert.Equal(t, "a@b.c", m.To)
	}
}

func TestNotifier_EscapesInput(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier(rec, "")

	require.NoError(t, n.SendAccountDeleted(context.Background(), "<script>@x.y"))
	assert.NotContains(t, rec.msgs[0].HTML, "<script>")
}

func TestNotifier_PropagatesSendError(t *testing.T) {
	rec := &recordingSender{err: errors.New("relay down")}
	n := NewNotifier(rec, "")

	err := n.SendVerificationCode(context.Background(), "a@b.c", "code")
	assert.EqualError(t, err, "relay down")
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	s := NewLogSender(logger)
	require.NoError(t, s.Send(context.Background(), Message{To: "a@b.c", Subject: "Hello", HTML: "secret-code"}))
	assert.Contains(t, buf.String(), "Hello")
	assert.NotContains(t, buf.String(), "secret-code")
}

func TestBuildMIME(t *testing.T) {
	raw := string(buildMIME("noreply@example.com", Message{To: "a@b.c", Subject: "Hi", HTML: "<p>x</p>\n<p>y</p>"}))
	assert.True(t, strings.HasPrefix(raw, "From: noreply@example.com\r\n"))
	assert.Contains(t, raw, "To: a@b.c\r\n")
	assert.Contains(t, raw, "Content-Type: text/html")
	assert.Contains(t, raw, "<p>x</p>\r\n<p>y</p>")
}
