package report

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/cimon/pkg/cimon/signal"
)

var reportNow = time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC)

func TestSubject(t *testing.T) {
	assert.Equal(t, "Competitive Intelligence Digest - March 5, 2024", Digest{GeneratedAt: reportNow}.Subject())
	assert.Equal(t, "TEST: Competitive Intelligence Digest", Digest{GeneratedAt: reportNow, Test: true}.Subject())
}

func TestDateRange(t *testing.T) {
	assert.Equal(t, "Last 24 Hours · March 5, 2024", dateRange(reportNow, 24*time.Hour))
	assert.Equal(t, "February 27 - March 5, 2024", dateRange(reportNow, 7*24*time.Hour))
}

func TestRenderGroupsAndStats(t *testing.T) {
	d := Digest{
		GeneratedAt: reportNow,
		Window:      24 * time.Hour,
		Signals: []signal.Signal{
			{Competitor: "Zeta", Title: "Zeta old", Category: signal.CategoryProduct, PublishedAt: reportNow.Add(-5 * time.Hour), URL: "https://z.example/1"},
			{Competitor: "Acme", Title: "Acme <script>", Category: signal.CategoryAcquisition, PublishedAt: reportNow.Add(-2 * time.Hour), URL: "https://a.example/1"},
			{Competitor: "Zeta", Title: "Zeta new", Category: signal.CategoryProduct, PublishedAt: reportNow.Add(-time.Hour), URL: "https://z.example/2"},
		},
		Run: &RunStats{ID: "01HV", State: "partial", Collected: 9, Persisted: 3, Duplicates: 6, Failures: []string{"news:newsapi quota_exceeded"}},
	}

	groups := groupByCompetitor(d.Signals)
	require.Len(t, groups, 2)
	assert.Equal(t, "Acme", groups[0].Competitor)
	assert.Equal(t, "Zeta new", groups[1].Signals[0].Title, "newest first")

	stats := orderedStats(d.Signals)
	assert.Equal(t, []categoryCount{
		{Category: signal.CategoryAcquisition, Count: 1},
		{Category: signal.CategoryProduct, Count: 2},
	}, stats)

	r, err := Render(d)
	require.NoError(t, err)
	assert.Equal(t, "Competitive Intelligence Digest - March 5, 2024", r.Subject)
	assert.Contains(t, r.HTML, "Acme &lt;script&gt;")
	assert.NotContains(t, r.HTML, "<script>")
	assert.Contains(t, r.HTML, "3 signals")
	assert.Contains(t, r.HTML, "news:newsapi quota_exceeded")
	assert.Less(t, strings.Index(r.HTML, "Zeta new"), strings.Index(r.HTML, "Zeta old"))

	assert.Contains(t, r.Text, "== Acme ==")
	assert.Contains(t, r.Text, "[Product] Zeta new")
	assert.Contains(t, r.Text, "Run 01HV (partial)")
}

func TestRenderEmpty(t *testing.T) {
	r, err := Render(Digest{GeneratedAt: reportNow})
	require.NoError(t, err)
	assert.Contains(t, r.HTML, "No new signals in this period.")
	assert.Contains(t, r.Text, "No new signals in this period.")
}

func TestSampleDigest(t *testing.T) {
	d := SampleDigest(reportNow)
	assert.True(t, d.Test)
	assert.Len(t, d.Signals, 5)

	r, err := Render(d)
	require.NoError(t, err)
	assert.Equal(t, testSubject, r.Subject)
	assert.Contains(t, r.HTML, "This is a test digest")
	assert.Contains(t, r.HTML, "Databricks Partners with Tableau")
}

type recordingMailer struct {
	msgs []Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	m.msgs = append(m.msgs, msg)
	return m.err
}

func TestServiceReport(t *testing.T) {
	m := &recordingMailer{}
	svc := NewService(ServiceConfig{
		Mailer:    m,
		FromName:  "CI Monitor",
		FromEmail: "ci@example.com",
		To:        []string{"team@example.com"},
	})

	require.NoError(t, svc.Report(context.Background(), SampleDigest(reportNow)))
	require.Len(t, m.msgs, 1)
	assert.Equal(t, testSubject, m.msgs[0].Subject)
	assert.Equal(t, []string{"team@example.com"}, m.msgs[0].To)
	assert.NotEmpty(t, m.msgs[0].Text)

	m.err = errors.New("smtp down")
	err := svc.Report(context.Background(), SampleDigest(reportNow))
	assert.ErrorIs(t, err, m.err)

	assert.Error(t, NewService(ServiceConfig{}).Report(context.Background(), Digest{}))
}

func TestSendGridMailer(t *testing.T) {
	var (
		gotAuth string
		gotPath string
		gotBody map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m, err := NewSendGridMailer("SG.test", srv.URL)
	require.NoError(t, err)
	err = m.Send(context.Background(), Message{
		FromName:  "CI Monitor",
		FromEmail: "ci@example.com",
		To:        []string{"a@example.com", "b@example.com"},
		Subject:   "hello",
		HTML:      "<p>hi</p>",
		Text:      "hi",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer SG.test", gotAuth)
	assert.Equal(t, "/v3/mail/send", gotPath)
	assert.Equal(t, "hello", gotBody["subject"])

	_, err = NewSendGridMailer("", "")
	assert.Error(t, err)
}

func TestSendGridMailerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	m, err := NewSendGridMailer("SG.bad", srv.URL)
	require.NoError(t, err)
	err = m.Send(context.Background(), Message{FromEmail: "ci@example.com", To: []string{"a@example.com"}, Subject: "x", HTML: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestDirMailer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outbox")
	m := &DirMailer{Dir: dir, Now: func() time.Time { return reportNow }}

	require.NoError(t, m.Send(context.Background(), Message{Subject: "TEST: Competitive Intelligence Digest", HTML: "<p>x</p>"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "20240305-070000-TEST-Competitive-Intelligence-Digest.html", entries[0].Name())
}
