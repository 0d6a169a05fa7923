package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

// DigestEntry is one patient whose medication review is due.
type DigestEntry struct {
	PatientID       string
	Name            string
	MedicationCount int
	LastReview      *time.Time
}

var digestHTML = template.Must(template.New("digest").Funcs(template.FuncMap{"lastReview": lastReview}).Parse(`<p>{{len .Entries}} medication review(s) due as of {{.Date}}.</p>
<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Patient</th><th>Name</th><th>Medications</th><th>Last review</th></tr>
{{range .Entries}}<tr><td>{{.PatientID}}</td><td>{{.Name}}</td><td>{{.MedicationCount}}</td><td>{{lastReview .LastReview}}</td></tr>
{{end}}</table>
`))

func lastReview(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format("2006-01-02")
}

// DigestMessage builds the review-due digest mail.
func DigestMessage(from string, to []string, now time.Time, entries []DigestEntry) (Message, error) {
	date := now.Format("2006-01-02")

	var text strings.Builder
	fmt.Fprintf(&text, "%d medication review(s) due as of %s.\n\n", len(entries), date)
	for _, e := range entries {
		fmt.Fprintf(&text, "- %s %s: %d medications, last review %s\n", e.PatientID, e.Name, e.MedicationCount, lastReview(e.LastReview))
	}

	var html bytes.Buffer
	if err := digestHTML.Execute(&html, struct {
		Date    string
		Entries []DigestEntry
	}{date, entries}); err != nil {
		return Message{}, fmt.Errorf("render digest: %w", err)
	}

	return Message{
		From:    from,
		To:      to,
		Subject: fmt.Sprintf("CareLink: %d medication review(s) due", len(entries)),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
