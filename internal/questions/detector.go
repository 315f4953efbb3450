// Package questions detects question-like and approval-like content in
// an agent's assistant output (the unfinished-work heuristic consulted
// on session resume,
// and the awaits gate type `approval`'s currentApprovers bookkeeping).
// It holds no knowledge of sessions, tasks or HTTP — callers feed it text
// and consume the returned Question.
package questions

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Type categorizes a detected question.
type Type string

const (
	TypeConfirmation Type = "confirmation"
	TypeChoice       Type = "choice"
	TypeInput        Type = "input"
	TypePermission   Type = "permission"
)

// Question is one question-like line detected in an agent's output.
type Question struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"sessionId"`
	Type       Type       `json:"type"`
	Text       string     `json:"text"`
	Options    []string   `json:"options,omitempty"`
	Sequence   uint64     `json:"sequence"`
	DetectedAt time.Time  `json:"detectedAt"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	Answer     string     `json:"answer,omitempty"`
}

// IsPending reports whether the question still awaits an answer.
func (q *Question) IsPending() bool { return q.AnsweredAt == nil }

// Detector scans assistant text for question-like content, per session.
// A session with a pending, undetected-as-answered question is treated
// by the session manager as having unfinished work present on resume.
type Detector struct {
	mu        sync.RWMutex
	bySession map[string][]*Question
	seq       uint64

	confirmationPattern *regexp.Regexp
	choicePattern       *regexp.Regexp
	permissionPattern   *regexp.Regexp
	questionPattern     *regexp.Regexp
}

// NewDetector constructs an empty Detector.
func NewDetector() *Detector {
	return &Detector{
		bySession:           make(map[string][]*Question),
		confirmationPattern: regexp.MustCompile(`(?i)(?:^(?:proceed|continue|confirm)\b.*\?|(?:proceed|continue|confirm|yes/no|y/n|\(y/n\))\??)\s*\)?$`),
		choicePattern:       regexp.MustCompile(`(?i)(?:select|choose|which|option)(?:[^\[\(]*[\[\(][^\]\)]+[\]\)]|\s*(?:\[|\()?[\d\w,\s/]+(?:\]|\))?)\s*[:?]?\s*$`),
		permissionPattern:   regexp.MustCompile(`(?i)(?:^(?:allow|authorize|grant|approve)\b.*|(?:allow|permission|authorize|grant access|approve|access))\?$`),
		questionPattern:     regexp.MustCompile(`\?\s*$`),
	}
}

// ProcessText scans one assistant message's text and, if it looks like a
// question, records and returns it. Returns nil for non-question text.
func (d *Detector) ProcessText(sessionID, text string) *Question {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	qType := d.detectType(text)
	if qType == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	q := &Question{
		ID:         sessionID + "-q" + itoa(d.seq),
		SessionID:  sessionID,
		Type:       qType,
		Text:       text,
		Sequence:   d.seq,
		DetectedAt: time.Now(),
	}
	if qType == TypeChoice {
		q.Options = extractOptions(text)
	}
	d.bySession[sessionID] = append(d.bySession[sessionID], q)
	return q
}

func (d *Detector) detectType(text string) Type {
	switch {
	case d.confirmationPattern.MatchString(text):
		return TypeConfirmation
	case d.permissionPattern.MatchString(text):
		return TypePermission
	case d.choicePattern.MatchString(text):
		return TypeChoice
	case d.questionPattern.MatchString(text):
		return TypeInput
	default:
		return ""
	}
}

// PendingForSession returns sessionID's unanswered questions, most recent last.
func (d *Detector) PendingForSession(sessionID string) []*Question {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var pending []*Question
	for _, q := range d.bySession[sessionID] {
		if q.IsPending() {
			cp := *q
			pending = append(pending, &cp)
		}
	}
	return pending
}

// HasPending reports whether sessionID has any unanswered question,
// the signal resumeSession's uwpCheck heuristic keys off.
func (d *Detector) HasPending(sessionID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, q := range d.bySession[sessionID] {
		if q.IsPending() {
			return true
		}
	}
	return false
}

// Answer marks sessionID's most recent pending question as answered.
func (d *Detector) Answer(sessionID, answer string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	qs := d.bySession[sessionID]
	for i := len(qs) - 1; i >= 0; i-- {
		if qs[i].IsPending() {
			now := time.Now()
			qs[i].AnsweredAt = &now
			qs[i].Answer = answer
			return
		}
	}
}

// ClearSession drops all recorded questions for sessionID, called once a
// session terminates so the Detector does not grow unbounded.
func (d *Detector) ClearSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bySession, sessionID)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// extractOptions pulls candidate answers out of a choice question's
// bracketed or parenthesized option list.
func extractOptions(text string) []string {
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`\[([^\]]+)\]`),
		regexp.MustCompile(`\(([^)]+)\)`),
	}
	for _, p := range patterns {
		matches := p.FindStringSubmatch(text)
		if len(matches) <= 1 {
			continue
		}
		parts := regexp.MustCompile(`[/,|]`).Split(matches[1], -1)
		var options []string
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				options = append(options, trimmed)
			}
		}
		if len(options) > 0 {
			return options
		}
	}
	return nil
}
