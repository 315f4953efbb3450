package agent

import (
	"context"
	"testing"
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/pkg/types"
)

// newTestManager builds a Manager whose "agent" is /bin/sh running a
// per-test script, so session lifecycles can be exercised without a real
// agent binary.
func newTestManager(t *testing.T, script string) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m := New(st, nil, "/bin/sh")
	m.SetGracePeriod(2 * time.Second)
	m.SetArgsBuilder(func(prompt, resumeClaudeID string, interactive bool) []string {
		return []string{"-c", script}
	})
	return m, st
}

func waitForStatus(t *testing.T, st *store.Store, id string, want types.SessionStatus) *types.SessionRecord {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec, err := st.GetSession(id)
		if err != nil {
			t.Fatalf("GetSession(%s) error: %v", id, err)
		}
		if rec.Status == want {
			return rec
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s stuck in %s, want %s", id, rec.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func drainUntilClosed(t *testing.T, ch <-chan SSEEvent) []SSEEvent {
	t.Helper()
	var out []SSEEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
}

func TestStartSessionRequiresAgentID(t *testing.T) {
	m, _ := newTestManager(t, "true")
	if _, err := m.StartSession("", StartOptions{}); !elemerr.Is(err, elemerr.KindValidation) {
		t.Errorf("StartSession(\"\") error = %v, want validation", err)
	}
}

func TestStartSessionEnforcesSingleLive(t *testing.T) {
	m, st := newTestManager(t, "sleep 30")
	rec, err := m.StartSession("el-agent", StartOptions{})
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}

	if _, err := m.StartSession("el-agent", StartOptions{}); !elemerr.Is(err, elemerr.KindConflict) {
		t.Errorf("second StartSession error = %v, want conflict", err)
	}

	if err := m.StopSession(rec.ID, false, "test teardown"); err != nil {
		t.Fatalf("StopSession() error: %v", err)
	}
	waitForStatus(t, st, rec.ID, types.SessionTerminated)

	// With the first session terminated, a new one may start.
	rec2, err := m.StartSession("el-agent", StartOptions{})
	if err != nil {
		t.Fatalf("StartSession after stop error: %v", err)
	}
	_ = m.StopSession(rec2.ID, false, "test teardown")
}

func TestSessionEventsAndExit(t *testing.T) {
	script := `sleep 0.2
echo '{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"working"}]}}'
echo '{"type":"result","result":"done"}'
exit 0`
	m, st := newTestManager(t, script)

	rec, err := m.StartSession("el-agent", StartOptions{InitialPrompt: "fix it"})
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}

	ch, cancel, err := m.Subscribe(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer cancel()

	events := drainUntilClosed(t, ch)
	var names []string
	for _, ev := range events {
		names = append(names, ev.Event)
	}

	if len(names) < 5 {
		t.Fatalf("got events %v, want at least connected/agent_user/agent_assistant/agent_result/agent_exit", names)
	}
	if names[0] != "connected" {
		t.Errorf("first event = %q, want connected", names[0])
	}
	if names[1] != "agent_user" {
		t.Errorf("second event = %q, want agent_user (initial prompt)", names[1])
	}
	if last := names[len(names)-1]; last != "agent_exit" {
		t.Errorf("last event = %q, want agent_exit", last)
	}
	sawAssistant, sawResult := false, false
	for _, n := range names {
		if n == "agent_assistant" {
			sawAssistant = true
		}
		if n == "agent_result" {
			sawResult = true
		}
	}
	if !sawAssistant || !sawResult {
		t.Errorf("event stream %v missing assistant/result", names)
	}

	final := waitForStatus(t, st, rec.ID, types.SessionTerminated)
	if final.ExitCode == nil || *final.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", final.ExitCode)
	}
	if final.ExitSignal != nil {
		t.Errorf("ExitSignal = %v, want nil", final.ExitSignal)
	}
}

func TestLateSubscriberStillGetsInitialPrompt(t *testing.T) {
	m, st := newTestManager(t, "sleep 30")
	rec, err := m.StartSession("el-agent", StartOptions{InitialPrompt: "carry on"})
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}
	defer func() {
		_ = m.StopSession(rec.ID, false, "test teardown")
		waitForStatus(t, st, rec.ID, types.SessionTerminated)
	}()

	for i := 0; i < 2; i++ {
		ch, cancel, err := m.Subscribe(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("Subscribe() #%d error: %v", i, err)
		}
		got := collect(ch, 2, time.Second)
		cancel()
		if len(got) < 2 || got[0].Event != "connected" || got[1].Event != "agent_user" {
			t.Errorf("subscriber %d seed = %v, want [connected agent_user]", i, got)
		}
	}
}

func TestSubscribeUnknownSession(t *testing.T) {
	m, _ := newTestManager(t, "true")
	if _, _, err := m.Subscribe(context.Background(), "ses-nope"); !elemerr.Is(err, elemerr.KindNotFound) {
		t.Errorf("Subscribe(unknown) error = %v, want not found", err)
	}
}

func TestResumptionCookieCapturedAndResume(t *testing.T) {
	script := `echo '{"type":"system","subtype":"init","session_id":"cookie-1"}'
exit 0`
	m, st := newTestManager(t, script)

	rec, err := m.StartSession("el-agent", StartOptions{})
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}
	final := waitForStatus(t, st, rec.ID, types.SessionTerminated)
	if final.ClaudeSessionID != "cookie-1" {
		t.Fatalf("ClaudeSessionID = %q, want cookie-1", final.ClaudeSessionID)
	}

	var resumedWith string
	m.SetArgsBuilder(func(prompt, resumeClaudeID string, interactive bool) []string {
		resumedWith = resumeClaudeID
		return []string{"-c", "exit 0"}
	})

	resumed, uwp, err := m.ResumeSession("el-agent", ResumeOptions{})
	if err != nil {
		t.Fatalf("ResumeSession() error: %v", err)
	}
	if uwp == nil {
		t.Error("uwpCheck is nil")
	}
	if resumedWith != "cookie-1" {
		t.Errorf("resume cookie passed to child = %q, want cookie-1", resumedWith)
	}
	if resumed.ClaudeSessionID != "cookie-1" {
		t.Errorf("resumed session cookie = %q, want cookie-1", resumed.ClaudeSessionID)
	}
	waitForStatus(t, st, resumed.ID, types.SessionTerminated)
}

func TestResumeSessionNoResumable(t *testing.T) {
	m, _ := newTestManager(t, "true")
	if _, _, err := m.ResumeSession("el-agent", ResumeOptions{}); !elemerr.Is(err, elemerr.KindNotFound) {
		t.Errorf("ResumeSession with no prior error = %v, want not found", err)
	}
}

func TestStopSessionGraceful(t *testing.T) {
	m, st := newTestManager(t, "sleep 30")
	rec, err := m.StartSession("el-agent", StartOptions{})
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}

	if err := m.StopSession(rec.ID, true, "operator request"); err != nil {
		t.Fatalf("StopSession(graceful) error: %v", err)
	}
	final := waitForStatus(t, st, rec.ID, types.SessionTerminated)
	if final.TerminatedAt == nil {
		t.Error("TerminatedAt not set")
	}
}

func TestStopSessionUnknown(t *testing.T) {
	m, _ := newTestManager(t, "true")
	if err := m.StopSession("ses-nope", false, ""); !elemerr.Is(err, elemerr.KindNotFound) {
		t.Errorf("StopSession(unknown) error = %v, want not found", err)
	}
}

func TestSendInputEmitsAndPersistsUserMessage(t *testing.T) {
	script := `read line
echo '{"type":"result","result":"ok"}'
exit 0`
	m, st := newTestManager(t, script)

	rec, err := m.StartSession("el-agent", StartOptions{})
	if err != nil {
		t.Fatalf("StartSession() error: %v", err)
	}
	ch, cancel, err := m.Subscribe(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer cancel()

	if err := m.SendInput(rec.ID, "hello child", true); err != nil {
		t.Fatalf("SendInput() error: %v", err)
	}

	events := drainUntilClosed(t, ch)
	sawUser := false
	for _, ev := range events {
		if ev.Event == "agent_user" {
			sawUser = true
		}
	}
	if !sawUser {
		t.Errorf("events %v missing agent_user from SendInput", events)
	}

	waitForStatus(t, st, rec.ID, types.SessionTerminated)
	msgs, err := m.ListMessages(rec.ID, time.Time{})
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	found := false
	for _, msg := range msgs {
		if msg.Type == types.MessageUser && msg.Content == "hello child" {
			found = true
		}
	}
	if !found {
		t.Errorf("persisted messages %+v missing user input", msgs)
	}
}

func TestGetActiveSessionEmpty(t *testing.T) {
	m, _ := newTestManager(t, "true")
	rec, err := m.GetActiveSession("el-agent")
	if err != nil {
		t.Fatalf("GetActiveSession() error: %v", err)
	}
	if rec != nil {
		t.Errorf("GetActiveSession = %+v, want nil", rec)
	}
}
