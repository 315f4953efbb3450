package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/elemental/daemon/internal/elemerr"
	"github.com/elemental/daemon/internal/logging"
	"github.com/elemental/daemon/internal/questions"
	"github.com/elemental/daemon/internal/store"
	"github.com/elemental/daemon/pkg/types"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
)

// DefaultGracePeriod is how long stopSession(graceful=true) waits after
// interrupting a child before escalating to a forced kill.
const DefaultGracePeriod = 7 * time.Second

// DefaultCommand is the child binary the Session Manager spawns.
const DefaultCommand = "claude"

// Manager implements the Session Manager: a registry of live sessions
// guarded by per-agent locks enforcing at most one live session per
// agent, each owning a reader thread and an event publisher.
type Manager struct {
	store       *store.Store
	log         *logging.Logger
	command     string
	extraArgs   []string
	argsBuilder func(prompt, resumeClaudeID string, interactive bool) []string
	gracePeriod time.Duration
	queueSize   int

	agentLocksMu sync.Mutex
	agentLocks   map[types.ElementId]*sync.Mutex

	mu             sync.Mutex
	live           map[string]*session
	initialPrompts sync.Map // sessionID -> prompt string

	questions *questions.Detector
}

type session struct {
	rec       *types.SessionRecord
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	cancel    context.CancelFunc
	publisher *Publisher
	seq       uint64
	done      chan struct{}
	wg        conc.WaitGroup

	mu             sync.Mutex
	sessionIDKnown bool
}

// New constructs a Manager. An empty command defaults to DefaultCommand.
func New(st *store.Store, log *logging.Logger, command string) *Manager {
	if command == "" {
		command = DefaultCommand
	}
	m := &Manager{
		store:       st,
		log:         log,
		command:     command,
		gracePeriod: DefaultGracePeriod,
		agentLocks:  make(map[types.ElementId]*sync.Mutex),
		live:        make(map[string]*session),
		questions:   questions.NewDetector(),
	}
	m.argsBuilder = m.buildArgs
	return m
}

// SetGracePeriod overrides the graceful-stop escalation timeout.
func (m *Manager) SetGracePeriod(d time.Duration) { m.gracePeriod = d }

// SetCommand overrides the child binary to exec (test seam).
func (m *Manager) SetCommand(command string) { m.command = command }

// SetExtraArgs appends additional argv entries to every spawned child,
// after the standard flags.
func (m *Manager) SetExtraArgs(args []string) { m.extraArgs = args }

// SetQueueSize overrides the per-subscriber event queue depth.
func (m *Manager) SetQueueSize(n int) { m.queueSize = n }

// SetArgsBuilder overrides how session argv is constructed (test seam).
func (m *Manager) SetArgsBuilder(fn func(prompt, resumeClaudeID string, interactive bool) []string) {
	m.argsBuilder = fn
}

func (m *Manager) agentLock(agentID types.ElementId) *sync.Mutex {
	m.agentLocksMu.Lock()
	defer m.agentLocksMu.Unlock()
	lock, ok := m.agentLocks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		m.agentLocks[agentID] = lock
	}
	return lock
}

func newSessionID() string { return "ses-" + uuid.NewString() }

// StartOptions configures StartSession.
type StartOptions struct {
	WorkingDirectory string
	WorktreePath     string
	InitialPrompt    string
	Interactive      bool
}

// StartSession spawns a new child for agentID. Fails with a Conflict
// error (SessionExists) if one is already starting/running/terminating
// for this agent.
func (m *Manager) StartSession(agentID types.ElementId, opts StartOptions) (*types.SessionRecord, error) {
	if agentID == "" {
		return nil, elemerr.Validation("agentId is required")
	}
	lock := m.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.GetActiveSession(agentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, elemerr.Conflict("session %s already active for agent %s", existing.ID, agentID)
	}

	mode := types.SessionHeadless
	if opts.Interactive {
		mode = types.SessionInteractive
	}
	now := time.Now().UTC()
	rec := &types.SessionRecord{
		ID:               newSessionID(),
		AgentID:          agentID,
		Mode:             mode,
		Status:           types.SessionStarting,
		StartedAt:        now,
		WorkingDirectory: opts.WorkingDirectory,
		WorktreePath:     opts.WorktreePath,
		InitialPrompt:    opts.InitialPrompt,
	}
	if err := m.store.CreateSession(rec); err != nil {
		return nil, err
	}

	args := m.argsBuilder(opts.InitialPrompt, "", opts.Interactive)
	if err := m.spawn(rec, args); err != nil {
		rec.Status = types.SessionTerminated
		_ = m.store.UpdateSession(rec)
		return nil, err
	}

	if opts.InitialPrompt != "" {
		m.adoptInitialPrompt(rec.ID, opts.InitialPrompt, now)
	}

	return rec, nil
}

// ResumeOptions configures ResumeSession.
type ResumeOptions struct {
	ClaudeSessionID  string
	WorkingDirectory string
	WorktreePath     string
	InitialPrompt    string
}

// UWPCheck is the opaque "unfinished work present" heuristic result
// returned alongside a resumed session.
type UWPCheck struct {
	HasUnfinishedWork bool   `json:"hasUnfinishedWork"`
	Note              string `json:"note,omitempty"`
}

// ResumeSession starts a new child instructed to resume a prior Claude
// session, chosen by cookie or falling back to the agent's most recent
// resumable session.
func (m *Manager) ResumeSession(agentID types.ElementId, opts ResumeOptions) (*types.SessionRecord, *UWPCheck, error) {
	if agentID == "" {
		return nil, nil, elemerr.Validation("agentId is required")
	}
	lock := m.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := m.store.GetActiveSession(agentID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, elemerr.Conflict("session %s already active for agent %s", existing.ID, agentID)
	}

	var prior *types.SessionRecord
	if opts.ClaudeSessionID != "" {
		prior, err = m.store.GetSessionByClaudeID(agentID, opts.ClaudeSessionID)
	} else {
		prior, err = m.store.GetMostRecentResumableSession(agentID)
	}
	if err != nil {
		return nil, nil, err
	}
	if prior == nil {
		return nil, nil, elemerr.NotFound("resumable session", string(agentID))
	}

	uwp := &UWPCheck{}
	if pending := m.questions.PendingForSession(prior.ID); len(pending) > 0 {
		uwp.HasUnfinishedWork = true
		uwp.Note = "prior session left an undetected question unanswered: " + pending[len(pending)-1].Text
	}
	m.questions.ClearSession(prior.ID)

	now := time.Now().UTC()
	rec := &types.SessionRecord{
		ID:               newSessionID(),
		AgentID:          agentID,
		Mode:             prior.Mode,
		Status:           types.SessionStarting,
		ClaudeSessionID:  prior.ClaudeSessionID,
		StartedAt:        now,
		WorkingDirectory: firstNonEmpty(opts.WorkingDirectory, prior.WorkingDirectory),
		WorktreePath:     firstNonEmpty(opts.WorktreePath, prior.WorktreePath),
		InitialPrompt:    opts.InitialPrompt,
	}
	if err := m.store.CreateSession(rec); err != nil {
		return nil, nil, err
	}

	args := m.argsBuilder(opts.InitialPrompt, prior.ClaudeSessionID, prior.Mode == types.SessionInteractive)
	if err := m.spawn(rec, args); err != nil {
		rec.Status = types.SessionTerminated
		_ = m.store.UpdateSession(rec)
		return nil, nil, err
	}

	if opts.InitialPrompt != "" {
		m.adoptInitialPrompt(rec.ID, opts.InitialPrompt, now)
	}

	return rec, uwp, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (m *Manager) buildArgs(prompt, resumeClaudeID string, interactive bool) []string {
	args := []string{"--output-format", "stream-json", "--verbose"}
	if !interactive {
		args = append(args, "--print")
	}
	if resumeClaudeID != "" {
		args = append(args, "--resume", resumeClaudeID)
	}
	args = append(args, m.extraArgs...)
	if prompt != "" {
		args = append(args, prompt)
	}
	return args
}

func (m *Manager) adoptInitialPrompt(sessionID, prompt string, now time.Time) {
	m.initialPrompts.Store(sessionID, prompt)
	if err := m.store.InsertMessage(initialPromptMessage(sessionID, prompt, now)); err != nil && m.log != nil {
		m.log.Warn("failed to persist initial prompt message", "session", sessionID, "error", err)
	}
}

func (m *Manager) spawn(rec *types.SessionRecord, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, m.command, args...)
	cmd.Dir = rec.WorkingDirectory
	if rec.WorktreePath != "" {
		cmd.Dir = rec.WorktreePath
	}
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return elemerr.Internal(err, "create stdin pipe for session %s", rec.ID)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return elemerr.Internal(err, "create stdout pipe for session %s", rec.ID)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return elemerr.Internal(err, "create stderr pipe for session %s", rec.ID)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return elemerr.Internal(err, "start session %s", rec.ID)
	}

	pid := cmd.Process.Pid
	rec.PID = &pid
	rec.Status = types.SessionRunning
	if err := m.store.UpdateSession(rec); err != nil {
		cancel()
		return err
	}

	sess := &session{
		rec:       rec,
		cmd:       cmd,
		stdin:     stdin,
		cancel:    cancel,
		publisher: NewPublisher(m.queueSize),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.live[rec.ID] = sess
	m.mu.Unlock()

	sess.wg.Go(func() { m.heartbeatLoop(sess) })
	// The read loops drain stdout/stderr to EOF before monitor calls
	// cmd.Wait, since Wait closes the pipes and would discard unread output.
	go func() {
		var readers conc.WaitGroup
		readers.Go(func() { m.readLoop(sess, stdout) })
		readers.Go(func() { m.readLoop(sess, stderr) })
		readers.Wait()
		m.monitor(sess)
	}()

	if m.log != nil {
		m.log.Info("started session", "session", rec.ID, "agent", string(rec.AgentID), "pid", pid)
	}
	return nil
}

func (m *Manager) readLoop(sess *session, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		ev, claudeSessionID := parseLine(scanner.Text())
		if ev == nil {
			continue
		}
		ev.SessionID = sess.rec.ID
		ev.Timestamp = time.Now()
		seq := atomic.AddUint64(&sess.seq, 1)
		ev.MsgID = fmt.Sprintf("%s-%d", sess.rec.ID, seq)

		if claudeSessionID != "" {
			m.captureResumptionCookie(sess, claudeSessionID)
		}

		if ev.Type == EventAssistant {
			m.questions.ProcessText(sess.rec.ID, ev.Message)
		}

		sess.publisher.Publish(toSSE(sess.rec, ev))

		if msg := toMessage(sess.rec.ID, ev, ev.Timestamp); msg != nil {
			go func() {
				if err := m.store.InsertMessage(msg); err != nil && m.log != nil {
					m.log.Warn("failed to persist message", "session", sess.rec.ID, "error", err)
				}
			}()
		}
	}
}

func (m *Manager) captureResumptionCookie(sess *session, claudeSessionID string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.sessionIDKnown {
		return
	}
	sess.sessionIDKnown = true
	sess.rec.ClaudeSessionID = claudeSessionID
	if err := m.store.UpdateSession(sess.rec); err != nil && m.log != nil {
		m.log.Warn("failed to persist resumption cookie", "session", sess.rec.ID, "error", err)
	}
}

func toSSE(rec *types.SessionRecord, ev *Event) SSEEvent {
	return SSEEvent{
		ID:    ev.MsgID,
		Event: "agent_" + string(ev.Type),
		Data: map[string]any{
			"msgId":      ev.MsgID,
			"sessionId":  ev.SessionID,
			"agentId":    string(rec.AgentID),
			"type":       string(ev.Type),
			"message":    ev.Message,
			"tool":       ev.Tool,
			"toolOutput": ev.ToolOutput,
			"timestamp":  ev.Timestamp,
		},
	}
}

func (m *Manager) heartbeatLoop(sess *session) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case t := <-ticker.C:
			sess.publisher.Publish(SSEEvent{Event: "heartbeat", Data: map[string]any{"timestamp": t}})
		}
	}
}

func (m *Manager) monitor(sess *session) {
	err := sess.cmd.Wait()
	close(sess.done)
	sess.wg.Wait()

	now := time.Now().UTC()
	rec := sess.rec
	rec.Status = types.SessionTerminated
	rec.TerminatedAt = &now

	var signal *int
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			c := exitErr.ExitCode()
			code = c
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				s := int(status.Signal())
				signal = &s
			}
		} else {
			code = -1
		}
	}
	rec.ExitCode = &code
	rec.ExitSignal = signal

	if err := m.store.UpdateSession(rec); err != nil && m.log != nil {
		m.log.Warn("failed to persist session termination", "session", rec.ID, "error", err)
	}

	sess.publisher.Publish(SSEEvent{
		Event: "agent_exit",
		Data:  map[string]any{"code": code, "signal": signal, "msgId": rec.ID + "-exit"},
	})
	sess.publisher.CloseAll()

	m.initialPrompts.Delete(rec.ID)

	m.mu.Lock()
	delete(m.live, rec.ID)
	m.mu.Unlock()

	if m.log != nil {
		m.log.Info("session terminated", "session", rec.ID, "exit_code", code)
	}
}

func (m *Manager) liveSession(id string) (*session, error) {
	m.mu.Lock()
	sess, ok := m.live[id]
	m.mu.Unlock()
	if !ok {
		return nil, elemerr.NotFound("session", id)
	}
	return sess, nil
}

// InterruptSession sends an interrupt to the child; no state transition
// is forced beyond whatever the child itself acknowledges.
func (m *Manager) InterruptSession(id string) error {
	sess, err := m.liveSession(id)
	if err != nil {
		return err
	}
	return m.signal(sess, syscall.SIGINT)
}

// StopSession stops a session. If graceful, it interrupts and waits up
// to the grace period before escalating to SIGKILL.
func (m *Manager) StopSession(id string, graceful bool, reason string) error {
	sess, err := m.liveSession(id)
	if err != nil {
		return err
	}

	lock := m.agentLock(sess.rec.AgentID)
	lock.Lock()
	sess.rec.Status = types.SessionTerminating
	_ = m.store.UpdateSession(sess.rec)
	lock.Unlock()

	if m.log != nil {
		m.log.Info("stopping session", "session", id, "graceful", graceful, "reason", reason)
	}

	if graceful {
		if err := m.signal(sess, syscall.SIGINT); err != nil && m.log != nil {
			m.log.Warn("failed to send interrupt", "session", id, "error", err)
		}
		select {
		case <-sess.done:
			return nil
		case <-time.After(m.gracePeriod):
		}
	}

	if err := m.signal(sess, syscall.SIGKILL); err != nil {
		return err
	}
	select {
	case <-sess.done:
		return nil
	case <-time.After(time.Second):
		return elemerr.Internal(nil, "session %s did not terminate after SIGKILL", id)
	}
}

func (m *Manager) signal(sess *session, sig syscall.Signal) error {
	select {
	case <-sess.done:
		return nil
	default:
	}
	if err := syscall.Kill(-sess.cmd.Process.Pid, sig); err != nil && err != syscall.ESRCH {
		return elemerr.Internal(err, "signal session %s", sess.rec.ID)
	}
	return nil
}

// SendInput writes input to the child's stdin, emitting and persisting a
// synthetic user event when isUserMessage is set.
func (m *Manager) SendInput(id, input string, isUserMessage bool) error {
	sess, err := m.liveSession(id)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(sess.stdin, input+"\n"); err != nil {
		return elemerr.Internal(err, "write input to session %s", id)
	}
	if !isUserMessage {
		return nil
	}

	now := time.Now()
	seq := atomic.AddUint64(&sess.seq, 1)
	ev := &Event{
		MsgID: fmt.Sprintf("%s-%d", id, seq), SessionID: id,
		Type: EventUser, Message: input, Timestamp: now,
	}
	sess.publisher.Publish(toSSE(sess.rec, ev))
	if msg := toMessage(id, ev, now); msg != nil {
		if err := m.store.InsertMessage(msg); err != nil && m.log != nil {
			m.log.Warn("failed to persist input message", "session", id, "error", err)
		}
	}
	return nil
}

// GetActiveSession returns the active (starting/running/terminating)
// session for agentID, or nil if there is none.
func (m *Manager) GetActiveSession(agentID types.ElementId) (*types.SessionRecord, error) {
	return m.store.GetActiveSession(agentID)
}

// GetSession loads a session record by id.
func (m *Manager) GetSession(id string) (*types.SessionRecord, error) {
	return m.store.GetSession(id)
}

// ListSessions lists sessions matching filter.
func (m *Manager) ListSessions(filter store.SessionFilter) ([]*types.SessionRecord, error) {
	return m.store.ListSessions(filter)
}

// GetMostRecentResumableSession returns the latest terminated, cookie-
// bearing session for agentID, or nil if none exists.
func (m *Manager) GetMostRecentResumableSession(agentID types.ElementId) (*types.SessionRecord, error) {
	return m.store.GetMostRecentResumableSession(agentID)
}

// ListMessages returns persisted messages for a session created after
// the given time (zero value for full history).
func (m *Manager) ListMessages(sessionID string, after time.Time) ([]*types.Message, error) {
	return m.store.ListMessages(sessionID, after)
}

// PendingQuestions returns sessionID's undetected-as-answered questions,
// the same signal ResumeSession's uwpCheck heuristic consumes.
func (m *Manager) PendingQuestions(sessionID string) []*questions.Question {
	return m.questions.PendingForSession(sessionID)
}

// Subscribe registers ctx's caller as a listener on session id's event
// stream, seeding it with a connected event and (if cached) the initial
// prompt. The returned unsubscribe func must be called once the caller
// is done (e.g. on client disconnect).
func (m *Manager) Subscribe(ctx context.Context, id string) (<-chan SSEEvent, func(), error) {
	sess, err := m.liveSession(id)
	if err != nil {
		return nil, nil, err
	}

	seed := []SSEEvent{{
		Event: "connected",
		Data: map[string]any{
			"sessionId": id, "agentId": string(sess.rec.AgentID), "timestamp": time.Now(),
		},
	}}
	if prompt, ok := m.initialPrompts.Load(id); ok {
		seed = append(seed, SSEEvent{
			Event: "agent_user",
			Data: map[string]any{
				"msgId": "user-" + id + "-initial", "sessionId": id,
				"agentId": string(sess.rec.AgentID), "message": prompt,
			},
		})
	}

	ch, cancel := sess.publisher.Subscribe(ctx, seed)
	return ch, cancel, nil
}
