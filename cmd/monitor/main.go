package main

import (
	"bytes"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"governance_council/internal/domain"
	"governance_council/internal/policy"
)

type embeddedCouncil struct {
	cmd *exec.Cmd
}

func main() {
	addr := flag.String("addr", "http://localhost:8092", "council base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	embedded := flag.Bool("embedded", false, "start councild alongside the monitor")
	councilBinary := flag.String("councild-bin", "", "path to councild binary (optional in embedded mode)")
	dbPath := flag.String("db", "data/embedded.db", "sqlite db path for embedded councild")
	mock := flag.Bool("mock", true, "run embedded councild with mock providers")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		http: &http.Client{
			// Triggering a vote blocks until the server's wait elapses.
			Timeout: 90 * time.Second,
		},
	}

	if *embedded {
		proc, err := startEmbeddedCouncil(*addr, *councilBinary, *dbPath, *mock)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded councild: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "council health check failed: %v\n", err)
		os.Exit(1)
	}
	roster, err := c.agents()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load roster: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	sessionsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	sessionsTable.SetTitle("Sessions (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	votesView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	votesView.SetTitle("Votes").SetBorder(true)

	panelView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	panelView.SetTitle("Panel").SetBorder(true)

	auditView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	auditView.SetTitle("Audit trail").SetBorder(true)

	promptInput := tview.NewInputField().
		SetLabel("Subject -> Council: ")
	promptInput.SetBorder(true).SetTitle("Enter = trigger vote  (type: title | description)")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | agents=%d | shortcuts: F10 quit, F5 refresh, Ctrl+L focus prompt, Ctrl+T focus sessions",
		c.baseURL,
		len(roster),
	))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(panelView, 9, 0, false).
		AddItem(votesView, 0, 3, false).
		AddItem(auditView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(sessionsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	var selectedID string
	var lastSessions []domain.CouncilSession
	var detailsVersion uint64

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshSessions := func() {
		sessions, err := c.listSessions(200)
		if err != nil {
			app.QueueUpdateDraw(func() {
				sessionsTable.Clear()
				sessionsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		lastSessions = sessions
		stats, statsErr := c.stats()
		app.QueueUpdateDraw(func() {
			renderSessionsTable(sessionsTable, sessions, selectedID)
			if statsErr == nil {
				sessionsTable.SetTitle("Sessions | " + renderStats(stats))
			}
		})
	}

	refreshDetailsAsync := func(sessionID string) {
		if strings.TrimSpace(sessionID) == "" {
			return
		}
		version := atomic.AddUint64(&detailsVersion, 1)

		go func(selected string, v uint64) {
			type voteResult struct {
				items []domain.AgentVote
				err   error
			}
			type auditResult struct {
				items []domain.AuditEntry
				err   error
			}

			voteCh := make(chan voteResult, 1)
			auditCh := make(chan auditResult, 1)
			go func() {
				items, err := c.listVotes(selected)
				voteCh <- voteResult{items: items, err: err}
			}()
			go func() {
				items, err := c.listAudit(selected, 300)
				auditCh <- auditResult{items: items, err: err}
			}()
			voteRes := <-voteCh
			auditRes := <-auditCh

			if atomic.LoadUint64(&detailsVersion) != v {
				return
			}
			app.QueueUpdateDraw(func() {
				if selected != selectedID {
					return
				}
				if voteRes.err != nil {
					votesView.SetText(fmt.Sprintf("error: %v", voteRes.err))
				} else {
					votesView.SetText(renderVotes(voteRes.items))
				}
				if auditRes.err != nil {
					auditView.SetText(fmt.Sprintf("error: %v", auditRes.err))
				} else {
					auditView.SetText(renderAudit(auditRes.items))
				}
				var session *domain.CouncilSession
				for i := range lastSessions {
					if lastSessions[i].ID == selected {
						session = &lastSessions[i]
						break
					}
				}
				panelView.SetText(renderPanel(session, roster, voteRes.items))
			})
		}(sessionID, version)
	}

	submitPrompt := func(line string) {
		subject, ok := parseSubject(line, policy.DefaultSubjectTypes)
		if !ok {
			setStatusUI("Enter a subject title")
			return
		}
		setStatusUI(fmt.Sprintf("Putting %q to the council...", subject.Title))
		promptInput.SetText("")
		go func(s domain.Subject) {
			session, err := c.triggerVote(s)
			if err != nil {
				setStatusAsync("Vote failed: " + err.Error())
				return
			}
			selectedID = session.ID
			refreshSessions()
			refreshDetailsAsync(selectedID)
			setStatusAsync(fmt.Sprintf("Session %s %s decision=%s", shortID(session.ID), session.Status, decisionLabel(session.FinalDecision)))
		}(subject)
	}

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitPrompt(promptInput.GetText())
	})

	sessionsTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(lastSessions) {
			return
		}
		selectedID = lastSessions[row-1].ID
		refreshDetailsAsync(selectedID)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == promptInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(sessionsTable)
				setStatusUI("Focus -> sessions")
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlT:
			app.SetFocus(sessionsTable)
			setStatusUI("Focus -> sessions")
			return nil
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go func() {
				refreshSessions()
				refreshDetailsAsync(selectedID)
				setStatusAsync("Manual refresh complete")
			}()
			return nil
		case tcell.KeyCtrlL, tcell.KeyTAB:
			app.SetFocus(promptInput)
			setStatusUI("Focus -> prompt")
			return nil
		case tcell.KeyRune:
			app.SetFocus(promptInput)
			return event
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refreshSessions()
		for _, s := range lastSessions {
			if !s.Completed() {
				selectedID = s.ID
				break
			}
		}
		for {
			if selectedID == "" && len(lastSessions) > 0 {
				selectedID = lastSessions[0].ID
			}
			refreshDetailsAsync(selectedID)
			<-ticker.C
			refreshSessions()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(promptInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func startEmbeddedCouncil(addr string, councilBinary string, dbPath string, mock bool) (*embeddedCouncil, error) {
	parsed, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", addr)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	args := []string{"--addr", ":" + port, "--db", dbPath}
	if mock {
		args = append(args, "--mock")
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(councilBinary) != "" {
		cmd = exec.Command(councilBinary, args...)
	} else {
		if self, err := os.Executable(); err == nil {
			for _, name := range []string{"councild", "councild.exe"} {
				sibling := filepath.Join(filepath.Dir(self), name)
				if fileExists(sibling) {
					cmd = exec.Command(sibling, args...)
					break
				}
			}
		}
		if cmd == nil {
			cmd = exec.Command("go", append([]string{"run", "./cmd/councild"}, args...)...)
			cwd, _ := os.Getwd()
			cmd.Dir = cwd
		}
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start councild process: %w", err)
	}
	return &embeddedCouncil{cmd: cmd}, nil
}

func (e *embeddedCouncil) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
