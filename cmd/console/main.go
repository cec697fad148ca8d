// console is a terminal agent client for the call queue. It mirrors the queue
// and the agent's current call from the API and sends actions typed on stdin:
//
//	answer CA123
//	hold CA123
//	end CA123
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"softphone-queue/internal/calls"
	"softphone-queue/internal/reconciler"
	"softphone-queue/pkg/logger"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		apiBase  string
		wsURL    string
		interval time.Duration
		env      string
	)
	flagSet := pflag.NewFlagSet("console", pflag.ContinueOnError)
	flagSet.StringVar(&apiBase, "api", "http://localhost:8080", "queue API base URL")
	flagSet.StringVar(&wsURL, "ws", "", "realtime websocket URL (default: derived from --api)")
	flagSet.DurationVar(&interval, "interval", reconciler.DefaultInterval, "queue poll interval")
	flagSet.StringVar(&env, "env", "development", "log format: development or production")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintln(os.Stderr, "usage: console [flags]")
		flagSet.PrintDefaults()
		return nil
	}
	if wsURL == "" {
		wsURL = deriveWSURL(apiBase)
	}

	log := logger.NewWriter(os.Stderr, env)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.With(ctx, log)

	m := reconciler.NewMirror()
	m.OnAlert = func(c calls.CallEntry) {
		fmt.Fprintln(os.Stdout, "\a"+alertStyle.Render(fmt.Sprintf(">> incoming call %s from %s %s", c.CallID, c.CallerNumber, c.CallerName)))
	}
	m.OnChange = func(v reconciler.View) { render(os.Stdout, v) }

	client := reconciler.New(apiBase, wsURL, m)
	client.Interval = interval
	client.OnError = func(err error) { log.Warn("sync degraded", "err", err) }
	client.OnConnect = func(connected bool) { log.Info("realtime stream", "connected", connected) }

	go func() {
		_ = client.Run(ctx)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			kind, callID, err := parseCommand(line, m.View())
			if err != nil {
				fmt.Fprintln(os.Stdout, err)
				continue
			}
			ack, err := client.Submit(ctx, kind, callID)
			if err != nil {
				log.Error("action failed", "action", kind, "call_sid", callID, "err", err)
				continue
			}
			fmt.Fprintf(os.Stdout, "%s %s: %s\n", kind, callID, ack.Outcome)
		}
	}
}

// parseCommand reads "<action> [callSid]". Without a call sid, answer and decline
// target the oldest waiting caller and the rest target the current call.
func parseCommand(line string, v reconciler.View) (calls.ActionKind, string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields) > 2 {
		return "", "", errors.New("usage: <answer|decline|hold|resume|end> [callSid]")
	}
	kind, err := calls.ParseActionKind(strings.ToLower(fields[0]))
	if err != nil {
		return "", "", fmt.Errorf("unknown action %q", fields[0])
	}
	if len(fields) == 2 {
		return kind, fields[1], nil
	}

	switch kind {
	case calls.ActionAnswer, calls.ActionDecline:
		for _, e := range v.Queue {
			if e.Status == calls.CallStatusQueued {
				return kind, e.CallID, nil
			}
		}
		return "", "", errors.New("no caller waiting")
	default:
		if v.Current == nil {
			return "", "", errors.New("no current call")
		}
		return kind, v.Current.CallID, nil
	}
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	alertStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	statusStyles = map[calls.CallStatus]lipgloss.Style{
		calls.CallStatusQueued: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		calls.CallStatusOnHold: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
	}
)

func render(w io.Writer, v reconciler.View) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("-- queue (%d) --", len(v.Queue))))
	for i, e := range v.Queue {
		status := string(e.Status)
		if st, ok := statusStyles[e.Status]; ok {
			status = st.Width(9).Render(status)
		}
		fmt.Fprintf(w, "%2d. %-36s %-16s %s waiting %s\n", i+1, e.CallID, e.CallerNumber, status,
			time.Since(e.CreatedAt).Truncate(time.Second))
	}
	if v.Current != nil {
		fmt.Fprintln(w, currentStyle.Render(fmt.Sprintf("current: %s %s (%s)", v.Current.CallID, v.Current.CallerNumber, v.Current.Status)))
	} else {
		fmt.Fprintln(w, "current: none")
	}
}

func deriveWSURL(apiBase string) string {
	base := strings.TrimRight(apiBase, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}
