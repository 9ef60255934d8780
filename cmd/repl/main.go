// Command repl chats with the agent from a terminal, without the browser
// extension. Browser tools report that no browser is connected.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/finchat/internal/config"
	"github.com/ChamsBouzaiene/finchat/internal/engine"
	"github.com/ChamsBouzaiene/finchat/internal/factory"
)

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "repl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("repl", flag.ExitOnError)
	sessionID := fs.String("session", "repl", "Session id")
	model := fs.String("model", "", "Model id (default: configured default)")
	useAgent := fs.Bool("agent", false, "Expose the browser tools and run the tool loop")
	useRAG := fs.Bool("rag", false, "Inject indexed web content")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Logs go to stderr so they do not interleave with answers.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	app, err := factory.BuildApp(ctx, cfg, factory.WithLogger(logger))
	if err != nil {
		return err
	}
	defer app.Close()

	r := &repl{
		app:     app,
		out:     out,
		session: *sessionID,
		turn:    engine.Turn{Model: *model, UseAgent: *useAgent, UseRAG: *useRAG},
	}
	return r.loop(ctx, in)
}

type repl struct {
	app     *factory.App
	out     io.Writer
	session string
	turn    engine.Turn

	mu     sync.Mutex
	cancel *engine.CancelToken
}

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	// Ctrl-C stops the running answer instead of the process.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			r.mu.Lock()
			if r.cancel != nil {
				r.cancel.Cancel()
			}
			r.mu.Unlock()
		}
	}()

	fmt.Fprintf(r.out, "finchat repl (session %s). Commands: /stats /tools /clear /quit\n", r.session)
	s := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "you> ")
		if !s.Scan() {
			break
		}
		line := strings.TrimSpace(s.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/stats":
			st := r.app.Sessions.Stats(r.session)
			fmt.Fprintf(r.out, "messages=%d tokens=%d compressions=%d\n", st.MessageCount, st.TokenCount, st.CompressionCount)
			continue
		case "/tools":
			for _, name := range r.app.Agent.Tools().Names() {
				fmt.Fprintln(r.out, name)
			}
			continue
		case "/clear":
			r.app.Sessions.ClearConversationOnly(r.session)
			fmt.Fprintln(r.out, "conversation cleared")
			continue
		}
		r.ask(ctx, line)
	}
	return s.Err()
}

func (r *repl) ask(ctx context.Context, question string) {
	tok := engine.NewCancelToken()
	r.mu.Lock()
	r.cancel = tok
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
	}()

	turn := r.turn
	turn.SessionID = r.session
	turn.Message = question
	turn.Cancel = tok
	turn.Hooks = engine.Hooks{&printHook{out: r.out}}

	st, err := r.app.Agent.Run(ctx, turn)
	switch {
	case err != nil:
		fmt.Fprintf(r.out, "\nerror: %v\n", err)
	case st.Outcome == engine.OutcomeCancelled:
		fmt.Fprintln(r.out, "\n[stopped]")
	default:
		fmt.Fprintln(r.out)
	}
}

// printHook writes the streamed answer and tool activity to the terminal.
type printHook struct {
	engine.NopHook
	out io.Writer
}

func (h *printHook) OnStreamStart(context.Context, *engine.State) {
	fmt.Fprint(h.out, "finchat> ")
}

func (h *printHook) OnStreamDelta(_ context.Context, _ *engine.State, delta string) {
	fmt.Fprint(h.out, delta)
}

func (h *printHook) OnToolCall(_ context.Context, _ *engine.State, call engine.ToolCall) {
	fmt.Fprintf(h.out, "[tool] %s %v\n", call.Name, call.Params)
}

func (h *printHook) OnToolResult(_ context.Context, _ *engine.State, call engine.ToolCall, res engine.ToolResult) {
	if !res.Success {
		fmt.Fprintf(h.out, "[tool] %s failed: %s\n", call.Name, res.Error)
	}
}
