package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"uniquekits.dev/internal/app"
	"uniquekits.dev/internal/grant"
	"uniquekits.dev/internal/host"
	"uniquekits.dev/internal/logging"
	"uniquekits.dev/internal/menu"
)

// scriptEvent is one line of a run script.
type scriptEvent struct {
	Type   string   `json:"type"`
	User   string   `json:"user"`
	World  string   `json:"world"`
	Perms  []string `json:"perms"`
	Op     bool     `json:"op"`
	Level  int      `json:"level"`
	Exp    int      `json:"exp"`
	Kit    string   `json:"kit"`
	WaitMs int64    `json:"wait_ms"`
}

type outcomeLine struct {
	Event     string `json:"event"`
	User      string `json:"user"`
	Kit       string `json:"kit"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	Remaining int64  `json:"remaining_ms,omitempty"`
	Overflow  int    `json:"overflow,omitempty"`
}

func outcomeOf(user string, out grant.Outcome) outcomeLine {
	l := outcomeLine{
		Event:     "outcome",
		User:      user,
		Kit:       out.KitID,
		Status:    string(out.Status),
		Reason:    string(out.Reason),
		Remaining: out.RemainingMillis,
		Overflow:  len(out.Overflow),
	}
	if !out.OK() {
		l.Message = out.MessageKey()
	}
	return l
}

func newRunCmd(g *globals) *cobra.Command {
	var (
		script string
		stay   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Host the engine and replay a JSONL event script against a simulated server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := g.config()
			if err != nil {
				return err
			}
			log, _, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			h := newSimHost(cmd.OutOrStdout(), log)
			a, err := app.New(ctx, cfg, h.ports(), log)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeApp(ctx, a); err != nil {
					log.Error("shutdown", zap.Error(err))
				}
			}()
			if err := a.Start(ctx); err != nil {
				return err
			}

			if script != "" {
				in := io.Reader(cmd.InOrStdin())
				if script != "-" {
					f, err := os.Open(script)
					if err != nil {
						return err
					}
					defer f.Close()
					in = f
				}
				r := newRunner(a, h)
				if err := r.replay(ctx, in); err != nil {
					return err
				}
			}
			if stay {
				log.Info("running until interrupted")
				<-ctx.Done()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&script, "script", "", "JSONL event script, - for stdin")
	cmd.Flags().BoolVar(&stay, "stay", false, "keep running after the script until interrupted")
	return cmd
}

type runner struct {
	app    *app.App
	host   *simHost
	actors map[string]host.StaticActor
}

func newRunner(a *app.App, h *simHost) *runner {
	return &runner{app: a, host: h, actors: map[string]host.StaticActor{}}
}

func (r *runner) actor(ev scriptEvent) host.StaticActor {
	key := strings.ToLower(ev.User)
	act, ok := r.actors[key]
	if !ok {
		act = host.StaticActor{UserID: userID(ev.User), UserName: ev.User, WorldName: "world"}
	}
	if ev.World != "" {
		act.WorldName = ev.World
	}
	if ev.Perms != nil {
		act.Permissions = make(map[string]bool, len(ev.Perms))
		for _, p := range ev.Perms {
			act.Permissions[p] = true
		}
	}
	if ev.Op {
		act.Operator = true
	}
	if ev.Level > 0 {
		act.Lvl = ev.Level
	}
	if ev.Exp > 0 {
		act.Exp = ev.Exp
	}
	r.actors[key] = act
	return act
}

func (r *runner) replay(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var ev scriptEvent
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return fmt.Errorf("script line %d: %w", line, err)
		}
		if err := r.step(ctx, ev); err != nil {
			return fmt.Errorf("script line %d: %w", line, err)
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
	}
	return sc.Err()
}

func (r *runner) step(ctx context.Context, ev scriptEvent) error {
	if ev.Type != "wait" && ev.Type != "reload" && ev.User == "" {
		return errors.New("missing user")
	}
	switch ev.Type {
	case "wait":
		t := time.NewTimer(time.Duration(ev.WaitMs) * time.Millisecond)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	case "join":
		r.app.Sessions.OnJoin(ctx, r.actor(ev))
	case "respawn":
		r.app.Sessions.OnRespawn(ctx, r.actor(ev))
	case "quit":
		act := r.actor(ev)
		r.host.Clear(act)
		return r.app.Sessions.OnQuit(ctx, act)
	case "claim", "give":
		act := r.actor(ev)
		out := r.app.Engine.Grant(ctx, act, ev.Kit, ev.Type == "give")
		r.host.emit(outcomeOf(act.UserName, out))
	case "clear":
		r.host.Clear(r.actor(ev))
	case "stash":
		act := r.actor(ev)
		n, err := r.app.Engine.ClaimStash(ctx, act)
		if err != nil {
			return err
		}
		r.host.emit(map[string]any{"event": "stash", "user": act.UserName, "delivered": n})
	case "menu":
		act := r.actor(ev)
		v, err := r.app.Menu.Render(ctx, menu.Selection(act))
		if err != nil {
			return err
		}
		slots := make([]map[string]any, 0, len(v.Slots))
		for _, s := range v.Slots {
			if s.KitID == "" {
				continue
			}
			slots = append(slots, map[string]any{"slot": s.Index, "kit": s.KitID, "status": s.Status})
		}
		r.host.emit(map[string]any{"event": "menu", "user": act.UserName, "slots": slots})
	case "reload":
		issues, err := r.app.Kits.Reload(ctx)
		if err != nil {
			return err
		}
		r.host.emit(map[string]any{"event": "reload", "kits": r.app.Kits.Len(), "issues": len(issues)})
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}
