package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// root runs the top-level command loop. Every accepted line counts as user
// interaction for the idle clock.
func (a *App) root(ctx context.Context) {
	fmt.Fprintln(a.out, "Inspectra capture client. Commands: login, capture, save, review, logout, quit")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cmd, err := GetSimpleText(a.reader, "", a.out)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			a.log.Warn(ctx, "failed to read command", "error", err)
			continue
		}
		a.guard.Touch()
		a.dropDraft()

		switch cmd {
		case "login":
			a.login(ctx)
		case "capture":
			a.capture(ctx)
		case "save":
			a.save(ctx)
		case "review":
			a.review(ctx)
		case "logout":
			a.logout(ctx)
		case "quit", "exit":
			return
		case "":
		default:
			fmt.Fprintf(a.out, "unknown command %q\n", cmd)
		}
	}
}

// dropDraft discards the working draft once its session has ended. Only
// the command loop goroutine calls this; the forced-logout callback runs
// elsewhere and never touches a.draft.
func (a *App) dropDraft() {
	if a.draft != nil && !a.guard.IsSignedIn() {
		a.draft = nil
	}
}

func (a *App) requireSession() bool {
	if !a.guard.IsSignedIn() {
		fmt.Fprintln(a.out, "please sign in first")
		return false
	}
	return true
}

func (a *App) logout(ctx context.Context) {
	session := a.guard.Session()
	if session == nil {
		fmt.Fprintln(a.out, "not signed in")
		return
	}

	a.drafts.Clear(ctx, session.AccountID)
	a.draft = nil

	if err := a.guard.SignOut(ctx); err != nil {
		fmt.Fprintf(a.out, "sign-out failed: %v\n", err)
		return
	}
	fmt.Fprintln(a.out, "signed out")
}
