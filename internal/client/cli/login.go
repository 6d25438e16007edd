package cli

import (
	"context"
	"errors"
	"fmt"

	"inspectra/internal/client/models"
	"inspectra/internal/common"
)

// login signs the account in, claims the session lock, and offers to
// restore a draft left over from a previous run.
func (a *App) login(ctx context.Context) {
	identity, err := GetSimpleText(a.reader, "Email or login", a.out)
	if err != nil {
		fmt.Fprintf(a.out, "failed to read login: %v\n", err)
		return
	}
	secret, err := GetSecret(a.out, "Password")
	if err != nil {
		fmt.Fprintf(a.out, "failed to read password: %v\n", err)
		return
	}

	session, err := a.guard.SignIn(ctx, identity, secret)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrInvalidCredential):
			fmt.Fprintln(a.out, "invalid login or password")
		case errors.Is(err, common.ErrLockNotConfirmed):
			fmt.Fprintln(a.out, "could not confirm the session lock, please try again")
		case errors.Is(err, common.ErrSignInInProgress):
			fmt.Fprintln(a.out, "a sign-in is already in progress")
		case errors.Is(err, common.ErrNetworkFailure):
			fmt.Fprintln(a.out, "network failure, please try again")
		default:
			fmt.Fprintf(a.out, "sign-in failed: %v\n", err)
		}
		return
	}
	fmt.Fprintf(a.out, "signed in as %s\n", identity)

	if restored := a.recoverDraft(ctx, session.AccountID); restored != nil {
		a.draft = restored
	}
}

// recoverDraft runs the one-time recovery prompt for the account. It
// returns the restored draft when the operator chooses to resume, nil
// otherwise.
func (a *App) recoverDraft(ctx context.Context, accountID string) *models.Draft {
	if found := a.drafts.Load(ctx, accountID); found == nil {
		return nil
	}

	pending := a.drafts.PendingPrompt()
	if pending == nil {
		return nil
	}

	prompt := fmt.Sprintf("An unsaved %s draft from %s was found. Resume it?",
		pending.Page, pending.UpdatedAt.Local().Format("2006-01-02 15:04"))
	accept, err := GetYesNo(a.reader, prompt, a.out)
	if err != nil {
		accept = false
	}
	a.guard.Touch()

	restored := a.drafts.Resolve(ctx, accept)
	if restored != nil {
		fmt.Fprintf(a.out, "draft restored (%d photos)\n", restored.AttachmentCount())
	}
	return restored
}
