package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"

	"github.com/humanflow/authgate/pkg/auth"
	agerr "github.com/humanflow/authgate/pkg/errors"
	"github.com/humanflow/authgate/pkg/session"
)

// throttledMessage is the response body for throttled login attempts.
const throttledMessage = "Too many failed login attempts. Please contact the administrator."

// loginPageTemplate is the minimal credential form served in local
// mode. The %s slot carries an optional error notice.
const loginPageTemplate = `<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
<h1>Sign in</h1>
%s<form method="post" action="` + LoginPath + `">
<label>Username <input type="text" name="username" autocomplete="username" autofocus></label>
<label>Password <input type="password" name="password" autocomplete="current-password"></label>
<button type="submit">Sign in</button>
</form>
</body>
</html>
`

// loginPage renders the credential form, with notice (already-safe
// static text) shown above the form when non-empty.
func loginPage(notice string) string {
	if notice != "" {
		notice = "<p>" + notice + "</p>\n"
	}
	return fmt.Sprintf(loginPageTemplate, notice)
}

// ----------------------------------------------------------------------------
// Login
// ----------------------------------------------------------------------------

// handleLoginStart serves GET /login. In local mode it renders the
// credential form; in federated mode it stashes a state/nonce pair
// and redirects to the provider's authorization endpoint.
func (g *Gateway) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	if g.config.Mode == ModeLocal {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, loginPage(""))
		return
	}

	ctx, span := g.tracer.Start(r.Context(), "gateway.login.start")
	defer span.End()

	state := uuid.NewString()
	nonce := uuid.NewString()
	if err := g.sessions.StashNonce(ctx, state, nonce); err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.log.ErrorContext(ctx, "gateway: failed to stash login nonce", "error", err)
		http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	// The state cookie ties the flow to this browser; a callback
	// presented in any other browser is rejected.
	http.SetCookie(w, g.sessions.LoginStateCookie(state))

	authURL := g.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("nonce", nonce))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleLoginSubmit serves POST /login, the local-mode credential
// check. The throttle is consulted before the password compare, so a
// locked-out address learns nothing about credential validity, and
// only failed compares count against the limit.
func (g *Gateway) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if g.config.Mode != ModeLocal {
		http.NotFound(w, r)
		return
	}

	ctx, span := g.tracer.Start(r.Context(), "gateway.login.submit")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	addr := g.clientAddr(r)
	span.SetAttributes(attribute.String("gateway.client_addr", addr))

	if err := g.throttle.Check(ctx, addr); err != nil {
		span.SetStatus(codes.Error, err.Error())
		if agerr.HasCode(err, agerr.CodeRateLimited) {
			g.log.WarnContext(ctx, "gateway: login attempt while throttled",
				"addr", addr,
				"username", username,
			)
			http.Error(w, throttledMessage, http.StatusTooManyRequests)
			return
		}
		g.log.ErrorContext(ctx, "gateway: throttle check failed", "error", err, "addr", addr)
		http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	cred, err := g.creds.Verify(ctx, username, password)
	if err != nil {
		count, recErr := g.throttle.RecordFailure(ctx, addr)
		if recErr != nil {
			g.log.ErrorContext(ctx, "gateway: failed to record login failure",
				"error", recErr,
				"addr", addr,
			)
		}
		g.log.InfoContext(ctx, "gateway: login rejected",
			"addr", addr,
			"username", username,
			"failures", count,
		)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, loginPage("Invalid credentials"))
		return
	}

	if err := g.throttle.RecordSuccess(ctx, addr); err != nil {
		// The counter will still age out with its window.
		g.log.WarnContext(ctx, "gateway: failed to clear login failures",
			"error", err,
			"addr", addr,
		)
	}

	cookie, err := g.sessions.Create(ctx, session.Record{
		Subject: cred.Username,
		Name:    cred.Username,
		Email:   cred.Email,
		Group:   cred.Group,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.log.ErrorContext(ctx, "gateway: failed to create session",
			"error", err,
			"username", username,
		)
		http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	g.log.InfoContext(ctx, "gateway: login succeeded",
		"username", cred.Username,
		"group", cred.Group,
	)
	http.SetCookie(w, cookie)
	http.Redirect(w, r, g.config.HomeURL, http.StatusFound)
}

// ----------------------------------------------------------------------------
// Callback
// ----------------------------------------------------------------------------

// handleCallback serves GET /callback, the federated-mode return leg.
// Every verification failure ends the flow with 400 and no session;
// the specific cause is logged, not exposed.
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	if g.config.Mode != ModeFederated {
		http.NotFound(w, r)
		return
	}

	ctx, span := g.tracer.Start(r.Context(), "gateway.callback")
	defer span.End()

	reject := func(reason string, err error) {
		span.SetStatus(codes.Error, reason)
		g.log.WarnContext(ctx, "gateway: callback rejected",
			"reason", reason,
			"error", err,
		)
		http.Error(w, "Login failed: "+reason, http.StatusBadRequest)
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		reject("provider returned an error", agerr.New(agerr.CodeAuthentication,
			"gateway: provider error "+errParam))
		return
	}

	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		reject("missing state or code parameter", nil)
		return
	}

	// Checked before the nonce is consumed, so a foreign callback
	// cannot burn the real browser's login attempt.
	if !g.sessions.VerifyLoginState(r, state) {
		reject("login attempt was started in a different browser", nil)
		return
	}

	nonce, err := g.sessions.TakeNonce(ctx, state)
	if err != nil {
		if agerr.HasCode(err, agerr.CodeUnavailableStore) {
			g.log.ErrorContext(ctx, "gateway: nonce lookup failed", "error", err)
			http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		reject("unknown or expired login attempt", err)
		return
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, g.config.ExchangeTimeout)
	token, err := g.oauth.Exchange(exchangeCtx, code)
	cancel()
	if err != nil {
		reject("code exchange failed", err)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		reject("provider response carried no identity token", nil)
		return
	}

	claims, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		reject("identity token verification failed", err)
		return
	}
	if claims.Nonce != nonce {
		reject("nonce mismatch", agerr.New(agerr.CodeTokenNonce,
			"gateway: identity token nonce does not match login attempt"))
		return
	}

	cookie, err := g.sessions.Create(ctx, session.Record{
		Subject: claims.Subject,
		Name:    claims.Name,
		Email:   claims.Email,
		Picture: claims.Picture,
		Group:   g.groupForEmail(claims.Email),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		g.log.ErrorContext(ctx, "gateway: failed to create session",
			"error", err,
			"subject", claims.Subject,
		)
		http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	g.log.InfoContext(ctx, "gateway: federated login succeeded",
		"subject", claims.Subject,
		"email", claims.Email,
	)
	http.SetCookie(w, g.sessions.ClearLoginStateCookie())
	http.SetCookie(w, cookie)
	http.Redirect(w, r, g.config.HomeURL, http.StatusFound)
}

// groupForEmail resolves the group for a federated identity. Without
// a credential store every authenticated identity lands in the
// default user group; an empty email stays unauthorized either way.
func (g *Gateway) groupForEmail(email string) auth.Group {
	if g.creds != nil {
		return g.creds.GroupForEmail(email)
	}
	if email == "" {
		return auth.GroupUnauthorized
	}
	return auth.GroupUser
}

// ----------------------------------------------------------------------------
// Logout and health
// ----------------------------------------------------------------------------

// handleLogout serves GET /logout. It destroys the server-side
// session, clears the cookie, and redirects to the login page, or to
// the provider's end-session endpoint when one was discovered. A
// request without a session still clears and redirects.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := g.sessions.Destroy(ctx, r)
	if err != nil {
		// The cookie is cleared regardless; the orphaned record
		// expires with its TTL.
		g.log.ErrorContext(ctx, "gateway: failed to destroy session", "error", err)
	}
	http.SetCookie(w, cookie)

	target := LoginPath
	if g.config.Mode == ModeFederated && g.provider != nil && g.provider.EndSessionEndpoint != "" {
		target = g.provider.EndSessionEndpoint
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleHealthz reports whether the gateway can reach its session
// store.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Health(r.Context()); err != nil {
		g.log.ErrorContext(r.Context(), "gateway: health check failed", "error", err)
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}
