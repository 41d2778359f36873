// Package executor runs a single watcher check end to end: resolve the
// request template, load borrowed cookies, execute the HTTP request, persist
// captured cookies, classify the response against the stored snapshot, and
// record the outcome.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/GabriWar/vigilant/challenge"
	"github.com/GabriWar/vigilant/client"
	"github.com/GabriWar/vigilant/detector"
	"github.com/GabriWar/vigilant/logger"
	"github.com/GabriWar/vigilant/metrics"
	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/notify"
	"github.com/GabriWar/vigilant/store"
	"github.com/GabriWar/vigilant/variable"
)

// RunResult is the outcome of one watcher run.  Response is nil when the
// request never produced one (transport error).
type RunResult struct {
	ChangeType model.ChangeType
	Log        *model.ChangeLog
	Response   *client.Response
}

// Executor coordinates one watcher check.  It is safe for concurrent use;
// per-watcher write serialisation is the scheduler's responsibility through
// its in-flight set.
type Executor struct {
	store    *store.Store
	client   *client.Client
	solver   *challenge.Solver
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// New builds an Executor.  solver may be nil when challenge solving is not
// configured; watchers requesting it then fall through to plain execution.
func New(st *store.Store, cl *client.Client, solver *challenge.Solver,
	notifier notify.Notifier, m *metrics.Metrics, log *logger.Logger) *Executor {
	return &Executor{
		store:    st,
		client:   cl,
		solver:   solver,
		notifier: notifier,
		metrics:  m,
		log:      log,
	}
}

// Run executes one check of w.  vars resolves [[name]] placeholders in the
// URL, header values, and body; pass nil for a plain scheduled run.
//
// Every run ends in exactly one persisted outcome: a detection (new,
// modified, unchanged) or an error run.  Run returns an error only for the
// error outcomes, already recorded by the time it returns.
func (e *Executor) Run(ctx context.Context, w *model.Watcher, vars map[string]string) (*RunResult, error) {
	start := time.Now()
	if err := e.store.SetWatcherStatus(ctx, w.ID, model.StatusRunning, ""); err != nil {
		return nil, err
	}

	url, headers, body := variable.ApplyToRequest(w, vars)
	req := &client.Request{
		URL:         url,
		Method:      w.Method,
		Headers:     headers,
		Body:        body,
		Impersonate: w.ImpersonateBrowser,
	}

	if w.UseCookies && w.CookieWatcherID != nil {
		cookies, err := e.loadBorrowedCookies(ctx, *w.CookieWatcherID)
		if err != nil {
			return e.failRun(ctx, w, fmt.Sprintf("load cookies from watcher %d: %v", *w.CookieWatcherID, err), nil)
		}
		req.Cookies = cookies
	}

	resp, err := e.client.Execute(ctx, req)
	if err != nil {
		return e.failRun(ctx, w, err.Error(), nil)
	}

	if w.SolveChallenges && e.solver != nil && isChallengeStatus(resp.StatusCode) {
		resp = e.retryWithChallenge(ctx, req, resp)
	}

	if w.SaveCookies && len(resp.Cookies) > 0 {
		if err := e.store.ReplaceCookies(ctx, w.ID, resp.Cookies); err != nil {
			e.log.Errorf("executor: save cookies for watcher %d: %v", w.ID, err)
		}
	}

	// Any HTTP status is a valid observation: an endpoint that starts
	// answering 404 is itself a change worth recording, so the body flows to
	// detection regardless of the status code.
	prev, err := e.store.GetSnapshot(ctx, w.ID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return e.failRun(ctx, w, err.Error(), resp)
	}

	res := detector.Detect(w.ComparisonMode, prev, resp.Body, resp.Headers.Get("Content-Type"))
	res.Log.WatcherID = w.ID
	if err := e.store.ApplyDetection(ctx, res.Log, res.Snapshot); err != nil {
		return nil, fmt.Errorf("executor: persist detection for watcher %d: %w", w.ID, err)
	}

	e.metrics.IncrementChecks()
	switch res.Log.ChangeType {
	case model.ChangeNew, model.ChangeModified:
		e.metrics.IncrementChanges()
		var newSize int64
		if res.Log.NewSize != nil {
			newSize = *res.Log.NewSize
		}
		e.notifier.Notify(ctx, notify.WatcherChanged(w.ID, w.Name, string(res.Log.ChangeType), newSize))
	}
	e.log.Debugf("executor: watcher %d (%s) %s in %s", w.ID, w.Name, res.Log.ChangeType, time.Since(start).Round(time.Millisecond))

	return &RunResult{ChangeType: res.Log.ChangeType, Log: res.Log, Response: resp}, nil
}

// loadBorrowedCookies reads the cookie set of the lending watcher, dropping
// anything already expired so a stale session cookie never rides along.
func (e *Executor) loadBorrowedCookies(ctx context.Context, lenderID int64) ([]model.Cookie, error) {
	cookies, err := e.store.GetCookies(ctx, lenderID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	live := cookies[:0]
	for _, c := range cookies {
		if !c.IsExpired(now) {
			live = append(live, c)
		}
	}
	return live, nil
}

// isChallengeStatus reports whether a status commonly fronts a JavaScript
// challenge page.
func isChallengeStatus(status int) bool {
	return status == http.StatusForbidden || status == http.StatusServiceUnavailable
}

// retryWithChallenge runs the challenge page's scripts and retries the
// request once with the seeded cookies attached.  On any failure the
// original response is kept; the run is then classified from it as usual.
func (e *Executor) retryWithChallenge(ctx context.Context, req *client.Request, resp *client.Response) *client.Response {
	solved, ok, err := e.solver.SolvePage(resp.Body)
	if err != nil || !ok {
		if err != nil {
			e.log.Warnf("executor: challenge solve for %s: %v", req.URL, err)
		}
		return resp
	}

	retry := *req
	retry.Cookies = append(append([]model.Cookie{}, req.Cookies...), solved...)
	retried, err := e.client.Execute(ctx, &retry)
	if err != nil {
		e.log.Warnf("executor: challenge retry for %s: %v", req.URL, err)
		return resp
	}
	e.log.Debugf("executor: challenge solved for %s, retry answered %d", req.URL, retried.StatusCode)
	return retried
}

// failRun records an error outcome.  body carries the raw response body when
// the server answered with an error status, nil for transport failures.
func (e *Executor) failRun(ctx context.Context, w *model.Watcher, msg string, resp *client.Response) (*RunResult, error) {
	var body []byte
	if resp != nil {
		body = resp.Body
	}
	if err := e.store.RecordErrorRun(ctx, w.ID, msg, body); err != nil {
		e.log.Errorf("executor: record error run for watcher %d: %v", w.ID, err)
	}
	e.metrics.IncrementChecks()
	e.metrics.IncrementErrors()
	e.log.Warnf("executor: watcher %d (%s) failed: %s", w.ID, w.Name, msg)
	return &RunResult{ChangeType: model.ChangeError, Response: resp}, fmt.Errorf("executor: watcher %d: %s", w.ID, msg)
}
