package avito

import "errors"

// Domain failure kinds shared between the worker, the coordinator and the
// enrichment pass. The dispositions differ per call site, so these stay
// plain sentinels and callers pick the recovery branch with errors.Is.
var (
	// ErrCaptchaNotSolved means the solver gave up on a challenged page.
	ErrCaptchaNotSolved = errors.New("captcha not solved")

	// ErrProxyBlocked means the upstream answered 403/407 for the current
	// proxy. The proxy is burnt; BLOCKED is terminal.
	ErrProxyBlocked = errors.New("proxy blocked")

	// ErrNoProxiesAvailable means the proxy pool has no FREE rows.
	ErrNoProxiesAvailable = errors.New("no proxies available")

	// ErrCardParsing means one detail page could not be parsed. Never fatal
	// to the task.
	ErrCardParsing = errors.New("card parsing failed")

	// ErrAttemptsExhausted means a task ran out of its retry budget.
	ErrAttemptsExhausted = errors.New("attempts exhausted")
)
