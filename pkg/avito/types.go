// Package avito defines the contracts the task-execution core consumes from
// the browser-driving collaborators: page-state detection, captcha solving,
// catalog traversal and card parsing. The implementations live outside this
// module and are injected at process start.
package avito

import (
	"context"
	"time"
)

// PageState classifies what a navigated page currently shows.
type PageState string

const (
	StateCaptcha        PageState = "captcha"
	StateContinueButton PageState = "continue_button"
	StateRateLimit429   PageState = "rate_limit_429"
	StateProxyBlock403  PageState = "proxy_block_403"
	StateProxyAuth407   PageState = "proxy_auth_407"
	StateCardFound      PageState = "card_found"
	StateNotDetected    PageState = "not_detected"
)

// RequestStatus is the failure class a running catalog traversal reports
// when it asks the host for a fresh page.
type RequestStatus string

const (
	RequestProxyBlocked    RequestStatus = "PROXY_BLOCKED"
	RequestCaptchaUnsolved RequestStatus = "CAPTCHA_UNSOLVED"
	RequestContinueButton  RequestStatus = "CONTINUE_BUTTON"
	RequestRateLimit       RequestStatus = "RATE_LIMIT"
	RequestNotDetected     RequestStatus = "NOT_DETECTED"
)

// PageRequest is emitted by the catalog traversal when it cannot continue on
// the page it holds. The traversal suspends until the host supplies a
// replacement, then resumes from NextStartPage.
type PageRequest struct {
	Status        RequestStatus
	Attempt       int
	NextStartPage int
}

// CatalogStatus is the terminal outcome of one catalog traversal.
type CatalogStatus string

const (
	CatalogSuccess CatalogStatus = "SUCCESS"
	CatalogError   CatalogStatus = "ERROR"
)

// CatalogResult is returned by CatalogParser.ParseUntilComplete. Only
// Status == CatalogSuccess with AttemptsExhausted == false counts as a
// successful traversal.
type CatalogResult struct {
	Status            CatalogStatus
	Listings          []Listing
	AttemptsExhausted bool
	Details           string
}

// Listing is one catalog card as observed during traversal.
type Listing struct {
	AvitoItemID int64
	Title       string
	Description string
	Price       float64
	Seller      string
	Raw         map[string]any
}

// CardDetails holds the fields extracted from one detail-page HTML.
type CardDetails struct {
	Title           string
	Price           float64
	Seller          string
	ItemID          int64
	PublishedAt     time.Time
	Description     string
	Location        string
	Characteristics map[string]string
	ViewsTotal      int
}

// Page is a single navigable browser tab bound to one session.
type Page interface {
	Goto(ctx context.Context, url string) error
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Session owns one headless browser bound to one authenticated proxy and
// exposes exactly one page handle. Sessions are single-use per proxy;
// switching proxies requires Close plus a fresh Launch.
type Session interface {
	Page() Page
	Close(ctx context.Context) error
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, proxy ProxyConfig) (Session, error)
}

// ProxyConfig is the parsed form of a "host:port:user:pass" proxy address.
type ProxyConfig struct {
	Server   string
	Username string
	Password string
}

// StateDetector classifies the page currently loaded in a tab.
type StateDetector interface {
	Detect(ctx context.Context, page Page) (PageState, error)
}

// CaptchaSolver attempts to resolve a challenged page. The boolean reports
// solved/unsolved; an error means the attempt itself could not run.
type CaptchaSolver interface {
	Resolve(ctx context.Context, page Page) (bool, error)
}

// PageSupplier is the host-side half of the traversal rendezvous: the
// traversal calls RequestPage when it needs a fresh page and blocks until
// the host supplies one.
type PageSupplier interface {
	RequestPage(ctx context.Context, req PageRequest) (Page, error)
}

// ParseRequest configures one catalog traversal.
type ParseRequest struct {
	Page       Page
	CatalogURL string
	StartPage  int
	Supplier   PageSupplier
}

// CatalogParser is the long-running traversal over paginated catalog
// results.
type CatalogParser interface {
	ParseUntilComplete(ctx context.Context, req ParseRequest) (*CatalogResult, error)
}

// CardParser extracts structured fields from one detail-page HTML.
type CardParser interface {
	ParseCard(ctx context.Context, html string) (*CardDetails, error)
}
