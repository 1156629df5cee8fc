package resource

import (
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
)

const (
	// XSRFCookieName is the cookie carrying the anti-forgery token.
	XSRFCookieName = "XSRF-TOKEN"
	// XSRFHeaderName is the anti-forgery header read by the backend middleware.
	XSRFHeaderName = "X-XSRF-TOKEN"
	// RequestVerificationHeaderName is the header read by form validation.
	RequestVerificationHeaderName = "RequestVerificationToken"
	// TenantHeaderName selects the tenant of a request.
	TenantHeaderName = "__tenant"
)

// XSRFTransport copies the XSRF-TOKEN cookie of a mutating request into the
// X-XSRF-TOKEN and RequestVerificationToken headers. Reads pass through
// untouched. It must sit below http.Client so the jar cookies are already on
// the request.
type XSRFTransport struct {
	Base http.RoundTripper
}

func (t *XSRFTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *XSRFTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !isMutating(req.Method) {
		return t.base().RoundTrip(req)
	}

	cookie, err := req.Cookie(XSRFCookieName)
	if err != nil || cookie.Value == "" {
		return t.base().RoundTrip(req)
	}

	token, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		token = cookie.Value
	}

	r := req.Clone(req.Context())
	r.Header.Set(XSRFHeaderName, token)
	r.Header.Set(RequestVerificationHeaderName, token)
	return t.base().RoundTrip(r)
}

// SessionTransport adds the bearer token, tenant and culture headers. A 401
// response triggers one token refresh and a single replay of the request. A
// 403 response is reported to sessions implementing ForbiddenHandler.
type SessionTransport struct {
	Base    http.RoundTripper
	Session Session
	Culture string
	Logger  zerolog.Logger
}

func (t *SessionTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *SessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := ""
	if t.Session != nil {
		token = t.Session.AccessToken()
	}

	resp, err := t.base().RoundTrip(t.decorate(req, token))
	if err != nil || t.Session == nil {
		return resp, err
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
	case http.StatusForbidden:
		t.forbidden(req)
		return resp, nil
	default:
		return resp, nil
	}

	replay, ok := rewind(req)
	if !ok {
		return resp, nil
	}

	if err := t.Session.Refresh(req.Context(), token); err != nil {
		t.Logger.Warn().Err(err).Str("url", req.URL.String()).Msg("token refresh failed")
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	t.Logger.Debug().Str("url", req.URL.String()).Msg("replaying request with refreshed token")
	resp, err = t.base().RoundTrip(t.decorate(replay, t.Session.AccessToken()))
	if err == nil && resp.StatusCode == http.StatusForbidden {
		t.forbidden(req)
	}
	return resp, err
}

// ForbiddenHandler is implemented by sessions that end on a 403 response.
type ForbiddenHandler interface {
	Forbidden()
}

func (t *SessionTransport) forbidden(req *http.Request) {
	t.Logger.Warn().Str("url", req.URL.String()).Msg("request forbidden")
	if h, ok := t.Session.(ForbiddenHandler); ok {
		h.Forbidden()
	}
}

func (t *SessionTransport) decorate(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())

	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	culture := t.Culture
	if t.Session != nil {
		if tenant := t.Session.Tenant(); tenant != "" {
			r.Header.Set(TenantHeaderName, tenant)
		}
		if c := t.Session.Culture(); c != "" {
			culture = c
		}
	}
	if culture == "" {
		culture = "en"
	}
	if r.Header.Get("Accept-Language") == "" {
		r.Header.Set("Accept-Language", culture)
	}

	return r
}

// rewind returns a copy of req whose body can be sent again.
func rewind(req *http.Request) (*http.Request, bool) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, true
	}
	if req.GetBody == nil {
		return nil, false
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}

	r := req.Clone(req.Context())
	r.Body = body
	return r, true
}
