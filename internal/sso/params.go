package sso

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"nutri-auth/internal/domain"
)

const maxNoticeLen = 200

var noticePolicy = bluemonday.StrictPolicy()

// Params is everything reconciliation reads from a navigation URL
type Params struct {
	// Token is the raw SSO token, found directly or inside the redirect target
	Token string
	// Transfer is set when the URL asks for a commerce session transfer
	Transfer *domain.TransferParams
	// Redirect is the local return path, with any token stripped
	Redirect string
	// Notice is a plain-text flash message safe to render
	Notice string
}

// Empty reports whether the location carried nothing actionable
func (p Params) Empty() bool {
	return p.Token == "" && p.Transfer == nil
}

// ParseLocation extracts SSO and transfer parameters from a path with query
// string or a full URL. Malformed input yields empty Params.
func ParseLocation(raw string) Params {
	var p Params

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return p
	}
	q := u.Query()

	p.Token = q.Get("token")
	p.Transfer = transferFrom(q)
	p.Notice = sanitizeNotice(q.Get("message"))

	if redirect := q.Get("redirect"); redirect != "" {
		nested := decodeNested(redirect)
		if ru, err := url.Parse(nested); err == nil {
			rq := ru.Query()
			if p.Token == "" {
				p.Token = rq.Get("token")
			}
			if p.Transfer == nil {
				p.Transfer = transferFrom(rq)
			}
			rq.Del("token")
			ru.RawQuery = rq.Encode()
			p.Redirect = SafeReturnPath(ru.String())
		}
	}

	return p
}

// decodeNested undoes the extra level of encoding a redirect value may carry
func decodeNested(v string) string {
	if !strings.Contains(v, "%") {
		return v
	}
	if dec, err := url.QueryUnescape(v); err == nil {
		return dec
	}
	return v
}

func transferFrom(q url.Values) *domain.TransferParams {
	if q.Get("sessionTransfer") != "true" && q.Get("autoLogin") != "true" {
		return nil
	}
	email := domain.NormalizeEmail(q.Get("email"))
	customerID := strings.TrimSpace(q.Get("customerId"))
	if email == "" || customerID == "" {
		return nil
	}
	return &domain.TransferParams{Email: email, CustomerID: customerID}
}

func sanitizeNotice(s string) string {
	s = strings.TrimSpace(noticePolicy.Sanitize(s))
	if len(s) <= maxNoticeLen {
		return s
	}
	// cut on a rune boundary so the notice stays valid UTF-8
	cut := maxNoticeLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SafeReturnPath accepts only same-site absolute paths. Anything else,
// including protocol-relative and absolute URLs, returns "".
func SafeReturnPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return ""
	}
	u, err := url.Parse(p)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return strings.TrimSuffix(u.String(), "?")
}
