package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/apd/v3"

	"perpgate/pkg/core"
)

const (
	headerAPIKey      = "X-MBX-APIKEY"
	headerContentType = "Content-Type"
	formContentType   = "application/x-www-form-urlencoded"
)

// Signer turns an unsigned request into a wire-ready one. It holds no mutable
// state and is safe for concurrent use.
type Signer struct {
	urls       map[string]string
	recvWindow time.Duration
	now        func() time.Time
}

// NewSigner creates a Signer over the given family base URLs.
func NewSigner(urls map[string]string, recvWindow time.Duration) *Signer {
	return &Signer{
		urls:       urls,
		recvWindow: recvWindow,
		now:        time.Now,
	}
}

// WithClock returns a copy of the signer that reads time from now.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	cp := *s
	cp.now = now
	return &cp
}

// Sign builds the URL, body and headers for req. Credentials are only
// consulted for authenticated families and may be nil otherwise.
func (s *Signer) Sign(req *core.Request, creds *core.Credentials) (*core.SignedRequest, error) {
	base, ok := s.urls[req.API]
	if !ok {
		return nil, fmt.Errorf("unknown api family %q", req.API)
	}

	method := strings.ToUpper(req.Method)
	out := &core.SignedRequest{
		Method:  method,
		URL:     base + "/" + req.Path,
		Headers: make(map[string]string),
	}
	if req.API == APIWapi {
		out.URL += ".html"
	}

	switch {
	case req.Path == "historicalTrades":
		if creds == nil || creds.APIKey == "" {
			return nil, missingCredentials("historicalTrades requires an api key")
		}
		out.Headers[headerAPIKey] = creds.APIKey
		appendQuery(out, encodeParams(req.Params, false))

	case isUserDataStream(req.Path):
		if creds == nil || creds.APIKey == "" {
			return nil, missingCredentials("user data stream requires an api key")
		}
		out.Headers[headerAPIKey] = creds.APIKey
		out.Headers[headerContentType] = formContentType
		out.Body = encodeParams(req.Params, false)

	case isPrivateAPI(req.API, req.Path):
		if creds == nil || creds.APIKey == "" || creds.SecretKey == "" {
			return nil, missingCredentials("signed endpoint requires api key and secret")
		}
		params := req.Params.Clone()
		if _, ok := params["timestamp"]; !ok {
			params["timestamp"] = s.now().UnixMilli()
		}
		if _, ok := params["recvWindow"]; !ok {
			params["recvWindow"] = s.recvWindow.Milliseconds()
		}
		repeat := req.API == APISapi && req.Path == "asset/dust"
		query := encodeParams(params, repeat)
		query += "&signature=" + signHMAC(query, creds.SecretKey)

		out.Headers[headerAPIKey] = creds.APIKey
		if method == http.MethodGet || method == http.MethodDelete || req.API == APIWapi {
			appendQuery(out, query)
		} else {
			out.Headers[headerContentType] = formContentType
			out.Body = query
		}

	default:
		appendQuery(out, encodeParams(req.Params, false))
	}

	return out, nil
}

func appendQuery(req *core.SignedRequest, query string) {
	if query == "" {
		return
	}
	req.URL += "?" + query
}

func missingCredentials(msg string) error {
	return core.NewExchangeError(exchangeName, core.ErrorTypeAuthentication, 0, msg).
		WithCode(core.ErrCodeNoCredentials)
}

// leadingKeys are written first so signed query strings read the same way the
// exchange documents them. Remaining keys follow in lexical order.
var leadingKeys = []string{"timestamp", "recvWindow"}

// encodeParams URL-encodes params. When repeat is set, slice values are
// written as repeated keys instead of a JSON array.
func encodeParams(params core.Params, repeat bool) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if !slices.Contains(leadingKeys, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for i := len(leadingKeys) - 1; i >= 0; i-- {
		if _, ok := params[leadingKeys[i]]; ok {
			keys = append([]string{leadingKeys[i]}, keys...)
		}
	}

	var b strings.Builder
	write := func(k, v string) {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
	}

	for _, k := range keys {
		v := params[k]
		if repeat {
			if items, ok := v.([]any); ok {
				for _, item := range items {
					write(k, formatParam(item))
				}
				continue
			}
			if items, ok := v.([]string); ok {
				for _, item := range items {
					write(k, item)
				}
				continue
			}
		}
		write(k, formatParam(v))
	}
	return b.String()
}

// formatParam renders a parameter value the way the exchange expects it.
// Decimals are written in plain notation without trailing zeros.
func formatParam(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *apd.Decimal:
		return core.FormatDecimal(x)
	case apd.Decimal:
		return core.FormatDecimal(&x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case fmt.Stringer:
		return x.String()
	case []any, []string, []map[string]any, map[string]any:
		b, err := sonic.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

func signHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
