package binance

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/buger/jsonparser"

	"perpgate/pkg/core"
)

// bodyPatterns are legacy rejections recognized in the raw body of any
// status >= 400 response, checked in order.
var bodyPatterns = []struct {
	substr  string
	message string
}{
	{"Price * QTY is zero or less", "order cost = amount * price is zero or less"},
	{"LOT_SIZE", "order amount should be evenly divisible by lot size"},
	{"PRICE_FILTER", "order price is invalid, i.e. exceeds allowed price precision, exceeds min price or max price limits or is invalid float value in general"},
}

// ErrorClassifier turns a single response into a domain error, or nil when
// the response is a success or a benign no-op.
type ErrorClassifier struct {
	exceptions    ExceptionTable
	authenticated func() bool
}

// NewErrorClassifier creates a classifier. authenticated reports whether the
// session has already completed a signed call; it may be nil.
func NewErrorClassifier(exceptions ExceptionTable, authenticated func() bool) *ErrorClassifier {
	if authenticated == nil {
		authenticated = func() bool { return false }
	}
	return &ErrorClassifier{
		exceptions:    exceptions,
		authenticated: authenticated,
	}
}

// Classify inspects status and body. Responses without a JSON object body are
// left to the caller's generic handling.
func (c *ErrorClassifier) Classify(status int, body []byte) error {
	text := string(body)

	if status == http.StatusTeapot || status == http.StatusTooManyRequests {
		return core.NewExchangeError(exchangeName, core.ErrorTypeRateLimit, status,
			fmt.Sprintf("%d %s %s", status, http.StatusText(status), text)).
			WithCode(core.ErrCodeRateLimit).WithRaw(text)
	}

	if status >= http.StatusBadRequest {
		for _, p := range bodyPatterns {
			if strings.Contains(text, p.substr) {
				return core.NewExchangeError(exchangeName, core.ErrorTypeInvalidOrder, status,
					p.message+" "+text).WithCode(core.ErrCodeBodyPattern).WithRaw(text)
			}
		}
	}

	response := bytes.TrimSpace(body)
	if !isObject(response) {
		return nil
	}

	success := true
	if v, err := jsonparser.GetBoolean(response, "success"); err == nil {
		success = v
	}
	if !success {
		if msg, err := jsonparser.GetString(response, "msg"); err == nil {
			if nested := bytes.TrimSpace([]byte(msg)); isObject(nested) {
				response = nested
			}
		}
	}

	if msg, err := jsonparser.GetString(response, "msg"); err == nil {
		if kind, ok := c.exceptions.Lookup(msg); ok {
			return core.NewExchangeError(exchangeName, kind, status, msg).WithRaw(text)
		}
	}

	if code, ok := wireCode(response); ok {
		if code == "200" {
			return nil
		}
		if code == "-2015" && c.authenticated() {
			return core.NewExchangeErrorWithCode(exchangeName, core.ErrorTypeRateLimit, status, code,
				"temporary banned: "+text).WithRaw(text)
		}
		if kind, ok := c.exceptions.Lookup(code); ok {
			return core.NewExchangeErrorWithCode(exchangeName, kind, status, code, text).WithRaw(text)
		}
		if !c.exceptions.Ignored(code) {
			return core.NewExchangeErrorWithCode(exchangeName, core.ErrorTypeExchange, status, code, text).WithRaw(text)
		}
	}

	if !success {
		return core.NewExchangeError(exchangeName, core.ErrorTypeExchange, status, text).WithRaw(text)
	}
	return nil
}

// wireCode reads "code" as written, whether it is a JSON string or number.
func wireCode(data []byte) (string, bool) {
	value, typ, _, err := jsonparser.Get(data, "code")
	if err != nil {
		return "", false
	}
	switch typ {
	case jsonparser.String, jsonparser.Number:
		return string(value), true
	}
	return "", false
}

func isObject(data []byte) bool {
	if len(data) == 0 || data[0] != '{' {
		return false
	}
	_, typ, _, err := jsonparser.Get(data)
	return err == nil && typ == jsonparser.Object
}
