package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"

	tooManyRequests = "Too Many Requests"
)

type ErrorBody struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
}

// Response is a ready-to-send 429.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       ErrorBody
}

// RetryAfter is the number of whole seconds until reset, never negative.
func RetryAfter(r Result, now time.Time) int64 {
	retry := r.Reset - now.Unix()
	if retry < 0 {
		return 0
	}
	return retry
}

func Headers(r Result, now time.Time) http.Header {
	h := make(http.Header, 4)
	h.Set(HeaderLimit, strconv.Itoa(r.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(r.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(r.Reset, 10))
	h.Set(HeaderRetryAfter, strconv.FormatInt(RetryAfter(r, now), 10))
	return h
}

func NewErrorBody(r Result, now time.Time) ErrorBody {
	return ErrorBody{
		Error:      tooManyRequests,
		RetryAfter: RetryAfter(r, now),
	}
}

func NewResponse(r Result, now time.Time) *Response {
	return &Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     Headers(r, now),
		Body:       NewErrorBody(r, now),
	}
}

// Write sends the response on a plain net/http writer.
func (resp *Response) Write(w http.ResponseWriter) error {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	return json.NewEncoder(w).Encode(resp.Body)
}
