package serializer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrTooLarge is returned by Capture when the body exceeds the size limit.
// The response stays fully readable by the caller.
var ErrTooLarge = errors.New("response body exceeds capture limit")

// StoredResponse is the snapshot of a response kept in a store generation.
type StoredResponse struct {
	Method     string      `msgpack:"method" cbor:"1,keyasint"`
	URL        string      `msgpack:"url" cbor:"2,keyasint"`
	StatusCode int         `msgpack:"status" cbor:"3,keyasint"`
	Header     http.Header `msgpack:"header" cbor:"4,keyasint"`
	Body       []byte      `msgpack:"body" cbor:"5,keyasint"`
	// The value of the clock at the time the response was captured.
	CapturedAt time.Time `msgpack:"captured_at" cbor:"6,keyasint"`
}

// Capture duplicates res into a StoredResponse.
// The body is read into memory and res.Body is replaced by a reader over the
// same bytes, so the response handed to the caller is never consumed by the
// act of caching it. If maxBytes is positive and the body is larger, ErrTooLarge
// is returned and res.Body still yields the complete body.
func Capture(res *http.Response, maxBytes int64, now time.Time) (StoredResponse, error) {
	sRes := StoredResponse{
		StatusCode: res.StatusCode,
		Header:     res.Header.Clone(),
		CapturedAt: now,
	}
	if res.Request != nil {
		sRes.Method = res.Request.Method
		sRes.URL = res.Request.URL.String()
	}
	if res.Body == nil || res.Body == http.NoBody {
		sRes.Body = []byte{}
		return sRes, nil
	}

	original := res.Body
	reader := io.Reader(original)
	if maxBytes > 0 {
		reader = io.LimitReader(original, maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		// hand back what we have plus the rest, the caller sees the same failure
		res.Body = readCloser{io.MultiReader(bytes.NewReader(body), original), original}
		return sRes, fmt.Errorf("read response body: %w", err)
	}
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		res.Body = readCloser{io.MultiReader(bytes.NewReader(body), original), original}
		return sRes, ErrTooLarge
	}
	original.Close()
	res.Body = io.NopCloser(bytes.NewReader(body))
	sRes.Body = body
	return sRes, nil
}

// Response rebuilds an *http.Response from the snapshot.
// Every call returns an independent body reader.
func (s StoredResponse) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.StatusCode, http.StatusText(s.StatusCode)),
		StatusCode:    s.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}
