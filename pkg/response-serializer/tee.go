package serializer

import (
	"bytes"
	"io"
	"net/http"
	"time"
)

// Tee replaces res.Body with a reader that saves what the caller reads.
// Once the caller reaches the end of the body, done receives the complete
// snapshot. done is not called when the body is closed before its end, when
// reading fails, or when more than maxBytes (if positive) arrive.
func Tee(res *http.Response, maxBytes int64, now time.Time, done func(StoredResponse)) {
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
		done(sRes)
		return
	}
	res.Body = &teeBody{
		body: res.Body,
		max:  maxBytes,
		sRes: sRes,
		done: done,
	}
}

// teeBody is not safe for concurrent reads, same as the body it wraps.
type teeBody struct {
	body     io.ReadCloser
	buf      bytes.Buffer
	max      int64
	over     bool
	finished bool
	sRes     StoredResponse
	done     func(StoredResponse)
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 && !t.over {
		if t.max > 0 && int64(t.buf.Len()+n) > t.max {
			t.over = true
			t.buf = bytes.Buffer{}
		} else {
			t.buf.Write(p[:n])
		}
	}
	switch {
	case err == io.EOF:
		t.finish()
	case err != nil:
		// a broken body is never saved
		t.over = true
	}
	return n, err
}

func (t *teeBody) finish() {
	if t.finished {
		return
	}
	t.finished = true
	if t.over {
		return
	}
	t.sRes.Body = t.buf.Bytes()
	t.done(t.sRes)
}

func (t *teeBody) Close() error {
	return t.body.Close()
}
