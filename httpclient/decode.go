package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/net/html/charset"
)

// readBody reads the decoded body. The cap applies after decompression and
// a longer body fails with ErrBodyTooLarge rather than being cut short.
func (t *httpTransport) readBody(res *http.Response) ([]byte, error) {
	var reader io.Reader = res.Body
	if encoding := res.Header.Get("Content-Encoding"); encoding != "" && !res.Uncompressed {
		var err error
		if reader, err = decompress(encoding, reader); err != nil {
			return nil, err
		}
	}
	raw, err := io.ReadAll(io.LimitReader(reader, t.maxBodySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > t.maxBodySize {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, t.maxBodySize)
	}
	return raw, nil
}

// decompress undoes the codings listed in a Content-Encoding header. Codings
// are listed in the order they were applied, so they are removed in reverse.
func decompress(encoding string, reader io.Reader) (io.Reader, error) {
	codings := strings.Split(encoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		var err error
		switch strings.ToLower(strings.TrimSpace(codings[i])) {
		case "", "identity":
		case "gzip", "x-gzip":
			reader, err = gzip.NewReader(reader)
		case "deflate":
			reader, err = zlib.NewReader(reader)
		case "br":
			reader = brotli.NewReader(reader)
		default:
			err = fmt.Errorf("unsupported content encoding %q", codings[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return reader, nil
}

// interpret shapes raw bytes according to the requested response type.
// A JSON body that is empty or does not parse becomes Absent.
func (t *httpTransport) interpret(ctx context.Context, req *Request, res *http.Response, raw []byte) any {
	switch req.ResponseType {
	case ResponseBinary:
		return raw
	case ResponseText:
		if t.charsetDetectDisabled || len(raw) == 0 {
			return string(raw)
		}
		r, err := charset.NewReader(bytes.NewReader(raw), res.Header.Get("Content-Type"))
		if err != nil {
			return string(raw)
		}
		decoded, err := io.ReadAll(r)
		if err != nil {
			return string(raw)
		}
		return string(decoded)
	default:
		if len(bytes.TrimSpace(raw)) == 0 {
			return Absent
		}
		t.logger.Log(ctx, LevelTrace, "parsing JSON")
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return Absent
		}
		return v
	}
}
