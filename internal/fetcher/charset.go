package fetcher

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeReader converts r from the named charset (any WHATWG label such as
// "big5" or "utf-8") to UTF-8 and drops a leading byte-order mark.
func DecodeReader(r io.Reader, charset string) (io.Reader, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	if name != "" && name != "utf-8" && name != "utf8" {
		enc, err := htmlindex.Get(name)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: unsupported charset %q", charset)
		}
		r = enc.NewDecoder().Reader(r)
	}
	return skipBOM(r), nil
}

// DecodeString converts s from the named charset to UTF-8.
func DecodeString(s, charset string) (string, error) {
	r, err := DecodeReader(strings.NewReader(s), charset)
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", eris.Wrap(err, "fetcher: decode string")
	}
	return string(b), nil
}

func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}
