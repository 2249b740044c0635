package ftp

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/koustreak/filehop/internal/errs"
)

// nameCodec converts path names between UTF-8 and the server's control
// channel character set.
type nameCodec struct {
	enc encoding.Encoding // nil for UTF-8
}

func newNameCodec(name string) (nameCodec, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nameCodec{}, errs.Wrap(errs.ErrKindInvalidInput, "unknown encoding "+name, err)
	}
	if n, _ := htmlindex.Name(enc); strings.EqualFold(n, "utf-8") {
		return nameCodec{}, nil
	}
	return nameCodec{enc: enc}, nil
}

func (c nameCodec) utf8() bool { return c.enc == nil }

// encode converts a UTF-8 path for the wire. Characters the charset cannot
// represent are an error.
func (c nameCodec) encode(s string) (string, error) {
	if c.enc == nil {
		return s, nil
	}
	out, err := c.enc.NewEncoder().String(s)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindInvalidInput, "name not representable in server encoding: "+s, err)
	}
	return out, nil
}

// decode converts a wire name to UTF-8. Undecodable names are returned as is.
func (c nameCodec) decode(s string) string {
	if c.enc == nil {
		return s
	}
	out, err := c.enc.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}
