//go:build windows

package abi

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

const wcharSize = 2

func wideEncoding() encoding.Encoding {
	return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
}
