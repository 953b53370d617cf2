//go:build !windows

package abi

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode/utf32"
)

const wcharSize = 4

func wideEncoding() encoding.Encoding {
	return utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM)
}
