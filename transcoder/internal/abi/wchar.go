package abi

// WcharSize is sizeof(wchar_t) on the build target.
const WcharSize = wcharSize

// EncodeWide converts s to the platform wchar_t encoding followed by a
// wide NUL terminator.
func EncodeWide(s string) ([]byte, error) {
	b, err := wideEncoding().NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return append(b, make([]byte, WcharSize)...), nil
}

// DecodeWide converts wchar_t units, without terminator, back to UTF-8.
func DecodeWide(b []byte) (string, error) {
	out, err := wideEncoding().NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// WideLen finds the terminator in a wchar_t buffer and returns the number
// of bytes before it, or -1 if the buffer has none.
func WideLen(b []byte) int {
	for i := 0; i+WcharSize <= len(b); i += WcharSize {
		zero := true
		for _, c := range b[i : i+WcharSize] {
			if c != 0 {
				zero = false
				break
			}
		}
		if zero {
			return i
		}
	}
	return -1
}
