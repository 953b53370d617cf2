package invoke

import (
	"unsafe"

	"github.com/jupiterrider/ffi"
)

func nextElem(p **ffi.Type) **ffi.Type {
	return (**ffi.Type)(unsafe.Add(unsafe.Pointer(p), unsafe.Sizeof(p)))
}
