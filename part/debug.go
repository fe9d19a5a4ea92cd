package part

import (
	"fmt"
	"os"
)

// Compile-time toggle for verbose allocator tracing.
const debugAlloc = false

// Runtime toggle for allocation logging, controlled by PARTKIT_LOG_ALLOC.
var logAlloc = os.Getenv("PARTKIT_LOG_ALLOC") != ""

func debugLogf(format string, args ...any) {
	if debugAlloc || logAlloc {
		fmt.Fprintf(os.Stderr, "[PART] "+format+"\n", args...)
	}
}
