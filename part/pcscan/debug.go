package pcscan

import (
	"fmt"
	"os"
)

func logScanf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "pcscan: "+format+"\n", args...)
}
