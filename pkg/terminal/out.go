package terminal

import (
	"io"

	"github.com/mattn/go-colorable"
)

// getColorableWriter returns a stdout writer that interprets ANSI
// escape sequences on every platform.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}
