package common

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"
)

// Console prints user-facing messages of a command
type Console struct {
	out        io.Writer
	ShowColors bool
	Verbose    bool
}

// NewConsole creates a console writing to w
func NewConsole(w io.Writer) *Console {
	return &Console{out: w, ShowColors: true}
}

func (c *Console) print(color text.Color, tag, format string, args ...interface{}) {
	if c.ShowColors {
		tag = color.Sprint(tag)
	}
	fmt.Fprintf(c.out, "%s %s\n", tag, fmt.Sprintf(format, args...))
}

// Header prints a formatted header
func (c *Console) Header(title string) {
	fmt.Fprintf(c.out, "\n%s\n%s\n", strings.ToUpper(title), strings.Repeat("=", len(title)))
}

// Info prints an info message
func (c *Console) Info(format string, args ...interface{}) {
	c.print(text.FgCyan, "[INFO]", format, args...)
}

// Success prints a success message
func (c *Console) Success(format string, args ...interface{}) {
	c.print(text.FgGreen, "[OK]", format, args...)
}

// Warn prints a warning message
func (c *Console) Warn(format string, args ...interface{}) {
	c.print(text.FgYellow, "[WARN]", format, args...)
}

// Error prints an error message
func (c *Console) Error(format string, args ...interface{}) {
	c.print(text.FgRed, "[ERROR]", format, args...)
}

// Debug prints a message in verbose mode only
func (c *Console) Debug(format string, args ...interface{}) {
	if c.Verbose {
		c.print(text.FgHiBlack, "[DEBUG]", format, args...)
	}
}

// LoadEnvFile loads environment variables from path. A missing file is not
// an error.
func LoadEnvFile(console *Console, path string) error {
	if path == "" {
		path = ".env"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		console.Debug("Environment file %s not found, using system environment", path)
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		console.Warn("Could not load environment file %s: %v", path, err)
		return err
	}

	console.Debug("Environment loaded from %s", path)
	return nil
}
