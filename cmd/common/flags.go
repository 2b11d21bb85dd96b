package common

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CommonFlags contains flags that are shared across commands
type CommonFlags struct {
	// Environment and configuration
	EnvFile     *string
	ConfigFile  *string
	ConsoleOnly *bool

	// Logging and output
	Verbose  *bool
	NoColors *bool

	Version *bool
}

// RegisterCommonFlags registers common flags on fs
func RegisterCommonFlags(fs *flag.FlagSet) *CommonFlags {
	return &CommonFlags{
		EnvFile:     fs.String("env", ".env", "Environment file path"),
		ConfigFile:  fs.String("config", "", "YAML configuration file (optional)"),
		ConsoleOnly: fs.Bool("console-only", false, "Log to the console instead of a file"),

		Verbose:  fs.Bool("verbose", false, "Enable debug logging"),
		NoColors: fs.Bool("no-colors", false, "Disable colored output"),

		Version: fs.Bool("version", false, "Show version information"),
	}
}

// FlagValidator collects flag validation errors
type FlagValidator struct {
	errors []string
}

// NewFlagValidator creates a new flag validator
func NewFlagValidator() *FlagValidator {
	return &FlagValidator{
		errors: make([]string, 0),
	}
}

// ValidateChoice validates that a string is one of the allowed choices.
// Empty values are accepted.
func (v *FlagValidator) ValidateChoice(name, value string, choices []string) *FlagValidator {
	if value == "" {
		return v
	}
	for _, choice := range choices {
		if strings.EqualFold(value, choice) {
			return v
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of [%s], got: %s", name, strings.Join(choices, ", "), value))
	return v
}

// ValidateFile validates that a file exists
func (v *FlagValidator) ValidateFile(name, path string, required bool) *FlagValidator {
	if path == "" {
		if required {
			v.errors = append(v.errors, fmt.Sprintf("%s is required", name))
		}
		return v
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		v.errors = append(v.errors, fmt.Sprintf("%s file does not exist: %s", name, path))
	}
	return v
}

// AddError adds a custom validation error
func (v *FlagValidator) AddError(message string) *FlagValidator {
	v.errors = append(v.errors, message)
	return v
}

// HasErrors returns true if there are validation errors
func (v *FlagValidator) HasErrors() bool {
	return len(v.errors) > 0
}

// GetError returns a formatted error message with all validation errors
func (v *FlagValidator) GetError() error {
	if len(v.errors) == 0 {
		return nil
	}

	if len(v.errors) == 1 {
		return fmt.Errorf("validation error: %s", v.errors[0])
	}

	return fmt.Errorf("validation errors:\n  - %s", strings.Join(v.errors, "\n  - "))
}

// UsageFormatter prints the usage of a command with examples
type UsageFormatter struct {
	AppName        string
	AppDescription string
	Examples       []UsageExample
}

// UsageExample represents a usage example
type UsageExample struct {
	Command     string
	Description string
}

// NewUsageFormatter creates a new usage formatter
func NewUsageFormatter(appName, description string) *UsageFormatter {
	return &UsageFormatter{
		AppName:        appName,
		AppDescription: description,
	}
}

// AddExample adds a usage example
func (u *UsageFormatter) AddExample(command, description string) *UsageFormatter {
	u.Examples = append(u.Examples, UsageExample{
		Command:     command,
		Description: description,
	})
	return u
}

// Usage returns a function suitable for flag.FlagSet.Usage
func (u *UsageFormatter) Usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "%s - %s\n\n", u.AppName, u.AppDescription)
		fmt.Fprintf(out, "USAGE:\n  %s [OPTIONS]\n\n", filepath.Base(os.Args[0]))

		if len(u.Examples) > 0 {
			fmt.Fprintf(out, "EXAMPLES:\n")
			for _, example := range u.Examples {
				fmt.Fprintf(out, "  # %s\n  %s\n\n", example.Description, example.Command)
			}
		}

		fmt.Fprintf(out, "OPTIONS:\n")
		fs.PrintDefaults()
	}
}
