package mxtool

import (
	"errors"

	"github.com/gookit/color"
)

// Global variables
var (
	maxineDir     string
	userHome      string
	graalHome     string
	fetchHelper   string
	mirrorURL     string
	Debug         bool
	Verbose       bool
	ConfigFile    = "mx.conf"
	version       = "dev"     // overridden at build time
	buildDate     = "unknown" // overridden at build time
	acceptedJavas = []string{"1.6", "1.7"}

	errEntryNotFound  = errors.New("entry not found in archive")
	errDigestMismatch = errors.New("digest mismatch")
	errUnknownLocator = errors.New("unknown source locator")
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)
