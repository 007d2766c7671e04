package utils

// Set at build time through -ldflags.
var (
	Tag        = "dev"
	GitHash    = "none"
	BuildStamp = "unknown"
)
