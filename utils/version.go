package utils

// Build metadata, overridden at link time:
//
//	go build -ldflags "-X github.com/jmball/mqtt-saver/utils.Tag=..."
var (
	Tag        = "dev"
	GitHash    = "unknown"
	BuildStamp = "unknown"
)
