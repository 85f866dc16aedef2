package version

// Version is the build version, set via -ldflags at build time.
var Version = "dev"
