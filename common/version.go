package common

// Version is the build version, overridable via -ldflags "-X ...".
var Version = "v0.1.0"
