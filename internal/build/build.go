package build

// Version of evbridge. Set to tag in CI during release.
var Version = "0.0.0"

// Commit is a git revision evbridge was built from. Set in CI during release.
var Commit = "unknown"
