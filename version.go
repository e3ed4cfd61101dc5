package nexus

// Version is the current release of the Nexus library.
var Version = "0.3.0"
