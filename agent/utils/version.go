package utils

// Version is the version of the coordinator.
const Version = "0.1.0"
