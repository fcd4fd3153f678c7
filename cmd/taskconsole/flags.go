package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type ServeFlags struct {
	ConfigPath string
	Listen     string
}

type RunFlags struct {
	ConfigPath string
	Phone      string
}

// APIFlags select the remote server for client commands.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

type AttachFlags struct {
	APIFlags
	ProcessID string
	Phone     string
	Heartbeat time.Duration
}

type StateFlags struct {
	APIFlags
	ProcessID string
}

type SendFlags struct {
	APIFlags
	ProcessID string
	Value     string
}
