package main

var (
	version = "dev"
	commit  = "dummy_hash"
	date    = "dummy_date"
)
