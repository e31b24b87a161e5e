package main

import "procurement_followup/internal/cli"

func main() {
	cli.Execute()
}
