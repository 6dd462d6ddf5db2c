package main

import "github.com/pfrederiksen/web-monitor/internal/cli"

func main() {
	cli.Execute()
}
