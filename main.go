package main

import (
	"example.com/sitewatch/services/monitoring/cmd"
)

func main() {
	cmd.Execute()
}
