package main

import (
	"github.com/mj1618/portal-pilot/cmd"

	_ "github.com/mj1618/portal-pilot/internal/platform/darwin"
)

func main() {
	cmd.Execute()
}
