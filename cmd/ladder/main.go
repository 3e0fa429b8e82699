package main

import (
	_ "ladder/internal/command/fetch"
	_ "ladder/internal/command/inspect"
	"ladder/internal/command/root"
	_ "ladder/internal/command/server"
	_ "ladder/internal/command/transcode"
	_ "ladder/internal/command/watcher"
	_ "ladder/internal/command/worker"
)

func main() {
	root.Execute()
}
