package cmd

import (
	_ "podfleet/cmd/fleet"
	_ "podfleet/cmd/root"
	_ "podfleet/cmd/server"
)
