// Package banner prints the startup banner shown once per process.
package banner

import (
	"fmt"

	"swarmstore/pkg/config"
)

const art = `
 ███████╗██╗    ██╗ █████╗ ██████╗ ███╗   ███╗███████╗████████╗ ██████╗ ██████╗ ███████╗
 ██╔════╝██║    ██║██╔══██╗██╔══██╗████╗ ████║██╔════╝╚══██╔══╝██╔═══██╗██╔══██╗██╔════╝
 ███████╗██║ █╗ ██║███████║██████╔╝██╔████╔██║███████╗   ██║   ██║   ██║██████╔╝█████╗
 ╚════██║██║███╗██║██╔══██║██╔══██╗██║╚██╔╝██║╚════██║   ██║   ██║   ██║██╔══██╗██╔══╝
 ███████║╚███╔███╔╝██║  ██║██║  ██║██║ ╚═╝ ██║███████║   ██║   ╚██████╔╝██║  ██║███████╗
 ╚══════╝ ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝     ╚═╝╚══════╝   ╚═╝    ╚═════╝ ╚═╝  ╚═╝╚══════╝
`

// Print renders the startup banner using the effective configuration.
func Print(eff config.Effective, version string) {
	fmt.Print(art)
	fmt.Println("== Config =====================================================")
	fmt.Printf("HTTP:       %s\n", eff.Config.Server.HTTPAddr)
	fmt.Printf("MQ:         %s\n", eff.Config.Server.MQAddr)
	fmt.Printf("DB Path:    %s\n", eff.DBPath)
	fmt.Printf("Swarm:      local=%d page_limit=%d\n", eff.Config.Swarm.LocalSwarmID, eff.Config.Store.PageLimit)
	if version != "" {
		fmt.Printf("Version:    %s\n", version)
	}
	fmt.Printf("Config src: %s\n", eff.Source)
	fmt.Println("== Endpoints ==================================================")
	fmt.Println("POST /storage_rpc/v1   - JSON {\"method\":NAME,\"params\":{...}}")
	fmt.Println("MQ   storage.<method>  - bencoded dict args, fasthttp-framed")
	fmt.Println()
}
