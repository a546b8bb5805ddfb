// Command mcp-bridge connects MCP clients and servers that speak different transports.
package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/viant/mcp-bridge/bridge"
	"github.com/viant/mcp-bridge/internal/logx"
)

func main() {
	if err := bridge.Run(os.Args[1:]); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		logx.Log.Fatal().Err(err).Msg("mcp-bridge failed")
	}
}
