package gen

import (
	"os"

	"talentgrid-controlplane/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snowflake",
	fx.Provide(NewNode),
)

func NewNode(cfg *config.Config) *snowflake.Node {
	nodeID := cfg.Snowflake.NodeID
	if nodeID == 0 {
		nodeID = 1
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		zap.L().Error("failed to init snowflake node", zap.Error(err))
		os.Exit(1)
	}
	return node
}
