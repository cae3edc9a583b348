package shared

import (
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

const PluginName = "trainer"

var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "SCORING_TRAINER_PLUGIN",
	MagicCookieValue: "b6f1d3e2-trainer",
}

var PluginMap = map[string]plugin.Plugin{
	PluginName: &TrainerPlugin{},
}

// Trainer is the interface exposed by the plugin process. Errors cross the
// process boundary as strings.
type Trainer interface {
	Train(approach, classifier string, trainSize float64) (float64, error)
}

type TrainerPlugin struct {
	Impl Trainer
}

func (p *TrainerPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (*TrainerPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}
