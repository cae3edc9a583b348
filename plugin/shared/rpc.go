package shared

import (
	"net/rpc"
)

type TrainArgs struct {
	Approach   string
	Classifier string
	TrainSize  float64
}

// RPCClient is an implementation of Trainer that talks over RPC.
type RPCClient struct{ client *rpc.Client }

func (m *RPCClient) Train(approach, classifier string, trainSize float64) (float64, error) {
	var resp float64
	err := m.client.Call("Plugin.Train", TrainArgs{Approach: approach, Classifier: classifier, TrainSize: trainSize}, &resp)
	return resp, err
}

// Here is the RPC server that RPCClient talks to, conforming to
// the requirements of net/rpc
type RPCServer struct {
	// This is the real implementation
	Impl Trainer
}

func (m *RPCServer) Train(args TrainArgs, resp *float64) error {
	v, err := m.Impl.Train(args.Approach, args.Classifier, args.TrainSize)
	*resp = v
	return err
}
