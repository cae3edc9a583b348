package trainer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"scoring-backend/internal/core/types"
	"scoring-backend/plugin/shared"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
)

// PluginTrainer runs training in a separate executable over go-plugin.
type PluginTrainer struct {
	client  *plugin.Client
	trainer shared.Trainer
}

func pluginLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "trainer-plugin",
		Level:  hclog.Warn,
		Output: os.Stderr,
	})
}

func LoadPluginTrainer(executable string) (*PluginTrainer, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  shared.Handshake,
		Plugins:          shared.PluginMap,
		Cmd:              exec.Command(executable),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
		Logger:           pluginLogger(),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error establishing RPC connection: %w", err)
	}

	raw, err := rpcClient.Dispense(shared.PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error dispensing '%s': %w", shared.PluginName, err)
	}

	trainer, ok := raw.(shared.Trainer)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("dispensed interface '%s' is not of expected type shared.Trainer (actual type: %T)", shared.PluginName, raw)
	}

	return &PluginTrainer{client: client, trainer: trainer}, nil
}

func NewPluginTrainer(trainer shared.Trainer) *PluginTrainer {
	return &PluginTrainer{trainer: trainer}
}

func (t *PluginTrainer) Train(ctx context.Context, approach types.Approach, classifier types.Classifier, trainSize float64) (float64, error) {
	type result struct {
		score float64
		err   error
	}

	// net/rpc calls cannot be cancelled, the call is abandoned instead.
	done := make(chan result, 1)
	go func() {
		score, err := t.trainer.Train(string(approach), string(classifier), trainSize)
		done <- result{score: score, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			// Errors cross the process boundary as plain strings.
			if strings.Contains(res.err.Error(), ErrUnsupportedCombination.Error()) {
				return 0, fmt.Errorf("%w: %s", ErrUnsupportedCombination, res.err.Error())
			}
			return 0, fmt.Errorf("plugin training failed: %w", res.err)
		}
		return res.score, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (t *PluginTrainer) Release() {
	if t.client == nil {
		return
	}

	t.client.Kill()
	t.client = nil
}

// pluginServer exposes a Trainer to the plugin host.
type pluginServer struct {
	impl Trainer
}

func NewPluginServer(impl Trainer) shared.Trainer {
	return &pluginServer{impl: impl}
}

func (s *pluginServer) Train(approach, classifier string, trainSize float64) (float64, error) {
	return s.impl.Train(context.Background(), types.Approach(approach), types.Classifier(classifier), trainSize)
}

// ServePlugin blocks serving impl to the host process that launched this
// executable.
func ServePlugin(impl Trainer) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: shared.Handshake,
		Plugins: map[string]plugin.Plugin{
			shared.PluginName: &shared.TrainerPlugin{Impl: NewPluginServer(impl)},
		},
		Logger: pluginLogger(),
	})
}
