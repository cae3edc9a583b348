package trainer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"scoring-backend/internal/core/types"
	"scoring-backend/internal/trainer"
	"scoring-backend/plugin/shared"
	"testing"
	"time"

	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDryRunTrainer(t *testing.T) {
	tr := trainer.NewDryRunTrainer(0)
	ctx := context.Background()

	for _, approach := range []types.Approach{types.SoloModel, types.TwoModels} {
		for _, classifier := range []types.Classifier{types.CatBoost, types.RandomForest} {
			score, err := tr.Train(ctx, approach, classifier, 0.7)
			require.NoError(t, err)
			assert.Greater(t, score, 0.0)
			assert.Less(t, score, 1.0)

			again, err := tr.Train(ctx, approach, classifier, 0.7)
			require.NoError(t, err)
			assert.Equal(t, score, again)
		}
	}

	_, err := tr.Train(ctx, types.TwoModels, types.Classifier("Unsupported"), 0.5)
	assert.ErrorIs(t, err, trainer.ErrUnsupportedCombination)

	_, err = tr.Train(ctx, types.Approach("ThreeModels"), types.CatBoost, 0.5)
	assert.ErrorIs(t, err, trainer.ErrUnsupportedCombination)
}

func TestDryRunTrainerDelayHonorsContext(t *testing.T) {
	tr := trainer.NewDryRunTrainer(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Train(ctx, types.SoloModel, types.CatBoost, 0.5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func trainerServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/train", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		switch req["classifier"] {
		case "CatBoost":
			_ = json.NewEncoder(w).Encode(map[string]any{"score": 0.83})
		case "Broken":
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "out of memory"})
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "unknown classifier"})
		}
	}))
}

func TestHTTPTrainer(t *testing.T) {
	server := trainerServer(t)
	defer server.Close()

	tr := trainer.NewHTTPTrainer(server.URL, 5*time.Second)
	ctx := context.Background()

	score, err := tr.Train(ctx, types.SoloModel, types.CatBoost, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 0.83, score)

	_, err = tr.Train(ctx, types.TwoModels, types.Classifier("Unsupported"), 0.5)
	assert.ErrorIs(t, err, trainer.ErrUnsupportedCombination)
	assert.Contains(t, err.Error(), "unknown classifier")

	_, err = tr.Train(ctx, types.TwoModels, types.Classifier("Broken"), 0.5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, trainer.ErrUnsupportedCombination)
	assert.Contains(t, err.Error(), "out of memory")
}

func TestHTTPTrainerUnavailable(t *testing.T) {
	server := trainerServer(t)
	url := server.URL
	server.Close()

	tr := trainer.NewHTTPTrainer(url, time.Second)
	_, err := tr.Train(context.Background(), types.SoloModel, types.CatBoost, 0.7)
	assert.ErrorIs(t, err, trainer.ErrTrainerUnavailable)
}

func TestPluginTrainerOverRPC(t *testing.T) {
	client, _ := plugin.TestPluginRPCConn(t, map[string]plugin.Plugin{
		shared.PluginName: &shared.TrainerPlugin{Impl: trainer.NewPluginServer(trainer.NewDryRunTrainer(0))},
	}, nil)
	defer client.Close()

	raw, err := client.Dispense(shared.PluginName)
	require.NoError(t, err)

	remote, ok := raw.(shared.Trainer)
	require.True(t, ok)

	tr := trainer.NewPluginTrainer(remote)
	defer tr.Release()

	expected, err := trainer.NewDryRunTrainer(0).Train(context.Background(), types.TwoModels, types.RandomForest, 0.3)
	require.NoError(t, err)

	score, err := tr.Train(context.Background(), types.TwoModels, types.RandomForest, 0.3)
	require.NoError(t, err)
	assert.Equal(t, expected, score)

	_, err = tr.Train(context.Background(), types.SoloModel, types.Classifier("Unsupported"), 0.3)
	assert.ErrorIs(t, err, trainer.ErrUnsupportedCombination)
}
