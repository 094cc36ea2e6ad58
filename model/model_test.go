package model_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/gradsync/model"
	"github.com/absmach/gradsync/pkg/data"
	"github.com/absmach/gradsync/pkg/device"
	"github.com/absmach/gradsync/pkg/weights"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var batch = data.Batch{
	Features: [][]float64{{1, 0}, {0, 1}, {1, 1}, {0.5, -1}},
	Labels:   [][]float64{{1}, {0}, {1}, {0}},
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	for _, loss := range []string{model.LossMSE, model.LossBCE} {
		t.Run(loss, func(t *testing.T) {
			m := model.NewLinear(model.Architecture{Name: "m", Inputs: 2, Outputs: 1, Loss: loss, InitScale: 0.5, L2: 0.01, Seed: 3}, device.Context{})
			ctx := context.Background()

			grad, _, err := m.Gradients(ctx, batch)
			require.NoError(t, err)

			base := m.Weights()
			const h = 1e-6
			for ti := range base {
				for i := range base[ti].Data {
					plus := base.Clone()
					plus[ti].Data[i] += h
					require.NoError(t, m.SetWeights(plus))
					_, lp, err := m.Gradients(ctx, batch)
					require.NoError(t, err)

					minus := base.Clone()
					minus[ti].Data[i] -= h
					require.NoError(t, m.SetWeights(minus))
					_, lm, err := m.Gradients(ctx, batch)
					require.NoError(t, err)

					assert.InDelta(t, (lp-lm)/(2*h), grad[ti].Data[i], 1e-5, "%s[%d]", base[ti].Name, i)
				}
			}
		})
	}
}

func TestInitIsSeeded(t *testing.T) {
	arch := model.Architecture{Name: "m", Inputs: 3, Outputs: 2, InitScale: 0.1, Seed: 42}
	a := model.NewLinear(arch, device.Context{})
	b := model.NewLinear(arch, device.Context{})
	assert.True(t, a.Weights().Equal(b.Weights()))

	arch.Seed = 43
	c := model.NewLinear(arch, device.Context{})
	assert.False(t, a.Weights().Equal(c.Weights()))
}

func TestSetWeights(t *testing.T) {
	m := model.NewLinear(model.Architecture{Name: "m", Inputs: 2, Outputs: 1}, device.Context{})
	w := m.Weights()
	w[0].Data[0] = 7
	assert.NotEqual(t, 7.0, m.Weights()[0].Data[0], "Weights returns a copy")

	require.NoError(t, m.SetWeights(w))
	assert.Equal(t, 7.0, m.Weights()[0].Data[0])

	bad := weights.Weights{weights.NewTensor("dense/kernel", 3)}
	assert.ErrorIs(t, m.SetWeights(bad), weights.ErrShapeMismatch)
}

func TestEvaluate(t *testing.T) {
	m := model.NewLinear(model.Architecture{Name: "m", Inputs: 2, Outputs: 1, Loss: model.LossBCE}, device.Context{})
	w := m.Weights()
	w[0].Data[0], w[0].Data[1], w[1].Data[0] = 10, -10, 0
	require.NoError(t, m.SetWeights(w))

	got, err := m.Evaluate(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got["accuracy"])
	assert.Less(t, got["loss"], 0.01)

	_, err = m.Evaluate(context.Background(), data.Batch{})
	assert.ErrorIs(t, err, data.ErrEmptySource)

	_, err = m.Evaluate(context.Background(), data.Batch{Features: [][]float64{{1}}, Labels: [][]float64{{1}}})
	assert.Error(t, err)
}

func TestFromArchitecture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mnist_linear.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"inputs":2,"outputs":1,"loss":"bce","seed":5}`), 0o644))

	cases := []struct {
		desc string
		path string
		body string
		err  bool
	}{
		{desc: "valid", path: path},
		{desc: "missing file", path: filepath.Join(dir, "none.json"), err: true},
		{desc: "bad loss", path: filepath.Join(dir, "bad.json"), body: `{"inputs":1,"outputs":1,"loss":"hinge"}`, err: true},
		{desc: "no inputs", path: filepath.Join(dir, "empty.json"), body: `{"outputs":1}`, err: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			if tc.body != "" {
				require.NoError(t, os.WriteFile(tc.path, []byte(tc.body), 0o644))
			}
			b, err := model.FromArchitecture(tc.path)
			if tc.err {
				assert.Error(t, err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, "mnist_linear", b.Name())

			m, err := b.Build(context.Background(), device.Context{}, model.Params{"init_scale": 0.0, "l2": 0.5})
			require.NoError(t, err)
			for _, v := range m.Weights()[0].Data {
				assert.Equal(t, 0.0, v)
			}
		})
	}
}

func TestFromFunc(t *testing.T) {
	called := false
	b := model.FromFunc("custom", func(_ context.Context, dev device.Context, p model.Params) (model.Model, error) {
		called = true
		assert.Equal(t, device.GPU, dev.Kind)
		assert.Equal(t, 3.0, p.Float("hidden", 0))

		return model.NewLinear(model.Architecture{Name: "custom", Inputs: 1, Outputs: 1}, dev), nil
	})
	m, err := b.Build(context.Background(), device.Context{Kind: device.GPU}, model.Params{"hidden": 3})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "custom", m.Name())
	assert.False(t, math.IsNaN(m.Weights()[0].Data[0]))
}
