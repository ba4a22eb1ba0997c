// Command pipeline inspects and exercises the stage decomposition: it can
// print the stage plan for a configuration, show the process topology with
// per-rank seeds, and push a random batch through an eagerly materialized
// pipeline.
package main

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"llmpipe/pkg/model"
	"llmpipe/pkg/pipeline"
	"llmpipe/pkg/tensor"
)

func main() {
	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "Inspect and run the pipeline stage decomposition",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(planCmd(), topologyCmd(), runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func configFlags(cmd *cobra.Command, cfg *model.Config) {
	cmd.Flags().IntVar(&cfg.VocabSize, "vocab", cfg.VocabSize, "vocabulary size")
	cmd.Flags().IntVar(&cfg.HiddenSize, "hidden", cfg.HiddenSize, "hidden size")
	cmd.Flags().IntVar(&cfg.NumHiddenLayers, "layers", cfg.NumHiddenLayers, "number of decoder layers")
}

func planCmd() *cobra.Command {
	cfg := model.DefaultConfig()
	var checkpoint bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the ordered stage-specification list",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := pipeline.BuildSpecs(cfg, checkpoint)
			if err != nil {
				return err
			}
			for i, s := range specs {
				ckpt := ""
				if s.Checkpoint {
					ckpt = "  [checkpointed]"
				}
				fmt.Printf("%2d  %s%s\n", i, s.Name(), ckpt)
			}
			slog.Info("stage plan built", "stages", len(specs), "layers", cfg.NumHiddenLayers, "checkpoint", checkpoint)
			return nil
		},
	}
	configFlags(cmd, &cfg)
	cmd.Flags().BoolVar(&checkpoint, "checkpoint", false, "enable activation checkpointing")
	return cmd
}

func topologyCmd() *cobra.Command {
	var world, pipe, modelParallel int
	var seed int64

	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Print the rank-to-coordinate mapping and per-rank seeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := pipeline.NewTopology(world, pipe, modelParallel)
			if err != nil {
				return err
			}
			fmt.Printf("world=%d pipe=%d model=%d data=%d\n",
				topo.WorldSize(), topo.PipeDegree(), topo.ModelDegree(), topo.DataDegree())
			for rank := 0; rank < topo.WorldSize(); rank++ {
				coord, err := topo.Coord(rank)
				if err != nil {
					return err
				}
				s := pipeline.StageSeed(seed, coord.Pipe, topo.PipeDegree(), topo.ModelDegree())
				fmt.Printf("rank %2d  pipe=%d data=%d model=%d  seed=%d\n",
					rank, coord.Pipe, coord.Data, coord.Model, s)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&world, "world", 4, "world size")
	cmd.Flags().IntVar(&pipe, "pipe", 2, "pipeline-parallel degree")
	cmd.Flags().IntVar(&modelParallel, "model-parallel", 1, "model-parallel degree")
	cmd.Flags().Int64Var(&seed, "seed", 1234, "base random seed")
	return cmd
}

func runCmd() *cobra.Command {
	cfg := model.DefaultConfig()
	var batch, seq int
	var seed int64
	var checkpoint bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Push a random batch through an eagerly materialized pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := model.New(cfg, seed)
			if err != nil {
				return err
			}

			var ckpt pipeline.Checkpointer
			if checkpoint {
				rc, err := pipeline.NewRecomputeCheckpointer(&pipeline.CheckpointConfig{})
				if err != nil {
					return err
				}
				ckpt = rc
			}
			stages, err := pipeline.WrapModel(m, checkpoint, ckpt)
			if err != nil {
				return err
			}
			slog.Info("pipeline materialized", "stages", len(stages), "checkpoint", checkpoint)

			rng := rand.New(rand.NewSource(seed))
			tokens := tensor.New(batch, seq)
			labels := tensor.New(batch, seq)
			for i := range tokens.Data {
				tokens.Data[i] = float32(rng.Intn(cfg.VocabSize))
				labels.Data[i] = float32(rng.Intn(cfg.VocabSize))
			}

			in := pipeline.Tuple{tokens, model.Positions(seq), tensor.CausalMask(seq)}
			out, err := pipeline.Run(stages, in)
			if err != nil {
				return err
			}

			loss, err := pipeline.CrossEntropy(out, labels)
			if err != nil {
				return err
			}
			if math.IsNaN(loss) {
				return fmt.Errorf("loss is NaN: no label positions contributed")
			}
			fmt.Printf("logits: %v\nloss:   %.4f\n", out[0], loss)
			return nil
		},
	}
	configFlags(cmd, &cfg)
	cmd.Flags().IntVar(&batch, "batch", 2, "batch size")
	cmd.Flags().IntVar(&seq, "seq", 16, "sequence length")
	cmd.Flags().Int64Var(&seed, "seed", 1234, "random seed for weights and data")
	cmd.Flags().BoolVar(&checkpoint, "checkpoint", false, "enable activation checkpointing")
	return cmd
}
