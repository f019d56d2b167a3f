package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aisp-go/vigil"
)

func newTrainCmd(a *app) *cobra.Command {
	var samplesPath, model string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a classifier from labeled samples and save it",
		Long: `Train a classifier from a stream of labeled samples and save it under --model.
Each sample is a JSON object holding one labeled gram per configured descriptor:

  {"grams":[{"labels":{"state":"normal"},"gram":{"rows":[{"start":0,"end":10,"values":[0.1,0.2]}]}}]}

Examples:
  vigil train --config vigil.yaml --model pump --samples pump.jsonl
  cat pump.jsonl | vigil train --model pump`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireModel(model); err != nil {
				return err
			}
			ctx := cmd.Context()

			in, err := a.openInput(samplesPath)
			if err != nil {
				return err
			}
			defer in.Close()

			var samples []vigil.LabeledSample
			if err := decodeStream(in, func(_ int, s vigil.LabeledSample) error {
				samples = append(samples, s)
				return nil
			}); err != nil {
				return fmt.Errorf("read samples: %w", err)
			}

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			tr, err := vigil.NewTrainer(a.cfg, vigil.ClassifierOptions{Name: model, Logger: a.logger})
			if err != nil {
				return err
			}
			c, err := tr.Train(samples)
			if err != nil {
				return err
			}

			if st.samples != nil {
				for _, s := range samples {
					if _, err := st.samples.Append(ctx, s); err != nil {
						return fmt.Errorf("archive sample: %w", err)
					}
				}
				a.logger.Debug("samples archived", zap.Int("count", len(samples)))
			}

			info, err := st.models.Save(ctx, model, c)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Trained %s on %d samples: version %s, %d grams\n", info.Name, len(samples), info.Version, info.Grams)
			return nil
		},
	}
	cmd.Flags().StringVarP(&samplesPath, "samples", "s", "-", "labeled samples as JSON lines, - for stdin")
	cmd.Flags().StringVarP(&model, "model", "m", "", "name to save the model under (required)")
	return cmd
}

func newRetrainCmd(a *app) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "retrain",
		Short: "Retrain a classifier from the archived sample log",
		Long: `Replay every sample archived by previous train runs and save the result under --model.
Requires store.sample_log in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireModel(model); err != nil {
				return err
			}
			if !a.cfg.Store.SampleLog {
				return fmt.Errorf("retrain needs store.sample_log enabled")
			}
			ctx := cmd.Context()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			tr, err := vigil.NewTrainer(a.cfg, vigil.ClassifierOptions{Name: model, Logger: a.logger})
			if err != nil {
				return err
			}
			c, err := st.samples.Retrain(ctx, tr)
			if err != nil {
				return err
			}
			n, err := st.samples.Len(ctx)
			if err != nil {
				return err
			}
			info, err := st.models.Save(ctx, model, c)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Retrained %s on %d archived samples: version %s\n", info.Name, n, info.Version)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "name to save the model under (required)")
	return cmd
}
