package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aisp-go/vigil"
)

// classifierFlags selects the classifier a command runs.
type classifierFlags struct {
	model  string
	online bool
}

func (f *classifierFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "name of the saved model to load")
	cmd.Flags().BoolVar(&f.online, "online", false, "start an untrained classifier that learns the environment first")
}

// load returns the saved model, or a fresh online classifier with --online.
// An online classifier without a configured learning window learns for
// vigil.DefaultOnlineLearnSamples classifications.
func (f *classifierFlags) load(ctx context.Context, a *app, st *store, opts vigil.ClassifierOptions) (*vigil.Classifier, error) {
	if f.online {
		if opts.Name == "" {
			opts.Name = "online"
		}
		cfg := a.cfg
		if cfg.Deployment.LearnEnvironmentSamples == 0 {
			cfg.Deployment.LearnEnvironmentSamples = vigil.DefaultOnlineLearnSamples
		}
		a.logger.Info("starting online classifier",
			zap.String("classifier", opts.Name),
			zap.Int("learn_samples", cfg.Deployment.LearnEnvironmentSamples))
		return vigil.NewOnlineClassifier(cfg, opts)
	}
	if err := requireModel(f.model); err != nil {
		return nil, fmt.Errorf("%w (or pass --online)", err)
	}
	return st.models.Load(ctx, f.model, opts)
}

func (f *classifierFlags) name() string {
	if f.model != "" {
		return f.model
	}
	return "online"
}

func newClassifyCmd(a *app) *cobra.Command {
	var flags classifierFlags
	var inputPath string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify feature grams with a saved model",
		Long: `Classify a stream of inputs and print one JSON result per input.
Each input holds one gram per descriptor of the model:

  {"grams":[{"rows":[{"start":0,"end":10,"values":[0.1,0.2]}]}]}

Scores are pushed to the configured remote-write endpoint when export.url is set.

Examples:
  vigil classify --config vigil.yaml --model pump --input live.jsonl
  vigil classify --online --input live.jsonl`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			exporter, err := a.exporter()
			if err != nil {
				return err
			}
			c, err := flags.load(ctx, a, st, vigil.ClassifierOptions{
				Name:     flags.name(),
				Logger:   a.logger,
				Exporter: exporter,
			})
			if err != nil {
				return err
			}

			in, err := a.openInput(inputPath)
			if err != nil {
				return err
			}
			defer in.Close()

			enc := json.NewEncoder(a.stdout)
			var abnormal int
			err = decodeStream(in, func(_ int, req vigil.ClassifyRequest) error {
				cs, err := c.Classify(req.Grams)
				if err != nil {
					return err
				}
				if cs.IsAbnormal() {
					abnormal++
				}
				return enc.Encode(vigil.NewClassifyResponse(c, cs))
			})
			if err != nil {
				return err
			}
			a.logger.Debug("classification done", zap.Int("abnormal", abnormal))
			return a.flush(ctx, exporter)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "inputs as JSON lines, - for stdin")
	return cmd
}
